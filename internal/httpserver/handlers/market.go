package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/kilomarket/internal/httpserver/deps"
	"github.com/MrSnakeDoc/kilomarket/internal/market"
)

func queryInt(r *http.Request, key string, def int) int {
	if v, err := strconv.Atoi(r.URL.Query().Get(key)); err == nil && v >= 0 {
		return v
	}
	return def
}

func tokenError(w http.ResponseWriter, err error) {
	var unknown *market.UnknownTokenError
	if errors.As(err, &unknown) {
		writeJSON(w, http.StatusNotFound, map[string]any{
			"success":          false,
			"error":            unknown.Error(),
			"available_tokens": unknown.Available,
		})
		return
	}
	fail(w, http.StatusInternalServerError, err.Error())
}

func MarketPrice(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q, err := d.Market.Price(chi.URLParam(r, "symbol"), r.URL.Query().Get("currency"))
		if err != nil {
			tokenError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, q)
	}
}

// MarketTop accepts ?limit= (default 10) and ?sort_by= (default market_cap).
func MarketTop(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sortBy := r.URL.Query().Get("sort_by")
		if sortBy == "" {
			sortBy = "market_cap"
		}
		list := d.Market.Top(queryInt(r, "limit", 10), sortBy)
		writeJSON(w, http.StatusOK, map[string]any{
			"tokens":  list,
			"count":   len(list),
			"sort_by": sortBy,
		})
	}
}

// MarketMovers accepts ?period= (1h, 24h, 7d) and ?limit= (default 5).
func MarketMovers(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, d.Market.Movers(r.URL.Query().Get("period"), queryInt(r, "limit", 5)))
	}
}

func MarketSummary(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, d.Market.Summary())
	}
}

func MarketToken(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		detail, err := d.Market.Detail(chi.URLParam(r, "symbol"))
		if err != nil {
			tokenError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, detail)
	}
}
