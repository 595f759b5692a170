package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/MrSnakeDoc/kilomarket/internal/httpserver/deps"
	"github.com/MrSnakeDoc/kilomarket/internal/logger"
	"github.com/MrSnakeDoc/kilomarket/internal/settings"
)

// Providers lists the selectable AI providers.
func Providers(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"providers": settings.Providers})
	}
}

func ProviderStatus(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, d.Settings.ProviderStatus())
	}
}

// ConfigureProvider accepts {"provider": id, <field>: value...}. Fields
// the provider does not declare are ignored.
func ConfigureProvider(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := decode(r, &body); err != nil {
			fail(w, http.StatusBadRequest, err.Error())
			return
		}
		id, _ := body["provider"].(string)
		if id == "" {
			fail(w, http.StatusBadRequest, "Provider is required")
			return
		}
		spec, found := settings.LookupProvider(id)
		if !found {
			fail(w, http.StatusBadRequest, "Unknown provider: "+id)
			return
		}

		cfg := make(map[string]string, len(spec.Fields))
		for _, f := range spec.Fields {
			switch v := body[f].(type) {
			case string:
				cfg[f] = v
			case nil:
			default:
				cfg[f] = fmt.Sprint(v)
			}
		}

		if err := d.Settings.ConfigureProvider(id, cfg); err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, settings.ErrMissingField) || errors.Is(err, settings.ErrUnknownProvider) {
				status = http.StatusBadRequest
			} else {
				d.Logger.Error("failed to save AI provider", logger.Error(err))
			}
			fail(w, status, err.Error())
			return
		}
		d.Logger.Info("AI provider configured", logger.String("provider", id))
		ok(w, "AI Provider configured successfully", nil)
	}
}

func ClearProvider(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := d.Settings.ClearProvider(); err != nil {
			d.Logger.Error("failed to clear AI provider", logger.Error(err))
			fail(w, http.StatusInternalServerError, "Failed to clear AI Provider")
			return
		}
		ok(w, "AI Provider configuration cleared", nil)
	}
}

func WalletStatus(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, d.Settings.WalletStatus())
	}
}

// ConfigureWallet accepts {"private_key": ..., "chain": ...}.
func ConfigureWallet(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			PrivateKey string `json:"private_key"`
			Chain      string `json:"chain"`
		}
		if err := decode(r, &body); err != nil {
			fail(w, http.StatusBadRequest, err.Error())
			return
		}
		if body.PrivateKey == "" || body.Chain == "" {
			fail(w, http.StatusBadRequest, "Private key and chain are required")
			return
		}
		if err := d.Settings.ConfigureWallet(body.PrivateKey, body.Chain); err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, settings.ErrInvalidKey) || errors.Is(err, settings.ErrUnsupportedChain) {
				status = http.StatusBadRequest
			} else {
				d.Logger.Error("failed to save wallet", logger.Error(err))
			}
			fail(w, status, err.Error())
			return
		}
		ok(w, "Wallet configured successfully", nil)
	}
}

func ClearWallet(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := d.Settings.ClearWallet(); err != nil {
			d.Logger.Error("failed to clear wallet", logger.Error(err))
			fail(w, http.StatusInternalServerError, "Failed to clear wallet")
			return
		}
		ok(w, "Wallet configuration cleared", nil)
	}
}
