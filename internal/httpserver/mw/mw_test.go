package mw

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"

	"github.com/MrSnakeDoc/kilomarket/internal/logger"
)

func okHandler(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) }

func TestRateLimitPerSession(t *testing.T) {
	now := time.Unix(0, 0)
	r := chi.NewRouter()
	r.With(RateLimit(RateLimitConfig{
		Scope:        "chat",
		Burst:        1,
		PerMinute:    60,
		SessionParam: "id",
		now:          func() time.Time { return now },
	})).Post("/sessions/{id}/chat", okHandler)

	post := func(id string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/sessions/"+id+"/chat", nil))
		return rec
	}

	assert.Equal(t, http.StatusNoContent, post("a").Code)
	rec := post("a")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"success":false,"error":"too many requests, slow down"}`, rec.Body.String())

	assert.Equal(t, http.StatusNoContent, post("b").Code, "sessions have separate buckets")

	now = now.Add(time.Second)
	assert.Equal(t, http.StatusNoContent, post("a").Code, "one token refilled after a second")
}

func TestEnforceHost(t *testing.T) {
	h := EnforceHost([]string{"Console.local", "*.kilo.test"}, logger.Nop())(http.HandlerFunc(okHandler))

	cases := map[string]int{
		"console.local:8000": http.StatusNoContent,
		"api.kilo.test":      http.StatusNoContent,
		"kilo.test":          http.StatusForbidden,
		"evil.local":         http.StatusForbidden,
	}
	for host, want := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Host = host
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, want, rec.Code, host)
	}
}

func TestAllowOnlyCIDRS(t *testing.T) {
	h := AllowOnlyCIDRS([]string{"10.0.0.0/8", "192.168.1.7", "bogus"}, true, logger.Nop())(http.HandlerFunc(okHandler))

	cases := []struct {
		remote string
		xff    string
		want   int
	}{
		{remote: "10.2.3.4:5555", want: http.StatusNoContent},
		{remote: "192.168.1.7:80", want: http.StatusNoContent},
		{remote: "192.168.1.8:80", want: http.StatusForbidden},
		{remote: "127.0.0.1:80", xff: "10.9.9.9, 127.0.0.1", want: http.StatusNoContent},
		{remote: "10.0.0.1:80", xff: "8.8.8.8", want: http.StatusForbidden},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/infra", nil)
		req.RemoteAddr = tc.remote
		if tc.xff != "" {
			req.Header.Set("X-Forwarded-For", tc.xff)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, tc.want, rec.Code, tc.remote+" "+tc.xff)
	}
}
