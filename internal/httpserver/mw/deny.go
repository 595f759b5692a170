package mw

import (
	"net/http"
	"strconv"
)

// Rejections use the same JSON error shape as the console handlers.
var (
	forbidden       = []byte(`{"success":false,"error":"forbidden"}` + "\n")
	tooManyRequests = []byte(`{"success":false,"error":"too many requests, slow down"}` + "\n")
)

func forbid(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)
	_, _ = w.Write(forbidden)
}

func throttle(w http.ResponseWriter, retryAfter int) {
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_, _ = w.Write(tooManyRequests)
}
