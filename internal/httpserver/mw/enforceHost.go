package mw

import (
	"net/http"
	"strings"

	"github.com/MrSnakeDoc/kilomarket/internal/logger"
	"github.com/MrSnakeDoc/kilomarket/internal/utils"
)

// hostPattern is an exact host or a "*.domain" suffix, lowercased.
type hostPattern struct {
	exact  string
	suffix string
}

func compileHosts(allowed []string) []hostPattern {
	out := make([]hostPattern, 0, len(allowed))
	for _, raw := range allowed {
		h := strings.ToLower(strings.TrimSpace(raw))
		switch {
		case h == "":
		case strings.HasPrefix(h, "*."):
			out = append(out, hostPattern{suffix: h[1:]})
		default:
			out = append(out, hostPattern{exact: h})
		}
	}
	return out
}

func (p hostPattern) match(host string) bool {
	if p.suffix != "" {
		return strings.HasSuffix(host, p.suffix)
	}
	return host == p.exact
}

// EnforceHost rejects requests whose Host header (port ignored) matches
// none of allowedHosts. An empty list disables the check.
func EnforceHost(allowedHosts []string, log logger.Logger) func(http.Handler) http.Handler {
	patterns := compileHosts(allowedHosts)
	if len(patterns) == 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	log.Debug("host enforcement enabled", logger.Int("patterns", len(patterns)))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			host := strings.ToLower(utils.ParseHostNoPort(r.Host))
			for _, p := range patterns {
				if p.match(host) {
					next.ServeHTTP(w, r)
					return
				}
			}
			log.Debug("host rejected", logger.String("host", r.Host))
			forbid(w)
		})
	}
}
