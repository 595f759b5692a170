package deps

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/MrSnakeDoc/kilomarket/internal/chat"
	"github.com/MrSnakeDoc/kilomarket/internal/logger"
	"github.com/MrSnakeDoc/kilomarket/internal/market"
	"github.com/MrSnakeDoc/kilomarket/internal/sessions"
	"github.com/MrSnakeDoc/kilomarket/internal/settings"
	redisstore "github.com/MrSnakeDoc/kilomarket/internal/store/redis"
	"github.com/MrSnakeDoc/kilomarket/internal/supervisor"
)

type Deps struct {
	Logger        logger.Logger
	StartTime     time.Time
	Version       string
	Commit        string
	BuildDate     string
	GoVersion     string
	TimeNow       func() time.Time    // for testing, defaults to time.Now
	AllowedHosts  []string            // Host headers allowed to access the server
	AllowedCIDRS  []string            // IPs allowed to access the ops endpoints
	TrustProxy    bool                // true if running behind a trusted reverse proxy (e.g., cloudflared)
	RateBurst     int                 // burst for toggle and chat
	RatePerMin    int                 // refill per client IP per minute
	RequestTTL    time.Duration       // timeout for routes that do not call a model
	Roster        *supervisor.Handle  // lazily built A2A roster
	Settings      *settings.Store     // provider, wallet and passcodes
	Sessions      *sessions.Store     // chat transcripts
	Chat          *chat.Engine        // conversational turns
	Market        *market.Table       // simulated market snapshot
	Activity      *redisstore.Store   // optional, nil-safe
	Gatherer      prometheus.Gatherer // served on /metrics
	StatusTrigger chan struct{}       // asks the status publisher for an immediate snapshot
}

// Now returns the injected clock or time.Now.
func (d Deps) Now() time.Time {
	if d.TimeNow != nil {
		return d.TimeNow()
	}
	return time.Now()
}
