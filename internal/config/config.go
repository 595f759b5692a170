package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	ListenPort      string        // ex: ":8000"
	ShutdownTimeout time.Duration // ex: 5s

	LogLevel  string // "debug" | "info" | "warn" | "error"
	PrettyLog bool   // true => zap dev (color), false => zap prod (JSON)

	SettingsFile string // path to the JSON settings file (provider, wallet, passcodes)
	SessionsDir  string // directory holding one sub-directory per chat session

	// A2A roster
	A2AHost         string        // bind host for every agent server (ex: "0.0.0.0")
	AgentsFile      string        // optional YAML override of the built-in agent definitions
	A2AStartGrace   time.Duration // wait after launching a worker before declaring it running
	A2AStopTimeout  time.Duration // bounded join when stopping a worker
	A2AAutostart    bool          // start the whole roster when the process boots
	RosterStrict    bool          // true => fail instead of falling back to the placeholder roster
	StatusInterval  time.Duration // interval between roster status snapshots published to redis
	ChatWindow      int           // number of history messages sent to the model
	LLMTimeout      time.Duration // per-request timeout for model providers
	RateBurst       int           // burst for rate limited routes (toggle, chat)
	RateRefillPerMn int           // refill per client IP per minute

	// Redis (optional, empty address disables the activity store)
	RedisAddr           string        // ex: "localhost:6379"
	RedisUser           string        // optional
	RedisPassword       string        // optional
	RedisDB             int           // Redis DB number
	RedisDT             time.Duration // Redis dial timeout (ex: 5s)
	RedisRT             time.Duration // Redis read timeout (ex: 3s)
	RedisWT             time.Duration // Redis write timeout (ex: 3s)
	RedisMaxWait        time.Duration // max wait between retries (ex: 10s)
	RedisPingTimeout    time.Duration // timeout for each ping attempt (ex: 5s)
	RedisPoolSize       int           // Redis connection pool size
	RedisConnectTimeout time.Duration // Total time to retry connecting (ex: 30s)
	RedisRetryInterval  time.Duration // Initial wait between retries (ex: 2s, grows exponentially)
	RedisWarnThreshold  int           // warn after this many attempts

	AllowedHosts []string // optional, restrict access to specific Host headers
	AllowedCIDRS []string // optional, restrict ops endpoints to specific IPs/CIDRs
	TrustProxy   bool     // true => trust X-Forwarded-For headers (e.g. cloudflared)
}

func Load() *Config {
	cfg := &Config{
		// Server settings
		ListenPort:      getenv("KILO_LISTEN_PORT", ":8000"),
		ShutdownTimeout: mustDuration("KILO_SHUTDOWN_TIMEOUT", 5*time.Second),

		// Logging
		LogLevel:  getenv("KILO_LOG_LEVEL", "info"),
		PrettyLog: mustBool("KILO_PRETTY_LOG", true),

		// Persistence
		SettingsFile: getenv("KILO_SETTINGS_FILE", "config/kilomarket_settings.json"),
		SessionsDir:  getenv("KILO_SESSIONS_DIR", "sessions"),

		// A2A roster
		A2AHost:         getenv("KILO_A2A_HOST", "0.0.0.0"),
		AgentsFile:      getenv("KILO_AGENTS_FILE", ""),
		A2AStartGrace:   mustDuration("KILO_A2A_START_GRACE", time.Second),
		A2AStopTimeout:  mustDuration("KILO_A2A_STOP_TIMEOUT", 2*time.Second),
		A2AAutostart:    mustBool("KILO_A2A_AUTOSTART", false),
		RosterStrict:    mustBool("KILO_ROSTER_STRICT", false),
		StatusInterval:  mustDuration("KILO_STATUS_INTERVAL", 30*time.Second),
		ChatWindow:      getenvInt("KILO_CHAT_WINDOW", 15),
		LLMTimeout:      mustDuration("KILO_LLM_TIMEOUT", 60*time.Second),
		RateBurst:       getenvInt("KILO_RATE_BURST", 10),
		RateRefillPerMn: getenvInt("KILO_RATE_PER_MIN", 30),

		// Redis settings
		RedisAddr:           getenv("KILO_REDIS_ADDR", ""),
		RedisUser:           getenv("KILO_REDIS_USERNAME", "default"),
		RedisPassword:       getenv("KILO_REDIS_PASSWORD", ""),
		RedisDB:             getenvInt("KILO_REDIS_DB", 0),
		RedisDT:             mustDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
		RedisRT:             mustDuration("REDIS_READ_TIMEOUT", 3*time.Second),
		RedisWT:             mustDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		RedisMaxWait:        mustDuration("REDIS_MAX_WAIT", 10*time.Second),
		RedisPingTimeout:    mustDuration("REDIS_PING_TIMEOUT", 5*time.Second),
		RedisPoolSize:       getenvInt("REDIS_POOL_SIZE", 10),
		RedisConnectTimeout: mustDuration("REDIS_CONNECT_TIMEOUT", 30*time.Second),
		RedisRetryInterval:  mustDuration("REDIS_RETRY_INTERVAL", 2*time.Second),
		RedisWarnThreshold:  getenvInt("REDIS_WARN_THRESHOLD", 3),

		// Access restrictions
		AllowedHosts: splitAndTrim(getenv("KILO_ALLOWED_HOSTS", "")),
		AllowedCIDRS: parseAllowedIPs(getenv("KILO_ALLOWED_CIDRS", "")),
		TrustProxy:   mustBool("KILO_TRUST_PROXY", false),
	}

	if mustBool("KILO_REDIS_PASSWORD_REQUIRED", false) && cfg.RedisAddr != "" && cfg.RedisPassword == "" {
		panic("❌ FATAL: KILO_REDIS_PASSWORD is required when KILO_REDIS_PASSWORD_REQUIRED=true")
	}

	// Log config only in debug mode with redacted sensitive fields
	if cfg.LogLevel == "debug" {
		cfgCopy := *cfg
		cfgCopy.RedisPassword = "***REDACTED***"
		if cfg.RedisUser != "" {
			cfgCopy.RedisUser = "***REDACTED***"
		}
		log.Printf("[DEBUG] cfg: %+v\n", cfgCopy)
	}

	return cfg
}

// Validate reports configuration values the process cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.ListenPort == "" {
		errs = append(errs, errors.New("listen address must not be empty"))
	}
	if c.A2AStartGrace < 0 {
		errs = append(errs, fmt.Errorf("KILO_A2A_START_GRACE must be >= 0, got %v", c.A2AStartGrace))
	}
	if c.A2AStopTimeout <= 0 {
		errs = append(errs, fmt.Errorf("KILO_A2A_STOP_TIMEOUT must be > 0, got %v", c.A2AStopTimeout))
	}
	if c.StatusInterval <= 0 {
		errs = append(errs, fmt.Errorf("KILO_STATUS_INTERVAL must be > 0, got %v", c.StatusInterval))
	}
	if c.ChatWindow < 1 {
		errs = append(errs, fmt.Errorf("KILO_CHAT_WINDOW must be >= 1, got %d", c.ChatWindow))
	}
	if c.SettingsFile == "" || c.SessionsDir == "" {
		errs = append(errs, errors.New("settings file and sessions directory must be set"))
	}
	return errors.Join(errs...)
}

// RedisEnabled reports whether the optional activity store is configured.
func (c *Config) RedisEnabled() bool { return c.RedisAddr != "" }

// helpers
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func mustBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func mustDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func parseAllowedIPs(allowed string) []string {
	if allowed == "" {
		return nil
	}
	ips := make([]string, 0, 4)
	for _, ip := range splitAndTrim(allowed) {
		if ip != "" {
			ips = append(ips, ip)
		}
	}
	return ips
}

func splitAndTrim(s string) []string {
	if s == "" {
		return nil
	}
	raw := strings.Split(s, ",")
	parts := make([]string, 0, len(raw))
	for _, part := range raw {
		trimmed := strings.TrimSpace(part)
		// Remove surrounding quotes if present
		trimmed = strings.Trim(trimmed, `"'`)
		if trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}
