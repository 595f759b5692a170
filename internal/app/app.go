package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/kilomarket/internal/agents"
	"github.com/MrSnakeDoc/kilomarket/internal/chat"
	"github.com/MrSnakeDoc/kilomarket/internal/config"
	"github.com/MrSnakeDoc/kilomarket/internal/httpserver"
	"github.com/MrSnakeDoc/kilomarket/internal/httpserver/deps"
	"github.com/MrSnakeDoc/kilomarket/internal/logger"
	"github.com/MrSnakeDoc/kilomarket/internal/market"
	"github.com/MrSnakeDoc/kilomarket/internal/redis"
	"github.com/MrSnakeDoc/kilomarket/internal/scheduler"
	"github.com/MrSnakeDoc/kilomarket/internal/sessions"
	"github.com/MrSnakeDoc/kilomarket/internal/settings"
	redisstore "github.com/MrSnakeDoc/kilomarket/internal/store/redis"
	"github.com/MrSnakeDoc/kilomarket/internal/supervisor"
	"github.com/MrSnakeDoc/kilomarket/internal/version"
)

type App struct {
	cfg         *config.Config
	logger      logger.Logger
	server      *httpserver.Server
	redisClient *goredis.Client
	settings    *settings.Store
	roster      *supervisor.Handle
	publisher   *scheduler.StatusPublisher
}

// New wires every component. Nothing binds an agent port until the
// roster is first used.
func New(cfg *config.Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	loggerClient := logger.New(cfg.LogLevel, cfg.PrettyLog)

	// Redis is optional: the console keeps working without activity tracking.
	var redisClient *goredis.Client
	if cfg.RedisEnabled() {
		client, err := redis.Connect(context.Background(), redis.ConnectOptions{
			Addr:           cfg.RedisAddr,
			User:           cfg.RedisUser,
			Password:       cfg.RedisPassword,
			DB:             cfg.RedisDB,
			DialTimeout:    cfg.RedisDT,
			ReadTimeout:    cfg.RedisRT,
			WriteTimeout:   cfg.RedisWT,
			PoolSize:       cfg.RedisPoolSize,
			ConnectTimeout: cfg.RedisConnectTimeout,
			RetryInterval:  cfg.RedisRetryInterval,
			MaxWait:        cfg.RedisMaxWait,
			PingTimeout:    cfg.RedisPingTimeout,
			WarnThreshold:  cfg.RedisWarnThreshold,
		}, loggerClient)
		if err != nil {
			loggerClient.Warn("continuing without redis, activity tracking disabled", logger.Error(err))
		} else {
			redisClient = client
		}
	} else {
		loggerClient.Info("redis not configured, activity tracking disabled")
	}
	activity := redisstore.NewStore(redisClient)

	settingsStore := settings.NewStore(cfg.SettingsFile, loggerClient)
	sessionStore, err := sessions.NewStore(cfg.SessionsDir, settingsStore, loggerClient)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := supervisor.NewMetrics(registry)

	providerFactory := chat.HTTPFactory(cfg.LLMTimeout)
	engineOpts := []chat.Option{
		chat.WithWindow(cfg.ChatWindow),
		chat.WithProviderFactory(providerFactory),
		chat.WithLogger(loggerClient),
	}
	if activity.Enabled() {
		engineOpts = append(engineOpts, chat.WithTurnCounter(activity))
	}
	engine := chat.NewEngine(sessionStore, engineOpts...)

	instanceOpts := supervisor.InstanceOptions{
		StartGrace:  cfg.A2AStartGrace,
		StopTimeout: cfg.A2AStopTimeout,
		Logger:      loggerClient,
		Metrics:     metrics,
	}

	var roster *supervisor.Handle
	env := agents.Env{
		Market:    market.Default(),
		Responder: chat.AgentResponder{Settings: settingsStore, Factory: providerFactory},
		Logger:    loggerClient,
	}
	env.Directory = agents.DirectoryFunc(func() (supervisor.Status, error) { return roster.Status() })

	roster = supervisor.NewHandle(
		func() (*supervisor.Manager, error) {
			cat, err := agents.LoadCatalog(cfg.AgentsFile)
			if err != nil {
				return nil, err
			}
			descs, err := agents.Roster(cat, cfg.A2AHost, env)
			if err != nil {
				return nil, err
			}
			return supervisor.NewManager(descs, instanceOpts)
		},
		supervisor.WithFallback(func() (*supervisor.Manager, error) {
			return supervisor.NewManager(agents.PlaceholderRoster(cfg.A2AHost, env), instanceOpts)
		}),
		supervisor.WithStrict(cfg.RosterStrict),
		supervisor.WithLogger(loggerClient),
	)

	statusTrigger := make(chan struct{}, 1)
	var publisher *scheduler.StatusPublisher
	if activity.Enabled() {
		publisher = scheduler.NewStatusPublisher(
			roster,
			activity,
			roster.Degraded,
			loggerClient,
			cfg.StatusInterval,
			statusTrigger,
		)
	}

	// Dependencies passed to routes (extend as needed).
	d := deps.Deps{
		Logger:        loggerClient,
		StartTime:     time.Now(),
		Version:       version.Version,
		Commit:        version.Commit,
		BuildDate:     version.BuildDate,
		GoVersion:     version.GoVersion,
		TimeNow:       time.Now,
		AllowedHosts:  cfg.AllowedHosts,
		AllowedCIDRS:  cfg.AllowedCIDRS,
		TrustProxy:    cfg.TrustProxy,
		RateBurst:     cfg.RateBurst,
		RatePerMin:    cfg.RateRefillPerMn,
		Roster:        roster,
		Settings:      settingsStore,
		Sessions:      sessionStore,
		Chat:          engine,
		Market:        env.Market,
		Activity:      activity,
		Gatherer:      registry,
		StatusTrigger: statusTrigger,
	}

	server := httpserver.New(cfg, loggerClient, d)

	return &App{
		cfg:         cfg,
		logger:      loggerClient,
		server:      server,
		redisClient: redisClient,
		settings:    settingsStore,
		roster:      roster,
		publisher:   publisher,
	}, nil
}

func (a *App) Run() error {
	a.logger.Infof("🚀 Starting KiloMarket v%s on %s", version.Version, a.cfg.ListenPort)
	a.logger.Infof("KiloMarket %s (commit=%s, built=%s, go=%s)",
		version.Version, version.Commit, version.BuildDate, version.GoVersion)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stopWatch, err := a.settings.Watch(ctx)
	if err != nil {
		a.logger.Warn("settings file not watched, external edits need a restart", logger.Error(err))
		stopWatch = func() error { return nil }
	}

	if a.cfg.A2AAutostart {
		if err := a.autostart(); err != nil {
			_ = stopWatch()
			return err
		}
	}

	if a.publisher != nil {
		if err := a.publisher.Start(ctx); err != nil {
			_ = stopWatch()
			return fmt.Errorf("failed to start status publisher: %w", err)
		}
		a.logger.Info("status publisher started",
			logger.Duration("interval", a.cfg.StatusInterval))
	}

	errCh := make(chan error, 1)
	go func() {
		if err := a.server.Start(); err != nil {
			errCh <- fmt.Errorf("http server error: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("⏳ Shutting down gracefully...")
	case runErr = <-errCh:
	}

	if a.publisher != nil {
		a.publisher.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()
	if err := a.server.Stop(shutdownCtx); err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("failed to stop server: %w", err))
	}

	out := a.roster.Shutdown()
	a.logger.Info("a2a servers stopped", logger.String("result", out.Message))

	if err := stopWatch(); err != nil {
		a.logger.Warnf("settings watcher: %v", err)
	}

	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warnf("failed to close redis: %v", err)
		} else {
			a.logger.Info("✅ Redis closed cleanly")
		}
	}

	if runErr == nil {
		a.logger.Info("✅ KiloMarket stopped cleanly")
	}
	_ = a.logger.Sync()
	return runErr
}

// autostart starts the roster at boot. A roster that cannot be built is
// fatal here; ports already in use are only logged.
func (a *App) autostart() error {
	m, err := a.roster.Manager()
	if err != nil {
		return fmt.Errorf("failed to build a2a roster: %w", err)
	}
	out := m.StartAll()
	if out.OK {
		a.logger.Info("a2a servers autostarted", logger.String("result", out.Message))
	} else {
		a.logger.Warn("a2a autostart failed", logger.String("result", out.Message))
	}
	return nil
}
