package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"vawter.tech/stopper"

	"github.com/MrSnakeDoc/kilomarket/internal/logger"
)

const (
	DefaultStartGrace  = time.Second
	DefaultStopTimeout = 2 * time.Second
)

// InstanceOptions tunes an Instance. Zero values fall back to defaults.
type InstanceOptions struct {
	StartGrace  time.Duration // wait after launch before declaring the worker up, negative => none
	StopTimeout time.Duration // bounded join when stopping
	Logger      logger.Logger
	Metrics     *Metrics
	Now         func() time.Time // for testing, defaults to time.Now
}

// Instance owns the lifecycle of one service. All methods are safe for
// concurrent use. Start and Stop are serialized by op and may block for
// the grace period or the stop timeout; mu only guards the fields below
// it and is never held while waiting, so status reads stay immediate.
type Instance struct {
	desc Descriptor
	caps *Capabilities

	grace       time.Duration
	stopTimeout time.Duration
	log         logger.Logger
	metrics     *Metrics
	now         func() time.Time
	listen      func(network, addr string) (net.Listener, error)

	op sync.Mutex

	mu        sync.Mutex
	state     State
	startedAt time.Time
	w         *worker
}

// worker is the running unit of an instance. Exactly one is alive per
// instance at any time.
type worker struct {
	srv         *http.Server
	sctx        *stopper.Context
	ready       chan struct{} // closed once the serve goroutine is scheduled
	done        chan struct{} // closed when the serve loop returns
	stopped     chan struct{} // closed when the shutdown watcher returns
	startedAt   time.Time     // written before ready is closed
	err         error         // written before done is closed
	shutdownErr error         // written before stopped is closed
}

// NewInstance builds a stopped instance for desc. Capabilities are
// resolved here, once.
func NewInstance(desc Descriptor, opts InstanceOptions) (*Instance, error) {
	if err := desc.validate(); err != nil {
		return nil, err
	}
	desc = desc.withDefaults()

	switch {
	case opts.StartGrace == 0:
		opts.StartGrace = DefaultStartGrace
	case opts.StartGrace < 0:
		opts.StartGrace = 0
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = DefaultStopTimeout
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	log := opts.Logger.With(
		logger.Int("port", desc.Port),
		logger.String("agent", desc.DisplayName))

	return &Instance{
		desc:        desc,
		caps:        resolveCapabilities(desc.Factory),
		grace:       opts.StartGrace,
		stopTimeout: opts.StopTimeout,
		log:         log,
		metrics:     opts.Metrics,
		now:         opts.Now,
		listen:      net.Listen,
		state:       StateStopped,
	}, nil
}

func (i *Instance) Port() int                   { return i.desc.Port }
func (i *Instance) Name() string                { return i.desc.DisplayName }
func (i *Instance) Descriptor() Descriptor      { return i.desc }
func (i *Instance) Capabilities() *Capabilities { return i.caps }

func (i *Instance) addr() string {
	return net.JoinHostPort(i.desc.BindHost, strconv.Itoa(i.desc.Port))
}

// Start binds the port, builds the unit and serves it in the background.
// Calling Start on a running instance succeeds without side effects.
func (i *Instance) Start() Outcome {
	i.op.Lock()
	defer i.op.Unlock()

	i.mu.Lock()
	i.reapLocked()
	if i.state == StateRunning {
		i.mu.Unlock()
		i.metrics.start(i.desc.Port, "already_running")
		return succeeded(fmt.Sprintf("Server %s already running on %s:%d", i.desc.DisplayName, i.desc.BindHost, i.desc.Port))
	}
	i.state = StateStarting
	i.mu.Unlock()

	// The availability probe is the real bind; the listener is handed
	// to the server so nothing can grab the port in between.
	ln, err := i.listen("tcp", i.addr())
	if err != nil {
		i.setStopped()
		i.metrics.start(i.desc.Port, "port_unavailable")
		i.log.Warn("a2a port unavailable", logger.Error(err))
		return failed(fmt.Sprintf("Port %d is already in use", i.desc.Port),
			fmt.Errorf("%w: %s: %v", ErrPortUnavailable, i.addr(), err))
	}

	handler, err := i.buildUnit()
	if err != nil {
		_ = ln.Close()
		i.setStopped()
		i.metrics.start(i.desc.Port, "construction")
		i.log.Error("failed to build agent unit", logger.Error(err))
		return failed(fmt.Sprintf("Failed to start server '%s': %v", i.desc.DisplayName, err), err)
	}

	w := i.launch(ln, handler)
	if !i.settle(w) {
		_ = i.stopWorker(w)
		i.setStopped()
		i.metrics.start(i.desc.Port, "serve_loop")
		return failed(fmt.Sprintf("Server '%s' failed to start", i.desc.DisplayName),
			fmt.Errorf("%w: %v", ErrServeLoop, w.err))
	}

	i.mu.Lock()
	i.state = StateRunning
	i.startedAt = w.startedAt
	i.w = w
	i.mu.Unlock()

	i.metrics.start(i.desc.Port, "ok")
	i.metrics.setRunning(i.desc.Port, i.desc.DisplayName, true)
	i.log.Info("a2a server started",
		logger.String("addr", i.addr()))

	return succeeded(fmt.Sprintf("Server '%s' started on %s:%d", i.desc.DisplayName, i.desc.BindHost, i.desc.Port))
}

// settle waits out the grace period and reports whether the serve loop
// is still alive at the end of it.
func (i *Instance) settle(w *worker) bool {
	<-w.ready
	if i.grace > 0 {
		timer := time.NewTimer(i.grace)
		select {
		case <-timer.C:
		case <-w.done:
			timer.Stop()
		}
	}
	select {
	case <-w.done:
		return false
	default:
		return true
	}
}

func (i *Instance) setStopped() {
	i.mu.Lock()
	i.state = StateStopped
	i.mu.Unlock()
}

// buildUnit invokes the factory, converting panics into construction errors.
func (i *Instance) buildUnit() (h http.Handler, err error) {
	defer func() {
		if r := recover(); r != nil {
			h, err = nil, fmt.Errorf("%w: panic: %v", ErrConstruction, r)
		}
	}()

	h, err = i.desc.Factory.NewUnit()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConstruction, err)
	}
	if h == nil {
		return nil, fmt.Errorf("%w: factory returned no handler", ErrConstruction)
	}
	return h, nil
}

// launch starts the serve loop and its shutdown watcher under a fresh
// stopper context. Stopping the context shuts the server down.
func (i *Instance) launch(ln net.Listener, handler http.Handler) *worker {
	w := &worker{
		srv: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		sctx:    stopper.WithContext(context.Background()),
		ready:   make(chan struct{}),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}

	log := i.log

	w.sctx.Go(func(_ *stopper.Context) error {
		defer close(w.done)
		defer func() {
			if r := recover(); r != nil {
				w.err = fmt.Errorf("panic in serve loop: %v", r)
			}
			if w.err != nil {
				log.Error("a2a serve loop failed", logger.Error(w.err))
			} else {
				log.Info("a2a server stopped")
			}
		}()

		w.startedAt = i.now()
		close(w.ready)

		if err := w.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			w.err = err
		}
		return nil
	})

	w.sctx.Go(func(sctx *stopper.Context) error {
		defer close(w.stopped)
		select {
		case <-sctx.Stopping():
		case <-w.done:
			return nil
		}
		ctx, cancel := context.WithTimeout(context.Background(), i.stopTimeout)
		defer cancel()
		if err := w.srv.Shutdown(ctx); err != nil {
			w.shutdownErr = fmt.Errorf("shutdown %s: %w", i.desc.DisplayName, err)
		}
		return w.shutdownErr
	})

	return w
}

// stopWorker signals the worker and joins it within the stop timeout.
// Shutdown closes the listener first; when draining connections takes
// longer than the timeout the server is closed forcibly.
func (i *Instance) stopWorker(w *worker) error {
	w.sctx.Stop(0)

	timer := time.NewTimer(i.stopTimeout)
	defer timer.Stop()

	select {
	case <-w.stopped:
		if w.shutdownErr != nil {
			_ = w.srv.Close()
			return fmt.Errorf("%w: %v", ErrStopTimeout, w.shutdownErr)
		}
	case <-timer.C:
		_ = w.srv.Close()
		return ErrStopTimeout
	}

	select {
	case <-w.done:
		return nil
	case <-timer.C:
		_ = w.srv.Close()
		return ErrStopTimeout
	}
}

// Stop shuts the worker down. Stopping an instance that isn't running
// succeeds without side effects. The worker is joined after the state
// flips, outside mu, so requests still draining can read the roster.
func (i *Instance) Stop() Outcome {
	i.op.Lock()
	defer i.op.Unlock()

	i.mu.Lock()
	i.reapLocked()
	if i.state != StateRunning {
		i.mu.Unlock()
		i.metrics.stop(i.desc.Port, "not_running")
		return succeeded(fmt.Sprintf("Server '%s' is not running", i.desc.DisplayName))
	}
	w := i.w
	i.state = StateStopped
	i.startedAt = time.Time{}
	i.w = nil
	i.mu.Unlock()

	i.metrics.setRunning(i.desc.Port, i.desc.DisplayName, false)

	if err := i.stopWorker(w); err != nil {
		i.metrics.stop(i.desc.Port, "timeout")
		i.log.Warn("a2a worker did not stop cleanly",
			logger.Duration("timeout", i.stopTimeout),
			logger.Error(err))
	} else {
		i.metrics.stop(i.desc.Port, "ok")
	}

	return succeeded(fmt.Sprintf("Server '%s' stopped", i.desc.DisplayName))
}

// reapLocked resets the instance when its serve loop exited on its own.
// Connections left behind by the dead loop are closed without draining.
func (i *Instance) reapLocked() {
	if i.w == nil {
		return
	}
	select {
	case <-i.w.done:
		i.log.Warn("a2a server exited unexpectedly", logger.Error(i.w.err))
		_ = i.w.srv.Close()
		i.w.sctx.Stop(0)
		i.state = StateStopped
		i.startedAt = time.Time{}
		i.w = nil
		i.metrics.setRunning(i.desc.Port, i.desc.DisplayName, false)
	default:
	}
}

// State returns the current lifecycle state.
func (i *Instance) State() State {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.reapLocked()
	return i.state
}

// InstanceStatus is the point-in-time view of one instance.
type InstanceStatus struct {
	Running       bool              `json:"running"`
	Host          string            `json:"host"`
	Port          int               `json:"port"`
	AgentName     string            `json:"agent_name"`
	UptimeSeconds *float64          `json:"uptime_seconds"`
	ServerURL     *string           `json:"server_url"`
	WalletAddress *string           `json:"wallet_address"`
	HasWallet     bool              `json:"has_wallet"`
	Capabilities  map[string]any    `json:"capabilities"`
	ServiceCost   *float64          `json:"service_cost"`
	BusinessModel *string           `json:"business_model"`
	Model         *string           `json:"model"`
	Description   string            `json:"description,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`

	State State `json:"-"`
}

// Status returns a snapshot. It never waits on a Start or Stop in progress.
func (i *Instance) Status() InstanceStatus {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.reapLocked()

	st := InstanceStatus{
		Running:     i.state == StateRunning,
		Host:        i.desc.BindHost,
		Port:        i.desc.Port,
		AgentName:   i.desc.DisplayName,
		Description: i.desc.Description,
		Metadata:    i.desc.Metadata,
		State:       i.state,
	}

	if st.Running {
		uptime := i.now().Sub(i.startedAt).Seconds()
		if uptime < 0 {
			uptime = 0
		}
		url := fmt.Sprintf("http://%s", net.JoinHostPort(reachableHost(i.desc.BindHost), strconv.Itoa(i.desc.Port)))
		st.UptimeSeconds = &uptime
		st.ServerURL = &url
	}

	if c := i.caps; c != nil {
		if c.WalletAddress != "" {
			wallet := c.WalletAddress
			st.WalletAddress = &wallet
			st.HasWallet = true
		}
		st.Capabilities = c.Tags
		st.ServiceCost = c.ServiceCost
		if c.BusinessModel != "" {
			bm := c.BusinessModel
			st.BusinessModel = &bm
		}
		if c.Model != "" {
			model := c.Model
			st.Model = &model
		}
	}

	return st
}

// reachableHost maps wildcard bind hosts to loopback for URLs handed to clients.
func reachableHost(host string) string {
	switch host {
	case "", "0.0.0.0", "::", "[::]":
		return "localhost"
	default:
		return host
	}
}
