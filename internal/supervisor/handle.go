package supervisor

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/MrSnakeDoc/kilomarket/internal/logger"
)

// BuildFunc constructs a manager. A returned error leaves the decision
// to degrade or fail to the Handle.
type BuildFunc func() (*Manager, error)

// Handle hands out one shared Manager, built on first use. Nothing binds
// a port or spawns a goroutine until Manager is called.
type Handle struct {
	build    BuildFunc
	fallback BuildFunc // nil or strict => construction errors are returned
	strict   bool
	log      logger.Logger

	mu       sync.Mutex
	mgr      atomic.Pointer[Manager]
	degraded error // cause of the fallback, set once under mu
}

// HandleOption configures a Handle.
type HandleOption func(*Handle)

// WithFallback degrades to the roster built by fb when the primary build fails.
func WithFallback(fb BuildFunc) HandleOption { return func(h *Handle) { h.fallback = fb } }

// WithStrict makes construction failures fatal even when a fallback exists.
func WithStrict(strict bool) HandleOption { return func(h *Handle) { h.strict = strict } }

// WithLogger sets the logger used to report degraded construction.
func WithLogger(l logger.Logger) HandleOption { return func(h *Handle) { h.log = l } }

func NewHandle(build BuildFunc, opts ...HandleOption) *Handle {
	h := &Handle{build: build, log: logger.Nop()}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Manager returns the shared manager, building it on the first call.
// Failed constructions are not cached; the next call retries.
func (h *Handle) Manager() (*Manager, error) {
	if m := h.mgr.Load(); m != nil {
		return m, nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if m := h.mgr.Load(); m != nil {
		return m, nil
	}

	m, err := h.build()
	if err == nil && m == nil {
		err = errors.New("roster builder returned no manager")
	}
	if err != nil {
		if h.strict || h.fallback == nil {
			return nil, fmt.Errorf("build a2a roster: %w", err)
		}
		h.log.Warn("a2a roster construction failed, falling back to placeholder agents", logger.Error(err))
		fb, ferr := h.fallback()
		if ferr != nil {
			return nil, fmt.Errorf("build a2a roster: %w", errors.Join(err, ferr))
		}
		h.degraded = err
		m = fb
	}

	h.mgr.Store(m)
	return m, nil
}

// Loaded reports whether the manager has been built.
func (h *Handle) Loaded() bool { return h.mgr.Load() != nil }

// Degraded returns the construction error that caused the fallback
// roster to be used, or nil.
func (h *Handle) Degraded() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.degraded
}

// Shutdown stops every instance if the manager was ever built.
func (h *Handle) Shutdown() Outcome {
	m := h.mgr.Load()
	if m == nil {
		return succeeded("No A2A servers are currently running")
	}
	return m.StopAll()
}

// Status builds the manager if needed and returns its aggregate status.
func (h *Handle) Status() (Status, error) {
	m, err := h.Manager()
	if err != nil {
		return Status{}, err
	}
	return m.Status(), nil
}
