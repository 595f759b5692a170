package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/MrSnakeDoc/kilomarket/internal/logger"
	"github.com/MrSnakeDoc/kilomarket/internal/supervisor"
)

// StatusSource yields the aggregate roster status.
type StatusSource interface {
	Status() (supervisor.Status, error)
}

// StatusSink stores a published snapshot.
type StatusSink interface {
	PublishStatus(ctx context.Context, snapshot any, ttl time.Duration) error
}

// Snapshot is what the publisher writes to the sink.
type Snapshot struct {
	supervisor.Status
	Degraded    string    `json:"degraded,omitempty"`
	PublishedAt time.Time `json:"published_at"`
}

// StatusPublisher handles periodic publication of the roster status
type StatusPublisher struct {
	source        StatusSource
	sink          StatusSink
	degraded      func() error
	logger        logger.Logger
	interval      time.Duration
	ttl           time.Duration
	now           func() time.Time
	stopCh        chan struct{}
	manualTrigger chan struct{}
}

// NewStatusPublisher creates a publisher. degraded may be nil.
func NewStatusPublisher(
	source StatusSource,
	sink StatusSink,
	degraded func() error,
	log logger.Logger,
	interval time.Duration,
	manualTrigger chan struct{},
) *StatusPublisher {
	return &StatusPublisher{
		source:        source,
		sink:          sink,
		degraded:      degraded,
		logger:        log,
		interval:      interval,
		ttl:           3 * interval,
		now:           time.Now,
		stopCh:        make(chan struct{}),
		manualTrigger: manualTrigger,
	}
}

// Start begins the periodic publish loop
func (sp *StatusPublisher) Start(ctx context.Context) error {
	if err := sp.Publish(ctx); err != nil {
		sp.logger.Warn("initial status publish failed", logger.Error(err))
	}

	ticker := time.NewTicker(sp.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := sp.Publish(ctx); err != nil {
					sp.logger.Warn("failed to publish roster status", logger.Error(err))
				}
			case <-sp.manualTrigger:
				sp.logger.Debug("status publish triggered")
				if err := sp.Publish(ctx); err != nil {
					sp.logger.Warn("failed to publish roster status", logger.Error(err))
				}
			case <-sp.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return nil
}

// Stop stops the publisher
func (sp *StatusPublisher) Stop() {
	close(sp.stopCh)
}

// Publish writes one snapshot to the sink.
func (sp *StatusPublisher) Publish(ctx context.Context) error {
	status, err := sp.source.Status()
	if err != nil {
		return fmt.Errorf("failed to read roster status: %w", err)
	}

	snap := Snapshot{Status: status, PublishedAt: sp.now().UTC()}
	if sp.degraded != nil {
		if derr := sp.degraded(); derr != nil {
			snap.Degraded = derr.Error()
		}
	}

	if err := sp.sink.PublishStatus(ctx, snap, sp.ttl); err != nil {
		return err
	}
	sp.logger.Debug("roster status published",
		logger.Int("running", status.RunningServers),
		logger.Int("total", status.TotalServers))
	return nil
}

// Trigger asks for an immediate publish without blocking. It reports
// false when a publish is already pending.
func Trigger(ch chan struct{}) bool {
	if ch == nil {
		return false
	}
	select {
	case ch <- struct{}{}:
		return true
	default:
		return false
	}
}
