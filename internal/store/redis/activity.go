package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultStatusTTL bounds how long a published roster snapshot is served
// after the publisher stops.
const DefaultStatusTTL = 5 * time.Minute

// ErrNoClient is returned by every operation of a Store built without a client.
var ErrNoClient = errors.New("activity store: redis not configured")

// Store records console activity in redis: chat turn counters and the
// last roster status snapshot. A Store without a client fails every
// call with ErrNoClient, so callers can treat redis as best effort.
type Store struct {
	client *redis.Client
}

func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

// Enabled reports whether the store has a client.
func (s *Store) Enabled() bool { return s != nil && s.client != nil }

func (s *Store) Ping(ctx context.Context) error {
	if !s.Enabled() {
		return ErrNoClient
	}
	return s.client.Ping(ctx).Err()
}

// IncrementTurns counts one chat turn for sessionID and overall.
func (s *Store) IncrementTurns(ctx context.Context, sessionID string) error {
	if !s.Enabled() {
		return ErrNoClient
	}
	pipe := s.client.TxPipeline()
	pipe.Incr(ctx, TurnsKey(sessionID))
	pipe.Incr(ctx, KeyTotalTurns)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to count chat turn: %w", err)
	}
	return nil
}

// Turns returns the number of turns recorded for sessionID.
func (s *Store) Turns(ctx context.Context, sessionID string) (int64, error) {
	return s.counter(ctx, TurnsKey(sessionID))
}

// TotalTurns returns the number of turns recorded across all sessions.
func (s *Store) TotalTurns(ctx context.Context) (int64, error) {
	return s.counter(ctx, KeyTotalTurns)
}

func (s *Store) counter(ctx context.Context, key string) (int64, error) {
	if !s.Enabled() {
		return 0, ErrNoClient
	}
	n, err := s.client.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return n, nil
}

// ForgetSession drops the turn counter of a deleted session.
func (s *Store) ForgetSession(ctx context.Context, sessionID string) error {
	if !s.Enabled() {
		return ErrNoClient
	}
	if err := s.client.Del(ctx, TurnsKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("failed to forget session: %w", err)
	}
	return nil
}

// PublishStatus stores snapshot under KeyRosterStatus with ttl and
// announces it on ChannelRosterStatus.
func (s *Store) PublishStatus(ctx context.Context, snapshot any, ttl time.Duration) error {
	if !s.Enabled() {
		return ErrNoClient
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal status: %w", err)
	}
	if ttl <= 0 {
		ttl = DefaultStatusTTL
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, KeyRosterStatus, data, ttl)
	pipe.Publish(ctx, ChannelRosterStatus, data)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish status: %w", err)
	}
	return nil
}
