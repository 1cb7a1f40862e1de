package presence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/bidli/backend/internal/metrics"
	"github.com/bidli/backend/internal/models"
)

// BreakerConfig configures the store circuit breaker.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before the breaker opens.
	FailureThreshold uint32
	// OpenTimeout is how long the breaker stays open before letting a trial request through.
	OpenTimeout time.Duration
}

type viewerCounts struct {
	viewers int
	total   int
}

// BreakerStore wraps a Store with a circuit breaker so that a failing database makes
// presence fall back to its in-memory counts immediately instead of waiting on timeouts.
// models.ErrNotFound and models.ErrBroadcastEnded are answers, not failures.
type BreakerStore struct {
	next Store
	cb   *gobreaker.CircuitBreaker[viewerCounts]
}

var _ Store = (*BreakerStore)(nil)

// NewBreakerStore wraps next with a circuit breaker.
func NewBreakerStore(next Store, cfg BreakerConfig, logger *zap.Logger) *BreakerStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	settings := gobreaker.Settings{
		Name:        "presence-store",
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, models.ErrNotFound) || errors.Is(err, models.ErrBroadcastEnded)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			metrics.PresenceStoreBreakerState.Set(breakerStateValue(to))
		},
	}
	return &BreakerStore{next: next, cb: gobreaker.NewCircuitBreaker[viewerCounts](settings)}
}

// SetViewerCount implements Store.
func (b *BreakerStore) SetViewerCount(ctx context.Context, broadcastID uuid.UUID, viewers, total int, seq int64) error {
	_, err := b.cb.Execute(func() (viewerCounts, error) {
		return viewerCounts{}, b.next.SetViewerCount(ctx, broadcastID, viewers, total, seq)
	})
	return err
}

// GetViewerCount implements Store.
func (b *BreakerStore) GetViewerCount(ctx context.Context, broadcastID uuid.UUID) (int, int, error) {
	c, err := b.cb.Execute(func() (viewerCounts, error) {
		v, t, err := b.next.GetViewerCount(ctx, broadcastID)
		return viewerCounts{viewers: v, total: t}, err
	})
	return c.viewers, c.total, err
}

// State returns the current breaker state.
func (b *BreakerStore) State() gobreaker.State {
	return b.cb.State()
}

func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	}
	return -1
}
