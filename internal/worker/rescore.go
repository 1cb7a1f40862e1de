package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/bidli/backend/internal/models"
	"github.com/bidli/backend/internal/ranking"
	"github.com/bidli/backend/pkg/queue"
)

// DefaultRescoreInterval is how often ranked content is recomputed when no interval is set.
const DefaultRescoreInterval = 5 * time.Minute

// RankedSet lists the ids held in a leaderboard.
type RankedSet interface {
	Members(ctx context.Context, t ranking.ContentType) ([]string, error)
}

// ExpiringBoosts lists active campaigns whose expiry falls in (after, until].
type ExpiringBoosts interface {
	ListExpired(ctx context.Context, after, until time.Time) ([]models.BoostCampaign, error)
}

// Enqueuer queues ranking refresh jobs.
type Enqueuer interface {
	EnqueueRankingRefresh(ctx context.Context, payload queue.RankingRefreshPayload) error
}

// Rescorer periodically queues a refresh for every ranked item so that stored scores
// follow time decay, and for the content of boosts that expired since the last pass.
type Rescorer struct {
	ranked   RankedSet
	boosts   ExpiringBoosts
	queue    Enqueuer
	clock    clockwork.Clock
	interval time.Duration
	logger   *zap.Logger
	last     time.Time
}

// NewRescorer creates a rescorer. boosts may be nil.
func NewRescorer(ranked RankedSet, boosts ExpiringBoosts, q Enqueuer, clock clockwork.Clock, interval time.Duration, logger *zap.Logger) *Rescorer {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if interval <= 0 {
		interval = DefaultRescoreInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Rescorer{ranked: ranked, boosts: boosts, queue: q, clock: clock, interval: interval, logger: logger}
}

type contentKey struct {
	t  ranking.ContentType
	id uuid.UUID
}

// Rescore runs one pass and returns the number of jobs queued. Failures of one content
// type do not stop the others.
func (r *Rescorer) Rescore(ctx context.Context) (int, error) {
	now := r.clock.Now()
	if r.last.IsZero() {
		r.last = now.Add(-r.interval)
	}

	var errs []error
	targets := make(map[contentKey]struct{})
	for _, t := range ranking.ContentTypes() {
		ids, err := r.ranked.Members(ctx, t)
		if err != nil {
			errs = append(errs, fmt.Errorf("list %s: %w", t, err))
			continue
		}
		for _, s := range ids {
			id, err := uuid.Parse(s)
			if err != nil {
				r.logger.Warn("skipping malformed leaderboard member", zap.String("type", string(t)), zap.String("id", s))
				continue
			}
			targets[contentKey{t: t, id: id}] = struct{}{}
		}
	}

	if r.boosts != nil {
		expired, err := r.boosts.ListExpired(ctx, r.last, now)
		if err != nil {
			errs = append(errs, fmt.Errorf("list expired boosts: %w", err))
		} else {
			for _, b := range expired {
				t, err := ranking.ParseContentType(b.ContentType)
				if err != nil {
					continue
				}
				targets[contentKey{t: t, id: b.ContentID}] = struct{}{}
			}
			r.last = now
		}
	}

	queued := 0
	for k := range targets {
		payload := queue.RankingRefreshPayload{ContentType: string(k.t), ContentID: k.id}
		if err := r.queue.EnqueueRankingRefresh(ctx, payload); err != nil {
			errs = append(errs, fmt.Errorf("enqueue %s %s: %w", k.t, k.id, err))
			continue
		}
		queued++
	}
	return queued, errors.Join(errs...)
}

// Run rescores on every interval tick until ctx is cancelled.
func (r *Rescorer) Run(ctx context.Context) {
	ticker := r.clock.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("rescorer stopping")
			return
		case <-ticker.Chan():
			n, err := r.Rescore(ctx)
			if err != nil {
				r.logger.Warn("rescore pass incomplete", zap.Error(err), zap.Int("queued", n))
				continue
			}
			r.logger.Debug("rescore pass queued refreshes", zap.Int("queued", n))
		}
	}
}
