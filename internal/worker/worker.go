// Package worker runs background jobs taken from the Redis queue.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bidli/backend/internal/models"
	"github.com/bidli/backend/internal/ranking"
	"github.com/bidli/backend/pkg/queue"
)

// JobQueue is the part of queue.Queue the processor consumes.
type JobQueue interface {
	Dequeue(ctx context.Context) (*queue.Job, error)
	Retry(ctx context.Context, job *queue.Job) error
}

// Refresher recomputes a stored ranking.
type Refresher interface {
	Refresh(ctx context.Context, t ranking.ContentType, id uuid.UUID) (ranking.Result, error)
}

// RankingProcessor processes ranking refresh jobs.
type RankingProcessor struct {
	rankings Refresher
	queue    JobQueue
	backoff  time.Duration
	logger   *zap.Logger
}

// NewRankingProcessor creates a ranking refresh processor. A non-positive backoff uses queue.RetryBackoff.
func NewRankingProcessor(rankings Refresher, q JobQueue, backoff time.Duration, logger *zap.Logger) *RankingProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if backoff <= 0 {
		backoff = queue.RetryBackoff
	}
	return &RankingProcessor{rankings: rankings, queue: q, backoff: backoff, logger: logger}
}

// Process executes one ranking refresh job. Content that no longer exists or is no
// longer ranked is dropped.
func (p *RankingProcessor) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeRankingRefresh {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var payload queue.RankingRefreshPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	t, err := ranking.ParseContentType(payload.ContentType)
	if err != nil {
		return fmt.Errorf("job %s: %w", job.ID, err)
	}

	res, err := p.rankings.Refresh(ctx, t, payload.ContentID)
	if errors.Is(err, ranking.ErrInactive) {
		p.logger.Debug("ranking refresh skipped, content inactive",
			zap.String("type", string(t)), zap.String("content_id", payload.ContentID.String()))
		return nil
	}
	if errors.Is(err, models.ErrNotFound) {
		p.logger.Info("ranking refresh skipped, content gone",
			zap.String("type", string(t)), zap.String("content_id", payload.ContentID.String()))
		return nil
	}
	if err != nil {
		return err
	}
	p.logger.Debug("ranking refresh completed",
		zap.String("job_id", job.ID),
		zap.String("type", string(t)),
		zap.String("content_id", payload.ContentID.String()),
		zap.Int("final_score", res.FinalScore),
	)
	return nil
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *RankingProcessor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("ranking worker stopping")
			return
		default:
		}

		job, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			p.sleep(ctx)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt), zap.Error(err))
			if reErr := p.queue.Retry(ctx, job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			p.sleep(ctx)
		}
	}
}

func (p *RankingProcessor) sleep(ctx context.Context) {
	t := time.NewTimer(p.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
