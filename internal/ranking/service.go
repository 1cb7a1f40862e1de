package ranking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bidli/backend/internal/metrics"
	"github.com/bidli/backend/internal/models"
)

// Source loads the metrics of one content type and stores its current score.
type Source interface {
	LoadContent(ctx context.Context, t ContentType, id uuid.UUID) (Content, error)
	UpdateScore(ctx context.Context, t ContentType, id uuid.UUID, score int) error
}

// BoostLookup finds campaigns that are active and unexpired for a content item.
type BoostLookup interface {
	ListActive(ctx context.Context, contentType string, contentID uuid.UUID, now time.Time) ([]models.BoostCampaign, error)
}

// Entry is one leaderboard position.
type Entry struct {
	ID    string `json:"id"`
	Score int    `json:"score"`
}

// Index is a sorted score index serving leaderboard reads.
type Index interface {
	Put(ctx context.Context, t ContentType, id string, score int) error
	Top(ctx context.Context, t ContentType, limit int) ([]Entry, error)
	Remove(ctx context.Context, t ContentType, id string) error
}

// Service recomputes stored rankings when content metrics change.
type Service struct {
	engine  *Engine
	sources map[ContentType]Source
	boosts  BoostLookup
	index   Index
	logger  *zap.Logger
}

// NewService creates a ranking service. index may be nil when no leaderboard is kept.
func NewService(engine *Engine, boosts BoostLookup, index Index, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		engine:  engine,
		sources: make(map[ContentType]Source),
		boosts:  boosts,
		index:   index,
		logger:  logger,
	}
}

// Register sets the metrics source for content type t. Call before serving.
func (s *Service) Register(t ContentType, src Source) {
	s.sources[t] = src
}

// Engine returns the scoring engine used by the service.
func (s *Service) Engine() *Engine {
	return s.engine
}

// Refresh recomputes the ranking of one item, stores it as the item's current score and
// updates the leaderboard index. Inactive content is dropped from the index and returns
// ErrInactive.
func (s *Service) Refresh(ctx context.Context, t ContentType, id uuid.UUID) (Result, error) {
	start := time.Now()
	res, err := s.refresh(ctx, t, id)
	metrics.RankingRefreshDuration.WithLabelValues(string(t)).Observe(time.Since(start).Seconds())
	if err != nil && !errors.Is(err, ErrInactive) {
		metrics.RankingRefreshErrors.WithLabelValues(string(t)).Inc()
	}
	return res, err
}

func (s *Service) refresh(ctx context.Context, t ContentType, id uuid.UUID) (Result, error) {
	src, ok := s.sources[t]
	if !ok {
		return Result{}, fmt.Errorf("refresh %s: %w", t, ErrUnknownContentType)
	}
	content, err := src.LoadContent(ctx, t, id)
	if errors.Is(err, ErrInactive) {
		if s.index != nil {
			if rerr := s.index.Remove(ctx, t, id.String()); rerr != nil {
				s.logger.Warn("leaderboard remove failed", zap.Error(rerr), zap.String("type", string(t)), zap.String("id", id.String()))
			}
		}
		return Result{}, fmt.Errorf("load %s %s: %w", t, id, err)
	}
	if err != nil {
		return Result{}, fmt.Errorf("load %s %s: %w", t, id, err)
	}

	multiplier := 1.0
	if s.boosts != nil {
		now := s.engine.clock.Now()
		campaigns, err := s.boosts.ListActive(ctx, string(t), id, now)
		if err != nil {
			return Result{}, fmt.Errorf("list boosts for %s %s: %w", t, id, err)
		}
		if c, ok := SelectBoost(campaigns, now); ok {
			multiplier = c.BoostMultiplier
		}
	}

	res := s.engine.FinalRanking(content, t, multiplier)
	if err := src.UpdateScore(ctx, t, id, res.FinalScore); err != nil {
		return Result{}, fmt.Errorf("store score for %s %s: %w", t, id, err)
	}
	if s.index != nil {
		if err := s.index.Put(ctx, t, id.String(), res.FinalScore); err != nil {
			s.logger.Warn("leaderboard index update failed", zap.Error(err), zap.String("type", string(t)), zap.String("id", id.String()))
		}
	}
	s.logger.Debug("ranking refreshed",
		zap.String("type", string(t)),
		zap.String("id", id.String()),
		zap.Int("final_score", res.FinalScore),
		zap.Float64("boost", res.BoostMultiplier),
	)
	return res, nil
}

// RefreshLiveStream recomputes the ranking of a broadcast after its viewer count changed.
// An ended broadcast is not an error.
func (s *Service) RefreshLiveStream(ctx context.Context, broadcastID uuid.UUID) error {
	_, err := s.Refresh(ctx, TypeLiveStream, broadcastID)
	if errors.Is(err, ErrInactive) {
		return nil
	}
	return err
}

// Top returns up to limit leaderboard entries for t, highest score first.
func (s *Service) Top(ctx context.Context, t ContentType, limit int) ([]Entry, error) {
	if s.index == nil {
		return nil, nil
	}
	return s.index.Top(ctx, t, limit)
}

// Remove drops an item from the leaderboard index.
func (s *Service) Remove(ctx context.Context, t ContentType, id uuid.UUID) error {
	if s.index == nil {
		return nil
	}
	return s.index.Remove(ctx, t, id.String())
}
