package livestreams

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bidli/backend/internal/models"
	"github.com/bidli/backend/internal/ranking"
)

// Repository handles live_streams persistence. It is the presence store and the
// ranking source for live streams.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a live streams repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const liveStreamColumns = `id, seller_id, title, status, viewer_count, total_viewers, total_bids, bid_amount_total,
	duration_minutes, likes, comments, shares, current_score, started_at, ended_at, created_at, updated_at`

func scanLiveStream(row pgx.Row) (*models.LiveStream, error) {
	var s models.LiveStream
	err := row.Scan(&s.ID, &s.SellerID, &s.Title, &s.Status, &s.ViewerCount, &s.TotalViewers, &s.TotalBids, &s.BidAmountTotal,
		&s.DurationMinutes, &s.Likes, &s.Comments, &s.Shares, &s.CurrentScore, &s.StartedAt, &s.EndedAt, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

// GetByID returns a live stream by id.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.LiveStream, error) {
	q := `SELECT ` + liveStreamColumns + ` FROM live_streams WHERE id = $1`
	return scanLiveStream(r.pool.QueryRow(ctx, q, id))
}

// SetStatus moves a live stream to status. Going live stamps started_at and ending stamps
// ended_at; both keep their first value.
func (r *Repository) SetStatus(ctx context.Context, id uuid.UUID, status string) (*models.LiveStream, error) {
	q := `UPDATE live_streams SET status = $1,
		started_at = CASE WHEN $1::text = 'live' THEN COALESCE(started_at, NOW()) ELSE started_at END,
		ended_at = CASE WHEN $1::text = 'ended' THEN COALESCE(ended_at, NOW()) ELSE ended_at END,
		updated_at = NOW()
		WHERE id = $2 RETURNING ` + liveStreamColumns
	return scanLiveStream(r.pool.QueryRow(ctx, q, status, id))
}

// SetViewerCount writes the viewer counts when seq is newer than the stored viewers_seq.
// total_viewers only grows. A stale write is a silent no-op; a non-zero count for an
// ended stream returns models.ErrBroadcastEnded.
func (r *Repository) SetViewerCount(ctx context.Context, id uuid.UUID, viewers, total int, seq int64) error {
	const q = `UPDATE live_streams SET viewer_count = $1, total_viewers = GREATEST(total_viewers, $2),
		viewers_seq = $3, updated_at = NOW()
		WHERE id = $4 AND viewers_seq < $3 AND (status <> 'ended' OR $1 = 0)`
	tag, err := r.pool.Exec(ctx, q, viewers, total, seq, id)
	if err != nil {
		return fmt.Errorf("set viewer count: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	var status string
	if err := r.pool.QueryRow(ctx, `SELECT status FROM live_streams WHERE id = $1`, id).Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.ErrNotFound
		}
		return fmt.Errorf("check live stream: %w", err)
	}
	if status == models.LiveStatusEnded && viewers > 0 {
		return models.ErrBroadcastEnded
	}
	return nil
}

// GetViewerCount returns the durable viewer counts of a live stream.
func (r *Repository) GetViewerCount(ctx context.Context, id uuid.UUID) (int, int, error) {
	const q = `SELECT viewer_count, total_viewers FROM live_streams WHERE id = $1`
	var viewers, total int
	if err := r.pool.QueryRow(ctx, q, id).Scan(&viewers, &total); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, 0, models.ErrNotFound
		}
		return 0, 0, err
	}
	return viewers, total, nil
}

// LoadContent implements ranking.Source for live streams. Ended streams return
// ranking.ErrInactive.
func (r *Repository) LoadContent(ctx context.Context, t ranking.ContentType, id uuid.UUID) (ranking.Content, error) {
	if t != ranking.TypeLiveStream {
		return ranking.Content{}, ranking.ErrUnknownContentType
	}
	const q = `SELECT status, viewer_count, total_bids, bid_amount_total, duration_minutes, likes, comments, shares, created_at
		FROM live_streams WHERE id = $1`
	var c ranking.Content
	var status string
	err := r.pool.QueryRow(ctx, q, id).Scan(&status, &c.ViewerCount, &c.TotalBids, &c.BidAmountTotal, &c.DurationMinutes,
		&c.Likes, &c.Comments, &c.Shares, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ranking.Content{}, models.ErrNotFound
		}
		return ranking.Content{}, err
	}
	if status == models.LiveStatusEnded {
		return ranking.Content{}, ranking.ErrInactive
	}
	return c, nil
}

// UpdateScore implements ranking.Source for live streams.
func (r *Repository) UpdateScore(ctx context.Context, t ranking.ContentType, id uuid.UUID, score int) error {
	if t != ranking.TypeLiveStream {
		return ranking.ErrUnknownContentType
	}
	const q = `UPDATE live_streams SET current_score = $1, updated_at = NOW() WHERE id = $2`
	tag, err := r.pool.Exec(ctx, q, score, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}
