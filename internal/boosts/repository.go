// Package boosts stores paid boost campaigns and serves them to ranking.
package boosts

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bidli/backend/internal/models"
	"github.com/bidli/backend/internal/ranking"
)

// Repository handles boost_campaigns persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a boost campaigns repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const campaignColumns = `id, content_type, content_id, boost_multiplier, status, expires_at, created_by, created_at`

func scanCampaign(row pgx.Row) (*models.BoostCampaign, error) {
	var b models.BoostCampaign
	if err := row.Scan(&b.ID, &b.ContentType, &b.ContentID, &b.BoostMultiplier, &b.Status, &b.ExpiresAt, &b.CreatedBy, &b.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	return &b, nil
}

// Create inserts an active campaign.
func (r *Repository) Create(ctx context.Context, b *models.BoostCampaign) (*models.BoostCampaign, error) {
	q := `INSERT INTO boost_campaigns (content_type, content_id, boost_multiplier, status, expires_at, created_by)
		VALUES ($1, $2, $3, 'active', $4, $5) RETURNING ` + campaignColumns
	return scanCampaign(r.pool.QueryRow(ctx, q, b.ContentType, b.ContentID, b.BoostMultiplier, b.ExpiresAt, b.CreatedBy))
}

// GetByID returns a campaign by id.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.BoostCampaign, error) {
	q := `SELECT ` + campaignColumns + ` FROM boost_campaigns WHERE id = $1`
	return scanCampaign(r.pool.QueryRow(ctx, q, id))
}

// SetStatus changes the status of a campaign.
func (r *Repository) SetStatus(ctx context.Context, id uuid.UUID, status string) (*models.BoostCampaign, error) {
	q := `UPDATE boost_campaigns SET status = $1 WHERE id = $2 RETURNING ` + campaignColumns
	return scanCampaign(r.pool.QueryRow(ctx, q, status, id))
}

// ContentOwner returns the user that owns a content item. Profiles are owned by their user.
func (r *Repository) ContentOwner(ctx context.Context, t ranking.ContentType, id uuid.UUID) (uuid.UUID, error) {
	var q string
	switch t {
	case ranking.TypeLiveStream:
		q = `SELECT seller_id FROM live_streams WHERE id = $1`
	case ranking.TypePost:
		q = `SELECT seller_id FROM posts WHERE id = $1`
	case ranking.TypeProfile:
		q = `SELECT user_id FROM seller_profiles WHERE id = $1`
	default:
		return uuid.Nil, ranking.ErrUnknownContentType
	}
	var owner uuid.UUID
	if err := r.pool.QueryRow(ctx, q, id).Scan(&owner); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, models.ErrNotFound
		}
		return uuid.Nil, err
	}
	return owner, nil
}

// ListExpired returns the active campaigns whose expiry falls in (after, until].
func (r *Repository) ListExpired(ctx context.Context, after, until time.Time) ([]models.BoostCampaign, error) {
	q := `SELECT ` + campaignColumns + ` FROM boost_campaigns
		WHERE status = 'active' AND expires_at > $1 AND expires_at <= $2
		ORDER BY expires_at`
	return r.list(ctx, q, after, until)
}

// ListActive returns the active campaigns of a content item that have not expired at now.
func (r *Repository) ListActive(ctx context.Context, contentType string, contentID uuid.UUID, now time.Time) ([]models.BoostCampaign, error) {
	q := `SELECT ` + campaignColumns + ` FROM boost_campaigns
		WHERE content_type = $1 AND content_id = $2 AND status = 'active' AND expires_at > $3
		ORDER BY boost_multiplier DESC, created_at DESC`
	return r.list(ctx, q, contentType, contentID, now)
}

func (r *Repository) list(ctx context.Context, q string, args ...any) ([]models.BoostCampaign, error) {
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.BoostCampaign
	for rows.Next() {
		b, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *b)
	}
	return list, rows.Err()
}
