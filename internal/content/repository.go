// Package content loads the engagement metrics of posts and seller profiles for ranking.
package content

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

// Repository reads posts and seller_profiles.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a content repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// LoadContent implements ranking.Source for posts and profiles.
func (r *Repository) LoadContent(ctx context.Context, t ranking.ContentType, id uuid.UUID) (ranking.Content, error) {
	var c ranking.Content
	var err error
	switch t {
	case ranking.TypePost:
		const q = `SELECT views, likes, comments, shares, saves, click_throughs, created_at FROM posts WHERE id = $1`
		err = r.pool.QueryRow(ctx, q, id).Scan(&c.Views, &c.Likes, &c.Comments, &c.Shares, &c.Saves, &c.ClickThroughs, &c.CreatedAt)
	case ranking.TypeProfile:
		const q = `SELECT followers, total_sales, avg_rating, reviews_count, profile_views, days_active, created_at
			FROM seller_profiles WHERE id = $1`
		err = r.pool.QueryRow(ctx, q, id).Scan(&c.Followers, &c.TotalSales, &c.AvgRating, &c.ReviewsCount, &c.ProfileViews, &c.DaysActive, &c.CreatedAt)
	default:
		return ranking.Content{}, fmt.Errorf("load %s: %w", t, ranking.ErrUnknownContentType)
	}
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ranking.Content{}, models.ErrNotFound
		}
		return ranking.Content{}, err
	}
	return c, nil
}

// UpdateScore implements ranking.Source for posts and profiles.
func (r *Repository) UpdateScore(ctx context.Context, t ranking.ContentType, id uuid.UUID, score int) error {
	var q string
	switch t {
	case ranking.TypePost:
		q = `UPDATE posts SET current_score = $1, updated_at = NOW() WHERE id = $2`
	case ranking.TypeProfile:
		q = `UPDATE seller_profiles SET current_score = $1, updated_at = NOW() WHERE id = $2`
	default:
		return fmt.Errorf("update score %s: %w", t, ranking.ErrUnknownContentType)
	}
	tag, err := r.pool.Exec(ctx, q, score, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}
