package boosts

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/bidli/backend/internal/auth"
	"github.com/bidli/backend/internal/middleware"
	"github.com/bidli/backend/internal/models"
	"github.com/bidli/backend/internal/ranking"
	"github.com/bidli/backend/pkg/response"
)

// Store is the part of Repository the handler uses.
type Store interface {
	Create(ctx context.Context, b *models.BoostCampaign) (*models.BoostCampaign, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.BoostCampaign, error)
	ContentOwner(ctx context.Context, t ranking.ContentType, id uuid.UUID) (uuid.UUID, error)
	SetStatus(ctx context.Context, id uuid.UUID, status string) (*models.BoostCampaign, error)
}

// Refresher recomputes the ranking of boosted content.
type Refresher interface {
	Refresh(ctx context.Context, t ranking.ContentType, id uuid.UUID) (ranking.Result, error)
}

// CreateRequest is the body for POST /boosts.
type CreateRequest struct {
	ContentType     string    `json:"content_type" binding:"required"`
	ContentID       uuid.UUID `json:"content_id" binding:"required"`
	BoostMultiplier float64   `json:"boost_multiplier" binding:"required"`
	ExpiresAt       time.Time `json:"expires_at" binding:"required"`
}

// StatusRequest is the body for PATCH /boosts/:id/status.
type StatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// Handler serves boost campaign endpoints.
type Handler struct {
	store     Store
	refresher Refresher
	clock     clockwork.Clock
	logger    *zap.Logger
}

// NewHandler creates a boosts handler.
func NewHandler(store Store, refresher Refresher, clock clockwork.Clock, logger *zap.Logger) *Handler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{store: store, refresher: refresher, clock: clock, logger: logger}
}

// Create handles POST /boosts. Sellers may only boost their own content.
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	t, err := ranking.ParseContentType(req.ContentType)
	if err != nil {
		response.BadRequest(c, "content_type must be one of live_stream, post, profile")
		return
	}
	if math.IsNaN(req.BoostMultiplier) || req.BoostMultiplier <= 0 || req.BoostMultiplier > ranking.MaxBoostMultiplier {
		response.BadRequest(c, "boost_multiplier must be greater than 0 and at most 10")
		return
	}
	if !req.ExpiresAt.After(h.clock.Now()) {
		response.BadRequest(c, "expires_at must be in the future")
		return
	}
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
		return
	}
	ctx := c.Request.Context()

	owner, err := h.store.ContentOwner(ctx, t, req.ContentID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			response.NotFound(c, "content not found")
			return
		}
		h.logger.Error("look up content owner", zap.Error(err))
		response.Internal(c, "failed to create boost campaign")
		return
	}
	if !isAdmin(c) && owner != userID {
		response.Forbidden(c, "not the owner of this content")
		return
	}

	b, err := h.store.Create(ctx, &models.BoostCampaign{
		ContentType:     string(t),
		ContentID:       req.ContentID,
		BoostMultiplier: req.BoostMultiplier,
		ExpiresAt:       req.ExpiresAt,
		CreatedBy:       userID,
	})
	if err != nil {
		h.logger.Error("create boost campaign", zap.Error(err))
		response.Internal(c, "failed to create boost campaign")
		return
	}
	h.logger.Info("boost campaign created",
		zap.String("campaign_id", b.ID.String()),
		zap.String("type", b.ContentType),
		zap.String("content_id", b.ContentID.String()),
		zap.Float64("multiplier", b.BoostMultiplier),
	)
	h.refresh(ctx, b)
	response.Created(c, b)
}

// SetStatus handles PATCH /boosts/:id/status. Sellers may only change campaigns they created.
func (h *Handler) SetStatus(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid campaign id")
		return
	}
	var req StatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	switch req.Status {
	case models.BoostStatusActive, models.BoostStatusPaused, models.BoostStatusCancelled:
	default:
		response.BadRequest(c, "status must be one of active, paused, cancelled")
		return
	}
	ctx := c.Request.Context()

	current, err := h.store.GetByID(ctx, id)
	if err != nil {
		h.fail(c, err, "failed to get boost campaign")
		return
	}
	if !isAdmin(c) {
		if userID, ok := middleware.UserID(c); !ok || userID != current.CreatedBy {
			response.Forbidden(c, "not the creator of this boost campaign")
			return
		}
	}

	b, err := h.store.SetStatus(ctx, id, req.Status)
	if err != nil {
		h.fail(c, err, "failed to update boost campaign")
		return
	}
	h.refresh(ctx, b)
	response.OK(c, b)
}

func isAdmin(c *gin.Context) bool {
	return c.GetString(middleware.ContextUserRole) == auth.RoleAdmin
}

func (h *Handler) fail(c *gin.Context, err error, msg string) {
	if errors.Is(err, models.ErrNotFound) {
		response.NotFound(c, "boost campaign not found")
		return
	}
	h.logger.Error(msg, zap.Error(err))
	response.Internal(c, msg)
}

func (h *Handler) refresh(ctx context.Context, b *models.BoostCampaign) {
	if h.refresher == nil {
		return
	}
	if _, err := h.refresher.Refresh(ctx, ranking.ContentType(b.ContentType), b.ContentID); err != nil && !errors.Is(err, models.ErrNotFound) {
		h.logger.Warn("ranking refresh after boost change failed",
			zap.Error(err), zap.String("content_id", b.ContentID.String()))
	}
}
