package livestreams

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bidli/backend/internal/auth"
	"github.com/bidli/backend/internal/middleware"
	"github.com/bidli/backend/internal/models"
	"github.com/bidli/backend/internal/presence"
	"github.com/bidli/backend/internal/ranking"
	"github.com/bidli/backend/pkg/response"
)

// Store is the part of Repository the handler uses.
type Store interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.LiveStream, error)
	SetStatus(ctx context.Context, id uuid.UUID, status string) (*models.LiveStream, error)
}

// Presence reads the audience of a broadcast and closes it when the broadcast ends.
type Presence interface {
	Stats(ctx context.Context, broadcastID uuid.UUID) presence.Stats
	End(ctx context.Context, broadcastID uuid.UUID) error
}

// Rankings keeps the live stream leaderboard in step with the broadcast lifecycle.
type Rankings interface {
	Refresh(ctx context.Context, t ranking.ContentType, id uuid.UUID) (ranking.Result, error)
	Remove(ctx context.Context, t ranking.ContentType, id uuid.UUID) error
}

// StatusRequest is the body for PATCH /live/:id/status.
type StatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// Detail is a live stream record with its current audience.
type Detail struct {
	*models.LiveStream
	Viewers presence.Stats `json:"viewers"`
}

// Handler serves live stream records.
type Handler struct {
	store    Store
	presence Presence
	rankings Rankings
	logger   *zap.Logger
}

// NewHandler creates a live streams handler.
func NewHandler(store Store, p Presence, rankings Rankings, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{store: store, presence: p, rankings: rankings, logger: logger}
}

// Get handles GET /live/:id.
func (h *Handler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid live stream id")
		return
	}
	s, err := h.store.GetByID(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err, "failed to get live stream")
		return
	}
	response.OK(c, Detail{LiveStream: s, Viewers: h.presence.Stats(c.Request.Context(), id)})
}

// SetStatus handles PATCH /live/:id/status. Sellers may only change their own streams.
func (h *Handler) SetStatus(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid live stream id")
		return
	}
	var req StatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if !models.IsValidLiveStatus(req.Status) {
		response.BadRequest(c, "status must be one of scheduled, live, ended")
		return
	}
	ctx := c.Request.Context()

	current, err := h.store.GetByID(ctx, id)
	if err != nil {
		h.fail(c, err, "failed to get live stream")
		return
	}
	if c.GetString(middleware.ContextUserRole) != auth.RoleAdmin {
		if userID, ok := middleware.UserID(c); !ok || userID != current.SellerID {
			response.Forbidden(c, "not the owner of this live stream")
			return
		}
	}
	if current.Status == models.LiveStatusEnded && req.Status != models.LiveStatusEnded {
		response.BadRequest(c, "live stream has already ended")
		return
	}

	updated, err := h.store.SetStatus(ctx, id, req.Status)
	if err != nil {
		h.fail(c, err, "failed to update live stream")
		return
	}

	switch updated.Status {
	case models.LiveStatusEnded:
		if err := h.presence.End(ctx, id); err != nil {
			h.logger.Warn("closing presence on end failed", zap.Error(err), zap.String("broadcast_id", id.String()))
		}
		if err := h.rankings.Remove(ctx, ranking.TypeLiveStream, id); err != nil {
			h.logger.Warn("leaderboard remove failed", zap.Error(err), zap.String("broadcast_id", id.String()))
		}
	case models.LiveStatusLive:
		if _, err := h.rankings.Refresh(ctx, ranking.TypeLiveStream, id); err != nil {
			h.logger.Warn("ranking refresh on go-live failed", zap.Error(err), zap.String("broadcast_id", id.String()))
		}
	}
	h.logger.Info("live stream status changed",
		zap.String("broadcast_id", id.String()),
		zap.String("from", current.Status),
		zap.String("to", updated.Status),
	)
	response.OK(c, updated)
}

func (h *Handler) fail(c *gin.Context, err error, msg string) {
	if errors.Is(err, models.ErrNotFound) {
		response.NotFound(c, "live stream not found")
		return
	}
	h.logger.Error(msg, zap.Error(err))
	response.Internal(c, msg)
}
