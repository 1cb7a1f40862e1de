package presence

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bidli/backend/internal/middleware"
	"github.com/bidli/backend/internal/models"
	"github.com/bidli/backend/pkg/response"
)

// ViewerRequest is the body for join and leave. ViewerID is used only for anonymous
// viewers; an authenticated user is always identified by the token.
type ViewerRequest struct {
	ViewerID string `json:"viewer_id"`
}

// Handler serves the presence endpoints of a live room.
type Handler struct {
	tracker *Tracker
	logger  *zap.Logger
}

// NewHandler creates a presence handler.
func NewHandler(tracker *Tracker, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{tracker: tracker, logger: logger}
}

// Join handles POST /live/:id/join.
func (h *Handler) Join(c *gin.Context) {
	broadcastID, viewerID, ok := h.parse(c)
	if !ok {
		return
	}
	res, err := h.tracker.Join(c.Request.Context(), broadcastID, viewerID)
	if errors.Is(err, models.ErrBroadcastEnded) {
		response.Fail(c, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	response.OK(c, res)
}

// Leave handles POST /live/:id/leave.
func (h *Handler) Leave(c *gin.Context) {
	broadcastID, viewerID, ok := h.parse(c)
	if !ok {
		return
	}
	res, err := h.tracker.Leave(c.Request.Context(), broadcastID, viewerID)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	response.OK(c, res)
}

// Stats handles GET /live/:id/viewers.
func (h *Handler) Stats(c *gin.Context) {
	broadcastID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid broadcast id")
		return
	}
	response.OK(c, h.tracker.Stats(c.Request.Context(), broadcastID))
}

// Cleanup handles POST /live/:id/cleanup (seller or admin).
func (h *Handler) Cleanup(c *gin.Context) {
	broadcastID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid broadcast id")
		return
	}
	if err := h.tracker.Cleanup(c.Request.Context(), broadcastID); err != nil {
		h.logger.Error("presence cleanup failed", zap.Error(err), zap.String("broadcast_id", broadcastID.String()))
		response.Internal(c, "failed to reset viewer count")
		return
	}
	response.OK(c, gin.H{"broadcast_id": broadcastID, "viewers": 0})
}

func (h *Handler) parse(c *gin.Context) (uuid.UUID, string, bool) {
	broadcastID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid broadcast id")
		return uuid.Nil, "", false
	}
	if userID, ok := middleware.UserID(c); ok {
		return broadcastID, userID.String(), true
	}
	var req ViewerRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		response.BadRequest(c, "invalid request: "+err.Error())
		return uuid.Nil, "", false
	}
	if req.ViewerID == "" {
		response.BadRequest(c, ErrInvalidViewer.Error())
		return uuid.Nil, "", false
	}
	return broadcastID, req.ViewerID, true
}
