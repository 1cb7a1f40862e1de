package ranking

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bidli/backend/internal/models"
	"github.com/bidli/backend/pkg/response"
)

const maxLeaderboardLimit = 100

// ScoreRequest is the body for POST /rankings/score.
type ScoreRequest struct {
	Type            string   `json:"type" binding:"required"`
	Content         Content  `json:"content"`
	BoostMultiplier *float64 `json:"boost_multiplier"`
}

// LeaderboardRequest is the body for POST /rankings/leaderboard.
type LeaderboardRequest struct {
	Items []Item `json:"items" binding:"required"`
}

// Handler serves ranking endpoints.
type Handler struct {
	svc          *Service
	defaultLimit int
	logger       *zap.Logger
}

// NewHandler creates a ranking handler.
func NewHandler(svc *Service, defaultLimit int, logger *zap.Logger) *Handler {
	if defaultLimit <= 0 || defaultLimit > maxLeaderboardLimit {
		defaultLimit = 50
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, defaultLimit: defaultLimit, logger: logger}
}

// Score handles POST /rankings/score: the full breakdown for an ad-hoc content body.
func (h *Handler) Score(c *gin.Context) {
	var req ScoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	multiplier := 1.0
	if req.BoostMultiplier != nil {
		multiplier = *req.BoostMultiplier
	}
	response.OK(c, h.svc.Engine().FinalRanking(req.Content, ContentType(req.Type), multiplier))
}

// Leaderboard handles POST /rankings/leaderboard: scores and sorts the posted items.
func (h *Handler) Leaderboard(c *gin.Context) {
	var req LeaderboardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	response.OK(c, h.svc.Engine().Leaderboard(req.Items))
}

// Top handles GET /rankings/:type/top?limit=N.
func (h *Handler) Top(c *gin.Context) {
	t, err := ParseContentType(c.Param("type"))
	if err != nil {
		response.BadRequest(c, "invalid content type")
		return
	}
	limit := h.defaultLimit
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			response.BadRequest(c, "invalid limit")
			return
		}
		limit = min(n, maxLeaderboardLimit)
	}
	entries, err := h.svc.Top(c.Request.Context(), t, limit)
	if err != nil {
		h.logger.Error("leaderboard read failed", zap.Error(err), zap.String("type", string(t)))
		response.Internal(c, "failed to load leaderboard")
		return
	}
	if entries == nil {
		entries = []Entry{}
	}
	response.OK(c, gin.H{"type": t, "entries": entries})
}

// Refresh handles POST /rankings/:type/:id/refresh.
func (h *Handler) Refresh(c *gin.Context) {
	t, err := ParseContentType(c.Param("type"))
	if err != nil {
		response.BadRequest(c, "invalid content type")
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid content id")
		return
	}
	res, err := h.svc.Refresh(c.Request.Context(), t, id)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			response.NotFound(c, "content not found")
			return
		}
		if errors.Is(err, ErrInactive) {
			response.Fail(c, http.StatusConflict, ErrInactive.Error())
			return
		}
		h.logger.Error("ranking refresh failed", zap.Error(err), zap.String("type", string(t)), zap.String("id", id.String()))
		response.Internal(c, "failed to refresh ranking")
		return
	}
	response.OK(c, res)
}
