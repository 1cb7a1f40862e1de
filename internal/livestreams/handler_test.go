package livestreams

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bidli/backend/internal/auth"
	"github.com/bidli/backend/internal/middleware"
	"github.com/bidli/backend/internal/models"
	"github.com/bidli/backend/internal/presence"
	"github.com/bidli/backend/internal/ranking"
)

type fakeStore struct {
	streams map[uuid.UUID]*models.LiveStream
}

func (s *fakeStore) GetByID(_ context.Context, id uuid.UUID) (*models.LiveStream, error) {
	ls, ok := s.streams[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *ls
	return &cp, nil
}

func (s *fakeStore) SetStatus(_ context.Context, id uuid.UUID, status string) (*models.LiveStream, error) {
	ls, ok := s.streams[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	ls.Status = status
	cp := *ls
	return &cp, nil
}

type fakePresence struct {
	stats presence.Stats
	ends  []uuid.UUID
}

func (p *fakePresence) Stats(context.Context, uuid.UUID) presence.Stats { return p.stats }

func (p *fakePresence) End(_ context.Context, id uuid.UUID) error {
	p.ends = append(p.ends, id)
	return nil
}

type fakeRankings struct {
	refreshed []uuid.UUID
	removed   []uuid.UUID
}

func (r *fakeRankings) Refresh(_ context.Context, _ ranking.ContentType, id uuid.UUID) (ranking.Result, error) {
	r.refreshed = append(r.refreshed, id)
	return ranking.Result{}, nil
}

func (r *fakeRankings) Remove(_ context.Context, _ ranking.ContentType, id uuid.UUID) error {
	r.removed = append(r.removed, id)
	return nil
}

type fixture struct {
	store    *fakeStore
	presence *fakePresence
	rankings *fakeRankings
	stream   *models.LiveStream
}

func newFixture() *fixture {
	ls := &models.LiveStream{
		ID:        uuid.New(),
		SellerID:  uuid.New(),
		Title:     "Vintage watches",
		Status:    models.LiveStatusScheduled,
		CreatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	return &fixture{
		store:    &fakeStore{streams: map[uuid.UUID]*models.LiveStream{ls.ID: ls}},
		presence: &fakePresence{stats: presence.Stats{Current: 3, Total: 5, Cached: 3}},
		rankings: &fakeRankings{},
		stream:   ls,
	}
}

func (f *fixture) router(userID uuid.UUID, role string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewHandler(f.store, f.presence, f.rankings, nil)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(middleware.ContextUserID, userID)
		c.Set(middleware.ContextUserRole, role)
		c.Next()
	})
	r.GET("/live/:id", h.Get)
	r.PATCH("/live/:id/status", h.SetStatus)
	return r
}

func patchStatus(r http.Handler, id uuid.UUID, status string) *httptest.ResponseRecorder {
	body, _ := json.Marshal(StatusRequest{Status: status})
	req := httptest.NewRequest(http.MethodPatch, "/live/"+id.String()+"/status", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHandler_Get(t *testing.T) {
	f := newFixture()
	r := f.router(uuid.New(), auth.RoleBuyer)

	req := httptest.NewRequest(http.MethodGet, "/live/"+f.stream.ID.String(), nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var env struct {
		Success bool `json:"success"`
		Data    struct {
			ID      uuid.UUID      `json:"id"`
			Title   string         `json:"title"`
			Viewers presence.Stats `json:"viewers"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.True(t, env.Success)
	assert.Equal(t, f.stream.ID, env.Data.ID)
	assert.Equal(t, "Vintage watches", env.Data.Title)
	assert.Equal(t, 3, env.Data.Viewers.Current)
}

func TestHandler_GetNotFound(t *testing.T) {
	f := newFixture()
	r := f.router(uuid.New(), auth.RoleBuyer)

	req := httptest.NewRequest(http.MethodGet, "/live/"+uuid.NewString(), nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandler_GoLiveRefreshesRanking(t *testing.T) {
	f := newFixture()
	r := f.router(f.stream.SellerID, auth.RoleSeller)

	w := patchStatus(r, f.stream.ID, models.LiveStatusLive)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []uuid.UUID{f.stream.ID}, f.rankings.refreshed)
	assert.Empty(t, f.presence.ends)
}

func TestHandler_EndCleansUp(t *testing.T) {
	f := newFixture()
	f.stream.Status = models.LiveStatusLive
	r := f.router(uuid.New(), auth.RoleAdmin)

	w := patchStatus(r, f.stream.ID, models.LiveStatusEnded)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []uuid.UUID{f.stream.ID}, f.presence.ends)
	assert.Equal(t, []uuid.UUID{f.stream.ID}, f.rankings.removed)
	assert.Equal(t, models.LiveStatusEnded, f.stream.Status)
}

func TestHandler_SetStatusRejects(t *testing.T) {
	f := newFixture()

	w := patchStatus(f.router(uuid.New(), auth.RoleSeller), f.stream.ID, models.LiveStatusLive)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = patchStatus(f.router(f.stream.SellerID, auth.RoleSeller), f.stream.ID, "paused")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	f.stream.Status = models.LiveStatusEnded
	w = patchStatus(f.router(f.stream.SellerID, auth.RoleSeller), f.stream.ID, models.LiveStatusLive)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = patchStatus(f.router(f.stream.SellerID, auth.RoleSeller), uuid.New(), models.LiveStatusLive)
	assert.Equal(t, http.StatusNotFound, w.Code)

	assert.Empty(t, f.rankings.refreshed)
	assert.Empty(t, f.presence.ends)
}
