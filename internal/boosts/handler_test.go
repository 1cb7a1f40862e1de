package boosts

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
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bidli/backend/internal/auth"
	"github.com/bidli/backend/internal/middleware"
	"github.com/bidli/backend/internal/models"
	"github.com/bidli/backend/internal/ranking"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeStore struct {
	campaigns map[uuid.UUID]*models.BoostCampaign
	owners    map[uuid.UUID]uuid.UUID
}

func newFakeStore() *fakeStore {
	return &fakeStore{campaigns: map[uuid.UUID]*models.BoostCampaign{}, owners: map[uuid.UUID]uuid.UUID{}}
}

func (s *fakeStore) GetByID(_ context.Context, id uuid.UUID) (*models.BoostCampaign, error) {
	b, ok := s.campaigns[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (s *fakeStore) ContentOwner(_ context.Context, _ ranking.ContentType, id uuid.UUID) (uuid.UUID, error) {
	owner, ok := s.owners[id]
	if !ok {
		return uuid.Nil, models.ErrNotFound
	}
	return owner, nil
}

func (s *fakeStore) Create(_ context.Context, b *models.BoostCampaign) (*models.BoostCampaign, error) {
	cp := *b
	cp.ID = uuid.New()
	cp.Status = models.BoostStatusActive
	cp.CreatedAt = testNow
	s.campaigns[cp.ID] = &cp
	return &cp, nil
}

func (s *fakeStore) SetStatus(_ context.Context, id uuid.UUID, status string) (*models.BoostCampaign, error) {
	b, ok := s.campaigns[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	b.Status = status
	cp := *b
	return &cp, nil
}

type fakeRefresher struct {
	ids []uuid.UUID
}

func (r *fakeRefresher) Refresh(_ context.Context, _ ranking.ContentType, id uuid.UUID) (ranking.Result, error) {
	r.ids = append(r.ids, id)
	return ranking.Result{}, nil
}

func newRouter(store *fakeStore, refresher *fakeRefresher, user uuid.UUID) *gin.Engine {
	return newRouterAs(store, refresher, user, auth.RoleSeller)
}

func newRouterAs(store *fakeStore, refresher *fakeRefresher, user uuid.UUID, role string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewHandler(store, refresher, clockwork.NewFakeClockAt(testNow), nil)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(middleware.ContextUserID, user)
		c.Set(middleware.ContextUserRole, role)
		c.Next()
	})
	r.POST("/boosts", h.Create)
	r.PATCH("/boosts/:id/status", h.SetStatus)
	return r
}

func send(r http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	buf, _ := json.Marshal(body)
	req := httptest.NewRequest(method, path, bytes.NewReader(buf))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHandler_Create(t *testing.T) {
	store := newFakeStore()
	refresher := &fakeRefresher{}
	user := uuid.New()
	contentID := uuid.New()
	store.owners[contentID] = user
	r := newRouter(store, refresher, user)

	w := send(r, http.MethodPost, "/boosts", CreateRequest{
		ContentType:     "post",
		ContentID:       contentID,
		BoostMultiplier: 2.5,
		ExpiresAt:       testNow.Add(24 * time.Hour),
	})

	require.Equal(t, http.StatusCreated, w.Code)
	var env struct {
		Data models.BoostCampaign `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.Equal(t, contentID, env.Data.ContentID)
	assert.Equal(t, user, env.Data.CreatedBy)
	assert.Equal(t, models.BoostStatusActive, env.Data.Status)
	assert.Equal(t, []uuid.UUID{contentID}, refresher.ids)
}

func TestHandler_CreateValidation(t *testing.T) {
	valid := CreateRequest{ContentType: "live_stream", ContentID: uuid.New(), BoostMultiplier: 2, ExpiresAt: testNow.Add(time.Hour)}
	tests := []struct {
		name   string
		mutate func(*CreateRequest)
	}{
		{"unknown type", func(r *CreateRequest) { r.ContentType = "story" }},
		{"negative multiplier", func(r *CreateRequest) { r.BoostMultiplier = -1 }},
		{"multiplier over cap", func(r *CreateRequest) { r.BoostMultiplier = 10.5 }},
		{"already expired", func(r *CreateRequest) { r.ExpiresAt = testNow.Add(-time.Minute) }},
		{"missing content", func(r *CreateRequest) { r.ContentID = uuid.Nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore()
			r := newRouter(store, &fakeRefresher{}, uuid.New())
			req := valid
			tt.mutate(&req)

			w := send(r, http.MethodPost, "/boosts", req)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Empty(t, store.campaigns)
		})
	}
}

func TestHandler_CreateAtCap(t *testing.T) {
	store := newFakeStore()
	user, contentID := uuid.New(), uuid.New()
	store.owners[contentID] = user
	r := newRouter(store, &fakeRefresher{}, user)

	w := send(r, http.MethodPost, "/boosts", CreateRequest{
		ContentType: "profile", ContentID: contentID, BoostMultiplier: ranking.MaxBoostMultiplier, ExpiresAt: testNow.Add(time.Hour),
	})
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestHandler_SetStatus(t *testing.T) {
	id := uuid.New()
	contentID := uuid.New()
	creator := uuid.New()
	store := newFakeStore()
	store.campaigns[id] = &models.BoostCampaign{
		ID: id, ContentType: "post", ContentID: contentID, BoostMultiplier: 3, Status: models.BoostStatusActive, ExpiresAt: testNow.Add(time.Hour), CreatedBy: creator,
	}
	refresher := &fakeRefresher{}
	r := newRouter(store, refresher, creator)

	w := send(r, http.MethodPatch, "/boosts/"+id.String()+"/status", StatusRequest{Status: models.BoostStatusPaused})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.BoostStatusPaused, store.campaigns[id].Status)
	assert.Equal(t, []uuid.UUID{contentID}, refresher.ids)

	w = send(r, http.MethodPatch, "/boosts/"+id.String()+"/status", StatusRequest{Status: "expired"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = send(r, http.MethodPatch, "/boosts/"+uuid.NewString()+"/status", StatusRequest{Status: models.BoostStatusCancelled})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandler_CreateRequiresOwnership(t *testing.T) {
	store := newFakeStore()
	owner, other := uuid.New(), uuid.New()
	contentID := uuid.New()
	store.owners[contentID] = owner
	req := CreateRequest{ContentType: "live_stream", ContentID: contentID, BoostMultiplier: 2, ExpiresAt: testNow.Add(time.Hour)}

	w := send(newRouter(store, &fakeRefresher{}, other), http.MethodPost, "/boosts", req)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Empty(t, store.campaigns)

	w = send(newRouterAs(store, &fakeRefresher{}, other, auth.RoleAdmin), http.MethodPost, "/boosts", req)
	assert.Equal(t, http.StatusCreated, w.Code)

	req.ContentID = uuid.New()
	w = send(newRouter(store, &fakeRefresher{}, owner), http.MethodPost, "/boosts", req)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Len(t, store.campaigns, 1)
}

func TestHandler_SetStatusRequiresCreator(t *testing.T) {
	id := uuid.New()
	store := newFakeStore()
	store.campaigns[id] = &models.BoostCampaign{
		ID: id, ContentType: "post", ContentID: uuid.New(), Status: models.BoostStatusActive, CreatedBy: uuid.New(),
	}
	body := StatusRequest{Status: models.BoostStatusCancelled}

	w := send(newRouter(store, &fakeRefresher{}, uuid.New()), http.MethodPatch, "/boosts/"+id.String()+"/status", body)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, models.BoostStatusActive, store.campaigns[id].Status)

	w = send(newRouterAs(store, &fakeRefresher{}, uuid.New(), auth.RoleAdmin), http.MethodPatch, "/boosts/"+id.String()+"/status", body)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.BoostStatusCancelled, store.campaigns[id].Status)
}
