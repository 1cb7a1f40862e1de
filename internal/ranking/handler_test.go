package ranking

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T, f *serviceFixture) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	h := NewHandler(f.svc, 10, nil)
	r := gin.New()
	r.POST("/rankings/score", h.Score)
	r.POST("/rankings/leaderboard", h.Leaderboard)
	r.GET("/rankings/:type/top", h.Top)
	r.POST("/rankings/:type/:id/refresh", h.Refresh)
	return r
}

func doJSON(r http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

type resultEnvelope struct {
	Success bool   `json:"success"`
	Data    Result `json:"data"`
	Error   string `json:"error"`
}

func TestHandler_Score(t *testing.T) {
	r := newTestRouter(t, newServiceFixture(t))
	body := map[string]interface{}{
		"type": "live_stream",
		"content": map[string]interface{}{
			"viewer_count": 100, "likes": 50, "comments": 10, "shares": 5,
			"created_at": testNow,
		},
	}

	w := doJSON(r, http.MethodPost, "/rankings/score", body)

	require.Equal(t, http.StatusOK, w.Code)
	var env resultEnvelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.True(t, env.Success)
	assert.Equal(t, 1155, env.Data.FinalScore)
	assert.Equal(t, TypeLiveStream, env.Data.Type)
}

func TestHandler_ScoreRejectsMissingType(t *testing.T) {
	r := newTestRouter(t, newServiceFixture(t))

	w := doJSON(r, http.MethodPost, "/rankings/score", map[string]interface{}{"content": map[string]int{"likes": 1}})

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_Leaderboard(t *testing.T) {
	r := newTestRouter(t, newServiceFixture(t))
	body := LeaderboardRequest{Items: []Item{
		{ID: "post", Type: TypePost, Content: Content{CreatedAt: testNow}},
		{ID: "live", Type: TypeLiveStream, Content: Content{CreatedAt: testNow}},
	}}

	w := doJSON(r, http.MethodPost, "/rankings/leaderboard", body)

	require.Equal(t, http.StatusOK, w.Code)
	var env struct {
		Data []Ranked `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	require.Len(t, env.Data, 2)
	assert.Equal(t, "live", env.Data[0].ID)
}

func TestHandler_RefreshAndTop(t *testing.T) {
	f := newServiceFixture(t)
	r := newTestRouter(t, f)
	id := uuid.New()
	f.source.content[id] = Content{ViewerCount: 3, CreatedAt: testNow}

	w := doJSON(r, http.MethodPost, "/rankings/live_stream/"+id.String()+"/refresh", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(r, http.MethodGet, "/rankings/live_stream/top?limit=5", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var env struct {
		Data struct {
			Entries []Entry `json:"entries"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.Equal(t, []Entry{{ID: id.String(), Score: 530}}, env.Data.Entries)
}

func TestHandler_RefreshNotFound(t *testing.T) {
	r := newTestRouter(t, newServiceFixture(t))

	w := doJSON(r, http.MethodPost, "/rankings/live_stream/"+uuid.NewString()+"/refresh", nil)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandler_RefreshEndedStream(t *testing.T) {
	f := newServiceFixture(t)
	r := newTestRouter(t, f)
	f.source.loadErr = ErrInactive

	w := doJSON(r, http.MethodPost, "/rankings/live_stream/"+uuid.NewString()+"/refresh", nil)

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestHandler_BadParams(t *testing.T) {
	r := newTestRouter(t, newServiceFixture(t))

	assert.Equal(t, http.StatusBadRequest, doJSON(r, http.MethodGet, "/rankings/story/top", nil).Code)
	assert.Equal(t, http.StatusBadRequest, doJSON(r, http.MethodGet, "/rankings/post/top?limit=-1", nil).Code)
	assert.Equal(t, http.StatusBadRequest, doJSON(r, http.MethodPost, "/rankings/post/not-a-uuid/refresh", nil).Code)
}
