package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"orianna/internal/engine"
	"orianna/internal/repo"
	"orianna/internal/service"
	"orianna/internal/utils/cache"
	rabbit "orianna/pkg/rabbit/pkg"
)

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	eng := engine.New(repo.NewMemory(), service.NewTemplateProvider(), cache.Dummy{}, &rabbit.Dummy{}, zap.NewNop())
	r := gin.New()
	New(eng, zap.NewNop()).Register(r)
	return r
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, userID string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("x-user-id", userID)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	out := map[string]interface{}{}
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	}
	return w, out
}

func TestStartSessionRequiresUser(t *testing.T) {
	r := newTestRouter(t)
	w, _ := doJSON(t, r, http.MethodPost, "/v1/sessions", "", map[string]interface{}{"kind": "PRACTICE"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestStartSessionValidatesKind(t *testing.T) {
	r := newTestRouter(t)
	w, _ := doJSON(t, r, http.MethodPost, "/v1/sessions", "7", map[string]interface{}{"kind": "GUESSWORK"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = doJSON(t, r, http.MethodPost, "/v1/sessions", "7", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSessionRoundTrip(t *testing.T) {
	r := newTestRouter(t)

	w, resp := doJSON(t, r, http.MethodPost, "/v1/sessions", "7", map[string]interface{}{
		"kind":                  "PRACTICE",
		"targetRole":            "backend engineer",
		"totalPlannedQuestions": 2,
	})
	require.Equal(t, http.StatusCreated, w.Code)
	session := resp["session"].(map[string]interface{})
	sessionID := session["id"].(string)
	require.NotEmpty(t, sessionID)
	assert.Equal(t, "CREATED", session["status"])

	w, resp = doJSON(t, r, http.MethodGet, "/v1/sessions/"+sessionID+"/next", "7", nil)
	require.Equal(t, http.StatusOK, w.Code)
	question := resp["question"].(map[string]interface{})
	assert.Equal(t, float64(0), question["ordinal"])
	assert.NotEmpty(t, question["question"])

	w, resp = doJSON(t, r, http.MethodPost, "/v1/sessions/"+sessionID+"/answers", "7", map[string]interface{}{
		"ordinal":          0,
		"text":             "I would shard the table and cache hot rows in front of it.",
		"timeTakenSeconds": 42,
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, resp["duplicate"])
	progress := resp["progress"].(map[string]interface{})
	assert.Equal(t, float64(1), progress["answeredCount"])

	w, resp = doJSON(t, r, http.MethodGet, fmt.Sprintf("/v1/sessions/%s/progress", sessionID), "7", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, resp["progress"])

	w, resp = doJSON(t, r, http.MethodPost, "/v1/sessions/"+sessionID+"/complete", "7", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "COMPLETED", resp["session"].(map[string]interface{})["status"])

	w, resp = doJSON(t, r, http.MethodPost, "/v1/sessions/"+sessionID+"/feedback", "7", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, resp["summary"])
	assert.Equal(t, "EVALUATED", resp["session"].(map[string]interface{})["status"])

	w, resp = doJSON(t, r, http.MethodGet, "/v1/sessions", "7", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), resp["totalCount"])
}

func TestErrorMapping(t *testing.T) {
	r := newTestRouter(t)

	// Unknown session.
	w, resp := doJSON(t, r, http.MethodGet, "/v1/sessions/nope", "7", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NotFound", resp["code"])

	w, _ = doJSON(t, r, http.MethodPost, "/v1/sessions", "7", map[string]interface{}{
		"kind":                  "PRACTICE",
		"totalPlannedQuestions": 2,
	})
	require.Equal(t, http.StatusCreated, w.Code)
	_, created := doJSON(t, r, http.MethodGet, "/v1/sessions", "7", nil)
	sessions := created["sessions"].([]interface{})
	sessionID := sessions[0].(map[string]interface{})["id"].(string)

	_, _ = doJSON(t, r, http.MethodGet, "/v1/sessions/"+sessionID+"/next", "7", nil)

	// Answering ahead of the cursor. The rejection carries the current
	// session so the client can resynchronize without another request.
	w, resp = doJSON(t, r, http.MethodPost, "/v1/sessions/"+sessionID+"/answers", "7", map[string]interface{}{
		"ordinal": 1,
		"text":    "too early",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "FailedPrecondition", resp["code"])
	snapshot := resp["session"].(map[string]interface{})
	assert.Equal(t, "IN_PROGRESS", snapshot["status"])
	assert.Equal(t, float64(0), snapshot["cursor"])

	// Conflicting resubmission.
	w, _ = doJSON(t, r, http.MethodPost, "/v1/sessions/"+sessionID+"/answers", "7", map[string]interface{}{
		"ordinal": 0,
		"text":    "first answer",
	})
	require.Equal(t, http.StatusOK, w.Code)
	w, resp = doJSON(t, r, http.MethodPost, "/v1/sessions/"+sessionID+"/answers", "7", map[string]interface{}{
		"ordinal": 0,
		"text":    "second answer",
	})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "AlreadyExists", resp["code"])

	// Foreign user sees nothing.
	w, _ = doJSON(t, r, http.MethodGet, "/v1/sessions/"+sessionID, "8", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdminRetryRequiresRole(t *testing.T) {
	r := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/admin/evaluations/retry", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)

	req = httptest.NewRequest(http.MethodPost, "/admin/evaluations/retry", nil)
	req.Header.Set("x-role-id", "admin")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusAccepted, w.Code)
}
