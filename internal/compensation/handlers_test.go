package compensation

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ksred/klear-compensation/internal/netting"
	"github.com/ksred/klear-compensation/pkg/response"
)

func setupRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	handlers := NewGinHandlers(setupService(t, triangle()))
	router := gin.New()
	router.POST("/optimizations/evaluate", handlers.EvaluateHandler())
	router.POST("/optimizations", handlers.CreateRunHandler())
	router.GET("/optimizations/:run_id", handlers.GetRunHandler())
	router.GET("/matches/:match_id", handlers.GetMatchHandler())
	router.POST("/matches/:match_id/execute", handlers.ExecuteMatchHandler())
	router.PATCH("/matches/:match_id/steps/:order", handlers.UpdateStepHandler())
	return router
}

func doRequest(router *gin.Engine, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

type envelope[T any] struct {
	Success bool            `json:"success"`
	Data    T               `json:"data"`
	Error   *response.Error `json:"error"`
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) envelope[T] {
	t.Helper()
	var env envelope[T]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env
}

func TestEvaluateHandler(t *testing.T) {
	router := setupRouter(t)

	t.Run("Triangle", func(t *testing.T) {
		w := doRequest(router, http.MethodPost, "/optimizations/evaluate", gin.H{"participants": triangle()}, nil)
		require.Equal(t, http.StatusCreated, w.Code)

		env := decode[netting.Result](t, w)
		assert.True(t, env.Success)
		require.Len(t, env.Data.Matches, 1)
	})

	t.Run("PartialConfigurationKeepsDefaults", func(t *testing.T) {
		body := gin.H{
			"participants":  triangle(),
			"configuration": gin.H{"constraints": gin.H{"min_value": 10000000}},
		}
		w := doRequest(router, http.MethodPost, "/optimizations/evaluate", body, nil)
		require.Equal(t, http.StatusCreated, w.Code)

		env := decode[netting.Result](t, w)
		assert.Empty(t, env.Data.Matches)
		assert.Contains(t, env.Data.Recommendations, netting.RecommendRelaxMinimum)
	})

	t.Run("InvalidConfiguration", func(t *testing.T) {
		body := gin.H{
			"participants":  triangle(),
			"configuration": gin.H{"objectives": gin.H{"economy": 3}, "constraints": gin.H{"max_risk": "EXTREME"}},
		}
		w := doRequest(router, http.MethodPost, "/optimizations/evaluate", body, nil)
		require.Equal(t, http.StatusBadRequest, w.Code)

		env := decode[json.RawMessage](t, w)
		require.NotNil(t, env.Error)
		assert.Equal(t, response.ErrCodeValidationFailed, env.Error.Code)
		assert.NotNil(t, env.Error.Details)
	})

	t.Run("NoParticipants", func(t *testing.T) {
		w := doRequest(router, http.MethodPost, "/optimizations/evaluate", gin.H{"participants": []string{}}, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestRunLifecycleHandlers(t *testing.T) {
	router := setupRouter(t)

	w := doRequest(router, http.MethodPost, "/optimizations", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code, "idempotency key is required")

	w = doRequest(router, http.MethodPost, "/optimizations", gin.H{}, map[string]string{"Idempotency-Key": "abc"})
	require.Equal(t, http.StatusCreated, w.Code)
	run := decode[RunResponse](t, w).Data
	require.Len(t, run.Matches, 1)
	matchID := run.Matches[0].MatchID

	w = doRequest(router, http.MethodGet, "/optimizations/"+run.RunID, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, run.RunID, decode[RunResponse](t, w).Data.RunID)

	w = doRequest(router, http.MethodGet, "/optimizations/RUN_missing", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doRequest(router, http.MethodGet, "/matches/"+matchID, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, MatchProposed, decode[MatchResponse](t, w).Data.Status)

	w = doRequest(router, http.MethodPost, "/matches/"+matchID+"/execute", nil, nil)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, MatchExecuting, decode[MatchResponse](t, w).Data.Status)

	w = doRequest(router, http.MethodPost, "/matches/"+matchID+"/execute", nil, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doRequest(router, http.MethodPatch, "/matches/"+matchID+"/steps/one", gin.H{"status": "COMPLETED"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(router, http.MethodPatch, "/matches/"+matchID+"/steps/3", gin.H{"status": "COMPLETED"}, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doRequest(router, http.MethodPatch, "/matches/"+matchID+"/steps/1", gin.H{"status": "COMPLETED"}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	match := decode[MatchResponse](t, w).Data
	assert.Equal(t, "COMPLETED", string(match.Match.Schedule[0].Status))
	assert.Equal(t, "IN_PROGRESS", string(match.Match.Schedule[1].Status))
}
