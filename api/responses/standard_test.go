package responses

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(handler gin.HandlerFunc) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(gin.CustomRecovery(Recover))
	router.GET("/thing", handler)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/thing", nil))
	return w
}

func decodeProblem(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestRecoverRendersInternalError(t *testing.T) {
	w := serve(func(*gin.Context) { panic("nil map write") })

	require.Equal(t, http.StatusInternalServerError, w.Code)
	body := decodeProblem(t, w)
	assert.Equal(t, "Internal Server Error", body["title"])
	assert.Equal(t, "/thing", body["instance"])
	assert.NotContains(t, w.Body.String(), "nil map write")
}

func TestNotFound(t *testing.T) {
	w := serve(func(c *gin.Context) { NotFound(c, "order not found") })

	require.Equal(t, http.StatusNotFound, w.Code)
	body := decodeProblem(t, w)
	assert.Equal(t, "order not found", body["detail"])
	assert.NotEmpty(t, body["timestamp"])
}

func TestSuccessFallsBackToDefaultMessage(t *testing.T) {
	w := serve(func(c *gin.Context) { Success(c, gin.H{"n": 1}, "") })

	require.Equal(t, http.StatusOK, w.Code)
	var resp StandardResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "Operation successful", resp.Message)
}
