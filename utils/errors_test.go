package utils

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRespondWithError(t *testing.T) {
	gin.SetMode(gin.TestMode)

	var reached bool
	r := gin.New()
	r.Use(func(c *gin.Context) { c.Set("request_id", "req-7") })
	r.GET("/missing", func(c *gin.Context) { RespondWithNotFound(c, "Chatbot not found") }, func(c *gin.Context) { reached = true })
	r.GET("/limited", func(c *gin.Context) {
		RespondWithError(c, http.StatusTooManyRequests, "rate_limit_exceeded", "slow down", gin.H{"limit": 2})
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/missing", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.False(t, reached)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, ErrorResponse{ErrorCode: "not_found", Message: "Chatbot not found", RequestID: "req-7"}, resp)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/limited", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.JSONEq(t, `{"error_code":"rate_limit_exceeded","message":"slow down","details":{"limit":2},"request_id":"req-7"}`, w.Body.String())
}
