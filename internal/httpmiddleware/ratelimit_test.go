package httpmiddleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestTokenBucket_AllowAndRefill(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	l := NewTokenBucket(2, 60, WithLimiterClock(func() time.Time { return now }))

	assert.True(t, l.Allow("a"))
	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))
	assert.True(t, l.Allow("b"), "keys are independent")

	now = now.Add(time.Second)
	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))

	now = now.Add(time.Hour)
	assert.True(t, l.Allow("a"))
	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"), "refill is capped at capacity")
}

func TestGinMiddleware_PerBatchKey(t *testing.T) {
	gin.SetMode(gin.TestMode)
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	l := NewTokenBucket(1, 1, WithKey(ClientBatch), WithLimiterClock(func() time.Time { return now }))

	r := gin.New()
	r.POST("/v1/batches/:batch/scans", l.GinMiddleware(), func(c *gin.Context) {
		c.Status(http.StatusAccepted)
	})

	do := func(batch string) int {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/v1/batches/"+batch+"/scans", nil)
		req.RemoteAddr = "10.0.0.7:5000"
		r.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusAccepted, do("B1"))
	assert.Equal(t, http.StatusTooManyRequests, do("B1"))
	assert.Equal(t, http.StatusAccepted, do("B2"))
}
