package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suPer8Hu/ai-interview/internal/auth"
	"go.uber.org/zap"
)

func newEngine(optional bool) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID(), Recovery(zap.NewNop()))
	r.GET("/who", AuthRequired("secret", optional), func(c *gin.Context) {
		id, ok := auth.FromContext(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{"ok": ok, "user": id.UserID, "key": c.GetString(UserIDKey)})
	})
	r.GET("/panic", func(c *gin.Context) { panic("boom") })
	return r
}

func get(r http.Handler, path, bearer string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthRequired(t *testing.T) {
	tok, err := auth.SignJWT(auth.Identity{UserID: "user_1", Name: "Ada"}, "secret", time.Hour)
	require.NoError(t, err)

	strict := newEngine(false)
	w := get(strict, "/who", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = get(strict, "/who", tok)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"ok":true,"user":"user_1","key":"user_1"}`, w.Body.String())

	optional := newEngine(true)
	w = get(optional, "/who", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"ok":false,"user":"","key":""}`, w.Body.String())

	w = get(optional, "/who", "garbage")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	other, err := auth.SignJWT(auth.Identity{UserID: "user_1"}, "other-secret", time.Hour)
	require.NoError(t, err)
	w = get(optional, "/who", other)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRecoveryAndRequestID(t *testing.T) {
	r := newEngine(false)

	w := get(r, "/panic", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"code":50000,"message":"something went wrong","data":null}`, w.Body.String())
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/panic", nil)
	req.Header.Set(RequestIDHeader, "req-123")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "req-123", w.Header().Get(RequestIDHeader))
}
