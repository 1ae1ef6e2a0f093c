package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mapmarket/backend/internal/auth"
	"github.com/mapmarket/backend/internal/models"
)

func init() { gin.SetMode(gin.TestMode) }

func serve(r *gin.Engine, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestJWTAndActor(t *testing.T) {
	jwtSvc := auth.NewJWTService("test-secret", 1)
	userID := uuid.New()
	userToken, err := jwtSvc.Generate(userID, "u@example.com", string(models.RoleUser))
	require.NoError(t, err)
	adminToken, err := jwtSvc.Generate(uuid.New(), "a@example.com", string(models.RoleAdmin))
	require.NoError(t, err)

	r := gin.New()
	r.GET("/private", JWT(jwtSvc), func(c *gin.Context) {
		actor := ActorFrom(c)
		c.JSON(http.StatusOK, gin.H{"id": actor.UserID.String(), "admin": actor.IsAdmin})
	})
	r.GET("/admin", JWT(jwtSvc), RequireAdmin(), func(c *gin.Context) { c.Status(http.StatusOK) })

	assert.Equal(t, http.StatusUnauthorized, serve(r, http.MethodGet, "/private", "").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(r, http.MethodGet, "/private", "garbage").Code)

	w := serve(r, http.MethodGet, "/private", userToken)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"id":"`+userID.String()+`","admin":false}`, w.Body.String())

	assert.Equal(t, http.StatusForbidden, serve(r, http.MethodGet, "/admin", userToken).Code)
	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/admin", adminToken).Code)
}

func TestOptionalJWT(t *testing.T) {
	jwtSvc := auth.NewJWTService("test-secret", 1)
	token, err := jwtSvc.Generate(uuid.New(), "u@example.com", string(models.RoleUser))
	require.NoError(t, err)

	r := gin.New()
	r.GET("/public", OptionalJWT(jwtSvc), func(c *gin.Context) {
		_, ok := OptionalActor(c)
		c.JSON(http.StatusOK, gin.H{"authenticated": ok})
	})

	assert.JSONEq(t, `{"authenticated":false}`, serve(r, http.MethodGet, "/public", "").Body.String())
	assert.JSONEq(t, `{"authenticated":false}`, serve(r, http.MethodGet, "/public", "bad").Body.String())
	assert.JSONEq(t, `{"authenticated":true}`, serve(r, http.MethodGet, "/public", token).Body.String())
}

func TestRateLimit(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	r := gin.New()
	r.POST("/ads/:id/view", RateLimit(rdb, 2, time.Hour, nil), func(c *gin.Context) { c.Status(http.StatusAccepted) })

	assert.Equal(t, http.StatusAccepted, serve(r, http.MethodPost, "/ads/1/view", "").Code)
	assert.Equal(t, http.StatusAccepted, serve(r, http.MethodPost, "/ads/2/view", "").Code)
	w := serve(r, http.MethodPost, "/ads/3/view", "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
}

func TestRateLimitFailsOpen(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	mr.Close()

	r := gin.New()
	r.GET("/x", RateLimit(rdb, 1, time.Minute, nil), func(c *gin.Context) { c.Status(http.StatusOK) })
	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/x", "").Code)
	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/x", "").Code)
}

func TestRateLimitNonPositiveWindowDisabled(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/zero", RateLimit(rdb, 1, 0, nil), func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/negative", RateLimit(rdb, 1, -time.Second, nil), func(c *gin.Context) { c.Status(http.StatusOK) })
	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/zero", "").Code)
		assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/negative", "").Code)
	}
	assert.Empty(t, mr.Keys())
}

func TestRateLimitKeysOnPeerWithoutTrustedProxies(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	r := gin.New()
	require.NoError(t, r.SetTrustedProxies(nil))
	r.POST("/ads/:id/view", RateLimit(rdb, 1, time.Hour, nil), func(c *gin.Context) { c.Status(http.StatusAccepted) })

	codes := []int{}
	for _, forwarded := range []string{"198.51.100.1", "198.51.100.2"} {
		req := httptest.NewRequest(http.MethodPost, "/ads/1/view", nil)
		req.RemoteAddr = "203.0.113.9:5555"
		req.Header.Set("X-Forwarded-For", forwarded)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{http.StatusAccepted, http.StatusTooManyRequests}, codes)
}

func TestCORS(t *testing.T) {
	r := gin.New()
	r.Use(CORS("http://localhost:3000"))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/x", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Origin", "http://evil.example")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}
