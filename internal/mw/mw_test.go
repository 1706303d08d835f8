package mw

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

const secret = "test-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

func do(r http.Handler, method, path string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func bearer(token string) http.Header {
	return http.Header{"Authorization": []string{"Bearer " + token}}
}

func TestJWTAuth(t *testing.T) {
	r := gin.New()
	r.GET("/me", JWTAuth(secret), func(c *gin.Context) {
		id, ok := UserID(c)
		require.True(t, ok)
		c.JSON(http.StatusOK, gin.H{"user_id": id})
	})

	valid, err := GenerateJWT(secret, 42, time.Hour)
	require.NoError(t, err)
	expired, err := GenerateJWT(secret, 42, -time.Hour)
	require.NoError(t, err)
	otherKey, err := GenerateJWT("another-secret", 42, time.Hour)
	require.NoError(t, err)
	noUser, err := GenerateJWT(secret, 0, time.Hour)
	require.NoError(t, err)
	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UserID: 42}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	w := do(r, http.MethodGet, "/me", bearer(valid))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"user_id":42}`, w.Body.String())

	for name, header := range map[string]http.Header{
		"missing header": nil,
		"not bearer":     {"Authorization": []string{"Basic abc"}},
		"expired":        bearer(expired),
		"wrong key":      bearer(otherKey),
		"no user":        bearer(noUser),
		"alg none":       bearer(none),
	} {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodGet, "/me", header).Code)
		})
	}
}

func TestInternalToken(t *testing.T) {
	handler := func(c *gin.Context) { c.Status(http.StatusNoContent) }

	r := gin.New()
	r.POST("/send", InternalToken("s3cret"), handler)
	assert.Equal(t, http.StatusNoContent, do(r, http.MethodPost, "/send", bearer("s3cret")).Code)
	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodPost, "/send", bearer("guess")).Code)
	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodPost, "/send", nil).Code)

	disabled := gin.New()
	disabled.POST("/send", InternalToken(""), handler)
	assert.Equal(t, http.StatusServiceUnavailable, do(disabled, http.MethodPost, "/send", bearer("")).Code)
}

func TestRateLimiter(t *testing.T) {
	r := gin.New()
	r.Use(RateLimiter(rate.Limit(1), 2))
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/ping", nil).Code)
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/ping", nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, do(r, http.MethodGet, "/ping", nil).Code)
}

func TestRateLimiter_PerUser(t *testing.T) {
	r := gin.New()
	r.GET("/me", JWTAuth(secret), RateLimiter(rate.Limit(1), 1), func(c *gin.Context) { c.Status(http.StatusOK) })

	alice, err := GenerateJWT(secret, 1, time.Hour)
	require.NoError(t, err)
	bob, err := GenerateJWT(secret, 2, time.Hour)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/me", bearer(alice)).Code)
	assert.Equal(t, http.StatusTooManyRequests, do(r, http.MethodGet, "/me", bearer(alice)).Code)
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/me", bearer(bob)).Code, "same IP, different user")
}

func TestKeyedRateLimiter_ReusesLimiter(t *testing.T) {
	k := NewKeyedRateLimiter(rate.Limit(5), 1, time.Minute)
	assert.Same(t, k.GetLimiter("ip:10.0.0.1"), k.GetLimiter("ip:10.0.0.1"))
	assert.NotSame(t, k.GetLimiter("ip:10.0.0.1"), k.GetLimiter("ip:10.0.0.2"))
}

func TestCache(t *testing.T) {
	var hits int32
	r := gin.New()
	r.GET("/key", Cache(cache.New(time.Minute, time.Minute), time.Minute), func(c *gin.Context) {
		atomic.AddInt32(&hits, 1)
		c.JSON(http.StatusOK, gin.H{"publicKey": "BPk"})
	})

	first := do(r, http.MethodGet, "/key", nil)
	second := do(r, http.MethodGet, "/key", nil)

	assert.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, "MISS", first.Header().Get("X-Cache"))
	assert.Equal(t, "HIT", second.Header().Get("X-Cache"))
	assert.Equal(t, "application/json; charset=utf-8", second.Header().Get("Content-Type"))
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))

	do(r, http.MethodGet, "/key", bearer("anything"))
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits), "authenticated requests bypass the cache")
}

func TestCache_SkipsErrors(t *testing.T) {
	var hits int32
	r := gin.New()
	r.GET("/key", Cache(cache.New(time.Minute, time.Minute), time.Minute), func(c *gin.Context) {
		atomic.AddInt32(&hits, 1)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "unavailable"})
	})

	do(r, http.MethodGet, "/key", nil)
	do(r, http.MethodGet, "/key", nil)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestRecoveryAndRequestLogger(t *testing.T) {
	r := gin.New()
	r.Use(RequestLogger(zerolog.Nop()), Recovery(zerolog.Nop()))
	r.GET("/panic", func(c *gin.Context) { panic("handler bug") })
	r.GET("/ok", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := do(r, http.MethodGet, "/panic", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"internal server error"}`, w.Body.String())
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	w = do(r, http.MethodGet, "/ok", http.Header{"X-Request-Id": []string{"req-123"}})
	assert.Equal(t, "req-123", w.Header().Get("X-Request-ID"))
}
