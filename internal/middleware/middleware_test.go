package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/iliyamo/concert-booking/internal/config"
	"github.com/iliyamo/concert-booking/internal/utils"
)

const testSecret = "middleware-test-secret"

func whoAmI(c echo.Context) error {
	id, ok := UserID(c)
	if !ok {
		return c.String(http.StatusOK, "nobody")
	}
	role, _ := c.Get(ContextRole).(string)
	return c.JSON(http.StatusOK, echo.Map{"id": id, "role": role})
}

func serve(e *echo.Echo, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func token(t *testing.T, userID uint64, role string) string {
	t.Helper()
	tok, err := utils.NewAccessToken(testSecret, userID, role, time.Hour)
	require.NoError(t, err)
	return tok.Token
}

func TestJWTAuth(t *testing.T) {
	e := echo.New()
	e.GET("/me", whoAmI, JWTAuth(testSecret))

	t.Run("bearer header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token(t, 7, RoleCustomer))
		rec := serve(e, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"id":7,"role":"CUSTOMER"}`, rec.Body.String())
	})

	t.Run("cookie", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.AddCookie(&http.Cookie{Name: AuthCookie, Value: token(t, 8, RolePublisher)})
		rec := serve(e, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"id":8,"role":"PUBLISHER"}`, rec.Body.String())
	})

	t.Run("missing", func(t *testing.T) {
		rec := serve(e, httptest.NewRequest(http.MethodGet, "/me", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Body.String(), "UNAUTHENTICATED")
	})

	t.Run("wrong secret", func(t *testing.T) {
		tok, err := utils.NewAccessToken("other", 7, RoleCustomer, time.Hour)
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+tok.Token)
		assert.Equal(t, http.StatusUnauthorized, serve(e, req).Code)
	})

	t.Run("expired", func(t *testing.T) {
		tok, err := utils.NewAccessToken(testSecret, 7, RoleCustomer, -time.Minute)
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+tok.Token)
		assert.Equal(t, http.StatusUnauthorized, serve(e, req).Code)
	})

	t.Run("no subject", func(t *testing.T) {
		raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"role": RoleCustomer,
			"exp":  time.Now().Add(time.Hour).Unix(),
		}).SignedString([]byte(testSecret))
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+raw)
		assert.Equal(t, http.StatusUnauthorized, serve(e, req).Code)
	})

	t.Run("other algorithm", func(t *testing.T) {
		raw, err := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.MapClaims{
			"sub": 7,
			"exp": time.Now().Add(time.Hour).Unix(),
		}).SignedString([]byte(testSecret))
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+raw)
		assert.Equal(t, http.StatusUnauthorized, serve(e, req).Code)
	})
}

func TestRequireRole(t *testing.T) {
	e := echo.New()
	e.POST("/news", whoAmI, JWTAuth(testSecret), RequireRole(RolePublisher))

	req := httptest.NewRequest(http.MethodPost, "/news", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+token(t, 3, RoleCustomer))
	rec := serve(e, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/news", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+token(t, 3, RolePublisher))
	assert.Equal(t, http.StatusOK, serve(e, req).Code)
}

func TestRequestID(t *testing.T) {
	e := echo.New()
	e.Use(RequestID())
	e.GET("/id", func(c echo.Context) error { return c.String(http.StatusOK, GetRequestID(c)) })

	rec := serve(e, httptest.NewRequest(http.MethodGet, "/id", nil))
	assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))
	assert.Equal(t, rec.Header().Get(echo.HeaderXRequestID), rec.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/id", nil)
	req.Header.Set(echo.HeaderXRequestID, "abc-123")
	assert.Equal(t, "abc-123", serve(e, req).Body.String())
}

func TestRequestLogger_PassesErrorsToHandler(t *testing.T) {
	e := echo.New()
	e.Use(RequestLogger(zap.NewNop()))
	e.GET("/boom", func(echo.Context) error { return echo.NewHTTPError(http.StatusTeapot, "short and stout") })

	rec := serve(e, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Contains(t, rec.Body.String(), "short and stout")
}

func TestBuildRateKey(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/v1/reservations", nil)
	req.Header.Set(echo.HeaderXRealIP, "10.0.0.1")
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetPath("/v1/reservations")

	cfg := config.RateLimitConfig{Prefix: "rl", KeyStrategy: "user_route"}
	assert.Equal(t, "rl:user:anon:route:POST /v1/reservations", buildRateKey(cfg, c))

	c.Set(ContextUserID, uint64(12))
	assert.Equal(t, "rl:user:12:route:POST /v1/reservations", buildRateKey(cfg, c))

	cfg.KeyStrategy = "ip"
	assert.Equal(t, "rl:ip:10.0.0.1", buildRateKey(cfg, c))
}

func TestNewTokenBucket_DisabledOrRedisDown(t *testing.T) {
	ok := func(c echo.Context) error { return c.NoContent(http.StatusNoContent) }

	e := echo.New()
	e.GET("/off", ok, NewTokenBucket(config.RateLimitConfig{Enabled: false}, nil, nil))
	assert.Equal(t, http.StatusNoContent, serve(e, httptest.NewRequest(http.MethodGet, "/off", nil)).Code)

	down := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	defer down.Close()
	cfg := config.RateLimitConfig{Enabled: true, Capacity: 1, RefillTokens: 1, RefillInterval: time.Second, TTL: time.Minute, Prefix: "rl"}
	e.GET("/down", ok, NewTokenBucket(cfg, down, nil))
	assert.Equal(t, http.StatusNoContent, serve(e, httptest.NewRequest(http.MethodGet, "/down", nil)).Code)
}

func TestPayloadRoundTrip(t *testing.T) {
	hdr := http.Header{"Content-Type": {"application/json"}}
	bs, err := encodePayload(http.StatusOK, hdr, []byte(`{"a":1}`))
	require.NoError(t, err)

	status, got, body, ok := decodePayload(bs)
	require.True(t, ok)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, hdr, got)
	assert.Equal(t, `{"a":1}`, string(body))

	_, _, _, ok = decodePayload(bs[:6])
	assert.False(t, ok)
}

func TestNewRedisCache_Hit(t *testing.T) {
	db, mock := redismock.NewClientMock()
	cfg := config.CacheConfig{Enabled: true, Methods: map[string]bool{"GET": true}, TTL: time.Minute, KeyStrategy: "route", Prefix: "cache"}

	e := echo.New()
	calls := 0
	e.GET("/v1/venue/layout", func(c echo.Context) error {
		calls++
		return c.JSON(http.StatusOK, echo.Map{"fresh": true})
	}, NewRedisCache(cfg, db, nil))

	probe := e.NewContext(httptest.NewRequest(http.MethodGet, "/v1/venue/layout", nil), httptest.NewRecorder())
	probe.SetPath("/v1/venue/layout")
	key := cacheKeyFrom(cfg, probe)

	payload, err := encodePayload(http.StatusOK, http.Header{"Content-Type": {"application/json"}}, []byte(`{"cached":true}`))
	require.NoError(t, err)
	mock.ExpectGet(key).SetVal(string(payload))

	rec := serve(e, httptest.NewRequest(http.MethodGet, "/v1/venue/layout", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "HIT", rec.Header().Get("X-Cache"))
	assert.JSONEq(t, `{"cached":true}`, rec.Body.String())
	assert.Zero(t, calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNewRedisCache_MissCallsHandler(t *testing.T) {
	db, mock := redismock.NewClientMock()
	cfg := config.CacheConfig{Enabled: true, Methods: map[string]bool{"GET": true}, TTL: time.Minute, KeyStrategy: "route", Prefix: "cache"}

	e := echo.New()
	e.GET("/v1/venue/layout", func(c echo.Context) error {
		return c.JSON(http.StatusOK, echo.Map{"fresh": true})
	}, NewRedisCache(cfg, db, nil))

	probe := e.NewContext(httptest.NewRequest(http.MethodGet, "/v1/venue/layout", nil), httptest.NewRecorder())
	probe.SetPath("/v1/venue/layout")
	mock.ExpectGet(cacheKeyFrom(cfg, probe)).RedisNil()

	rec := serve(e, httptest.NewRequest(http.MethodGet, "/v1/venue/layout", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "MISS", rec.Header().Get("X-Cache"))
	assert.JSONEq(t, `{"fresh":true}`, rec.Body.String())
}
