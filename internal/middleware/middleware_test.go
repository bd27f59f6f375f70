package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/care-portal/internal/config"
	"github.com/iliyamo/care-portal/internal/logging"
	"github.com/iliyamo/care-portal/internal/utils"
)

const secret = "test-secret"

func serve(t *testing.T, e *echo.Echo, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func bearer(t *testing.T, userID, role string) string {
	t.Helper()
	tok, err := utils.NewAccessToken(secret, userID, role, 5, time.Now())
	require.NoError(t, err)
	return "Bearer " + tok.Token
}

func TestJWTAuthAndRequireRole(t *testing.T) {
	e := echo.New()
	g := e.Group("/v1", JWTAuth(secret), RequireRole("ADMIN"))
	g.GET("/whoami", func(c echo.Context) error {
		return c.JSON(http.StatusOK, echo.Map{"id": UserID(c), "role": Role(c)})
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/whoami", nil)
	require.Equal(t, http.StatusUnauthorized, serve(t, e, req).Code)

	req = httptest.NewRequest(http.MethodGet, "/v1/whoami", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	require.Equal(t, http.StatusUnauthorized, serve(t, e, req).Code)

	req = httptest.NewRequest(http.MethodGet, "/v1/whoami", nil)
	req.Header.Set("Authorization", bearer(t, "u-1", "CLIENT"))
	require.Equal(t, http.StatusForbidden, serve(t, e, req).Code)

	req = httptest.NewRequest(http.MethodGet, "/v1/whoami", nil)
	req.Header.Set("Authorization", bearer(t, "u-1", "ADMIN"))
	rec := serve(t, e, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"id":"u-1","role":"ADMIN"}`, rec.Body.String())

	expired, err := utils.NewAccessToken(secret, "u-1", "ADMIN", 1, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/v1/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+expired.Token)
	require.Equal(t, http.StatusUnauthorized, serve(t, e, req).Code)

	other, err := utils.NewAccessToken("other-secret", "u-1", "ADMIN", 5, time.Now())
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/v1/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+other.Token)
	require.Equal(t, http.StatusUnauthorized, serve(t, e, req).Code)
}

func TestClientInfo(t *testing.T) {
	cases := []struct {
		name    string
		headers map[string]string
		ip, ua  string
	}{
		{"forwarded chain", map[string]string{"X-Forwarded-For": " 198.51.100.7 , 10.0.0.1", "User-Agent": "Safari"}, "198.51.100.7", "Safari"},
		{"real ip", map[string]string{"X-Real-IP": "203.0.113.9"}, "203.0.113.9", Unknown},
		{"nothing", nil, Unknown, Unknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Del("User-Agent")
			for k, v := range tc.headers {
				req.Header.Set(k, v)
			}
			ci := ClientInfo(e.NewContext(req, httptest.NewRecorder()))
			require.Equal(t, tc.ip, ci.IP)
			require.Equal(t, tc.ua, ci.UserAgent)
		})
	}
}

func TestRedisBackedMiddlewarePassThroughWithoutRedis(t *testing.T) {
	e := echo.New()
	rc := NewResponseCache(config.CacheConfig{Enabled: true, TTL: time.Minute, Prefix: "c"}, nil, logging.Nop())
	e.Use(NewTokenBucket(config.RateLimitConfig{Enabled: true, Capacity: 1}, nil, logging.Nop()))
	e.GET("/x", func(c echo.Context) error { return c.String(http.StatusOK, "ok") }, rc.Middleware())

	for i := 0; i < 3; i++ {
		rec := serve(t, e, httptest.NewRequest(http.MethodGet, "/x", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		require.Empty(t, rec.Header().Get("X-Cache"))
	}
	rc.Purge(t.Context())
}

func TestPayloadRoundTrip(t *testing.T) {
	hdr := http.Header{"Content-Type": {"application/json"}}
	bs, err := encodePayload(http.StatusOK, hdr, []byte(`{"a":1}`))
	require.NoError(t, err)
	status, got, body, ok := decodePayload(bs)
	require.True(t, ok)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "application/json", got.Get("Content-Type"))
	require.Equal(t, `{"a":1}`, string(body))

	_, _, _, ok = decodePayload(bs[:5])
	require.False(t, ok)
}

func TestRateKey(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/sign/abc", nil)
	req.Header.Set("X-Forwarded-For", "198.51.100.7")
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetPath("/sign/:token")
	require.Equal(t, "rl:ip:198.51.100.7:route:POST /sign/:token", rateKey(config.RateLimitConfig{Prefix: "rl"}, c))
	require.Equal(t, "rl:user:anon", rateKey(config.RateLimitConfig{Prefix: "rl", KeyStrategy: "user"}, c))
}
