package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/eleme-backend/internal/captcha"
	"github.com/yourusername/eleme-backend/internal/config"
	"github.com/yourusername/eleme-backend/internal/kv"
	"github.com/yourusername/eleme-backend/internal/store/storetest"
	"github.com/yourusername/eleme-backend/internal/user"
)

type acceptAllCodes struct{}

func (acceptAllCodes) Verify(ctx context.Context, email, code string) (bool, error) {
	return true, nil
}

func (acceptAllCodes) Consume(ctx context.Context, email, code string) (bool, error) {
	return true, nil
}

type testEnv struct {
	router   *gin.Engine
	manager  *Manager
	kv       *kv.MemoryStore
	captchas *captcha.Service
	cookies  []*http.Cookie
}

func newTestEnv(t *testing.T, opts ...func(*config.Config)) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mem := kv.NewMemoryStore()
	t.Cleanup(func() { mem.Close() })
	cfg := &config.Config{
		JWTSecret:          "test-secret",
		TokenTTL:           time.Hour,
		LoginRatePerSecond: 100,
		LoginRateBurst:     100,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	users := user.NewService(storetest.New(t), acceptAllCodes{})
	captchas := captcha.NewService(mem)
	m := NewManager(cfg, users, captchas, mem)

	r := gin.New()
	r.Use(sessions.Sessions(SessionCookieName, cookie.NewStore([]byte("session-secret"))))
	api := r.Group("/api")
	api.POST("/auth/login", m.RateLimitLogin(), m.Login)
	api.POST("/auth/logout", m.RequireLogin(), m.Logout)
	api.GET("/auth/state", m.State)
	api.POST("/auth/register", m.Register)
	api.GET("/me", m.RequireLogin(), m.Me)

	return &testEnv{router: r, manager: m, kv: mem, captchas: captchas}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, token string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for _, c := range e.cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	if cookies := rec.Result().Cookies(); len(cookies) > 0 {
		e.cookies = cookies
	}
	var out map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &out)
	return rec, out
}

func (e *testEnv) register(t *testing.T) {
	t.Helper()
	rec, _ := e.do(t, http.MethodPost, "/api/auth/register", gin.H{
		"phoneNumber":     "13800138000",
		"password":        "abc123",
		"confirmPassword": "abc123",
		"name":            "张三",
		"email":           "zhangsan@example.com",
		"verifyCode":      "123456",
	}, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestLoginCaptchaGateAndLogout(t *testing.T) {
	env := newTestEnv(t)
	env.register(t)
	wrong := gin.H{"phoneNumber": "13800138000", "password": "wrong99"}

	for i := 1; i <= 3; i++ {
		rec, body := env.do(t, http.MethodPost, "/api/auth/login", wrong, "")
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "INVALID_CREDENTIALS", body["code"])
		assert.EqualValues(t, i, body["loginAttempts"])
		assert.Equal(t, i >= 3, body["showCaptcha"])
	}

	_, state := env.do(t, http.MethodGet, "/api/auth/state", nil, "")
	assert.EqualValues(t, 3, state["loginAttempts"])
	assert.Equal(t, true, state["showCaptcha"])

	right := gin.H{"phoneNumber": "13800138000", "password": "abc123"}
	rec, body := env.do(t, http.MethodPost, "/api/auth/login", right, "")
	assert.Equal(t, http.StatusPreconditionRequired, rec.Code)
	assert.Equal(t, "CAPTCHA_REQUIRED", body["code"])

	issued, err := env.captchas.Create(context.Background(), 4, false)
	require.NoError(t, err)
	rec, body = env.do(t, http.MethodPost, "/api/auth/login", gin.H{
		"phoneNumber": "13800138000", "password": "abc123",
		"captchaId": issued.ID, "captchaValue": "????",
	}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "CAPTCHA_INVALID", body["code"])

	issued, err = env.captchas.Create(context.Background(), 4, false)
	require.NoError(t, err)
	rec, body = env.do(t, http.MethodPost, "/api/auth/login", gin.H{
		"phoneNumber": "13800138000", "password": "abc123",
		"captchaId": issued.ID, "captchaValue": issued.Code,
	}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	token, _ := body["token"].(string)
	require.NotEmpty(t, token)

	_, state = env.do(t, http.MethodGet, "/api/auth/state", nil, "")
	assert.EqualValues(t, 0, state["loginAttempts"])

	rec, me := env.do(t, http.MethodGet, "/api/me", nil, token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "13800138000", me["phoneNumber"])
	assert.Equal(t, "信用优秀", me["creditLevel"])

	rec, _ = env.do(t, http.MethodPost, "/api/auth/logout", nil, token)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, body = env.do(t, http.MethodGet, "/api/me", nil, token)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "TOKEN_REVOKED", body["code"])
}

func TestCaptchaRequiredWithoutCookies(t *testing.T) {
	env := newTestEnv(t)
	env.register(t)
	wrong := gin.H{"phoneNumber": "13800138000", "password": "wrong99"}

	for i := 1; i <= 3; i++ {
		env.cookies = nil
		rec, body := env.do(t, http.MethodPost, "/api/auth/login", wrong, "")
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.EqualValues(t, i, body["loginAttempts"])
	}

	env.cookies = nil
	_, state := env.do(t, http.MethodGet, "/api/auth/state", nil, "")
	assert.EqualValues(t, 3, state["loginAttempts"])
	assert.Equal(t, true, state["showCaptcha"])

	env.cookies = nil
	rec, body := env.do(t, http.MethodPost, "/api/auth/login", gin.H{"phoneNumber": "13800138000", "password": "abc123"}, "")
	assert.Equal(t, http.StatusPreconditionRequired, rec.Code)
	assert.Equal(t, "CAPTCHA_REQUIRED", body["code"])
}

func TestAccountLockIsReported(t *testing.T) {
	env := newTestEnv(t)
	env.register(t)

	var body map[string]any
	var rec *httptest.ResponseRecorder
	for i := 0; i < 5; i++ {
		req := gin.H{"phoneNumber": "13800138000", "password": "wrong99"}
		if i >= CaptchaThreshold {
			issued, err := env.captchas.Create(context.Background(), 4, false)
			require.NoError(t, err)
			req["captchaId"], req["captchaValue"] = issued.ID, issued.Code
		}
		rec, body = env.do(t, http.MethodPost, "/api/auth/login", req, "")
	}
	assert.Equal(t, http.StatusLocked, rec.Code)
	assert.Equal(t, "ACCOUNT_LOCKED", body["code"])
	assert.EqualValues(t, 5, body["loginAttempts"])
}

func TestRateLimitLoginRespondsWithRetryAfter(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.LoginRatePerSecond = 1
		cfg.LoginRateBurst = 1
	})
	body := gin.H{"phoneNumber": "13800138000", "password": "wrong99"}

	rec, _ := env.do(t, http.MethodPost, "/api/auth/login", body, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, out := env.do(t, http.MethodPost, "/api/auth/login", body, "")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "TOO_MANY_REQUESTS", out["code"])
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	// 他のクライアント IP は影響を受けない
	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(body))
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", &buf)
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "198.51.100.7:4321"
	other := httptest.NewRecorder()
	env.router.ServeHTTP(other, req)
	assert.Equal(t, http.StatusUnauthorized, other.Code)
}

func TestRequireLoginRejectsBadTokens(t *testing.T) {
	env := newTestEnv(t)

	rec, body := env.do(t, http.MethodGet, "/api/me", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "UNAUTHORIZED", body["code"])

	rec, body = env.do(t, http.MethodGet, "/api/me", nil, "not-a-jwt")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "TOKEN_INVALID", body["code"])

	// 2時間前に発行したトークンは TTL 1時間で期限切れ
	env.manager.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	old, err := env.manager.IssueToken("13800138000")
	require.NoError(t, err)
	env.manager.now = time.Now
	_, err = env.manager.ParseToken(context.Background(), old)
	assert.Error(t, err)

	other := &Manager{cfg: &config.Config{JWTSecret: "other", TokenTTL: time.Hour}, state: env.kv, now: time.Now}
	forged, err := other.IssueToken("13800138000")
	require.NoError(t, err)
	_, err = env.manager.ParseToken(context.Background(), forged)
	assert.Error(t, err)
}

func TestIPLimiter(t *testing.T) {
	l := newIPLimiter(1, 2)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	_, ok := l.allow("1.1.1.1", now)
	assert.True(t, ok)
	_, ok = l.allow("1.1.1.1", now)
	assert.True(t, ok)
	wait, ok := l.allow("1.1.1.1", now)
	assert.False(t, ok)
	assert.Greater(t, wait, time.Duration(0))

	_, ok = l.allow("2.2.2.2", now)
	assert.True(t, ok, "limits are per IP")

	_, ok = l.allow("1.1.1.1", now.Add(time.Second))
	assert.True(t, ok)
}
