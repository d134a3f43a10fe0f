package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/yourusername/eleme-backend/internal/cart"
	"github.com/yourusername/eleme-backend/internal/client"
	"github.com/yourusername/eleme-backend/internal/config"
	"github.com/yourusername/eleme-backend/internal/money"
	"github.com/yourusername/eleme-backend/internal/session"
	"github.com/yourusername/eleme-backend/internal/store/storetest"
	"github.com/yourusername/eleme-backend/internal/user"
)

var mailCode = regexp.MustCompile(`验证码是：(\d{6})`)

func testConfig() *config.Config {
	return &config.Config{
		GinMode:            gin.TestMode,
		CORSAllowedOrigins: "http://localhost:5173",
		SessionSecret:      "test-session-secret",
		JWTSecret:          "test-jwt-secret",
		TokenTTL:           time.Hour,
		LoginRatePerSecond: 100,
		LoginRateBurst:     100,
		JobTTL:             time.Minute,
	}
}

func newTestServer(t *testing.T, cfg *config.Config) (*httptest.Server, *observer.ObservedLogs) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zap.InfoLevel)
	logger := zap.New(core)

	b, err := setupBackends(context.Background(), cfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	require.Nil(t, b.worker)

	router, err := newRouter(cfg, logger)
	require.NoError(t, err)
	setupRoutes(router, cfg, logger, storetest.NewSeeded(t), b)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, logs
}

func TestHealthAndProtectedRoutes(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/api/cart")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/api/jobs/missing")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRegisterLoginAndCheckout(t *testing.T) {
	srv, logs := newTestServer(t, testConfig())
	ctx := context.Background()

	sess, err := session.Open(session.NewMemoryStorage())
	require.NoError(t, err)
	c, err := client.New(client.Config{BaseURL: srv.URL}, sess)
	require.NoError(t, err)

	jobID, err := c.SendVerifyCode(ctx, "zhangsan@example.com")
	require.NoError(t, err)
	assert.NotEmpty(t, jobID)

	sent := logs.FilterMessage("mail not sent (SMTP disabled)").All()
	require.Len(t, sent, 1)
	m := mailCode.FindStringSubmatch(sent[0].ContextMap()["body"].(string))
	require.Len(t, m, 2)

	_, err = c.Register(ctx, user.RegisterInput{
		PhoneNumber:     "13800138000",
		Password:        "abc123",
		ConfirmPassword: "abc123",
		Name:            "张三",
		Email:           "zhangsan@example.com",
		VerifyCode:      m[1],
	})
	require.NoError(t, err)

	info, err := c.Login(ctx, "13800138000", "abc123", "")
	require.NoError(t, err)
	assert.Equal(t, "张三", info.Name)
	assert.True(t, sess.IsLoggedIn())

	list, err := c.Businesses(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, list, 3)

	_, err = c.AddToCart(ctx, cart.AddInput{FoodID: 1, Quantity: 2})
	require.NoError(t, err)
	_, err = c.AddToCart(ctx, cart.AddInput{FoodID: 2, Quantity: 1})
	require.NoError(t, err)

	page, err := c.Cart(ctx, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, page.ItemCount)
	assert.Equal(t, money.Amount(4650), page.TotalAmount)
	assert.True(t, page.CanCheckout)

	o, err := c.Checkout(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, money.Amount(4650), o.Price)

	paid, err := c.Pay(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, paid.State)

	orders, err := c.Orders(ctx)
	require.NoError(t, err)
	require.Len(t, orders, 1)

	require.NoError(t, c.Logout(ctx))
	_, err = c.Orders(ctx)
	assert.True(t, client.IsCode(err, "UNAUTHORIZED"), "%v", err)
}

func TestLoginLimitIgnoresForwardedForFromUntrustedPeers(t *testing.T) {
	login := func(srv *httptest.Server, forwardedFor string) int {
		req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/auth/login",
			strings.NewReader(`{"phoneNumber":"13800138000","password":"wrong99"}`))
		require.NoError(t, err)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Forwarded-For", forwardedFor)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	cfg := testConfig()
	cfg.LoginRatePerSecond, cfg.LoginRateBurst = 1, 1
	srv, _ := newTestServer(t, cfg)
	assert.Equal(t, http.StatusUnauthorized, login(srv, "203.0.113.1"))
	assert.Equal(t, http.StatusTooManyRequests, login(srv, "203.0.113.2"), "forged header must not reset the limit")

	cfg = testConfig()
	cfg.LoginRatePerSecond, cfg.LoginRateBurst = 1, 1
	cfg.TrustedProxies = []string{"127.0.0.1", "::1"}
	srv, _ = newTestServer(t, cfg)
	assert.Equal(t, http.StatusUnauthorized, login(srv, "203.0.113.1"))
	assert.Equal(t, http.StatusUnauthorized, login(srv, "203.0.113.2"))
}
