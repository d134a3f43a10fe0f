package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/eleme-backend/internal/session"
)

// fakeAPI はログイン周りだけを模したサーバーです。パスワード "abc123" で成功し、
// 3回失敗した後は画像認証 "ABCD" を要求します。
type fakeAPI struct {
	mu          sync.Mutex
	attempts    int
	lastCaptcha string
	revoked     bool
}

func (f *fakeAPI) handler() http.Handler {
	mux := http.NewServeMux()
	writeJSON := func(w http.ResponseWriter, status int, v any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(v)
	}

	mux.HandleFunc("GET /api/captcha", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"id": "cap-1", "image": "data:image/jpeg;base64,AA=="})
	})
	mux.HandleFunc("POST /api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		var req loginRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.lastCaptcha = req.CaptchaID + ":" + req.CaptchaValue

		if f.attempts >= 3 && req.CaptchaValue != "ABCD" {
			writeJSON(w, http.StatusPreconditionRequired, map[string]any{
				"code": "CAPTCHA_REQUIRED", "message": "请输入图形验证码", "loginAttempts": f.attempts, "showCaptcha": true,
			})
			return
		}
		if req.Password != "abc123" {
			f.attempts++
			writeJSON(w, http.StatusUnauthorized, map[string]any{
				"code": "INVALID_CREDENTIALS", "message": "手机号或密码错误", "loginAttempts": f.attempts, "showCaptcha": f.attempts >= 3,
			})
			return
		}
		f.attempts = 0
		writeJSON(w, http.StatusOK, map[string]any{
			"code": 200, "message": "登录成功", "token": "tok-1",
			"user": map[string]string{"phoneNumber": req.PhoneNumber, "name": "张三"},
		})
	})
	mux.HandleFunc("POST /api/auth/logout", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.revoked || r.Header.Get("Authorization") != "Bearer tok-1" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"code": "TOKEN_REVOKED", "message": "登录已退出"})
			return
		}
		f.revoked = true
		writeJSON(w, http.StatusOK, map[string]string{"message": "已退出登录"})
	})
	mux.HandleFunc("GET /api/businesses", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("type") != "美食" {
			writeJSON(w, http.StatusOK, []any{})
			return
		}
		writeJSON(w, http.StatusOK, []map[string]any{{"id": 1, "businessName": "万家饺子"}})
	})
	mux.HandleFunc("GET /api/cart", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream down"))
	})
	return mux
}

func newClient(t *testing.T) (*Client, *session.Store, *fakeAPI) {
	t.Helper()
	api := &fakeAPI{}
	srv := httptest.NewServer(api.handler())
	t.Cleanup(srv.Close)

	sess, err := session.Open(session.NewMemoryStorage())
	require.NoError(t, err)
	c, err := New(Config{BaseURL: srv.URL + "/"}, sess)
	require.NoError(t, err)
	return c, sess, api
}

func TestLoginFlowUpdatesSession(t *testing.T) {
	c, sess, api := newClient(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		_, err := c.Login(ctx, "13800138000", "wrong99", "")
		require.True(t, IsCode(err, "INVALID_CREDENTIALS"), "attempt %d: %v", i, err)
		assert.Equal(t, i, sess.Snapshot().LoginAttempts)
	}
	assert.True(t, sess.NeedsCaptcha())

	_, err := c.Login(ctx, "13800138000", "abc123", "")
	assert.True(t, IsCode(err, "CAPTCHA_REQUIRED"))

	captcha, err := c.Captcha(ctx)
	require.NoError(t, err)
	assert.Equal(t, "cap-1", sess.Snapshot().CaptchaID)
	assert.Equal(t, captcha.Image, sess.Snapshot().CaptchaImage)

	info, err := c.Login(ctx, "13800138000", "abc123", "ABCD")
	require.NoError(t, err)
	assert.Equal(t, "张三", info.Name)
	assert.Equal(t, "cap-1:ABCD", api.lastCaptcha)

	st := sess.Snapshot()
	assert.Equal(t, "tok-1", st.Token)
	assert.Zero(t, st.LoginAttempts)
	assert.False(t, st.ShowCaptcha)
	assert.Empty(t, st.CaptchaID)
	assert.True(t, sess.IsLoggedIn())

	require.NoError(t, c.Logout(ctx))
	assert.False(t, sess.IsLoggedIn())
}

func TestLogoutClearsLocalStateWhenTokenAlreadyInvalid(t *testing.T) {
	c, sess, _ := newClient(t)
	require.NoError(t, sess.SetToken("stale"))
	require.NoError(t, sess.SetUserInfo(&session.UserInfo{PhoneNumber: "13800138000"}))

	require.NoError(t, c.Logout(context.Background()))
	assert.Empty(t, sess.Token())
}

func TestBusinessesAndErrors(t *testing.T) {
	c, _, _ := newClient(t)
	ctx := context.Background()

	list, err := c.Businesses(ctx, url.Values{"type": {"美食"}})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "万家饺子", list[0].BusinessName)

	_, err = c.Cart(ctx, 1, 10)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)
	assert.Equal(t, "HTTP_502", apiErr.Code)
	assert.Equal(t, "upstream down", apiErr.Message)

	_, err = c.Orders(ctx)
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
}
