// Package client は eleme API の型付き HTTP クライアントです。
// ログイン系の呼び出しは結果に応じて session.Store を更新します。
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/yourusername/eleme-backend/internal/cart"
	"github.com/yourusername/eleme-backend/internal/session"
	"github.com/yourusername/eleme-backend/internal/store"
	"github.com/yourusername/eleme-backend/internal/user"
)

// Client は API クライアントです。
type Client struct {
	baseURL    string
	httpClient *http.Client
	session    *session.Store
}

// Config はクライアントの設定です。Timeout が 0 なら既定値を使います。
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// New はクライアントを作成します。ログイン試行回数のクッキーを保持するため cookie jar を使います。
func New(cfg Config, sess *session.Store) (*Client, error) {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: timeout, Jar: jar},
		session:    sess,
	}, nil
}

// APIError は API が返したエラーです。
type APIError struct {
	Status        int    `json:"-"`
	Code          string `json:"code"`
	Message       string `json:"message"`
	LoginAttempts *int   `json:"loginAttempts,omitempty"`
	ShowCaptcha   bool   `json:"showCaptcha,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%d %s: %s", e.Status, e.Code, e.Message)
}

// IsCode は err が指定コードの APIError かを返します。
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if token := c.session.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		if err := json.Unmarshal(respBody, apiErr); err != nil || apiErr.Code == "" {
			apiErr.Code = "HTTP_" + strconv.Itoa(resp.StatusCode)
			apiErr.Message = strings.TrimSpace(string(respBody))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

// Captcha は画像認証の ID とデータ URL です。
type Captcha struct {
	ID    string `json:"id"`
	Image string `json:"image"`
}

// Captcha は新しい画像認証を取得し、セッションに保存します。
func (c *Client) Captcha(ctx context.Context) (*Captcha, error) {
	var out Captcha
	if err := c.do(ctx, http.MethodGet, "/api/captcha", nil, &out); err != nil {
		return nil, err
	}
	c.session.SetCaptcha(out.ID, out.Image)
	return &out, nil
}

type loginRequest struct {
	PhoneNumber  string `json:"phoneNumber"`
	Password     string `json:"password"`
	CaptchaID    string `json:"captchaId,omitempty"`
	CaptchaValue string `json:"captchaValue,omitempty"`
}

type loginResponse struct {
	Token string            `json:"token"`
	User  *session.UserInfo `json:"user"`
}

// Login はログインします。画像認証が必要な状態ではセッションの captchaId と captchaValue を送ります。
// 成功するとトークンと利用者情報を保存して失敗回数をリセットし、失敗すると失敗回数を更新します。
func (c *Client) Login(ctx context.Context, phone, password, captchaValue string) (*session.UserInfo, error) {
	req := loginRequest{PhoneNumber: phone, Password: password}
	if st := c.session.Snapshot(); st.ShowCaptcha || captchaValue != "" {
		req.CaptchaID = st.CaptchaID
		req.CaptchaValue = captchaValue
	}

	var out loginResponse
	err := c.do(ctx, http.MethodPost, "/api/auth/login", req, &out)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			switch {
			case apiErr.LoginAttempts != nil:
				c.session.SyncLoginAttempts(*apiErr.LoginAttempts, apiErr.ShowCaptcha)
			case apiErr.Status == http.StatusUnauthorized || apiErr.Status == http.StatusLocked:
				c.session.IncrementLoginAttempts()
			}
		}
		return nil, err
	}

	if err := c.session.SetToken(out.Token); err != nil {
		return nil, err
	}
	if err := c.session.SetUserInfo(out.User); err != nil {
		return nil, err
	}
	c.session.ResetLoginAttempts()
	c.session.SetCaptcha("", "")
	return out.User, nil
}

// Logout はサーバー側でトークンを失効させ、ローカルの状態を消去します。
// トークンが既に無効でもローカルの状態は消去します。
func (c *Client) Logout(ctx context.Context) error {
	err := c.do(ctx, http.MethodPost, "/api/auth/logout", nil, nil)
	var apiErr *APIError
	if err != nil && !(errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized) {
		return err
	}
	return c.session.Logout()
}

// LoginState はサーバー側の失敗回数を取得し、セッションに反映します。
func (c *Client) LoginState(ctx context.Context) (attempts int, showCaptcha bool, err error) {
	var out struct {
		LoginAttempts int  `json:"loginAttempts"`
		ShowCaptcha   bool `json:"showCaptcha"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/auth/state", nil, &out); err != nil {
		return 0, false, err
	}
	c.session.SyncLoginAttempts(out.LoginAttempts, out.ShowCaptcha)
	return out.LoginAttempts, out.ShowCaptcha, nil
}

// SendVerifyCode は登録用の確認コードをメールで送るよう依頼し、ジョブ ID を返します。
func (c *Client) SendVerifyCode(ctx context.Context, email string) (string, error) {
	var out struct {
		JobID string `json:"jobId"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/auth/verify-code", map[string]string{"email": email}, &out); err != nil {
		return "", err
	}
	return out.JobID, nil
}

func (c *Client) Register(ctx context.Context, in user.RegisterInput) (*session.UserInfo, error) {
	var out struct {
		User *session.UserInfo `json:"user"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/auth/register", in, &out); err != nil {
		return nil, err
	}
	return out.User, nil
}

// Profile はログイン中の利用者情報と信用等級です。
type Profile struct {
	session.UserInfo
	CreditLevel string `json:"creditLevel"`
}

func (c *Client) Me(ctx context.Context) (*Profile, error) {
	var out Profile
	if err := c.do(ctx, http.MethodGet, "/api/me", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Businesses は商家一覧を取得します。query には type, keyword, minRating などを指定できます。
func (c *Client) Businesses(ctx context.Context, query url.Values) ([]store.Business, error) {
	path := "/api/businesses"
	if len(query) > 0 {
		path += "?" + query.Encode()
	}
	var out []store.Business
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Business(ctx context.Context, id int) (*store.Business, error) {
	var out store.Business
	if err := c.do(ctx, http.MethodGet, "/api/businesses/"+strconv.Itoa(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) AddToCart(ctx context.Context, in cart.AddInput) (*store.CartItem, error) {
	var out struct {
		Item store.CartItem `json:"item"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/cart/items", in, &out); err != nil {
		return nil, err
	}
	return &out.Item, nil
}

func (c *Client) Cart(ctx context.Context, page, size int) (*cart.Page, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("size", strconv.Itoa(size))
	var out cart.Page
	if err := c.do(ctx, http.MethodGet, "/api/cart?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdateCartItem(ctx context.Context, id int64, quantity int) (*store.CartItem, error) {
	var out struct {
		Item store.CartItem `json:"item"`
	}
	path := "/api/cart/items/" + strconv.FormatInt(id, 10)
	if err := c.do(ctx, http.MethodPut, path, map[string]int{"quantity": quantity}, &out); err != nil {
		return nil, err
	}
	return &out.Item, nil
}

func (c *Client) RemoveCartItem(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, "/api/cart/items/"+strconv.FormatInt(id, 10), nil, nil)
}

// ClearCart はカートを空にし、削除件数を返します。
func (c *Client) ClearCart(ctx context.Context) (int64, error) {
	var out struct {
		Removed int64 `json:"removed"`
	}
	if err := c.do(ctx, http.MethodDelete, "/api/cart", nil, &out); err != nil {
		return 0, err
	}
	return out.Removed, nil
}

// Checkout は指定商家のカート項目から注文を作成します。
func (c *Client) Checkout(ctx context.Context, businessID int) (*store.Order, error) {
	var out struct {
		Order store.Order `json:"order"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/orders/checkout", map[string]int{"businessId": businessID}, &out); err != nil {
		return nil, err
	}
	return &out.Order, nil
}

func (c *Client) Orders(ctx context.Context) ([]store.Order, error) {
	var out []store.Order
	if err := c.do(ctx, http.MethodGet, "/api/orders", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Pay(ctx context.Context, id int64) (*store.Order, error) {
	var out struct {
		Order store.Order `json:"order"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/orders/"+strconv.FormatInt(id, 10)+"/pay", nil, &out); err != nil {
		return nil, err
	}
	return &out.Order, nil
}
