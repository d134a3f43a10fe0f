// Package auth はログイン・ログアウト・トークン検証と、クライアント単位のログイン試行管理を提供します。
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/yourusername/eleme-backend/internal/captcha"
	"github.com/yourusername/eleme-backend/internal/config"
	"github.com/yourusername/eleme-backend/internal/kv"
	"github.com/yourusername/eleme-backend/internal/user"
)

const (
	SessionCookieName  = "eleme_session"
	sessionKeyAttempts = "login_attempts"

	// CaptchaThreshold 回失敗すると以降のログインに画像認証が必要になります。
	CaptchaThreshold = 3

	revokedKeyPrefix = "revoked:"
)

var maxSessionLifetime = 7 * 24 * time.Hour

// SessionMaxAgeSeconds はクッキーの MaxAge に利用する秒数を返します。
func SessionMaxAgeSeconds() int {
	return int(maxSessionLifetime.Seconds())
}

// ContextUserKey は、ハンドラー間でログイン済み利用者の手机号を共有するためのキーです。
const ContextUserKey = "auth.user"

const contextClaimsKey = "auth.claims"

var errTokenRevoked = errors.New("token revoked")

// Manager は認証処理と状態をまとめた構造体です。
type Manager struct {
	cfg      *config.Config
	users    *user.Service
	captchas *captcha.Service
	state    kv.Store // 失効トークンと IP ごとの失敗回数
	limiter  *ipLimiter
	now      func() time.Time
}

// NewManager は認証マネージャーを作成します。
func NewManager(cfg *config.Config, users *user.Service, captchas *captcha.Service, state kv.Store) *Manager {
	return &Manager{
		cfg:      cfg,
		users:    users,
		captchas: captchas,
		state:    state,
		limiter:  newIPLimiter(cfg.LoginRatePerSecond, cfg.LoginRateBurst),
		now:      time.Now,
	}
}

// IssueToken は手机号を subject とする HS256 の JWT を発行します。
func (m *Manager) IssueToken(phone string) (string, error) {
	now := m.now()
	claims := jwt.RegisteredClaims{
		Subject:   phone,
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(m.cfg.TokenTTL)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(m.cfg.JWTSecret))
}

// ParseToken は署名・有効期限・失効リストを検証してクレームを返します。
func (m *Manager) ParseToken(ctx context.Context, raw string) (*jwt.RegisteredClaims, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		return []byte(m.cfg.JWTSecret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return nil, err
	}
	if claims.Subject == "" || claims.ID == "" {
		return nil, fmt.Errorf("token is missing sub or jti")
	}
	_, err = m.state.Get(ctx, revokedKeyPrefix+claims.ID)
	switch {
	case err == nil:
		return nil, errTokenRevoked
	case !errors.Is(err, kv.ErrNotFound):
		return nil, err
	}
	return &claims, nil
}

// Revoke はトークンの jti を有効期限まで失効リストに載せます。
func (m *Manager) Revoke(ctx context.Context, claims *jwt.RegisteredClaims) error {
	ttl := time.Minute
	if claims.ExpiresAt != nil {
		if remaining := claims.ExpiresAt.Sub(m.now()); remaining > 0 {
			ttl = remaining
		}
	}
	return m.state.Set(ctx, revokedKeyPrefix+claims.ID, []byte(claims.Subject), ttl)
}

// CurrentUser はミドルウェアが設定した手机号を返します。
func CurrentUser(c *gin.Context) string {
	return c.GetString(ContextUserKey)
}

func currentClaims(c *gin.Context) *jwt.RegisteredClaims {
	if v, ok := c.Get(contextClaimsKey); ok {
		if claims, ok := v.(*jwt.RegisteredClaims); ok {
			return claims
		}
	}
	return nil
}
