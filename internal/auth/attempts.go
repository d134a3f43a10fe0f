package auth

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"

	"github.com/yourusername/eleme-backend/internal/kv"
)

// ログイン失敗回数はクッキーセッションとクライアント IP の両方で数え、多い方を使います。
// クッキーを送り返さないクライアントも IP 側の回数で画像認証の対象になります。
const (
	attemptsKeyPrefix = "login_attempts:"
	loginWindow       = 15 * time.Minute
)

// loginAttempts はクッキーセッションに記録された失敗回数を返します。
func loginAttempts(session sessions.Session) int {
	switch v := session.Get(sessionKeyAttempts).(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

func setLoginAttempts(session sessions.Session, n int) error {
	if n <= 0 {
		session.Delete(sessionKeyAttempts)
	} else {
		session.Set(sessionKeyAttempts, n)
	}
	return session.Save()
}

func (m *Manager) ipAttempts(ctx context.Context, ip string) (int, error) {
	data, err := m.state.Get(ctx, attemptsKeyPrefix+ip)
	if errors.Is(err, kv.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n, _ := strconv.Atoi(string(data))
	return n, nil
}

// addIPAttempt は IP の失敗回数を1増やして返します。最後の失敗から loginWindow で消えます。
func (m *Manager) addIPAttempt(ctx context.Context, ip string) (int, error) {
	key := attemptsKeyPrefix + ip
	var n int
	err := m.state.Update(ctx, key, loginWindow, func(data []byte) ([]byte, error) {
		n, _ = strconv.Atoi(string(data))
		n++
		return []byte(strconv.Itoa(n)), nil
	})
	if errors.Is(err, kv.ErrNotFound) {
		n = 1
		err = m.state.Set(ctx, key, []byte("1"), loginWindow)
	}
	return n, err
}

// currentAttempts はクッキーと IP の失敗回数の大きい方を返します。
func (m *Manager) currentAttempts(c *gin.Context) (int, error) {
	n, err := m.ipAttempts(c.Request.Context(), c.ClientIP())
	if err != nil {
		return 0, err
	}
	return max(n, loginAttempts(sessions.Default(c))), nil
}

// recordFailure は両方の回数を増やし、新しい値を返します。
func (m *Manager) recordFailure(c *gin.Context, before int) (int, error) {
	n, err := m.addIPAttempt(c.Request.Context(), c.ClientIP())
	if err != nil {
		return 0, err
	}
	attempts := max(n, before+1)
	if err := setLoginAttempts(sessions.Default(c), attempts); err != nil {
		return 0, err
	}
	return attempts, nil
}

func (m *Manager) resetAttempts(c *gin.Context) error {
	if err := m.state.Delete(c.Request.Context(), attemptsKeyPrefix+c.ClientIP()); err != nil {
		return err
	}
	return setLoginAttempts(sessions.Default(c), 0)
}
