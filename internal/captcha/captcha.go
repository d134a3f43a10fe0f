// Package captcha は画像認証コードの発行・描画・照合を提供します。
package captcha

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yourusername/eleme-backend/internal/kv"
)

const (
	// Charset は紛らわしい文字（0, O, 1, I）を除いた文字集合です。
	Charset = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	Digits  = "0123456789"

	DefaultLength = 4
	TTL           = 5 * time.Minute

	keyPrefix = "captcha:"
)

// Captcha は発行済みの認証コードです。
type Captcha struct {
	ID   string
	Code string
}

// Service は認証コードを KV ストアに保存して照合します。
type Service struct {
	store kv.Store
}

// NewService は store に答えを保存する Service を作成します。
func NewService(store kv.Store) *Service {
	return &Service{store: store}
}

// Create は新しい認証コードを発行し、5分間保存します。
func (s *Service) Create(ctx context.Context, length int, digits bool) (*Captcha, error) {
	if length <= 0 {
		length = DefaultLength
	}
	c := &Captcha{ID: uuid.NewString(), Code: GenerateText(length, digits)}
	if err := s.store.Set(ctx, keyPrefix+c.ID, []byte(c.Code), TTL); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate は認証コードを照合します。一度読んだコードは削除されます。
// 大文字小文字は区別しません。未知・期限切れは false です。
func (s *Service) Validate(ctx context.Context, id, value string) (bool, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return false, nil
	}
	code, err := s.store.Take(ctx, keyPrefix+id)
	if errors.Is(err, kv.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return strings.EqualFold(string(code), strings.TrimSpace(value)), nil
}

// GenerateText は指定長のランダムな文字列を返します。
func GenerateText(length int, digits bool) string {
	chars := Charset
	if digits {
		chars = Digits
	}
	var b strings.Builder
	b.Grow(length)
	for i := 0; i < length; i++ {
		b.WriteByte(chars[rand.IntN(len(chars))])
	}
	return b.String()
}
