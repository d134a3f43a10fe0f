// Package kv は有効期限付きの小さなキーバリューストアを提供します。
// 画像認証コード、メール認証コード、失効トークン、ジョブ状態の保存に使います。
package kv

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound はキーが存在しない（または期限切れの）場合に返されます。
var ErrNotFound = errors.New("kv: key not found")

// Store は TTL 付きで値を保存するストアです。ttl が 0 以下なら期限なしです。
type Store interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	// Take は値を取得すると同時に削除します。一度きりのコードに使います。
	Take(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	// Update は現在値を mutate に渡し、戻り値で上書きします。キーが無ければ ErrNotFound です。
	Update(ctx context.Context, key string, ttl time.Duration, mutate func([]byte) ([]byte, error)) error
	Close() error
}
