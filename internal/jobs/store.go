package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/yourusername/eleme-backend/internal/kv"
)

// ErrJobNotFound は遷移対象のレコードが無い（期限切れを含む）ことを示します。
var ErrJobNotFound = errors.New("jobs: record not found")

// Store は送信ジョブのレコードを KV に JSON で保存します。レコードは ttl で消えます。
type Store struct {
	kv  kv.Store
	ttl time.Duration
	now func() time.Time
}

// NewStore は Store を作成します。ttl が 0 なら期限なしです。
func NewStore(store kv.Store, ttl time.Duration) *Store {
	return &Store{
		kv:  store,
		ttl: ttl,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Create は queued のレコードを作成します。宛先はマスクして保存します。
func (s *Store) Create(ctx context.Context, jobID, kind, recipient string) (*Record, error) {
	if jobID == "" {
		return nil, errors.New("jobs: empty job id")
	}
	now := s.now()
	rec := &Record{
		JobID:     jobID,
		Kind:      kind,
		Status:    StatusQueued,
		Recipient: MaskEmail(recipient),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if s.ttl > 0 {
		rec.ExpiresAt = now.Add(s.ttl)
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	if err := s.kv.Set(ctx, "job:"+jobID, data, s.ttl); err != nil {
		return nil, fmt.Errorf("save job %s: %w", jobID, err)
	}
	return rec, nil
}

// Get はレコードを返します。存在しなければ (nil, nil) です。
func (s *Store) Get(ctx context.Context, jobID string) (*Record, error) {
	data, err := s.kv.Get(ctx, "job:"+jobID)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rec := new(Record)
	if err := json.Unmarshal(data, rec); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", jobID, err)
	}
	return rec, nil
}

// MarkRunning は送信試行の開始を記録し、試行回数を1増やします。
func (s *Store) MarkRunning(ctx context.Context, jobID string) error {
	return s.transition(ctx, jobID, StatusRunning, nil)
}

// MarkDone は送信成功を記録し、エラー情報を消します。
func (s *Store) MarkDone(ctx context.Context, jobID string) error {
	return s.transition(ctx, jobID, StatusSucceeded, nil)
}

// MarkFailed は失敗を記録します。errInfo が nil なら前回のエラー情報を残します。
func (s *Store) MarkFailed(ctx context.Context, jobID string, errInfo *ErrorInfo) error {
	return s.transition(ctx, jobID, StatusFailed, errInfo)
}

func (s *Store) transition(ctx context.Context, jobID string, to Status, errInfo *ErrorInfo) error {
	err := s.kv.Update(ctx, "job:"+jobID, s.ttl, func(data []byte) ([]byte, error) {
		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, err
		}
		switch to {
		case StatusRunning:
			rec.Attempts++
		case StatusSucceeded:
			rec.Error = nil
		case StatusFailed:
			if errInfo != nil {
				rec.Error = errInfo
			}
		}
		rec.Status = to
		rec.UpdatedAt = s.now()
		return json.Marshal(&rec)
	})
	if errors.Is(err, kv.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	return err
}

// MaskEmail はローカル部の先頭1文字だけを残します。"zhangsan@example.com" → "z***@example.com"
func MaskEmail(email string) string {
	local, domain, ok := strings.Cut(email, "@")
	if !ok || local == "" {
		return ""
	}
	r := []rune(local)
	return string(r[0]) + "***@" + domain
}
