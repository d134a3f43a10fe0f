package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/yourusername/eleme-backend/internal/mail"
	"github.com/yourusername/eleme-backend/internal/metrics"
)

const (
	// TaskTypeVerifyCode は認証コードメール送信タスクの種別です。
	TaskTypeVerifyCode = "mail:verify_code"
	// QueueMail はメール送信用のキュー名です。
	QueueMail = "mail"

	maxRetry = 3
)

// Dispatcher は認証コードメールの送信を受け付け、ジョブIDを返します。
type Dispatcher interface {
	DispatchVerifyCode(ctx context.Context, email, code string) (string, error)
}

type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

// Manager はジョブの投入と状態管理を担います。
type Manager struct {
	client enqueuer
	worker *Worker
	store  *Store
	sender mail.Sender
	logger *zap.Logger
}

// NewManager は Redis を使う非同期版の Manager を初期化します。
func NewManager(redisURL string, store *Store, sender mail.Sender, logger *zap.Logger) (*Manager, error) {
	if store == nil {
		return nil, errors.New("store is nil")
	}
	if sender == nil {
		return nil, errors.New("sender is nil")
	}
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	manager := &Manager{
		client: asynq.NewClient(opt),
		store:  store,
		sender: sender,
		logger: logger,
	}
	manager.worker = newWorker(opt, manager, logger)
	return manager, nil
}

// DispatchVerifyCode はレコードを queued で作成してからタスクを投入します。
func (m *Manager) DispatchVerifyCode(ctx context.Context, email, code string) (string, error) {
	payload := &VerifyCodePayload{JobID: uuid.NewString(), Email: email, Code: code}
	if _, err := m.store.Create(ctx, payload.JobID, TaskTypeVerifyCode, email); err != nil {
		return "", err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	task := asynq.NewTask(TaskTypeVerifyCode, body, asynq.Queue(QueueMail))
	if _, err := m.client.EnqueueContext(ctx, task, asynq.MaxRetry(maxRetry), asynq.TaskID(payload.JobID)); err != nil {
		_ = m.store.MarkFailed(ctx, payload.JobID, &ErrorInfo{Code: "ENQUEUE_FAILED", Message: err.Error()})
		return "", err
	}
	return payload.JobID, nil
}

// Worker は Asynq ワーカーを返します。
func (m *Manager) Worker() *Worker {
	return m.worker
}

// GetRecord はジョブ情報を取得します。
func (m *Manager) GetRecord(ctx context.Context, jobID string) (*Record, error) {
	return m.store.Get(ctx, jobID)
}

// Close はクライアントを閉じます。ワーカーの停止は Worker.Run の ctx で行います。
func (m *Manager) Close() error {
	return m.client.Close()
}

func (m *Manager) handleVerifyCodeTask(ctx context.Context, task *asynq.Task) error {
	var payload VerifyCodePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	if payload.JobID == "" {
		return fmt.Errorf("missing jobId in payload: %w", asynq.SkipRetry)
	}

	retried, _ := asynq.GetRetryCount(ctx)
	maxRetried, _ := asynq.GetMaxRetry(ctx)
	err := deliver(ctx, m.store, m.sender, m.logger, &payload)
	if err != nil && retried < maxRetried {
		// 再試行が残っている間は running のまま
		return err
	}
	return finish(ctx, m.store, m.logger, payload.JobID, err)
}

// Inline は Redis が無い環境でリクエスト内で同期送信する Dispatcher です。
type Inline struct {
	store  *Store
	sender mail.Sender
	logger *zap.Logger
}

// NewInline は Inline を作成します。
func NewInline(store *Store, sender mail.Sender, logger *zap.Logger) *Inline {
	return &Inline{store: store, sender: sender, logger: logger}
}

// DispatchVerifyCode はその場で送信し、結果をレコードに記録してからジョブ ID を返します。
func (d *Inline) DispatchVerifyCode(ctx context.Context, email, code string) (string, error) {
	payload := &VerifyCodePayload{JobID: uuid.NewString(), Email: email, Code: code}
	if _, err := d.store.Create(ctx, payload.JobID, TaskTypeVerifyCode, email); err != nil {
		return "", err
	}
	sendErr := deliver(ctx, d.store, d.sender, d.logger, payload)
	if err := finish(ctx, d.store, d.logger, payload.JobID, sendErr); err != nil {
		return payload.JobID, err
	}
	return payload.JobID, nil
}

func deliver(ctx context.Context, store *Store, sender mail.Sender, logger *zap.Logger, payload *VerifyCodePayload) error {
	if err := store.MarkRunning(ctx, payload.JobID); err != nil {
		logger.Warn("failed to mark job running", zap.String("jobId", payload.JobID), zap.Error(err))
	}
	return sender.Send(ctx, mail.VerifyCodeMessage(payload.Email, payload.Code))
}

// finish は送信結果をレコードとメトリクスに反映します。送信エラーはそのまま返します。
func finish(ctx context.Context, store *Store, logger *zap.Logger, jobID string, sendErr error) error {
	if sendErr != nil {
		metrics.RecordMailJob(string(StatusFailed))
		logger.Error("verification mail failed", zap.String("jobId", jobID), zap.Error(sendErr))
		if err := store.MarkFailed(ctx, jobID, &ErrorInfo{Code: "MAIL_SEND_FAILED", Message: "验证码邮件发送失败"}); err != nil {
			return errors.Join(sendErr, err)
		}
		return sendErr
	}
	metrics.RecordMailJob(string(StatusSucceeded))
	return store.MarkDone(ctx, jobID)
}
