package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yourusername/eleme-backend/internal/kv"
	"github.com/yourusername/eleme-backend/internal/mail"
)

type recordingSender struct {
	mu   sync.Mutex
	sent []mail.Message
	err  error
}

func (s *recordingSender) Send(ctx context.Context, msg mail.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, msg)
	return nil
}

type fakeEnqueuer struct {
	tasks []*asynq.Task
	err   error
}

func (f *fakeEnqueuer) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{ID: "task"}, nil
}

func (f *fakeEnqueuer) Close() error { return nil }

func newStore(t *testing.T) *Store {
	t.Helper()
	mem := kv.NewMemoryStore()
	t.Cleanup(func() { mem.Close() })
	return NewStore(mem, 10*time.Minute)
}

func TestStoreLifecycle(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	rec, err := store.Get(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, rec)

	_, err = store.Create(ctx, "j1", TaskTypeVerifyCode, "zhangsan@example.com")
	require.NoError(t, err)
	require.NoError(t, store.MarkRunning(ctx, "j1"))
	require.NoError(t, store.MarkFailed(ctx, "j1", &ErrorInfo{Code: "X", Message: "boom"}))
	require.NoError(t, store.MarkRunning(ctx, "j1"))

	rec, err = store.Get(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, rec.Status)
	assert.Equal(t, 2, rec.Attempts)
	assert.Equal(t, "z***@example.com", rec.Recipient)
	assert.Equal(t, "X", rec.Error.Code)
	assert.True(t, rec.CreatedAt.Add(10*time.Minute).Equal(rec.ExpiresAt))

	require.NoError(t, store.MarkDone(ctx, "j1"))
	rec, err = store.Get(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, rec.Status)
	assert.Nil(t, rec.Error)

	assert.ErrorIs(t, store.MarkDone(ctx, "nope"), ErrJobNotFound)
	_, err = store.Create(ctx, "", TaskTypeVerifyCode, "a@b.cn")
	assert.Error(t, err)
}

func TestMaskEmail(t *testing.T) {
	assert.Equal(t, "张***@example.com", MaskEmail("张三@example.com"))
	assert.Equal(t, "a***@b.cn", MaskEmail("a@b.cn"))
	assert.Empty(t, MaskEmail("no-at-sign"))
	assert.Empty(t, MaskEmail("@example.com"))
}

func TestInlineDispatch(t *testing.T) {
	store := newStore(t)
	sender := &recordingSender{}
	d := NewInline(store, sender, zap.NewNop())
	ctx := context.Background()

	jobID, err := d.DispatchVerifyCode(ctx, "user@example.com", "123456")
	require.NoError(t, err)
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "user@example.com", sender.sent[0].To)

	rec, err := store.Get(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, rec.Status)
	assert.Equal(t, 1, rec.Attempts)

	sender.err = errors.New("smtp down")
	jobID, err = d.DispatchVerifyCode(ctx, "user@example.com", "654321")
	require.Error(t, err)
	rec, err = store.Get(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, rec.Status)
	assert.Equal(t, "MAIL_SEND_FAILED", rec.Error.Code)
}

func TestManagerDispatchAndHandle(t *testing.T) {
	store := newStore(t)
	sender := &recordingSender{}
	q := &fakeEnqueuer{}
	m := &Manager{client: q, store: store, sender: sender, logger: zap.NewNop()}
	ctx := context.Background()

	jobID, err := m.DispatchVerifyCode(ctx, "user@example.com", "123456")
	require.NoError(t, err)
	require.Len(t, q.tasks, 1)
	assert.Equal(t, TaskTypeVerifyCode, q.tasks[0].Type())

	rec, err := m.GetRecord(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, rec.Status)

	// ワーカー側の処理（リトライ情報の無い ctx は最終試行として扱われる）
	require.NoError(t, m.handleVerifyCodeTask(ctx, q.tasks[0]))
	require.Len(t, sender.sent, 1)
	rec, err = m.GetRecord(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, rec.Status)

	err = m.handleVerifyCodeTask(ctx, asynq.NewTask(TaskTypeVerifyCode, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestManagerEnqueueFailureMarksRecord(t *testing.T) {
	store := newStore(t)
	m := &Manager{client: &fakeEnqueuer{err: errors.New("redis down")}, store: store, sender: &recordingSender{}, logger: zap.NewNop()}

	_, err := m.DispatchVerifyCode(context.Background(), "user@example.com", "123456")
	assert.Error(t, err)
}

func TestStatusHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store := newStore(t)
	_, err := store.Create(context.Background(), "j1", TaskTypeVerifyCode, "user@example.com")
	require.NoError(t, err)

	r := gin.New()
	r.GET("/api/jobs/:id", StatusHandler(store))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/jobs/j1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "queued", body["status"])
	assert.Equal(t, "u***@example.com", body["recipient"])
	assert.NotContains(t, body, "error")

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/jobs/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "JOB_NOT_FOUND")
}
