// Package jobs は非同期ジョブ（認証コードメールの送信）の投入・実行・状態管理を提供します。
package jobs

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

const workerConcurrency = 4

// Worker は Asynq サーバーとタスクの振り分けをまとめたものです。
type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
}

func newWorker(opt asynq.RedisConnOpt, m *Manager, logger *zap.Logger) *Worker {
	server := asynq.NewServer(
		opt,
		asynq.Config{
			Concurrency: workerConcurrency,
			Queues: map[string]int{
				QueueMail: 1,
			},
			Logger: logger.Named("asynq").Sugar(),
		},
	)
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskTypeVerifyCode, m.handleVerifyCodeTask)
	return &Worker{server: server, mux: mux}
}

// Run はワーカーを起動し、ctx がキャンセルされたら停止して戻ります。
func (w *Worker) Run(ctx context.Context) error {
	if err := w.server.Start(w.mux); err != nil {
		return fmt.Errorf("failed to start asynq server: %w", err)
	}
	<-ctx.Done()
	w.server.Shutdown()
	return nil
}
