package main

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/yourusername/eleme-backend/internal/config"
	"github.com/yourusername/eleme-backend/internal/jobs"
	"github.com/yourusername/eleme-backend/internal/kv"
	"github.com/yourusername/eleme-backend/internal/mail"
)

const redisKeyPrefix = "eleme:"

// backends は KV とメール送信ジョブの配線です。
// REDIS_URL があれば Redis + Asynq、無ければインメモリ + 同期送信になります。
type backends struct {
	kv         kv.Store
	jobStore   *jobs.Store
	dispatcher jobs.Dispatcher
	worker     *jobs.Worker
	closers    []func() error
}

func setupBackends(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*backends, error) {
	sender := mail.New(cfg.SMTPAddr, cfg.MailFrom, cfg.SMTPUsername, cfg.SMTPPassword, logger.Named("mail"))
	b := &backends{}

	if cfg.RedisURL == "" {
		mem := kv.NewMemoryStore()
		b.kv = mem
		b.closers = append(b.closers, mem.Close)
		b.jobStore = jobs.NewStore(mem, cfg.JobTTL)
		b.dispatcher = jobs.NewInline(b.jobStore, sender, logger.Named("jobs"))
		logger.Warn("REDIS_URL is empty; using in-memory KV and inline mail delivery")
		return b, nil
	}

	rs, err := kv.OpenRedis(ctx, cfg.RedisURL, redisKeyPrefix)
	if err != nil {
		return nil, err
	}
	b.kv = rs
	b.closers = append(b.closers, rs.Close)
	b.jobStore = jobs.NewStore(rs, cfg.JobTTL)

	manager, err := jobs.NewManager(cfg.RedisURL, b.jobStore, sender, logger.Named("jobs"))
	if err != nil {
		_ = b.Close()
		return nil, err
	}
	b.closers = append(b.closers, manager.Close)
	b.dispatcher = manager
	b.worker = manager.Worker()
	return b, nil
}

// Close は後から開いたものから順に閉じます。
func (b *backends) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	b.closers = nil
	return errors.Join(errs...)
}
