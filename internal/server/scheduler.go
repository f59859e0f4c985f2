package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"sales-dashboard/internal/models"
)

type Reloader interface {
	Reload(ctx context.Context) (*models.Dataset, error)
}

// ReloadScheduler re-reads the dataset on a cron schedule. Overlapping runs
// are skipped rather than queued.
type ReloadScheduler struct {
	cron     *cron.Cron
	reloader Reloader
	timeout  time.Duration
	logger   *slog.Logger
}

func NewReloadScheduler(spec string, reloader Reloader, timeout time.Duration, logger *slog.Logger) (*ReloadScheduler, error) {
	cl := cronLogger{logger: logger.With("component", "reload_scheduler")}
	s := &ReloadScheduler{
		cron:     cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		reloader: reloader,
		timeout:  timeout,
		logger:   cl.logger,
	}

	if _, err := s.cron.AddFunc(spec, s.run); err != nil {
		return nil, fmt.Errorf("invalid reload schedule %q: %w", spec, err)
	}
	return s, nil
}

func (s *ReloadScheduler) Start() {
	s.logger.Info("reload scheduler started")
	s.cron.Start()
}

// Stop halts the schedule and waits for a running reload, bounded by ctx.
func (s *ReloadScheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *ReloadScheduler) run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	start := time.Now()
	ds, err := s.reloader.Reload(ctx)
	if err != nil {
		s.logger.Error("scheduled reload failed", "error", err, "duration", time.Since(start))
		return
	}
	s.logger.Info("scheduled reload completed",
		"records", ds.Len(),
		"generation", ds.Generation,
		"duration", time.Since(start),
	)
}

type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
