package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"sc_archive/internal/config"
	"sc_archive/internal/domain"
)

// Syncer defines the interface for sync operations.
type Syncer interface {
	Sync(ctx context.Context) (*domain.SyncStats, error)
}

// Notifier receives the message of every failed cycle.
type Notifier interface {
	PublishError(ctx context.Context, message string) error
}

// Scheduler runs cycles back to back. A successful cycle is followed by a
// pause up to the next interval boundary; a failed one by the retry or error
// delay depending on what went wrong.
type Scheduler struct {
	syncer     Syncer
	notifier   Notifier
	interval   time.Duration
	retryDelay time.Duration
	errorDelay time.Duration
	logger     *slog.Logger

	after func(time.Duration) <-chan time.Time
}

func NewScheduler(syncer Syncer, notifier Notifier, cfg config.SyncConfig, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		syncer:     syncer,
		notifier:   notifier,
		interval:   cfg.Interval,
		retryDelay: cfg.RetryDelay,
		errorDelay: cfg.ErrorDelay,
		logger:     logger.With("component", "scheduler"),
		after:      time.After,
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("scheduler started",
		"interval", s.interval,
		"retry_delay", s.retryDelay,
		"error_delay", s.errorDelay,
	)

	for {
		delay := s.runSync(ctx)
		if ctx.Err() != nil {
			s.logger.Info("scheduler stopped")
			return ctx.Err()
		}

		s.logger.Debug("waiting for next cycle", "delay", delay)

		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return ctx.Err()
		case <-s.after(delay):
		}
	}
}

// runSync runs one cycle and returns how long to wait before the next.
func (s *Scheduler) runSync(ctx context.Context) time.Duration {
	start := time.Now()

	_, err := s.syncer.Sync(ctx)
	if err == nil {
		return max(s.interval-time.Since(start), 0)
	}
	if ctx.Err() != nil {
		return 0
	}

	message, delay := s.classify(err)
	s.logger.Error("sync failed", "error", err, "retry_in", delay)

	if pubErr := s.notifier.PublishError(ctx, message); pubErr != nil {
		s.logger.Warn("failed to publish error", "error", pubErr)
	}
	return delay
}

// classify picks the reported message and the delay for a failed cycle.
// Rejected credentials and upstream failures are retried sooner since they
// are expected to clear on their own or through set-auth.
func (s *Scheduler) classify(err error) (string, time.Duration) {
	var session *domain.SessionError
	if errors.As(err, &session) {
		return session.Message(), s.retryDelay
	}
	if errors.Is(err, domain.ErrSessionInvalid) {
		return "Invalid session!", s.retryDelay
	}

	var upstream *domain.UpstreamError
	if errors.As(err, &upstream) {
		return upstream.Error(), s.retryDelay
	}

	return err.Error(), s.errorDelay
}
