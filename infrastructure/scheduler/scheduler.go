// Package scheduler runs the periodic session expiry sweep.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// lockResource names the lease that keeps concurrent sweeps apart
const lockResource = "session-cleanup"

// Sweeper removes sessions idle for longer than maxAge
type Sweeper interface {
	CleanupExpiredSessions(ctx context.Context, maxAge time.Duration) int
}

// Locker hands out a lease so only one process sweeps at a time
type Locker interface {
	TryLock(ctx context.Context, resource string, ttl time.Duration) (release func(context.Context) error, err error)
}

// Scheduler triggers Sweeper on a cron schedule
type Scheduler struct {
	cron    *cron.Cron
	sweeper Sweeper
	maxAge  time.Duration
	timeout time.Duration
	locker  Locker
	logger  *zap.Logger

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

// Option customizes a Scheduler
type Option func(*Scheduler)

// WithLocker guards each run with a lease
func WithLocker(locker Locker) Option {
	return func(s *Scheduler) { s.locker = locker }
}

// WithRunTimeout bounds a single sweep
func WithRunTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// New parses spec (standard five-field cron or a descriptor such as
// "@every 10m") and registers the sweep
func New(spec string, sweeper Sweeper, maxAge time.Duration, logger *zap.Logger, opts ...Option) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scheduler{
		sweeper: sweeper,
		maxAge:  maxAge,
		timeout: time.Minute,
		logger:  logger,
		ctx:     context.Background(),
	}
	for _, opt := range opts {
		opt(s)
	}

	cronLogger := &zapCronLogger{logger: logger.Named("cron").Sugar()}
	s.cron = cron.New(
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)
	if _, err := s.cron.AddFunc(spec, func() { s.RunOnce(s.runContext()) }); err != nil {
		return nil, fmt.Errorf("invalid cleanup schedule %q: %w", spec, err)
	}
	return s, nil
}

// Start begins scheduling; runs stop when ctx is cancelled
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Info("Cleanup scheduler started", zap.Duration("max_age", s.maxAge))
}

// Stop halts scheduling and waits for a running sweep
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	s.logger.Info("Cleanup scheduler stopped")
}

func (s *Scheduler) runContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

// RunOnce performs one sweep and returns how many sessions were removed
func (s *Scheduler) RunOnce(ctx context.Context) int {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if s.locker != nil {
		release, err := s.locker.TryLock(ctx, lockResource, s.timeout)
		if err != nil {
			s.logger.Debug("Sweep skipped", zap.Error(err))
			return 0
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				s.logger.Warn("Failed to release sweep lock", zap.Error(err))
			}
		}()
	}

	removed := s.sweeper.CleanupExpiredSessions(ctx, s.maxAge)
	if removed > 0 {
		s.logger.Info("Expired sessions removed", zap.Int("count", removed))
	}
	return removed
}

// zapCronLogger satisfies cron.Logger
type zapCronLogger struct {
	logger *zap.SugaredLogger
}

func (l *zapCronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debugw(msg, keysAndValues...)
}

func (l *zapCronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Errorw(msg, append(keysAndValues, "error", err)...)
}
