package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/ledgerkit/devicesync/internal/auth"
	"github.com/ledgerkit/devicesync/internal/secrets"
	pkgsync "github.com/ledgerkit/devicesync/internal/sync"
	"github.com/ledgerkit/devicesync/internal/syncerr"
)

const (
	// InitialDelay is the wait between Start and the first pass
	InitialDelay = 60 * time.Second

	// Interval is the period between passes
	Interval = 4 * time.Hour
)

// quietFailures are failure messages that only mean the user is signed out
var quietFailures = []string{
	"No refresh token",
	"not authenticated",
	"Session expired",
}

// Runner runs a pass over every stream
type Runner interface {
	RunAll(ctx context.Context) ([]*pkgsync.SyncResult, error)
}

// Scheduler owns the background sync loop
type Scheduler struct {
	runner  Runner
	secrets secrets.Store
	clock   clock.WithTicker
	logger  *slog.Logger

	mu         sync.Mutex
	cancelFunc context.CancelFunc
	done       chan struct{}
}

// Option configures the scheduler
type Option func(*Scheduler)

// WithClock replaces the wall clock
func WithClock(c clock.WithTicker) Option {
	return func(s *Scheduler) {
		s.clock = c
	}
}

// WithLogger replaces the default logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// New creates a scheduler. It does nothing until Start is called.
func New(runner Runner, secretStore secrets.Store, opts ...Option) *Scheduler {
	s := &Scheduler{
		runner:  runner,
		secrets: secretStore,
		clock:   clock.RealClock{},
		logger:  slog.Default(),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start runs the loop until ctx is cancelled or Stop is called.
// It must be called at most once.
func (s *Scheduler) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	if s.cancelFunc != nil {
		s.mu.Unlock()
		cancel()
		return errors.New("scheduler already started")
	}
	s.cancelFunc = cancel
	s.mu.Unlock()

	defer func() {
		cancel()
		close(s.done)
		s.logger.Info("Background sync scheduler stopped")
	}()

	s.logger.Info("Starting background sync scheduler",
		"initial_delay", InitialDelay,
		"interval", Interval)

	timer := s.clock.NewTimer(InitialDelay)
	select {
	case <-ctx.Done():
		timer.Stop()
		return nil
	case <-timer.C():
	}

	s.tick(ctx)

	ticker := s.clock.NewTicker(Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C():
			s.tick(ctx)
		case <-ctx.Done():
			return nil
		}
	}
}

// Stop cancels the loop and waits for it to exit. It is a no-op when the
// scheduler was never started.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancelFunc
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	s.logger.Info("Stopping background sync scheduler")
	cancel()
	<-s.done
}

// tick runs one scheduled pass if the device holds a refresh token
func (s *Scheduler) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	_, ok, err := s.secrets.GetSecret(auth.RefreshTokenKey)
	if err != nil {
		s.logger.Debug("Skipping scheduled sync, secret store unavailable", "error", err)
		return
	}
	if !ok {
		s.logger.Debug("Skipping scheduled sync, not signed in")
		return
	}

	started := s.clock.Now()
	results, err := s.runner.RunAll(ctx)
	totals := pkgsync.Summarize(results)
	attrs := []any{
		"streams", totals.Streams,
		"segments_applied", totals.SegmentsApplied,
		"events_applied", totals.EventsApplied,
		"events_pushed", totals.EventsPushed,
		"duration", s.clock.Since(started),
	}

	if err == nil {
		s.logger.Info("Scheduled sync completed", attrs...)
		return
	}

	attrs = append(attrs, "failed", totals.Failed, "error", err)
	s.logger.Log(ctx, failureLevel(err), "Scheduled sync failed", attrs...)
}

// failureLevel keeps signed-out failures out of the warning log
func failureLevel(err error) slog.Level {
	if se, ok := syncerr.As(err); ok && se.Kind() == syncerr.KindAuth {
		return slog.LevelDebug
	}
	msg := err.Error()
	for _, quiet := range quietFailures {
		if strings.Contains(msg, quiet) {
			return slog.LevelDebug
		}
	}
	return slog.LevelWarn
}
