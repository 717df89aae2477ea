package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	syncdomain "github.com/salesledger/backend/internal/domain/sync"
)

// Runner executes one sync run for a source. The runner owns the
// single-flight guard; the supervisor only decides when to trigger.
type Runner interface {
	RunSync(ctx context.Context, source syncdomain.SourceKind) (syncdomain.RunResult, error)
}

// SupervisorConfig holds supervisor configuration
type SupervisorConfig struct {
	// Interval is the time between triggers for every supervised source
	Interval time.Duration
	// Sources are the integrations started by Start
	Sources []syncdomain.SourceKind
}

// DefaultSupervisorConfig returns default supervisor configuration
func DefaultSupervisorConfig() SupervisorConfig {
	return SupervisorConfig{
		Interval: 30 * time.Minute,
		Sources: []syncdomain.SourceKind{
			syncdomain.SourceAggregator,
			syncdomain.SourceLegacyDB,
		},
	}
}

// handle is the per-integration scheduling state: one ticker loop, one
// cancel, one completion signal.
type handle struct {
	source syncdomain.SourceKind
	cancel context.CancelFunc
	done   chan struct{}
}

// Supervisor owns one scheduling handle per integration. Start, Stop and
// Restart are idempotent; all handle state lives behind the supervisor's
// lock rather than in package variables.
type Supervisor struct {
	config SupervisorConfig
	runner Runner
	logger *zap.Logger

	mu      sync.Mutex
	handles map[syncdomain.SourceKind]*handle
}

// NewSupervisor creates a new supervisor instance
func NewSupervisor(config SupervisorConfig, runner Runner, logger *zap.Logger) *Supervisor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Interval <= 0 {
		config.Interval = DefaultSupervisorConfig().Interval
	}
	return &Supervisor{
		config:  config,
		runner:  runner,
		logger:  logger,
		handles: make(map[syncdomain.SourceKind]*handle),
	}
}

// Start starts a ticker loop for every configured source. Sources already
// started keep their running loop.
func (s *Supervisor) Start(ctx context.Context) error {
	for _, source := range s.config.Sources {
		if err := s.StartSource(ctx, source); err != nil {
			return err
		}
	}
	return nil
}

// StartSource starts the scheduling loop for one source. Starting an
// already-running source is a no-op.
func (s *Supervisor) StartSource(ctx context.Context, source syncdomain.SourceKind) error {
	if !source.IsValid() {
		return errors.New("scheduler: unknown source " + source.String())
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, running := s.handles[source]; running {
		return nil
	}

	loopCtx, cancel := context.WithCancel(ctx)
	h := &handle{
		source: source,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	s.handles[source] = h
	go s.loop(loopCtx, h)

	s.logger.Info("sync loop started",
		zap.String("source", source.String()),
		zap.Duration("interval", s.config.Interval),
	)
	return nil
}

// StopSource stops the scheduling loop for one source and waits for it to
// exit. Stopping a source that is not running is a no-op. An in-flight run
// keeps its context; only future triggers stop.
func (s *Supervisor) StopSource(ctx context.Context, source syncdomain.SourceKind) error {
	s.mu.Lock()
	h, running := s.handles[source]
	if running {
		delete(s.handles, source)
	}
	s.mu.Unlock()
	if !running {
		return nil
	}

	h.cancel()
	select {
	case <-h.done:
		s.logger.Info("sync loop stopped", zap.String("source", source.String()))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RestartSource stops then starts the loop for one source
func (s *Supervisor) RestartSource(ctx context.Context, source syncdomain.SourceKind) error {
	if err := s.StopSource(ctx, source); err != nil {
		return err
	}
	return s.StartSource(ctx, source)
}

// Stop stops every running loop, waiting up to the context deadline
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	handles := make([]*handle, 0, len(s.handles))
	for _, h := range s.handles {
		handles = append(handles, h)
	}
	s.handles = make(map[syncdomain.SourceKind]*handle)
	s.mu.Unlock()

	for _, h := range handles {
		h.cancel()
	}
	for _, h := range handles {
		select {
		case <-h.done:
		case <-ctx.Done():
			s.logger.Warn("supervisor stop timed out", zap.String("source", h.source.String()))
			return ctx.Err()
		}
	}
	return nil
}

// IsRunning reports whether a source has a live scheduling loop
func (s *Supervisor) IsRunning(source syncdomain.SourceKind) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, running := s.handles[source]
	return running
}

// loop triggers the runner on every tick until the handle is cancelled
func (s *Supervisor) loop(ctx context.Context, h *handle) {
	defer close(h.done)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.trigger(ctx, h.source)
		}
	}
}

// trigger runs one sync. An overlapping run is not an error here: the
// runner's single-flight guard rejected the tick, the in-flight run is
// still making progress.
func (s *Supervisor) trigger(ctx context.Context, source syncdomain.SourceKind) {
	result, err := s.runner.RunSync(ctx, source)
	switch {
	case errors.Is(err, syncdomain.ErrAlreadyRunning):
		s.logger.Debug("tick skipped, run still in flight", zap.String("source", source.String()))
	case err != nil:
		s.logger.Error("sync trigger rejected", zap.String("source", source.String()), zap.Error(err))
	case !result.Success:
		s.logger.Warn("sync run failed",
			zap.String("source", source.String()),
			zap.String("message", result.Message),
		)
	default:
		s.logger.Info("sync run finished",
			zap.String("source", source.String()),
			zap.Int("rows", result.Rows),
			zap.String("message", result.Message),
		)
	}
}
