package shutdown

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jaypaulb/sdbridge/core"

	"go.uber.org/zap"
)

// Manager ties together signal handling, in-flight tracking and ordered
// cleanup for one CLI invocation.
//
//	m := shutdown.NewManager(ctx, logger.Zap())
//	m.Register("generator", 20, func(context.Context) error { return gen.Close() })
//	m.Start()
//	defer m.Shutdown()
//
//	err := m.WrapOperation(m.Context(), "txt2img", func(ctx context.Context) error {
//	    _, err := gen.Generate(ctx, params)
//	    return err
//	})
type Manager struct {
	logger   *zap.Logger
	timeout  time.Duration
	exit     func(code int)
	mu       sync.Mutex
	started  bool
	shutdown bool

	ctx    context.Context
	cancel context.CancelFunc

	tracker  *OperationTracker
	registry *ShutdownRegistry
	signals  *SignalCounter

	sigChan chan os.Signal
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithTimeout bounds the whole shutdown sequence. Default 30s.
func WithTimeout(timeout time.Duration) ManagerOption {
	return func(m *Manager) {
		m.timeout = timeout
	}
}

// WithExitFunc replaces os.Exit for the forced exit on a second signal.
func WithExitFunc(exit func(code int)) ManagerOption {
	return func(m *Manager) {
		m.exit = exit
	}
}

// NewManager derives the managed context from parent.
func NewManager(parent context.Context, logger *zap.Logger, opts ...ManagerOption) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(parent)

	m := &Manager{
		logger:   logger,
		timeout:  30 * time.Second,
		exit:     os.Exit,
		ctx:      ctx,
		cancel:   cancel,
		tracker:  NewOperationTracker(),
		registry: NewShutdownRegistry(),
		sigChan:  make(chan os.Signal, 2),
	}
	for _, opt := range opts {
		opt(m)
	}

	m.signals = NewSignalCounter(2, func(sig os.Signal) {
		m.logger.Warn("Received second signal, forcing exit", zap.String("signal", sig.String()))
		m.exit(exitCodeFor(sig))
	})

	return m
}

// Context is cancelled by the first signal or by Shutdown.
func (m *Manager) Context() context.Context {
	return m.ctx
}

// Register adds a cleanup function; lower priorities run first.
func (m *Manager) Register(name string, priority int, fn core.ShutdownFunc) {
	m.registry.Register(name, priority, fn)
	m.logger.Debug("Registered shutdown handler",
		zap.String("name", name),
		zap.Int("priority", priority),
	)
}

// Start listens for SIGINT and SIGTERM. Calling it twice is a no-op.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return
	}
	m.started = true

	signal.Notify(m.sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		for sig := range m.sigChan {
			m.handleSignal(sig)
		}
	}()
}

func (m *Manager) handleSignal(sig os.Signal) {
	if m.signals.Increment(sig) == 1 {
		m.logger.Info("Received shutdown signal, finishing current generation",
			zap.String("signal", sig.String()),
			zap.Int64("in_flight", m.tracker.ActiveCount()),
		)
		m.cancel()
	}
}

// Shutdown stops new operations, waits for running ones, then runs the
// cleanup functions, all within the configured timeout. It is idempotent.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		return nil
	}
	m.shutdown = true
	started := m.started
	m.mu.Unlock()

	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	m.tracker.Close()
	if active := m.tracker.ActiveCount(); active > 0 {
		m.logger.Info("Waiting for in-flight operations", zap.Int64("active_count", active))
	}
	if err := m.tracker.Wait(ctx); err != nil {
		m.logger.Warn("Timeout waiting for in-flight operations",
			zap.Int64("remaining_ops", m.tracker.ActiveCount()),
		)
	}

	// Cleanup always gets at least a second.
	cleanupCtx := ctx
	if deadline, _ := ctx.Deadline(); time.Until(deadline) < time.Second {
		var cleanupCancel context.CancelFunc
		cleanupCtx, cleanupCancel = context.WithTimeout(context.Background(), time.Second)
		defer cleanupCancel()
	}

	m.logger.Debug("Running cleanup", zap.Strings("handlers", m.registry.Names()))
	errs := m.registry.Shutdown(cleanupCtx)
	for _, err := range errs {
		m.logger.Error("Cleanup failed", zap.Error(err))
	}

	m.cancel()
	if started {
		signal.Stop(m.sigChan)
	}

	m.logger.Debug("Shutdown finished",
		zap.Duration("duration", time.Since(start)),
		zap.Int("errors", len(errs)),
	)
	return errors.Join(errs...)
}

// WrapOperation runs fn as a tracked operation. It returns ErrTrackerClosed
// during shutdown and the context error if ctx or the managed context is
// already done.
func (m *Manager) WrapOperation(ctx context.Context, name string, fn func(context.Context) error) error {
	if !m.tracker.Start() {
		m.logger.Debug("Operation rejected, shutting down", zap.String("operation", name))
		return ErrTrackerClosed
	}
	defer m.tracker.Done()

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := m.ctx.Err(); err != nil {
		return err
	}
	return fn(ctx)
}

// ActiveOperations returns the number of running operations.
func (m *Manager) ActiveOperations() int64 {
	return m.tracker.ActiveCount()
}

// IsShuttingDown reports whether Shutdown has started.
func (m *Manager) IsShuttingDown() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.shutdown
}

// RegisteredHandlers returns handler names in execution order.
func (m *Manager) RegisteredHandlers() []string {
	return m.registry.Names()
}

// ExitCode returns 128+signo for the signal that interrupted the run, or
// ExitCodeSuccess when no signal was received.
func (m *Manager) ExitCode() int {
	sig := m.signals.LastSignal()
	if sig == nil {
		return core.ExitCodeSuccess
	}
	return exitCodeFor(sig)
}

func exitCodeFor(sig os.Signal) int {
	if sig == syscall.SIGTERM {
		return core.ExitCodeSIGTERM
	}
	return core.ExitCodeSIGINT
}
