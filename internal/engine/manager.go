package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ManagerConfig carries the lifecycle policy knobs.
type ManagerConfig struct {
	InitTimeout time.Duration
	// Cooldown suppresses re-initialization after a transient failure.
	Cooldown time.Duration
	// IncompatCooldown suppresses re-initialization after a failure with a
	// known incompatibility signature. Expected to be much longer.
	IncompatCooldown time.Duration
}

// Manager owns the lazily-created engine handle. It is the single source of
// truth for readiness: callers go through Acquire and never construct an
// engine themselves.
//
// State machine: uninitialized -> initializing -> ready|failed,
// failed -> initializing (after cool-down), ready -> failed (crash).
type Manager struct {
	factory Factory
	cfg     ManagerConfig

	mu         sync.Mutex
	state      State
	handle     *Handle
	lastErr    error
	failedAt   time.Time
	generation uint64
	// initDone is closed when the in-flight initialization publishes its
	// outcome. All waiters block on it instead of polling.
	initDone chan struct{}
	// inits counts construction attempts, for observability.
	inits uint64
}

func NewManager(factory Factory, cfg ManagerConfig) *Manager {
	if cfg.InitTimeout <= 0 {
		cfg.InitTimeout = 20 * time.Second
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.IncompatCooldown <= 0 {
		cfg.IncompatCooldown = time.Hour
	}
	return &Manager{
		factory: factory,
		cfg:     cfg,
		state:   StateUninitialized,
	}
}

// State returns the current lifecycle state, for health reporting only.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// LastError returns the cached construction error, if any.
func (m *Manager) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// InitCount returns how many construction attempts have run.
func (m *Manager) InitCount() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inits
}

// RetryAfter reports how long callers should wait before the next attempt
// is allowed. Zero when no cool-down is active.
func (m *Manager) RetryAfter() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateFailed {
		return 0
	}
	remaining := m.cooldownFor(m.lastErr) - time.Since(m.failedAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Acquire returns the ready handle, initializing it lazily. Exactly one
// construction runs at a time; concurrent callers suspend (bounded by the
// init timeout) until the in-flight attempt publishes ready or failed, then
// re-evaluate. During a cool-down, failed state is returned immediately
// without a new attempt.
func (m *Manager) Acquire(ctx context.Context) (*Handle, error) {
	for {
		m.mu.Lock()
		switch m.state {
		case StateReady:
			h := m.handle
			m.mu.Unlock()
			return h, nil

		case StateFailed:
			if time.Since(m.failedAt) < m.cooldownFor(m.lastErr) {
				err := m.lastErr
				m.mu.Unlock()
				if IsIncompatible(err) {
					return nil, fmt.Errorf("%w: %w", ErrIncompatible, err)
				}
				return nil, fmt.Errorf("%w: cooling down after: %w", ErrUnavailable, err)
			}
			// Cool-down expired: this caller retries initialization once.
			m.beginInitLocked()
			done := m.initDone
			m.mu.Unlock()
			if err := m.await(ctx, done); err != nil {
				return nil, err
			}

		case StateUninitialized:
			m.beginInitLocked()
			done := m.initDone
			m.mu.Unlock()
			if err := m.await(ctx, done); err != nil {
				return nil, err
			}

		case StateInitializing:
			done := m.initDone
			m.mu.Unlock()
			if err := m.await(ctx, done); err != nil {
				return nil, err
			}
		}
		// Initialization finished (or we lost a race): re-check the
		// published outcome rather than assuming success.
	}
}

// MarkFailed transitions ready -> failed when a caller detects an engine
// crash on a previously ready handle. The handle is closed and discarded.
func (m *Manager) MarkFailed(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateReady {
		return
	}
	slog.Error("ocr engine crashed, discarding handle", "error", err, "generation", m.generation)
	if m.handle != nil {
		if closeErr := m.handle.Close(); closeErr != nil {
			slog.Warn("failed to close crashed engine handle", "error", closeErr)
		}
		m.handle = nil
	}
	m.state = StateFailed
	m.lastErr = err
	m.failedAt = time.Now()
}

// Shutdown releases the handle on process exit.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.handle != nil {
		if err := m.handle.Close(); err != nil {
			slog.Warn("failed to close engine handle on shutdown", "error", err)
		}
		m.handle = nil
	}
	m.state = StateUninitialized
	m.lastErr = nil
	m.initDone = nil
}

func (m *Manager) cooldownFor(err error) time.Duration {
	if IsIncompatible(err) {
		return m.cfg.IncompatCooldown
	}
	return m.cfg.Cooldown
}

// beginInitLocked transitions to initializing and spawns the construction
// goroutine. Construction is detached from any caller's context so that a
// disconnecting client never aborts an in-flight initialization.
func (m *Manager) beginInitLocked() {
	m.state = StateInitializing
	m.initDone = make(chan struct{})
	m.inits++
	done := m.initDone
	go m.initialize(done)
}

func (m *Manager) initialize(done chan struct{}) {
	defer close(done)

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.InitTimeout)
	defer cancel()

	start := time.Now()
	rec, err := m.factory(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		slog.Error("ocr engine initialization failed", "error", err, "duration", time.Since(start), "incompatible", IsIncompatible(err))
		m.state = StateFailed
		m.lastErr = err
		m.failedAt = time.Now()
		return
	}

	m.generation++
	m.handle = &Handle{
		Recognizer: rec,
		CreatedAt:  time.Now(),
		Generation: m.generation,
	}
	m.state = StateReady
	m.lastErr = nil
	slog.Info("ocr engine ready", "duration", time.Since(start), "generation", m.generation)
}

// await blocks until the in-flight initialization publishes, the caller's
// context is canceled, or the init timeout elapses for this waiter. A
// timed-out waiter gives up without affecting the initialization itself.
func (m *Manager) await(ctx context.Context, done chan struct{}) error {
	timer := time.NewTimer(m.cfg.InitTimeout)
	defer timer.Stop()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrUnavailable, ctx.Err())
	case <-timer.C:
		return fmt.Errorf("%w: %w", ErrUnavailable, ErrWaitTimeout)
	}
}
