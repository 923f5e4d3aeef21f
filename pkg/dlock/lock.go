package dlock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	goredislib "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var (
	// ErrNilClient is returned when the manager is constructed without a Redis client.
	ErrNilClient = errors.New("dlock: redis client is required")
	// ErrNilFn is returned when WithLock is called without a function.
	ErrNilFn = errors.New("dlock: lock function is nil")
	// ErrEmptyName is returned when a lock name is empty.
	ErrEmptyName = errors.New("dlock: lock name cannot be empty")
)

// Options bounds both the lease and the acquisition wait. The lease
// (Expiry) is what makes the lock safe: a crashed holder releases it by
// expiry, never by anything held in process memory.
type Options struct {
	Expiry     time.Duration
	Tries      int
	RetryDelay time.Duration
}

// DefaultOptions suits periodic background duties such as the outbox sweep:
// short bounded wait, lease comfortably above one sweep's duration.
func DefaultOptions() Options {
	return Options{
		Expiry:     30 * time.Second,
		Tries:      2,
		RetryDelay: 250 * time.Millisecond,
	}
}

// Manager provides cluster-wide advisory locks backed by a Redis lease.
type Manager struct {
	rs     *redsync.Redsync
	logger *zap.Logger
}

func NewManager(client goredislib.UniversalClient, logger *zap.Logger) (*Manager, error) {
	if client == nil {
		return nil, ErrNilClient
	}

	return &Manager{
		rs:     redsync.New(goredis.NewPool(client)),
		logger: logger.Named("dlock"),
	}, nil
}

// TryLock attempts to acquire the named lock within the bounded wait of opts.
// It reports false (without error) when another holder owns the lock; callers
// are expected to skip their cycle rather than block.
func (m *Manager) TryLock(ctx context.Context, name string, opts Options) (*Handle, bool, error) {
	if name == "" {
		return nil, false, ErrEmptyName
	}

	mutex := m.rs.NewMutex(name,
		redsync.WithExpiry(opts.Expiry),
		redsync.WithTries(opts.Tries),
		redsync.WithRetryDelay(opts.RetryDelay),
	)

	if err := mutex.TryLockContext(ctx); err != nil {
		var taken *redsync.ErrTaken
		if errors.As(err, &taken) || errors.Is(err, redsync.ErrFailed) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("dlock: acquire %q: %w", name, err)
	}

	return &Handle{mutex: mutex, logger: m.logger}, true, nil
}

// WithLock runs fn while holding the named lock and reports whether fn ran.
// The lock is released unconditionally afterwards, even when fn fails.
// Acquisition errors are logged and treated as "did not acquire" so a Redis
// hiccup can never cause two holders.
func (m *Manager) WithLock(ctx context.Context, name string, opts Options, fn func(context.Context) error) (bool, error) {
	if fn == nil {
		return false, ErrNilFn
	}

	handle, acquired, err := m.TryLock(ctx, name, opts)
	if err != nil {
		m.logger.Warn("lock_acquire_failed", zap.String("lock", name), zap.Error(err))
		return false, nil
	}
	if !acquired {
		return false, nil
	}

	defer handle.Unlock(ctx)
	return true, fn(ctx)
}

// Handle is an acquired lock. Release it with Unlock.
type Handle struct {
	mutex  *redsync.Mutex
	logger *zap.Logger
}

// Unlock releases the lock. A lease that already expired is not an error the
// caller can act on, so it is only logged.
func (h *Handle) Unlock(ctx context.Context) {
	if h == nil || h.mutex == nil {
		return
	}

	if ok, err := h.mutex.UnlockContext(ctx); err != nil || !ok {
		h.logger.Warn("lock_release_failed", zap.String("lock", h.mutex.Name()), zap.Error(err))
	}
}
