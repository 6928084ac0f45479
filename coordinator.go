package simcoord

import (
	"context"
	"fmt"
	"os"
	"time"

	"pkt.systems/pslog"

	"github.com/ksparavec/simcoord/internal/clock"
	"github.com/ksparavec/simcoord/internal/correlation"
	"github.com/ksparavec/simcoord/internal/lockfile"
	"github.com/ksparavec/simcoord/internal/store"
)

// Registry names (one snapshot file each).
const (
	registryHosts          = "hosts"
	registryHostLeases     = "host-leases"
	registryNeighborLeases = "neighbor-leases"
)

// Named locks. The global acquisition order is: host registry, host
// leases, router locks (sorted among themselves), neighbor leases. Every
// registry operation takes exactly one of these; router locks are the only
// multi-lock path and go through the sorted multi-acquire, so no code path
// can violate the order.
const (
	lockHostRegistry   = "registry/hosts"
	lockHostLeases     = "registry/host-leases"
	lockNeighborLeases = "registry/neighbor-leases"

	routerLockPrefix = "router/"
)

// Coordinator is the public surface of the coordination layer. It is safe
// for concurrent use; cross-process safety comes from the file-backed
// locks and atomic snapshot writes underneath.
type Coordinator struct {
	cfg     Config
	store   *store.Store
	locks   *lockfile.Manager
	clock   clock.Clock
	logger  pslog.Logger
	journal *journal
}

// New builds a Coordinator over the configured state and lock directories,
// creating them as needed.
func New(cfg Config) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	logger := cfg.Logger.With("component", "coordinator")

	st, err := store.New(cfg.StateDir, store.Options{
		RetryAttempts: cfg.IORetryAttempts,
		RetryDelay:    cfg.IORetryDelay,
		Clock:         cfg.Clock,
		Logger:        cfg.Logger,
	})
	if err != nil {
		return nil, err
	}
	locks, err := lockfile.New(cfg.LockDir, lockfile.Options{
		Clock:  cfg.Clock,
		Logger: cfg.Logger,
	})
	if err != nil {
		return nil, err
	}
	c := &Coordinator{
		cfg:    cfg,
		store:  st,
		locks:  locks,
		clock:  cfg.Clock,
		logger: logger,
	}
	if cfg.JournalPath != "" {
		c.journal = newJournal(cfg.JournalPath, cfg.Clock, cfg.Logger)
	}
	return c, nil
}

func (c *Coordinator) lockOwner(ctx context.Context) string {
	if id := correlation.ID(ctx); id != "" {
		return id
	}
	return fmt.Sprintf("pid-%d", os.Getpid())
}

// withRegistryLock runs fn while holding the named registry lock. A lock
// timeout surfaces as a Failure so registry callers never have to check a
// boolean.
func (c *Coordinator) withRegistryLock(ctx context.Context, name string, timeout time.Duration, fn func() error) error {
	ok, err := c.locks.Acquire(ctx, name, c.lockOwner(ctx), timeout)
	if err != nil {
		return fmt.Errorf("acquire %s: %w", name, err)
	}
	if !ok {
		return failuref(CodeLockTimeout, "lock %s not acquired within %s", name, timeout)
	}
	defer func() {
		if _, err := c.locks.Release(name); err != nil {
			c.logger.Warn("coordinator.lock_release_failed", "lock", name, "error", err)
		}
	}()
	return fn()
}

func (c *Coordinator) opLogger(ctx context.Context) pslog.Logger {
	logger := pslog.LoggerFromContext(ctx)
	if logger == nil {
		logger = c.logger
	}
	if id := correlation.ID(ctx); id != "" {
		logger = logger.With("correlation_id", id)
	}
	return logger
}

// StateDir returns the directory holding the registry snapshots.
func (c *Coordinator) StateDir() string { return c.store.Root() }

// Close releases coordinator resources. Locks still held by this process
// are deliberately left in place: a crashing job must not silently free
// locks its cleanup handlers are about to inspect.
func (c *Coordinator) Close() error {
	if c.journal != nil {
		return c.journal.close()
	}
	return nil
}
