package simcoord

import (
	"fmt"
	"time"

	"pkt.systems/pslog"

	"github.com/ksparavec/simcoord/internal/clock"
)

const (
	// DefaultHostRegistryTimeout bounds waiting for the host-registry lock.
	DefaultHostRegistryTimeout = 30 * time.Second
	// DefaultHostLeaseTimeout bounds waiting for the host-lease registry lock.
	DefaultHostLeaseTimeout = 30 * time.Second
	// DefaultRouterLockTimeout bounds a single router-lock acquisition.
	DefaultRouterLockTimeout = 60 * time.Second
	// DefaultRouterMultiLockTimeout is the aggregate budget for the sorted
	// multi-router acquisition.
	DefaultRouterMultiLockTimeout = 120 * time.Second
	// DefaultNeighborLeaseTimeout bounds waiting for the neighbor-lease
	// registry lock.
	DefaultNeighborLeaseTimeout = 30 * time.Second
	// DefaultIORetryAttempts bounds transient storage retries.
	DefaultIORetryAttempts = 3
	// DefaultIORetryDelay is the pause between storage retries.
	DefaultIORetryDelay = 100 * time.Millisecond
)

// Config captures everything a Coordinator consumes. The zero value plus
// StateDir and LockDir is a working configuration.
type Config struct {
	// StateDir holds the registry snapshots.
	StateDir string
	// LockDir holds the lock files and release markers. Ideally on a
	// memory-backed filesystem.
	LockDir string

	// Per-operation-class lock timeouts.
	HostRegistryTimeout    time.Duration
	HostLeaseTimeout       time.Duration
	RouterLockTimeout      time.Duration
	RouterMultiLockTimeout time.Duration
	NeighborLeaseTimeout   time.Duration

	// Storage retry policy for transient I/O failures.
	IORetryAttempts int
	IORetryDelay    time.Duration

	// JournalPath, when set, appends one JSON line per mutating operation
	// for diagnostics. Advisory only; journal write failures never fail
	// the operation.
	JournalPath string

	Logger pslog.Logger
	Clock  clock.Clock
}

func (c Config) withDefaults() Config {
	if c.HostRegistryTimeout <= 0 {
		c.HostRegistryTimeout = DefaultHostRegistryTimeout
	}
	if c.HostLeaseTimeout <= 0 {
		c.HostLeaseTimeout = DefaultHostLeaseTimeout
	}
	if c.RouterLockTimeout <= 0 {
		c.RouterLockTimeout = DefaultRouterLockTimeout
	}
	if c.RouterMultiLockTimeout <= 0 {
		c.RouterMultiLockTimeout = DefaultRouterMultiLockTimeout
	}
	if c.NeighborLeaseTimeout <= 0 {
		c.NeighborLeaseTimeout = DefaultNeighborLeaseTimeout
	}
	if c.IORetryAttempts <= 0 {
		c.IORetryAttempts = DefaultIORetryAttempts
	}
	if c.IORetryDelay <= 0 {
		c.IORetryDelay = DefaultIORetryDelay
	}
	if c.Logger == nil {
		c.Logger = pslog.NoopLogger()
	}
	c.Clock = clock.Ensure(c.Clock)
	return c
}

// Validate reports configuration errors that New would reject.
func (c Config) Validate() error {
	if c.StateDir == "" {
		return fmt.Errorf("simcoord: StateDir required")
	}
	if c.LockDir == "" {
		return fmt.Errorf("simcoord: LockDir required")
	}
	return nil
}
