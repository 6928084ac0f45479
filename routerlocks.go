package simcoord

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ksparavec/simcoord/internal/lockfile"
)

func routerLockName(router string) (string, error) {
	router = strings.TrimSpace(router)
	if router == "" {
		return "", failuref(CodeInvalid, "router name required")
	}
	return routerLockPrefix + router, nil
}

func routerLockNames(routers []string) ([]string, error) {
	names := make([]string, 0, len(routers))
	for _, router := range routers {
		name, err := routerLockName(router)
		if err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, nil
}

// AcquireRouterLock obtains the exclusive lock for one router on behalf of
// jobID. Holding it grants exclusive rights over the router and, by
// convention, every host leased to it. A timeout is a false result, not an
// error.
func (c *Coordinator) AcquireRouterLock(ctx context.Context, router, jobID string, timeout time.Duration) (bool, error) {
	name, err := routerLockName(router)
	if err != nil {
		return false, err
	}
	ok, err := c.locks.Acquire(ctx, name, jobID, timeout)
	if err != nil {
		return false, fmt.Errorf("router lock %q: %w", router, err)
	}
	if ok {
		c.opLogger(ctx).Info("router.lock.acquired", "router", router, "job_id", jobID)
		c.journal.record(ctx, "acquire_router_lock", map[string]any{
			"router": router,
			"job_id": jobID,
		})
	}
	return ok, nil
}

// ReleaseRouterLock frees the router lock and notifies waiters. Router
// locks are owned by job identifier, not process: the release succeeds
// from any process as long as jobID matches the recorded owner, and
// returns false otherwise.
func (c *Coordinator) ReleaseRouterLock(ctx context.Context, router, jobID string) (bool, error) {
	name, err := routerLockName(router)
	if err != nil {
		return false, err
	}
	released, err := c.locks.ReleaseOwner(name, jobID)
	if err != nil {
		return false, fmt.Errorf("router unlock %q: %w", router, err)
	}
	if released {
		c.opLogger(ctx).Info("router.lock.released", "router", router, "job_id", jobID)
		c.journal.record(ctx, "release_router_lock", map[string]any{
			"router": router,
			"job_id": jobID,
		})
	}
	return released, nil
}

// IsRouterLocked reports lock liveness without taking any lock.
func (c *Coordinator) IsRouterLocked(router string) (bool, error) {
	name, err := routerLockName(router)
	if err != nil {
		return false, err
	}
	return c.locks.IsHeld(name)
}

// RouterLockOwner returns the diagnostic owner payload of a held router
// lock. The boolean is false when the lock is free.
func (c *Coordinator) RouterLockOwner(router string) (lockfile.OwnerInfo, bool, error) {
	name, err := routerLockName(router)
	if err != nil {
		return lockfile.OwnerInfo{}, false, err
	}
	return c.locks.Owner(name)
}

// ListRouterLocks returns every currently held router lock keyed by router
// name. Diagnostic only; the snapshot can be stale by the time it returns.
func (c *Coordinator) ListRouterLocks() (map[string]lockfile.OwnerInfo, error) {
	all, err := c.locks.List()
	if err != nil {
		return nil, err
	}
	routers := make(map[string]lockfile.OwnerInfo)
	for name, info := range all {
		if router, ok := strings.CutPrefix(name, routerLockPrefix); ok {
			routers[router] = info
		}
	}
	return routers, nil
}

// AcquireAllRouterLocksAtomic locks every listed router or none: the names
// are acquired in sorted order against one aggregate budget, and on any
// failure the already-acquired subset is released before returning false.
// After a false return the caller holds none of the locks.
func (c *Coordinator) AcquireAllRouterLocksAtomic(ctx context.Context, routers []string, jobID string, timeout time.Duration) (bool, error) {
	names, err := routerLockNames(routers)
	if err != nil {
		return false, err
	}
	ok, acquired, acqErr := c.locks.AcquireMultipleSorted(ctx, names, jobID, timeout)
	if ok {
		c.opLogger(ctx).Info("router.lock_all.acquired",
			"routers", strings.Join(routers, ","),
			"job_id", jobID,
		)
		c.journal.record(ctx, "acquire_all_router_locks", map[string]any{
			"routers": routers,
			"job_id":  jobID,
		})
		return true, nil
	}
	// The primitive reports partial success; the rollback is ours.
	released := c.locks.ReleaseMultiple(acquired)
	c.opLogger(ctx).Info("router.lock_all.rolled_back",
		"job_id", jobID,
		"partial", len(acquired),
		"released", released,
	)
	if acqErr != nil {
		return false, fmt.Errorf("router lock-all: %w", acqErr)
	}
	return false, nil
}

// ReleaseAllRouterLocks releases every listed router lock best-effort and
// returns how many were actually released.
func (c *Coordinator) ReleaseAllRouterLocks(ctx context.Context, routers []string, jobID string) int {
	names, err := routerLockNames(routers)
	if err != nil {
		return 0
	}
	count := c.locks.ReleaseOwnerMultiple(names, jobID)
	if count > 0 {
		c.opLogger(ctx).Info("router.lock_all.released",
			"routers", strings.Join(routers, ","),
			"job_id", jobID,
			"released", count,
		)
		c.journal.record(ctx, "release_all_router_locks", map[string]any{
			"routers":  routers,
			"job_id":   jobID,
			"released": count,
		})
	}
	return count
}

// WithRouterLock runs fn while holding the router lock, releasing it on
// every exit path. An unobtainable lock is a lock-timeout Failure.
func (c *Coordinator) WithRouterLock(ctx context.Context, router, jobID string, timeout time.Duration, fn func(ctx context.Context) error) error {
	ok, err := c.AcquireRouterLock(ctx, router, jobID, timeout)
	if err != nil {
		return err
	}
	if !ok {
		return failuref(CodeLockTimeout, "router %q not locked within %s", router, timeout)
	}
	defer func() {
		if _, err := c.ReleaseRouterLock(ctx, router, jobID); err != nil {
			c.opLogger(ctx).Warn("router.lock.release_failed", "router", router, "error", err)
		}
	}()
	return fn(ctx)
}

// WithAllRouterLocks is WithRouterLock over the atomic multi-acquire.
func (c *Coordinator) WithAllRouterLocks(ctx context.Context, routers []string, jobID string, timeout time.Duration, fn func(ctx context.Context) error) error {
	ok, err := c.AcquireAllRouterLocksAtomic(ctx, routers, jobID, timeout)
	if err != nil {
		return err
	}
	if !ok {
		return failuref(CodeLockTimeout, "routers %s not locked within %s", strings.Join(routers, ","), timeout)
	}
	defer c.ReleaseAllRouterLocks(ctx, routers, jobID)
	return fn(ctx)
}

// WaitForRouter blocks until the router lock is released or timeout
// elapses, woken by the release notification rather than by polling.
func (c *Coordinator) WaitForRouter(ctx context.Context, router string, timeout time.Duration) (bool, error) {
	name, err := routerLockName(router)
	if err != nil {
		return false, err
	}
	return c.locks.WaitForRelease(ctx, name, timeout)
}

// WaitForAllRouters waits for every listed router sequentially against one
// shared deadline budget.
func (c *Coordinator) WaitForAllRouters(ctx context.Context, routers []string, timeout time.Duration) (bool, error) {
	names, err := routerLockNames(routers)
	if err != nil {
		return false, err
	}
	deadline := c.clock.Now().Add(timeout)
	for _, name := range names {
		remaining := deadline.Sub(c.clock.Now())
		if remaining <= 0 {
			return false, nil
		}
		ok, err := c.locks.WaitForRelease(ctx, name, remaining)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}
