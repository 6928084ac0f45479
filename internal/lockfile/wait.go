package lockfile

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WaitForRelease blocks until the named lock is free or timeout elapses.
// A free lock returns true immediately. Waiters are woken by filesystem
// notifications on the release marker and re-check liveness on every wake
// plus a bounded idle interval, so a missed notification delays a waiter
// by at most that interval.
func (m *Manager) WaitForRelease(ctx context.Context, name string, timeout time.Duration) (bool, error) {
	held, err := m.IsHeld(name)
	if err != nil {
		return false, err
	}
	if !held {
		return true, nil
	}
	deadline := m.clock.Now().Add(timeout)
	if !m.watchable {
		return m.pollForRelease(ctx, name, deadline)
	}

	marker, err := m.markerPath(name)
	if err != nil {
		return false, err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return false, fmt.Errorf("lockfile: create watcher: %w", err)
	}
	defer watcher.Close()
	// Watch the notify directory rather than the marker itself: the
	// marker may not exist until the first release.
	if err := watcher.Add(m.notifyDir); err != nil {
		return false, fmt.Errorf("lockfile: watch %q: %w", m.notifyDir, err)
	}

	// The lock may have been released between the IsHeld check above and
	// the watch registration.
	held, err = m.IsHeld(name)
	if err != nil {
		return false, err
	}
	if !held {
		return true, nil
	}

	markerBase := filepath.Base(marker)
	for {
		remaining := deadline.Sub(m.clock.Now())
		if remaining <= 0 {
			return false, nil
		}
		idle := m.idleRecheck
		if idle > remaining {
			idle = remaining
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case event, ok := <-watcher.Events:
			if ok && filepath.Base(event.Name) != markerBase {
				continue
			}
		case err, ok := <-watcher.Errors:
			if ok {
				m.logger.Warn("lockfile.watch_error", "name", name, "error", err)
			}
		case <-m.clock.After(idle):
			// Safety-net re-check below.
		}
		held, err = m.IsHeld(name)
		if err != nil {
			return false, err
		}
		if !held {
			return true, nil
		}
	}
}

func (m *Manager) pollForRelease(ctx context.Context, name string, deadline time.Time) (bool, error) {
	for {
		remaining := deadline.Sub(m.clock.Now())
		if remaining <= 0 {
			return false, nil
		}
		interval := m.pollInterval
		if interval > remaining {
			interval = remaining
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-m.clock.After(interval):
		}
		held, err := m.IsHeld(name)
		if err != nil {
			return false, err
		}
		if !held {
			return true, nil
		}
	}
}
