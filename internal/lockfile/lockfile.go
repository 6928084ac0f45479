// Package lockfile implements named, cross-process exclusive locks backed
// by lock files: the existence of a lock file means "held". Release
// touches a companion marker that waiters watch through fsnotify, so a
// blocked process wakes on release instead of polling the lock.
//
// AcquireMultipleSorted is the only path in this repository that may hold
// more than one named lock at a time. It acquires in lexicographic order,
// which is the system-wide deadlock-avoidance rule.
package lockfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"pkt.systems/pslog"

	"github.com/ksparavec/simcoord/internal/clock"
)

// DefaultIdleRecheck bounds how long a waiter goes without re-checking
// lock liveness when no notification arrives. Safety net against a missed
// marker event.
const DefaultIdleRecheck = 1 * time.Second

// DefaultPollInterval drives the waiter on filesystems where fsnotify is
// unreliable (NFS) and the waiter degrades to interval polling.
const DefaultPollInterval = 200 * time.Millisecond

// OwnerInfo is the diagnostic payload stored inside a lock file.
type OwnerInfo struct {
	Owner      string    `json:"owner"`
	PID        int       `json:"pid"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// Options captures the tunables for a Manager.
type Options struct {
	Clock        clock.Clock
	Logger       pslog.Logger
	IdleRecheck  time.Duration
	PollInterval time.Duration
}

// Manager hands out named exclusive locks rooted at one lock directory.
// The locks are system-wide: any process pointing a Manager at the same
// directory contends for the same locks.
type Manager struct {
	dir          string
	notifyDir    string
	clock        clock.Clock
	logger       pslog.Logger
	idleRecheck  time.Duration
	pollInterval time.Duration
	watchable    bool

	mu   sync.Mutex
	held map[string]string // name -> owner
}

// New initialises a lock manager rooted at dir.
func New(dir string, opts Options) (*Manager, error) {
	if dir == "" {
		return nil, fmt.Errorf("lockfile: lock directory required")
	}
	root := filepath.Clean(dir)
	notifyDir := filepath.Join(root, "notify")
	for _, d := range []string{root, notifyDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("lockfile: prepare directory %q: %w", d, err)
		}
	}
	logger := opts.Logger
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	idle := opts.IdleRecheck
	if idle <= 0 {
		idle = DefaultIdleRecheck
	}
	poll := opts.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	m := &Manager{
		dir:          root,
		notifyDir:    notifyDir,
		clock:        clock.Ensure(opts.Clock),
		logger:       logger.With("component", "lockfile"),
		idleRecheck:  idle,
		pollInterval: poll,
		watchable:    watchSupported(root),
		held:         make(map[string]string),
	}
	if !m.watchable {
		m.logger.Warn("lockfile.watch_unsupported",
			"dir", root,
			"fallback", "polling",
		)
	}
	return m, nil
}

func encodeName(name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("lockfile: lock name required")
	}
	encoded := url.PathEscape(name)
	if strings.Contains(encoded, "..") {
		return "", fmt.Errorf("lockfile: invalid lock name %q", name)
	}
	return encoded, nil
}

func (m *Manager) lockPath(name string) (string, error) {
	encoded, err := encodeName(name)
	if err != nil {
		return "", err
	}
	return filepath.Join(m.dir, encoded+".lock"), nil
}

func (m *Manager) markerPath(name string) (string, error) {
	encoded, err := encodeName(name)
	if err != nil {
		return "", err
	}
	return filepath.Join(m.notifyDir, encoded), nil
}

// Acquire obtains the named lock, blocking up to timeout. It returns false
// when the budget elapses without the lock becoming free; an error means
// the lock system itself failed, which callers must treat differently from
// plain contention.
func (m *Manager) Acquire(ctx context.Context, name, owner string, timeout time.Duration) (bool, error) {
	deadline := m.clock.Now().Add(timeout)
	return m.acquireUntil(ctx, name, owner, deadline)
}

func (m *Manager) acquireUntil(ctx context.Context, name, owner string, deadline time.Time) (bool, error) {
	path, err := m.lockPath(name)
	if err != nil {
		return false, err
	}
	for {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		created, err := m.tryCreate(path, owner)
		if err != nil {
			return false, err
		}
		if created {
			m.mu.Lock()
			m.held[name] = owner
			m.mu.Unlock()
			m.logger.Debug("lockfile.acquired", "name", name, "owner", owner)
			return true, nil
		}
		remaining := deadline.Sub(m.clock.Now())
		if remaining <= 0 {
			m.logger.Debug("lockfile.acquire_timeout", "name", name, "owner", owner)
			return false, nil
		}
		// Block until a release notification or the budget runs out,
		// then race for the file again.
		if _, err := m.WaitForRelease(ctx, name, remaining); err != nil {
			return false, err
		}
	}
}

func (m *Manager) tryCreate(path, owner string) (bool, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if errors.Is(err, os.ErrExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lockfile: create lock %q: %w", path, err)
	}
	info := OwnerInfo{Owner: owner, PID: os.Getpid(), AcquiredAt: m.clock.Now()}
	payload, err := json.Marshal(info)
	if err == nil {
		_, err = f.Write(payload)
	}
	if err == nil {
		err = f.Sync()
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(path)
		return false, fmt.Errorf("lockfile: write lock %q: %w", path, err)
	}
	return true, nil
}

// Release returns the named lock to the available state and touches the
// notification marker. It returns false when this process does not hold
// the lock.
func (m *Manager) Release(name string) (bool, error) {
	m.mu.Lock()
	_, holding := m.held[name]
	if holding {
		delete(m.held, name)
	}
	m.mu.Unlock()
	if !holding {
		return false, nil
	}
	path, err := m.lockPath(name)
	if err != nil {
		return false, err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("lockfile: remove lock %q: %w", path, err)
	}
	m.touchMarker(name)
	m.logger.Debug("lockfile.released", "name", name)
	return true, nil
}

// touchMarker is the sole wake-signal producer for waiters. Failures are
// logged and swallowed: waiters recover through the idle re-check.
func (m *Manager) touchMarker(name string) {
	path, err := m.markerPath(name)
	if err != nil {
		return
	}
	stamp := m.clock.Now().Format(time.RFC3339Nano)
	if err := os.WriteFile(path, []byte(stamp+"\n"), 0o644); err != nil {
		m.logger.Warn("lockfile.marker_touch_failed", "name", name, "error", err)
	}
}

// ReleaseOwner releases the named lock when its recorded owner matches
// owner, regardless of which process acquired it. Router-style locks are
// owned by job identifier, and one logical job may span several
// short-lived processes.
func (m *Manager) ReleaseOwner(name, owner string) (bool, error) {
	info, held, err := m.Owner(name)
	if err != nil {
		return false, err
	}
	if !held || info.Owner != owner {
		return false, nil
	}
	path, err := m.lockPath(name)
	if err != nil {
		return false, err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("lockfile: remove lock %q: %w", path, err)
	}
	m.mu.Lock()
	delete(m.held, name)
	m.mu.Unlock()
	m.touchMarker(name)
	m.logger.Debug("lockfile.released", "name", name, "owner", owner)
	return true, nil
}

// ReleaseOwnerMultiple is ReleaseOwner over a list, best-effort, returning
// how many locks were actually released.
func (m *Manager) ReleaseOwnerMultiple(names []string, owner string) int {
	count := 0
	for _, name := range names {
		ok, err := m.ReleaseOwner(name, owner)
		if err != nil {
			m.logger.Warn("lockfile.release_failed", "name", name, "error", err)
			continue
		}
		if ok {
			count++
		}
	}
	return count
}

// AcquireMultipleSorted acquires every name in lexicographic order against
// one aggregate deadline. On failure it returns false together with the
// subset already acquired; releasing that subset is the caller's job, so
// the rollback path stays visible at the call site.
func (m *Manager) AcquireMultipleSorted(ctx context.Context, names []string, owner string, timeout time.Duration) (bool, []string, error) {
	ordered := make([]string, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		ordered = append(ordered, name)
	}
	sort.Strings(ordered)

	deadline := m.clock.Now().Add(timeout)
	acquired := make([]string, 0, len(ordered))
	for _, name := range ordered {
		ok, err := m.acquireUntil(ctx, name, owner, deadline)
		if err != nil {
			return false, acquired, err
		}
		if !ok {
			return false, acquired, nil
		}
		acquired = append(acquired, name)
	}
	return true, acquired, nil
}

// ReleaseMultiple releases every listed lock best-effort and returns how
// many were actually released. Locks not held by this process are skipped.
func (m *Manager) ReleaseMultiple(names []string) int {
	count := 0
	for _, name := range names {
		ok, err := m.Release(name)
		if err != nil {
			m.logger.Warn("lockfile.release_failed", "name", name, "error", err)
			continue
		}
		if ok {
			count++
		}
	}
	return count
}

// IsHeld reports whether the named lock is currently held by any process.
func (m *Manager) IsHeld(name string) (bool, error) {
	path, err := m.lockPath(name)
	if err != nil {
		return false, err
	}
	_, statErr := os.Stat(path)
	if statErr == nil {
		return true, nil
	}
	if errors.Is(statErr, os.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("lockfile: stat lock %q: %w", path, statErr)
}

// HeldByUs reports whether this process holds the named lock.
func (m *Manager) HeldByUs(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.held[name]
	return ok
}

// Owner reads the diagnostic owner payload of a held lock. The second
// return is false when the lock is free.
func (m *Manager) Owner(name string) (OwnerInfo, bool, error) {
	path, err := m.lockPath(name)
	if err != nil {
		return OwnerInfo{}, false, err
	}
	data, readErr := os.ReadFile(path)
	if errors.Is(readErr, os.ErrNotExist) {
		return OwnerInfo{}, false, nil
	}
	if readErr != nil {
		return OwnerInfo{}, false, fmt.Errorf("lockfile: read lock %q: %w", path, readErr)
	}
	var info OwnerInfo
	if err := json.Unmarshal(data, &info); err != nil {
		// A lock created mid-write or by an older tool still counts as
		// held; only the diagnostics are missing.
		return OwnerInfo{}, true, nil
	}
	return info, true, nil
}

// List scans the lock directory and returns every held lock with its owner
// payload. Diagnostic only: the snapshot can be stale by the time it returns.
func (m *Manager) List() (map[string]OwnerInfo, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("lockfile: scan %q: %w", m.dir, err)
	}
	locks := make(map[string]OwnerInfo)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".lock") {
			continue
		}
		name, err := url.PathUnescape(strings.TrimSuffix(entry.Name(), ".lock"))
		if err != nil {
			continue
		}
		info, held, err := m.Owner(name)
		if err != nil {
			return nil, err
		}
		if held {
			locks[name] = info
		}
	}
	return locks, nil
}
