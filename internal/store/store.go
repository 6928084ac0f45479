// Package store persists registry snapshots as whole JSON files that are
// replaced atomically on every write. A reader therefore observes either
// the previous snapshot or the next one, never a torn mixture, even across
// a crash mid-write.
//
// The store performs no locking of its own. Read-modify-write sequences
// must run under the named lock that guards the registry, otherwise two
// processes can interleave and lose updates.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"pkt.systems/pslog"

	"github.com/ksparavec/simcoord/internal/clock"
)

// Options captures the tunables for a Store.
type Options struct {
	// RetryAttempts bounds how often a failing read or write is retried
	// before the error propagates. Zero means a single attempt.
	RetryAttempts int
	// RetryDelay is the pause between attempts.
	RetryDelay time.Duration
	Clock      clock.Clock
	Logger     pslog.Logger
}

// Store reads and writes named registry snapshots under one root directory.
type Store struct {
	root     string
	tmpDir   string
	attempts int
	delay    time.Duration
	clock    clock.Clock
	logger   pslog.Logger
}

// CorruptError marks a registry file that exists but could not be decoded
// after the full retry budget. It is never repaired automatically; operator
// intervention is required.
type CorruptError struct {
	Registry string
	Path     string
	Err      error
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("store: registry %q corrupt at %s: %v", e.Registry, e.Path, e.Err)
}

func (e *CorruptError) Unwrap() error { return e.Err }

// IsCorrupt reports whether err carries a CorruptError.
func IsCorrupt(err error) bool {
	var ce *CorruptError
	return errors.As(err, &ce)
}

// New initialises a store rooted at dir, creating the directory layout.
func New(dir string, opts Options) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("store: root path required")
	}
	root := filepath.Clean(dir)
	tmpDir := filepath.Join(root, "tmp")
	for _, d := range []string{root, tmpDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("store: prepare directory %q: %w", d, err)
		}
	}
	attempts := opts.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}
	delay := opts.RetryDelay
	if delay <= 0 {
		delay = 50 * time.Millisecond
	}
	logger := opts.Logger
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	return &Store{
		root:     root,
		tmpDir:   tmpDir,
		attempts: attempts,
		delay:    delay,
		clock:    clock.Ensure(opts.Clock),
		logger:   logger.With("component", "store"),
	}, nil
}

// Root returns the directory the store persists into.
func (s *Store) Root() string { return s.root }

func (s *Store) registryPath(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("store: registry name required")
	}
	encoded := url.PathEscape(name)
	if strings.Contains(encoded, "..") {
		return "", fmt.Errorf("store: invalid registry name %q", name)
	}
	return filepath.Join(s.root, encoded+".json"), nil
}

// Load decodes the snapshot for name into out. A missing file is not an
// error: out is left at its zero decode state and Load returns nil, so a
// fresh coordinator starts from empty registries. Transient read failures
// are retried; a file that still fails to decode after the last attempt
// surfaces as *CorruptError.
func (s *Store) Load(name string, out any) error {
	path, err := s.registryPath(name)
	if err != nil {
		return err
	}
	var lastErr error
	for attempt := 1; attempt <= s.attempts; attempt++ {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			return nil
		case err != nil:
			lastErr = fmt.Errorf("store: read registry %q: %w", name, err)
		default:
			decodeErr := json.Unmarshal(data, out)
			if decodeErr == nil {
				return nil
			}
			lastErr = &CorruptError{Registry: name, Path: path, Err: decodeErr}
		}
		if attempt < s.attempts {
			s.logger.Debug("store.load.retry",
				"registry", name,
				"attempt", attempt,
				"error", lastErr,
			)
			s.clock.Sleep(s.delay)
		}
	}
	return lastErr
}

// Save serializes in and atomically replaces the snapshot for name: the
// bytes land in a temp sibling, are forced to durable storage, then renamed
// over the target in one operation.
func (s *Store) Save(name string, in any) error {
	path, err := s.registryPath(name)
	if err != nil {
		return err
	}
	payload, err := json.MarshalIndent(in, "", "  ")
	if err != nil {
		return fmt.Errorf("store: encode registry %q: %w", name, err)
	}
	var lastErr error
	for attempt := 1; attempt <= s.attempts; attempt++ {
		lastErr = s.replace(path, payload)
		if lastErr == nil {
			return nil
		}
		if attempt < s.attempts {
			s.logger.Debug("store.save.retry",
				"registry", name,
				"attempt", attempt,
				"error", lastErr,
			)
			s.clock.Sleep(s.delay)
		}
	}
	return fmt.Errorf("store: write registry %q: %w", name, lastErr)
}

func (s *Store) replace(path string, payload []byte) error {
	tmp, err := os.CreateTemp(s.tmpDir, "registry-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := syncFile(tmp); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return syncDir(filepath.Dir(path))
}

// Update composes Load, mutate, and Save over the same view. It takes no
// lock: the caller must hold the registry's named lock across the whole
// call.
func (s *Store) Update(name string, view any, mutate func() error) error {
	if err := s.Load(name, view); err != nil {
		return err
	}
	if err := mutate(); err != nil {
		return err
	}
	return s.Save(name, view)
}
