package simcoord_test

import (
	"path/filepath"
	"testing"

	simcoord "github.com/ksparavec/simcoord"
)

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	if err := (simcoord.Config{}).Validate(); err == nil {
		t.Fatal("empty config accepted")
	}
	if err := (simcoord.Config{StateDir: "/tmp/x"}).Validate(); err == nil {
		t.Fatal("config without LockDir accepted")
	}
	cfg := simcoord.Config{StateDir: "/tmp/x", LockDir: "/tmp/y"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestNewCreatesDirectories(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	cfg := simcoord.Config{
		StateDir: filepath.Join(base, "deep", "state"),
		LockDir:  filepath.Join(base, "deep", "locks"),
	}
	c, err := simcoord.New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()
	if got := c.StateDir(); got != cfg.StateDir {
		t.Fatalf("StateDir = %q, want %q", got, cfg.StateDir)
	}
}

func TestNewRejectsMissingDirs(t *testing.T) {
	t.Parallel()

	if _, err := simcoord.New(simcoord.Config{}); err == nil {
		t.Fatal("New accepted an empty config")
	}
}
