package correlation_test

import (
	"context"
	"strings"
	"testing"

	"github.com/ksparavec/simcoord/internal/correlation"
)

func TestSetAndID(t *testing.T) {
	t.Parallel()

	ctx := correlation.Set(context.Background(), "  job-42  ")
	if got := correlation.ID(ctx); got != "job-42" {
		t.Fatalf("ID = %q, want %q", got, "job-42")
	}
	if !correlation.Has(ctx) {
		t.Fatal("Has should report true after Set")
	}
}

func TestSetRejectsInvalid(t *testing.T) {
	t.Parallel()

	for _, bad := range []string{"", "\x01control", strings.Repeat("x", correlation.MaxIDLength+1)} {
		ctx := correlation.Set(context.Background(), bad)
		if correlation.Has(ctx) {
			t.Fatalf("Set(%q) should leave the context without an ID", bad)
		}
	}
}

func TestEnsureGeneratesOnce(t *testing.T) {
	t.Parallel()

	ctx := correlation.Ensure(context.Background())
	id := correlation.ID(ctx)
	if id == "" {
		t.Fatal("Ensure should attach a generated ID")
	}
	if got := correlation.ID(correlation.Ensure(ctx)); got != id {
		t.Fatalf("Ensure replaced an existing ID: %q != %q", got, id)
	}
}

func TestGenerateUnique(t *testing.T) {
	t.Parallel()

	a, b := correlation.Generate(), correlation.Generate()
	if a == b {
		t.Fatalf("consecutive Generate calls collided: %q", a)
	}
}
