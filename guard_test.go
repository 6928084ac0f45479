package simcoord_test

import (
	"errors"
	"testing"

	simcoord "github.com/ksparavec/simcoord"
)

func TestGuardRollbackRunsInReverse(t *testing.T) {
	t.Parallel()

	g := simcoord.NewGuard(nil)
	var order []string
	for _, name := range []string{"first", "second", "third"} {
		name := name
		g.Record("undo "+name, func() error {
			order = append(order, name)
			return nil
		})
	}
	if failed := g.Rollback(); failed != 0 {
		t.Fatalf("Rollback failures = %d, want 0", failed)
	}
	want := []string{"third", "second", "first"}
	if len(order) != len(want) {
		t.Fatalf("undo order %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("undo order %v, want %v", order, want)
		}
	}
}

func TestGuardRollbackContinuesPastFailures(t *testing.T) {
	t.Parallel()

	g := simcoord.NewGuard(nil)
	var ran []string
	g.Record("undo a", func() error {
		ran = append(ran, "a")
		return nil
	})
	g.Record("undo b", func() error {
		ran = append(ran, "b")
		return errors.New("b exploded")
	})
	g.Record("undo c", func() error {
		ran = append(ran, "c")
		return nil
	})
	if failed := g.Rollback(); failed != 1 {
		t.Fatalf("Rollback failures = %d, want 1", failed)
	}
	// One failing undo must not abort the remaining undos.
	if len(ran) != 3 {
		t.Fatalf("only %d undos ran: %v", len(ran), ran)
	}
}

func TestGuardCommitDiscards(t *testing.T) {
	t.Parallel()

	g := simcoord.NewGuard(nil)
	ran := false
	g.Record("undo", func() error {
		ran = true
		return nil
	})
	g.Commit()
	if g.Len() != 0 {
		t.Fatalf("Len after Commit = %d, want 0", g.Len())
	}
	if failed := g.Rollback(); failed != 0 || ran {
		t.Fatalf("Rollback after Commit ran undos (ran=%v, failed=%d)", ran, failed)
	}
}
