package simcoord_test

import (
	"fmt"
	"testing"

	simcoord "github.com/ksparavec/simcoord"
)

func TestFailurePredicates(t *testing.T) {
	t.Parallel()

	timeout := simcoord.Failure{Code: simcoord.CodeLockTimeout, Detail: "lock registry/hosts"}
	if !simcoord.IsLockTimeout(timeout) {
		t.Fatal("IsLockTimeout missed a lock_timeout failure")
	}
	if simcoord.IsNotFound(timeout) {
		t.Fatal("IsNotFound matched a lock_timeout failure")
	}

	wrapped := fmt.Errorf("operation failed: %w", simcoord.Failure{Code: simcoord.CodeNotFound})
	if !simcoord.IsNotFound(wrapped) {
		t.Fatal("IsNotFound missed a wrapped failure")
	}
}

func TestFailureErrorString(t *testing.T) {
	t.Parallel()

	f := simcoord.Failure{Code: simcoord.CodeCollision, Detail: "address taken"}
	if got := f.Error(); got != "collision: address taken" {
		t.Fatalf("Error() = %q", got)
	}
	bare := simcoord.Failure{Code: simcoord.CodeCorruptRegistry}
	if got := bare.Error(); got != "corrupt_registry" {
		t.Fatalf("Error() = %q", got)
	}
}
