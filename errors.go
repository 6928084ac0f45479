package simcoord

import (
	"errors"
	"fmt"

	"github.com/ksparavec/simcoord/internal/store"
)

// Error codes carried by Failure.
const (
	// CodeLockTimeout: a required named lock could not be obtained within
	// its budget. Recoverable; the caller may retry or abort the job.
	CodeLockTimeout = "lock_timeout"
	// CodeCollision: a register operation found a conflicting record.
	// Surfaced as a boolean where the API has one; as this code where it
	// does not.
	CodeCollision = "collision"
	// CodeNotFound: the referenced record, lease, or job id does not
	// exist. Usually a caller bug such as a double release.
	CodeNotFound = "not_found"
	// CodeCorruptRegistry: a persisted registry could not be parsed after
	// retries. Fatal; never auto-repaired.
	CodeCorruptRegistry = "corrupt_registry"
	// CodeStorage: a filesystem failure that survived the retry budget.
	CodeStorage = "storage_io"
	// CodeInvalid: an argument failed boundary validation.
	CodeInvalid = "invalid_argument"
)

// Failure is the transport-neutral error shape returned by coordinator
// operations.
type Failure struct {
	Code   string
	Detail string
}

func (f Failure) Error() string {
	if f.Detail != "" {
		return fmt.Sprintf("%s: %s", f.Code, f.Detail)
	}
	return f.Code
}

func failuref(code, format string, args ...any) Failure {
	return Failure{Code: code, Detail: fmt.Sprintf(format, args...)}
}

func hasCode(err error, code string) bool {
	var f Failure
	return errors.As(err, &f) && f.Code == code
}

// IsLockTimeout reports whether err is a lock-acquisition timeout.
func IsLockTimeout(err error) bool { return hasCode(err, CodeLockTimeout) }

// IsCollision reports whether err is a registration collision.
func IsCollision(err error) bool { return hasCode(err, CodeCollision) }

// IsNotFound reports whether err references a missing record or lease.
func IsNotFound(err error) bool { return hasCode(err, CodeNotFound) }

// IsCorrupt reports whether err stems from an unparseable registry file.
func IsCorrupt(err error) bool {
	return hasCode(err, CodeCorruptRegistry) || store.IsCorrupt(err)
}

// classifyStoreErr maps storage errors onto the coordinator taxonomy while
// preserving the cause for errors.Is/As.
func classifyStoreErr(err error) error {
	if err == nil {
		return nil
	}
	if store.IsCorrupt(err) {
		return fmt.Errorf("%w: %w", Failure{Code: CodeCorruptRegistry}, err)
	}
	return fmt.Errorf("%w: %w", Failure{Code: CodeStorage}, err)
}
