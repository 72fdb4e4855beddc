package process

import (
	"errors"
	"fmt"
)

var (
	// ErrChildNotFound is returned by collection lookups and insertions
	// whose target name is absent.
	ErrChildNotFound = errors.New("child process not found")

	// ErrDuplicateChild is returned when a child with the same name is
	// already present in a collection.
	ErrDuplicateChild = errors.New("duplicate child process name")

	// ErrTimestampOrder is returned by Buffer.Store when the timestamp
	// regresses behind the latest entry. This indicates a programming
	// error, not an operational hiccup, and is never swallowed.
	ErrTimestampOrder = errors.New("buffer timestamp regression")

	// ErrPermission is the sentinel all permission violations match via
	// errors.Is. Violations indicate a bug in a process implementation and
	// propagate past the operational-failure swallow up to the runner.
	ErrPermission = errors.New("permission violation")
)

// PermissionError describes a device mutation disallowed for the producing
// process's variant.
type PermissionError struct {
	Process string
	Variant Variant
	Role    string
	Device  string
	Reason  string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("permission violation: %s %q wrote device %q (role %q): %s",
		e.Variant, e.Process, e.Device, e.Role, e.Reason)
}

func (e *PermissionError) Is(target error) bool { return target == ErrPermission }
