package sandbox

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the host and the mediation path.
var (
	// ErrCapabilityDenied is matched by every refusal from CapabilityChecker.
	ErrCapabilityDenied = errors.New("capability denied")

	// ErrUnknownCapability is returned for ids missing from the catalog.
	ErrUnknownCapability = errors.New("unknown capability")

	// ErrNoProvider is returned when no provider serves an allowed capability.
	ErrNoProvider = errors.New("no provider for capability")

	// ErrExportNotFound is returned by Call for a missing entry export.
	ErrExportNotFound = errors.New("export not found")

	// ErrRateLimited is returned when a plugin invokes a capability faster
	// than the host allows.
	ErrRateLimited = errors.New("capability rate limit exceeded")

	// ErrHostClosed is returned by operations on a closed host.
	ErrHostClosed = errors.New("host is closed")
)

// DeniedError explains a refused capability request.
type DeniedError struct {
	Plugin     string
	Capability string
	Reason     string
	Err        error
}

func (e *DeniedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("capability %s denied for plugin %s: %s: %v", e.Capability, e.Plugin, e.Reason, e.Err)
	}
	return fmt.Sprintf("capability %s denied for plugin %s: %s", e.Capability, e.Plugin, e.Reason)
}

// Unwrap returns the underlying cause, if any.
func (e *DeniedError) Unwrap() error { return e.Err }

// Is implements error matching for errors.Is() checks.
// This allows: errors.Is(err, sandbox.ErrCapabilityDenied)
func (e *DeniedError) Is(target error) bool {
	return target == ErrCapabilityDenied
}

// PanicError is returned when a provider panics during an invocation.
type PanicError struct {
	Capability string
	Value      any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("provider for %s panicked: %v", e.Capability, e.Value)
}
