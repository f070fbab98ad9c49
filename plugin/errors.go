package plugin

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for common plugin failures.
// These allow both errors.Is() checks and errors.As() for detailed information.
var (
	// ErrPluginNotFound is returned when a plugin is not loaded in the host.
	ErrPluginNotFound = errors.New("plugin not found")

	// ErrPluginLoad is returned when a plugin could not be brought online.
	ErrPluginLoad = errors.New("plugin failed to load")

	// ErrAlreadyLoaded is returned when a plugin identity is loaded twice.
	ErrAlreadyLoaded = errors.New("plugin already loaded")
)

// LoadError carries the issues that prevented a plugin from loading.
type LoadError struct {
	Plugin string
	Issues []Issue
}

func (e *LoadError) Error() string {
	msgs := make([]string, 0, len(e.Issues))
	for _, is := range e.Issues {
		if is.Type == IssueError {
			msgs = append(msgs, fmt.Sprintf("%s: %s", is.Code, is.Message))
		}
	}
	return fmt.Sprintf("plugin %s failed to load: %s", e.Plugin, strings.Join(msgs, "; "))
}

// Is implements error matching for errors.Is() checks.
// This allows: errors.Is(err, plugin.ErrPluginLoad)
func (e *LoadError) Is(target error) bool {
	return target == ErrPluginLoad
}

// NotFoundError indicates the named plugin is not loaded.
type NotFoundError struct {
	Plugin string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("plugin not found: %s", e.Plugin)
}

// Is implements error matching for errors.Is() checks.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrPluginNotFound
}
