// Package capability provides the host's capability catalog and the risk
// vocabulary used to mediate access to it. The registry is a pure catalog:
// routing sensitive capabilities through the gatekeeper is the caller's job.
package capability

import "fmt"

// Scope says who a capability is meant for.
type Scope string

const (
	ScopeSystem Scope = "system"
	ScopePlugin Scope = "plugin"
	ScopeAI     Scope = "ai"
)

// Valid reports whether s is a known scope.
func (s Scope) Valid() bool {
	switch s {
	case ScopeSystem, ScopePlugin, ScopeAI:
		return true
	}
	return false
}

// ExposableToPlugins reports whether plugin code may request capabilities
// of this scope. System capabilities are reserved for host code.
func (s Scope) ExposableToPlugins() bool {
	return s == ScopePlugin || s == ScopeAI
}

// Status is the maturity of a capability.
type Status string

const (
	StatusAlpha  Status = "alpha"
	StatusBeta   Status = "beta"
	StatusStable Status = "stable"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusAlpha, StatusBeta, StatusStable:
		return true
	}
	return false
}

// Capability is a named, host-mediated privilege.
type Capability struct {
	ID          string `json:"id" yaml:"id" jsonschema:"description=Stable capability identifier"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
	Scope       Scope  `json:"scope" yaml:"scope" jsonschema:"enum=system,enum=plugin,enum=ai"`
	Status      Status `json:"status" yaml:"status" jsonschema:"enum=alpha,enum=beta,enum=stable"`
	Sensitive   bool   `json:"sensitive" yaml:"sensitive"`
}

// Validate checks the fields a registry entry needs.
func (c Capability) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("capability id cannot be empty")
	}
	if !c.Scope.Valid() {
		return fmt.Errorf("capability %s: invalid scope %q", c.ID, c.Scope)
	}
	if !c.Status.Valid() {
		return fmt.Errorf("capability %s: invalid status %q", c.ID, c.Status)
	}
	return nil
}
