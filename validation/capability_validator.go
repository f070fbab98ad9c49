package validation

import (
	"fmt"

	"github.com/tuff-dev/tuff-sandbox/capability"
	"github.com/tuff-dev/tuff-sandbox/plugin"
)

// Issue codes reported by the capability validator.
const (
	CodeCapabilityUnknown   = "CAPABILITY_UNKNOWN"
	CodeCapabilityScope     = "CAPABILITY_SCOPE"
	CodeCapabilityAlpha     = "CAPABILITY_ALPHA"
	CodeCapabilityDuplicate = "CAPABILITY_DUPLICATE"
)

// Catalog is the subset of the capability registry the validator reads.
type Catalog interface {
	Get(id string) (capability.Capability, bool)
}

// Validator checks declared capability ids against a Catalog.
type Validator struct {
	catalog Catalog
}

// NewCapabilityValidator creates a validator backed by the given catalog.
func NewCapabilityValidator(catalog Catalog) *Validator {
	return &Validator{catalog: catalog}
}

// Validate reports unknown and system-scope ids as errors and alpha
// capabilities as warnings. Duplicate declarations are warnings.
func (v *Validator) Validate(m *plugin.Manifest) (*ValidationResult, error) {
	if m == nil {
		return nil, fmt.Errorf("manifest is nil")
	}

	res := &ValidationResult{}
	seen := make(map[string]bool, len(m.Capabilities))
	for _, id := range m.Capabilities {
		if seen[id] {
			res.Issues.Add(plugin.IssueWarning, CodeCapabilityDuplicate, "manifest",
				fmt.Sprintf("capability %q is declared more than once", id))
			continue
		}
		seen[id] = true

		c, ok := v.catalog.Get(id)
		if !ok {
			res.Issues.Add(plugin.IssueError, CodeCapabilityUnknown, "manifest",
				fmt.Sprintf("unknown capability %q", id))
			continue
		}
		if !c.Scope.ExposableToPlugins() {
			res.Issues.Add(plugin.IssueError, CodeCapabilityScope, "manifest",
				fmt.Sprintf("capability %q has %s scope and cannot be requested by plugins", id, c.Scope))
			continue
		}
		if c.Status == capability.StatusAlpha {
			res.Issues.Add(plugin.IssueWarning, CodeCapabilityAlpha, "manifest",
				fmt.Sprintf("capability %q is alpha and may change", id))
		}
	}

	res.Valid = !res.Issues.HasErrors()
	return res, nil
}
