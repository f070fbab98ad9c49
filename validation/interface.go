// Package validation checks a plugin manifest's declared capabilities
// against the host catalog before the plugin is brought online.
package validation

import "github.com/tuff-dev/tuff-sandbox/plugin"

// CapabilityValidator validates plugin capabilities against the catalog.
type CapabilityValidator interface {
	// Validate checks the manifest capabilities and returns the findings.
	Validate(manifest *plugin.Manifest) (*ValidationResult, error)
}

// ValidationResult holds the outcome of a manifest check.
type ValidationResult struct {
	Valid  bool
	Issues plugin.Issues
}

// Errors returns only the error-type issues.
func (r *ValidationResult) Errors() plugin.Issues {
	var out plugin.Issues
	for _, is := range r.Issues {
		if is.Type == plugin.IssueError {
			out = append(out, is)
		}
	}
	return out
}
