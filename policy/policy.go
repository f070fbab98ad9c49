// Package policy decides whether a plugin may reach a capability at all,
// before any consent is asked, and reports refusals.
package policy

import (
	"slices"
	"time"
)

// DeclarationPolicy allows a request only when the capability is exposable
// to plugins and the plugin's manifest declares it.
type DeclarationPolicy struct {
	denials DenialHandler
	now     func() time.Time
}

// Option configures a DeclarationPolicy.
type Option func(*DeclarationPolicy)

// WithDenialHandler sets the handler notified on denials.
func WithDenialHandler(h DenialHandler) Option {
	return func(p *DeclarationPolicy) {
		if h != nil {
			p.denials = h
		}
	}
}

// NewPolicy creates a DeclarationPolicy. Denials are logged through slog by
// default.
func NewPolicy(opts ...Option) *DeclarationPolicy {
	p := &DeclarationPolicy{
		denials: NewSlogDenialHandler(nil),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

var _ Policy = (*DeclarationPolicy)(nil)

// Check evaluates req and reports a denial when it is refused.
func (p *DeclarationPolicy) Check(req Request) bool {
	allowed, reason := p.Evaluate(req)
	if !allowed {
		p.Deny(req.Plugin, req.Capability.ID, reason)
	}
	return allowed
}

// Evaluate returns the decision without reporting it.
func (p *DeclarationPolicy) Evaluate(req Request) (bool, string) {
	if req.Plugin == "" {
		return false, "anonymous caller"
	}
	if !req.Capability.Scope.ExposableToPlugins() {
		return false, "capability scope " + string(req.Capability.Scope) + " is reserved for the host"
	}
	if !slices.Contains(req.Declared, req.Capability.ID) {
		return false, "capability not declared in manifest"
	}
	return true, ""
}

// Deny reports a denial decided elsewhere, such as a refused consent prompt.
func (p *DeclarationPolicy) Deny(plugin, capabilityID, reason string) {
	p.denials.OnDenial(Denial{
		Time:       p.now(),
		Plugin:     plugin,
		Capability: capabilityID,
		Reason:     reason,
	})
}
