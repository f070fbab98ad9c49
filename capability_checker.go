// Package sandbox hosts plugins: it loads them into isolated execution
// contexts, mediates their capability requests and reclaims their runtime
// handles on unload.
package sandbox

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tuff-dev/tuff-sandbox/capability"
	"github.com/tuff-dev/tuff-sandbox/capability/gatekeeper"
	"github.com/tuff-dev/tuff-sandbox/policy"
)

// Declarations reports the capability ids a plugin declared in its
// manifest. ok is false for unknown plugins.
type Declarations interface {
	Declared(plugin string) (ids []string, ok bool)
}

// StaticDeclarations is a fixed Declarations table.
type StaticDeclarations map[string][]string

// Declared implements Declarations.
func (s StaticDeclarations) Declared(plugin string) ([]string, bool) {
	ids, ok := s[plugin]
	return ids, ok
}

// CapabilityChecker decides whether a plugin may use a capability right
// now. Every refusal is reported to the policy's DenialHandler.
type CapabilityChecker struct {
	catalog    *capability.Registry
	decls      Declarations
	policy     *policy.DeclarationPolicy
	gatekeeper *gatekeeper.Gatekeeper
	logger     *slog.Logger
}

// CheckerOption configures a CapabilityChecker.
type CheckerOption func(*CapabilityChecker)

// WithCheckerPolicy sets the declaration policy.
func WithCheckerPolicy(p *policy.DeclarationPolicy) CheckerOption {
	return func(c *CapabilityChecker) { c.policy = p }
}

// WithCheckerGatekeeper sets the gatekeeper that asks for consent.
func WithCheckerGatekeeper(g *gatekeeper.Gatekeeper) CheckerOption {
	return func(c *CapabilityChecker) { c.gatekeeper = g }
}

// WithCheckerLogger sets the logger.
func WithCheckerLogger(l *slog.Logger) CheckerOption {
	return func(c *CapabilityChecker) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewCapabilityChecker creates a checker over catalog. Without options it
// uses a slog-reporting policy and a default gatekeeper.
func NewCapabilityChecker(catalog *capability.Registry, decls Declarations, opts ...CheckerOption) (*CapabilityChecker, error) {
	c := &CapabilityChecker{
		catalog: catalog,
		decls:   decls,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.policy == nil {
		c.policy = policy.NewPolicy(policy.WithDenialHandler(policy.NewSlogDenialHandler(c.logger)))
	}
	if c.gatekeeper == nil {
		g, err := gatekeeper.NewGatekeeper(gatekeeper.WithLogger(c.logger))
		if err != nil {
			return nil, fmt.Errorf("failed to create gatekeeper: %w", err)
		}
		c.gatekeeper = g
	}
	return c, nil
}

// Check returns nil when pluginName may use capabilityID. The capability
// must exist, be exposable to plugins, be declared by the plugin and then
// pass the gatekeeper. meta is forwarded to risk classification.
func (c *CapabilityChecker) Check(ctx context.Context, pluginName, capabilityID string, meta map[string]string) error {
	capDef, ok := c.catalog.Get(capabilityID)
	if !ok {
		return c.deny(pluginName, capabilityID, "unknown capability", ErrUnknownCapability)
	}

	declared, _ := c.decls.Declared(pluginName)
	req := policy.Request{Plugin: pluginName, Capability: capDef, Declared: declared}
	if allowed, reason := c.policy.Evaluate(req); !allowed {
		return c.deny(pluginName, capabilityID, reason, nil)
	}

	d, err := c.gatekeeper.Authorize(ctx, capability.Request{
		Capability: capDef,
		SourceType: capability.SourcePlugin,
		SourceID:   pluginName,
		Metadata:   meta,
	})
	if err != nil {
		return c.deny(pluginName, capabilityID, "consent failed", err)
	}
	if !d.Granted {
		reason := "consent refused"
		if d.Reason == gatekeeper.ReasonPolicy {
			reason = "blocked by security policy"
		}
		return c.deny(pluginName, capabilityID, reason, nil)
	}

	c.logger.DebugContext(ctx, "capability granted",
		"plugin", pluginName,
		"capability", capabilityID,
		"level", d.Level,
		"reason", d.Reason)
	return nil
}

func (c *CapabilityChecker) deny(pluginName, capabilityID, reason string, cause error) error {
	msg := reason
	if cause != nil {
		msg = fmt.Sprintf("%s: %v", reason, cause)
	}
	c.policy.Deny(pluginName, capabilityID, msg)
	return &DeniedError{Plugin: pluginName, Capability: capabilityID, Reason: reason, Err: cause}
}
