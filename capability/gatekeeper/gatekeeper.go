// Package gatekeeper decides whether a capability request may proceed:
// it classifies the request, consults remembered grants and the security
// level, and asks a consent handler when needed.
package gatekeeper

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tuff-dev/tuff-sandbox/capability"
)

// SecurityLevel controls the gatekeeper's prompting behavior.
type SecurityLevel string

const (
	SecurityStrict     SecurityLevel = "strict"
	SecurityStandard   SecurityLevel = "standard"
	SecurityPermissive SecurityLevel = "permissive"
)

// ParseSecurityLevel converts configuration text to a SecurityLevel.
func ParseSecurityLevel(s string) (SecurityLevel, error) {
	switch l := SecurityLevel(s); l {
	case SecurityStrict, SecurityStandard, SecurityPermissive:
		return l, nil
	}
	return "", fmt.Errorf("invalid security level %q (want strict, standard or permissive)", s)
}

// ApproveAll is the default consent handler for hosts that have not wired
// a consent UI. It approves blocked requests too; only SecurityStrict
// refuses those before a handler is asked. Production hosts replace it.
func ApproveAll(context.Context, capability.RiskPromptInput) (bool, error) {
	return true, nil
}

// EvaluateAndPrompt resolves a single consent decision. Trusted input is
// approved without calling handler. Otherwise the handler's answer is
// returned unchanged; a handler error is returned alongside false.
func EvaluateAndPrompt(ctx context.Context, input capability.RiskPromptInput, handler capability.ConsentHandler) (bool, error) {
	if input.Level == capability.RiskTrusted {
		return true, nil
	}
	if handler == nil {
		handler = ApproveAll
	}
	granted, err := handler(ctx, input)
	if err != nil {
		return false, fmt.Errorf("consent handler failed for %s %q: %w", input.SourceType, input.SourceID, err)
	}
	return granted, nil
}

// Reason explains how a Decision was reached.
type Reason string

const (
	ReasonTrusted    Reason = "trusted"
	ReasonRemembered Reason = "remembered"
	ReasonPolicy     Reason = "policy"
	ReasonConsent    Reason = "consent"
	ReasonError      Reason = "error"
)

// Decision is the outcome of Authorize.
type Decision struct {
	Granted bool
	Level   capability.RiskLevel
	Rule    string
	Reason  Reason
}

// Gatekeeper authorizes capability requests.
type Gatekeeper struct {
	classifier    *capability.RuleClassifier
	store         capability.GrantStore
	prompter      capability.Prompter
	handler       capability.ConsentHandler
	securityLevel SecurityLevel
	logger        *slog.Logger
}

// Option configures a Gatekeeper.
type Option func(*Gatekeeper)

// WithStore sets the grant store used for remembered decisions.
func WithStore(s capability.GrantStore) Option {
	return func(g *Gatekeeper) { g.store = s }
}

// WithPrompter sets the prompter. It is ignored when WithConsentHandler
// is also given.
func WithPrompter(p capability.Prompter) Option {
	return func(g *Gatekeeper) { g.prompter = p }
}

// WithConsentHandler sets the consent handler directly.
func WithConsentHandler(h capability.ConsentHandler) Option {
	return func(g *Gatekeeper) { g.handler = h }
}

// WithSecurityLevel sets the security policy level.
func WithSecurityLevel(level SecurityLevel) Option {
	return func(g *Gatekeeper) { g.securityLevel = level }
}

// WithClassifier replaces the default rule classifier.
func WithClassifier(c *capability.RuleClassifier) Option {
	return func(g *Gatekeeper) { g.classifier = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gatekeeper) {
		if l != nil {
			g.logger = l
		}
	}
}

// NewGatekeeper creates a gatekeeper. Without a classifier it uses
// capability.DefaultRules.
func NewGatekeeper(opts ...Option) (*Gatekeeper, error) {
	g := &Gatekeeper{
		securityLevel: SecurityStandard,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}

	if g.classifier == nil {
		c, err := capability.NewRuleClassifier(capability.DefaultRules())
		if err != nil {
			return nil, fmt.Errorf("failed to build default classifier: %w", err)
		}
		g.classifier = c
	}

	if g.handler == nil && g.prompter != nil {
		g.handler = PromptHandler(g.prompter, g.store, g.logger)
	}
	if g.handler == nil {
		g.logger.Warn("no consent handler configured, approving every prompt including blocked requests")
	}
	return g, nil
}

// SecurityLevel returns the configured level.
func (g *Gatekeeper) SecurityLevel() SecurityLevel {
	return g.securityLevel
}

// Authorize decides a single capability request. Any failure denies.
func (g *Gatekeeper) Authorize(ctx context.Context, req capability.Request) (Decision, error) {
	level, rule := g.classifier.ClassifyWithRule(req)
	d := Decision{Level: level, Rule: rule}

	if level == capability.RiskTrusted {
		d.Granted = true
		d.Reason = ReasonTrusted
		return d, nil
	}

	if level == capability.RiskBlocked && g.securityLevel == SecurityStrict {
		g.logger.Error("capability denied by security policy",
			"level", g.securityLevel,
			"capability", req.Capability.ID,
			"source", req.SourceID,
			"rule", rule)
		d.Reason = ReasonPolicy
		return d, nil
	}

	// Blocked requests are never satisfied from remembered grants.
	if level == capability.RiskNeedsConfirmation {
		if g.remembered(req) {
			d.Granted = true
			d.Reason = ReasonRemembered
			return d, nil
		}
		if g.securityLevel == SecurityPermissive {
			g.logger.Warn("auto-granting capability (permissive mode)",
				"capability", req.Capability.ID,
				"source", req.SourceID)
			d.Granted = true
			d.Reason = ReasonPolicy
			return d, nil
		}
	}

	granted, err := EvaluateAndPrompt(ctx, req.PromptInput(level), g.handler)
	if err != nil {
		d.Reason = ReasonError
		return d, err
	}
	d.Granted = granted
	d.Reason = ReasonConsent
	return d, nil
}

func (g *Gatekeeper) remembered(req capability.Request) bool {
	if g.store == nil || req.SourceID == "" {
		return false
	}
	ok, err := g.store.IsGranted(req.SourceID, req.Capability.ID)
	if err != nil {
		g.logger.Warn("failed to read grant store", "path", g.store.ConfigPath(), "error", err)
		return false
	}
	return ok
}

// PromptHandler adapts a Prompter to a ConsentHandler. Answers of "always"
// are recorded in store when it is non-nil.
func PromptHandler(p capability.Prompter, store capability.GrantStore, logger *slog.Logger) capability.ConsentHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, input capability.RiskPromptInput) (bool, error) {
		if !p.IsInteractive() {
			return false, FormatNonInteractiveError(input)
		}

		granted, always, err := p.PromptForCapability(ctx, input)
		if err != nil {
			return false, err
		}
		if granted && always && store != nil {
			capID, _ := input.Metadata["capability"].(string)
			if err := store.Grant(input.SourceID, capID); err != nil {
				logger.Warn("failed to save grant", "path", store.ConfigPath(), "error", err)
			} else {
				logger.Info("grant saved", "plugin", input.SourceID, "capability", capID, "path", store.ConfigPath())
			}
		}
		return granted, nil
	}
}
