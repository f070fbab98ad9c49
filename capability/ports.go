package capability

import "context"

// ConsentHandler obtains a consent decision for a non-trusted operation.
// It may block for as long as the user takes; cancellation belongs to the
// implementation (for example a dismissed dialog resolving false).
type ConsentHandler func(ctx context.Context, input RiskPromptInput) (bool, error)

// GrantStore remembers "always allow" decisions across sessions.
type GrantStore interface {
	IsGranted(pluginID, capabilityID string) (bool, error)
	Grant(pluginID, capabilityID string) error
	Revoke(pluginID, capabilityID string) error
	ConfigPath() string
}

// Prompter handles interactive capability authorization.
type Prompter interface {
	IsInteractive() bool
	// PromptForCapability asks once. always reports that the user wants the
	// decision remembered.
	PromptForCapability(ctx context.Context, input RiskPromptInput) (granted bool, always bool, err error)
}
