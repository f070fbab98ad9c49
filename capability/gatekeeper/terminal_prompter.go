package gatekeeper

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/tuff-dev/tuff-sandbox/capability"
)

// TerminalPrompter provides interactive terminal prompting for capability grants.
type TerminalPrompter struct{}

// NewTerminalPrompter creates a new TerminalPrompter.
func NewTerminalPrompter() *TerminalPrompter {
	return &TerminalPrompter{}
}

// IsInteractive checks if we're running in an interactive terminal.
func (p *TerminalPrompter) IsInteractive() bool {
	fileInfo, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (fileInfo.Mode() & os.ModeCharDevice) != 0
}

// PromptForCapability asks the user to grant a capability.
func (p *TerminalPrompter) PromptForCapability(ctx context.Context, input capability.RiskPromptInput) (granted bool, always bool, err error) {
	if input.Level == capability.RiskBlocked {
		fmt.Fprintf(os.Stderr, "\n")
		fmt.Fprintf(os.Stderr, "\033[1;33mSecurity Warning: Blocked Operation Requested\033[0m\n\n")
		fmt.Fprintf(os.Stderr, "  %s\n", input.Title)
		fmt.Fprintf(os.Stderr, "  The host policy classifies this request as blocked.\n")
		fmt.Fprintf(os.Stderr, "\n")
	}

	const (
		OptionOnce   = "Yes, allow this time"
		OptionAlways = "Always allow (save to grants)"
		OptionNo     = "No, deny"
	)

	options := []huh.Option[string]{huh.NewOption(OptionOnce, OptionOnce)}
	// Blocked requests are never remembered.
	if input.Level != capability.RiskBlocked {
		options = append(options, huh.NewOption(OptionAlways, OptionAlways))
	}
	options = append(options, huh.NewOption(OptionNo, OptionNo))

	var selection string

	sel := huh.NewSelect[string]().
		Title(input.Title).
		Description(describe(input)).
		Options(options...).
		Value(&selection)

	err = huh.NewForm(huh.NewGroup(sel)).RunWithContext(ctx)
	if err != nil {
		return false, false, err
	}

	switch selection {
	case OptionOnce:
		return true, false, nil
	case OptionAlways:
		return true, true, nil
	default:
		return false, false, nil
	}
}

func describe(input capability.RiskPromptInput) string {
	var b strings.Builder
	b.WriteString(input.Description)
	keys := make([]string, 0, len(input.Metadata))
	for k := range input.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n  %s: %v", k, input.Metadata[k])
	}
	return b.String()
}

// FormatNonInteractiveError creates a helpful error message for non-interactive mode.
func FormatNonInteractiveError(input capability.RiskPromptInput) error {
	capID, _ := input.Metadata["capability"].(string)

	var msg strings.Builder
	msg.WriteString("Plugin requires a permission decision (running in non-interactive mode)\n\n")
	fmt.Fprintf(&msg, "  - %s %q requests %s (%s)\n", input.SourceType, input.SourceID, capID, input.Level)
	msg.WriteString("\nTo grant this permission:\n")
	msg.WriteString("  1. Run interactively and approve when prompted\n")
	msg.WriteString("  2. Use --trust to approve every request for this run\n")
	msg.WriteString("  3. Add the grant to the grants file\n")

	return fmt.Errorf("%s", msg.String())
}
