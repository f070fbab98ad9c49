package capability

import "fmt"

// RiskLevel is the outcome of classifying an attempted sensitive operation.
type RiskLevel string

const (
	RiskTrusted           RiskLevel = "trusted"
	RiskNeedsConfirmation RiskLevel = "needs_confirmation"
	RiskBlocked           RiskLevel = "blocked"
)

// Valid reports whether l is a known risk level.
func (l RiskLevel) Valid() bool {
	switch l {
	case RiskTrusted, RiskNeedsConfirmation, RiskBlocked:
		return true
	}
	return false
}

// ParseRiskLevel converts configuration text to a RiskLevel.
func ParseRiskLevel(s string) (RiskLevel, error) {
	l := RiskLevel(s)
	if !l.Valid() {
		return "", fmt.Errorf("invalid risk level %q (want trusted, needs_confirmation or blocked)", s)
	}
	return l, nil
}

// SourceType names the kind of caller requesting a capability.
type SourceType string

const (
	SourcePlugin SourceType = "plugin"
	SourceAgent  SourceType = "agent"
	SourceHost   SourceType = "host"
)

// Request describes one attempt to use a capability.
type Request struct {
	Capability  Capability
	SourceType  SourceType
	SourceID    string
	Title       string
	Description string
	Metadata    map[string]string
}

// RiskPromptInput is the argument to a one-shot consent decision.
// It is constructed per evaluation and never stored.
type RiskPromptInput struct {
	SourceType  SourceType     `json:"sourceType"`
	SourceID    string         `json:"sourceId"`
	Level       RiskLevel      `json:"level"`
	Title       string         `json:"title,omitempty"`
	Description string         `json:"description,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// PromptInput builds the consent input for this request at the given level.
func (r Request) PromptInput(level RiskLevel) RiskPromptInput {
	title := r.Title
	if title == "" {
		title = fmt.Sprintf("%s %q wants to use %s", r.SourceType, r.SourceID, r.Capability.Name)
	}
	desc := r.Description
	if desc == "" {
		desc = r.Capability.Description
	}

	meta := make(map[string]any, len(r.Metadata)+3)
	for k, v := range r.Metadata {
		meta[k] = v
	}
	meta["capability"] = r.Capability.ID
	meta["scope"] = string(r.Capability.Scope)
	meta["status"] = string(r.Capability.Status)

	return RiskPromptInput{
		SourceType:  r.SourceType,
		SourceID:    r.SourceID,
		Level:       level,
		Title:       title,
		Description: desc,
		Metadata:    meta,
	}
}
