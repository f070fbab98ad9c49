package capability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRuleClassifier_Fallback(t *testing.T) {
	c, err := NewRuleClassifier(nil)
	require.NoError(t, err)

	assert.Equal(t, RiskTrusted, c.Classify(Request{Capability: Capability{ID: Storage}}))
	assert.Equal(t, RiskNeedsConfirmation, c.Classify(Request{Capability: Capability{ID: TempFile, Sensitive: true}}))
}

func TestRuleClassifier_DefaultRules(t *testing.T) {
	c, err := NewRuleClassifier(DefaultRules())
	require.NoError(t, err)

	tests := []struct {
		name     string
		req      Request
		want     RiskLevel
		wantRule string
	}{
		{
			name:     "explicitly blocked",
			req:      Request{Capability: Capability{ID: Storage}, Metadata: map[string]string{"blocked": "true"}},
			want:     RiskBlocked,
			wantRule: "explicitly-blocked",
		},
		{
			name:     "plugin declared blocked",
			req:      Request{Capability: Capability{ID: Storage}, Metadata: map[string]string{"plugin.blocked": "true"}},
			want:     RiskBlocked,
			wantRule: "plugin-declared-blocked",
		},
		{
			name: "plugin keys cannot lower a sensitive capability",
			req: Request{
				Capability: Capability{ID: TempFile, Sensitive: true},
				Metadata:   map[string]string{"plugin.blocked": "false", "plugin.risk": "trusted"},
			},
			want: RiskNeedsConfirmation,
		},
		{
			name: "alpha ai from plugin",
			req: Request{
				Capability: Capability{ID: "ai.experimental", Scope: ScopeAI, Status: StatusAlpha},
				SourceType: SourcePlugin,
			},
			want:     RiskBlocked,
			wantRule: "plugin-alpha-ai",
		},
		{
			name: "alpha ai from host",
			req: Request{
				Capability: Capability{ID: "ai.experimental", Scope: ScopeAI, Status: StatusAlpha},
				SourceType: SourceHost,
			},
			want: RiskTrusted,
		},
		{
			name: "sensitive plugin capability",
			req: Request{
				Capability: Capability{ID: DownloadCenter, Scope: ScopePlugin, Status: StatusBeta, Sensitive: true},
				SourceType: SourcePlugin,
			},
			want: RiskNeedsConfirmation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			level, rule := c.ClassifyWithRule(tt.req)
			assert.Equal(t, tt.want, level)
			assert.Equal(t, tt.wantRule, rule)
		})
	}
}

func TestRuleClassifier_CustomRuleOrder(t *testing.T) {
	c, err := NewRuleClassifier([]Rule{
		{Name: "trust-notes", Condition: `source_id == "notes"`, Level: RiskTrusted},
		{Name: "confirm-all", Condition: `true`, Level: RiskNeedsConfirmation},
	})
	require.NoError(t, err)

	sensitive := Capability{ID: TempFile, Sensitive: true}
	assert.Equal(t, RiskTrusted, c.Classify(Request{Capability: sensitive, SourceID: "notes"}))
	assert.Equal(t, RiskNeedsConfirmation, c.Classify(Request{Capability: Capability{ID: Storage}, SourceID: "other"}))
}

func TestNewRuleClassifier_Errors(t *testing.T) {
	tests := []struct {
		name string
		rule Rule
	}{
		{"syntax", Rule{Name: "bad", Condition: `scope ==`, Level: RiskBlocked}},
		{"unknown variable", Rule{Name: "bad", Condition: `plugin == "x"`, Level: RiskBlocked}},
		{"non bool", Rule{Name: "bad", Condition: `scope`, Level: RiskBlocked}},
		{"bad level", Rule{Name: "bad", Condition: `true`, Level: "maybe"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRuleClassifier([]Rule{tt.rule})
			assert.Error(t, err)
		})
	}
}

func TestRequest_PromptInput(t *testing.T) {
	req := Request{
		Capability: Capability{ID: TempFile, Name: "Temporary Files", Description: "desc", Scope: ScopePlugin, Status: StatusBeta},
		SourceType: SourcePlugin,
		SourceID:   "notes",
		Metadata:   map[string]string{"path": "/tmp/x"},
	}

	in := req.PromptInput(RiskNeedsConfirmation)
	assert.Equal(t, RiskNeedsConfirmation, in.Level)
	assert.Equal(t, "notes", in.SourceID)
	assert.Contains(t, in.Title, "Temporary Files")
	assert.Equal(t, "desc", in.Description)
	assert.Equal(t, "/tmp/x", in.Metadata["path"])
	assert.Equal(t, TempFile, in.Metadata["capability"])
}

func TestParseRiskLevel(t *testing.T) {
	l, err := ParseRiskLevel("blocked")
	require.NoError(t, err)
	assert.Equal(t, RiskBlocked, l)

	_, err = ParseRiskLevel("high")
	assert.Error(t, err)
}
