package policy_test

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tuff-dev/tuff-sandbox/capability"
	"github.com/tuff-dev/tuff-sandbox/policy"
)

var (
	tempFile = capability.Capability{ID: capability.TempFile, Scope: capability.ScopePlugin, Status: capability.StatusBeta, Sensitive: true}
	agents   = capability.Capability{ID: capability.IntelligenceAgents, Scope: capability.ScopeAI, Status: capability.StatusBeta, Sensitive: true}
	center   = capability.Capability{ID: capability.PermissionCenter, Scope: capability.ScopeSystem, Status: capability.StatusStable}
)

func TestPolicy_Evaluate(t *testing.T) {
	p := policy.NewPolicy(policy.WithDenialHandler(&policy.NopDenialHandler{}))
	declared := []string{capability.TempFile, capability.IntelligenceAgents, capability.PermissionCenter}

	tests := []struct {
		name string
		req  policy.Request
		want bool
	}{
		{"declared plugin scope", policy.Request{Plugin: "notes", Capability: tempFile, Declared: declared}, true},
		{"declared ai scope", policy.Request{Plugin: "notes", Capability: agents, Declared: declared}, true},
		{"system scope even if declared", policy.Request{Plugin: "notes", Capability: center, Declared: declared}, false},
		{"undeclared", policy.Request{Plugin: "notes", Capability: tempFile}, false},
		{"anonymous", policy.Request{Capability: tempFile, Declared: declared}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, reason := p.Evaluate(tt.req)
			assert.Equal(t, tt.want, got)
			if tt.want {
				assert.Empty(t, reason)
			} else {
				assert.NotEmpty(t, reason)
			}
		})
	}
}

func TestPolicy_CheckReportsDenials(t *testing.T) {
	rec := policy.NewRecorder(10)
	p := policy.NewPolicy(policy.WithDenialHandler(rec))

	assert.True(t, p.Check(policy.Request{Plugin: "notes", Capability: tempFile, Declared: []string{capability.TempFile}}))
	assert.False(t, p.Check(policy.Request{Plugin: "notes", Capability: agents}))
	p.Deny("other", capability.TempFile, "consent refused")

	all := rec.Denials("")
	require.Len(t, all, 2)
	assert.Equal(t, capability.IntelligenceAgents, all[0].Capability)
	assert.False(t, all[0].Time.IsZero())
	assert.Equal(t, "consent refused", all[1].Reason)

	assert.Len(t, rec.Denials("other"), 1)
}

func TestRecorder_Limit(t *testing.T) {
	rec := policy.NewRecorder(3)
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		rec.OnDenial(policy.Denial{Plugin: name})
	}

	got := rec.Denials("")
	require.Len(t, got, 3)
	assert.Equal(t, "c", got[0].Plugin)
	assert.Equal(t, "e", got[2].Plugin)
}

func TestMultiAndSlogHandlers(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	rec := policy.NewRecorder(0)

	h := policy.MultiDenialHandler{policy.NewSlogDenialHandler(logger), rec}
	h.OnDenial(policy.Denial{Plugin: "notes", Capability: capability.TempFile, Reason: "nope"})

	assert.Contains(t, buf.String(), "permission denied")
	assert.Contains(t, buf.String(), "plugin=notes")
	assert.Len(t, rec.Denials("notes"), 1)
}
