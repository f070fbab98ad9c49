package plugin

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func intPtr(v int) *int { return &v }

func TestCheckSDKCompatibility(t *testing.T) {
	tests := []struct {
		name      string
		sdkapi    *int
		wantCode  string
		wantError bool
	}{
		{"missing", nil, CodeSDKMissing, false},
		{"invalid format", intPtr(12), CodeSDKInvalid, true},
		{"invalid month", intPtr(251312), CodeSDKInvalid, true},
		{"newer than host", intPtr(CurrentSDKAPI + 1), CodeSDKNewer, false},
		{"current", intPtr(CurrentSDKAPI), "", false},
		{"older", intPtr(240101), "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var issues Issues
			CheckSDKCompatibility(&Manifest{Name: "p", SDKAPI: tt.sdkapi}, &issues)

			if tt.wantCode == "" {
				assert.Empty(t, issues)
				return
			}
			if assert.Len(t, issues, 1) {
				assert.Equal(t, tt.wantCode, issues[0].Code)
			}
			assert.Equal(t, tt.wantError, issues.HasErrors())
		})
	}
}

func TestCheckEngine(t *testing.T) {
	tests := []struct {
		name     string
		engine   string
		host     string
		wantCode string
	}{
		{"no constraint", "", "1.0.0", ""},
		{"satisfied", ">=1.2.0, <2.0.0", "1.4.0", ""},
		{"unsatisfied", "^2.0.0", "1.4.0", CodeEngineUnsupported},
		{"bad constraint", ">>1", "1.0.0", CodeEngineInvalid},
		{"bad host version", ">=1.0.0", "dev", CodeEngineInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var issues Issues
			CheckEngine(&Manifest{Engine: tt.engine}, tt.host, &issues)
			if tt.wantCode == "" {
				assert.Empty(t, issues)
				return
			}
			if assert.Len(t, issues, 1) {
				assert.Equal(t, tt.wantCode, issues[0].Code)
				assert.True(t, issues.HasErrors())
			}
		})
	}
}

func TestManifest_EntryKindAndDeclares(t *testing.T) {
	m := &Manifest{Main: "dist/plugin.WASM", Capabilities: []string{"plugin.storage"}}
	assert.Equal(t, EntryWASM, m.EntryKind())
	assert.True(t, m.Declares("plugin.storage"))
	assert.False(t, m.Declares("plugin.temp-file"))

	assert.Equal(t, EntryLua, (&Manifest{}).EntryKind())
}
