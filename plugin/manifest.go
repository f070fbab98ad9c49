package plugin

import (
	"path"
	"strings"
	"time"
)

// EntryKind identifies how a plugin entry point is executed.
type EntryKind string

const (
	// EntryLua is a Lua entry compiled into a bundle by the prelude compiler.
	EntryLua EntryKind = "lua"
	// EntryWASM is a WebAssembly module executed by the WASM executor.
	EntryWASM EntryKind = "wasm"
)

// DefaultMain is used when a manifest does not name an entry file.
const DefaultMain = "index.lua"

// Manifest is the plugin's declaration file (manifest.json or manifest.yaml).
type Manifest struct {
	Name         string          `json:"name" yaml:"name"`
	Version      string          `json:"version" yaml:"version"`
	Description  string          `json:"description,omitempty" yaml:"description,omitempty"`
	Main         string          `json:"main,omitempty" yaml:"main,omitempty"`
	Engine       string          `json:"engine,omitempty" yaml:"engine,omitempty"`
	Capabilities []string        `json:"capabilities,omitempty" yaml:"capabilities,omitempty"`
	Platforms    map[string]bool `json:"platforms,omitempty" yaml:"platforms,omitempty"`

	// SDKAPI is the SDK API version the plugin was built against (YYMMDD).
	// Nil when the manifest does not declare one.
	SDKAPI *int `json:"sdkapi,omitempty" yaml:"sdkapi,omitempty"`
}

// EntryPath returns the manifest's entry file, defaulting to DefaultMain.
func (m *Manifest) EntryPath() string {
	if m.Main == "" {
		return DefaultMain
	}
	return m.Main
}

// EntryKind reports how the entry file should be executed.
func (m *Manifest) EntryKind() EntryKind {
	if strings.EqualFold(path.Ext(m.EntryPath()), ".wasm") {
		return EntryWASM
	}
	return EntryLua
}

// Declares reports whether the manifest lists the capability id.
func (m *Manifest) Declares(capabilityID string) bool {
	for _, c := range m.Capabilities {
		if c == capabilityID {
			return true
		}
	}
	return false
}

// IssueType is the severity of a load issue.
type IssueType string

const (
	IssueError   IssueType = "error"
	IssueWarning IssueType = "warning"
)

// Issue is a problem found while bringing a plugin online. Warnings are
// surfaced to the user; errors fail the load.
type Issue struct {
	Timestamp  time.Time `json:"timestamp"`
	Type       IssueType `json:"type"`
	Code       string    `json:"code,omitempty"`
	Message    string    `json:"message"`
	Source     string    `json:"source,omitempty"`
	Suggestion string    `json:"suggestion,omitempty"`
}

// Issues is an ordered list of load issues.
type Issues []Issue

// Add appends an issue stamped with the current time.
func (is *Issues) Add(t IssueType, code, source, msg string) {
	*is = append(*is, Issue{
		Timestamp: time.Now(),
		Type:      t,
		Code:      code,
		Message:   msg,
		Source:    source,
	})
}

// HasErrors reports whether any issue is an error.
func (is Issues) HasErrors() bool {
	for _, i := range is {
		if i.Type == IssueError {
			return true
		}
	}
	return false
}
