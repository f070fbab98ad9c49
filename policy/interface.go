package policy

import (
	"time"

	"github.com/tuff-dev/tuff-sandbox/capability"
)

// Request is one plugin's attempt to use a capability, together with what
// the plugin declared in its manifest.
type Request struct {
	Plugin     string
	Capability capability.Capability
	Declared   []string
}

// Policy enforces manifest declarations against runtime requests.
type Policy interface {
	// Check returns the decision and reports denials to the DenialHandler.
	Check(req Request) bool

	// Evaluate returns the decision without side effects. reason is empty
	// when the request is allowed.
	Evaluate(req Request) (allowed bool, reason string)
}

// Denial describes a refused capability request.
type Denial struct {
	Time       time.Time `json:"time"`
	Plugin     string    `json:"plugin"`
	Capability string    `json:"capability"`
	Reason     string    `json:"reason"`
}

// DenialHandler is called when a capability request is denied.
type DenialHandler interface {
	OnDenial(d Denial)
}
