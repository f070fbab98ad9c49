package policy

import (
	"log/slog"
	"sync"
)

// Ensure implementations satisfy the interface.
var (
	_ DenialHandler = (*SlogDenialHandler)(nil)
	_ DenialHandler = (*NopDenialHandler)(nil)
	_ DenialHandler = (*Recorder)(nil)
	_ DenialHandler = MultiDenialHandler(nil)
)

// SlogDenialHandler logs denials at warn level.
type SlogDenialHandler struct {
	logger *slog.Logger
}

// NewSlogDenialHandler logs to logger, or slog.Default when nil.
func NewSlogDenialHandler(logger *slog.Logger) *SlogDenialHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogDenialHandler{logger: logger}
}

func (h *SlogDenialHandler) OnDenial(d Denial) {
	h.logger.Warn("permission denied",
		"plugin", d.Plugin,
		"capability", d.Capability,
		"reason", d.Reason)
}

// NopDenialHandler does nothing.
type NopDenialHandler struct{}

func (h *NopDenialHandler) OnDenial(Denial) {}

// Recorder keeps the most recent denials in memory for the permission
// center to display.
type Recorder struct {
	mu      sync.Mutex
	limit   int
	entries []Denial
}

// NewRecorder keeps at most limit denials; limit <= 0 means 100.
func NewRecorder(limit int) *Recorder {
	if limit <= 0 {
		limit = 100
	}
	return &Recorder{limit: limit}
}

func (r *Recorder) OnDenial(d Denial) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, d)
	if over := len(r.entries) - r.limit; over > 0 {
		r.entries = append(r.entries[:0:0], r.entries[over:]...)
	}
}

// Denials returns recorded denials, oldest first. An empty plugin returns all.
func (r *Recorder) Denials(plugin string) []Denial {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Denial, 0, len(r.entries))
	for _, d := range r.entries {
		if plugin == "" || d.Plugin == plugin {
			out = append(out, d)
		}
	}
	return out
}

// MultiDenialHandler fans a denial out to several handlers in order.
type MultiDenialHandler []DenialHandler

func (m MultiDenialHandler) OnDenial(d Denial) {
	for _, h := range m {
		h.OnDenial(d)
	}
}
