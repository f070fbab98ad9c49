package capability

// Built-in capability ids.
const (
	PermissionCenter   = "system.permission-center"
	Storage            = "plugin.storage"
	DownloadCenter     = "plugin.download-center"
	TempFile           = "plugin.temp-file"
	FlowTransfer       = "plugin.flow-transfer"
	DivisionBox        = "plugin.division-box"
	IntelligenceAgents = "ai.intelligence-agents"
)

// Defaults returns the built-in capability set. It is the source of truth
// for what the rest of the host may expose.
func Defaults() []Capability {
	return []Capability{
		{
			ID:          PermissionCenter,
			Name:        "Permission Center",
			Description: "Review and revoke capability grants for installed plugins.",
			Scope:       ScopeSystem,
			Status:      StatusStable,
		},
		{
			ID:          Storage,
			Name:        "Plugin Storage",
			Description: "Per-plugin key/value storage that persists across restarts.",
			Scope:       ScopePlugin,
			Status:      StatusStable,
		},
		{
			ID:          DownloadCenter,
			Name:        "Download Center",
			Description: "Queue network downloads into the user's download directory.",
			Scope:       ScopePlugin,
			Status:      StatusBeta,
			Sensitive:   true,
		},
		{
			ID:          TempFile,
			Name:        "Temporary Files",
			Description: "Create host-managed temporary files that outlive the plugin call.",
			Scope:       ScopePlugin,
			Status:      StatusBeta,
			Sensitive:   true,
		},
		{
			ID:          FlowTransfer,
			Name:        "Flow Transfer",
			Description: "Hand a payload to another plugin's flow target.",
			Scope:       ScopePlugin,
			Status:      StatusBeta,
		},
		{
			ID:          DivisionBox,
			Name:        "Division Box",
			Description: "Open a detached plugin window next to the launcher.",
			Scope:       ScopePlugin,
			Status:      StatusAlpha,
		},
		{
			ID:          IntelligenceAgents,
			Name:        "Intelligence Agents",
			Description: "Run host AI agents with tool access on the plugin's behalf.",
			Scope:       ScopeAI,
			Status:      StatusBeta,
			Sensitive:   true,
		},
	}
}

// RegisterDefaults populates the built-in capabilities. Repeated calls are free.
func (r *Registry) RegisterDefaults() {
	r.defaultsOnce.Do(func() {
		for _, c := range Defaults() {
			// Defaults are valid by construction.
			_ = r.Register(c)
		}
	})
}
