package registry

import "github.com/tuff-dev/tuff-sandbox/capability"

// StorageParams is the payload of plugin.storage.
type StorageParams struct {
	Op    string `json:"op" jsonschema:"enum=get,enum=set,enum=delete,enum=list"`
	Key   string `json:"key,omitempty" jsonschema:"maxLength=256"`
	Value any    `json:"value,omitempty"`
}

// DownloadParams is the payload of plugin.download-center.
type DownloadParams struct {
	URL      string `json:"url" jsonschema:"format=uri,pattern=^https?://"`
	Filename string `json:"filename,omitempty" jsonschema:"maxLength=255"`
}

// TempFileParams is the payload of plugin.temp-file.
type TempFileParams struct {
	Prefix     string `json:"prefix,omitempty" jsonschema:"maxLength=64"`
	Content    string `json:"content"`
	TTLSeconds int    `json:"ttlSeconds,omitempty" jsonschema:"minimum=0,maximum=86400"`
}

// FlowTransferParams is the payload of plugin.flow-transfer.
type FlowTransferParams struct {
	Target  string `json:"target" jsonschema:"minLength=1"`
	Payload any    `json:"payload,omitempty"`
}

// DivisionBoxParams is the payload of plugin.division-box.
type DivisionBoxParams struct {
	Title  string `json:"title" jsonschema:"minLength=1"`
	Width  int    `json:"width,omitempty" jsonschema:"minimum=100"`
	Height int    `json:"height,omitempty" jsonschema:"minimum=100"`
}

// AgentParams is the payload of ai.intelligence-agents.
type AgentParams struct {
	Agent  string   `json:"agent" jsonschema:"minLength=1"`
	Prompt string   `json:"prompt" jsonschema:"minLength=1"`
	Tools  []string `json:"tools,omitempty"`
}

// DefaultParams maps built-in capability ids to their payload models.
func DefaultParams() map[string]any {
	return map[string]any{
		capability.Storage:            &StorageParams{},
		capability.DownloadCenter:     &DownloadParams{},
		capability.TempFile:           &TempFileParams{},
		capability.FlowTransfer:       &FlowTransferParams{},
		capability.DivisionBox:        &DivisionBoxParams{},
		capability.IntelligenceAgents: &AgentParams{},
	}
}

// RegisterDefaults registers the payload schemas of the built-in capabilities.
func RegisterDefaults(r SchemaRegistry) error {
	for id, model := range DefaultParams() {
		if err := r.Register(id, model); err != nil {
			return err
		}
	}
	return nil
}
