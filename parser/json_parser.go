package parser

import (
	"bytes"
	"encoding/json"

	"github.com/tidwall/jsonc"

	"github.com/tuff-dev/tuff-sandbox/plugin"
)

// JSONManifestParser implements ManifestParser for manifest.json. Comments
// and trailing commas are accepted.
type JSONManifestParser struct{}

// NewJSONManifestParser creates a new JSONManifestParser.
func NewJSONManifestParser() ManifestParser {
	return &JSONManifestParser{}
}

// Parse strips JSONC extensions and decodes the result.
func (p *JSONManifestParser) Parse(data []byte) (*plugin.Manifest, error) {
	data = jsonc.ToJSON(data)
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ErrEmptyManifest
	}
	var manifest plugin.Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, err
	}
	return &manifest, nil
}
