package parser

import (
	"bytes"
	"errors"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/tuff-dev/tuff-sandbox/plugin"
)

// YamlManifestParser implements ManifestParser for manifest.yaml.
type YamlManifestParser struct{}

// NewYamlManifestParser creates a new YamlManifestParser.
func NewYamlManifestParser() ManifestParser {
	return &YamlManifestParser{}
}

// Parse decodes the first YAML document. Later documents are ignored.
func (p *YamlManifestParser) Parse(data []byte) (*plugin.Manifest, error) {
	var manifest plugin.Manifest
	if err := yaml.NewDecoder(bytes.NewReader(data)).Decode(&manifest); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrEmptyManifest
		}
		return nil, err
	}
	return &manifest, nil
}
