// Package parser provides functionality for parsing plugin manifests.
package parser

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tuff-dev/tuff-sandbox/plugin"
)

// ErrEmptyManifest is returned for a manifest file with no content.
var ErrEmptyManifest = errors.New("manifest is empty")

// Manifest file names tried by FindManifest, in priority order.
var manifestNames = []string{"manifest.json", "manifest.yaml", "manifest.yml"}

// ManifestParser parses raw manifest bytes into a Manifest.
type ManifestParser interface {
	// Parse unmarshals manifest bytes into a Manifest struct.
	Parse(data []byte) (*plugin.Manifest, error)
}

// ForPath returns the parser matching a manifest file extension.
func ForPath(path string) (ManifestParser, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		return NewJSONManifestParser(), nil
	case ".yaml", ".yml":
		return NewYamlManifestParser(), nil
	default:
		return nil, fmt.Errorf("unsupported manifest format: %s", filepath.Base(path))
	}
}

// FindManifest returns the path of the first manifest file present in dir.
func FindManifest(dir string) (string, error) {
	for _, name := range manifestNames {
		p := filepath.Join(dir, name)
		if st, err := os.Stat(p); err == nil && !st.IsDir() {
			return p, nil
		}
	}
	return "", fmt.Errorf("no manifest found in %s (tried %s)", dir, strings.Join(manifestNames, ", "))
}

// LoadManifest locates and parses the manifest in a plugin directory.
func LoadManifest(dir string) (*plugin.Manifest, string, error) {
	path, err := FindManifest(dir)
	if err != nil {
		return nil, "", err
	}
	p, err := ForPath(path)
	if err != nil {
		return nil, path, err
	}
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, path, fmt.Errorf("read manifest: %w", err)
	}
	m, err := p.Parse(data)
	if err != nil {
		return nil, path, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return m, path, nil
}
