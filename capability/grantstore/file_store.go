// Package grantstore provides file-based persistence for capability grants.
package grantstore

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/goccy/go-yaml"
)

// fileStoreConfig holds configuration for the FileStore.
type fileStoreConfig struct {
	path     string
	dirPerm  os.FileMode
	filePerm os.FileMode
}

func defaultFileStoreConfig() fileStoreConfig {
	return fileStoreConfig{
		path:     DefaultPath(),
		dirPerm:  0o755,
		filePerm: 0o600,
	}
}

// DefaultPath is ~/.tuff/grants.yaml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.Getenv("HOME")
	}
	return filepath.Join(home, ".tuff", "grants.yaml")
}

// FileStoreOption configures a FileStore instance.
type FileStoreOption func(*fileStoreConfig)

// WithPath sets the path to the grants file.
func WithPath(path string) FileStoreOption {
	return func(c *fileStoreConfig) {
		if path != "" {
			c.path = path
		}
	}
}

// WithFilePermissions sets the file permissions for the grants file.
func WithFilePermissions(perm os.FileMode) FileStoreOption {
	return func(c *fileStoreConfig) {
		c.filePerm = perm
	}
}

// WithDirPermissions sets the directory permissions for the grants directory.
func WithDirPermissions(perm os.FileMode) FileStoreOption {
	return func(c *fileStoreConfig) {
		c.dirPerm = perm
	}
}

// grantFile is the on-disk layout: plugin name to granted capability ids.
type grantFile struct {
	Plugins map[string][]string `yaml:"plugins"`
}

// FileStore remembers "always allow" decisions in a YAML file.
type FileStore struct {
	config fileStoreConfig
	mu     sync.Mutex
}

// NewFileStore creates a new FileStore with the given options.
func NewFileStore(opts ...FileStoreOption) *FileStore {
	cfg := defaultFileStoreConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &FileStore{config: cfg}
}

// IsGranted reports whether pluginID has a remembered grant for capabilityID.
func (s *FileStore) IsGranted(pluginID, capabilityID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.load()
	if err != nil {
		return false, err
	}
	return slices.Contains(f.Plugins[pluginID], capabilityID), nil
}

// Grant records a grant. Granting twice is a no-op.
func (s *FileStore) Grant(pluginID, capabilityID string) error {
	if pluginID == "" || capabilityID == "" {
		return fmt.Errorf("grant needs a plugin and a capability")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.load()
	if err != nil {
		return err
	}
	if slices.Contains(f.Plugins[pluginID], capabilityID) {
		return nil
	}
	f.Plugins[pluginID] = append(f.Plugins[pluginID], capabilityID)
	slices.Sort(f.Plugins[pluginID])
	return s.save(f)
}

// Revoke removes a grant. Revoking an absent grant is a no-op.
func (s *FileStore) Revoke(pluginID, capabilityID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.load()
	if err != nil {
		return err
	}
	caps := f.Plugins[pluginID]
	i := slices.Index(caps, capabilityID)
	if i < 0 {
		return nil
	}
	caps = slices.Delete(caps, i, i+1)
	if len(caps) == 0 {
		delete(f.Plugins, pluginID)
	} else {
		f.Plugins[pluginID] = caps
	}
	return s.save(f)
}

// Grants returns a copy of every remembered grant.
func (s *FileStore) Grants() (map[string][]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.load()
	if err != nil {
		return nil, err
	}
	return f.Plugins, nil
}

// ConfigPath returns the path to the backing store.
func (s *FileStore) ConfigPath() string {
	return s.config.path
}

func (s *FileStore) load() (*grantFile, error) {
	f := &grantFile{}
	data, err := os.ReadFile(s.config.path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("failed to read grant store: %w", err)
	default:
		if err := yaml.Unmarshal(data, f); err != nil {
			return nil, fmt.Errorf("failed to parse grant store: %w", err)
		}
	}
	if f.Plugins == nil {
		f.Plugins = make(map[string][]string)
	}
	return f, nil
}

func (s *FileStore) save(f *grantFile) error {
	data, err := yaml.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to marshal grants: %w", err)
	}

	dir := filepath.Dir(s.config.path)
	if err := os.MkdirAll(dir, s.config.dirPerm); err != nil {
		return fmt.Errorf("failed to create grant store directory: %w", err)
	}

	if err := os.WriteFile(s.config.path, data, s.config.filePerm); err != nil {
		return fmt.Errorf("failed to write grant store: %w", err)
	}
	return nil
}
