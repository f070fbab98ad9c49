package prelude

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

var (
	// ErrUnresolvedImport is returned for a non-external id with no file
	// under the plugin root.
	ErrUnresolvedImport = errors.New("unresolved import")
	// ErrOutsideRoot is returned when an id resolves outside the plugin root.
	ErrOutsideRoot = errors.New("import resolves outside plugin root")
)

// DefaultExternals are the ids provided by the host at run time.
var DefaultExternals = []string{"tuff", "tuff/**", "worker"}

// resolver maps require ids to files under one plugin root.
type resolver struct {
	root      string
	externals []string
}

func newResolver(root string, externals []string) (*resolver, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	resolvedRoot, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(resolvedRoot)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("plugin root %s is not a directory", root)
	}
	return &resolver{root: resolvedRoot, externals: externals}, nil
}

// isExternal reports whether id matches one of the external patterns.
func (r *resolver) isExternal(id string) bool {
	for _, p := range r.externals {
		if ok, _ := doublestar.Match(p, id); ok {
			return true
		}
	}
	return false
}

// resolve returns the absolute path of the file id names when required
// from a file in fromDir.
func (r *resolver) resolve(fromDir, id string) (string, error) {
	var base string
	switch {
	case id == "":
		return "", fmt.Errorf("%w: empty module id", ErrUnresolvedImport)
	case strings.HasPrefix(id, "./") || strings.HasPrefix(id, "../"):
		base = filepath.Join(fromDir, filepath.FromSlash(id))
	case strings.HasPrefix(id, "/") || filepath.IsAbs(id):
		return "", fmt.Errorf("%w: %q", ErrOutsideRoot, id)
	default:
		rel := id
		if !strings.Contains(rel, "/") {
			rel = strings.ReplaceAll(strings.TrimSuffix(rel, ".lua"), ".", "/")
		}
		base = filepath.Join(r.root, filepath.FromSlash(rel))
	}

	candidates := []string{base + ".lua", filepath.Join(base, "init.lua")}
	if strings.HasSuffix(base, ".lua") {
		candidates = append([]string{base}, candidates...)
	}

	for _, c := range candidates {
		if !r.within(c) {
			return "", fmt.Errorf("%w: %q", ErrOutsideRoot, id)
		}
		info, err := os.Stat(c)
		if err != nil || info.IsDir() {
			continue
		}
		resolved, err := filepath.EvalSymlinks(c)
		if err != nil {
			continue
		}
		if !r.within(resolved) {
			return "", fmt.Errorf("%w: %q", ErrOutsideRoot, id)
		}
		return resolved, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnresolvedImport, id)
}

func (r *resolver) within(path string) bool {
	rel, err := filepath.Rel(r.root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// key is the bundle key of an absolute path under the root.
func (r *resolver) key(path string) string {
	rel, err := filepath.Rel(r.root, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}
