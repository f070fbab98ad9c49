// Package prelude compiles a plugin's Lua entry and the local modules it
// requires into one self-contained chunk. Host-provided modules matching
// the external patterns stay as run-time requires.
package prelude

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/yuin/gopher-lua/parse"
)

// DefaultMaxSourceBytes bounds a single source file.
const DefaultMaxSourceBytes = 1 << 20

// ErrSourceTooLarge is returned for a file over the configured limit.
var ErrSourceTooLarge = errors.New("source exceeds size limit")

// Compiler builds Bundles. It is safe for concurrent use.
type Compiler struct {
	logger         Logger
	externals      []string
	maxSourceBytes int64
}

// Option configures a Compiler.
type Option func(*Compiler)

// WithLogger sets the diagnostics logger.
func WithLogger(l Logger) Option {
	return func(c *Compiler) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithExternals replaces the external id patterns (doublestar syntax).
func WithExternals(patterns ...string) Option {
	return func(c *Compiler) {
		c.externals = append([]string(nil), patterns...)
	}
}

// WithMaxSourceBytes sets the per-file size limit. n <= 0 keeps the default.
func WithMaxSourceBytes(n int64) Option {
	return func(c *Compiler) {
		if n > 0 {
			c.maxSourceBytes = n
		}
	}
}

// NewCompiler creates a Compiler.
func NewCompiler(opts ...Option) *Compiler {
	c := &Compiler{
		logger:         slog.Default(),
		externals:      append([]string(nil), DefaultExternals...),
		maxSourceBytes: DefaultMaxSourceBytes,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Externals returns the configured external patterns.
func (c *Compiler) Externals() []string {
	return append([]string(nil), c.externals...)
}

// CompileFromSource compiles source as the entry of pluginName. Relative
// requires in source resolve against pluginRootDir. On any failure the
// cause is logged once at warn level and nil is returned.
func (c *Compiler) CompileFromSource(ctx context.Context, pluginName, pluginRootDir, workDir, source string) *Bundle {
	b, err := c.compile(ctx, pluginName, pluginRootDir, workDir, "", source)
	if err != nil {
		c.logger.Warn("prelude compile failed", "plugin", pluginName, "root", pluginRootDir, "error", err)
		return nil
	}
	return b
}

// CompileFromFile compiles the file at entryPath as the entry of
// pluginName. A relative entryPath is taken relative to pluginRootDir.
func (c *Compiler) CompileFromFile(ctx context.Context, pluginName, pluginRootDir, workDir, entryPath string) *Bundle {
	if !filepath.IsAbs(entryPath) {
		entryPath = filepath.Join(pluginRootDir, entryPath)
	}
	b, err := c.compile(ctx, pluginName, pluginRootDir, workDir, entryPath, "")
	if err != nil {
		c.logger.Warn("prelude compile failed", "plugin", pluginName, "entry", entryPath, "error", err)
		return nil
	}
	return b
}

// compile does the work of both entry points. entryPath is empty when the
// entry is given as source.
func (c *Compiler) compile(ctx context.Context, pluginName, rootDir, workDir, entryPath, source string) (*Bundle, error) {
	if pluginName == "" {
		return nil, errors.New("plugin name is empty")
	}
	r, err := newResolver(rootDir, c.externals)
	if err != nil {
		return nil, fmt.Errorf("plugin root: %w", err)
	}

	g := &graph{
		c:       c,
		r:       r,
		byKey:   make(map[string]*module),
		extSeen: make(map[string]bool),
	}

	var entry string
	if entryPath == "" {
		if int64(len(source)) > c.maxSourceBytes {
			return nil, fmt.Errorf("%w: entry is %d bytes", ErrSourceTooLarge, len(source))
		}
		entry = EntryKey
		if err := g.add(ctx, entry, r.root, source); err != nil {
			return nil, err
		}
	} else {
		path, err := r.resolve(r.root, "./"+filepath.ToSlash(mustRel(r.root, entryPath)))
		if err != nil {
			return nil, fmt.Errorf("entry: %w", err)
		}
		entry, err = g.addFile(ctx, path)
		if err != nil {
			return nil, err
		}
	}

	text := render(pluginName, entry, g.order)

	// The concatenation must itself be a valid chunk.
	if _, err := parse.Parse(strings.NewReader(text), pluginName+"@bundle"); err != nil {
		return nil, fmt.Errorf("bundle does not parse: %w", err)
	}

	if err := writeScratch(workDir, pluginName, text); err != nil {
		return nil, err
	}

	b := &Bundle{
		Plugin:    pluginName,
		Entry:     entry,
		Text:      text,
		Externals: g.externalIDs(),
		Digest:    keyedDigest(bundleDomainKey, text),
	}
	for _, m := range g.order {
		b.Modules = append(b.Modules, m.key)
	}
	c.logger.Info("prelude compiled", "plugin", pluginName, "modules", len(b.Modules), "externals", len(b.Externals))
	return b, nil
}

// mustRel returns path relative to root, or path itself when that fails.
// Escapes are caught by the resolver.
func mustRel(root, path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	rel, err := filepath.Rel(root, abs)
	if err != nil {
		return path
	}
	return rel
}

// writeScratch materializes the bundle in workDir for the duration of the
// compile. The file is always removed.
func writeScratch(workDir, pluginName, text string) error {
	if workDir == "" {
		return nil
	}
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return fmt.Errorf("work dir: %w", err)
	}
	f, err := os.CreateTemp(workDir, "prelude-"+pluginName+"-*.lua")
	if err != nil {
		return fmt.Errorf("scratch file: %w", err)
	}
	defer os.Remove(f.Name())
	defer f.Close()

	if _, err := f.WriteString(text); err != nil {
		return fmt.Errorf("scratch file: %w", err)
	}
	return nil
}
