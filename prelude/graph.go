package prelude

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/yuin/gopher-lua/parse"
)

// graph collects the modules reachable from an entry.
type graph struct {
	c       *Compiler
	r       *resolver
	order   []*module
	byKey   map[string]*module
	extSeen map[string]bool
}

// addFile reads, parses and adds the file at path with its imports.
// It returns the module key.
func (g *graph) addFile(ctx context.Context, path string) (string, error) {
	key := g.r.key(path)
	if _, ok := g.byKey[key]; ok {
		return key, nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", key, err)
	}
	if info.Size() > g.c.maxSourceBytes {
		return "", fmt.Errorf("%w: %s is %d bytes", ErrSourceTooLarge, key, info.Size())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", key, err)
	}

	return key, g.add(ctx, key, filepath.Dir(path), string(data))
}

// add parses source as module key and recursively adds the local modules
// it requires. Registration happens before recursion so cycles terminate.
func (g *graph) add(ctx context.Context, key, dir, source string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	source = stripShebang(source)
	chunk, err := parse.Parse(strings.NewReader(source), key)
	if err != nil {
		return fmt.Errorf("syntax error in %s: %w", key, err)
	}

	m := &module{key: key, source: source, imports: make(map[string]string)}
	g.byKey[key] = m
	g.order = append(g.order, m)

	for _, id := range requireIDs(chunk) {
		if g.r.isExternal(id) {
			g.extSeen[id] = true
			continue
		}
		path, err := g.r.resolve(dir, id)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		depKey, err := g.addFile(ctx, path)
		if err != nil {
			return err
		}
		m.imports[id] = depKey
	}
	return nil
}

func (g *graph) externalIDs() []string {
	out := make([]string, 0, len(g.extSeen))
	for id := range g.extSeen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// stripShebang blanks a leading "#!" line, which is only legal at the
// start of a file.
func stripShebang(source string) string {
	if !strings.HasPrefix(source, "#!") {
		return source
	}
	if i := strings.IndexByte(source, '\n'); i >= 0 {
		return "--" + source[2:i] + source[i:]
	}
	return ""
}
