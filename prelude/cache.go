package prelude

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Cache memoizes compiles by input. Concurrent requests for the same input
// share one compile, which runs detached from any caller's cancellation; a
// caller whose ctx ends stops waiting and gets nil. Failed compiles are not
// cached.
type Cache struct {
	c      *Compiler
	group  singleflight.Group
	mu     sync.RWMutex
	byHash map[string]*Bundle
}

// NewCache wraps c.
func NewCache(c *Compiler) *Cache {
	return &Cache{c: c, byHash: make(map[string]*Bundle)}
}

// CompileFromSource is Compiler.CompileFromSource with memoization keyed by
// plugin, root and entry source. Local modules are read on the first
// compile only; call Forget after the plugin's files change.
func (k *Cache) CompileFromSource(ctx context.Context, pluginName, pluginRootDir, workDir, source string) *Bundle {
	key := keyedDigest(inputDomainKey, pluginName, pluginRootDir, source)

	k.mu.RLock()
	b, ok := k.byHash[key]
	k.mu.RUnlock()
	if ok {
		return b
	}

	return k.do(ctx, key, func(ctx context.Context) *Bundle {
		return k.c.CompileFromSource(ctx, pluginName, pluginRootDir, workDir, source)
	})
}

// CompileFromFile is Compiler.CompileFromFile with memoization keyed by
// plugin, root, entry path and entry contents. An unreadable entry is
// handed to the compiler uncached so the failure is logged there.
func (k *Cache) CompileFromFile(ctx context.Context, pluginName, pluginRootDir, workDir, entryPath string) *Bundle {
	full := entryPath
	if !filepath.IsAbs(full) {
		full = filepath.Join(pluginRootDir, full)
	}
	src, err := os.ReadFile(filepath.Clean(full))
	if err != nil {
		return k.c.CompileFromFile(ctx, pluginName, pluginRootDir, workDir, entryPath)
	}
	key := keyedDigest(inputDomainKey, pluginName, pluginRootDir, entryPath, string(src))

	k.mu.RLock()
	b, ok := k.byHash[key]
	k.mu.RUnlock()
	if ok {
		return b
	}
	return k.do(ctx, key, func(ctx context.Context) *Bundle {
		return k.c.CompileFromFile(ctx, pluginName, pluginRootDir, workDir, entryPath)
	})
}

func (k *Cache) do(ctx context.Context, key string, compile func(context.Context) *Bundle) *Bundle {
	flight := context.WithoutCancel(ctx)
	ch := k.group.DoChan(key, func() (any, error) {
		k.mu.RLock()
		b, ok := k.byHash[key]
		k.mu.RUnlock()
		if ok {
			return b, nil
		}
		b = compile(flight)
		if b != nil {
			k.mu.Lock()
			k.byHash[key] = b
			k.mu.Unlock()
		}
		return b, nil
	})

	select {
	case res := <-ch:
		return res.Val.(*Bundle)
	case <-ctx.Done():
		return nil
	}
}

// Forget drops every cached bundle of pluginName.
func (k *Cache) Forget(pluginName string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	for key, b := range k.byHash {
		if b.Plugin == pluginName {
			delete(k.byHash, key)
		}
	}
}

// Len returns the number of cached bundles.
func (k *Cache) Len() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.byHash)
}
