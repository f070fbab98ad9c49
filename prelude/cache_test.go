package prelude

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_Dedups(t *testing.T) {
	logger := &recordingLogger{}
	cache := NewCache(NewCompiler(WithLogger(logger)))
	root := t.TempDir()

	var wg sync.WaitGroup
	results := make([]*Bundle, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = cache.CompileFromSource(context.Background(), "p", root, "", `return 1`)
		}(i)
	}
	wg.Wait()

	for _, b := range results {
		require.NotNil(t, b)
		assert.Same(t, results[0], b)
	}
	assert.Equal(t, 1, cache.Len())
	assert.Equal(t, 1, logger.infos, "compiled once")
}

func TestCache_CanceledCallerDoesNotSpoilSharedCompile(t *testing.T) {
	logger := &recordingLogger{}
	cache := NewCache(NewCompiler(WithLogger(logger)))
	root := t.TempDir()

	canceled, cancel := context.WithCancel(context.Background())
	cancel()

	var wg sync.WaitGroup
	results := make([]*Bundle, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ctx := context.Background()
			if i%2 == 0 {
				ctx = canceled
			}
			results[i] = cache.CompileFromSource(ctx, "p", root, "", `return 2`)
		}(i)
	}
	wg.Wait()

	for i := 1; i < len(results); i += 2 {
		require.NotNil(t, results[i], "caller %d", i)
	}
	assert.Eventually(t, func() bool { return cache.Len() == 1 }, 5*time.Second, 10*time.Millisecond)

	b := cache.CompileFromSource(context.Background(), "p", root, "", `return 2`)
	require.NotNil(t, b)
	assert.Same(t, results[1], b)
}

func TestCache_FailuresNotCached(t *testing.T) {
	cache := NewCache(NewCompiler(WithLogger(&recordingLogger{})))
	root := t.TempDir()

	assert.Nil(t, cache.CompileFromSource(context.Background(), "p", root, "", `local = `))
	assert.Zero(t, cache.Len())
}

func TestCache_Forget(t *testing.T) {
	cache := NewCache(NewCompiler(WithLogger(&recordingLogger{})))
	root := t.TempDir()

	require.NotNil(t, cache.CompileFromSource(context.Background(), "a", root, "", `return 1`))
	require.NotNil(t, cache.CompileFromSource(context.Background(), "b", root, "", `return 1`))
	assert.Equal(t, 2, cache.Len())

	cache.Forget("a")
	assert.Equal(t, 1, cache.Len())
}

func TestCache_CompileFromFile(t *testing.T) {
	logger := &recordingLogger{}
	cache := NewCache(NewCompiler(WithLogger(logger)))
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "index.lua"), []byte(`return 1`), 0o600))

	first := cache.CompileFromFile(context.Background(), "p", root, "", "index.lua")
	require.NotNil(t, first)
	assert.Same(t, first, cache.CompileFromFile(context.Background(), "p", root, "", "index.lua"))

	require.NoError(t, os.WriteFile(filepath.Join(root, "index.lua"), []byte(`return 2`), 0o600))
	second := cache.CompileFromFile(context.Background(), "p", root, "", "index.lua")
	require.NotNil(t, second)
	assert.NotEqual(t, first.Digest, second.Digest)
	assert.Equal(t, 2, cache.Len())

	assert.Nil(t, cache.CompileFromFile(context.Background(), "p", root, "", "missing.lua"))
}
