package providers

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisStorage(t *testing.T) {
	mr := miniredis.RunT(t)
	s, err := NewRedisStorage(mr.Addr(), 0, "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	ctx := context.Background()

	ok, err := s.Handle(ctx, call("a", map[string]any{"op": "set", "key": "k", "value": map[string]any{"n": 1}}))
	require.NoError(t, err)
	assert.Equal(t, true, ok)
	assert.True(t, mr.Exists("tuff:storage:a"))

	v, err := s.Handle(ctx, call("a", map[string]any{"op": "get", "key": "k"}))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"n": float64(1)}, v)

	v, err = s.Handle(ctx, call("b", map[string]any{"op": "get", "key": "k"}))
	require.NoError(t, err)
	assert.Nil(t, v, "plugins are isolated")

	_, err = s.Handle(ctx, call("a", map[string]any{"op": "set", "key": "j", "value": "x"}))
	require.NoError(t, err)
	keys, err := s.Handle(ctx, call("a", map[string]any{"op": "list"}))
	require.NoError(t, err)
	assert.Equal(t, []any{"j", "k"}, keys)

	existed, err := s.Handle(ctx, call("a", map[string]any{"op": "delete", "key": "k"}))
	require.NoError(t, err)
	assert.Equal(t, true, existed)
	existed, err = s.Handle(ctx, call("a", map[string]any{"op": "delete", "key": "k"}))
	require.NoError(t, err)
	assert.Equal(t, false, existed)

	require.NoError(t, s.Clear(ctx, "a"))
	assert.False(t, mr.Exists("tuff:storage:a"))
}

func TestRedisStorage_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewRedisStorage(addr, 0, "")
	assert.ErrorContains(t, err, "failed to connect to redis")
}
