package providers

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sandbox "github.com/tuff-dev/tuff-sandbox"
)

func call(plugin string, payload map[string]any) *sandbox.Call {
	return &sandbox.Call{Plugin: plugin, Payload: payload}
}

func TestStorage(t *testing.T) {
	s := NewStorage()
	ctx := context.Background()

	ok, err := s.Handle(ctx, call("a", map[string]any{"op": "set", "key": "k", "value": "v"}))
	require.NoError(t, err)
	assert.Equal(t, true, ok)

	v, err := s.Handle(ctx, call("a", map[string]any{"op": "get", "key": "k"}))
	require.NoError(t, err)
	assert.Equal(t, "v", v)

	v, err = s.Handle(ctx, call("b", map[string]any{"op": "get", "key": "k"}))
	require.NoError(t, err)
	assert.Nil(t, v, "plugins are isolated")

	keys, err := s.Handle(ctx, call("a", map[string]any{"op": "list"}))
	require.NoError(t, err)
	assert.Equal(t, []any{"k"}, keys)

	existed, err := s.Handle(ctx, call("a", map[string]any{"op": "delete", "key": "k"}))
	require.NoError(t, err)
	assert.Equal(t, true, existed)

	_, err = s.Handle(ctx, call("a", map[string]any{"op": "truncate"}))
	assert.Error(t, err)

	s.Handle(ctx, call("a", map[string]any{"op": "set", "key": "x", "value": 1}))
	s.Forget("a")
	keys, _ = s.Handle(ctx, call("a", map[string]any{"op": "list"}))
	assert.Empty(t, keys)
}

func TestTempFiles(t *testing.T) {
	dir := t.TempDir()
	tf := NewTempFiles(dir, nil)

	res, err := tf.Handle(context.Background(), call("p", map[string]any{"prefix": "note-", "content": "hello"}))
	require.NoError(t, err)
	out := res.(map[string]any)
	path := out["path"].(string)
	assert.Equal(t, filepath.Join(dir, "p"), filepath.Dir(path))
	assert.Equal(t, 5, out["size"])

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(b))

	require.NoError(t, tf.Close())
	assert.NoFileExists(t, path)

	_, err = tf.Handle(context.Background(), call("p", map[string]any{"content": "x"}))
	assert.Error(t, err)
}

func TestTempFiles_TTL(t *testing.T) {
	tf := NewTempFiles(t.TempDir(), nil)
	defer tf.Close()

	res, err := tf.Handle(context.Background(), call("p", map[string]any{"content": "x", "ttlSeconds": 1}))
	require.NoError(t, err)
	path := res.(map[string]any)["path"].(string)

	assert.Eventually(t, func() bool {
		_, err := os.Stat(path)
		return os.IsNotExist(err)
	}, 5*time.Second, 50*time.Millisecond)
}

func TestDownloader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("payload"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	d := NewDownloader(dir, WithAllowPrivateNetwork(true))

	res, err := d.Handle(context.Background(), call("p", map[string]any{"url": srv.URL + "/files/data.txt"}))
	require.NoError(t, err)
	out := res.(map[string]any)
	assert.Equal(t, filepath.Join(dir, "p", "data.txt"), out["path"])
	assert.Equal(t, int64(7), out["size"])
	assert.Equal(t, http.StatusOK, out["status"])

	b, err := os.ReadFile(out["path"].(string))
	require.NoError(t, err)
	assert.Equal(t, "payload", string(b))
}

func TestDownloader_BlocksLoopbackByDefault(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	d := NewDownloader(t.TempDir())
	_, err := d.Handle(context.Background(), call("p", map[string]any{"url": srv.URL}))
	require.Error(t, err)
	assert.True(t, IsBlockedError(err))
}

func TestDownloader_SizeLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(make([]byte, 64))
	}))
	defer srv.Close()

	dir := t.TempDir()
	d := NewDownloader(dir, WithAllowPrivateNetwork(true), WithMaxBytes(16))
	_, err := d.Handle(context.Background(), call("p", map[string]any{"url": srv.URL, "filename": "big.bin"}))
	assert.ErrorIs(t, err, ErrTooLarge)
	assert.NoFileExists(t, filepath.Join(dir, "p", "big.bin"))
}

func TestDownloader_RetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	d := NewDownloader(t.TempDir(), WithAllowPrivateNetwork(true), WithRetries(2, time.Millisecond))
	_, err := d.Handle(context.Background(), call("p", map[string]any{"url": srv.URL, "filename": "f"}))
	require.NoError(t, err)
	assert.Equal(t, int32(3), hits.Load())

	hits.Store(-10)
	_, err = d.Handle(context.Background(), call("p", map[string]any{"url": srv.URL, "filename": "f"}))
	assert.ErrorContains(t, err, "503")
}

func TestBlockReason(t *testing.T) {
	cases := map[string]string{
		"127.0.0.1":   "loopback address",
		"10.1.2.3":    "private address",
		"169.254.1.1": "link-local address",
		"0.0.0.0":     "unspecified address",
		"100.64.0.1":  "shared address space",
		"::1":         "loopback address",
		"8.8.8.8":     "",
	}
	for ip, want := range cases {
		assert.Equal(t, want, blockReason(net.ParseIP(ip)), ip)
	}
}

func TestFileName(t *testing.T) {
	u, _ := url.Parse("https://example.com/a/b/report.pdf")
	assert.Equal(t, "report.pdf", fileName("", u))
	assert.Equal(t, "x.txt", fileName("../../x.txt", u))
	root, _ := url.Parse("https://example.com/")
	assert.Equal(t, "download", fileName("", root))
}
