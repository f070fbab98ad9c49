package providers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	sandbox "github.com/tuff-dev/tuff-sandbox"
	"github.com/tuff-dev/tuff-sandbox/registry"
)

// TempFiles serves plugin.temp-file. Files are written under
// <dir>/<plugin>/ and removed after their TTL or on Close.
type TempFiles struct {
	dir    string
	logger *slog.Logger

	mu     sync.Mutex
	files  map[string]*time.Timer
	closed bool
}

var _ sandbox.Provider = (*TempFiles)(nil)

// NewTempFiles creates the provider rooted at dir.
func NewTempFiles(dir string, logger *slog.Logger) *TempFiles {
	if logger == nil {
		logger = slog.Default()
	}
	return &TempFiles{dir: dir, logger: logger, files: make(map[string]*time.Timer)}
}

// Handle implements sandbox.Provider. The result holds the file path.
func (t *TempFiles) Handle(_ context.Context, call *sandbox.Call) (any, error) {
	var p registry.TempFileParams
	if err := decode(call.Payload, &p); err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, errors.New("temp file provider is closed")
	}

	pdir := filepath.Join(t.dir, call.Plugin)
	if err := os.MkdirAll(pdir, 0o700); err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	f, err := os.CreateTemp(pdir, p.Prefix+"*")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	name := f.Name()
	_, werr := f.WriteString(p.Content)
	cerr := f.Close()
	if err := errors.Join(werr, cerr); err != nil {
		_ = os.Remove(name)
		return nil, fmt.Errorf("write temp file: %w", err)
	}

	var timer *time.Timer
	if p.TTLSeconds > 0 {
		timer = time.AfterFunc(time.Duration(p.TTLSeconds)*time.Second, func() { t.expire(name) })
	}
	t.files[name] = timer

	return map[string]any{"path": name, "size": len(p.Content)}, nil
}

func (t *TempFiles) expire(name string) {
	t.mu.Lock()
	delete(t.files, name)
	t.mu.Unlock()
	if err := os.Remove(name); err != nil && !errors.Is(err, os.ErrNotExist) {
		t.logger.Warn("failed to remove expired temp file", "path", name, "error", err)
	}
}

// Close removes every file still held.
func (t *TempFiles) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true

	var errs []error
	for name, timer := range t.files {
		if timer != nil {
			timer.Stop()
		}
		if err := os.Remove(name); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	t.files = make(map[string]*time.Timer)
	return errors.Join(errs...)
}
