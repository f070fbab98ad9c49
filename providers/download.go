package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"

	sandbox "github.com/tuff-dev/tuff-sandbox"
	"github.com/tuff-dev/tuff-sandbox/registry"
)

// ErrTooLarge is returned when a download exceeds the size limit.
var ErrTooLarge = errors.New("download exceeds size limit")

// DownloadOption is a functional option for configuring a Downloader.
type DownloadOption func(*downloadConfig)

type downloadConfig struct {
	timeout      time.Duration
	maxBytes     int64
	maxRedirects int
	retries      int
	backoff      time.Duration
	allowPrivate bool
	logger       *slog.Logger
}

func defaultDownloadConfig() downloadConfig {
	return downloadConfig{
		timeout:      30 * time.Second,
		maxBytes:     50 * 1024 * 1024, // 50MB
		maxRedirects: 10,
		retries:      2,
		backoff:      500 * time.Millisecond,
		logger:       slog.Default(),
	}
}

// WithDownloadTimeout sets the per-request timeout.
func WithDownloadTimeout(d time.Duration) DownloadOption {
	return func(c *downloadConfig) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithMaxBytes sets the maximum body size.
func WithMaxBytes(n int64) DownloadOption {
	return func(c *downloadConfig) {
		if n > 0 {
			c.maxBytes = n
		}
	}
}

// WithRetries sets how often 429 and 5xx responses are retried.
func WithRetries(n int, backoff time.Duration) DownloadOption {
	return func(c *downloadConfig) {
		if n >= 0 {
			c.retries = n
		}
		if backoff > 0 {
			c.backoff = backoff
		}
	}
}

// WithAllowPrivateNetwork lets downloads reach loopback and private
// addresses. Off by default.
func WithAllowPrivateNetwork(allow bool) DownloadOption {
	return func(c *downloadConfig) { c.allowPrivate = allow }
}

// WithDownloadLogger sets the logger.
func WithDownloadLogger(l *slog.Logger) DownloadOption {
	return func(c *downloadConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// Downloader serves plugin.download-center. Files land in <dir>/<plugin>/.
type Downloader struct {
	dir    string
	cfg    downloadConfig
	client *http.Client
}

var _ sandbox.Provider = (*Downloader)(nil)

// NewDownloader creates a downloader writing under dir.
func NewDownloader(dir string, opts ...DownloadOption) *Downloader {
	cfg := defaultDownloadConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	dialer := &guardedDialer{allowPrivate: cfg.allowPrivate, timeout: cfg.timeout}
	transport := &http.Transport{
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		TLSClientConfig:       tlsConfig(),
		DialContext:           dialer.DialContext,
	}
	client := &http.Client{
		Timeout:   cfg.timeout,
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= cfg.maxRedirects {
				return fmt.Errorf("stopped after %d redirects", cfg.maxRedirects)
			}
			return nil
		},
	}
	return &Downloader{dir: dir, cfg: cfg, client: client}
}

// Handle implements sandbox.Provider.
func (d *Downloader) Handle(ctx context.Context, call *sandbox.Call) (any, error) {
	var p registry.DownloadParams
	if err := decode(call.Payload, &p); err != nil {
		return nil, err
	}
	u, err := url.Parse(p.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}

	start := time.Now()
	resp, err := d.get(ctx, u.String())
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("download %s: %s", redact(u), resp.Status)
	}

	name := fileName(p.Filename, u)
	pdir := filepath.Join(d.dir, call.Plugin)
	if err := os.MkdirAll(pdir, 0o700); err != nil {
		return nil, fmt.Errorf("create download dir: %w", err)
	}
	dest := filepath.Join(pdir, name)
	size, err := d.save(dest, resp.Body)
	if err != nil {
		return nil, err
	}

	d.cfg.logger.InfoContext(ctx, "download complete",
		"plugin", call.Plugin,
		"url", redact(u),
		"bytes", size,
		"latency", time.Since(start))
	return map[string]any{
		"path":        dest,
		"size":        size,
		"status":      resp.StatusCode,
		"contentType": resp.Header.Get("Content-Type"),
	}, nil
}

// get performs the request, retrying 429 and 5xx responses and transport
// errors other than guard refusals.
func (d *Downloader) get(ctx context.Context, rawURL string) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= d.cfg.retries; attempt++ {
		if attempt > 0 {
			wait := d.cfg.backoff << (attempt - 1)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, fmt.Errorf("invalid request: %w", err)
		}
		resp, err := d.client.Do(req)
		if err != nil {
			if IsBlockedError(err) || ctx.Err() != nil {
				return nil, err
			}
			lastErr = err
			continue
		}
		if !retryableStatus(resp.StatusCode) || attempt == d.cfg.retries {
			return resp, nil
		}
		lastErr = fmt.Errorf("server returned %s", resp.Status)
		_ = resp.Body.Close()
	}
	return nil, lastErr
}

func (d *Downloader) save(dest string, body io.Reader) (int64, error) {
	f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", filepath.Base(dest), err)
	}
	n, err := io.Copy(f, io.LimitReader(body, d.cfg.maxBytes+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && n > d.cfg.maxBytes {
		err = fmt.Errorf("%w (%d bytes)", ErrTooLarge, d.cfg.maxBytes)
	}
	if err != nil {
		_ = os.Remove(dest)
		return 0, err
	}
	return n, nil
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

// fileName picks a local name: the requested one, else the last URL path
// segment. Directory parts are dropped.
func fileName(requested string, u *url.URL) string {
	name := filepath.Base(filepath.Clean(requested))
	if requested == "" {
		name = path.Base(u.Path)
	}
	if name == "" || name == "." || name == "/" || name == ".." {
		name = "download"
	}
	return name
}

// redact strips credentials before a URL is logged.
func redact(u *url.URL) string {
	if u.User == nil {
		return u.String()
	}
	c := *u
	c.User = nil
	return c.String()
}
