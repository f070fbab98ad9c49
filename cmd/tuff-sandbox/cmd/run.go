package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	sandbox "github.com/tuff-dev/tuff-sandbox"
	"github.com/tuff-dev/tuff-sandbox/capability"
	"github.com/tuff-dev/tuff-sandbox/capability/gatekeeper"
	"github.com/tuff-dev/tuff-sandbox/capability/grantstore"
	"github.com/tuff-dev/tuff-sandbox/config"
	"github.com/tuff-dev/tuff-sandbox/plugin"
	"github.com/tuff-dev/tuff-sandbox/providers"
)

type runOptions struct {
	call string
	args string
	hold bool
}

func newRunCmd(o *rootOptions) *cobra.Command {
	ro := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run <plugin-dir>",
		Short: "Load a plugin and optionally call one of its exports",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlugin(cmd, o, ro, args[0])
		},
	}
	cmd.Flags().StringVar(&ro.call, "call", "", "exported function to call after loading")
	cmd.Flags().StringVar(&ro.args, "args", "[]", "JSON array of call arguments")
	cmd.Flags().BoolVar(&ro.hold, "hold", false, "keep the plugin loaded until interrupted")
	cmd.Flags().String("metrics-addr", "", "serve prometheus metrics on this address")
	cmd.Flags().Bool("allow-private", false, "let downloads reach private network addresses")
	bind(o.v, cmd, "metrics.addr", "metrics-addr")
	bind(o.v, cmd, "downloads.allow_private", "allow-private")
	return cmd
}

func runPlugin(cmd *cobra.Command, o *rootOptions, ro *runOptions, dir string) error {
	ctx := cmd.Context()
	cfg := o.cfg
	logger := o.logger

	var callArgs []any
	if err := json.Unmarshal([]byte(ro.args), &callArgs); err != nil {
		return fmt.Errorf("invalid --args: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if cfg.Metrics.Addr != "" {
		addr, stop, err := serveMetrics(cfg.Metrics.Addr, reg)
		if err != nil {
			return err
		}
		defer stop()
		logger.Info("serving metrics", "addr", addr)
	}

	gkOpts := []gatekeeper.Option{
		gatekeeper.WithStore(grantstore.NewFileStore(grantstore.WithPath(cfg.Grants))),
		gatekeeper.WithSecurityLevel(cfg.SecurityLevel()),
		gatekeeper.WithLogger(logger),
	}
	if o.trust {
		gkOpts = append(gkOpts, gatekeeper.WithConsentHandler(gatekeeper.ApproveAll))
	} else {
		gkOpts = append(gkOpts, gatekeeper.WithPrompter(gatekeeper.NewTerminalPrompter()))
	}
	gk, err := gatekeeper.NewGatekeeper(gkOpts...)
	if err != nil {
		return err
	}

	storage, closeStorage, err := storageProvider(cfg)
	if err != nil {
		return err
	}
	defer closeStorage()
	temp := providers.NewTempFiles(filepath.Join(cfg.WorkDir, "temp"), logger)
	defer temp.Close()
	downloads := providers.NewDownloader(filepath.Join(cfg.WorkDir, "downloads"),
		providers.WithAllowPrivateNetwork(cfg.Downloads.AllowPrivate),
		providers.WithMaxBytes(cfg.Downloads.MaxBytes),
		providers.WithDownloadLogger(logger),
	)

	h, err := sandbox.New(
		sandbox.WithLogger(logger),
		sandbox.WithWorkDir(cfg.WorkDir),
		sandbox.WithGatekeeper(gk),
		sandbox.WithRegisterer(reg),
		sandbox.WithMaxSourceBytes(cfg.Compiler.MaxSourceBytes),
		sandbox.WithExternals(cfg.Compiler.Externals...),
		sandbox.WithInvokeRateLimit(cfg.Limits.InvokePerSecond, cfg.Limits.InvokeBurst),
		sandbox.WithCapabilityProvider(capability.Storage, storage),
		sandbox.WithCapabilityProvider(capability.TempFile, temp),
		sandbox.WithCapabilityProvider(capability.DownloadCenter, downloads),
	)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := h.Close(closeCtx); err != nil {
			logger.Warn("host close failed", "error", err)
		}
	}()

	p, err := h.LoadPlugin(ctx, dir)
	if err != nil {
		var le *plugin.LoadError
		if errors.As(err, &le) {
			printIssues(cmd, le.Issues)
		}
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "loaded %s (%s)\n", p.Name(), p.Kind())
	if len(p.Issues) > 0 {
		printIssues(cmd, p.Issues)
	}
	if exports := p.Exports(); len(exports) > 0 {
		fmt.Fprintf(out, "exports: %s\n", strings.Join(exports, ", "))
	}

	if ro.call != "" {
		result, err := h.Call(ctx, p.Name(), ro.call, callArgs...)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			return fmt.Errorf("failed to encode result: %w", err)
		}
	}

	if ro.hold {
		logger.Info("plugin loaded, waiting for interrupt", "plugin", p.Name())
		<-ctx.Done()
	}
	return nil
}

// storageProvider returns the plugin.storage backend the config selects.
func storageProvider(cfg *config.Config) (sandbox.Provider, func(), error) {
	if cfg.Storage.RedisAddr == "" {
		return providers.NewStorage(), func() {}, nil
	}
	s, err := providers.NewRedisStorage(cfg.Storage.RedisAddr, cfg.Storage.RedisDB, cfg.Storage.RedisPassword)
	if err != nil {
		return nil, nil, err
	}
	return s, func() { _ = s.Close() }, nil
}

// serveMetrics exposes reg on addr/metrics and returns the bound address.
func serveMetrics(addr string, reg *prometheus.Registry) (string, func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", nil, fmt.Errorf("failed to listen for metrics: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() { _ = srv.Serve(ln) }()
	return ln.Addr().String(), func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}

func printIssues(cmd *cobra.Command, issues []plugin.Issue) {
	w := cmd.ErrOrStderr()
	for _, is := range issues {
		fmt.Fprintf(w, "%s %s: %s\n", strings.ToUpper(string(is.Type)), is.Code, is.Message)
	}
}
