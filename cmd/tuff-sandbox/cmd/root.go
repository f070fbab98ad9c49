package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	sandbox "github.com/tuff-dev/tuff-sandbox"
	"github.com/tuff-dev/tuff-sandbox/config"
)

// rootOptions is the state shared by every subcommand of one invocation.
type rootOptions struct {
	configFile string
	trust      bool

	v      *viper.Viper
	cfg    *config.Config
	logger *slog.Logger
}

// Execute runs the CLI and exits non-zero on failure.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := NewRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// NewRootCmd builds the tuff-sandbox command tree.
func NewRootCmd() *cobra.Command {
	o := &rootOptions{v: viper.New()}

	root := &cobra.Command{
		Use:           "tuff-sandbox",
		Short:         "Run sandboxed Lua and WASM plugins",
		Long:          `Loads plugins into isolated runtimes and mediates their capability calls.`,
		Version:       sandbox.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(o.v, o.configFile)
			if err != nil {
				return err
			}
			o.cfg = cfg
			o.logger = cfg.Logger(cmd.ErrOrStderr())
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&o.configFile, "config", "", "config file (default $HOME/.tuff/config.yaml)")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.String("log-format", "", "log format (text or json)")
	flags.String("security", "", "security level (strict, standard or permissive)")
	flags.BoolVar(&o.trust, "trust", false, "approve every consent request for this run")

	bind(o.v, root, "log.level", "log-level")
	bind(o.v, root, "log.format", "log-format")
	bind(o.v, root, "security", "security")

	root.AddCommand(
		newRunCmd(o),
		newCompileCmd(o),
		newCapabilitiesCmd(o),
		newGrantsCmd(o),
		newConfigCmd(o),
	)
	return root
}

func bind(v *viper.Viper, cmd *cobra.Command, key, flag string) {
	f := cmd.PersistentFlags().Lookup(flag)
	if f == nil {
		f = cmd.Flags().Lookup(flag)
	}
	if err := v.BindPFlag(key, f); err != nil {
		panic(fmt.Sprintf("bind %s: %v", flag, err))
	}
}
