package cmd

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"

	"github.com/spf13/cobra"

	"github.com/tuff-dev/tuff-sandbox/parser"
	"github.com/tuff-dev/tuff-sandbox/prelude"
)

type compileOptions struct {
	entry   string
	name    string
	digest  bool
	modules bool
}

func newCompileCmd(o *rootOptions) *cobra.Command {
	co := &compileOptions{}
	cmd := &cobra.Command{
		Use:   "compile <plugin-dir>",
		Short: "Bundle a Lua plugin entry and print the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return compilePlugin(cmd, o, co, args[0])
		},
	}
	cmd.Flags().StringVar(&co.entry, "entry", "", "entry file relative to the plugin dir (default: manifest main)")
	cmd.Flags().StringVar(&co.name, "name", "", "plugin name (default: manifest name)")
	cmd.Flags().BoolVar(&co.digest, "digest", false, "print only the bundle digest")
	cmd.Flags().BoolVar(&co.modules, "modules", false, "print the inlined modules and run-time requires")
	return cmd
}

func compilePlugin(cmd *cobra.Command, o *rootOptions, co *compileOptions, dir string) error {
	root, err := filepath.Abs(dir)
	if err != nil {
		return err
	}

	name, entry := co.name, co.entry
	if name == "" || entry == "" {
		m, _, err := parser.LoadManifest(root)
		switch {
		case err == nil:
			if name == "" {
				name = m.Name
			}
			if entry == "" {
				entry = m.EntryPath()
			}
		case entry == "":
			return err
		default:
			name = filepath.Base(root)
		}
	}

	if filepath.Ext(entry) == ".wasm" {
		return errors.New("wasm entries are not bundled")
	}

	c := prelude.NewCompiler(
		prelude.WithLogger(o.logger),
		prelude.WithExternals(slices.Concat(prelude.DefaultExternals, o.cfg.Compiler.Externals)...),
		prelude.WithMaxSourceBytes(o.cfg.Compiler.MaxSourceBytes),
	)
	b := c.CompileFromFile(cmd.Context(), name, root, o.cfg.WorkDir, filepath.Join(root, entry))
	if b == nil {
		return fmt.Errorf("failed to compile %s", name)
	}

	out := cmd.OutOrStdout()
	switch {
	case co.digest:
		fmt.Fprintln(out, b.Digest)
	case co.modules:
		for _, m := range b.Modules {
			fmt.Fprintf(out, "module   %s\n", m)
		}
		for _, ext := range b.Externals {
			fmt.Fprintf(out, "external %s\n", ext)
		}
	default:
		fmt.Fprint(out, b.Text)
	}
	return nil
}
