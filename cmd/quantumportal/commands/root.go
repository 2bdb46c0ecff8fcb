// Package commands implements the quantumportal CLI.
package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/quantumportal/quantumportal/internal/config"
	"github.com/quantumportal/quantumportal/internal/logging"
)

// Version is the CLI version, overridden at build time with -ldflags.
var Version = "0.1.0-dev"

// globals are the persistent flags shared by every command.
type globals struct {
	debug      bool
	console    bool
	configPath string

	logger *zap.Logger
}

// NewRootCommand builds the quantumportal command tree.
func NewRootCommand() *cobra.Command {
	g := &globals{}

	root := &cobra.Command{
		Use:   "quantumportal",
		Short: "An interactive journey through quantum physics",
		Long: `quantumportal serves the Quantum Portal: a multilingual page with
live quantum demos whose state is kept per visitor on the server.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger, err := logging.New(logging.Options{Debug: g.debug, Console: g.console})
			if err != nil {
				return err
			}
			g.logger = logger
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if g.logger != nil {
				_ = g.logger.Sync()
			}
		},
	}

	root.PersistentFlags().BoolVar(&g.debug, "debug", false, "Enable debug logging")
	root.PersistentFlags().BoolVar(&g.console, "console", false, "Human readable log output instead of JSON")
	root.PersistentFlags().StringVarP(&g.configPath, "config", "c", "", "Config file (default: <dir>/"+config.FileName+")")

	root.AddCommand(newServeCommand(g))
	root.AddCommand(newValidateCommand(g))
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "quantumportal version %s\n", Version)
		},
	})
	return root
}

// siteDir resolves the optional directory argument.
func siteDir(args []string) (string, error) {
	dir := "."
	if len(args) > 0 {
		dir = args[0]
	}
	info, err := os.Stat(dir)
	if err != nil {
		return "", fmt.Errorf("directory does not exist: %s", dir)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("not a directory: %s", dir)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}
	return abs, nil
}

// loadConfig reads --config or the config file in dir. A relative content
// directory is resolved against dir.
func (g *globals) loadConfig(dir string) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if g.configPath != "" {
		cfg, err = config.Load(g.configPath)
	} else {
		cfg, err = config.LoadFromDir(dir)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Content.Dir != "" && !filepath.IsAbs(cfg.Content.Dir) {
		cfg.Content.Dir = filepath.Join(dir, cfg.Content.Dir)
	}
	return cfg, nil
}
