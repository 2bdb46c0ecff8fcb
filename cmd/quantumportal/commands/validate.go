package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quantumportal/quantumportal/internal/content"
)

func newValidateCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [directory]",
		Short: "Check the config and translation files",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := siteDir(args)
			if err != nil {
				return err
			}
			cfg, err := g.loadConfig(dir)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}

			catalog, err := content.LoadDir(cfg.Content.Dir)
			if err != nil {
				return fmt.Errorf("invalid content: %w", err)
			}

			out := cmd.OutOrStdout()
			problems := catalog.Problems()
			if len(problems) == 0 {
				fmt.Fprintln(out, "Config and content OK")
				return nil
			}
			fmt.Fprintf(out, "Found %d problem(s):\n", len(problems))
			for _, p := range problems {
				fmt.Fprintf(out, "  - %s\n", p)
			}
			return fmt.Errorf("content has %d problem(s)", len(problems))
		},
	}
}
