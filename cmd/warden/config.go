package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/pario-ai/warden/pkg/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect warden configuration",
	}
	cmd.AddCommand(newConfigCheckCmd())
	return cmd
}

func newConfigCheckCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Load and validate a config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config:\n%w", err)
			}
			printConfigSummary(cmd.OutOrStdout(), cfg)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "warden.yaml", "path to config file")
	return cmd
}

func printConfigSummary(w io.Writer, cfg *config.Config) {
	g := cfg.Governance
	fmt.Fprintln(w, "config OK")
	fmt.Fprintf(w, "  listen:     %s\n", cfg.Listen)
	fmt.Fprintf(w, "  model:      %s (%d provider(s))\n", cfg.Upstream.Model, len(cfg.Providers))
	fmt.Fprintf(w, "  cache:      %d entries, ttl %s\n", g.CacheCapacity, g.CacheTTL)
	fmt.Fprintf(w, "  rate limit: %d per %s\n", g.RateLimit, g.RateWindow)
	fmt.Fprintf(w, "  strikes:    %d per %s, penalty %s\n", g.StrikeLimit, g.StrikeWindow, g.PenaltyDuration)
	fmt.Fprintf(w, "  sweep:      every %s\n", g.SweepInterval)
	fmt.Fprintf(w, "  audit:      %t\n", cfg.Audit.Enabled)
}
