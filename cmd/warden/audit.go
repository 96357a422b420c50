package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/pario-ai/warden/pkg/audit"
	"github.com/pario-ai/warden/pkg/config"
	"github.com/pario-ai/warden/pkg/models"
)

func newAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Query and manage the governance event log",
	}

	cmd.AddCommand(
		newAuditSearchCmd(),
		newAuditStatsCmd(),
		newAuditCleanupCmd(),
	)
	return cmd
}

func newAuditSearchCmd() *cobra.Command {
	var (
		configPath string
		kind       string
		since      string
		identity   string
		requestID  string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search governance events",
		RunE: func(cmd *cobra.Command, args []string) error {
			l, cleanup, err := openAuditLogger(configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			opts := models.AuditQueryOpts{
				Kind:      models.EventKind(kind),
				RequestID: requestID,
				Limit:     limit,
			}
			if identity != "" {
				opts.IdentityHash = audit.HashIdentity(identity)
			}
			if since != "" {
				t, err := time.Parse("2006-01-02", since)
				if err != nil {
					return fmt.Errorf("invalid --since date (use YYYY-MM-DD): %w", err)
				}
				opts.Since = t
			}

			entries, err := l.Query(context.Background(), opts)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), formatAuditEntries(entries))
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to warden config file")
	cmd.Flags().StringVar(&kind, "kind", "", "filter by event kind (rate_limited, penalized, strike, penalty_set, cache_hit, answered, upstream_error)")
	cmd.Flags().StringVar(&since, "since", "", "start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&identity, "identity", "", "filter by client identity")
	cmd.Flags().StringVar(&requestID, "request-id", "", "filter by request ID")
	cmd.Flags().IntVar(&limit, "limit", 50, "max entries to return")

	return cmd
}

func newAuditStatsCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show event counts by kind and day",
		RunE: func(cmd *cobra.Command, args []string) error {
			l, cleanup, err := openAuditLogger(configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			stats, err := l.Stats(context.Background())
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), formatAuditStats(stats))
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to warden config file")
	return cmd
}

func newAuditCleanupCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete events older than the retention period",
		RunE: func(cmd *cobra.Command, args []string) error {
			l, cleanup, err := openAuditLogger(configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			deleted, err := l.Cleanup(context.Background())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d audit entries.\n", deleted)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to warden config file")
	return cmd
}

func openAuditLogger(configPath string) (*audit.Logger, func(), error) {
	cfg := config.Default()
	if configPath != "" {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return nil, nil, err
		}
	}

	l, err := audit.New(cfg.Audit, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("open audit db: %w", err)
	}
	return l, func() { _ = l.Close() }, nil
}

func formatAuditEntries(entries []models.AuditEntry) string {
	if len(entries) == 0 {
		return "No audit entries found.\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-38s %-15s %-16s %7s %6s %8s %-20s\n",
		"REQUEST ID", "KIND", "IDENTITY", "STRIKES", "RETRY", "LATENCY", "TIME")
	b.WriteString(strings.Repeat("-", 118) + "\n")
	for _, e := range entries {
		fmt.Fprintf(&b, "%-38s %-15s %-16s %7d %5ds %6dms %-20s\n",
			e.RequestID, e.Kind, shortIdentity(e), e.StrikeCount,
			e.RetryAfterSec, e.LatencyMs,
			e.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return b.String()
}

// shortIdentity shows the raw identity when stored, else a hash prefix.
func shortIdentity(e models.AuditEntry) string {
	if e.Identity != "" {
		return e.Identity
	}
	if len(e.IdentityHash) > 12 {
		return e.IdentityHash[:12]
	}
	return e.IdentityHash
}

func formatAuditStats(stats []models.AuditStat) string {
	if len(stats) == 0 {
		return "No audit stats found.\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-16s %-12s %8s\n", "KIND", "DAY", "COUNT")
	b.WriteString(strings.Repeat("-", 38) + "\n")
	for _, s := range stats {
		fmt.Fprintf(&b, "%-16s %-12s %8d\n", s.Kind, s.Day, s.Count)
	}
	return b.String()
}
