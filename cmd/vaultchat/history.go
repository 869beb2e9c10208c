package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jkaninda/vaultchat/internal/audit"
	"github.com/jkaninda/vaultchat/internal/bootstrap"
	"github.com/jkaninda/vaultchat/internal/config"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent runs from the audit store",
	Long: `List recent vaultchat runs recorded in the audit store, newest first.
Requires Audit:Enabled. Records hold the credential, vault, secret name and
version used by each run; secret values are never stored.`,
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().StringVar(&configDir, "config-dir", "", "directory containing appsettings.json (default $VAULTCHAT_CONFIG_DIR or .)")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "number of runs to show")
}

func runHistory(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(resolveConfigDir())
	if err != nil {
		return err
	}
	if !cfg.Audit.Enabled {
		return fmt.Errorf("audit store is disabled (set %s)", config.KeyAuditEnabled)
	}
	logger := bootstrap.NewLogger(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)

	store, err := audit.Open(cfg.Audit, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	records, err := store.Recent(ctx, historyLimit)
	if err != nil {
		return err
	}
	return printHistory(cmd.OutOrStdout(), records)
}

func printHistory(w io.Writer, records []audit.Record) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tOUTCOME\tCREDENTIAL\tSECRET\tVERSION\tFAILURE\tSTATUS\tDURATION")
	for _, r := range records {
		failed := "-"
		if r.FailureKind != "" {
			failed = r.FailureKind + "@" + r.FailureStage
		} else if r.FailureStage != "" {
			failed = r.FailureStage
		}
		status := "-"
		if r.StatusCode != 0 {
			status = fmt.Sprint(r.StatusCode)
		}
		version := r.SecretVersion
		if version == "" {
			version = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.StartedAt.Local().Format(time.DateTime),
			r.Outcome,
			r.Credential,
			r.SecretName,
			version,
			failed,
			status,
			r.Duration().Round(time.Millisecond),
		)
	}
	return tw.Flush()
}
