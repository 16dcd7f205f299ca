package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/smeltworks/smelt/pkg/label"
	"github.com/smeltworks/smelt/pkg/stores"
)

func newCacheCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the result store",
		Long: `Inspect and maintain the result store.

Stored results are frozen provider collections keyed by label and
configuration, digest-verified on read.`,
	}

	cmd.AddCommand(newCacheListCommand())
	cmd.AddCommand(newCacheShowCommand())
	cmd.AddCommand(newCacheDeleteCommand())
	cmd.AddCommand(newCacheVerifyCommand())
	cmd.AddCommand(newCacheHistoryCommand())

	return cmd
}

// cacheEntry is the list view of a stored result, without the payload.
type cacheEntry struct {
	Label         string    `json:"label"`
	Configuration string    `json:"configuration"`
	ProviderNames []string  `json:"provider_names"`
	Digest        string    `json:"digest"`
	EvaluationID  string    `json:"evaluation_id"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func newCacheListCommand() *cobra.Command {
	var (
		limit  int
		offset int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored analysis results",
		Example: `  # List stored results
  smelt cache list

  # Page through a large store
  smelt cache list --limit 20 --offset 40`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			rt, err := newRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.shutdown(ctx)

			store, err := rt.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			results, err := store.ListResults(ctx, limit, offset)
			if err != nil {
				return err
			}

			entries := make([]cacheEntry, 0, len(results))
			for _, res := range results {
				var names []string
				if err := json.Unmarshal([]byte(res.ProviderNames), &names); err != nil {
					return fmt.Errorf("failed to decode provider names for %s: %w", res.Label, err)
				}
				entries = append(entries, cacheEntry{
					Label:         res.Label,
					Configuration: res.Configuration,
					ProviderNames: names,
					Digest:        res.Digest,
					EvaluationID:  res.EvaluationID,
					UpdatedAt:     res.UpdatedAt,
				})
			}

			if jsonOutput {
				return printJSON(entries)
			}

			if len(entries) == 0 {
				fmt.Println("No stored results")
				return nil
			}
			fmt.Printf("%-40s %-16s %-14s %s\n", "LABEL", "CONFIGURATION", "DIGEST", "UPDATED")
			for _, entry := range entries {
				fmt.Printf("%-40s %-16s %-14s %s\n",
					entry.Label,
					entry.Configuration,
					shortDigest(entry.Digest),
					entry.UpdatedAt.Format(time.RFC3339),
				)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "maximum results to list")
	cmd.Flags().IntVar(&offset, "offset", 0, "results to skip")

	return cmd
}

func newCacheShowCommand() *cobra.Command {
	var (
		cell          string
		configuration string
		output        string
	)

	cmd := &cobra.Command{
		Use:   "show <label>",
		Short: "Show a stored provider payload",
		Example: `  # Show the stored collection for a target
  smelt cache show //examples/hello:hello

  # As YAML, for a specific configuration
  smelt cache show //examples/hello:hello --configuration release -o yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			rt, err := newRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.shutdown(ctx)

			lbl, cfg, err := storeKey(rt, args[0], cell, configuration)
			if err != nil {
				return err
			}

			store, err := rt.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			res, err := store.GetResult(ctx, lbl, cfg)
			if err != nil {
				return err
			}

			switch resolveFormat(cmd, output) {
			case outputYAML:
				return printYAML(json.RawMessage(res.Providers))
			default:
				return printJSON(json.RawMessage(res.Providers))
			}
		},
	}

	cmd.Flags().StringVar(&cell, "cell", "root", "cell bare // labels are resolved against")
	cmd.Flags().StringVar(&configuration, "configuration", "", "configuration name (default from the workspace manifest)")
	cmd.Flags().StringVarP(&output, "output", "o", outputJSON, "output format: json or yaml")

	return cmd
}

func newCacheDeleteCommand() *cobra.Command {
	var (
		cell          string
		configuration string
	)

	cmd := &cobra.Command{
		Use:   "delete <label>",
		Short: "Delete a stored analysis result",
		Example: `  # Drop the stored result for a target
  smelt cache delete //examples/hello:hello --configuration release`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			rt, err := newRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.shutdown(ctx)

			lbl, cfg, err := storeKey(rt, args[0], cell, configuration)
			if err != nil {
				return err
			}

			store, err := rt.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.DeleteResult(ctx, lbl, cfg); err != nil {
				return err
			}

			fmt.Printf("✓ Deleted %s (%s)\n", lbl, cfg)
			return nil
		},
	}

	cmd.Flags().StringVar(&cell, "cell", "root", "cell bare // labels are resolved against")
	cmd.Flags().StringVar(&configuration, "configuration", "", "configuration name (default from the workspace manifest)")

	return cmd
}

func newCacheVerifyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify stored digests",
		Long: `Recompute the digest of every stored provider payload and compare it
against the recorded one. Mismatches indicate the store was modified
outside smelt.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			rt, err := newRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.shutdown(ctx)

			store, err := rt.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			report, err := store.VerifyResults(ctx)
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(report)
			}

			if len(report.Mismatched) > 0 {
				for _, key := range report.Mismatched {
					fmt.Fprintf(os.Stderr, "digest mismatch: %s\n", key)
				}
				return fmt.Errorf("%d of %d stored results failed digest verification", len(report.Mismatched), report.Checked)
			}

			fmt.Printf("✓ Verified %d stored result(s)\n", report.Checked)
			return nil
		},
	}

	return cmd
}

func newCacheHistoryCommand() *cobra.Command {
	var (
		cell   string
		status string
		limit  int
		offset int
	)

	cmd := &cobra.Command{
		Use:   "history [label]",
		Short: "List recorded evaluations",
		Example: `  # Recent evaluations across all targets
  smelt cache history

  # Failed evaluations of one target
  smelt cache history //examples/hello:hello --status failed`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			rt, err := newRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.shutdown(ctx)

			var labelFilter *string
			if len(args) > 0 {
				lbl, err := label.ParseTargetLabel(qualifyLabel(args[0], cell))
				if err != nil {
					return err
				}
				s := lbl.String()
				labelFilter = &s
			}

			var statusFilter *stores.EvaluationStatus
			if status != "" {
				s := stores.EvaluationStatus(status)
				switch s {
				case stores.EvaluationStatusPending, stores.EvaluationStatusRunning,
					stores.EvaluationStatusCompleted, stores.EvaluationStatusFailed:
					statusFilter = &s
				default:
					return fmt.Errorf("unknown evaluation status: %s", status)
				}
			}

			store, err := rt.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			evals, err := store.ListEvaluations(ctx, labelFilter, statusFilter, limit, offset)
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(evals)
			}

			if len(evals) == 0 {
				fmt.Println("No recorded evaluations")
				return nil
			}
			fmt.Printf("%-36s %-40s %-16s %-10s %s\n", "ID", "LABEL", "CONFIGURATION", "STATUS", "STARTED")
			for _, ev := range evals {
				fmt.Printf("%-36s %-40s %-16s %-10s %s\n",
					ev.ID,
					ev.Label,
					ev.Configuration,
					ev.Status,
					ev.StartedAt.Format(time.RFC3339),
				)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&cell, "cell", "root", "cell bare // labels are resolved against")
	cmd.Flags().StringVar(&status, "status", "", "filter by status: pending, running, completed, or failed")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum evaluations to list")
	cmd.Flags().IntVar(&offset, "offset", 0, "evaluations to skip")

	return cmd
}

// storeKey normalizes a label argument and configuration flag into the
// result store's key pair.
func storeKey(rt *runtime, raw, cell, configuration string) (string, string, error) {
	lbl, err := label.ParseTargetLabel(qualifyLabel(raw, cell))
	if err != nil {
		return "", "", err
	}
	if configuration == "" {
		configuration = rt.ws.DefaultConfiguration
	}
	return lbl.String(), configuration, nil
}

func shortDigest(digest string) string {
	if len(digest) > 12 {
		return digest[:12]
	}
	return digest
}
