package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/parthhkdigiverse/expense-tracker/internal/reconcile"
)

// BackfillTable holds the outcome counts for one source table.
type BackfillTable struct {
	Table    string                               `json:"table"`
	Outcomes map[string]map[reconcile.Outcome]int `json:"outcomes"`
}

// BackfillResult is the JSON payload of sync backfill.
type BackfillResult struct {
	Tables []BackfillTable `json:"tables"`
	Failed int             `json:"failed"`
}

// SyncEntry is one reconciliation record.
type SyncEntry struct {
	Rule        string `json:"rule"`
	RemoteTable string `json:"remote_table"`
	RemoteID    string `json:"remote_id,omitempty"`
	Pending     bool   `json:"pending"`
}

// NewSyncCommand creates the sync command group.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Mirror direct writes to the managed store",
		Long: `Inspect and replay the mirroring of direct writes to the managed store.

Requires backend: direct with sync.enabled and sync.service_key set.`,
	}
	cmd.AddCommand(newSyncBackfillCommand(rootOpts))
	cmd.AddCommand(newSyncStatusCommand(rootOpts))
	return cmd
}

func newSyncBackfillCommand(rootOpts *RootOptions) *cobra.Command {
	var tables []string

	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Mirror existing rows",
		Long: `Replay every local row through its mirror rules as if it had just been
created. Rows already mirrored are reported as duplicates, so repeated
backfills write nothing new.

Exit codes:
  0 - Every row mirrored or already present
  1 - At least one row failed to mirror
  2 - Command error

Examples:
  expense-tracker sync backfill
  expense-tracker sync backfill --table transactions --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBackfill(rootOpts, tables, cmd)
		},
	}

	cmd.Flags().StringSliceVar(&tables, "table", nil, "source tables to backfill (default: all mirrored tables)")
	return cmd
}

func runBackfill(opts *RootOptions, tables []string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	c, err := opts.openSync(cmd, formatter)
	if err != nil {
		return err
	}
	defer c.Close()

	if len(tables) == 0 {
		tables = c.rec.Tables()
	}

	ctx := commandContext(cmd)
	result := BackfillResult{Tables: make([]BackfillTable, 0, len(tables))}
	for _, table := range tables {
		formatter.VerboseLog("Backfilling %s", table)
		rep, err := c.rec.Backfill(ctx, table)
		if err != nil {
			return fail(formatter, "backfill", err)
		}
		for _, counts := range rep {
			result.Failed += counts[reconcile.Failed]
		}
		result.Tables = append(result.Tables, BackfillTable{Table: table, Outcomes: rep})
	}

	if formatter.Format == "json" {
		if err := formatter.Success(result); err != nil {
			return err
		}
	} else {
		outputBackfillText(formatter, result)
	}

	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d row(s) failed to mirror", result.Failed))
	}
	return nil
}

func outputBackfillText(f *OutputFormatter, result BackfillResult) {
	for _, t := range result.Tables {
		fmt.Fprintf(f.Writer, "%s:\n", t.Table)
		if len(t.Outcomes) == 0 {
			fmt.Fprintln(f.Writer, "  (no rows)")
			continue
		}
		rules := make([]string, 0, len(t.Outcomes))
		for name := range t.Outcomes {
			rules = append(rules, name)
		}
		sort.Strings(rules)
		for _, name := range rules {
			counts := t.Outcomes[name]
			fmt.Fprintf(f.Writer, "  %s: %d created, %d duplicate, %d skipped, %d failed\n",
				name, counts[reconcile.Created], counts[reconcile.Duplicate], counts[reconcile.Skipped], counts[reconcile.Failed])
		}
	}
	if result.Failed == 0 {
		fmt.Fprintln(f.Writer, "✓ Backfill complete")
	} else {
		fmt.Fprintf(f.Writer, "✗ %d row(s) failed to mirror\n", result.Failed)
	}
}

func newSyncStatusCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <table> <id>",
		Short: "Show how one row was mirrored",
		Long: `List the reconciliation records for one local row: which rules mirrored
it and the remote rows they produced. A record without a remote id is a
write still in flight or one that failed before it completed.`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSyncStatus(rootOpts, args[0], args[1], cmd)
		},
	}
	return cmd
}

func runSyncStatus(opts *RootOptions, table, id string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	c, err := opts.openSync(cmd, formatter)
	if err != nil {
		return err
	}
	defer c.Close()

	entries, err := c.rec.Entries(commandContext(cmd), table, id)
	if err != nil {
		return fail(formatter, "sync status", err)
	}
	out := make([]SyncEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, SyncEntry{
			Rule:        e.Rule,
			RemoteTable: e.RemoteTable,
			RemoteID:    e.RemoteID,
			Pending:     e.RemoteID == "",
		})
	}

	if formatter.Format == "json" {
		return formatter.Success(out)
	}
	if len(out) == 0 {
		fmt.Fprintf(formatter.Writer, "%s %s has not been mirrored.\n", table, id)
		return nil
	}
	for _, e := range out {
		remote := e.RemoteID
		if e.Pending {
			remote = "(pending)"
		}
		fmt.Fprintf(formatter.Writer, "%s → %s %s\n", e.Rule, e.RemoteTable, remote)
	}
	return nil
}

// openSync connects and requires the reconciler.
func (o *RootOptions) openSync(cmd *cobra.Command, f *OutputFormatter) (*conn, error) {
	c, err := o.open(cmd, f)
	if err != nil {
		return nil, err
	}
	if c.rec == nil {
		c.Close()
		_ = f.Error(ErrCodeConfig, "sync is not enabled", nil)
		return nil, NewExitError(ExitCommandError, "sync is not enabled: set sync.enabled and sync.service_key")
	}
	return c, nil
}
