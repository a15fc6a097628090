package cli

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/parthhkdigiverse/expense-tracker/internal/catalog"
	"github.com/parthhkdigiverse/expense-tracker/internal/policy"
)

// PolicyRow is one entity action and the predicate guarding it.
type PolicyRow struct {
	Table     string `json:"table"`
	Action    string `json:"action"`
	Predicate string `json:"predicate"`
}

// PoliciesResult is the JSON payload of the policies command.
type PoliciesResult struct {
	Valid    bool        `json:"valid"`
	Policies []PolicyRow `json:"policies"`
	Errors   []string    `json:"errors,omitempty"`
}

// NewPoliciesCommand creates the policies command.
func NewPoliciesCommand(rootOpts *RootOptions) *cobra.Command {
	var table string

	cmd := &cobra.Command{
		Use:   "policies",
		Short: "List and validate the access predicates",
		Long: `List the predicate guarding each action on each entity, then validate
the catalog: every action has a predicate, every column a predicate
names exists, and every foreign key points at an earlier table.

Exit codes:
  0 - Catalog is valid
  1 - Validation failed`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPolicies(rootOpts, table, cmd)
		},
	}

	cmd.Flags().StringVar(&table, "table", "", "list one table only")

	return cmd
}

func runPolicies(opts *RootOptions, table string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	return reportPolicies(formatter, catalog.Default(), table)
}

func reportPolicies(formatter *OutputFormatter, cat *catalog.Catalog, table string) error {
	entities := cat.Entities()
	if table != "" {
		t, ok := cat.Entity(table)
		if !ok {
			_ = formatter.Error(ErrCodeNotFound, fmt.Sprintf("unknown table %q", table), nil)
			return NewExitError(ExitCommandError, fmt.Sprintf("unknown table %q", table))
		}
		entities = []*catalog.Table{t}
	}

	result := PoliciesResult{Valid: true, Policies: []PolicyRow{}}
	for _, t := range entities {
		formatter.VerboseLog("Validating policy: %s", t.Name)
		for _, a := range policy.Actions {
			p := t.Policy.For(a)
			pred := "<missing>"
			if p != nil {
				pred = policy.String(p)
			}
			result.Policies = append(result.Policies, PolicyRow{Table: t.Name, Action: string(a), Predicate: pred})
		}
	}
	if table != "" {
		if err := policy.Validate(entities[0].Policy, entities[0].HasColumn); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s policy: %v", table, err))
		}
	} else if err := cat.Validate(); err != nil {
		result.Errors = append(result.Errors, unjoin(err)...)
	}
	result.Valid = len(result.Errors) == 0

	if formatter.Format == "json" {
		if err := formatter.Success(result); err != nil {
			return err
		}
	} else {
		w := tabwriter.NewWriter(formatter.Writer, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TABLE\tACTION\tPREDICATE")
		for _, r := range result.Policies {
			fmt.Fprintf(w, "%s\t%s\t%s\n", r.Table, r.Action, r.Predicate)
		}
		w.Flush()
		fmt.Fprintln(formatter.Writer)
		if result.Valid {
			fmt.Fprintf(formatter.Writer, "✓ %d polic(ies) valid\n", len(result.Policies))
		} else {
			fmt.Fprintln(formatter.Writer, "✗ Validation failed")
			for _, e := range result.Errors {
				fmt.Fprintf(formatter.Writer, "  %s: %s\n", ErrCodePolicy, e)
			}
		}
	}

	if !result.Valid {
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(result.Errors)))
	}
	return nil
}

// unjoin splits an errors.Join result into its messages.
func unjoin(err error) []string {
	var j interface{ Unwrap() []error }
	if errors.As(err, &j) {
		var out []string
		for _, e := range j.Unwrap() {
			out = append(out, e.Error())
		}
		return out
	}
	return []string{err.Error()}
}
