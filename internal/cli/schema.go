package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/parthhkdigiverse/expense-tracker/internal/catalog"
	"github.com/parthhkdigiverse/expense-tracker/internal/policysql"
)

// SchemaOptions holds flags for the schema command.
type SchemaOptions struct {
	*RootOptions
	Dialect  string
	RLS      bool
	Internal bool
	Output   string // output file path
}

// SchemaResult is the JSON payload of the schema command.
type SchemaResult struct {
	Dialect    catalog.Dialect `json:"dialect"`
	Statements []string        `json:"statements"`
}

// NewSchemaCommand creates the schema command.
func NewSchemaCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SchemaOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the DDL for the catalog",
		Long: `Print the CREATE statements for every table in the catalog.

With --rls the row-level security policies, their helper functions and
the payment procedures are appended, which is what the managed store
needs. The direct adapter applies its own schema on open.

Examples:
  expense-tracker schema --dialect sqlite --internal
  expense-tracker schema --dialect postgres --rls -o managed.sql`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSchema(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Dialect, "dialect", string(catalog.Postgres), "SQL dialect (postgres|sqlite)")
	cmd.Flags().BoolVar(&opts.RLS, "rls", false, "include row-level security policies (postgres only)")
	cmd.Flags().BoolVar(&opts.Internal, "internal", false, "include the direct store's bookkeeping tables")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output file path")

	return cmd
}

func runSchema(opts *SchemaOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	dialect, err := catalog.ParseDialect(opts.Dialect)
	if err != nil {
		_ = formatter.Error(ErrCodeInvalid, err.Error(), nil)
		return WrapExitError(ExitCommandError, "invalid dialect", err)
	}
	if opts.RLS && dialect != catalog.Postgres {
		_ = formatter.Error(ErrCodeInvalid, "--rls needs --dialect postgres", nil)
		return NewExitError(ExitCommandError, "--rls needs --dialect postgres")
	}

	cat := catalog.Default()
	stmts := cat.DDL(dialect, opts.Internal)
	formatter.VerboseLog("Rendered %d table statement(s)", len(stmts))
	if opts.RLS {
		policies, err := policysql.NewCompiler().PolicyDDL(cat)
		if err != nil {
			_ = formatter.Error(ErrCodePolicy, err.Error(), nil)
			return WrapExitError(ExitFailure, "failed to render policies", err)
		}
		formatter.VerboseLog("Rendered %d policy statement(s)", len(policies))
		stmts = append(stmts, policies...)
	}

	script := policysql.Script(stmts)
	if opts.Output != "" {
		if err := os.WriteFile(opts.Output, []byte(script), 0o644); err != nil {
			_ = formatter.Error(ErrCodeWriteFailed, fmt.Sprintf("writing output file: %v", err), nil)
			return WrapExitError(ExitCommandError, "failed to write schema", err)
		}
	}

	if formatter.Format == "json" {
		return formatter.Success(SchemaResult{Dialect: dialect, Statements: stmts})
	}
	if opts.Output != "" {
		fmt.Fprintf(formatter.Writer, "Wrote %d statement(s) to %s\n", len(stmts), opts.Output)
		return nil
	}
	fmt.Fprint(formatter.Writer, script)
	return nil
}
