package cli

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/parthhkdigiverse/expense-tracker/internal/backend"
	"github.com/parthhkdigiverse/expense-tracker/internal/ledger"
	"github.com/parthhkdigiverse/expense-tracker/internal/row"
)

// LedgerOptions holds the flags shared by commands that act as a user.
type LedgerOptions struct {
	*RootOptions
	IdentityOptions
}

// withLedger connects, runs fn as the selected identity and reports any
// failure through the formatter.
func withLedger(opts *LedgerOptions, cmd *cobra.Command, action string, fn func(context.Context, *conn, backend.Scope) error) error {
	formatter := opts.formatter(cmd)
	c, err := opts.open(cmd, formatter)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := c.Close(); closeErr != nil {
			c.logger.Error("error closing database", "error", closeErr)
		}
	}()

	err = c.do(commandContext(cmd), opts.IdentityOptions, func(ctx context.Context, sc backend.Scope) error {
		return fn(ctx, c, sc)
	})
	if err != nil {
		return fail(formatter, action, err)
	}
	return nil
}

// SweepResult is the JSON payload of the sweep command.
type SweepResult struct {
	Materialized int `json:"materialized"`
}

// NewSweepCommand creates the sweep command.
func NewSweepCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LedgerOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Materialize due recurring transactions",
		Long: `Create the transactions the caller's active recurring rules are due
for and advance each rule's next due date.

A rule is materialized once per sweep unless recurring.catch_up is set,
in which case every missed occurrence up to today is created. An
occurrence that already exists is never created twice.

Example:
  expense-tracker sweep --user 0190f5d4-...`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(opts, cmd, "sweep", func(ctx context.Context, c *conn, sc backend.Scope) error {
				n, err := c.ledger.SweepRecurring(ctx, sc)
				if err != nil {
					return err
				}
				f := opts.formatter(cmd)
				if f.Format == "json" {
					return f.Success(SweepResult{Materialized: n})
				}
				fmt.Fprintf(f.Writer, "✓ Materialized %d transaction(s)\n", n)
				return nil
			})
		},
	}

	addIdentityFlags(cmd, &opts.IdentityOptions)
	return cmd
}

// SettleOptions holds flags for the settle command.
type SettleOptions struct {
	LedgerOptions
	Amount      string
	Debt        bool
	BankAccount string
}

// NewSettleCommand creates the settle command.
func NewSettleCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SettleOptions{LedgerOptions: LedgerOptions{RootOptions: rootOpts}}

	cmd := &cobra.Command{
		Use:   "settle <id>",
		Short: "Record a payment against a holding or settle a debt",
		Long: `Record a payment against an organization holding. Without --amount the
remaining balance is paid in full. A payment larger than the remaining
balance is rejected and changes nothing.

With --debt the id names a personal debt instead; settling it records the
repayment transaction.

Exit codes:
  0 - Payment recorded
  1 - Payment refused (overpayment, not found, already settled)
  2 - Command error

Examples:
  expense-tracker settle --token $TOKEN --org $ORG 0190f5d4-... --amount 40
  expense-tracker settle --user $USER --debt 0190f5d5-...`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSettle(opts, args[0], cmd)
		},
	}

	addIdentityFlags(cmd, &opts.IdentityOptions)
	cmd.Flags().StringVar(&opts.Amount, "amount", "", "amount to pay (default: the remaining balance)")
	cmd.Flags().BoolVar(&opts.Debt, "debt", false, "settle a personal debt")
	cmd.Flags().StringVar(&opts.BankAccount, "bank-account", "", "bank account for the debt repayment")
	return cmd
}

func runSettle(opts *SettleOptions, id string, cmd *cobra.Command) error {
	var amount decimal.Decimal
	if opts.Amount != "" {
		var err error
		if amount, err = decimal.NewFromString(opts.Amount); err != nil {
			f := opts.formatter(cmd)
			_ = f.Error(ErrCodeInvalid, fmt.Sprintf("invalid amount %q", opts.Amount), nil)
			return WrapExitError(ExitCommandError, "invalid amount", err)
		}
	}

	return withLedger(&opts.LedgerOptions, cmd, "settle", func(ctx context.Context, c *conn, sc backend.Scope) error {
		f := opts.formatter(cmd)
		if opts.Debt {
			debt, tx, err := c.ledger.SettleDebt(ctx, sc, id, opts.BankAccount)
			if err != nil {
				return err
			}
			if f.Format == "json" {
				return f.Success(map[string]row.Row{"debt": debt, "transaction": tx})
			}
			fmt.Fprintf(f.Writer, "✓ Debt with %s settled: %s %s recorded\n",
				debt.Text("person_name"), tx.Text("type"), tx.Decimal("amount").StringFixed(2))
			return nil
		}

		var (
			holding row.Row
			err     error
		)
		if opts.Amount == "" {
			holding, err = c.ledger.SettleFull(ctx, sc, id)
		} else {
			holding, err = c.ledger.RecordPayment(ctx, sc, id, amount)
		}
		if err != nil {
			return err
		}
		if f.Format == "json" {
			return f.Success(holding)
		}
		fmt.Fprintf(f.Writer, "✓ %s: paid %s, remaining %s (%s)\n",
			holding.Text("name"),
			holding.Decimal("paid_amount").StringFixed(2),
			holding.Decimal("remaining_amount").StringFixed(2),
			holding.Text("status"))
		return nil
	})
}

// NewProvisionCommand creates the provision command.
func NewProvisionCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LedgerOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "provision <name>",
		Short: "Create an organization owned by the caller",
		Long: `Create an organization and enroll the caller as its owner.

Provisioning is idempotent: an organization the caller already created
is returned as is, and its creator is re-enrolled if the membership was
lost. Organization names are unique across all users.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(opts, cmd, "provision", func(ctx context.Context, c *conn, sc backend.Scope) error {
				org, err := c.ledger.ProvisionOrganization(ctx, sc, args[0])
				if err != nil {
					return err
				}
				f := opts.formatter(cmd)
				if f.Format == "json" {
					return f.Success(org)
				}
				fmt.Fprintf(f.Writer, "✓ Organization %q (%s)\n", org.Text("name"), org.ID())
				return nil
			})
		},
	}

	addIdentityFlags(cmd, &opts.IdentityOptions)
	return cmd
}

// NewSummaryCommand creates the summary command.
func NewSummaryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LedgerOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Print the organization's financial summary",
		Long: `Print revenue, expenses, net profit or loss, burn rate, margin and
investments for the organization named by --org.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(opts, cmd, "summary", func(ctx context.Context, c *conn, sc backend.Scope) error {
				sum, err := c.ledger.Summarize(ctx, sc)
				if err != nil {
					return err
				}
				f := opts.formatter(cmd)
				if f.Format == "json" {
					return f.Success(sum)
				}
				printSummary(f, sum)
				return nil
			})
		},
	}

	addIdentityFlags(cmd, &opts.IdentityOptions)
	return cmd
}

func printSummary(f *OutputFormatter, sum ledger.Summary) {
	result := "profit"
	if !sum.IsProfit() {
		result = "loss"
	}
	fmt.Fprintf(f.Writer, "Revenue:      %s (pending %s)\n", sum.TotalRevenue.StringFixed(2), sum.PendingRevenue.StringFixed(2))
	fmt.Fprintf(f.Writer, "Expenses:     %s\n", sum.TotalExpenses.StringFixed(2))
	fmt.Fprintf(f.Writer, "Net:          %s (%s)\n", sum.NetPL.StringFixed(2), result)
	fmt.Fprintf(f.Writer, "Burn rate:    %s / month\n", sum.BurnRate.StringFixed(2))
	fmt.Fprintf(f.Writer, "Margin:       %s%%\n", sum.MarginPct.StringFixed(2))
	fmt.Fprintf(f.Writer, "Investments:  %s\n", sum.TotalInvestments.StringFixed(2))
}
