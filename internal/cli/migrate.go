package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/parthhkdigiverse/expense-tracker/internal/config"
)

// MigrateResult is the JSON payload of the migrate command.
type MigrateResult struct {
	Driver        string `json:"driver"`
	SchemaVersion int    `json:"schema_version"`
}

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the schema to the direct database",
		Long: `Open the direct database, creating it if it doesn't exist, apply any
pending migrations and report the schema version.

Migrations are idempotent; running migrate on an up-to-date database
changes nothing. The managed store's schema comes from
"expense-tracker schema --rls" instead.

Example:
  DATABASE_URL=postgres://app@localhost/ledger expense-tracker migrate`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(rootOpts, cmd)
		},
	}

	return cmd
}

func runMigrate(opts *RootOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	cfg, err := opts.loadConfig()
	if err != nil {
		return fail(formatter, "config", err)
	}
	if cfg.Backend != config.BackendDirect {
		_ = formatter.Error(ErrCodeConfig, "migrate needs backend: direct", nil)
		return NewExitError(ExitCommandError, "migrate needs backend: direct")
	}

	c, err := connect(commandContext(cmd), cfg)
	if err != nil {
		return fail(formatter, "connect", err)
	}
	defer func() {
		if closeErr := c.Close(); closeErr != nil {
			c.logger.Error("error closing database", "error", closeErr)
		}
	}()

	version, err := c.store.SchemaVersion(commandContext(cmd))
	if err != nil {
		return fail(formatter, "schema version", err)
	}
	c.logger.Info("database ready", "driver", cfg.Direct.Driver, "schema_version", version)

	result := MigrateResult{Driver: cfg.Direct.Driver, SchemaVersion: version}
	if formatter.Format == "json" {
		return formatter.Success(result)
	}
	fmt.Fprintf(formatter.Writer, "✓ Schema at version %d (%s)\n", result.SchemaVersion, result.Driver)
	return nil
}
