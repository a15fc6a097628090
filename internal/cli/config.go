package cli

import (
	"github.com/spf13/cobra"
)

// NewConfigCommand creates the config command group.
func NewConfigCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the effective configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets masked",
		Long: `Print the configuration after defaults, the --config file and the
environment (DB_BACKEND, DATABASE_URL, SUPABASE_URL, SUPABASE_KEY, ...)
are applied. Keys and database passwords are masked.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := rootOpts.formatter(cmd)
			cfg, err := rootOpts.loadConfig()
			if err != nil {
				return fail(formatter, "config", err)
			}
			shown := cfg.Redacted()
			if formatter.Format == "json" {
				return formatter.Success(shown)
			}
			out, err := shown.YAML()
			if err != nil {
				return fail(formatter, "config", err)
			}
			_, err = formatter.Writer.Write(out)
			return err
		},
	})
	return cmd
}
