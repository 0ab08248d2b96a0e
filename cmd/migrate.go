package cmd

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/autoapply/internal/observability"
)

func newMigrateCmd(provider storeProvider) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Creates or upgrades the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			st, cleanup, err := provider.Create(ctx, cfg, observability.GetLogger())
			if err != nil {
				return err
			}
			defer cleanup()

			m, ok := st.(migrator)
			if !ok {
				return errors.New("the configured store has no schema to migrate")
			}
			if err := m.Migrate(ctx); err != nil {
				return err
			}
			cmd.Println("Database schema is up to date.")
			return nil
		},
	}
}
