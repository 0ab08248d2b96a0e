package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/autoapply/api/schemas"
	"github.com/xkilldash9x/autoapply/internal/observability"
)

// newStatusCmd reports an application the way its owner sees it. Internal
// error text is never printed.
func newStatusCmd(provider storeProvider) *cobra.Command {
	return &cobra.Command{
		Use:   "status <application-id>",
		Short: "Shows the user-facing status of an application",
		Args:  cobra.ExactArgs(1),
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

			app, err := st.GetApplication(ctx, args[0])
			if err != nil {
				return fmt.Errorf("failed to load application %s: %w", args[0], err)
			}
			cmd.Printf("Application %s (job %s): %s\n", app.ID, app.JobID, schemas.UserStatus(app.Status))
			if app.Method != "" {
				cmd.Printf("Method: %s\n", app.Method)
			}
			return nil
		},
	}
}
