package cmd

import (
	"github.com/spf13/cobra"
)

// Version is the application version, set at build time with
// -ldflags "-X github.com/xkilldash9x/autoapply/cmd.Version=1.2.0".
var Version = "0.1.0"

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.Println(Version)
			return nil
		},
	}
}
