// Command grantsd runs the role assignment service and its maintenance tasks.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var envFile string

	root := &cobra.Command{
		Use:           "grantsd",
		Short:         "Role assignment and permission resolution service",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file read before the environment (missing file is ignored)")

	root.AddCommand(
		newServeCommand(&envFile),
		newMigrateCommand(&envFile),
		newCatalogCommand(&envFile),
	)
	return root
}
