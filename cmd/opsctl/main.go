// opsctl is the operator's command line for the provisioner's admin API.
//
// The server address and API key come from PROVISIONER_URL and
// ADMIN_API_KEY (a .env file in the working directory is honored).
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:   "opsctl",
		Short: "Operate the Shopkite provisioner",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}

	root.AddCommand(
		newInstancesCmd(),
		newSweepCmd(),
		newOverviewCmd(),
		newDestroyCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
