// Command gqlsubs runs a standalone GraphQL subscriptions server and
// publishes messages into one.
package main

import (
	"fmt"
	"os"

	"github.com/ggoodman/graphql-server-go/internal/config"
	"github.com/spf13/cobra"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "gqlsubs",
	Short: "Standalone GraphQL subscriptions server",
	Long: `gqlsubs serves a GraphQL endpoint whose subscriptions stream messages
published on named channels, plus a publish mutation that trusted services
call with a bearer token carrying role=graphql_server.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(publishCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
