package cmd

import (
	"fmt"
	"os"

	"roomrelay/pkg/client"

	"github.com/spf13/cobra"
)

var (
	serverURL string
	token     string
	api       *client.Client
)

var rootCmd = &cobra.Command{
	Use:           "relayctl",
	Short:         "Command line client for a roomrelay server",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		api = client.New(serverURL)
		if token != "" {
			api.SetToken(token)
		}
	},
}

// Execute runs the root command and exits non-zero on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "relayctl:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("ROOMRELAY_SERVER", "http://localhost:8080"), "server base URL")
	rootCmd.PersistentFlags().StringVar(&token, "token", os.Getenv("ROOMRELAY_TOKEN"), "access token")

	rootCmd.AddCommand(loginCmd, roomsCmd, commentsCmd, watchCmd, sayCmd)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
