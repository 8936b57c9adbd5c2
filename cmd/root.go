// Package cmd contains the CLI commands for dispatch-proxy.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version is set at build time
	Version = "dev"
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "dispatch-proxy",
	Short: "A local dispatch core for routing chat-completion requests across pooled accounts",
	Long: `dispatch-proxy exposes an Anthropic- and OpenAI-compatible API backed by a pool
of user-owned accounts across multiple upstream providers (Antigravity,
ChatGPT-Codex, GitHub Copilot).

It routes each request to the next healthy account via sticky-head selection
and failover, so a single client integration can draw on several accounts
and providers without hitting per-account rate limits.`,
	Version: Version,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Global flags can be added here
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
}
