// Vectord keeps the ChatGenius vector index in sync with chat activity and
// serves ranked context for AI auto-responses.
//
// Usage:
//
//	# Start the daemon with defaults
//	vectord serve
//
//	# Configure via file and environment
//	vectord serve --config /etc/vectord/config.yaml
//	VECTORD_SERVER_PORT=9090 VECTORD_INDEX_PROVIDER=qdrant vectord serve
//
//	# Drive a running daemon
//	vectord migrate --admin-token $TOKEN
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

// configPath is the optional YAML config file for the serve command.
var configPath string

var rootCmd = &cobra.Command{
	Use:   "vectord",
	Short: "Vector context sync and retrieval daemon for ChatGenius",
	Long: `vectord mirrors ChatGenius messages and user profiles into a vector index
and serves ranked context bundles for AI auto-responses.

The serve command runs the daemon. The migrate, agent-migrate and reset
commands drive a running daemon's admin endpoints over HTTP.`,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("vectord\n")
		fmt.Printf("Version:    %s\n", version)
		fmt.Printf("Commit:     %s\n", gitCommit)
		fmt.Printf("Build Date: %s\n", buildDate)
	},
}
