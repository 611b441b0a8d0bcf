// Command gatewayd is the control-plane gateway binary: it provisions
// per-tenant project containers, drives their lifecycle through the state
// machine, and terminates the host-routed, TLS-enabled proxy in front of
// them.
package main

import (
	"fmt"
	"os"

	"github.com/cuemby/gatewayd/pkg/log"
	"github.com/spf13/cobra"
)

var (
	// Version information, set via ldflags at build time.
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "gatewayd",
	Short:   "gatewayd - multi-tenant project gateway",
	Long:    `gatewayd provisions, lifecycles, and routes traffic to per-tenant project containers behind a single TLS-terminating proxy.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"gatewayd version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("data-dir", "./gatewayd-data", "Data directory for the BoltDB store")
	rootCmd.PersistentFlags().String("docker-host", "", "Docker daemon endpoint (unix socket path or tcp:// address; auto-detected if empty)")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(versionCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}
