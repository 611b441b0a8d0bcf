package main

import (
	"fmt"

	"github.com/cuemby/gatewayd/pkg/storage"
	"github.com/spf13/cobra"
)

// migrateCmd applies the BoltDB schema: NewBoltStore already ensures every
// bucket (projects, accounts, custom_domains, tasks, certs) exists via
// CreateBucketIfNotExists, so opening and closing the store is the whole
// migration. A standalone subcommand still earns its keep: it lets an
// operator pre-create the data directory (and verify it's writable) before
// the first `serve` run, without starting any listener.
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply BoltDB schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		dataDir, _ := cmd.Flags().GetString("data-dir")

		store, err := storage.NewBoltStore(dataDir)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer store.Close()

		fmt.Printf("Schema up to date in %s\n", dataDir)
		return nil
	},
}
