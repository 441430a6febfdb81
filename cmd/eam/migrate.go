package main

import (
	"github.com/spf13/cobra"
)

// newMigrateCmd repairs an applications_dir laid out by an older farm
// layout by re-running create-symlinks for every installed app. There is
// no versioned on-disk schema to migrate between; this is a repair
// operation, not a data migration.
func newMigrateCmd() *cobra.Command {
	cmd := newEnsureSymlinkFarmCmd()
	cmd.Use = "migrate"
	cmd.Short = "Repair the symlink farm after an applications_dir layout change"
	return cmd
}
