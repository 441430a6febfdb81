// Command eam is the command-line front end for com.endlessm.AppManager.
// A privileged caller (root or the app-manager user) runs transactions
// directly against the internal packages; anyone else proxies the same
// operation through the bus, exactly as an unprivileged desktop client
// would.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "eam",
		Short:         "Manage installed application bundles",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		newInstallCmd(),
		newUpdateCmd(),
		newUninstallCmd(),
		newListAppsCmd(),
		newAppInfoCmd(),
		newConfigCmd(),
		newCreateSymlinksCmd(),
		newEnsureSymlinkFarmCmd(),
		newInitFsCmd(),
		newMigrateCmd(),
		newVersionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "eam: "+err.Error())
		os.Exit(1)
	}
}
