package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/endlessm/eam/internal/buildinfo"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the eam version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(buildinfo.VersionString())
			return nil
		},
	}
}
