package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags; defaults to "dev" otherwise.
var version = "dev"

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the probed version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("probed " + version)
			return nil
		},
	}
}
