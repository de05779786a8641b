// Command probed runs the OVAL probe dispatch daemon.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "probed",
		Short: "probed dispatch daemon",
		Long:  "Run the OVAL probe dispatch core: an input loop, result cache, in-flight registry, and detached per-request workers sitting between a transport and an evaluator.",
	}
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to config file (JSON or YAML)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
