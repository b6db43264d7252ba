package cmd

import (
	"fmt"
	"runtime/debug"

	"github.com/spf13/cobra"
)

// Actual version can be specified in build command.
var version = "unknown"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(_ *cobra.Command, _ []string) {
		v := version
		if info, ok := debug.ReadBuildInfo(); ok && v == "unknown" && info.Main.Version != "" {
			v = info.Main.Version
		}
		fmt.Printf("%s version: %s\n", app, v)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
