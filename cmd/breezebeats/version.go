// ABOUTME: Version subcommand
// ABOUTME: Prints the application title and release
package main

import (
	"fmt"

	"github.com/AutoBreezeBeats/breezebeats/internal/version"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(versionString())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func versionString() string {
	return fmt.Sprintf("%s %s", version.Title, version.Version)
}
