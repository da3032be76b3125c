// ABOUTME: Discover subcommand browsing the LAN for servers over mDNS
// ABOUTME: Prints each server's name and WebSocket URL
package main

import (
	"fmt"
	"time"

	"github.com/AutoBreezeBeats/breezebeats/internal/discovery"
	"github.com/spf13/cobra"
)

var discoverTimeout time.Duration

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Find BreezeBeats servers on the local network",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		servers, err := discovery.Browse(cmd.Context(), discoverTimeout)
		if err != nil {
			return err
		}
		if len(servers) == 0 {
			fmt.Println("No servers found")
			return nil
		}
		for _, s := range servers {
			fmt.Printf("%s\tws://%s%s\n", s.Name, s.Addr(), s.Path)
		}
		return nil
	},
}

func init() {
	discoverCmd.Flags().DurationVar(&discoverTimeout, "timeout", 3*time.Second, "How long to listen for answers")
	rootCmd.AddCommand(discoverCmd)
}
