// ABOUTME: WebSocket subcommands for watching events and sending commands
// ABOUTME: Built on the client package's session client
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/AutoBreezeBeats/breezebeats/internal/client"
	"github.com/AutoBreezeBeats/breezebeats/internal/protocol"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream server events to stdout as JSON lines",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		c := client.NewClient(client.Config{ServerAddr: globalOpts.server, Logger: logger})
		if err := c.Connect(ctx); err != nil {
			return err
		}
		defer c.Close()

		hello := c.Hello()
		logger.Info("watching", "server", hello.Server, "version", hello.Version, "session", hello.SessionID)

		for {
			select {
			case <-ctx.Done():
				return nil
			case ev, ok := <-c.Events:
				if !ok {
					return fmt.Errorf("connection closed by server")
				}
				fmt.Printf("{\"type\":%q,\"payload\":%s}\n", ev.Type, ev.Payload)
			}
		}
	},
}

var sendCmd = &cobra.Command{
	Use:       "send <command>",
	Short:     "Send a transport command: play, pause, next_chapter, prev_chapter, next_video",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"play", "pause", "next_chapter", "prev_chapter", "next_video"},
	RunE: func(cmd *cobra.Command, args []string) error {
		command, err := protocol.DecodeCommand([]byte(args[0]))
		if err != nil {
			return err
		}

		c := client.NewClient(client.Config{ServerAddr: globalOpts.server, Logger: logger})
		if err := c.Connect(cmd.Context()); err != nil {
			return err
		}
		defer c.Close()

		return c.SendCommand(command)
	},
}

func init() {
	rootCmd.AddCommand(watchCmd, sendCmd)
}
