// ABOUTME: Client subcommands for devices and the queue
// ABOUTME: Each one is a single call against a running server's HTTP API
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/AutoBreezeBeats/breezebeats/internal/client"
	"github.com/AutoBreezeBeats/breezebeats/internal/devices"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

const requestTimeout = 90 * time.Second

var jsonOutput bool

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List known Bluetooth devices",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := apiContext(cmd)
		defer cancel()

		list, err := api().Devices(ctx)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(list)
		}
		printDevices(list)
		return nil
	},
}

var connectCmd = &cobra.Command{
	Use:   "connect <address>",
	Short: "Pair and connect a device",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := apiContext(cmd)
		defer cancel()

		status, err := api().Connect(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Println(status)
		return nil
	},
}

var disconnectCmd = &cobra.Command{
	Use:   "disconnect <address>",
	Short: "Disconnect a device",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := apiContext(cmd)
		defer cancel()

		status, err := api().Disconnect(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Println(status)
		return nil
	},
}

var sinkCmd = &cobra.Command{
	Use:   "sink [address]",
	Short: "Route audio to a connected device, or back to the default output",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := apiContext(cmd)
		defer cancel()

		address := ""
		if len(args) == 1 {
			address = args[0]
		}
		message, err := api().SetSink(ctx, address)
		if err != nil {
			return err
		}
		fmt.Println(message)
		return nil
	},
}

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Ask the server to scan for devices now",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := apiContext(cmd)
		defer cancel()
		return api().Scan(ctx)
	},
}

var addCmd = &cobra.Command{
	Use:   "add <url>",
	Short: "Queue a video or audio URL",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := apiContext(cmd)
		defer cancel()

		item, err := api().AddVideo(ctx, args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(item)
		}
		fmt.Printf("Queued %s (%s)\n", item.Title, item.DurationValue().Round(time.Second))
		return nil
	},
}

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Show the playback queue",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := apiContext(cmd)
		defer cancel()

		snap, err := api().Queue(ctx)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(snap)
		}
		if len(snap.Items) == 0 {
			fmt.Println("Queue is empty")
			return nil
		}
		for i, item := range snap.Items {
			marker := " "
			if i == snap.Cursor {
				marker = "⏸"
				if snap.Playing {
					marker = "▶"
				}
			}
			fmt.Printf("%s %2d. %s (%s)\n", marker, i+1, item.Title, item.DurationValue().Round(time.Second))
		}
		return nil
	},
}

func init() {
	for _, cmd := range []*cobra.Command{devicesCmd, addCmd, queueCmd} {
		cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print raw JSON")
	}
	rootCmd.AddCommand(devicesCmd, connectCmd, disconnectCmd, sinkCmd, scanCmd, addCmd, queueCmd)
}

func api() *client.API {
	return client.NewAPI(globalOpts.server, nil)
}

func apiContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), requestTimeout)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printDevices(list map[string]devices.DeviceSummary) {
	if len(list) == 0 {
		fmt.Println("No devices known")
		return
	}

	addresses := make([]string, 0, len(list))
	for addr := range list {
		addresses = append(addresses, addr)
	}
	sort.Strings(addresses)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ADDRESS\tNAME\tCONNECTED\tSINK\tLAST SEEN")
	for _, addr := range addresses {
		d := list[addr]
		lastSeen := "never"
		if !d.LastSeen.IsZero() {
			lastSeen = humanize.Time(d.LastSeen)
		}
		sink := ""
		if d.Sink {
			sink = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%t\t%s\t%s\n", addr, d.Name, d.Connected, sink, lastSeen)
	}
	w.Flush()
}
