// ABOUTME: Entry point for the BreezeBeats CLI
// ABOUTME: Root command runs the server; subcommands talk to a running one
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/AutoBreezeBeats/breezebeats/internal/config"
	"github.com/AutoBreezeBeats/breezebeats/internal/version"
	"github.com/spf13/cobra"
)

var (
	cfg        *config.Config
	globalOpts struct {
		debug      bool
		configPath string
		server     string
	}
	logLevel = new(slog.LevelVar)
	logger   *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "breezebeats",
	Short: "Bluetooth speaker jukebox server",
	Long: `BreezeBeats turns a Linux box into a shared jukebox for Bluetooth speakers.

Running breezebeats without a subcommand starts the server. The other
subcommands talk to a running server over its HTTP API and WebSocket.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(globalOpts.configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		logLevel.Set(cfg.LogLevel())
		if globalOpts.debug {
			logLevel.Set(slog.LevelDebug)
		}
		setupLogger(os.Stderr)
		return nil
	},
	RunE: runServe,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&globalOpts.debug, "debug", false,
		"Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&globalOpts.configPath, "config", "",
		"Path to config file (default: ~/.config/breezebeats/config.toml)")
	rootCmd.PersistentFlags().StringVarP(&globalOpts.server, "server", "s", "localhost:8000",
		"Address of a running server for client subcommands")

	addServeFlags(rootCmd)
}

// setupLogger configures the global slog logger writing to w
func setupLogger(w io.Writer) {
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: logLevel})
	logger = slog.New(handler)
	slog.SetDefault(logger)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
