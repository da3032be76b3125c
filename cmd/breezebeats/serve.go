// ABOUTME: The serve command wiring BlueZ, the queue, sessions and HTTP together
// ABOUTME: Runs until SIGINT/SIGTERM or the dashboard quits
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/AutoBreezeBeats/breezebeats/internal/artwork"
	"github.com/AutoBreezeBeats/breezebeats/internal/bluez"
	"github.com/AutoBreezeBeats/breezebeats/internal/bus"
	"github.com/AutoBreezeBeats/breezebeats/internal/config"
	"github.com/AutoBreezeBeats/breezebeats/internal/dashboard"
	"github.com/AutoBreezeBeats/breezebeats/internal/devices"
	"github.com/AutoBreezeBeats/breezebeats/internal/media"
	"github.com/AutoBreezeBeats/breezebeats/internal/playback"
	"github.com/AutoBreezeBeats/breezebeats/internal/server"
	"github.com/AutoBreezeBeats/breezebeats/internal/session"
	"github.com/AutoBreezeBeats/breezebeats/internal/version"
	"github.com/spf13/cobra"
)

var serveOpts struct {
	addr    string
	name    string
	logFile string
	tui     bool
	noMDNS  bool
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the BreezeBeats server (default command)",
	RunE:  runServe,
}

func init() {
	addServeFlags(serveCmd)
	rootCmd.AddCommand(serveCmd)
}

func addServeFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&serveOpts.addr, "addr", "", "Listen address (overrides server.addr)")
	cmd.Flags().StringVar(&serveOpts.name, "name", "", "Server friendly name (default: hostname-breezebeats)")
	cmd.Flags().StringVar(&serveOpts.logFile, "log-file", "", "Also log to this file (overrides log.file)")
	cmd.Flags().BoolVar(&serveOpts.tui, "tui", false, "Show the terminal dashboard")
	cmd.Flags().BoolVar(&serveOpts.noMDNS, "no-mdns", false, "Disable mDNS advertisement")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	closeLog, err := setupServeLogging()
	if err != nil {
		return err
	}
	defer closeLog()

	name := serverName()
	logger.Info("starting "+version.Product, "name", name, "version", version.Version)

	b := bus.New(logger, bus.WithBuffer(cfg.Bus.Buffer))
	registry := devices.NewRegistry(b, logger)

	driver, err := bluez.Dial(bluez.Config{
		Adapter:     cfg.Bluetooth.Adapter,
		PactlPath:   cfg.Bluetooth.PactlPath,
		SinkPrefix:  cfg.Bluetooth.SinkPrefix,
		SinkSuffix:  cfg.Bluetooth.SinkSuffix,
		DefaultSink: cfg.Bluetooth.DefaultSink,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to BlueZ: %w", err)
	}
	defer driver.Close()

	coordinator := devices.NewCoordinator(registry, driver, logger)
	scanner := devices.NewScanner(registry, driver, logger,
		devices.WithInterval(cfg.Scan.Interval.Duration()),
		devices.WithScanTimeout(cfg.Scan.Timeout.Duration()),
		devices.WithBusyChecker(coordinator),
	)

	queue := playback.NewQueue(buildResolver(cfg, logger), b, logger,
		playback.WithResolveTimeout(cfg.Media.ResolveTimeout.Duration()),
		playback.WithHistorySize(cfg.Queue.HistorySize),
	)

	var thumbnails server.Thumbnails
	if cache, err := artwork.NewCache("", nil, logger); err != nil {
		logger.Warn("thumbnail cache unavailable", "error", err)
	} else {
		thumbnails = cache
	}

	snapshot := server.Snapshot{Name: name, Registry: registry, Queue: queue}
	sessions := session.NewManager(b, queue, snapshot, logger)

	addr := cfg.Server.Addr
	if serveOpts.addr != "" {
		addr = serveOpts.addr
	}
	srv := server.New(server.Config{
		Addr:       addr,
		Name:       name,
		WSPath:     cfg.Server.WSPath,
		EnableMDNS: cfg.Server.MDNS && !serveOpts.noMDNS,
	}, server.Deps{
		Registry:    registry,
		Coordinator: coordinator,
		Scanner:     scanner,
		Queue:       queue,
		Sessions:    sessions,
		Thumbnails:  thumbnails,
		Logger:      logger,
	})

	listenAddr, err := srv.Listen()
	if err != nil {
		return err
	}

	if stopWatch := watchConfig(scanner); stopWatch != nil {
		defer stopWatch()
	}

	scanner.Start(ctx)

	runErr := make(chan error, 1)
	go func() { runErr <- srv.Run(ctx) }()

	if serveOpts.tui {
		board := dashboard.New(b, dashboard.Sources{
			Name:     name,
			Addr:     listenAddr.String(),
			Registry: registry,
			Queue:    queue,
			Sessions: sessions,
			Scanner:  scanner,
		}, logger)
		if err := board.Run(ctx); err != nil {
			logger.Error("dashboard error", "error", err)
		}
		cancel()
	} else {
		logger.Info("listening", "addr", listenAddr.String())
		logger.Info("press Ctrl-C to stop")
	}

	err = <-runErr
	cancel()
	<-scanner.Done()
	logger.Info(version.Product + " stopped")
	return err
}

// setupServeLogging tees logs into the log file. With the dashboard up,
// logs go to the file only.
func setupServeLogging() (func(), error) {
	path := cfg.Log.File
	if serveOpts.logFile != "" {
		path = serveOpts.logFile
	}
	if path == "" && serveOpts.tui {
		path = "breezebeats.log"
	}
	if path == "" {
		return func() {}, nil
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("error opening log file: %w", err)
	}

	var w io.Writer = io.MultiWriter(os.Stderr, f)
	if serveOpts.tui {
		w = f
	}
	setupLogger(w)
	logger.Info("logging to file", "path", path)
	return func() { f.Close() }, nil
}

func serverName() string {
	if serveOpts.name != "" {
		return serveOpts.name
	}
	if cfg.Server.Name != "" {
		return cfg.Server.Name
	}
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return hostname + "-breezebeats"
}

// buildResolver chains the configured resolvers in order
func buildResolver(c *config.Config, logger *slog.Logger) *media.Chain {
	resolvers := make([]media.Named, 0, len(c.Media.Resolvers))
	for _, name := range c.Media.Resolvers {
		switch name {
		case config.ResolverYTDLP:
			resolvers = append(resolvers, media.NewYTDLP(c.Media.YTDLPPath))
		case config.ResolverMP3:
			resolvers = append(resolvers, media.NewMP3Probe(nil))
		case config.ResolverDirect:
			resolvers = append(resolvers, media.Direct{})
		}
	}
	return media.NewChain(logger, resolvers...)
}

// watchConfig hot-reloads the scan interval and log level when the config
// file exists. Returns nil when nothing is watched.
func watchConfig(scanner *devices.Scanner) func() {
	path := globalOpts.configPath
	if path == "" {
		p, err := config.Path()
		if err != nil {
			return nil
		}
		path = p
	}
	if _, err := os.Stat(path); err != nil {
		return nil
	}

	watcher, err := config.NewWatcher(path, func(c *config.Config) {
		scanner.SetInterval(c.Scan.Interval.Duration())
		if !globalOpts.debug {
			logLevel.Set(c.LogLevel())
		}
	}, logger)
	if err != nil {
		logger.Warn("config hot reload unavailable", "error", err)
		return nil
	}
	if err := watcher.Start(); err != nil {
		logger.Warn("config hot reload unavailable", "error", err)
		watcher.Stop()
		return nil
	}
	return func() {
		if err := watcher.Stop(); err != nil {
			logger.Debug("config watcher stop", "error", err)
		}
	}
}
