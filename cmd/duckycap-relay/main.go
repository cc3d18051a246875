package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"duckycap/internal/config"
	"duckycap/internal/debounce"
	"duckycap/internal/dispatch"
	"duckycap/internal/executor"
	"duckycap/internal/history"
	"duckycap/internal/logutil"
	"duckycap/internal/relay"
)

var version = "0.1.0"

var (
	flagConfig   string
	flagSocket   string
	flagLogLevel string
)

// dispatchDrainTimeout bounds how long shutdown waits for in-flight
// commands before leaving them to finish on their own.
const dispatchDrainTimeout = 2 * time.Second

var rootCmd = &cobra.Command{
	Use:   "duckycap-relay",
	Short: "duckyPad keystroke relay service",
	Long: `duckycap-relay listens on a Unix socket for key combinations sent by
the capture daemon, debounces them, and runs the configured script for
each mapped combination as the configured user.

The listening socket comes from systemd socket activation when
available, otherwise the service binds the configured path itself.`,
	Version:       version,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRelay(cmd.Context())
	},
}

func init() {
	rootCmd.Flags().StringVarP(&flagConfig, "config", "c", "", "Path to the YAML configuration file (required)")
	rootCmd.Flags().StringVar(&flagSocket, "socket", "", "Unix socket path (overrides the config file)")
	rootCmd.Flags().StringVar(&flagLogLevel, "log-level", "info", "Log level (debug/info/warn/error)")
	rootCmd.MarkFlagRequired("config")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runRelay(ctx context.Context) error {
	logutil.Setup(flagLogLevel)

	cfg, err := config.Load(flagConfig)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	table, err := relay.NewTable(cfg.Commands)
	if err != nil {
		return fmt.Errorf("build command table: %w", err)
	}
	table.Each(func(comboID, path string) {
		slog.Info("[main] mapping registered", "keys", comboID, "script", path)
	})

	socketPath := cfg.SocketPath()
	if flagSocket != "" {
		socketPath = flagSocket
	}

	listener, activated, err := relay.Listen(socketPath)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	if activated {
		slog.Info("[main] using systemd-activated socket")
	} else {
		slog.Info("[main] listening", "socket", socketPath)
	}

	ledger := debounce.NewLedger(cfg.DebounceWindow())
	sup := dispatch.NewSupervisor()
	runner := executor.NewRunner(cfg.User)

	// The nil check must happen on the concrete type: assigning a nil
	// *history.Journal to the interface would make it non-nil.
	var journal relay.Journal
	var journalCloser *history.Journal
	if cfg.HistoryDB != "" {
		j, err := history.Open(cfg.HistoryDB)
		if err != nil {
			return fmt.Errorf("open history journal: %w", err)
		}
		journal = j
		journalCloser = j
		slog.Info("[main] press history enabled", "db", cfg.HistoryDB)
	}

	service := relay.NewService(table, ledger, runner, sup, journal)
	srv := relay.NewServer(listener, service)
	if err := srv.Start(); err != nil {
		return fmt.Errorf("start server: %w", err)
	}

	if err := config.Watch(ctx, flagConfig); err != nil {
		slog.Warn("[main] config change watcher unavailable", "error", err)
	}

	slog.Info("[main] relay ready",
		"user", cfg.User,
		"mappings", table.Len(),
		"debounce", cfg.DebounceWindow(),
	)

	<-ctx.Done()
	slog.Info("[main] shutdown signal received")

	if err := srv.Stop(); err != nil {
		slog.Warn("[main] server stop", "error", err)
	}
	if !sup.Wait(dispatchDrainTimeout) {
		slog.Warn("[main] leaving in-flight commands running", "timeout", dispatchDrainTimeout)
	}
	if journalCloser != nil {
		if err := journalCloser.Close(); err != nil {
			slog.Warn("[main] history journal close", "error", err)
		}
	}
	slog.Info("[main] relay stopped")
	return nil
}
