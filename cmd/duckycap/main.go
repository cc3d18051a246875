package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	evdev "github.com/holoplot/go-evdev"
	"github.com/spf13/cobra"

	"duckycap/internal/capture"
	"duckycap/internal/config"
	"duckycap/internal/logutil"
	"duckycap/internal/varlink"
)

var version = "0.1.0"

var (
	flagSocket   string
	flagDevice   string
	flagLogLevel string
)

var rootCmd = &cobra.Command{
	Use:   "duckycap",
	Short: "duckyPad capture daemon",
	Long: `duckycap grabs the duckyPad input device exclusively and forwards
every key combination to the duckycap relay service over its Unix
socket. While the daemon runs, the duckyPad's keystrokes are hidden
from the rest of the system.`,
	Version:       version,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCapture(cmd.Context())
	},
}

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List attached input devices with vendor/product identifiers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return listDevices()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "Log level (debug/info/warn/error)")
	rootCmd.Flags().StringVar(&flagSocket, "socket", config.DefaultSocket, "Relay service Unix socket path")
	rootCmd.Flags().StringVar(&flagDevice, "device", capture.DefaultSymlink, "duckyPad device node or udev symlink")

	rootCmd.AddCommand(devicesCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runCapture(ctx context.Context) error {
	logutil.Setup(flagLogLevel)

	dev, err := capture.Discover(flagDevice)
	if err != nil {
		if errors.Is(err, capture.ErrDeviceNotFound) {
			return fmt.Errorf("no duckyPad attached: %w", err)
		}
		return err
	}

	capturer := capture.New(dev, varlink.NewClient(flagSocket))
	slog.Info("[main] capture starting", "socket", flagSocket)

	// A signal releases the grab and closes the device. The blocked
	// read may not notice until the next event arrives; the process
	// supervisor owns hard-deadline termination.
	go func() {
		<-ctx.Done()
		slog.Info("[main] shutdown signal received")
		capturer.Close()
	}()

	err = capturer.Run()
	if ctx.Err() != nil {
		slog.Info("[main] capture stopped")
		return nil
	}
	return err
}

func listDevices() error {
	paths, err := evdev.ListDevicePaths()
	if err != nil {
		return fmt.Errorf("enumerate input devices: %w", err)
	}
	for _, p := range paths {
		dev, err := evdev.Open(p.Path)
		if err != nil {
			fmt.Printf("%s\t(unreadable: %v)\n", p.Path, err)
			continue
		}
		id, err := dev.InputID()
		if err != nil {
			fmt.Printf("%s\t%s\n", p.Path, p.Name)
		} else {
			fmt.Printf("%s\t%04x:%04x\t%s\n", p.Path, id.Vendor, id.Product, p.Name)
		}
		dev.Close()
	}
	return nil
}
