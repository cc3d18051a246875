package capture

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	evdev "github.com/holoplot/go-evdev"
)

// duckyPad identification.
const (
	// DefaultSymlink is the stable udev-provided path for the duckyPad.
	DefaultSymlink = "/dev/input/duckypad"

	vendorID  uint16 = 0x0483
	productID uint16 = 0xD11C
)

// ErrDeviceNotFound is returned when no attached input device matches
// the duckyPad vendor/product identifiers.
var ErrDeviceNotFound = errors.New("duckypad device not found")

// Discover locates the duckyPad. The stable symlink is preferred; when
// it is absent, unopenable, or points at the wrong hardware, every
// input device is enumerated and the first vendor/product match wins.
func Discover(symlink string) (*evdev.InputDevice, error) {
	if symlink != "" {
		if _, err := os.Stat(symlink); err == nil {
			dev, err := evdev.Open(symlink)
			if err == nil {
				if matchesDuckyPad(dev) {
					slog.Info("[capture] using device via udev symlink", "path", symlink)
					return dev, nil
				}
				slog.Warn("[capture] symlink present but vendor/product mismatch, falling back to scan", "path", symlink)
				dev.Close()
			} else {
				slog.Warn("[capture] failed to open symlink, falling back to scan", "path", symlink, "error", err)
			}
		}
	}

	slog.Info("[capture] scanning input devices for duckyPad",
		"vendor", fmt.Sprintf("%04x", vendorID),
		"product", fmt.Sprintf("%04x", productID),
	)
	paths, err := evdev.ListDevicePaths()
	if err != nil {
		return nil, fmt.Errorf("enumerate input devices: %w", err)
	}
	for _, p := range paths {
		dev, err := evdev.Open(p.Path)
		if err != nil {
			continue
		}
		if matchesDuckyPad(dev) {
			slog.Info("[capture] found duckyPad", "path", p.Path, "name", p.Name)
			return dev, nil
		}
		dev.Close()
	}
	return nil, ErrDeviceNotFound
}

func matchesDuckyPad(dev *evdev.InputDevice) bool {
	id, err := dev.InputID()
	if err != nil {
		return false
	}
	return id.Vendor == vendorID && id.Product == productID
}
