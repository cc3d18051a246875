// Package logutil configures the process-wide slog default for the
// duckycap binaries.
package logutil

import (
	"log/slog"
	"os"
	"strings"
)

// Setup installs a text handler on stderr at the named level. Unknown
// names fall back to info rather than failing startup over a typo.
func Setup(level string) {
	var lvl slog.Level
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}
