package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"log/slog"

	"duckycap/internal/testutil"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "duckycap.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, `
user: mike
socket: /run/duckycap.varlink
debounce_ms: 250
commands:
  - keys: meta+f1
    path: /opt/scripts/lock.sh
  - keys: ctrl+shift+b
    path: /opt/scripts/build.sh
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.User != "mike" {
		t.Fatalf("User = %q", cfg.User)
	}
	if got := cfg.DebounceWindow(); got != 250*time.Millisecond {
		t.Fatalf("DebounceWindow() = %v", got)
	}
	if len(cfg.Commands) != 2 {
		t.Fatalf("Commands = %d entries", len(cfg.Commands))
	}
}

func TestLoadAppliesSocketDefault(t *testing.T) {
	path := writeConfig(t, "user: mike\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := cfg.SocketPath(); got != DefaultSocket {
		t.Fatalf("SocketPath() = %q, want %q", got, DefaultSocket)
	}
	if got := cfg.DebounceWindow(); got != 0 {
		t.Fatalf("DebounceWindow() = %v, want 0 (defer to default)", got)
	}
}

func TestLoadRejectsInvalidConfigs(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantMsg string
	}{
		{
			name:    "missing user",
			content: "commands: []\n",
			wantMsg: "user must not be empty",
		},
		{
			name:    "invalid user",
			content: "user: \"root;rm\"\n",
			wantMsg: "invalid user",
		},
		{
			name:    "negative debounce",
			content: "user: mike\ndebounce_ms: -1\n",
			wantMsg: "debounce_ms",
		},
		{
			name:    "relative script path",
			content: "user: mike\ncommands:\n  - keys: f1\n    path: scripts/x.sh\n",
			wantMsg: "must be absolute",
		},
		{
			name:    "missing script path",
			content: "user: mike\ncommands:\n  - keys: f1\n",
			wantMsg: "path is required",
		},
		{
			name:    "blank key spec",
			content: "user: mike\ncommands:\n  - keys: \"++\"\n    path: /opt/x.sh\n",
			wantMsg: "has no keys",
		},
		{
			name:    "relative socket",
			content: "user: mike\nsocket: run/x.sock\n",
			wantMsg: "must be absolute",
		},
		{
			name:    "malformed yaml",
			content: "user: [unclosed\n",
			wantMsg: "parse config",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			if err == nil {
				t.Fatal("Load() expected error")
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Fatalf("Load() error = %v, want substring %q", err, tt.wantMsg)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("Load() expected error for missing file")
	}
}

func TestLoadRejectsOversizedFile(t *testing.T) {
	path := writeConfig(t, "user: mike\n")
	original := osStat
	osStat = func(name string) (os.FileInfo, error) {
		info, err := original(name)
		if err != nil {
			return nil, err
		}
		return oversizedInfo{info}, nil
	}
	t.Cleanup(func() { osStat = original })

	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "exceeds") {
		t.Fatalf("Load() error = %v, want size error", err)
	}
}

type oversizedInfo struct{ os.FileInfo }

func (oversizedInfo) Size() int64 { return maxConfigFileBytes + 1 }

func TestWatchLogsOnChange(t *testing.T) {
	path := writeConfig(t, "user: mike\n")
	logBuf := testutil.CaptureLogBuffer(t, slog.LevelWarn)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := Watch(ctx, path); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	if err := os.WriteFile(path, []byte("user: bob\n"), 0o600); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if strings.Contains(logBuf.String(), "configuration file changed") {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("no change warning logged; log contents: %s", logBuf.String())
}

func TestWatchRejectsMissingDirectory(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	missing := filepath.Join(t.TempDir(), "nope", "duckycap.yaml")
	if err := Watch(ctx, missing); err == nil {
		t.Fatal("Watch() expected error for missing directory")
	}
}
