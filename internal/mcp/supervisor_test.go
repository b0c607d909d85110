package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, cfg Config) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tools.json")
	data, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigMissingFileIsEmpty(t *testing.T) {
	t.Parallel()

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.Servers) != 0 {
		t.Fatalf("expected empty config, got %+v", cfg)
	}
}

func TestStartUnknownServerFails(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, Config{Servers: map[string]ServerConfig{}})
	s := NewSupervisor(path, time.Second, time.Second)
	if err := s.Start(context.Background(), "ghost"); err == nil {
		t.Fatal("expected error for unconfigured server")
	}
}

func TestStartMissingCommand(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, Config{Servers: map[string]ServerConfig{
		"broken": {Command: "definitely-not-installed-binary-xyz"},
	}})
	s := NewSupervisor(path, time.Second, time.Second)
	err := s.Start(context.Background(), "broken")
	if !errors.Is(err, ErrCommandNotFound) {
		t.Fatalf("expected ErrCommandNotFound, got %v", err)
	}
}

// fakeServerScript answers one tools/list and one tools/call request
// in order; request ids are assigned sequentially starting at 1.
const fakeServerScript = `
read line
printf '%s\n' '{"jsonrpc":"2.0","id":1,"result":{"tools":[{"name":"echo","description":"echoes input"}]}}'
read line
printf '%s\n' '{"jsonrpc":"2.0","id":2,"result":{"content":[{"type":"text","text":"pong"}]}}'
`

func newFakeSupervisor(t *testing.T) *Supervisor {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell-based fake server needs a POSIX shell")
	}
	path := writeConfig(t, Config{Servers: map[string]ServerConfig{
		"fake": {Command: "sh", Args: []string{"-c", fakeServerScript}},
	}})
	s := NewSupervisor(path, 5*time.Second, 5*time.Second)
	t.Cleanup(s.StopAll)
	return s
}

func TestSupervisorLifecycle(t *testing.T) {
	s := newFakeSupervisor(t)
	ctx := context.Background()

	if err := s.Start(ctx, "fake"); err != nil {
		t.Fatalf("start: %v", err)
	}

	status, err := s.Status()
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if len(status) != 1 || !status[0].Running || status[0].PID == 0 {
		t.Fatalf("unexpected status: %+v", status)
	}

	tools, err := s.ListTools(ctx, "fake")
	if err != nil {
		t.Fatalf("list tools: %v", err)
	}
	if len(tools) != 1 || tools[0].Name != "echo" {
		t.Fatalf("tools = %+v", tools)
	}

	raw, err := s.CallTool(ctx, "fake", "echo", map[string]any{"text": "ping"})
	if err != nil {
		t.Fatalf("call tool: %v", err)
	}
	if !strings.Contains(string(raw), "pong") {
		t.Fatalf("result = %s", raw)
	}

	s.Stop("fake")
	status, err = s.Status()
	if err != nil {
		t.Fatalf("status after stop: %v", err)
	}
	if len(status) != 1 || status[0].Running {
		t.Fatalf("server should be stopped: %+v", status)
	}
}

func TestCallOnStoppedServer(t *testing.T) {
	s := newFakeSupervisor(t)
	_, err := s.ListTools(context.Background(), "fake")
	if !errors.Is(err, ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning, got %v", err)
	}
}

func TestRoundTripTimeout(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell-based fake server needs a POSIX shell")
	}
	// This server never answers.
	path := writeConfig(t, Config{Servers: map[string]ServerConfig{
		"mute": {Command: "sh", Args: []string{"-c", "sleep 30"}},
	}})
	s := NewSupervisor(path, 200*time.Millisecond, 200*time.Millisecond)
	t.Cleanup(s.StopAll)

	if err := s.Start(context.Background(), "mute"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := s.ListTools(context.Background(), "mute"); err == nil {
		t.Fatal("expected timeout error")
	}
}
