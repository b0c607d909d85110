// Package mcp supervises external tool-server processes speaking
// line-delimited JSON-RPC 2.0 over stdio.
package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"sort"
	"sync"
	"time"
)

// ErrCommandNotFound indicates a configured server binary is not
// installed.
var ErrCommandNotFound = errors.New("mcp: command not found")

// ErrNotRunning indicates a request was made against a server that is
// not started.
var ErrNotRunning = errors.New("mcp: server not running")

// maxLineSize bounds one JSON-RPC response line.
const maxLineSize = 4 * 1024 * 1024

// ServerConfig describes how to launch one tool server.
type ServerConfig struct {
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// Config is the on-disk tool server configuration.
type Config struct {
	Servers map[string]ServerConfig `json:"mcpServers"`
}

// LoadConfig reads the configuration at path. A missing file yields an
// empty configuration.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Config{Servers: map[string]ServerConfig{}}, nil
		}
		return Config{}, fmt.Errorf("reading tool config: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing tool config %s: %w", path, err)
	}
	if cfg.Servers == nil {
		cfg.Servers = map[string]ServerConfig{}
	}
	return cfg, nil
}

type rpcRequest struct {
	JSONRPC string         `json:"jsonrpc"`
	ID      int64          `json:"id"`
	Method  string         `json:"method"`
	Params  map[string]any `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.Number     `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// process is one running tool server.
type process struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
	lines chan string
	done  chan struct{}

	mu     sync.Mutex
	nextID int64
}

func (p *process) exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// roundTrip sends one request and waits for the response carrying the
// same id, skipping notifications and stale responses in between.
func (p *process) roundTrip(ctx context.Context, method string, params map[string]any) (json.RawMessage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.nextID++
	id := p.nextID
	req := rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	if _, err := p.stdin.Write(append(payload, '\n')); err != nil {
		return nil, fmt.Errorf("writing %s request: %w", method, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%s: %w", method, ctx.Err())
		case line, ok := <-p.lines:
			if !ok {
				return nil, fmt.Errorf("%s: server exited mid-request", method)
			}
			if line == "" {
				continue
			}
			var resp rpcResponse
			if err := json.Unmarshal([]byte(line), &resp); err != nil {
				continue
			}
			if got, err := resp.ID.Int64(); err != nil || got != id {
				continue
			}
			if resp.Error != nil {
				return nil, fmt.Errorf("%s: %s (code %d)", method, resp.Error.Message, resp.Error.Code)
			}
			return resp.Result, nil
		}
	}
}

// ServerStatus is the reported state of one configured server.
type ServerStatus struct {
	Name    string `json:"name"`
	Running bool   `json:"running"`
	PID     int    `json:"pid,omitempty"`
}

// Tool describes one tool exposed by a server.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// Supervisor starts, stops and talks to configured tool servers.
type Supervisor struct {
	cfgPath     string
	listTimeout time.Duration
	callTimeout time.Duration
	logger      *log.Logger

	mu    sync.Mutex
	procs map[string]*process
}

// NewSupervisor manages the servers configured at cfgPath.
func NewSupervisor(cfgPath string, listTimeout, callTimeout time.Duration) *Supervisor {
	if listTimeout <= 0 {
		listTimeout = 10 * time.Second
	}
	if callTimeout <= 0 {
		callTimeout = 30 * time.Second
	}
	return &Supervisor{
		cfgPath:     cfgPath,
		listTimeout: listTimeout,
		callTimeout: callTimeout,
		logger:      log.New(log.Writer(), "[TOOLS] ", log.LstdFlags),
		procs:       make(map[string]*process),
	}
}

// Config returns the current on-disk configuration.
func (s *Supervisor) Config() (Config, error) {
	return LoadConfig(s.cfgPath)
}

// SaveConfig writes cfg back to disk.
func (s *Supervisor) SaveConfig(cfg Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.cfgPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing tool config: %w", err)
	}
	return os.Rename(tmp, s.cfgPath)
}

// Start launches the named server, replacing a previous instance.
func (s *Supervisor) Start(ctx context.Context, name string) error {
	cfg, err := LoadConfig(s.cfgPath)
	if err != nil {
		return err
	}
	serverCfg, ok := cfg.Servers[name]
	if !ok {
		return fmt.Errorf("tool server %q is not configured", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.procs[name]; ok {
		s.stopLocked(name, old)
	}

	path, err := resolveCommand(serverCfg.Command)
	if err != nil {
		return err
	}

	cmd := exec.Command(path, serverCfg.Args...)
	cmd.Env = os.Environ()
	for k, v := range serverCfg.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	configureSysProcAttr(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	cmd.Stderr = io.Discard

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting tool server %s: %w", name, err)
	}

	p := &process{
		cmd:   cmd,
		stdin: stdin,
		lines: make(chan string, 16),
		done:  make(chan struct{}),
	}
	go func() {
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
		for scanner.Scan() {
			p.lines <- scanner.Text()
		}
		close(p.lines)
	}()
	go func() {
		_ = cmd.Wait()
		close(p.done)
	}()

	s.procs[name] = p
	s.logger.Printf("started %s (pid %d)", name, cmd.Process.Pid)
	return nil
}

// Stop terminates the named server if running.
func (s *Supervisor) Stop(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.procs[name]; ok {
		s.stopLocked(name, p)
	}
}

func (s *Supervisor) stopLocked(name string, p *process) {
	p.stdin.Close()
	if !p.exited() {
		_ = p.cmd.Process.Kill()
	}
	<-p.done
	delete(s.procs, name)
	s.logger.Printf("stopped %s", name)
}

// StopAll terminates every running server.
func (s *Supervisor) StopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, p := range s.procs {
		s.stopLocked(name, p)
	}
}

// Status reports every configured server, including stopped ones, plus
// any running server that has been removed from the configuration.
func (s *Supervisor) Status() ([]ServerStatus, error) {
	cfg, err := LoadConfig(s.cfgPath)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []ServerStatus
	seen := map[string]bool{}
	for name, p := range s.procs {
		seen[name] = true
		if p.exited() {
			delete(s.procs, name)
			out = append(out, ServerStatus{Name: name})
			continue
		}
		out = append(out, ServerStatus{Name: name, Running: true, PID: p.cmd.Process.Pid})
	}
	for name := range cfg.Servers {
		if !seen[name] {
			out = append(out, ServerStatus{Name: name})
		}
	}
	return out, nil
}

func (s *Supervisor) proc(name string) (*process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.procs[name]
	if !ok || p.exited() {
		return nil, fmt.Errorf("%w: %s", ErrNotRunning, name)
	}
	return p, nil
}

// ListTools asks the named server which tools it exposes.
func (s *Supervisor) ListTools(ctx context.Context, name string) ([]Tool, error) {
	p, err := s.proc(name)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.listTimeout)
	defer cancel()

	raw, err := p.roundTrip(ctx, "tools/list", nil)
	if err != nil {
		return nil, fmt.Errorf("listing tools on %s: %w", name, err)
	}
	var result struct {
		Tools []Tool `json:"tools"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("parsing tool list from %s: %w", name, err)
	}
	return result.Tools, nil
}

// ServerTool is a tool tagged with the server that exposes it.
type ServerTool struct {
	Server string `json:"server"`
	Tool
}

// ListAllTools aggregates tools/list across every running server.
// Servers that fail to answer are logged and skipped.
func (s *Supervisor) ListAllTools(ctx context.Context) []ServerTool {
	s.mu.Lock()
	names := make([]string, 0, len(s.procs))
	for name, p := range s.procs {
		if !p.exited() {
			names = append(names, name)
		}
	}
	s.mu.Unlock()
	sort.Strings(names)

	var out []ServerTool
	for _, name := range names {
		tools, err := s.ListTools(ctx, name)
		if err != nil {
			s.logger.Printf("listing tools on %s: %v", name, err)
			continue
		}
		for _, t := range tools {
			out = append(out, ServerTool{Server: name, Tool: t})
		}
	}
	return out
}

// CallTool invokes one tool on the named server and returns the raw
// result payload.
func (s *Supervisor) CallTool(ctx context.Context, name, tool string, args map[string]any) (json.RawMessage, error) {
	p, err := s.proc(name)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	raw, err := p.roundTrip(ctx, "tools/call", map[string]any{
		"name":      tool,
		"arguments": args,
	})
	if err != nil {
		return nil, fmt.Errorf("calling %s on %s: %w", tool, name, err)
	}
	return raw, nil
}
