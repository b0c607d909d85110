// Package browser manages a shared headless Chrome instance for the
// scraper, including health checks, relaunch and stray process cleanup.
package browser

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/shirou/gopsutil/v3/process"
)

// launchFlags keep pages from playing audio or video while scraping.
var launchFlags = []chromedp.ExecAllocatorOption{
	chromedp.Flag("headless", true),
	chromedp.Flag("mute-audio", true),
	chromedp.Flag("autoplay-policy", "document-user-activation-required"),
	chromedp.Flag("disable-background-media-playback", true),
	chromedp.Flag("disable-features", "AutoplayIgnoreWebAudio"),
}

// Browser is one running headless Chrome with its allocator.
type Browser struct {
	allocCtx    context.Context
	allocCancel context.CancelFunc
	rootCtx     context.Context
	rootCancel  context.CancelFunc
}

// Launch starts a headless browser. The returned Browser must be
// closed when done.
func Launch(ctx context.Context) (*Browser, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:], launchFlags...)
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	rootCtx, rootCancel := chromedp.NewContext(allocCtx)

	// Running a no-op action forces the process to start so launch
	// failures surface here instead of on the first page fetch.
	startCtx, cancel := context.WithTimeout(rootCtx, 30*time.Second)
	defer cancel()
	if err := chromedp.Run(startCtx); err != nil {
		rootCancel()
		allocCancel()
		return nil, fmt.Errorf("launching headless browser: %w", err)
	}
	return &Browser{
		allocCtx:    allocCtx,
		allocCancel: allocCancel,
		rootCtx:     rootCtx,
		rootCancel:  rootCancel,
	}, nil
}

// NewTab returns a context for a fresh tab sharing this browser.
func (b *Browser) NewTab() (context.Context, context.CancelFunc) {
	return chromedp.NewContext(b.rootCtx)
}

// Healthy reports whether the browser still answers by opening and
// closing a throwaway tab.
func (b *Browser) Healthy() bool {
	tab, cancel := b.NewTab()
	defer cancel()
	ctx, tcancel := context.WithTimeout(tab, 5*time.Second)
	defer tcancel()
	return chromedp.Run(ctx) == nil
}

// Close shuts the browser down.
func (b *Browser) Close() {
	b.rootCancel()
	b.allocCancel()
}

// Manager lazily launches a browser on first use and replaces it when
// it stops responding.
type Manager struct {
	mu      sync.Mutex
	current *Browser
	logger  *log.Logger
}

// NewManager returns an empty manager; no browser runs until Get.
func NewManager() *Manager {
	return &Manager{logger: log.New(log.Writer(), "[BROWSER] ", log.LstdFlags)}
}

// Get returns a live browser, launching or relaunching as needed.
func (m *Manager) Get(ctx context.Context) (*Browser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil {
		if m.current.Healthy() {
			return m.current, nil
		}
		m.logger.Printf("browser unresponsive, relaunching")
		m.current.Close()
		m.current = nil
	}

	b, err := Launch(ctx)
	if err != nil {
		return nil, err
	}
	m.current = b
	return b, nil
}

// Replace discards the current browser and launches a fresh one.
func (m *Manager) Replace(ctx context.Context) (*Browser, error) {
	m.mu.Lock()
	if m.current != nil {
		m.current.Close()
		m.current = nil
	}
	m.mu.Unlock()
	return m.Get(ctx)
}

// Shutdown closes the managed browser if one is running.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil {
		m.current.Close()
		m.current = nil
	}
}

// headless browser process names eligible for force kill.
var killableNames = map[string]bool{
	"chrome":         true,
	"chromium":       true,
	"chromedriver":   true,
	"headless_shell": true,
}

// alwaysKillable are safe to kill even when their command line cannot
// be read, since they only ever run as automation helpers.
var alwaysKillable = map[string]bool{
	"chromedriver":   true,
	"headless_shell": true,
}

// ForceKillStray terminates leftover headless browser processes and
// returns how many were killed. Regular user browsers are left alone:
// only processes carrying automation flags are touched.
func ForceKillStray() (int, error) {
	procs, err := process.Processes()
	if err != nil {
		return 0, fmt.Errorf("listing processes: %w", err)
	}

	killed := 0
	for _, p := range procs {
		name, err := p.Name()
		if err != nil {
			continue
		}
		base := strings.ToLower(strings.TrimSuffix(name, ".exe"))
		if !killableNames[base] {
			continue
		}
		cmdline, err := p.Cmdline()
		if err != nil || cmdline == "" {
			if !alwaysKillable[base] {
				continue
			}
		} else if !isAutomationCmdline(cmdline) {
			continue
		}
		if err := p.Kill(); err == nil {
			killed++
		}
	}
	return killed, nil
}

func isAutomationCmdline(cmdline string) bool {
	if strings.Contains(cmdline, "--headless") || strings.Contains(cmdline, "--remote-debugging-port") {
		return true
	}
	return strings.Contains(cmdline, "--disable-gpu") && strings.Contains(cmdline, "--no-sandbox")
}
