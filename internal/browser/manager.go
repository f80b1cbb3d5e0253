// Package browser implements the browser capability on top of chromedp: a
// lazily started, process-scoped Chrome and isolated pages with their own
// cookie jars.
package browser

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/portalpilot/api/schemas"
	"github.com/xkilldash9x/portalpilot/internal/config"
)

// ErrManagerClosed is returned when a page is requested after Close.
var ErrManagerClosed = errors.New("browser manager is closed")

// Manager owns the browser process. It is safe for concurrent use.
type Manager struct {
	cfg     config.BrowserConfig
	persona Persona
	logger  *zap.Logger

	mu            sync.Mutex
	started       bool
	closed        bool
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc

	// pages tracks open pages for a graceful Close.
	pages sync.WaitGroup
}

var _ schemas.BrowserManager = (*Manager)(nil)

// NewManager creates a Manager. The browser is not launched until Start or
// the first NewPage.
func NewManager(cfg config.BrowserConfig, logger *zap.Logger) *Manager {
	return &Manager{
		cfg:     cfg,
		persona: PersonaFromConfig(cfg),
		logger:  logger.Named("browser_manager"),
	}
}

// Start launches the browser if it is not running yet.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.startLocked(ctx)
}

func (m *Manager) startLocked(ctx context.Context) error {
	if m.closed {
		return ErrManagerClosed
	}
	if m.started {
		return nil
	}

	m.logger.Info("Launching browser...", zap.Bool("headless", m.cfg.Headless))
	// The process must outlive the caller's context, so it hangs off Background.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), m.allocatorOptions()...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx, chromedp.WithErrorf(m.logger.Sugar().Debugf))

	launched := make(chan error, 1)
	go func() { launched <- chromedp.Run(browserCtx) }()

	select {
	case err := <-launched:
		if err != nil {
			browserCancel()
			allocCancel()
			return fmt.Errorf("failed to launch browser: %w", err)
		}
	case <-ctx.Done():
		browserCancel()
		allocCancel()
		<-launched
		return fmt.Errorf("browser launch interrupted: %w", ctx.Err())
	}

	m.allocCancel = allocCancel
	m.browserCtx = browserCtx
	m.browserCancel = browserCancel
	m.started = true
	m.logger.Info("Browser launched successfully.")
	return nil
}

// NewPage opens a page in a fresh browser context so that cookies never leak
// between pages.
func (m *Manager) NewPage(ctx context.Context) (schemas.Page, error) {
	m.mu.Lock()
	if err := m.startLocked(ctx); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	browserCtx := m.browserCtx
	m.pages.Add(1)
	m.mu.Unlock()

	tabCtx, tabCancel := chromedp.NewContext(browserCtx, chromedp.WithNewBrowserContext())
	fail := func(err error) (schemas.Page, error) {
		tabCancel()
		m.pages.Done()
		return nil, err
	}

	// The first Run binds the target's event loop to the context it is given,
	// so the target is created on tabCtx and never on a caller-scoped one.
	created := make(chan error, 1)
	go func() { created <- chromedp.Run(tabCtx) }()
	select {
	case err := <-created:
		if err != nil {
			return fail(fmt.Errorf("failed to open page: %w", err))
		}
	case <-ctx.Done():
		tabCancel()
		<-created
		m.pages.Done()
		return nil, fmt.Errorf("page creation interrupted: %w", ctx.Err())
	}

	setupCtx, cancelSetup := CombineContext(tabCtx, ctx)
	defer cancelSetup()
	if err := chromedp.Run(setupCtx, m.persona.Apply(m.logger)); err != nil {
		return fail(fmt.Errorf("failed to apply persona: %w", err))
	}

	var contextID string
	if c := chromedp.FromContext(tabCtx); c != nil {
		contextID = string(c.BrowserContextID)
	}
	m.logger.Debug("Page opened.", zap.String("browser_context", contextID))
	return newPage(tabCtx, tabCancel, m.cfg.PollInterval, m.logger, m.pages.Done), nil
}

// Close waits for open pages (bounded by ctx) and then terminates the
// browser. It is idempotent.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	started := m.started
	m.mu.Unlock()

	if !started {
		return nil
	}

	done := make(chan struct{})
	go func() {
		m.pages.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		m.logger.Warn("Close deadline exceeded with pages still open; terminating browser.", zap.Error(ctx.Err()))
	}

	var err error
	if cerr := chromedp.Cancel(m.browserCtx); cerr != nil && !errors.Is(cerr, context.Canceled) {
		err = fmt.Errorf("failed to close browser: %w", cerr)
	}
	m.browserCancel()
	m.allocCancel()
	m.logger.Info("Browser closed.")
	return err
}

type allocatorFlag struct {
	name  string
	value interface{}
}

// allocatorFlags lists the Chrome flags layered over chromedp's defaults.
func allocatorFlags(cfg config.BrowserConfig, goos string) []allocatorFlag {
	flags := []allocatorFlag{
		{"enable-automation", false},
		{"disable-blink-features", "AutomationControlled"},
		{"ignore-certificate-errors", cfg.IgnoreTLSErrors},
		{"disable-gpu", cfg.DisableGPU},
	}
	if !cfg.Headless {
		flags = append(flags, allocatorFlag{"headless", false})
	}
	if cfg.UserAgent != "" {
		flags = append(flags, allocatorFlag{"user-agent", cfg.UserAgent})
	}
	if cfg.ViewportWidth > 0 && cfg.ViewportHeight > 0 {
		flags = append(flags, allocatorFlag{"window-size", fmt.Sprintf("%d,%d", cfg.ViewportWidth, cfg.ViewportHeight)})
	}

	for _, arg := range cfg.Args {
		parts := strings.SplitN(arg, "=", 2)
		name := strings.TrimPrefix(parts[0], "--")
		if name == "" {
			continue
		}
		if len(parts) == 2 {
			flags = append(flags, allocatorFlag{name, parts[1]})
		} else {
			flags = append(flags, allocatorFlag{name, true})
		}
	}

	if goos == "linux" {
		flags = append(flags,
			allocatorFlag{"no-sandbox", true},
			allocatorFlag{"disable-dev-shm-usage", true},
		)
	}
	return flags
}

func (m *Manager) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	if m.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(m.cfg.ExecPath))
	}
	for _, f := range allocatorFlags(m.cfg, runtime.GOOS) {
		opts = append(opts, chromedp.Flag(f.name, f.value))
	}
	return opts
}
