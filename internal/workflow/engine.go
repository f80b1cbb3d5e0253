// Package workflow drives the target portal through its UI. Each workflow is
// a sequential state machine over one browser page, resolving data locators
// through a SelectorResolver and reporting a WorkflowResult with an ordered,
// human-readable log.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/portalpilot/api/schemas"
	"github.com/xkilldash9x/portalpilot/internal/config"
	"github.com/xkilldash9x/portalpilot/internal/observability"
)

var (
	// ErrNotAuthenticated is returned by every workflow but authenticate when
	// the session is not authenticated. No page is opened in that case.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrUserNotFound means no listing row matched the identifier.
	ErrUserNotFound = errors.New("user not found")
	// ErrDeleteUnavailable means the matched row has no delete control.
	ErrDeleteUnavailable = errors.New("delete control not available")
	// ErrLandmarkTimeout means a required landmark never appeared.
	ErrLandmarkTimeout = errors.New("landmark not observed")
	// ErrNotVerified means an action was dispatched but its effect was not observed.
	ErrNotVerified = errors.New("verification failed")
	// ErrSubmitUnavailable means the form profile has no usable submit control.
	ErrSubmitUnavailable = errors.New("submit control not available")
	// ErrInvalidInput means the workflow arguments are unusable.
	ErrInvalidInput = errors.New("invalid input")
	// ErrBrowserUnavailable means no page could be opened.
	ErrBrowserUnavailable = errors.New("browser unavailable")
	// errPanic marks a recovered panic.
	errPanic = errors.New("internal error")
)

// SessionStore holds the engine's authentication state.
type SessionStore interface {
	Get() schemas.Session
	IsAuthenticated() bool
	Establish(cookies []schemas.Cookie, at time.Time) error
	Invalidate() error
}

// Engine runs the four portal workflows. It owns its browser manager and
// session store; Close releases the browser.
type Engine struct {
	browser  schemas.BrowserManager
	resolver schemas.SelectorResolver
	sessions SessionStore
	logger   *zap.Logger

	portal    config.PortalConfig
	auth      config.AuthConfig
	timeouts  config.TimeoutConfig
	threshold float64
	poll      time.Duration

	strategy LowConfidenceStrategy
	metrics  *observability.Metrics
	now      func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithMetrics records workflow metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithStrategy overrides the configured low-confidence strategy.
func WithStrategy(s LowConfidenceStrategy) Option {
	return func(e *Engine) { e.strategy = s }
}

// WithClock overrides the time source used for session and result stamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an Engine.
func New(browser schemas.BrowserManager, resolver schemas.SelectorResolver, sessions SessionStore, cfg *config.Config, logger *zap.Logger, opts ...Option) *Engine {
	e := &Engine{
		browser:   browser,
		resolver:  resolver,
		sessions:  sessions,
		logger:    logger.Named("workflow"),
		portal:    cfg.Portal,
		auth:      cfg.Auth,
		timeouts:  cfg.Timeouts,
		threshold: cfg.Engine.ConfidenceThreshold,
		poll:      cfg.Browser.PollInterval,
		now:       time.Now,
	}
	if e.poll <= 0 {
		e.poll = 100 * time.Millisecond
	}
	strategy, err := StrategyByName(cfg.Engine.LowConfidenceStrategy)
	if err != nil {
		e.logger.Warn("Unknown low confidence strategy; using proceed.", zap.Error(err))
		strategy = ProceedStrategy{}
	}
	e.strategy = strategy
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Open starts the browser eagerly. Calling it is optional.
func (e *Engine) Open(ctx context.Context) error {
	return e.browser.Start(ctx)
}

// Close shuts the browser down.
func (e *Engine) Close(ctx context.Context) error {
	return e.browser.Close(ctx)
}

// Session returns a copy of the current session.
func (e *Engine) Session() schemas.Session {
	return e.sessions.Get()
}

// stepFunc is the body of a workflow. It reports success, or the error that
// ended the run.
type stepFunc func(ctx context.Context, page schemas.Page, log *runLog) (bool, error)

// run wraps a workflow body with the shared boundary: the authentication
// precondition, page lifecycle, panic recovery, result assembly and metrics.
func (e *Engine) run(ctx context.Context, kind schemas.WorkflowKind, requireAuth bool, body stepFunc) (result schemas.WorkflowResult) {
	log := newRunLog(e.logger.With(zap.String("workflow", string(kind))))
	result = schemas.WorkflowResult{Workflow: kind, StartedAt: e.now()}

	var (
		success bool
		err     error
	)
	defer func() {
		if rec := recover(); rec != nil {
			success = false
			err = fmt.Errorf("%w: %v", errPanic, rec)
			log.errorf("Unexpected failure: %v", rec)
		}
		result.Success = success && err == nil
		if err != nil {
			result.Error = err.Error()
			result.ErrorCode = classify(err)
		}
		result.Log = log.lines()
		result.FinishedAt = e.now()
		e.observe(kind, result)
	}()

	if requireAuth && !e.sessions.IsAuthenticated() {
		err = ErrNotAuthenticated
		log.errorf("Session is not authenticated; run authenticate first")
		return result
	}

	page, perr := e.browser.NewPage(ctx)
	if perr != nil {
		err = fmt.Errorf("%w: %w", ErrBrowserUnavailable, perr)
		log.errorf("Could not open a browser page: %v", perr)
		return result
	}
	defer e.closePage(ctx, page, log)

	success, err = body(ctx, page, log)
	if err != nil {
		log.errorf("%s failed: %v", kind, err)
	}
	return result
}

// closePage closes page on a context detached from ctx so that cleanup also
// happens after cancellation.
func (e *Engine) closePage(ctx context.Context, page schemas.Page, log *runLog) {
	timeout := e.timeouts.PageClose
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	if err := page.Close(closeCtx); err != nil {
		log.warnf("Failed to close page: %v", err)
	}
}

func (e *Engine) observe(kind schemas.WorkflowKind, result schemas.WorkflowResult) {
	if e.metrics == nil {
		return
	}
	e.metrics.WorkflowRuns.WithLabelValues(string(kind), observability.Outcome(result.Success)).Inc()
	e.metrics.WorkflowDuration.WithLabelValues(string(kind)).Observe(result.FinishedAt.Sub(result.StartedAt).Seconds())
}

func (e *Engine) observeConfidence(kind string, confidence float64) {
	if e.metrics != nil {
		e.metrics.ResolverConfidence.WithLabelValues(kind).Observe(confidence)
	}
}

// classify maps an error to the code reported on a result.
func classify(err error) schemas.ErrorCode {
	switch {
	case err == nil:
		return schemas.ErrCodeNone
	case errors.Is(err, ErrNotAuthenticated), errors.Is(err, ErrInvalidInput):
		return schemas.ErrCodePrecondition
	case errors.Is(err, context.Canceled):
		return schemas.ErrCodeCancelled
	case errors.Is(err, ErrLandmarkTimeout), errors.Is(err, schemas.ErrWaitTimeout), errors.Is(err, context.DeadlineExceeded):
		return schemas.ErrCodeTimeout
	case errors.Is(err, ErrUserNotFound):
		return schemas.ErrCodeNotFound
	case errors.Is(err, ErrNotVerified):
		return schemas.ErrCodeVerification
	case errors.Is(err, ErrDeleteUnavailable), errors.Is(err, ErrSubmitUnavailable),
		errors.Is(err, schemas.ErrNoMatch), errors.Is(err, schemas.ErrOptionNotFound):
		return schemas.ErrCodeElement
	case errors.Is(err, ErrBrowserUnavailable):
		return schemas.ErrCodeBrowser
	default:
		return schemas.ErrCodeInternal
	}
}

// -- Shared steps --

func (e *Engine) navigate(ctx context.Context, page schemas.Page, url string, log *runLog) error {
	navCtx, cancel := context.WithTimeout(ctx, e.timeouts.Navigation)
	defer cancel()
	log.infof("Navigating to %s", url)
	if err := page.Navigate(navCtx, url); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}
	return nil
}

// importSession copies the session cookies into the page. Pages never share
// cookie jars, so every non-authenticate workflow starts with this.
func (e *Engine) importSession(ctx context.Context, page schemas.Page, log *runLog) error {
	sess := e.sessions.Get()
	if err := page.AddCookies(ctx, sess.Cookies); err != nil {
		return fmt.Errorf("failed to import session cookies: %w", err)
	}
	log.infof("Imported %d session cookies", len(sess.Cookies))
	return nil
}

func (e *Engine) snapshot(ctx context.Context, page schemas.Page, url string) (schemas.PageSnapshot, error) {
	html, err := page.Content(ctx)
	if err != nil {
		return schemas.PageSnapshot{URL: url}, err
	}
	return schemas.PageSnapshot{URL: url, HTML: html}, nil
}

// settle waits d unless ctx ends first.
func settle(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func joinURL(base, path string) string {
	if path == "" {
		return base
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}
