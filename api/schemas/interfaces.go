package schemas

import (
	"context"
	"time"
)

// -- Browser Capability Interfaces --

// BrowserManager owns the process-scoped browser. Start is idempotent and
// NewPage starts the browser lazily when needed.
type BrowserManager interface {
	Start(ctx context.Context) error
	// NewPage opens an isolated page (its own cookie jar) in the shared browser.
	NewPage(ctx context.Context) (Page, error)
	Close(ctx context.Context) error
}

// Page is a single browser page used by exactly one workflow invocation.
//
// Locators are CSS selectors, optionally with a trailing :has-text("...") or
// :contains('...') text filter, or text="..." / xpath=... expressions.
// Comma separated alternatives are matched in order.
type Page interface {
	Navigate(ctx context.Context, url string) error
	// WaitForSelector blocks until the locator matches at least one element or
	// the timeout elapses.
	WaitForSelector(ctx context.Context, locator string, timeout time.Duration) error
	Fill(ctx context.Context, locator, value string) error
	SelectOption(ctx context.Context, locator, value string) error
	Click(ctx context.Context, locator string) error
	// QueryAll returns every element currently matching the locator without waiting.
	QueryAll(ctx context.Context, locator string) ([]ElementHandle, error)
	Content(ctx context.Context) (string, error)
	Cookies(ctx context.Context) ([]Cookie, error)
	AddCookies(ctx context.Context, cookies []Cookie) error
	Close(ctx context.Context) error
}

// ElementHandle refers to one element of a Page.
type ElementHandle interface {
	InnerText(ctx context.Context) (string, error)
	IsEnabled(ctx context.Context) (bool, error)
	Click(ctx context.Context) error
	// QueryAll searches the element's subtree.
	QueryAll(ctx context.Context, locator string) ([]ElementHandle, error)
}

// -- Selector Resolution Interface --

// SelectorResolver maps logical fields to locators for a page snapshot.
// Implementations never fail; uncertainty is expressed through confidence.
type SelectorResolver interface {
	AnalyzeTable(ctx context.Context, snapshot PageSnapshot, taskContext string) TableProfile
	AnalyzeForm(ctx context.Context, snapshot PageSnapshot, taskContext string) FormProfile
	Adapt(ctx context.Context, prior TableProfile, snapshot PageSnapshot) AdaptedProfile
}

// -- Job Interfaces --

// JobStore persists automation jobs.
type JobStore interface {
	CreateJob(ctx context.Context, job *Job) error
	MarkRunning(ctx context.Context, id string, startedAt time.Time, attempts int) error
	CompleteJob(ctx context.Context, id string, status JobStatus, result *WorkflowResult, log []string, completedAt time.Time) error
	GetJob(ctx context.Context, id string) (*Job, error)
	ListJobs(ctx context.Context, limit int) ([]Job, error)
}
