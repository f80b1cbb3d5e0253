package schemas

import (
	"time"
)

// -- Session Schemas --

// Cookie is a browser cookie in a runtime-neutral form so sessions can be
// persisted and re-imported into any page.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires,omitempty"` // Unix seconds; 0 means a session cookie.
	HTTPOnly bool    `json:"http_only"`
	Secure   bool    `json:"secure"`
	SameSite string  `json:"same_site,omitempty"`
}

// Session is the authentication state of one logical browsing session.
type Session struct {
	Cookies       []Cookie  `json:"cookies"`
	Authenticated bool      `json:"authenticated"`
	EstablishedAt time.Time `json:"established_at"`
}

// Credentials are supplied to the authenticate workflow.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
	// OTPCode overrides the configured one-time code when set.
	OTPCode string `json:"otp_code,omitempty"`
}

// -- Selector Profile Schemas --

// Well-known logical field names.
const (
	FieldName      = "name"
	FieldEmail     = "email"
	FieldRole      = "role"
	FieldStatus    = "status"
	FieldLastLogin = "last_login"
)

// PageSnapshot is the serialized state of a page handed to a SelectorResolver.
type PageSnapshot struct {
	URL  string
	HTML string
}

// FieldLocator pairs a locator with the resolver's confidence in it.
type FieldLocator struct {
	Locator    string  `json:"locator"`
	Confidence float64 `json:"confidence"`
}

// TableProfile describes how to read a tabular listing.
type TableProfile struct {
	Signature         string                  `json:"signature"`
	RowLocator        string                  `json:"row_locator"`
	Columns           map[string]FieldLocator `json:"columns"`
	ColumnOrder       []string                `json:"column_order"`
	NextPageLocator   string                  `json:"next_page_locator,omitempty"`
	OverallConfidence float64                 `json:"overall_confidence"`
}

// FormProfile describes how to fill a creation form. An empty Fields map
// means no field-specific fill should be attempted.
type FormProfile struct {
	Signature         string                  `json:"signature"`
	Fields            map[string]FieldLocator `json:"fields"`
	SubmitLocator     string                  `json:"submit_locator,omitempty"`
	OverallConfidence float64                 `json:"overall_confidence"`
}

// CandidateStrategy names how an adapted locator candidate was derived.
type CandidateStrategy string

const (
	StrategyOriginal  CandidateStrategy = "original"
	StrategyAttribute CandidateStrategy = "attribute"
	StrategyClass     CandidateStrategy = "class"
	StrategyText      CandidateStrategy = "text"
)

// Candidate is one fallback locator for a field.
type Candidate struct {
	Locator    string            `json:"locator"`
	Confidence float64           `json:"confidence"`
	Strategy   CandidateStrategy `json:"strategy"`
	// Matched reports whether the locator matched anything in the snapshot used for adaptation.
	Matched bool `json:"matched"`
}

// AdaptedProfile is the result of adapting a prior TableProfile to a new
// snapshot. Candidates per field are ordered from most to least preferred.
type AdaptedProfile struct {
	Prior             TableProfile           `json:"prior"`
	Fields            map[string][]Candidate `json:"fields"`
	OverallConfidence float64                `json:"overall_confidence"`
	ChangesDetected   bool                   `json:"changes_detected"`
}

// Record is a scraped entity keyed by logical field name.
type Record map[string]string

// Identifiable reports whether the record carries a name or an email, the
// acceptance rule for scrape output.
func (r Record) Identifiable() bool {
	return r[FieldName] != "" || r[FieldEmail] != ""
}

// -- Workflow Result Schemas --

// WorkflowKind identifies which workflow produced a result.
type WorkflowKind string

const (
	WorkflowAuthenticate WorkflowKind = "authenticate"
	WorkflowScrape       WorkflowKind = "scrape"
	WorkflowProvision    WorkflowKind = "provision"
	WorkflowDeprovision  WorkflowKind = "deprovision"
)

// ErrorCode classifies a failed workflow.
type ErrorCode string

const (
	ErrCodeNone         ErrorCode = ""
	ErrCodePrecondition ErrorCode = "PRECONDITION"
	ErrCodeTimeout      ErrorCode = "TIMEOUT"
	ErrCodeElement      ErrorCode = "ELEMENT"
	ErrCodeVerification ErrorCode = "VERIFICATION"
	ErrCodeNotFound     ErrorCode = "NOT_FOUND"
	ErrCodeCancelled    ErrorCode = "CANCELLED"
	ErrCodeBrowser      ErrorCode = "BROWSER"
	ErrCodeInternal     ErrorCode = "INTERNAL"
)

// AuthState is a state of the authenticate workflow.
type AuthState string

const (
	AuthNotStarted    AuthState = "NOT_STARTED"
	AuthFormSubmitted AuthState = "FORM_SUBMITTED"
	AuthMFARequired   AuthState = "MFA_REQUIRED"
	AuthMFASubmitted  AuthState = "MFA_SUBMITTED"
	AuthAuthenticated AuthState = "AUTHENTICATED"
	AuthFailed        AuthState = "FAILED"
)

type AuthPayload struct {
	State       AuthState `json:"state"`
	MFARequired bool      `json:"mfa_required"`
}

type ScrapePayload struct {
	Records            []Record `json:"users"`
	TotalScraped       int      `json:"total_scraped"`
	PagesProcessed     int      `json:"pages_processed"`
	LowConfidencePages int      `json:"low_confidence_pages"`
}

type ProvisionPayload struct {
	Submitted     map[string]string `json:"user_created"`
	FilledFields  []string          `json:"filled_fields"`
	SkippedFields []string          `json:"skipped_fields"`
	Verified      bool              `json:"verified"`
}

type DeprovisionPayload struct {
	Identifier string `json:"user_identifier"`
	Deleted    bool   `json:"deleted"`
	Verified   bool   `json:"verified"`
}

// WorkflowResult is returned by every workflow invocation. Exactly one of the
// payload fields is set, matching Workflow.
type WorkflowResult struct {
	Workflow    WorkflowKind        `json:"workflow"`
	Success     bool                `json:"success"`
	Auth        *AuthPayload        `json:"auth,omitempty"`
	Scrape      *ScrapePayload      `json:"scrape,omitempty"`
	Provision   *ProvisionPayload   `json:"provision,omitempty"`
	Deprovision *DeprovisionPayload `json:"deprovision,omitempty"`
	Log         []string            `json:"log"`
	Error       string              `json:"error,omitempty"`
	ErrorCode   ErrorCode           `json:"error_code,omitempty"`
	StartedAt   time.Time           `json:"started_at"`
	FinishedAt  time.Time           `json:"finished_at"`
}
