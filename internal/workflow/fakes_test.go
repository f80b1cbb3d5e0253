package workflow

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/xkilldash9x/portalpilot/api/schemas"
)

// -- Scripted portal --

// The fake portal understands the default locators from the configuration
// and the user-management signature of the rule resolver.
const (
	rowsLocator       = "table#users tbody tr"
	nextLocator       = "button:has-text('Next')"
	nameFieldLocator  = "input[name='name'], input[id='name']"
	emailFieldLocator = "input[name='email'], input[id='email']"
	roleFieldLocator  = "select[name='role'], select[id='role']"
	formSubmitLocator = "button[type='submit'], button:has-text('Create')"
	sessionCookieName = "session"
	sessionCookieVal  = "valid-token"
)

type fakeUser struct {
	name, email, role, status string
}

type fakePortal struct {
	mu sync.Mutex

	username, password string
	mfa                bool
	otp                string

	users        []fakeUser
	pageSize     int
	hideNext     bool
	hasSearch    bool
	noDelete     bool
	confirm      bool
	ignoreDelete bool
	rejectEmails map[string]bool
	roles        []string

	deleteClicks int
	submissions  int
}

func newFakePortal(users ...fakeUser) *fakePortal {
	return &fakePortal{
		username: "admin",
		password: "secret",
		mfa:      true,
		otp:      "123456",
		users:    users,
		pageSize: 10,
		roles:    []string{"Admin", "User", "Viewer"},
	}
}

func seedUsers(n int) []fakeUser {
	users := make([]fakeUser, n)
	for i := range users {
		users[i] = fakeUser{
			name:   fmt.Sprintf("User %d", i+1),
			email:  fmt.Sprintf("user%d@example.com", i+1),
			role:   "User",
			status: "Active",
		}
	}
	return users
}

func (p *fakePortal) pages() int {
	if len(p.users) == 0 {
		return 1
	}
	return (len(p.users) + p.pageSize - 1) / p.pageSize
}

// -- Browser --

type fakeBrowser struct {
	portal *fakePortal

	mu          sync.Mutex
	opened      int
	open        int
	started     bool
	closed      bool
	newPageErr  error
	pageActions int
}

func (b *fakeBrowser) Start(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.started = true
	return nil
}

func (b *fakeBrowser) NewPage(ctx context.Context) (schemas.Page, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.newPageErr != nil {
		return nil, b.newPageErr
	}
	b.started = true
	b.opened++
	b.open++
	return &fakePage{browser: b, portal: b.portal, listPage: 1, typed: map[string]string{}}, nil
}

func (b *fakeBrowser) Close(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func (b *fakeBrowser) stats() (opened, open int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.opened, b.open
}

// -- Page --

type fakePage struct {
	browser *fakeBrowser
	portal  *fakePortal

	cookies       []schemas.Cookie
	stage         string
	typed         map[string]string
	listPage      int
	formOpen      bool
	form          map[string]string
	confirmOpen   bool
	pendingDelete string
	filter        string
	closed        bool
}

func (p *fakePage) touch(ctx context.Context) error {
	if p.closed {
		return errors.New("page is closed")
	}
	p.browser.mu.Lock()
	p.browser.pageActions++
	p.browser.mu.Unlock()
	return ctx.Err()
}

func (p *fakePage) hasSession() bool {
	for _, c := range p.cookies {
		if c.Name == sessionCookieName && c.Value == sessionCookieVal {
			return true
		}
	}
	return false
}

func (p *fakePage) loggedIn() bool {
	return p.stage == "dashboard"
}

// visible lists the users on the current listing page after filtering.
func (p *fakePage) visible() []fakeUser {
	if !p.loggedIn() {
		return nil
	}
	var matched []fakeUser
	for _, u := range p.portal.users {
		if p.filter == "" || containsFold(u.name+" "+u.email, p.filter) {
			matched = append(matched, u)
		}
	}
	start := (p.listPage - 1) * p.portal.pageSize
	if start >= len(matched) {
		return nil
	}
	end := start + p.portal.pageSize
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end]
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}

func unquoteArg(loc, prefix, suffix string) string {
	raw := strings.TrimSuffix(strings.TrimPrefix(loc, prefix), suffix)
	s, err := strconv.Unquote(raw)
	if err != nil {
		return raw
	}
	return s
}

// textVisible mirrors text= semantics: a cell must equal text after
// whitespace normalisation, so "User 10" never stands in for "User 1".
func (p *fakePage) textVisible(text string) bool {
	want := normalizeSpace(text)
	if want == "User Management" {
		return p.loggedIn()
	}
	for _, u := range p.visible() {
		if normalizeSpace(u.name) == want || normalizeSpace(u.email) == want {
			return true
		}
	}
	return false
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func (p *fakePage) present(loc string) bool {
	switch {
	case loc == `input[name="username"]`:
		return p.stage == "login"
	case loc == `input[name="otp"]`:
		return p.stage == "mfa"
	case loc == "table":
		return p.loggedIn()
	case loc == `button:has-text("Add User")`:
		return p.loggedIn()
	case loc == "form":
		return p.formOpen
	case loc == `button:has-text("Confirm"), button:has-text("Yes")`:
		return p.confirmOpen
	case strings.HasPrefix(loc, "text="):
		return p.textVisible(unquoteArg(loc, "text=", ""))
	}
	return false
}

func (p *fakePage) Navigate(ctx context.Context, url string) error {
	if err := p.touch(ctx); err != nil {
		return err
	}
	p.portal.mu.Lock()
	defer p.portal.mu.Unlock()
	if !strings.HasSuffix(url, "/mock-saas") {
		return fmt.Errorf("404 for %s", url)
	}
	p.formOpen, p.confirmOpen, p.filter, p.listPage = false, false, "", 1
	if p.hasSession() {
		p.stage = "dashboard"
	} else {
		p.stage = "login"
	}
	return nil
}

func (p *fakePage) WaitForSelector(ctx context.Context, locator string, timeout time.Duration) error {
	if err := p.touch(ctx); err != nil {
		return err
	}
	p.portal.mu.Lock()
	defer p.portal.mu.Unlock()
	if p.present(locator) {
		return nil
	}
	return fmt.Errorf("%w: %s after %s", schemas.ErrWaitTimeout, locator, timeout)
}

func (p *fakePage) Fill(ctx context.Context, locator, value string) error {
	if err := p.touch(ctx); err != nil {
		return err
	}
	p.portal.mu.Lock()
	defer p.portal.mu.Unlock()
	switch locator {
	case `input[name="username"]`, `input[name="password"]`, `input[name="otp"]`:
		if !p.present(locator) && locator != `input[name="password"]` {
			return fmt.Errorf("%w: %s", schemas.ErrNoMatch, locator)
		}
		p.typed[locator] = value
	case nameFieldLocator, emailFieldLocator:
		if !p.formOpen {
			return fmt.Errorf("%w: %s", schemas.ErrNoMatch, locator)
		}
		p.form[map[string]string{nameFieldLocator: "name", emailFieldLocator: "email"}[locator]] = value
	case `input[placeholder*="Search"]`:
		if !p.portal.hasSearch {
			return fmt.Errorf("%w: %s", schemas.ErrNoMatch, locator)
		}
		p.filter = value
		p.listPage = 1
	default:
		return fmt.Errorf("%w: %s", schemas.ErrNoMatch, locator)
	}
	return nil
}

func (p *fakePage) SelectOption(ctx context.Context, locator, value string) error {
	if err := p.touch(ctx); err != nil {
		return err
	}
	p.portal.mu.Lock()
	defer p.portal.mu.Unlock()
	if locator != roleFieldLocator || !p.formOpen {
		return fmt.Errorf("%w: %s", schemas.ErrNoMatch, locator)
	}
	for _, r := range p.portal.roles {
		if strings.EqualFold(r, value) {
			p.form["role"] = r
			return nil
		}
	}
	return fmt.Errorf("%w: %q", schemas.ErrOptionNotFound, value)
}

func (p *fakePage) Click(ctx context.Context, locator string) error {
	if err := p.touch(ctx); err != nil {
		return err
	}
	p.portal.mu.Lock()
	defer p.portal.mu.Unlock()
	switch locator {
	case `button[type="submit"]`:
		if p.stage != "login" {
			return fmt.Errorf("%w: %s", schemas.ErrNoMatch, locator)
		}
		if p.typed[`input[name="username"]`] == p.portal.username && p.typed[`input[name="password"]`] == p.portal.password {
			if p.portal.mfa {
				p.stage = "mfa"
			} else {
				p.stage = "dashboard"
			}
		}
	case `button:has-text("Verify")`:
		if p.stage != "mfa" {
			return fmt.Errorf("%w: %s", schemas.ErrNoMatch, locator)
		}
		if p.typed[`input[name="otp"]`] == p.portal.otp {
			p.stage = "dashboard"
		}
	case `button:has-text("Add User")`:
		if !p.loggedIn() {
			return fmt.Errorf("%w: %s", schemas.ErrNoMatch, locator)
		}
		p.formOpen = true
		p.form = map[string]string{}
	case formSubmitLocator:
		if !p.formOpen {
			return fmt.Errorf("%w: %s", schemas.ErrNoMatch, locator)
		}
		p.formOpen = false
		p.portal.submissions++
		if p.portal.rejectEmails[p.form["email"]] {
			return nil
		}
		p.portal.users = append(p.portal.users, fakeUser{name: p.form["name"], email: p.form["email"], role: p.form["role"], status: "Active"})
	case `button:has-text("Confirm"), button:has-text("Yes")`:
		if !p.confirmOpen {
			return fmt.Errorf("%w: %s", schemas.ErrNoMatch, locator)
		}
		p.confirmOpen = false
		p.removeLocked(p.pendingDelete)
	default:
		return fmt.Errorf("%w: %s", schemas.ErrNoMatch, locator)
	}
	return nil
}

func (p *fakePage) removeLocked(email string) {
	if p.portal.ignoreDelete {
		return
	}
	kept := p.portal.users[:0]
	for _, u := range p.portal.users {
		if u.email != email {
			kept = append(kept, u)
		}
	}
	p.portal.users = kept
}

func (p *fakePage) QueryAll(ctx context.Context, locator string) ([]schemas.ElementHandle, error) {
	if err := p.touch(ctx); err != nil {
		return nil, err
	}
	p.portal.mu.Lock()
	defer p.portal.mu.Unlock()

	var out []schemas.ElementHandle
	switch {
	case locator == rowsLocator:
		for _, u := range p.visible() {
			out = append(out, &fakeRow{page: p, user: u})
		}
	case locator == nextLocator:
		if p.loggedIn() && !p.portal.hideNext {
			out = append(out, &fakeNext{page: p, enabled: p.listPage < p.portal.pages()})
		}
	case locator == `input[placeholder*="Search"]`:
		if p.loggedIn() && p.portal.hasSearch {
			out = append(out, &fakeText{})
		}
	case strings.HasPrefix(locator, "tr:has-text("):
		id := unquoteArg(locator, "tr:has-text(", ")")
		for _, u := range p.visible() {
			if containsFold(u.name+" "+u.email, id) {
				out = append(out, &fakeRow{page: p, user: u})
			}
		}
	case strings.HasPrefix(locator, "text="):
		if p.textVisible(unquoteArg(locator, "text=", "")) {
			out = append(out, &fakeText{})
		}
	}
	return out, nil
}

func (p *fakePage) Content(ctx context.Context) (string, error) {
	if err := p.touch(ctx); err != nil {
		return "", err
	}
	p.portal.mu.Lock()
	defer p.portal.mu.Unlock()
	var b strings.Builder
	b.WriteString(`<html><body><h1>User Management</h1><table id="users"><tbody>`)
	for _, u := range p.visible() {
		fmt.Fprintf(&b, "<tr><td>%s</td><td>%s</td><td>%s</td><td>%s</td><td>today</td></tr>", u.name, u.email, u.role, u.status)
	}
	b.WriteString(`</tbody></table></body></html>`)
	return b.String(), nil
}

func (p *fakePage) Cookies(ctx context.Context) ([]schemas.Cookie, error) {
	if err := p.touch(ctx); err != nil {
		return nil, err
	}
	if !p.loggedIn() {
		return nil, nil
	}
	return []schemas.Cookie{{Name: sessionCookieName, Value: sessionCookieVal, Domain: "localhost", Path: "/"}}, nil
}

func (p *fakePage) AddCookies(ctx context.Context, cookies []schemas.Cookie) error {
	if err := p.touch(ctx); err != nil {
		return err
	}
	p.cookies = append(p.cookies, cookies...)
	return nil
}

func (p *fakePage) Close(context.Context) error {
	if p.closed {
		return nil
	}
	p.closed = true
	p.browser.mu.Lock()
	p.browser.open--
	p.browser.mu.Unlock()
	return nil
}

// -- Element handles --

type fakeRow struct {
	page *fakePage
	user fakeUser
}

func (r *fakeRow) cells() []string {
	return []string{r.user.name, r.user.email, r.user.role, r.user.status, "today"}
}

func (r *fakeRow) InnerText(ctx context.Context) (string, error) {
	return strings.Join(r.cells(), "\t"), ctx.Err()
}

func (r *fakeRow) IsEnabled(context.Context) (bool, error) { return true, nil }

func (r *fakeRow) Click(context.Context) error { return nil }

func (r *fakeRow) QueryAll(ctx context.Context, locator string) ([]schemas.ElementHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.HasPrefix(locator, "td:nth-child(") {
		n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(locator, "td:nth-child("), ")"))
		if err != nil || n < 1 || n > len(r.cells()) {
			return nil, nil
		}
		return []schemas.ElementHandle{&fakeText{text: r.cells()[n-1]}}, nil
	}
	if locator == `button:has-text("Remove"), button:has-text("Delete")` && !r.page.portal.noDelete {
		return []schemas.ElementHandle{&fakeDelete{page: r.page, email: r.user.email}}, nil
	}
	return nil, nil
}

type fakeText struct {
	text string
}

func (f *fakeText) InnerText(ctx context.Context) (string, error) {
	if f.text == "!error" {
		return "", errors.New("detached node")
	}
	return f.text, ctx.Err()
}
func (f *fakeText) IsEnabled(context.Context) (bool, error) { return true, nil }
func (f *fakeText) Click(context.Context) error             { return nil }
func (f *fakeText) QueryAll(context.Context, string) ([]schemas.ElementHandle, error) {
	return nil, nil
}

type fakeNext struct {
	page    *fakePage
	enabled bool
}

func (n *fakeNext) InnerText(context.Context) (string, error) { return "Next", nil }
func (n *fakeNext) IsEnabled(context.Context) (bool, error)   { return n.enabled, nil }
func (n *fakeNext) Click(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n.page.portal.mu.Lock()
	defer n.page.portal.mu.Unlock()
	if n.enabled {
		n.page.listPage++
	}
	return nil
}
func (n *fakeNext) QueryAll(context.Context, string) ([]schemas.ElementHandle, error) {
	return nil, nil
}

type fakeDelete struct {
	page  *fakePage
	email string
}

func (d *fakeDelete) InnerText(context.Context) (string, error) { return "Delete", nil }
func (d *fakeDelete) IsEnabled(context.Context) (bool, error)   { return true, nil }
func (d *fakeDelete) Click(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.page.portal.mu.Lock()
	defer d.page.portal.mu.Unlock()
	d.page.portal.deleteClicks++
	if d.page.portal.confirm {
		d.page.confirmOpen = true
		d.page.pendingDelete = d.email
		return nil
	}
	d.page.removeLocked(d.email)
	return nil
}
func (d *fakeDelete) QueryAll(context.Context, string) ([]schemas.ElementHandle, error) {
	return nil, nil
}

// -- Resolver wrappers --

// scriptedResolver wraps a resolver and lets tests alter or intercept its answers.
type scriptedResolver struct {
	inner       schemas.SelectorResolver
	tableCalls  int
	onTable     func(call int, profile schemas.TableProfile) schemas.TableProfile
	formProfile *schemas.FormProfile
	adaptCalls  int
}

func (s *scriptedResolver) AnalyzeTable(ctx context.Context, snap schemas.PageSnapshot, taskContext string) schemas.TableProfile {
	s.tableCalls++
	profile := s.inner.AnalyzeTable(ctx, snap, taskContext)
	if s.onTable != nil {
		profile = s.onTable(s.tableCalls, profile)
	}
	return profile
}

func (s *scriptedResolver) AnalyzeForm(ctx context.Context, snap schemas.PageSnapshot, taskContext string) schemas.FormProfile {
	if s.formProfile != nil {
		return *s.formProfile
	}
	return s.inner.AnalyzeForm(ctx, snap, taskContext)
}

func (s *scriptedResolver) Adapt(ctx context.Context, prior schemas.TableProfile, snap schemas.PageSnapshot) schemas.AdaptedProfile {
	s.adaptCalls++
	return s.inner.Adapt(ctx, prior, snap)
}
