package browser_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	json "github.com/json-iterator/go"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/portalpilot/internal/browser"
	"github.com/xkilldash9x/portalpilot/internal/config"
)

const (
	portalUser     = "admin"
	portalPassword = "secret"
	portalOTP      = "123456"
	portalCookie   = "session"
	duplicateText  = "A user with that email already exists"
)

// findChrome returns the browser binary, skipping the test when there is none.
func findChrome(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("browser tests do not run in -short mode")
	}
	if path := os.Getenv("PORTALPILOT_CHROME"); path != "" {
		return path
	}
	for _, name := range []string{"google-chrome", "google-chrome-stable", "chromium", "chromium-browser", "chrome", "headless-shell"} {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}
	t.Skip("Chrome/Chromium not found; set PORTALPILOT_CHROME to run browser tests")
	return ""
}

// newTestConfig returns a configuration tuned for the mock portal.
func newTestConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.NewDefaultConfig()
	cfg.Browser.ExecPath = findChrome(t)
	cfg.Browser.Headless = true
	cfg.Browser.PollInterval = 50 * time.Millisecond
	cfg.Session.Persist = false
	cfg.Timeouts.PageSettle = 200 * time.Millisecond
	cfg.Timeouts.SubmitSettle = 300 * time.Millisecond
	cfg.Timeouts.SearchSettle = 300 * time.Millisecond
	cfg.Timeouts.DeleteSettle = 300 * time.Millisecond
	cfg.Timeouts.MFADetect = 5 * time.Second
	cfg.Timeouts.VerifyAbsent = 5 * time.Second
	return cfg
}

// newTestManager starts a Manager that is closed when the test ends.
func newTestManager(t *testing.T, cfg *config.Config) *browser.Manager {
	t.Helper()
	m := browser.NewManager(cfg.Browser, zaptest.NewLogger(t))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = m.Close(ctx)
	})
	return m
}

// testContext bounds a browser test, leaving room for cleanup.
func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// -- Mock portal --

type portalUserRecord struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	Status    string `json:"status"`
	LastLogin string `json:"last_login"`
}

// mockPortal is a single-page user-management app: username and password,
// then a six digit code, then a paginated user table with a creation form
// and row deletion behind a confirmation.
type mockPortal struct {
	mu         sync.Mutex
	users      []portalUserRecord
	challenges map[string]bool
	sessions   map[string]bool

	server *httptest.Server
}

func newMockPortal(t *testing.T, seeded int) *mockPortal {
	t.Helper()
	p := &mockPortal{
		challenges: make(map[string]bool),
		sessions:   make(map[string]bool),
	}
	for i := 1; i <= seeded; i++ {
		p.users = append(p.users, portalUserRecord{
			ID:        uuid.NewString(),
			Name:      fmt.Sprintf("User %d", i),
			Email:     fmt.Sprintf("user%d@example.com", i),
			Role:      "User",
			Status:    "Active",
			LastLogin: "2024-01-01",
		})
	}

	r := mux.NewRouter()
	r.HandleFunc("/mock-saas", p.app).Methods("GET")
	api := r.PathPrefix("/mock-saas/api").Subrouter()
	api.HandleFunc("/login", p.login).Methods("POST")
	api.HandleFunc("/verify-mfa", p.verifyMFA).Methods("POST")
	api.HandleFunc("/users", p.authed(p.listUsers)).Methods("GET")
	api.HandleFunc("/users", p.authed(p.createUser)).Methods("POST")
	api.HandleFunc("/users/{id}", p.authed(p.deleteUser)).Methods("DELETE")

	p.server = httptest.NewServer(r)
	t.Cleanup(p.server.Close)
	return p
}

func (p *mockPortal) URL() string { return p.server.URL }

func (p *mockPortal) snapshot() []portalUserRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]portalUserRecord(nil), p.users...)
}

func (p *mockPortal) hasEmail(email string) bool {
	for _, u := range p.snapshot() {
		if u.Email == email {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (p *mockPortal) app(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(portalApp))
}

func (p *mockPortal) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username != portalUser || req.Password != portalPassword {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Invalid credentials"})
		return
	}
	challenge := uuid.NewString()
	p.mu.Lock()
	p.challenges[challenge] = true
	p.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]interface{}{"mfa_required": true, "challenge": challenge})
}

func (p *mockPortal) verifyMFA(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Challenge string `json:"challenge"`
		Code      string `json:"code"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	p.mu.Lock()
	ok := p.challenges[req.Challenge] && len(req.Code) == 6 && req.Code == portalOTP
	var token string
	if ok {
		delete(p.challenges, req.Challenge)
		token = uuid.NewString()
		p.sessions[token] = true
	}
	p.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Invalid code"})
		return
	}
	http.SetCookie(w, &http.Cookie{Name: portalCookie, Value: token, Path: "/", HttpOnly: true})
	writeJSON(w, http.StatusOK, map[string]bool{"authenticated": true})
}

func (p *mockPortal) authed(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := r.Cookie(portalCookie)
		p.mu.Lock()
		ok := err == nil && p.sessions[c.Value]
		p.mu.Unlock()
		if !ok {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Not authenticated"})
			return
		}
		next(w, r)
	}
}

func (p *mockPortal) listUsers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, p.snapshot())
}

func (p *mockPortal) createUser(w http.ResponseWriter, r *http.Request) {
	var u portalUserRecord
	if err := json.NewDecoder(r.Body).Decode(&u); err != nil || strings.TrimSpace(u.Email) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "Email is required"})
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, existing := range p.users {
		if strings.EqualFold(existing.Email, u.Email) {
			writeJSON(w, http.StatusConflict, map[string]string{"detail": duplicateText})
			return
		}
	}
	u.ID = uuid.NewString()
	u.Status = "Active"
	u.LastLogin = "Never"
	p.users = append(p.users, u)
	writeJSON(w, http.StatusCreated, u)
}

func (p *mockPortal) deleteUser(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, u := range p.users {
		if u.ID == id {
			p.users = append(p.users[:i], p.users[i+1:]...)
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"detail": "User not found"})
}

// portalApp renders every view client side. The table shows ten users per
// page; a new user is shown on the last page after creation.
const portalApp = `<!DOCTYPE html>
<html>
<head><title>Mock SaaS</title></head>
<body>
<div id="app"></div>
<script>
const PAGE_SIZE = 10;
const app = document.getElementById('app');
let users = [];
let page = 0;
let filter = '';
let challenge = '';

function esc(s) {
  return String(s == null ? '' : s).replace(/[&<>"']/g, function (c) {
    return {'&': '&amp;', '<': '&lt;', '>': '&gt;', '"': '&quot;', "'": '&#39;'}[c];
  });
}

async function api(method, path, body) {
  const res = await fetch('/mock-saas/api' + path, {
    method: method,
    headers: {'Content-Type': 'application/json'},
    body: body ? JSON.stringify(body) : undefined,
    credentials: 'same-origin'
  });
  let data = null;
  if (res.status !== 204) {
    try { data = await res.json(); } catch (e) { data = null; }
  }
  return {status: res.status, data: data};
}

function showLogin(message) {
  app.innerHTML = '<h2>Sign in</h2>' +
    (message ? '<p class="error">' + esc(message) + '</p>' : '') +
    '<form id="login">' +
    '<input name="username" placeholder="Username">' +
    '<input name="password" type="password" placeholder="Password">' +
    '<button type="submit">Sign in</button>' +
    '</form>';
  document.getElementById('login').addEventListener('submit', async function (e) {
    e.preventDefault();
    const r = await api('POST', '/login', {username: e.target.username.value, password: e.target.password.value});
    if (r.status !== 200) { showLogin('Invalid credentials'); return; }
    challenge = r.data.challenge;
    showMFA('');
  });
}

function showMFA(message) {
  app.innerHTML = '<h2>Two-factor authentication</h2>' +
    (message ? '<p class="error">' + esc(message) + '</p>' : '') +
    '<form id="mfa">' +
    '<input name="otp" maxlength="6" inputmode="numeric" placeholder="6-digit code">' +
    '<button type="submit">Verify</button>' +
    '</form>';
  document.getElementById('mfa').addEventListener('submit', async function (e) {
    e.preventDefault();
    const r = await api('POST', '/verify-mfa', {challenge: challenge, code: e.target.otp.value});
    if (r.status !== 200) { showMFA('Invalid code'); return; }
    await loadUsers();
    showDashboard();
  });
}

async function loadUsers() {
  const r = await api('GET', '/users');
  if (r.status !== 200) { return false; }
  users = r.data || [];
  return true;
}

function visible() {
  const f = filter.toLowerCase();
  return users.filter(function (u) { return !f || (u.name + ' ' + u.email).toLowerCase().indexOf(f) >= 0; });
}

function setNotice(text) {
  document.getElementById('notice').innerHTML = text ? '<p class="notice">' + esc(text) + '</p>' : '';
}

function renderRows() {
  const list = visible();
  const pages = Math.max(1, Math.ceil(list.length / PAGE_SIZE));
  if (page >= pages) { page = pages - 1; }
  document.getElementById('rows').innerHTML = list.slice(page * PAGE_SIZE, (page + 1) * PAGE_SIZE).map(function (u) {
    return '<tr><td>' + esc(u.name) + '</td><td>' + esc(u.email) + '</td><td>' + esc(u.role) +
      '</td><td>' + esc(u.status) + '</td><td>' + esc(u.last_login) +
      '</td><td><button type="button" class="delete" data-id="' + esc(u.id) + '">Delete</button></td></tr>';
  }).join('');
  document.getElementById('pager').innerHTML = '<span>Page ' + (page + 1) + ' of ' + pages + '</span> ' +
    '<button type="button" id="next"' + (page + 1 >= pages ? ' disabled' : '') + '>Next</button>';
}

function showDashboard() {
  app.innerHTML = '<h1>User Management</h1>' +
    '<div id="notice"></div>' +
    '<input id="search" placeholder="Search users"> ' +
    '<button type="button" id="add">Add User</button>' +
    '<div id="form-area"></div>' +
    '<div id="modal"></div>' +
    '<table id="users"><thead><tr><th>Name</th><th>Email</th><th>Role</th><th>Status</th><th>Last Login</th><th>Actions</th></tr></thead>' +
    '<tbody id="rows"></tbody></table>' +
    '<div id="pager"></div>';
  renderRows();

  document.getElementById('search').addEventListener('input', function (e) {
    filter = e.target.value;
    page = 0;
    renderRows();
  });
  document.getElementById('pager').addEventListener('click', function (e) {
    if (e.target.id === 'next' && !e.target.disabled) { page++; renderRows(); }
  });
  document.getElementById('add').addEventListener('click', showForm);
  document.getElementById('rows').addEventListener('click', function (e) {
    const btn = e.target.closest('button.delete');
    if (btn) { confirmDelete(btn.getAttribute('data-id')); }
  });
}

function showForm() {
  setNotice('');
  const area = document.getElementById('form-area');
  area.innerHTML = '<form id="add-user">' +
    '<label for="name">Full name</label><input name="name" id="name">' +
    '<label for="email">Email address</label><input name="email" id="email" type="email">' +
    '<label for="role">Role</label><select name="role" id="role">' +
    '<option value="admin">Admin</option><option value="user">User</option><option value="viewer">Viewer</option>' +
    '</select>' +
    '<button type="submit">Create</button>' +
    '</form>';
  document.getElementById('add-user').addEventListener('submit', async function (e) {
    e.preventDefault();
    const f = e.target;
    const role = f.role.options[f.role.selectedIndex].text;
    const r = await api('POST', '/users', {name: f.name.value, email: f.email.value, role: role});
    area.innerHTML = '';
    if (r.status !== 201) {
      setNotice(r.data && r.data.detail ? r.data.detail : 'Could not create the user');
      return;
    }
    await loadUsers();
    filter = '';
    document.getElementById('search').value = '';
    page = Math.floor((users.length - 1) / PAGE_SIZE);
    renderRows();
  });
}

function confirmDelete(id) {
  const user = users.find(function (u) { return u.id === id; });
  const modal = document.getElementById('modal');
  modal.innerHTML = '<div class="dialog"><p>Remove ' + esc(user ? user.name : 'this user') + '?</p>' +
    '<button type="button" id="confirm">Confirm</button> <button type="button" id="cancel">Cancel</button></div>';
  document.getElementById('cancel').addEventListener('click', function () { modal.innerHTML = ''; });
  document.getElementById('confirm').addEventListener('click', async function () {
    await api('DELETE', '/users/' + encodeURIComponent(id));
    modal.innerHTML = '';
    await loadUsers();
    renderRows();
  });
}

(async function () {
  if (await loadUsers()) { showDashboard(); } else { showLogin(''); }
})();
</script>
</body>
</html>
`

// openPage opens a page with a context that ends as soon as NewPage returns,
// so later operations only work if the page outlives its opening context.
func openPage(t *testing.T, m *browser.Manager) *browser.Page {
	t.Helper()
	openCtx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	page, err := m.NewPage(openCtx)
	cancel()
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = page.Close(ctx)
	})
	p, ok := page.(*browser.Page)
	require.True(t, ok, "Manager.NewPage returns *browser.Page")
	return p
}

// login drives the portal's two-step sign in on page.
func login(ctx context.Context, t *testing.T, page *browser.Page, baseURL string) {
	t.Helper()
	require.NoError(t, page.Navigate(ctx, baseURL+"/mock-saas"))
	require.NoError(t, page.WaitForSelector(ctx, `input[name="username"]`, 10*time.Second))
	require.NoError(t, page.Fill(ctx, `input[name="username"]`, portalUser))
	require.NoError(t, page.Fill(ctx, `input[name="password"]`, portalPassword))
	require.NoError(t, page.Click(ctx, `button[type="submit"]`))
	require.NoError(t, page.WaitForSelector(ctx, `input[name="otp"]`, 10*time.Second))
	require.NoError(t, page.Fill(ctx, `input[name="otp"]`, portalOTP))
	require.NoError(t, page.Click(ctx, `button:has-text("Verify")`))
	require.NoError(t, page.WaitForSelector(ctx, `text="User Management"`, 10*time.Second))
}
