package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/portalpilot/api/schemas"
)

const defaultPollInterval = 100 * time.Millisecond

// Page is a chromedp tab running in its own browser context.
type Page struct {
	ctx     context.Context
	cancel  context.CancelFunc
	poll    time.Duration
	logger  *zap.Logger
	release func()

	closeOnce sync.Once
}

var _ schemas.Page = (*Page)(nil)

func newPage(ctx context.Context, cancel context.CancelFunc, poll time.Duration, logger *zap.Logger, release func()) *Page {
	if poll <= 0 {
		poll = defaultPollInterval
	}
	return &Page{
		ctx:     ctx,
		cancel:  cancel,
		poll:    poll,
		logger:  logger.Named("page"),
		release: release,
	}
}

// run executes actions on the tab, bounded by the caller's context.
func (p *Page) run(ctx context.Context, actions ...chromedp.Action) error {
	opCtx, cancel := CombineContext(p.ctx, ctx)
	defer cancel()
	return chromedp.Run(opCtx, actions...)
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	if err := p.run(ctx, chromedp.Navigate(url), chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	return nil
}

func (p *Page) WaitForSelector(ctx context.Context, locator string, timeout time.Duration) error {
	if _, err := parseLocator(locator); err != nil {
		return err
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(p.poll)
	defer ticker.Stop()
	for {
		nodes, err := p.queryNodes(waitCtx, locator, nil)
		if err == nil && len(nodes) > 0 {
			return nil
		}
		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: %s after %s", schemas.ErrWaitTimeout, locator, timeout)
		case <-ticker.C:
		}
	}
}

func (p *Page) QueryAll(ctx context.Context, locator string) ([]schemas.ElementHandle, error) {
	nodes, err := p.queryNodes(ctx, locator, nil)
	if err != nil {
		return nil, err
	}
	return p.handles(nodes), nil
}

func (p *Page) Fill(ctx context.Context, locator, value string) error {
	node, err := p.first(ctx, locator)
	if err != nil {
		return err
	}
	ids := []cdp.NodeID{node.NodeID}
	if _, err := p.callOnNode(ctx, node.NodeID, clearValueJS); err != nil {
		return fmt.Errorf("failed to clear %s: %w", locator, err)
	}
	if err := p.run(ctx, chromedp.SendKeys(ids, value, chromedp.ByNodeID)); err != nil {
		return fmt.Errorf("failed to fill %s: %w", locator, err)
	}
	return nil
}

func (p *Page) SelectOption(ctx context.Context, locator, value string) error {
	node, err := p.first(ctx, locator)
	if err != nil {
		return err
	}
	literal, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode option value: %w", err)
	}
	raw, err := p.callOnNode(ctx, node.NodeID, fmt.Sprintf(selectOptionJS, literal))
	if err != nil {
		return fmt.Errorf("failed to select option in %s: %w", locator, err)
	}
	if raw != "true" {
		return fmt.Errorf("%w: %q in %s", schemas.ErrOptionNotFound, value, locator)
	}
	return nil
}

func (p *Page) Click(ctx context.Context, locator string) error {
	node, err := p.first(ctx, locator)
	if err != nil {
		return err
	}
	return p.clickNode(ctx, node, locator)
}

func (p *Page) Content(ctx context.Context) (string, error) {
	var html string
	if err := p.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("failed to read page content: %w", err)
	}
	return html, nil
}

func (p *Page) Cookies(ctx context.Context) ([]schemas.Cookie, error) {
	var cookies []*network.Cookie
	err := p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		cookies, err = network.GetCookies().Do(ctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to read cookies: %w", err)
	}
	out := make([]schemas.Cookie, 0, len(cookies))
	for _, c := range cookies {
		cookie := schemas.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			SameSite: string(c.SameSite),
		}
		if !c.Session {
			cookie.Expires = c.Expires
		}
		out = append(out, cookie)
	}
	return out, nil
}

func (p *Page) AddCookies(ctx context.Context, cookies []schemas.Cookie) error {
	if len(cookies) == 0 {
		return nil
	}
	params := make([]*network.CookieParam, 0, len(cookies))
	for _, c := range cookies {
		param := &network.CookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
		}
		if c.SameSite != "" {
			param.SameSite = network.CookieSameSite(c.SameSite)
		}
		if c.Expires > 0 {
			sec := int64(c.Expires)
			expires := cdp.TimeSinceEpoch(time.Unix(sec, int64((c.Expires-float64(sec))*1e9)))
			param.Expires = &expires
		}
		params = append(params, param)
	}
	if err := p.run(ctx, network.SetCookies(params)); err != nil {
		return fmt.Errorf("failed to import cookies: %w", err)
	}
	return nil
}

// Close closes the tab and disposes its browser context. It is idempotent
// and gives up waiting when ctx is done.
func (p *Page) Close(ctx context.Context) error {
	var err error
	p.closeOnce.Do(func() {
		defer p.release()
		done := make(chan error, 1)
		go func() { done <- chromedp.Cancel(p.ctx) }()
		select {
		case cerr := <-done:
			if cerr != nil && !errors.Is(cerr, context.Canceled) {
				err = fmt.Errorf("failed to close page: %w", cerr)
			}
		case <-ctx.Done():
			p.cancel()
			err = fmt.Errorf("page close interrupted: %w", ctx.Err())
		}
	})
	return err
}

// -- Node helpers --

const clearValueJS = `function() {
  if ('value' in this) {
    this.value = '';
    this.dispatchEvent(new Event('input', { bubbles: true }));
  }
  this.focus();
  return true;
}`

const selectOptionJS = `function() {
  const want = %s;
  const options = Array.from(this.options || []);
  const match = options.find(o => o.value === want) ||
    options.find(o => (o.label || o.text || '').trim().toLowerCase() === want.toLowerCase());
  if (!match) { return false; }
  this.value = match.value;
  this.dispatchEvent(new Event('input', { bubbles: true }));
  this.dispatchEvent(new Event('change', { bubbles: true }));
  return true;
}`

const innerTextJS = `function() { return this.innerText || this.textContent || ''; }`

const isEnabledJS = `function() {
  return !this.disabled && this.getAttribute('aria-disabled') !== 'true';
}`

// queryNodes resolves every alternative of locator in order, dropping
// duplicates. A non-nil scope restricts the search to its subtree.
func (p *Page) queryNodes(ctx context.Context, locator string, scope *cdp.Node) ([]*cdp.Node, error) {
	queries, err := parseLocator(locator)
	if err != nil {
		return nil, err
	}

	var out []*cdp.Node
	seen := make(map[cdp.NodeID]bool)
	for _, q := range queries {
		var nodes []*cdp.Node
		switch q.kind {
		case queryXPath:
			if scope != nil {
				return nil, fmt.Errorf("xpath locator %q cannot be scoped to an element", q.expr)
			}
			err = p.run(ctx, chromedp.Nodes(q.expr, &nodes, chromedp.BySearch, chromedp.AtLeast(0)))
		default:
			opts := []chromedp.QueryOption{chromedp.ByQueryAll, chromedp.AtLeast(0)}
			if scope != nil {
				opts = append(opts, chromedp.FromNode(scope))
			}
			err = p.run(ctx, chromedp.Nodes(q.expr, &nodes, opts...))
		}
		if err != nil {
			return nil, fmt.Errorf("query %q failed: %w", q.expr, err)
		}

		for _, n := range nodes {
			if seen[n.NodeID] {
				continue
			}
			if q.text != "" {
				text, err := p.nodeText(ctx, n.NodeID)
				if err != nil || !containsText(text, q.text) {
					continue
				}
			}
			seen[n.NodeID] = true
			out = append(out, n)
		}
	}
	return out, nil
}

func (p *Page) first(ctx context.Context, locator string) (*cdp.Node, error) {
	nodes, err := p.queryNodes(ctx, locator, nil)
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, fmt.Errorf("%w: %s", schemas.ErrNoMatch, locator)
	}
	return nodes[0], nil
}

// callOnNode calls fn with the node as this and returns the JSON encoded result.
func (p *Page) callOnNode(ctx context.Context, id cdp.NodeID, fn string) (string, error) {
	var raw string
	err := p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		obj, err := dom.ResolveNode().WithNodeID(id).Do(ctx)
		if err != nil {
			return fmt.Errorf("failed to resolve node: %w", err)
		}
		defer func() { _ = runtime.ReleaseObject(obj.ObjectID).Do(ctx) }()

		res, exc, err := runtime.CallFunctionOn(fn).
			WithObjectID(obj.ObjectID).
			WithReturnByValue(true).
			Do(ctx)
		if err != nil {
			return err
		}
		if exc != nil {
			return fmt.Errorf("script exception: %s", exc.Text)
		}
		if res != nil {
			raw = string(res.Value)
		}
		return nil
	}))
	return raw, err
}

func (p *Page) nodeText(ctx context.Context, id cdp.NodeID) (string, error) {
	raw, err := p.callOnNode(ctx, id, innerTextJS)
	if err != nil {
		return "", err
	}
	var text string
	if err := json.Unmarshal([]byte(raw), &text); err != nil {
		return "", fmt.Errorf("unexpected text result %q: %w", raw, err)
	}
	return text, nil
}

func (p *Page) clickNode(ctx context.Context, node *cdp.Node, what string) error {
	if err := p.run(ctx, chromedp.Click([]cdp.NodeID{node.NodeID}, chromedp.ByNodeID)); err != nil {
		return fmt.Errorf("failed to click %s: %w", what, err)
	}
	return nil
}

func (p *Page) handles(nodes []*cdp.Node) []schemas.ElementHandle {
	out := make([]schemas.ElementHandle, len(nodes))
	for i, n := range nodes {
		out[i] = &element{page: p, node: n}
	}
	return out
}

// element is an ElementHandle bound to a DOM node of a Page.
type element struct {
	page *Page
	node *cdp.Node
}

func (e *element) InnerText(ctx context.Context) (string, error) {
	return e.page.nodeText(ctx, e.node.NodeID)
}

func (e *element) IsEnabled(ctx context.Context) (bool, error) {
	raw, err := e.page.callOnNode(ctx, e.node.NodeID, isEnabledJS)
	if err != nil {
		return false, err
	}
	return raw == "true", nil
}

func (e *element) Click(ctx context.Context) error {
	return e.page.clickNode(ctx, e.node, e.node.LocalName)
}

func (e *element) QueryAll(ctx context.Context, locator string) ([]schemas.ElementHandle, error) {
	nodes, err := e.page.queryNodes(ctx, locator, e.node)
	if err != nil {
		return nil, err
	}
	return e.page.handles(nodes), nil
}
