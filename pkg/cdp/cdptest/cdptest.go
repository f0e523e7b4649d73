// Package cdptest provides an in-memory cdp.Endpoint for tests.
//
// Pages are scripted per URL. The fake records every call so tests can assert
// on navigation counts, stealth configuration and teardown order.
package cdptest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jmylchreest/tabfetch/pkg/cdp"
	"github.com/jmylchreest/tabfetch/pkg/fetcher"
)

// Page scripts what a URL renders to.
type Page struct {
	Title    string
	HTML     string
	FinalURL string // defaults to the navigated URL

	NavigateErr error
	EvaluateErr error
	NotReady    bool

	// NavigatePanic, when set, is raised from Navigate.
	NavigatePanic any

	// Resolved replaces the page once it has been extracted ResolveAfter
	// times, modelling a challenge that clears while waiting.
	ResolveAfter int
	Resolved     *Page
}

// Endpoint is a scripted cdp.Endpoint.
type Endpoint struct {
	HostName   string
	PortNumber int

	NewTabErr   error
	AttachErr   error
	CloseTabErr error

	// Pages maps URLs to scripted pages; unknown URLs render DefaultPage.
	Pages       map[string]*Page
	DefaultPage *Page

	// StepErr fails the named Conn method, e.g. "AddScriptToEvaluateOnNewDocument".
	StepErr map[string]error

	mu      sync.Mutex
	created []string
	closed  []string
	conns   []*Conn
	events  []string
}

// NewEndpoint returns an endpoint that renders a plain page for every URL.
func NewEndpoint() *Endpoint {
	return &Endpoint{
		HostName:    "chrome",
		PortNumber:  9222,
		Pages:       make(map[string]*Page),
		DefaultPage: &Page{Title: "Example Domain", HTML: "<html><head><title>Example Domain</title></head><body><p>ok</p></body></html>"},
	}
}

func (e *Endpoint) Host() string { return e.HostName }
func (e *Endpoint) Port() int    { return e.PortNumber }

func (e *Endpoint) record(event string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, event)
}

// NewTab allocates a fake tab.
func (e *Endpoint) NewTab(ctx context.Context) (cdp.Target, error) {
	if err := ctx.Err(); err != nil {
		return cdp.Target{}, fmt.Errorf("%w: %v", fetcher.ErrEndpointUnavailable, err)
	}
	if e.NewTabErr != nil {
		return cdp.Target{}, e.NewTabErr
	}
	e.mu.Lock()
	id := fmt.Sprintf("TAB%d", len(e.created)+1)
	e.created = append(e.created, id)
	e.mu.Unlock()
	e.record("new_tab:" + id)
	return cdp.Target{ID: id, Type: "page", URL: "about:blank"}, nil
}

// Attach opens a fake connection.
func (e *Endpoint) Attach(_ context.Context, t cdp.Target) (cdp.Conn, error) {
	if e.AttachErr != nil {
		return nil, e.AttachErr
	}
	c := &Conn{ep: e, tabID: t.ID, extracted: make(map[string]int), shown: make(map[string]*Page)}
	e.mu.Lock()
	e.conns = append(e.conns, c)
	e.mu.Unlock()
	e.record("attach:" + t.ID)
	return c, nil
}

// CloseTab releases a fake tab.
func (e *Endpoint) CloseTab(_ context.Context, t cdp.Target) error {
	e.record("close_tab:" + t.ID)
	if e.CloseTabErr != nil {
		return e.CloseTabErr
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = append(e.closed, t.ID)
	return nil
}

// TabsCreated returns the ids of all tabs created so far.
func (e *Endpoint) TabsCreated() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.created...)
}

// TabsClosed returns the ids of all tabs released so far.
func (e *Endpoint) TabsClosed() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.closed...)
}

// Events returns the lifecycle events in order.
func (e *Endpoint) Events() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.events...)
}

// Conns returns every connection handed out.
func (e *Endpoint) Conns() []*Conn {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Conn(nil), e.conns...)
}

// Navigations returns the URLs navigated across all connections.
func (e *Endpoint) Navigations() []string {
	var out []string
	for _, c := range e.Conns() {
		out = append(out, c.Navigations()...)
	}
	return out
}

func (e *Endpoint) page(url string) *Page {
	if p, ok := e.Pages[url]; ok {
		return p
	}
	return e.DefaultPage
}

// Conn is a fake tab connection.
type Conn struct {
	ep    *Endpoint
	tabID string

	mu          sync.Mutex
	closed      bool
	closeCalls  int
	current     string
	navigations []string
	extracted   map[string]int
	shown       map[string]*Page

	UserAgent      string
	AcceptLanguage string
	Platform       string
	Viewport       cdp.Viewport
	Scripts        []string
	Headers        map[string]string
	Steps          []string
	Document       string
}

var errClosed = errors.New("cdptest: connection closed")

func (c *Conn) step(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("%w: %w", fetcher.ErrConnectionDropped, errClosed)
	}
	c.Steps = append(c.Steps, name)
	if err, ok := c.ep.StepErr[name]; ok {
		return err
	}
	return nil
}

func (c *Conn) EnableDomains(context.Context) error {
	return c.step("EnableDomains")
}

func (c *Conn) SetUserAgentOverride(_ context.Context, ua, lang, platform string) error {
	if err := c.step("SetUserAgentOverride"); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.UserAgent, c.AcceptLanguage, c.Platform = ua, lang, platform
	return nil
}

func (c *Conn) SetDeviceMetricsOverride(_ context.Context, v cdp.Viewport) error {
	if err := c.step("SetDeviceMetricsOverride"); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Viewport = v
	return nil
}

func (c *Conn) AddScriptToEvaluateOnNewDocument(_ context.Context, source string) (string, error) {
	if err := c.step("AddScriptToEvaluateOnNewDocument"); err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Scripts = append(c.Scripts, source)
	return fmt.Sprintf("%d", len(c.Scripts)), nil
}

func (c *Conn) SetExtraHTTPHeaders(_ context.Context, headers map[string]string) error {
	if err := c.step("SetExtraHTTPHeaders"); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Headers = headers
	return nil
}

func (c *Conn) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.step("Navigate"); err != nil {
		return err
	}
	c.mu.Lock()
	c.navigations = append(c.navigations, url)
	c.current = url
	delete(c.shown, url)
	c.mu.Unlock()
	c.ep.record("navigate:" + url)
	p := c.ep.page(url)
	if p.NavigatePanic != nil {
		panic(p.NavigatePanic)
	}
	return p.NavigateErr
}

func (c *Conn) Evaluate(ctx context.Context, expression string, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.step("Evaluate"); err != nil {
		return err
	}

	c.mu.Lock()
	url := c.current
	p := c.ep.page(url)
	// Each markup capture decides which version of the page the following
	// title and location reads see.
	if expression == cdp.ExprOuterHTML {
		if p.Resolved != nil && c.extracted[url] >= p.ResolveAfter {
			c.shown[url] = p.Resolved
		} else {
			c.shown[url] = p
		}
		c.extracted[url]++
	}
	if shown, ok := c.shown[url]; ok {
		p = shown
	}
	doc := c.Document
	c.mu.Unlock()

	if p.EvaluateErr != nil {
		return p.EvaluateErr
	}

	switch expression {
	case cdp.ExprOuterHTML:
		return assign(out, p.HTML)
	case cdp.ExprTitle:
		return assign(out, p.Title)
	case cdp.ExprLocation:
		if p.FinalURL != "" {
			return assign(out, p.FinalURL)
		}
		return assign(out, url)
	case cdp.ExprReadyState:
		return assign(out, !p.NotReady)
	case cdp.ExprContentHeight:
		return assign(out, float64(600+len(doc)/10))
	default:
		return nil
	}
}

func assign(out, v any) error {
	switch o := out.(type) {
	case nil:
		return nil
	case *string:
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("%w: want string, got %T", fetcher.ErrEvaluationFailed, v)
		}
		*o = s
	case *bool:
		b, ok := v.(bool)
		if !ok {
			return fmt.Errorf("%w: want bool, got %T", fetcher.ErrEvaluationFailed, v)
		}
		*o = b
	case *float64:
		f, ok := v.(float64)
		if !ok {
			return fmt.Errorf("%w: want number, got %T", fetcher.ErrEvaluationFailed, v)
		}
		*o = f
	default:
		return fmt.Errorf("cdptest: unsupported out type %T", out)
	}
	return nil
}

func (c *Conn) SetDocumentContent(_ context.Context, markup string) error {
	if err := c.step("SetDocumentContent"); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Document = markup
	return nil
}

func (c *Conn) CaptureScreenshot(context.Context) ([]byte, error) {
	if err := c.step("CaptureScreenshot"); err != nil {
		return nil, err
	}
	return []byte("\x89PNG\r\n\x1a\n"), nil
}

// Close marks the connection closed.
func (c *Conn) Close() error {
	c.mu.Lock()
	c.closeCalls++
	c.closed = true
	c.mu.Unlock()
	c.ep.record("close_conn:" + c.tabID)
	if err, ok := c.ep.StepErr["Close"]; ok {
		return err
	}
	return nil
}

// Navigations returns the URLs navigated on this connection.
func (c *Conn) Navigations() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.navigations...)
}

// CloseCalls returns how many times Close was called.
func (c *Conn) CloseCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCalls
}
