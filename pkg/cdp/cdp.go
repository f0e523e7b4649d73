// Package cdp adapts a remote Chrome DevTools Protocol endpoint to the small
// set of operations the fetch orchestrator needs: tab lifecycle over the
// DevTools HTTP API and page control over a chromedp connection.
package cdp

import (
	"context"
)

// Page-context expressions evaluated by the orchestrator.
const (
	ExprOuterHTML     = `document.documentElement.outerHTML`
	ExprTitle         = `document.title`
	ExprLocation      = `window.location.href`
	ExprReadyState    = `document.readyState === "complete"`
	ExprScrollBy      = `window.scrollBy(0, 100)`
	ExprContentHeight = `Math.max(document.body ? document.body.scrollHeight : 0, document.documentElement.scrollHeight)`
)

// Target describes a browser tab as reported by the DevTools HTTP API.
type Target struct {
	ID                   string `json:"id"`
	Type                 string `json:"type"`
	Title                string `json:"title"`
	URL                  string `json:"url"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// Viewport is a device metrics override.
type Viewport struct {
	Width       int64   `mapstructure:"width" json:"width" yaml:"width"`
	Height      int64   `mapstructure:"height" json:"height" yaml:"height"`
	ScaleFactor float64 `mapstructure:"scale" json:"scale" yaml:"scale"`
	Mobile      bool    `mapstructure:"mobile" json:"mobile" yaml:"mobile"`
}

// Endpoint is a remote browser that hands out tabs.
type Endpoint interface {
	Host() string
	Port() int

	// NewTab allocates a blank tab. Errors wrap fetcher.ErrEndpointUnavailable
	// or fetcher.ErrTabCreationFailed.
	NewTab(ctx context.Context) (Target, error)

	// Attach opens a protocol connection scoped to t.
	Attach(ctx context.Context, t Target) (Conn, error)

	// CloseTab releases t on the endpoint.
	CloseTab(ctx context.Context, t Target) error
}

// Conn is a protocol connection to a single tab.
type Conn interface {
	// EnableDomains enables the network, page and runtime domains.
	EnableDomains(ctx context.Context) error

	SetUserAgentOverride(ctx context.Context, userAgent, acceptLanguage, platform string) error
	SetDeviceMetricsOverride(ctx context.Context, v Viewport) error
	// AddScriptToEvaluateOnNewDocument registers source to run before any
	// page script on every future document and returns its identifier.
	AddScriptToEvaluateOnNewDocument(ctx context.Context, source string) (string, error)
	SetExtraHTTPHeaders(ctx context.Context, headers map[string]string) error

	// Navigate loads url and returns once the load event fired.
	Navigate(ctx context.Context, url string) error
	// Evaluate runs expression in the page and decodes its value into out.
	Evaluate(ctx context.Context, expression string, out any) error

	// SetDocumentContent replaces the main frame's document with markup.
	SetDocumentContent(ctx context.Context, markup string) error
	// CaptureScreenshot returns a PNG of the current viewport.
	CaptureScreenshot(ctx context.Context) ([]byte, error)

	// Close drops the connection. It does not release the tab.
	Close() error
}
