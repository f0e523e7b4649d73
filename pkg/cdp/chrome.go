package cdp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"

	"github.com/jmylchreest/tabfetch/internal/logger"
	"github.com/jmylchreest/tabfetch/pkg/fetcher"
)

// maxResponseBody caps DevTools HTTP responses; they are small JSON documents.
const maxResponseBody = 1 << 20

// Chrome is an Endpoint backed by a Chrome instance started with
// --remote-debugging-port, e.g. a browserless or headless-shell container.
type Chrome struct {
	host   string
	port   int
	client *http.Client
	log    *slog.Logger
}

// ChromeOption configures a Chrome endpoint.
type ChromeOption func(*Chrome)

// WithHTTPClient sets the client used for the DevTools HTTP API.
func WithHTTPClient(c *http.Client) ChromeOption {
	return func(ch *Chrome) {
		ch.client = c
	}
}

// WithLogger sets the logger for endpoint and chromedp messages.
func WithLogger(l *slog.Logger) ChromeOption {
	return func(ch *Chrome) {
		ch.log = l
	}
}

// NewChrome creates an endpoint for the browser listening on host:port.
func NewChrome(host string, port int, opts ...ChromeOption) *Chrome {
	c := &Chrome{
		host:   host,
		port:   port,
		client: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = logger.With("component", "cdp")
	}
	return c
}

// Host returns the endpoint host.
func (c *Chrome) Host() string { return c.host }

// Port returns the endpoint port.
func (c *Chrome) Port() int { return c.port }

func (c *Chrome) addr() string {
	return net.JoinHostPort(c.host, strconv.Itoa(c.port))
}

// NewTab opens about:blank through /json/new.
func (c *Chrome) NewTab(ctx context.Context) (Target, error) {
	endpoint := "http://" + c.addr() + "/json/new?" + url.QueryEscape("about:blank")

	// Chrome 111+ only accepts PUT; older builds only GET.
	status, body, err := c.do(ctx, http.MethodPut, endpoint)
	if err == nil && status == http.StatusMethodNotAllowed {
		status, body, err = c.do(ctx, http.MethodGet, endpoint)
	}
	if err != nil {
		return Target{}, fmt.Errorf("%w: %s: %v", fetcher.ErrEndpointUnavailable, c.addr(), err)
	}
	if status != http.StatusOK {
		return Target{}, fmt.Errorf("%w: %s returned %d: %s", fetcher.ErrTabCreationFailed, c.addr(), status, truncate(body, 200))
	}

	var t Target
	if err := json.Unmarshal(body, &t); err != nil {
		return Target{}, fmt.Errorf("%w: decode target: %v", fetcher.ErrTabCreationFailed, err)
	}
	if t.ID == "" {
		return Target{}, fmt.Errorf("%w: endpoint returned a target without id", fetcher.ErrTabCreationFailed)
	}

	c.log.Debug("tab created", "tab", t.ID, "endpoint", c.addr())
	return t, nil
}

// CloseTab releases the tab through /json/close/{id}.
func (c *Chrome) CloseTab(ctx context.Context, t Target) error {
	status, body, err := c.do(ctx, http.MethodGet, "http://"+c.addr()+"/json/close/"+url.PathEscape(t.ID))
	if err != nil {
		return fmt.Errorf("close tab %s: %w", t.ID, err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("close tab %s: status %d: %s", t.ID, status, truncate(body, 200))
	}
	c.log.Debug("tab closed", "tab", t.ID)
	return nil
}

func (c *Chrome) do(ctx context.Context, method, endpoint string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return 0, nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, body, nil
}

// Attach connects chromedp to an existing tab. The connection outlives ctx;
// ctx only bounds the attach handshake.
func (c *Chrome) Attach(ctx context.Context, t Target) (Conn, error) {
	// chromedp resolves ws://host:port to the browser websocket via /json/version.
	allocCtx, cancelAlloc := chromedp.NewRemoteAllocator(context.Background(), "ws://"+c.addr())
	tabCtx, cancelTab := chromedp.NewContext(allocCtx,
		chromedp.WithTargetID(target.ID(t.ID)),
		chromedp.WithLogf(func(format string, args ...any) {
			c.log.Debug("chromedp", "msg", fmt.Sprintf(format, args...))
		}),
		chromedp.WithErrorf(func(format string, args ...any) {
			c.log.Debug("chromedp error", "msg", fmt.Sprintf(format, args...))
		}),
	)

	conn := &chromeConn{
		tabID:       t.ID,
		tabCtx:      tabCtx,
		cancelTab:   cancelTab,
		cancelAlloc: cancelAlloc,
	}

	// The first Run attaches to the target. It must run on the tab context
	// itself: a derived context that expires would tear the connection down.
	attached := make(chan error, 1)
	go func() { attached <- chromedp.Run(tabCtx) }()

	select {
	case err := <-attached:
		if err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("%w: attach to tab %s: %v", fetcher.ErrEndpointUnavailable, t.ID, err)
		}
	case <-ctx.Done():
		_ = conn.Close()
		<-attached
		return nil, fmt.Errorf("%w: attach to tab %s: %v", fetcher.ErrEndpointUnavailable, t.ID, ctx.Err())
	}

	c.log.Debug("attached to tab", "tab", t.ID)
	return conn, nil
}

type chromeConn struct {
	tabID       string
	tabCtx      context.Context
	cancelTab   context.CancelFunc
	cancelAlloc context.CancelFunc
	closeOnce   sync.Once
}

// run executes actions on the tab while honouring ctx's deadline and
// cancellation.
func (c *chromeConn) run(ctx context.Context, actions ...chromedp.Action) error {
	if err := c.tabCtx.Err(); err != nil {
		return fmt.Errorf("%w: tab %s: %v", fetcher.ErrConnectionDropped, c.tabID, err)
	}

	runCtx, cancel := context.WithCancel(c.tabCtx)
	defer cancel()
	if deadline, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		runCtx, cancelDeadline = context.WithDeadline(runCtx, deadline)
		defer cancelDeadline()
	}
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	switch {
	case err == nil:
		return nil
	case c.tabCtx.Err() != nil:
		return fmt.Errorf("%w: tab %s: %v", fetcher.ErrConnectionDropped, c.tabID, err)
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		return err
	}
}

func (c *chromeConn) EnableDomains(ctx context.Context) error {
	return c.run(ctx, network.Enable(), page.Enable(), runtime.Enable())
}

func (c *chromeConn) SetUserAgentOverride(ctx context.Context, userAgent, acceptLanguage, platform string) error {
	override := emulation.SetUserAgentOverride(userAgent)
	if acceptLanguage != "" {
		override = override.WithAcceptLanguage(acceptLanguage)
	}
	if platform != "" {
		override = override.WithPlatform(platform)
	}
	return c.run(ctx, override)
}

func (c *chromeConn) SetDeviceMetricsOverride(ctx context.Context, v Viewport) error {
	return c.run(ctx, emulation.SetDeviceMetricsOverride(v.Width, v.Height, v.ScaleFactor, v.Mobile))
}

func (c *chromeConn) AddScriptToEvaluateOnNewDocument(ctx context.Context, source string) (string, error) {
	var id page.ScriptIdentifier
	err := c.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		id, err = page.AddScriptToEvaluateOnNewDocument(source).Do(ctx)
		return err
	}))
	return string(id), err
}

func (c *chromeConn) SetExtraHTTPHeaders(ctx context.Context, headers map[string]string) error {
	h := make(network.Headers, len(headers))
	for k, v := range headers {
		h[k] = v
	}
	return c.run(ctx, network.SetExtraHTTPHeaders(h))
}

func (c *chromeConn) Navigate(ctx context.Context, u string) error {
	err := c.run(ctx, chromedp.Navigate(u))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %s: load event did not fire", fetcher.ErrNavigationTimeout, u)
	case errors.Is(err, fetcher.ErrConnectionDropped), errors.Is(err, context.Canceled):
		return err
	default:
		return fmt.Errorf("%w: %s: %v", fetcher.ErrNavigationFailed, u, err)
	}
}

func (c *chromeConn) Evaluate(ctx context.Context, expression string, out any) error {
	err := c.run(ctx, chromedp.Evaluate(expression, out))
	if err == nil {
		return nil
	}
	var exc *runtime.ExceptionDetails
	switch {
	case errors.As(err, &exc):
		return fmt.Errorf("%w: %s", fetcher.ErrEvaluationFailed, exc.Error())
	case errors.Is(err, fetcher.ErrConnectionDropped), ctx.Err() != nil:
		return err
	default:
		return fmt.Errorf("%w: %v", fetcher.ErrEvaluationFailed, err)
	}
}

func (c *chromeConn) SetDocumentContent(ctx context.Context, markup string) error {
	return c.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		tree, err := page.GetFrameTree().Do(ctx)
		if err != nil {
			return err
		}
		return page.SetDocumentContent(tree.Frame.ID, markup).Do(ctx)
	}))
}

func (c *chromeConn) CaptureScreenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	err := c.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		buf, err = page.CaptureScreenshot().
			WithFormat(page.CaptureScreenshotFormatPng).
			WithFromSurface(true).
			Do(ctx)
		return err
	}))
	return buf, err
}

// Close detaches from the tab and drops the browser websocket.
func (c *chromeConn) Close() error {
	c.closeOnce.Do(func() {
		c.cancelTab()
		c.cancelAlloc()
	})
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
