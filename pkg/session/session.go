// Package session owns one remote browser tab for the lifetime of a batch.
//
// Open allocates the tab and attaches a protocol connection; Close tears
// both down exactly once, connection first. Callers defer Close right after
// a successful Open:
//
//	h, err := session.Open(ctx, endpoint)
//	if err != nil {
//		return err
//	}
//	defer h.Close()
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/jmylchreest/tabfetch/internal/logger"
	"github.com/jmylchreest/tabfetch/pkg/cdp"
	"github.com/jmylchreest/tabfetch/pkg/fetcher"
)

// ErrClosed is returned by every page operation on a closed handle.
var ErrClosed = errors.New("session closed")

// DefaultCloseTimeout bounds teardown when the caller's context is gone.
const DefaultCloseTimeout = 5 * time.Second

// State is the lifecycle state of a Handle.
type State int

const (
	StateOpen State = iota
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Option configures Open.
type Option func(*Handle)

// WithCloseTimeout bounds the teardown calls made by Close.
func WithCloseTimeout(d time.Duration) Option {
	return func(h *Handle) {
		if d > 0 {
			h.closeTimeout = d
		}
	}
}

// WithLogger sets the handle's logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handle) {
		h.log = l
	}
}

// Handle is an open tab plus its protocol connection. It is not safe for
// concurrent page operations; one batch drives it sequentially.
type Handle struct {
	endpoint     cdp.Endpoint
	target       cdp.Target
	conn         cdp.Conn
	closeTimeout time.Duration
	log          *slog.Logger

	mu        sync.RWMutex
	state     State
	closeOnce sync.Once
}

// Open creates a blank tab on endpoint, attaches to it and enables the
// network, page and runtime domains. If anything after tab creation fails,
// the tab is released before returning.
func Open(ctx context.Context, endpoint cdp.Endpoint, opts ...Option) (*Handle, error) {
	h := &Handle{
		endpoint:     endpoint,
		closeTimeout: DefaultCloseTimeout,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.log == nil {
		h.log = logger.With("component", "session")
	}

	target, err := endpoint.NewTab(ctx)
	if err != nil {
		return nil, err
	}
	h.target = target
	h.log = h.log.With("tab", target.ID)

	conn, err := endpoint.Attach(ctx, target)
	if err != nil {
		h.releaseTab()
		return nil, err
	}
	h.conn = conn

	if err := conn.EnableDomains(ctx); err != nil {
		h.Close()
		if errors.Is(err, fetcher.ErrConnectionDropped) {
			return nil, fmt.Errorf("enable domains: %w", err)
		}
		return nil, fmt.Errorf("%w: enable domains: %w", fetcher.ErrEndpointUnavailable, err)
	}

	h.log.Debug("session opened", "host", endpoint.Host(), "port", endpoint.Port())
	return h, nil
}

// TabID returns the remote tab identifier.
func (h *Handle) TabID() string { return h.target.ID }

// Host returns the endpoint host.
func (h *Handle) Host() string { return h.endpoint.Host() }

// Port returns the endpoint port.
func (h *Handle) Port() int { return h.endpoint.Port() }

// State returns the lifecycle state.
func (h *Handle) State() State {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state
}

// Close drops the connection, then releases the tab. It is idempotent and
// never fails: teardown errors are logged and swallowed. Close runs on its
// own bounded context so it still works after the caller's context is done.
func (h *Handle) Close() {
	h.closeOnce.Do(func() {
		h.mu.Lock()
		h.state = StateClosed
		h.mu.Unlock()

		if h.conn != nil {
			if err := h.conn.Close(); err != nil {
				h.log.Warn("closing connection failed", "error", err)
			}
		}
		h.releaseTab()
		h.log.Debug("session closed")
	})
}

func (h *Handle) releaseTab() {
	ctx, cancel := context.WithTimeout(context.Background(), h.closeTimeout)
	defer cancel()
	if err := h.endpoint.CloseTab(ctx, h.target); err != nil {
		h.log.Warn("releasing tab failed", "error", err)
	}
}

// live returns the connection, or ErrClosed once Close has been called.
func (h *Handle) live() (cdp.Conn, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.state == StateClosed {
		return nil, ErrClosed
	}
	return h.conn, nil
}

// SetUserAgentOverride forwards to the connection.
func (h *Handle) SetUserAgentOverride(ctx context.Context, userAgent, acceptLanguage, platform string) error {
	conn, err := h.live()
	if err != nil {
		return err
	}
	return conn.SetUserAgentOverride(ctx, userAgent, acceptLanguage, platform)
}

// SetDeviceMetricsOverride forwards to the connection.
func (h *Handle) SetDeviceMetricsOverride(ctx context.Context, v cdp.Viewport) error {
	conn, err := h.live()
	if err != nil {
		return err
	}
	return conn.SetDeviceMetricsOverride(ctx, v)
}

// AddScriptToEvaluateOnNewDocument forwards to the connection.
func (h *Handle) AddScriptToEvaluateOnNewDocument(ctx context.Context, source string) (string, error) {
	conn, err := h.live()
	if err != nil {
		return "", err
	}
	return conn.AddScriptToEvaluateOnNewDocument(ctx, source)
}

// SetExtraHTTPHeaders forwards to the connection.
func (h *Handle) SetExtraHTTPHeaders(ctx context.Context, headers map[string]string) error {
	conn, err := h.live()
	if err != nil {
		return err
	}
	return conn.SetExtraHTTPHeaders(ctx, headers)
}

// Navigate loads url in the tab and waits for the load event.
func (h *Handle) Navigate(ctx context.Context, url string) error {
	conn, err := h.live()
	if err != nil {
		return err
	}
	return conn.Navigate(ctx, url)
}

// Evaluate runs expression in the page and decodes the value into out.
func (h *Handle) Evaluate(ctx context.Context, expression string, out any) error {
	conn, err := h.live()
	if err != nil {
		return err
	}
	return conn.Evaluate(ctx, expression, out)
}

// Screenshot renders markup in the tab and captures a PNG. The viewport is
// width pixels wide and grown to the content height so nothing scrolls.
func (h *Handle) Screenshot(ctx context.Context, markup string, width int64, scale float64) ([]byte, error) {
	conn, err := h.live()
	if err != nil {
		return nil, err
	}
	if width <= 0 {
		return nil, fmt.Errorf("screenshot width must be positive, got %d", width)
	}
	if scale <= 0 {
		scale = 1
	}

	if err := conn.SetDeviceMetricsOverride(ctx, cdp.Viewport{Width: width, Height: 600, ScaleFactor: scale}); err != nil {
		return nil, fmt.Errorf("set initial viewport: %w", err)
	}
	if err := conn.SetDocumentContent(ctx, markup); err != nil {
		return nil, fmt.Errorf("set document content: %w", err)
	}

	var height float64
	if err := conn.Evaluate(ctx, cdp.ExprContentHeight, &height); err != nil {
		return nil, fmt.Errorf("measure content: %w", err)
	}
	fit := cdp.Viewport{Width: width, Height: int64(math.Ceil(max(height, 1))), ScaleFactor: scale}
	if err := conn.SetDeviceMetricsOverride(ctx, fit); err != nil {
		return nil, fmt.Errorf("fit viewport: %w", err)
	}

	png, err := conn.CaptureScreenshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("capture screenshot: %w", err)
	}
	h.log.Debug("screenshot captured",
		"viewport", fmt.Sprintf("%dx%d@%g", fit.Width, fit.Height, scale),
		"size", humanize.Bytes(uint64(len(png))))
	return png, nil
}
