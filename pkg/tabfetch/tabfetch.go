package tabfetch

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/jmylchreest/tabfetch/pkg/batch"
	"github.com/jmylchreest/tabfetch/pkg/cdp"
	"github.com/jmylchreest/tabfetch/pkg/fetcher"
	"github.com/jmylchreest/tabfetch/pkg/navigator"
	"github.com/jmylchreest/tabfetch/pkg/session"
)

// Client fetches pages through one remote browser.
type Client struct {
	config      Config
	endpoint    cdp.Endpoint
	coordinator *batch.Coordinator
}

var _ fetcher.Fetcher = (*Client)(nil)

// New creates a Client. It does not contact the browser; the first fetch
// does.
func New(opts ...Option) (*Client, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	ep := cfg.Browser
	if ep == nil {
		if cfg.Host == "" {
			return nil, fmt.Errorf("endpoint host is required")
		}
		if cfg.Port <= 0 || cfg.Port > 65535 {
			return nil, fmt.Errorf("endpoint port %d out of range", cfg.Port)
		}
		ep = cdp.NewChrome(cfg.Host, cfg.Port, cdp.WithHTTPClient(&http.Client{Timeout: cfg.EndpointTimeout}))
	}

	engine := navigator.New(
		navigator.WithPolicy(cfg.Policy),
		navigator.WithDetector(cfg.Detector),
		navigator.WithTextExtraction(cfg.ExtractText),
	)

	return &Client{
		config:   cfg,
		endpoint: ep,
		coordinator: batch.New(ep,
			batch.WithEngine(engine),
			batch.WithStealth(cfg.Stealth),
			batch.WithProfile(cfg.Profile),
			batch.WithPoliteDelay(cfg.PoliteDelay),
			batch.WithBatchTimeout(cfg.BatchTimeout),
		),
	}, nil
}

// Config returns the resolved configuration.
func (c *Client) Config() Config { return c.config }

// Fetch fetches one page in a fresh tab. A request without a URL falls back
// to the configured default URL, if any.
func (c *Client) Fetch(ctx context.Context, req fetcher.Request) fetcher.Result {
	if strings.TrimSpace(req.URL) == "" && c.config.DefaultURL != "" {
		req.URL = c.config.DefaultURL
	}
	return c.coordinator.Fetch(ctx, req)
}

// FetchBatch fetches every request through one tab, in order.
func (c *Client) FetchBatch(ctx context.Context, reqs []fetcher.Request) []fetcher.Result {
	return c.coordinator.FetchBatch(ctx, reqs)
}

// WithSession opens a tab, runs fn with it and always closes the tab
// afterwards, whatever fn returns.
func (c *Client) WithSession(ctx context.Context, fn func(*session.Handle) error) error {
	h, err := session.Open(ctx, c.endpoint)
	if err != nil {
		return err
	}
	defer h.Close()
	return fn(h)
}

// Screenshot renders markup in a fresh tab at the given width and device
// scale and returns a PNG sized to the content.
func (c *Client) Screenshot(ctx context.Context, markup string, width int64, scale float64) ([]byte, error) {
	var png []byte
	err := c.WithSession(ctx, func(h *session.Handle) error {
		var err error
		png, err = h.Screenshot(ctx, markup, width, scale)
		return err
	})
	return png, err
}
