// Package batch fetches a list of URLs through one remote tab.
//
// A batch opens a single tab, applies the stealth profile once, visits every
// request in order and closes the tab on the way out. The first URL of each
// host gets the long settle wait; later URLs of the same host get the short
// one. A failing request never stops the batch: every request yields exactly
// one result, in input order.
package batch

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/jmylchreest/tabfetch/internal/logger"
	"github.com/jmylchreest/tabfetch/pkg/cdp"
	"github.com/jmylchreest/tabfetch/pkg/fetcher"
	"github.com/jmylchreest/tabfetch/pkg/navigator"
	"github.com/jmylchreest/tabfetch/pkg/session"
	"github.com/jmylchreest/tabfetch/pkg/stealth"
)

// DefaultPoliteDelay is the pause between consecutive navigations.
const DefaultPoliteDelay = 500 * time.Millisecond

// WarnBootstrapFailed is attached to challenged results when the stealth
// bootstrap script could not be registered.
const WarnBootstrapFailed = "stealth bootstrap script was not applied; the page may have detected automation"

// Coordinator runs batches against one endpoint. It keeps no per-batch
// state, so concurrent FetchBatch calls each get their own tab.
type Coordinator struct {
	endpoint     cdp.Endpoint
	engine       *navigator.Engine
	profile      stealth.Profile
	stealth      bool
	politeDelay  time.Duration
	batchTimeout time.Duration
	sleep        navigator.Sleeper
	validate     *validator.Validate
	sessionOpts  []session.Option
	log          *slog.Logger
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithEngine sets the navigation engine.
func WithEngine(e *navigator.Engine) Option {
	return func(c *Coordinator) {
		if e != nil {
			c.engine = e
		}
	}
}

// WithProfile sets the stealth profile applied to each batch's tab.
func WithProfile(p stealth.Profile) Option {
	return func(c *Coordinator) {
		c.profile = p
	}
}

// WithStealth toggles stealth configuration of the tab.
func WithStealth(enabled bool) Option {
	return func(c *Coordinator) {
		c.stealth = enabled
	}
}

// WithPoliteDelay sets the pause between navigations.
func WithPoliteDelay(d time.Duration) Option {
	return func(c *Coordinator) {
		c.politeDelay = d
	}
}

// WithBatchTimeout bounds a whole batch. Zero means no bound beyond the
// caller's context.
func WithBatchTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		c.batchTimeout = d
	}
}

// WithSleeper replaces the real-time sleeper used for the polite delay.
func WithSleeper(s navigator.Sleeper) Option {
	return func(c *Coordinator) {
		if s != nil {
			c.sleep = s
		}
	}
}

// WithSessionOptions passes options to session.Open.
func WithSessionOptions(opts ...session.Option) Option {
	return func(c *Coordinator) {
		c.sessionOpts = append(c.sessionOpts, opts...)
	}
}

// WithLogger sets the coordinator's logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) {
		c.log = l
	}
}

// New creates a Coordinator for endpoint.
func New(endpoint cdp.Endpoint, opts ...Option) *Coordinator {
	c := &Coordinator{
		endpoint:    endpoint,
		profile:     stealth.DefaultProfile(),
		stealth:     true,
		politeDelay: DefaultPoliteDelay,
		sleep:       navigator.SleepContext,
		validate:    validator.New(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.engine == nil {
		c.engine = navigator.New()
	}
	if c.log == nil {
		c.log = logger.With("component", "batch")
	}
	return c
}

// Fetch fetches a single request in its own tab.
func (c *Coordinator) Fetch(ctx context.Context, req fetcher.Request) fetcher.Result {
	return c.FetchBatch(ctx, []fetcher.Request{req})[0]
}

// FetchBatch fetches reqs in order through one tab and returns one result
// per request. It never fails as a whole: setup errors are reported on
// every item and per-item errors only affect that item.
func (c *Coordinator) FetchBatch(ctx context.Context, reqs []fetcher.Request) []fetcher.Result {
	results := make([]fetcher.Result, 0, len(reqs))
	if len(reqs) == 0 {
		return results
	}

	if c.batchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.batchTimeout)
		defer cancel()
	}

	log := c.log.With("batch", uuid.NewString())
	start := time.Now()
	log.Info("batch started", "requests", len(reqs), "endpoint", fmt.Sprintf("%s:%d", c.endpoint.Host(), c.endpoint.Port()))

	h, err := session.Open(ctx, c.endpoint, append([]session.Option{session.WithLogger(log)}, c.sessionOpts...)...)
	if err != nil {
		log.Error("could not open browser session", "error", err)
		for _, req := range reqs {
			results = append(results, fetcher.NewFailure(req, err))
		}
		return results
	}
	defer h.Close()

	var report stealth.Report
	if c.stealth {
		report = stealth.Apply(ctx, h, c.profile)
	}

	visits := NewHostVisits()
	navigated := false
	for i, req := range reqs {
		if err := ctx.Err(); err != nil {
			results = append(results, fetcher.NewFailure(req, err))
			continue
		}

		if navigated && c.politeDelay > 0 {
			if err := c.sleep(ctx, c.politeDelay); err != nil {
				results = append(results, fetcher.NewFailure(req, err))
				continue
			}
		}

		res, touched := c.fetchItem(ctx, h, visits, req)
		navigated = touched
		if s, ok := res.(*fetcher.Success); ok && s.StillChallenged && report.BootstrapFailed() {
			s.Warnings = append(s.Warnings, WarnBootstrapFailed)
		}
		results = append(results, res)

		if f, ok := res.(*fetcher.Failure); ok {
			log.Warn("request failed", "index", i, "url", req.URL, "kind", f.Kind(), "error", f.Err)
		}
	}

	log.Info("batch finished", "requests", len(reqs), "succeeded", countSuccess(results), "hosts", visits.Len(), "elapsed", time.Since(start).Round(time.Millisecond))
	return results
}

// fetchItem isolates one request: validation errors and panics become a
// Failure. touched reports whether the tab was navigated.
func (c *Coordinator) fetchItem(ctx context.Context, h *session.Handle, visits *HostVisits, req fetcher.Request) (res fetcher.Result, touched bool) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("panic while fetching", "url", req.URL, "panic", r, "stack", string(debug.Stack()))
			res = fetcher.NewFailure(req, fmt.Errorf("panic while fetching %s: %v", req.URL, r))
		}
	}()

	if err := c.validate.Struct(req); err != nil {
		return fetcher.NewFailure(req, fmt.Errorf("%w: %q: %v", fetcher.ErrInvalidURL, req.URL, err)), false
	}
	host, err := req.Host()
	if err != nil {
		return fetcher.NewFailure(req, err), false
	}

	first := !visits.Seen(host)
	visits.Mark(host)

	return c.engine.FetchOne(ctx, h, req, first), true
}

func countSuccess(results []fetcher.Result) int {
	n := 0
	for _, r := range results {
		if fetcher.IsSuccess(r) {
			n++
		}
	}
	return n
}
