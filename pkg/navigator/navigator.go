// Package navigator drives a single URL through an already configured tab:
// navigate, let the page settle, capture it and judge whether it is still
// an anti-bot interstitial.
package navigator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/jmylchreest/tabfetch/internal/logger"
	"github.com/jmylchreest/tabfetch/pkg/cdp"
	"github.com/jmylchreest/tabfetch/pkg/challenge"
	"github.com/jmylchreest/tabfetch/pkg/fetcher"
)

// Page is the tab surface the engine drives.
type Page interface {
	Navigate(ctx context.Context, url string) error
	Evaluate(ctx context.Context, expression string, out any) error
}

// Engine fetches one URL at a time. It holds no per-batch state and is safe
// for concurrent use on distinct pages.
type Engine struct {
	policy      Policy
	detector    challenge.Detector
	sleep       Sleeper
	now         func() time.Time
	extractText bool
	log         *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithPolicy sets the wait policy.
func WithPolicy(p Policy) Option {
	return func(e *Engine) {
		e.policy = p
	}
}

// WithDetector sets the challenge heuristic.
func WithDetector(d challenge.Detector) Option {
	return func(e *Engine) {
		if d != nil {
			e.detector = d
		}
	}
}

// WithSleeper replaces the real-time sleeper, mostly for tests.
func WithSleeper(s Sleeper) Option {
	return func(e *Engine) {
		if s != nil {
			e.sleep = s
		}
	}
}

// WithClock sets the source of FetchedAt timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithTextExtraction enables body text and link extraction on successes.
func WithTextExtraction(enabled bool) Option {
	return func(e *Engine) {
		e.extractText = enabled
	}
}

// WithLogger sets the engine's logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.log = l
	}
}

// New creates an Engine with SimplePolicy and the default detector unless
// overridden.
func New(opts ...Option) *Engine {
	e := &Engine{
		policy:   SimplePolicy(),
		detector: challenge.Default(),
		sleep:    SleepContext,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.log == nil {
		e.log = logger.With("component", "navigator")
	}
	return e
}

// Policy returns the engine's wait policy.
func (e *Engine) Policy() Policy { return e.policy }

// snapshot is one capture of the page.
type snapshot struct {
	html, title, location string
}

// FetchOne navigates page to req.URL and captures it. firstVisit selects
// the long settle wait. It always returns a Result; errors are reported as
// *fetcher.Failure.
func (e *Engine) FetchOne(ctx context.Context, page Page, req fetcher.Request, firstVisit bool) fetcher.Result {
	log := e.log.With("url", req.URL)
	start := e.now()

	if err := e.navigate(ctx, page, req.URL); err != nil {
		log.Warn("navigation failed", "error", err)
		return fetcher.NewFailure(req, err)
	}

	wait := e.policy.SettleWait(firstVisit)
	log.Debug("settling", "first_visit", firstVisit, "wait", wait)
	if err := e.sleep(ctx, wait); err != nil {
		return fetcher.NewFailure(req, err)
	}

	if e.policy.CheckReady {
		var ready bool
		if err := page.Evaluate(ctx, cdp.ExprReadyState, &ready); err != nil {
			return fetcher.NewFailure(req, evalError(err))
		}
		if !ready && !firstVisit {
			log.Debug("document not ready, waiting", "wait", e.policy.NotReadyWait)
			if err := e.sleep(ctx, e.policy.NotReadyWait); err != nil {
				return fetcher.NewFailure(req, err)
			}
		}
	}

	if err := e.scroll(ctx, page, log); err != nil {
		return fetcher.NewFailure(req, err)
	}

	snap, err := e.capture(ctx, page)
	if err != nil {
		log.Warn("extraction failed", "error", err)
		return fetcher.NewFailure(req, err)
	}

	verdict := e.detector.Detect(snap.title, snap.html)
	for attempt := 0; verdict != "" && attempt < e.policy.ChallengeRetries; attempt++ {
		log.Info("challenge page detected, waiting", "type", verdict, "wait", e.policy.ChallengeWait)
		if err := e.sleep(ctx, e.policy.ChallengeWait); err != nil {
			return fetcher.NewFailure(req, err)
		}
		if err := e.scroll(ctx, page, log); err != nil {
			return fetcher.NewFailure(req, err)
		}
		if snap, err = e.capture(ctx, page); err != nil {
			log.Warn("extraction failed", "error", err)
			return fetcher.NewFailure(req, err)
		}
		verdict = e.detector.Detect(snap.title, snap.html)
	}

	result := &fetcher.Success{
		HTML:            snap.html,
		Title:           snap.title,
		FinalURL:        snap.location,
		OriginalURL:     req.URL,
		Passthrough:     req.Passthrough,
		FetchedAt:       e.now(),
		FirstVisit:      firstVisit,
		StillChallenged: verdict != "",
		Challenge:       verdict,
	}

	if e.extractText {
		text, links, err := extractContent(snap.html, snap.location)
		if err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("text extraction: %v", err))
		} else {
			result.Text, result.Links = text, links
		}
	}

	if result.StillChallenged {
		log.Warn("page still challenged", "type", verdict, "title", snap.title)
	}
	log.Debug("page fetched",
		"title", snap.title,
		"final_url", snap.location,
		"size", humanize.Bytes(uint64(len(snap.html))),
		"elapsed", e.now().Sub(start))

	return result
}

// scroll nudges the page when the policy asks for it. A failed scroll is
// logged and ignored; only the pause can fail the fetch.
func (e *Engine) scroll(ctx context.Context, page Page, log *slog.Logger) error {
	if !e.policy.Scroll {
		return nil
	}
	if err := page.Evaluate(ctx, cdp.ExprScrollBy, nil); err != nil {
		log.Debug("scroll failed", "error", err)
	}
	return e.sleep(ctx, e.policy.ScrollPause)
}

// navigate loads url under the navigation timeout and maps failures onto
// the error taxonomy.
func (e *Engine) navigate(ctx context.Context, page Page, url string) error {
	navCtx := ctx
	if e.policy.NavigationTimeout > 0 {
		var cancel context.CancelFunc
		navCtx, cancel = context.WithTimeout(ctx, e.policy.NavigationTimeout)
		defer cancel()
	}

	err := page.Navigate(navCtx, url)
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		// The batch itself is done; report that rather than a page error.
		return ctx.Err()
	case fetcher.KindOf(err) == fetcher.KindCanceled && errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %s after %s", fetcher.ErrNavigationTimeout, url, e.policy.NavigationTimeout)
	case fetcher.KindOf(err) == fetcher.KindUnknown:
		return fmt.Errorf("%w: %s: %w", fetcher.ErrNavigationFailed, url, err)
	default:
		return err
	}
}

// capture reads the markup, title and location of the current document.
func (e *Engine) capture(ctx context.Context, page Page) (snapshot, error) {
	var s snapshot
	if err := page.Evaluate(ctx, cdp.ExprOuterHTML, &s.html); err != nil {
		return s, evalError(err)
	}
	if err := page.Evaluate(ctx, cdp.ExprTitle, &s.title); err != nil {
		return s, evalError(err)
	}
	if err := page.Evaluate(ctx, cdp.ExprLocation, &s.location); err != nil {
		return s, evalError(err)
	}
	return s, nil
}

// evalError classifies an evaluation error that did not come from the
// taxonomy.
func evalError(err error) error {
	if fetcher.KindOf(err) == fetcher.KindUnknown {
		return fmt.Errorf("%w: %w", fetcher.ErrEvaluationFailed, err)
	}
	return err
}
