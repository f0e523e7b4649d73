// Package stealth makes a remote tab look like an ordinary desktop browser.
//
// A Profile is applied once per tab, before the first navigation, in four
// steps: user agent override, device metrics, a bootstrap script that runs
// before page scripts, and extra request headers. A failing step is recorded
// and the remaining steps still run; the tab stays usable either way.
package stealth

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"

	"github.com/jmylchreest/tabfetch/internal/logger"
	"github.com/jmylchreest/tabfetch/pkg/cdp"
)

// DefaultUserAgent is a recent Chrome on Windows.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// DefaultAcceptLanguage matches the bootstrap script's navigator.languages.
const DefaultAcceptLanguage = "en-US,en;q=0.9"

// DefaultPlatform matches DefaultUserAgent.
const DefaultPlatform = "Win32"

// DefaultViewport is a 1080p desktop screen.
var DefaultViewport = cdp.Viewport{Width: 1920, Height: 1080, ScaleFactor: 1, Mobile: false}

// DefaultHeaders returns the request headers a browser sends for a
// top-level navigation typed into the address bar after a search.
// Accept-Encoding is left to the browser.
func DefaultHeaders() map[string]string {
	return map[string]string{
		"Accept-Language":           DefaultAcceptLanguage,
		"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
		"Referer":                   "https://www.google.com/",
		"DNT":                       "1",
		"Connection":                "keep-alive",
		"Upgrade-Insecure-Requests": "1",
		"Sec-Fetch-Dest":            "document",
		"Sec-Fetch-Mode":            "navigate",
		"Sec-Fetch-Site":            "none",
		"Cache-Control":             "max-age=0",
	}
}

// Profile describes how a tab should present itself.
type Profile struct {
	UserAgent       string
	AcceptLanguage  string
	Platform        string
	Viewport        cdp.Viewport
	ExtraHeaders    map[string]string
	BootstrapScript string
}

// DefaultProfile returns the desktop Chrome profile.
func DefaultProfile() Profile {
	return Profile{
		UserAgent:       DefaultUserAgent,
		AcceptLanguage:  DefaultAcceptLanguage,
		Platform:        DefaultPlatform,
		Viewport:        DefaultViewport,
		ExtraHeaders:    DefaultHeaders(),
		BootstrapScript: BootstrapScript,
	}
}

// WithHeaders returns a copy of p with headers merged over its extra
// headers. Header names are matched case-insensitively.
func (p Profile) WithHeaders(headers map[string]string) Profile {
	merged := make(map[string]string, len(p.ExtraHeaders)+len(headers))
	maps.Copy(merged, p.ExtraHeaders)
	for name, value := range headers {
		for existing := range merged {
			if strings.EqualFold(existing, name) {
				delete(merged, existing)
			}
		}
		merged[name] = value
	}
	p.ExtraHeaders = merged
	return p
}

// Target is the part of a tab connection the configurator drives.
type Target interface {
	SetUserAgentOverride(ctx context.Context, userAgent, acceptLanguage, platform string) error
	SetDeviceMetricsOverride(ctx context.Context, v cdp.Viewport) error
	AddScriptToEvaluateOnNewDocument(ctx context.Context, source string) (string, error)
	SetExtraHTTPHeaders(ctx context.Context, headers map[string]string) error
}

// Step names, in application order.
const (
	StepUserAgent = "user_agent"
	StepViewport  = "viewport"
	StepBootstrap = "bootstrap_script"
	StepHeaders   = "extra_headers"
)

// StepResult records the outcome of one configuration step. Err is nil on
// success; Skipped is set when the profile left the step empty.
type StepResult struct {
	Name    string
	Err     error
	Skipped bool
}

// Report is the outcome of Apply.
type Report struct {
	Steps    []StepResult
	ScriptID string
}

// Failed returns the names of the steps that failed.
func (r Report) Failed() []string {
	var names []string
	for _, s := range r.Steps {
		if s.Err != nil {
			names = append(names, s.Name)
		}
	}
	return names
}

// OK reports whether every attempted step succeeded.
func (r Report) OK() bool { return len(r.Failed()) == 0 }

// BootstrapFailed reports whether the bootstrap script could not be
// registered, leaving the tab with its headless tells.
func (r Report) BootstrapFailed() bool {
	for _, s := range r.Steps {
		if s.Name == StepBootstrap && s.Err != nil {
			return true
		}
	}
	return false
}

// Err joins the step errors, or returns nil.
func (r Report) Err() error {
	var errs []error
	for _, s := range r.Steps {
		if s.Err != nil {
			errs = append(errs, fmt.Errorf("stealth %s: %w", s.Name, s.Err))
		}
	}
	return errors.Join(errs...)
}

// Apply configures t with p. Steps run in a fixed order and every step is
// attempted even when an earlier one failed.
func Apply(ctx context.Context, t Target, p Profile) Report {
	log := logger.With("component", "stealth")
	var report Report

	run := func(name string, skip bool, fn func() error) {
		if skip {
			report.Steps = append(report.Steps, StepResult{Name: name, Skipped: true})
			return
		}
		err := fn()
		if err != nil {
			log.Warn("stealth step failed", "step", name, "error", err)
		}
		report.Steps = append(report.Steps, StepResult{Name: name, Err: err})
	}

	run(StepUserAgent, p.UserAgent == "", func() error {
		return t.SetUserAgentOverride(ctx, p.UserAgent, p.AcceptLanguage, p.Platform)
	})
	run(StepViewport, p.Viewport.Width <= 0 || p.Viewport.Height <= 0, func() error {
		return t.SetDeviceMetricsOverride(ctx, p.Viewport)
	})
	run(StepBootstrap, p.BootstrapScript == "", func() error {
		id, err := t.AddScriptToEvaluateOnNewDocument(ctx, p.BootstrapScript)
		report.ScriptID = id
		return err
	})
	run(StepHeaders, len(p.ExtraHeaders) == 0, func() error {
		return t.SetExtraHTTPHeaders(ctx, p.ExtraHeaders)
	})

	log.Debug("stealth profile applied",
		"user_agent", p.UserAgent,
		"viewport", fmt.Sprintf("%dx%d", p.Viewport.Width, p.Viewport.Height),
		"headers", len(p.ExtraHeaders),
		"failed", report.Failed())

	return report
}
