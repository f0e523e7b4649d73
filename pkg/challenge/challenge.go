// Package challenge recognises anti-bot interstitials (Cloudflare "Just a
// moment", CAPTCHA walls, generic block pages) in captured pages.
//
// Detection is a heuristic over the page title and markup. It never solves
// anything; it only tells the caller whether waiting longer might help.
package challenge

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Verdict names the kind of interstitial that was recognised.
const (
	Cloudflare          = "cloudflare"
	CloudflareTurnstile = "cloudflare-turnstile"
	CloudflareError     = "cloudflare-error"
	HCaptcha            = "hcaptcha"
	ReCaptcha           = "recaptcha"
	AntiBot             = "anti-bot"
)

// Detector inspects a captured page. Detect returns the verdict kind, or ""
// when the page looks like real content.
type Detector interface {
	Detect(title, html string) string
}

// DetectorFunc adapts a function to the Detector interface.
type DetectorFunc func(title, html string) string

// Detect calls f.
func (f DetectorFunc) Detect(title, html string) string { return f(title, html) }

// Rule matches case-insensitive substrings in the title or the markup.
type Rule struct {
	Kind   string
	Title  []string
	Markup []string
}

func (r Rule) match(titleLower, htmlLower string) bool {
	for _, m := range r.Title {
		if strings.Contains(titleLower, m) {
			return true
		}
	}
	for _, m := range r.Markup {
		if strings.Contains(htmlLower, m) {
			return true
		}
	}
	return false
}

// Markers is a Detector over ordered substring rules. The first matching
// rule wins.
type Markers []Rule

// Detect implements Detector.
func (m Markers) Detect(title, html string) string {
	titleLower := strings.ToLower(title)
	htmlLower := strings.ToLower(html)
	for _, r := range m {
		if r.match(titleLower, htmlLower) {
			return r.Kind
		}
	}
	return ""
}

// DefaultMarkers are the substring rules for the interstitials seen in
// practice. Markers must be lower case.
var DefaultMarkers = Markers{
	{
		Kind:   Cloudflare,
		Title:  []string{"just a moment", "attention required", "cloudflare"},
		Markup: []string{"cf-challenge", "cf_chl_opt"},
	},
	{
		Kind:   CloudflareTurnstile,
		Markup: []string{"challenges.cloudflare.com/turnstile", "cf-turnstile"},
	},
	{
		Kind:   CloudflareError,
		Markup: []string{"cloudflare ray id", "cf-wrapper", "cf-error-details"},
	},
	{
		Kind:   HCaptcha,
		Markup: []string{"hcaptcha.com", "h-captcha"},
	},
	{
		Kind:   ReCaptcha,
		Markup: []string{"google.com/recaptcha", "g-recaptcha"},
	},
	{
		Kind:   AntiBot,
		Title:  []string{"access denied", "you have been blocked", "bot detection"},
		Markup: []string{"robot or human"},
	},
}

// Selector maps a CSS selector to a verdict kind.
type Selector struct {
	Kind  string
	Query string
}

// Selectors is a Detector that looks for challenge widgets in the DOM.
// Markup that fails to parse is treated as not challenged.
type Selectors []Selector

// Detect implements Detector.
func (s Selectors) Detect(_, html string) string {
	if html == "" || len(s) == 0 {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	for _, sel := range s {
		if doc.Find(sel.Query).Length() > 0 {
			return sel.Kind
		}
	}
	return ""
}

// DefaultSelectors are the DOM nodes Cloudflare and CAPTCHA vendors render
// while a challenge is pending.
var DefaultSelectors = Selectors{
	{Kind: Cloudflare, Query: "#challenge-form"},
	{Kind: Cloudflare, Query: "#challenge-stage"},
	{Kind: Cloudflare, Query: "#cf-spinner-please-wait"},
	{Kind: CloudflareTurnstile, Query: "#turnstile-wrapper"},
	{Kind: HCaptcha, Query: "iframe[src*='hcaptcha.com']"},
	{Kind: ReCaptcha, Query: "iframe[src*='recaptcha']"},
}

// Chain runs detectors in order and returns the first verdict.
type Chain []Detector

// Detect implements Detector.
func (c Chain) Detect(title, html string) string {
	for _, d := range c {
		if d == nil {
			continue
		}
		if kind := d.Detect(title, html); kind != "" {
			return kind
		}
	}
	return ""
}

// Default returns the detector used when none is configured: substring
// markers first, then DOM selectors.
func Default() Detector {
	return Chain{DefaultMarkers, DefaultSelectors}
}
