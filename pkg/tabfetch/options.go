// Package tabfetch provides the public API for fetching rendered pages
// through a remote Chrome DevTools endpoint.
package tabfetch

import (
	"time"

	"github.com/jmylchreest/tabfetch/pkg/cdp"
	"github.com/jmylchreest/tabfetch/pkg/challenge"
	"github.com/jmylchreest/tabfetch/pkg/navigator"
	"github.com/jmylchreest/tabfetch/pkg/stealth"
)

// Config holds all tabfetch configuration.
type Config struct {
	// Endpoint settings
	Host            string
	Port            int
	EndpointTimeout time.Duration

	// Page settings
	Policy      navigator.Policy
	Detector    challenge.Detector
	ExtractText bool

	// Stealth settings
	Stealth bool
	Profile stealth.Profile

	// Batch settings
	PoliteDelay  time.Duration
	BatchTimeout time.Duration

	// DefaultURL replaces an empty URL in single fetches. Batches never
	// use it.
	DefaultURL string

	// Browser overrides the endpoint built from Host and Port.
	Browser cdp.Endpoint
}

// DefaultConfig returns sensible defaults: a local browser on 9222, the
// simple wait policy and the desktop stealth profile.
func DefaultConfig() Config {
	return Config{
		Host:            "localhost",
		Port:            9222,
		EndpointTimeout: 10 * time.Second,
		Policy:          navigator.SimplePolicy(),
		Detector:        challenge.Default(),
		Stealth:         true,
		Profile:         stealth.DefaultProfile(),
		PoliteDelay:     500 * time.Millisecond,
	}
}

// Option configures tabfetch.
type Option func(*Config)

// WithEndpoint sets the DevTools host and port.
func WithEndpoint(host string, port int) Option {
	return func(c *Config) {
		c.Host = host
		c.Port = port
	}
}

// WithEndpointTimeout bounds DevTools HTTP calls.
func WithEndpointTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.EndpointTimeout = d
	}
}

// WithBrowser uses an existing endpoint instead of dialing Host:Port.
func WithBrowser(ep cdp.Endpoint) Option {
	return func(c *Config) {
		c.Browser = ep
	}
}

// WithPolicy sets the wait policy.
func WithPolicy(p navigator.Policy) Option {
	return func(c *Config) {
		c.Policy = p
	}
}

// WithDetector sets the challenge heuristic.
func WithDetector(d challenge.Detector) Option {
	return func(c *Config) {
		c.Detector = d
	}
}

// WithTextExtraction enables body text and link extraction.
func WithTextExtraction(enabled bool) Option {
	return func(c *Config) {
		c.ExtractText = enabled
	}
}

// WithStealth toggles the stealth profile.
func WithStealth(enabled bool) Option {
	return func(c *Config) {
		c.Stealth = enabled
	}
}

// WithProfile sets the stealth profile.
func WithProfile(p stealth.Profile) Option {
	return func(c *Config) {
		c.Profile = p
	}
}

// WithPoliteDelay sets the pause between navigations in a batch.
func WithPoliteDelay(d time.Duration) Option {
	return func(c *Config) {
		c.PoliteDelay = d
	}
}

// WithBatchTimeout bounds each batch. Zero disables the bound.
func WithBatchTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.BatchTimeout = d
	}
}

// WithDefaultURL sets the URL used when a single fetch names none.
func WithDefaultURL(u string) Option {
	return func(c *Config) {
		c.DefaultURL = u
	}
}
