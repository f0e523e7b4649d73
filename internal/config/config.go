// Package config loads tabfetch settings from file, environment and flags.
//
// Values are read through viper (config file .tabfetch.yaml, TABFETCH_*
// environment variables, bound CLI flags) and validated with validator.
// Wait settings start from the preset selected by mode; only the wait keys
// the user sets explicitly override the preset.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/jmylchreest/tabfetch/pkg/cdp"
	"github.com/jmylchreest/tabfetch/pkg/navigator"
	"github.com/jmylchreest/tabfetch/pkg/stealth"
	"github.com/jmylchreest/tabfetch/pkg/tabfetch"
)

// EnvPrefix is the prefix of environment overrides, e.g. TABFETCH_ENDPOINT_HOST.
const EnvPrefix = "TABFETCH"

// Config is the complete tabfetch configuration.
type Config struct {
	Endpoint   EndpointConfig   `mapstructure:"endpoint"`
	Mode       string           `mapstructure:"mode" validate:"oneof=simple stealth"`
	Navigation NavigationConfig `mapstructure:"navigation"`
	Wait       WaitConfig       `mapstructure:"wait"`
	Batch      BatchConfig      `mapstructure:"batch"`
	Stealth    StealthConfig    `mapstructure:"stealth"`
	Extract    ExtractConfig    `mapstructure:"extract"`
	Fetch      FetchConfig      `mapstructure:"fetch"`
}

// EndpointConfig locates the remote browser.
type EndpointConfig struct {
	Host    string        `mapstructure:"host" validate:"required,hostname|ip"`
	Port    int           `mapstructure:"port" validate:"min=1,max=65535"`
	Timeout time.Duration `mapstructure:"timeout" validate:"gt=0"`
}

// NavigationConfig bounds a single navigation.
type NavigationConfig struct {
	Timeout time.Duration `mapstructure:"timeout" validate:"gt=0"`
}

// WaitConfig tunes the settle waits.
type WaitConfig struct {
	FirstVisit       time.Duration `mapstructure:"first_visit" validate:"gte=0"`
	Repeat           time.Duration `mapstructure:"repeat" validate:"gte=0"`
	NotReady         time.Duration `mapstructure:"not_ready" validate:"gte=0"`
	CheckReady       bool          `mapstructure:"check_ready"`
	Scroll           time.Duration `mapstructure:"scroll" validate:"gte=0"`
	Challenge        time.Duration `mapstructure:"challenge" validate:"gte=0"`
	ChallengeRetries int           `mapstructure:"challenge_retries" validate:"gte=0,lte=5"`
}

// BatchConfig tunes batch pacing.
type BatchConfig struct {
	Delay   time.Duration `mapstructure:"delay" validate:"gte=0"`
	Timeout time.Duration `mapstructure:"timeout" validate:"gte=0"`
}

// StealthConfig overrides the desktop stealth profile.
type StealthConfig struct {
	Enabled        bool              `mapstructure:"enabled"`
	UserAgent      string            `mapstructure:"user_agent"`
	AcceptLanguage string            `mapstructure:"accept_language"`
	Platform       string            `mapstructure:"platform"`
	Viewport       cdp.Viewport      `mapstructure:"viewport"`
	Headers        map[string]string `mapstructure:"headers"`
}

// ExtractConfig controls optional content extraction.
type ExtractConfig struct {
	Text bool `mapstructure:"text"`
}

// FetchConfig tunes single-item fetches.
type FetchConfig struct {
	// DefaultURL is fetched when no URL is given. Batches never use it.
	DefaultURL string `mapstructure:"default_url" validate:"omitempty,http_url"`
}

// waitKeys are left without viper defaults so IsSet reflects user intent.
var waitKeys = []string{
	"wait.first_visit",
	"wait.repeat",
	"wait.not_ready",
	"wait.check_ready",
	"wait.scroll",
	"wait.challenge",
	"wait.challenge_retries",
}

// Default returns the built-in configuration for the simple mode.
func Default() Config {
	p := stealth.DefaultProfile()
	return Config{
		Endpoint: EndpointConfig{
			Host:    "localhost",
			Port:    9222,
			Timeout: 10 * time.Second,
		},
		Mode:       navigator.ModeSimple,
		Navigation: NavigationConfig{Timeout: 30 * time.Second},
		Wait:       waitFromPolicy(navigator.SimplePolicy()),
		Batch:      BatchConfig{Delay: 500 * time.Millisecond},
		Stealth: StealthConfig{
			Enabled:        true,
			UserAgent:      p.UserAgent,
			AcceptLanguage: p.AcceptLanguage,
			Platform:       p.Platform,
			Viewport:       p.Viewport,
		},
		Fetch: FetchConfig{DefaultURL: "https://example.com"},
	}
}

// SetDefaults registers defaults and environment bindings on v.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("endpoint.host", d.Endpoint.Host)
	v.SetDefault("endpoint.port", d.Endpoint.Port)
	v.SetDefault("endpoint.timeout", d.Endpoint.Timeout)
	v.SetDefault("mode", d.Mode)
	v.SetDefault("navigation.timeout", d.Navigation.Timeout)
	v.SetDefault("batch.delay", d.Batch.Delay)
	v.SetDefault("batch.timeout", d.Batch.Timeout)
	v.SetDefault("stealth.enabled", d.Stealth.Enabled)
	v.SetDefault("stealth.user_agent", d.Stealth.UserAgent)
	v.SetDefault("stealth.accept_language", d.Stealth.AcceptLanguage)
	v.SetDefault("stealth.platform", d.Stealth.Platform)
	v.SetDefault("stealth.viewport.width", d.Stealth.Viewport.Width)
	v.SetDefault("stealth.viewport.height", d.Stealth.Viewport.Height)
	v.SetDefault("stealth.viewport.scale", d.Stealth.Viewport.ScaleFactor)
	v.SetDefault("stealth.viewport.mobile", d.Stealth.Viewport.Mobile)
	v.SetDefault("extract.text", false)
	v.SetDefault("fetch.default_url", d.Fetch.DefaultURL)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range waitKeys {
		_ = v.BindEnv(key)
	}
}

// Load decodes and validates the configuration held by v.
func Load(v *viper.Viper) (Config, error) {
	cfg := Default()
	cfg.Mode = v.GetString("mode")

	policy, err := navigator.PolicyFor(cfg.Mode)
	if err != nil {
		return Config{}, err
	}
	cfg.Wait = waitFromPolicy(policy)

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cfg against its field constraints.
func Validate(cfg Config) error {
	err := validator.New().Struct(cfg)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s %s", e.Namespace(), formatValidationError(e)))
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
}

// formatValidationError creates a human-readable error message.
func formatValidationError(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "min", "gte":
		return fmt.Sprintf("must be at least %s", e.Param())
	case "max", "lte":
		return fmt.Sprintf("must be at most %s", e.Param())
	case "gt":
		return fmt.Sprintf("must be greater than %s", e.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", e.Param())
	case "hostname|ip":
		return "must be a host name or IP address"
	case "http_url":
		return "must be an http or https URL"
	default:
		return fmt.Sprintf("failed validation '%s'", e.Tag())
	}
}

func waitFromPolicy(p navigator.Policy) WaitConfig {
	w := WaitConfig{
		FirstVisit:       p.FirstVisitWait,
		Repeat:           p.RepeatWait,
		NotReady:         p.NotReadyWait,
		CheckReady:       p.CheckReady,
		Challenge:        p.ChallengeWait,
		ChallengeRetries: p.ChallengeRetries,
	}
	if p.Scroll {
		w.Scroll = p.ScrollPause
	}
	return w
}

// Policy returns the navigation policy described by c.
func (c Config) Policy() navigator.Policy {
	return navigator.Policy{
		NavigationTimeout: c.Navigation.Timeout,
		FirstVisitWait:    c.Wait.FirstVisit,
		RepeatWait:        c.Wait.Repeat,
		CheckReady:        c.Wait.CheckReady,
		NotReadyWait:      c.Wait.NotReady,
		Scroll:            c.Wait.Scroll > 0,
		ScrollPause:       c.Wait.Scroll,
		ChallengeRetries:  c.Wait.ChallengeRetries,
		ChallengeWait:     c.Wait.Challenge,
	}
}

// Profile returns the stealth profile described by c. Configured headers
// are merged over the default header bundle.
func (c Config) Profile() stealth.Profile {
	p := stealth.DefaultProfile()
	if c.Stealth.UserAgent != "" {
		p.UserAgent = c.Stealth.UserAgent
	}
	if c.Stealth.AcceptLanguage != "" {
		p.AcceptLanguage = c.Stealth.AcceptLanguage
		p.ExtraHeaders["Accept-Language"] = c.Stealth.AcceptLanguage
	}
	if c.Stealth.Platform != "" {
		p.Platform = c.Stealth.Platform
	}
	if c.Stealth.Viewport.Width > 0 && c.Stealth.Viewport.Height > 0 {
		p.Viewport = c.Stealth.Viewport
		if p.Viewport.ScaleFactor <= 0 {
			p.Viewport.ScaleFactor = 1
		}
	}
	return p.WithHeaders(c.Stealth.Headers)
}

// Options converts c into tabfetch client options.
func (c Config) Options() []tabfetch.Option {
	return []tabfetch.Option{
		tabfetch.WithEndpoint(c.Endpoint.Host, c.Endpoint.Port),
		tabfetch.WithEndpointTimeout(c.Endpoint.Timeout),
		tabfetch.WithPolicy(c.Policy()),
		tabfetch.WithStealth(c.Stealth.Enabled),
		tabfetch.WithProfile(c.Profile()),
		tabfetch.WithPoliteDelay(c.Batch.Delay),
		tabfetch.WithBatchTimeout(c.Batch.Timeout),
		tabfetch.WithTextExtraction(c.Extract.Text),
		tabfetch.WithDefaultURL(c.Fetch.DefaultURL),
	}
}
