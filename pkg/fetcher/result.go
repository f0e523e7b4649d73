package fetcher

import (
	"encoding/json"
	"time"
)

// Result is the outcome of one Request: either *Success or *Failure.
type Result interface {
	// RequestURL returns the URL that was requested.
	RequestURL() string
	result()
}

// Success is a page that loaded and was extracted. A success can still be
// flagged StillChallenged when the captured page looks like an anti-bot
// interstitial; the content is returned best-effort.
type Success struct {
	HTML        string
	Title       string
	FinalURL    string
	OriginalURL string
	Passthrough any
	FetchedAt   time.Time

	// FirstVisit reports whether the long first-visit wait was applied.
	FirstVisit bool

	StillChallenged bool
	Challenge       string // detector verdict, empty when not challenged

	// Text and Links are populated only when text extraction is enabled.
	Text  string
	Links []string

	// Warnings carries non-fatal setup problems that may explain the
	// result, e.g. a failed bootstrap script on a challenged page.
	Warnings []string
}

// Failure is a request that produced no page content.
type Failure struct {
	OriginalURL string
	Passthrough any
	Err         error
}

func (*Success) result() {}
func (*Failure) result() {}

// RequestURL returns the originally requested URL.
func (s *Success) RequestURL() string { return s.OriginalURL }

// RequestURL returns the originally requested URL.
func (f *Failure) RequestURL() string { return f.OriginalURL }

// Kind classifies the failure.
func (f *Failure) Kind() Kind { return KindOf(f.Err) }

// Error returns the failure message.
func (f *Failure) Error() string {
	if f.Err == nil {
		return "unknown error"
	}
	return f.Err.Error()
}

// Unwrap exposes the underlying error to errors.Is.
func (f *Failure) Unwrap() error { return f.Err }

// NewFailure builds a Failure for req.
func NewFailure(req Request, err error) *Failure {
	return &Failure{
		OriginalURL: req.URL,
		Passthrough: req.Passthrough,
		Err:         err,
	}
}

// IsSuccess reports whether r is a *Success.
func IsSuccess(r Result) bool {
	_, ok := r.(*Success)
	return ok
}

type successRecord struct {
	Success         bool     `json:"success" yaml:"success"`
	HTML            string   `json:"html" yaml:"html"`
	Title           string   `json:"title" yaml:"title"`
	URL             string   `json:"url" yaml:"url"`
	OriginalURL     string   `json:"original_url" yaml:"original_url"`
	Passthrough     any      `json:"passthrough,omitempty" yaml:"passthrough,omitempty"`
	FetchedAt       string   `json:"fetched_at" yaml:"fetched_at"`
	FirstVisit      bool     `json:"first_visit" yaml:"first_visit"`
	StillChallenged bool     `json:"still_challenged" yaml:"still_challenged"`
	Challenge       string   `json:"challenge,omitempty" yaml:"challenge,omitempty"`
	Text            string   `json:"text,omitempty" yaml:"text,omitempty"`
	Links           []string `json:"links,omitempty" yaml:"links,omitempty"`
	Warnings        []string `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}

type failureRecord struct {
	Success     bool   `json:"success" yaml:"success"`
	URL         string `json:"url" yaml:"url"`
	Passthrough any    `json:"passthrough,omitempty" yaml:"passthrough,omitempty"`
	Error       string `json:"error" yaml:"error"`
	ErrorKind   Kind   `json:"error_kind" yaml:"error_kind"`
}

func (s *Success) record() successRecord {
	return successRecord{
		Success:         true,
		HTML:            s.HTML,
		Title:           s.Title,
		URL:             s.FinalURL,
		OriginalURL:     s.OriginalURL,
		Passthrough:     s.Passthrough,
		FetchedAt:       s.FetchedAt.UTC().Format(time.RFC3339),
		FirstVisit:      s.FirstVisit,
		StillChallenged: s.StillChallenged,
		Challenge:       s.Challenge,
		Text:            s.Text,
		Links:           s.Links,
		Warnings:        s.Warnings,
	}
}

func (f *Failure) record() failureRecord {
	return failureRecord{
		URL:         f.OriginalURL,
		Passthrough: f.Passthrough,
		Error:       f.Error(),
		ErrorKind:   f.Kind(),
	}
}

// MarshalJSON encodes the success in the outbound result shape.
func (s *Success) MarshalJSON() ([]byte, error) { return json.Marshal(s.record()) }

// MarshalYAML encodes the success in the outbound result shape.
func (s *Success) MarshalYAML() (any, error) { return s.record(), nil }

// MarshalJSON encodes the failure in the outbound result shape.
func (f *Failure) MarshalJSON() ([]byte, error) { return json.Marshal(f.record()) }

// MarshalYAML encodes the failure in the outbound result shape.
func (f *Failure) MarshalYAML() (any, error) { return f.record(), nil }
