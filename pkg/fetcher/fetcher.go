// Package fetcher defines the request and result types shared by every stage
// of a remote-browser fetch, plus the error taxonomy used to classify
// per-item failures.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Fetcher abstracts rendered-page fetching through a remote browser.
type Fetcher interface {
	// Fetch retrieves a single page. It never returns a nil Result.
	Fetch(ctx context.Context, req Request) Result

	// FetchBatch retrieves every request in order, one result per request.
	FetchBatch(ctx context.Context, reqs []Request) []Result
}

// Request is a single page to fetch.
type Request struct {
	URL string `json:"url" yaml:"url" validate:"required,http_url"`

	// Passthrough is carried unchanged into the result.
	Passthrough any `json:"passthrough,omitempty" yaml:"passthrough,omitempty"`
}

// Host returns the lower-cased host name of the request URL without port.
func (r Request) Host() (string, error) {
	u, err := url.Parse(strings.TrimSpace(r.URL))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", fmt.Errorf("%w: missing host in %q", ErrInvalidURL, r.URL)
	}
	return host, nil
}

// Error types for distinguishing failure reasons.
// Check with errors.Is(err, fetcher.ErrNavigationTimeout).
var (
	// ErrEndpointUnavailable indicates the remote browser cannot be reached.
	ErrEndpointUnavailable = errors.New("browser endpoint unavailable")
	// ErrTabCreationFailed indicates the endpoint refused to allocate a tab.
	ErrTabCreationFailed = errors.New("tab creation failed")
	// ErrNavigationTimeout indicates the load event did not fire in time.
	ErrNavigationTimeout = errors.New("navigation timeout")
	// ErrNavigationFailed indicates the browser reported a navigation error
	// such as an unresolvable host.
	ErrNavigationFailed = errors.New("navigation failed")
	// ErrEvaluationFailed indicates a script evaluated in the page threw.
	ErrEvaluationFailed = errors.New("evaluation failed")
	// ErrConnectionDropped indicates the protocol connection was lost.
	ErrConnectionDropped = errors.New("connection dropped")
	// ErrInvalidURL indicates the request URL cannot be fetched.
	ErrInvalidURL = errors.New("invalid url")
)

// Kind is a stable, serialisable name for a failure class.
type Kind string

const (
	KindEndpointUnavailable Kind = "endpoint_unavailable"
	KindTabCreationFailed   Kind = "tab_creation_failed"
	KindNavigationTimeout   Kind = "navigation_timeout"
	KindNavigationFailed    Kind = "navigation_failed"
	KindEvaluationFailed    Kind = "evaluation_failed"
	KindConnectionDropped   Kind = "connection_dropped"
	KindInvalidURL          Kind = "invalid_url"
	KindCanceled            Kind = "canceled"
	KindUnknown             Kind = "unknown"
)

var kinds = []struct {
	err  error
	kind Kind
}{
	{ErrEndpointUnavailable, KindEndpointUnavailable},
	{ErrTabCreationFailed, KindTabCreationFailed},
	{ErrNavigationTimeout, KindNavigationTimeout},
	{ErrNavigationFailed, KindNavigationFailed},
	{ErrEvaluationFailed, KindEvaluationFailed},
	{ErrConnectionDropped, KindConnectionDropped},
	{ErrInvalidURL, KindInvalidURL},
	{context.Canceled, KindCanceled},
	{context.DeadlineExceeded, KindCanceled},
}

// KindOf classifies err. Taxonomy sentinels win over context errors, so a
// navigation deadline wrapped as ErrNavigationTimeout reports as such.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindUnknown
}
