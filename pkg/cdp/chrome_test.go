package cdp

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/jmylchreest/tabfetch/pkg/fetcher"
)

// newTestChrome points a Chrome endpoint at srv.
func newTestChrome(t *testing.T, srv *httptest.Server) *Chrome {
	t.Helper()
	host, portStr, err := net.SplitHostPort(srv.Listener.Addr().String())
	if err != nil {
		t.Fatalf("split host port: %v", err)
	}
	port, _ := strconv.Atoi(portStr)
	return NewChrome(host, port, WithHTTPClient(srv.Client()))
}

func TestChrome_NewTab_Put(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/json/new" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if r.Method != http.MethodPut {
			t.Errorf("expected PUT, got %s", r.Method)
		}
		if r.URL.RawQuery != "about%3Ablank" {
			t.Errorf("unexpected query %q", r.URL.RawQuery)
		}
		_, _ = w.Write([]byte(`{"id":"ABC123","type":"page","url":"about:blank","webSocketDebuggerUrl":"ws://x/devtools/page/ABC123"}`))
	}))
	defer srv.Close()

	tab, err := newTestChrome(t, srv).NewTab(context.Background())
	if err != nil {
		t.Fatalf("NewTab() error = %v", err)
	}
	if tab.ID != "ABC123" {
		t.Errorf("expected tab id ABC123, got %q", tab.ID)
	}
	if tab.Type != "page" {
		t.Errorf("expected type page, got %q", tab.Type)
	}
}

func TestChrome_NewTab_FallsBackToGet(t *testing.T) {
	var methods []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		methods = append(methods, r.Method)
		if r.Method == http.MethodPut {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		_, _ = w.Write([]byte(`{"id":"OLD1","type":"page"}`))
	}))
	defer srv.Close()

	tab, err := newTestChrome(t, srv).NewTab(context.Background())
	if err != nil {
		t.Fatalf("NewTab() error = %v", err)
	}
	if tab.ID != "OLD1" {
		t.Errorf("expected tab id OLD1, got %q", tab.ID)
	}
	if len(methods) != 2 || methods[0] != http.MethodPut || methods[1] != http.MethodGet {
		t.Errorf("expected PUT then GET, got %v", methods)
	}
}

func TestChrome_NewTab_Errors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    error
	}{
		{
			name: "server_error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "too many tabs", http.StatusInternalServerError)
			},
			want: fetcher.ErrTabCreationFailed,
		},
		{
			name: "bad_json",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`not json`))
			},
			want: fetcher.ErrTabCreationFailed,
		},
		{
			name: "missing_id",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"type":"page"}`))
			},
			want: fetcher.ErrTabCreationFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			_, err := newTestChrome(t, srv).NewTab(context.Background())
			if !errors.Is(err, tt.want) {
				t.Errorf("NewTab() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestChrome_NewTab_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	c := newTestChrome(t, srv)
	srv.Close()

	_, err := c.NewTab(context.Background())
	if !errors.Is(err, fetcher.ErrEndpointUnavailable) {
		t.Errorf("NewTab() error = %v, want ErrEndpointUnavailable", err)
	}
	if fetcher.KindOf(err) != fetcher.KindEndpointUnavailable {
		t.Errorf("KindOf() = %q", fetcher.KindOf(err))
	}
}

func TestChrome_CloseTab(t *testing.T) {
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		if r.URL.Path == "/json/close/GONE" {
			http.Error(w, "No such target id: GONE", http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte("Target is closing"))
	}))
	defer srv.Close()
	c := newTestChrome(t, srv)

	if err := c.CloseTab(context.Background(), Target{ID: "ABC123"}); err != nil {
		t.Errorf("CloseTab() error = %v", err)
	}
	if path != "/json/close/ABC123" {
		t.Errorf("unexpected path %q", path)
	}

	if err := c.CloseTab(context.Background(), Target{ID: "GONE"}); err == nil {
		t.Error("CloseTab() should fail for unknown target")
	}
}

func TestChrome_HostPort(t *testing.T) {
	c := NewChrome("chrome", 9222)
	if c.Host() != "chrome" || c.Port() != 9222 {
		t.Errorf("unexpected endpoint %s:%d", c.Host(), c.Port())
	}
	if c.addr() != "chrome:9222" {
		t.Errorf("unexpected addr %q", c.addr())
	}
}
