package session

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/jmylchreest/tabfetch/pkg/cdp/cdptest"
	"github.com/jmylchreest/tabfetch/pkg/fetcher"
)

func TestOpen(t *testing.T) {
	ep := cdptest.NewEndpoint()

	h, err := Open(context.Background(), ep)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer h.Close()

	if h.TabID() != "TAB1" {
		t.Errorf("TabID() = %q", h.TabID())
	}
	if h.State() != StateOpen {
		t.Errorf("State() = %v", h.State())
	}
	if h.Host() != "chrome" || h.Port() != 9222 {
		t.Errorf("unexpected endpoint %s:%d", h.Host(), h.Port())
	}
	conns := ep.Conns()
	if len(conns) != 1 || len(conns[0].Steps) != 1 || conns[0].Steps[0] != "EnableDomains" {
		t.Errorf("expected domains enabled once, got %+v", conns)
	}
}

func TestOpen_Failures(t *testing.T) {
	tests := []struct {
		name        string
		setup       func(*cdptest.Endpoint)
		wantErr     error
		wantCreated int
		wantClosed  int
	}{
		{
			name: "endpoint_unreachable",
			setup: func(ep *cdptest.Endpoint) {
				ep.NewTabErr = fetcher.ErrEndpointUnavailable
			},
			wantErr: fetcher.ErrEndpointUnavailable,
		},
		{
			name: "tab_refused",
			setup: func(ep *cdptest.Endpoint) {
				ep.NewTabErr = fetcher.ErrTabCreationFailed
			},
			wantErr: fetcher.ErrTabCreationFailed,
		},
		{
			name: "attach_fails_releases_tab",
			setup: func(ep *cdptest.Endpoint) {
				ep.AttachErr = fetcher.ErrEndpointUnavailable
			},
			wantErr:     fetcher.ErrEndpointUnavailable,
			wantCreated: 1,
			wantClosed:  1,
		},
		{
			name: "enable_fails_releases_tab",
			setup: func(ep *cdptest.Endpoint) {
				ep.StepErr = map[string]error{"EnableDomains": fetcher.ErrConnectionDropped}
			},
			wantErr:     fetcher.ErrConnectionDropped,
			wantCreated: 1,
			wantClosed:  1,
		},
		{
			name: "enable_protocol_error_is_endpoint_unavailable",
			setup: func(ep *cdptest.Endpoint) {
				ep.StepErr = map[string]error{"EnableDomains": errors.New("Page.enable: method not found")}
			},
			wantErr:     fetcher.ErrEndpointUnavailable,
			wantCreated: 1,
			wantClosed:  1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ep := cdptest.NewEndpoint()
			tt.setup(ep)

			h, err := Open(context.Background(), ep)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Open() error = %v, want %v", err, tt.wantErr)
			}
			if got, want := fetcher.KindOf(err), fetcher.KindOf(tt.wantErr); got != want {
				t.Errorf("KindOf() = %q, want %q", got, want)
			}
			if h != nil {
				t.Error("expected nil handle on failure")
			}
			if got := len(ep.TabsCreated()); got != tt.wantCreated {
				t.Errorf("tabs created = %d, want %d", got, tt.wantCreated)
			}
			if got := len(ep.TabsClosed()); got != tt.wantClosed {
				t.Errorf("tabs closed = %d, want %d", got, tt.wantClosed)
			}
		})
	}
}

func TestClose_Idempotent(t *testing.T) {
	ep := cdptest.NewEndpoint()
	h, err := Open(context.Background(), ep)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	h.Close()
	h.Close()
	h.Close()

	if h.State() != StateClosed {
		t.Errorf("State() = %v, want closed", h.State())
	}
	if got := ep.Conns()[0].CloseCalls(); got != 1 {
		t.Errorf("connection closed %d times, want 1", got)
	}
	if got := ep.TabsClosed(); !reflect.DeepEqual(got, []string{"TAB1"}) {
		t.Errorf("tabs closed = %v", got)
	}

	// Connection is closed before the tab is released.
	want := []string{"new_tab:TAB1", "attach:TAB1", "close_conn:TAB1", "close_tab:TAB1"}
	if got := ep.Events(); !reflect.DeepEqual(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}
}

func TestClose_SwallowsTeardownErrors(t *testing.T) {
	ep := cdptest.NewEndpoint()
	ep.CloseTabErr = errors.New("no such target")
	ep.StepErr = map[string]error{"Close": errors.New("socket already gone")}

	h, err := Open(context.Background(), ep)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	h.Close()

	if h.State() != StateClosed {
		t.Errorf("State() = %v, want closed", h.State())
	}
	if got := ep.Events(); got[len(got)-1] != "close_tab:TAB1" {
		t.Errorf("tab release should still be attempted, events = %v", got)
	}
}

func TestClose_AfterContextCanceled(t *testing.T) {
	ep := cdptest.NewEndpoint()
	ctx, cancel := context.WithCancel(context.Background())
	h, err := Open(ctx, ep)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	cancel()
	h.Close()

	if len(ep.TabsClosed()) != 1 {
		t.Error("tab should be released after the caller's context is canceled")
	}
}

func TestClosedHandle_RejectsPageOperations(t *testing.T) {
	ep := cdptest.NewEndpoint()
	h, err := Open(context.Background(), ep)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	h.Close()
	ctx := context.Background()

	var title string
	ops := map[string]error{
		"Navigate":      h.Navigate(ctx, "https://example.com"),
		"Evaluate":      h.Evaluate(ctx, "document.title", &title),
		"UserAgent":     h.SetUserAgentOverride(ctx, "ua", "", ""),
		"ExtraHeaders":  h.SetExtraHTTPHeaders(ctx, map[string]string{"DNT": "1"}),
		"DeviceMetrics": h.SetDeviceMetricsOverride(ctx, ep.Conns()[0].Viewport),
	}
	_, ops["AddScript"] = h.AddScriptToEvaluateOnNewDocument(ctx, "1")
	_, ops["Screenshot"] = h.Screenshot(ctx, "<p>x</p>", 800, 1)

	for name, err := range ops {
		if !errors.Is(err, ErrClosed) {
			t.Errorf("%s error = %v, want ErrClosed", name, err)
		}
	}
	if n := len(ep.Navigations()); n != 0 {
		t.Errorf("closed handle reached the endpoint %d times", n)
	}
}

func TestScreenshot_FitsViewport(t *testing.T) {
	ep := cdptest.NewEndpoint()
	h, err := Open(context.Background(), ep)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer h.Close()

	markup := "<html><body>" + string(make([]byte, 5000)) + "</body></html>"
	png, err := h.Screenshot(context.Background(), markup, 800, 2.5)
	if err != nil {
		t.Fatalf("Screenshot() error = %v", err)
	}
	if len(png) == 0 {
		t.Fatal("expected image bytes")
	}

	conn := ep.Conns()[0]
	if conn.Document != markup {
		t.Error("markup was not rendered into the tab")
	}
	// The fake reports 600 + len(markup)/10 as the content height.
	wantHeight := int64(600 + len(markup)/10)
	if conn.Viewport.Width != 800 || conn.Viewport.Height != wantHeight || conn.Viewport.ScaleFactor != 2.5 {
		t.Errorf("viewport = %+v, want 800x%d@2.5", conn.Viewport, wantHeight)
	}
}

func TestScreenshot_InvalidWidth(t *testing.T) {
	h, err := Open(context.Background(), cdptest.NewEndpoint())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer h.Close()

	if _, err := h.Screenshot(context.Background(), "<p/>", 0, 1); err == nil {
		t.Error("expected error for zero width")
	}
}

func TestState_String(t *testing.T) {
	if StateOpen.String() != "open" || StateClosed.String() != "closed" {
		t.Error("unexpected state names")
	}
}
