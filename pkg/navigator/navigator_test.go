package navigator

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/jmylchreest/tabfetch/pkg/cdp"
	"github.com/jmylchreest/tabfetch/pkg/cdp/cdptest"
	"github.com/jmylchreest/tabfetch/pkg/fetcher"
)

// recorder is a Sleeper that returns immediately and remembers each wait.
type recorder struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (r *recorder) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.waits = append(r.waits, d)
	r.mu.Unlock()
	return ctx.Err()
}

func (r *recorder) got() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.waits...)
}

func newPage(t *testing.T, ep *cdptest.Endpoint) *cdptest.Conn {
	t.Helper()
	conn, err := ep.Attach(context.Background(), cdp.Target{ID: "TAB1"})
	if err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	return conn.(*cdptest.Conn)
}

var fixedTime = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func newEngine(rec *recorder, p Policy, opts ...Option) *Engine {
	opts = append([]Option{
		WithPolicy(p),
		WithSleeper(rec.sleep),
		WithClock(func() time.Time { return fixedTime }),
	}, opts...)
	return New(opts...)
}

func TestFetchOne_Success(t *testing.T) {
	ep := cdptest.NewEndpoint()
	ep.Pages["https://example.com"] = &cdptest.Page{
		Title:    "Example Domain",
		HTML:     "<html><body>hello</body></html>",
		FinalURL: "https://example.com/",
	}
	rec := &recorder{}
	e := newEngine(rec, SimplePolicy())

	req := fetcher.Request{URL: "https://example.com", Passthrough: map[string]any{"id": 7}}
	res := e.FetchOne(context.Background(), newPage(t, ep), req, true)

	s, ok := res.(*fetcher.Success)
	if !ok {
		t.Fatalf("expected success, got %#v", res)
	}
	if s.Title != "Example Domain" || s.FinalURL != "https://example.com/" || s.OriginalURL != "https://example.com" {
		t.Errorf("unexpected success %+v", s)
	}
	if !reflect.DeepEqual(s.Passthrough, req.Passthrough) {
		t.Errorf("passthrough = %v", s.Passthrough)
	}
	if !s.FirstVisit || s.StillChallenged {
		t.Errorf("FirstVisit=%v StillChallenged=%v", s.FirstVisit, s.StillChallenged)
	}
	if !s.FetchedAt.Equal(fixedTime) {
		t.Errorf("FetchedAt = %v", s.FetchedAt)
	}
	if got := rec.got(); !reflect.DeepEqual(got, []time.Duration{3 * time.Second}) {
		t.Errorf("waits = %v, want [3s]", got)
	}
}

func TestFetchOne_SettleWaits(t *testing.T) {
	tests := []struct {
		name       string
		policy     Policy
		notReady   bool
		firstVisit bool
		want       []time.Duration
	}{
		{
			name:       "first_visit",
			policy:     SimplePolicy(),
			firstVisit: true,
			want:       []time.Duration{3 * time.Second},
		},
		{
			name:   "repeat_visit",
			policy: SimplePolicy(),
			want:   []time.Duration{500 * time.Millisecond},
		},
		{
			name:     "repeat_visit_not_ready",
			policy:   SimplePolicy(),
			notReady: true,
			want:     []time.Duration{500 * time.Millisecond, time.Second},
		},
		{
			name:       "first_visit_not_ready_no_extra_wait",
			policy:     SimplePolicy(),
			notReady:   true,
			firstVisit: true,
			want:       []time.Duration{3 * time.Second},
		},
		{
			name: "ready_check_disabled",
			policy: func() Policy {
				p := SimplePolicy()
				p.CheckReady = false
				return p
			}(),
			notReady: true,
			want:     []time.Duration{500 * time.Millisecond},
		},
		{
			name:       "stealth_first_visit_scrolls",
			policy:     StealthPolicy(),
			firstVisit: true,
			want:       []time.Duration{15 * time.Second, time.Second},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ep := cdptest.NewEndpoint()
			ep.DefaultPage.NotReady = tt.notReady
			rec := &recorder{}

			res := newEngine(rec, tt.policy).FetchOne(context.Background(), newPage(t, ep),
				fetcher.Request{URL: "https://example.com/a"}, tt.firstVisit)

			if !fetcher.IsSuccess(res) {
				t.Fatalf("expected success, got %#v", res)
			}
			if got := rec.got(); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("waits = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFetchOne_ChallengeStillPresent(t *testing.T) {
	ep := cdptest.NewEndpoint()
	ep.DefaultPage = &cdptest.Page{
		Title: "Just a moment...",
		HTML:  `<html><body><div id="challenge-stage"></div></body></html>`,
	}
	rec := &recorder{}
	conn := newPage(t, ep)

	res := newEngine(rec, StealthPolicy()).FetchOne(context.Background(), conn,
		fetcher.Request{URL: "https://protected.example"}, true)

	s, ok := res.(*fetcher.Success)
	if !ok {
		t.Fatalf("expected success, got %#v", res)
	}
	if !s.StillChallenged || s.Challenge != "cloudflare" {
		t.Errorf("StillChallenged=%v Challenge=%q", s.StillChallenged, s.Challenge)
	}
	// Settle, scroll pause, one challenge wait, then a second scroll pause
	// before the page is captured again.
	want := []time.Duration{15 * time.Second, time.Second, 10 * time.Second, time.Second}
	if got := rec.got(); !reflect.DeepEqual(got, want) {
		t.Errorf("waits = %v, want %v", got, want)
	}
	if n := len(conn.Navigations()); n != 1 {
		t.Errorf("navigations = %d, want 1", n)
	}
}

// exprLog is a Page that remembers every evaluated expression.
type exprLog struct {
	Page
	mu    sync.Mutex
	exprs []string
}

func (l *exprLog) Evaluate(ctx context.Context, expression string, out any) error {
	l.mu.Lock()
	l.exprs = append(l.exprs, expression)
	l.mu.Unlock()
	return l.Page.Evaluate(ctx, expression, out)
}

func TestFetchOne_ChallengeRetryScrollsBeforeCapture(t *testing.T) {
	tests := []struct {
		name        string
		policy      Policy
		wantScrolls int
	}{
		{name: "stealth_scrolls_again", policy: StealthPolicy(), wantScrolls: 2},
		{name: "no_scroll_policy", policy: func() Policy { p := StealthPolicy(); p.Scroll = false; return p }(), wantScrolls: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ep := cdptest.NewEndpoint()
			ep.DefaultPage = &cdptest.Page{Title: "Just a moment...", HTML: "<html></html>"}
			page := &exprLog{Page: newPage(t, ep)}

			newEngine(&recorder{}, tt.policy).FetchOne(context.Background(), page,
				fetcher.Request{URL: "https://protected.example"}, true)

			var scrolls, captures int
			for _, e := range page.exprs {
				switch e {
				case cdp.ExprScrollBy:
					scrolls++
					if scrolls == 2 && captures != 1 {
						t.Errorf("second scroll after %d captures, want 1", captures)
					}
				case cdp.ExprOuterHTML:
					captures++
					if captures == 2 && tt.wantScrolls > 0 && scrolls != 2 {
						t.Errorf("re-capture after %d scrolls, want 2", scrolls)
					}
				}
			}
			if scrolls != tt.wantScrolls {
				t.Errorf("scrolls = %d, want %d", scrolls, tt.wantScrolls)
			}
			if captures != 2 {
				t.Errorf("captures = %d, want 2", captures)
			}
		})
	}
}

func TestFetchOne_ChallengeClears(t *testing.T) {
	ep := cdptest.NewEndpoint()
	ep.DefaultPage = &cdptest.Page{
		Title:        "Attention Required! | Cloudflare",
		HTML:         "<html><body>checking</body></html>",
		ResolveAfter: 1,
		Resolved:     &cdptest.Page{Title: "Fixtures", HTML: "<html><body>table</body></html>"},
	}
	rec := &recorder{}

	res := newEngine(rec, StealthPolicy()).FetchOne(context.Background(), newPage(t, ep),
		fetcher.Request{URL: "https://protected.example"}, true)

	s, ok := res.(*fetcher.Success)
	if !ok {
		t.Fatalf("expected success, got %#v", res)
	}
	if s.StillChallenged || s.Title != "Fixtures" {
		t.Errorf("expected cleared page, got title %q challenged=%v", s.Title, s.StillChallenged)
	}
}

func TestFetchOne_SimplePolicyDoesNotRetryChallenge(t *testing.T) {
	ep := cdptest.NewEndpoint()
	ep.DefaultPage = &cdptest.Page{Title: "Just a moment...", HTML: "<html></html>"}
	rec := &recorder{}

	res := newEngine(rec, SimplePolicy()).FetchOne(context.Background(), newPage(t, ep),
		fetcher.Request{URL: "https://protected.example"}, false)

	s := res.(*fetcher.Success)
	if !s.StillChallenged {
		t.Error("expected challenge flag")
	}
	if got := rec.got(); !reflect.DeepEqual(got, []time.Duration{500 * time.Millisecond}) {
		t.Errorf("waits = %v", got)
	}
}

func TestFetchOne_Failures(t *testing.T) {
	tests := []struct {
		name string
		page *cdptest.Page
		want fetcher.Kind
	}{
		{
			name: "navigation_error",
			page: &cdptest.Page{NavigateErr: errors.New("net::ERR_NAME_NOT_RESOLVED")},
			want: fetcher.KindNavigationFailed,
		},
		{
			name: "navigation_timeout",
			page: &cdptest.Page{NavigateErr: context.DeadlineExceeded},
			want: fetcher.KindNavigationTimeout,
		},
		{
			name: "evaluation_error",
			page: &cdptest.Page{EvaluateErr: errors.New("Uncaught TypeError")},
			want: fetcher.KindEvaluationFailed,
		},
		{
			name: "connection_dropped",
			page: &cdptest.Page{EvaluateErr: fetcher.ErrConnectionDropped},
			want: fetcher.KindConnectionDropped,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ep := cdptest.NewEndpoint()
			ep.DefaultPage = tt.page
			rec := &recorder{}

			req := fetcher.Request{URL: "https://broken.example", Passthrough: "p"}
			res := newEngine(rec, SimplePolicy()).FetchOne(context.Background(), newPage(t, ep), req, true)

			f, ok := res.(*fetcher.Failure)
			if !ok {
				t.Fatalf("expected failure, got %#v", res)
			}
			if f.Kind() != tt.want {
				t.Errorf("Kind() = %q, want %q (err: %v)", f.Kind(), tt.want, f.Err)
			}
			if f.OriginalURL != req.URL || f.Passthrough != "p" {
				t.Errorf("failure lost request identity: %+v", f)
			}
		})
	}
}

func TestFetchOne_Canceled(t *testing.T) {
	ep := cdptest.NewEndpoint()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := newEngine(&recorder{}, SimplePolicy()).FetchOne(ctx, newPage(t, ep),
		fetcher.Request{URL: "https://example.com"}, true)

	f, ok := res.(*fetcher.Failure)
	if !ok {
		t.Fatalf("expected failure, got %#v", res)
	}
	if !errors.Is(f, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", f.Err)
	}
}

func TestFetchOne_TextExtraction(t *testing.T) {
	ep := cdptest.NewEndpoint()
	ep.DefaultPage = &cdptest.Page{
		Title:    "Fixtures",
		FinalURL: "https://league.example/fixtures/",
		HTML: `<html><body>
			<h1>Today</h1>  <script>var x = 1;</script>
			<a href="/match/1">Match 1</a>
			<a href="https://other.example/">Other</a>
			<a href="#top">Top</a>
			<a href="/match/1">Again</a>
		</body></html>`,
	}

	res := newEngine(&recorder{}, SimplePolicy(), WithTextExtraction(true)).FetchOne(
		context.Background(), newPage(t, ep), fetcher.Request{URL: "https://league.example/fixtures"}, true)

	s := res.(*fetcher.Success)
	if s.Text != "Today Match 1 Other Top Again" {
		t.Errorf("Text = %q", s.Text)
	}
	want := []string{"https://league.example/match/1", "https://other.example/"}
	if !reflect.DeepEqual(s.Links, want) {
		t.Errorf("Links = %v, want %v", s.Links, want)
	}
}

func TestPolicyFor(t *testing.T) {
	if p, err := PolicyFor("stealth"); err != nil || p.FirstVisitWait != 15*time.Second || p.ChallengeRetries != 1 {
		t.Errorf("PolicyFor(stealth) = %+v, %v", p, err)
	}
	if p, err := PolicyFor(""); err != nil || p.FirstVisitWait != 3*time.Second {
		t.Errorf("PolicyFor(\"\") = %+v, %v", p, err)
	}
	if _, err := PolicyFor("turbo"); err == nil {
		t.Error("expected error for unknown mode")
	}
}

func TestSleepContext(t *testing.T) {
	if err := SleepContext(context.Background(), time.Millisecond); err != nil {
		t.Errorf("SleepContext() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	if err := SleepContext(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("SleepContext() error = %v, want context.Canceled", err)
	}
	if time.Since(start) > time.Second {
		t.Error("SleepContext should return promptly on cancellation")
	}
}
