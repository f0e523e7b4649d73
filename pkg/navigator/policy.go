package navigator

import (
	"context"
	"fmt"
	"time"
)

// Policy controls how long the engine lets a page settle.
type Policy struct {
	// NavigationTimeout bounds the wait for the load event.
	NavigationTimeout time.Duration

	// FirstVisitWait applies to the first URL of a host in a batch, when
	// cookie banners and bot challenges are most likely.
	FirstVisitWait time.Duration
	// RepeatWait applies to later URLs of an already visited host.
	RepeatWait time.Duration

	// CheckReady re-checks document.readyState after the settle wait. A
	// repeat visit that is not yet complete gets one extra NotReadyWait.
	CheckReady   bool
	NotReadyWait time.Duration

	// Scroll nudges the page down once and pauses, like a reader would.
	Scroll      bool
	ScrollPause time.Duration

	// ChallengeRetries is how many times a page that still looks like a
	// challenge is waited on for ChallengeWait and captured again.
	ChallengeRetries int
	ChallengeWait    time.Duration
}

// Preset names accepted by PolicyFor.
const (
	ModeSimple  = "simple"
	ModeStealth = "stealth"
)

// SimplePolicy is tuned for ordinary sites: short waits, a readiness
// re-check and no challenge retry.
func SimplePolicy() Policy {
	return Policy{
		NavigationTimeout: 30 * time.Second,
		FirstVisitWait:    3 * time.Second,
		RepeatWait:        500 * time.Millisecond,
		CheckReady:        true,
		NotReadyWait:      time.Second,
		ChallengeWait:     10 * time.Second,
	}
}

// StealthPolicy gives Cloudflare-style interstitials time to clear on
// their own: a long first wait, a scroll, and one more wait when the page
// still looks challenged.
func StealthPolicy() Policy {
	return Policy{
		NavigationTimeout: 30 * time.Second,
		FirstVisitWait:    15 * time.Second,
		RepeatWait:        500 * time.Millisecond,
		CheckReady:        true,
		NotReadyWait:      time.Second,
		Scroll:            true,
		ScrollPause:       time.Second,
		ChallengeRetries:  1,
		ChallengeWait:     10 * time.Second,
	}
}

// PolicyFor returns the preset for mode.
func PolicyFor(mode string) (Policy, error) {
	switch mode {
	case ModeSimple, "":
		return SimplePolicy(), nil
	case ModeStealth:
		return StealthPolicy(), nil
	default:
		return Policy{}, fmt.Errorf("unknown mode %q (want %s or %s)", mode, ModeSimple, ModeStealth)
	}
}

// SettleWait returns the wait applied right after the load event.
func (p Policy) SettleWait(firstVisit bool) time.Duration {
	if firstVisit {
		return p.FirstVisitWait
	}
	return p.RepeatWait
}

// Sleeper waits for d or until ctx is done, returning ctx.Err() in the
// latter case.
type Sleeper func(ctx context.Context, d time.Duration) error

// SleepContext is the real-time Sleeper.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
