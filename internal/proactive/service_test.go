package proactive

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/openvoiced/voiced/internal/config"
	"github.com/openvoiced/voiced/internal/fault"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeClock lets tests advance time deterministically.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingThinker struct {
	mu      sync.Mutex
	prompts []string
}

func (r *recordingThinker) Think(ctx context.Context, prompt, target string, speak bool) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prompts = append(r.prompts, prompt)
	return "ok", nil
}

func (r *recordingThinker) Prompts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.prompts...)
}

func newTestService(t *testing.T) (*Service, *recordingThinker, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	th := &recordingThinker{}
	svc := NewService(config.Default().Proactive, th, testLogger())
	svc.now = clock.Now
	return svc, th, clock
}

func TestTimerFiresAndAnnounces(t *testing.T) {
	svc, th, clock := newTestService(t)

	if _, err := svc.SetTimer(5*time.Second, "the pasta is done"); err != nil {
		t.Fatalf("SetTimer: %v", err)
	}

	svc.fire(context.Background())
	if got := th.Prompts(); len(got) != 0 {
		t.Fatalf("timer fired before its deadline: %v", got)
	}

	clock.Advance(5 * time.Second)
	svc.fire(context.Background())

	got := th.Prompts()
	if len(got) != 1 {
		t.Fatalf("expected 1 announcement, got %d", len(got))
	}
	if !strings.Contains(got[0], "the pasta is done") {
		t.Errorf("announcement lost the timer message: %q", got[0])
	}
	if len(svc.ListTimers()) != 0 {
		t.Error("fired timer still pending")
	}
}

func TestAnnouncementGapSuppressesBursts(t *testing.T) {
	svc, th, clock := newTestService(t)

	svc.SetTimer(time.Second, "first")
	svc.SetTimer(2*time.Second, "second")

	clock.Advance(3 * time.Second)
	svc.fire(context.Background())

	// Both timers are due but only the oldest speaks inside the gap.
	if got := th.Prompts(); len(got) != 1 || !strings.Contains(got[0], "first") {
		t.Fatalf("expected only the first announcement, got %v", got)
	}

	clock.Advance(31 * time.Second)
	svc.announce(context.Background(), "later event")
	if got := th.Prompts(); len(got) != 2 {
		t.Fatalf("announcement past the gap was suppressed: %v", got)
	}
}

func TestCancelTimer(t *testing.T) {
	svc, th, clock := newTestService(t)

	timer, err := svc.SetTimer(time.Second, "stand up")
	if err != nil {
		t.Fatalf("SetTimer: %v", err)
	}
	if !svc.CancelTimer(timer.ID) {
		t.Fatal("cancel of a pending timer failed")
	}
	if svc.CancelTimer(timer.ID) {
		t.Fatal("second cancel of the same timer succeeded")
	}

	clock.Advance(2 * time.Second)
	svc.fire(context.Background())
	if got := th.Prompts(); len(got) != 0 {
		t.Errorf("cancelled timer still announced: %v", got)
	}
}

func TestListTimersOrderedByExpiry(t *testing.T) {
	svc, _, _ := newTestService(t)

	svc.SetTimer(10*time.Second, "later")
	svc.SetTimer(time.Second, "sooner")

	timers := svc.ListTimers()
	if len(timers) != 2 {
		t.Fatalf("expected 2 timers, got %d", len(timers))
	}
	if timers[0].Message != "sooner" || timers[1].Message != "later" {
		t.Errorf("timers out of expiry order: %+v", timers)
	}
}

func TestSetTimerRejectsNonPositiveDuration(t *testing.T) {
	svc, _, _ := newTestService(t)
	if _, err := svc.SetTimer(0, "now"); !errors.Is(err, fault.ErrMalformedInput) {
		t.Fatalf("expected ErrMalformedInput, got %v", err)
	}
}
