package governor

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/openvoiced/voiced/internal/config"
	"github.com/openvoiced/voiced/internal/fault"
)

// OpClass partitions rate limits by the kind of work a request performs.
type OpClass string

const (
	OpSpeak    OpClass = "speak"
	OpListen   OpClass = "listen"
	OpPlayback OpClass = "playback"
	OpReason   OpClass = "reason"
)

type bucket struct {
	// timestamps of admitted requests, oldest first, all within the window
	admitted []time.Time
	lastSeen time.Time
}

// RateLimiter admits at most N requests per sliding window for each
// (caller, operation class) pair. A rejected request is never recorded, so
// rejection does not extend the caller's penalty.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket

	window time.Duration
	limits map[OpClass]int

	staleAfter time.Duration
	now        func() time.Time
	log        *slog.Logger
}

func NewRateLimiter(cfg config.GovernorConfig, log *slog.Logger) *RateLimiter {
	window := time.Duration(cfg.WindowMS) * time.Millisecond
	return &RateLimiter{
		buckets: make(map[string]*bucket),
		window:  window,
		limits: map[OpClass]int{
			OpSpeak:    cfg.SpeakLimit,
			OpListen:   cfg.ListenLimit,
			OpPlayback: cfg.PlaybackLimit,
			OpReason:   cfg.ReasonLimit,
		},
		staleAfter: time.Duration(cfg.StaleAfterWindows) * window,
		now:        time.Now,
		log:        log,
	}
}

// Admit records and admits the request, or returns ErrRateLimited with the
// time until the oldest admission leaves the window.
func (r *RateLimiter) Admit(callerID string, op OpClass) error {
	limit, ok := r.limits[op]
	if !ok {
		return fmt.Errorf("%w: unknown operation class %q", fault.ErrMalformedInput, op)
	}

	now := r.now()
	key := callerID + "/" + string(op)

	r.mu.Lock()
	defer r.mu.Unlock()

	b := r.buckets[key]
	if b == nil {
		b = &bucket{}
		r.buckets[key] = b
	}
	b.lastSeen = now

	// Drop admissions that have aged out of the window.
	cutoff := now.Add(-r.window)
	kept := b.admitted[:0]
	for _, t := range b.admitted {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	b.admitted = kept

	if len(b.admitted) >= limit {
		retryIn := r.window
		if len(b.admitted) > 0 {
			retryIn = b.admitted[0].Sub(cutoff)
		}
		r.log.Warn("rate limit exceeded",
			slog.String("caller", callerID),
			slog.String("op", string(op)),
			slog.Int("limit", limit),
			slog.Duration("retry_in", retryIn))
		return fmt.Errorf("%w: %s limit of %d per %s reached, retry in %s",
			fault.ErrRateLimited, op, limit, r.window, retryIn.Round(time.Millisecond))
	}

	b.admitted = append(b.admitted, now)
	return nil
}

// Sweep removes buckets with no activity for the stale horizon. Run
// periodically so one-shot callers do not accumulate state forever.
func (r *RateLimiter) Sweep() int {
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for key, b := range r.buckets {
		if now.Sub(b.lastSeen) > r.staleAfter {
			delete(r.buckets, key)
			removed++
		}
	}
	if removed > 0 {
		r.log.Debug("swept stale rate limit buckets", slog.Int("removed", removed))
	}
	return removed
}

func (r *RateLimiter) bucketCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buckets)
}
