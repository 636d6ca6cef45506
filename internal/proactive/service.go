// Package proactive lets the daemon speak without being asked: user timers
// whose expiry is narrated through the reasoning pipeline and spoken aloud.
// Unprompted announcements are throttled by a minimum gap so a burst of
// expiries cannot turn the assistant into a nag.
package proactive

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openvoiced/voiced/internal/config"
	"github.com/openvoiced/voiced/internal/fault"
)

// Thinker narrates an event and speaks the result; the reasoning coordinator
// satisfies this.
type Thinker interface {
	Think(ctx context.Context, prompt, target string, speak bool) (string, error)
}

// Timer is a pending spoken reminder.
type Timer struct {
	ID      string
	Message string
	FiresAt time.Time
}

// Service owns the timer table and the announcement loop.
type Service struct {
	cfg     config.ProactiveConfig
	log     *slog.Logger
	thinker Thinker

	now func() time.Time

	mu           sync.Mutex
	timers       []Timer
	lastAnnounce time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewService(cfg config.ProactiveConfig, thinker Thinker, log *slog.Logger) *Service {
	return &Service{
		cfg:     cfg,
		log:     log,
		thinker: thinker,
		now:     time.Now,
	}
}

func (s *Service) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.run()
	s.log.Info("proactive manager started",
		slog.Int("tick_ms", s.cfg.TickMS),
		slog.Int("min_gap_ms", s.cfg.MinGapMS))
	return nil
}

func (s *Service) Close() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Service) run() {
	defer s.wg.Done()
	ticker := time.NewTicker(time.Duration(s.cfg.TickMS) * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.fire(s.ctx)
		}
	}
}

// SetTimer schedules a spoken reminder after d.
func (s *Service) SetTimer(d time.Duration, message string) (Timer, error) {
	if d <= 0 {
		return Timer{}, fmt.Errorf("%w: timer duration must be positive", fault.ErrMalformedInput)
	}
	t := Timer{ID: uuid.NewString(), Message: message, FiresAt: s.now().Add(d)}
	s.mu.Lock()
	s.timers = append(s.timers, t)
	s.mu.Unlock()
	s.log.Info("timer set",
		slog.String("id", t.ID),
		slog.Time("fires_at", t.FiresAt))
	return t, nil
}

// CancelTimer removes a pending timer. Returns false when the id is unknown,
// including a timer that already fired.
func (s *Service) CancelTimer(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, t := range s.timers {
		if t.ID == id {
			s.timers = append(s.timers[:i], s.timers[i+1:]...)
			return true
		}
	}
	return false
}

// ListTimers returns pending timers ordered by expiry.
func (s *Service) ListTimers() []Timer {
	s.mu.Lock()
	out := append([]Timer(nil), s.timers...)
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].FiresAt.Before(out[j].FiresAt) })
	return out
}

// fire drains expired timers and announces each one, oldest first.
func (s *Service) fire(ctx context.Context) {
	now := s.now()
	s.mu.Lock()
	var due, remaining []Timer
	for _, t := range s.timers {
		if t.FiresAt.After(now) {
			remaining = append(remaining, t)
		} else {
			due = append(due, t)
		}
	}
	s.timers = remaining
	s.mu.Unlock()

	sort.Slice(due, func(i, j int) bool { return due[i].FiresAt.Before(due[j].FiresAt) })
	for _, t := range due {
		s.announce(ctx, fmt.Sprintf("Timer expired: %s. Alert the user.", t.Message))
	}
}

// announce runs one unprompted prompt through the reasoning pipeline. An
// announcement inside the minimum gap is dropped, not queued.
func (s *Service) announce(ctx context.Context, prompt string) {
	gap := time.Duration(s.cfg.MinGapMS) * time.Millisecond
	s.mu.Lock()
	if !s.lastAnnounce.IsZero() && s.now().Sub(s.lastAnnounce) < gap {
		s.mu.Unlock()
		s.log.Debug("announcement suppressed", slog.String("prompt", prompt))
		return
	}
	s.lastAnnounce = s.now()
	s.mu.Unlock()

	if _, err := s.thinker.Think(ctx, prompt, "", true); err != nil {
		s.log.Warn("announcement failed", slog.String("error", err.Error()))
	}
}
