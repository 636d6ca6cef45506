// Package input implements the audio input actor: microphone capture,
// energy-based endpoint detection and speech recognition. The microphone is
// exclusive; a second Listen while one is in flight is rejected immediately
// rather than queued, because queued capture would record the wrong moment.
package input

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/openvoiced/voiced/internal/config"
	"github.com/openvoiced/voiced/internal/fault"
)

// Transcript is the result of a completed capture.
type Transcript struct {
	Text       string
	DurationMS int64
	TimedOut   bool
}

// Service is the audio input actor.
type Service struct {
	cfg    config.InputConfig
	log    *slog.Logger
	source CaptureSource
	rec    Recognizer

	busy atomic.Bool
}

func NewService(cfg config.InputConfig, log *slog.Logger) (*Service, error) {
	source, err := newCaptureSource(cfg, log)
	if err != nil {
		return nil, err
	}
	rec, err := newRecognizer(cfg, log)
	if err != nil {
		return nil, err
	}
	return &Service{cfg: cfg, log: log, source: source, rec: rec}, nil
}

func (s *Service) Healthy() bool {
	return s.rec.Healthy()
}

// Busy reports whether a capture session is in flight.
func (s *Service) Busy() bool {
	return s.busy.Load()
}

// defaultParams fills zero request fields from configuration.
func (s *Service) defaultParams(p VADParams) VADParams {
	out := VADParams{
		FrameDurationMS:   s.cfg.FrameDurationMS,
		SpeechThreshold:   s.cfg.SpeechThreshold,
		SilenceThreshold:  s.cfg.SilenceThreshold,
		SilenceDurationMS: s.cfg.SilenceDurationMS,
		MaxDurationMS:     s.cfg.MaxDurationMS,
	}
	if p.SpeechThreshold > 0 {
		out.SpeechThreshold = p.SpeechThreshold
	}
	if p.SilenceThreshold > 0 {
		out.SilenceThreshold = p.SilenceThreshold
	}
	if p.SilenceDurationMS > 0 {
		out.SilenceDurationMS = p.SilenceDurationMS
	}
	if p.MaxDurationMS > 0 {
		out.MaxDurationMS = p.MaxDurationMS
	}
	return out
}

// ListenFor captures a fixed duration with no endpoint detection and
// transcribes everything heard. Shares the exclusive capture slot with
// Listen.
func (s *Service) ListenFor(ctx context.Context, durationMS int) (Transcript, error) {
	if durationMS <= 0 || durationMS > s.cfg.MaxDurationMS {
		return Transcript{}, fmt.Errorf("%w: duration must be in (0, %d] ms",
			fault.ErrMalformedInput, s.cfg.MaxDurationMS)
	}
	if !s.busy.CompareAndSwap(false, true) {
		return Transcript{}, fmt.Errorf("%w: a capture session is already in progress", fault.ErrCaptureBusy)
	}
	defer s.busy.Store(false)

	captureCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	frameSize := s.cfg.SampleRate * s.cfg.FrameDurationMS / 1000
	frames, err := s.source.Frames(captureCtx, frameSize)
	if err != nil {
		return Transcript{}, err
	}

	start := time.Now()
	var captured []int16
	elapsedMS := 0
	for elapsedMS < durationMS {
		select {
		case <-ctx.Done():
			return Transcript{}, ctx.Err()
		case frame, ok := <-frames:
			if !ok {
				elapsedMS = durationMS
				break
			}
			captured = append(captured, frame...)
			elapsedMS += s.cfg.FrameDurationMS
		}
	}
	cancel()

	if len(captured) == 0 {
		return Transcript{DurationMS: time.Since(start).Milliseconds()},
			fmt.Errorf("%w: capture source produced no audio", fault.ErrNoSpeechDetected)
	}
	text, err := s.rec.Transcribe(ctx, captured, s.cfg.SampleRate)
	if err != nil {
		return Transcript{}, err
	}
	return Transcript{Text: text, DurationMS: time.Since(start).Milliseconds()}, nil
}

// Listen captures one utterance and transcribes it. Only one session may run
// at a time; concurrent callers get ErrCaptureBusy.
func (s *Service) Listen(ctx context.Context, params VADParams) (Transcript, error) {
	if !s.busy.CompareAndSwap(false, true) {
		return Transcript{}, fmt.Errorf("%w: a capture session is already in progress", fault.ErrCaptureBusy)
	}
	defer s.busy.Store(false)

	p := s.defaultParams(params)
	if p.SilenceThreshold > p.SpeechThreshold {
		return Transcript{}, fmt.Errorf("%w: silence threshold %d exceeds speech threshold %d",
			fault.ErrMalformedInput, p.SilenceThreshold, p.SpeechThreshold)
	}

	captureCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	frameSize := s.cfg.SampleRate * p.FrameDurationMS / 1000
	frames, err := s.source.Frames(captureCtx, frameSize)
	if err != nil {
		return Transcript{}, err
	}

	start := time.Now()
	det := NewDetector(p)
	decision := DecisionContinue

capture:
	for decision == DecisionContinue {
		select {
		case <-ctx.Done():
			return Transcript{}, ctx.Err()
		case frame, ok := <-frames:
			if !ok {
				break capture
			}
			decision = det.Feed(frame)
		}
	}
	cancel() // stop the microphone before the recognizer runs

	if decision == DecisionTimedOut || !det.SpeechDetected() {
		s.log.Info("capture ended without speech",
			slog.Int("elapsed_ms", det.ElapsedMS()))
		return Transcript{DurationMS: time.Since(start).Milliseconds(), TimedOut: true},
			fmt.Errorf("%w: heard nothing above threshold %d", fault.ErrNoSpeechDetected, p.SpeechThreshold)
	}

	text, err := s.rec.Transcribe(ctx, det.Captured(), s.cfg.SampleRate)
	if err != nil {
		return Transcript{}, err
	}
	s.log.Info("utterance transcribed",
		slog.Int("captured_ms", det.ElapsedMS()),
		slog.Int("chars", len(text)))
	return Transcript{
		Text:       text,
		DurationMS: time.Since(start).Milliseconds(),
		TimedOut:   decision == DecisionDone && det.ElapsedMS() >= p.MaxDurationMS,
	}, nil
}
