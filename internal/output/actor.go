// Package output implements the audio output actor: text synthesis, spatial
// playback across channel targets, device switching and remote media
// playback. Each channel target runs its own FIFO worker so playback on one
// target never blocks another.
package output

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/openvoiced/voiced/internal/config"
	"github.com/openvoiced/voiced/internal/fault"
	"github.com/openvoiced/voiced/internal/governor"
)

const queueDepth = 32

type job struct {
	clip   *Clip
	gainL  float64
	gainR  float64
	res    *governor.Reservation
	done   chan error
	cancel context.CancelFunc
}

type targetQueue struct {
	jobs chan *job

	mu      sync.Mutex
	current context.CancelFunc
	playing bool
}

// Service is the audio output actor.
type Service struct {
	cfg    config.OutputConfig
	log    *slog.Logger
	synth  Synthesizer
	player Player
	sinks  SinkController
	gov    *governor.Governor
	dl     *downloader

	queues map[ChannelTarget]*targetQueue

	// serializes SpeakToDevice so default-sink switch and restore pair up
	deviceMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewService(cfg config.OutputConfig, gov *governor.Governor, log *slog.Logger) (*Service, error) {
	synth, err := newSynthesizer(cfg, log)
	if err != nil {
		return nil, err
	}
	sinks, err := newSinkController(cfg, log)
	if err != nil {
		return nil, err
	}
	var player Player
	if cfg.Mode == "mock" {
		player = &mockPlayer{}
	} else {
		player = &execPlayer{command: "pw-play"}
	}
	return &Service{
		cfg:    cfg,
		log:    log,
		synth:  synth,
		player: player,
		sinks:  sinks,
		gov:    gov,
		dl: newDownloader(int64(cfg.MaxDownloadMB)<<20,
			time.Duration(cfg.DownloadTimeoutMS)*time.Millisecond),
		queues: make(map[ChannelTarget]*targetQueue),
	}, nil
}

// Start launches one worker per channel target.
func (s *Service) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)
	for _, t := range AllTargets {
		q := &targetQueue{jobs: make(chan *job, queueDepth)}
		s.queues[t] = q
		s.wg.Add(1)
		go s.worker(t, q)
	}
	s.log.Info("audio output actor started",
		slog.String("mode", s.cfg.Mode),
		slog.Int("targets", len(s.queues)))
	return nil
}

func (s *Service) Close() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	for _, q := range s.queues {
		s.drain(q)
	}
}

func (s *Service) Healthy() bool {
	return s.synth.Healthy()
}

func (s *Service) worker(target ChannelTarget, q *targetQueue) {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case j := <-q.jobs:
			s.runJob(target, q, j)
		}
	}
}

func (s *Service) runJob(target ChannelTarget, q *targetQueue, j *job) {
	jobCtx, cancel := context.WithCancel(s.ctx)
	q.mu.Lock()
	q.current = cancel
	q.playing = true
	q.mu.Unlock()

	err := s.player.Play(jobCtx, j.clip, j.gainL, j.gainR)

	q.mu.Lock()
	q.current = nil
	q.playing = false
	q.mu.Unlock()
	cancel()
	j.res.Release()

	if err != nil && jobCtx.Err() == nil {
		s.log.Error("playback failed",
			slog.String("target", string(target)),
			slog.String("error", err.Error()))
	}
	if j.done != nil {
		j.done <- err
	}
}

// enqueue validates the target against the device and queues the clip.
func (s *Service) enqueue(clip *Clip, target ChannelTarget, res *governor.Reservation, blocking bool) error {
	spec, ok := target.spec(s.cfg.PhantomCenterGain)
	if !ok {
		res.Release()
		return fmt.Errorf("%w: unknown channel target %q", fault.ErrInvalidTarget, target)
	}
	if s.cfg.Channels < spec.minChannels {
		res.Release()
		return fmt.Errorf("%w: target %q needs %d output channels, device has %d",
			fault.ErrInvalidTarget, target, spec.minChannels, s.cfg.Channels)
	}

	j := &job{clip: clip, gainL: spec.gainL, gainR: spec.gainR, res: res}
	if blocking {
		j.done = make(chan error, 1)
	}

	q := s.queues[target]
	select {
	case q.jobs <- j:
	default:
		res.Release()
		return fmt.Errorf("%w: queue for target %q is full", fault.ErrResourceExhausted, target)
	}

	if !blocking {
		return nil
	}
	select {
	case err := <-j.done:
		return err
	case <-s.ctx.Done():
		return s.ctx.Err()
	}
}

// Speak synthesizes text and plays it on the target. When blocking is false
// the call returns once the clip is queued.
func (s *Service) Speak(ctx context.Context, text, targetName, voice string, blocking bool) error {
	target, err := ParseTarget(targetName)
	if err != nil {
		return err
	}
	if voice == "" {
		voice = s.cfg.DefaultVoice
	}

	clip, err := s.synth.Synthesize(ctx, text, voice)
	if err != nil {
		return err
	}
	res, err := s.gov.Reserve(clip.SizeBytes())
	if err != nil {
		return err
	}
	return s.enqueue(clip, target, res, blocking)
}

// SpeakToDevice switches the default sink, speaks on stereo, then restores
// the previous default even if playback fails.
func (s *Service) SpeakToDevice(ctx context.Context, text, sinkID, voice string) error {
	s.deviceMu.Lock()
	defer s.deviceMu.Unlock()

	previous, err := s.sinks.Default(ctx)
	if err != nil {
		return err
	}
	if err := s.sinks.SetDefault(ctx, sinkID); err != nil {
		return err
	}
	speakErr := s.Speak(ctx, text, string(TargetStereo), voice, true)
	if err := s.sinks.SetDefault(ctx, previous.ID); err != nil {
		s.log.Error("failed to restore default sink",
			slog.String("sink", previous.ID),
			slog.String("error", err.Error()))
	}
	return speakErr
}

// PlayAudio downloads remote audio in full, then plays it on the target. The
// declared Content-Length is reserved against the memory budget before the
// body is read; the download is rejected before playback if it exceeds the
// size ceiling. File bytes bound the decoded PCM bytes for 16-bit WAV, so the
// same reservation carries through playback.
func (s *Service) PlayAudio(ctx context.Context, rawURL, targetName string, blocking bool) error {
	target, err := ParseTarget(targetName)
	if err != nil {
		return err
	}
	body, res, err := s.dl.Fetch(ctx, rawURL, s.gov.Reserve)
	if err != nil {
		return err
	}
	clip, err := decodeWAV(body)
	if err != nil {
		if res != nil {
			res.Release()
		}
		return err
	}
	if res == nil {
		// Chunked response with no declared length.
		res, err = s.gov.Reserve(clip.SizeBytes())
		if err != nil {
			return err
		}
	}
	return s.enqueue(clip, target, res, blocking)
}

// StopAudio interrupts playback on the target and flushes its queue. An
// empty target stops everything. Returns true only if something was actually
// playing or queued.
func (s *Service) StopAudio(targetName string) (bool, error) {
	if targetName == "" {
		stopped := false
		for _, t := range AllTargets {
			if s.stopTarget(t) {
				stopped = true
			}
		}
		return stopped, nil
	}
	target, err := ParseTarget(targetName)
	if err != nil {
		return false, err
	}
	return s.stopTarget(target), nil
}

func (s *Service) stopTarget(target ChannelTarget) bool {
	q := s.queues[target]
	if q == nil {
		return false
	}
	stopped := false

	q.mu.Lock()
	if q.playing && q.current != nil {
		q.current()
		stopped = true
	}
	q.mu.Unlock()

	if s.drain(q) > 0 {
		stopped = true
	}
	return stopped
}

func (s *Service) drain(q *targetQueue) int {
	n := 0
	for {
		select {
		case j := <-q.jobs:
			j.res.Release()
			if j.done != nil {
				j.done <- context.Canceled
			}
			n++
		default:
			return n
		}
	}
}

// SetVolume adjusts the default sink volume. Level must be in [0, 1].
func (s *Service) SetVolume(ctx context.Context, level float64) error {
	if level < 0 || level > 1 {
		return fmt.Errorf("%w: volume %f out of range [0, 1]", fault.ErrMalformedInput, level)
	}
	return s.sinks.SetVolume(ctx, level)
}

// ListChannels reports every channel target and whether it needs a surround
// device.
func (s *Service) ListChannels() []ChannelTarget {
	return append([]ChannelTarget(nil), AllTargets...)
}

func (s *Service) ListSinks(ctx context.Context) ([]Sink, error) {
	return s.sinks.List(ctx)
}

func (s *Service) GetDefaultSink(ctx context.Context) (Sink, error) {
	return s.sinks.Default(ctx)
}

func (s *Service) ListVoices(ctx context.Context) ([]string, error) {
	return s.synth.Voices(ctx)
}
