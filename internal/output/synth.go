package output

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/go-audio/wav"
	shellwords "github.com/mattn/go-shellwords"

	"github.com/openvoiced/voiced/internal/config"
	"github.com/openvoiced/voiced/internal/fault"
)

// Synthesizer converts text to PCM audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voice string) (*Clip, error)
	Voices(ctx context.Context) ([]string, error)
	Healthy() bool
}

func newSynthesizer(cfg config.OutputConfig, log *slog.Logger) (Synthesizer, error) {
	switch cfg.Mode {
	case "mock":
		return &mockSynthesizer{sampleRate: cfg.SampleRate, voice: cfg.DefaultVoice}, nil
	case "exec":
		return newExecSynthesizer(cfg, log)
	default:
		return nil, fmt.Errorf("unknown output mode: %s", cfg.Mode)
	}
}

// execSynthesizer shells out to an external engine such as piper or espeak.
// The subprocess gets text on stdin and must emit a WAV stream on stdout.
// A watchdog kills it if it exceeds the configured synthesis timeout.
type execSynthesizer struct {
	baseArgs   []string
	voiceFlag  bool
	timeout    time.Duration
	sampleRate int
	log        *slog.Logger
}

func newExecSynthesizer(cfg config.OutputConfig, log *slog.Logger) (*execSynthesizer, error) {
	args, err := shellwords.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse output command: %w", err)
	}
	if len(args) == 0 {
		return nil, errors.New("output command is empty")
	}
	return &execSynthesizer{
		baseArgs:   args,
		voiceFlag:  !strings.Contains(cfg.Command, "--model"),
		timeout:    time.Duration(cfg.SynthTimeoutMS) * time.Millisecond,
		sampleRate: cfg.SampleRate,
		log:        log,
	}, nil
}

func (s *execSynthesizer) Synthesize(ctx context.Context, text, voice string) (*Clip, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	args := append([]string(nil), s.baseArgs...)
	if voice != "" && s.voiceFlag {
		args = append(args, "--voice", voice)
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Stdin = strings.NewReader(text)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		s.log.Warn("synthesis subprocess killed by watchdog",
			slog.String("command", args[0]),
			slog.Duration("timeout", s.timeout))
		return nil, fmt.Errorf("%w: synthesis exceeded %s", fault.ErrBackendTimeout, s.timeout)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %s", fault.ErrBackendUnavailable, err,
			strings.TrimSpace(stderr.String()))
	}

	clip, err := decodeWAV(stdout.Bytes())
	if err != nil {
		return nil, fmt.Errorf("decode synthesis output: %w", err)
	}
	return clip, nil
}

func (s *execSynthesizer) Voices(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	args := append(append([]string(nil), s.baseArgs...), "--list-voices")
	out, err := exec.CommandContext(ctx, args[0], args[1:]...).Output()
	if err != nil {
		return nil, fmt.Errorf("%w: list voices: %s", fault.ErrBackendUnavailable, err)
	}
	var voices []string
	for _, line := range strings.Split(string(out), "\n") {
		if v := strings.TrimSpace(line); v != "" {
			voices = append(voices, v)
		}
	}
	return voices, nil
}

func (s *execSynthesizer) Healthy() bool {
	_, err := exec.LookPath(s.baseArgs[0])
	return err == nil
}

func decodeWAV(data []byte) (*Clip, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("%w: not a valid WAV stream: %s", fault.ErrMalformedInput, err)
	}
	if buf == nil || buf.Format == nil || len(buf.Data) == 0 {
		return nil, fmt.Errorf("%w: empty WAV stream", fault.ErrMalformedInput)
	}
	return &Clip{
		Samples:    buf.Data,
		SampleRate: buf.Format.SampleRate,
		Channels:   buf.Format.NumChannels,
	}, nil
}

// mockSynthesizer fabricates silent PCM sized to the text so pipelines can
// run without an engine installed.
type mockSynthesizer struct {
	sampleRate int
	voice      string
}

func (s *mockSynthesizer) Synthesize(ctx context.Context, text, voice string) (*Clip, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: empty text", fault.ErrMalformedInput)
	}
	// Roughly 60ms of audio per word keeps mock timing proportional.
	words := len(strings.Fields(text))
	frames := s.sampleRate * 60 * words / 1000
	if frames == 0 {
		frames = s.sampleRate / 100
	}
	return &Clip{
		Samples:    make([]int, frames),
		SampleRate: s.sampleRate,
		Channels:   1,
	}, nil
}

func (s *mockSynthesizer) Voices(ctx context.Context) ([]string, error) {
	return []string{s.voice, "en_US-amy-medium", "en_GB-alan-low"}, nil
}

func (s *mockSynthesizer) Healthy() bool { return true }
