package input

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	shellwords "github.com/mattn/go-shellwords"

	"github.com/openvoiced/voiced/internal/config"
	"github.com/openvoiced/voiced/internal/fault"
)

// Recognizer turns captured PCM into text.
type Recognizer interface {
	Transcribe(ctx context.Context, samples []int16, sampleRate int) (string, error)
	Healthy() bool
}

func newRecognizer(cfg config.InputConfig, log *slog.Logger) (Recognizer, error) {
	switch cfg.Mode {
	case "mock":
		return &mockRecognizer{text: "turn on the kitchen lights"}, nil
	case "exec":
		return newExecRecognizer(cfg, log)
	case "stream":
		return newStreamRecognizer(cfg, log), nil
	default:
		return nil, fmt.Errorf("unknown input mode: %s", cfg.Mode)
	}
}

// execRecognizer writes the utterance to a temp WAV and shells out to a
// transcription tool (whisper-cli and friends) that prints text on stdout.
type execRecognizer struct {
	baseArgs []string
	language string
	timeout  time.Duration
	log      *slog.Logger
}

func newExecRecognizer(cfg config.InputConfig, log *slog.Logger) (*execRecognizer, error) {
	args, err := shellwords.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse input command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("input command is empty")
	}
	if cfg.ModelPath != "" {
		args = append(args, "--model", cfg.ModelPath)
	}
	return &execRecognizer{
		baseArgs: args,
		language: cfg.Language,
		timeout:  time.Duration(cfg.RecognizeTimeout) * time.Millisecond,
		log:      log,
	}, nil
}

func (r *execRecognizer) Transcribe(ctx context.Context, samples []int16, sampleRate int) (string, error) {
	path, err := writeUtteranceWAV(samples, sampleRate)
	if err != nil {
		return "", err
	}
	defer os.Remove(path)

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	args := append([]string(nil), r.baseArgs...)
	if r.language != "" {
		args = append(args, "--language", r.language)
	}
	args = append(args, path)

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err = cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return "", fmt.Errorf("%w: transcription exceeded %s", fault.ErrBackendTimeout, r.timeout)
	}
	if err != nil {
		return "", fmt.Errorf("%w: %s: %s", fault.ErrBackendUnavailable, err,
			strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(stdout.String()), nil
}

func (r *execRecognizer) Healthy() bool {
	_, err := exec.LookPath(r.baseArgs[0])
	return err == nil
}

func writeUtteranceWAV(samples []int16, sampleRate int) (string, error) {
	f, err := os.CreateTemp("", "voiced-utt-*.wav")
	if err != nil {
		return "", fmt.Errorf("create utterance temp file: %w", err)
	}
	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(s)
	}
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	enc := wav.NewEncoder(f, sampleRate, 16, 1, 1)
	if err := enc.Write(buf); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("encode utterance WAV: %w", err)
	}
	if err := enc.Close(); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("finalize utterance WAV: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

// mockRecognizer returns a fixed transcript so the pipeline runs without a
// model installed.
type mockRecognizer struct {
	text string
}

func (m *mockRecognizer) Transcribe(ctx context.Context, samples []int16, sampleRate int) (string, error) {
	if len(samples) == 0 {
		return "", fmt.Errorf("%w: no samples captured", fault.ErrNoSpeechDetected)
	}
	return m.text, nil
}

func (m *mockRecognizer) Healthy() bool { return true }
