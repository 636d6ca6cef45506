package input

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"os/exec"

	shellwords "github.com/mattn/go-shellwords"

	"github.com/openvoiced/voiced/internal/config"
	"github.com/openvoiced/voiced/internal/fault"
)

// CaptureSource produces fixed-size mono PCM frames from the microphone.
// The channel closes when the source ends or ctx is cancelled.
type CaptureSource interface {
	Frames(ctx context.Context, frameSize int) (<-chan []int16, error)
}

func newCaptureSource(cfg config.InputConfig, log *slog.Logger) (CaptureSource, error) {
	switch cfg.Mode {
	case "mock":
		return newMockSource(cfg), nil
	case "exec", "stream":
		// Stream mode still captures locally; only recognition goes over TCP.
		command := cfg.Command
		if command == "" {
			command = fmt.Sprintf("arecord -q -t raw -f S16_LE -r %d -c 1", cfg.SampleRate)
		}
		args, err := shellwords.Parse(command)
		if err != nil {
			return nil, fmt.Errorf("parse capture command: %w", err)
		}
		return &execSource{args: args, log: log}, nil
	default:
		return nil, fmt.Errorf("unknown input mode: %s", cfg.Mode)
	}
}

// execSource reads raw S16LE samples from a capture subprocess.
type execSource struct {
	args []string
	log  *slog.Logger
}

func (s *execSource) Frames(ctx context.Context, frameSize int) (<-chan []int16, error) {
	cmd := exec.CommandContext(ctx, s.args[0], s.args[1:]...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: capture stdout: %s", fault.ErrBackendUnavailable, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: start capture: %s", fault.ErrBackendUnavailable, err)
	}

	out := make(chan []int16)
	go func() {
		defer close(out)
		defer cmd.Wait()
		raw := make([]byte, frameSize*2)
		for {
			if _, err := io.ReadFull(stdout, raw); err != nil {
				return
			}
			frame := make([]int16, frameSize)
			for i := range frame {
				frame[i] = int16(binary.LittleEndian.Uint16(raw[i*2:]))
			}
			select {
			case out <- frame:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// mockSource synthesizes a plausible utterance: half a second of leading
// silence, one second of tone, then unbounded silence. Frames are delivered
// without pacing so tests and mock deployments run instantly.
type mockSource struct {
	sampleRate int
	amplitude  int16
}

func newMockSource(cfg config.InputConfig) *mockSource {
	return &mockSource{sampleRate: cfg.SampleRate, amplitude: int16(cfg.SpeechThreshold * 2)}
}

func (s *mockSource) Frames(ctx context.Context, frameSize int) (<-chan []int16, error) {
	out := make(chan []int16)
	go func() {
		defer close(out)
		framesPerSecond := s.sampleRate / frameSize
		emit := func(n int, amp int16) bool {
			for i := 0; i < n; i++ {
				frame := make([]int16, frameSize)
				for j := range frame {
					if j%2 == 0 {
						frame[j] = amp
					} else {
						frame[j] = -amp
					}
				}
				select {
				case out <- frame:
				case <-ctx.Done():
					return false
				}
			}
			return true
		}
		if !emit(framesPerSecond/2, 0) {
			return
		}
		if !emit(framesPerSecond, s.amplitude) {
			return
		}
		emit(framesPerSecond*60, 0)
	}()
	return out, nil
}
