package output

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/openvoiced/voiced/internal/fault"
)

// Player renders a clip onto the output device with per-side gains applied.
// Play blocks until the clip finishes or ctx is cancelled.
type Player interface {
	Play(ctx context.Context, clip *Clip, gainL, gainR float64) error
}

// mockPlayer simulates playback by sleeping for the clip duration. Tests set
// instant to skip the sleep.
type mockPlayer struct {
	instant bool
}

func (p *mockPlayer) Play(ctx context.Context, clip *Clip, gainL, gainR float64) error {
	if p.instant {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(time.Duration(clip.DurationMS()) * time.Millisecond):
		return nil
	}
}

// execPlayer materializes the gain-adjusted clip as a temporary WAV file and
// hands it to an external playback tool (pw-play, paplay, aplay).
type execPlayer struct {
	command string
}

func (p *execPlayer) Play(ctx context.Context, clip *Clip, gainL, gainR float64) error {
	path, err := writeStereoWAV(clip, gainL, gainR)
	if err != nil {
		return err
	}
	defer os.Remove(path)

	cmd := exec.CommandContext(ctx, p.command, path)
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: playback command failed: %s", fault.ErrBackendUnavailable, err)
	}
	return nil
}

// writeStereoWAV expands the clip to stereo with the given gains and encodes
// it to a temp file.
func writeStereoWAV(clip *Clip, gainL, gainR float64) (string, error) {
	f, err := os.CreateTemp("", "voiced-*.wav")
	if err != nil {
		return "", fmt.Errorf("create playback temp file: %w", err)
	}

	frames := len(clip.Samples) / clip.Channels
	data := make([]int, 0, frames*2)
	for i := 0; i < frames; i++ {
		// Downmix multichannel sources to mono before panning.
		var sum int
		for c := 0; c < clip.Channels; c++ {
			sum += clip.Samples[i*clip.Channels+c]
		}
		mono := sum / clip.Channels
		data = append(data, int(float64(mono)*gainL), int(float64(mono)*gainR))
	}

	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 2, SampleRate: clip.SampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	enc := wav.NewEncoder(f, clip.SampleRate, 16, 2, 1)
	if err := enc.Write(buf); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("encode playback WAV: %w", err)
	}
	if err := enc.Close(); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("finalize playback WAV: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return filepath.Clean(f.Name()), nil
}
