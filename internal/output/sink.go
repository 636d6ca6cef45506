package output

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/openvoiced/voiced/internal/config"
	"github.com/openvoiced/voiced/internal/fault"
)

// SinkController enumerates audio devices and switches the default sink.
type SinkController interface {
	List(ctx context.Context) ([]Sink, error)
	Default(ctx context.Context) (Sink, error)
	SetDefault(ctx context.Context, id string) error
	SetVolume(ctx context.Context, level float64) error
}

func newSinkController(cfg config.OutputConfig, log *slog.Logger) (SinkController, error) {
	switch cfg.SinkMode {
	case "mock":
		return newMockSinkController(), nil
	case "wpctl":
		return &wpctlController{path: cfg.WpctlPath, log: log}, nil
	default:
		return nil, fmt.Errorf("unknown sink mode: %s", cfg.SinkMode)
	}
}

// wpctlController drives WirePlumber via the wpctl binary. Sink IDs are the
// numeric object IDs from `wpctl status`; the default sink is marked with an
// asterisk in that listing.
type wpctlController struct {
	path string
	log  *slog.Logger
}

func (w *wpctlController) List(ctx context.Context) ([]Sink, error) {
	out, err := exec.CommandContext(ctx, w.path, "status").Output()
	if err != nil {
		return nil, fmt.Errorf("%w: wpctl status: %s", fault.ErrBackendUnavailable, err)
	}
	return parseWpctlSinks(string(out)), nil
}

func (w *wpctlController) Default(ctx context.Context) (Sink, error) {
	sinks, err := w.List(ctx)
	if err != nil {
		return Sink{}, err
	}
	for _, s := range sinks {
		if s.Default {
			return s, nil
		}
	}
	return Sink{}, fmt.Errorf("%w: no default sink reported", fault.ErrBackendUnavailable)
}

func (w *wpctlController) SetDefault(ctx context.Context, id string) error {
	if _, err := strconv.Atoi(id); err != nil {
		return fmt.Errorf("%w: sink id must be numeric, got %q", fault.ErrInvalidTarget, id)
	}
	if err := exec.CommandContext(ctx, w.path, "set-default", id).Run(); err != nil {
		return fmt.Errorf("%w: wpctl set-default %s: %s", fault.ErrBackendUnavailable, id, err)
	}
	return nil
}

func (w *wpctlController) SetVolume(ctx context.Context, level float64) error {
	arg := strconv.FormatFloat(level, 'f', 2, 64)
	if err := exec.CommandContext(ctx, w.path, "set-volume", "@DEFAULT_AUDIO_SINK@", arg).Run(); err != nil {
		return fmt.Errorf("%w: wpctl set-volume: %s", fault.ErrBackendUnavailable, err)
	}
	return nil
}

// parseWpctlSinks extracts the Sinks block from wpctl status output. Lines
// look like " │  *   54. Family 17h HD Audio Controller [vol: 0.74]".
func parseWpctlSinks(out string) []Sink {
	var sinks []Sink
	inSinks := false
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		line := sc.Text()
		trimmed := strings.TrimLeftFunc(line, func(r rune) bool {
			// wpctl draws the tree with box-drawing runes (│ ├ ─ └ and
			// friends, U+2500..U+257F).
			return r == ' ' || r == '\t' || (r >= 0x2500 && r <= 0x257F)
		})
		if strings.HasPrefix(trimmed, "Sinks:") {
			inSinks = true
			continue
		}
		if !inSinks {
			continue
		}
		if trimmed == "" || strings.HasSuffix(trimmed, ":") {
			break
		}
		isDefault := false
		if strings.HasPrefix(trimmed, "*") {
			isDefault = true
			trimmed = strings.TrimSpace(strings.TrimPrefix(trimmed, "*"))
		}
		dot := strings.Index(trimmed, ".")
		if dot <= 0 {
			continue
		}
		id := strings.TrimSpace(trimmed[:dot])
		if _, err := strconv.Atoi(id); err != nil {
			continue
		}
		name := strings.TrimSpace(trimmed[dot+1:])
		if idx := strings.Index(name, "[vol:"); idx > 0 {
			name = strings.TrimSpace(name[:idx])
		}
		sinks = append(sinks, Sink{ID: id, Name: name, Default: isDefault})
	}
	return sinks
}

// mockSinkController keeps an in-memory device table.
type mockSinkController struct {
	mu        sync.Mutex
	sinks     []Sink
	defaultID string
	volume    float64
}

func newMockSinkController() *mockSinkController {
	return &mockSinkController{
		sinks: []Sink{
			{ID: "40", Name: "Built-in Audio Analog Stereo", Default: true},
			{ID: "41", Name: "HDMI Audio"},
		},
		defaultID: "40",
		volume:    1.0,
	}
}

func (m *mockSinkController) List(ctx context.Context) ([]Sink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Sink, len(m.sinks))
	for i, s := range m.sinks {
		s.Default = s.ID == m.defaultID
		out[i] = s
	}
	return out, nil
}

func (m *mockSinkController) Default(ctx context.Context) (Sink, error) {
	sinks, _ := m.List(ctx)
	for _, s := range sinks {
		if s.Default {
			return s, nil
		}
	}
	return Sink{}, fmt.Errorf("%w: no default sink", fault.ErrBackendUnavailable)
}

func (m *mockSinkController) SetDefault(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sinks {
		if s.ID == id {
			m.defaultID = id
			return nil
		}
	}
	return fmt.Errorf("%w: unknown sink %q", fault.ErrInvalidTarget, id)
}

func (m *mockSinkController) SetVolume(ctx context.Context, level float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.volume = level
	return nil
}
