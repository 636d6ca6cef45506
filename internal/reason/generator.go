package reason

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/openvoiced/voiced/internal/config"
)

// Message is one turn of conversation context.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Generator streams a model response. onDelta is invoked for each token
// chunk in order; the full text is returned when the stream ends.
type Generator interface {
	Generate(ctx context.Context, messages []Message, onDelta func(string)) (string, error)
	Healthy(ctx context.Context) bool
	Model() string
}

func newGenerator(cfg config.ReasoningConfig, log *slog.Logger) (Generator, error) {
	switch cfg.Mode {
	case "mock":
		return &mockGenerator{
			reply: "The kitchen lights are now on. Anything else?",
			model: "mock",
		}, nil
	case "ollama":
		return newOllamaGenerator(cfg, log), nil
	default:
		return nil, fmt.Errorf("unknown reasoning mode: %s", cfg.Mode)
	}
}

// mockGenerator streams a canned reply word by word.
type mockGenerator struct {
	reply string
	model string
}

func (g *mockGenerator) Generate(ctx context.Context, messages []Message, onDelta func(string)) (string, error) {
	var b strings.Builder
	for i, word := range strings.Fields(g.reply) {
		if err := ctx.Err(); err != nil {
			return b.String(), err
		}
		chunk := word
		if i > 0 {
			chunk = " " + word
		}
		b.WriteString(chunk)
		if onDelta != nil {
			onDelta(chunk)
		}
	}
	return b.String(), nil
}

func (g *mockGenerator) Healthy(ctx context.Context) bool { return true }

func (g *mockGenerator) Model() string { return g.model }
