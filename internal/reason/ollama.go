package reason

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/openvoiced/voiced/internal/config"
	"github.com/openvoiced/voiced/internal/fault"
)

// ollamaGenerator talks to a local ollama server over its streaming chat
// API. Responses arrive as NDJSON, one token chunk per line.
type ollamaGenerator struct {
	endpoint    string
	model       string
	maxTokens   int
	temperature float64
	client      *http.Client
	log         *slog.Logger
}

func newOllamaGenerator(cfg config.ReasoningConfig, log *slog.Logger) *ollamaGenerator {
	return &ollamaGenerator{
		endpoint:    strings.TrimRight(cfg.Endpoint, "/"),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		client:      &http.Client{Timeout: time.Duration(cfg.TimeoutMS) * time.Millisecond},
		log:         log,
	}
}

type ollamaChatRequest struct {
	Model    string         `json:"model"`
	Messages []Message      `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

type ollamaChatChunk struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done  bool   `json:"done"`
	Error string `json:"error,omitempty"`
}

func (g *ollamaGenerator) Generate(ctx context.Context, messages []Message, onDelta func(string)) (string, error) {
	body, err := json.Marshal(ollamaChatRequest{
		Model:    g.model,
		Messages: messages,
		Stream:   true,
		Options: map[string]any{
			"num_predict": g.maxTokens,
			"temperature": g.temperature,
		},
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", fmt.Errorf("%w: model did not respond in time", fault.ErrBackendTimeout)
		}
		return "", fmt.Errorf("%w: %s", fault.ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: ollama returned status %d", fault.ErrBackendUnavailable, resp.StatusCode)
	}

	var full strings.Builder
	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var chunk ollamaChatChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			g.log.Warn("skipping malformed stream chunk", slog.String("error", err.Error()))
			continue
		}
		if chunk.Error != "" {
			return full.String(), fmt.Errorf("%w: %s", fault.ErrBackendUnavailable, chunk.Error)
		}
		if chunk.Message.Content != "" {
			full.WriteString(chunk.Message.Content)
			if onDelta != nil {
				onDelta(chunk.Message.Content)
			}
		}
		if chunk.Done {
			break
		}
	}
	if err := sc.Err(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return full.String(), fmt.Errorf("%w: stream cut off by deadline", fault.ErrBackendTimeout)
		}
		return full.String(), fmt.Errorf("%w: read stream: %s", fault.ErrBackendUnavailable, err)
	}
	return full.String(), nil
}

func (g *ollamaGenerator) Healthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.endpoint+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (g *ollamaGenerator) Model() string { return g.model }
