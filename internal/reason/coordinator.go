// Package reason implements the reasoning coordinator. It assembles prompt
// context from history, recalled memories and the environment probe, streams
// the model's reply, and pipelines completed sentences to the output actor
// so speech starts before generation finishes.
package reason

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/openvoiced/voiced/internal/config"
	"github.com/openvoiced/voiced/internal/fault"
)

// offlineMessage is what callers hear when the model is unreachable. It is
// fixed so a broken backend can never be mistaken for a model answer.
const offlineMessage = "Sorry, I can't reach my reasoning service right now."

const systemPrompt = "You are a concise voice assistant running entirely on this machine. " +
	"Answer in short spoken sentences. Never invent device state you were not told about."

// Speaker queues synthesized speech; the output actor satisfies this.
type Speaker interface {
	Speak(ctx context.Context, text, target, voice string, blocking bool) error
}

// Recaller retrieves stored memories relevant to a prompt.
type Recaller interface {
	Retrieve(ctx context.Context, query string, k int) ([]string, error)
}

// EnvProvider describes ambient machine state for the prompt preamble.
type EnvProvider interface {
	Describe(ctx context.Context) (string, error)
}

// Hinter supplies learned phrase corrections as prompt hints.
type Hinter interface {
	Correct(text string) (string, bool)
}

// FailureReporter receives fire-and-forget notice of failed turns.
type FailureReporter interface {
	RecordIgnored(command string) error
}

// Service is the reasoning coordinator.
type Service struct {
	cfg config.ReasoningConfig
	log *slog.Logger
	gen Generator

	speaker  Speaker
	recall   Recaller
	env      EnvProvider
	hinter   Hinter
	reporter FailureReporter

	timeout time.Duration

	mu      sync.Mutex
	history []Message
}

func NewService(cfg config.ReasoningConfig, log *slog.Logger) (*Service, error) {
	gen, err := newGenerator(cfg, log)
	if err != nil {
		return nil, err
	}
	return &Service{
		cfg:     cfg,
		log:     log,
		gen:     gen,
		timeout: time.Duration(cfg.TimeoutMS) * time.Millisecond,
	}, nil
}

// SetSpeaker wires the output actor in after construction so the two
// services can be built independently.
func (s *Service) SetSpeaker(sp Speaker)                { s.speaker = sp }
func (s *Service) SetRecaller(r Recaller)               { s.recall = r }
func (s *Service) SetEnvProvider(e EnvProvider)         { s.env = e }
func (s *Service) SetHinter(h Hinter)                   { s.hinter = h }
func (s *Service) SetFailureReporter(f FailureReporter) { s.reporter = f }

func (s *Service) Healthy(ctx context.Context) bool {
	return s.gen.Healthy(ctx)
}

func (s *Service) Model() string {
	return s.gen.Model()
}

// Think runs one reasoning turn. With speak enabled, each completed sentence
// is queued on the target as it streams in; per-target FIFO playback keeps
// them in order.
func (s *Service) Think(ctx context.Context, prompt, target string, speak bool) (string, error) {
	cleaned, modified := sanitizePrompt(prompt)
	if modified {
		s.log.Warn("prompt sanitized", slog.Int("original_len", len(prompt)))
	}
	if cleaned == "" {
		return "", fmt.Errorf("%w: prompt is empty after sanitization", fault.ErrMalformedInput)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	messages := s.assembleContext(ctx, cleaned)

	splitter := &sentenceSplitter{}
	onDelta := func(chunk string) {
		for _, sentence := range splitter.Push(chunk) {
			s.speakSentence(ctx, sentence, target, speak)
		}
	}

	full, err := s.gen.Generate(ctx, messages, onDelta)
	if err != nil {
		s.log.Error("generation failed", slog.String("error", err.Error()))
		s.reportFailure(cleaned)
		s.speakSentence(ctx, offlineMessage, target, speak)
		return offlineMessage, err
	}
	if tail := splitter.Flush(); tail != "" {
		s.speakSentence(ctx, tail, target, speak)
	}

	s.remember(cleaned, full)
	return full, nil
}

func (s *Service) speakSentence(ctx context.Context, sentence, target string, speak bool) {
	if !speak || s.speaker == nil {
		return
	}
	if err := s.speaker.Speak(ctx, sentence, target, "", false); err != nil {
		s.log.Warn("failed to queue sentence for speech",
			slog.String("error", err.Error()))
	}
}

// reportFailure is off the critical path: it runs detached and errors are
// only logged.
func (s *Service) reportFailure(prompt string) {
	if s.reporter == nil {
		return
	}
	go func() {
		if err := s.reporter.RecordIgnored(prompt); err != nil {
			s.log.Warn("failure report dropped", slog.String("error", err.Error()))
		}
	}()
}

func (s *Service) assembleContext(ctx context.Context, prompt string) []Message {
	messages := []Message{{Role: "system", Content: systemPrompt}}

	if s.env != nil {
		if desc, err := s.env.Describe(ctx); err == nil && desc != "" {
			messages = append(messages, Message{Role: "system", Content: "Environment: " + desc})
		}
	}
	if s.hinter != nil {
		if fixed, ok := s.hinter.Correct(prompt); ok && fixed != prompt {
			messages = append(messages, Message{
				Role:    "system",
				Content: "The user's phrase has previously meant: " + fixed,
			})
		}
	}
	if s.recall != nil && s.cfg.RecallTopK > 0 {
		if memories, err := s.recall.Retrieve(ctx, prompt, s.cfg.RecallTopK); err == nil && len(memories) > 0 {
			messages = append(messages, Message{
				Role:    "system",
				Content: "Relevant memories:\n" + strings.Join(memories, "\n"),
			})
		}
	}

	s.mu.Lock()
	messages = append(messages, s.history...)
	s.mu.Unlock()

	return append(messages, Message{Role: "user", Content: prompt})
}

func (s *Service) remember(prompt, reply string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history,
		Message{Role: "user", Content: prompt},
		Message{Role: "assistant", Content: reply})
	if excess := len(s.history) - s.cfg.HistorySize; excess > 0 {
		s.history = s.history[excess:]
	}
}

// HistoryLen reports buffered conversation turns, for status reporting.
func (s *Service) HistoryLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.history)
}

// sentenceSplitter accumulates streamed chunks and emits sentences as they
// complete on ., ? or ! followed by whitespace. Terminals inside a token,
// as in "3.14" or "e.g.", do not split.
type sentenceSplitter struct {
	pending strings.Builder
}

func isTerminal(b byte) bool {
	return b == '.' || b == '?' || b == '!'
}

func (sp *sentenceSplitter) Push(chunk string) []string {
	var sentences []string
	for _, r := range chunk {
		if unicode.IsSpace(r) {
			if s := sp.pending.String(); len(s) > 0 && isTerminal(s[len(s)-1]) {
				sentences = append(sentences, strings.TrimSpace(s))
				sp.pending.Reset()
				continue
			}
		}
		sp.pending.WriteRune(r)
	}
	return sentences
}

func (sp *sentenceSplitter) Flush() string {
	s := strings.TrimSpace(sp.pending.String())
	sp.pending.Reset()
	return s
}
