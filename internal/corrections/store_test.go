package corrections

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/openvoiced/voiced/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	cfg := config.Default().Corrections
	cfg.Path = filepath.Join(t.TempDir(), "corrections.json")
	s, err := Open(cfg, testLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

func TestLearnAndExactCorrect(t *testing.T) {
	s := newTestStore(t)
	if err := s.Learn("turn on the kitten lights", "turn on the kitchen lights"); err != nil {
		t.Fatalf("Learn: %v", err)
	}
	got, ok := s.Correct("Turn On The Kitten Lights")
	if !ok || got != "turn on the kitchen lights" {
		t.Fatalf("Correct = (%q, %v)", got, ok)
	}
}

func TestFuzzyCorrectWithinDistance(t *testing.T) {
	s := newTestStore(t)
	if err := s.Learn("play some jazz", "play some jazz in the living room"); err != nil {
		t.Fatalf("Learn: %v", err)
	}
	// One substitution away.
	got, ok := s.Correct("play some jass")
	if !ok || got != "play some jazz in the living room" {
		t.Fatalf("fuzzy Correct = (%q, %v)", got, ok)
	}
	// Far beyond the edit distance bound.
	if _, ok := s.Correct("completely different words"); ok {
		t.Fatal("matched a phrase far outside the distance bound")
	}
}

func TestCorrectUnknownPassesThrough(t *testing.T) {
	s := newTestStore(t)
	got, ok := s.Correct("open the garage")
	if ok || got != "open the garage" {
		t.Fatalf("Correct on empty store = (%q, %v)", got, ok)
	}
}

func TestPersistenceAcrossOpens(t *testing.T) {
	cfg := config.Default().Corrections
	cfg.Path = filepath.Join(t.TempDir(), "corrections.json")

	s1, err := Open(cfg, testLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s1.Learn("wether report", "weather report"); err != nil {
		t.Fatalf("Learn: %v", err)
	}
	if err := s1.RecordIgnored("call mom"); err != nil {
		t.Fatalf("RecordIgnored: %v", err)
	}

	s2, err := Open(cfg, testLogger())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got, ok := s2.Correct("wether report")
	if !ok || got != "weather report" {
		t.Fatalf("correction lost across reopen: (%q, %v)", got, ok)
	}
	if s2.ignored["call mom"] != 1 {
		t.Errorf("ignored counter lost across reopen: %v", s2.ignored)
	}
}

func TestCorrectIsAPureRead(t *testing.T) {
	cfg := config.Default().Corrections
	cfg.Path = filepath.Join(t.TempDir(), "corrections.json")

	s1, err := Open(cfg, testLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s1.Learn("wether report", "weather report"); err != nil {
		t.Fatalf("Learn: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, ok := s1.Correct("wether report"); !ok {
			t.Fatal("learned correction not found")
		}
	}
	if got := s1.corrections["wether report"].Count; got != 1 {
		t.Errorf("lookup mutated entry count in memory: %d", got)
	}

	s2, err := Open(cfg, testLogger())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if got := s2.corrections["wether report"].Count; got != 1 {
		t.Errorf("persisted count diverged from learned count: %d", got)
	}
}

func TestLearnFromDiff(t *testing.T) {
	s := newTestStore(t)

	// Exactly one word differs: learned.
	if err := s.LearnFromDiff("turn on the kitten lights", "turn on the kitchen lights"); err != nil {
		t.Fatalf("LearnFromDiff: %v", err)
	}
	if got, ok := s.Correct("turn on the kitten lights"); !ok || got != "turn on the kitchen lights" {
		t.Fatalf("single-word diff not learned: (%q, %v)", got, ok)
	}

	// A full rephrasing is not a correction.
	if err := s.LearnFromDiff("play music", "start my evening playlist now"); err != nil {
		t.Fatalf("LearnFromDiff: %v", err)
	}
	if s.Len() != 1 {
		t.Errorf("rephrasing was learned, store has %d entries", s.Len())
	}
}

func TestRollback(t *testing.T) {
	s := newTestStore(t)
	if err := s.Learn("cat light", "hat light"); err != nil {
		t.Fatalf("Learn: %v", err)
	}
	if err := s.Rollback("cat light"); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if _, ok := s.Correct("cat light"); ok {
		t.Error("correction survived rollback")
	}
	if err := s.Rollback("cat light"); err == nil {
		t.Error("expected error rolling back a missing entry")
	}
}

func TestLearnRejectsEmpty(t *testing.T) {
	s := newTestStore(t)
	if err := s.Learn("   ", "something"); err == nil {
		t.Error("expected error for empty heard phrase")
	}
	if err := s.Learn("something", "  "); err == nil {
		t.Error("expected error for empty replacement")
	}
}
