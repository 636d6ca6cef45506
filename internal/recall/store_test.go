package recall

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/openvoiced/voiced/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	cfg := config.Default().Recall
	cfg.Path = filepath.Join(t.TempDir(), "recall.db")
	s, err := Open(cfg, testLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAddAndRetrieve(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, m := range []string{
		"user prefers jazz in the evening",
		"the thermostat lives in the hallway",
		"user's cat is named Biscuit",
	} {
		if _, err := s.Add(ctx, m); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}

	got, err := s.Retrieve(ctx, "what is my cat called", 3)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(got) == 0 || got[0] != "user's cat is named Biscuit" {
		t.Fatalf("expected the cat memory first, got %v", got)
	}
}

func TestRetrieveRanksByOverlap(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Add(ctx, "jazz playlist exists"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Add(ctx, "user prefers jazz playlist after dinner"); err != nil {
		t.Fatal(err)
	}

	got, err := s.Retrieve(ctx, "play the jazz playlist after dinner", 1)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(got) != 1 || got[0] != "user prefers jazz playlist after dinner" {
		t.Fatalf("expected the higher-overlap memory, got %v", got)
	}
}

func TestRetrieveNoMatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if _, err := s.Add(ctx, "the garage code is unchanged"); err != nil {
		t.Fatal(err)
	}
	got, err := s.Retrieve(ctx, "weather forecast tomorrow", 3)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no matches, got %v", got)
	}
}

func TestAddRejectsEmpty(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Add(context.Background(), "   "); err == nil {
		t.Fatal("expected error for empty memory")
	}
}

func TestPruneByAge(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base.AddDate(0, 0, -60) }
	if _, err := s.Add(ctx, "stale memory about winter"); err != nil {
		t.Fatal(err)
	}
	s.now = func() time.Time { return base }
	if _, err := s.Add(ctx, "fresh memory about summer"); err != nil {
		t.Fatal(err)
	}

	removed, err := s.Prune(ctx)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	n, err := s.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 1 {
		t.Fatalf("count after prune = %d, want 1", n)
	}
}

func TestPruneByCount(t *testing.T) {
	cfg := config.Default().Recall
	cfg.Path = filepath.Join(t.TempDir(), "recall.db")
	cfg.MaxEntries = 3
	s, err := Open(cfg, testLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		offset := i
		s.now = func() time.Time { return base.Add(time.Duration(offset) * time.Minute) }
		if _, err := s.Add(ctx, "memory number "+string(rune('a'+i))); err != nil {
			t.Fatal(err)
		}
	}

	if _, err := s.Prune(ctx); err != nil {
		t.Fatalf("Prune: %v", err)
	}
	n, err := s.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 3 {
		t.Fatalf("count after prune = %d, want 3", n)
	}
}
