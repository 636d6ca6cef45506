// Package corrections learns how a user fixes misheard transcripts and
// applies those fixes to future recognitions. The store is a small JSON file
// so users can inspect and prune what the daemon has learned about them.
package corrections

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/antzucaro/matchr"

	"github.com/openvoiced/voiced/internal/config"
)

type entry struct {
	Replacement string `json:"replacement"`
	Count       int    `json:"count"`
}

type fileFormat struct {
	Corrections map[string]*entry `json:"corrections"`
	Ignored     map[string]int    `json:"ignored"`
}

// Store maps misheard phrases to their corrections, with fuzzy lookup for
// near misses.
type Store struct {
	path        string
	maxDistance int
	log         *slog.Logger

	mu          sync.Mutex
	corrections map[string]*entry
	ignored     map[string]int
}

func Open(cfg config.CorrectionsConfig, log *slog.Logger) (*Store, error) {
	s := &Store{
		path:        cfg.Path,
		maxDistance: cfg.MaxDistance,
		log:         log,
		corrections: make(map[string]*entry),
		ignored:     make(map[string]int),
	}

	data, err := os.ReadFile(cfg.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("read corrections store: %w", err)
	}
	var ff fileFormat
	if err := json.Unmarshal(data, &ff); err != nil {
		return nil, fmt.Errorf("parse corrections store: %w", err)
	}
	if ff.Corrections != nil {
		s.corrections = ff.Corrections
	}
	if ff.Ignored != nil {
		s.ignored = ff.Ignored
	}
	log.Info("corrections store loaded",
		slog.String("path", cfg.Path),
		slog.Int("entries", len(s.corrections)))
	return s, nil
}

// Correct returns the learned replacement for a transcript. Exact matches
// win; otherwise the closest key within the edit distance bound is used.
// Correct is a pure read; entry counts change only through Learn, so lookups
// never dirty the store file.
func (s *Store) Correct(text string) (string, bool) {
	key := normalize(text)
	if key == "" {
		return text, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.corrections[key]; ok {
		return e.Replacement, true
	}

	bestDist := s.maxDistance + 1
	var best *entry
	for k, e := range s.corrections {
		d := matchr.DamerauLevenshtein(key, k)
		if d < bestDist {
			bestDist = d
			best = e
		}
	}
	if best == nil {
		return text, false
	}
	return best.Replacement, true
}

// Learn records that heard should have been corrected. Learning the same
// pair again strengthens it.
func (s *Store) Learn(heard, corrected string) error {
	key := normalize(heard)
	if key == "" || strings.TrimSpace(corrected) == "" {
		return fmt.Errorf("cannot learn empty phrases")
	}

	s.mu.Lock()
	if e, ok := s.corrections[key]; ok && e.Replacement == corrected {
		e.Count++
	} else {
		s.corrections[key] = &entry{Replacement: corrected, Count: 1}
	}
	s.mu.Unlock()

	return s.save()
}

// LearnFromDiff passively learns when a transcript and its user-edited form
// differ in exactly one word. Larger edits are ignored; they are more likely
// rephrasings than recognition fixes.
func (s *Store) LearnFromDiff(heard, final string) error {
	hw := strings.Fields(normalize(heard))
	fw := strings.Fields(strings.TrimSpace(final))
	if len(hw) == 0 || len(hw) != len(fw) {
		return nil
	}
	diffs := 0
	for i := range hw {
		if !strings.EqualFold(hw[i], fw[i]) {
			diffs++
		}
	}
	if diffs != 1 {
		return nil
	}
	return s.Learn(heard, strings.Join(fw, " "))
}

// Rollback removes a learned correction.
func (s *Store) Rollback(heard string) error {
	key := normalize(heard)

	s.mu.Lock()
	_, ok := s.corrections[key]
	if ok {
		delete(s.corrections, key)
	}
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("no correction learned for %q", heard)
	}
	return s.save()
}

// RecordIgnored tracks commands the user dismissed, so repeated false
// triggers surface in the store file.
func (s *Store) RecordIgnored(command string) error {
	key := normalize(command)
	if key == "" {
		return nil
	}
	s.mu.Lock()
	s.ignored[key]++
	s.mu.Unlock()
	return s.save()
}

// Len reports the number of learned corrections.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.corrections)
}

func (s *Store) save() error {
	s.mu.Lock()
	data, err := json.MarshalIndent(fileFormat{
		Corrections: s.corrections,
		Ignored:     s.ignored,
	}, "", "  ")
	s.mu.Unlock()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create corrections dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write corrections store: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace corrections store: %w", err)
	}
	return nil
}

func normalize(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}
