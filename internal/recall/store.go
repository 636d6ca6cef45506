// Package recall persists conversation memories in a local SQLite database
// and retrieves the ones relevant to a prompt. Nothing here ever leaves the
// machine; retention pruning is the only thing that removes data.
package recall

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/openvoiced/voiced/internal/config"
)

const schema = `
CREATE TABLE IF NOT EXISTS memories (
	id TEXT PRIMARY KEY,
	content TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_memories_created ON memories(created_at);
`

// Store is the durable memory backend for the reasoning coordinator.
type Store struct {
	db  *sql.DB
	cfg config.RecallConfig
	log *slog.Logger
	now func() time.Time
}

func Open(cfg config.RecallConfig, log *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create recall dir: %w", err)
	}

	db, err := sql.Open("sqlite", cfg.Path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open recall db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply recall schema: %w", err)
	}
	if cfg.VacuumOnStart {
		if _, err := db.Exec("VACUUM"); err != nil {
			log.Warn("recall vacuum failed", slog.String("error", err.Error()))
		}
	}

	s := &Store{db: db, cfg: cfg, log: log, now: time.Now}
	log.Info("recall store opened", slog.String("path", cfg.Path))
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Add stores one memory and returns its id.
func (s *Store) Add(ctx context.Context, content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", fmt.Errorf("memory content must not be empty")
	}
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO memories (id, content, created_at) VALUES (?, ?, ?)",
		id, content, s.now().Unix())
	if err != nil {
		return "", fmt.Errorf("insert memory: %w", err)
	}
	return id, nil
}

// Retrieve returns up to k memories ranked by keyword overlap with the
// query, newest first among ties. The candidate set is capped at the
// configured max entries, newest first.
func (s *Store) Retrieve(ctx context.Context, query string, k int) ([]string, error) {
	if k <= 0 {
		return nil, nil
	}
	terms := tokenize(query)
	if len(terms) == 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT content FROM memories ORDER BY created_at DESC LIMIT ?",
		s.cfg.MaxEntries)
	if err != nil {
		return nil, fmt.Errorf("query memories: %w", err)
	}
	defer rows.Close()

	type scored struct {
		content string
		score   int
		order   int
	}
	var candidates []scored
	order := 0
	for rows.Next() {
		var content string
		if err := rows.Scan(&content); err != nil {
			return nil, err
		}
		score := overlap(terms, tokenize(content))
		if score > 0 {
			candidates = append(candidates, scored{content: content, score: score, order: order})
		}
		order++
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].order < candidates[j].order
	})
	if len(candidates) > k {
		candidates = candidates[:k]
	}
	out := make([]string, len(candidates))
	for i, c := range candidates {
		out[i] = c.content
	}
	return out, nil
}

// Prune removes memories past the retention horizon and trims the table to
// the configured max entry count. Returns rows removed.
func (s *Store) Prune(ctx context.Context) (int64, error) {
	var removed int64
	if s.cfg.RetentionDays > 0 {
		cutoff := s.now().AddDate(0, 0, -s.cfg.RetentionDays).Unix()
		res, err := s.db.ExecContext(ctx, "DELETE FROM memories WHERE created_at < ?", cutoff)
		if err != nil {
			return 0, fmt.Errorf("prune by age: %w", err)
		}
		n, _ := res.RowsAffected()
		removed += n
	}
	if s.cfg.MaxEntries > 0 {
		res, err := s.db.ExecContext(ctx, `
DELETE FROM memories WHERE id NOT IN (
	SELECT id FROM memories ORDER BY created_at DESC LIMIT ?
)`, s.cfg.MaxEntries)
		if err != nil {
			return removed, fmt.Errorf("prune by count: %w", err)
		}
		n, _ := res.RowsAffected()
		removed += n
	}
	if removed > 0 {
		s.log.Info("recall store pruned", slog.Int64("removed", removed))
	}
	return removed, nil
}

// Count reports stored memories.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM memories").Scan(&n)
	return n, err
}

var stopwords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "is": {}, "it": {}, "to": {},
	"of": {}, "and": {}, "in": {}, "on": {}, "my": {}, "i": {},
}

func tokenize(text string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, ".,!?;:\"'")
		if len(w) < 2 {
			continue
		}
		if _, skip := stopwords[w]; skip {
			continue
		}
		out[w] = struct{}{}
	}
	return out
}

func overlap(a, b map[string]struct{}) int {
	n := 0
	for w := range a {
		if _, ok := b[w]; ok {
			n++
		}
	}
	return n
}
