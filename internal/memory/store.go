// Package memory provides the SQLite-backed long-term memory store:
// user preferences, learned facts, command history, and the chat log.
// Writes are fire-and-forget from the brain's perspective; a failed
// write is logged, never fatal to a turn.
package memory

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Store is the long-term memory store.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (creating if needed) the memory database at path.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS preferences (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS facts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		fact TEXT NOT NULL,
		learned_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS command_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		command TEXT NOT NULL,
		result TEXT,
		executed_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS chat_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		speaker TEXT NOT NULL,
		content TEXT NOT NULL,
		logged_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chat_log_time ON chat_log(logged_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// SetPreference stores or updates a user preference.
func (s *Store) SetPreference(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO preferences (key, value, updated_at) VALUES (?, ?, ?)`,
		key, value, time.Now().UTC())
	return err
}

// Preferences returns all stored preferences.
func (s *Store) Preferences(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM preferences ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	prefs := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		prefs[k] = v
	}
	return prefs, rows.Err()
}

// RememberFact stores a learned fact about the user or environment.
func (s *Store) RememberFact(ctx context.Context, fact string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO facts (fact, learned_at) VALUES (?, ?)`,
		fact, time.Now().UTC())
	return err
}

// RecentFacts returns up to n facts, newest first.
func (s *Store) RecentFacts(ctx context.Context, n int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT fact FROM facts ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var facts []string
	for rows.Next() {
		var f string
		if err := rows.Scan(&f); err != nil {
			return nil, err
		}
		facts = append(facts, f)
	}
	return facts, rows.Err()
}

// LogCommand records a user command and its result.
func (s *Store) LogCommand(ctx context.Context, command, result string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO command_history (command, result, executed_at) VALUES (?, ?, ?)`,
		command, result, time.Now().UTC())
	return err
}

// LogTurn appends one line to the chat log. speaker is a short label
// ("USER", "MAX", "MAX_THOUGHT", "SYS").
func (s *Store) LogTurn(ctx context.Context, speaker, content string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_log (speaker, content, logged_at) VALUES (?, ?, ?)`,
		speaker, content, time.Now().UTC())
	return err
}

// ContextSummary renders preferences and recent facts as a block for
// the system prompt. Returns "" when nothing is stored; errors degrade
// to the empty summary because prompt enrichment is best-effort.
func (s *Store) ContextSummary(ctx context.Context) string {
	var b strings.Builder

	prefs, err := s.Preferences(ctx)
	if err != nil {
		s.logger.Warn("memory read failed", "error", err)
		return ""
	}
	if len(prefs) > 0 {
		b.WriteString("Preferences:\n")
		for k, v := range prefs {
			fmt.Fprintf(&b, "- %s: %s\n", k, v)
		}
	}

	facts, err := s.RecentFacts(ctx, 10)
	if err != nil {
		s.logger.Warn("memory read failed", "error", err)
		return b.String()
	}
	if len(facts) > 0 {
		b.WriteString("Known facts:\n")
		for _, f := range facts {
			fmt.Fprintf(&b, "- %s\n", f)
		}
	}

	return strings.TrimSpace(b.String())
}
