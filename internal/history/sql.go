package history

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/bimmerbailey/prompthakcer/internal/engine"
)

const sqlSchema = `
CREATE TABLE IF NOT EXISTS counters (
	name  TEXT PRIMARY KEY,
	value INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS findings (
	rule_id TEXT PRIMARY KEY,
	count   INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS entries (
	id            TEXT PRIMARY KEY,
	ts            INTEGER NOT NULL,
	level         TEXT NOT NULL DEFAULT '',
	tokens_saved  INTEGER NOT NULL DEFAULT 0,
	chars_saved   INTEGER NOT NULL DEFAULT 0,
	percent_saved INTEGER NOT NULL DEFAULT 0,
	rules_applied INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS entries_ts ON entries (ts);
`

const upsertCounter = `
INSERT INTO counters (name, value) VALUES (?, ?)
ON CONFLICT (name) DO UPDATE SET value = value + excluded.value`

// entryRow is the database shape of an Entry. Timestamps are stored as
// unix nanoseconds.
type entryRow struct {
	ID           string `db:"id"`
	TS           int64  `db:"ts"`
	Level        string `db:"level"`
	TokensSaved  int    `db:"tokens_saved"`
	CharsSaved   int    `db:"chars_saved"`
	PercentSaved int    `db:"percent_saved"`
	RulesApplied int    `db:"rules_applied"`
}

func (r entryRow) entry() Entry {
	return Entry{
		ID:           r.ID,
		Timestamp:    time.Unix(0, r.TS).UTC(),
		Level:        r.Level,
		TokensSaved:  r.TokensSaved,
		CharsSaved:   r.CharsSaved,
		PercentSaved: r.PercentSaved,
		RulesApplied: r.RulesApplied,
	}
}

// SQLSink stores history in a SQLite database.
type SQLSink struct {
	db         *sqlx.DB
	maxEntries int
	logger     *slog.Logger
	now        func() time.Time
}

// NewSQLSink opens (and if needed creates) the SQLite database at path.
func NewSQLSink(path string, maxEntries int, logger *slog.Logger) (*SQLSink, error) {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	// SQLite allows one writer; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := db.ExecContext(ctx, sqlSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize history database: %w", err)
	}

	logger.Debug("history database ready", "path", path)
	return &SQLSink{db: db, maxEntries: maxEntries, logger: logger, now: time.Now}, nil
}

// RecordScan implements Sink.
func (s *SQLSink) RecordScan(ctx context.Context, findings engine.Findings) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, upsertCounter, fieldScans, 1); err != nil {
			return err
		}
		if len(findings) == 0 {
			return nil
		}
		if _, err := tx.ExecContext(ctx, upsertCounter, fieldDLPBlocks, 1); err != nil {
			return err
		}
		for _, f := range findings {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO findings (rule_id, count) VALUES (?, ?)
				ON CONFLICT (rule_id) DO UPDATE SET count = count + excluded.count`,
				f.RuleID, f.MatchCount)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// RecordOptimization implements Sink.
func (s *SQLSink) RecordOptimization(ctx context.Context, level string, res *engine.OptimizationResult) error {
	e := newEntry(s.now(), level, res)

	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		for name, delta := range map[string]int{
			fieldOptimizations: 1,
			fieldTokensSaved:   res.Stats.TokensSaved,
			fieldCharsSaved:    res.Stats.CharsSaved,
		} {
			if _, err := tx.ExecContext(ctx, upsertCounter, name, delta); err != nil {
				return err
			}
		}

		row := entryRow{
			ID:           e.ID,
			TS:           e.Timestamp.UnixNano(),
			Level:        e.Level,
			TokensSaved:  e.TokensSaved,
			CharsSaved:   e.CharsSaved,
			PercentSaved: e.PercentSaved,
			RulesApplied: e.RulesApplied,
		}
		_, err := tx.NamedExecContext(ctx, `
			INSERT INTO entries (id, ts, level, tokens_saved, chars_saved, percent_saved, rules_applied)
			VALUES (:id, :ts, :level, :tokens_saved, :chars_saved, :percent_saved, :rules_applied)`, row)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			DELETE FROM entries WHERE id NOT IN (
				SELECT id FROM entries ORDER BY ts DESC, rowid DESC LIMIT ?
			)`, s.maxEntries)
		return err
	})
}

// Summary implements Sink.
func (s *SQLSink) Summary(ctx context.Context) (*Summary, error) {
	var counters []struct {
		Name  string `db:"name"`
		Value int64  `db:"value"`
	}
	if err := s.db.SelectContext(ctx, &counters, `SELECT name, value FROM counters`); err != nil {
		return nil, fmt.Errorf("failed to read stats: %w", err)
	}

	sum := &Summary{TopFindings: []FindingCount{}}
	for _, c := range counters {
		switch c.Name {
		case fieldScans:
			sum.TotalScans = c.Value
		case fieldOptimizations:
			sum.TotalOptimizations = c.Value
		case fieldTokensSaved:
			sum.TotalTokensSaved = c.Value
		case fieldCharsSaved:
			sum.TotalCharsSaved = c.Value
		case fieldDLPBlocks:
			sum.DLPBlocks = c.Value
		}
	}

	err := s.db.SelectContext(ctx, &sum.TopFindings,
		`SELECT rule_id, count FROM findings ORDER BY count DESC, rule_id ASC LIMIT ?`, topFindings)
	if err != nil {
		return nil, fmt.Errorf("failed to read findings: %w", err)
	}

	recent, err := s.Entries(ctx, Query{Limit: recentEntries})
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(recent)-1; i < j; i, j = i+1, j-1 {
		recent[i], recent[j] = recent[j], recent[i]
	}
	sum.RecentHistory = recent

	return sum, nil
}

// Entries implements Sink.
func (s *SQLSink) Entries(ctx context.Context, q Query) ([]Entry, error) {
	var (
		where []string
		args  []any
	)
	if !q.Since.IsZero() {
		where = append(where, "ts >= ?")
		args = append(args, q.Since.UnixNano())
	}
	if !q.Until.IsZero() {
		where = append(where, "ts <= ?")
		args = append(args, q.Until.UnixNano())
	}

	query := `SELECT id, ts, level, tokens_saved, chars_saved, percent_saved, rules_applied FROM entries`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	switch q.SortBy {
	case SortOldest:
		query += " ORDER BY ts ASC, rowid ASC"
	case SortTokensSaved:
		query += " ORDER BY tokens_saved DESC, ts ASC, rowid ASC"
	default:
		query += " ORDER BY ts DESC, rowid DESC"
	}
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	var rows []entryRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}

	entries := make([]Entry, len(rows))
	for i, r := range rows {
		entries[i] = r.entry()
	}
	return entries, nil
}

// Reset implements Sink.
func (s *SQLSink) Reset(ctx context.Context) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		for _, table := range []string{"counters", "findings", "entries"} {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return err
			}
		}
		return nil
	})
}

// Close implements Sink.
func (s *SQLSink) Close() error {
	return s.db.Close()
}

func (s *SQLSink) withTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("history write failed: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit history: %w", err)
	}
	return nil
}
