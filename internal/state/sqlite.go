package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver (pure Go)

	"github.com/leapstack-labs/querysight/pkg/pattern"
)

// ErrNotFound is returned when a requested run does not exist.
var ErrNotFound = errors.New("state: run not found")

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

// NewSQLiteStore creates an unopened store. The logger may be nil.
func NewSQLiteStore(logger *slog.Logger) *SQLiteStore {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &SQLiteStore{logger: logger}
}

// Open opens the database at path (":memory:" for ephemeral use) and
// runs pending migrations.
func (s *SQLiteStore) Open(path string) error {
	dsn := path
	if path != ":memory:" {
		dsn = fmt.Sprintf("%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)", path)
	} else {
		dsn = ":memory:?_pragma=foreign_keys(1)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("open sqlite database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return fmt.Errorf("ping sqlite database: %w", err)
	}

	s.db = db
	s.path = path

	if err := s.Migrate(); err != nil {
		db.Close()
		return err
	}
	s.logger.Debug("opened state store", "path", path)
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// SaveRun persists a run and its patterns in one transaction.
func (s *SQLiteStore) SaveRun(ctx context.Context, run *Run) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (id, fingerprint, window_start, window_end, created_at, record_count, rejected_count)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Fingerprint, run.WindowStart.UTC(), run.WindowEnd.UTC(),
		run.CreatedAt, run.RecordCount, run.RejectedCount,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO run_patterns (run_id, fingerprint, pattern_key, example_query, frequency,
		   total_duration_ms, total_read_rows, total_read_bytes, memory_usage,
		   first_seen, last_seen, users, tables_accessed, models_used)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare pattern insert: %w", err)
	}
	defer stmt.Close()

	for _, p := range run.Patterns {
		users, err := json.Marshal(p.SortedUsers())
		if err != nil {
			return fmt.Errorf("encode users for %s: %w", p.Fingerprint, err)
		}
		tables, err := json.Marshal(p.SortedTables())
		if err != nil {
			return fmt.Errorf("encode tables for %s: %w", p.Fingerprint, err)
		}
		models, err := json.Marshal(p.SortedModels())
		if err != nil {
			return fmt.Errorf("encode models for %s: %w", p.Fingerprint, err)
		}

		_, err = stmt.ExecContext(ctx,
			run.ID, p.Fingerprint, p.Key, p.ExampleQuery, p.Frequency,
			p.TotalDurationMS, p.TotalReadRows, p.TotalReadBytes, p.MemoryUsage,
			nullTime(p.FirstSeen), nullTime(p.LastSeen),
			string(users), string(tables), string(models),
		)
		if err != nil {
			return fmt.Errorf("insert pattern %s: %w", p.Fingerprint, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save: %w", err)
	}
	s.logger.Info("saved analysis run",
		"run_id", run.ID, "fingerprint", run.Fingerprint, "patterns", len(run.Patterns))
	return nil
}

// GetRun loads a run and its patterns by id.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	run, err := s.scanRun(s.db.QueryRowContext(ctx,
		`SELECT id, fingerprint, window_start, window_end, created_at, record_count, rejected_count
		 FROM runs WHERE id = ?`, id))
	if err != nil {
		return nil, err
	}
	if err := s.loadPatterns(ctx, run); err != nil {
		return nil, err
	}
	return run, nil
}

// LatestRun loads the newest run for a fingerprint within maxAge.
func (s *SQLiteStore) LatestRun(ctx context.Context, fingerprint string, maxAge time.Duration) (*Run, error) {
	query := `SELECT id, fingerprint, window_start, window_end, created_at, record_count, rejected_count
		 FROM runs WHERE fingerprint = ?`
	args := []any{fingerprint}
	if maxAge > 0 {
		query += ` AND created_at >= ?`
		args = append(args, time.Now().UTC().Add(-maxAge))
	}
	query += ` ORDER BY created_at DESC LIMIT 1`

	run, err := s.scanRun(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		return nil, err
	}
	if err := s.loadPatterns(ctx, run); err != nil {
		return nil, err
	}
	return run, nil
}

// ListRuns returns run headers newest first, without patterns.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	query := `SELECT id, fingerprint, window_start, window_end, created_at, record_count, rejected_count
		 FROM runs ORDER BY created_at DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := s.scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// DeleteRun removes a run; its patterns go with it via the foreign key.
func (s *SQLiteStore) DeleteRun(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Evict removes runs created more than maxAge ago.
func (s *SQLiteStore) Evict(ctx context.Context, maxAge time.Duration) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM runs WHERE created_at < ?`, time.Now().UTC().Add(-maxAge))
	if err != nil {
		return 0, fmt.Errorf("evict runs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("evicted cached runs", "count", n, "max_age", maxAge)
	}
	return int(n), nil
}

// Clear removes every run.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM runs`); err != nil {
		return fmt.Errorf("clear runs: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *SQLiteStore) scanRun(row rowScanner) (*Run, error) {
	run := &Run{}
	err := row.Scan(&run.ID, &run.Fingerprint, &run.WindowStart, &run.WindowEnd,
		&run.CreatedAt, &run.RecordCount, &run.RejectedCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}
	return run, nil
}

func (s *SQLiteStore) loadPatterns(ctx context.Context, run *Run) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT fingerprint, pattern_key, example_query, frequency,
		   total_duration_ms, total_read_rows, total_read_bytes, memory_usage,
		   first_seen, last_seen, users, tables_accessed, models_used
		 FROM run_patterns WHERE run_id = ?
		 ORDER BY frequency DESC, pattern_key ASC`, run.ID)
	if err != nil {
		return fmt.Errorf("load patterns: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		p := &pattern.QueryPattern{}
		var firstSeen, lastSeen sql.NullTime
		var users, tables, models string

		if err := rows.Scan(&p.Fingerprint, &p.Key, &p.ExampleQuery, &p.Frequency,
			&p.TotalDurationMS, &p.TotalReadRows, &p.TotalReadBytes, &p.MemoryUsage,
			&firstSeen, &lastSeen, &users, &tables, &models,
		); err != nil {
			return fmt.Errorf("scan pattern: %w", err)
		}

		if firstSeen.Valid {
			p.FirstSeen = firstSeen.Time
		}
		if lastSeen.Valid {
			p.LastSeen = lastSeen.Time
		}
		if p.Frequency > 0 {
			n := float64(p.Frequency)
			p.AvgDurationMS = p.TotalDurationMS / n
			p.AvgReadRows = float64(p.TotalReadRows) / n
			p.AvgReadBytes = float64(p.TotalReadBytes) / n
		}

		var err error
		if p.Users, err = decodeSet(users); err != nil {
			return fmt.Errorf("decode users for %s: %w", p.Fingerprint, err)
		}
		if p.TablesAccessed, err = decodeSet(tables); err != nil {
			return fmt.Errorf("decode tables for %s: %w", p.Fingerprint, err)
		}
		if p.ModelsUsed, err = decodeSet(models); err != nil {
			return fmt.Errorf("decode models for %s: %w", p.Fingerprint, err)
		}

		run.Patterns = append(run.Patterns, p)
	}
	return rows.Err()
}

func decodeSet(encoded string) (map[string]struct{}, error) {
	var values []string
	if err := json.Unmarshal([]byte(encoded), &values); err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set, nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
