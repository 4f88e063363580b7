// Package querylog retrieves query execution history from ClickHouse's
// system.query_log table. Filtering happens server-side where possible
// so large windows stay cheap to pull.
package querylog

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"database/sql"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
)

// Focus selects which slice of the query traffic to retrieve.
type Focus string

const (
	FocusAll  Focus = "all"
	FocusSlow Focus = "slow"
	// FocusFrequent retrieves everything; frequency ranking happens
	// during aggregation, not in the warehouse.
	FocusFrequent Focus = "frequent"
)

// slowThresholdMS is the duration floor applied by FocusSlow.
const slowThresholdMS = 1000

// Config holds ClickHouse connection settings.
type Config struct {
	Host     string
	Port     int
	Database string
	Username string
	Password string
	Secure   bool

	DialTimeout time.Duration
}

// Record is one row of system.query_log in the shape the analyzer
// consumes.
type Record struct {
	QueryID             string
	Query               string
	Kind                string
	User                string
	StartedAt           time.Time
	DurationMS          float64
	ReadRows            int64
	ReadBytes           int64
	ResultRows          int64
	ResultBytes         int64
	MemoryUsage         int64
	NormalizedQueryHash string
	// Tables holds the table names ClickHouse itself attributed to the
	// query; the SQL-level extraction supplements these.
	Tables []string
}

// Filter bounds a retrieval: the time window plus server-side
// predicates.
type Filter struct {
	Start time.Time
	End   time.Time

	IncludeUsers     []string
	ExcludeUsers     []string
	IncludeDatabases []string
	ExcludeDatabases []string
	// Kinds limits query_kind values ("Select", "Insert", ...).
	Kinds []string
	Focus Focus
	// SampleFraction in (0,1) keeps a deterministic hash-based sample
	// of matching rows; 0 or 1 retrieves everything.
	SampleFraction float64
	// Limit caps the number of rows; 0 means unlimited.
	Limit int
}

// Validate reports a filter that cannot express a retrieval.
func (f Filter) Validate() error {
	if f.Start.IsZero() || f.End.IsZero() {
		return fmt.Errorf("querylog: window start and end are required")
	}
	if !f.End.After(f.Start) {
		return fmt.Errorf("querylog: window end %s is not after start %s", f.End, f.Start)
	}
	if f.SampleFraction < 0 || f.SampleFraction > 1 {
		return fmt.Errorf("querylog: sample fraction %v outside [0,1]", f.SampleFraction)
	}
	return nil
}

// Fingerprint returns a stable hash of the filter, used as the cache
// key for retrievals of the same window and predicates.
func (f Filter) Fingerprint() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d|%d|%v|%v|%v|%v|%v|%s|%v|%d",
		f.Start.UTC().Unix(), f.End.UTC().Unix(),
		f.IncludeUsers, f.ExcludeUsers,
		f.IncludeDatabases, f.ExcludeDatabases,
		f.Kinds, f.Focus, f.SampleFraction, f.Limit)
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:8])
}

// Client reads system.query_log over database/sql.
type Client struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewClient opens a ClickHouse connection. The logger may be nil.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	opts := &clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		DialTimeout: cfg.DialTimeout,
	}
	if cfg.Secure {
		opts.Protocol = clickhouse.Native
		opts.TLS = &tls.Config{}
	}
	return NewClientWithDB(clickhouse.OpenDB(opts), logger)
}

// NewClientWithDB wraps an existing connection. Used by tests and by
// callers that manage pooling themselves.
func NewClientWithDB(db *sql.DB, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Client{db: db, logger: logger}
}

// Ping verifies connectivity.
func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// Close releases the connection pool.
func (c *Client) Close() error {
	return c.db.Close()
}

// RetrieveQueryLogs pulls finished initial queries matching the filter,
// ordered by start time.
func (c *Client) RetrieveQueryLogs(ctx context.Context, f Filter) ([]Record, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	query, args := buildQuery(f)
	c.logger.Debug("retrieving query logs",
		"start", f.Start, "end", f.End, "fingerprint", f.Fingerprint())

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query system.query_log: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(
			&r.QueryID, &r.Query, &r.Kind, &r.User, &r.StartedAt,
			&r.DurationMS, &r.ReadRows, &r.ReadBytes,
			&r.ResultRows, &r.ResultBytes, &r.MemoryUsage,
			&r.NormalizedQueryHash, &r.Tables,
		); err != nil {
			return nil, fmt.Errorf("scan query_log row: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read query_log rows: %w", err)
	}

	c.logger.Info("retrieved query logs", "rows", len(records))
	return records, nil
}

func buildQuery(f Filter) (string, []any) {
	var b strings.Builder
	var args []any

	b.WriteString(`SELECT
	query_id, query, query_kind, user, query_start_time,
	query_duration_ms, read_rows, read_bytes,
	result_rows, result_bytes, memory_usage,
	toString(normalized_query_hash), tables
FROM system.query_log
WHERE type = 'QueryFinish'
  AND is_initial_query = 1
  AND query_start_time >= ?
  AND query_start_time < ?`)
	args = append(args, f.Start, f.End)

	addIn := func(column string, values []string, negate bool) {
		if len(values) == 0 {
			return
		}
		op := "IN"
		if negate {
			op = "NOT IN"
		}
		fmt.Fprintf(&b, "\n  AND %s %s (%s)", column, op, placeholders(len(values)))
		for _, v := range values {
			args = append(args, v)
		}
	}

	addIn("user", f.IncludeUsers, false)
	addIn("user", f.ExcludeUsers, true)
	addIn("current_database", f.IncludeDatabases, false)
	addIn("current_database", f.ExcludeDatabases, true)
	addIn("query_kind", f.Kinds, false)

	if f.Focus == FocusSlow {
		b.WriteString("\n  AND query_duration_ms >= ?")
		args = append(args, slowThresholdMS)
	}
	if f.SampleFraction > 0 && f.SampleFraction < 1 {
		// Hash-based sampling keeps repeated retrievals of the same
		// window stable.
		b.WriteString("\n  AND sipHash64(query_id) % 1000 < ?")
		args = append(args, int64(f.SampleFraction*1000))
	}

	b.WriteString("\nORDER BY query_start_time")
	if f.Limit > 0 {
		b.WriteString("\nLIMIT ?")
		args = append(args, f.Limit)
	}

	return b.String(), args
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
