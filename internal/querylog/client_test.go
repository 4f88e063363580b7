package querylog

import (
	"context"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func window(t *testing.T) Filter {
	t.Helper()
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	return Filter{Start: start, End: start.Add(24 * time.Hour)}
}

var logColumns = []string{
	"query_id", "query", "query_kind", "user", "query_start_time",
	"query_duration_ms", "read_rows", "read_bytes",
	"result_rows", "result_bytes", "memory_usage",
	"normalized_query_hash", "tables",
}

func TestRetrieveQueryLogs(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	f := window(t)
	started := f.Start.Add(2 * time.Hour)

	mock.ExpectQuery(regexp.QuoteMeta("FROM system.query_log")).
		WithArgs(f.Start, f.End).
		WillReturnRows(sqlmock.NewRows(logColumns).
			AddRow("q1", "SELECT * FROM t WHERE id=1", "Select", "alice", started,
				120.5, int64(1000), int64(4096), int64(10), int64(512), int64(1 << 20),
				"hash1", []string{"shop.t"}).
			AddRow("q2", "INSERT INTO t VALUES", "Insert", "bob", started.Add(time.Minute),
				80.0, int64(0), int64(0), int64(0), int64(0), int64(2048),
				"hash2", []string{}))

	client := NewClientWithDB(db, nil)
	records, err := client.RetrieveQueryLogs(context.Background(), f)
	require.NoError(t, err)
	require.Len(t, records, 2)

	first := records[0]
	assert.Equal(t, "q1", first.QueryID)
	assert.Equal(t, "SELECT * FROM t WHERE id=1", first.Query)
	assert.Equal(t, "Select", first.Kind)
	assert.Equal(t, "alice", first.User)
	assert.Equal(t, started, first.StartedAt)
	assert.InDelta(t, 120.5, first.DurationMS, 1e-9)
	assert.Equal(t, int64(1000), first.ReadRows)
	assert.Equal(t, []string{"shop.t"}, first.Tables)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRetrieveQueryLogs_QueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("FROM system.query_log")).
		WillReturnError(assert.AnError)

	client := NewClientWithDB(db, nil)
	_, err = client.RetrieveQueryLogs(context.Background(), window(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, assert.AnError)
}

func TestRetrieveQueryLogs_InvalidFilter(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	client := NewClientWithDB(db, nil)
	_, err = client.RetrieveQueryLogs(context.Background(), Filter{})
	require.Error(t, err)
}

func TestBuildQuery_Pushdown(t *testing.T) {
	f := window(t)
	f.IncludeUsers = []string{"alice", "bob"}
	f.ExcludeUsers = []string{"system"}
	f.IncludeDatabases = []string{"shop"}
	f.Kinds = []string{"Select"}
	f.Focus = FocusSlow
	f.SampleFraction = 0.1
	f.Limit = 500

	query, args := buildQuery(f)

	assert.Contains(t, query, "user IN (?, ?)")
	assert.Contains(t, query, "user NOT IN (?)")
	assert.Contains(t, query, "current_database IN (?)")
	assert.Contains(t, query, "query_kind IN (?)")
	assert.Contains(t, query, "query_duration_ms >= ?")
	assert.Contains(t, query, "sipHash64(query_id) % 1000 < ?")
	assert.Contains(t, query, "LIMIT ?")

	// window(2) + users(3) + database(1) + kind(1) + slow(1) + sample(1) + limit(1)
	assert.Len(t, args, 10)
	assert.Equal(t, int64(100), args[8], "sample fraction scaled to per-mille")
	assert.Equal(t, 500, args[9])

	assert.Equal(t, strings.Count(query, "?"), len(args))
}

func TestBuildQuery_MinimalFilter(t *testing.T) {
	query, args := buildQuery(window(t))

	assert.NotContains(t, query, "IN (")
	assert.NotContains(t, query, "LIMIT")
	assert.NotContains(t, query, "sipHash64")
	assert.Len(t, args, 2)
}

func TestFilterValidate(t *testing.T) {
	f := window(t)
	require.NoError(t, f.Validate())

	bad := f
	bad.End = bad.Start
	assert.Error(t, bad.Validate())

	bad = f
	bad.SampleFraction = 1.5
	assert.Error(t, bad.Validate())

	assert.Error(t, Filter{}.Validate())
}

func TestFilterFingerprint(t *testing.T) {
	f := window(t)
	assert.Equal(t, f.Fingerprint(), f.Fingerprint())
	assert.Len(t, f.Fingerprint(), 16)

	other := f
	other.Focus = FocusSlow
	assert.NotEqual(t, f.Fingerprint(), other.Fingerprint())

	other = f
	other.IncludeUsers = []string{"alice"}
	assert.NotEqual(t, f.Fingerprint(), other.Fingerprint())
}
