// Package state persists analysis runs to SQLite so repeated analyses
// of the same query-log window can reuse cached patterns instead of
// hitting the warehouse again.
package state

import (
	"context"
	"time"

	"github.com/leapstack-labs/querysight/pkg/pattern"
)

// Run is one persisted analysis: the retrieval window it covered and
// the patterns it produced. Fingerprint identifies the retrieval filter
// that generated it.
type Run struct {
	ID            string
	Fingerprint   string
	WindowStart   time.Time
	WindowEnd     time.Time
	CreatedAt     time.Time
	RecordCount   int
	RejectedCount int
	Patterns      []*pattern.QueryPattern
}

// Age returns how long ago the run was created.
func (r *Run) Age() time.Duration {
	return time.Since(r.CreatedAt)
}

// Store is the persistence interface for analysis runs.
type Store interface {
	// SaveRun persists a run and its patterns. A missing ID or
	// CreatedAt is filled in.
	SaveRun(ctx context.Context, run *Run) error

	// GetRun loads a run with its patterns. Returns ErrNotFound when
	// the id is unknown.
	GetRun(ctx context.Context, id string) (*Run, error)

	// LatestRun loads the newest run for a filter fingerprint no older
	// than maxAge (maxAge <= 0 means any age). Returns ErrNotFound when
	// nothing qualifies.
	LatestRun(ctx context.Context, fingerprint string, maxAge time.Duration) (*Run, error)

	// ListRuns returns run headers (no patterns) newest first. limit <=
	// 0 means all.
	ListRuns(ctx context.Context, limit int) ([]*Run, error)

	// DeleteRun removes a run and its patterns.
	DeleteRun(ctx context.Context, id string) error

	// Evict removes runs older than maxAge, returning how many were
	// deleted.
	Evict(ctx context.Context, maxAge time.Duration) (int, error)

	// Clear removes all runs.
	Clear(ctx context.Context) error

	Close() error
}
