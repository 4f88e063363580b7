package pattern

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ValidationError reports a record rejected from aggregation. It is
// always non-fatal: the batch continues without the record.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid record: " + e.Reason
}

// Aggregator folds records into pattern records keyed by query shape.
// It is not safe for concurrent use; shard the batch and merge the
// aggregators instead (see AnalyzeRecords).
type Aggregator struct {
	patterns map[string]*QueryPattern
	rejected int
}

// NewAggregator creates an empty Aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{patterns: make(map[string]*QueryPattern)}
}

// Add folds one record into the aggregate. A record with an empty query
// or a malformed metric is rejected with a *ValidationError; the
// aggregator state is unchanged and later Adds proceed normally.
func (a *Aggregator) Add(rec Record) error {
	if err := validate(rec); err != nil {
		a.rejected++
		return err
	}

	key := NormalizeShape(rec.Query)
	if p, ok := a.patterns[key]; ok {
		p.update(rec)
		return nil
	}
	a.patterns[key] = newQueryPattern(key, rec)
	return nil
}

func validate(rec Record) error {
	if rec.Query == "" {
		return &ValidationError{Reason: "empty query text"}
	}
	if math.IsNaN(rec.DurationMS) || math.IsInf(rec.DurationMS, 0) || rec.DurationMS < 0 {
		return &ValidationError{Reason: fmt.Sprintf("bad duration %v", rec.DurationMS)}
	}
	if rec.ReadRows < 0 {
		return &ValidationError{Reason: fmt.Sprintf("negative read_rows %d", rec.ReadRows)}
	}
	if rec.ReadBytes < 0 {
		return &ValidationError{Reason: fmt.Sprintf("negative read_bytes %d", rec.ReadBytes)}
	}
	return nil
}

// Merge folds another aggregator into this one key by key, summing
// frequencies and totals, unioning sets, and keeping min/max seen
// timestamps. Merging is associative and commutative (up to
// floating-point rounding), so any sharding of a batch yields the same
// final pattern set.
func (a *Aggregator) Merge(other *Aggregator) {
	for key, op := range other.patterns {
		if p, ok := a.patterns[key]; ok {
			p.merge(op)
			continue
		}
		a.patterns[key] = op
	}
	a.rejected += other.rejected
}

// Len returns the number of distinct patterns seen so far.
func (a *Aggregator) Len() int {
	return len(a.patterns)
}

// Rejected returns how many records failed validation.
func (a *Aggregator) Rejected() int {
	return a.rejected
}

// Patterns returns the aggregated patterns with frequency >= minFrequency
// (values below 1 mean no threshold), sorted by frequency descending with
// ties broken by key ascending for deterministic output.
func (a *Aggregator) Patterns(minFrequency int) []*QueryPattern {
	out := make([]*QueryPattern, 0, len(a.patterns))
	for _, p := range a.patterns {
		if minFrequency > 1 && p.Frequency < minFrequency {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Frequency != out[j].Frequency {
			return out[i].Frequency > out[j].Frequency
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// AnalyzeRecords aggregates a batch, sharding it across workers and
// merging the partial results. workers <= 0 uses one worker per CPU.
// Invalid records are counted and skipped, never fatal. The returned
// slice is sorted as in Patterns.
func AnalyzeRecords(ctx context.Context, records []Record, minFrequency, workers int) ([]*QueryPattern, int, error) {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > len(records) {
		workers = len(records)
	}
	if len(records) == 0 {
		return nil, 0, nil
	}
	if workers <= 1 {
		agg := NewAggregator()
		for _, rec := range records {
			_ = agg.Add(rec) // counted via Rejected
		}
		return agg.Patterns(minFrequency), agg.Rejected(), nil
	}

	var (
		mu    sync.Mutex
		total = NewAggregator()
	)

	g, _ := errgroup.WithContext(ctx)
	chunk := (len(records) + workers - 1) / workers
	for start := 0; start < len(records); start += chunk {
		end := start + chunk
		if end > len(records) {
			end = len(records)
		}
		shard := records[start:end]
		g.Go(func() error {
			agg := NewAggregator()
			for _, rec := range shard {
				_ = agg.Add(rec)
			}
			mu.Lock()
			total.Merge(agg)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}
	return total.Patterns(minFrequency), total.Rejected(), nil
}
