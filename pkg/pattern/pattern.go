package pattern

import (
	"sort"
	"time"
)

// Record is one query-execution observation: the raw text plus its
// runtime metrics. Tables holds the extracted table-name variants for the
// query, if the caller ran extraction.
type Record struct {
	Query       string
	User        string
	StartedAt   time.Time
	DurationMS  float64
	ReadRows    int64
	ReadBytes   int64
	MemoryUsage int64
	Tables      []string
}

// QueryPattern is the aggregated record for one pattern key. It is
// created on first sight of the key and mutated in place for every later
// record sharing it. The averages always equal total/frequency, and
// TablesAccessed only ever grows.
type QueryPattern struct {
	Key          string
	Fingerprint  string
	ExampleQuery string

	Frequency int

	TotalDurationMS float64
	AvgDurationMS   float64
	TotalReadRows   int64
	AvgReadRows     float64
	TotalReadBytes  int64
	AvgReadBytes    float64
	MemoryUsage     int64

	FirstSeen time.Time
	LastSeen  time.Time

	Users          map[string]struct{}
	TablesAccessed map[string]struct{}
	ModelsUsed     map[string]struct{}
}

// newQueryPattern creates a pattern from its first record.
func newQueryPattern(key string, rec Record) *QueryPattern {
	p := &QueryPattern{
		Key:            key,
		Fingerprint:    Fingerprint(key),
		ExampleQuery:   rec.Query,
		Users:          make(map[string]struct{}),
		TablesAccessed: make(map[string]struct{}),
		ModelsUsed:     make(map[string]struct{}),
	}
	p.update(rec)
	return p
}

// update folds one record into the pattern.
func (p *QueryPattern) update(rec Record) {
	p.Frequency++
	p.TotalDurationMS += rec.DurationMS
	p.TotalReadRows += rec.ReadRows
	p.TotalReadBytes += rec.ReadBytes
	p.MemoryUsage += rec.MemoryUsage
	p.recomputeAverages()

	if rec.User != "" {
		p.Users[rec.User] = struct{}{}
	}
	for _, tbl := range rec.Tables {
		p.TablesAccessed[tbl] = struct{}{}
	}

	if !rec.StartedAt.IsZero() {
		if p.FirstSeen.IsZero() || rec.StartedAt.Before(p.FirstSeen) {
			p.FirstSeen = rec.StartedAt
		}
		if p.LastSeen.IsZero() || rec.StartedAt.After(p.LastSeen) {
			p.LastSeen = rec.StartedAt
		}
	}
}

// merge folds another pattern for the same key into this one, preserving
// history from both sides. The receiver keeps its example query.
func (p *QueryPattern) merge(other *QueryPattern) {
	p.Frequency += other.Frequency
	p.TotalDurationMS += other.TotalDurationMS
	p.TotalReadRows += other.TotalReadRows
	p.TotalReadBytes += other.TotalReadBytes
	p.MemoryUsage += other.MemoryUsage
	p.recomputeAverages()

	for u := range other.Users {
		p.Users[u] = struct{}{}
	}
	for tbl := range other.TablesAccessed {
		p.TablesAccessed[tbl] = struct{}{}
	}
	for m := range other.ModelsUsed {
		p.ModelsUsed[m] = struct{}{}
	}

	if !other.FirstSeen.IsZero() && (p.FirstSeen.IsZero() || other.FirstSeen.Before(p.FirstSeen)) {
		p.FirstSeen = other.FirstSeen
	}
	if !other.LastSeen.IsZero() && (p.LastSeen.IsZero() || other.LastSeen.After(p.LastSeen)) {
		p.LastSeen = other.LastSeen
	}
}

func (p *QueryPattern) recomputeAverages() {
	if p.Frequency == 0 {
		return
	}
	n := float64(p.Frequency)
	p.AvgDurationMS = p.TotalDurationMS / n
	p.AvgReadRows = float64(p.TotalReadRows) / n
	p.AvgReadBytes = float64(p.TotalReadBytes) / n
}

// SortedUsers returns the user set as a sorted slice.
func (p *QueryPattern) SortedUsers() []string {
	return sortedKeys(p.Users)
}

// SortedTables returns the accessed-table set as a sorted slice.
func (p *QueryPattern) SortedTables() []string {
	return sortedKeys(p.TablesAccessed)
}

// SortedModels returns the mapped-model set as a sorted slice.
func (p *QueryPattern) SortedModels() []string {
	return sortedKeys(p.ModelsUsed)
}

// ComplexityScore is a weighted 0..1 score combining duration, frequency
// and table fan-out, used to rank patterns for review.
func (p *QueryPattern) ComplexityScore() float64 {
	durationWeight := min(p.AvgDurationMS/1000, 1.0)
	frequencyWeight := min(float64(p.Frequency)/100, 1.0)
	tableWeight := min(float64(len(p.TablesAccessed))/5, 1.0)
	return durationWeight*0.4 + frequencyWeight*0.4 + tableWeight*0.2
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
