package pattern

import "strings"

// Criteria selects a subset of aggregated patterns. Zero values mean "no
// constraint"; all set constraints must hold for a pattern to pass.
type Criteria struct {
	// Fingerprints keeps only patterns whose fingerprint is listed.
	Fingerprints []string
	// MinFrequency keeps patterns seen at least this many times.
	MinFrequency int
	// MinAvgDurationMS keeps patterns at or above this average duration.
	MinAvgDurationMS float64
	// Users keeps patterns run by at least one of the listed users.
	Users []string
	// Table keeps patterns whose accessed tables contain this substring.
	Table string
}

// Filter returns the patterns matching the criteria, preserving order.
func Filter(patterns []*QueryPattern, c Criteria) []*QueryPattern {
	var out []*QueryPattern
	for _, p := range patterns {
		if c.matches(p) {
			out = append(out, p)
		}
	}
	return out
}

func (c Criteria) matches(p *QueryPattern) bool {
	if len(c.Fingerprints) > 0 && !containsString(c.Fingerprints, p.Fingerprint) {
		return false
	}
	if c.MinFrequency > 0 && p.Frequency < c.MinFrequency {
		return false
	}
	if c.MinAvgDurationMS > 0 && p.AvgDurationMS < c.MinAvgDurationMS {
		return false
	}
	if len(c.Users) > 0 {
		found := false
		for _, u := range c.Users {
			if _, ok := p.Users[u]; ok {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if c.Table != "" {
		needle := strings.ToLower(c.Table)
		found := false
		for tbl := range p.TablesAccessed {
			if strings.Contains(tbl, needle) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
