package dbt

import (
	"sort"

	"github.com/leapstack-labs/querysight/pkg/pattern"
	"github.com/leapstack-labs/querysight/pkg/tables"
)

// criticalImpactThreshold is the minimum impact score for a used model
// to be reported as critical.
const criticalImpactThreshold = 3

// topModelCount caps the critical and bottleneck lists.
const topModelCount = 5

// ModelImpact ranks a used model by how much depends on it.
type ModelImpact struct {
	Name string
	// ImpactScore is descendant count plus the number of query patterns
	// touching the model.
	ImpactScore int
	Descendants int
	Depth       int
}

// ModelFanout flags a model sitting between multiple upstreams and
// multiple downstreams.
type ModelFanout struct {
	Name       string
	Upstream   int
	Downstream int
	Used       bool
}

// Coverage summarizes how much of a dbt project the observed query
// patterns actually exercise.
type Coverage struct {
	TotalModels     int
	UsedModels      []string
	UnusedModels    []string
	CoveredPct      float64
	UncoveredTables []string
	MaxDepth        int
	AvgDepth        float64
	CriticalModels  []ModelImpact
	Bottlenecks     []ModelFanout
}

// MapModels resolves each pattern's accessed tables through the lookup,
// adding hits to the pattern's mapped-model set. For every table, name
// variants are tried longest (most qualified) first and the first hit
// wins. The returned slice holds tables no variant could resolve,
// sorted and deduplicated.
func MapModels(patterns []*pattern.QueryPattern, lookup LookupFunc) []string {
	uncovered := make(map[string]struct{})

	for _, p := range patterns {
		for table := range p.TablesAccessed {
			resolved := false
			for _, variant := range tables.NameVariants(table) {
				if model, ok := lookup(variant); ok {
					p.ModelsUsed[model] = struct{}{}
					resolved = true
					break
				}
			}
			if !resolved {
				uncovered[table] = struct{}{}
			}
		}
	}
	return sortedSet(uncovered)
}

// ComputeCoverage maps the patterns through the mapper and derives
// coverage and dependency metrics over the model graph. Patterns are
// mutated: their mapped-model sets are filled in.
func ComputeCoverage(mapper *Mapper, patterns []*pattern.QueryPattern) *Coverage {
	cov := &Coverage{
		UncoveredTables: MapModels(patterns, mapper.Lookup),
	}

	models := mapper.Models()
	cov.TotalModels = len(models)

	// A used model pulls in its direct upstream models: serving the
	// pattern requires them to be built too.
	used := make(map[string]struct{})
	patternHits := make(map[string]int)
	for _, p := range patterns {
		for name := range p.ModelsUsed {
			patternHits[name]++
			if _, ok := models[name]; !ok {
				continue
			}
			used[name] = struct{}{}
			for dep := range models[name].DependsOn {
				if _, ok := models[dep]; ok {
					used[dep] = struct{}{}
				}
			}
		}
	}

	unused := make(map[string]struct{})
	for name := range models {
		if _, ok := used[name]; !ok {
			unused[name] = struct{}{}
		}
	}
	cov.UsedModels = sortedSet(used)
	cov.UnusedModels = sortedSet(unused)
	if cov.TotalModels > 0 {
		cov.CoveredPct = float64(len(used)) / float64(cov.TotalModels) * 100
	}

	if len(models) == 0 {
		return cov
	}

	var depthSum int
	for _, name := range models.Names() {
		model := models[name]
		depth := models.DependencyDepth(name)
		depthSum += depth
		if depth > cov.MaxDepth {
			cov.MaxDepth = depth
		}

		descendants := len(models.Descendants(name, 0))
		impact := descendants + patternHits[name]
		_, isUsed := used[name]

		if isUsed && impact > criticalImpactThreshold {
			cov.CriticalModels = append(cov.CriticalModels, ModelImpact{
				Name:        name,
				ImpactScore: impact,
				Descendants: descendants,
				Depth:       depth,
			})
		}
		if len(model.DependsOn) > 1 && len(model.ReferencedBy) > 1 {
			cov.Bottlenecks = append(cov.Bottlenecks, ModelFanout{
				Name:       name,
				Upstream:   len(model.DependsOn),
				Downstream: len(model.ReferencedBy),
				Used:       isUsed,
			})
		}
	}
	cov.AvgDepth = float64(depthSum) / float64(len(models))

	sort.Slice(cov.CriticalModels, func(i, j int) bool {
		if cov.CriticalModels[i].ImpactScore != cov.CriticalModels[j].ImpactScore {
			return cov.CriticalModels[i].ImpactScore > cov.CriticalModels[j].ImpactScore
		}
		return cov.CriticalModels[i].Name < cov.CriticalModels[j].Name
	})
	sort.Slice(cov.Bottlenecks, func(i, j int) bool {
		fi := cov.Bottlenecks[i].Upstream + cov.Bottlenecks[i].Downstream
		fj := cov.Bottlenecks[j].Upstream + cov.Bottlenecks[j].Downstream
		if fi != fj {
			return fi > fj
		}
		return cov.Bottlenecks[i].Name < cov.Bottlenecks[j].Name
	})
	if len(cov.CriticalModels) > topModelCount {
		cov.CriticalModels = cov.CriticalModels[:topModelCount]
	}
	if len(cov.Bottlenecks) > topModelCount {
		cov.Bottlenecks = cov.Bottlenecks[:topModelCount]
	}

	return cov
}
