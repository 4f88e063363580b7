// Package dbt loads dbt project metadata and maps physical table names
// back to the models that produce them. It reads target/manifest.json
// when a compiled project is available and falls back to walking the
// models directory otherwise.
package dbt

import "sort"

// Model represents one dbt model and its position in the dependency
// graph. DependsOn holds upstream names; entries containing a dot are
// source references ("source_name.table"), plain entries are other
// models. ReferencedBy is the reverse edge set.
type Model struct {
	Name            string
	Path            string
	Database        string
	Schema          string
	Materialization string
	Columns         map[string]string
	Tests           []string
	DependsOn       map[string]struct{}
	ReferencedBy    map[string]struct{}
}

func newModel(name, path string) *Model {
	return &Model{
		Name:            name,
		Path:            path,
		Materialization: "view",
		Columns:         make(map[string]string),
		DependsOn:       make(map[string]struct{}),
		ReferencedBy:    make(map[string]struct{}),
	}
}

// FullName returns the database.schema.name form of the model's
// physical relation.
func (m *Model) FullName() string {
	return m.Database + "." + m.Schema + "." + m.Name
}

// RelationName returns the schema.name form.
func (m *Model) RelationName() string {
	return m.Schema + "." + m.Name
}

// Graph is the model set keyed by model name. Traversal results are
// sorted for deterministic output.
type Graph map[string]*Model

// Ancestors returns all upstream names reachable from the model,
// including source references. maxDepth <= 0 means unlimited.
func (g Graph) Ancestors(name string, maxDepth int) []string {
	return g.collect(name, maxDepth, func(m *Model) map[string]struct{} { return m.DependsOn })
}

// Descendants returns all downstream model names reachable from the
// model. maxDepth <= 0 means unlimited.
func (g Graph) Descendants(name string, maxDepth int) []string {
	return g.collect(name, maxDepth, func(m *Model) map[string]struct{} { return m.ReferencedBy })
}

func (g Graph) collect(name string, maxDepth int, edges func(*Model) map[string]struct{}) []string {
	seen := make(map[string]struct{})

	var walk func(id string, depth int)
	walk = func(id string, depth int) {
		m, ok := g[id]
		if !ok {
			return
		}
		for next := range edges(m) {
			if _, done := seen[next]; done {
				continue
			}
			seen[next] = struct{}{}
			if maxDepth <= 0 || depth+1 < maxDepth {
				walk(next, depth+1)
			}
		}
	}
	walk(name, 0)

	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// DependencyDepth returns how many model hops separate the model from
// raw data. Models depending only on sources (or on nothing) are depth
// zero. Unknown names and dependency cycles resolve to zero rather than
// recursing forever.
func (g Graph) DependencyDepth(name string) int {
	return g.depth(name, make(map[string]struct{}))
}

func (g Graph) depth(name string, visiting map[string]struct{}) int {
	m, ok := g[name]
	if !ok {
		return 0
	}
	if _, active := visiting[name]; active {
		return 0
	}
	visiting[name] = struct{}{}
	defer delete(visiting, name)

	maxDep := -1
	for dep := range m.DependsOn {
		if isSourceRef(dep) {
			continue
		}
		if d := g.depth(dep, visiting); d > maxDep {
			maxDep = d
		}
	}
	return maxDep + 1
}

// Path finds the shortest dependency path between two models, walking
// edges in either direction. It returns nil when no path exists.
func (g Graph) Path(from, to string) []string {
	if _, ok := g[from]; !ok {
		return nil
	}
	if _, ok := g[to]; !ok {
		return nil
	}

	visited := map[string]struct{}{from: {}}
	queue := [][]string{{from}}

	for len(queue) > 0 {
		path := queue[0]
		queue = queue[1:]
		current := path[len(path)-1]
		if current == to {
			return path
		}

		m := g[current]
		if m == nil {
			continue
		}
		for _, neighbors := range []map[string]struct{}{m.DependsOn, m.ReferencedBy} {
			for _, next := range sortedSet(neighbors) {
				if _, ok := g[next]; !ok {
					continue
				}
				if _, ok := visited[next]; ok {
					continue
				}
				visited[next] = struct{}{}
				queue = append(queue, append(append([]string{}, path...), next))
			}
		}
	}
	return nil
}

// Names returns all model names in sorted order.
func (g Graph) Names() []string {
	out := make([]string, 0, len(g))
	for name := range g {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func isSourceRef(dep string) bool {
	for i := 0; i < len(dep); i++ {
		if dep[i] == '.' {
			return true
		}
	}
	return false
}

func sortedSet(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
