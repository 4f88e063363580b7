package dbt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildGraph wires a diamond with a source at the bottom:
//
//	raw.events -> stg_events -> fct_orders -> mart_revenue
//	                         -> fct_sessions -> mart_revenue
func buildGraph(t *testing.T) Graph {
	t.Helper()

	g := make(Graph)
	for _, name := range []string{"stg_events", "fct_orders", "fct_sessions", "mart_revenue"} {
		g[name] = newModel(name, "models/"+name+".sql")
	}
	link := func(child, parent string) {
		g[child].DependsOn[parent] = struct{}{}
		if p, ok := g[parent]; ok {
			p.ReferencedBy[child] = struct{}{}
		}
	}
	link("stg_events", "raw.events")
	link("fct_orders", "stg_events")
	link("fct_sessions", "stg_events")
	link("mart_revenue", "fct_orders")
	link("mart_revenue", "fct_sessions")
	return g
}

func TestGraphAncestors(t *testing.T) {
	g := buildGraph(t)

	assert.Equal(t, []string{"fct_orders", "fct_sessions", "raw.events", "stg_events"},
		g.Ancestors("mart_revenue", 0))
	assert.Equal(t, []string{"fct_orders", "fct_sessions"},
		g.Ancestors("mart_revenue", 1))
	assert.Empty(t, g.Ancestors("no_such_model", 0))
}

func TestGraphDescendants(t *testing.T) {
	g := buildGraph(t)

	assert.Equal(t, []string{"fct_orders", "fct_sessions", "mart_revenue"},
		g.Descendants("stg_events", 0))
	assert.Equal(t, []string{"fct_orders", "fct_sessions"},
		g.Descendants("stg_events", 1))
	assert.Empty(t, g.Descendants("mart_revenue", 0))
}

func TestGraphDependencyDepth(t *testing.T) {
	g := buildGraph(t)

	assert.Equal(t, 0, g.DependencyDepth("stg_events"), "source-only dependencies sit at depth zero")
	assert.Equal(t, 1, g.DependencyDepth("fct_orders"))
	assert.Equal(t, 2, g.DependencyDepth("mart_revenue"))
	assert.Equal(t, 0, g.DependencyDepth("no_such_model"))
}

func TestGraphDependencyDepth_CycleTerminates(t *testing.T) {
	g := make(Graph)
	g["a"] = newModel("a", "a.sql")
	g["b"] = newModel("b", "b.sql")
	g["a"].DependsOn["b"] = struct{}{}
	g["b"].DependsOn["a"] = struct{}{}

	// Malformed projects must not hang the traversal.
	assert.Equal(t, 1, g.DependencyDepth("a"))
}

func TestGraphPath(t *testing.T) {
	g := buildGraph(t)

	path := g.Path("stg_events", "mart_revenue")
	require.NotEmpty(t, path)
	assert.Equal(t, "stg_events", path[0])
	assert.Equal(t, "mart_revenue", path[len(path)-1])
	assert.Len(t, path, 3)

	assert.Equal(t, []string{"fct_orders"}, g.Path("fct_orders", "fct_orders"))
	assert.Nil(t, g.Path("fct_orders", "no_such_model"))

	lonely := newModel("lonely", "lonely.sql")
	g["lonely"] = lonely
	assert.Nil(t, g.Path("lonely", "mart_revenue"))
}

func TestModelNames(t *testing.T) {
	m := newModel("orders", "models/orders.sql")
	m.Database = "analytics"
	m.Schema = "marts"

	assert.Equal(t, "analytics.marts.orders", m.FullName())
	assert.Equal(t, "marts.orders", m.RelationName())
}
