package tables

import (
	"reflect"
	"testing"
)

func has(refs []string, name string) bool {
	for _, r := range refs {
		if r == name {
			return true
		}
	}
	return false
}

func TestExtract_SimpleQualifiedTable(t *testing.T) {
	refs := Extract("SELECT * FROM my_schema.my_table")
	want := []string{"my_schema.my_table", "my_table"}
	for _, w := range want {
		if !has(refs, w) {
			t.Errorf("missing %q in %v", w, refs)
		}
	}
	if len(refs) != len(want) {
		t.Errorf("expected exactly %v, got %v", want, refs)
	}
}

func TestExtract_CTENotReported(t *testing.T) {
	refs := Extract("WITH cte AS (SELECT * FROM a.b) SELECT * FROM cte JOIN c.d ON 1=1")
	want := []string{"a.b", "b", "c.d", "d"}
	if !reflect.DeepEqual(refs, want) {
		t.Errorf("expected %v, got %v", want, refs)
	}
	if has(refs, "cte") {
		t.Errorf("CTE name leaked into result: %v", refs)
	}
}

func TestExtract_MultipleCTEs(t *testing.T) {
	sql := `WITH
		first AS (SELECT * FROM raw.events),
		second AS (SELECT * FROM first JOIN raw.users ON 1=1)
	SELECT * FROM second`
	refs := Extract(sql)
	for _, w := range []string{"raw.events", "events", "raw.users", "users"} {
		if !has(refs, w) {
			t.Errorf("missing %q in %v", w, refs)
		}
	}
	if has(refs, "first") || has(refs, "second") {
		t.Errorf("CTE names leaked: %v", refs)
	}
}

func TestExtract_NestedCTEScoping(t *testing.T) {
	// The inner CTE name is scoped to the outer CTE's body only. The main
	// statement's FROM inner must be treated as a real table.
	sql := `WITH outer_cte AS (
		WITH inner_cte AS (SELECT * FROM deep.tbl)
		SELECT * FROM inner_cte
	)
	SELECT * FROM outer_cte JOIN inner_cte ON 1=1`
	refs := Extract(sql)
	if !has(refs, "deep.tbl") {
		t.Errorf("missing table from nested CTE body: %v", refs)
	}
	if has(refs, "outer_cte") {
		t.Errorf("outer CTE leaked: %v", refs)
	}
	// inner_cte is out of scope at the top level, so the trailing join
	// references an actual table of that name.
	if !has(refs, "inner_cte") {
		t.Errorf("inner CTE name incorrectly suppressed outside its scope: %v", refs)
	}
}

func TestExtract_RecursiveCTE(t *testing.T) {
	sql := `WITH RECURSIVE walk AS (SELECT id FROM graph.edges UNION ALL SELECT id FROM walk) SELECT * FROM walk`
	refs := Extract(sql)
	if has(refs, "walk") {
		t.Errorf("recursive CTE name leaked: %v", refs)
	}
	if !has(refs, "graph.edges") {
		t.Errorf("missing real table: %v", refs)
	}
}

func TestExtract_Subquery(t *testing.T) {
	refs := Extract("SELECT * FROM (SELECT * FROM inner_schema.inner_table) sub")
	for _, w := range []string{"inner_schema.inner_table", "inner_table"} {
		if !has(refs, w) {
			t.Errorf("missing %q in %v", w, refs)
		}
	}
	if has(refs, "sub") {
		t.Errorf("alias reported as table: %v", refs)
	}
}

func TestExtract_CommaSeparatedList(t *testing.T) {
	refs := Extract("SELECT * FROM s1.a x, s2.b y, s3.c WHERE x.id = y.id")
	for _, w := range []string{"s1.a", "a", "s2.b", "b", "s3.c", "c"} {
		if !has(refs, w) {
			t.Errorf("missing %q in %v", w, refs)
		}
	}
	if has(refs, "x") || has(refs, "y") {
		t.Errorf("alias reported as table: %v", refs)
	}
}

func TestExtract_MacroInCommaList(t *testing.T) {
	// ref/source contribute their targets even as non-first list members;
	// the function names themselves are never table references.
	refs := Extract("SELECT * FROM s.a, ref('stg_orders')")
	if !has(refs, "stg_orders") {
		t.Errorf("ref() target missing from comma list: %v", refs)
	}
	if has(refs, "ref") {
		t.Errorf("function name reported as table: %v", refs)
	}

	refs = Extract("SELECT * FROM s.a, source('raw', 'events'), s2.b")
	for _, w := range []string{"s.a", "raw.events", "s2.b"} {
		if !has(refs, w) {
			t.Errorf("missing %q in %v", w, refs)
		}
	}
	if has(refs, "source") {
		t.Errorf("function name reported as table: %v", refs)
	}
}

func TestExtract_SubqueryHeadsCommaList(t *testing.T) {
	refs := Extract("SELECT * FROM (SELECT 1) x, s2.b y")
	for _, w := range []string{"s2.b", "b"} {
		if !has(refs, w) {
			t.Errorf("missing %q in %v", w, refs)
		}
	}
	if has(refs, "x") || has(refs, "y") {
		t.Errorf("alias reported as table: %v", refs)
	}
}

func TestExtract_JoinVariants(t *testing.T) {
	sql := `SELECT * FROM base.t
		LEFT JOIN l.a ON 1=1
		INNER JOIN i.b ON 1=1
		GLOBAL ANY LEFT JOIN g.c USING (id)`
	refs := Extract(sql)
	for _, w := range []string{"base.t", "l.a", "i.b", "g.c"} {
		if !has(refs, w) {
			t.Errorf("missing %q in %v", w, refs)
		}
	}
	// Columns in ON/USING clauses are not table references.
	if has(refs, "id") {
		t.Errorf("join condition column leaked: %v", refs)
	}
}

func TestExtract_RefMacro(t *testing.T) {
	refs := Extract("SELECT * FROM ref('stg_orders')")
	if !has(refs, "stg_orders") {
		t.Errorf("ref() target missing: %v", refs)
	}
}

func TestExtract_SourceMacro(t *testing.T) {
	refs := Extract("SELECT * FROM source('raw', 'events')")
	if !has(refs, "raw.events") {
		t.Errorf("source() target missing: %v", refs)
	}
}

func TestExtract_TemplatedMacros(t *testing.T) {
	// Uncompiled dbt model SQL wraps macros in template braces.
	sql := `select o.id from {{ ref('stg_orders') }} o
		join {{ source('raw', 'events') }} e on e.order_id = o.id`
	refs := Extract(sql)
	if !has(refs, "stg_orders") {
		t.Errorf("templated ref() missing: %v", refs)
	}
	if !has(refs, "raw.events") {
		t.Errorf("templated source() missing: %v", refs)
	}
	for _, r := range refs {
		if r == "{{" || r == "}}" {
			t.Errorf("template braces leaked into references: %v", refs)
		}
	}
}

func TestExtract_MacrosOutsideFromClause(t *testing.T) {
	// ref/source denote a structural dependency wherever they appear.
	sql := `SELECT id, (SELECT count() FROM ref('dim_users')) AS n
		FROM t WHERE x IN (SELECT y FROM source('raw', 'blocked'))`
	refs := Extract(sql)
	if !has(refs, "dim_users") {
		t.Errorf("ref() outside FROM missing: %v", refs)
	}
	if !has(refs, "raw.blocked") {
		t.Errorf("source() outside FROM missing: %v", refs)
	}
}

func TestExtract_DictLookupAllowList(t *testing.T) {
	sql := `SELECT dictGetString('dicts.geo', 'name', id) FROM hits.events`
	refs := Extract(sql)
	if !has(refs, "dicts.geo") {
		t.Errorf("dictGet* dependency missing: %v", refs)
	}
	if !has(refs, "hits.events") {
		t.Errorf("FROM table missing: %v", refs)
	}
}

func TestExtract_LookupAllowListDisabled(t *testing.T) {
	e := NewExtractor(Options{})
	refs := e.Extract("SELECT dictGet('dicts.geo', 'name', id) FROM t")
	if has(refs, "dicts.geo") {
		t.Errorf("disabled lookup allow-list still contributed: %v", refs)
	}
	if !has(refs, "t") {
		t.Errorf("FROM table missing: %v", refs)
	}
}

func TestExtract_CustomLookupFunction(t *testing.T) {
	e := NewExtractor(Options{LookupFunctions: []string{"cached_lookup"}})
	refs := e.Extract("SELECT cached_lookup('ref_data.codes', code) FROM t")
	if !has(refs, "ref_data.codes") {
		t.Errorf("custom lookup function missing: %v", refs)
	}
}

func TestExtract_OrdinaryFunctionsIgnored(t *testing.T) {
	refs := Extract("SELECT lower(name), count() FROM s.t GROUP BY lower(name)")
	want := []string{"s.t", "t"}
	if !reflect.DeepEqual(refs, want) {
		t.Errorf("expected %v, got %v", want, refs)
	}
}

func TestExtract_BacktickedIdentifiers(t *testing.T) {
	refs := Extract("SELECT * FROM `My_DB`.`Events`")
	for _, w := range []string{"my_db.events", "events"} {
		if !has(refs, w) {
			t.Errorf("missing %q in %v", w, refs)
		}
	}
}

func TestExtract_MalformedSQLBestEffort(t *testing.T) {
	// Unbalanced parens must not lose the references already seen.
	refs := Extract("SELECT * FROM s.a JOIN (SELECT * FROM s.b")
	for _, w := range []string{"s.a", "a", "s.b", "b"} {
		if !has(refs, w) {
			t.Errorf("missing %q in %v", w, refs)
		}
	}
}

func TestExtract_EmptyAndGarbage(t *testing.T) {
	if refs := Extract(""); len(refs) != 0 {
		t.Errorf("expected no refs for empty input, got %v", refs)
	}
	if refs := Extract(");;;"); len(refs) != 0 {
		t.Errorf("expected no refs for garbage, got %v", refs)
	}
}

func TestExtract_SiblingScopesIndependent(t *testing.T) {
	// A CTE defined inside one subquery must not suppress a same-named
	// table referenced by a sibling subquery.
	sql := `SELECT * FROM
		(WITH shared AS (SELECT 1) SELECT * FROM shared) a
		JOIN (SELECT * FROM shared) b ON 1=1`
	refs := Extract(sql)
	if !has(refs, "shared") {
		t.Errorf("sibling scope leaked CTE suppression: %v", refs)
	}
}

func TestExtract_UnionBranches(t *testing.T) {
	refs := Extract("SELECT * FROM u1.a UNION ALL SELECT * FROM u2.b")
	for _, w := range []string{"u1.a", "a", "u2.b", "b"} {
		if !has(refs, w) {
			t.Errorf("missing %q in %v", w, refs)
		}
	}
}

func TestExtractor_ReusableAcrossCalls(t *testing.T) {
	e := NewExtractor(DefaultOptions())
	first := e.Extract("WITH c AS (SELECT * FROM x.y) SELECT * FROM c")
	second := e.Extract("SELECT * FROM c")
	if has(first, "c") {
		t.Errorf("CTE leaked in first call: %v", first)
	}
	// The CTE registered in the first call must not bleed into the second.
	if !has(second, "c") {
		t.Errorf("scope state leaked across Extract calls: %v", second)
	}
}
