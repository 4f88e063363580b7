package dbt

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// writeFileProject lays out an uncompiled dbt project: no manifest, so
// the mapper must walk model files and schema.yml.
func writeFileProject(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	writeFile(t, filepath.Join(dir, "dbt_project.yml"), `
name: shop
models:
  schema: analytics
  database: warehouse
`)

	writeFile(t, filepath.Join(dir, "models", "staging", "stg_orders.sql"),
		"select * from {{ source('raw', 'orders') }}\n")
	writeFile(t, filepath.Join(dir, "models", "staging", "schema.yml"), `
version: 2
models:
  - name: stg_orders
    config:
      materialized: view
    columns:
      - name: order_id
        description: primary key
        tests:
          - unique
          - not_null
sources:
  - name: raw
    database: landing
    schema: raw
    tables:
      - name: orders
`)

	writeFile(t, filepath.Join(dir, "models", "marts", "fct_orders.sql"),
		"select * from {{ ref('stg_orders') }}\n")
	writeFile(t, filepath.Join(dir, "models", "marts", "schema.yml"), `
version: 2
models:
  - name: fct_orders
    config:
      schema: marts
      materialized: table
`)

	return dir
}

func TestMapperLoad_FromFiles(t *testing.T) {
	mapper := NewMapper(writeFileProject(t), nil)
	require.NoError(t, mapper.Load())

	models := mapper.Models()
	require.Len(t, models, 2)

	stg := models["stg_orders"]
	require.NotNil(t, stg)
	assert.Equal(t, "analytics", stg.Schema)
	assert.Equal(t, "warehouse", stg.Database)
	assert.Equal(t, "view", stg.Materialization)
	assert.Equal(t, "primary key", stg.Columns["order_id"])
	assert.ElementsMatch(t, []string{"unique(order_id)", "not_null(order_id)"}, stg.Tests)
	assert.Contains(t, stg.DependsOn, "raw.orders")

	fct := models["fct_orders"]
	require.NotNil(t, fct)
	assert.Equal(t, "marts", fct.Schema)
	assert.Equal(t, "table", fct.Materialization)
	assert.Contains(t, fct.DependsOn, "stg_orders")
	assert.Contains(t, stg.ReferencedBy, "fct_orders")
}

func TestMapperLoad_FromManifest(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "dbt_project.yml"), "name: shop\n")
	writeFile(t, filepath.Join(dir, "target", "manifest.json"), `{
  "nodes": {
    "model.shop.stg_orders": {
      "resource_type": "model",
      "name": "stg_orders",
      "path": "staging/stg_orders.sql",
      "config": {"schema": "staging", "database": "warehouse", "materialized": "view"},
      "depends_on": {"nodes": ["source.shop.raw.orders"]}
    },
    "model.shop.fct_orders": {
      "resource_type": "model",
      "name": "fct_orders",
      "path": "marts/fct_orders.sql",
      "config": {"schema": "marts", "database": "warehouse", "materialized": "table"},
      "depends_on": {"nodes": ["model.shop.stg_orders"]}
    },
    "test.shop.not_null_fct_orders_id": {
      "resource_type": "test",
      "name": "not_null_fct_orders_id"
    }
  },
  "sources": {
    "source.shop.raw.orders": {
      "source_name": "raw",
      "name": "orders",
      "database": "landing",
      "schema": "raw"
    }
  }
}`)

	mapper := NewMapper(dir, nil)
	require.NoError(t, mapper.Load())

	models := mapper.Models()
	require.Len(t, models, 2, "non-model nodes are skipped")
	assert.Contains(t, models["fct_orders"].DependsOn, "stg_orders")
	assert.Contains(t, models["stg_orders"].DependsOn, "raw.orders")
	assert.Contains(t, models["stg_orders"].ReferencedBy, "fct_orders")
}

func TestMapperModelName_Variants(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "dbt_project.yml"), `
name: shop
models:
  schema: analytics
  database: warehouse
`)
	writeFile(t, filepath.Join(dir, "models", "fct_orders.sql"), "select 1\n")

	mapper := NewMapper(dir, nil)
	require.NoError(t, mapper.Load())

	for _, ref := range []string{
		"fct_orders",
		"FCT_ORDERS",
		"analytics.fct_orders",
		"warehouse.analytics.fct_orders",
	} {
		name, ok := mapper.ModelName(ref)
		assert.True(t, ok, "lookup %q", ref)
		assert.Equal(t, "fct_orders", name)
	}

	_, ok := mapper.ModelName("other.fct_orders")
	assert.False(t, ok, "wrong schema must not match")
}

func TestMapperLookup_Sources(t *testing.T) {
	mapper := NewMapper(writeFileProject(t), nil)
	require.NoError(t, mapper.Load())

	name, ok := mapper.Lookup("landing.raw.orders")
	require.True(t, ok)
	assert.Equal(t, "source:raw.orders", name)

	// Suffix match for the bare table name.
	name, ok = mapper.Lookup("orders")
	require.True(t, ok)
	assert.Equal(t, "source:raw.orders", name)

	_, ok = mapper.Lookup("unknown_table")
	assert.False(t, ok)
}

func TestMapperLoad_EmptyProject(t *testing.T) {
	mapper := NewMapper(t.TempDir(), nil)
	require.NoError(t, mapper.Load())
	assert.Empty(t, mapper.Models())
}
