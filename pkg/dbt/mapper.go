package dbt

import (
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/leapstack-labs/querysight/pkg/tables"
)

// LookupFunc resolves a table-name variant to a model name. It is the
// boundary consumed by coverage mapping; callers may inject any
// implementation, Mapper.Lookup is the standard one.
type LookupFunc func(table string) (model string, ok bool)

// Mapper indexes a dbt project so physical table references can be
// resolved back to the models and sources that own them.
type Mapper struct {
	projectPath string
	models      Graph
	// tableToModel maps every lowercase name variant (name, schema.name,
	// db.schema.name) to the owning model name.
	tableToModel map[string]string
	// sourceRefs maps "source_name.table" to the source's physical
	// relation name.
	sourceRefs map[string]string
	// fileSQL holds raw model SQL between the file walk and dependency
	// resolution; nil once Load completes.
	fileSQL map[string]string
	logger  *slog.Logger
}

// NewMapper creates a mapper for the dbt project rooted at projectPath.
// The logger may be nil.
func NewMapper(projectPath string, logger *slog.Logger) *Mapper {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Mapper{
		projectPath:  projectPath,
		models:       make(Graph),
		tableToModel: make(map[string]string),
		sourceRefs:   make(map[string]string),
		logger:       logger,
	}
}

// Load reads the project. It prefers target/manifest.json from a
// compiled project and falls back to walking models/**/*.sql with their
// schema.yml files. Missing pieces degrade rather than fail; only an
// unreadable project is an error.
func (m *Mapper) Load() error {
	defaults, err := m.loadProjectDefaults()
	if err != nil {
		return err
	}

	manifestPath := filepath.Join(m.projectPath, "target", "manifest.json")
	if data, err := os.ReadFile(manifestPath); err == nil {
		if err := m.loadManifest(data, defaults); err != nil {
			return fmt.Errorf("parse %s: %w", manifestPath, err)
		}
		m.logger.Info("loaded dbt models from manifest",
			"models", len(m.models), "sources", len(m.sourceRefs))
		return nil
	}

	if err := m.loadFromFiles(defaults); err != nil {
		return err
	}
	m.resolveFileDependencies()
	m.logger.Info("loaded dbt models from project files",
		"models", len(m.models), "sources", len(m.sourceRefs))
	return nil
}

// Models returns the loaded model graph.
func (m *Mapper) Models() Graph {
	return m.models
}

// ModelName resolves a table reference (any qualification level) to a
// model name.
func (m *Mapper) ModelName(table string) (string, bool) {
	name, ok := m.tableToModel[strings.ToLower(table)]
	return name, ok
}

// SourceRef resolves a table reference to a declared source, returned
// as "source_name.table".
func (m *Mapper) SourceRef(table string) (string, bool) {
	t := strings.ToLower(table)
	for ref, physical := range m.sourceRefs {
		if physical == t || strings.HasSuffix(physical, "."+t) {
			return ref, true
		}
	}
	return "", false
}

// Lookup is the mapper's LookupFunc: models first, then sources, source
// hits prefixed "source:".
func (m *Mapper) Lookup(table string) (string, bool) {
	if name, ok := m.ModelName(table); ok {
		return name, true
	}
	if ref, ok := m.SourceRef(table); ok {
		return "source:" + ref, true
	}
	return "", false
}

type projectDefaults struct {
	schema   string
	database string
}

func (m *Mapper) loadProjectDefaults() (projectDefaults, error) {
	defaults := projectDefaults{schema: "public", database: "default"}

	path := filepath.Join(m.projectPath, "dbt_project.yml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			m.logger.Warn("dbt_project.yml not found", "path", path)
			return defaults, nil
		}
		return defaults, fmt.Errorf("read %s: %w", path, err)
	}

	var cfg struct {
		Name   string `yaml:"name"`
		Models struct {
			Schema   string `yaml:"schema"`
			Database string `yaml:"database"`
		} `yaml:"models"`
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return defaults, fmt.Errorf("parse %s: %w", path, err)
	}
	if cfg.Models.Schema != "" {
		defaults.schema = cfg.Models.Schema
	}
	if cfg.Models.Database != "" {
		defaults.database = cfg.Models.Database
	}
	return defaults, nil
}

type manifestFile struct {
	Nodes   map[string]manifestNode   `json:"nodes"`
	Sources map[string]manifestSource `json:"sources"`
}

type manifestNode struct {
	ResourceType string `json:"resource_type"`
	Name         string `json:"name"`
	Path         string `json:"path"`
	Config       struct {
		Schema       string `json:"schema"`
		Database     string `json:"database"`
		Materialized string `json:"materialized"`
	} `json:"config"`
	DependsOn struct {
		Nodes []string `json:"nodes"`
	} `json:"depends_on"`
	Columns map[string]struct {
		Description string `json:"description"`
	} `json:"columns"`
}

type manifestSource struct {
	SourceName string `json:"source_name"`
	Name       string `json:"name"`
	Database   string `json:"database"`
	Schema     string `json:"schema"`
}

func (m *Mapper) loadManifest(data []byte, defaults projectDefaults) error {
	var manifest manifestFile
	if err := json.Unmarshal(data, &manifest); err != nil {
		return err
	}

	for _, node := range manifest.Nodes {
		if node.ResourceType != "model" || node.Name == "" {
			continue
		}
		model := newModel(node.Name, node.Path)
		model.Schema = firstNonEmpty(node.Config.Schema, defaults.schema)
		model.Database = firstNonEmpty(node.Config.Database, defaults.database)
		if node.Config.Materialized != "" {
			model.Materialization = node.Config.Materialized
		}
		for col, info := range node.Columns {
			model.Columns[col] = info.Description
		}
		for _, dep := range node.DependsOn.Nodes {
			if name, ok := dependencyName(dep); ok {
				model.DependsOn[name] = struct{}{}
			}
		}
		m.registerModel(model)
	}

	for _, src := range manifest.Sources {
		if src.SourceName == "" || src.Name == "" {
			continue
		}
		m.registerSource(src.SourceName, src.Name, src.Database, src.Schema)
	}

	m.linkReverseEdges()
	return nil
}

// dependencyName translates a manifest node id into the graph's
// dependency form: "model.project.orders" becomes "orders",
// "source.project.raw.events" becomes "raw.events".
func dependencyName(nodeID string) (string, bool) {
	parts := strings.Split(nodeID, ".")
	switch {
	case len(parts) >= 3 && parts[0] == "model":
		return parts[len(parts)-1], true
	case len(parts) >= 4 && parts[0] == "source":
		return parts[2] + "." + parts[3], true
	}
	return "", false
}

type schemaFile struct {
	Models []struct {
		Name   string `yaml:"name"`
		Config struct {
			Schema       string `yaml:"schema"`
			Database     string `yaml:"database"`
			Materialized string `yaml:"materialized"`
		} `yaml:"config"`
		Columns []struct {
			Name        string `yaml:"name"`
			Description string `yaml:"description"`
			Tests       []any  `yaml:"tests"`
		} `yaml:"columns"`
	} `yaml:"models"`
	Sources []struct {
		Name     string `yaml:"name"`
		Database string `yaml:"database"`
		Schema   string `yaml:"schema"`
		Tables   []struct {
			Name string `yaml:"name"`
		} `yaml:"tables"`
	} `yaml:"sources"`
}

func (m *Mapper) loadFromFiles(defaults projectDefaults) error {
	modelsDir := filepath.Join(m.projectPath, "models")
	modelSQL := make(map[string]string)

	walkErr := filepath.WalkDir(modelsDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".sql") {
			return nil
		}

		name := strings.TrimSuffix(d.Name(), ".sql")
		data, err := os.ReadFile(path)
		if err != nil {
			m.logger.Error("skipping unreadable model file", "path", path, "error", err)
			return nil
		}
		modelSQL[name] = string(data)

		model := newModel(name, path)
		model.Schema = defaults.schema
		model.Database = defaults.database
		m.applySchemaFile(filepath.Dir(path), model)
		m.registerModel(model)
		return nil
	})
	if walkErr != nil {
		if os.IsNotExist(walkErr) {
			m.logger.Warn("models directory not found", "path", modelsDir)
			return nil
		}
		return fmt.Errorf("walk %s: %w", modelsDir, walkErr)
	}

	m.fileSQL = modelSQL
	return nil
}

// applySchemaFile folds the schema.yml next to a model file into the
// model, registering any declared sources along the way.
func (m *Mapper) applySchemaFile(dir string, model *Model) {
	path := filepath.Join(dir, "schema.yml")
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	var schema schemaFile
	if err := yaml.Unmarshal(data, &schema); err != nil {
		m.logger.Error("skipping malformed schema file", "path", path, "error", err)
		return
	}

	for _, entry := range schema.Models {
		if entry.Name != model.Name {
			continue
		}
		if entry.Config.Schema != "" {
			model.Schema = entry.Config.Schema
		}
		if entry.Config.Database != "" {
			model.Database = entry.Config.Database
		}
		if entry.Config.Materialized != "" {
			model.Materialization = entry.Config.Materialized
		}
		for _, col := range entry.Columns {
			model.Columns[col.Name] = col.Description
			for _, test := range col.Tests {
				if name, ok := test.(string); ok {
					model.Tests = append(model.Tests, name+"("+col.Name+")")
				}
			}
		}
	}

	for _, src := range schema.Sources {
		for _, tbl := range src.Tables {
			m.registerSource(src.Name, tbl.Name, src.Database, src.Schema)
		}
	}
}

// resolveFileDependencies extracts ref() and source() targets from each
// model's SQL once every model and source is known, then fills in the
// reverse edges.
func (m *Mapper) resolveFileDependencies() {
	extractor := tables.NewExtractor(tables.DefaultOptions())
	for name, sql := range m.fileSQL {
		model := m.models[name]
		if model == nil {
			continue
		}
		for _, ref := range extractor.Extract(sql) {
			if _, ok := m.models[ref]; ok && ref != name {
				model.DependsOn[ref] = struct{}{}
				continue
			}
			if _, ok := m.sourceRefs[ref]; ok {
				model.DependsOn[ref] = struct{}{}
			}
		}
	}
	m.fileSQL = nil
	m.linkReverseEdges()
}

func (m *Mapper) registerModel(model *Model) {
	m.models[model.Name] = model
	for _, variant := range []string{
		model.Name,
		model.RelationName(),
		model.FullName(),
	} {
		m.tableToModel[strings.ToLower(variant)] = model.Name
	}
}

func (m *Mapper) registerSource(sourceName, table, database, schema string) {
	ref := strings.ToLower(sourceName + "." + table)
	physical := strings.ToLower(table)
	if schema != "" {
		physical = strings.ToLower(schema) + "." + physical
		if database != "" {
			physical = strings.ToLower(database) + "." + physical
		}
	}
	m.sourceRefs[ref] = physical
}

func (m *Mapper) linkReverseEdges() {
	for name, model := range m.models {
		for dep := range model.DependsOn {
			if parent, ok := m.models[dep]; ok {
				parent.ReferencedBy[name] = struct{}{}
			}
		}
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
