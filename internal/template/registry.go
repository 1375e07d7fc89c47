package template

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync/atomic"

	"github.com/xeipuuv/gojsonschema"

	"fleetbridge/internal/common/errors"
	"fleetbridge/internal/common/logger"
)

// metaSchema gates every template document before it enters the registry.
// A catalog file that fails here is rejected whole; the previous snapshot
// stays live.
const metaSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["id", "version", "category", "required", "rules", "endpoint"],
  "properties": {
    "id": {"type": "string", "pattern": "^[a-z][a-z0-9_]*$"},
    "version": {"type": "integer", "minimum": 1},
    "category": {"type": "string", "minLength": 1},
    "description": {"type": "string"},
    "required": {"type": "array", "items": {"type": "string"}, "minItems": 1},
    "optional": {"type": "array", "items": {"type": "string"}},
    "rules": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "required": ["type"],
        "properties": {
          "type": {"enum": ["string", "number", "integer", "boolean"]},
          "pattern": {"type": "string"},
          "enum": {"type": "array", "items": {"type": "string"}},
          "minimum": {"type": "number"},
          "maximum": {"type": "number"},
          "minLength": {"type": "integer"},
          "maxLength": {"type": "integer"},
          "transform": {"enum": ["date_iso", "time_24h", "number", "upper", "trim", "snake"]}
        }
      }
    },
    "crossRules": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name", "fields"],
        "properties": {
          "name": {"enum": ["time_order", "date_not_past"]},
          "fields": {"type": "array", "items": {"type": "string"}, "minItems": 1}
        }
      }
    },
    "endpoint": {"type": "string", "pattern": "^/"},
    "priority": {"type": "integer"}
  }
}`

// Snapshot is one immutable view of the catalog. Selection and generation for
// a single request always read the same snapshot, so a reload can never give
// them different catalogs.
type Snapshot struct {
	Version    int
	byKey      map[string]*Template
	byCategory map[string][]*Template
}

// Lookup finds an exact template version.
func (s *Snapshot) Lookup(id string, version int) (*Template, bool) {
	t, ok := s.byKey[fmt.Sprintf("%s@%d", id, version)]
	return t, ok
}

// ByCategory returns the templates for a category, highest priority first.
func (s *Snapshot) ByCategory(category string) []*Template {
	return s.byCategory[category]
}

// All returns every template, ordered by key for stable iteration.
func (s *Snapshot) All() []*Template {
	keys := make([]string, 0, len(s.byKey))
	for k := range s.byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]*Template, 0, len(keys))
	for _, k := range keys {
		out = append(out, s.byKey[k])
	}
	return out
}

func (s *Snapshot) Len() int { return len(s.byKey) }

// Registry serves template snapshots. Reload builds a new snapshot off to the
// side and swaps the pointer; readers never block.
type Registry struct {
	current    atomic.Pointer[Snapshot]
	useBuiltin bool
	logger     logger.Logger
}

// NewRegistry returns a registry seeded with the builtin catalog.
func NewRegistry(log logger.Logger) *Registry {
	return newRegistry(true, log)
}

// NewDirRegistry returns a registry whose catalog comes solely from LoadDir.
// The builtin catalog stays out, so an operator-managed directory is the
// single source of truth.
func NewDirRegistry(log logger.Logger) *Registry {
	return newRegistry(false, log)
}

func newRegistry(useBuiltin bool, log logger.Logger) *Registry {
	r := &Registry{
		useBuiltin: useBuiltin,
		logger: log.With(map[string]interface{}{
			"component": "template_registry",
		}),
	}
	r.current.Store(buildSnapshot(1, r.base()))
	return r
}

// base returns the templates every snapshot starts from.
func (r *Registry) base() []*Template {
	if !r.useBuiltin {
		return nil
	}
	builtin := Builtin()
	templates := make([]*Template, len(builtin))
	for i := range builtin {
		templates[i] = &builtin[i]
	}
	return templates
}

// Snapshot returns the current catalog view. Callers hold it for the whole
// pipeline run.
func (r *Registry) Snapshot() *Snapshot {
	return r.current.Load()
}

// LoadDir layers *.json template documents from dir over the base catalog and
// swaps the result in atomically. Any invalid document aborts the whole
// reload.
func (r *Registry) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return errors.NewTemplateLoadFailedError(dir, err)
	}

	templates := r.base()

	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		t, err := loadFile(path)
		if err != nil {
			return err
		}
		templates = append(templates, t)
		loaded++
	}

	prev := r.current.Load()
	next := buildSnapshot(prev.Version+1, templates)
	r.current.Store(next)

	r.logger.Info("template catalog reloaded", map[string]interface{}{
		"snapshotVersion": next.Version,
		"fileTemplates":   loaded,
		"totalTemplates":  next.Len(),
	})
	return nil
}

func loadFile(path string) (*Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewTemplateLoadFailedError(path, err)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(metaSchema),
		gojsonschema.NewBytesLoader(data),
	)
	if err != nil {
		return nil, errors.NewTemplateLoadFailedError(path, err)
	}
	if !result.Valid() {
		return nil, errors.NewTemplateLoadFailedError(path, fmt.Errorf("schema violations: %v", result.Errors()))
	}

	var t Template
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, errors.NewTemplateLoadFailedError(path, err)
	}
	if err := checkRules(&t); err != nil {
		return nil, errors.NewTemplateLoadFailedError(path, err)
	}
	return &t, nil
}

// checkRules enforces what the meta-schema cannot: every declared field has a
// rule, every cross-rule names declared fields, and patterns compile.
func checkRules(t *Template) error {
	for _, f := range t.Fields() {
		rule, ok := t.Rules[f]
		if !ok {
			return fmt.Errorf("field %q has no rule", f)
		}
		if rule.Pattern != "" {
			if _, err := regexp.Compile(rule.Pattern); err != nil {
				return fmt.Errorf("field %q pattern does not compile: %w", f, err)
			}
		}
	}
	declared := make(map[string]bool)
	for _, f := range t.Fields() {
		declared[f] = true
	}
	for _, cr := range t.CrossRules {
		for _, f := range cr.Fields {
			if !declared[f] {
				return fmt.Errorf("cross rule %q references undeclared field %q", cr.Name, f)
			}
		}
	}
	return nil
}

// buildSnapshot indexes templates by key and category. A later entry with the
// same id replaces an earlier one regardless of version, which is how a
// directory template supersedes a builtin: a v2 document retires the builtin
// v1 instead of sitting next to it.
func buildSnapshot(version int, templates []*Template) *Snapshot {
	s := &Snapshot{
		Version:    version,
		byKey:      make(map[string]*Template, len(templates)),
		byCategory: make(map[string][]*Template),
	}
	byID := make(map[string]*Template, len(templates))
	for _, t := range templates {
		byID[t.ID] = t
	}
	for _, t := range byID {
		s.byKey[t.Key()] = t
	}
	for _, t := range s.byKey {
		s.byCategory[t.Category] = append(s.byCategory[t.Category], t)
	}
	for cat := range s.byCategory {
		list := s.byCategory[cat]
		sort.SliceStable(list, func(i, j int) bool {
			if list[i].Priority != list[j].Priority {
				return list[i].Priority > list[j].Priority
			}
			return list[i].Key() < list[j].Key()
		})
	}
	return s
}
