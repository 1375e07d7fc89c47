// Package template holds the request template catalog: the structured shapes
// a fleet request can take, which fields each shape needs, and where the
// finished payload gets sent.
package template

import (
	"fmt"

	"fleetbridge/internal/common/validation"
)

// Transform names applied by the payload generator, in the order the
// template declares them per field.
const (
	TransformDateISO = "date_iso"
	TransformTime24h = "time_24h"
	TransformNumber  = "number"
	TransformUpper   = "upper"
	TransformTrim    = "trim"
	TransformSnake   = "snake"
)

// FieldRule constrains one payload field and names its normalization.
type FieldRule struct {
	Type      string   `json:"type"`
	Pattern   string   `json:"pattern,omitempty"`
	Enum      []string `json:"enum,omitempty"`
	Minimum   *float64 `json:"minimum,omitempty"`
	Maximum   *float64 `json:"maximum,omitempty"`
	MinLength *int     `json:"minLength,omitempty"`
	MaxLength *int     `json:"maxLength,omitempty"`
	Transform string   `json:"transform,omitempty"`
}

// CrossRule is a relation between fields that no single-field rule can
// express, checked by the validator after field checks pass.
type CrossRule struct {
	Name   string   `json:"name"`
	Fields []string `json:"fields"`
}

const (
	CrossRuleTimeOrder   = "time_order"
	CrossRuleDateNotPast = "date_not_past"
)

// Template is one structured request shape. Priority breaks coverage ties
// during selection; higher wins.
type Template struct {
	ID          string               `json:"id"`
	Version     int                  `json:"version"`
	Category    string               `json:"category"`
	Description string               `json:"description,omitempty"`
	Required    []string             `json:"required"`
	Optional    []string             `json:"optional,omitempty"`
	Rules       map[string]FieldRule `json:"rules"`
	CrossRules  []CrossRule          `json:"crossRules,omitempty"`
	Endpoint    string               `json:"endpoint"`
	Priority    int                  `json:"priority"`
}

// Key identifies one immutable template version.
func (t *Template) Key() string {
	return fmt.Sprintf("%s@%d", t.ID, t.Version)
}

// Fields returns required then optional field names.
func (t *Template) Fields() []string {
	out := make([]string, 0, len(t.Required)+len(t.Optional))
	out = append(out, t.Required...)
	out = append(out, t.Optional...)
	return out
}

func (t *Template) IsRequired(name string) bool {
	for _, f := range t.Required {
		if f == name {
			return true
		}
	}
	return false
}

// Schema projects the template's field rules into the validation schema used
// for field-level payload checks.
func (t *Template) Schema() validation.JSONSchema {
	props := make(map[string]validation.Property, len(t.Rules))
	for name, rule := range t.Rules {
		p := validation.Property{
			Type:      rule.Type,
			Enum:      rule.Enum,
			Minimum:   rule.Minimum,
			Maximum:   rule.Maximum,
			MinLength: rule.MinLength,
			MaxLength: rule.MaxLength,
		}
		if rule.Pattern != "" {
			pattern := rule.Pattern
			p.Pattern = &pattern
		}
		props[name] = p
	}
	return validation.JSONSchema{
		Type:       "object",
		Properties: props,
		Required:   t.Required,
	}
}
