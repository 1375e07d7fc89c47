// Package entity extracts typed, confidence-scored field values from request
// text. Extraction is a pure function of (text, intent): identical inputs
// always produce identical results, which keeps reruns reproducible and makes
// results safe to cache.
package entity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"fleetbridge/internal/common/logger"
	"fleetbridge/internal/intent"
	"fleetbridge/internal/model"
)

// modelConfidence is the default score for model-sourced values when the
// response carries no bracketed self-report.
const modelConfidence = 0.55

// Span locates a value in the original text.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Candidate is one possible value for a field.
type Candidate struct {
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
	Source     Source  `json:"source"`
	Span       Span    `json:"span"`
}

// Field is the resolved value for one profile field plus its runners-up.
// Discrepancy marks a model value that disagreed with a pattern match; the
// pattern won but the reviewer sees both.
type Field struct {
	Name        string      `json:"name"`
	Value       string      `json:"value"`
	Confidence  float64     `json:"confidence"`
	Source      Source      `json:"source"`
	Span        Span        `json:"span"`
	Alternates  []Candidate `json:"alternates,omitempty"`
	Discrepancy bool        `json:"discrepancy,omitempty"`
}

// Result is the complete extraction outcome for one (text, intent) pair.
type Result struct {
	Profile string           `json:"profile"`
	Fields  map[string]Field `json:"fields"`
	Notes   []string         `json:"notes,omitempty"`
}

// Resolved returns the field when it carries a non-empty value.
func (r *Result) Resolved(name string) (Field, bool) {
	f, ok := r.Fields[name]
	if !ok || f.Value == "" {
		return Field{}, false
	}
	return f, true
}

// ResolvedAbove returns the field when resolved with at least the given
// confidence.
func (r *Result) ResolvedAbove(name string, threshold float64) (Field, bool) {
	f, ok := r.Resolved(name)
	if !ok || f.Confidence < threshold {
		return Field{}, false
	}
	return f, true
}

// Cache stores extraction results keyed by (text, intent).
type Cache interface {
	Get(ctx context.Context, key string) (*Result, bool)
	Set(ctx context.Context, key string, result *Result)
}

type Extractor struct {
	completer model.Completer
	cache     Cache
	logger    logger.Logger
}

func NewExtractor(completer model.Completer, cache Cache, log logger.Logger) *Extractor {
	return &Extractor{
		completer: completer,
		cache:     cache,
		logger: log.With(map[string]interface{}{
			"stage": "extract",
		}),
	}
}

// Extract resolves the profile selected by the intent. Pattern matchers run
// first; the model is consulted once for the profile's fallback fields. A
// completion failure yields a partial result with the failure noted, never an
// error — only context cancellation aborts.
func (e *Extractor) Extract(ctx context.Context, text string, label intent.Intent) (*Result, error) {
	profileName := "generic"
	if route, ok := intent.RouteFor(label); ok {
		profileName = route.Profile
	}
	profile := ProfileByName(profileName)

	key := cacheKey(text, label)
	if e.cache != nil {
		if cached, ok := e.cache.Get(ctx, key); ok {
			return cached, nil
		}
	}

	result := &Result{
		Profile: profile.Name,
		Fields:  make(map[string]Field, len(profile.Fields)),
	}

	e.runPatterns(text, profile, result)

	if err := e.runModelFallback(ctx, text, profile, result); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		result.Notes = append(result.Notes, fmt.Sprintf("model extraction unavailable: %v", err))
	}

	if e.cache != nil {
		e.cache.Set(ctx, key, result)
	}

	e.logger.Info("entities extracted", map[string]interface{}{
		"profile":  profile.Name,
		"resolved": countResolved(result),
		"fields":   len(profile.Fields),
	})

	return result, nil
}

func (e *Extractor) runPatterns(text string, profile Profile, result *Result) {
	// Time windows resolve the start/end pair atomically before the generic
	// per-kind sweep, so "2pm-4pm" never collapses into a single time field.
	rangeStart, rangeEnd, hasRange := matchTimeRange(text)

	for _, spec := range profile.Fields {
		var candidates []Candidate

		switch spec.Kind {
		case KindStartTime:
			if hasRange {
				candidates = []Candidate{rangeStart}
			} else {
				candidates = nthTime(text, 0)
			}
		case KindEndTime:
			if hasRange {
				candidates = []Candidate{rangeEnd}
			} else {
				candidates = nthTime(text, 1)
			}
		case KindFreeText:
			// model-only
		default:
			candidates = matchKind(text, spec.Kind)
		}

		if len(candidates) == 0 {
			result.Fields[spec.Name] = Field{Name: spec.Name}
			continue
		}

		best := candidates[0]
		result.Fields[spec.Name] = Field{
			Name:       spec.Name,
			Value:      best.Value,
			Confidence: best.Confidence,
			Source:     SourcePattern,
			Span:       best.Span,
			Alternates: dedupe(candidates[1:], best.Value),
		}
	}
}

// runModelFallback issues at most one completion call covering every fallback
// field of the profile. Pattern wins any disagreement; the model value is kept
// as a flagged alternate.
func (e *Extractor) runModelFallback(ctx context.Context, text string, profile Profile, result *Result) error {
	var fallback []FieldSpec
	for _, spec := range profile.Fields {
		if spec.ModelFallback {
			fallback = append(fallback, spec)
		}
	}
	if len(fallback) == 0 || e.completer == nil {
		return nil
	}

	prompt := buildExtractionPrompt(text, fallback)
	raw, err := e.completer.Complete(ctx, prompt, model.Params{Temperature: 0})
	if err != nil {
		return err
	}

	values := parseFieldLines(raw)
	for _, spec := range fallback {
		mv, ok := values[spec.Name]
		if !ok || mv.Value == "" {
			continue
		}

		existing := result.Fields[spec.Name]
		if existing.Value == "" {
			existing.Name = spec.Name
			existing.Value = mv.Value
			existing.Confidence = mv.Confidence
			existing.Source = SourceModel
			result.Fields[spec.Name] = existing
			continue
		}

		if !strings.EqualFold(existing.Value, mv.Value) {
			existing.Alternates = append(existing.Alternates, Candidate{
				Value:      mv.Value,
				Confidence: mv.Confidence,
				Source:     SourceModel,
			})
			existing.Discrepancy = true
			result.Fields[spec.Name] = existing
			result.Notes = append(result.Notes,
				fmt.Sprintf("pattern and model disagree on %s: kept %q, model said %q", spec.Name, existing.Value, mv.Value))
		}
	}

	return nil
}

func buildExtractionPrompt(text string, fields []FieldSpec) string {
	var sb strings.Builder
	sb.WriteString("Extract the following fields from the fleet request below.\n")
	sb.WriteString("Answer one line per field as `field: value`. Use `-` when the text does not mention the field.\n")
	sb.WriteString("Optionally append a confidence in brackets, e.g. `purpose: client demo [0.7]`.\n\nFields:\n")
	for _, f := range fields {
		sb.WriteString("- ")
		sb.WriteString(f.Name)
		sb.WriteString("\n")
	}
	sb.WriteString("\nRequest: ")
	sb.WriteString(text)
	sb.WriteString("\n")
	return sb.String()
}

type modelValue struct {
	Value      string
	Confidence float64
}

var confidenceSuffix = strings.NewReplacer("[", "", "]", "")

func parseFieldLines(raw string) map[string]modelValue {
	out := make(map[string]modelValue)
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		kv := strings.SplitN(line, ":", 2)
		if len(kv) != 2 {
			continue
		}
		name := strings.ToLower(strings.TrimSpace(kv[0]))
		value := strings.TrimSpace(kv[1])
		if name == "" || value == "" || value == "-" {
			continue
		}

		confidence := modelConfidence
		if idx := strings.LastIndex(value, "["); idx > 0 && strings.HasSuffix(value, "]") {
			if f, err := strconv.ParseFloat(confidenceSuffix.Replace(value[idx:]), 64); err == nil {
				confidence = f
				value = strings.TrimSpace(value[:idx])
			}
		}

		out[name] = modelValue{Value: value, Confidence: confidence}
	}
	return out
}

// matchKind collects all matches for a kind, best first: confidence
// descending, then earliest in the text.
func matchKind(text string, kind Kind) []Candidate {
	var out []Candidate
	for _, p := range patternTable[kind] {
		for _, m := range p.re.FindAllStringSubmatchIndex(text, -1) {
			start, end := m[0], m[1]
			if p.group > 0 && len(m) > p.group*2+1 && m[p.group*2] >= 0 {
				start, end = m[p.group*2], m[p.group*2+1]
			}
			out = append(out, Candidate{
				Value:      normalizeToken(kind, text[start:end]),
				Confidence: p.confidence,
				Source:     SourcePattern,
				Span:       Span{Start: start, End: end},
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].Span.Start < out[j].Span.Start
	})
	return out
}

func matchTimeRange(text string) (Candidate, Candidate, bool) {
	for _, p := range timeRanges {
		m := p.re.FindStringSubmatchIndex(text)
		if m == nil {
			continue
		}
		start := Candidate{
			Value:      strings.TrimSpace(text[m[2]:m[3]]),
			Confidence: p.confidence,
			Source:     SourcePattern,
			Span:       Span{Start: m[2], End: m[3]},
		}
		end := Candidate{
			Value:      strings.TrimSpace(text[m[4]:m[5]]),
			Confidence: p.confidence,
			Source:     SourcePattern,
			Span:       Span{Start: m[4], End: m[5]},
		}
		return start, end, true
	}
	return Candidate{}, Candidate{}, false
}

// nthTime returns the n-th standalone time mention, for texts like
// "from 2pm until 4pm" that the range pattern did not capture.
func nthTime(text string, n int) []Candidate {
	times := matchKind(text, KindTime)
	sort.SliceStable(times, func(i, j int) bool {
		return times[i].Span.Start < times[j].Span.Start
	})
	if n >= len(times) {
		return nil
	}
	return times[n : n+1]
}

func normalizeToken(kind Kind, raw string) string {
	v := strings.TrimSpace(raw)
	switch kind {
	case KindVehicleID, KindVIN, KindLicensePlate, KindReservationID:
		return strings.ToUpper(v)
	case KindStatus, KindServiceType:
		return strings.ToLower(strings.Join(strings.Fields(v), " "))
	default:
		return v
	}
}

func dedupe(candidates []Candidate, chosen string) []Candidate {
	var out []Candidate
	seen := map[string]bool{chosen: true}
	for _, c := range candidates {
		if seen[c.Value] {
			continue
		}
		seen[c.Value] = true
		out = append(out, c)
	}
	return out
}

func countResolved(r *Result) int {
	n := 0
	for _, f := range r.Fields {
		if f.Value != "" {
			n++
		}
	}
	return n
}

func cacheKey(text string, label intent.Intent) string {
	sum := sha256.Sum256([]byte(text))
	return "extract:" + string(label) + ":" + hex.EncodeToString(sum[:8])
}
