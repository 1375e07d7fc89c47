// Package generate builds the structured request payload from a selected
// template and the extracted entities. All clock reads go through an injected
// Clock so relative dates resolve reproducibly in tests.
package generate

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"fleetbridge/internal/common/logger"
	"fleetbridge/internal/entity"
	"fleetbridge/internal/template"
)

// Clock supplies "now" for relative date resolution.
type Clock func() time.Time

// Payload is the generated structured request. Unresolved required fields are
// present in Data as explicit nulls so the reviewer sees the hole.
type Payload struct {
	TemplateID  string                 `json:"templateId"`
	Version     int                    `json:"version"`
	Endpoint    string                 `json:"endpoint"`
	Data        map[string]interface{} `json:"data"`
	Sources     map[string]string      `json:"sources,omitempty"`
	Unresolved  []string               `json:"unresolved,omitempty"`
	Warnings    []string               `json:"warnings,omitempty"`
	Confidence  float64                `json:"confidence"`
	GeneratedAt time.Time              `json:"generatedAt"`
}

type Generator struct {
	clock  Clock
	logger logger.Logger
}

func NewGenerator(clock Clock, log logger.Logger) *Generator {
	if clock == nil {
		clock = time.Now
	}
	return &Generator{
		clock: clock,
		logger: log.With(map[string]interface{}{
			"stage": "generate",
		}),
	}
}

// Generate fills the template's fields from edits first, extracted entities
// second. A transform that cannot normalize a value keeps the raw value and
// records a warning; the validator decides whether that blocks approval.
func (g *Generator) Generate(tpl *template.Template, ents *entity.Result, edits map[string]interface{}) (*Payload, error) {
	now := g.clock()
	p := &Payload{
		TemplateID:  tpl.ID,
		Version:     tpl.Version,
		Endpoint:    tpl.Endpoint,
		Data:        make(map[string]interface{}),
		Sources:     make(map[string]string),
		GeneratedAt: now,
	}

	confidenceSum := 0.0
	confidenceWeight := 0.0

	for _, name := range tpl.Fields() {
		rule := tpl.Rules[name]
		weight := 1.0
		if tpl.IsRequired(name) {
			weight = 2.0
		}
		confidenceWeight += weight

		raw, source, fieldConfidence, ok := g.resolve(name, ents, edits)
		if !ok {
			if tpl.IsRequired(name) {
				p.Data[name] = nil
				p.Unresolved = append(p.Unresolved, name)
			}
			continue
		}

		value, err := g.transform(rule.Transform, raw, now)
		if err != nil {
			p.Warnings = append(p.Warnings, fmt.Sprintf("%s: %v, kept raw value %q", name, err, raw))
			value = raw
		}

		p.Data[name] = value
		p.Sources[name] = source
		confidenceSum += fieldConfidence * weight
	}

	if confidenceWeight > 0 {
		p.Confidence = confidenceSum / confidenceWeight
	}

	g.logger.Info("payload generated", map[string]interface{}{
		"templateId": tpl.ID,
		"version":    tpl.Version,
		"unresolved": len(p.Unresolved),
		"warnings":   len(p.Warnings),
		"confidence": p.Confidence,
	})
	return p, nil
}

// resolve picks the value for a field: a reviewer edit always wins over the
// extractor. Edits carry full confidence.
func (g *Generator) resolve(name string, ents *entity.Result, edits map[string]interface{}) (string, string, float64, bool) {
	if edits != nil {
		if v, ok := edits[name]; ok {
			if v == nil {
				return "", "", 0, false
			}
			return fmt.Sprintf("%v", v), "edit", 1.0, true
		}
	}
	if f, ok := ents.Resolved(name); ok {
		return f.Value, string(f.Source), f.Confidence, true
	}
	return "", "", 0, false
}

func (g *Generator) transform(name, raw string, now time.Time) (interface{}, error) {
	switch name {
	case template.TransformDateISO:
		return normalizeDate(raw, now)
	case template.TransformTime24h:
		return normalizeTime(raw)
	case template.TransformNumber:
		return normalizeNumber(raw)
	case template.TransformUpper:
		return strings.ToUpper(strings.TrimSpace(raw)), nil
	case template.TransformSnake:
		return strings.ReplaceAll(strings.ToLower(strings.Join(strings.Fields(raw), " ")), " ", "_"), nil
	case template.TransformTrim, "":
		return strings.TrimSpace(raw), nil
	default:
		return nil, fmt.Errorf("unknown transform %q", name)
	}
}

// ==========================
// Date and time normalization
// ==========================

var (
	isoDateRe   = regexp.MustCompile(`^(\d{4})-(\d{1,2})-(\d{1,2})$`)
	usDateRe    = regexp.MustCompile(`^(\d{1,2})/(\d{1,2})/(\d{2,4})$`)
	monthDateRe = regexp.MustCompile(`(?i)^(january|february|march|april|may|june|july|august|september|october|november|december)\s+(\d{1,2})(?:,?\s+(\d{4}))?$`)
	weekdayRe   = regexp.MustCompile(`(?i)^(next\s+)?(monday|tuesday|wednesday|thursday|friday|saturday|sunday)$`)
	clockRe     = regexp.MustCompile(`(?i)^(\d{1,2})(?::(\d{2}))?\s*(am|pm)?$`)
)

var months = map[string]time.Month{
	"january": time.January, "february": time.February, "march": time.March,
	"april": time.April, "may": time.May, "june": time.June,
	"july": time.July, "august": time.August, "september": time.September,
	"october": time.October, "november": time.November, "december": time.December,
}

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday,
	"wednesday": time.Wednesday, "thursday": time.Thursday,
	"friday": time.Friday, "saturday": time.Saturday,
}

// normalizeDate turns any recognized date phrase into YYYY-MM-DD. Relative
// phrases resolve against now; a bare weekday means the next occurrence, and
// "next <weekday>" skips a week when the weekday is still ahead in this one.
func normalizeDate(raw string, now time.Time) (string, error) {
	v := strings.ToLower(strings.TrimSpace(raw))

	switch v {
	case "today":
		return now.Format("2006-01-02"), nil
	case "tomorrow":
		return now.AddDate(0, 0, 1).Format("2006-01-02"), nil
	case "yesterday":
		return now.AddDate(0, 0, -1).Format("2006-01-02"), nil
	}

	if m := isoDateRe.FindStringSubmatch(v); m != nil {
		return rebuildDate(m[1], m[2], m[3])
	}
	if m := usDateRe.FindStringSubmatch(v); m != nil {
		year := m[3]
		if len(year) == 2 {
			year = "20" + year
		}
		return rebuildDate(year, m[1], m[2])
	}
	if m := monthDateRe.FindStringSubmatch(v); m != nil {
		month := months[m[1]]
		day, _ := strconv.Atoi(m[2])
		year := now.Year()
		if m[3] != "" {
			year, _ = strconv.Atoi(m[3])
		} else {
			// bare "March 5" means the next occurrence
			candidate := time.Date(year, month, day, 0, 0, 0, 0, now.Location())
			if candidate.Before(now.Truncate(24 * time.Hour)) {
				year++
			}
		}
		return checkDate(year, month, day, now.Location())
	}
	if m := weekdayRe.FindStringSubmatch(v); m != nil {
		target := weekdays[m[2]]
		days := (int(target) - int(now.Weekday()) + 7) % 7
		if days == 0 {
			days = 7
		}
		if m[1] != "" && days < 7 && int(target) > int(now.Weekday()) {
			days += 7
		}
		return now.AddDate(0, 0, days).Format("2006-01-02"), nil
	}

	return "", fmt.Errorf("unrecognized date %q", raw)
}

func rebuildDate(year, month, day string) (string, error) {
	y, _ := strconv.Atoi(year)
	mo, _ := strconv.Atoi(month)
	d, _ := strconv.Atoi(day)
	return checkDate(y, time.Month(mo), d, time.UTC)
}

func checkDate(year int, month time.Month, day int, loc *time.Location) (string, error) {
	t := time.Date(year, month, day, 0, 0, 0, 0, loc)
	if t.Year() != year || t.Month() != month || t.Day() != day {
		return "", fmt.Errorf("calendar date %d-%02d-%02d does not exist", year, month, day)
	}
	return t.Format("2006-01-02"), nil
}

// normalizeTime turns a clock phrase into 24-hour HH:MM.
func normalizeTime(raw string) (string, error) {
	v := strings.ToLower(strings.TrimSpace(raw))
	if v == "noon" {
		return "12:00", nil
	}
	if v == "midnight" {
		return "00:00", nil
	}

	m := clockRe.FindStringSubmatch(v)
	if m == nil {
		return "", fmt.Errorf("unrecognized time %q", raw)
	}

	hour, _ := strconv.Atoi(m[1])
	minute := 0
	if m[2] != "" {
		minute, _ = strconv.Atoi(m[2])
	}
	if minute > 59 {
		return "", fmt.Errorf("unrecognized time %q", raw)
	}

	switch m[3] {
	case "pm":
		if hour < 1 || hour > 12 {
			return "", fmt.Errorf("unrecognized time %q", raw)
		}
		if hour != 12 {
			hour += 12
		}
	case "am":
		if hour < 1 || hour > 12 {
			return "", fmt.Errorf("unrecognized time %q", raw)
		}
		if hour == 12 {
			hour = 0
		}
	default:
		if hour > 23 {
			return "", fmt.Errorf("unrecognized time %q", raw)
		}
	}

	return fmt.Sprintf("%02d:%02d", hour, minute), nil
}

func normalizeNumber(raw string) (interface{}, error) {
	v := strings.TrimSpace(raw)
	if i, err := strconv.ParseInt(v, 10, 64); err == nil {
		return int(i), nil
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f, nil
	}
	return nil, fmt.Errorf("not a number: %q", raw)
}
