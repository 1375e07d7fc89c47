package intent

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"fleetbridge/internal/common/logger"
	"fleetbridge/internal/model"
)

// Candidate is one ranked intent alternative.
type Candidate struct {
	Label      Intent  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// Result is the classification outcome for one request text. It is recreated
// on every classify or regenerate, never patched in place.
type Result struct {
	Label      Intent      `json:"label"`
	Confidence float64     `json:"confidence"`
	Alternates []Candidate `json:"alternates,omitempty"`
	Rationale  []string    `json:"rationale,omitempty"`
	// Ambiguous is set when the top two candidates sit within the configured
	// epsilon; the UI surfaces both instead of auto-picking.
	Ambiguous bool `json:"ambiguous"`
}

// Config carries the classifier tunables.
type Config struct {
	AmbiguityEpsilon float64
	Temperature      float64
}

type Classifier struct {
	completer model.Completer
	cfg       Config
	logger    logger.Logger
}

func NewClassifier(completer model.Completer, cfg Config, log logger.Logger) *Classifier {
	return &Classifier{
		completer: completer,
		cfg:       cfg,
		logger: log.With(map[string]interface{}{
			"stage": "classify",
		}),
	}
}

// Classify issues one completion call and parses the delimited response. A
// parse failure triggers exactly one strict-format retry; repeated failure
// degrades to UNKNOWN with the failure recorded in the rationale. Only context
// cancellation propagates as an error, so a failed classification never kills
// the pipeline.
func (c *Classifier) Classify(ctx context.Context, text string, history []string) (*Result, error) {
	prompt := c.buildPrompt(text, history, false)

	raw, err := c.completer.Complete(ctx, prompt, model.Params{Temperature: c.cfg.Temperature})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return c.unknownResult(fmt.Sprintf("completion failed: %v", err)), nil
	}

	result, parseErr := c.parseResponse(raw)
	if parseErr != nil {
		c.logger.Warn("classifier response unparseable, retrying with strict format", map[string]interface{}{
			"error": parseErr.Error(),
		})

		strictPrompt := c.buildPrompt(text, history, true)
		raw, err = c.completer.Complete(ctx, strictPrompt, model.Params{Temperature: 0, StrictFormat: true})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return c.unknownResult(fmt.Sprintf("strict retry failed: %v", err)), nil
		}
		result, parseErr = c.parseResponse(raw)
		if parseErr != nil {
			return c.unknownResult(fmt.Sprintf("response unparseable after strict retry: %v", parseErr)), nil
		}
	}

	c.markAmbiguity(result)

	c.logger.Info("intent classified", map[string]interface{}{
		"intent":     string(result.Label),
		"confidence": result.Confidence,
		"ambiguous":  result.Ambiguous,
	})

	return result, nil
}

func (c *Classifier) unknownResult(failure string) *Result {
	return &Result{
		Label:      IntentUnknown,
		Confidence: 0,
		Rationale:  []string{failure},
	}
}

// markAmbiguity flags results whose top-two confidence delta falls inside the
// epsilon, surfacing both candidates rather than silently trusting the first.
func (c *Classifier) markAmbiguity(r *Result) {
	if len(r.Alternates) == 0 {
		return
	}
	top := r.Alternates[0]
	if r.Confidence-top.Confidence < c.cfg.AmbiguityEpsilon {
		r.Ambiguous = true
	}
}

func (c *Classifier) buildPrompt(text string, history []string, strict bool) string {
	var sb strings.Builder

	sb.WriteString("You classify fleet management requests into exactly one category.\n\n")
	sb.WriteString("Categories:\n")
	for _, i := range All() {
		sb.WriteString("- ")
		sb.WriteString(string(i))
		sb.WriteString(": ")
		sb.WriteString(describe(i))
		sb.WriteString("\n")
	}
	sb.WriteString("- UNKNOWN: none of the above\n\n")

	sb.WriteString("Examples:\n")
	for _, ex := range fewShot {
		sb.WriteString("Request: ")
		sb.WriteString(ex.text)
		sb.WriteString("\nINTENT: ")
		sb.WriteString(string(ex.label))
		sb.WriteString("\nCONFIDENCE: ")
		sb.WriteString(strconv.FormatFloat(ex.confidence, 'f', 2, 64))
		sb.WriteString("\n\n")
	}

	if len(history) > 0 {
		sb.WriteString("Earlier turns in this conversation, oldest first:\n")
		for _, turn := range history {
			sb.WriteString("- ")
			sb.WriteString(turn)
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}

	sb.WriteString("Request: ")
	sb.WriteString(text)
	sb.WriteString("\n\nAnswer with these sections:\n")
	sb.WriteString("INTENT: <category>\n")
	sb.WriteString("CONFIDENCE: <0.00-1.00>\n")
	sb.WriteString("ALTERNATES: <category>=<confidence>, ... (may be empty)\n")
	sb.WriteString("RATIONALE:\n- <step>\n- <step>\n")

	if strict {
		sb.WriteString("\nRespond with ONLY the sections above, exactly as formatted, nothing else.\n")
	}

	return sb.String()
}

// parseResponse reads the delimited INTENT/CONFIDENCE/ALTERNATES/RATIONALE
// sections. Alternates end up sorted by confidence descending.
func (c *Classifier) parseResponse(raw string) (*Result, error) {
	result := &Result{}
	sawIntent := false
	sawConfidence := false
	inRationale := false

	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		switch {
		case strings.HasPrefix(line, "INTENT:"):
			label := strings.TrimSpace(strings.TrimPrefix(line, "INTENT:"))
			result.Label = Parse(strings.ToUpper(label))
			sawIntent = true
			inRationale = false

		case strings.HasPrefix(line, "CONFIDENCE:"):
			v := strings.TrimSpace(strings.TrimPrefix(line, "CONFIDENCE:"))
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return nil, fmt.Errorf("bad confidence %q", v)
			}
			result.Confidence = clamp01(f)
			sawConfidence = true
			inRationale = false

		case strings.HasPrefix(line, "ALTERNATES:"):
			result.Alternates = parseAlternates(strings.TrimPrefix(line, "ALTERNATES:"))
			inRationale = false

		case strings.HasPrefix(line, "RATIONALE:"):
			inRationale = true

		case inRationale && strings.HasPrefix(line, "-"):
			step := strings.TrimSpace(strings.TrimPrefix(line, "-"))
			if step != "" {
				result.Rationale = append(result.Rationale, step)
			}
		}
	}

	if !sawIntent || !sawConfidence {
		return nil, errors.New("missing INTENT or CONFIDENCE section")
	}

	sort.SliceStable(result.Alternates, func(i, j int) bool {
		return result.Alternates[i].Confidence > result.Alternates[j].Confidence
	})

	return result, nil
}

func parseAlternates(s string) []Candidate {
	var out []Candidate
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			continue
		}
		label := Parse(strings.ToUpper(strings.TrimSpace(kv[0])))
		if label == IntentUnknown {
			continue
		}
		conf, err := strconv.ParseFloat(strings.TrimSpace(kv[1]), 64)
		if err != nil {
			continue
		}
		out = append(out, Candidate{Label: label, Confidence: clamp01(conf)})
	}
	return out
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

func describe(i Intent) string {
	switch i {
	case IntentVehicleReservation:
		return "reserve or book a vehicle for a time window"
	case IntentScheduleMaintenance:
		return "schedule service, repair, or inspection for a vehicle"
	case IntentCreateVehicle:
		return "register a new vehicle in the fleet"
	case IntentAssignParking:
		return "assign or move a vehicle to a parking location"
	case IntentUpdateStatus:
		return "change a vehicle's availability or state"
	case IntentQueryInformation:
		return "look up vehicle status, location, or availability"
	case IntentTransferVehicle:
		return "transfer a vehicle between sites or assignees"
	case IntentCancelOperation:
		return "cancel an existing reservation or scheduled operation"
	default:
		return "none of the above"
	}
}

type example struct {
	text       string
	label      Intent
	confidence float64
}

var fewShot = []example{
	{"Reserve vehicle F-123 for tomorrow 2pm-4pm", IntentVehicleReservation, 0.95},
	{"Book an oil change for VAN-201 next Monday", IntentScheduleMaintenance, 0.92},
	{"Move TRK-88 to lot 4 spot B12", IntentAssignParking, 0.90},
	{"Where is vehicle AB-4512 right now?", IntentQueryInformation, 0.93},
	{"Cancel my reservation for F-123", IntentCancelOperation, 0.94},
}
