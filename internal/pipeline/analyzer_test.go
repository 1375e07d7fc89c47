// internal/pipeline/analyzer_test.go
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	stderrors "fleetbridge/internal/common/errors"
	"fleetbridge/internal/common/logger"
	"fleetbridge/internal/entity"
	"fleetbridge/internal/generate"
	"fleetbridge/internal/intent"
	"fleetbridge/internal/model"
	"fleetbridge/internal/template"
	"fleetbridge/internal/validate"
)

// fixedNow is a Tuesday, so relative dates resolve deterministically.
var fixedNow = time.Date(2026, 3, 10, 10, 30, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

const reservationText = "Reserve vehicle VAN-12 tomorrow 2pm-4pm for a client demo"

const classifyReservation = `INTENT: VEHICLE_RESERVATION
CONFIDENCE: 0.92
ALTERNATES: QUERY_INFORMATION=0.40
RATIONALE:
- reservation verb with a vehicle id and a time window
`

const extractReservation = `requested_by: -
purpose: client demo [0.7]
`

const classifyOffTopic = `INTENT: ORDER_PIZZA
CONFIDENCE: 0.80
ALTERNATES:
RATIONALE:
- not a fleet operation
`

func newTestAnalyzer(t *testing.T, mock *model.Mock) (*Analyzer, *template.Registry) {
	t.Helper()
	log := logger.NewTestLogger(t)

	classifier := intent.NewClassifier(mock, intent.Config{AmbiguityEpsilon: 0.1, Temperature: 0.2}, log)
	extractor := entity.NewExtractor(mock, entity.NewMemoryCache(), log)
	registry := template.NewRegistry(log)
	selector := template.NewSelector(template.SelectorConfig{
		ConfidenceThreshold: 0.6,
		CoverageThreshold:   0.5,
		TieEpsilon:          0.05,
	}, log)
	generator := generate.NewGenerator(fixedClock, log)
	validator := validate.NewValidator(fixedClock, nil, log)

	return NewAnalyzer(classifier, extractor, registry, selector, generator, validator, 2*time.Second, log), registry
}

func writeTemplateDoc(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

// ==========================
// Analyze Tests
// ==========================

func TestAnalyze_FullPass(t *testing.T) {
	mock := &model.Mock{Script: []string{classifyReservation, extractReservation}}
	a, _ := newTestAnalyzer(t, mock)

	analysis, err := a.Analyze(context.Background(), reservationText, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, intent.IntentVehicleReservation, analysis.Intent.Label)
	assert.InDelta(t, 0.92, analysis.Intent.Confidence, 0.001)
	assert.False(t, analysis.Intent.Ambiguous)

	assert.Equal(t, "reservation", analysis.Entities.Profile)
	assert.Equal(t, "VAN-12", analysis.Entities.Fields["vehicle_id"].Value)

	assert.Equal(t, "create_reservation", analysis.Selection.Best.TemplateID)
	assert.False(t, analysis.Selection.Ambiguous)

	payload := analysis.Payload
	assert.Equal(t, "/api/v1/reservations", payload.Endpoint)
	assert.Equal(t, "VAN-12", payload.Data["vehicle_id"])
	assert.Equal(t, "2026-03-11", payload.Data["date"])
	assert.Equal(t, "14:00", payload.Data["start_time"])
	assert.Equal(t, "16:00", payload.Data["end_time"])
	assert.Equal(t, "client demo", payload.Data["purpose"])
	_, hasRequestedBy := payload.Data["requested_by"]
	assert.False(t, hasRequestedBy, "unresolved optional fields stay out of the payload")
	assert.Empty(t, payload.Unresolved)
	assert.InDelta(t, 0.79, payload.Confidence, 0.001)

	report := analysis.Report
	assert.False(t, report.Blocked)
	assert.False(t, report.NeedsOverride)
	assert.Empty(t, report.Issues)
	assert.Equal(t, validate.ExternalSkipped, report.ExternalStatus)

	assert.Equal(t, 1, analysis.SnapshotVersion)
	assert.False(t, analysis.AnalyzedAt.IsZero())
	assert.Equal(t, 2, mock.CallCount(), "one classify completion, one extract completion")
}

func TestAnalyze_EditsWinOverExtraction(t *testing.T) {
	mock := &model.Mock{Script: []string{classifyReservation, extractReservation}}
	a, _ := newTestAnalyzer(t, mock)

	edits := map[string]interface{}{"start_time": "09:30"}
	analysis, err := a.Analyze(context.Background(), reservationText, nil, edits)
	require.NoError(t, err)

	assert.Equal(t, "09:30", analysis.Payload.Data["start_time"])
	assert.Equal(t, "edit", analysis.Payload.Sources["start_time"])
}

// Text no template covers still completes the pass: the analysis carries a
// blocking report naming what was missing, never a payload.
func TestAnalyze_NoMatchingTemplateHaltsWithBlockingReport(t *testing.T) {
	mock := &model.Mock{Script: []string{classifyOffTopic}}
	a, _ := newTestAnalyzer(t, mock)

	analysis, err := a.Analyze(context.Background(), "order a large pizza for the team", nil, nil)
	require.NoError(t, err)

	assert.Nil(t, analysis.Selection)
	assert.Nil(t, analysis.Payload)
	assert.False(t, analysis.AnalyzedAt.IsZero())

	report := analysis.Report
	require.NotNil(t, report)
	assert.True(t, report.Blocked)
	assert.Equal(t, validate.ExternalSkipped, report.ExternalStatus)
	require.NotEmpty(t, report.Issues)
	for _, issue := range report.Issues {
		assert.Equal(t, validate.SeverityError, issue.Severity)
	}
}

// A dead model degrades classification to UNKNOWN, but pattern extraction
// still runs the generic sweep and the selector scans the whole catalog. A
// text carrying a vehicle id still lands on the query template.
func TestAnalyze_ModelOutageDegradesToPatternOnlyPass(t *testing.T) {
	mock := &model.Mock{Err: fmt.Errorf("model backend down")}
	a, _ := newTestAnalyzer(t, mock)

	analysis, err := a.Analyze(context.Background(), "where is VAN-12 right now?", nil, nil)
	require.NoError(t, err)

	assert.Equal(t, intent.IntentUnknown, analysis.Intent.Label)
	require.NotEmpty(t, analysis.Intent.Rationale)
	assert.Contains(t, analysis.Intent.Rationale[0], "completion failed")

	assert.Equal(t, "generic", analysis.Entities.Profile)
	assert.Equal(t, "query_vehicle", analysis.Selection.Best.TemplateID)
	assert.Equal(t, "VAN-12", analysis.Payload.Data["vehicle_id"])
}

func TestAnalyze_ContextCancelled(t *testing.T) {
	mock := &model.Mock{Err: context.Canceled}
	a, _ := newTestAnalyzer(t, mock)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := a.Analyze(ctx, reservationText, nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAnalyze_SnapshotVersionTracksReload(t *testing.T) {
	mock := &model.Mock{Script: []string{classifyReservation, extractReservation, classifyReservation}}
	a, registry := newTestAnalyzer(t, mock)

	first, err := a.Analyze(context.Background(), reservationText, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, first.SnapshotVersion)

	dir := t.TempDir()
	writeTemplateDoc(t, dir, "wash.json", `{
	  "id": "wash_vehicle",
	  "version": 1,
	  "category": "maintenance",
	  "description": "Book a vehicle wash",
	  "required": ["vehicle_id", "date"],
	  "rules": {
	    "vehicle_id": {"type": "string", "transform": "upper"},
	    "date": {"type": "string", "transform": "date_iso"}
	  },
	  "endpoint": "/api/v1/maintenance/wash",
	  "priority": 8
	}`)
	require.NoError(t, registry.LoadDir(dir))

	// Extraction for the same (text, intent) pair is served from cache, so the
	// rerun costs exactly one more completion.
	second, err := a.Analyze(context.Background(), reservationText, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, second.SnapshotVersion)
	assert.Equal(t, 3, mock.CallCount())
}

// ==========================
// Reanalyze Tests
// ==========================

func TestReanalyze_KeepsUpstreamStages(t *testing.T) {
	mock := &model.Mock{Script: []string{classifyReservation, extractReservation}}
	a, _ := newTestAnalyzer(t, mock)

	prev, err := a.Analyze(context.Background(), reservationText, nil, nil)
	require.NoError(t, err)

	edits := map[string]interface{}{
		"purpose":      "board meeting",
		"requested_by": "Dana",
	}
	next, err := a.Reanalyze(context.Background(), prev, edits)
	require.NoError(t, err)

	assert.Same(t, prev.Intent, next.Intent)
	assert.Same(t, prev.Entities, next.Entities)
	assert.Same(t, prev.Selection, next.Selection)

	assert.Equal(t, "board meeting", next.Payload.Data["purpose"])
	assert.Equal(t, "Dana", next.Payload.Data["requested_by"])
	assert.Equal(t, "edit", next.Payload.Sources["purpose"])
	assert.Equal(t, "VAN-12", next.Payload.Data["vehicle_id"])

	assert.Equal(t, 2, mock.CallCount(), "reanalysis must not touch the model")
}

func TestReanalyze_TemplateVanished(t *testing.T) {
	mock := &model.Mock{Script: []string{classifyReservation, extractReservation}}
	a, registry := newTestAnalyzer(t, mock)

	prev, err := a.Analyze(context.Background(), reservationText, nil, nil)
	require.NoError(t, err)

	// A reload that replaces the template with a newer version removes the
	// (id, version) pair the reviewer was looking at.
	dir := t.TempDir()
	writeTemplateDoc(t, dir, "reservation.json", `{
	  "id": "create_reservation",
	  "version": 2,
	  "category": "reservation",
	  "description": "Reserve a fleet vehicle",
	  "required": ["vehicle_id", "date"],
	  "rules": {
	    "vehicle_id": {"type": "string", "transform": "upper"},
	    "date": {"type": "string", "transform": "date_iso"}
	  },
	  "endpoint": "/api/v1/reservations",
	  "priority": 10
	}`)
	require.NoError(t, registry.LoadDir(dir))

	_, err = a.Reanalyze(context.Background(), prev, map[string]interface{}{"purpose": "demo"})
	require.Error(t, err)

	std := stderrors.AsStandard(err)
	assert.Equal(t, stderrors.ErrCodeTemplateVanished, std.Code)
}
