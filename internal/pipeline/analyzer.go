package pipeline

import (
	"context"
	"fmt"
	"time"

	"fleetbridge/internal/common/errors"
	"fleetbridge/internal/common/logger"
	"fleetbridge/internal/common/metrics"
	"fleetbridge/internal/entity"
	"fleetbridge/internal/generate"
	"fleetbridge/internal/intent"
	"fleetbridge/internal/template"
	"fleetbridge/internal/validate"
)

// Analyzer runs the analysis half of the pipeline: classify through validate.
// One Analyze call reads a single registry snapshot throughout, so a catalog
// reload mid-run can never mix catalogs.
type Analyzer struct {
	classifier   *intent.Classifier
	extractor    *entity.Extractor
	registry     *template.Registry
	selector     *template.Selector
	generator    *generate.Generator
	validator    *validate.Validator
	stageTimeout time.Duration
	logger       logger.Logger
}

func NewAnalyzer(
	classifier *intent.Classifier,
	extractor *entity.Extractor,
	registry *template.Registry,
	selector *template.Selector,
	generator *generate.Generator,
	validator *validate.Validator,
	stageTimeout time.Duration,
	log logger.Logger,
) *Analyzer {
	return &Analyzer{
		classifier:   classifier,
		extractor:    extractor,
		registry:     registry,
		selector:     selector,
		generator:    generator,
		validator:    validator,
		stageTimeout: stageTimeout,
		logger: log.With(map[string]interface{}{
			"component": "analyzer",
		}),
	}
}

// Analyze runs the full pass. Edits are reviewer field overrides carried into
// generation; nil on a fresh submit.
func (a *Analyzer) Analyze(ctx context.Context, text string, history []string, edits map[string]interface{}) (*Analysis, error) {
	snap := a.registry.Snapshot()
	analysis := &Analysis{SnapshotVersion: snap.Version}

	intentResult, err := a.classify(ctx, text, history)
	if err != nil {
		return nil, err
	}
	analysis.Intent = intentResult

	entities, err := a.extract(ctx, text, intentResult.Label)
	if err != nil {
		return nil, err
	}
	analysis.Entities = entities

	selection, err := a.selectTemplate(snap, intentResult.Label, entities)
	if err != nil {
		std := errors.AsStandard(err)
		if std.Code == errors.ErrCodeNoMatchingTemplate {
			// The pass still completes: the request halts in ANALYZED with a
			// blocking report naming the missing fields, so the reviewer can
			// edit instead of starting over.
			analysis.Report = noMatchReport(std)
			analysis.AnalyzedAt = time.Now().UTC()
			return analysis, nil
		}
		return nil, err
	}
	analysis.Selection = selection

	tpl, ok := snap.Lookup(selection.Best.TemplateID, selection.Best.Version)
	if !ok {
		return nil, errors.NewTemplateVanishedError(selection.Best.TemplateID, selection.Best.Version)
	}

	if err := a.generateAndValidate(ctx, tpl, entities, edits, analysis); err != nil {
		return nil, err
	}

	analysis.AnalyzedAt = time.Now().UTC()
	return analysis, nil
}

// Reanalyze re-enters at the generator after field edits: intent, entities,
// and template choice stand, only payload and report are rebuilt. The
// template version the reviewer saw must still exist in the current snapshot.
func (a *Analyzer) Reanalyze(ctx context.Context, prev *Analysis, edits map[string]interface{}) (*Analysis, error) {
	snap := a.registry.Snapshot()
	tpl, ok := snap.Lookup(prev.Selection.Best.TemplateID, prev.Selection.Best.Version)
	if !ok {
		return nil, errors.NewTemplateVanishedError(prev.Selection.Best.TemplateID, prev.Selection.Best.Version)
	}

	analysis := &Analysis{
		Intent:          prev.Intent,
		Entities:        prev.Entities,
		Selection:       prev.Selection,
		SnapshotVersion: snap.Version,
	}
	if err := a.generateAndValidate(ctx, tpl, prev.Entities, edits, analysis); err != nil {
		return nil, err
	}
	analysis.AnalyzedAt = time.Now().UTC()
	return analysis, nil
}

// noMatchReport turns a failed selection into a blocking validation report.
// Each field that kept every candidate below the coverage threshold becomes an
// error-severity issue; the external dry-run never ran.
func noMatchReport(std *errors.StandardError) *validate.Report {
	report := &validate.Report{Blocked: true, ExternalStatus: validate.ExternalSkipped}
	missing, _ := std.Metadata["missingFields"].([]string)
	for _, field := range missing {
		report.Issues = append(report.Issues, validate.Issue{
			Field:    field,
			Severity: validate.SeverityError,
			Code:     "MISSING_REQUIRED_FIELD",
			Message:  fmt.Sprintf("required field %s was not found in the request text", field),
		})
	}
	if len(report.Issues) == 0 {
		report.Issues = append(report.Issues, validate.Issue{
			Severity: validate.SeverityError,
			Code:     string(errors.ErrCodeNoMatchingTemplate),
			Message:  std.Message,
		})
	}
	return report
}

func (a *Analyzer) generateAndValidate(ctx context.Context, tpl *template.Template, entities *entity.Result, edits map[string]interface{}, analysis *Analysis) error {
	payload, err := a.generate(tpl, entities, edits)
	if err != nil {
		return err
	}
	analysis.Payload = payload

	report, err := a.validate(ctx, tpl, payload)
	if err != nil {
		return err
	}
	analysis.Report = report
	return nil
}

func (a *Analyzer) classify(ctx context.Context, text string, history []string) (*intent.Result, error) {
	stageCtx, cancel := context.WithTimeout(ctx, a.stageTimeout)
	defer cancel()

	start := time.Now()
	result, err := a.classifier.Classify(stageCtx, text, history)
	if err != nil {
		a.failStage("classify", errors.ErrCodeClassifierTimeout, start)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.NewClassifierTimeoutError()
	}
	a.completeStage("classify", start)
	return result, nil
}

func (a *Analyzer) extract(ctx context.Context, text string, label intent.Intent) (*entity.Result, error) {
	stageCtx, cancel := context.WithTimeout(ctx, a.stageTimeout)
	defer cancel()

	start := time.Now()
	result, err := a.extractor.Extract(stageCtx, text, label)
	if err != nil {
		a.failStage("extract", errors.ErrCodeExtractorTimeout, start)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.NewExtractorTimeoutError()
	}
	a.completeStage("extract", start)
	return result, nil
}

func (a *Analyzer) selectTemplate(snap *template.Snapshot, label intent.Intent, entities *entity.Result) (*template.Selection, error) {
	category := ""
	if route, ok := intent.RouteFor(label); ok {
		category = route.Category
	}

	start := time.Now()
	selection, err := a.selector.Select(snap, category, entities)
	if err != nil {
		a.failStage("select", errors.ErrCodeNoMatchingTemplate, start)
		return nil, err
	}
	a.completeStage("select", start)
	return selection, nil
}

func (a *Analyzer) generate(tpl *template.Template, entities *entity.Result, edits map[string]interface{}) (*generate.Payload, error) {
	start := time.Now()
	payload, err := a.generator.Generate(tpl, entities, edits)
	if err != nil {
		a.failStage("generate", errors.ErrCodeGenerationFailed, start)
		return nil, errors.NewGenerationFailedError(err)
	}
	a.completeStage("generate", start)
	return payload, nil
}

func (a *Analyzer) validate(ctx context.Context, tpl *template.Template, payload *generate.Payload) (*validate.Report, error) {
	stageCtx, cancel := context.WithTimeout(ctx, a.stageTimeout)
	defer cancel()

	start := time.Now()
	report := a.validator.Validate(stageCtx, tpl, payload)
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	a.completeStage("validate", start)
	return report, nil
}

func (a *Analyzer) completeStage(stage string, start time.Time) {
	metrics.StageCompleted.WithLabelValues(stage).Inc()
	metrics.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

func (a *Analyzer) failStage(stage string, code errors.ErrorCode, start time.Time) {
	metrics.StageFailed.WithLabelValues(stage, string(code)).Inc()
	metrics.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}
