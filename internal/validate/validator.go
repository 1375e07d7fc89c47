// Package validate checks a generated payload before it can be approved:
// field rules first, cross-field rules second, then an optional dry-run
// against the fleet system.
package validate

import (
	"context"
	"fmt"
	"time"

	"fleetbridge/internal/common/logger"
	"fleetbridge/internal/common/validation"
	"fleetbridge/internal/generate"
	"fleetbridge/internal/template"
)

type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Issue is one validation finding. Errors block approval outright; warnings
// block until the approver records an override.
type Issue struct {
	Field    string   `json:"field,omitempty"`
	Severity Severity `json:"severity"`
	Code     string   `json:"code"`
	Message  string   `json:"message"`
}

// External dry-run outcomes. Unverified means the fleet system could not be
// consulted; that is informational, never a blocker.
const (
	ExternalVerified   = "verified"
	ExternalRejected   = "rejected"
	ExternalUnverified = "unverified"
	ExternalSkipped    = "skipped"
)

// Report is the full validation outcome for one payload.
type Report struct {
	Issues         []Issue `json:"issues,omitempty"`
	Blocked        bool    `json:"blocked"`
	NeedsOverride  bool    `json:"needsOverride"`
	ExternalStatus string  `json:"externalStatus"`
}

func (r *Report) countBySeverity(s Severity) int {
	n := 0
	for _, issue := range r.Issues {
		if issue.Severity == s {
			n++
		}
	}
	return n
}

func (r *Report) Errors() int   { return r.countBySeverity(SeverityError) }
func (r *Report) Warnings() int { return r.countBySeverity(SeverityWarning) }

// DryRunner previews a payload against the fleet system without executing it.
type DryRunner interface {
	DryRun(ctx context.Context, endpoint string, payload map[string]interface{}) error
}

type Validator struct {
	clock     generate.Clock
	dryRunner DryRunner
	logger    logger.Logger
}

// NewValidator builds a validator. dryRunner may be nil, in which case the
// external check is skipped.
func NewValidator(clock generate.Clock, dryRunner DryRunner, log logger.Logger) *Validator {
	if clock == nil {
		clock = time.Now
	}
	return &Validator{
		clock:     clock,
		dryRunner: dryRunner,
		logger: log.With(map[string]interface{}{
			"stage": "validate",
		}),
	}
}

// Validate runs field rules, cross-field rules, then the external dry-run.
// The report always carries every finding; nothing short-circuits, so the
// reviewer sees the complete picture in one pass.
func (v *Validator) Validate(ctx context.Context, tpl *template.Template, payload *generate.Payload) *Report {
	report := &Report{ExternalStatus: ExternalSkipped}

	v.checkFields(tpl, payload, report)
	v.checkCrossRules(tpl, payload, report)

	// Generator kept raw values where normalization failed; surface those as
	// warnings alongside any rule hits on the same field.
	for _, w := range payload.Warnings {
		report.Issues = append(report.Issues, Issue{
			Severity: SeverityWarning,
			Code:     "TRANSFORM_FAILED",
			Message:  w,
		})
	}

	v.checkExternal(ctx, tpl, payload, report)

	report.Blocked = report.Errors() > 0
	report.NeedsOverride = !report.Blocked && report.Warnings() > 0

	v.logger.Info("payload validated", map[string]interface{}{
		"templateId":     tpl.ID,
		"errors":         report.Errors(),
		"warnings":       report.Warnings(),
		"externalStatus": report.ExternalStatus,
	})
	return report
}

func (v *Validator) checkFields(tpl *template.Template, payload *generate.Payload, report *Report) {
	result := validation.ValidateInput(payload.Data, tpl.Schema())
	for _, e := range result.Errors {
		report.Issues = append(report.Issues, Issue{
			Field:    e.Field,
			Severity: SeverityError,
			Code:     e.Code,
			Message:  e.Message,
		})
	}
}

func (v *Validator) checkCrossRules(tpl *template.Template, payload *generate.Payload, report *Report) {
	for _, cr := range tpl.CrossRules {
		switch cr.Name {
		case template.CrossRuleTimeOrder:
			v.checkTimeOrder(cr, payload, report)
		case template.CrossRuleDateNotPast:
			v.checkDateNotPast(cr, payload, report)
		}
	}
}

// checkTimeOrder requires the window's start to precede its end. Runs only
// when both values normalized to HH:MM; otherwise the field checks already
// flagged them.
func (v *Validator) checkTimeOrder(cr template.CrossRule, payload *generate.Payload, report *Report) {
	if len(cr.Fields) != 2 {
		return
	}
	start, okStart := payload.Data[cr.Fields[0]].(string)
	end, okEnd := payload.Data[cr.Fields[1]].(string)
	if !okStart || !okEnd || !validation.ValidateTime24h(start) || !validation.ValidateTime24h(end) {
		return
	}
	if start >= end {
		report.Issues = append(report.Issues, Issue{
			Field:    cr.Fields[1],
			Severity: SeverityError,
			Code:     "TIME_ORDER_VIOLATION",
			Message:  fmt.Sprintf("end time %s is not after start time %s", end, start),
		})
	}
}

// checkDateNotPast warns on dates before today. A warning, not an error: past
// dates are occasionally legitimate (backfilled records) but need an override.
func (v *Validator) checkDateNotPast(cr template.CrossRule, payload *generate.Payload, report *Report) {
	today := v.clock().Format("2006-01-02")
	for _, f := range cr.Fields {
		date, ok := payload.Data[f].(string)
		if !ok || !validation.ValidateISODate(date) {
			continue
		}
		if date < today {
			report.Issues = append(report.Issues, Issue{
				Field:    f,
				Severity: SeverityWarning,
				Code:     "DATE_IN_PAST",
				Message:  fmt.Sprintf("%s is before today (%s)", date, today),
			})
		}
	}
}

// checkExternal previews the payload against the fleet system. A rejection is
// a blocking error; an unreachable system downgrades to unverified and the
// decision stays with the approver.
func (v *Validator) checkExternal(ctx context.Context, tpl *template.Template, payload *generate.Payload, report *Report) {
	if v.dryRunner == nil {
		return
	}
	if report.Errors() > 0 {
		// do not burn an external call on a payload that cannot be approved
		report.ExternalStatus = ExternalUnverified
		return
	}

	err := v.dryRunner.DryRun(ctx, tpl.Endpoint, payload.Data)
	if err == nil {
		report.ExternalStatus = ExternalVerified
		return
	}

	if rejection, ok := err.(*DryRunRejection); ok {
		report.ExternalStatus = ExternalRejected
		report.Issues = append(report.Issues, Issue{
			Field:    rejection.Field,
			Severity: SeverityError,
			Code:     "EXTERNAL_REJECTED",
			Message:  rejection.Reason,
		})
		return
	}

	report.ExternalStatus = ExternalUnverified
	report.Issues = append(report.Issues, Issue{
		Severity: SeverityInfo,
		Code:     "EXTERNAL_UNVERIFIED",
		Message:  fmt.Sprintf("fleet system preview unavailable: %v", err),
	})
	v.logger.Warn("dry-run unavailable", map[string]interface{}{
		"endpoint": tpl.Endpoint,
		"error":    err.Error(),
	})
}

// DryRunRejection is returned by a DryRunner when the fleet system actively
// refused the payload, as opposed to being unreachable.
type DryRunRejection struct {
	Field  string
	Reason string
}

func (e *DryRunRejection) Error() string {
	return fmt.Sprintf("dry-run rejected: %s", e.Reason)
}
