package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"fleetbridge/internal/approval"
	"fleetbridge/internal/audit"
	"fleetbridge/internal/common/config"
	"fleetbridge/internal/common/errors"
	"fleetbridge/internal/common/logger"
	"fleetbridge/internal/common/metrics"
	"fleetbridge/internal/common/observability"
	"fleetbridge/internal/execution"
	"fleetbridge/internal/generate"
	"fleetbridge/internal/notify"
)

// Executor submits an approved payload to the fleet system.
type Executor interface {
	Execute(ctx context.Context, endpoint string, payload map[string]interface{}) (*execution.Result, error)
}

// tracked pairs a request with its serialization lock. The lock is taken with
// TryLock only: a second actor hitting a busy request gets REQUEST_BUSY
// immediately, never a queue.
type tracked struct {
	mu  sync.Mutex
	req *Request

	cancelMu sync.Mutex
	cancel   context.CancelFunc
}

func (t *tracked) setCancel(fn context.CancelFunc) {
	t.cancelMu.Lock()
	t.cancel = fn
	t.cancelMu.Unlock()
}

func (t *tracked) signalCancel() bool {
	t.cancelMu.Lock()
	defer t.cancelMu.Unlock()
	if t.cancel == nil {
		return false
	}
	t.cancel()
	return true
}

// Service is the pipeline front door: it owns the request registry, the
// worker pool, and every lifecycle operation.
type Service struct {
	analyzer *Analyzer
	executor Executor
	recorder audit.Recorder
	notifier notify.Notifier
	obs      *observability.Observability
	cfg      config.PipelineConfig
	clock    generate.Clock
	logger   logger.Logger

	mu       sync.RWMutex
	requests map[string]*tracked

	// sem bounds how many requests analyze or execute concurrently.
	sem    chan struct{}
	events chan Event
}

func NewService(
	analyzer *Analyzer,
	executor Executor,
	recorder audit.Recorder,
	notifier notify.Notifier,
	obs *observability.Observability,
	cfg config.PipelineConfig,
	clock generate.Clock,
	log logger.Logger,
) *Service {
	if clock == nil {
		clock = time.Now
	}
	if recorder == nil {
		recorder = audit.NopRecorder{}
	}
	if notifier == nil {
		notifier = notify.NopNotifier{}
	}
	poolSize := cfg.WorkerPoolSize
	if poolSize < 1 {
		poolSize = 1
	}
	return &Service{
		analyzer: analyzer,
		executor: executor,
		recorder: recorder,
		notifier: notifier,
		obs:      obs,
		cfg:      cfg,
		clock:    clock,
		logger: log.With(map[string]interface{}{
			"component": "pipeline-service",
		}),
		requests: make(map[string]*tracked),
		sem:      make(chan struct{}, poolSize),
		events:   make(chan Event, 256),
	}
}

// Events exposes the UI notification stream. Slow consumers lose events
// rather than stalling the pipeline.
func (s *Service) Events() <-chan Event {
	return s.events
}

// ==========================
// Lifecycle operations
// ==========================

// Submit registers new request text and runs the analysis pass. The returned
// request is in ANALYZED on success, FAILED when a stage gave out. Text no
// template matches still completes the pass: the request lands in ANALYZED
// with a blocking report naming the missing fields, so the reviewer can edit
// rather than start over.
func (s *Service) Submit(ctx context.Context, text, actor string) (*Request, error) {
	req := &Request{
		ID:        uuid.New().String(),
		Text:      text,
		Actor:     actor,
		CreatedAt: s.clock().UTC(),
		Record:    approval.NewRecord(),
		History:   NewHistory(s.historyDepth()),
	}
	req.History.Add(text)

	t := &tracked{req: req}
	s.mu.Lock()
	s.requests[req.ID] = t
	s.mu.Unlock()

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := s.apply(ctx, t, approval.ActionSubmit, actor, ""); err != nil {
		return nil, err
	}
	s.runAnalysis(ctx, t, actor, true)
	return req, nil
}

// Get returns the request by id.
func (s *Service) Get(id string) (*Request, error) {
	t, err := s.find(id)
	if err != nil {
		return nil, err
	}
	return t.req, nil
}

// List returns every tracked request, unordered.
func (s *Service) List() []*Request {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Request, 0, len(s.requests))
	for _, t := range s.requests {
		out = append(out, t.req)
	}
	return out
}

// Approve moves an analyzed request to APPROVED. Reports carrying issues pass
// only with a non-empty override justification, which is recorded and audited.
// A request with no generated payload never passes: there is nothing to
// execute, override or not.
func (s *Service) Approve(ctx context.Context, id, actor, override string) error {
	return s.locked(id, func(t *tracked) error {
		if t.req.Analysis == nil || t.req.Analysis.Report == nil {
			return errors.NewInvalidTransitionError(string(t.req.State()), string(approval.ActionApprove))
		}
		report := t.req.Analysis.Report
		if t.req.Analysis.Payload == nil {
			return errors.NewValidationBlockedError(report.Errors())
		}
		if report.Blocked && override == "" {
			return errors.NewValidationBlockedError(report.Errors())
		}
		if report.NeedsOverride && override == "" {
			return errors.NewOverrideRequiredError(report.Warnings())
		}

		if err := s.apply(ctx, t, approval.ActionApprove, actor, override); err != nil {
			return err
		}
		if override != "" {
			t.req.Record.RecordOverride(override, actor, s.clock().UTC())
			s.recordAudit(ctx, t.req, audit.EventOverride, actor, map[string]interface{}{
				"justification": override,
			})
		}
		return nil
	})
}

// Edit stages reviewer field changes. The request moves to EDITING; Resubmit
// re-enters the pipeline at the generator with the staged values.
func (s *Service) Edit(ctx context.Context, id, actor string, fields map[string]interface{}) error {
	if len(fields) == 0 {
		return fmt.Errorf("no fields to edit")
	}
	return s.locked(id, func(t *tracked) error {
		if err := s.apply(ctx, t, approval.ActionEdit, actor, ""); err != nil {
			return err
		}

		if t.req.Edits == nil {
			t.req.Edits = make(map[string]interface{})
		}
		now := s.clock().UTC()
		for field, value := range fields {
			var old interface{}
			if t.req.Analysis != nil && t.req.Analysis.Payload != nil {
				old = t.req.Analysis.Payload.Data[field]
			}
			t.req.Record.RecordEdit(field, old, value, actor, now)
			t.req.Edits[field] = value
			s.recordAudit(ctx, t.req, audit.EventEdit, actor, map[string]interface{}{
				"field": field,
				"old":   old,
				"new":   value,
			})
		}
		return nil
	})
}

// Resubmit re-runs analysis after an edit. With newText empty the pass
// re-enters at the generator, keeping intent, entities, and template; new
// text restarts from the classifier with the conversation history attached.
func (s *Service) Resubmit(ctx context.Context, id, actor, newText string) error {
	return s.locked(id, func(t *tracked) error {
		if err := s.apply(ctx, t, approval.ActionResubmit, actor, ""); err != nil {
			return err
		}

		full := newText != "" && newText != t.req.Text
		if full {
			t.req.Text = newText
			t.req.History.Add(newText)
		}
		s.runAnalysis(ctx, t, actor, full)
		return nil
	})
}

// Regenerate throws the whole analysis away and re-runs from the classifier.
// Staged edits are discarded; they referred to the payload being replaced.
func (s *Service) Regenerate(ctx context.Context, id, actor string) error {
	return s.locked(id, func(t *tracked) error {
		if err := s.apply(ctx, t, approval.ActionRegenerate, actor, ""); err != nil {
			return err
		}
		t.req.Edits = nil
		s.runAnalysis(ctx, t, actor, true)
		return nil
	})
}

// Reject closes the request without executing. Terminal.
func (s *Service) Reject(ctx context.Context, id, actor, note string) error {
	return s.locked(id, func(t *tracked) error {
		if err := s.apply(ctx, t, approval.ActionReject, actor, note); err != nil {
			return err
		}
		s.notifyTerminal(ctx, t.req, note)
		return nil
	})
}

// Return sends a failed request back to ANALYZED for another look before any
// retry.
func (s *Service) Return(ctx context.Context, id, actor string) error {
	return s.locked(id, func(t *tracked) error {
		return s.apply(ctx, t, approval.ActionReturn, actor, "")
	})
}

// Cancel stops a request from any non-terminal state. When an analysis or
// execution is in flight the in-flight worker observes the cancellation and
// records the transition itself; this call just pulls the trigger.
func (s *Service) Cancel(ctx context.Context, id, actor string) error {
	t, err := s.find(id)
	if err != nil {
		return err
	}

	if !t.mu.TryLock() {
		if t.signalCancel() {
			return nil
		}
		return errors.NewRequestBusyError(id)
	}
	defer t.mu.Unlock()

	if err := s.apply(ctx, t, approval.ActionCancel, actor, ""); err != nil {
		return err
	}
	s.notifyTerminal(ctx, t.req, "cancelled by "+actor)
	return nil
}

// Execute submits the approved payload to the fleet system.
func (s *Service) Execute(ctx context.Context, id, actor string) error {
	return s.locked(id, func(t *tracked) error {
		if err := s.apply(ctx, t, approval.ActionExecute, actor, ""); err != nil {
			return err
		}
		s.runExecution(ctx, t, actor)
		return nil
	})
}

// Retry re-executes after an execution failure without a new approval; the
// payload was already approved and has not changed.
func (s *Service) Retry(ctx context.Context, id, actor string) error {
	return s.locked(id, func(t *tracked) error {
		if err := s.apply(ctx, t, approval.ActionRetry, actor, ""); err != nil {
			return err
		}
		s.runExecution(ctx, t, actor)
		return nil
	})
}

// ==========================
// Workers
// ==========================

// runAnalysis occupies one worker slot and performs the analysis pass. The
// caller holds the request lock. fullRun re-enters at the classifier; a
// fields-only pass re-enters at the generator.
func (s *Service) runAnalysis(ctx context.Context, t *tracked, actor string, fullRun bool) {
	runCtx, cancel := context.WithCancel(ctx)
	t.setCancel(cancel)
	defer func() {
		t.setCancel(nil)
		cancel()
	}()

	select {
	case s.sem <- struct{}{}:
	case <-runCtx.Done():
		s.finishCancelled(ctx, t, actor)
		return
	}
	defer func() { <-s.sem }()

	metrics.RequestsActive.Inc()
	defer metrics.RequestsActive.Dec()

	start := s.clock()
	var analysis *Analysis
	var err error
	if fullRun || t.req.Analysis == nil || t.req.Analysis.Selection == nil {
		analysis, err = s.analyzer.Analyze(runCtx, t.req.Text, t.req.History.Turns(), t.req.Edits)
	} else {
		analysis, err = s.analyzer.Reanalyze(runCtx, t.req.Analysis, t.req.Edits)
	}
	duration := s.clock().Sub(start)

	if err != nil {
		if runCtx.Err() != nil {
			s.finishCancelled(ctx, t, actor)
			s.recordRun(ctx, "cancelled", duration)
			return
		}

		std := errors.AsStandard(err)
		t.req.LastError = std

		action := approval.ActionAnalyzeFail
		if std.Code == errors.ErrCodeTemplateVanished || std.Code == errors.ErrCodeInvariantViolation {
			action = approval.ActionForceFail
		}
		if applyErr := s.apply(ctx, t, action, "system", std.Message); applyErr != nil {
			s.logger.Error("analysis failure transition rejected", map[string]interface{}{
				"requestId": t.req.ID,
				"error":     applyErr.Error(),
			})
		}
		s.publish(t.req, EventFailed, std.Message)
		s.recordRun(ctx, "failed", duration)
		return
	}

	t.req.Analysis = analysis
	t.req.LastError = nil
	if err := s.apply(ctx, t, approval.ActionAnalyzeComplete, "system", ""); err != nil {
		s.logger.Error("analysis completion transition rejected", map[string]interface{}{
			"requestId": t.req.ID,
			"error":     err.Error(),
		})
		return
	}

	detail := map[string]interface{}{
		"errors":         analysis.Report.Errors(),
		"warnings":       analysis.Report.Warnings(),
		"externalStatus": analysis.Report.ExternalStatus,
	}
	if analysis.Payload != nil {
		detail["confidence"] = analysis.Payload.Confidence
	}
	s.recordAudit(ctx, t.req, audit.EventValidation, "system", detail)
	s.publish(t.req, EventAnalysisDone, "")
	if len(analysis.Report.Issues) > 0 {
		s.publish(t.req, EventIssuesFound, fmt.Sprintf("%d issues", len(analysis.Report.Issues)))
	}
	s.recordRun(ctx, "completed", duration)

	s.maybeAutoApprove(ctx, t)
}

// maybeAutoApprove approves without a human when the analysis is clean, the
// template pick was unambiguous, and the payload confidence clears the
// configured cutoff. A cutoff of zero disables it.
func (s *Service) maybeAutoApprove(ctx context.Context, t *tracked) {
	if s.cfg.AutoApproveCutoff <= 0 {
		return
	}
	a := t.req.Analysis
	if len(a.Report.Issues) > 0 || a.Selection.Ambiguous || a.Intent.Ambiguous {
		return
	}
	if a.Payload.Confidence < s.cfg.AutoApproveCutoff {
		return
	}
	note := fmt.Sprintf("auto-approved: confidence %.2f above cutoff %.2f", a.Payload.Confidence, s.cfg.AutoApproveCutoff)
	if err := s.apply(ctx, t, approval.ActionApprove, "system", note); err != nil {
		s.logger.Error("auto-approve transition rejected", map[string]interface{}{
			"requestId": t.req.ID,
			"error":     err.Error(),
		})
	}
}

// runExecution occupies one worker slot and submits the payload. The caller
// holds the request lock and has already applied the EXECUTING transition.
func (s *Service) runExecution(ctx context.Context, t *tracked, actor string) {
	runCtx, cancel := context.WithCancel(ctx)
	t.setCancel(cancel)
	defer func() {
		t.setCancel(nil)
		cancel()
	}()

	select {
	case s.sem <- struct{}{}:
	case <-runCtx.Done():
		s.finishCancelled(ctx, t, actor)
		return
	}
	defer func() { <-s.sem }()

	metrics.RequestsActive.Inc()
	defer metrics.RequestsActive.Dec()

	payload := t.req.Analysis.Payload
	result, err := s.executor.Execute(runCtx, payload.Endpoint, payload.Data)

	if err != nil {
		if runCtx.Err() != nil {
			s.finishCancelled(ctx, t, actor)
			return
		}

		std := errors.AsStandard(err)
		t.req.LastError = std
		if applyErr := s.apply(ctx, t, approval.ActionExecuteFail, "system", std.Message); applyErr != nil {
			s.logger.Error("execution failure transition rejected", map[string]interface{}{
				"requestId": t.req.ID,
				"error":     applyErr.Error(),
			})
			return
		}
		s.recordAudit(ctx, t.req, audit.EventExecution, actor, map[string]interface{}{
			"endpoint": payload.Endpoint,
			"outcome":  "failed",
			"error":    std.Message,
			"code":     string(std.Code),
		})
		s.publish(t.req, EventFailed, std.Message)
		s.notifyTerminal(ctx, t.req, std.Message)
		return
	}

	t.req.ExecResult = result
	t.req.LastError = nil
	if err := s.apply(ctx, t, approval.ActionExecuteComplete, "system", ""); err != nil {
		s.logger.Error("execution completion transition rejected", map[string]interface{}{
			"requestId": t.req.ID,
			"error":     err.Error(),
		})
		return
	}
	s.recordAudit(ctx, t.req, audit.EventExecution, actor, map[string]interface{}{
		"endpoint":   payload.Endpoint,
		"outcome":    "success",
		"externalId": result.ExternalID,
	})
	s.publish(t.req, EventExecuted, result.ExternalID)
	s.notifyTerminal(ctx, t.req, result.Message)
}

func (s *Service) finishCancelled(ctx context.Context, t *tracked, actor string) {
	if err := s.apply(ctx, t, approval.ActionCancel, actor, "cancelled while in flight"); err != nil {
		s.logger.Error("cancel transition rejected", map[string]interface{}{
			"requestId": t.req.ID,
			"error":     err.Error(),
		})
		return
	}
	s.notifyTerminal(ctx, t.req, "cancelled")
}

// ==========================
// Internals
// ==========================

func (s *Service) find(id string) (*tracked, error) {
	s.mu.RLock()
	t, ok := s.requests[id]
	s.mu.RUnlock()
	if !ok {
		return nil, errors.NewRequestNotFoundError(id)
	}
	return t, nil
}

// locked runs fn holding the request's serialization lock, or fails fast with
// REQUEST_BUSY.
func (s *Service) locked(id string, fn func(*tracked) error) error {
	t, err := s.find(id)
	if err != nil {
		return err
	}
	if !t.mu.TryLock() {
		return errors.NewRequestBusyError(id)
	}
	defer t.mu.Unlock()
	return fn(t)
}

// apply performs one lifecycle action, then audits and publishes the change.
func (s *Service) apply(ctx context.Context, t *tracked, action approval.Action, actor, note string) error {
	from := t.req.Record.State
	state, err := t.req.Record.Apply(action, actor, note, s.clock().UTC())
	if err != nil {
		return err
	}

	s.logger.Info("state transition", map[string]interface{}{
		"requestId": t.req.ID,
		"from":      string(from),
		"to":        string(state),
		"action":    string(action),
		"actor":     actor,
	})
	s.recordAudit(ctx, t.req, audit.EventTransition, actor, map[string]interface{}{
		"from":   string(from),
		"to":     string(state),
		"action": string(action),
		"note":   note,
	})
	s.publish(t.req, EventStateChanged, string(action))
	return nil
}

// recordAudit writes one trail entry. The lifecycle change already happened;
// a failed write is logged, never propagated.
func (s *Service) recordAudit(ctx context.Context, req *Request, event, actor string, payload map[string]interface{}) {
	entry := audit.Entry{
		ID:        uuid.New().String(),
		RequestID: req.ID,
		Event:     event,
		State:     string(req.Record.State),
		Actor:     actor,
		Payload:   payload,
		At:        s.clock().UTC(),
	}
	if err := s.recorder.Record(ctx, entry); err != nil {
		s.logger.Error("audit write failed", map[string]interface{}{
			"requestId": req.ID,
			"event":     event,
			"error":     err.Error(),
		})
	}
}

func (s *Service) publish(req *Request, kind, detail string) {
	event := Event{
		RequestID: req.ID,
		Kind:      kind,
		State:     req.Record.State,
		Detail:    detail,
		At:        s.clock().UTC(),
	}
	select {
	case s.events <- event:
	default:
		// slow consumer, drop
	}
}

func (s *Service) notifyTerminal(ctx context.Context, req *Request, detail string) {
	if err := s.notifier.Notify(ctx, notify.Event{
		RequestID: req.ID,
		State:     req.Record.State,
		Summary:   fmt.Sprintf("request %q reached %s", truncate(req.Text, 80), req.Record.State),
		Detail:    detail,
	}); err != nil {
		s.logger.Warn("notification failed", map[string]interface{}{
			"requestId": req.ID,
			"error":     err.Error(),
		})
	}
}

func (s *Service) recordRun(ctx context.Context, status string, duration time.Duration) {
	if s.obs == nil {
		return
	}
	s.obs.RecordRun(ctx, status)
	s.obs.RecordRunDuration(ctx, duration, status)
}

func (s *Service) historyDepth() int {
	if s.cfg.HistoryDepth < 1 {
		return 5
	}
	return s.cfg.HistoryDepth
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
