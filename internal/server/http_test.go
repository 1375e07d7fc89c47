// internal/server/http_test.go
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetbridge/internal/common/config"
	"fleetbridge/internal/common/logger"
	"fleetbridge/internal/entity"
	"fleetbridge/internal/execution"
	"fleetbridge/internal/generate"
	"fleetbridge/internal/intent"
	"fleetbridge/internal/model"
	"fleetbridge/internal/pipeline"
	"fleetbridge/internal/template"
	"fleetbridge/internal/validate"
)

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

type stubExecutor struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (s *stubExecutor) Execute(_ context.Context, _ string, _ map[string]interface{}) (*execution.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &execution.Result{ExternalID: "EXT-77", Status: "accepted", ExecutedAt: fixedNow}, nil
}

func (s *stubExecutor) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *stubExecutor) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func newTestServer(t *testing.T, script []string) (*httptest.Server, *stubExecutor) {
	t.Helper()
	log := logger.NewTestLogger(t)

	mock := &model.Mock{Script: script}
	classifier := intent.NewClassifier(mock, intent.Config{AmbiguityEpsilon: 0.1}, log)
	extractor := entity.NewExtractor(mock, entity.NewMemoryCache(), log)
	registry := template.NewRegistry(log)
	selector := template.NewSelector(template.SelectorConfig{
		ConfidenceThreshold: 0.6,
		CoverageThreshold:   0.5,
		TieEpsilon:          0.05,
	}, log)
	generator := generate.NewGenerator(fixedClock, log)
	validator := validate.NewValidator(fixedClock, nil, log)
	analyzer := pipeline.NewAnalyzer(classifier, extractor, registry, selector, generator, validator, 2*time.Second, log)

	executor := &stubExecutor{}
	cfg := config.PipelineConfig{WorkerPoolSize: 2, StageTimeout: 2000, HistoryDepth: 3}
	svc := pipeline.NewService(analyzer, executor, nil, nil, nil, cfg, fixedClock, log)

	ts := httptest.NewServer(New(svc, log).Routes())
	t.Cleanup(ts.Close)
	return ts, executor
}

// requestDTO decodes the slices of the request resource the tests assert on.
type requestDTO struct {
	ID     string `json:"id"`
	Record struct {
		State string `json:"state"`
	} `json:"record"`
	Analysis *struct {
		Payload struct {
			Data map[string]interface{} `json:"data"`
		} `json:"payload"`
	} `json:"analysis"`
	LastError *struct {
		Code string `json:"code"`
	} `json:"lastError"`
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func submitRequest(t *testing.T, ts *httptest.Server, text string) requestDTO {
	t.Helper()
	resp := postJSON(t, ts.URL+"/api/requests", map[string]string{"text": text, "actor": "alice"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var dto requestDTO
	decodeBody(t, resp, &dto)
	return dto
}

// ==========================
// Endpoint Tests
// ==========================

func TestHTTP_SubmitCreatesAnalyzedRequest(t *testing.T) {
	ts, _ := newTestServer(t, []string{classifyReservation, extractReservation})

	dto := submitRequest(t, ts, reservationText)

	assert.NotEmpty(t, dto.ID)
	assert.Equal(t, "ANALYZED", dto.Record.State)
	require.NotNil(t, dto.Analysis)
	assert.Equal(t, "VAN-12", dto.Analysis.Payload.Data["vehicle_id"])
	assert.Equal(t, "2026-03-11", dto.Analysis.Payload.Data["date"])
}

func TestHTTP_SubmitRequiresText(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	resp := postJSON(t, ts.URL+"/api/requests", map[string]string{"actor": "alice"})
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHTTP_SubmitRejectsMalformedJSON(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	resp, err := http.Post(ts.URL+"/api/requests", "application/json", bytes.NewBufferString("{not json"))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHTTP_GetAndList(t *testing.T) {
	ts, _ := newTestServer(t, []string{classifyReservation, extractReservation})
	dto := submitRequest(t, ts, reservationText)

	resp, err := http.Get(ts.URL + "/api/requests/" + dto.ID)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	var got requestDTO
	decodeBody(t, resp, &got)
	assert.Equal(t, dto.ID, got.ID)

	resp, err = http.Get(ts.URL + "/api/requests")
	require.NoError(t, err)
	var list []requestDTO
	decodeBody(t, resp, &list)
	assert.Len(t, list, 1)
}

func TestHTTP_GetUnknownRequestIs404(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/api/requests/no-such-id")
	require.NoError(t, err)

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	var std struct {
		Code string `json:"code"`
	}
	decodeBody(t, resp, &std)
	assert.Equal(t, "REQUEST_NOT_FOUND", std.Code)
}

func TestHTTP_ApproveAndExecuteFlow(t *testing.T) {
	ts, executor := newTestServer(t, []string{classifyReservation, extractReservation})
	dto := submitRequest(t, ts, reservationText)

	resp := postJSON(t, ts.URL+"/api/requests/"+dto.ID+"/approve", map[string]string{"actor": "bob"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var approved requestDTO
	decodeBody(t, resp, &approved)
	assert.Equal(t, "APPROVED", approved.Record.State)

	resp = postJSON(t, ts.URL+"/api/requests/"+dto.ID+"/execute", map[string]string{"actor": "bob"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var executed requestDTO
	decodeBody(t, resp, &executed)
	assert.Equal(t, "EXECUTED", executed.Record.State)
	assert.Equal(t, 1, executor.count())
}

func TestHTTP_ApproveWithoutOverrideIs422(t *testing.T) {
	ts, _ := newTestServer(t, []string{classifyReservation, extractReservation})
	dto := submitRequest(t, ts, "Reserve vehicle VAN-12 on 3/1/2026 from 2pm to 4pm for an audit")

	resp := postJSON(t, ts.URL+"/api/requests/"+dto.ID+"/approve", map[string]string{"actor": "bob"})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	var std struct {
		Code string `json:"code"`
	}
	decodeBody(t, resp, &std)
	assert.Equal(t, "OVERRIDE_REQUIRED", std.Code)

	resp = postJSON(t, ts.URL+"/api/requests/"+dto.ID+"/approve", map[string]string{
		"actor":    "bob",
		"override": "backfilled record",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var approved requestDTO
	decodeBody(t, resp, &approved)
	assert.Equal(t, "APPROVED", approved.Record.State)
}

func TestHTTP_IllegalActionIs422(t *testing.T) {
	ts, _ := newTestServer(t, []string{classifyReservation, extractReservation})
	dto := submitRequest(t, ts, reservationText)

	// Execute before approval is an illegal transition.
	resp := postJSON(t, ts.URL+"/api/requests/"+dto.ID+"/execute", map[string]string{"actor": "bob"})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	var std struct {
		Code string `json:"code"`
	}
	decodeBody(t, resp, &std)
	assert.Equal(t, "INVALID_STATE_TRANSITION", std.Code)
}

func TestHTTP_EditAndResubmit(t *testing.T) {
	ts, _ := newTestServer(t, []string{classifyReservation, extractReservation})
	dto := submitRequest(t, ts, reservationText)

	resp := postJSON(t, ts.URL+"/api/requests/"+dto.ID+"/edit", map[string]interface{}{
		"actor":  "bob",
		"fields": map[string]interface{}{"purpose": "board meeting"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var editing requestDTO
	decodeBody(t, resp, &editing)
	assert.Equal(t, "EDITING", editing.Record.State)

	resp = postJSON(t, ts.URL+"/api/requests/"+dto.ID+"/resubmit", map[string]string{"actor": "bob"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var analyzed requestDTO
	decodeBody(t, resp, &analyzed)
	assert.Equal(t, "ANALYZED", analyzed.Record.State)
	require.NotNil(t, analyzed.Analysis)
	assert.Equal(t, "board meeting", analyzed.Analysis.Payload.Data["purpose"])
}

func TestHTTP_RejectAndCancel(t *testing.T) {
	ts, _ := newTestServer(t, []string{
		classifyReservation, extractReservation,
		classifyReservation, extractReservation,
	})

	first := submitRequest(t, ts, reservationText)
	resp := postJSON(t, ts.URL+"/api/requests/"+first.ID+"/reject", map[string]string{
		"actor": "bob",
		"note":  "wrong vehicle",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var rejected requestDTO
	decodeBody(t, resp, &rejected)
	assert.Equal(t, "REJECTED", rejected.Record.State)

	second := submitRequest(t, ts, "Reserve vehicle VAN-13 tomorrow 2pm-4pm for a site visit")
	resp = postJSON(t, ts.URL+"/api/requests/"+second.ID+"/cancel", map[string]string{"actor": "alice"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var cancelled requestDTO
	decodeBody(t, resp, &cancelled)
	assert.Equal(t, "CANCELLED", cancelled.Record.State)
}

func TestHTTP_RetryAfterExecutionFailure(t *testing.T) {
	ts, executor := newTestServer(t, []string{classifyReservation, extractReservation})
	dto := submitRequest(t, ts, reservationText)

	resp := postJSON(t, ts.URL+"/api/requests/"+dto.ID+"/approve", map[string]string{"actor": "bob"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	executor.setErr(fmt.Errorf("fleet api returned 502"))

	resp = postJSON(t, ts.URL+"/api/requests/"+dto.ID+"/execute", map[string]string{"actor": "bob"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var failed requestDTO
	decodeBody(t, resp, &failed)
	assert.Equal(t, "FAILED", failed.Record.State)
	require.NotNil(t, failed.LastError)

	executor.setErr(nil)

	resp = postJSON(t, ts.URL+"/api/requests/"+dto.ID+"/retry", map[string]string{"actor": "bob"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var executed requestDTO
	decodeBody(t, resp, &executed)
	assert.Equal(t, "EXECUTED", executed.Record.State)
	assert.Equal(t, 2, executor.count())
}

func TestHTTP_Healthz(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]string
	decodeBody(t, resp, &body)
	assert.Equal(t, "healthy", body["status"])
}
