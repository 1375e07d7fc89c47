// Package server exposes the pipeline over HTTP for the reviewer UI.
package server

import (
	"encoding/json"
	"net/http"
	"time"

	"fleetbridge/internal/common/errors"
	"fleetbridge/internal/common/logger"
	"fleetbridge/internal/pipeline"
)

type Server struct {
	service *pipeline.Service
	logger  logger.Logger
}

func New(service *pipeline.Service, log logger.Logger) *Server {
	return &Server{
		service: service,
		logger: log.With(map[string]interface{}{
			"component": "http",
		}),
	}
}

// Routes mounts the API. Request actions are POSTs on the request resource;
// every response body is JSON.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/requests", s.handleSubmit)
	mux.HandleFunc("GET /api/requests", s.handleList)
	mux.HandleFunc("GET /api/requests/{id}", s.handleGet)
	mux.HandleFunc("POST /api/requests/{id}/approve", s.handleApprove)
	mux.HandleFunc("POST /api/requests/{id}/reject", s.handleReject)
	mux.HandleFunc("POST /api/requests/{id}/cancel", s.handleCancel)
	mux.HandleFunc("POST /api/requests/{id}/execute", s.handleExecute)
	mux.HandleFunc("POST /api/requests/{id}/retry", s.handleRetry)
	mux.HandleFunc("POST /api/requests/{id}/return", s.handleReturn)
	mux.HandleFunc("POST /api/requests/{id}/edit", s.handleEdit)
	mux.HandleFunc("POST /api/requests/{id}/resubmit", s.handleResubmit)
	mux.HandleFunc("POST /api/requests/{id}/regenerate", s.handleRegenerate)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	return mux
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Text  string `json:"text"`
		Actor string `json:"actor"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	if body.Text == "" {
		s.writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	req, err := s.service.Submit(r.Context(), body.Text, body.Actor)
	if err != nil {
		s.writeStandardError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, req)
}

func (s *Server) handleList(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.service.List())
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	req, err := s.service.Get(r.PathValue("id"))
	if err != nil {
		s.writeStandardError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Actor    string `json:"actor"`
		Override string `json:"override,omitempty"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	s.respond(w, r, s.service.Approve(r.Context(), r.PathValue("id"), body.Actor, body.Override))
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Actor string `json:"actor"`
		Note  string `json:"note,omitempty"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	s.respond(w, r, s.service.Reject(r.Context(), r.PathValue("id"), body.Actor, body.Note))
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Actor string `json:"actor"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	s.respond(w, r, s.service.Cancel(r.Context(), r.PathValue("id"), body.Actor))
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Actor string `json:"actor"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	s.respond(w, r, s.service.Execute(r.Context(), r.PathValue("id"), body.Actor))
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Actor string `json:"actor"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	s.respond(w, r, s.service.Retry(r.Context(), r.PathValue("id"), body.Actor))
}

func (s *Server) handleReturn(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Actor string `json:"actor"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	s.respond(w, r, s.service.Return(r.Context(), r.PathValue("id"), body.Actor))
}

func (s *Server) handleEdit(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Actor  string                 `json:"actor"`
		Fields map[string]interface{} `json:"fields"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	s.respond(w, r, s.service.Edit(r.Context(), r.PathValue("id"), body.Actor, body.Fields))
}

func (s *Server) handleResubmit(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Actor string `json:"actor"`
		Text  string `json:"text,omitempty"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	s.respond(w, r, s.service.Resubmit(r.Context(), r.PathValue("id"), body.Actor, body.Text))
}

func (s *Server) handleRegenerate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Actor string `json:"actor"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	s.respond(w, r, s.service.Regenerate(r.Context(), r.PathValue("id"), body.Actor))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// respond finishes an action endpoint: the mutated request on success, the
// mapped error otherwise.
func (s *Server) respond(w http.ResponseWriter, r *http.Request, err error) {
	if err != nil {
		s.writeStandardError(w, err)
		return
	}
	req, getErr := s.service.Get(r.PathValue("id"))
	if getErr != nil {
		s.writeStandardError(w, getErr)
		return
	}
	s.writeJSON(w, http.StatusOK, req)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

// writeStandardError maps pipeline error codes onto HTTP statuses.
func (s *Server) writeStandardError(w http.ResponseWriter, err error) {
	std := errors.AsStandard(err)

	status := http.StatusInternalServerError
	switch std.Code {
	case errors.ErrCodeRequestNotFound:
		status = http.StatusNotFound
	case errors.ErrCodeRequestBusy:
		status = http.StatusConflict
	case errors.ErrCodeInvalidTransition,
		errors.ErrCodeValidationBlocked,
		errors.ErrCodeOverrideRequired:
		status = http.StatusUnprocessableEntity
	case errors.ErrCodeNoMatchingTemplate:
		status = http.StatusBadRequest
	case errors.ErrCodeCircuitOpen:
		status = http.StatusServiceUnavailable
	}

	s.writeJSON(w, status, std)
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("response encode failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
}
