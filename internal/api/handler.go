// Package api provides the HTTP Trigger API handlers and routing for the
// coordination service.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"coordinator/internal/apperrors"
	"coordinator/internal/coordinator"
	"coordinator/internal/health"
	"coordinator/internal/observability"
	"coordinator/internal/store"
)

// maxRequestBodySize limits request body to 1MB to prevent memory exhaustion
const maxRequestBodySize = 1 << 20 // 1 MB

// Handler contains HTTP handlers for the Trigger API.
type Handler struct {
	coordinator *coordinator.Coordinator
	metrics     *observability.Metrics
	health      *health.Checker
}

// NewHandler creates a new API handler.
func NewHandler(c *coordinator.Coordinator, metrics *observability.Metrics, healthChecker *health.Checker) *Handler {
	return &Handler{
		coordinator: c,
		metrics:     metrics,
		health:      healthChecker,
	}
}

// triggerRequest is the Trigger API request body (spec §6 "Trigger API").
type triggerRequest struct {
	JobName   string            `json:"jobName"`
	TriggerID string            `json:"triggerId"`
	Params    map[string]string `json:"params"`
}

// triggerResponse mirrors the Trigger API response contract exactly.
type triggerResponse struct {
	Success     bool   `json:"success"`
	ExecutionID int64  `json:"executionId"`
	JobName     string `json:"jobName"`
	TriggerID   string `json:"triggerId"`
	Status      string `json:"status"`
	Message     string `json:"message,omitempty"`
}

// executionSummary is what lookup and get endpoints return.
type executionSummary struct {
	ExecutionID     int64  `json:"executionId"`
	JobName         string `json:"jobName"`
	TriggerID       string `json:"triggerId"`
	Status          string `json:"status"`
	ExitCode        string `json:"exitCode,omitempty"`
	ExitDescription string `json:"exitDescription,omitempty"`
}

func toSummary(exec *store.Execution) executionSummary {
	return executionSummary{
		ExecutionID:     exec.ExecutionID,
		JobName:         exec.JobName,
		TriggerID:       exec.TriggerID,
		Status:          exec.Status,
		ExitCode:        exec.ExitCode,
		ExitDescription: exec.ExitDescription,
	}
}

// Trigger handles POST /v1/trigger.
func (h *Handler) Trigger(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req triggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.JobName == "" {
		h.writeError(w, http.StatusBadRequest, "jobName is required")
		return
	}
	if req.TriggerID == "" {
		h.writeError(w, http.StatusBadRequest, "triggerId is required")
		return
	}

	exec, err := h.coordinator.Trigger(r.Context(), req.JobName, req.TriggerID, req.Params)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusAccepted, triggerResponse{
		Success:     true,
		ExecutionID: exec.ExecutionID,
		JobName:     exec.JobName,
		TriggerID:   exec.TriggerID,
		Status:      exec.Status,
	})
}

// GetExecution handles GET /v1/executions/{executionId}.
func (h *Handler) GetExecution(w http.ResponseWriter, r *http.Request) {
	id, err := parseExecutionID(r.PathValue("executionId"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	exec, err := h.coordinator.FindExecution(r.Context(), id)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	if exec == nil {
		h.handleError(w, r, apperrors.NotFound("execution", r.PathValue("executionId")))
		return
	}

	h.writeJSON(w, http.StatusOK, toSummary(exec))
}

// StopExecution handles POST /v1/executions/{executionId}/stop.
func (h *Handler) StopExecution(w http.ResponseWriter, r *http.Request) {
	id, err := parseExecutionID(r.PathValue("executionId"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	stopped, err := h.coordinator.Stop(r.Context(), id)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]bool{"stopped": stopped})
}

// LookupExecution handles GET /v1/executions/lookup?triggerId=...
func (h *Handler) LookupExecution(w http.ResponseWriter, r *http.Request) {
	triggerID := r.URL.Query().Get("triggerId")
	if triggerID == "" {
		h.writeError(w, http.StatusBadRequest, "triggerId query parameter is required")
		return
	}

	exec, err := h.coordinator.FindByTriggerID(r.Context(), triggerID)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	if exec == nil {
		h.writeError(w, http.StatusNotFound, "no execution found for trigger id "+triggerID)
		return
	}

	h.writeJSON(w, http.StatusOK, toSummary(exec))
}

// Livez handles GET /livez - liveness probe.
func (h *Handler) Livez(w http.ResponseWriter, r *http.Request) {
	response := h.health.Liveness(r.Context())
	h.writeJSON(w, http.StatusOK, response)
}

// Readyz handles GET /readyz - readiness probe.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	response := h.health.Readiness(r.Context())

	status := http.StatusOK
	if !response.IsHealthy() {
		status = http.StatusServiceUnavailable
	}

	h.writeJSON(w, status, response)
}

func parseExecutionID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, apperrors.Validation("executionId", "executionId must be an integer")
	}
	return id, nil
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// writeError writes an error response
func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

// handleError handles errors from the coordinator with appropriate HTTP status codes.
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatus(err)
	if status >= 500 {
		slog.ErrorContext(r.Context(), "internal error", "error", err, "path", r.URL.Path)
	} else {
		slog.WarnContext(r.Context(), "client error", "error", err, "path", r.URL.Path, "status", status)
	}
	h.writeError(w, status, err.Error())
}
