// Package handler exposes the approval workflow engine over HTTP/JSON.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/transformhub/be-tm-approvals/internal/apperrors"
	"github.com/transformhub/be-tm-approvals/internal/repository"
	"github.com/transformhub/be-tm-approvals/internal/service"
	"github.com/transformhub/be-tm-approvals/internal/workflow"
)

// HTTPHandler handles HTTP requests for the approval engine.
type HTTPHandler struct {
	submission *service.SubmissionService
	decision   *service.DecisionService
	query      *service.QueryService
	log        zerolog.Logger
}

// NewHTTPHandler creates a new HTTP handler.
func NewHTTPHandler(
	submission *service.SubmissionService,
	decision *service.DecisionService,
	query *service.QueryService,
	log zerolog.Logger,
) *HTTPHandler {
	return &HTTPHandler{
		submission: submission,
		decision:   decision,
		query:      query,
		log:        log,
	}
}

// Router builds the route table.
func (h *HTTPHandler) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/approvals/submit", h.Submit).Methods(http.MethodPost)
	api.HandleFunc("/approvals/pending", h.Pending).Methods(http.MethodGet)
	api.HandleFunc("/approvals/{stageRecordID}/decide", h.Decide).Methods(http.MethodPost)
	api.HandleFunc("/{entityType}/{entityID}/approval-status", h.EntityStatus).Methods(http.MethodGet)
	api.HandleFunc("/{entityType}/{entityID}/approval-history", h.EntityHistory).Methods(http.MethodGet)

	return r
}

// Health answers liveness probes.
func (h *HTTPHandler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

type submitRequest struct {
	ProgramID  string `json:"program_id"`
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
}

type submitResponse struct {
	InstanceID string                  `json:"instance_id"`
	Status     workflow.InstanceStatus `json:"status"`
}

// Submit opens a new approval instance for an entity.
func (h *HTTPHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, apperrors.InvalidInput("body", "malformed JSON"))
		return
	}

	// Actor identity comes from gateway-injected headers until the identity
	// service lands; the submitter is recorded but not authorized here.
	submittedBy := r.Header.Get("X-Actor-ID")

	inst, _, err := h.submission.Submit(r.Context(), req.ProgramID, req.EntityType, req.EntityID, submittedBy)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, submitResponse{InstanceID: inst.ID, Status: inst.Status})
}

type decideRequest struct {
	Decision workflow.Decision `json:"decision"`
	Comment  string            `json:"comment,omitempty"`
}

type decideResponse struct {
	Status workflow.InstanceStatus `json:"status"`
}

// Decide applies an approve/reject decision to a stage record.
func (h *HTTPHandler) Decide(w http.ResponseWriter, r *http.Request) {
	stageRecordID := mux.Vars(r)["stageRecordID"]

	var req decideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, apperrors.InvalidInput("body", "malformed JSON"))
		return
	}

	actor := service.Actor{
		ID:   r.Header.Get("X-Actor-ID"),
		Role: r.Header.Get("X-Actor-Role"),
	}
	if actor.ID == "" || actor.Role == "" {
		respondError(w, apperrors.InvalidInput("actor", "X-Actor-ID and X-Actor-Role headers are required"))
		return
	}

	inst, err := h.decision.Decide(r.Context(), stageRecordID, req.Decision, actor, req.Comment)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, decideResponse{Status: inst.Status})
}

// Pending lists the approval inbox for a role within a program.
func (h *HTTPHandler) Pending(w http.ResponseWriter, r *http.Request) {
	programID := r.URL.Query().Get("program_id")
	role := r.URL.Query().Get("role")
	if programID == "" || role == "" {
		respondError(w, apperrors.InvalidInput("query", "program_id and role are required"))
		return
	}
	entityType := r.URL.Query().Get("entity_type")

	items, err := h.query.PendingFor(r.Context(), programID, role, entityType)
	if err != nil {
		respondError(w, err)
		return
	}
	if items == nil {
		items = []*service.PendingItem{}
	}

	respondJSON(w, http.StatusOK, items)
}

// EntityStatus returns the approval banner payload for one entity.
func (h *HTTPHandler) EntityStatus(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	status, err := h.query.StatusOf(r.Context(), vars["entityType"], vars["entityID"])
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, status)
}

// EntityHistory returns the audit trail for one entity.
func (h *HTTPHandler) EntityHistory(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	entries, err := h.query.HistoryOf(r.Context(), vars["entityType"], vars["entityID"])
	if err != nil {
		respondError(w, err)
		return
	}
	if entries == nil {
		entries = []*repository.AuditEntry{}
	}

	respondJSON(w, http.StatusOK, entries)
}

// ── response helpers ─────────────────────────────────────────────────────────

type errorResponse struct {
	Error string         `json:"error"`
	Code  apperrors.Code `json:"code"`
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func respondError(w http.ResponseWriter, err error) {
	code := apperrors.CodeOf(err)

	var status int
	switch code {
	case apperrors.CodeValidation:
		status = http.StatusBadRequest
	case apperrors.CodeConflict:
		status = http.StatusConflict
	case apperrors.CodeNotFound:
		status = http.StatusNotFound
	case apperrors.CodeUnauthorized:
		status = http.StatusForbidden
	default:
		status = http.StatusInternalServerError
	}

	message := err.Error()
	var appErr *apperrors.Error
	if !errors.As(err, &appErr) {
		// Untyped errors stay opaque to clients.
		message = "internal server error"
	}

	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
