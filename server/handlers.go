package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/deepnoodle-ai/autopilot"
	"github.com/deepnoodle-ai/autopilot/slogger"
	"github.com/deepnoodle-ai/autopilot/stream"
)

const defaultListLimit = 50

type handlers struct {
	engine       *autopilot.Engine
	definitions  autopilot.DefinitionStore
	ledger       autopilot.Ledger
	logger       slogger.Logger
	maxBodyBytes int64
}

// RunRequest is the body of POST /v1/definitions/{id}/runs.
type RunRequest struct {
	Input       map[string]any        `json:"input"`
	OrgID       string                `json:"orgId"`
	UserID      string                `json:"userId,omitempty"`
	SubjectID   string                `json:"subjectId,omitempty"`
	OrgPrompt   string                `json:"orgPrompt,omitempty"`
	TriggerType autopilot.TriggerType `json:"triggerType,omitempty"`
}

// MatchRequest is the body of POST /v1/match.
type MatchRequest struct {
	EventName  string               `json:"eventName"`
	Properties autopilot.Properties `json:"properties"`
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

// storeError maps store errors onto responses.
func (h *handlers) storeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, autopilot.ErrNotFound):
		writeError(w, r, http.StatusNotFound, codeNotFound, err.Error())
	case errors.Is(err, autopilot.ErrInvalidDefinition), errors.Is(err, autopilot.ErrInvalidExecutionID):
		writeError(w, r, http.StatusBadRequest, codeInvalidInput, err.Error())
	default:
		h.logger.Error("store request failed", "path", r.URL.Path, "error", err)
		writeError(w, r, http.StatusInternalServerError, codeInternal, "internal error")
	}
}

func (h *handlers) listDefinitions(w http.ResponseWriter, r *http.Request) {
	defs, err := h.definitions.List(r.Context())
	if err != nil {
		h.storeError(w, r, err)
		return
	}
	if defs == nil {
		defs = []*autopilot.Definition{}
	}
	writeJSON(w, r, http.StatusOK, defs)
}

func (h *handlers) getDefinition(w http.ResponseWriter, r *http.Request) {
	def, err := h.definitions.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.storeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, def)
}

func (h *handlers) putDefinition(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	var def autopilot.Definition
	if err := decodeJSON(r, &def); err != nil {
		writeError(w, r, http.StatusBadRequest, codeInvalidInput, "invalid request body: "+err.Error())
		return
	}
	if def.ID != "" && def.ID != id {
		writeError(w, r, http.StatusBadRequest, codeInvalidInput, "definition id does not match the path")
		return
	}
	def.ID = id
	saved, err := h.definitions.Upsert(r.Context(), &def)
	if err != nil {
		h.storeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, saved)
}

// runDefinition validates the input, then streams the run as SSE. Nothing is
// written to the ledger when validation fails.
func (h *handlers) runDefinition(w http.ResponseWriter, r *http.Request) {
	def, err := h.definitions.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.storeError(w, r, err)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	var req RunRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, codeInvalidInput, "invalid request body: "+err.Error())
		return
	}
	input, err := autopilot.ValidateInput(def, req.Input)
	if err != nil {
		var validation *autopilot.ValidationError
		if errors.As(err, &validation) {
			writeErrorDetails(w, r, http.StatusBadRequest, codeInvalidInput, err.Error(), validation.Fields)
			return
		}
		writeError(w, r, http.StatusBadRequest, codeInvalidInput, err.Error())
		return
	}
	triggerType := req.TriggerType
	if triggerType == "" {
		triggerType = autopilot.TriggerManual
	}

	sse, err := stream.StartResponse(w)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, codeInternal, err.Error())
		return
	}
	logger := h.logger.With("definition_id", def.ID, "request_id", RequestIDFromContext(r.Context()))
	result, err := h.engine.Run(r.Context(), def, autopilot.ExecutionContext{
		Input:       input,
		OrgID:       req.OrgID,
		UserID:      req.UserID,
		SubjectID:   req.SubjectID,
		OrgPrompt:   req.OrgPrompt,
		TriggerType: triggerType,
	}, sse.Callbacks())
	if err != nil {
		logger.Error("run could not start", "error", err)
		_ = sse.Send(stream.EventStatus, stream.StatusUpdate{Status: autopilot.StatusFailed, Error: err.Error()})
		return
	}
	if sse.Err() != nil {
		logger.Info("client left before the run finished", "execution_id", result.ExecutionID, "status", result.Status)
	}
}

func (h *handlers) match(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	var req MatchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, codeInvalidInput, "invalid request body: "+err.Error())
		return
	}
	if req.EventName == "" {
		writeError(w, r, http.StatusBadRequest, codeInvalidInput, "eventName is required")
		return
	}
	defs, err := h.definitions.List(r.Context())
	if err != nil {
		h.storeError(w, r, err)
		return
	}
	matched := autopilot.SelectDefinitions(defs, req.EventName, req.Properties)
	if matched == nil {
		matched = []*autopilot.Definition{}
	}
	writeJSON(w, r, http.StatusOK, matched)
}

func (h *handlers) getExecution(w http.ResponseWriter, r *http.Request) {
	record, err := h.ledger.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.storeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, record)
}

func (h *handlers) listExecutions(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, r, http.StatusBadRequest, codeInvalidInput, "limit must be a positive integer")
			return
		}
		limit = n
	}
	records, err := h.ledger.ListByDefinition(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		h.storeError(w, r, err)
		return
	}
	if records == nil {
		records = []*autopilot.ExecutionRecord{}
	}
	writeJSON(w, r, http.StatusOK, records)
}
