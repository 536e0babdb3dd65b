package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/qlc-bridge/internal/audit"
	"github.com/nerrad567/qlc-bridge/internal/bridges/qlc"
	"github.com/nerrad567/qlc-bridge/internal/catalog"
)

// commandTimeout bounds a command, including toggle delays and status re-queries.
const commandTimeout = 15 * time.Second

// refreshTimeout bounds a full catalog refresh.
const refreshTimeout = 60 * time.Second

// CommandRequest is the body of POST /api/v1/commands.
type CommandRequest struct {
	Action     string         `json:"action"`
	EntityID   string         `json:"entity_id,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// CommandResponse reports an executed command.
type CommandResponse struct {
	ID       string `json:"id"`
	Action   string `json:"action"`
	EntityID string `json:"entity_id,omitempty"`
	Status   string `json:"status"`
	Frames   int    `json:"frames"`
}

// handleCommand validates an operator command and executes it on the controller.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var req CommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Action == "" {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "action is required")
		return
	}

	frames, err := qlc.BuildCommands(req.Action, req.EntityID, req.Parameters)
	if err != nil {
		s.recordAudit(r, req.Action, req.EntityID, audit.OutcomeRejected,
			map[string]any{"error": err.Error(), "parameters": req.Parameters})
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	}

	id := uuid.NewString()
	ctx, cancel := context.WithTimeout(r.Context(), commandTimeout)
	defer cancel()

	if err := s.controller.Execute(ctx, frames...); err != nil {
		s.logger.Warn("command failed",
			"command_id", id,
			"action", req.Action,
			"entity_id", req.EntityID,
			"error", err,
		)
		s.recordAudit(r, req.Action, req.EntityID, audit.OutcomeFailed,
			map[string]any{"command_id": id, "error": err.Error(), "parameters": req.Parameters})
		writeControllerError(w, err)
		return
	}

	s.recordAudit(r, req.Action, req.EntityID, audit.OutcomeAccepted,
		map[string]any{"command_id": id, "parameters": req.Parameters})
	s.logger.Info("command executed",
		"command_id", id,
		"action", req.Action,
		"entity_id", req.EntityID,
		"request_id", r.Context().Value(ctxKeyRequestID),
	)
	s.recordCommand(r.Context(), req)

	writeJSON(w, http.StatusOK, CommandResponse{
		ID:       id,
		Action:   req.Action,
		EntityID: req.EntityID,
		Status:   "accepted",
		Frames:   len(frames),
	})
}

// recordCommand appends the requested status of a function start/stop to the
// history. The controller's confirmation arrives separately as a status event.
func (s *Server) recordCommand(ctx context.Context, req CommandRequest) {
	if s.history == nil || req.Action != qlc.ActionSetFunctionStatus {
		return
	}
	running, err := qlc.BoolParam(req.Parameters, "running")
	if err != nil {
		return
	}
	status := qlc.StatusStopped
	if running {
		status = qlc.StatusRunning
	}
	if err := s.history.RecordStatus(ctx, string(qlc.KindFunction), req.EntityID, status, catalog.SourceCommand); err != nil {
		s.logger.Warn("recording command history failed", "entity_id", req.EntityID, "error", err)
	}
}

// handleRefresh re-reads the controller catalog.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), refreshTimeout)
	defer cancel()

	cat, err := s.controller.Refresh(ctx)
	if err != nil {
		s.logger.Warn("refresh failed", "error", err)
		s.recordAudit(r, auditActionRefresh, "", audit.OutcomeFailed, map[string]any{"error": err.Error()})
		writeControllerError(w, err)
		return
	}
	s.recordAudit(r, auditActionRefresh, "", audit.OutcomeAccepted,
		map[string]any{"functions": len(cat.Functions), "widgets": len(cat.Widgets)})
	writeJSON(w, http.StatusOK, map[string]any{
		"functions": len(cat.Functions),
		"widgets":   len(cat.Widgets),
	})
}

// handleResetClassifications forgets every cached classification so the
// next refresh re-queries the controller for each entity's type.
func (s *Server) handleResetClassifications(w http.ResponseWriter, r *http.Request) {
	if s.classifications == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "classification cache is not configured")
		return
	}
	n, err := s.classifications.Reset(r.Context())
	if err != nil {
		s.logger.Error("resetting classifications failed", "error", err)
		s.recordAudit(r, auditActionResetClassification, "", audit.OutcomeFailed, map[string]any{"error": err.Error()})
		writeInternalError(w, "failed to reset classifications")
		return
	}
	s.logger.Info("classification cache reset", "removed", n)
	s.recordAudit(r, auditActionResetClassification, "", audit.OutcomeAccepted, map[string]any{"removed": n})
	writeJSON(w, http.StatusOK, map[string]any{"removed": n})
}

// writeControllerError maps a client error to an HTTP response.
func writeControllerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, qlc.ErrRequestTimeout), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, ErrCodeTimeout, err.Error())
	case errors.Is(err, qlc.ErrNotConnected), errors.Is(err, qlc.ErrDisconnected),
		errors.Is(err, qlc.ErrConnectionFailed), errors.Is(err, qlc.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, err.Error())
	case errors.Is(err, qlc.ErrInvalidCommand), errors.Is(err, qlc.ErrNotQuery):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
	default:
		writeInternalError(w, err.Error())
	}
}
