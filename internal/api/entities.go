package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/qlc-bridge/internal/bridges/qlc"
	"github.com/nerrad567/qlc-bridge/internal/catalog"
)

// FunctionView is the API representation of a controller function.
type FunctionView struct {
	ID             string `json:"id"`
	Label          string `json:"label"`
	RawLabel       string `json:"raw_label"`
	Classification string `json:"classification,omitempty"`
	Status         string `json:"status"`
	Running        bool   `json:"running"`
}

// WidgetView is the API representation of a virtual console widget.
type WidgetView struct {
	ID             string `json:"id"`
	Label          string `json:"label"`
	RawLabel       string `json:"raw_label"`
	Classification string `json:"classification,omitempty"`
}

func newFunctionView(e qlc.Entity) FunctionView {
	return FunctionView{
		ID:             e.ID,
		Label:          e.DisplayLabel,
		RawLabel:       e.RawLabel,
		Classification: e.Classification,
		Status:         e.StatusOrUnknown(),
		Running:        e.Status == qlc.StatusRunning,
	}
}

func newWidgetView(e qlc.Entity) WidgetView {
	return WidgetView{
		ID:             e.ID,
		Label:          e.DisplayLabel,
		RawLabel:       e.RawLabel,
		Classification: e.Classification,
	}
}

// matchesClassification applies the optional ?classification= filter.
func matchesClassification(e qlc.Entity, filter string) bool {
	return filter == "" || strings.EqualFold(e.Classification, filter)
}

// handleListFunctions returns the mirrored functions in display order.
// Query: ?classification=Scene filters by function type.
func (s *Server) handleListFunctions(w http.ResponseWriter, r *http.Request) {
	filter := r.URL.Query().Get("classification")

	views := make([]FunctionView, 0)
	for _, e := range s.controller.Functions() {
		if matchesClassification(e, filter) {
			views = append(views, newFunctionView(e))
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"functions": views,
		"count":     len(views),
	})
}

// handleGetFunction returns one function.
func (s *Server) handleGetFunction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	e, ok := s.controller.Catalog().Function(id)
	if !ok {
		writeNotFound(w, "function not found")
		return
	}
	writeJSON(w, http.StatusOK, newFunctionView(e))
}

// handleListWidgets returns the mirrored widgets in display order.
// Query: ?classification=Slider filters by widget type.
func (s *Server) handleListWidgets(w http.ResponseWriter, r *http.Request) {
	filter := r.URL.Query().Get("classification")

	views := make([]WidgetView, 0)
	for _, e := range s.controller.Widgets() {
		if matchesClassification(e, filter) {
			views = append(views, newWidgetView(e))
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"widgets": views,
		"count":   len(views),
	})
}

// handleGetWidget returns one widget.
func (s *Server) handleGetWidget(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	e, ok := s.controller.Catalog().Widget(id)
	if !ok {
		writeNotFound(w, "widget not found")
		return
	}
	writeJSON(w, http.StatusOK, newWidgetView(e))
}

// handleFunctionHistory returns recorded status changes, newest first.
// Query: ?limit=N (default 50, max 500).
func (s *Server) handleFunctionHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "status history is not configured")
		return
	}

	id := chi.URLParam(r, "id")
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = n
	}

	entries, err := s.history.GetHistory(r.Context(), qlc.KindFunction, id, limit)
	if err != nil {
		if errors.Is(err, catalog.ErrIDRequired) {
			writeBadRequest(w, err.Error())
			return
		}
		s.logger.Error("reading status history failed", "function_id", id, "error", err)
		writeInternalError(w, "failed to read status history")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"function_id": id,
		"history":     entries,
		"count":       len(entries),
	})
}
