package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-monitor/internal/audit"
	"github.com/nerrad567/gray-logic-monitor/internal/supervision"
)

// adminActionRequest is the optional body of start and stop requests.
// A zero timestamp means now.
type adminActionRequest struct {
	Timestamp time.Time `json:"timestamp"`
}

// pathFamily parses the {family} URL parameter, writing a 404 for an
// unknown family.
func pathFamily(w http.ResponseWriter, r *http.Request) (supervision.Family, bool) {
	f, err := supervision.ParseFamily(chi.URLParam(r, "family"))
	if err != nil {
		writeNotFound(w, err.Error())
		return "", false
	}
	return f, true
}

// handleListEntities returns every entity of a family.
func (s *Server) handleListEntities(w http.ResponseWriter, r *http.Request) {
	f, ok := pathFamily(w, r)
	if !ok {
		return
	}
	store, err := s.monitor.Entities().Of(f)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	entities := store.GetAll()
	writeJSON(w, http.StatusOK, map[string]any{
		"family":   f,
		"entities": entities,
		"count":    len(entities),
	})
}

// handleGetEntity returns one entity.
func (s *Server) handleGetEntity(w http.ResponseWriter, r *http.Request) {
	f, ok := pathFamily(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	e, err := s.monitor.Supervision().Get(f, id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// handleStartEntity administratively starts an entity.
func (s *Server) handleStartEntity(w http.ResponseWriter, r *http.Request) {
	s.adminAction(w, r, audit.ActionSupervisionStart, s.monitor.Supervision().Start)
}

// handleStopEntity administratively stops an entity.
func (s *Server) handleStopEntity(w http.ResponseWriter, r *http.Request) {
	s.adminAction(w, r, audit.ActionSupervisionStop, s.monitor.Supervision().Stop)
}

func (s *Server) adminAction(w http.ResponseWriter, r *http.Request, auditAction string,
	action func(supervision.Family, int64, time.Time) error,
) {
	f, ok := pathFamily(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req adminActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if err := action(f, id, req.Timestamp); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	e, err := s.monitor.Supervision().Get(f, id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if s.repo != nil {
		if err := s.repo.SaveEntity(r.Context(), e); err != nil {
			s.logger.Error("persisting entity failed", "family", f, "id", id, "error", err)
		}
	}
	s.logger.Info("entity administered",
		"action", auditAction,
		"family", f,
		"id", id,
		"status", e.Status,
		"by", identityFrom(r.Context()).Subject,
	)
	s.recordAudit(r, auditAction, string(f), id, map[string]any{
		"status": e.Status,
		"reason": e.StatusReason,
	})
	writeJSON(w, http.StatusOK, e)
}
