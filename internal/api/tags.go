package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-monitor/internal/audit"
	"github.com/nerrad567/gray-logic-monitor/internal/cache"
	"github.com/nerrad567/gray-logic-monitor/internal/persistence"
	"github.com/nerrad567/gray-logic-monitor/internal/tag"
)

// maxHistoryLimit caps the number of records one history request returns.
const maxHistoryLimit = 10000

// tagRequest is the request body for PUT /tags/{id}. Runtime state
// (value, quality, timestamps) is owned by the cache and cannot be set.
type tagRequest struct {
	Name           string          `json:"name"`
	Kind           tag.Kind        `json:"kind"`
	DataType       tag.DataType    `json:"data_type"`
	ProcessID      int64           `json:"process_id,omitempty"`
	EquipmentID    int64           `json:"equipment_id,omitempty"`
	SubEquipmentID int64           `json:"subequipment_id,omitempty"`
	MinValue       *float64        `json:"min_value,omitempty"`
	MaxValue       *float64        `json:"max_value,omitempty"`
	RuleText       string          `json:"rule_text,omitempty"`
	RuleInputs     []int64         `json:"rule_inputs,omitempty"`
	Role           tag.ControlRole `json:"role,omitempty"`
	FaultValue     any             `json:"fault_value,omitempty"`
}

func (req tagRequest) toTag(id int64) *tag.Tag {
	return &tag.Tag{
		ID:             id,
		Name:           req.Name,
		Kind:           req.Kind,
		DataType:       req.DataType,
		ProcessID:      req.ProcessID,
		EquipmentID:    req.EquipmentID,
		SubEquipmentID: req.SubEquipmentID,
		MinValue:       req.MinValue,
		MaxValue:       req.MaxValue,
		RuleText:       req.RuleText,
		RuleInputs:     req.RuleInputs,
		Role:           req.Role,
		FaultValue:     req.FaultValue,
	}
}

// handleListTags returns all cached tags, optionally filtered by kind,
// equipment or validity.
//
// Query parameters: kind, equipment_id, invalid=true.
func (s *Server) handleListTags(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	kind := tag.Kind(q.Get("kind"))

	var equipmentID int64
	if v := q.Get("equipment_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeBadRequest(w, "equipment_id must be an integer")
			return
		}
		equipmentID = id
	}
	invalidOnly := q.Get("invalid") == "true"

	all := s.monitor.Tags().GetAll()
	tags := make([]*tag.Tag, 0, len(all))
	for _, t := range all {
		if kind != "" && t.Kind != kind {
			continue
		}
		if equipmentID != 0 && t.EquipmentID != equipmentID {
			continue
		}
		if invalidOnly && t.Quality.IsValid() {
			continue
		}
		tags = append(tags, t)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"tags":  tags,
		"count": len(tags),
	})
}

// handleGetTag returns one cached tag.
func (s *Server) handleGetTag(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	t, err := s.monitor.Tags().Get(id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// handlePutTag creates or reconfigures a tag.
func (s *Server) handlePutTag(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req tagRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	existed := s.monitor.Tags().Contains(id)
	if err := s.monitor.PutTag(req.toTag(id)); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	saved, err := s.monitor.Tags().Get(id)
	if err != nil {
		// Removed concurrently.
		s.writeDomainError(w, r, err)
		return
	}

	if s.repo != nil {
		if err := s.repo.SaveTag(r.Context(), saved); err != nil {
			s.logger.Error("persisting tag failed", "tag_id", id, "error", err)
		}
	}
	s.logger.Info("tag configured",
		"tag_id", id,
		"created", !existed,
		"by", identityFrom(r.Context()).Subject,
	)
	s.recordAudit(r, audit.ActionTagConfigure, "tag", id, map[string]any{
		"created": !existed,
		"kind":    saved.Kind,
	})

	status := http.StatusOK
	if !existed {
		status = http.StatusCreated
	}
	writeJSON(w, status, saved)
}

// handleDeleteTag removes a tag that no rule reads.
func (s *Server) handleDeleteTag(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.monitor.RemoveTag(id); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if s.repo != nil {
		if err := s.repo.DeleteTag(r.Context(), id); err != nil && !errors.Is(err, persistence.ErrNotFound) {
			s.logger.Error("deleting persisted tag failed", "tag_id", id, "error", err)
		}
	}
	s.logger.Info("tag removed", "tag_id", id, "by", identityFrom(r.Context()).Subject)
	s.recordAudit(r, audit.ActionTagRemove, "tag", id, nil)
	w.WriteHeader(http.StatusNoContent)
}

// handleTagHistory returns logged values of a tag, newest first.
//
// Query parameters: since (RFC 3339), limit.
func (s *Server) handleTagHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "update log is disabled")
		return
	}
	if !s.monitor.Tags().Contains(id) {
		s.writeDomainError(w, r, cache.ErrNotFound)
		return
	}

	var since time.Time
	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			writeBadRequest(w, "since must be an RFC 3339 timestamp")
			return
		}
		since = t
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxHistoryLimit {
			writeBadRequest(w, "limit must be between 1 and 10000")
			return
		}
		limit = n
	}

	records, err := s.history.History(r.Context(), id, since, limit)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if records == nil {
		records = []persistence.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tag_id":  id,
		"records": records,
		"count":   len(records),
	})
}

// pathID parses the {id} URL parameter, writing a 400 when it is not an integer.
func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeBadRequest(w, "id must be an integer")
		return 0, false
	}
	return id, true
}
