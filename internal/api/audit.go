package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/nerrad567/gray-logic-monitor/internal/audit"
)

// auditChanSize is the buffer size for the async audit channel.
// Entries beyond this are dropped so a slow disk never delays a request.
const auditChanSize = 256

// recordAudit enqueues an entry for the caller of r. Best-effort: the entry is
// dropped with a warning when the channel is full.
func (s *Server) recordAudit(r *http.Request, action, entityType string, entityID int64, details map[string]any) {
	if s.auditRepo == nil {
		return
	}
	entry := &audit.Entry{
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Subject:    identityFrom(r.Context()).Subject,
		Source:     audit.SourceAPI,
		Details:    details,
	}
	select {
	case s.auditCh <- entry:
	default:
		s.logger.Warn("audit channel full, dropping entry",
			"action", action,
			"entity_type", entityType,
			"entity_id", entityID,
		)
	}
}

// drainAudit writes queued entries serially until ctx is cancelled, then
// writes whatever is still queued.
func (s *Server) drainAudit(ctx context.Context) {
	for {
		select {
		case entry := <-s.auditCh:
			s.writeAudit(entry)
		case <-ctx.Done():
			for {
				select {
				case entry := <-s.auditCh:
					s.writeAudit(entry)
				default:
					return
				}
			}
		}
	}
}

func (s *Server) writeAudit(entry *audit.Entry) {
	if err := s.auditRepo.Create(context.Background(), entry); err != nil {
		s.logger.Error("audit write failed",
			"action", entry.Action,
			"entity_type", entry.EntityType,
			"error", err,
		)
	}
}

// handleListAudit returns recorded admin actions, newest first.
//
// Query parameters: action, entity_type, entity_id, limit (max 200), offset.
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	if s.auditRepo == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "audit trail is disabled")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Action:     q.Get("action"),
		EntityType: q.Get("entity_type"),
	}
	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		if v := q.Get(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				writeBadRequest(w, name+" must be an integer")
				return
			}
			*dst = n
		}
	}
	if v := q.Get("entity_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeBadRequest(w, "entity_id must be an integer")
			return
		}
		filter.EntityID = id
	}

	result, err := s.auditRepo.List(r.Context(), filter)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
