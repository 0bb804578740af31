package api

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-monitor/internal/audit"
)

// executeRequest is the request body for POST /commands/{id}/execute.
type executeRequest struct {
	Value any `json:"value"`
}

// handleGetCommand returns a command tag with its last execution report.
func (s *Server) handleGetCommand(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	c, err := s.monitor.Commands().Get(id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// handleExecuteCommand sends a command to the acquisition layer.
//
// The response is 202 with the execution once it is handed over; the
// outcome arrives later as a report on the command tag. A delivery failure
// answers 502 with the execution, which is recorded as FAILED.
func (s *Server) handleExecuteCommand(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	exec, err := s.monitor.CommandService().Execute(r.Context(), id, req.Value)
	if err != nil {
		if exec.ExecutionID != uuid.Nil {
			s.logger.Warn("command delivery failed", "command_id", id, "execution_id", exec.ExecutionID, "error", err)
			s.recordAudit(r, audit.ActionCommandExecute, "command", id, executionDetails(exec.ExecutionID, req.Value, false))
			writeJSON(w, http.StatusBadGateway, map[string]any{
				"status":    http.StatusBadGateway,
				"code":      ErrCodeBadGateway,
				"message":   err.Error(),
				"execution": exec,
			})
			return
		}
		s.writeDomainError(w, r, err)
		return
	}
	s.logger.Info("command executed",
		"command_id", id,
		"execution_id", exec.ExecutionID,
		"by", identityFrom(r.Context()).Subject,
	)
	s.recordAudit(r, audit.ActionCommandExecute, "command", id, executionDetails(exec.ExecutionID, req.Value, true))
	writeJSON(w, http.StatusAccepted, exec)
}

func executionDetails(id uuid.UUID, value any, delivered bool) map[string]any {
	return map[string]any{
		"execution_id": id.String(),
		"value":        value,
		"delivered":    delivered,
	}
}
