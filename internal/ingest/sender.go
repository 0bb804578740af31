package ingest

import (
	"context"
	"fmt"
	"strconv"

	"github.com/nerrad567/gray-logic-monitor/internal/cache"
	"github.com/nerrad567/gray-logic-monitor/internal/command"
	"github.com/nerrad567/gray-logic-monitor/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-monitor/internal/supervision"
)

// Sender publishes command executions to the owning acquisition process.
// It implements command.Sender.
type Sender struct {
	transport Transport
	processes *cache.Store[*supervision.Entity]
}

// NewSender creates a sender. Process names are looked up in processes to
// build the command topic; an unknown process falls back to its id.
func NewSender(t Transport, processes *cache.Store[*supervision.Entity]) *Sender {
	return &Sender{transport: t, processes: processes}
}

// SendCommand publishes exec on the process command topic.
func (s *Sender) SendCommand(ctx context.Context, exec command.Execution) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	topic := mqtt.Topics{}.AcquisitionCommands(s.processName(exec.ProcessID))
	if err := s.transport.PublishJSON(topic, exec, false); err != nil {
		return fmt.Errorf("publishing execution %s: %w", exec.ExecutionID, err)
	}
	return nil
}

func (s *Sender) processName(id int64) string {
	if s.processes != nil {
		if p, err := s.processes.Get(id); err == nil && p.Name != "" {
			return p.Name
		}
	}
	return strconv.FormatInt(id, 10)
}
