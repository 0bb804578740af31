package command

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-monitor/internal/tag"
)

// Status is the outcome of a command execution.
type Status string

// Execution statuses. PENDING is set when the command is sent; the others
// come back in reports or from the execution timeout.
const (
	StatusPending Status = "PENDING"
	StatusOK      Status = "OK"
	StatusFailed  Status = "FAILED"
	StatusTimeout Status = "TIMEOUT"
)

// Report is the last known state of one command execution.
type Report struct {
	ExecutionID uuid.UUID `json:"execution_id"`
	Value       any       `json:"value,omitempty"`
	Status      Status    `json:"status"`
	Description string    `json:"description,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Tag is a writable point on a piece of equipment.
type Tag struct {
	ID          int64        `json:"id"`
	Name        string       `json:"name"`
	ProcessID   int64        `json:"process_id"`
	EquipmentID int64        `json:"equipment_id"`
	DataType    tag.DataType `json:"data_type"`
	MinValue    *float64     `json:"min_value,omitempty"`
	MaxValue    *float64     `json:"max_value,omitempty"`

	// ExecTimeout bounds the wait for an execution report.
	ExecTimeout time.Duration `json:"exec_timeout"`

	LastReport *Report `json:"last_report,omitempty"`
}

// Key returns the tag id.
func (c *Tag) Key() int64 { return c.ID }

// Clone returns a deep copy.
func (c *Tag) Clone() *Tag {
	if c == nil {
		return nil
	}
	out := *c
	if c.MinValue != nil {
		v := *c.MinValue
		out.MinValue = &v
	}
	if c.MaxValue != nil {
		v := *c.MaxValue
		out.MaxValue = &v
	}
	if c.LastReport != nil {
		r := *c.LastReport
		out.LastReport = &r
	}
	return &out
}

// Equal compares every field.
func (c *Tag) Equal(o *Tag) bool {
	if c == nil || o == nil {
		return c == o
	}
	if c.ID != o.ID || c.Name != o.Name || c.ProcessID != o.ProcessID ||
		c.EquipmentID != o.EquipmentID || c.DataType != o.DataType || c.ExecTimeout != o.ExecTimeout {
		return false
	}
	if !ptrEqual(c.MinValue, o.MinValue) || !ptrEqual(c.MaxValue, o.MaxValue) {
		return false
	}
	if c.LastReport == nil || o.LastReport == nil {
		return c.LastReport == o.LastReport
	}
	a, b := c.LastReport, o.LastReport
	return a.ExecutionID == b.ExecutionID && a.Status == b.Status &&
		a.Description == b.Description && a.Timestamp.Equal(b.Timestamp) &&
		fmt.Sprint(a.Value) == fmt.Sprint(b.Value)
}

func ptrEqual(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// Validate checks a command tag definition.
func Validate(c *Tag) error {
	switch {
	case c == nil:
		return ErrInvalidCommand
	case c.ID <= 0:
		return fmt.Errorf("%w: id must be positive", ErrInvalidCommand)
	case strings.TrimSpace(c.Name) == "":
		return fmt.Errorf("%w: name is required", ErrInvalidCommand)
	case c.EquipmentID <= 0:
		return fmt.Errorf("%w: equipment is required", ErrInvalidCommand)
	case c.ExecTimeout < 0:
		return fmt.Errorf("%w: negative exec timeout", ErrInvalidCommand)
	case c.MinValue != nil && c.MaxValue != nil && *c.MinValue > *c.MaxValue:
		return fmt.Errorf("%w: min_value above max_value", ErrInvalidCommand)
	}
	switch c.DataType {
	case tag.TypeFloat, tag.TypeInteger, tag.TypeBoolean, tag.TypeString, tag.TypeObject:
		return nil
	}
	return fmt.Errorf("%w: data type %q", ErrInvalidCommand, c.DataType)
}
