package supervision

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/nerrad567/gray-logic-monitor/internal/tag"
)

// Family is one level of the supervision hierarchy.
type Family string

// Supervised families, root first.
const (
	FamilyProcess      Family = tag.OwnerProcess
	FamilyEquipment    Family = tag.OwnerEquipment
	FamilySubEquipment Family = tag.OwnerSubEquipment
)

// Families lists every family, root first.
var Families = []Family{FamilyProcess, FamilyEquipment, FamilySubEquipment}

// ParseFamily converts a family name, case-insensitively.
func ParseFamily(s string) (Family, error) {
	f := Family(strings.ToLower(strings.TrimSpace(s)))
	if !f.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownFamily, s)
	}
	return f, nil
}

// Valid reports whether f is a known family.
func (f Family) Valid() bool {
	return slices.Contains(Families, f)
}

// Parent returns the family of f's parent, or "" for processes.
func (f Family) Parent() Family {
	switch f {
	case FamilyEquipment:
		return FamilyProcess
	case FamilySubEquipment:
		return FamilyEquipment
	}
	return ""
}

// Child returns the family of f's children, or "" for subequipment.
func (f Family) Child() Family {
	switch f {
	case FamilyProcess:
		return FamilyEquipment
	case FamilyEquipment:
		return FamilySubEquipment
	}
	return ""
}

// QualityFlag is the flag set on data tags owned by a down entity of family f.
func (f Family) QualityFlag() tag.QualityStatus {
	switch f {
	case FamilyProcess:
		return tag.StatusProcessDown
	case FamilyEquipment:
		return tag.StatusEquipmentDown
	}
	return tag.StatusSubEquipmentDown
}

// Status is the aggregate liveness of a supervised entity.
type Status string

// Entity statuses.
const (
	StatusRunning   Status = "RUNNING"
	StatusDown      Status = "DOWN"
	StatusStopped   Status = "STOPPED"
	StatusUncertain Status = "UNCERTAIN"
)

// Down reports whether s makes the entity's data untrustworthy.
func (s Status) Down() bool {
	return s == StatusDown || s == StatusStopped
}

// Status reasons.
const (
	ReasonAliveExpired    = "alive timer expired"
	ReasonAliveReceived   = "alive received"
	ReasonCommFault       = "communication fault"
	ReasonCommRestored    = "communication restored"
	ReasonStopped         = "stopped by administrator"
	ReasonStarted         = "started by administrator"
	ReasonParentRecovered = "parent recovered"
	ReasonReconfigured    = "reconfigured"
)

func parentDownReason(parent Family) string {
	return fmt.Sprintf("parent %s down", parent)
}

// Entity is a supervised Process, Equipment or SubEquipment.
type Entity struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Family   Family `json:"family"`
	ParentID int64  `json:"parent_id,omitempty"`

	StateTagID     int64         `json:"state_tag_id,omitempty"`
	AliveTagID     int64         `json:"alive_tag_id,omitempty"`
	CommFaultTagID int64         `json:"comm_fault_tag_id,omitempty"`
	AliveInterval  time.Duration `json:"alive_interval"`

	Status       Status    `json:"status"`
	StatusReason string    `json:"status_reason,omitempty"`
	StatusTime   time.Time `json:"status_time"`

	LastAlive  time.Time `json:"last_alive"`
	CommFault  bool      `json:"comm_fault"`
	ParentDown bool      `json:"parent_down"`

	Children []int64 `json:"children,omitempty"`
}

// Key returns the entity id.
func (e *Entity) Key() int64 {
	return e.ID
}

// Clone returns a deep copy.
func (e *Entity) Clone() *Entity {
	if e == nil {
		return nil
	}
	c := *e
	c.Children = slices.Clone(e.Children)
	return &c
}

// Equal reports whether every field matches.
func (e *Entity) Equal(o *Entity) bool {
	if e == nil || o == nil {
		return e == o
	}
	return e.ID == o.ID &&
		e.Name == o.Name &&
		e.Family == o.Family &&
		e.ParentID == o.ParentID &&
		e.StateTagID == o.StateTagID &&
		e.AliveTagID == o.AliveTagID &&
		e.CommFaultTagID == o.CommFaultTagID &&
		e.AliveInterval == o.AliveInterval &&
		e.Status == o.Status &&
		e.StatusReason == o.StatusReason &&
		e.StatusTime.Equal(o.StatusTime) &&
		e.LastAlive.Equal(o.LastAlive) &&
		e.CommFault == o.CommFault &&
		e.ParentDown == o.ParentDown &&
		slices.Equal(e.Children, o.Children)
}

// Supervised reports whether the entity has an alive timer.
func (e *Entity) Supervised() bool {
	return e.AliveInterval > 0
}

// AliveFresh reports whether the last alive is within interval × tolerance
// of now. Unsupervised entities are always fresh.
func (e *Entity) AliveFresh(now time.Time, tolerance float64) bool {
	if !e.Supervised() {
		return true
	}
	if e.LastAlive.IsZero() {
		return false
	}
	return now.Sub(e.LastAlive) <= e.deadline(tolerance)
}

func (e *Entity) deadline(tolerance float64) time.Duration {
	return time.Duration(float64(e.AliveInterval) * tolerance)
}

// Validate checks an entity definition.
func Validate(e *Entity) error {
	if e == nil {
		return ErrInvalidEntity
	}
	if e.ID <= 0 {
		return fmt.Errorf("%w: id must be positive", ErrInvalidEntity)
	}
	if strings.TrimSpace(e.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidEntity)
	}
	if !e.Family.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownFamily, e.Family)
	}
	if e.Family == FamilyProcess && e.ParentID != 0 {
		return fmt.Errorf("%w: a process has no parent", ErrInvalidEntity)
	}
	if e.Family != FamilyProcess && e.ParentID <= 0 {
		return fmt.Errorf("%w: %s requires a parent", ErrInvalidEntity, e.Family)
	}
	if e.AliveInterval < 0 {
		return fmt.Errorf("%w: negative alive interval", ErrInvalidEntity)
	}
	if e.AliveInterval > 0 && e.AliveTagID == 0 {
		return fmt.Errorf("%w: alive interval set without an alive tag", ErrInvalidEntity)
	}
	switch e.Status {
	case "", StatusRunning, StatusDown, StatusStopped, StatusUncertain:
	default:
		return fmt.Errorf("%w: status %q", ErrInvalidEntity, e.Status)
	}
	return nil
}
