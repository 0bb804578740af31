package tag

import (
	"reflect"
	"slices"
	"time"
)

// Kind discriminates the closed set of tag variants.
type Kind string

// Tag kinds.
const (
	KindData    Kind = "data"
	KindRule    Kind = "rule"
	KindControl Kind = "control"
)

// DataType is the declared type of a tag value.
type DataType string

// Supported value types.
const (
	TypeFloat   DataType = "Float"
	TypeInteger DataType = "Integer"
	TypeBoolean DataType = "Boolean"
	TypeString  DataType = "String"
	TypeObject  DataType = "Object"
)

// ControlRole identifies what a control tag reports about its owner.
type ControlRole string

// Control tag roles.
const (
	RoleAlive     ControlRole = "ALIVE"
	RoleCommFault ControlRole = "COMM_FAULT"
	RoleState     ControlRole = "STATE"
)

// Tag is a named, typed, quality-annotated monitored value.
//
// A single struct carries all three variants. Fields that only apply to one
// variant are left at their zero value for the others:
//   - RuleText and RuleInputs apply to KindRule
//   - Role and FaultValue apply to KindControl
//   - MinValue and MaxValue apply to KindData
//
// Ownership fields name the supervised entity a tag belongs to. A control
// tag's owner is the most specific non-zero id (SubEquipmentID, then
// EquipmentID, then ProcessID).
type Tag struct {
	ID       int64    `json:"id"`
	Name     string   `json:"name"`
	Kind     Kind     `json:"kind"`
	DataType DataType `json:"data_type"`

	Value            any     `json:"value"`
	ValueDescription string  `json:"value_description,omitempty"`
	Quality          Quality `json:"quality,omitempty"`

	SourceTimestamp time.Time `json:"source_timestamp"`
	DAQTimestamp    time.Time `json:"daq_timestamp"`
	CacheTimestamp  time.Time `json:"cache_timestamp"`

	ProcessID      int64 `json:"process_id,omitempty"`
	EquipmentID    int64 `json:"equipment_id,omitempty"`
	SubEquipmentID int64 `json:"subequipment_id,omitempty"`

	MinValue *float64 `json:"min_value,omitempty"`
	MaxValue *float64 `json:"max_value,omitempty"`

	RuleText   string  `json:"rule_text,omitempty"`
	RuleInputs []int64 `json:"rule_inputs,omitempty"`

	Role       ControlRole `json:"role,omitempty"`
	FaultValue any         `json:"fault_value,omitempty"`

	AlarmIDs []int64 `json:"alarm_ids,omitempty"`
}

// Key returns the cache key of the tag.
func (t *Tag) Key() int64 {
	return t.ID
}

// Clone returns a deep copy of the tag.
// Object values are copied one level deep; nested maps are shared.
func (t *Tag) Clone() *Tag {
	if t == nil {
		return nil
	}
	c := *t
	c.Quality = t.Quality.Clone()
	c.RuleInputs = slices.Clone(t.RuleInputs)
	c.AlarmIDs = slices.Clone(t.AlarmIDs)
	if t.MinValue != nil {
		v := *t.MinValue
		c.MinValue = &v
	}
	if t.MaxValue != nil {
		v := *t.MaxValue
		c.MaxValue = &v
	}
	if m, ok := t.Value.(map[string]any); ok {
		cp := make(map[string]any, len(m))
		for k, v := range m {
			cp[k] = v
		}
		c.Value = cp
	}
	return &c
}

// Equal reports whether two tags carry the same content.
// CacheTimestamp is ignored since the cache sets it on every write.
func (t *Tag) Equal(o *Tag) bool {
	if t == nil || o == nil {
		return t == o
	}
	if t.ID != o.ID || t.Name != o.Name || t.Kind != o.Kind || t.DataType != o.DataType {
		return false
	}
	if t.ValueDescription != o.ValueDescription || !t.Quality.Equal(o.Quality) {
		return false
	}
	if !t.SourceTimestamp.Equal(o.SourceTimestamp) || !t.DAQTimestamp.Equal(o.DAQTimestamp) {
		return false
	}
	if t.ProcessID != o.ProcessID || t.EquipmentID != o.EquipmentID || t.SubEquipmentID != o.SubEquipmentID {
		return false
	}
	if t.RuleText != o.RuleText || t.Role != o.Role {
		return false
	}
	if !slices.Equal(t.RuleInputs, o.RuleInputs) || !slices.Equal(t.AlarmIDs, o.AlarmIDs) {
		return false
	}
	if !floatPtrEqual(t.MinValue, o.MinValue) || !floatPtrEqual(t.MaxValue, o.MaxValue) {
		return false
	}
	return reflect.DeepEqual(t.Value, o.Value) && reflect.DeepEqual(t.FaultValue, o.FaultValue)
}

// Touch records the time the cache accepted the tag.
func (t *Tag) Touch(ts time.Time) {
	t.CacheTimestamp = ts
}

// Timestamp returns the timestamp the update flow policy orders on:
// the source timestamp, or the DAQ timestamp when the source did not set one.
func (t *Tag) Timestamp() time.Time {
	if !t.SourceTimestamp.IsZero() {
		return t.SourceTimestamp
	}
	return t.DAQTimestamp
}

// EarliestTimestamp returns the earlier of the source and DAQ timestamps,
// ignoring unset ones.
func (t *Tag) EarliestTimestamp() time.Time {
	switch {
	case t.SourceTimestamp.IsZero():
		return t.DAQTimestamp
	case t.DAQTimestamp.IsZero():
		return t.SourceTimestamp
	case t.DAQTimestamp.Before(t.SourceTimestamp):
		return t.DAQTimestamp
	default:
		return t.SourceTimestamp
	}
}

// HasValue reports whether the tag has ever received a value.
func (t *Tag) HasValue() bool {
	return t.Value != nil && !t.Quality.Has(StatusUninitialised)
}

// IsRule reports whether the tag is a rule tag.
func (t *Tag) IsRule() bool { return t.Kind == KindRule }

// IsControl reports whether the tag is a control tag.
func (t *Tag) IsControl() bool { return t.Kind == KindControl }

// IsLivenessSignal reports whether the tag is an alive or comm-fault control tag.
func (t *Tag) IsLivenessSignal() bool {
	return t.Kind == KindControl && (t.Role == RoleAlive || t.Role == RoleCommFault)
}

// IsFaulty reports whether a comm-fault tag currently signals a fault.
// FaultValue defaults to false when unset.
func (t *Tag) IsFaulty() bool {
	fault := t.FaultValue
	if fault == nil {
		fault = false
	}
	return valuesEqual(t.Value, fault)
}

// OutOfBounds reports whether a numeric value lies outside the configured range.
func (t *Tag) OutOfBounds() bool {
	f, ok := toFloat(t.Value)
	if !ok {
		return false
	}
	if t.MinValue != nil && f < *t.MinValue {
		return true
	}
	return t.MaxValue != nil && f > *t.MaxValue
}

func floatPtrEqual(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// valuesEqual compares scalar values across numeric representations.
func valuesEqual(a, b any) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af == bf
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// Owner levels returned by Owner.
const (
	OwnerProcess      = "process"
	OwnerEquipment    = "equipment"
	OwnerSubEquipment = "subequipment"
)

// Owner returns the most specific supervised entity the tag belongs to.
// The level is empty when the tag has no owner.
func (t *Tag) Owner() (level string, id int64) {
	switch {
	case t.SubEquipmentID != 0:
		return OwnerSubEquipment, t.SubEquipmentID
	case t.EquipmentID != 0:
		return OwnerEquipment, t.EquipmentID
	case t.ProcessID != 0:
		return OwnerProcess, t.ProcessID
	default:
		return "", 0
	}
}
