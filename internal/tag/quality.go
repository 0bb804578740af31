package tag

import (
	"maps"
	"slices"
	"strings"
)

// QualityStatus is a single named invalidity reason.
type QualityStatus string

// Quality flags. Several may be active at once.
const (
	StatusInaccessible     QualityStatus = "INACCESSIBLE"
	StatusUninitialised    QualityStatus = "UNINITIALISED"
	StatusUnknown          QualityStatus = "UNKNOWN"
	StatusUnknownReason    QualityStatus = "UNKNOWN_REASON"
	StatusValueOutOfBounds QualityStatus = "VALUE_OUT_OF_BOUNDS"
	StatusValueExpired     QualityStatus = "VALUE_EXPIRED"
	StatusUndefinedTag     QualityStatus = "UNDEFINED_TAG"
	StatusUndefinedValue   QualityStatus = "UNDEFINED_VALUE"
	StatusProcessDown      QualityStatus = "PROCESS_DOWN"
	StatusEquipmentDown    QualityStatus = "EQUIPMENT_DOWN"
	StatusSubEquipmentDown QualityStatus = "SUBEQUIPMENT_DOWN"
)

// Quality is the set of active invalidity flags, each with a description.
// A nil or empty Quality means the value is valid.
type Quality map[QualityStatus]string

// NewQuality builds a quality holding a single flag.
func NewQuality(status QualityStatus, description string) Quality {
	return Quality{status: description}
}

// IsValid reports whether no flag is set.
func (q Quality) IsValid() bool {
	return len(q) == 0
}

// Has reports whether the given flag is set.
func (q Quality) Has(status QualityStatus) bool {
	_, ok := q[status]
	return ok
}

// Add sets a flag, replacing the description if already present.
// Other flags are left untouched.
func (q *Quality) Add(status QualityStatus, description string) {
	if *q == nil {
		*q = make(Quality)
	}
	(*q)[status] = description
}

// Remove clears a flag and reports whether it was set.
func (q *Quality) Remove(status QualityStatus) bool {
	if _, ok := (*q)[status]; !ok {
		return false
	}
	delete(*q, status)
	if len(*q) == 0 {
		*q = nil
	}
	return true
}

// Merge adds every flag of o to q.
func (q *Quality) Merge(o Quality) {
	for s, d := range o {
		q.Add(s, d)
	}
}

// Equal reports whether both sets hold the same flags and descriptions.
func (q Quality) Equal(o Quality) bool {
	return maps.Equal(q, o)
}

// Clone returns an independent copy.
func (q Quality) Clone() Quality {
	if len(q) == 0 {
		return nil
	}
	return maps.Clone(q)
}

// Statuses returns the active flags in sorted order.
func (q Quality) Statuses() []QualityStatus {
	return slices.Sorted(maps.Keys(q))
}

// String renders the flags as "FLAG: description; FLAG: description".
func (q Quality) String() string {
	if q.IsValid() {
		return "OK"
	}
	parts := make([]string, 0, len(q))
	for _, s := range q.Statuses() {
		if d := q[s]; d != "" {
			parts = append(parts, string(s)+": "+d)
		} else {
			parts = append(parts, string(s))
		}
	}
	return strings.Join(parts, "; ")
}
