package tag

import (
	"fmt"
	"time"
)

// Update is a raw value reported for a tag by an acquisition collaborator.
type Update struct {
	TagID            int64
	Value            any
	ValueDescription string
	Quality          Quality
	SourceTimestamp  time.Time
	DAQTimestamp     time.Time
}

// Candidate builds the tag that would replace t if u is accepted.
//
// The receiver is not modified. Supervision flags already on t are carried
// over since they are owned by the supervision manager, not the source.
// A missing value or one that cannot be coerced keeps the previous value;
// it is flagged UNDEFINED_VALUE unless the source already flagged it.
// A numeric value outside the configured bounds is kept and flagged
// VALUE_OUT_OF_BOUNDS.
func (t *Tag) Candidate(u Update) *Tag {
	c := t.Clone()
	c.SourceTimestamp = u.SourceTimestamp
	c.DAQTimestamp = u.DAQTimestamp
	c.ValueDescription = u.ValueDescription
	c.Quality = u.Quality.Clone()

	for _, s := range []QualityStatus{StatusProcessDown, StatusEquipmentDown, StatusSubEquipmentDown} {
		if d, ok := t.Quality[s]; ok {
			c.Quality.Add(s, d)
		}
	}

	v, err := Coerce(t.DataType, u.Value)
	switch {
	case err != nil:
		c.Quality.Add(StatusUndefinedValue, err.Error())
	case v == nil:
		if u.Quality.IsValid() {
			c.Quality.Add(StatusUndefinedValue, "no value supplied")
		}
	default:
		c.Value = v
	}

	if c.OutOfBounds() {
		c.Quality.Add(StatusValueOutOfBounds, boundsDescription(c))
	}
	return c
}

func boundsDescription(t *Tag) string {
	switch {
	case t.MinValue != nil && t.MaxValue != nil:
		return fmt.Sprintf("value %v outside [%v, %v]", t.Value, *t.MinValue, *t.MaxValue)
	case t.MinValue != nil:
		return fmt.Sprintf("value %v below %v", t.Value, *t.MinValue)
	default:
		return fmt.Sprintf("value %v above %v", t.Value, *t.MaxValue)
	}
}
