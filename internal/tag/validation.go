package tag

import (
	"fmt"
	"math"
	"slices"
	"strings"
)

const maxNameLength = 255

// Validate checks a tag definition before it is put into the cache.
// Returns the first validation failure found.
func Validate(t *Tag) error {
	if t == nil {
		return ErrInvalidTag
	}
	if t.ID <= 0 {
		return fmt.Errorf("%w: id must be positive", ErrInvalidTag)
	}
	name := strings.TrimSpace(t.Name)
	if name == "" || len(name) > maxNameLength {
		return fmt.Errorf("%w: %q", ErrInvalidName, t.Name)
	}
	switch t.DataType {
	case TypeFloat, TypeInteger, TypeBoolean, TypeString, TypeObject:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidDataType, t.DataType)
	}
	if t.MinValue != nil && t.MaxValue != nil && *t.MinValue > *t.MaxValue {
		return fmt.Errorf("%w: min_value %v above max_value %v", ErrInvalidTag, *t.MinValue, *t.MaxValue)
	}

	switch t.Kind {
	case KindData:
	case KindRule:
		if strings.TrimSpace(t.RuleText) == "" {
			return fmt.Errorf("%w: empty expression", ErrInvalidRule)
		}
		if len(t.RuleInputs) == 0 {
			return fmt.Errorf("%w: no inputs", ErrInvalidRule)
		}
		if slices.Contains(t.RuleInputs, t.ID) {
			return fmt.Errorf("%w: rule %d reads itself", ErrInvalidRule, t.ID)
		}
	case KindControl:
		switch t.Role {
		case RoleAlive, RoleCommFault, RoleState:
		default:
			return fmt.Errorf("%w: %q", ErrInvalidRole, t.Role)
		}
		if level, _ := t.Owner(); level == "" {
			return fmt.Errorf("%w: control tag %d has no owner", ErrInvalidRole, t.ID)
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidKind, t.Kind)
	}
	return nil
}

// Coerce converts v to the Go representation of the data type.
// JSON decoding yields float64 for every number; integers are narrowed here.
func Coerce(dt DataType, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch dt {
	case TypeFloat:
		if f, ok := toFloat(v); ok {
			if math.IsNaN(f) || math.IsInf(f, 0) {
				return nil, fmt.Errorf("%w: %v is not a finite %s", ErrTypeMismatch, f, dt)
			}
			return f, nil
		}
	case TypeInteger:
		switch n := v.(type) {
		case int:
			return int64(n), nil
		case int32:
			return int64(n), nil
		case int64:
			return n, nil
		}
		if f, ok := toFloat(v); ok {
			if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) || f < math.MinInt64 || f >= -math.MinInt64 {
				return nil, fmt.Errorf("%w: %v is not %s", ErrTypeMismatch, f, dt)
			}
			return int64(f), nil
		}
	case TypeBoolean:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case TypeString:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case TypeObject:
		if m, ok := v.(map[string]any); ok {
			return m, nil
		}
	}
	return nil, fmt.Errorf("%w: %T is not %s", ErrTypeMismatch, v, dt)
}
