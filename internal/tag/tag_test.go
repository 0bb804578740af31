package tag

import (
	"errors"
	"math"
	"strings"
	"testing"
	"time"
)

func ptr(f float64) *float64 { return &f }

func TestQuality_AddRemove(t *testing.T) {
	var q Quality
	if !q.IsValid() {
		t.Fatal("zero Quality should be valid")
	}

	q.Add(StatusInaccessible, "link lost")
	q.Add(StatusProcessDown, "process down")
	if q.IsValid() {
		t.Fatal("Quality with flags should be invalid")
	}

	if !q.Remove(StatusInaccessible) {
		t.Error("Remove(INACCESSIBLE) = false, want true")
	}
	if !q.Has(StatusProcessDown) {
		t.Error("Remove(INACCESSIBLE) clobbered PROCESS_DOWN")
	}
	if q.Remove(StatusInaccessible) {
		t.Error("second Remove(INACCESSIBLE) = true, want false")
	}
	q.Remove(StatusProcessDown)
	if q != nil {
		t.Errorf("Quality after removing every flag = %v, want nil", q)
	}
}

func TestQuality_String(t *testing.T) {
	var q Quality
	if got := q.String(); got != "OK" {
		t.Errorf("String() = %q, want OK", got)
	}
	q.Add(StatusValueExpired, "")
	q.Add(StatusInaccessible, "link lost")
	if got, want := q.String(), "INACCESSIBLE: link lost; VALUE_EXPIRED"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestTag_CloneIsIndependent(t *testing.T) {
	orig := &Tag{
		ID:         1,
		Name:       "rule",
		Kind:       KindRule,
		DataType:   TypeObject,
		Value:      map[string]any{"a": 1.0},
		Quality:    NewQuality(StatusUnknown, "x"),
		RuleInputs: []int64{2, 3},
		MinValue:   ptr(0),
	}
	c := orig.Clone()
	if !c.Equal(orig) {
		t.Fatal("Clone() not Equal to original")
	}

	c.Quality.Add(StatusInaccessible, "")
	c.RuleInputs[0] = 99
	c.Value.(map[string]any)["a"] = 2.0
	*c.MinValue = 5

	if orig.Quality.Has(StatusInaccessible) {
		t.Error("quality shared between clone and original")
	}
	if orig.RuleInputs[0] != 2 {
		t.Error("rule inputs shared between clone and original")
	}
	if orig.Value.(map[string]any)["a"] != 1.0 {
		t.Error("object value shared between clone and original")
	}
	if *orig.MinValue != 0 {
		t.Error("bounds shared between clone and original")
	}
}

func TestTag_EqualIgnoresCacheTimestamp(t *testing.T) {
	a := dataTag(t0, 1.0, nil)
	b := a.Clone()
	b.CacheTimestamp = t0.Add(time.Hour)
	if !a.Equal(b) {
		t.Error("Equal() = false for tags differing only in cache timestamp")
	}
	b.Value = 2.0
	if a.Equal(b) {
		t.Error("Equal() = true for tags with different values")
	}
}

func TestTag_EarliestTimestamp(t *testing.T) {
	tg := &Tag{SourceTimestamp: t0, DAQTimestamp: t0.Add(-time.Second)}
	if got := tg.EarliestTimestamp(); !got.Equal(t0.Add(-time.Second)) {
		t.Errorf("EarliestTimestamp() = %v, want DAQ timestamp", got)
	}
	tg.DAQTimestamp = time.Time{}
	if got := tg.EarliestTimestamp(); !got.Equal(t0) {
		t.Errorf("EarliestTimestamp() = %v, want source timestamp", got)
	}
}

func TestTag_IsFaulty(t *testing.T) {
	tests := []struct {
		name  string
		value any
		fault any
		want  bool
	}{
		{"default fault value false", false, nil, true},
		{"default fault value true", true, nil, false},
		{"explicit fault value", true, true, true},
		{"numeric fault value", int64(1), 1.0, true},
		{"numeric ok", int64(0), 1.0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tg := &Tag{Kind: KindControl, Role: RoleCommFault, Value: tt.value, FaultValue: tt.fault}
			if got := tg.IsFaulty(); got != tt.want {
				t.Errorf("IsFaulty() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTag_Owner(t *testing.T) {
	tg := &Tag{ProcessID: 1, EquipmentID: 2, SubEquipmentID: 3}
	if level, id := tg.Owner(); level != OwnerSubEquipment || id != 3 {
		t.Errorf("Owner() = %s/%d, want subequipment/3", level, id)
	}
	tg.SubEquipmentID = 0
	if level, id := tg.Owner(); level != OwnerEquipment || id != 2 {
		t.Errorf("Owner() = %s/%d, want equipment/2", level, id)
	}
	tg.EquipmentID = 0
	if level, id := tg.Owner(); level != OwnerProcess || id != 1 {
		t.Errorf("Owner() = %s/%d, want process/1", level, id)
	}
}

func TestCandidate(t *testing.T) {
	base := &Tag{
		ID:       1,
		Name:     "tank.level",
		Kind:     KindData,
		DataType: TypeInteger,
		Value:    int64(40),
		Quality:  NewQuality(StatusEquipmentDown, "equipment 7 down"),
		MinValue: ptr(0),
		MaxValue: ptr(100),
	}

	t.Run("coerces and keeps supervision flags", func(t *testing.T) {
		c := base.Candidate(Update{Value: 42.0, SourceTimestamp: t0})
		if c.Value != int64(42) {
			t.Errorf("Value = %#v, want int64(42)", c.Value)
		}
		if !c.Quality.Has(StatusEquipmentDown) {
			t.Error("EQUIPMENT_DOWN dropped by candidate")
		}
		if base.Value != int64(40) {
			t.Error("Candidate() modified receiver")
		}
	})

	t.Run("out of bounds", func(t *testing.T) {
		c := base.Candidate(Update{Value: 150.0, SourceTimestamp: t0})
		if c.Value != int64(150) {
			t.Errorf("Value = %#v, want int64(150)", c.Value)
		}
		if !c.Quality.Has(StatusValueOutOfBounds) {
			t.Error("VALUE_OUT_OF_BOUNDS not set")
		}
	})

	t.Run("type mismatch keeps previous value", func(t *testing.T) {
		c := base.Candidate(Update{Value: "full", SourceTimestamp: t0})
		if c.Value != int64(40) {
			t.Errorf("Value = %#v, want previous int64(40)", c.Value)
		}
		if !strings.Contains(c.Quality[StatusUndefinedValue], "not Integer") {
			t.Errorf("UNDEFINED_VALUE description = %q", c.Quality[StatusUndefinedValue])
		}
	})

	t.Run("missing value with source fault", func(t *testing.T) {
		c := base.Candidate(Update{Quality: NewQuality(StatusInaccessible, "down"), SourceTimestamp: t0})
		if c.Quality.Has(StatusUndefinedValue) {
			t.Error("UNDEFINED_VALUE added on top of source quality")
		}
		if c.Value != int64(40) {
			t.Errorf("Value = %#v, want previous int64(40)", c.Value)
		}
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		tag     *Tag
		wantErr error
	}{
		{"nil", nil, ErrInvalidTag},
		{"data ok", &Tag{ID: 1, Name: "a", Kind: KindData, DataType: TypeFloat}, nil},
		{"zero id", &Tag{Name: "a", Kind: KindData, DataType: TypeFloat}, ErrInvalidTag},
		{"blank name", &Tag{ID: 1, Name: "  ", Kind: KindData, DataType: TypeFloat}, ErrInvalidName},
		{"bad type", &Tag{ID: 1, Name: "a", Kind: KindData, DataType: "Decimal"}, ErrInvalidDataType},
		{"bad kind", &Tag{ID: 1, Name: "a", Kind: "alarm", DataType: TypeFloat}, ErrInvalidKind},
		{"bounds reversed", &Tag{ID: 1, Name: "a", Kind: KindData, DataType: TypeFloat, MinValue: ptr(2), MaxValue: ptr(1)}, ErrInvalidTag},
		{"rule ok", &Tag{ID: 3, Name: "r", Kind: KindRule, DataType: TypeFloat, RuleText: "#1 + #2", RuleInputs: []int64{1, 2}}, nil},
		{"rule no inputs", &Tag{ID: 3, Name: "r", Kind: KindRule, DataType: TypeFloat, RuleText: "1"}, ErrInvalidRule},
		{"rule reads itself", &Tag{ID: 3, Name: "r", Kind: KindRule, DataType: TypeFloat, RuleText: "#3", RuleInputs: []int64{3}}, ErrInvalidRule},
		{"control ok", &Tag{ID: 4, Name: "c", Kind: KindControl, DataType: TypeBoolean, Role: RoleAlive, ProcessID: 1}, nil},
		{"control no owner", &Tag{ID: 4, Name: "c", Kind: KindControl, DataType: TypeBoolean, Role: RoleAlive}, ErrInvalidRole},
		{"control bad role", &Tag{ID: 4, Name: "c", Kind: KindControl, DataType: TypeBoolean, Role: "PING", ProcessID: 1}, ErrInvalidRole},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.tag)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestCoerce(t *testing.T) {
	tests := []struct {
		name    string
		dt      DataType
		in      any
		want    any
		wantErr bool
	}{
		{"float", TypeFloat, 1.5, 1.5, false},
		{"float from int", TypeFloat, 3, 3.0, false},
		{"float +Inf", TypeFloat, math.Inf(1), nil, true},
		{"float -Inf", TypeFloat, math.Inf(-1), nil, true},
		{"float NaN", TypeFloat, math.NaN(), nil, true},
		{"integer from json number", TypeInteger, 42.0, int64(42), false},
		{"integer keeps int64", TypeInteger, int64(math.MaxInt64), int64(math.MaxInt64), false},
		{"integer fraction", TypeInteger, 1.5, nil, true},
		{"integer +Inf", TypeInteger, math.Inf(1), nil, true},
		{"integer NaN", TypeInteger, math.NaN(), nil, true},
		{"integer above range", TypeInteger, 1e19, nil, true},
		{"integer below range", TypeInteger, -1e19, nil, true},
		{"boolean", TypeBoolean, true, true, false},
		{"string for float", TypeFloat, "1", nil, true},
		{"nil passes", TypeFloat, nil, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Coerce(tt.dt, tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrTypeMismatch) {
					t.Fatalf("Coerce() error = %v, want ErrTypeMismatch", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Coerce() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Coerce() = %v (%T), want %v (%T)", got, got, tt.want, tt.want)
			}
		})
	}
}
