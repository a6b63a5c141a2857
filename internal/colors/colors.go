// Package colors assigns legend colours to the values of one split
// dimension.
//
// A Colors value is in one of two modes. In values mode specific dimension
// values own palette slots; in limit mode the top Limit groups take the
// first Limit colours in rank order.
package colors

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"

	"github.com/roach88/pivot/internal/expr"
)

// Palette is the ordered set of legend colours.
var Palette = []string{
	"#2D95CA",
	"#EFB925",
	"#DA4E99",
	"#4CC873",
	"#745CBD",
	"#EA7136",
	"#E68EE0",
	"#218C35",
	"#B0B510",
	"#904064",
}

// Fixed colours for the null value and for groups outside the legend.
const (
	NullColor  = "#666666"
	OtherColor = "#BBBBBB"
)

// Slots is the number of assignable slots.
var Slots = len(Palette)

// ErrFull is returned when every slot is taken.
var ErrFull = errors.New("colors: all slots are taken")

// Colors is the legend assignment of a view.
type Colors struct {
	Dimension string
	// Values maps a palette slot to the dimension value that owns it.
	Values map[int]any
	// HasNull reports whether the null value is part of the legend.
	HasNull bool
	Limit   int
}

// FromLimit colours the top limit groups of dimension.
func FromLimit(dimension string, limit int) Colors {
	return Colors{Dimension: dimension, Limit: max(0, min(limit, Slots))}
}

// FromValues gives each value a slot in order. A nil value sets HasNull and
// takes no slot. Duplicates are ignored.
func FromValues(dimension string, values []any) (Colors, error) {
	c := Colors{Dimension: dimension, Values: map[int]any{}}
	for _, v := range values {
		var err error
		if c, err = c.Add(v); err != nil {
			return Colors{}, err
		}
	}
	return c, nil
}

// IsValuesMode reports whether colours are assigned to specific values.
func (c Colors) IsValuesMode() bool {
	return c.Values != nil
}

// Has reports whether v owns a colour.
func (c Colors) Has(v any) bool {
	if v == nil {
		return c.HasNull
	}
	_, ok := c.Index(v)
	return ok
}

// Index returns the slot of v.
func (c Colors) Index(v any) (int, bool) {
	for slot, owner := range c.Values {
		if expr.ValuesEqual(owner, v) {
			return slot, true
		}
	}
	return 0, false
}

// Count is the number of legend entries, including null.
func (c Colors) Count() int {
	n := len(c.Values)
	if c.HasNull {
		n++
	}
	return n
}

func (c Colors) clone() Colors {
	if c.Values != nil {
		values := make(map[int]any, len(c.Values))
		for k, v := range c.Values {
			values[k] = v
		}
		c.Values = values
	}
	return c
}

// Add puts v into the lowest free slot and switches to values mode. Slots
// already taken keep their values.
func (c Colors) Add(v any) (Colors, error) {
	if c.Has(v) {
		return c, nil
	}
	out := c.clone()
	out.Limit = 0
	if out.Values == nil {
		out.Values = map[int]any{}
	}
	if v == nil {
		out.HasNull = true
		return out, nil
	}
	for slot := range Slots {
		if _, taken := out.Values[slot]; !taken {
			out.Values[slot] = v
			return out, nil
		}
	}
	return c, ErrFull
}

// Remove frees the slot of v. Other slots are unchanged.
func (c Colors) Remove(v any) Colors {
	out := c.clone()
	if v == nil {
		out.HasNull = false
		return out
	}
	if slot, ok := out.Index(v); ok {
		delete(out.Values, slot)
	}
	return out
}

// ValueList returns the owned values in slot order, null last.
func (c Colors) ValueList() []any {
	slots := make([]int, 0, len(c.Values))
	for slot := range c.Values {
		slots = append(slots, slot)
	}
	slices.Sort(slots)
	out := make([]any, 0, c.Count())
	for _, slot := range slots {
		out = append(out, c.Values[slot])
	}
	if c.HasNull {
		out = append(out, nil)
	}
	return out
}

// ColorFor returns the colour of value v shown at rank (0-based position
// among the groups). ok is false for groups that get no legend colour.
func (c Colors) ColorFor(v any, rank int) (color string, ok bool) {
	if v == nil && c.HasNull {
		return NullColor, true
	}
	if c.IsValuesMode() {
		if slot, ok := c.Index(v); ok {
			return Palette[slot%Slots], true
		}
		return OtherColor, false
	}
	if rank >= 0 && rank < c.Limit {
		return Palette[rank%Slots], true
	}
	return OtherColor, false
}

// ToHavingFilter restricts the groups of segment to the legend values. It
// returns nil in limit mode.
func (c Colors) ToHavingFilter(segment string) expr.Expression {
	if !c.IsValuesMode() {
		return nil
	}
	return expr.OverlapWith(expr.R(segment), expr.NewSet(c.ValueList()...))
}

// Equal compares assignments slot by slot.
func (c Colors) Equal(o Colors) bool {
	if c.Dimension != o.Dimension || c.HasNull != o.HasNull || c.Limit != o.Limit ||
		c.IsValuesMode() != o.IsValuesMode() || len(c.Values) != len(o.Values) {
		return false
	}
	for slot, v := range c.Values {
		ov, ok := o.Values[slot]
		if !ok || !expr.ValuesEqual(v, ov) {
			return false
		}
	}
	return true
}

type colorsJSON struct {
	Dimension string         `json:"dimension"`
	Values    map[string]any `json:"values,omitempty"`
	HasNull   bool           `json:"hasNull,omitempty"`
	Limit     int            `json:"limit,omitempty"`
}

// MarshalJSON writes slots as object keys.
func (c Colors) MarshalJSON() ([]byte, error) {
	j := colorsJSON{Dimension: c.Dimension, HasNull: c.HasNull, Limit: c.Limit}
	if c.Values != nil {
		j.Values = make(map[string]any, len(c.Values))
		for slot, v := range c.Values {
			j.Values[strconv.Itoa(slot)] = v
		}
	}
	return json.Marshal(j)
}

// UnmarshalJSON reads colours, rejecting unknown fields and slots outside
// the palette.
func (c *Colors) UnmarshalJSON(data []byte) error {
	var j colorsJSON
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&j); err != nil {
		return err
	}
	if j.Dimension == "" {
		return fmt.Errorf("colors: dimension is required")
	}
	if j.Limit < 0 || j.Limit > Slots {
		return fmt.Errorf("colors: limit must be between 0 and %d, got %d", Slots, j.Limit)
	}
	out := Colors{Dimension: j.Dimension, HasNull: j.HasNull, Limit: j.Limit}
	if j.Values != nil || j.HasNull {
		out.Values = make(map[int]any, len(j.Values))
	}
	for key, v := range j.Values {
		slot, err := strconv.Atoi(key)
		if err != nil || slot < 0 || slot >= Slots {
			return fmt.Errorf("colors: invalid slot %q", key)
		}
		if v == nil {
			return fmt.Errorf("colors: slot %d holds null; use hasNull", slot)
		}
		out.Values[slot] = v
	}
	*c = out
	return nil
}
