package expr

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"time"
)

// Value type names used in the JSON wire form.
const (
	TypeTime        = "TIME"
	TypeNumberRange = "NUMBER_RANGE"
	TypeTimeRange   = "TIME_RANGE"
	TypeSet         = "SET"
	TypeDataset     = "DATASET"
	TypeString      = "STRING"
	TypeNumber      = "NUMBER"
	TypeBoolean     = "BOOLEAN"
	TypeNull        = "NULL"
)

// DefaultBounds is the bounds of a range when none is given: start
// inclusive, end exclusive.
const DefaultBounds = "[)"

// NumberRange is an interval of numbers. A nil Start or End is unbounded.
type NumberRange struct {
	Start  *float64
	End    *float64
	Bounds string
}

// NewNumberRange returns the closed-open range [start, end).
func NewNumberRange(start, end float64) NumberRange {
	return NumberRange{Start: &start, End: &end, Bounds: DefaultBounds}
}

func (r NumberRange) bounds() string {
	if r.Bounds == "" {
		return DefaultBounds
	}
	return r.Bounds
}

// Contains reports whether n falls in r.
func (r NumberRange) Contains(n float64) bool {
	b := r.bounds()
	if r.Start != nil {
		if b[0] == '[' && n < *r.Start || b[0] == '(' && n <= *r.Start {
			return false
		}
	}
	if r.End != nil {
		if b[1] == ']' && n > *r.End || b[1] == ')' && n >= *r.End {
			return false
		}
	}
	return true
}

// Equal reports whether both ranges have the same ends and bounds.
func (r NumberRange) Equal(o NumberRange) bool {
	return floatPtrEqual(r.Start, o.Start) && floatPtrEqual(r.End, o.End) && r.bounds() == o.bounds()
}

func floatPtrEqual(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func (r NumberRange) String() string {
	b := r.bounds()
	start, end := "", ""
	if r.Start != nil {
		start = formatNumber(*r.Start)
	}
	if r.End != nil {
		end = formatNumber(*r.End)
	}
	return fmt.Sprintf("%c%s,%s%c", b[0], start, end, b[1])
}

// MarshalJSON encodes r as {"type":"NUMBER_RANGE","start":..,"end":..}.
func (r NumberRange) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type   string   `json:"type"`
		Start  *float64 `json:"start"`
		End    *float64 `json:"end"`
		Bounds string   `json:"bounds,omitempty"`
	}{TypeNumberRange, r.Start, r.End, boundsOrEmpty(r.Bounds)})
}

// TimeRange is an interval of instants, closed-open unless Bounds says
// otherwise.
type TimeRange struct {
	Start  time.Time
	End    time.Time
	Bounds string
}

// NewTimeRange returns the closed-open range [start, end).
func NewTimeRange(start, end time.Time) TimeRange {
	return TimeRange{Start: start, End: end, Bounds: DefaultBounds}
}

func (r TimeRange) bounds() string {
	if r.Bounds == "" {
		return DefaultBounds
	}
	return r.Bounds
}

// Contains reports whether t falls in r.
func (r TimeRange) Contains(t time.Time) bool {
	b := r.bounds()
	if b[0] == '[' && t.Before(r.Start) || b[0] == '(' && !t.After(r.Start) {
		return false
	}
	if b[1] == ']' && t.After(r.End) || b[1] == ')' && !t.Before(r.End) {
		return false
	}
	return true
}

// Equal reports whether both ranges cover the same instants.
func (r TimeRange) Equal(o TimeRange) bool {
	return r.Start.Equal(o.Start) && r.End.Equal(o.End) && r.bounds() == o.bounds()
}

// Duration is End - Start.
func (r TimeRange) Duration() time.Duration {
	return r.End.Sub(r.Start)
}

func (r TimeRange) String() string {
	b := r.bounds()
	return fmt.Sprintf("%c%s,%s%c", b[0], formatTime(r.Start), formatTime(r.End), b[1])
}

// MarshalJSON encodes r as {"type":"TIME_RANGE","start":..,"end":..}.
func (r TimeRange) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type   string `json:"type"`
		Start  string `json:"start"`
		End    string `json:"end"`
		Bounds string `json:"bounds,omitempty"`
	}{TypeTimeRange, formatTime(r.Start), formatTime(r.End), boundsOrEmpty(r.Bounds)})
}

func boundsOrEmpty(b string) string {
	if b == DefaultBounds {
		return ""
	}
	return b
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// Set is an unordered collection of elements of one type.
type Set struct {
	SetType  string
	Elements []any
}

// NewSet builds a set from elements, inferring the set type from the first
// non-nil element.
func NewSet(elements ...any) Set {
	s := Set{Elements: make([]any, 0, len(elements))}
	for _, e := range elements {
		e = normalizeValue(e)
		if s.SetType == "" && e != nil {
			s.SetType = typeOf(e)
		}
		s.Elements = append(s.Elements, e)
	}
	if s.SetType == "" {
		s.SetType = TypeNull
	}
	return s
}

// Contains reports whether v is an element of s, or falls in one of its
// range elements.
func (s Set) Contains(v any) bool {
	v = normalizeValue(v)
	for _, e := range s.Elements {
		switch el := e.(type) {
		case NumberRange:
			if n, ok := v.(float64); ok && el.Contains(n) {
				return true
			}
		case TimeRange:
			if t, ok := v.(time.Time); ok && el.Contains(t) {
				return true
			}
		default:
			if valuesEqual(e, v) {
				return true
			}
		}
	}
	return false
}

// Size is the number of elements.
func (s Set) Size() int {
	return len(s.Elements)
}

func (s Set) String() string {
	out := "["
	for i, e := range s.Elements {
		if i > 0 {
			out += ","
		}
		out += literalString(e)
	}
	return out + "]"
}

// MarshalJSON encodes s as {"type":"SET","setType":..,"elements":[..]}.
func (s Set) MarshalJSON() ([]byte, error) {
	elements := make([]any, len(s.Elements))
	for i, e := range s.Elements {
		elements[i] = jsonValue(e)
	}
	return json.Marshal(struct {
		Type     string `json:"type"`
		SetType  string `json:"setType"`
		Elements []any  `json:"elements"`
	}{TypeSet, s.SetType, elements})
}

// Datum is one row of a Dataset.
type Datum map[string]any

// MarshalJSON encodes times and nested values with their type tags.
func (d Datum) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(d))
	for k, v := range d {
		out[k] = jsonValue(v)
	}
	return json.Marshal(out)
}

// Dataset is an ordered list of datums, the result of evaluating a query.
type Dataset struct {
	Data []Datum
}

// Ply returns the dataset holding a single empty datum, the root of every
// query.
func Ply() *Dataset {
	return &Dataset{Data: []Datum{{}}}
}

// Clone copies the dataset and its datums; nested datasets are cloned too.
func (ds *Dataset) Clone() *Dataset {
	if ds == nil {
		return nil
	}
	out := &Dataset{Data: make([]Datum, len(ds.Data))}
	for i, d := range ds.Data {
		c := make(Datum, len(d))
		for k, v := range d {
			if nested, ok := v.(*Dataset); ok {
				v = nested.Clone()
			}
			c[k] = v
		}
		out.Data[i] = c
	}
	return out
}

// Len is the number of datums.
func (ds *Dataset) Len() int {
	if ds == nil {
		return 0
	}
	return len(ds.Data)
}

// Columns returns the sorted union of datum keys.
func (ds *Dataset) Columns() []string {
	seen := map[string]bool{}
	var cols []string
	for _, d := range ds.Data {
		for k := range d {
			if !seen[k] {
				seen[k] = true
				cols = append(cols, k)
			}
		}
	}
	slices.Sort(cols)
	return cols
}

// MarshalJSON encodes ds as {"type":"DATASET","data":[..]}.
func (ds *Dataset) MarshalJSON() ([]byte, error) {
	data := ds.Data
	if data == nil {
		data = []Datum{}
	}
	return json.Marshal(struct {
		Type string  `json:"type"`
		Data []Datum `json:"data"`
	}{TypeDataset, data})
}

// UnmarshalJSON decodes the form written by MarshalJSON.
func (ds *Dataset) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	v, err := DecodeValue(raw)
	if err != nil {
		return err
	}
	decoded, ok := v.(*Dataset)
	if !ok {
		return fmt.Errorf("expected dataset, got %T", v)
	}
	*ds = *decoded
	return nil
}

type taggedTime struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// jsonValue returns the JSON-ready form of a value.
func jsonValue(v any) any {
	if t, ok := v.(time.Time); ok {
		return taggedTime{TypeTime, formatTime(t)}
	}
	return v
}

// DecodeValue converts a generic JSON value (as produced by json.Unmarshal
// into any) back into a literal value, resolving type tags.
func DecodeValue(v any) (any, error) {
	switch val := v.(type) {
	case nil, string, bool, float64:
		return val, nil
	case json.Number:
		return val.Float64()
	case []any:
		return nil, fmt.Errorf("bare arrays are not values; use a SET")
	case map[string]any:
		return decodeTagged(val)
	default:
		return nil, fmt.Errorf("unsupported JSON value %T", v)
	}
}

func decodeTagged(obj map[string]any) (any, error) {
	typ, _ := obj["type"].(string)
	bounds, _ := obj["bounds"].(string)
	if bounds == "" {
		bounds = DefaultBounds
	}

	switch typ {
	case TypeTime:
		s, _ := obj["value"].(string)
		return parseTime(s)
	case TypeNumberRange:
		r := NumberRange{Bounds: bounds}
		if n, ok := obj["start"].(float64); ok {
			r.Start = &n
		}
		if n, ok := obj["end"].(float64); ok {
			r.End = &n
		}
		return r, nil
	case TypeTimeRange:
		start, err := parseTime(stringField(obj, "start"))
		if err != nil {
			return nil, err
		}
		end, err := parseTime(stringField(obj, "end"))
		if err != nil {
			return nil, err
		}
		return TimeRange{Start: start, End: end, Bounds: bounds}, nil
	case TypeSet:
		raw, _ := obj["elements"].([]any)
		s := Set{SetType: stringField(obj, "setType"), Elements: make([]any, 0, len(raw))}
		for _, e := range raw {
			v, err := DecodeValue(e)
			if err != nil {
				return nil, fmt.Errorf("set element: %w", err)
			}
			s.Elements = append(s.Elements, v)
		}
		return s, nil
	case TypeDataset:
		raw, _ := obj["data"].([]any)
		ds := &Dataset{Data: make([]Datum, 0, len(raw))}
		for i, r := range raw {
			row, ok := r.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("dataset row %d is not an object", i)
			}
			d := make(Datum, len(row))
			for k, cell := range row {
				v, err := DecodeValue(cell)
				if err != nil {
					return nil, fmt.Errorf("dataset row %d, column %q: %w", i, k, err)
				}
				d[k] = v
			}
			ds.Data = append(ds.Data, d)
		}
		return ds, nil
	default:
		return nil, fmt.Errorf("unknown value type %q", typ)
	}
}

func stringField(obj map[string]any, key string) string {
	s, _ := obj[key].(string)
	return s
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q: %w", s, err)
	}
	return t.UTC(), nil
}

// normalizeValue folds Go numeric types into float64.
func normalizeValue(v any) any {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case float32:
		return float64(n)
	case uint:
		return float64(n)
	case uint32:
		return float64(n)
	case uint64:
		return float64(n)
	case []string:
		elements := make([]any, len(n))
		for i, s := range n {
			elements[i] = s
		}
		return NewSet(elements...)
	}
	return v
}

func typeOf(v any) string {
	switch v.(type) {
	case nil:
		return TypeNull
	case string:
		return TypeString
	case float64:
		return TypeNumber
	case bool:
		return TypeBoolean
	case time.Time:
		return TypeTime
	case NumberRange:
		return TypeNumberRange
	case TimeRange:
		return TypeTimeRange
	case Set:
		return TypeSet
	case *Dataset:
		return TypeDataset
	}
	return fmt.Sprintf("%T", v)
}

// TypeOf returns the wire type name of a literal value.
func TypeOf(v any) string {
	return typeOf(normalizeValue(v))
}

func valuesEqual(a, b any) bool {
	switch x := a.(type) {
	case time.Time:
		y, ok := b.(time.Time)
		return ok && x.Equal(y)
	case NumberRange:
		y, ok := b.(NumberRange)
		return ok && x.Equal(y)
	case TimeRange:
		y, ok := b.(TimeRange)
		return ok && x.Equal(y)
	case float64:
		y, ok := b.(float64)
		return ok && (x == y || math.IsNaN(x) && math.IsNaN(y))
	case nil, string, bool:
		return a == b
	}
	return false
}

// ValuesEqual compares two literal values.
func ValuesEqual(a, b any) bool {
	return valuesEqual(normalizeValue(a), normalizeValue(b))
}
