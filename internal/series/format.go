package series

import (
	"fmt"
	"math"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// Format types.
const (
	FormatDefault = "default"
	FormatExact   = "exact"
	FormatPercent = "percent"
	FormatCustom  = "custom"
)

// Patterns for the built-in format types, in numeral notation.
const (
	DefaultPattern = "0,0.0 a"
	ExactPattern   = "0,0"
	PercentPattern = "0[.]00%"
)

// Format says how to print series values. Value holds the pattern of a
// custom format.
type Format struct {
	Type  string `json:"type"`
	Value string `json:"value,omitempty"`
}

// IsDefault reports whether f defers to the measure's format.
func (f Format) IsDefault() bool {
	return f.Type == "" || f.Type == FormatDefault
}

// Pattern resolves f to a numeral pattern. measureFormat is used for the
// default type when set.
func (f Format) Pattern(measureFormat string) string {
	switch f.Type {
	case FormatExact:
		return ExactPattern
	case FormatPercent:
		return PercentPattern
	case FormatCustom:
		return f.Value
	}
	if measureFormat != "" {
		return measureFormat
	}
	return DefaultPattern
}

func validateFormat(f Format) error {
	switch f.Type {
	case "", FormatDefault, FormatExact, FormatPercent:
		return nil
	case FormatCustom:
		if strings.TrimSpace(f.Value) == "" {
			return fmt.Errorf("custom format needs a pattern")
		}
		_, err := parsePattern(f.Value)
		return err
	}
	return fmt.Errorf("unknown format type %q", f.Type)
}

// numeral is a parsed numeral pattern such as "0,0.00 a" or "0[.]0%".
type numeral struct {
	grouping bool
	decimals int
	optional bool // decimals are dropped when zero
	abbrev   bool
	percent  bool
	space    bool // space before the abbreviation or percent sign
}

func parsePattern(p string) (numeral, error) {
	var n numeral
	if p == "" {
		return n, fmt.Errorf("empty format pattern")
	}
	rest := p
	if strings.HasSuffix(rest, "%") {
		n.percent = true
		rest = strings.TrimSuffix(rest, "%")
	}
	if strings.HasSuffix(rest, "a") {
		n.abbrev = true
		rest = strings.TrimSuffix(rest, "a")
	}
	if strings.HasSuffix(rest, " ") {
		n.space = true
		rest = strings.TrimSpace(rest)
	}
	if strings.HasPrefix(rest, "0,0") {
		n.grouping = true
		rest = strings.TrimPrefix(rest, "0,0")
	} else if strings.HasPrefix(rest, "0") {
		rest = strings.TrimPrefix(rest, "0")
	} else {
		return n, fmt.Errorf("unsupported format pattern %q", p)
	}
	switch {
	case rest == "":
	case strings.HasPrefix(rest, "[.]"):
		n.optional = true
		rest = strings.TrimPrefix(rest, "[.]")
		n.decimals = len(rest)
	case strings.HasPrefix(rest, "."):
		rest = strings.TrimPrefix(rest, ".")
		n.decimals = len(rest)
	default:
		return n, fmt.Errorf("unsupported format pattern %q", p)
	}
	if strings.Trim(rest, "0") != "" {
		return n, fmt.Errorf("unsupported format pattern %q", p)
	}
	return n, nil
}

var abbreviations = []struct {
	threshold float64
	suffix    string
}{
	{1e12, "t"},
	{1e9, "b"},
	{1e6, "m"},
	{1e3, "k"},
}

// FormatNumber prints v with a numeral pattern. Nil and NaN print as "-".
func FormatNumber(v any, pattern string) string {
	f, ok := toFloat(v)
	if !ok || math.IsNaN(f) {
		return "-"
	}
	n, err := parsePattern(pattern)
	if err != nil {
		n, _ = parsePattern(DefaultPattern)
	}

	suffix := ""
	if n.percent {
		f *= 100
		suffix = "%"
	} else if n.abbrev {
		for _, a := range abbreviations {
			if math.Abs(f) >= a.threshold {
				f /= a.threshold
				suffix = a.suffix
				break
			}
		}
	}

	opts := []number.Option{number.MaxFractionDigits(n.decimals)}
	if !n.optional {
		opts = append(opts, number.MinFractionDigits(n.decimals))
	}
	if !n.grouping {
		opts = append(opts, number.NoSeparator())
	}
	// Printers carry per-call buffers, so each call gets its own.
	p := message.NewPrinter(language.English)
	out := p.Sprint(number.Decimal(f, opts...))
	if suffix != "" {
		if n.space {
			out += " "
		}
		out += suffix
	}
	return out
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
