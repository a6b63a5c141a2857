package expr

import "github.com/roach88/pivot/internal/duration"

// Expression is a node of the query expression tree.
//
// This is a sealed interface: the marker method restricts implementations to
// this package so that compilers can rely on an exhaustive type switch.
type Expression interface {
	// Op returns the wire name of the node ("ref", "filter", "sum", ...).
	Op() string
	expression() // Marker method - seals interface to this package
}

// Sort directions.
const (
	Ascending  = "ascending"
	Descending = "descending"
)

// Ref references a named value in scope: a column of the data source, an
// applied value of the current datum, or ($main) the current dataset.
// Nest walks up that many datums, so $^count is the parent's count.
type Ref struct {
	Name string
	Nest int
}

func (Ref) Op() string  { return "ref" }
func (Ref) expression() {}

// Literal is a constant: nil, bool, float64, string, time.Time, Set,
// NumberRange, TimeRange or *Dataset.
type Literal struct {
	Value any
}

func (Literal) Op() string  { return "literal" }
func (Literal) expression() {}

// Filter keeps the rows of Operand for which Expression holds.
type Filter struct {
	Operand    Expression
	Expression Expression
}

func (Filter) Op() string  { return "filter" }
func (Filter) expression() {}

// Split groups Operand by Expression. Each resulting datum carries the group
// key under Name and the group's rows under DataName.
type Split struct {
	Operand    Expression
	Expression Expression
	Name       string
	DataName   string
}

func (Split) Op() string  { return "split" }
func (Split) expression() {}

// Apply evaluates Expression for every datum of Operand and stores it as Name.
type Apply struct {
	Operand    Expression
	Name       string
	Expression Expression
}

func (Apply) Op() string  { return "apply" }
func (Apply) expression() {}

// Sort orders the datums of Operand by Expression, which must be a Ref.
type Sort struct {
	Operand    Expression
	Expression Expression
	Direction  string
}

func (Sort) Op() string  { return "sort" }
func (Sort) expression() {}

// Limit keeps the first Value datums of Operand.
type Limit struct {
	Operand Expression
	Value   int
}

func (Limit) Op() string  { return "limit" }
func (Limit) expression() {}

// Count counts the rows of Operand.
type Count struct {
	Operand Expression
}

func (Count) Op() string  { return "count" }
func (Count) expression() {}

// Sum adds Expression over the rows of Operand.
type Sum struct {
	Operand    Expression
	Expression Expression
}

func (Sum) Op() string  { return "sum" }
func (Sum) expression() {}

// Min is the smallest Expression over the rows of Operand.
type Min struct {
	Operand    Expression
	Expression Expression
}

func (Min) Op() string  { return "min" }
func (Min) expression() {}

// Max is the largest Expression over the rows of Operand.
type Max struct {
	Operand    Expression
	Expression Expression
}

func (Max) Op() string  { return "max" }
func (Max) expression() {}

// Average is the mean of Expression over the rows of Operand.
type Average struct {
	Operand    Expression
	Expression Expression
}

func (Average) Op() string  { return "average" }
func (Average) expression() {}

// CountDistinct counts the distinct values of Expression over Operand.
type CountDistinct struct {
	Operand    Expression
	Expression Expression
}

func (CountDistinct) Op() string  { return "countDistinct" }
func (CountDistinct) expression() {}

// Quantile is the Value-th quantile (0..1) of Expression over Operand.
// Tuning is passed through to backends that approximate quantiles.
type Quantile struct {
	Operand    Expression
	Expression Expression
	Value      float64
	Tuning     string
}

func (Quantile) Op() string  { return "quantile" }
func (Quantile) expression() {}

// Add is Operand + Expression.
type Add struct {
	Operand    Expression
	Expression Expression
}

func (Add) Op() string  { return "add" }
func (Add) expression() {}

// Subtract is Operand - Expression.
type Subtract struct {
	Operand    Expression
	Expression Expression
}

func (Subtract) Op() string  { return "subtract" }
func (Subtract) expression() {}

// Multiply is Operand * Expression.
type Multiply struct {
	Operand    Expression
	Expression Expression
}

func (Multiply) Op() string  { return "multiply" }
func (Multiply) expression() {}

// Divide is Operand / Expression. Division by zero yields null.
type Divide struct {
	Operand    Expression
	Expression Expression
}

func (Divide) Op() string  { return "divide" }
func (Divide) expression() {}

// Overlap holds when Operand falls in Expression, a Set, NumberRange or
// TimeRange literal.
type Overlap struct {
	Operand    Expression
	Expression Expression
}

func (Overlap) Op() string  { return "overlap" }
func (Overlap) expression() {}

// Is holds when Operand equals Expression; null equals null.
type Is struct {
	Operand    Expression
	Expression Expression
}

func (Is) Op() string  { return "is" }
func (Is) expression() {}

// Not negates Operand.
type Not struct {
	Operand Expression
}

func (Not) Op() string  { return "not" }
func (Not) expression() {}

// And is the conjunction of Operand and Expression.
type And struct {
	Operand    Expression
	Expression Expression
}

func (And) Op() string  { return "and" }
func (And) expression() {}

// Or is the disjunction of Operand and Expression.
type Or struct {
	Operand    Expression
	Expression Expression
}

func (Or) Op() string  { return "or" }
func (Or) expression() {}

// Compare modes for Contains.
const (
	CompareNormal     = "normal"
	CompareIgnoreCase = "ignoreCase"
)

// Contains holds when the string Operand contains Expression.
type Contains struct {
	Operand    Expression
	Expression Expression
	Compare    string
}

func (Contains) Op() string  { return "contains" }
func (Contains) expression() {}

// Match holds when the string Operand matches the regular expression.
type Match struct {
	Operand Expression
	Regexp  string
}

func (Match) Op() string  { return "match" }
func (Match) expression() {}

// TimeBucket floors the time Operand to Duration in Timezone; its value is
// the TimeRange of the bucket.
type TimeBucket struct {
	Operand  Expression
	Duration duration.Duration
	Timezone string
}

func (TimeBucket) Op() string  { return "timeBucket" }
func (TimeBucket) expression() {}

// NumberBucket floors the numeric Operand to a grid of Size starting at
// Offset; its value is the NumberRange of the bucket.
type NumberBucket struct {
	Operand Expression
	Size    float64
	Offset  float64
}

func (NumberBucket) Op() string  { return "numberBucket" }
func (NumberBucket) expression() {}

// TimeShift moves the time Operand by Step copies of Duration in Timezone.
type TimeShift struct {
	Operand  Expression
	Duration duration.Duration
	Step     int
	Timezone string
}

func (TimeShift) Op() string  { return "timeShift" }
func (TimeShift) expression() {}

// Then is Expression when Operand holds and null otherwise.
type Then struct {
	Operand    Expression
	Expression Expression
}

func (Then) Op() string  { return "then" }
func (Then) expression() {}

// Fallback is Operand unless it is null, in which case it is Expression.
type Fallback struct {
	Operand    Expression
	Expression Expression
}

func (Fallback) Op() string  { return "fallback" }
func (Fallback) expression() {}
