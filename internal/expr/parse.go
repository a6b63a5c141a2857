package expr

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/roach88/pivot/internal/duration"
)

// ParseError reports a formula that could not be parsed.
type ParseError struct {
	Input   string
	Pos     int // byte offset into Input
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %q at %d: %s", e.Input, e.Pos, e.Message)
}

// Parse reads an expression in the text form written by String, limited to
// what formulas need: refs, number, string and boolean literals, literal
// sets, infix arithmetic, parentheses, ply() and method chains.
func Parse(input string) (Expression, error) {
	p := &parser{lex: lexer{input: input}}
	p.next()
	e, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if p.tok.kind != tokEOF {
		return nil, p.errorf("unexpected %s", p.tok)
	}
	return e, nil
}

// MustParse is like Parse but panics on error. Use only for constants and
// tests.
func MustParse(input string) Expression {
	e, err := Parse(input)
	if err != nil {
		panic(err)
	}
	return e
}

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokRef
	tokNumber
	tokString
	tokIdent
	tokPunct
)

type token struct {
	kind tokenKind
	text string
	nest int
	pos  int
}

func (t token) String() string {
	switch t.kind {
	case tokEOF:
		return "end of input"
	case tokRef:
		return "$" + strings.Repeat("^", t.nest) + t.text
	case tokString:
		return quote(t.text)
	}
	return strconv.Quote(t.text)
}

type lexer struct {
	input string
	pos   int
}

func (l *lexer) peekRune() rune {
	if l.pos >= len(l.input) {
		return 0
	}
	r, _ := utf8.DecodeRuneInString(l.input[l.pos:])
	return r
}

func (l *lexer) scan() (token, error) {
	for l.pos < len(l.input) && unicode.IsSpace(l.peekRune()) {
		l.pos++
	}
	start := l.pos
	if l.pos >= len(l.input) {
		return token{kind: tokEOF, pos: start}, nil
	}

	c := l.input[l.pos]
	switch {
	case c == '$':
		l.pos++
		nest := 0
		for l.pos < len(l.input) && l.input[l.pos] == '^' {
			nest++
			l.pos++
		}
		if l.pos < len(l.input) && l.input[l.pos] == '{' {
			end := strings.IndexByte(l.input[l.pos:], '}')
			if end < 0 {
				return token{}, &ParseError{l.input, start, "unterminated ${"}
			}
			name := l.input[l.pos+1 : l.pos+end]
			l.pos += end + 1
			return token{kind: tokRef, text: name, nest: nest, pos: start}, nil
		}
		name := l.ident()
		if name == "" {
			return token{}, &ParseError{l.input, start, "expected name after $"}
		}
		return token{kind: tokRef, text: name, nest: nest, pos: start}, nil
	case c >= '0' && c <= '9' || c == '.' && l.pos+1 < len(l.input) && isDigit(l.input[l.pos+1]):
		for l.pos < len(l.input) && (isDigit(l.input[l.pos]) || l.input[l.pos] == '.') {
			l.pos++
		}
		if l.pos < len(l.input) && (l.input[l.pos] == 'e' || l.input[l.pos] == 'E') {
			l.pos++
			if l.pos < len(l.input) && (l.input[l.pos] == '+' || l.input[l.pos] == '-') {
				l.pos++
			}
			for l.pos < len(l.input) && isDigit(l.input[l.pos]) {
				l.pos++
			}
		}
		return token{kind: tokNumber, text: l.input[start:l.pos], pos: start}, nil
	case c == '\'' || c == '"':
		return l.str(c)
	case c == '_' || unicode.IsLetter(l.peekRune()):
		return token{kind: tokIdent, text: l.ident(), pos: start}, nil
	case strings.IndexByte("+-*/().,[]", c) >= 0:
		l.pos++
		return token{kind: tokPunct, text: string(c), pos: start}, nil
	}
	return token{}, &ParseError{l.input, start, fmt.Sprintf("unexpected character %q", l.peekRune())}
}

func (l *lexer) ident() string {
	start := l.pos
	for l.pos < len(l.input) {
		r, size := utf8.DecodeRuneInString(l.input[l.pos:])
		if r != '_' && !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			break
		}
		l.pos += size
	}
	return l.input[start:l.pos]
}

func (l *lexer) str(q byte) (token, error) {
	start := l.pos
	l.pos++
	var b strings.Builder
	for l.pos < len(l.input) {
		c := l.input[l.pos]
		switch {
		case c == '\\' && l.pos+1 < len(l.input):
			b.WriteByte(l.input[l.pos+1])
			l.pos += 2
		case c == q:
			l.pos++
			return token{kind: tokString, text: b.String(), pos: start}, nil
		default:
			b.WriteByte(c)
			l.pos++
		}
	}
	return token{}, &ParseError{l.input, start, "unterminated string"}
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

type parser struct {
	lex lexer
	tok token
	err error
}

func (p *parser) next() {
	if p.err != nil {
		return
	}
	tok, err := p.lex.scan()
	if err != nil {
		p.err = err
		p.tok = token{kind: tokEOF, pos: p.lex.pos}
		return
	}
	p.tok = tok
}

func (p *parser) errorf(format string, args ...any) error {
	if p.err != nil {
		return p.err
	}
	return &ParseError{Input: p.lex.input, Pos: p.tok.pos, Message: fmt.Sprintf(format, args...)}
}

func (p *parser) isPunct(s string) bool {
	return p.tok.kind == tokPunct && p.tok.text == s
}

func (p *parser) expect(s string) error {
	if !p.isPunct(s) {
		return p.errorf("expected %q, found %s", s, p.tok)
	}
	p.next()
	return p.err
}

// expr := term (('+' | '-') term)*
func (p *parser) parseExpr() (Expression, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for p.isPunct("+") || p.isPunct("-") {
		op := p.tok.text
		p.next()
		right, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		if op == "+" {
			left = Add{Operand: left, Expression: right}
		} else {
			left = Subtract{Operand: left, Expression: right}
		}
	}
	return left, nil
}

// term := unary (('*' | '/') unary)*
func (p *parser) parseTerm() (Expression, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.isPunct("*") || p.isPunct("/") {
		op := p.tok.text
		p.next()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		if op == "*" {
			left = Multiply{Operand: left, Expression: right}
		} else {
			left = Divide{Operand: left, Expression: right}
		}
	}
	return left, nil
}

func (p *parser) parseUnary() (Expression, error) {
	if p.isPunct("-") {
		p.next()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		if l, ok := operand.(Literal); ok {
			if n, ok := l.Value.(float64); ok {
				return Lit(-n), nil
			}
		}
		return Multiply{Operand: Lit(-1.0), Expression: operand}, nil
	}
	return p.parsePostfix()
}

func (p *parser) parsePostfix() (Expression, error) {
	e, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for p.isPunct(".") {
		p.next()
		if p.tok.kind != tokIdent {
			return nil, p.errorf("expected method name, found %s", p.tok)
		}
		method, pos := p.tok.text, p.tok.pos
		p.next()
		args, err := p.parseArgs()
		if err != nil {
			return nil, err
		}
		e, err = buildCall(e, method, args)
		if err != nil {
			return nil, &ParseError{Input: p.lex.input, Pos: pos, Message: err.Error()}
		}
	}
	return e, nil
}

func (p *parser) parseArgs() ([]Expression, error) {
	if err := p.expect("("); err != nil {
		return nil, err
	}
	var args []Expression
	for !p.isPunct(")") {
		if len(args) > 0 {
			if err := p.expect(","); err != nil {
				return nil, err
			}
		}
		arg, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
	}
	p.next()
	return args, p.err
}

func (p *parser) parsePrimary() (Expression, error) {
	if p.err != nil {
		return nil, p.err
	}
	tok := p.tok
	switch tok.kind {
	case tokRef:
		p.next()
		return Ref{Name: tok.text, Nest: tok.nest}, nil
	case tokNumber:
		p.next()
		n, err := strconv.ParseFloat(tok.text, 64)
		if err != nil {
			return nil, &ParseError{p.lex.input, tok.pos, "invalid number " + tok.text}
		}
		return Lit(n), nil
	case tokString:
		p.next()
		return Lit(tok.text), nil
	case tokIdent:
		p.next()
		switch tok.text {
		case "true":
			return Lit(true), nil
		case "false":
			return Lit(false), nil
		case "null":
			return Lit(nil), nil
		case "ply":
			if _, err := p.parseArgs(); err != nil {
				return nil, err
			}
			return PlyLiteral(), nil
		}
		return nil, &ParseError{p.lex.input, tok.pos, "unknown identifier " + tok.text}
	case tokPunct:
		switch tok.text {
		case "(":
			p.next()
			e, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if err := p.expect(")"); err != nil {
				return nil, err
			}
			return e, nil
		case "[":
			return p.parseSet()
		}
	}
	return nil, p.errorf("unexpected %s", tok)
}

func (p *parser) parseSet() (Expression, error) {
	p.next()
	var elements []any
	for !p.isPunct("]") {
		if len(elements) > 0 {
			if err := p.expect(","); err != nil {
				return nil, err
			}
		}
		e, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		l, ok := e.(Literal)
		if !ok {
			return nil, p.errorf("set elements must be literals")
		}
		elements = append(elements, l.Value)
	}
	p.next()
	return Lit(NewSet(elements...)), p.err
}

func buildCall(operand Expression, method string, args []Expression) (Expression, error) {
	want := func(min, max int) error {
		if len(args) < min || len(args) > max {
			return fmt.Errorf("%s takes %d to %d arguments, got %d", method, min, max, len(args))
		}
		return nil
	}
	arg := func(i int) Expression {
		if i < len(args) {
			return args[i]
		}
		return nil
	}

	switch method {
	case "count", "not":
		if err := want(0, 0); err != nil {
			return nil, err
		}
		if method == "count" {
			return Count{Operand: operand}, nil
		}
		return Not{Operand: operand}, nil
	case "filter", "sum", "min", "max", "average", "countDistinct",
		"add", "subtract", "multiply", "divide", "overlap", "in", "is", "and", "or", "then", "fallback":
		if err := want(1, 1); err != nil {
			return nil, err
		}
		return binary(method, operand, args[0]), nil
	case "quantile":
		if err := want(2, 3); err != nil {
			return nil, err
		}
		q, err := numberArg(method, arg(1))
		if err != nil {
			return nil, err
		}
		tuning, _ := stringArg(method, arg(2))
		return Quantile{Operand: operand, Expression: args[0], Value: q, Tuning: tuning}, nil
	case "contains":
		if err := want(1, 2); err != nil {
			return nil, err
		}
		compare, _ := stringArg(method, arg(1))
		return Contains{Operand: operand, Expression: args[0], Compare: compare}, nil
	case "match":
		if err := want(1, 1); err != nil {
			return nil, err
		}
		re, err := stringArg(method, args[0])
		if err != nil {
			return nil, err
		}
		return Match{Operand: operand, Regexp: re}, nil
	case "split":
		if err := want(2, 3); err != nil {
			return nil, err
		}
		name, err := stringArg(method, args[1])
		if err != nil {
			return nil, err
		}
		dataName, _ := stringArg(method, arg(2))
		if dataName == "" {
			dataName = MainName
		}
		return Split{Operand: operand, Expression: args[0], Name: name, DataName: dataName}, nil
	case "apply":
		if err := want(2, 2); err != nil {
			return nil, err
		}
		name, err := stringArg(method, args[0])
		if err != nil {
			return nil, err
		}
		return Apply{Operand: operand, Name: name, Expression: args[1]}, nil
	case "sort":
		if err := want(1, 2); err != nil {
			return nil, err
		}
		direction, _ := stringArg(method, arg(1))
		if direction == "" {
			direction = Ascending
		}
		if direction != Ascending && direction != Descending {
			return nil, fmt.Errorf("sort direction must be %q or %q", Ascending, Descending)
		}
		return Sort{Operand: operand, Expression: args[0], Direction: direction}, nil
	case "limit":
		if err := want(1, 1); err != nil {
			return nil, err
		}
		n, err := numberArg(method, args[0])
		if err != nil {
			return nil, err
		}
		return Limit{Operand: operand, Value: int(n)}, nil
	case "timeBucket", "timeShift":
		if err := want(1, 3); err != nil {
			return nil, err
		}
		s, err := stringArg(method, args[0])
		if err != nil {
			return nil, err
		}
		d, err := duration.Parse(s)
		if err != nil {
			return nil, err
		}
		if method == "timeBucket" {
			tz, _ := stringArg(method, arg(1))
			return TimeBucket{Operand: operand, Duration: d, Timezone: tz}, nil
		}
		step := 1.0
		if arg(1) != nil {
			if step, err = numberArg(method, args[1]); err != nil {
				return nil, err
			}
		}
		tz, _ := stringArg(method, arg(2))
		return TimeShift{Operand: operand, Duration: d, Step: int(step), Timezone: tz}, nil
	case "numberBucket":
		if err := want(1, 2); err != nil {
			return nil, err
		}
		size, err := numberArg(method, args[0])
		if err != nil {
			return nil, err
		}
		var offset float64
		if arg(1) != nil {
			if offset, err = numberArg(method, args[1]); err != nil {
				return nil, err
			}
		}
		return NumberBucket{Operand: operand, Size: size, Offset: offset}, nil
	}
	return nil, fmt.Errorf("unknown method %q", method)
}

func binary(method string, operand, e Expression) Expression {
	switch method {
	case "filter":
		return Filter{Operand: operand, Expression: e}
	case "sum":
		return Sum{Operand: operand, Expression: e}
	case "min":
		return Min{Operand: operand, Expression: e}
	case "max":
		return Max{Operand: operand, Expression: e}
	case "average":
		return Average{Operand: operand, Expression: e}
	case "countDistinct":
		return CountDistinct{Operand: operand, Expression: e}
	case "add":
		return Add{Operand: operand, Expression: e}
	case "subtract":
		return Subtract{Operand: operand, Expression: e}
	case "multiply":
		return Multiply{Operand: operand, Expression: e}
	case "divide":
		return Divide{Operand: operand, Expression: e}
	case "overlap", "in":
		return Overlap{Operand: operand, Expression: e}
	case "is":
		return Is{Operand: operand, Expression: e}
	case "and":
		return And{Operand: operand, Expression: e}
	case "or":
		return Or{Operand: operand, Expression: e}
	case "then":
		return Then{Operand: operand, Expression: e}
	default:
		return Fallback{Operand: operand, Expression: e}
	}
}

func numberArg(method string, e Expression) (float64, error) {
	if l, ok := e.(Literal); ok {
		if n, ok := l.Value.(float64); ok {
			return n, nil
		}
	}
	return 0, fmt.Errorf("%s expects a number literal", method)
}

func stringArg(method string, e Expression) (string, error) {
	if l, ok := e.(Literal); ok {
		if s, ok := l.Value.(string); ok {
			return s, nil
		}
	}
	return "", fmt.Errorf("%s expects a string literal", method)
}
