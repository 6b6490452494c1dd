// Package script implements the scripting-engine collaborator contract
// (spec.md §6 "Scripting engine — run(source, args={capture, maybe
// allocation_ids}) → ok | {message, line, column}") and a minimal real
// engine sufficient to evaluate custom filters and execute_script requests
// end to end. The full embedded language bytehound ships (a superset of
// Lua-like scripting over the whole capture object model) is out of
// scope; this engine covers one expression grammar: a boolean predicate
// over allocation fields. The `filter_to_script` output of
// filter.Wire.ToCode is not written in this grammar and is not accepted
// by it.
package script

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/0xgxthxb/bytehound/pkg/capture"
)

// OutputKind distinguishes the two shapes a script may emit (spec.md §6
// "ScriptOutput ∈ {PrintLine(string), Image{path, bytes}}").
type OutputKind int

const (
	OutputPrintLine OutputKind = iota
	OutputImage
)

// Output is one item accumulated in the script's virtual environment
// while it runs.
type Output struct {
	Kind  OutputKind
	Line  string // set when Kind == OutputPrintLine
	Path  string // set when Kind == OutputImage
	Bytes []byte // set when Kind == OutputImage
}

// EvalError carries the {message, line, column} shape spec.md §6
// describes for a failed run.
type EvalError struct {
	Message string
	Line    int
	Column  int
}

func (e *EvalError) Error() string {
	return fmt.Sprintf("%s (line %d, column %d)", e.Message, e.Line, e.Column)
}

// Result is what a completed Run produces: the accumulated output log.
type Result struct {
	Outputs []Output
}

// Engine is the collaborator contract pkg/filter.ScriptRunner is a narrow
// slice of, and what the execute_script handler drives in full.
type Engine interface {
	// Run evaluates source once against data (and, for a custom filter
	// evaluation, against an optional restricted allocation-id set) and
	// returns the accumulated outputs, or an EvalError.
	Run(data *capture.Data, source string, allocationIDs []capture.AllocationId) (Result, error)

	// EvalAllocationIds evaluates source as a boolean predicate over every
	// allocation in data and returns the ids for which it held. Satisfies
	// pkg/filter.ScriptRunner.
	EvalAllocationIds(data *capture.Data, source string) ([]capture.AllocationId, error)
}

// defaultEngine implements Engine with a small boolean-expression
// grammar: numeric comparisons on size / timestamp / thread_id / leaked
// (1 if leaked, else 0), combined with && and ||, parenthesized, negated
// with !. This is the language a custom filter script is written in;
// Filter.ToCode's `allocations().where(...)` output is not in it.
type defaultEngine struct{}

// NewDefaultEngine returns the built-in expression-predicate engine.
func NewDefaultEngine() Engine {
	return defaultEngine{}
}

func (defaultEngine) Run(data *capture.Data, source string, allocationIDs []capture.AllocationId) (Result, error) {
	expr, err := parseExpr(source)
	if err != nil {
		return Result{}, &EvalError{Message: err.Error(), Line: 1, Column: 1}
	}

	ids := allocationIDs
	if ids == nil {
		ids = allAllocationIDs(data)
	}

	var outputs []Output
	matched := 0
	for _, id := range ids {
		a := data.Allocation(id)
		ok, err := expr.eval(a)
		if err != nil {
			return Result{}, &EvalError{Message: err.Error(), Line: 1, Column: 1}
		}
		if ok {
			matched++
		}
	}
	outputs = append(outputs, Output{Kind: OutputPrintLine, Line: fmt.Sprintf("%d allocation(s) matched", matched)})
	return Result{Outputs: outputs}, nil
}

func (e defaultEngine) EvalAllocationIds(data *capture.Data, source string) ([]capture.AllocationId, error) {
	expr, err := parseExpr(source)
	if err != nil {
		return nil, errors.Wrap(err, "parsing custom filter script")
	}

	var out []capture.AllocationId
	for _, id := range allAllocationIDs(data) {
		a := data.Allocation(id)
		ok, err := expr.eval(a)
		if err != nil {
			return nil, errors.Wrap(err, "evaluating custom filter script")
		}
		if ok {
			out = append(out, id)
		}
	}
	return out, nil
}

func allAllocationIDs(data *capture.Data) []capture.AllocationId {
	n := data.AllocationCount()
	ids := make([]capture.AllocationId, n)
	for i := 0; i < n; i++ {
		ids[i] = capture.AllocationId(i)
	}
	return ids
}

// --- predicate grammar -----------------------------------------------
//
// grammar:
//   expr    := or
//   or      := and ('||' and)*
//   and     := unary ('&&' unary)*
//   unary   := '!' unary | atom
//   atom    := '(' or ')' | cmp
//   cmp     := ident op number
//   op      := '==' | '!=' | '<' | '<=' | '>' | '>='
//   ident   := 'size' | 'timestamp' | 'thread_id' | 'leaked'

type expr interface {
	eval(a *capture.Allocation) (bool, error)
}

type andExpr struct{ lhs, rhs expr }

func (e andExpr) eval(a *capture.Allocation) (bool, error) {
	l, err := e.lhs.eval(a)
	if err != nil || !l {
		return false, err
	}
	return e.rhs.eval(a)
}

type orExpr struct{ lhs, rhs expr }

func (e orExpr) eval(a *capture.Allocation) (bool, error) {
	l, err := e.lhs.eval(a)
	if err != nil || l {
		return l, err
	}
	return e.rhs.eval(a)
}

type notExpr struct{ inner expr }

func (e notExpr) eval(a *capture.Allocation) (bool, error) {
	v, err := e.inner.eval(a)
	return !v, err
}

type cmpExpr struct {
	field string
	op    string
	value float64
}

func (e cmpExpr) eval(a *capture.Allocation) (bool, error) {
	var lhs float64
	switch e.field {
	case "size":
		lhs = float64(a.Size)
	case "timestamp":
		lhs = float64(a.Timestamp)
	case "thread_id":
		lhs = float64(a.ThreadId)
	case "leaked":
		if a.IsLeaked() {
			lhs = 1
		}
	default:
		return false, errors.Errorf("unknown field %q", e.field)
	}
	switch e.op {
	case "==":
		return lhs == e.value, nil
	case "!=":
		return lhs != e.value, nil
	case "<":
		return lhs < e.value, nil
	case "<=":
		return lhs <= e.value, nil
	case ">":
		return lhs > e.value, nil
	case ">=":
		return lhs >= e.value, nil
	}
	return false, errors.Errorf("unknown operator %q", e.op)
}

type parser struct {
	tokens []string
	pos    int
}

func parseExpr(source string) (expr, error) {
	toks := tokenize(source)
	if len(toks) == 0 {
		return nil, errors.New("empty script")
	}
	p := &parser{tokens: toks}
	e, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.pos != len(p.tokens) {
		return nil, errors.Errorf("unexpected token %q", p.tokens[p.pos])
	}
	return e, nil
}

func tokenize(source string) []string {
	var toks []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			toks = append(toks, cur.String())
			cur.Reset()
		}
	}
	runes := []rune(source)
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			flush()
		case c == '(' || c == ')' || (c == '!' && !(i+1 < len(runes) && runes[i+1] == '=')):
			flush()
			toks = append(toks, string(c))
		case c == '&' && i+1 < len(runes) && runes[i+1] == '&':
			flush()
			toks = append(toks, "&&")
			i++
		case c == '|' && i+1 < len(runes) && runes[i+1] == '|':
			flush()
			toks = append(toks, "||")
			i++
		case (c == '=' || c == '!' || c == '<' || c == '>') && i+1 < len(runes) && runes[i+1] == '=':
			flush()
			toks = append(toks, string(c)+"=")
			i++
		case c == '<' || c == '>':
			flush()
			toks = append(toks, string(c))
		default:
			cur.WriteRune(c)
		}
	}
	flush()
	return toks
}

func (p *parser) peek() string {
	if p.pos >= len(p.tokens) {
		return ""
	}
	return p.tokens[p.pos]
}

func (p *parser) next() string {
	t := p.peek()
	p.pos++
	return t
}

func (p *parser) parseOr() (expr, error) {
	lhs, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek() == "||" {
		p.next()
		rhs, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		lhs = orExpr{lhs: lhs, rhs: rhs}
	}
	return lhs, nil
}

func (p *parser) parseAnd() (expr, error) {
	lhs, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.peek() == "&&" {
		p.next()
		rhs, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		lhs = andExpr{lhs: lhs, rhs: rhs}
	}
	return lhs, nil
}

func (p *parser) parseUnary() (expr, error) {
	if p.peek() == "!" {
		p.next()
		inner, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return notExpr{inner: inner}, nil
	}
	return p.parseAtom()
}

func (p *parser) parseAtom() (expr, error) {
	if p.peek() == "(" {
		p.next()
		e, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.peek() != ")" {
			return nil, errors.New("expected ')'")
		}
		p.next()
		return e, nil
	}
	return p.parseCmp()
}

func (p *parser) parseCmp() (expr, error) {
	field := p.next()
	if field == "" {
		return nil, errors.New("expected identifier")
	}
	op := p.next()
	switch op {
	case "==", "!=", "<", "<=", ">", ">=":
	default:
		return nil, errors.Errorf("expected comparison operator, got %q", op)
	}
	raw := p.next()
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, errors.Errorf("expected number, got %q", raw)
	}
	return cmpExpr{field: field, op: op, value: value}, nil
}
