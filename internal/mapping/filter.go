package mapping

import (
	"fmt"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Operator is a comparison usable in a filter condition.
type Operator string

const (
	Eq        Operator = "="
	NotEq     Operator = "!="
	Less      Operator = "<"
	LessEq    Operator = "<="
	Greater   Operator = ">"
	GreaterEq Operator = ">="
	// In matches when the field value is an element of the condition value,
	// which must be a slice.
	In Operator = "in"
	// Contains matches when the field's string value contains the condition
	// value.
	Contains Operator = "contains"
)

var exprOperators = map[Operator]string{
	Eq:        "==",
	NotEq:     "!=",
	Less:      "<",
	LessEq:    "<=",
	Greater:   ">",
	GreaterEq: ">=",
	In:        "in",
	Contains:  "contains",
}

// Condition compares one stored field with a value.
type Condition struct {
	Field string
	Op    Operator
	Value any
}

// Filter is a disjunction of segments; each segment is a conjunction of
// conditions. An empty filter matches every row. A compiled filter may be
// matched from several goroutines; Segments must not change after the first
// Compile or Match.
type Filter struct {
	Segments [][]Condition

	mu      sync.Mutex
	program *vm.Program
	params  map[string]any
}

// Empty reports whether the filter has no conditions.
func (f *Filter) Empty() bool {
	for _, seg := range f.Segments {
		if len(seg) > 0 {
			return false
		}
	}
	return true
}

// Source renders the filter as an expr expression over the row and the
// positional parameters p0..pN.
func (f *Filter) Source() (string, map[string]any, error) {
	params := make(map[string]any)
	var ors []string
	for _, seg := range f.Segments {
		if len(seg) == 0 {
			continue
		}
		ands := make([]string, 0, len(seg))
		for _, c := range seg {
			op, ok := exprOperators[c.Op]
			if !ok {
				return "", nil, fmt.Errorf("%w: %q", ErrUnknownOperator, c.Op)
			}
			name := fmt.Sprintf("p%d", len(params))
			params[name] = c.Value
			ands = append(ands, fmt.Sprintf("row[%q] %s %s", c.Field, op, name))
		}
		ors = append(ors, "("+strings.Join(ands, " && ")+")")
	}
	if len(ors) == 0 {
		return "true", params, nil
	}
	return strings.Join(ors, " || "), params, nil
}

// Compile prepares the filter for repeated evaluation.
func (f *Filter) Compile() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.compileLocked()
}

func (f *Filter) compileLocked() error {
	src, params, err := f.Source()
	if err != nil {
		return err
	}
	env := make(map[string]any, len(params)+1)
	for k, v := range params {
		env[k] = v
	}
	env["row"] = map[string]any{}
	program, err := expr.Compile(src, expr.Env(env), expr.AsBool())
	if err != nil {
		return fmt.Errorf("compile filter %s: %w", src, err)
	}
	f.program = program
	f.params = params
	return nil
}

// Match evaluates the filter against a stored row keyed by attribute name.
func (f *Filter) Match(row map[string]any) (bool, error) {
	program, params, err := f.compiled()
	if err != nil {
		return false, err
	}
	env := make(map[string]any, len(params)+1)
	for k, v := range params {
		env[k] = v
	}
	env["row"] = row
	out, err := expr.Run(program, env)
	if err != nil {
		return false, fmt.Errorf("evaluate filter: %w", err)
	}
	matched, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("filter did not evaluate to bool, got %T", out)
	}
	return matched, nil
}

func (f *Filter) compiled() (*vm.Program, map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.program == nil {
		if err := f.compileLocked(); err != nil {
			return nil, nil, err
		}
	}
	return f.program, f.params, nil
}
