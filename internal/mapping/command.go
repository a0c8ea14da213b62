// Package mapping is a fluent builder for set-based insert, update and delete
// commands that bypass change tracking. Commands carry a filter compiled to an
// expr program and are executed by the storage backends.
package mapping

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/expr-lang/expr"

	"trackcore/pkg/domain"
)

var (
	// ErrNoTarget is returned when a command has no target type.
	ErrNoTarget = errors.New("mapping command has no target type")
	// ErrNoValues is returned for inserts and updates without values.
	ErrNoValues = errors.New("mapping command has no values")
	// ErrUnknownField is returned for fields the target type does not declare.
	ErrUnknownField = errors.New("unknown field")
	// ErrUnknownOperator is returned for unsupported filter operators.
	ErrUnknownOperator = errors.New("unknown filter operator")
)

// Operation is the kind of a mapping command.
type Operation int

const (
	OpInsert Operation = iota
	OpUpdate
	OpDelete
)

func (o Operation) String() string {
	switch o {
	case OpInsert:
		return "insert"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	default:
		return fmt.Sprintf("operation(%d)", int(o))
	}
}

// Command is a validated mapping command.
type Command struct {
	Type       *domain.TypeDescriptor
	Op         Operation
	Values     map[string]any
	Increments map[string]any
	Filter     *Filter
}

// Executor runs mapping commands and returns the number of affected rows.
type Executor interface {
	ExecuteMapping(ctx context.Context, cmd Command) (int64, error)
}

// Callbacks run around a command's execution. A Before error aborts it.
type Callbacks struct {
	Before func(ctx context.Context, cmd Command) error
	After  func(ctx context.Context, cmd Command, affected int64)
}

// Matches evaluates the command filter against a stored row.
func (c Command) Matches(row map[string]any) (bool, error) {
	if c.Filter == nil {
		return true, nil
	}
	return c.Filter.Match(row)
}

// Apply writes the command's values and increments into row.
func (c Command) Apply(row map[string]any) error {
	for _, name := range sortedKeys(c.Values) {
		row[name] = c.Values[name]
	}
	for _, name := range sortedKeys(c.Increments) {
		sum, err := increase(row[name], c.Increments[name])
		if err != nil {
			return fmt.Errorf("increase %s.%s: %w", c.Type.Name, name, err)
		}
		row[name] = sum
	}
	return nil
}

// Fields returns the names written by the command, sorted.
func (c Command) Fields() []string {
	seen := make(map[string]struct{}, len(c.Values)+len(c.Increments))
	for k := range c.Values {
		seen[k] = struct{}{}
	}
	for k := range c.Increments {
		seen[k] = struct{}{}
	}
	return sortedKeys(seen)
}

func increase(current, delta any) (any, error) {
	if current == nil {
		return delta, nil
	}
	out, err := expr.Eval("current + delta", map[string]any{"current": current, "delta": delta})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
