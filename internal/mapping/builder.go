package mapping

import (
	"context"
	"fmt"

	"trackcore/pkg/domain"
)

// Builder assembles a Command. Errors are sticky and reported by Build.
type Builder struct {
	desc     *domain.TypeDescriptor
	op       Operation
	values   map[string]any
	incs     map[string]any
	ignored  map[string]struct{}
	segments [][]Condition
	err      error
}

// Into starts a command against desc. The operation defaults to update.
func Into(desc *domain.TypeDescriptor) *Builder {
	return &Builder{
		desc:    desc,
		op:      OpUpdate,
		values:  make(map[string]any),
		incs:    make(map[string]any),
		ignored: make(map[string]struct{}),
	}
}

// Insert makes the command create one row from its values.
func (b *Builder) Insert() *Builder { b.op = OpInsert; return b }

// Update makes the command rewrite every matching row.
func (b *Builder) Update() *Builder { b.op = OpUpdate; return b }

// Delete makes the command remove every matching row.
func (b *Builder) Delete() *Builder { b.op = OpDelete; return b }

// Set assigns a field value.
func (b *Builder) Set(field string, value any) *Builder {
	if b.checkField(field) {
		b.values[field] = value
	}
	return b
}

// Increase adds delta to the stored value of field.
func (b *Builder) Increase(field string, delta any) *Builder {
	if b.checkField(field) {
		b.incs[field] = delta
	}
	return b
}

// FromObject sets every non-derived attribute from obj.
func (b *Builder) FromObject(obj any) *Builder {
	if b.desc == nil || b.err != nil {
		return b
	}
	for k, v := range b.desc.Values(obj) {
		b.values[k] = v
	}
	return b
}

// Ignore drops fields from the written values.
func (b *Builder) Ignore(fields ...string) *Builder {
	for _, f := range fields {
		b.ignored[f] = struct{}{}
	}
	return b
}

// Where adds a condition to the current segment.
func (b *Builder) Where(field string, op Operator, value any) *Builder {
	return b.And(field, op, value)
}

// And adds a condition to the current segment.
func (b *Builder) And(field string, op Operator, value any) *Builder {
	if !b.checkField(field) {
		return b
	}
	if len(b.segments) == 0 {
		b.segments = append(b.segments, nil)
	}
	last := len(b.segments) - 1
	b.segments[last] = append(b.segments[last], Condition{Field: field, Op: op, Value: value})
	return b
}

// Or starts a new segment with the given condition.
func (b *Builder) Or(field string, op Operator, value any) *Builder {
	if !b.checkField(field) {
		return b
	}
	b.segments = append(b.segments, []Condition{{Field: field, Op: op, Value: value}})
	return b
}

// Build validates the builder and compiles its filter.
func (b *Builder) Build() (Command, error) {
	if b.desc == nil {
		return Command{}, ErrNoTarget
	}
	if b.err != nil {
		return Command{}, b.err
	}
	values := make(map[string]any, len(b.values))
	for k, v := range b.values {
		if _, skip := b.ignored[k]; !skip {
			values[k] = v
		}
	}
	incs := make(map[string]any, len(b.incs))
	for k, v := range b.incs {
		if _, skip := b.ignored[k]; !skip {
			incs[k] = v
		}
	}
	if b.op != OpDelete && len(values) == 0 && len(incs) == 0 {
		return Command{}, fmt.Errorf("%s %s: %w", b.op, b.desc.Name, ErrNoValues)
	}
	if b.op == OpInsert && len(incs) > 0 {
		return Command{}, fmt.Errorf("insert %s: increments need an existing row", b.desc.Name)
	}
	filter := &Filter{Segments: b.segments}
	if err := filter.Compile(); err != nil {
		return Command{}, err
	}
	return Command{Type: b.desc, Op: b.op, Values: values, Increments: incs, Filter: filter}, nil
}

// Commit builds the command and runs it on exec between the callbacks.
func (b *Builder) Commit(ctx context.Context, exec Executor, cb Callbacks) (int64, error) {
	cmd, err := b.Build()
	if err != nil {
		return 0, err
	}
	if cb.Before != nil {
		if err := cb.Before(ctx, cmd); err != nil {
			return 0, err
		}
	}
	n, err := exec.ExecuteMapping(ctx, cmd)
	if err != nil {
		return n, fmt.Errorf("%s %s: %w", cmd.Op, cmd.Type.Name, err)
	}
	if cb.After != nil {
		cb.After(ctx, cmd, n)
	}
	return n, nil
}

func (b *Builder) checkField(field string) bool {
	if b.err != nil || b.desc == nil {
		return false
	}
	attr, ok := b.desc.Attribute(field)
	if !ok || attr.Derived {
		b.err = fmt.Errorf("%s.%s: %w", b.desc.Name, field, ErrUnknownField)
		return false
	}
	return true
}
