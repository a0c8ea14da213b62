package memory

import (
	"fmt"

	"trackcore/internal/mapping"
	"trackcore/pkg/domain"
)

func executeCommand(state memoryState, cmd mapping.Command) (int64, error) {
	if cmd.Type == nil {
		return 0, mapping.ErrNoTarget
	}
	desc := cmd.Type
	t := state.table(desc.Name)
	if cmd.Op == mapping.OpInsert {
		row := Row{}
		if err := cmd.Apply(row); err != nil {
			return 0, err
		}
		row, err := normalizeRow(row)
		if err != nil {
			return 0, err
		}
		if desc.GeneratedIdentity {
			name := desc.Identity[0]
			if n, ok := row[name].(int64); ok && n != 0 {
				state.observeSequence(desc.Name, n)
			} else {
				row[name] = state.nextSequence(desc.Name)
			}
		}
		key, err := rowIdentity(desc, row)
		if err != nil {
			return 0, err
		}
		rowKey := key.String()
		if _, exists := t[rowKey]; exists {
			return 0, domain.DuplicateInsertionError{Type: desc.Name, Identity: rowKey}
		}
		t[rowKey] = row
		return 1, nil
	}

	var affected int64
	for _, rowKey := range sortedRowKeys(t) {
		row := t[rowKey]
		ok, err := cmd.Matches(row)
		if err != nil {
			return 0, err
		}
		if !ok {
			continue
		}
		affected++
		if cmd.Op == mapping.OpDelete {
			delete(t, rowKey)
			continue
		}
		if err := cmd.Apply(row); err != nil {
			return 0, err
		}
		normalized, err := normalizeRow(row)
		if err != nil {
			return 0, fmt.Errorf("%s %s: %w", desc.Name, rowKey, err)
		}
		key, err := rowIdentity(desc, normalized)
		if err != nil {
			return 0, err
		}
		if key.String() != rowKey {
			return 0, fmt.Errorf("%s %s: mapping commands cannot change identity attributes", desc.Name, rowKey)
		}
		t[rowKey] = normalized
	}
	return affected, nil
}
