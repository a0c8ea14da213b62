package memory

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"

	"trackcore/pkg/identity"
)

// Row holds the stored values of one object keyed by attribute name. Single
// valued associations are stored as the member list of the target identity.
type Row map[string]any

func (r Row) clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		if members, ok := v.([]any); ok {
			v = append([]any(nil), members...)
		}
		out[k] = v
	}
	return out
}

// Snapshot captures a point-in-time clone of the store state. Tables are
// keyed by type name, then by the rendered row identity.
type Snapshot struct {
	Tables    map[string]map[string]Row `json:"tables"`
	Sequences map[string]int64          `json:"sequences"`
}

type memoryState struct {
	tables    map[string]map[string]Row
	sequences map[string]int64
}

func newMemoryState() memoryState {
	return memoryState{
		tables:    make(map[string]map[string]Row),
		sequences: make(map[string]int64),
	}
}

func (s memoryState) clone() memoryState {
	out := memoryState{
		tables:    make(map[string]map[string]Row, len(s.tables)),
		sequences: make(map[string]int64, len(s.sequences)),
	}
	for name, table := range s.tables {
		t := make(map[string]Row, len(table))
		for k, row := range table {
			t[k] = row.clone()
		}
		out.tables[name] = t
	}
	for name, v := range s.sequences {
		out.sequences[name] = v
	}
	return out
}

func (s memoryState) table(name string) map[string]Row {
	t, ok := s.tables[name]
	if !ok {
		t = make(map[string]Row)
		s.tables[name] = t
	}
	return t
}

func (s memoryState) nextSequence(name string) int64 {
	s.sequences[name]++
	return s.sequences[name]
}

// observeSequence keeps the sequence ahead of explicitly supplied keys.
func (s memoryState) observeSequence(name string, v int64) {
	if v > s.sequences[name] {
		s.sequences[name] = v
	}
}

func snapshotFromMemoryState(state memoryState) Snapshot {
	c := state.clone()
	return Snapshot{Tables: c.tables, Sequences: c.sequences}
}

func memoryStateFromSnapshot(s Snapshot) memoryState {
	state := newMemoryState()
	for name, table := range s.Tables {
		t := state.table(name)
		for k, row := range table {
			n, err := normalizeRow(row)
			if err != nil {
				n = row.clone()
			}
			t[k] = n
		}
	}
	for name, v := range s.Sequences {
		state.sequences[name] = v
	}
	return state
}

// normalizeValue converts v to the JSON data model so that stored rows never
// alias caller memory and compare the same after a round trip through a SQL
// payload column. Integral numbers decode as int64.
func normalizeValue(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("decode %T: %w", v, err)
	}
	return fromNumbers(out), nil
}

func fromNumbers(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		f, _ := t.Float64()
		if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
			return int64(f)
		}
		return f
	case []any:
		for i := range t {
			t[i] = fromNumbers(t[i])
		}
		return t
	case map[string]any:
		for k := range t {
			t[k] = fromNumbers(t[k])
		}
		return t
	default:
		return v
	}
}

func normalizeRow(row Row) (Row, error) {
	out := make(Row, len(row))
	for k, v := range row {
		n, err := normalizeValue(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		out[k] = n
	}
	return out, nil
}

// sameStored compares a caller value with a stored one in the JSON data model.
func sameStored(value, stored any) bool {
	n, err := normalizeValue(value)
	if err != nil {
		return false
	}
	return reflect.DeepEqual(n, stored)
}

func keyMembers(k identity.Key) []any {
	members := k.Members()
	out := make([]any, len(members))
	for i, m := range members {
		n, err := normalizeValue(m)
		if err != nil {
			n = m
		}
		out[i] = n
	}
	return out
}

func sortedRowKeys(t map[string]Row) []string {
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
