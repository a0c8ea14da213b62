package mapping

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trackcore/internal/testmodel"
)

// sliceExecutor applies commands to rows held in memory.
type sliceExecutor struct {
	rows []map[string]any
}

func (e *sliceExecutor) ExecuteMapping(_ context.Context, cmd Command) (int64, error) {
	if cmd.Op == OpInsert {
		row := map[string]any{}
		if err := cmd.Apply(row); err != nil {
			return 0, err
		}
		e.rows = append(e.rows, row)
		return 1, nil
	}
	var n int64
	kept := e.rows[:0]
	for _, row := range e.rows {
		ok, err := cmd.Matches(row)
		if err != nil {
			return n, err
		}
		if !ok {
			kept = append(kept, row)
			continue
		}
		n++
		if cmd.Op == OpDelete {
			continue
		}
		if err := cmd.Apply(row); err != nil {
			return n, err
		}
		kept = append(kept, row)
	}
	e.rows = kept
	return n, nil
}

func articleRows() []map[string]any {
	return []map[string]any{
		{"ID": int64(1), "Title": "go generics", "Views": int64(10)},
		{"ID": int64(2), "Title": "rust traits", "Views": int64(50)},
		{"ID": int64(3), "Title": "go channels", "Views": int64(200)},
	}
}

func TestFilterOperators(t *testing.T) {
	row := map[string]any{"Title": "go channels", "Views": int64(200), "Summary": nil}
	cases := []struct {
		name string
		cond Condition
		want bool
	}{
		{"eq", Condition{"Views", Eq, 200}, true},
		{"eq float", Condition{"Views", Eq, 200.0}, true},
		{"not eq", Condition{"Views", NotEq, 200}, false},
		{"less", Condition{"Views", Less, 300}, true},
		{"less eq", Condition{"Views", LessEq, 199}, false},
		{"greater", Condition{"Views", Greater, 100}, true},
		{"greater eq", Condition{"Views", GreaterEq, 200}, true},
		{"in", Condition{"Title", In, []string{"go channels", "x"}}, true},
		{"not in", Condition{"Title", In, []string{"x"}}, false},
		{"contains", Condition{"Title", Contains, "chan"}, true},
		{"nil eq", Condition{"Summary", Eq, nil}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := &Filter{Segments: [][]Condition{{tc.cond}}}
			got, err := f.Match(row)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestFilterSegments(t *testing.T) {
	f := &Filter{Segments: [][]Condition{
		{{"Title", Contains, "go"}, {"Views", Greater, 100}},
		{{"ID", Eq, 2}},
	}}
	src, params, err := f.Source()
	require.NoError(t, err)
	assert.Equal(t, `(row["Title"] contains p0 && row["Views"] > p1) || (row["ID"] == p2)`, src)
	assert.Len(t, params, 3)

	var matched []any
	for _, row := range articleRows() {
		ok, err := f.Match(row)
		require.NoError(t, err)
		if ok {
			matched = append(matched, row["ID"])
		}
	}
	assert.Equal(t, []any{int64(2), int64(3)}, matched)

	empty := &Filter{}
	assert.True(t, empty.Empty())
	ok, err := empty.Match(map[string]any{})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFilterMatchFromManyGoroutines(t *testing.T) {
	f := &Filter{Segments: [][]Condition{{{"Views", Greater, 100}}}}
	rows := articleRows()
	want := make([]bool, len(rows))
	for i, row := range rows {
		v, _ := row["Views"].(int64)
		want[i] = v > 100
	}

	var wg sync.WaitGroup
	errs := make(chan error, 8*len(rows))
	for n := 0; n < 8; n++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i, row := range rows {
				ok, err := f.Match(row)
				if err != nil {
					errs <- err
					return
				}
				if ok != want[i] {
					errs <- errors.New("unexpected match result")
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
}

func TestFilterUnknownOperator(t *testing.T) {
	f := &Filter{Segments: [][]Condition{{{"Views", Operator("~"), 1}}}}
	require.ErrorIs(t, f.Compile(), ErrUnknownOperator)
}

func TestBuilderUpdateWithIncrease(t *testing.T) {
	exec := &sliceExecutor{rows: articleRows()}
	var before, after int
	var affected int64
	n, err := Into(testmodel.ArticleDescriptor()).
		Update().
		Set("Title", "popular").
		Increase("Views", 1).
		Where("Views", GreaterEq, 50).
		Commit(context.Background(), exec, Callbacks{
			Before: func(context.Context, Command) error { before++; return nil },
			After:  func(_ context.Context, _ Command, n int64) { after++; affected = n },
		})
	require.NoError(t, err)
	require.Equal(t, int64(2), n)
	require.Equal(t, 1, before)
	require.Equal(t, 1, after)
	require.Equal(t, int64(2), affected)
	require.Equal(t, "go generics", exec.rows[0]["Title"])
	require.Equal(t, "popular", exec.rows[1]["Title"])
	require.EqualValues(t, 51, exec.rows[1]["Views"])
	require.EqualValues(t, 201, exec.rows[2]["Views"])
}

func TestBuilderInsertFromObject(t *testing.T) {
	exec := &sliceExecutor{}
	art := &testmodel.Article{ID: 9, Title: "fresh", Views: 3}
	n, err := Into(testmodel.ArticleDescriptor()).
		Insert().
		FromObject(art).
		Ignore("Summary").
		Commit(context.Background(), exec, Callbacks{})
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
	require.Len(t, exec.rows, 1)
	row := exec.rows[0]
	require.Equal(t, "fresh", row["Title"])
	_, hasSummary := row["Summary"]
	require.False(t, hasSummary)
	_, hasDerived := row["TitleLength"]
	require.False(t, hasDerived)
}

func TestBuilderDelete(t *testing.T) {
	exec := &sliceExecutor{rows: articleRows()}
	n, err := Into(testmodel.ArticleDescriptor()).
		Delete().
		Where("ID", Eq, 1).
		Or("Title", Eq, "rust traits").
		Commit(context.Background(), exec, Callbacks{})
	require.NoError(t, err)
	require.Equal(t, int64(2), n)
	require.Len(t, exec.rows, 1)
	require.Equal(t, int64(3), exec.rows[0]["ID"])
}

func TestBuilderErrors(t *testing.T) {
	_, err := Into(nil).Set("Title", "x").Build()
	require.ErrorIs(t, err, ErrNoTarget)

	_, err = Into(testmodel.ArticleDescriptor()).Update().Build()
	require.ErrorIs(t, err, ErrNoValues)

	_, err = Into(testmodel.ArticleDescriptor()).Set("Nope", 1).Build()
	require.ErrorIs(t, err, ErrUnknownField)

	_, err = Into(testmodel.ArticleDescriptor()).Set("TitleLength", 1).Build()
	require.ErrorIs(t, err, ErrUnknownField, "derived attributes are not writable")

	_, err = Into(testmodel.ArticleDescriptor()).Set("Title", "x").Where("Missing", Eq, 1).Build()
	require.ErrorIs(t, err, ErrUnknownField)

	_, err = Into(testmodel.ArticleDescriptor()).Insert().Increase("Views", 1).Build()
	require.Error(t, err)

	_, err = Into(testmodel.ArticleDescriptor()).Set("Title", "x").Ignore("Title").Build()
	require.ErrorIs(t, err, ErrNoValues)
}

func TestCommitBeforeCallbackAborts(t *testing.T) {
	exec := &sliceExecutor{rows: articleRows()}
	stop := errors.New("stop")
	_, err := Into(testmodel.ArticleDescriptor()).
		Delete().
		Commit(context.Background(), exec, Callbacks{
			Before: func(context.Context, Command) error { return stop },
		})
	require.ErrorIs(t, err, stop)
	require.Len(t, exec.rows, 3)
}

func TestApplyIncreaseOnMissingValue(t *testing.T) {
	cmd, err := Into(testmodel.ArticleDescriptor()).Increase("Views", int64(4)).Build()
	require.NoError(t, err)
	row := map[string]any{}
	require.NoError(t, cmd.Apply(row))
	require.Equal(t, int64(4), row["Views"])
	require.Equal(t, []string{"Views"}, cmd.Fields())
}
