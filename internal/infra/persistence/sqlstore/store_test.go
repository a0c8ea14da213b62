package sqlstore

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"trackcore/internal/core"
	"trackcore/internal/infra/persistence/postgres/testutil"
	"trackcore/internal/mapping"
	"trackcore/internal/testmodel"
)

func TestDialectPlaceholders(t *testing.T) {
	require.Equal(t, []any{"?", "?"}, SQLite.args(2))
	require.Equal(t, []any{"$1", "$2", "$3"}, Postgres.args(3))
}

func TestMappingPersistsOutsideTransactions(t *testing.T) {
	ctx := context.Background()
	db, conn := testutil.NewStubDB()
	st, err := Open(ctx, db, SQLite, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.Same(t, db, st.DB())

	n, err := mapping.Into(testmodel.TagDescriptor()).Insert().Set("Name", "go").Set("Label", "Go").Commit(ctx, st, mapping.Callbacks{})
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
	rows := conn.Rows("tracked_rows")
	require.Len(t, rows, 1)
	require.Equal(t, `["go"]`, rows[0]["row_key"])
	require.JSONEq(t, `{"Name":"go","Label":"Go"}`, rows[0]["payload"].(string))

	for _, stmt := range conn.Execs {
		if strings.HasPrefix(stmt, "INSERT INTO tracked_rows") {
			require.Contains(t, stmt, "VALUES (?, ?, ?)")
		}
	}
}

func TestTransactionsPersistOnCommitOnly(t *testing.T) {
	ctx := context.Background()
	db, conn := testutil.NewStubDB()
	st, err := Open(ctx, db, Postgres, nil)
	require.NoError(t, err)

	require.NoError(t, st.Begin(ctx))
	_, err = mapping.Into(testmodel.TagDescriptor()).Insert().Set("Name", "draft").Commit(ctx, st, mapping.Callbacks{})
	require.NoError(t, err)
	require.Empty(t, conn.Rows("tracked_rows"))

	require.NoError(t, st.Rollback(ctx))
	require.Zero(t, st.Count("tag"))

	require.NoError(t, st.Begin(ctx))
	_, err = mapping.Into(testmodel.TagDescriptor()).Insert().Set("Name", "kept").Commit(ctx, st, mapping.Callbacks{})
	require.NoError(t, err)
	require.NoError(t, st.Commit(ctx))
	require.Len(t, conn.Rows("tracked_rows"), 1)
}

func TestOpenReportsSchemaAndDecodeErrors(t *testing.T) {
	ctx := context.Background()
	db, conn := testutil.NewStubDB()
	conn.FailExec = true
	_, err := Open(ctx, db, SQLite, nil)
	require.ErrorContains(t, err, "ensure sqlite tables")

	db, conn = testutil.NewStubDB()
	conn.Tables["tracked_rows"] = []map[string]any{{"type_name": "tag", "row_key": `["x"]`, "payload": "not json"}}
	_, err = Open(ctx, db, SQLite, nil)
	require.ErrorContains(t, err, `decode tag ["x"]`)
}

func TestFailedPersistRestoresMemoryState(t *testing.T) {
	ctx := context.Background()
	db, conn := testutil.NewStubDB()
	st, err := Open(ctx, db, SQLite, zaptest.NewLogger(t))
	require.NoError(t, err)
	u, err := core.New(testmodel.Source{}, core.WithStorage(st))
	require.NoError(t, err)

	tag := &testmodel.Tag{Name: "go", Label: "Go"}
	_, err = u.Add(tag)
	require.NoError(t, err)

	conn.FailCommit = true
	_, err = u.SaveChanges(ctx)
	require.ErrorContains(t, err, "commit fail")
	require.Zero(t, st.Count("tag"))

	conn.FailCommit = false
	report, err := u.SaveChanges(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.Counts().Added)
	require.Equal(t, 1, st.Count("tag"))
	require.Len(t, conn.Rows("tracked_rows"), 1)
}

func TestFailedCommitDropsTransaction(t *testing.T) {
	ctx := context.Background()
	db, conn := testutil.NewStubDB()
	st, err := Open(ctx, db, Postgres, nil)
	require.NoError(t, err)

	require.NoError(t, st.Begin(ctx))
	_, err = mapping.Into(testmodel.TagDescriptor()).Insert().Set("Name", "lost").Commit(ctx, st, mapping.Callbacks{})
	require.NoError(t, err)
	conn.FailCommit = true
	require.ErrorContains(t, st.Commit(ctx), "commit fail")
	require.False(t, st.InTransaction())
	require.Zero(t, st.Count("tag"))

	conn.FailCommit = false
	_, err = mapping.Into(testmodel.TagDescriptor()).Insert().Set("Name", "lost").Commit(ctx, st, mapping.Callbacks{})
	require.NoError(t, err)
	require.Equal(t, 1, st.Count("tag"))
}
