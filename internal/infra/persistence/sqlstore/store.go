// Package sqlstore makes the memory store durable on a database/sql handle.
// Change sets run against the embedded memory store; after every committed
// write the full snapshot is rewritten to the tracked_rows and
// tracked_sequences tables inside one SQL transaction.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"trackcore/internal/infra/persistence/memory"
	"trackcore/internal/mapping"
	"trackcore/pkg/domain"
)

// Compile-time contract assertions.
var (
	_ domain.Storage   = (*Store)(nil)
	_ mapping.Executor = (*Store)(nil)
)

// Dialect captures the SQL differences between backends.
type Dialect struct {
	Name        string
	PayloadType string
	Placeholder func(n int) string
}

var (
	// SQLite stores payloads as TEXT with ? placeholders.
	SQLite = Dialect{Name: "sqlite", PayloadType: "TEXT", Placeholder: func(int) string { return "?" }}
	// Postgres stores payloads as JSONB with $n placeholders.
	Postgres = Dialect{Name: "postgres", PayloadType: "JSONB", Placeholder: func(n int) string { return fmt.Sprintf("$%d", n) }}
)

func (d Dialect) args(n int) []any {
	out := make([]any, n)
	for i := range out {
		out[i] = d.Placeholder(i + 1)
	}
	return out
}

// Store is a memory store whose committed state is mirrored to SQL.
type Store struct {
	*memory.Store
	db      *sql.DB
	dialect Dialect
	logger  *zap.Logger
	mu      sync.Mutex
}

// Open ensures the tables exist on db and hydrates the memory store from
// them.
func Open(ctx context.Context, db *sql.DB, dialect Dialect, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := ensureTables(ctx, db, dialect); err != nil {
		return nil, err
	}
	snapshot, err := loadSnapshot(ctx, db)
	if err != nil {
		return nil, err
	}
	mem := memory.NewStore(memory.WithLogger(logger))
	mem.ImportState(snapshot)
	logger.Debug("sql store opened",
		zap.String("dialect", dialect.Name),
		zap.Int("types", len(snapshot.Tables)))
	return &Store{Store: mem, db: db, dialect: dialect, logger: logger}, nil
}

// Save applies the change set and persists it unless a local transaction is
// open, in which case Commit persists. A failed persist restores the memory
// state, so the same change set can be saved again.
func (s *Store) Save(ctx context.Context, cs domain.ChangeSet) error {
	return s.durable(ctx, func() error { return s.Store.Save(ctx, cs) })
}

// Commit publishes the memory transaction and persists the snapshot. When the
// persist fails the store returns to the state before the transaction.
func (s *Store) Commit(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	before := s.ExportState()
	if err := s.Store.Commit(ctx); err != nil {
		return err
	}
	if err := s.persist(ctx); err != nil {
		s.ImportState(before)
		return err
	}
	return nil
}

// ExecuteMapping runs a bulk command and persists its effect.
func (s *Store) ExecuteMapping(ctx context.Context, cmd mapping.Command) (int64, error) {
	var n int64
	err := s.durable(ctx, func() error {
		var err error
		n, err = s.Store.ExecuteMapping(ctx, cmd)
		return err
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// durable runs write against the memory store and mirrors the result to SQL.
// Inside a local transaction the write stays in memory until Commit.
func (s *Store) durable(ctx context.Context, write func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.InTransaction() {
		return write()
	}
	before := s.ExportState()
	if err := write(); err != nil {
		return err
	}
	if err := s.persist(ctx); err != nil {
		s.ImportState(before)
		s.logger.Warn("snapshot persist failed, memory state restored",
			zap.String("dialect", s.dialect.Name), zap.Error(err))
		return err
	}
	return nil
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database handle.
func (s *Store) Close() error { return s.db.Close() }

func ensureTables(ctx context.Context, db *sql.DB, d Dialect) error {
	rowsDDL := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS tracked_rows (
		type_name TEXT NOT NULL,
		row_key TEXT NOT NULL,
		payload %s NOT NULL,
		PRIMARY KEY (type_name, row_key)
	)`, d.PayloadType)
	seqDDL := `CREATE TABLE IF NOT EXISTS tracked_sequences (
		type_name TEXT PRIMARY KEY,
		value BIGINT NOT NULL
	)`
	for _, ddl := range []string{rowsDDL, seqDDL} {
		if _, err := db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("ensure %s tables: %w", d.Name, err)
		}
	}
	return nil
}

func loadSnapshot(ctx context.Context, db *sql.DB) (memory.Snapshot, error) {
	tables, err := loadRows(ctx, db)
	if err != nil {
		return memory.Snapshot{}, err
	}
	sequences, err := loadSequences(ctx, db)
	if err != nil {
		return memory.Snapshot{}, err
	}
	return memory.Snapshot{Tables: tables, Sequences: sequences}, nil
}

func loadRows(ctx context.Context, db *sql.DB) (map[string]map[string]memory.Row, error) {
	rows, err := db.QueryContext(ctx, `SELECT type_name, row_key, payload FROM tracked_rows`)
	if err != nil {
		return nil, fmt.Errorf("select tracked rows: %w", err)
	}
	defer func() { _ = rows.Close() }()
	tables := make(map[string]map[string]memory.Row)
	for rows.Next() {
		var (
			typeName, rowKey string
			payload          []byte
		)
		if err := rows.Scan(&typeName, &rowKey, &payload); err != nil {
			return nil, fmt.Errorf("scan tracked row: %w", err)
		}
		var row memory.Row
		if err := json.Unmarshal(payload, &row); err != nil {
			return nil, fmt.Errorf("decode %s %s: %w", typeName, rowKey, err)
		}
		t, ok := tables[typeName]
		if !ok {
			t = make(map[string]memory.Row)
			tables[typeName] = t
		}
		t[rowKey] = row
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tracked rows: %w", err)
	}
	return tables, nil
}

func loadSequences(ctx context.Context, db *sql.DB) (map[string]int64, error) {
	rows, err := db.QueryContext(ctx, `SELECT type_name, value FROM tracked_sequences`)
	if err != nil {
		return nil, fmt.Errorf("select tracked sequences: %w", err)
	}
	defer func() { _ = rows.Close() }()
	sequences := make(map[string]int64)
	for rows.Next() {
		var (
			typeName string
			value    int64
		)
		if err := rows.Scan(&typeName, &value); err != nil {
			return nil, fmt.Errorf("scan tracked sequence: %w", err)
		}
		sequences[typeName] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tracked sequences: %w", err)
	}
	return sequences, nil
}

// Persist rewrites the committed snapshot.
func (s *Store) Persist(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persist(ctx)
}

func (s *Store) persist(ctx context.Context) (retErr error) {
	snapshot := s.ExportState()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()

	p := s.dialect.args(3)
	deleteRows := fmt.Sprintf(`DELETE FROM tracked_rows WHERE type_name = %s`, p[0])
	insertRow := fmt.Sprintf(`INSERT INTO tracked_rows (type_name, row_key, payload) VALUES (%s, %s, %s)`, p...)
	upsertSeq := fmt.Sprintf(`INSERT INTO tracked_sequences (type_name, value) VALUES (%s, %s) ON CONFLICT(type_name) DO UPDATE SET value = excluded.value`, p[0], p[1])

	written := 0
	for _, typeName := range sortedNames(snapshot.Tables) {
		if _, err := tx.ExecContext(ctx, deleteRows, typeName); err != nil {
			return fmt.Errorf("clear %s: %w", typeName, err)
		}
		table := snapshot.Tables[typeName]
		for _, rowKey := range sortedNames(table) {
			data, err := json.Marshal(table[rowKey])
			if err != nil {
				return fmt.Errorf("encode %s %s: %w", typeName, rowKey, err)
			}
			if _, err := tx.ExecContext(ctx, insertRow, typeName, rowKey, string(data)); err != nil {
				return fmt.Errorf("insert %s %s: %w", typeName, rowKey, err)
			}
			written++
		}
	}
	for _, typeName := range sortedNames(snapshot.Sequences) {
		if _, err := tx.ExecContext(ctx, upsertSeq, typeName, snapshot.Sequences[typeName]); err != nil {
			return fmt.Errorf("upsert sequence %s: %w", typeName, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	s.logger.Debug("snapshot persisted", zap.String("dialect", s.dialect.Name), zap.Int("rows", written))
	return nil
}

func sortedNames[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
