// Package memory provides an in-memory storage collaborator used for tests and
// ephemeral environments. It is also the change-set engine embedded by the
// SQL backends, which persist its snapshot after every committed write.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"trackcore/internal/mapping"
	"trackcore/pkg/domain"
	"trackcore/pkg/identity"
)

// Compile-time contract assertions.
var (
	_ domain.Storage   = (*Store)(nil)
	_ mapping.Executor = (*Store)(nil)
)

// ErrTransactionOpen is returned by Begin while a transaction is in progress.
var ErrTransactionOpen = errors.New("memory store: transaction already open")

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for write tracing.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// Store keeps rows per type in memory. A local transaction works on a clone of
// the committed state that Commit swaps in.
type Store struct {
	mu     sync.RWMutex
	state  memoryState
	tx     *memoryState
	logger *zap.Logger
}

// NewStore constructs an empty in-memory store.
func NewStore(opts ...Option) *Store {
	s := &Store{state: newMemoryState(), logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ExportState clones the committed store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromMemoryState(s.state)
}

// ImportState replaces the committed store state with the provided snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = memoryStateFromSnapshot(snapshot)
}

// Begin opens a local transaction.
func (s *Store) Begin(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx != nil {
		return ErrTransactionOpen
	}
	clone := s.state.clone()
	s.tx = &clone
	return nil
}

// Commit publishes the transaction state.
func (s *Store) Commit(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx == nil {
		return domain.ErrNoTransaction
	}
	s.state = *s.tx
	s.tx = nil
	return nil
}

// Rollback discards the transaction state.
func (s *Store) Rollback(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx == nil {
		return domain.ErrNoTransaction
	}
	s.tx = nil
	return nil
}

// InTransaction reports whether a local transaction is open.
func (s *Store) InTransaction() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tx != nil
}

// Save applies the change set. Without an open transaction the writes are
// applied to a clone that replaces the committed state only on success.
func (s *Store) Save(_ context.Context, cs domain.ChangeSet) error {
	return s.mutate(func(state memoryState) error {
		return newWriter(state, cs, s.logger).apply()
	})
}

// ExecuteMapping runs a bulk command against the stored rows.
func (s *Store) ExecuteMapping(_ context.Context, cmd mapping.Command) (int64, error) {
	var affected int64
	err := s.mutate(func(state memoryState) error {
		n, err := executeCommand(state, cmd)
		affected = n
		return err
	})
	if err != nil {
		return 0, err
	}
	s.logger.Debug("mapping command",
		zap.String("type", cmd.Type.Name),
		zap.Stringer("op", cmd.Op),
		zap.Int64("affected", affected))
	return affected, nil
}

func (s *Store) mutate(fn func(memoryState) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	base := s.state
	if s.tx != nil {
		base = *s.tx
	}
	work := base.clone()
	if err := fn(work); err != nil {
		return err
	}
	if s.tx != nil {
		s.tx = &work
		return nil
	}
	s.state = work
	return nil
}

// view runs fn against the working state: the open transaction if any,
// otherwise the committed state.
func (s *Store) view(fn func(memoryState)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.tx != nil {
		fn(*s.tx)
		return
	}
	fn(s.state)
}

// Get returns a copy of the row stored under key.
func (s *Store) Get(typeName string, key identity.Key) (Row, bool) {
	var (
		row Row
		ok  bool
	)
	s.view(func(state memoryState) {
		var r Row
		r, ok = state.tables[typeName][key.String()]
		if ok {
			row = r.clone()
		}
	})
	return row, ok
}

// Rows returns copies of every row of a type ordered by identity.
func (s *Store) Rows(typeName string) []Row {
	var out []Row
	s.view(func(state memoryState) {
		t := state.tables[typeName]
		for _, k := range sortedRowKeys(t) {
			out = append(out, t[k].clone())
		}
	})
	return out
}

// Count returns the number of rows stored for a type.
func (s *Store) Count(typeName string) int {
	var n int
	s.view(func(state memoryState) { n = len(state.tables[typeName]) })
	return n
}

// Load copies the row stored under key into obj through the attribute
// setters of desc. Attributes without a setter are left untouched.
func (s *Store) Load(_ context.Context, desc *domain.TypeDescriptor, key identity.Key, obj any) error {
	row, ok := s.Get(desc.Name, key)
	if !ok {
		return domain.NotFoundError{Type: desc.Name, Identity: key.String()}
	}
	for _, attr := range desc.Attributes {
		if attr.Set == nil || attr.Derived {
			continue
		}
		if v, ok := row[attr.Name]; ok {
			attr.Set(obj, v)
		}
	}
	return nil
}

func rowIdentity(desc *domain.TypeDescriptor, row Row) (identity.Key, error) {
	var key identity.Key
	for _, name := range desc.Identity {
		v, ok := row[name]
		if !ok || v == nil {
			return identity.Key{}, fmt.Errorf("%s.%s: %w", desc.Name, name, domain.ErrMissingIdentity)
		}
		if members, ok := v.([]any); ok {
			key.Append(members...)
			continue
		}
		key.Append(v)
	}
	return key, nil
}
