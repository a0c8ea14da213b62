package domain

import (
	"context"

	"trackcore/pkg/identity"
)

// Entry is one tracked object handed to a storage collaborator.
type Entry struct {
	Object any
	Type   *TypeDescriptor
	// Identity is the key known at classification time. It is zero for
	// objects whose key is generated by the storage or derived from ends
	// that have not been inserted yet; backends recompute it with IdentityOf
	// once earlier writes have run.
	Identity identity.Key
}

// ChangeSet is the classified output of one save cycle for one storage
// collaborator. Backends apply the buckets in field order.
type ChangeSet struct {
	Model             *Model
	Added             []Entry
	AddedCompanions   []Entry
	Modified          []Entry
	DeletedCompanions []Entry
	Deleted           []Entry
	// Changed reports whether attribute was modified on obj this cycle.
	Changed func(obj any, attribute string) bool
	// Original returns attribute's last persisted value for obj.
	Original func(obj any, attribute string) (any, bool)
}

// Len returns the number of entries across all buckets.
func (cs ChangeSet) Len() int {
	return len(cs.Added) + len(cs.AddedCompanions) + len(cs.Modified) + len(cs.DeletedCompanions) + len(cs.Deleted)
}

// Storage is the storage collaborator contract. Implementations perform all
// physical writes and own local transaction demarcation.
type Storage interface {
	Begin(ctx context.Context) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	// Save applies the change set. Without an open transaction the
	// implementation applies it atomically on its own.
	Save(ctx context.Context, cs ChangeSet) error
}

// StorageFactory opens the storage collaborator registered under name; the
// empty name selects the default one.
type StorageFactory func(ctx context.Context, name string) (Storage, error)

// Interceptable is implemented by tracked types that expose write
// interception and on-demand association loading hooks. A tracking cell
// registers itself against both when present.
type Interceptable interface {
	InterceptWrites(notify func(attribute string))
	InterceptLoads(load func(association string) error)
}
