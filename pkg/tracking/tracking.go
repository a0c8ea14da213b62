// Package tracking is the public entry point to the change-tracking unit of
// work. It re-exports the core types and wires configured storage, journal
// and metrics into a ready Session.
package tracking

import (
	"trackcore/internal/core"
	"trackcore/internal/mapping"
	"trackcore/pkg/domain"
	"trackcore/pkg/identity"
)

// Unit of work aliases.
type (
	// UnitOfWork is an alias of core.UnitOfWork.
	UnitOfWork = core.UnitOfWork
	// Option is an alias of core.Option.
	Option = core.Option
	// Cell is an alias of core.Cell, the tracking record of one object.
	Cell = core.Cell
	// Status is an alias of core.Status.
	Status = core.Status
	// Report is an alias of core.Report describing one save cycle.
	Report = core.Report
	// ReportEntry is an alias of core.ReportEntry.
	ReportEntry = core.ReportEntry
	// BucketCounts is an alias of core.BucketCounts.
	BucketCounts = core.BucketCounts
	// ModelRegistry is an alias of core.ModelRegistry.
	ModelRegistry = core.ModelRegistry
	// Journal is an alias of core.Journal.
	Journal = core.Journal
	// MetricsRecorder is an alias of core.MetricsRecorder.
	MetricsRecorder = core.MetricsRecorder
	// Tracer is an alias of core.Tracer.
	Tracer = core.Tracer
	// AssociationLoader is an alias of core.AssociationLoader.
	AssociationLoader = core.AssociationLoader
)

// Metadata and storage aliases.
type (
	Model          = domain.Model
	ModelBuilder   = domain.ModelBuilder
	ModelSource    = domain.ModelSource
	TypeDescriptor = domain.TypeDescriptor
	Attribute      = domain.Attribute
	Association    = domain.Association
	Storage        = domain.Storage
	StorageFactory = domain.StorageFactory
	ChangeSet      = domain.ChangeSet
	Entry          = domain.Entry
	Interceptable  = domain.Interceptable
	// Key is an alias of identity.Key.
	Key = identity.Key
)

// Bulk command aliases.
type (
	MappingBuilder   = mapping.Builder
	MappingCommand   = mapping.Command
	MappingCallbacks = mapping.Callbacks
	MappingExecutor  = mapping.Executor
	Operator         = mapping.Operator
)

// Tracking states.
const (
	StatusAdded     = core.StatusAdded
	StatusUnchanged = core.StatusUnchanged
	StatusModified  = core.StatusModified
	StatusDeleted   = core.StatusDeleted
)

// Filter operators.
const (
	Eq        = mapping.Eq
	NotEq     = mapping.NotEq
	Less      = mapping.Less
	LessEq    = mapping.LessEq
	Greater   = mapping.Greater
	GreaterEq = mapping.GreaterEq
	In        = mapping.In
	Contains  = mapping.Contains
)

// Sentinel errors.
var (
	ErrUnregisteredType          = domain.ErrUnregisteredType
	ErrIdentityMismatch          = domain.ErrIdentityMismatch
	ErrMissingIdentity           = domain.ErrMissingIdentity
	ErrMultipleLocalTransactions = domain.ErrMultipleLocalTransactions
	ErrDuplicateInsertion        = domain.ErrDuplicateInsertion
	ErrConcurrencyConflict       = domain.ErrConcurrencyConflict
	ErrNotFound                  = domain.ErrNotFound
	ErrNoTransaction             = domain.ErrNoTransaction
)

// Options.
var (
	WithRegistry             = core.WithRegistry
	WithStorage              = core.WithStorage
	WithStorages             = core.WithStorages
	WithStorageFactory       = core.WithStorageFactory
	WithAmbientTransaction   = core.WithAmbientTransaction
	WithLogger               = core.WithLogger
	WithMetrics              = core.WithMetrics
	WithTracer               = core.WithTracer
	WithJournal              = core.WithJournal
	WithAssociationLoader    = core.WithAssociationLoader
	WithClock                = core.WithClock
	NewModelRegistry         = core.NewModelRegistry
	NewModelBuilder          = domain.NewModelBuilder
	NewExpvarMetricsRecorder = core.NewExpvarMetricsRecorder
	NewJSONTracer            = core.NewJSONTracer
)

// New builds a unit of work for the model produced by src.
func New(src ModelSource, opts ...Option) (*UnitOfWork, error) {
	return core.New(src, opts...)
}

// NewForModel builds a unit of work over an already built model.
func NewForModel(m *Model, opts ...Option) *UnitOfWork {
	return core.NewForModel(m, opts...)
}

// NewKey builds an identity key from ordered members.
func NewKey(members ...any) Key { return identity.New(members...) }

// Into starts a bulk command against the type described by desc.
func Into(desc *TypeDescriptor) *MappingBuilder { return mapping.Into(desc) }
