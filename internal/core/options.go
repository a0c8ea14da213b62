package core

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"trackcore/pkg/domain"
)

// Option configures a UnitOfWork.
type Option func(*options)

type options struct {
	registry *ModelRegistry
	factory  domain.StorageFactory
	ambient  bool
	logger   *zap.Logger
	metrics  MetricsRecorder
	tracer   Tracer
	journal  Journal
	loader   AssociationLoader
	now      func() time.Time
}

func defaultOptions() options {
	return options{
		registry: DefaultRegistry,
		logger:   zap.NewNop(),
		metrics:  noopMetrics{},
		tracer:   noopTracer{},
		now:      time.Now,
	}
}

// WithRegistry resolves models through r instead of DefaultRegistry.
func WithRegistry(r *ModelRegistry) Option {
	return func(o *options) {
		if r != nil {
			o.registry = r
		}
	}
}

// WithStorageFactory sets the factory used to open storage collaborators on
// first use.
func WithStorageFactory(f domain.StorageFactory) Option {
	return func(o *options) { o.factory = f }
}

// WithStorage uses st as the default storage collaborator.
func WithStorage(st domain.Storage) Option {
	return WithStorages(map[string]domain.Storage{"": st})
}

// WithStorages registers fixed storage collaborators by name.
func WithStorages(named map[string]domain.Storage) Option {
	fixed := make(map[string]domain.Storage, len(named))
	for k, v := range named {
		fixed[k] = v
	}
	return WithStorageFactory(func(_ context.Context, name string) (domain.Storage, error) {
		st, ok := fixed[name]
		if !ok {
			return nil, fmt.Errorf("storage %q not configured", name)
		}
		return st, nil
	})
}

// WithAmbientTransaction declares that an enclosing transaction coordinates
// every storage collaborator, lifting the single local transaction limit.
func WithAmbientTransaction() Option {
	return func(o *options) { o.ambient = true }
}

// WithLogger sets the structured logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(o *options) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithTracer sets the tracer.
func WithTracer(t Tracer) Option {
	return func(o *options) {
		if t != nil {
			o.tracer = t
		}
	}
}

// WithJournal archives every successful save cycle.
func WithJournal(j Journal) Option {
	return func(o *options) { o.journal = j }
}

// WithAssociationLoader serves on-demand loads requested by interceptable
// objects.
func WithAssociationLoader(l AssociationLoader) Option {
	return func(o *options) { o.loader = l }
}

// WithClock overrides the time source used for reports.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}
