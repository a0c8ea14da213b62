package core

import (
	"fmt"
	"reflect"
	"sync"

	"trackcore/pkg/domain"
)

// ModelRegistry builds each model source's model once and shares it between
// every UnitOfWork created from that source type.
type ModelRegistry struct {
	mu     sync.RWMutex
	models map[reflect.Type]*domain.Model
}

// DefaultRegistry is the process-wide model cache.
var DefaultRegistry = NewModelRegistry()

// NewModelRegistry returns an empty registry.
func NewModelRegistry() *ModelRegistry {
	return &ModelRegistry{models: make(map[reflect.Type]*domain.Model)}
}

// Resolve returns the cached model for src's type, building it on first use.
func (r *ModelRegistry) Resolve(src domain.ModelSource) (*domain.Model, error) {
	if src == nil {
		return nil, fmt.Errorf("resolve model: nil source")
	}
	t := reflect.TypeOf(src)

	r.mu.RLock()
	m, ok := r.models[t]
	r.mu.RUnlock()
	if ok {
		return m, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.models[t]; ok {
		return m, nil
	}
	b := domain.NewModelBuilder()
	if err := src.DefineModel(b); err != nil {
		return nil, fmt.Errorf("define model %v: %w", t, err)
	}
	m, err := b.Build()
	if err != nil {
		return nil, fmt.Errorf("build model %v: %w", t, err)
	}
	r.models[t] = m
	return m, nil
}

// Len returns the number of cached models.
func (r *ModelRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.models)
}

// Reset drops every cached model.
func (r *ModelRegistry) Reset() {
	r.mu.Lock()
	r.models = make(map[reflect.Type]*domain.Model)
	r.mu.Unlock()
}
