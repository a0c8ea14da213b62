package tracking

import (
	"context"
	"expvar"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"trackcore/internal/blob"
	"trackcore/internal/config"
	"trackcore/internal/core"
	"trackcore/internal/journal"
	"trackcore/internal/storage"
)

// Backend is a storage collaborator that also executes bulk commands.
type Backend = storage.Backend

// Session is a unit of work wired to the configured collaborators.
type Session struct {
	*UnitOfWork

	// Storage is the default storage collaborator.
	Storage Backend
	// Journal is nil unless journaling is enabled.
	Journal *journal.Journal
	// Registry holds the collectors when the prometheus exporter is selected.
	Registry *prometheus.Registry
	// Expvar is set when the expvar exporter is selected.
	Expvar *core.ExpvarMetricsRecorder

	logger *zap.Logger
}

// Open builds a Session from cfg. Extra options are applied after the
// configured ones and can override them.
func Open(ctx context.Context, cfg config.Config, src ModelSource, logger *zap.Logger, opts ...Option) (*Session, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	backend, err := storage.Open(ctx, cfg.Storage, logger)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	s := &Session{Storage: backend, logger: logger}
	base := []Option{core.WithStorage(backend), core.WithLogger(logger)}

	if cfg.Journal.Enabled {
		store, err := blob.Open(ctx, cfg.Blob)
		if err != nil {
			_ = storage.Close(backend)
			return nil, fmt.Errorf("open journal blob store: %w", err)
		}
		s.Journal = journal.New(store, journal.WithPrefix(cfg.Journal.Prefix), journal.WithLogger(logger))
		base = append(base, core.WithJournal(s.Journal))
	}

	switch cfg.Metrics.Exporter {
	case config.MetricsExpvar:
		name := cfg.Metrics.Namespace + "_uow"
		if expvar.Get(name) != nil {
			// Published names are process-global; later sessions get a
			// generated one.
			name = ""
		}
		s.Expvar = core.NewExpvarMetricsRecorder(name)
		base = append(base, core.WithMetrics(s.Expvar))
	case config.MetricsPrometheus:
		s.Registry = prometheus.NewRegistry()
		base = append(base, core.WithMetrics(core.NewPrometheusMetricsRecorder(s.Registry, cfg.Metrics.Namespace)))
	}

	u, err := core.New(src, append(base, opts...)...)
	if err != nil {
		_ = storage.Close(backend)
		return nil, err
	}
	s.UnitOfWork = u
	logger.Debug("tracking session opened",
		zap.String("storage", cfg.Storage.Driver),
		zap.Bool("journal", cfg.Journal.Enabled),
		zap.String("metrics", cfg.Metrics.Exporter))
	return s, nil
}

// Close releases the storage collaborator and flushes the logger.
func (s *Session) Close() error {
	err := storage.Close(s.Storage)
	_ = s.logger.Sync()
	return err
}
