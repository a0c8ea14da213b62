package core

import (
	"context"
	"time"

	"trackcore/pkg/domain"
)

// MetricsRecorder receives operation outcomes and per-cycle bucket sizes.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
	ObserveCycle(ctx context.Context, counts BucketCounts)
}

// Tracer opens spans around save phases and transaction calls.
type Tracer interface {
	Start(ctx context.Context, operation string) (context.Context, TraceSpan)
}

// TraceSpan is closed with the outcome of the traced operation.
type TraceSpan interface {
	End(err error)
}

// Journal archives the report of every successful save cycle.
type Journal interface {
	Record(ctx context.Context, report Report) error
}

// AssociationLoader fetches the value of an association on demand. The
// returned value must be assignable through the association's setter.
type AssociationLoader func(ctx context.Context, obj any, association *domain.Association) (any, error)

// BucketCounts holds the classification sizes of one save cycle.
type BucketCounts struct {
	Added             int `json:"added"`
	AddedCompanions   int `json:"added_companions"`
	Modified          int `json:"modified"`
	DeletedCompanions int `json:"deleted_companions"`
	Deleted           int `json:"deleted"`
}

// Total sums every bucket.
func (b BucketCounts) Total() int {
	return b.Added + b.AddedCompanions + b.Modified + b.DeletedCompanions + b.Deleted
}

// ReportEntry describes one written object.
type ReportEntry struct {
	Type     string               `json:"type"`
	Identity string               `json:"identity,omitempty"`
	Storage  string               `json:"storage,omitempty"`
	Changes  domain.ChangePayload `json:"changes"`
}

// Report is the outcome of one SaveChanges call.
type Report struct {
	StartedAt         time.Time     `json:"started_at"`
	Duration          time.Duration `json:"duration_ns"`
	Added             []ReportEntry `json:"added,omitempty"`
	AddedCompanions   []ReportEntry `json:"added_companions,omitempty"`
	Modified          []ReportEntry `json:"modified,omitempty"`
	DeletedCompanions []ReportEntry `json:"deleted_companions,omitempty"`
	Deleted           []ReportEntry `json:"deleted,omitempty"`
}

// Counts returns the bucket sizes.
func (r Report) Counts() BucketCounts {
	return BucketCounts{
		Added:             len(r.Added),
		AddedCompanions:   len(r.AddedCompanions),
		Modified:          len(r.Modified),
		DeletedCompanions: len(r.DeletedCompanions),
		Deleted:           len(r.Deleted),
	}
}

// Empty reports whether the cycle wrote nothing.
func (r Report) Empty() bool { return r.Counts().Total() == 0 }

type noopMetrics struct{}

func (noopMetrics) Observe(context.Context, string, bool, time.Duration) {}
func (noopMetrics) ObserveCycle(context.Context, BucketCounts)          {}

type noopTracer struct{}

func (noopTracer) Start(ctx context.Context, _ string) (context.Context, TraceSpan) {
	return ctx, noopSpan{}
}

type noopSpan struct{}

func (noopSpan) End(error) {}
