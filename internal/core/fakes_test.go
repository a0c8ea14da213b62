package core

import (
	"context"
	"sync"
	"time"

	"trackcore/pkg/domain"
)

// recordingStorage captures change sets and assigns generated keys.
type recordingStorage struct {
	mu        sync.Mutex
	next      int64
	saves     []domain.ChangeSet
	begins    int
	commits   int
	rollbacks int
	saveErr   error
	beginErr  error
	// probe runs inside Save while the change set callbacks are live.
	probe func(cs domain.ChangeSet)
}

var _ domain.Storage = (*recordingStorage)(nil)

func (s *recordingStorage) Begin(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.beginErr != nil {
		return s.beginErr
	}
	s.begins++
	return nil
}

func (s *recordingStorage) Commit(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commits++
	return nil
}

func (s *recordingStorage) Rollback(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rollbacks++
	return nil
}

func (s *recordingStorage) Save(_ context.Context, cs domain.ChangeSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	for _, e := range cs.Added {
		if !e.Type.GeneratedIdentity {
			continue
		}
		attr, _ := e.Type.Attribute(e.Type.Identity[0])
		s.next++
		attr.Set(e.Object, s.next)
	}
	if s.probe != nil {
		s.probe(cs)
	}
	s.saves = append(s.saves, cs)
	return nil
}

func (s *recordingStorage) last() domain.ChangeSet {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.saves) == 0 {
		return domain.ChangeSet{}
	}
	return s.saves[len(s.saves)-1]
}

func (s *recordingStorage) saveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saves)
}

type metricsCall struct {
	op      string
	success bool
}

type captureMetricsRecorder struct {
	mu     sync.Mutex
	calls  []metricsCall
	cycles []BucketCounts
}

func (c *captureMetricsRecorder) Observe(_ context.Context, op string, success bool, _ time.Duration) {
	c.mu.Lock()
	c.calls = append(c.calls, metricsCall{op: op, success: success})
	c.mu.Unlock()
}

func (c *captureMetricsRecorder) ObserveCycle(_ context.Context, counts BucketCounts) {
	c.mu.Lock()
	c.cycles = append(c.cycles, counts)
	c.mu.Unlock()
}

func (c *captureMetricsRecorder) has(op string, success bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, call := range c.calls {
		if call.op == op && call.success == success {
			return true
		}
	}
	return false
}

type spanRecord struct {
	op  string
	err error
}

type captureTracer struct {
	mu    sync.Mutex
	ended []spanRecord
}

func (c *captureTracer) Start(ctx context.Context, op string) (context.Context, TraceSpan) {
	return ctx, &captureSpan{tracer: c, op: op}
}

func (c *captureTracer) ops() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.ended))
	for _, r := range c.ended {
		out = append(out, r.op)
	}
	return out
}

type captureSpan struct {
	tracer *captureTracer
	op     string
}

func (s *captureSpan) End(err error) {
	s.tracer.mu.Lock()
	s.tracer.ended = append(s.tracer.ended, spanRecord{op: s.op, err: err})
	s.tracer.mu.Unlock()
}

type captureJournal struct {
	reports []Report
	err     error
}

func (j *captureJournal) Record(_ context.Context, r Report) error {
	if j.err != nil {
		return j.err
	}
	j.reports = append(j.reports, r)
	return nil
}
