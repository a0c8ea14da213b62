// Package journal archives save-cycle reports as JSON blobs. Each record is
// stored under <prefix>/<yyyy>/<mm>/<dd>/<id>.json where id is a UUIDv7, so
// lexical key order matches recording order.
package journal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"trackcore/internal/blob"
	"trackcore/internal/core"
)

var _ core.Journal = (*Journal)(nil)

// ErrRecordNotFound is returned by Lookup for unknown cycle ids.
var ErrRecordNotFound = errors.New("journal: record not found")

const contentType = "application/json"

// Record is one archived save cycle.
type Record struct {
	ID         uuid.UUID         `json:"id"`
	RecordedAt time.Time         `json:"recorded_at"`
	Counts     core.BucketCounts `json:"counts"`
	Report     core.Report       `json:"report"`
}

// Journal writes records to a blob store.
type Journal struct {
	store  blob.Store
	prefix string
	logger *zap.Logger
	now    func() time.Time
	newID  func() (uuid.UUID, error)
}

// Option configures a Journal.
type Option func(*Journal)

// WithPrefix sets the key prefix. Defaults to "journal".
func WithPrefix(prefix string) Option {
	return func(j *Journal) {
		if p := strings.Trim(prefix, "/"); p != "" {
			j.prefix = p
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(j *Journal) {
		if l != nil {
			j.logger = l
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(j *Journal) {
		if now != nil {
			j.now = now
		}
	}
}

// New returns a journal writing into store.
func New(store blob.Store, opts ...Option) *Journal {
	j := &Journal{
		store:  store,
		prefix: "journal",
		logger: zap.NewNop(),
		now:    time.Now,
		newID:  uuid.NewV7,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Prefix returns the key prefix records are written under.
func (j *Journal) Prefix() string { return j.prefix }

// Record archives report. It implements core.Journal.
func (j *Journal) Record(ctx context.Context, report core.Report) error {
	id, err := j.newID()
	if err != nil {
		return fmt.Errorf("journal: new record id: %w", err)
	}
	rec := Record{
		ID:         id,
		RecordedAt: j.now().UTC(),
		Counts:     report.Counts(),
		Report:     report,
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("journal: encode record %s: %w", id, err)
	}
	key := j.keyFor(rec)
	if _, err := j.store.Put(ctx, key, bytes.NewReader(data), blob.PutOptions{
		ContentType: contentType,
		Metadata:    map[string]string{"cycle-id": id.String()},
	}); err != nil {
		return fmt.Errorf("journal: write %s: %w", key, err)
	}
	j.logger.Debug("save cycle journaled",
		zap.String("key", key),
		zap.Int("objects", rec.Counts.Total()))
	return nil
}

func (j *Journal) keyFor(rec Record) string {
	return path.Join(j.prefix, rec.RecordedAt.Format("2006/01/02"), rec.ID.String()+".json")
}

// Entries returns every record in recording order.
func (j *Journal) Entries(ctx context.Context) ([]Record, error) {
	return j.list(ctx, j.prefix+"/")
}

// Day returns the records written on the UTC calendar day of t.
func (j *Journal) Day(ctx context.Context, t time.Time) ([]Record, error) {
	return j.list(ctx, path.Join(j.prefix, t.UTC().Format("2006/01/02"))+"/")
}

// Lookup returns the record with the given cycle id.
func (j *Journal) Lookup(ctx context.Context, id uuid.UUID) (Record, error) {
	infos, err := j.store.List(ctx, j.prefix+"/")
	if err != nil {
		return Record{}, fmt.Errorf("journal: list: %w", err)
	}
	suffix := "/" + id.String() + ".json"
	for _, info := range infos {
		if strings.HasSuffix(info.Key, suffix) {
			return j.read(ctx, info.Key)
		}
	}
	return Record{}, fmt.Errorf("%w: %s", ErrRecordNotFound, id)
}

func (j *Journal) list(ctx context.Context, prefix string) ([]Record, error) {
	infos, err := j.store.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("journal: list: %w", err)
	}
	out := make([]Record, 0, len(infos))
	for _, info := range infos {
		if !strings.HasSuffix(info.Key, ".json") {
			continue
		}
		rec, err := j.read(ctx, info.Key)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (j *Journal) read(ctx context.Context, key string) (Record, error) {
	_, rc, err := j.store.Get(ctx, key)
	if err != nil {
		return Record{}, fmt.Errorf("journal: read %s: %w", key, err)
	}
	defer func() { _ = rc.Close() }()
	var rec Record
	if err := json.NewDecoder(rc).Decode(&rec); err != nil {
		return Record{}, fmt.Errorf("journal: decode %s: %w", key, err)
	}
	return rec, nil
}
