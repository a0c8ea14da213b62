// Command trackdemo runs a short Category/Article session against the
// configured storage and prints how each save cycle was classified.
//
// Configuration comes from TRACKCORE_* environment variables; flags override
// the most common settings.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"go.uber.org/zap"

	"trackcore/internal/config"
	"trackcore/internal/logging"
	"trackcore/internal/testmodel"
	"trackcore/pkg/tracking"
)

var exitFunc = os.Exit

func main() {
	code := cli(context.Background(), os.Args[1:], os.Stdout, os.Stderr)
	exitFunc(code)
}

func cli(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("trackdemo", flag.ContinueOnError)
	fs.SetOutput(stderr)
	storageDriver := fs.String("storage", "", "storage driver override (memory|sqlite|postgres)")
	sqlitePath := fs.String("sqlite", "", "sqlite database path override")
	journalOn := fs.Bool("journal", false, "archive save cycles to the configured blob store")
	metrics := fs.String("metrics", "", "metrics exporter override (none|expvar|prometheus)")
	logLevel := fs.String("log-level", "", "log level override")
	asJSON := fs.Bool("json", false, "print full cycle reports as JSON")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "config: %v\n", err)
		return 1
	}
	if *storageDriver != "" {
		cfg.Storage.Driver = *storageDriver
	}
	if *sqlitePath != "" {
		cfg.Storage.SQLitePath = *sqlitePath
	}
	if *journalOn {
		cfg.Journal.Enabled = true
	}
	if *metrics != "" {
		cfg.Metrics.Exporter = *metrics
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "logging: %v\n", err)
		return 1
	}
	if err := run(ctx, cfg, logger, stdout, *asJSON); err != nil {
		_, _ = fmt.Fprintf(stderr, "trackdemo failed: %v\n", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger, out io.Writer, asJSON bool) error {
	s, err := tracking.Open(ctx, cfg, testmodel.Source{}, logger)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	p := &printer{out: out, json: asJSON}

	cat := &testmodel.Category{Name: "news"}
	one := &testmodel.Article{Title: "one", Version: 1, Category: cat}
	two := &testmodel.Article{Title: "two", Version: 1, Category: cat}
	two.Tags = []*testmodel.ArticleTag{{Article: two, Tag: &testmodel.Tag{Name: "go", Label: "Go"}}}
	cat.Articles = []*testmodel.Article{one, two}
	if _, err := s.Add(cat); err != nil {
		return err
	}
	if err := p.save(ctx, s, "add category with two articles"); err != nil {
		return err
	}

	one.Title = "one, revised"
	if err := p.save(ctx, s, "edit article title"); err != nil {
		return err
	}

	if err := p.save(ctx, s, "save without changes"); err != nil {
		return err
	}

	n, err := tracking.Into(testmodel.TagDescriptor()).
		Set("Label", "Golang").
		Where("Name", tracking.Eq, "go").
		Commit(ctx, s.Storage, tracking.MappingCallbacks{})
	if err != nil {
		return fmt.Errorf("bulk update: %w", err)
	}
	p.printf("bulk update tag labels: %d row(s)\n", n)

	if err := s.Remove(cat); err != nil {
		return err
	}
	if err := p.save(ctx, s, "remove category"); err != nil {
		return err
	}

	if s.Journal != nil {
		entries, err := s.Journal.Entries(ctx)
		if err != nil {
			return err
		}
		p.printf("journal: %d record(s) under %s/\n", len(entries), s.Journal.Prefix())
	}
	if s.Expvar != nil {
		snap := s.Expvar.Snapshot()
		p.printf("metrics: %d cycle(s), %d object(s) written\n", snap.Cycles, snap.Buckets.Total())
	}
	if s.Registry != nil {
		families, err := s.Registry.Gather()
		if err != nil {
			return err
		}
		p.printf("metrics: %d prometheus families\n", len(families))
	}
	return p.err
}

type printer struct {
	out   io.Writer
	json  bool
	cycle int
	err   error
}

func (p *printer) printf(format string, args ...any) {
	if p.err != nil {
		return
	}
	_, p.err = fmt.Fprintf(p.out, format, args...)
}

func (p *printer) save(ctx context.Context, s *tracking.Session, label string) error {
	report, err := s.SaveChanges(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", label, err)
	}
	p.cycle++
	c := report.Counts()
	p.printf("cycle %d (%s): added=%d added_companions=%d modified=%d deleted_companions=%d deleted=%d\n",
		p.cycle, label, c.Added, c.AddedCompanions, c.Modified, c.DeletedCompanions, c.Deleted)
	if p.json {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return err
		}
		p.printf("%s\n", data)
		return p.err
	}
	buckets := []struct {
		name    string
		entries []tracking.ReportEntry
	}{
		{"added", report.Added},
		{"added companion", report.AddedCompanions},
		{"modified", report.Modified},
		{"deleted companion", report.DeletedCompanions},
		{"deleted", report.Deleted},
	}
	for _, b := range buckets {
		for _, e := range b.entries {
			p.printf("  %-17s %s %s%s\n", b.name, e.Type, e.Identity, changedNames(e))
		}
	}
	return p.err
}

func changedNames(e tracking.ReportEntry) string {
	values, err := e.Changes.Values()
	if err != nil || len(values) == 0 {
		return ""
	}
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)
	return " (" + strings.Join(names, ", ") + ")"
}
