package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type recordingFatal struct{ msg string }

func (r *recordingFatal) Fatalf(format string, args ...any) { r.msg = fmt.Sprintf(format, args...) }

func TestPredicates(t *testing.T) {
	cases := []struct {
		pred func(string) bool
		in   string
		want bool
	}{
		{DomainImportForbidden, "trackcore/pkg/domain", true},
		{DomainImportForbidden, "example.com/mod/pkg/domain@v1", true},
		{DomainImportForbidden, "trackcore/pkg/domainx", false},
		{InternalImportForbidden, "trackcore/internal/core", true},
		{InternalImportForbidden, "trackcore/pkg/identity", false},
		{InfraImportForbidden, "trackcore/internal/infra/persistence/memory", true},
		{InfraImportForbidden, "trackcore/internal/infrastructure", false},
	}
	for _, c := range cases {
		if got := c.pred(c.in); got != c.want {
			t.Fatalf("predicate(%q)=%v want %v", c.in, got, c.want)
		}
	}
}

func TestDirectImportViolations(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"a.go":      "package tmp\nimport \"trackcore/internal/core\"\n",
		"b.go":      "package tmp\nimport \"fmt\"\nfunc X() { fmt.Println() }\n",
		"a_test.go": "package tmp\nimport \"trackcore/internal/infra\"\n",
	}
	for name, src := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(src), 0o600); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	viols, err := directImportViolations(dir, InternalImportForbidden)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(viols) != 1 || viols[0] != "trackcore/internal/core (in a.go)" {
		t.Fatalf("unexpected violations %v", viols)
	}

	if err := os.WriteFile(filepath.Join(dir, "broken.go"), []byte("package"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := directImportViolations(dir, InternalImportForbidden); err == nil {
		t.Fatalf("expected parse error")
	}
	if _, err := directImportViolations(filepath.Join(dir, "missing"), InternalImportForbidden); err == nil {
		t.Fatalf("expected read error")
	}
}

func TestFailHelpers(t *testing.T) {
	rec := &recordingFatal{}
	failIfDirectViolations(rec, "reason", nil)
	failIfTransitiveViolations(rec, "reason", nil)
	if rec.msg != "" {
		t.Fatalf("no violations must not fail: %q", rec.msg)
	}
	failIfDirectViolations(rec, "core stays abstract", []string{"x (in a.go)"})
	if !strings.Contains(rec.msg, "core stays abstract") || !strings.Contains(rec.msg, "x (in a.go)") {
		t.Fatalf("unexpected message %q", rec.msg)
	}
	failIfTransitiveViolations(rec, "deps", []string{"y"})
	if !strings.HasPrefix(rec.msg, "forbidden transitive dependency detected (deps)") {
		t.Fatalf("unexpected message %q", rec.msg)
	}
}

func TestPrefixHelpers(t *testing.T) {
	if !underPrefix("trackcore/internal/blob", "trackcore/internal/blob") || !underPrefix("trackcore/internal/blob/core", "trackcore/internal/blob") {
		t.Fatalf("expected prefix match")
	}
	if underPrefix("trackcore/internal/blobby", "trackcore/internal/blob") {
		t.Fatalf("sibling must not match")
	}
	if !anyPrefix("a/b/c", []string{"x", "a/b"}) || anyPrefix("a/bc", []string{"a/b"}) {
		t.Fatalf("anyPrefix mismatch")
	}
}

func TestLoadDepsOfIdentity(t *testing.T) {
	deps, err := loadDeps("trackcore/pkg/identity")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	joined := strings.Join(deps, "\n")
	if !strings.Contains(joined, "github.com/cespare/xxhash/v2") {
		t.Fatalf("expected xxhash in dependency closure:\n%s", joined)
	}
	AssertNoTransitiveDependency(t, "trackcore/pkg/identity", ModuleInternalForbidden("trackcore"), "identity keys are a leaf")
	if !ModuleInternalForbidden("trackcore")("trackcore/internal/core") || ModuleInternalForbidden("trackcore")("internal/abi") {
		t.Fatalf("ModuleInternalForbidden mismatch")
	}
}
