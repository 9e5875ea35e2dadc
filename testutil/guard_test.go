package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNonStandardLibrary(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"fmt", false},
		{"encoding/json", false},
		{"casegrid/pkg/domain", true},
		{"github.com/xuri/excelize/v2", true},
		{"golang.org/x/sync/errgroup", true},
	}
	for _, c := range cases {
		if got := NonStandardLibrary(c.in); got != c.want {
			t.Fatalf("NonStandardLibrary(%q)=%v want %v", c.in, got, c.want)
		}
	}
}

func TestModuleImport(t *testing.T) {
	pred := ModuleImport("/internal/core/")
	cases := []struct {
		in   string
		want bool
	}{
		{"casegrid/internal/core", true},
		{"casegrid/internal/core/sub", true},
		{"casegrid/internal/corelike", false},
		{"other/internal/core", false},
	}
	for _, c := range cases {
		if got := pred(c.in); got != c.want {
			t.Fatalf("ModuleImport(%q)=%v want %v", c.in, got, c.want)
		}
	}
	combined := AnyOf(ModuleImport("internal/core"), ModuleImport("cmd"))
	if !combined("casegrid/cmd/casegrid") || combined("casegrid/pkg/domain") {
		t.Fatalf("AnyOf did not combine predicates")
	}
}

func writeFile(t *testing.T, dir, name, src string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(src), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestAssertNoDirectImportsAllowsCleanPackage(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "x.go", "package tmp\nimport \"fmt\"\nfunc X(){fmt.Println(1)}")
	writeFile(t, dir, "x_test.go", "package tmp\nimport \"casegrid/internal/core\"\nvar _ = core.X")
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	AssertNoDirectImports(t, dir, NonStandardLibrary, "test files and directories are ignored")
}

type recordingFatal struct{ msg string }

func (r *recordingFatal) Fatalf(format string, args ...any) { r.msg = fmt.Sprintf(format, args...) }

func TestDirectImportViolationsReported(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "bad.go", "package tmp\nimport (\n\t\"fmt\"\n\t\"casegrid/internal/core\"\n)\nvar _ = fmt.Sprint\nvar _ = core.X")
	viols, err := directImportViolations(dir, ModuleImport("internal/core"))
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(viols) != 1 || !strings.Contains(viols[0], "bad.go") {
		t.Fatalf("unexpected violations %v", viols)
	}
	rec := &recordingFatal{}
	failIfDirectViolations(rec, "no core", viols)
	if !strings.Contains(rec.msg, "no core") || !strings.Contains(rec.msg, "casegrid/internal/core") {
		t.Fatalf("unexpected failure message %q", rec.msg)
	}
}

func TestDirectImportViolationsParseError(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "broken.go", "package")
	if _, err := directImportViolations(dir, NonStandardLibrary); err == nil {
		t.Fatalf("expected parse error")
	}
	if _, err := directImportViolations(filepath.Join(dir, "missing"), NonStandardLibrary); err == nil {
		t.Fatalf("expected read error")
	}
}
