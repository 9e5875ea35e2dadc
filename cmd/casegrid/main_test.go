package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"casegrid/internal/workbook"
	"casegrid/pkg/domain"
)

func cliEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("CASEGRID_CONFIG", "")
	t.Setenv("CASEGRID_STORAGE_DRIVER", "sqlite")
	t.Setenv("CASEGRID_SQLITE_PATH", filepath.Join(dir, "casegrid.db"))
	t.Setenv("CASEGRID_BLOB_DRIVER", "fs")
	t.Setenv("CASEGRID_BLOB_FS_ROOT", filepath.Join(dir, "artifacts"))
	t.Setenv("CASEGRID_LOG_MODE", "off")
	t.Setenv("CASEGRID_WORKERS", "false")
	t.Setenv("CASEGRID_METRICS", "prometheus")
	return dir
}

func writeWorkbook(t *testing.T, dir string) string {
	t.Helper()
	ds := domain.Dataset{Headers: domain.SheetHeaders{
		Basic:    []string{"Name", "Age"},
		Clinical: []string{"Fever", "Cough"},
		Diet:     []string{"Rice"},
	}}
	for i := 0; i < 3; i++ {
		r := domain.NewGridRow(2, 2, 1)
		r.IsPatient = "1"
		r.BasicInfo[0] = fmt.Sprintf("case-%02d", i)
		r.BasicInfo[1] = fmt.Sprint(30 + i)
		r.ClinicalSymptoms[0] = "0"
		r.DietInfo[0] = "1"
		ds.Rows = append(ds.Rows, r)
	}
	ds.Rows[1].ClinicalSymptoms[1] = "7"
	data, err := workbook.Encode(ds, workbook.FormatXLSX)
	if err != nil {
		t.Fatalf("encode workbook: %v", err)
	}
	path := filepath.Join(dir, "line-list.xlsx")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write workbook: %v", err)
	}
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd(&stdout, &stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), err
}

func TestImportExportValidate(t *testing.T) {
	dir := cliEnv(t)
	src := writeWorkbook(t, dir)

	out, err := run(t, "import", src, "--archive")
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if !strings.Contains(out, "imported 3 rows") || !strings.Contains(out, "validation errors: 1") {
		t.Fatalf("unexpected import output:\n%s", out)
	}
	if !strings.Contains(out, "archived source: imports/") {
		t.Fatalf("source was not archived:\n%s", out)
	}

	tsvPath := filepath.Join(dir, "out.tsv")
	if _, err := run(t, "export", "--out", tsvPath, "--format", "tsv"); err != nil {
		t.Fatalf("export: %v", err)
	}
	tsv, err := os.ReadFile(tsvPath)
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	if !strings.Contains(string(tsv), "case-02") {
		t.Fatalf("export lost rows:\n%s", tsv)
	}

	out, err = run(t, "validate")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !strings.Contains(out, "row 1\t") || !strings.Contains(out, "validation errors: 1") {
		t.Fatalf("unexpected validate output:\n%s", out)
	}
	if _, err := run(t, "validate", "--strict"); err == nil {
		t.Fatalf("strict validate should fail with invalid cells")
	}

	out, err = run(t, "export", "--async", "--format", "json")
	if err != nil {
		t.Fatalf("async export: %v", err)
	}
	if !strings.HasPrefix(out, "json\texports/") || !strings.Contains(out, "file://") {
		t.Fatalf("unexpected async export output:\n%s", out)
	}
}

func TestExportWithoutSnapshot(t *testing.T) {
	cliEnv(t)
	_, err := run(t, "export", "--out", filepath.Join(t.TempDir(), "x.xlsx"))
	if !errors.Is(err, errNoSnapshot) {
		t.Fatalf("expected errNoSnapshot, got %v", err)
	}
}

func TestExportRequiresOut(t *testing.T) {
	cliEnv(t)
	if _, err := run(t, "export"); err == nil || !strings.Contains(err.Error(), "--out") {
		t.Fatalf("expected --out error, got %v", err)
	}
}

func TestFlagsOverrideConfig(t *testing.T) {
	dir := cliEnv(t)
	yamlPath := filepath.Join(dir, "casegrid.yaml")
	if err := os.WriteFile(yamlPath, []byte("owner: from-file\nstorage:\n  driver: memory\n"), 0o600); err != nil {
		t.Fatalf("write yaml: %v", err)
	}
	flags := &globalFlags{configPath: yamlPath, owner: "from-flag", storage: "sqlite"}
	cfg, err := loadConfig(flags)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Owner != "from-flag" || cfg.Storage.Driver != "sqlite" {
		t.Fatalf("flags should win: %+v", cfg)
	}
	if _, err := loadConfig(&globalFlags{storage: "mongo"}); err == nil {
		t.Fatalf("invalid flag value should fail validation")
	}
}

func TestImportRejectsMissingFile(t *testing.T) {
	cliEnv(t)
	if _, err := run(t, "import", filepath.Join(t.TempDir(), "missing.xlsx")); err == nil {
		t.Fatalf("expected read error")
	}
}

func TestErrorKeyOrdering(t *testing.T) {
	keys := []string{"10_basicInfo_basic_0", "2_dietInfo_diet_0", "2_basicInfo_basic_1"}
	if !lessErrorKey(keys[2], keys[1]) || !lessErrorKey(keys[1], keys[0]) {
		t.Fatalf("rows should sort numerically, then by column")
	}
	row, col := splitErrorKey(keys[0])
	if row != "10" || col != "basicInfo_basic_0" {
		t.Fatalf("split = %q %q", row, col)
	}
}
