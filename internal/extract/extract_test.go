package extract

import (
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"poflow/internal"
)

func mkWorkbook(t *testing.T, sheets ...string) string {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName("Sheet1", "Input"); err != nil {
		t.Fatalf("rename: %v", err)
	}
	_ = f.SetCellValue("Input", "A1", 1200)
	_ = f.SetCellValue("Input", "A2", 34)
	for _, name := range sheets {
		if _, err := f.NewSheet(name); err != nil {
			t.Fatalf("new sheet: %v", err)
		}
		_ = f.SetCellValue(name, "A1", "합계")
		_ = f.SetCellFormula(name, "B1", "SUM(Input!A1:A2)")
		_ = f.SetCellValue(name, "C1", "원")
	}
	path := filepath.Join(t.TempDir(), "po.xlsx")
	if err := f.SaveAs(path); err != nil {
		t.Fatalf("save: %v", err)
	}
	return path
}

func TestExtractKeepsNamedSheets(t *testing.T) {
	src := mkWorkbook(t, "갑지", "을지", "메모")
	out := filepath.Join(t.TempDir(), "out.xlsx")

	res, err := New(t.TempDir()).Extract(src, nil, out)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if !res.Success || res.OutputPath != out || len(res.MissingSheets) != 0 {
		t.Fatalf("unexpected result %+v", res)
	}

	f, err := excelize.OpenFile(out)
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	defer f.Close()
	if got := f.GetSheetList(); !slices.Equal(got, []string{"갑지", "을지"}) {
		t.Fatalf("unexpected sheets %v", got)
	}
	formula, _ := f.GetCellFormula("갑지", "B1")
	if formula != "" {
		t.Fatalf("formula survived extraction: %s", formula)
	}
	if v, _ := f.GetCellValue("갑지", "B1"); v != "1234" {
		t.Fatalf("expected materialized 1234, got %q", v)
	}
}

func TestExtractReportsMissingSheets(t *testing.T) {
	src := mkWorkbook(t, "갑지")
	res, err := New(t.TempDir()).Extract(src, []string{"갑지", "을지"}, "")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if !slices.Equal(res.ExtractedSheets, []string{"갑지"}) || !slices.Equal(res.MissingSheets, []string{"을지"}) {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestExtractNoSheetsFound(t *testing.T) {
	src := mkWorkbook(t)
	res, err := New(t.TempDir()).Extract(src, nil, "")
	if internal.CodeOf(err) != internal.CodeSheetNotFound {
		t.Fatalf("expected SheetNotFound, got %v", err)
	}
	if res.Success || res.Code != internal.CodeSheetNotFound || len(res.MissingSheets) != 2 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestOutputPathUsesClock(t *testing.T) {
	e := New("/tmp/out")
	e.Now = func() time.Time { return time.UnixMilli(1700000000123) }
	if got := e.OutputPath("extracted", ".xlsx"); got != filepath.Join("/tmp/out", "extracted-1700000000123.xlsx") {
		t.Fatalf("unexpected path %s", got)
	}
}

func TestExtractWarnsOnUnevaluatedFormula(t *testing.T) {
	src := mkWorkbook(t, "갑지", "을지")
	f, err := excelize.OpenFile(src)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_ = f.SetCellFormula("을지", "D2", "NOSUCHFUNC(1)")
	if err := f.Save(); err != nil {
		t.Fatalf("save: %v", err)
	}
	f.Close()

	out := filepath.Join(t.TempDir(), "out.xlsx")
	res, err := New(t.TempDir()).Extract(src, nil, out)
	if err != nil || !res.Success {
		t.Fatalf("extract: %+v %v", res, err)
	}
	if len(res.Warnings) != 1 || !strings.HasPrefix(res.Warnings[0], "을지!D2:") {
		t.Fatalf("expected one warning for 을지!D2, got %v", res.Warnings)
	}

	got, err := excelize.OpenFile(out)
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	defer got.Close()
	if v, _ := got.GetCellValue("을지", "D2"); v != "" {
		t.Fatalf("unevaluated cell should be blank, got %q", v)
	}
	if v, _ := got.GetCellValue("을지", "B1"); v != "1234" {
		t.Fatalf("other formulas should still materialize, got %q", v)
	}
}
