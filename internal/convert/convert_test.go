package convert

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	pdf "github.com/ledongthuc/pdf"
	"github.com/xuri/excelize/v2"

	"poflow/internal"
	"poflow/internal/logging"
)

func mkXLSX(t *testing.T, sheets map[string][][]any, order ...string) string {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	for i, name := range order {
		if i == 0 {
			_ = f.SetSheetName("Sheet1", name)
		} else if _, err := f.NewSheet(name); err != nil {
			t.Fatalf("new sheet: %v", err)
		}
		for r, row := range sheets[name] {
			cell, _ := excelize.CoordinatesToCellName(1, r+1)
			if err := f.SetSheetRow(name, cell, &row); err != nil {
				t.Fatalf("set row: %v", err)
			}
		}
	}
	path := filepath.Join(t.TempDir(), "in.xlsx")
	if err := f.SaveAs(path); err != nil {
		t.Fatalf("save: %v", err)
	}
	return path
}

func TestConvertOnePagePerSheet(t *testing.T) {
	src := mkXLSX(t, map[string][][]any{
		"Cover": {{"Order", "PO-1"}, {"Vendor", "Acme"}},
		"Items": {{"Item", "Qty", "Price"}, {"Window", 2, 1000}},
	}, "Cover", "Items")

	c, err := New("", logging.Discard())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	out := filepath.Join(t.TempDir(), "po.pdf")
	res, err := c.Convert(src, out)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if !res.Success || res.Pages != 2 || res.PDFPath != out {
		t.Fatalf("unexpected result %+v", res)
	}
	if info, err := os.Stat(out); err != nil || info.Size() == 0 {
		t.Fatalf("pdf not written: %v", err)
	}
}

func TestConvertWrapsLongSheets(t *testing.T) {
	var rows [][]any
	for i := 0; i < 120; i++ {
		rows = append(rows, []any{fmt.Sprintf("line %d", i)})
	}
	src := mkXLSX(t, map[string][][]any{"Long": rows}, "Long")

	c, _ := New("", logging.Discard())
	res, err := c.Convert(src, filepath.Join(t.TempDir(), "long.pdf"))
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if res.Pages < 2 {
		t.Fatalf("expected wrapping onto several pages, got %d", res.Pages)
	}
}

func TestConvertMissingWorkbook(t *testing.T) {
	c, _ := New("", logging.Discard())
	out := filepath.Join(t.TempDir(), "none.pdf")
	res, err := c.Convert(filepath.Join(t.TempDir(), "missing.xlsx"), out)
	if internal.CodeOf(err) != internal.CodeConversionFailed || res.Success || res.Code != internal.CodeConversionFailed {
		t.Fatalf("expected ConversionFailed, got %+v %v", res, err)
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Fatalf("failed conversion left a file")
	}
}

func TestLayoutStartsEachSheetOnNewPage(t *testing.T) {
	c := &Converter{font: "Helvetica"}
	doc := c.layout([]sheet{{name: "a", rows: [][]string{{"x"}}}, {name: "b"}})
	if len(doc.Pages) != 2 {
		t.Fatalf("expected 2 pages, got %d", len(doc.Pages))
	}
	if got := doc.Pages["2"].Content.Text[0].Value; got != "b" {
		t.Fatalf("second page should open with sheet title, got %q", got)
	}
}

func pdfText(t *testing.T, path string) string {
	t.Helper()
	f, r, err := pdf.Open(path)
	if err != nil {
		t.Fatalf("open pdf: %v", err)
	}
	defer f.Close()
	plain, err := r.GetPlainText()
	if err != nil {
		t.Fatalf("extract text: %v", err)
	}
	b, err := io.ReadAll(plain)
	if err != nil {
		t.Fatalf("read text: %v", err)
	}
	return strings.Join(strings.Fields(string(b)), "")
}

func TestConvertKeepsEveryColumnOfWideRows(t *testing.T) {
	var row []any
	for i := 0; i < 16; i++ {
		row = append(row, fmt.Sprintf("column-value-%c", 'A'+i))
	}
	src := mkXLSX(t, map[string][][]any{"Wide": {row}}, "Wide")

	c, _ := New("", logging.Discard())
	out := filepath.Join(t.TempDir(), "wide.pdf")
	if _, err := c.Convert(src, out); err != nil {
		t.Fatalf("convert: %v", err)
	}
	text := pdfText(t, out)
	for _, want := range []string{"column-value-A", "column-value-H", "column-value-P"} {
		if !strings.Contains(text, want) {
			t.Fatalf("%s missing from pdf text %q", want, text)
		}
	}
}

func TestConvertRejectsHangulWithoutFont(t *testing.T) {
	src := mkXLSX(t, map[string][][]any{
		"Cover": {{"Order", "PO-1"}, {"Vendor", "한국창호"}},
	}, "Cover")

	c, _ := New("", logging.Discard())
	out := filepath.Join(t.TempDir(), "po.pdf")
	res, err := c.Convert(src, out)
	if internal.CodeOf(err) != internal.CodeConversionFailed || res.Success {
		t.Fatalf("expected ConversionFailed, got %+v %v", res, err)
	}
	if !strings.Contains(res.Error, "Cover") || !strings.Contains(res.Error, "B2") {
		t.Fatalf("error should name sheet and cell: %s", res.Error)
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Fatalf("failed conversion left a file")
	}
}

func TestConvertRejectsHangulSheetName(t *testing.T) {
	src := mkXLSX(t, map[string][][]any{"갑지": {{"Order", "PO-1"}}}, "갑지")

	c, _ := New("", logging.Discard())
	res, err := c.Convert(src, filepath.Join(t.TempDir(), "po.pdf"))
	if err == nil || res.Success || !strings.Contains(res.Error, "갑지") {
		t.Fatalf("expected failure naming the sheet, got %+v %v", res, err)
	}
}

func TestWrap(t *testing.T) {
	line := strings.Repeat("abcd ", 30)
	parts := wrap(line, 20)
	if strings.Join(parts, " ") != strings.TrimSpace(line) {
		t.Fatalf("wrap lost text: %q", parts)
	}
	for _, p := range parts {
		if len(p) > 20 {
			t.Fatalf("line too wide: %q", p)
		}
	}

	if got := wrap(strings.Repeat("x", 25), 10); len(got) != 3 || got[2] != "xxxxx" {
		t.Fatalf("unexpected hard wrap %q", got)
	}
	if got := wrap("가나다라마바", 6); len(got) != 2 || got[0] != "가나다" {
		t.Fatalf("wide runes should count double, got %q", got)
	}
}
