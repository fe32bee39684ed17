package validate

import (
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/xuri/excelize/v2"

	"poflow/internal"
)

var rowPrefix = regexp.MustCompile(`^row (\d+): (.*)$`)

// ExportReport writes a validation report as an xlsx with one line per finding
// and a second sheet listing header mismatches.
func ExportReport(report internal.ValidationReport, outputPath string) error {
	f := excelize.NewFile()
	defer f.Close()

	sheet := "Findings"
	if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
		return err
	}

	headers := []string{"row", "severity", "message"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}

	r := 2
	write := func(severity, finding string) {
		set := func(col int, value any) {
			cell, _ := excelize.CoordinatesToCellName(col, r)
			_ = f.SetCellValue(sheet, cell, value)
		}
		row, msg := splitRow(finding)
		set(1, row)
		set(2, severity)
		set(3, msg)
		r++
	}
	for _, e := range report.Errors {
		write("error", e)
	}
	for _, w := range report.Warnings {
		write("warning", w)
	}

	if len(report.Structural.Mismatches) > 0 {
		hs := "Header"
		if _, err := f.NewSheet(hs); err != nil {
			return err
		}
		_ = f.SetSheetRow(hs, "A1", &[]any{"column", "expected", "actual"})
		for i, m := range report.Structural.Mismatches {
			cell, _ := excelize.CoordinatesToCellName(1, i+2)
			_ = f.SetSheetRow(hs, cell, &[]any{m.Index + 1, m.Expected, m.Actual})
		}
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return err
	}
	return f.SaveAs(outputPath)
}

func splitRow(finding string) (any, string) {
	m := rowPrefix.FindStringSubmatch(finding)
	if m == nil {
		return "", finding
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return "", finding
	}
	return n, m[2]
}
