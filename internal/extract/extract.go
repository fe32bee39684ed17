package extract

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"poflow/internal"
)

// DefaultSheets are the output sheets of the PO template.
var DefaultSheets = []string{"갑지", "을지"}

type Extractor struct {
	OutputDir string
	Now       func() time.Time
}

func New(outputDir string) *Extractor {
	return &Extractor{OutputDir: outputDir, Now: time.Now}
}

// OutputPath derives a timestamped path under OutputDir.
func (e *Extractor) OutputPath(prefix, ext string) string {
	now := time.Now
	if e.Now != nil {
		now = e.Now
	}
	return filepath.Join(e.OutputDir, fmt.Sprintf("%s-%d%s", prefix, now().UnixMilli(), ext))
}

// Extract copies the named sheets of src into a new workbook at outputPath
// (derived from the clock when empty). Sheets that are absent are reported in
// MissingSheets; only when none of them exist does it fail with SheetNotFound.
// Formulas in kept sheets are replaced by their values, since they may refer
// to sheets that are dropped.
func (e *Extractor) Extract(src string, sheets []string, outputPath string) (internal.ExtractionResult, error) {
	res := internal.ExtractionResult{ExtractedSheets: []string{}, MissingSheets: []string{}}
	if len(sheets) == 0 {
		sheets = DefaultSheets
	}
	if outputPath == "" {
		outputPath = e.OutputPath("extracted", ".xlsx")
	}

	f, err := excelize.OpenFile(src)
	if err != nil {
		return fail(res, internal.Errorf(internal.CodeSheetNotFound, "open workbook: %w", err))
	}
	defer f.Close()

	present := f.GetSheetList()
	for _, name := range sheets {
		if slices.Contains(present, name) {
			res.ExtractedSheets = append(res.ExtractedSheets, name)
		} else {
			res.MissingSheets = append(res.MissingSheets, name)
		}
	}
	if len(res.ExtractedSheets) == 0 {
		return fail(res, internal.Errorf(internal.CodeSheetNotFound, "none of %s found in workbook", strings.Join(sheets, ", ")))
	}

	for _, name := range res.ExtractedSheets {
		warnings, err := materializeFormulas(f, name)
		if err != nil {
			return fail(res, internal.Errorf(internal.CodeSheetNotFound, "materialize %s: %w", name, err))
		}
		res.Warnings = append(res.Warnings, warnings...)
	}
	for _, name := range present {
		if !slices.Contains(res.ExtractedSheets, name) {
			if err := f.DeleteSheet(name); err != nil {
				return fail(res, fmt.Errorf("delete sheet %s: %w", name, err))
			}
		}
	}
	if idx, err := f.GetSheetIndex(res.ExtractedSheets[0]); err == nil && idx >= 0 {
		f.SetActiveSheet(idx)
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return fail(res, err)
	}
	if err := f.SaveAs(outputPath); err != nil {
		return fail(res, fmt.Errorf("save %s: %w", outputPath, err))
	}

	res.Success = true
	res.OutputPath = outputPath
	return res, nil
}

func fail(res internal.ExtractionResult, err error) (internal.ExtractionResult, error) {
	res.Success = false
	res.Error = err.Error()
	res.Code = internal.CodeOf(err)
	return res, err
}

// materializeFormulas replaces every formula in sheet with its value. A
// formula excelize cannot evaluate leaves the cell blank and is reported as a
// warning.
func materializeFormulas(f *excelize.File, sheet string) ([]string, error) {
	maxCol, maxRow, err := sheetExtent(f, sheet)
	if err != nil {
		return nil, err
	}
	var warnings []string
	for r := 1; r <= maxRow; r++ {
		for c := 1; c <= maxCol; c++ {
			cell, err := excelize.CoordinatesToCellName(c, r)
			if err != nil {
				return nil, err
			}
			formula, err := f.GetCellFormula(sheet, cell)
			if err != nil {
				return nil, err
			}
			if strings.TrimSpace(formula) == "" {
				continue
			}

			val, calcErr := f.CalcCellValue(sheet, cell)
			if calcErr != nil {
				warnings = append(warnings, fmt.Sprintf("%s!%s: formula =%s could not be evaluated: %v", sheet, cell, formula, calcErr))
				val = ""
			}
			if err := f.SetCellFormula(sheet, cell, ""); err != nil {
				return nil, err
			}
			s := strings.TrimSpace(val)
			if n, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64); err == nil {
				if err := f.SetCellValue(sheet, cell, n); err != nil {
					return nil, err
				}
				continue
			}
			if err := f.SetCellValue(sheet, cell, s); err != nil {
				return nil, err
			}
		}
	}
	return warnings, nil
}

// sheetExtent is the larger of the declared dimension and the populated rows.
func sheetExtent(f *excelize.File, sheet string) (int, int, error) {
	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return 0, 0, err
	}
	maxCol, maxRow := 0, len(rows)
	for _, row := range rows {
		maxCol = max(maxCol, len(row))
	}
	if dim, err := f.GetSheetDimension(sheet); err == nil && dim != "" {
		parts := strings.Split(dim, ":")
		if c, r, err := excelize.CellNameToCoordinates(parts[len(parts)-1]); err == nil {
			maxCol, maxRow = max(maxCol, c), max(maxRow, r)
		}
	}
	return maxCol, maxRow, nil
}
