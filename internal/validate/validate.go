package validate

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/xuri/excelize/v2"

	"poflow/internal"
	"poflow/internal/potemplate"
	"poflow/internal/util"
)

// QuickFile is Quick for a workbook on disk; an unopenable file is reported, not returned.
func QuickFile(path string) internal.StructuralResult {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return internal.StructuralResult{Errors: []string{fmt.Sprintf("workbook could not be opened: %v", err)}, SheetNames: []string{}, Code: internal.CodeStructuralValidationFailed}
	}
	defer f.Close()
	return Quick(f)
}

// Quick is the cheap structural pass: the workbook has a sheet, the first
// sheet has data rows, and its header matches the template exactly.
func Quick(f *excelize.File) internal.StructuralResult {
	res := internal.StructuralResult{Errors: []string{}, SheetNames: f.GetSheetList()}
	if len(res.SheetNames) == 0 {
		res.Errors = append(res.Errors, "workbook has no sheets")
		res.Code = internal.CodeEmptyWorkbook
		return res
	}

	sheet, err := potemplate.ReadSheet(f)
	if err != nil && !errors.Is(err, potemplate.ErrEmptyWorkbook) {
		res.Errors = append(res.Errors, err.Error())
		res.Code = internal.CodeStructuralValidationFailed
		return res
	}
	if len(sheet.Rows) == 0 {
		res.Errors = append(res.Errors, "workbook has no data rows")
	}
	if err == nil {
		res.Mismatches = potemplate.CheckHeader(sheet.Header)
		for _, m := range res.Mismatches {
			res.Errors = append(res.Errors, fmt.Sprintf("column %d expected %q, got %q", m.Index+1, m.Expected, m.Actual))
		}
	}
	res.Valid = len(res.Errors) == 0
	res.Code = structuralCode(res, len(sheet.Rows) == 0)
	return res
}

// StructuralCode is the error code for a failed structural pass.
func StructuralCode(res internal.StructuralResult) internal.ErrorCode {
	if res.Code == "" {
		return internal.CodeStructuralValidationFailed
	}
	return res.Code
}

// structuralCode picks EmptyWorkbook or HeaderMismatch when that is the only
// problem found, and StructuralValidationFailed otherwise.
func structuralCode(res internal.StructuralResult, noRows bool) internal.ErrorCode {
	switch {
	case res.Valid:
		return ""
	case noRows && len(res.Errors) == 1:
		return internal.CodeEmptyWorkbook
	case len(res.Mismatches) > 0 && len(res.Mismatches) == len(res.Errors):
		return internal.CodeHeaderMismatch
	}
	return internal.CodeStructuralValidationFailed
}

type DeepOptions struct {
	Required     []string
	OutputSheets []string
}

var numericColumns = []int{potemplate.ColQuantity, potemplate.ColUnitPrice, potemplate.ColTotalAmount}

// Deep runs the business rules over every data row and summarizes them.
// It assumes Quick already passed; a header problem yields zero rows.
func Deep(f *excelize.File, opts DeepOptions) internal.BusinessResult {
	res := internal.BusinessResult{Errors: []string{}, Warnings: []string{}, MissingFields: []string{}}
	required := opts.Required
	if required == nil {
		required = potemplate.DefaultRequired
	}

	sheet, err := potemplate.ReadSheet(f)
	if err != nil {
		res.Errors = append(res.Errors, err.Error())
		return res
	}

	missing := map[string]struct{}{}
	seen := map[string]int{}
	for _, row := range sheet.Rows {
		rec := potemplate.RecordFromRow(f, row)
		errs, warns := potemplate.Check(rec, required)

		for _, col := range numericColumns {
			raw := row.Cells[col]
			if raw == "" {
				continue
			}
			if _, ok := util.ParseDecimal(raw); !ok {
				warns = append(warns, fmt.Sprintf("%s %q is not a number, using 0", potemplate.Columns[col].Label, raw))
			}
		}
		for _, key := range required {
			if field, _, ok := potemplate.FieldByKey(key); ok && containsString(errs, field.Label+" required") {
				missing[key] = struct{}{}
			}
		}

		dupKey := strings.Join([]string{
			util.NormalizeName(rec.VendorName),
			util.NormalizeName(rec.ProjectName),
			util.NormalizeName(row.Cells[potemplate.ColItemName]),
			util.NormalizeName(row.Cells[potemplate.ColSpecification]),
		}, "\x1f")
		if first, ok := seen[dupKey]; ok {
			res.Duplicates++
			warns = append(warns, fmt.Sprintf("duplicates row %d", first))
		} else {
			seen[dupKey] = row.Index
		}

		res.TotalRows++
		if len(errs) == 0 {
			res.ValidRows++
		} else {
			res.InvalidRows++
		}
		for _, e := range errs {
			res.Errors = append(res.Errors, fmt.Sprintf("row %d: %s", row.Index, e))
		}
		for _, w := range warns {
			res.Warnings = append(res.Warnings, fmt.Sprintf("row %d: %s", row.Index, w))
		}
	}

	sheets := map[string]struct{}{}
	for _, name := range f.GetSheetList() {
		sheets[name] = struct{}{}
	}
	for _, name := range opts.OutputSheets {
		if _, ok := sheets[name]; !ok {
			res.Warnings = append(res.Warnings, fmt.Sprintf("output sheet %s missing", name))
		}
	}

	for key := range missing {
		res.MissingFields = append(res.MissingFields, key)
	}
	sort.Strings(res.MissingFields)
	res.Valid = len(res.Errors) == 0
	return res
}

// File runs both passes on a workbook on disk. The deep pass is skipped when
// the structural pass fails.
func File(path string, opts DeepOptions) internal.ValidationReport {
	f, err := excelize.OpenFile(path)
	if err != nil {
		structural := internal.StructuralResult{Errors: []string{fmt.Sprintf("workbook could not be opened: %v", err)}, SheetNames: []string{}}
		return Combine(structural, nil)
	}
	defer f.Close()
	return Workbook(f, opts)
}

func Workbook(f *excelize.File, opts DeepOptions) internal.ValidationReport {
	structural := Quick(f)
	if !structural.Valid {
		return Combine(structural, nil)
	}
	business := Deep(f, opts)
	return Combine(structural, &business)
}

func Combine(structural internal.StructuralResult, business *internal.BusinessResult) internal.ValidationReport {
	report := internal.ValidationReport{
		Structural: structural,
		Business:   business,
		Errors:     append([]string{}, structural.Errors...),
		Warnings:   []string{},
	}
	report.Valid = structural.Valid
	if business != nil {
		report.Errors = append(report.Errors, business.Errors...)
		report.Warnings = append(report.Warnings, business.Warnings...)
		report.Valid = report.Valid && business.Valid
	}
	return report
}

// Err converts a failed report into a coded error, or nil.
func Err(report internal.ValidationReport) error {
	if !report.Structural.Valid {
		return internal.Errorf(StructuralCode(report.Structural), "%s", strings.Join(report.Structural.Errors, "; "))
	}
	if report.Business != nil && !report.Business.Valid {
		return internal.Errorf(internal.CodeBusinessValidationFailed, "%d invalid rows", report.Business.InvalidRows)
	}
	return nil
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
