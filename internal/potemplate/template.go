package potemplate

import (
	"fmt"

	"github.com/xuri/excelize/v2"
)

const InputSheet = "Input"

// NewWorkbook builds an upload workbook: the first sheet carries the template
// header followed by rows, then one sheet per name in extraSheets.
func NewWorkbook(rows [][]any, extraSheets ...string) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName(f.GetSheetName(0), InputSheet); err != nil {
		return nil, err
	}

	header := make([]any, 0, ColumnCount)
	for _, h := range ExpectedHeader() {
		header = append(header, h)
	}
	if err := writeRow(f, InputSheet, 1, header); err != nil {
		return nil, err
	}
	for i, row := range rows {
		if err := writeRow(f, InputSheet, i+2, row); err != nil {
			return nil, err
		}
	}

	for _, name := range extraSheets {
		if _, err := f.NewSheet(name); err != nil {
			return nil, fmt.Errorf("add sheet %s: %w", name, err)
		}
	}
	return f, nil
}

func writeRow(f *excelize.File, sheet string, rowNum int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, rowNum)
	if err != nil {
		return err
	}
	return f.SetSheetRow(sheet, cell, &values)
}
