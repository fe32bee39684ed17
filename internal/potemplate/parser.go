package potemplate

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"poflow/internal"
	"poflow/internal/util"
)

// Row is one non-empty data row with its cells trimmed and padded to ColumnCount.
type Row struct {
	Index int
	Cells [ColumnCount]string
}

// Sheet is the first worksheet of an upload, split into header and data rows.
type Sheet struct {
	Name   string
	Header []string
	Rows   []Row
}

// ReadSheet loads the first worksheet. Cell values are read raw so that
// date cells come back as Excel serial numbers.
func ReadSheet(f *excelize.File) (Sheet, error) {
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return Sheet{}, ErrEmptyWorkbook
	}
	name := sheets[0]

	rows, err := f.GetRows(name, excelize.Options{RawCellValue: true})
	if err != nil {
		return Sheet{}, fmt.Errorf("read sheet %s: %w", name, err)
	}
	if len(rows) == 0 {
		return Sheet{}, ErrEmptyWorkbook
	}

	out := Sheet{Name: name, Header: rows[0]}
	for i := 1; i < len(rows); i++ {
		var row Row
		row.Index = i + 1
		empty := true
		for c := 0; c < ColumnCount && c < len(rows[i]); c++ {
			row.Cells[c] = strings.TrimSpace(rows[i][c])
			if row.Cells[c] != "" {
				empty = false
			}
		}
		if empty {
			continue
		}
		out.Rows = append(out.Rows, row)
	}
	return out, nil
}

// CheckHeader compares the header cells against the template, exact after
// trimming. Missing cells count as blank; trailing extra columns are ignored.
func CheckHeader(header []string) []internal.HeaderMismatch {
	var mismatches []internal.HeaderMismatch
	for i, col := range Columns {
		actual := ""
		if i < len(header) {
			actual = strings.TrimSpace(header[i])
		}
		if actual != col.Header {
			mismatches = append(mismatches, internal.HeaderMismatch{Index: i, Actual: actual, Expected: col.Header})
		}
	}
	return mismatches
}

type Options struct {
	// Required lists field keys that must be non-blank; nil means DefaultRequired.
	Required []string
}

func ParseFile(path string, opts Options) ([]internal.OrderRecord, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()
	return ParseWorkbook(f, opts)
}

func Parse(r io.Reader, opts Options) ([]internal.OrderRecord, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()
	return ParseWorkbook(f, opts)
}

func ParseBytes(content []byte, opts Options) ([]internal.OrderRecord, error) {
	return Parse(bytes.NewReader(content), opts)
}

// ParseWorkbook turns the first sheet into one OrderRecord per non-empty data
// row. It fails with ErrEmptyWorkbook or *HeaderMismatchError.
func ParseWorkbook(f *excelize.File, opts Options) ([]internal.OrderRecord, error) {
	sheet, err := ReadSheet(f)
	if err != nil {
		return nil, err
	}
	if len(sheet.Rows) == 0 {
		return nil, ErrEmptyWorkbook
	}
	if mismatches := CheckHeader(sheet.Header); len(mismatches) > 0 {
		return nil, &HeaderMismatchError{Mismatches: mismatches}
	}

	required := opts.Required
	if required == nil {
		required = DefaultRequired
	}

	out := make([]internal.OrderRecord, 0, len(sheet.Rows))
	for _, row := range sheet.Rows {
		rec := RecordFromRow(f, row)
		ApplyRules(&rec, required)
		out = append(out, rec)
	}
	return out, nil
}

// RecordFromRow maps a row positionally. Unparseable numbers become zero;
// the total falls back to quantity × unit price when the cell is blank or not numeric.
func RecordFromRow(f *excelize.File, row Row) internal.OrderRecord {
	c := row.Cells
	qty := util.DecimalOrZero(c[ColQuantity])
	price := util.DecimalOrZero(c[ColUnitPrice])
	total, ok := util.ParseDecimal(c[ColTotalAmount])
	if !ok {
		total = qty.Mul(price)
	}

	return internal.OrderRecord{
		RowIndex:       row.Index,
		OrderDate:      cellDate(f, c[ColOrderDate]),
		DeliveryDate:   cellDate(f, c[ColDeliveryDate]),
		VendorName:     c[ColVendorName],
		VendorEmail:    c[ColVendorEmail],
		DeliveryName:   c[ColDeliveryName],
		DeliveryEmail:  c[ColDeliveryEmail],
		ProjectName:    c[ColProjectName],
		MajorCategory:  c[ColMajorCategory],
		MiddleCategory: c[ColMiddleCategory],
		MinorCategory:  c[ColMinorCategory],
		Items: []internal.LineItem{{
			ItemName:      c[ColItemName],
			Specification: c[ColSpecification],
			Quantity:      qty,
			UnitPrice:     price,
			TotalAmount:   total,
			Remarks:       c[ColRemarks],
		}},
	}
}

// 9999-12-31 in the 1900 date system.
const maxExcelSerial = 2958466

// cellDate converts an Excel serial to YYYY-MM-DD; anything else passes through.
func cellDate(f *excelize.File, raw string) string {
	if raw == "" {
		return ""
	}
	serial, err := strconv.ParseFloat(raw, 64)
	if err != nil || serial <= 0 || serial >= maxExcelSerial {
		return raw
	}
	date1904 := false
	if f != nil {
		if props, err := f.GetWorkbookProps(); err == nil && props.Date1904 != nil {
			date1904 = *props.Date1904
		}
	}
	t, err := excelize.ExcelDateToTime(serial, date1904)
	if err != nil {
		return raw
	}
	return t.Format("2006-01-02")
}

// Summarize wraps a parse outcome in the result shape the pipeline reports.
func Summarize(orders []internal.OrderRecord, err error) internal.ParseResult {
	if err != nil {
		res := internal.ParseResult{Success: false, Orders: []internal.OrderRecord{}, Error: err.Error(), Code: internal.CodeOf(err)}
		var hm *HeaderMismatchError
		if errors.As(err, &hm) {
			res.Mismatches = hm.Mismatches
		}
		return res
	}
	items := 0
	for _, o := range orders {
		items += len(o.Items)
	}
	return internal.ParseResult{Success: true, Orders: orders, TotalOrders: len(orders), TotalItems: items}
}
