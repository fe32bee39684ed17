package convert

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"unicode"

	pdf "github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/xuri/excelize/v2"

	"poflow/internal"
)

const (
	pageHeight = 842.0
	margin     = 40.0
	lineHeight = 14.0
	fontSize   = 9
	titleSize  = 13
	// lineWidth is measured in half-width columns; wide runes count twice.
	lineWidth = 100
	cellSep   = "  |  "
	coreFont  = "Helvetica"
)

var configOnce sync.Once

// Converter renders workbook sheets as plain table pages in a single PDF.
type Converter struct {
	font   string
	logger *slog.Logger
}

// New prepares a converter. fontFile is an optional TrueType font installed
// into pdfcpu so that Hangul renders; without it the core Helvetica font is
// used and workbooks with text outside WinAnsi fail to convert.
func New(fontFile string, logger *slog.Logger) (*Converter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Converter{font: coreFont, logger: logger}
	if strings.TrimSpace(fontFile) == "" {
		configOnce.Do(api.DisableConfigDir)
		return c, nil
	}
	if err := api.InstallFonts([]string{fontFile}); err != nil {
		return nil, fmt.Errorf("install font %s: %w", fontFile, err)
	}
	c.font = strings.TrimSuffix(filepath.Base(fontFile), filepath.Ext(fontFile))
	return c, nil
}

type font struct {
	Name string `json:"name"`
	Size int    `json:"size"`
}

type textBox struct {
	Value string     `json:"value"`
	Pos   [2]float64 `json:"pos"`
	Font  font       `json:"font"`
}

type page struct {
	Content struct {
		Text []textBox `json:"text"`
	} `json:"content"`
}

type document struct {
	Paper  string           `json:"paper"`
	Origin string           `json:"origin"`
	Pages  map[string]*page `json:"pages"`
}

// Convert writes one PDF at pdfPath holding every sheet of src, in sheet
// order. On failure no file is left at pdfPath.
func (c *Converter) Convert(src, pdfPath string) (internal.ConversionResult, error) {
	res := internal.ConversionResult{}

	sheets, err := readSheets(src)
	if err != nil {
		return failed(res, err)
	}
	if len(sheets) == 0 {
		return failed(res, fmt.Errorf("workbook %s has no sheets", src))
	}
	if c.font == coreFont {
		if err := checkCoreEncoding(sheets); err != nil {
			return failed(res, err)
		}
	}

	doc := c.layout(sheets)
	layoutJSON, err := json.Marshal(doc)
	if err != nil {
		return failed(res, err)
	}

	var buf bytes.Buffer
	if err := api.Create(nil, bytes.NewReader(layoutJSON), &buf, model.NewDefaultConfiguration()); err != nil {
		return failed(res, fmt.Errorf("render pdf: %w", err))
	}

	pages, err := countPages(buf.Bytes())
	if err != nil {
		return failed(res, fmt.Errorf("verify pdf: %w", err))
	}
	if pages != len(doc.Pages) {
		return failed(res, fmt.Errorf("verify pdf: expected %d pages, got %d", len(doc.Pages), pages))
	}

	if err := os.MkdirAll(filepath.Dir(pdfPath), 0o755); err != nil {
		return failed(res, err)
	}
	tmp := pdfPath + ".part"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		_ = os.Remove(tmp)
		return failed(res, err)
	}
	if err := os.Rename(tmp, pdfPath); err != nil {
		_ = os.Remove(tmp)
		return failed(res, err)
	}

	c.logger.Info("pdf generated", "path", pdfPath, "pages", pages, "sheets", len(sheets))
	res.Success = true
	res.PDFPath = pdfPath
	res.Pages = pages
	return res, nil
}

func failed(res internal.ConversionResult, err error) (internal.ConversionResult, error) {
	err = internal.NewStageError(internal.CodeConversionFailed, err)
	res.Success = false
	res.Error = err.Error()
	res.Code = internal.CodeConversionFailed
	return res, err
}

type sheet struct {
	name string
	rows [][]string
}

func readSheets(path string) ([]sheet, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	var out []sheet
	for _, name := range f.GetSheetList() {
		rows, err := f.GetRows(name)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		out = append(out, sheet{name: name, rows: rows})
	}
	return out, nil
}

// layout starts every sheet on a new page with its name as title and wraps
// onto following pages when the rows run past the bottom margin.
func (c *Converter) layout(sheets []sheet) document {
	doc := document{Paper: "A4P", Origin: "UpperLeft", Pages: map[string]*page{}}
	n := 0
	var cur *page
	var y float64

	newPage := func() {
		n++
		cur = &page{}
		doc.Pages[strconv.Itoa(n)] = cur
		y = margin
	}
	add := func(text string, size int) {
		if y+lineHeight > pageHeight-margin {
			newPage()
		}
		cur.Content.Text = append(cur.Content.Text, textBox{Value: text, Pos: [2]float64{margin, y}, Font: font{Name: c.font, Size: size}})
		y += lineHeight
	}

	for _, s := range sheets {
		newPage()
		add(s.name, titleSize)
		y += lineHeight / 2
		for _, row := range s.rows {
			line := strings.TrimSpace(strings.Join(trimCells(row), cellSep))
			if line == "" {
				y += lineHeight / 2
				continue
			}
			for _, part := range wrap(line, lineWidth) {
				add(part, fontSize)
			}
		}
	}
	return doc
}

func trimCells(row []string) []string {
	out := make([]string, len(row))
	for i, cell := range row {
		out[i] = strings.Join(strings.Fields(cell), " ")
	}
	return out
}

// wrap splits s into lines no wider than width, breaking after a space when
// one falls inside the line and mid-word otherwise.
func wrap(s string, width int) []string {
	var out []string
	r := []rune(s)
	for len(r) > 0 {
		w, cut, lastSpace := 0, len(r), -1
		for i, ch := range r {
			w += runeWidth(ch)
			if w > width {
				cut = i
				break
			}
			if ch == ' ' {
				lastSpace = i
			}
		}
		if cut < len(r) && lastSpace > 0 {
			cut = lastSpace + 1
		}
		cut = max(cut, 1)
		if line := strings.TrimSpace(string(r[:cut])); line != "" {
			out = append(out, line)
		}
		r = r[cut:]
	}
	return out
}

func runeWidth(r rune) int {
	if r >= 0x1100 {
		return 2
	}
	return 1
}

// winAnsiExtra are the WinAnsi code points outside Latin-1.
const winAnsiExtra = "€‚ƒ„…†‡ˆ‰Š‹ŒŽ‘’“”•–—˜™š›œžŸ"

func coreEncodable(r rune) bool {
	return (r >= 0x20 && r < 0x7F) || (r >= 0xA0 && r <= 0xFF) || strings.ContainsRune(winAnsiExtra, r)
}

// checkCoreEncoding rejects text the core font would render as blanks. A
// TrueType font has to be configured for anything outside WinAnsi.
func checkCoreEncoding(sheets []sheet) error {
	bad := func(s string) (rune, bool) {
		for _, r := range s {
			if unicode.IsSpace(r) {
				continue
			}
			if !coreEncodable(r) {
				return r, true
			}
		}
		return 0, false
	}
	for _, s := range sheets {
		if r, ok := bad(s.name); ok {
			return fmt.Errorf("sheet name %q has %q which %s cannot render; configure PDF_FONT_FILE", s.name, r, coreFont)
		}
		for ri, row := range s.rows {
			for ci, cell := range row {
				r, ok := bad(cell)
				if !ok {
					continue
				}
				ref, _ := excelize.CoordinatesToCellName(ci+1, ri+1)
				return fmt.Errorf("sheet %s cell %s has %q which %s cannot render; configure PDF_FONT_FILE", s.name, ref, r, coreFont)
			}
		}
	}
	return nil
}

func countPages(data []byte) (int, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return 0, err
	}
	return r.NumPage(), nil
}
