package persist

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/sells-group/prospector/internal/dedupe"
	"github.com/sells-group/prospector/internal/model"
)

// DefaultSheet is the worksheet leads are kept in.
const DefaultSheet = "Leads"

// column is one canonical workbook column.
type column struct {
	header string
	value  func(model.Contact) string
}

var columns = []column{
	{"Name", func(c model.Contact) string { return c.Name }},
	{"Title", func(c model.Contact) string { return c.Title }},
	{"Organization", func(c model.Contact) string { return c.Organization }},
	{"Website", func(c model.Contact) string { return c.Website }},
	{"Size", func(c model.Contact) string { return c.Size }},
	{"Email", func(c model.Contact) string { return c.Email }},
	{"LinkedIn URL", func(c model.Contact) string { return c.LinkedInURL }},
	{"Industry", func(c model.Contact) string { return c.Industry }},
	{"Location", func(c model.Contact) string { return c.Location }},
	{"Conversion Status", func(c model.Contact) string { return string(c.ConversionStatus) }},
	{"Enrichment", func(c model.Contact) string { return c.Enrichment }},
	{"Processed At", func(c model.Contact) string {
		if c.ProcessedAt == nil {
			return ""
		}
		return c.ProcessedAt.UTC().Format(time.RFC3339)
	}},
}

// XLSX merges leads into one sheet of a shared workbook. Existing rows are
// written back untouched, including columns this package does not know
// about; new leads are appended. Other sheets in the workbook are kept. The
// workbook is replaced atomically so readers never see a half-written file.
type XLSX struct {
	path  string
	sheet string
	mu    sync.Mutex
}

// NewXLSX creates an XLSX persister. sheet defaults to DefaultSheet.
func NewXLSX(path, sheet string) *XLSX {
	if sheet == "" {
		sheet = DefaultSheet
	}
	return &XLSX{path: path, sheet: sheet}
}

// Persist implements workflow.Persister.
func (x *XLSX) Persist(ctx context.Context, leads []model.Contact) (model.PersistResult, error) {
	if err := ctx.Err(); err != nil {
		return model.PersistResult{}, eris.Wrap(err, "persist: xlsx")
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	book, err := x.open()
	if err != nil {
		return model.PersistResult{}, err
	}
	header, rows := sheetRows(book.Sheet[x.sheet])
	if len(header) == 0 {
		for _, col := range columns {
			header = append(header, col.header)
		}
	}

	existing := make([]model.Contact, len(rows))
	for i, row := range rows {
		existing[i] = model.ContactFromRecord(rowRecord(header, row))
	}
	merge := dedupe.Merge(existing, leads)
	if len(merge.Added) == 0 {
		return result(x.path, merge, 0), nil
	}

	for _, c := range merge.Added {
		rows = append(rows, contactRow(header, c))
	}
	if err := x.write(book, header, rows); err != nil {
		return model.PersistResult{}, err
	}

	zap.L().Info("persist: xlsx updated",
		zap.String("path", x.path),
		zap.Int("added", len(merge.Added)),
		zap.Int("skipped", merge.Skipped),
		zap.Int("rows", len(rows)),
	)
	return result(x.path, merge, len(merge.Added)), nil
}

// open loads the workbook, or starts an empty one when the file is missing.
func (x *XLSX) open() (*xlsx.File, error) {
	if _, err := os.Stat(x.path); errors.Is(err, os.ErrNotExist) {
		return xlsx.NewFile(), nil
	}
	f, err := xlsx.OpenFile(x.path)
	if err != nil {
		return nil, eris.Wrap(err, "persist: xlsx open file")
	}
	return f, nil
}

// sheetRows returns the header and non-blank data rows of sheet. A nil
// sheet yields no rows.
func sheetRows(sheet *xlsx.Sheet) ([]string, [][]string) {
	if sheet == nil {
		return nil, nil
	}
	var header []string
	var rows [][]string
	for i, row := range sheet.Rows {
		cells := make([]string, len(row.Cells))
		for j, cell := range row.Cells {
			cells[j] = cell.String()
		}
		if i == 0 {
			header = cells
			continue
		}
		if blank(cells) {
			continue
		}
		rows = append(rows, cells)
	}
	return header, rows
}

// write replaces the rows of the lead sheet in book and saves the whole
// workbook over the original.
func (x *XLSX) write(book *xlsx.File, header []string, rows [][]string) error {
	sheet, ok := book.Sheet[x.sheet]
	if ok {
		sheet.Rows = nil
		sheet.MaxRow = 0
		sheet.MaxCol = 0
	} else {
		var err error
		if sheet, err = book.AddSheet(x.sheet); err != nil {
			return eris.Wrap(err, "persist: xlsx add sheet")
		}
	}
	addRow(sheet, header)
	for _, r := range rows {
		addRow(sheet, r)
	}

	dir := filepath.Dir(x.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrap(err, "persist: xlsx create dir")
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(x.path)+".*.tmp")
	if err != nil {
		return eris.Wrap(err, "persist: xlsx temp file")
	}
	tmpPath := tmp.Name()
	_ = tmp.Close()

	if err := book.Save(tmpPath); err != nil {
		_ = os.Remove(tmpPath)
		return eris.Wrap(err, "persist: xlsx save")
	}
	if err := os.Rename(tmpPath, x.path); err != nil {
		_ = os.Remove(tmpPath)
		return eris.Wrap(err, "persist: xlsx replace workbook")
	}
	return nil
}

func addRow(sheet *xlsx.Sheet, cells []string) {
	row := sheet.AddRow()
	for _, v := range cells {
		row.AddCell().SetString(v)
	}
}

// rowRecord pairs a data row with the header so it can go through the
// same boundary mapping as scraped records.
func rowRecord(header, row []string) map[string]any {
	rec := make(map[string]any, len(header))
	for i, h := range header {
		if h == "" || i >= len(row) || row[i] == "" {
			continue
		}
		rec[h] = row[i]
	}
	return rec
}

// contactRow lays a contact out under header. Headers that match no
// canonical column are filled from Contact.Extra.
func contactRow(header []string, c model.Contact) []string {
	row := make([]string, len(header))
	for i, h := range header {
		if col, ok := columnFor(h); ok {
			row[i] = col.value(c)
			continue
		}
		if v, ok := c.Extra[h]; ok && v != nil {
			row[i] = fmt.Sprint(v)
		}
	}
	return row
}

func columnFor(header string) (column, bool) {
	for _, col := range columns {
		if strings.EqualFold(strings.TrimSpace(header), col.header) {
			return col, true
		}
	}
	return column{}, false
}

func blank(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
