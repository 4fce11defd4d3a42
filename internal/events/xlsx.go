package events

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/sells-group/hotspot-cli/internal/model"
)

// XLSXOptions configures the XLSX reader. The first row of the sheet must
// be a header.
type XLSXOptions struct {
	Columns     Columns
	SheetName   string // overrides SheetIndex when set
	SheetIndex  int
	SkipInvalid bool
}

// ReadXLSX reads events from one sheet of an XLSX workbook. Blank rows are
// ignored.
func ReadXLSX(ctx context.Context, path string, opts XLSXOptions) ([]model.RawEvent, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "events: open xlsx %s", path)
	}
	sheet, err := sheetOf(f, opts)
	if err != nil {
		return nil, err
	}
	if len(sheet.Rows) == 0 {
		return nil, eris.Errorf("events: sheet %q is empty", sheet.Name)
	}

	dec, err := newDecoder(rowStrings(sheet.Rows[0]), opts.Columns, opts.SkipInvalid)
	if err != nil {
		return nil, err
	}

	out := make([]model.RawEvent, 0, len(sheet.Rows)-1)
	for i, row := range sheet.Rows[1:] {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "events: xlsx cancelled")
		}
		cells := rowStrings(row)
		if blank(cells) {
			continue
		}
		ev, ok, err := dec.decode(cells, i+2)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, ev)
		}
	}
	if dec.skipped > 0 {
		zap.L().Warn("events: skipped invalid xlsx rows", zap.Int("skipped", dec.skipped))
	}
	return out, nil
}

func sheetOf(f *xlsx.File, opts XLSXOptions) (*xlsx.Sheet, error) {
	if opts.SheetName != "" {
		sheet, ok := f.Sheet[opts.SheetName]
		if !ok {
			return nil, eris.Errorf("events: sheet %q not found", opts.SheetName)
		}
		return sheet, nil
	}
	if opts.SheetIndex < 0 || opts.SheetIndex >= len(f.Sheets) {
		return nil, eris.Errorf("events: sheet index %d out of range (file has %d sheets)", opts.SheetIndex, len(f.Sheets))
	}
	return f.Sheets[opts.SheetIndex], nil
}

func rowStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		cells[j] = cell.String()
	}
	return cells
}

func blank(cells []string) bool {
	for _, c := range cells {
		if c != "" {
			return false
		}
	}
	return true
}
