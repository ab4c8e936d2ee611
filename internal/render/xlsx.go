package render

import (
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"
)

const invoiceSheet = "Invoice"

// writeXLSX writes the layout as a single-sheet workbook, top to bottom in
// the same order as the PDF page.
func writeXLSX(l Layout, issued time.Time, path string) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", invoiceSheet); err != nil {
		return err
	}
	if err := f.SetDocProps(&excelize.DocProperties{
		Title:   l.Title + " " + l.Meta[0].Value,
		Creator: "invoicegen",
		Created: issued.Format(time.RFC3339),
	}); err != nil {
		return err
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}
	title, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true, Size: 20}})
	if err != nil {
		return err
	}
	header, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"E6E6E6"}},
	})
	if err != nil {
		return err
	}

	w := &sheetWriter{f: f, row: 1}

	if l.Logo != "" {
		if err := f.AddPicture(invoiceSheet, "A1", l.Logo, &excelize.GraphicOptions{ScaleX: 0.3, ScaleY: 0.3}); err != nil {
			return fmt.Errorf("add logo: %w", err)
		}
		w.row += 6
	}

	w.set(1, l.Title, title)
	w.row += 2

	// metadata right, sender left
	start := w.row
	for i, m := range l.Meta {
		w.setAt(start+i, 3, m.Label, bold)
		w.setAt(start+i, 4, m.Value, 0)
	}
	w.set(1, "From", bold)
	w.row++
	for _, line := range l.Sender {
		w.set(1, line, 0)
		w.row++
	}
	w.row = max(w.row, start+len(l.Meta)) + 1

	w.set(1, "Bill To", bold)
	w.row++
	for _, line := range l.Recipient {
		w.set(1, line, 0)
		w.row++
	}
	w.row++

	for i, c := range l.Columns {
		w.set(i+1, c, header)
	}
	w.row++
	for _, r := range l.Rows {
		for i, v := range r {
			w.set(i+1, v, 0)
		}
		w.row++
	}
	w.row++

	for i, t := range l.Totals {
		style := 0
		if i == len(l.Totals)-1 {
			style = bold
		}
		w.set(3, t.Label, style)
		w.set(4, t.Value, style)
		w.row++
	}

	if len(l.Notes) > 0 {
		w.row++
	}
	for _, n := range l.Notes {
		w.set(1, n.Label, bold)
		w.row++
		w.set(1, n.Value, 0)
		w.row += 2
	}

	if w.err != nil {
		return w.err
	}

	_ = f.SetColWidth(invoiceSheet, "A", "A", 48)
	_ = f.SetColWidth(invoiceSheet, "B", "B", 12)
	_ = f.SetColWidth(invoiceSheet, "C", "D", 22)

	return f.SaveAs(path)
}

// sheetWriter keeps the current row and the first error.
type sheetWriter struct {
	f   *excelize.File
	row int
	err error
}

func (w *sheetWriter) set(col int, v string, style int) {
	w.setAt(w.row, col, v, style)
}

func (w *sheetWriter) setAt(row, col int, v string, style int) {
	if w.err != nil {
		return
	}
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		w.err = err
		return
	}
	if err := w.f.SetCellStr(invoiceSheet, cell, v); err != nil {
		w.err = err
		return
	}
	if style != 0 {
		w.err = w.f.SetCellStyle(invoiceSheet, cell, cell, style)
	}
}
