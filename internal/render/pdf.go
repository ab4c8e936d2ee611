package render

import (
	_ "embed"
	"time"

	"github.com/go-pdf/fpdf"
)

const (
	pageMargin = 15.0
	lineHeight = 6.0
	fontFamily = "DejaVu"
)

var (
	//go:embed fonts/DejaVuSansCondensed.ttf
	regularFont []byte
	//go:embed fonts/DejaVuSansCondensed-Bold.ttf
	boldFont []byte
)

var columnWidths = [4]float64{90, 25, 32.5, 32.5}

// writePDF draws the layout on a single A4 page. The creation date is pinned
// to issued so identical input produces identical bytes.
func writePDF(l Layout, issued time.Time, path string) error {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetCreationDate(issued)
	pdf.SetCatalogSort(true)
	pdf.SetMargins(pageMargin, pageMargin, pageMargin)
	pdf.SetAutoPageBreak(true, pageMargin)
	pdf.SetTitle(l.Title+" "+l.Meta[0].Value, true)
	pdf.SetCreator("invoicegen", true)
	// UTF-8 fonts so currency symbols outside cp1252 (₹, ₩, ₦) render.
	pdf.AddUTF8FontFromBytes(fontFamily, "", regularFont)
	pdf.AddUTF8FontFromBytes(fontFamily, "B", boldFont)
	if err := pdf.Error(); err != nil {
		return err
	}

	pdf.AddPage()
	pageW, _ := pdf.GetPageSize()
	contentW := pageW - 2*pageMargin

	// header
	top := pageMargin
	if l.Logo != "" {
		pdf.ImageOptions(l.Logo, pageMargin, top, 30, 0, false, fpdf.ImageOptions{ReadDpi: true}, 0, "")
		top += 32
	}
	pdf.SetY(top)
	pdf.SetFont(fontFamily, "B", 24)
	pdf.CellFormat(contentW, 12, l.Title, "", 1, "L", false, 0, "")
	pdf.Ln(2)

	// metadata block on the right, sender block on the left
	blockY := pdf.GetY()
	metaX := pageMargin + contentW - 80
	pdf.SetFont(fontFamily, "", 10)
	for _, f := range l.Meta {
		pdf.SetX(metaX)
		pdf.SetFont(fontFamily, "B", 10)
		pdf.CellFormat(35, lineHeight, f.Label, "", 0, "R", false, 0, "")
		pdf.SetFont(fontFamily, "", 10)
		pdf.CellFormat(45, lineHeight, f.Value, "", 1, "R", false, 0, "")
	}
	metaEnd := pdf.GetY()

	pdf.SetY(blockY)
	writeLines(pdf, "From", l.Sender, 95)
	senderEnd := pdf.GetY()

	pdf.SetY(max(metaEnd, senderEnd) + 4)
	writeLines(pdf, "Bill To", l.Recipient, 95)
	pdf.Ln(6)

	// line items
	pdf.SetFont(fontFamily, "B", 10)
	pdf.SetFillColor(230, 230, 230)
	for i, c := range l.Columns {
		align := "R"
		if i == 0 {
			align = "L"
		}
		pdf.CellFormat(columnWidths[i], 8, c, "B", 0, align, true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont(fontFamily, "", 10)
	for _, row := range l.Rows {
		for i, v := range row {
			align := "R"
			if i == 0 {
				align = "L"
			}
			pdf.CellFormat(columnWidths[i], 7, v, "B", 0, align, false, 0, "")
		}
		pdf.Ln(-1)
	}
	pdf.Ln(4)

	// totals
	labelW := columnWidths[1] + columnWidths[2]
	valueW := columnWidths[3]
	for i, f := range l.Totals {
		style := ""
		if i == len(l.Totals)-1 {
			style = "B"
		}
		pdf.SetX(pageMargin + columnWidths[0])
		pdf.SetFont(fontFamily, style, 10)
		pdf.CellFormat(labelW, lineHeight, f.Label, "", 0, "R", false, 0, "")
		pdf.CellFormat(valueW, lineHeight, f.Value, "", 1, "R", false, 0, "")
	}

	// payment notes
	if len(l.Notes) > 0 {
		pdf.Ln(8)
	}
	for _, n := range l.Notes {
		pdf.SetFont(fontFamily, "B", 10)
		pdf.CellFormat(contentW, lineHeight, n.Label, "", 1, "L", false, 0, "")
		pdf.SetFont(fontFamily, "", 10)
		pdf.MultiCell(contentW, 5, n.Value, "", "L", false)
		pdf.Ln(2)
	}

	return pdf.OutputFileAndClose(path)
}

func writeLines(pdf *fpdf.Fpdf, heading string, lines []string, width float64) {
	pdf.SetX(pageMargin)
	pdf.SetFont(fontFamily, "B", 10)
	pdf.CellFormat(width, lineHeight, heading, "", 1, "L", false, 0, "")
	pdf.SetFont(fontFamily, "", 10)
	for _, line := range lines {
		pdf.SetX(pageMargin)
		pdf.CellFormat(width, 5, line, "", 1, "L", false, 0, "")
	}
}
