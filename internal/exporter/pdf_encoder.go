package exporter

import (
	"io"

	"github.com/go-pdf/fpdf"
)

// pdfMaxCell bounds the characters printed per cell; longer values are cut.
const pdfMaxCell = 60

// PDFEncoder implements RowEncoder for PDF generation.
// It creates a simple grid layout for exported data.
// WARNING: PDF generation is memory intensive and slower than CSV/JSON.
type PDFEncoder struct {
	pdf      *fpdf.Fpdf
	w        io.Writer
	tr       func(string) string
	colWidth float64
	written  bool
	err      error
}

// NewPDFEncoder creates a new PDF encoder.
func NewPDFEncoder(w io.Writer) *PDFEncoder {
	pdf := fpdf.New("L", "mm", "A4", "") // Landscape, mm, A4
	pdf.SetFont("Arial", "", 10)
	pdf.AddPage()
	return &PDFEncoder{
		pdf: pdf,
		w:   w,
		// Core fonts are cp1252.
		tr: pdf.UnicodeTranslatorFromDescriptor(""),
	}
}

func (e *PDFEncoder) setWidth(n int) {
	if n == 0 {
		n = 1
	}
	pageWidth, _ := e.pdf.GetPageSize()
	left, _, right, _ := e.pdf.GetMargins()
	e.colWidth = (pageWidth - left - right) / float64(n)
}

// WriteHeader writes the table headers.
func (e *PDFEncoder) WriteHeader(columns []Column) error {
	if e.err != nil {
		return e.err
	}
	e.setWidth(len(columns))

	e.pdf.SetFont("Arial", "B", 10)
	for _, col := range columns {
		e.pdf.CellFormat(e.colWidth, 7, e.tr(col.Name), "1", 0, "C", false, 0, "")
	}
	e.pdf.Ln(-1)
	e.pdf.SetFont("Arial", "", 10) // Reset font
	return e.pdf.Error()
}

// WriteRow writes a single row of data, one 7mm line per row.
func (e *PDFEncoder) WriteRow(values []interface{}) error {
	if e.err != nil {
		return e.err
	}
	if e.colWidth == 0 {
		e.setWidth(len(values))
	}

	for _, v := range values {
		str := "NULL"
		if v != nil {
			str = formatValue(v)
		}
		if r := []rune(str); len(r) > pdfMaxCell {
			str = string(r[:pdfMaxCell-3]) + "..."
		}
		e.pdf.CellFormat(e.colWidth, 7, e.tr(str), "1", 0, "L", false, 0, "")
	}
	e.pdf.Ln(-1)
	if err := e.pdf.Error(); err != nil {
		e.err = err
	}
	return e.err
}

// Flush writes the PDF to the underlying writer. It can only be done once.
func (e *PDFEncoder) Flush() error {
	if e.err != nil || e.written {
		return e.err
	}
	e.written = true
	if err := e.pdf.Output(e.w); err != nil {
		e.err = err
	}
	return e.err
}

// Error returns any stored error.
func (e *PDFEncoder) Error() error {
	return e.err
}

// Close flushes and satisfies io.Closer.
func (e *PDFEncoder) Close() error {
	return e.Flush()
}
