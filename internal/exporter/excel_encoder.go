package exporter

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"
)

// excelMaxRows is the sheet row limit of the xlsx format.
const excelMaxRows = 1048576

// ExcelEncoder implements RowEncoder for Excel (.xlsx) files.
// It uses excelize.StreamWriter for efficient writing of large files.
type ExcelEncoder struct {
	f      *excelize.File
	sw     *excelize.StreamWriter
	w      io.Writer
	rowIdx int
	row    []interface{}
	err    error
}

// NewExcelEncoder creates a new Excel encoder.
// It initializes a new workbook and specific stream writer for high performance.
func NewExcelEncoder(w io.Writer) *ExcelEncoder {
	f := excelize.NewFile()
	sw, err := f.NewStreamWriter("Sheet1")
	if err != nil {
		return &ExcelEncoder{err: err}
	}
	return &ExcelEncoder{
		f:      f,
		sw:     sw,
		w:      w,
		rowIdx: 1,
	}
}

func (e *ExcelEncoder) WriteHeader(columns []Column) error {
	if e.err != nil {
		return e.err
	}
	row := make([]interface{}, len(columns))
	for i, col := range columns {
		row[i] = col.Name
	}
	return e.setRow(row)
}

func (e *ExcelEncoder) WriteRow(values []interface{}) error {
	if e.err != nil {
		return e.err
	}
	if e.rowIdx > excelMaxRows {
		e.err = fmt.Errorf("excel row limit exceeded (%d rows)", excelMaxRows)
		return e.err
	}

	if len(e.row) != len(values) {
		e.row = make([]interface{}, len(values))
	}
	for i, v := range values {
		e.row[i] = excelCell(v)
	}
	return e.setRow(e.row)
}

// excelCell keeps numbers, booleans and times native so the sheet can sort
// and sum them. Text is guarded against formula injection.
func excelCell(v interface{}) interface{} {
	switch val := v.(type) {
	case nil:
		return nil
	case string:
		return guardFormula(val)
	case int32, int64, float64, bool:
		return val
	case time.Time:
		return val
	default:
		return guardFormula(formatValue(val))
	}
}

func (e *ExcelEncoder) setRow(row []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, e.rowIdx)
	if err != nil {
		e.err = err
		return err
	}
	if err := e.sw.SetRow(cell, row); err != nil {
		e.err = err
		return err
	}
	e.rowIdx++
	return nil
}

// Flush writes the workbook. It can only be done once, at the end.
func (e *ExcelEncoder) Flush() error {
	if e.err != nil || e.f == nil {
		return e.err
	}
	if err := e.sw.Flush(); err != nil {
		e.err = err
		return err
	}
	if err := e.f.Write(e.w); err != nil {
		e.err = err
		return err
	}
	_ = e.f.Close()
	e.f = nil
	return nil
}

func (e *ExcelEncoder) Error() error {
	return e.err
}

func (e *ExcelEncoder) Close() error {
	return e.Flush()
}
