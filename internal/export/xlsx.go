// Package export writes an aggregate.Matrix as an Excel workbook or a msgpack payload.
package export

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/ictyield/backend/internal/aggregate"
	"github.com/ictyield/backend/internal/models"
)

const (
	resultsSheet = "Results"
	limitsSheet  = "Limits"

	passFill = "#C6EFCE"
	failFill = "#FFC7CE"
)

// NewWorkbook lays the matrix out on a results sheet (header row, one label column, colored
// cells) and a limits sheet with one row per exported test.
func NewWorkbook(m *aggregate.Matrix) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", resultsSheet); err != nil {
		f.Close()
		return nil, err
	}
	if err := writeResults(f, m); err != nil {
		f.Close()
		return nil, err
	}
	if err := writeLimits(f, m); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

// WriteXLSX saves the matrix workbook to path.
func WriteXLSX(path string, m *aggregate.Matrix) error {
	f, err := NewWorkbook(m)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save workbook: %w", err)
	}
	return nil
}

// EncodeXLSX writes the matrix workbook to w.
func EncodeXLSX(w io.Writer, m *aggregate.Matrix) error {
	f, err := NewWorkbook(m)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

type styles struct {
	header, pass, fail int
}

func newStyles(f *excelize.File) (styles, error) {
	var s styles
	var err error
	if s.header, err = f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}}); err != nil {
		return s, err
	}
	if s.pass, err = f.NewStyle(&excelize.Style{Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{passFill}}}); err != nil {
		return s, err
	}
	if s.fail, err = f.NewStyle(&excelize.Style{Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{failFill}}}); err != nil {
		return s, err
	}
	return s, nil
}

func writeResults(f *excelize.File, m *aggregate.Matrix) error {
	st, err := newStyles(f)
	if err != nil {
		return err
	}

	corner := "Attempt"
	if m.Orientation == aggregate.TestsAsRows {
		corner = "Test"
	}
	header := make([]interface{}, 0, len(m.Columns)+1)
	header = append(header, corner)
	for _, c := range m.Columns {
		header = append(header, c)
	}
	if err := f.SetSheetRow(resultsSheet, "A1", &header); err != nil {
		return err
	}
	last, err := excelize.CoordinatesToCellName(len(m.Columns)+1, 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(resultsSheet, "A1", last, st.header); err != nil {
		return err
	}

	for r, label := range m.Rows {
		row := make([]interface{}, len(m.Columns)+1)
		row[0] = label
		for c, cell := range m.Cells[r] {
			if cell.Empty {
				continue
			}
			row[c+1] = cell.Value
		}
		start, err := excelize.CoordinatesToCellName(1, r+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(resultsSheet, start, &row); err != nil {
			return err
		}
		for c, cell := range m.Cells[r] {
			style := 0
			switch cell.Outcome {
			case models.OutcomePass:
				style = st.pass
			case models.OutcomeFail:
				style = st.fail
			default:
				continue
			}
			name, err := excelize.CoordinatesToCellName(c+2, r+2)
			if err != nil {
				return err
			}
			if err := f.SetCellStyle(resultsSheet, name, name, style); err != nil {
				return err
			}
		}
	}
	return f.SetPanes(resultsSheet, &excelize.Panes{
		Freeze: true, XSplit: 1, YSplit: 1, TopLeftCell: "B2", ActivePane: "bottomRight",
	})
}

func writeLimits(f *excelize.File, m *aggregate.Matrix) error {
	if _, err := f.NewSheet(limitsSheet); err != nil {
		return err
	}
	tests := m.Columns
	if m.Orientation == aggregate.TestsAsRows {
		tests = m.Rows
	}
	if err := f.SetSheetRow(limitsSheet, "A1", &[]interface{}{"Test", "Lower", "Upper", "Nominal"}); err != nil {
		return err
	}
	for i, name := range tests {
		row := []interface{}{name, nil, nil, nil}
		if i < len(m.Limits) {
			lim := m.Limits[i]
			if lower, upper, ok := lim.Bounds(); ok {
				row[1], row[2] = lower, upper
			}
			if lim.Type == models.LimitThreeSided {
				row[3] = lim.Nominal
			}
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(limitsSheet, cell, &row); err != nil {
			return err
		}
	}
	return nil
}
