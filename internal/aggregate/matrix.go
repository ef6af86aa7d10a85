package aggregate

import (
	"fmt"
	"strings"

	"github.com/ictyield/backend/internal/models"
)

// Orientation selects whether attempts or tests run down the rows of an export.
type Orientation int

const (
	LogsAsRows Orientation = iota
	TestsAsRows
)

// Selection selects the test columns of an export.
type Selection int

const (
	SelectAll    Selection = iota
	SelectFailed           // tests failing in at least one exported attempt
	SelectListed           // tests named in ExportSettings.Tests
)

// ExportSettings configures ExportMatrix.
type ExportSettings struct {
	Orientation  Orientation `json:"orientation"`
	FailuresOnly bool        `json:"failuresOnly"` // only failing attempts
	FinalOnly    bool        `json:"finalOnly"`    // only the latest attempt of each board
	Selection    Selection   `json:"selection"`
	Tests        []string    `json:"tests,omitempty"`
}

// Matrix is a labeled grid of outcome+value cells, Cells[row][column].
type Matrix struct {
	Orientation Orientation     `json:"orientation" msgpack:"orientation"`
	Rows        []string        `json:"rows" msgpack:"rows"`
	Columns     []string        `json:"columns" msgpack:"columns"`
	Cells       [][]models.Cell `json:"cells" msgpack:"cells"`
	Limits      []models.Limit  `json:"limits" msgpack:"limits"` // per selected test
}

// LogLabel names one attempt in an export: "<dmc> <panel>#<index> <start>".
func LogLabel(rec *models.LogRecord) string {
	return fmt.Sprintf("%s %s#%d %s", rec.DMC, rec.MainDMC, rec.BoardIndex, rec.Start)
}

// ExportMatrix selects attempts and tests and lays them out per settings.
func (h *Handler) ExportMatrix(settings ExportSettings) (*Matrix, error) {
	var logs []*models.LogRecord
	for _, p := range h.order {
		for _, b := range p.Boards {
			attempts := b.Logs
			if settings.FinalOnly && len(attempts) > 0 {
				attempts = attempts[len(attempts)-1:]
			}
			for _, rec := range attempts {
				if settings.FailuresOnly && rec.Passed {
					continue
				}
				logs = append(logs, rec)
			}
		}
	}

	var tests []int
	switch settings.Selection {
	case SelectAll:
		for i := range h.tests {
			tests = append(tests, i)
		}
	case SelectFailed:
		for i := range h.tests {
			for _, rec := range logs {
				if rec.MeasurementAt(i).Outcome == models.OutcomeFail {
					tests = append(tests, i)
					break
				}
			}
		}
	case SelectListed:
		want := make(map[string]struct{}, len(settings.Tests))
		for _, name := range settings.Tests {
			want[strings.TrimSpace(name)] = struct{}{}
		}
		for i, t := range h.tests {
			if _, ok := want[t.Name]; ok {
				tests = append(tests, i)
			}
		}
	default:
		return nil, fmt.Errorf("invalid test selection: %d", settings.Selection)
	}

	m := &Matrix{Orientation: settings.Orientation, Limits: make([]models.Limit, len(tests))}
	logLabels := make([]string, len(logs))
	for r, rec := range logs {
		logLabels[r] = LogLabel(rec)
	}
	testLabels := make([]string, len(tests))
	for c, i := range tests {
		testLabels[c] = h.tests[i].Name
		// the latest limit an exported attempt carried
		for r := len(logs) - 1; r >= 0; r-- {
			if lim := logs[r].MeasurementAt(i).Limit; lim.Type != models.LimitNone {
				m.Limits[c] = lim
				break
			}
		}
	}

	cell := func(rec *models.LogRecord, i int) models.Cell {
		meas := rec.MeasurementAt(i)
		return models.Cell{Outcome: meas.Outcome, Value: meas.Value, Empty: meas.Placeholder}
	}

	switch settings.Orientation {
	case LogsAsRows:
		m.Rows, m.Columns = logLabels, testLabels
		m.Cells = make([][]models.Cell, len(logs))
		for r, rec := range logs {
			row := make([]models.Cell, len(tests))
			for c, i := range tests {
				row[c] = cell(rec, i)
			}
			m.Cells[r] = row
		}
	case TestsAsRows:
		m.Rows, m.Columns = testLabels, logLabels
		m.Cells = make([][]models.Cell, len(tests))
		for r, i := range tests {
			row := make([]models.Cell, len(logs))
			for c, rec := range logs {
				row[c] = cell(rec, i)
			}
			m.Cells[r] = row
		}
	default:
		return nil, fmt.Errorf("invalid orientation: %d", settings.Orientation)
	}
	return m, nil
}
