package aggregate

import (
	"github.com/ictyield/backend/internal/models"
)

// BoardReport is the failure report of a board's latest attempt.
type BoardReport struct {
	DMC        string            `json:"dmc"`
	MainDMC    string            `json:"mainDmc"`
	BoardIndex int               `json:"boardIndex"`
	Start      models.PackedTime `json:"start"`
	Passed     bool              `json:"passed"`
	Status     int               `json:"status"`
	Failed     []string          `json:"failed"`
	Report     string            `json:"report"`
	Attempts   int               `json:"attempts"`
}

func newBoardReport(p *MultiBoard, b *Board) (BoardReport, bool) {
	rec := b.Latest()
	if rec == nil {
		return BoardReport{}, false
	}
	r := BoardReport{
		DMC:        rec.DMC,
		MainDMC:    p.MainDMC,
		BoardIndex: b.Index,
		Start:      rec.Start,
		Passed:     rec.Passed,
		Status:     rec.Status,
		Report:     rec.Report,
		Attempts:   len(b.Logs),
		Failed:     make([]string, 0),
	}
	for _, m := range rec.Measurements {
		if m.Outcome == models.OutcomeFail {
			r.Failed = append(r.Failed, m.Name)
		}
	}
	return r, true
}

// Report returns the report of the board last tested under dmc.
func (h *Handler) Report(dmc string) (BoardReport, bool) {
	b, ok := h.byDMC[dmc]
	if !ok {
		return BoardReport{}, false
	}
	rec := b.Latest()
	if rec == nil {
		return BoardReport{}, false
	}
	p, ok := h.panels[rec.MainDMC]
	if !ok {
		p = &MultiBoard{MainDMC: rec.MainDMC}
	}
	return newBoardReport(p, b)
}

// ReportAt returns the report of the board at a 1-based position of a panel.
func (h *Handler) ReportAt(mainDMC string, index int) (BoardReport, bool) {
	p, ok := h.panels[mainDMC]
	if !ok {
		return BoardReport{}, false
	}
	b, ok := p.BoardAt(index)
	if !ok {
		return BoardReport{}, false
	}
	return newBoardReport(p, b)
}

// FirstFailingReport returns the report of the lowest-indexed board of a panel whose latest
// attempt failed.
func (h *Handler) FirstFailingReport(mainDMC string) (BoardReport, bool) {
	p, ok := h.panels[mainDMC]
	if !ok {
		return BoardReport{}, false
	}
	for _, b := range p.Boards {
		if rec := b.Latest(); rec != nil && !rec.Passed {
			return newBoardReport(p, b)
		}
	}
	return BoardReport{}, false
}
