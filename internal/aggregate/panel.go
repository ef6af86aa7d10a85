package aggregate

import (
	"sort"

	"github.com/ictyield/backend/internal/models"
)

// Board is one position on a panel with its ordered test attempts.
type Board struct {
	Index int                 `json:"index"`
	DMC   string              `json:"dmc"`
	Logs  []*models.LogRecord `json:"-"`
}

// First returns the earliest attempt, nil for a position never tested.
func (b *Board) First() *models.LogRecord {
	if len(b.Logs) == 0 {
		return nil
	}
	return b.Logs[0]
}

// Latest returns the most recent attempt, nil for a position never tested.
func (b *Board) Latest() *models.LogRecord {
	if len(b.Logs) == 0 {
		return nil
	}
	return b.Logs[len(b.Logs)-1]
}

// outcomeAt is the verdict of the attempt started at t, Unknown when the board has none.
// A board tested twice within the same second reports its last attempt.
func (b *Board) outcomeAt(t models.PackedTime) models.Outcome {
	out := models.OutcomeUnknown
	for _, rec := range b.Logs {
		if rec.Start == t {
			out = rec.Outcome()
		}
	}
	return out
}

// PanelResult is the panel verdict for one test timestamp.
type PanelResult struct {
	Start   models.PackedTime `json:"start"`
	End     models.PackedTime `json:"end"`
	Outcome models.Outcome    `json:"outcome"`
	Boards  []models.Outcome  `json:"boards"` // by board index - 1
}

// MultiBoard is a panel: boards indexed 1..N sharing one main DMC.
type MultiBoard struct {
	MainDMC string        `json:"mainDmc"`
	Golden  bool          `json:"golden"`
	Boards  []*Board      `json:"boards"`
	Results []PanelResult `json:"results"`
}

// board returns the board at a 1-based index, creating every missing position up to it.
func (p *MultiBoard) board(index int) *Board {
	for len(p.Boards) < index {
		p.Boards = append(p.Boards, &Board{Index: len(p.Boards) + 1})
	}
	return p.Boards[index-1]
}

// BoardAt returns the board at a 1-based index.
func (p *MultiBoard) BoardAt(index int) (*Board, bool) {
	if index < 1 || index > len(p.Boards) {
		return nil, false
	}
	return p.Boards[index-1], true
}

// classify folds per-board outcomes: any Fail fails, else any Unknown is Unknown.
func classify(outcomes []models.Outcome) models.Outcome {
	if len(outcomes) == 0 {
		return models.OutcomeUnknown
	}
	result := models.OutcomePass
	for _, o := range outcomes {
		switch o {
		case models.OutcomeFail:
			return models.OutcomeFail
		case models.OutcomeUnknown:
			result = models.OutcomeUnknown
		}
	}
	return result
}

func (p *MultiBoard) computeResults() {
	// start -> latest end seen for it
	stamps := make(map[models.PackedTime]models.PackedTime)
	for _, b := range p.Boards {
		for _, rec := range b.Logs {
			if end, ok := stamps[rec.Start]; !ok || rec.End > end {
				stamps[rec.Start] = rec.End
			}
		}
	}

	results := make([]PanelResult, 0, len(stamps))
	for t, end := range stamps {
		outcomes := make([]models.Outcome, len(p.Boards))
		for i, b := range p.Boards {
			outcomes[i] = b.outcomeAt(t)
		}
		if end < t {
			end = t
		}
		results = append(results, PanelResult{Start: t, End: end, Outcome: classify(outcomes), Boards: outcomes})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Start < results[j].Start })
	p.Results = results
}

// FirstResult is the panel's first-pass verdict.
func (p *MultiBoard) FirstResult() (PanelResult, bool) {
	if len(p.Results) == 0 {
		return PanelResult{}, false
	}
	return p.Results[0], true
}

// FinalResult is the panel's verdict after its last test.
func (p *MultiBoard) FinalResult() (PanelResult, bool) {
	if len(p.Results) == 0 {
		return PanelResult{}, false
	}
	return p.Results[len(p.Results)-1], true
}

// BoardSummary describes one panel position.
type BoardSummary struct {
	Index    int    `json:"index" msgpack:"index"`
	DMC      string `json:"dmc" msgpack:"dmc"`
	Attempts int    `json:"attempts" msgpack:"attempts"`
}

// PanelSnapshot is a detached copy of a panel and its result rows.
type PanelSnapshot struct {
	MainDMC string         `json:"mainDmc" msgpack:"main_dmc"`
	Golden  bool           `json:"golden" msgpack:"golden"`
	Boards  []BoardSummary `json:"boards" msgpack:"boards"`
	Results []PanelResult  `json:"results" msgpack:"results"`
}

// Snapshot copies the panel so it can outlive the caller's lock.
func (p *MultiBoard) Snapshot() PanelSnapshot {
	s := PanelSnapshot{
		MainDMC: p.MainDMC,
		Golden:  p.Golden,
		Boards:  make([]BoardSummary, len(p.Boards)),
		Results: make([]PanelResult, len(p.Results)),
	}
	for i, b := range p.Boards {
		s.Boards[i] = BoardSummary{Index: b.Index, DMC: b.DMC, Attempts: len(b.Logs)}
	}
	for i, r := range p.Results {
		r.Boards = append([]models.Outcome(nil), r.Boards...)
		s.Results[i] = r
	}
	return s
}

// PanelResults returns a snapshot of every panel with its result rows, in first-seen order.
func (h *Handler) PanelResults() []PanelSnapshot {
	out := make([]PanelSnapshot, len(h.order))
	for i, p := range h.order {
		out[i] = p.Snapshot()
	}
	return out
}
