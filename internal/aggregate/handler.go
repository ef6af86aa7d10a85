// Package aggregate groups log records into panels and boards and derives yield,
// failure and statistics views from them.
//
// A Handler is not safe for concurrent use. Callers serialize mutations (Push, Update,
// Clear) against everything else; read-only queries may run together.
package aggregate

import (
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/ictyield/backend/internal/catalog"
	"github.com/ictyield/backend/internal/models"
)

// TestDescriptor is one column of the master test list.
type TestDescriptor struct {
	Name string                 `json:"name" msgpack:"name"`
	Kind models.MeasurementKind `json:"kind" msgpack:"kind"`
}

// Handler is the session-wide aggregation state.
type Handler struct {
	source catalog.Source

	product string
	meta    catalog.Product
	hasMeta bool
	golden  map[string]struct{}

	tests     []TestDescriptor
	testCount map[string]int // occurrences of each name in tests

	panels    map[string]*MultiBoard
	order     []*MultiBoard
	byDMC     map[string]*Board
	maxBoards int
	logs      int
}

// NewHandler creates an empty handler. source may be nil when no catalog is configured.
func NewHandler(source catalog.Source) *Handler {
	h := &Handler{source: source}
	h.Clear()
	return h
}

// Clear drops every panel, the master test list, the product and the golden-sample cache.
func (h *Handler) Clear() {
	h.product = ""
	h.meta = catalog.Product{}
	h.hasMeta = false
	h.golden = nil
	h.tests = nil
	h.testCount = make(map[string]int)
	h.panels = make(map[string]*MultiBoard)
	h.order = nil
	h.byDMC = make(map[string]*Board)
	h.maxBoards = 0
	h.logs = 0
}

// Product returns the session's product id, empty before the first push.
func (h *Handler) Product() string { return h.product }

// ProductInfo returns the catalog entry of the session's product, if any.
func (h *Handler) ProductInfo() (catalog.Product, bool) { return h.meta, h.hasMeta }

// MaxBoards is the widest panel seen.
func (h *Handler) MaxBoards() int { return h.maxBoards }

// LogCount is the number of accepted log records.
func (h *Handler) LogCount() int { return h.logs }

// TestList returns a copy of the master test list.
func (h *Handler) TestList() []TestDescriptor {
	return append([]TestDescriptor(nil), h.tests...)
}

// IsGolden reports whether a DMC is in the golden-sample set.
func (h *Handler) IsGolden(dmc string) bool {
	_, ok := h.golden[dmc]
	return ok
}

// Push ingests one log record. The handler takes ownership of rec and rewrites its
// measurement vector to match the master test list. It returns false, leaving the state
// unchanged, when the record belongs to another product or carries nothing to ingest.
func (h *Handler) Push(rec *models.LogRecord) bool {
	if rec == nil || len(rec.Measurements) == 0 {
		log.Warn().Msg("rejecting log record without measurements")
		return false
	}
	if rec.BoardIndex < 1 {
		log.Warn().Str("dmc", rec.DMC).Int("index", rec.BoardIndex).Msg("rejecting log record with invalid board index")
		return false
	}
	if h.product == "" && len(h.tests) == 0 {
		h.startSession(rec)
	} else if rec.Product != h.product {
		log.Warn().Str("dmc", rec.DMC).Str("product", rec.Product).Str("session", h.product).Msg("rejecting log record of another product")
		return false
	}

	h.normalize(rec)

	mainDMC := rec.MainDMC
	if mainDMC == "" {
		mainDMC = rec.DMC
		rec.MainDMC = mainDMC
	}
	panel, ok := h.panels[mainDMC]
	if !ok {
		panel = &MultiBoard{MainDMC: mainDMC}
		h.panels[mainDMC] = panel
		h.order = append(h.order, panel)
	}
	if h.IsGolden(mainDMC) || h.IsGolden(rec.DMC) {
		panel.Golden = true
	}

	board := panel.board(rec.BoardIndex)
	if board.DMC == "" {
		board.DMC = rec.DMC
	}
	board.Logs = append(board.Logs, rec)
	h.byDMC[rec.DMC] = board
	if len(panel.Boards) > h.maxBoards {
		h.maxBoards = len(panel.Boards)
	}
	h.logs++
	return true
}

func (h *Handler) startSession(rec *models.LogRecord) {
	h.product = rec.Product
	h.golden = make(map[string]struct{})
	if h.source != nil {
		h.meta, h.hasMeta = h.source.Product(rec.Product)
		golden, err := h.source.GoldenSamples(rec.Product)
		if err != nil {
			log.Error().Err(err).Str("product", rec.Product).Msg("failed to load golden samples")
		} else {
			h.golden = golden
		}
	}
	for _, m := range rec.Measurements {
		h.appendTest(m.Name, m.Kind)
	}
	log.Info().Str("product", h.product).Int("tests", len(h.tests)).Int("golden", len(h.golden)).Msg("aggregation session started")
}

func (h *Handler) appendTest(name string, kind models.MeasurementKind) {
	h.tests = append(h.tests, TestDescriptor{Name: name, Kind: kind})
	h.testCount[name]++
}

// normalize grows the master list with unseen names, pads rec to its length and moves
// any measurement sitting under a foreign column to the slot carrying its name.
func (h *Handler) normalize(rec *models.LogRecord) {
	seen := make(map[string]int, len(rec.Measurements))
	for _, m := range rec.Measurements {
		seen[m.Name]++
		if seen[m.Name] > h.testCount[m.Name] {
			h.appendTest(m.Name, m.Kind)
		}
	}

	n := len(rec.Measurements)
	for i := n; i < len(h.tests); i++ {
		rec.Measurements = append(rec.Measurements, models.Placeholder(h.tests[i].Name, h.tests[i].Kind))
	}

	filled := make([]bool, len(h.tests))
	var moved []models.Measurement
	for i := 0; i < n; i++ {
		if rec.Measurements[i].Name == h.tests[i].Name {
			filled[i] = true
			continue
		}
		moved = append(moved, rec.Measurements[i])
		rec.Measurements[i] = models.Placeholder(h.tests[i].Name, h.tests[i].Kind)
	}
	if len(moved) == 0 {
		return
	}

	for _, m := range moved {
		for j := range h.tests {
			if !filled[j] && h.tests[j].Name == m.Name {
				rec.Measurements[j] = m
				filled[j] = true
				break
			}
		}
	}
	log.Debug().Str("dmc", rec.DMC).Int("moved", len(moved)).Msg("realigned measurements")
}

// Update pads records ingested before the test list last grew and recomputes every
// panel's results.
func (h *Handler) Update() {
	for _, p := range h.order {
		for _, b := range p.Boards {
			sort.SliceStable(b.Logs, func(i, j int) bool { return b.Logs[i].Start < b.Logs[j].Start })
			for _, rec := range b.Logs {
				for i := len(rec.Measurements); i < len(h.tests); i++ {
					rec.Measurements = append(rec.Measurements, models.Placeholder(h.tests[i].Name, h.tests[i].Kind))
				}
			}
		}
		p.computeResults()
	}
}

// Panels returns the panels in first-seen order.
func (h *Handler) Panels() []*MultiBoard {
	return append([]*MultiBoard(nil), h.order...)
}

// Panel returns the panel for a main DMC.
func (h *Handler) Panel(mainDMC string) (*MultiBoard, bool) {
	p, ok := h.panels[mainDMC]
	return p, ok
}

// Board returns the board that last logged under a DMC.
func (h *Handler) Board(dmc string) (*Board, bool) {
	b, ok := h.byDMC[dmc]
	return b, ok
}

// eachLog calls fn for every log of every board, panels in first-seen order.
func (h *Handler) eachLog(fn func(p *MultiBoard, b *Board, rec *models.LogRecord)) {
	for _, p := range h.order {
		for _, b := range p.Boards {
			for _, rec := range b.Logs {
				fn(p, b, rec)
			}
		}
	}
}
