package aggregate

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/ictyield/backend/internal/models"
)

// ErrTestIndex is returned for a test position outside the master list.
var ErrTestIndex = errors.New("test index out of range")

// Cpk is the process capability index min(mean-lower, upper-mean) / (3 * stddev).
// It returns NaN when stddev is zero or the limits are inverted.
func Cpk(mean, stddev, lower, upper float64) float64 {
	if stddev <= 0 || upper < lower {
		return math.NaN()
	}
	return math.Min(mean-lower, upper-mean) / (3 * stddev)
}

// SeriesPoint is one recorded value of a test.
type SeriesPoint struct {
	DMC        string            `json:"dmc" msgpack:"dmc"`
	MainDMC    string            `json:"mainDmc" msgpack:"main_dmc"`
	BoardIndex int               `json:"boardIndex" msgpack:"board_index"`
	Start      models.PackedTime `json:"start" msgpack:"start"`
	Outcome    models.Outcome    `json:"outcome" msgpack:"outcome"`
	Value      float64           `json:"value" msgpack:"value"`
	Limit      models.Limit      `json:"limit" msgpack:"limit"`
}

func (h *Handler) checkIndex(index int) error {
	if index < 0 || index >= len(h.tests) {
		return fmt.Errorf("%w: %d (have %d)", ErrTestIndex, index, len(h.tests))
	}
	return nil
}

// measured skips the placeholders that pad a record, which carry no value.
func measured(m models.Measurement) bool {
	return !m.Placeholder
}

// ValueSeries returns every recorded value of the test at index, oldest first.
func (h *Handler) ValueSeries(index int) ([]SeriesPoint, error) {
	if err := h.checkIndex(index); err != nil {
		return nil, err
	}
	var points []SeriesPoint
	h.eachLog(func(p *MultiBoard, b *Board, rec *models.LogRecord) {
		m := rec.MeasurementAt(index)
		if !measured(m) {
			return
		}
		points = append(points, SeriesPoint{
			DMC:        rec.DMC,
			MainDMC:    p.MainDMC,
			BoardIndex: b.Index,
			Start:      rec.Start,
			Outcome:    m.Outcome,
			Value:      m.Value,
			Limit:      m.Limit,
		})
	})
	sort.SliceStable(points, func(i, j int) bool { return points[i].Start < points[j].Start })
	return points, nil
}

// TestStatistics summarizes one test across the session.
type TestStatistics struct {
	Index  int                    `json:"index" msgpack:"index"`
	Name   string                 `json:"name" msgpack:"name"`
	Kind   models.MeasurementKind `json:"kind" msgpack:"kind"`
	Count  int                    `json:"count" msgpack:"count"`
	Fails  int                    `json:"fails" msgpack:"fails"`
	Min    float64                `json:"min" msgpack:"min"`
	Max    float64                `json:"max" msgpack:"max"`
	Mean   float64                `json:"mean" msgpack:"mean"`
	StdDev float64                `json:"stddev" msgpack:"stddev"`
	// Limit is the most restrictive pair seen: highest lower and lowest upper bound.
	Limit  models.Limit `json:"limit" msgpack:"limit"`
	Cpk    float64      `json:"cpk" msgpack:"cpk"`
	HasCpk bool         `json:"hasCpk" msgpack:"has_cpk"`
}

// Statistics computes min/max/mean, sample standard deviation and Cpk for one test.
func (h *Handler) Statistics(index int) (TestStatistics, error) {
	if err := h.checkIndex(index); err != nil {
		return TestStatistics{}, err
	}
	st := TestStatistics{Index: index, Name: h.tests[index].Name, Kind: h.tests[index].Kind}

	var sum float64
	lower, upper := math.Inf(-1), math.Inf(1)
	limited := false
	h.eachLog(func(_ *MultiBoard, _ *Board, rec *models.LogRecord) {
		m := rec.MeasurementAt(index)
		if !measured(m) {
			return
		}
		if st.Count == 0 || m.Value < st.Min {
			st.Min = m.Value
		}
		if st.Count == 0 || m.Value > st.Max {
			st.Max = m.Value
		}
		st.Count++
		sum += m.Value
		if m.Outcome == models.OutcomeFail {
			st.Fails++
		}
		if lo, hi, ok := m.Limit.Bounds(); ok {
			limited = true
			lower = math.Max(lower, lo)
			upper = math.Min(upper, hi)
		}
	})
	if st.Count == 0 {
		return st, nil
	}
	st.Mean = sum / float64(st.Count)

	if st.Count > 1 {
		var sq float64
		h.eachLog(func(_ *MultiBoard, _ *Board, rec *models.LogRecord) {
			m := rec.MeasurementAt(index)
			if measured(m) {
				d := m.Value - st.Mean
				sq += d * d
			}
		})
		st.StdDev = math.Sqrt(sq / float64(st.Count-1))
	}

	if limited {
		st.Limit = models.TwoSided(upper, lower)
		if c := Cpk(st.Mean, st.StdDev, lower, upper); !math.IsNaN(c) {
			st.Cpk = c
			st.HasCpk = true
		}
	}
	return st, nil
}

// AllStatistics computes Statistics for every test in master-list order.
func (h *Handler) AllStatistics() []TestStatistics {
	out := make([]TestStatistics, 0, len(h.tests))
	for i := range h.tests {
		st, _ := h.Statistics(i)
		out = append(out, st)
	}
	return out
}

// LimitObservation is one limit value a test was run with.
type LimitObservation struct {
	Limit models.Limit      `json:"limit" msgpack:"limit"`
	First models.PackedTime `json:"first" msgpack:"first"`
	DMC   string            `json:"dmc" msgpack:"dmc"`
}

// LimitChange flags a test whose limits changed within the session.
type LimitChange struct {
	Index  int                `json:"index" msgpack:"index"`
	Name   string             `json:"name" msgpack:"name"`
	Limits []LimitObservation `json:"limits" msgpack:"limits"`
}

// LimitChanges lists the tests run with more than one distinct limit, each with the limits
// in the order they first appeared.
func (h *Handler) LimitChanges() []LimitChange {
	type obs struct {
		start models.PackedTime
		dmc   string
		limit models.Limit
	}
	var changes []LimitChange
	for i, t := range h.tests {
		var seen []LimitObservation
		var records []obs
		h.eachLog(func(_ *MultiBoard, _ *Board, rec *models.LogRecord) {
			m := rec.MeasurementAt(i)
			if m.Limit.Type != models.LimitNone {
				records = append(records, obs{start: rec.Start, dmc: rec.DMC, limit: m.Limit})
			}
		})
		sort.SliceStable(records, func(a, b int) bool { return records[a].start < records[b].start })
		for _, r := range records {
			known := false
			for _, s := range seen {
				if s.Limit.Equal(r.limit) {
					known = true
					break
				}
			}
			if !known {
				seen = append(seen, LimitObservation{Limit: r.limit, First: r.start, DMC: r.dmc})
			}
		}
		if len(seen) > 1 {
			changes = append(changes, LimitChange{Index: i, Name: t.Name, Limits: seen})
		}
	}
	return changes
}
