package aggregate

import (
	"sort"

	"github.com/ictyield/backend/internal/models"
)

// Yield counts outcomes. Unknown results are counted but never pass.
type Yield struct {
	Pass    int `json:"pass" msgpack:"pass"`
	Fail    int `json:"fail" msgpack:"fail"`
	Unknown int `json:"unknown" msgpack:"unknown"`
}

func (y *Yield) add(o models.Outcome) {
	switch o {
	case models.OutcomePass:
		y.Pass++
	case models.OutcomeFail:
		y.Fail++
	default:
		y.Unknown++
	}
}

// Total is the number of counted results.
func (y Yield) Total() int { return y.Pass + y.Fail + y.Unknown }

// Percent is the pass share in percent, 0 when nothing was counted.
func (y Yield) Percent() float64 {
	if y.Total() == 0 {
		return 0
	}
	return float64(y.Pass) * 100 / float64(y.Total())
}

// YieldTuple holds first-pass, final and total yield.
type YieldTuple struct {
	FirstPass Yield `json:"firstPass" msgpack:"first_pass"`
	Final     Yield `json:"final" msgpack:"final"`
	Total     Yield `json:"total" msgpack:"total"`
}

// Yields is the session yield, per panel and per board, with and without golden samples.
type Yields struct {
	Panel           YieldTuple `json:"panel" msgpack:"panel"`
	PanelWithGolden YieldTuple `json:"panelWithGolden" msgpack:"panel_with_golden"`
	Board           YieldTuple `json:"board" msgpack:"board"`
	BoardWithGolden YieldTuple `json:"boardWithGolden" msgpack:"board_with_golden"`
}

// Yields aggregates the panel results computed by the last Update.
func (h *Handler) Yields() Yields {
	var y Yields
	for _, p := range h.order {
		if len(p.Results) > 0 {
			first, final := p.Results[0].Outcome, p.Results[len(p.Results)-1].Outcome
			y.PanelWithGolden.FirstPass.add(first)
			y.PanelWithGolden.Final.add(final)
			if !p.Golden {
				y.Panel.FirstPass.add(first)
				y.Panel.Final.add(final)
			}
			for _, r := range p.Results {
				y.PanelWithGolden.Total.add(r.Outcome)
				if !p.Golden {
					y.Panel.Total.add(r.Outcome)
				}
			}
		}

		for _, b := range p.Boards {
			if len(b.Logs) == 0 {
				continue
			}
			golden := p.Golden || h.IsGolden(b.DMC)
			first, final := b.First().Outcome(), b.Latest().Outcome()
			y.BoardWithGolden.FirstPass.add(first)
			y.BoardWithGolden.Final.add(final)
			if !golden {
				y.Board.FirstPass.add(first)
				y.Board.Final.add(final)
			}
			for _, rec := range b.Logs {
				y.BoardWithGolden.Total.add(rec.Outcome())
				if !golden {
					y.Board.Total.add(rec.Outcome())
				}
			}
		}
	}
	return y
}

// HourlyEntry is one board attempt in an hourly bucket.
type HourlyEntry struct {
	Outcome      models.Outcome `json:"outcome" msgpack:"outcome"`
	MinuteSecond uint32         `json:"minuteSecond" msgpack:"minute_second"`
	DMC          string         `json:"dmc" msgpack:"dmc"`
	Golden       bool           `json:"golden" msgpack:"golden"`
}

// HourlyBucket aggregates every result whose timestamp falls into one hour.
type HourlyBucket struct {
	Hour            uint64        `json:"hour" msgpack:"hour"` // YYMMDDHH
	Panel           Yield         `json:"panel" msgpack:"panel"`
	PanelWithGolden Yield         `json:"panelWithGolden" msgpack:"panel_with_golden"`
	Board           Yield         `json:"board" msgpack:"board"`
	BoardWithGolden Yield         `json:"boardWithGolden" msgpack:"board_with_golden"`
	Entries         []HourlyEntry `json:"entries" msgpack:"entries"`
}

// HourlyStats buckets panel results and board attempts by hour, oldest first.
func (h *Handler) HourlyStats() []HourlyBucket {
	buckets := make(map[uint64]*HourlyBucket)
	bucket := func(t models.PackedTime) *HourlyBucket {
		key := t.HourKey()
		b, ok := buckets[key]
		if !ok {
			b = &HourlyBucket{Hour: key}
			buckets[key] = b
		}
		return b
	}

	for _, p := range h.order {
		for _, r := range p.Results {
			b := bucket(r.Start)
			b.PanelWithGolden.add(r.Outcome)
			if !p.Golden {
				b.Panel.add(r.Outcome)
			}
		}
		for _, board := range p.Boards {
			golden := p.Golden || h.IsGolden(board.DMC)
			for _, rec := range board.Logs {
				b := bucket(rec.Start)
				b.BoardWithGolden.add(rec.Outcome())
				if !golden {
					b.Board.add(rec.Outcome())
				}
				b.Entries = append(b.Entries, HourlyEntry{
					Outcome:      rec.Outcome(),
					MinuteSecond: rec.Start.MinuteSecond(),
					DMC:          rec.DMC,
					Golden:       golden,
				})
			}
		}
	}

	out := make([]HourlyBucket, 0, len(buckets))
	for _, b := range buckets {
		sort.SliceStable(b.Entries, func(i, j int) bool { return b.Entries[i].MinuteSecond < b.Entries[j].MinuteSecond })
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Hour < out[j].Hour })
	return out
}
