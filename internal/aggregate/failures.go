package aggregate

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ictyield/backend/internal/models"
)

// FailureScope selects which attempts of each board a failure list counts.
type FailureScope int

const (
	ScopeFirstPass FailureScope = iota
	ScopeLatestAttempt
	ScopeAllAttempts
)

func (s FailureScope) String() string {
	switch s {
	case ScopeFirstPass:
		return "first"
	case ScopeLatestAttempt:
		return "latest"
	default:
		return "all"
	}
}

// ParseFailureScope accepts "first", "latest" and "all".
func ParseFailureScope(s string) (FailureScope, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "first", "first-pass", "firstpass":
		return ScopeFirstPass, nil
	case "latest", "last", "final":
		return ScopeLatestAttempt, nil
	case "all", "":
		return ScopeAllAttempts, nil
	default:
		return ScopeAllAttempts, fmt.Errorf("invalid failure scope: %q", s)
	}
}

// attempts returns the logs of b that fall into the scope.
func (s FailureScope) attempts(b *Board) []*models.LogRecord {
	if len(b.Logs) == 0 {
		return nil
	}
	switch s {
	case ScopeFirstPass:
		return b.Logs[:1]
	case ScopeLatestAttempt:
		return b.Logs[len(b.Logs)-1:]
	default:
		return b.Logs
	}
}

// FailureOccurrence is one failing attempt.
type FailureOccurrence struct {
	DMC   string            `json:"dmc" msgpack:"dmc"`
	Start models.PackedTime `json:"start" msgpack:"start"`
}

// Failure is the failure count of one test.
type Failure struct {
	Index       int                 `json:"index" msgpack:"index"`
	Name        string              `json:"name" msgpack:"name"`
	Count       int                 `json:"count" msgpack:"count"`
	ByPosition  map[int]int         `json:"byPosition" msgpack:"by_position"` // board index -> count
	Occurrences []FailureOccurrence `json:"occurrences" msgpack:"occurrences"`
}

// FailureList counts failing measurements per test, most frequent first.
func (h *Handler) FailureList(scope FailureScope) []Failure {
	byIndex := make(map[int]*Failure)
	for _, p := range h.order {
		for _, b := range p.Boards {
			for _, rec := range scope.attempts(b) {
				for i, m := range rec.Measurements {
					if m.Outcome != models.OutcomeFail {
						continue
					}
					f, ok := byIndex[i]
					if !ok {
						f = &Failure{Index: i, Name: m.Name, ByPosition: make(map[int]int)}
						byIndex[i] = f
					}
					f.Count++
					f.ByPosition[b.Index]++
					f.Occurrences = append(f.Occurrences, FailureOccurrence{DMC: rec.DMC, Start: rec.Start})
				}
			}
		}
	}

	out := make([]Failure, 0, len(byIndex))
	for _, f := range byIndex {
		sort.SliceStable(f.Occurrences, func(i, j int) bool { return f.Occurrences[i].Start < f.Occurrences[j].Start })
		out = append(out, *f)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Index < out[j].Index
	})
	return out
}
