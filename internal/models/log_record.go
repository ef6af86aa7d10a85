package models

import (
	"fmt"
	"time"
)

// PackedTime is a tester timestamp encoded as the decimal integer YYMMDDHHMMSS.
type PackedTime uint64

// PackTime encodes t as YYMMDDHHMMSS. Years outside 2000-2099 are folded modulo 100.
func PackTime(t time.Time) PackedTime {
	return PackedTime(uint64(t.Year()%100)*10000000000 +
		uint64(t.Month())*100000000 +
		uint64(t.Day())*1000000 +
		uint64(t.Hour())*10000 +
		uint64(t.Minute())*100 +
		uint64(t.Second()))
}

// HourKey drops the minute and second digits: 250307213346 -> 25030721.
func (p PackedTime) HourKey() uint64 {
	return uint64(p) / 10000
}

// MinuteSecond returns the MMSS part of the timestamp.
func (p PackedTime) MinuteSecond() uint32 {
	return uint32(uint64(p) % 10000)
}

// Time decodes the packed value in UTC, assuming the 2000s.
func (p PackedTime) Time() time.Time {
	v := uint64(p)
	sec := int(v % 100)
	v /= 100
	min := int(v % 100)
	v /= 100
	hour := int(v % 100)
	v /= 100
	day := int(v % 100)
	v /= 100
	month := int(v % 100)
	v /= 100
	year := 2000 + int(v%100)
	return time.Date(year, time.Month(month), day, hour, min, sec, 0, time.UTC)
}

func (p PackedTime) String() string {
	return fmt.Sprintf("%012d", uint64(p))
}

// LogRecord is one tester execution of one board.
type LogRecord struct {
	Source       string        `json:"source"`
	DMC          string        `json:"dmc"`
	MainDMC      string        `json:"mainDmc"`
	Product      string        `json:"product"`
	BoardIndex   int           `json:"boardIndex"` // 1-based position on the panel
	Passed       bool          `json:"passed"`
	Status       int           `json:"status"`
	Start        PackedTime    `json:"start"`
	End          PackedTime    `json:"end"`
	Measurements []Measurement `json:"measurements"`
	Report       string        `json:"report,omitempty"`
	Version      string        `json:"version,omitempty"`
	Format       string        `json:"format"`
	MESEligible  bool          `json:"mesEligible"`
}

// Outcome is the overall verdict of the attempt.
func (r *LogRecord) Outcome() Outcome {
	if r.Passed {
		return OutcomePass
	}
	return OutcomeFail
}

// HasFailure reports whether any measurement carries a Fail outcome.
func (r *LogRecord) HasFailure() bool {
	for i := range r.Measurements {
		if r.Measurements[i].Outcome == OutcomeFail {
			return true
		}
	}
	return false
}

// MeasurementAt returns the measurement at position i, or an Unknown placeholder when the
// record was ingested before the test list grew past i.
func (r *LogRecord) MeasurementAt(i int) Measurement {
	if i < 0 || i >= len(r.Measurements) {
		return Measurement{Placeholder: true}
	}
	return r.Measurements[i]
}
