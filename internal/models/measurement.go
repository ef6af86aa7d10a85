// Package models contains the unified measurement model shared by every tester log format.
package models

import (
	"fmt"
	"math"
	"strings"
)

// Outcome is the verdict of a single measurement or test attempt.
type Outcome uint8

const (
	OutcomeUnknown Outcome = iota
	OutcomePass
	OutcomeFail
)

func (o Outcome) String() string {
	switch o {
	case OutcomePass:
		return "pass"
	case OutcomeFail:
		return "fail"
	default:
		return "unknown"
	}
}

// MarshalText encodes the outcome by name so JSON and msgpack payloads stay readable.
func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// UnmarshalText accepts the names produced by MarshalText.
func (o *Outcome) UnmarshalText(b []byte) error {
	switch strings.ToLower(string(b)) {
	case "pass":
		*o = OutcomePass
	case "fail":
		*o = OutcomeFail
	case "unknown", "":
		*o = OutcomeUnknown
	default:
		return fmt.Errorf("invalid outcome: %q", string(b))
	}
	return nil
}

// OutcomeFromStatus maps a tester status code to an outcome (0 passes).
func OutcomeFromStatus(status int) Outcome {
	if status == 0 {
		return OutcomePass
	}
	return OutcomeFail
}

// MeasurementKind classifies what a measurement physically represents.
type MeasurementKind uint8

const (
	KindUnknown MeasurementKind = iota
	KindResistance
	KindCapacitance
	KindInductance
	KindVoltage
	KindCurrent
	KindFrequency
	KindTime
	KindDigital
	KindBoundaryScan
	KindPins
	KindShorts
	KindContinuity
	KindProbe
	KindTestJet
	KindPinCheck
	KindDiagnostic
	KindTemperature
	KindPower
	KindGeneric
)

var kindNames = [...]string{
	KindUnknown:      "unknown",
	KindResistance:   "resistance",
	KindCapacitance:  "capacitance",
	KindInductance:   "inductance",
	KindVoltage:      "voltage",
	KindCurrent:      "current",
	KindFrequency:    "frequency",
	KindTime:         "time",
	KindDigital:      "digital",
	KindBoundaryScan: "boundary_scan",
	KindPins:         "pins",
	KindShorts:       "shorts",
	KindContinuity:   "continuity",
	KindProbe:        "probe",
	KindTestJet:      "testjet",
	KindPinCheck:     "pin_check",
	KindDiagnostic:   "diagnostic",
	KindTemperature:  "temperature",
	KindPower:        "power",
	KindGeneric:      "generic",
}

func (k MeasurementKind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return kindNames[KindUnknown]
}

func (k MeasurementKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *MeasurementKind) UnmarshalText(b []byte) error {
	s := string(b)
	for i, name := range kindNames {
		if name == s {
			*k = MeasurementKind(i)
			return nil
		}
	}
	return fmt.Errorf("invalid measurement kind: %q", s)
}

// LimitType tags which variant a Limit holds.
type LimitType uint8

const (
	LimitNone LimitType = iota
	LimitTwoSided
	LimitThreeSided
)

// Limit is a closed variant: none, two-sided (upper, lower) or three-sided (nominal, upper, lower).
type Limit struct {
	Type    LimitType `json:"type" msgpack:"type"`
	Nominal float64   `json:"nominal,omitempty" msgpack:"nominal,omitempty"`
	Upper   float64   `json:"upper,omitempty" msgpack:"upper,omitempty"`
	Lower   float64   `json:"lower,omitempty" msgpack:"lower,omitempty"`
}

func TwoSided(upper, lower float64) Limit {
	return Limit{Type: LimitTwoSided, Upper: upper, Lower: lower}
}

func ThreeSided(nominal, upper, lower float64) Limit {
	return Limit{Type: LimitThreeSided, Nominal: nominal, Upper: upper, Lower: lower}
}

// Bounds returns the lower and upper bound. ok is false for LimitNone.
func (l Limit) Bounds() (lower, upper float64, ok bool) {
	if l.Type == LimitNone {
		return 0, 0, false
	}
	return l.Lower, l.Upper, true
}

// Check classifies a value against the limit. Values are inclusive of both bounds.
func (l Limit) Check(v float64) Outcome {
	lower, upper, ok := l.Bounds()
	if !ok || math.IsNaN(v) {
		return OutcomeUnknown
	}
	if v < lower || v > upper {
		return OutcomeFail
	}
	return OutcomePass
}

func (l Limit) Equal(o Limit) bool {
	return l == o
}

func (l Limit) String() string {
	switch l.Type {
	case LimitTwoSided:
		return fmt.Sprintf("[%g, %g]", l.Lower, l.Upper)
	case LimitThreeSided:
		return fmt.Sprintf("[%g, %g] nom %g", l.Lower, l.Upper, l.Nominal)
	default:
		return "none"
	}
}

// Measurement is one named, typed result inside a LogRecord.
type Measurement struct {
	Name    string          `json:"name" msgpack:"name"`
	Kind    MeasurementKind `json:"kind" msgpack:"kind"`
	Outcome Outcome         `json:"outcome" msgpack:"outcome"`
	Value   float64         `json:"value" msgpack:"value"`
	Limit   Limit           `json:"limit" msgpack:"limit"`
	// Placeholder marks a slot the tester never reported; it carries no value.
	Placeholder bool `json:"placeholder,omitempty" msgpack:"placeholder,omitempty"`
}

// Placeholder returns an Unknown measurement used to pad or clear a column.
func Placeholder(name string, kind MeasurementKind) Measurement {
	return Measurement{Name: name, Kind: kind, Outcome: OutcomeUnknown, Placeholder: true}
}

// Cell is one outcome+value pair of an export matrix. Empty cells had no measurement.
type Cell struct {
	Outcome Outcome `json:"outcome" msgpack:"outcome"`
	Value   float64 `json:"value" msgpack:"value"`
	Empty   bool    `json:"empty,omitempty" msgpack:"empty,omitempty"`
}
