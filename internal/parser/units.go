package parser

import (
	"strings"

	"github.com/ictyield/backend/internal/models"
)

// Source format tags stored in LogRecord.Format.
const (
	FormatI3070  = "i3070"
	FormatFCTCSV = "fct_csv"
	FormatFCTKV  = "fct_kv"
)

type unitKey struct {
	format string
	unit   string
}

type unitSpec struct {
	kind  models.MeasurementKind
	scale float64
}

// unitTable converts a (format, raw unit) pair to a kind and a multiplier into SI base units.
// Entries with an empty format apply to every format; format-specific entries win.
var unitTable = map[unitKey]unitSpec{
	{"", "V"}:    {models.KindVoltage, 1},
	{"", "mV"}:   {models.KindVoltage, 1e-3},
	{"", "uV"}:   {models.KindVoltage, 1e-6},
	{"", "A"}:    {models.KindCurrent, 1},
	{"", "mA"}:   {models.KindCurrent, 1e-3},
	{"", "uA"}:   {models.KindCurrent, 1e-6},
	{"", "Ohm"}:  {models.KindResistance, 1},
	{"", "kOhm"}: {models.KindResistance, 1e3},
	{"", "MOhm"}: {models.KindResistance, 1e6},
	{"", "F"}:    {models.KindCapacitance, 1},
	{"", "uF"}:   {models.KindCapacitance, 1e-6},
	{"", "nF"}:   {models.KindCapacitance, 1e-9},
	{"", "pF"}:   {models.KindCapacitance, 1e-12},
	{"", "H"}:    {models.KindInductance, 1},
	{"", "mH"}:   {models.KindInductance, 1e-3},
	{"", "uH"}:   {models.KindInductance, 1e-6},
	{"", "Hz"}:   {models.KindFrequency, 1},
	{"", "kHz"}:  {models.KindFrequency, 1e3},
	{"", "MHz"}:  {models.KindFrequency, 1e6},
	{"", "s"}:    {models.KindTime, 1},
	{"", "ms"}:   {models.KindTime, 1e-3},
	{"", "us"}:   {models.KindTime, 1e-6},
	{"", "W"}:    {models.KindPower, 1},
	{"", "mW"}:   {models.KindPower, 1e-3},
	{"", "C"}:    {models.KindTemperature, 1},
	{"", "degC"}: {models.KindTemperature, 1},

	// The functional tester's key/value export writes units in upper case,
	// where MV and MA mean milli, not mega.
	{FormatFCTKV, "MV"}:   {models.KindVoltage, 1e-3},
	{FormatFCTKV, "MA"}:   {models.KindCurrent, 1e-3},
	{FormatFCTKV, "KHZ"}:  {models.KindFrequency, 1e3},
	{FormatFCTKV, "MS"}:   {models.KindTime, 1e-3},
	{FormatFCTKV, "OHM"}:  {models.KindResistance, 1},
	{FormatFCTKV, "KOHM"}: {models.KindResistance, 1e3},

	// i3070 telemetry is logged in mV / mA / s.
	{FormatI3070, "mV"}: {models.KindVoltage, 1e-3},
	{FormatI3070, "mA"}: {models.KindCurrent, 1e-3},
	{FormatI3070, "s"}:  {models.KindTime, 1},

	// CSV exports use the Ω sign.
	{FormatFCTCSV, "Ω"}:  {models.KindResistance, 1},
	{FormatFCTCSV, "kΩ"}: {models.KindResistance, 1e3},
	{FormatFCTCSV, "MΩ"}: {models.KindResistance, 1e6},
}

// ResolveUnit returns the kind and SI multiplier for a raw unit in the given format.
// An empty unit resolves to a dimensionless generic value; unknown units report ok=false.
func ResolveUnit(format, unit string) (kind models.MeasurementKind, scale float64, ok bool) {
	unit = strings.TrimSpace(unit)
	if unit == "" {
		return models.KindGeneric, 1, true
	}
	if u, found := unitTable[unitKey{format, unit}]; found {
		return u.kind, u.scale, true
	}
	if u, found := unitTable[unitKey{"", unit}]; found {
		return u.kind, u.scale, true
	}
	return models.KindGeneric, 1, false
}
