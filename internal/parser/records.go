package parser

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ictyield/backend/internal/models"
)

var (
	// ErrTooFewFields is returned when a record carries fewer fields than its shape requires.
	ErrTooFewFields = errors.New("too few fields")
	// ErrBadNumber is returned for numeric fields holding non-numeric text.
	ErrBadNumber = errors.New("invalid number")
	// ErrBadBool is returned for boolean fields outside the record's encoding.
	ErrBadBool = errors.New("invalid boolean")
)

// Record tags of the i3070 grammar. Analog tests share the A- prefix.
const (
	TagBatch        = "BATCH"
	TagBlock        = "BLOCK"
	TagBoundaryScan = "BS-CON"
	TagBSOpen       = "BS-O"
	TagBSShort      = "BS-S"
	TagBoardTest    = "BTEST"
	TagContinuity   = "CCHK"
	TagDevicePins   = "DPIN"
	TagDigital      = "D-T"
	TagIndict       = "INDICT"
	TagLimit2       = "LIM2"
	TagLimit3       = "LIM3"
	TagNetVersion   = "NETV"
	TagNodeList     = "NODE"
	TagPinCheck     = "PCHK"
	TagPinSummary   = "PF"
	TagPinList      = "PIN"
	TagProbe        = "PRB"
	TagRetest       = "RETEST"
	TagReport       = "RPT"
	TagTestJet      = "TJET"
	TagShorts       = "TS"
	TagShortSource  = "TS-S"
	TagShortDest    = "TS-D"
	TagShortOpen    = "TS-O"
	TagShortPhantom = "TS-P"
	TagAnalogFamily = "A-"
	tagError        = "!ERROR"
	listSuffix      = `\list`
)

// Record is one decoded node payload of the tree grammar.
type Record interface {
	Tag() string
}

// AnalogRecord is an analog test (A-RES, A-CAP, ...). Limits arrive as child LIM2/LIM3 nodes.
type AnalogRecord struct {
	Subtype    string // RES, CAP, ...
	Status     int
	Value      float64
	Designator string
}

func (r *AnalogRecord) Tag() string { return TagAnalogFamily + r.Subtype }

// Kind maps the analog subtype to the quantity it measures.
func (r *AnalogRecord) Kind() models.MeasurementKind {
	switch r.Subtype {
	case "RES", "FUS", "JUM", "POT", "SWI":
		return models.KindResistance
	case "CAP":
		return models.KindCapacitance
	case "IND":
		return models.KindInductance
	case "DIO", "ZEN", "NPN", "PNP", "NFE", "PFE", "MEA":
		return models.KindVoltage
	default:
		return models.KindGeneric
	}
}

var analogSubtypes = map[string]struct{}{
	"CAP": {}, "DIO": {}, "FUS": {}, "IND": {}, "JUM": {}, "MEA": {}, "NFE": {},
	"NPN": {}, "PFE": {}, "PNP": {}, "POT": {}, "RES": {}, "SWI": {}, "ZEN": {},
}

type BatchRecord struct {
	Product         string
	ProductRev      string
	FixtureID       string
	TestheadNumber  int
	TestheadType    string
	ProcessStep     string
	BatchID         string
	OperatorID      string
	Controller      string
	TestplanID      string
	TestplanRev     string
	ParentPanelType string
	ParentPanelRev  string
	Version         string
}

func (r *BatchRecord) Tag() string { return TagBatch }

type BlockRecord struct {
	Designator string
	Status     int
}

func (r *BlockRecord) Tag() string { return TagBlock }

type BoundaryScanRecord struct {
	Designator string
	Status     int
	Shorts     int
	Opens      int
}

func (r *BoundaryScanRecord) Tag() string { return TagBoundaryScan }

type BoundaryScanOpenRecord struct {
	FirstDevice  string
	FirstPin     string
	SecondDevice string
	SecondPin    string
}

func (r *BoundaryScanOpenRecord) Tag() string { return TagBSOpen }

type BoundaryScanShortRecord struct {
	Cause      string
	DevicePins []string
}

func (r *BoundaryScanShortRecord) Tag() string { return TagBSShort }

// BoardTestRecord is the per-board header (BTEST).
type BoardTestRecord struct {
	BoardID         string
	Status          int
	Start           models.PackedTime
	Duration        int
	MultipleTest    bool
	LogLevel        string
	LogSet          int
	Learning        bool
	KnownGood       bool
	End             models.PackedTime
	StatusQualifier string
	BoardNumber     int
	ParentPanelID   string
}

func (r *BoardTestRecord) Tag() string { return TagBoardTest }

type ContinuityRecord struct {
	Status     int
	PinCount   int
	Designator string
}

func (r *ContinuityRecord) Tag() string { return TagContinuity }

type DevicePinRecord struct {
	Device string
	Pins   []string
}

func (r *DevicePinRecord) Tag() string { return TagDevicePins }

type DigitalRecord struct {
	Status        int
	Substatus     int
	FailingVector int
	PinCount      int
	Designator    string
}

func (r *DigitalRecord) Tag() string { return TagDigital }

type IndictRecord struct {
	Technique string
	Devices   []string
}

func (r *IndictRecord) Tag() string { return TagIndict }

// LimitRecord carries either a LIM2 or a LIM3 limit.
type LimitRecord struct {
	Limit models.Limit
}

func (r *LimitRecord) Tag() string {
	if r.Limit.Type == models.LimitThreeSided {
		return TagLimit3
	}
	return TagLimit2
}

type NetVersionRecord struct {
	Datetime     models.PackedTime
	TestSystem   string
	RepairSystem string
	Source       string
}

func (r *NetVersionRecord) Tag() string { return TagNetVersion }

type NodeRecord struct {
	Nodes []string
}

func (r *NodeRecord) Tag() string { return TagNodeList }

type PinCheckRecord struct {
	Status     int
	Designator string
}

func (r *PinCheckRecord) Tag() string { return TagPinCheck }

type PinSummaryRecord struct {
	Designator string
	Status     int
	TotalPins  int
}

func (r *PinSummaryRecord) Tag() string { return TagPinSummary }

type PinListRecord struct {
	Pins []string
}

func (r *PinListRecord) Tag() string { return TagPinList }

type ProbeRecord struct {
	Status     int
	Designator string
}

func (r *ProbeRecord) Tag() string { return TagProbe }

type RetestRecord struct {
	Datetime models.PackedTime
}

func (r *RetestRecord) Tag() string { return TagRetest }

type ReportRecord struct {
	Message string
}

func (r *ReportRecord) Tag() string { return TagReport }

type TestJetRecord struct {
	Status     int
	PinCount   int
	Designator string
}

func (r *TestJetRecord) Tag() string { return TagTestJet }

// ShortsRecord is the shorts test summary. Its sub-records are children.
type ShortsRecord struct {
	Status     int
	Shorts     int
	Opens      int
	Phantoms   int
	Designator string
}

func (r *ShortsRecord) Tag() string { return TagShorts }

type ShortSourceRecord struct {
	Node string
}

func (r *ShortSourceRecord) Tag() string { return TagShortSource }

type ShortDestRecord struct {
	Node       string
	Resistance float64
}

func (r *ShortDestRecord) Tag() string { return TagShortDest }

type OpenRecord struct {
	FromNode string
	ToNode   string
}

func (r *OpenRecord) Tag() string { return TagShortOpen }

type PhantomRecord struct {
	Resistance float64
}

func (r *PhantomRecord) Tag() string { return TagShortPhantom }

// UserRecord keeps unrecognized tags verbatim for telemetry handling in the extractor.
type UserRecord struct {
	Name   string
	Fields []string
}

func (r *UserRecord) Tag() string { return r.Name }

// ErrorRecord replaces a node whose content could not be decoded.
type ErrorRecord struct {
	Raw string
	Err error
}

func (r *ErrorRecord) Tag() string { return tagError }

// fieldReader decodes positional fields and remembers the first error.
type fieldReader struct {
	tag  string
	vals []string
	err  error
}

func (f *fieldReader) fail(i int, kind error, raw string) {
	if f.err == nil {
		f.err = fmt.Errorf("%s field %d %q: %w", f.tag, i+1, raw, kind)
	}
}

func (f *fieldReader) str(i int) string {
	if i >= len(f.vals) {
		return ""
	}
	return strings.TrimSpace(f.vals[i])
}

func (f *fieldReader) int(i int) int {
	s := f.str(i)
	if s == "" {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimPrefix(s, "+"))
	if err != nil {
		f.fail(i, ErrBadNumber, s)
		return 0
	}
	return n
}

func (f *fieldReader) float(i int) float64 {
	s := f.str(i)
	if s == "" {
		return 0
	}
	v, err := parseFinite(s)
	if err != nil {
		f.fail(i, ErrBadNumber, s)
		return 0
	}
	return v
}

func (f *fieldReader) packed(i int) models.PackedTime {
	s := f.str(i)
	if s == "" {
		return 0
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		f.fail(i, ErrBadNumber, s)
		return 0
	}
	return models.PackedTime(v)
}

// bool01 decodes "0"/"1" flags.
func (f *fieldReader) bool01(i int) bool {
	switch s := f.str(i); s {
	case "", "0":
		return false
	case "1":
		return true
	default:
		f.fail(i, ErrBadBool, s)
		return false
	}
}

// boolYN decodes "n"/"y" flags.
func (f *fieldReader) boolYN(i int) bool {
	switch s := strings.ToLower(f.str(i)); s {
	case "", "n":
		return false
	case "y":
		return true
	default:
		f.fail(i, ErrBadBool, s)
		return false
	}
}

func (f *fieldReader) rest(i int) []string {
	if i >= len(f.vals) {
		return nil
	}
	out := make([]string, 0, len(f.vals)-i)
	for _, v := range f.vals[i:] {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

type decodeFunc func(f *fieldReader) Record

type recordShape struct {
	minFields int
	decode    decodeFunc
}

var recordShapes = map[string]recordShape{
	TagBatch: {11, func(f *fieldReader) Record {
		return &BatchRecord{
			Product: f.str(0), ProductRev: f.str(1), FixtureID: f.str(2),
			TestheadNumber: f.int(3), TestheadType: f.str(4), ProcessStep: f.str(5),
			BatchID: f.str(6), OperatorID: f.str(7), Controller: f.str(8),
			TestplanID: f.str(9), TestplanRev: f.str(10), ParentPanelType: f.str(11),
			ParentPanelRev: f.str(12), Version: f.str(13),
		}
	}},
	TagBlock: {2, func(f *fieldReader) Record {
		return &BlockRecord{Designator: f.str(0), Status: f.int(1)}
	}},
	TagBoundaryScan: {2, func(f *fieldReader) Record {
		return &BoundaryScanRecord{Designator: f.str(0), Status: f.int(1), Shorts: f.int(2), Opens: f.int(3)}
	}},
	TagBSOpen: {4, func(f *fieldReader) Record {
		return &BoundaryScanOpenRecord{FirstDevice: f.str(0), FirstPin: f.str(1), SecondDevice: f.str(2), SecondPin: f.str(3)}
	}},
	TagBSShort: {1, func(f *fieldReader) Record {
		return &BoundaryScanShortRecord{Cause: f.str(0), DevicePins: f.rest(1)}
	}},
	TagBoardTest: {10, func(f *fieldReader) Record {
		return &BoardTestRecord{
			BoardID: f.str(0), Status: f.int(1), Start: f.packed(2), Duration: f.int(3),
			MultipleTest: f.bool01(4), LogLevel: f.str(5), LogSet: f.int(6),
			Learning: f.bool01(7), KnownGood: f.boolYN(8), End: f.packed(9),
			StatusQualifier: f.str(10), BoardNumber: f.int(11), ParentPanelID: f.str(12),
		}
	}},
	TagContinuity: {2, func(f *fieldReader) Record {
		return &ContinuityRecord{Status: f.int(0), PinCount: f.int(1), Designator: f.str(2)}
	}},
	TagDevicePins: {1, func(f *fieldReader) Record {
		return &DevicePinRecord{Device: f.str(0), Pins: f.rest(1)}
	}},
	TagDigital: {4, func(f *fieldReader) Record {
		return &DigitalRecord{Status: f.int(0), Substatus: f.int(1), FailingVector: f.int(2), PinCount: f.int(3), Designator: f.str(4)}
	}},
	TagIndict: {1, func(f *fieldReader) Record {
		return &IndictRecord{Technique: f.str(0), Devices: f.rest(1)}
	}},
	TagLimit2: {2, func(f *fieldReader) Record {
		return &LimitRecord{Limit: models.TwoSided(f.float(0), f.float(1))}
	}},
	TagLimit3: {3, func(f *fieldReader) Record {
		return &LimitRecord{Limit: models.ThreeSided(f.float(0), f.float(1), f.float(2))}
	}},
	TagNetVersion: {3, func(f *fieldReader) Record {
		return &NetVersionRecord{Datetime: f.packed(0), TestSystem: f.str(1), RepairSystem: f.str(2), Source: f.str(3)}
	}},
	TagNodeList: {1, func(f *fieldReader) Record {
		return &NodeRecord{Nodes: f.rest(0)}
	}},
	TagPinCheck: {2, func(f *fieldReader) Record {
		return &PinCheckRecord{Status: f.int(0), Designator: f.str(1)}
	}},
	TagPinSummary: {3, func(f *fieldReader) Record {
		return &PinSummaryRecord{Designator: f.str(0), Status: f.int(1), TotalPins: f.int(2)}
	}},
	TagPinList: {1, func(f *fieldReader) Record {
		return &PinListRecord{Pins: f.rest(0)}
	}},
	TagProbe: {2, func(f *fieldReader) Record {
		return &ProbeRecord{Status: f.int(0), Designator: f.str(1)}
	}},
	TagRetest: {1, func(f *fieldReader) Record {
		return &RetestRecord{Datetime: f.packed(0)}
	}},
	TagReport: {1, func(f *fieldReader) Record {
		// report text may itself contain pipes
		return &ReportRecord{Message: strings.TrimSpace(strings.Join(f.vals, "|"))}
	}},
	TagTestJet: {3, func(f *fieldReader) Record {
		return &TestJetRecord{Status: f.int(0), PinCount: f.int(1), Designator: f.str(2)}
	}},
	TagShorts: {4, func(f *fieldReader) Record {
		return &ShortsRecord{Status: f.int(0), Shorts: f.int(1), Opens: f.int(2), Phantoms: f.int(3), Designator: f.str(4)}
	}},
	TagShortSource: {1, func(f *fieldReader) Record {
		return &ShortSourceRecord{Node: f.str(0)}
	}},
	TagShortDest: {2, func(f *fieldReader) Record {
		return &ShortDestRecord{Node: f.str(0), Resistance: f.float(1)}
	}},
	TagShortOpen: {2, func(f *fieldReader) Record {
		return &OpenRecord{FromNode: f.str(0), ToNode: f.str(1)}
	}},
	TagShortPhantom: {1, func(f *fieldReader) Record {
		return &PhantomRecord{Resistance: f.float(0)}
	}},
}

var analogShape = recordShape{2, nil}

// NormalizeTag strips the leading '@' and any `\list` suffix from a raw tag.
func NormalizeTag(raw string) string {
	tag := strings.TrimSpace(raw)
	tag = strings.TrimPrefix(tag, "@")
	tag = strings.TrimSuffix(tag, listSuffix)
	return strings.ToUpper(tag)
}

// DecodeRecord builds the typed record for one node's raw content ("@TAG|f1|f2|...").
func DecodeRecord(content string) (Record, error) {
	parts := strings.Split(content, "|")
	raw := strings.TrimSpace(parts[0])
	if !strings.HasPrefix(raw, "@") {
		return nil, fmt.Errorf("record %q: missing tag", truncate(content, 40))
	}
	tag := NormalizeTag(raw)
	f := &fieldReader{tag: tag, vals: parts[1:]}

	if strings.HasPrefix(tag, TagAnalogFamily) {
		sub := strings.TrimPrefix(tag, TagAnalogFamily)
		if _, ok := analogSubtypes[sub]; ok {
			if len(f.vals) < analogShape.minFields {
				return nil, fmt.Errorf("%s: %w (%d < %d)", tag, ErrTooFewFields, len(f.vals), analogShape.minFields)
			}
			rec := &AnalogRecord{Subtype: sub, Status: f.int(0), Value: f.float(1), Designator: f.str(2)}
			if f.err != nil {
				return nil, f.err
			}
			return rec, nil
		}
	}

	shape, ok := recordShapes[tag]
	if !ok {
		return &UserRecord{Name: tag, Fields: append([]string(nil), f.vals...)}, nil
	}
	if len(f.vals) < shape.minFields {
		return nil, fmt.Errorf("%s: %w (%d < %d)", tag, ErrTooFewFields, len(f.vals), shape.minFields)
	}
	rec := shape.decode(f)
	if f.err != nil {
		return nil, f.err
	}
	return rec, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
