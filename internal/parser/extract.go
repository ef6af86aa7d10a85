package parser

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ictyield/backend/internal/models"
)

// PinsTestName is the sentinel measurement every i3070 record starts with.
const PinsTestName = "pins"

// ErrNoRecords is returned when a file yields no usable board records.
var ErrNoRecords = errors.New("no board records found")

// statusDescriptions names the i3070 board status codes.
var statusDescriptions = map[int]string{
	1:  "Test failed",
	2:  "Pin test failed",
	3:  "Learn failed",
	4:  "Shorts failed",
	5:  "Analog failed",
	6:  "Power supply failed",
	7:  "Digital failed",
	8:  "Boundary scan failed",
	9:  "Functional failed",
	10: "Test aborted",
	11: "Fixture error",
	12: "Barcode error",
	13: "Runtime error",
}

// StatusDiagnosticName builds the synthetic measurement name for a status code,
// e.g. "Status_code:4_-_Shorts_failed".
func StatusDiagnosticName(code int) string {
	desc, ok := statusDescriptions[code]
	if !ok {
		desc = "Unknown status"
	}
	return fmt.Sprintf("Status_code:%d_-_%s", code, strings.ReplaceAll(desc, " ", "_"))
}

// StripPosition removes the positional prefix from a designator: "17%c617" -> "c617".
func StripPosition(designator string) string {
	if i := strings.LastIndexByte(designator, '%'); i >= 0 {
		return designator[i+1:]
	}
	return designator
}

// ExtractTree turns a parsed i3070 tree into log records. Boards with a missing BATCH or
// BTEST header are dropped and reported; the rest of the tree is still extracted.
func ExtractTree(nodes []*Node, source string) ([]*models.LogRecord, []*models.ParseError) {
	var records []*models.LogRecord
	var errs []*models.ParseError
	for _, n := range nodes {
		switch rec := n.Record.(type) {
		case *BatchRecord:
			recs, batchErrs := ExtractBatch(n, source)
			records = append(records, recs...)
			errs = append(errs, batchErrs...)
		case *BoardTestRecord:
			errs = append(errs, dropBoard(source, rec.BoardID, "board test outside a BATCH header"))
		case *ErrorRecord:
			errs = append(errs, &models.ParseError{Content: truncate(rec.Raw, 120), Reason: rec.Err.Error()})
		}
	}
	return records, errs
}

// ExtractBatch extracts one record per BTEST child of a BATCH node.
func ExtractBatch(batch *Node, source string) ([]*models.LogRecord, []*models.ParseError) {
	header, ok := batch.Record.(*BatchRecord)
	if !ok {
		return nil, []*models.ParseError{dropBoard(source, "", "missing BATCH header")}
	}

	var records []*models.LogRecord
	var errs []*models.ParseError
	boards := 0
	for _, child := range batch.Children {
		switch rec := child.Record.(type) {
		case *BoardTestRecord:
			boards++
			r, boardErrs, err := extractBoard(header, rec, child, source)
			errs = append(errs, boardErrs...)
			if err != nil {
				errs = append(errs, dropBoard(source, rec.BoardID, err.Error()))
				continue
			}
			records = append(records, r)
		case *ErrorRecord:
			if strings.HasPrefix(NormalizeTag(strings.SplitN(rec.Raw, "|", 2)[0]), TagBoardTest) {
				boards++
				errs = append(errs, dropBoard(source, "", "missing BTEST header: "+rec.Err.Error()))
				continue
			}
			errs = append(errs, &models.ParseError{Content: truncate(rec.Raw, 120), Reason: rec.Err.Error()})
		}
	}
	if boards == 0 {
		errs = append(errs, dropBoard(source, "", "missing BTEST header"))
	}
	return records, errs
}

func dropBoard(source, dmc, reason string) *models.ParseError {
	log.Warn().Str("source", source).Str("dmc", dmc).Str("reason", reason).Msg("board dropped")
	content := source
	if dmc != "" {
		content = source + " " + dmc
	}
	return &models.ParseError{Content: content, Reason: reason}
}

// blockScope collects the rows created inside one BLOCK (or at board level when name is
// empty) so recurring digital and boundary-scan records coalesce into one row.
type blockScope struct {
	name      string
	coalesced map[coalesceKey]int // row index of each digital/boundary-scan row
	made      int
}

type coalesceKey struct {
	tag  string
	name string
}

func newScope(name string) *blockScope {
	return &blockScope{name: name, coalesced: make(map[coalesceKey]int)}
}

// nameFor returns the row name for a sub-test designator inside this scope.
// composite selects "<block>%<sub>" for multi-part records.
func (s *blockScope) nameFor(designator string, composite bool) string {
	sub := StripPosition(designator)
	if s.name == "" {
		return sub
	}
	if composite && sub != "" && sub != s.name {
		return s.name + "%" + sub
	}
	return s.name
}

type boardExtractor struct {
	rec    *models.LogRecord
	names  *NamePool
	report []string
	errs   []*models.ParseError
}

func (e *boardExtractor) add(scope *blockScope, m models.Measurement) {
	m.Name = e.names.Intern(m.Name)
	scope.made++
	e.rec.Measurements = append(e.rec.Measurements, m)
}

// coalesce adds m unless the scope already has a row of the same record tag and name; a repeat
// only replaces the outcome (and value) when it reports a failing status.
func (e *boardExtractor) coalesce(scope *blockScope, tag string, m models.Measurement, status int) {
	key := coalesceKey{tag: tag, name: m.Name}
	if idx, ok := scope.coalesced[key]; ok {
		if status != 0 {
			e.rec.Measurements[idx].Outcome = m.Outcome
			e.rec.Measurements[idx].Value = m.Value
		}
		return
	}
	scope.coalesced[key] = len(e.rec.Measurements)
	e.add(scope, m)
}

func (e *boardExtractor) note(format string, args ...any) {
	e.report = append(e.report, fmt.Sprintf(format, args...))
}

func (e *boardExtractor) visit(n *Node, scope *blockScope) {
	if er, ok := n.Record.(*ErrorRecord); ok {
		e.errs = append(e.errs, &models.ParseError{
			Content: e.rec.Source + " " + e.rec.DMC + ": " + truncate(er.Raw, 120),
			Reason:  er.Err.Error(),
		})
		return
	}
	if u, ok := n.Record.(*UserRecord); ok {
		if fn, ok := telemetryHandlers[u.Name]; ok {
			if err := fn(e, scope, u); err != nil {
				e.errs = append(e.errs, &models.ParseError{
					Content: e.rec.Source + " " + e.rec.DMC + ": @" + u.Name,
					Reason:  err.Error(),
				})
			}
		}
		return
	}
	tag := n.Record.Tag()
	if strings.HasPrefix(tag, TagAnalogFamily) {
		tag = TagAnalogFamily
	}
	if fn, ok := extractors[tag]; ok {
		fn(e, n, scope)
	}
}

type extractFunc func(e *boardExtractor, n *Node, scope *blockScope)

// extractors is the per-tag dispatch table. Tags without an entry carry no measurement.
var extractors map[string]extractFunc

func init() {
	extractors = map[string]extractFunc{
		TagBlock:        extractBlock,
		TagAnalogFamily: extractAnalog,
		TagDigital:      extractDigital,
		TagBoundaryScan: extractBoundaryScan,
		TagTestJet:      extractTestJet,
		TagPinSummary:   extractPinSummary,
		TagPinCheck:     extractPinCheck,
		TagContinuity:   extractContinuity,
		TagProbe:        extractProbe,
		TagShorts:       extractShorts,
		TagReport:       extractReport,
		TagIndict:       extractIndict,
	}
}

func extractBlock(e *boardExtractor, n *Node, _ *blockScope) {
	b := n.Record.(*BlockRecord)
	scope := newScope(StripPosition(b.Designator))
	for _, c := range n.Children {
		e.visit(c, scope)
	}
	if scope.made == 0 && scope.name != "" {
		// a block without sub-tests still reports its own status
		e.add(scope, models.Measurement{
			Name:    scope.name,
			Kind:    models.KindGeneric,
			Outcome: models.OutcomeFromStatus(b.Status),
		})
	}
}

func extractAnalog(e *boardExtractor, n *Node, scope *blockScope) {
	a := n.Record.(*AnalogRecord)
	name := scope.nameFor(a.Designator, true)
	if name == "" {
		name = a.Tag()
	}
	m := models.Measurement{
		Name:    name,
		Kind:    a.Kind(),
		Outcome: models.OutcomeFromStatus(a.Status),
		Value:   a.Value,
	}
	for _, c := range n.Children {
		if lim, ok := c.Record.(*LimitRecord); ok {
			m.Limit = lim.Limit
			break
		}
	}
	e.add(scope, m)
}

func extractDigital(e *boardExtractor, n *Node, scope *blockScope) {
	d := n.Record.(*DigitalRecord)
	e.coalesce(scope, TagDigital, models.Measurement{
		Name:    scope.nameFor(d.Designator, false),
		Kind:    models.KindDigital,
		Outcome: models.OutcomeFromStatus(d.Status),
		Value:   float64(d.FailingVector),
	}, d.Status)
}

func extractBoundaryScan(e *boardExtractor, n *Node, scope *blockScope) {
	b := n.Record.(*BoundaryScanRecord)
	e.coalesce(scope, TagBoundaryScan, models.Measurement{
		Name:    scope.nameFor(b.Designator, false),
		Kind:    models.KindBoundaryScan,
		Outcome: models.OutcomeFromStatus(b.Status),
		Value:   float64(b.Shorts + b.Opens),
	}, b.Status)
	for _, c := range n.Children {
		switch r := c.Record.(type) {
		case *BoundaryScanOpenRecord:
			e.note("bscan open: %s.%s - %s.%s", r.FirstDevice, r.FirstPin, r.SecondDevice, r.SecondPin)
		case *BoundaryScanShortRecord:
			e.note("bscan short (%s): %s", r.Cause, strings.Join(r.DevicePins, " "))
		}
	}
}

func extractTestJet(e *boardExtractor, n *Node, scope *blockScope) {
	t := n.Record.(*TestJetRecord)
	e.add(scope, models.Measurement{
		Name:    scope.nameFor(t.Designator, true),
		Kind:    models.KindTestJet,
		Outcome: models.OutcomeFromStatus(t.Status),
		Value:   float64(t.PinCount),
	})
}

// extractPinSummary overwrites the sentinel at position zero, whatever it held.
func extractPinSummary(e *boardExtractor, n *Node, _ *blockScope) {
	p := n.Record.(*PinSummaryRecord)
	e.rec.Measurements[0] = models.Measurement{
		Name:    PinsTestName,
		Kind:    models.KindPins,
		Outcome: models.OutcomeFromStatus(p.Status),
		Value:   float64(p.TotalPins),
	}
	for _, c := range n.Children {
		if pins, ok := c.Record.(*PinListRecord); ok && len(pins.Pins) > 0 {
			e.note("pins failed: %s", strings.Join(pins.Pins, " "))
		}
	}
}

func extractPinCheck(e *boardExtractor, n *Node, scope *blockScope) {
	p := n.Record.(*PinCheckRecord)
	name := scope.nameFor(p.Designator, false)
	if name == "" {
		name = "pin_check"
	}
	e.add(scope, models.Measurement{
		Name:    name,
		Kind:    models.KindPinCheck,
		Outcome: models.OutcomeFromStatus(p.Status),
	})
}

func extractContinuity(e *boardExtractor, n *Node, scope *blockScope) {
	c := n.Record.(*ContinuityRecord)
	name := scope.nameFor(c.Designator, false)
	if name == "" {
		name = "continuity"
	}
	e.add(scope, models.Measurement{
		Name:    name,
		Kind:    models.KindContinuity,
		Outcome: models.OutcomeFromStatus(c.Status),
		Value:   float64(c.PinCount),
	})
}

func extractProbe(e *boardExtractor, n *Node, scope *blockScope) {
	p := n.Record.(*ProbeRecord)
	name := scope.nameFor(p.Designator, false)
	if name == "" {
		name = "probe"
	}
	e.add(scope, models.Measurement{
		Name:    name,
		Kind:    models.KindProbe,
		Outcome: models.OutcomeFromStatus(p.Status),
	})
}

// extractShorts does not trust the record's status alone: any short, open or phantom fails it.
func extractShorts(e *boardExtractor, n *Node, scope *blockScope) {
	s := n.Record.(*ShortsRecord)
	name := scope.nameFor(s.Designator, false)
	if name == "" {
		name = "shorts"
	}
	total := s.Shorts + s.Opens + s.Phantoms
	outcome := models.OutcomeFromStatus(s.Status)
	if total > 0 {
		outcome = models.OutcomeFail
	}
	e.add(scope, models.Measurement{
		Name:    name,
		Kind:    models.KindShorts,
		Outcome: outcome,
		Value:   float64(total),
	})
	for _, c := range n.Children {
		switch r := c.Record.(type) {
		case *ShortSourceRecord:
			e.note("short from %s", r.Node)
			for _, d := range c.Children {
				if dest, ok := d.Record.(*ShortDestRecord); ok {
					e.note("  to %s (%g ohm)", dest.Node, dest.Resistance)
				}
			}
		case *ShortDestRecord:
			e.note("  to %s (%g ohm)", r.Node, r.Resistance)
		case *OpenRecord:
			e.note("open %s - %s", r.FromNode, r.ToNode)
		case *PhantomRecord:
			e.note("phantom short (%g ohm)", r.Resistance)
		}
	}
}

func extractReport(e *boardExtractor, n *Node, _ *blockScope) {
	if msg := n.Record.(*ReportRecord).Message; msg != "" {
		e.report = append(e.report, msg)
	}
}

func extractIndict(e *boardExtractor, n *Node, _ *blockScope) {
	in := n.Record.(*IndictRecord)
	e.note("indict %s: %s", in.Technique, strings.Join(in.Devices, " "))
}

type telemetryFunc func(e *boardExtractor, scope *blockScope, u *UserRecord) error

// telemetryHandlers decodes the vendor user-defined tags we know about. Others are ignored.
var telemetryHandlers = map[string]telemetryFunc{
	"PROG_TIME": telemetryProgTime,
	"PS_VI":     telemetryPowerSupply,
	"FW_VER":    telemetryFirmware,
}

func telemetryProgTime(e *boardExtractor, scope *blockScope, u *UserRecord) error {
	if len(u.Fields) < 1 {
		return fmt.Errorf("PROG_TIME: %w", ErrTooFewFields)
	}
	v, err := parseFinite(strings.TrimSpace(u.Fields[0]))
	if err != nil {
		return fmt.Errorf("PROG_TIME %q: %w", u.Fields[0], ErrBadNumber)
	}
	kind, scale, _ := ResolveUnit(FormatI3070, "s")
	e.add(scope, models.Measurement{
		Name:    "Programming_time",
		Kind:    kind,
		Outcome: models.OutcomePass,
		Value:   v * scale,
	})
	return nil
}

// telemetryPowerSupply handles "@PS_VI|channel|millivolts|milliamps".
func telemetryPowerSupply(e *boardExtractor, scope *blockScope, u *UserRecord) error {
	if len(u.Fields) < 3 {
		return fmt.Errorf("PS_VI: %w", ErrTooFewFields)
	}
	ch := strings.TrimSpace(u.Fields[0])
	mv, err := parseFinite(strings.TrimSpace(u.Fields[1]))
	if err != nil {
		return fmt.Errorf("PS_VI voltage %q: %w", u.Fields[1], ErrBadNumber)
	}
	ma, err := parseFinite(strings.TrimSpace(u.Fields[2]))
	if err != nil {
		return fmt.Errorf("PS_VI current %q: %w", u.Fields[2], ErrBadNumber)
	}
	vKind, vScale, _ := ResolveUnit(FormatI3070, "mV")
	iKind, iScale, _ := ResolveUnit(FormatI3070, "mA")
	e.add(scope, models.Measurement{Name: "PS" + ch + "_voltage", Kind: vKind, Outcome: models.OutcomePass, Value: mv * vScale})
	e.add(scope, models.Measurement{Name: "PS" + ch + "_current", Kind: iKind, Outcome: models.OutcomePass, Value: ma * iScale})
	return nil
}

func telemetryFirmware(e *boardExtractor, _ *blockScope, u *UserRecord) error {
	if len(u.Fields) < 1 || strings.TrimSpace(u.Fields[0]) == "" {
		return fmt.Errorf("FW_VER: %w", ErrTooFewFields)
	}
	e.rec.Version = strings.TrimSpace(u.Fields[0])
	return nil
}

func extractBoard(batch *BatchRecord, bt *BoardTestRecord, n *Node, source string) (*models.LogRecord, []*models.ParseError, error) {
	if bt.BoardID == "" {
		return nil, nil, errors.New("board test without board id")
	}
	names := SharedNames()
	rec := &models.LogRecord{
		Source:      source,
		DMC:         names.Intern(bt.BoardID),
		MainDMC:     bt.ParentPanelID,
		Product:     names.Intern(batch.Product),
		BoardIndex:  bt.BoardNumber,
		Status:      bt.Status,
		Passed:      bt.Status == 0,
		Start:       bt.Start,
		End:         bt.End,
		Version:     batch.Version,
		Format:      FormatI3070,
		MESEligible: !bt.Learning && !bt.MultipleTest,
	}
	if rec.MainDMC == "" {
		rec.MainDMC = rec.DMC
	}
	if rec.BoardIndex < 1 {
		rec.BoardIndex = 1
	}
	if rec.End == 0 && rec.Start != 0 {
		rec.End = models.PackTime(rec.Start.Time().Add(time.Duration(bt.Duration) * time.Second))
	}

	e := &boardExtractor{rec: rec, names: names}
	root := newScope("")
	e.add(root, models.Placeholder(PinsTestName, models.KindPins))
	for _, c := range n.Children {
		e.visit(c, root)
	}
	reconcileStatus(rec)
	rec.Report = strings.Join(e.report, "\n")
	return rec, e.errs, nil
}

// reconcileStatus keeps the header status and the measurements telling the same story:
// a failing status gets a diagnostic row when nothing failed, and a failing measurement
// under a passing status downgrades the board.
func reconcileStatus(rec *models.LogRecord) {
	failed := rec.HasFailure()
	switch {
	case rec.Status != 0 && !failed:
		rec.Measurements = append(rec.Measurements, models.Measurement{
			Name:    StatusDiagnosticName(rec.Status),
			Kind:    models.KindDiagnostic,
			Outcome: models.OutcomeFail,
			Value:   float64(rec.Status),
		})
	case rec.Status == 0 && failed:
		log.Warn().Str("dmc", rec.DMC).Str("source", rec.Source).Msg("passing status with failing measurements, marking board failed")
		rec.Status = 1
	}
	rec.Passed = rec.Status == 0
}
