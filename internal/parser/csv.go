package parser

import (
	"encoding/csv"
	"errors"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/ictyield/backend/internal/models"
)

// FCTCSVParser handles functional tester CSV exports.
// Format: "#KEY,value" header lines, then "Name,Value,Unit,Lower,Upper,Nominal,Result" rows.
type FCTCSVParser struct{}

func NewFCTCSVParser() *FCTCSVParser {
	return &FCTCSVParser{}
}

func (p *FCTCSVParser) Name() string {
	return FormatFCTCSV
}

func (p *FCTCSVParser) Extensions() []string {
	return []string{".csv"}
}

func (p *FCTCSVParser) CanParse(filePath string) (bool, error) {
	lines, err := sniffLines(filePath, 10)
	if err != nil {
		return false, err
	}
	checked, matched := 0, 0
	for _, l := range lines {
		checked++
		if strings.HasPrefix(l, "#") && strings.Contains(l, ",") {
			matched++
		}
	}
	return checked > 0 && float64(matched)/float64(checked) >= 0.3, nil
}

var csvColumns = []string{"name", "value", "unit", "lower", "upper", "nominal", "result"}

func (p *FCTCSVParser) Parse(filePath string) (*models.ParsedFile, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return p.parse(filePath, file)
}

func (p *FCTCSVParser) parse(source string, r io.Reader) (*models.ParsedFile, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	reader.LazyQuotes = true

	rec := &models.LogRecord{Source: source, Format: FormatFCTCSV, MESEligible: true}
	errs := make([]*models.ParseError, 0)
	// default column order; a header row overrides it
	cols := make(map[string]int, len(csvColumns))
	for i, c := range csvColumns {
		cols[c] = i
	}
	names := SharedNames()

	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				errs = append(errs, &models.ParseError{Line: perr.Line, Reason: perr.Err.Error()})
				continue
			}
			return nil, err
		}
		line, _ := reader.FieldPos(0)
		if len(row) == 0 || (len(row) == 1 && strings.TrimSpace(row[0]) == "") {
			continue
		}
		first := strings.TrimSpace(strings.TrimPrefix(row[0], "\ufeff"))

		if strings.HasPrefix(first, "#") {
			if len(row) < 2 {
				errs = append(errs, &models.ParseError{Line: line, Content: first, Reason: "header without value"})
				continue
			}
			if perr := applyHeader(rec, strings.TrimPrefix(first, "#"), strings.TrimSpace(row[1])); perr != nil {
				perr.Line = line
				errs = append(errs, perr)
			}
			continue
		}
		if strings.EqualFold(first, "name") {
			for i, h := range row {
				cols[strings.ToLower(strings.TrimSpace(h))] = i
			}
			continue
		}

		m, perr := csvMeasurement(row, cols)
		if perr != nil {
			perr.Line = line
			perr.Content = strings.Join(row, ",")
			errs = append(errs, perr)
			continue
		}
		m.Name = names.Intern(m.Name)
		rec.Measurements = append(rec.Measurements, m)
	}

	if err := finishLineRecord(rec); err != nil {
		return nil, err
	}
	return &models.ParsedFile{
		Path:    source,
		Parser:  p.Name(),
		Records: []*models.LogRecord{rec},
		Errors:  errs,
	}, nil
}

func column(row []string, cols map[string]int, name string) string {
	i, ok := cols[name]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func csvMeasurement(row []string, cols map[string]int) (models.Measurement, *models.ParseError) {
	name := column(row, cols, "name")
	if name == "" {
		return models.Measurement{}, &models.ParseError{Reason: "measurement without name"}
	}
	return lineMeasurement(FormatFCTCSV, name,
		column(row, cols, "value"), column(row, cols, "unit"),
		column(row, cols, "lower"), column(row, cols, "upper"), column(row, cols, "nominal"),
		column(row, cols, "result"))
}

// lineMeasurement builds one measurement from the textual columns shared by the line formats.
func lineMeasurement(format, name, value, unit, lower, upper, nominal, result string) (models.Measurement, *models.ParseError) {
	kind, scale, known := ResolveUnit(format, unit)
	if !known {
		return models.Measurement{}, &models.ParseError{Reason: "unknown unit " + strconv.Quote(unit) + " for " + name}
	}
	v, hasValue, err := parseOptionalFloat(value)
	if err != nil {
		return models.Measurement{}, &models.ParseError{Reason: name + " value " + err.Error()}
	}
	lo, hasLo, err := parseOptionalFloat(lower)
	if err != nil {
		return models.Measurement{}, &models.ParseError{Reason: name + " lower limit " + err.Error()}
	}
	hi, hasHi, err := parseOptionalFloat(upper)
	if err != nil {
		return models.Measurement{}, &models.ParseError{Reason: name + " upper limit " + err.Error()}
	}
	nom, hasNom, err := parseOptionalFloat(nominal)
	if err != nil {
		return models.Measurement{}, &models.ParseError{Reason: name + " nominal " + err.Error()}
	}

	m := models.Measurement{
		Name:    name,
		Kind:    kind,
		Value:   v * scale,
		Limit:   buildLimit(lo*scale, hi*scale, nom*scale, hasLo, hasHi, hasNom),
		Outcome: parseResult(result),
	}
	if m.Outcome == models.OutcomeUnknown && hasValue {
		m.Outcome = m.Limit.Check(m.Value)
	}
	return m, nil
}

// applyHeader stores one "#KEY,value" / "Key=Value" header on the record.
func applyHeader(rec *models.LogRecord, key, value string) *models.ParseError {
	var err error
	switch strings.ToUpper(strings.TrimSpace(key)) {
	case "DMC", "SERIAL":
		rec.DMC = SharedNames().Intern(value)
	case "PANEL", "MAINDMC":
		rec.MainDMC = value
	case "PRODUCT":
		rec.Product = SharedNames().Intern(value)
	case "INDEX", "POSITION":
		rec.BoardIndex, err = strconv.Atoi(value)
	case "START":
		rec.Start, err = ParseTimestamp(value)
	case "END":
		rec.End, err = ParseTimestamp(value)
	case "STATUS":
		rec.Status, err = strconv.Atoi(value)
	case "VERSION", "FW":
		rec.Version = value
	case "MES":
		rec.MESEligible = value == "1" || strings.EqualFold(value, "y")
	case "REPORT", "MSG":
		if rec.Report != "" {
			rec.Report += "\n"
		}
		rec.Report += value
	default:
		return nil
	}
	if err != nil {
		return &models.ParseError{Content: key + "=" + value, Reason: "invalid " + strings.ToLower(key) + " header: " + err.Error()}
	}
	return nil
}
