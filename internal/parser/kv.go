package parser

import (
	"bufio"
	"io"
	"os"
	"strings"

	"github.com/ictyield/backend/internal/models"
)

// FCTKeyValueParser handles the functional tester's line export.
// Format: "Key=Value" header lines, "TEST;name;value;unit;lower;upper;result" and "MSG;text".
type FCTKeyValueParser struct{}

func NewFCTKeyValueParser() *FCTKeyValueParser {
	return &FCTKeyValueParser{}
}

func (p *FCTKeyValueParser) Name() string {
	return FormatFCTKV
}

func (p *FCTKeyValueParser) Extensions() []string {
	return []string{".txt", ".dat"}
}

func (p *FCTKeyValueParser) CanParse(filePath string) (bool, error) {
	lines, err := sniffLines(filePath, 20)
	if err != nil {
		return false, err
	}
	for _, l := range lines {
		if strings.HasPrefix(l, "TEST;") {
			return true, nil
		}
	}
	return false, nil
}

func (p *FCTKeyValueParser) Parse(filePath string) (*models.ParsedFile, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return p.parse(filePath, file)
}

func (p *FCTKeyValueParser) parse(source string, r io.Reader) (*models.ParsedFile, error) {
	rec := &models.LogRecord{Source: source, Format: FormatFCTKV, MESEligible: true}
	errs := make([]*models.ParseError, 0)
	names := SharedNames()

	scanner := bufio.NewScanner(r)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(strings.TrimPrefix(scanner.Text(), "\ufeff"))
		if line == "" || strings.HasPrefix(line, "//") {
			continue
		}

		switch {
		case strings.HasPrefix(line, "TEST;"):
			f := strings.Split(line, ";")
			for len(f) < 7 {
				f = append(f, "")
			}
			if strings.TrimSpace(f[1]) == "" {
				errs = append(errs, &models.ParseError{Line: lineNum, Content: line, Reason: "measurement without name"})
				continue
			}
			m, perr := lineMeasurement(FormatFCTKV, strings.TrimSpace(f[1]), f[2], f[3], f[4], f[5], "", f[6])
			if perr != nil {
				perr.Line = lineNum
				perr.Content = line
				errs = append(errs, perr)
				continue
			}
			m.Name = names.Intern(m.Name)
			rec.Measurements = append(rec.Measurements, m)
		case strings.HasPrefix(line, "MSG;"):
			applyHeader(rec, "MSG", strings.TrimPrefix(line, "MSG;"))
		default:
			key, value, ok := strings.Cut(line, "=")
			if !ok {
				errs = append(errs, &models.ParseError{Line: lineNum, Content: line, Reason: "line does not match key/value format"})
				continue
			}
			if perr := applyHeader(rec, key, strings.TrimSpace(value)); perr != nil {
				perr.Line = lineNum
				errs = append(errs, perr)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
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
