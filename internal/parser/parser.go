package parser

import (
	"bufio"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ictyield/backend/internal/models"
)

// ErrUnsupportedFormat is returned when no parser accepts a file.
var ErrUnsupportedFormat = errors.New("unsupported log format")

// Parser defines the interface for tester log parsers.
type Parser interface {
	// Name returns the unique name of the parser, also used as LogRecord.Format.
	Name() string
	// Extensions lists the lower-case file extensions routed to this parser ("" for none).
	Extensions() []string
	// CanParse sniffs the file content when the extension is not conclusive.
	CanParse(filePath string) (bool, error)
	// Parse parses the entire file. Per-record problems are returned in ParsedFile.Errors;
	// the error return is reserved for files that yield nothing usable.
	Parse(filePath string) (*models.ParsedFile, error)
}

// sniffLines returns up to n non-empty lines from the head of a file, with any UTF-8 BOM removed.
func sniffLines(filePath string, n int) ([]string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var lines []string
	for scanner.Scan() && len(lines) < n {
		line := strings.TrimSpace(strings.TrimPrefix(scanner.Text(), "\ufeff"))
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	return lines, scanner.Err()
}

// ParseTimestamp accepts either a packed YYMMDDHHMMSS value or
// "YYYY-MM-DD HH:MM:SS" (with optional fractional seconds, which are dropped).
func ParseTimestamp(s string) (models.PackedTime, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if len(s) == 12 {
		if v, err := strconv.ParseUint(s, 10, 64); err == nil {
			return models.PackedTime(v), nil
		}
	}
	if len(s) < 19 {
		return 0, fmt.Errorf("timestamp too short: %s", s)
	}

	year := parseInt4(s[0:4])
	month := parseInt2(s[5:7])
	day := parseInt2(s[8:10])
	hour := parseInt2(s[11:13])
	min := parseInt2(s[14:16])
	sec := parseInt2(s[17:19])
	if year < 0 || month < 1 || month > 12 || day < 1 || day > 31 ||
		hour < 0 || hour > 23 || min < 0 || min > 59 || sec < 0 || sec > 59 {
		t, err := time.Parse("2006-01-02T15:04:05", s[:19])
		if err != nil {
			return 0, fmt.Errorf("invalid timestamp: %s", s)
		}
		return models.PackTime(t), nil
	}
	return models.PackTime(time.Date(year, time.Month(month), day, hour, min, sec, 0, time.UTC)), nil
}

// parseInt2 parses a 2-digit decimal string. Returns -1 on error.
func parseInt2(s string) int {
	if len(s) != 2 {
		return -1
	}
	d1, d2 := s[0]-'0', s[1]-'0'
	if d1 > 9 || d2 > 9 {
		return -1
	}
	return int(d1)*10 + int(d2)
}

// parseInt4 parses a 4-digit decimal string. Returns -1 on error.
func parseInt4(s string) int {
	if len(s) != 4 {
		return -1
	}
	d1, d2, d3, d4 := s[0]-'0', s[1]-'0', s[2]-'0', s[3]-'0'
	if d1 > 9 || d2 > 9 || d3 > 9 || d4 > 9 {
		return -1
	}
	return int(d1)*1000 + int(d2)*100 + int(d3)*10 + int(d4)
}

// parseResult maps the textual verdict of the line formats.
func parseResult(s string) models.Outcome {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "PASS", "P", "OK", "PASSED":
		return models.OutcomePass
	case "FAIL", "F", "NOK", "FAILED":
		return models.OutcomeFail
	default:
		return models.OutcomeUnknown
	}
}

// parseFinite parses a decimal number, rejecting NaN and infinities.
func parseFinite(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%q: %w", s, ErrBadNumber)
	}
	return v, nil
}

// parseOptionalFloat parses an empty-able number; empty yields ok=false.
func parseOptionalFloat(s string) (v float64, ok bool, err error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false, nil
	}
	v, err = parseFinite(s)
	if err != nil {
		return 0, false, err
	}
	return v, true, nil
}

// buildLimit picks the limit variant from which bounds are present.
func buildLimit(lower, upper, nominal float64, hasLower, hasUpper, hasNominal bool) models.Limit {
	if !hasLower && !hasUpper {
		return models.Limit{}
	}
	if hasNominal {
		return models.ThreeSided(nominal, upper, lower)
	}
	return models.TwoSided(upper, lower)
}

// finishLineRecord applies the shared checks of the line-oriented formats.
func finishLineRecord(rec *models.LogRecord) error {
	if len(rec.Measurements) == 0 {
		return fmt.Errorf("%s: %w", rec.Source, ErrNoRecords)
	}
	if rec.DMC == "" {
		return fmt.Errorf("%s: missing DMC header", rec.Source)
	}
	if rec.MainDMC == "" {
		rec.MainDMC = rec.DMC
	}
	if rec.BoardIndex < 1 {
		rec.BoardIndex = 1
	}
	reconcileStatus(rec)
	return nil
}
