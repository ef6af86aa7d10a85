package parser

import (
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/ictyield/backend/internal/models"
)

// I3070Parser handles the nested, pipe-delimited in-circuit tester logs.
// Format: "{@BATCH|...{@BTEST|...{@BLOCK|...{@A-RES|0|1.0E+3|r1{@LIM2|1.1E+3|9.0E+2}}}}}"
type I3070Parser struct{}

func NewI3070Parser() *I3070Parser {
	return &I3070Parser{}
}

func (p *I3070Parser) Name() string {
	return FormatI3070
}

// Extensions covers the tester's own extension and extensionless exports.
func (p *I3070Parser) Extensions() []string {
	return []string{"", ".i3070", ".ict"}
}

func (p *I3070Parser) CanParse(filePath string) (bool, error) {
	lines, err := sniffLines(filePath, 3)
	if err != nil {
		return false, err
	}
	for _, l := range lines {
		if strings.HasPrefix(l, "{@BATCH") || strings.HasPrefix(l, "{@BTEST") {
			return true, nil
		}
	}
	return false, nil
}

func (p *I3070Parser) Parse(filePath string) (*models.ParsedFile, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	return p.ParseBytes(filePath, data)
}

// ParseBytes parses an in-memory log; source names the records.
func (p *I3070Parser) ParseBytes(source string, data []byte) (*models.ParsedFile, error) {
	nodes, repaired, err := ParseTree(data)
	if err != nil {
		return nil, err
	}
	if repaired > 0 {
		log.Info().Str("file", source).Int("lines", repaired).Msg("repaired unclosed LIM2 records")
	}

	records, errs := ExtractTree(nodes, source)
	if len(records) == 0 {
		if len(errs) > 0 {
			return nil, fmt.Errorf("%w: %s", ErrNoRecords, errs[0].Reason)
		}
		return nil, ErrNoRecords
	}
	return &models.ParsedFile{
		Path:    source,
		Parser:  p.Name(),
		Records: records,
		Errors:  errs,
	}, nil
}
