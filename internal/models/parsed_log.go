package models

import "strconv"

// ParsedFile is the result of parsing one tester log file.
type ParsedFile struct {
	Path    string        `json:"path"`
	Parser  string        `json:"parser"`
	Records []*LogRecord  `json:"records"`
	Errors  []*ParseError `json:"errors,omitempty"`
}

// ParseError represents a non-fatal problem encountered while parsing.
type ParseError struct {
	Line    int    `json:"line,omitempty"`
	Content string `json:"content,omitempty"`
	Reason  string `json:"reason"`
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return "line " + strconv.Itoa(e.Line) + ": " + e.Reason
	}
	return e.Reason
}
