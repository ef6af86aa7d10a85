package parser

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
)

// ErrUnclosedLimit marks the known export defect where an analog test's @LIM2 record lost
// its closing braces, so the following records end up nested inside the limit.
var ErrUnclosedLimit = errors.New("unclosed LIM2 record")

// maxTreeDepth bounds recursion on hostile input. Real logs nest four or five levels.
const maxTreeDepth = 128

// Node is one bracketed record and the records nested inside it.
type Node struct {
	Record   Record
	Children []*Node
}

// Walk visits n and its descendants depth-first, stopping a branch when fn returns false.
func (n *Node) Walk(fn func(*Node) bool) {
	if !fn(n) {
		return
	}
	for _, c := range n.Children {
		c.Walk(fn)
	}
}

// ReadTree parses every top-level {...} record in r. Text outside braces is ignored.
// Undecodable records become ErrorRecord leaves; only I/O failures, excessive nesting and
// ErrUnclosedLimit abort the read.
func ReadTree(r io.Reader) ([]*Node, error) {
	br := bufio.NewReader(r)
	var roots []*Node
	for {
		c, _, err := br.ReadRune()
		if err == io.EOF {
			return roots, nil
		}
		if err != nil {
			return nil, err
		}
		if c != '{' {
			continue
		}
		n, err := readNode(br, 1)
		if err != nil {
			return nil, err
		}
		roots = append(roots, n)
	}
}

func readNode(br *bufio.Reader, depth int) (*Node, error) {
	if depth > maxTreeDepth {
		return nil, fmt.Errorf("record nesting deeper than %d", maxTreeDepth)
	}
	var content strings.Builder
	var children []*Node
	for {
		c, _, err := br.ReadRune()
		if err == io.EOF {
			// unterminated record: keep what we have
			return buildNode(content.String(), children), nil
		}
		if err != nil {
			return nil, err
		}
		switch c {
		case '{':
			if isLimitContent(content.String()) {
				return nil, fmt.Errorf("%w: %s", ErrUnclosedLimit, truncate(content.String(), 60))
			}
			child, err := readNode(br, depth+1)
			if err != nil {
				return nil, err
			}
			if isAnalogContent(content.String()) && swallowedByAnalog(child) {
				// an earlier LIM2 consumed this analog's closing brace
				return nil, fmt.Errorf("%w: %s holds %s", ErrUnclosedLimit,
					truncate(content.String(), 60), child.Record.Tag())
			}
			children = append(children, child)
		case '}':
			return buildNode(content.String(), children), nil
		case '\r', '\n':
		default:
			content.WriteRune(c)
		}
	}
}

func isLimitContent(content string) bool {
	return strings.HasPrefix(strings.TrimSpace(content), "@"+TagLimit2)
}

func isAnalogContent(content string) bool {
	return strings.HasPrefix(strings.TrimSpace(content), "@A-")
}

// swallowedByAnalog reports whether child can only sit under an analog record because of a
// lost closing brace. Analog records carry limits; undecodable children are left to the
// extractor.
func swallowedByAnalog(child *Node) bool {
	switch child.Record.(type) {
	case *LimitRecord, *ErrorRecord:
		return false
	}
	return true
}

func buildNode(content string, children []*Node) *Node {
	rec, err := DecodeRecord(content)
	if err != nil {
		return &Node{Record: &ErrorRecord{Raw: content, Err: err}}
	}
	return &Node{Record: rec, Children: children}
}

// unclosedLimitLine matches an analog test line whose trailing {@LIM2|...} never closes.
var unclosedLimitLine = regexp.MustCompile(`^\s*\{@A-[A-Za-z]{3}\|[^{}]*\{@LIM2\|[^{}]*$`)

// RepairUnclosedLimits appends the two missing closing braces to every analog line affected
// by the unclosed-LIM2 defect. It returns the repaired text and the number of lines fixed.
func RepairUnclosedLimits(data []byte) ([]byte, int) {
	lines := bytes.Split(data, []byte("\n"))
	fixed := 0
	for i, line := range lines {
		body := bytes.TrimRight(line, "\r")
		if !unclosedLimitLine.Match(body) {
			continue
		}
		repaired := make([]byte, 0, len(line)+2)
		repaired = append(repaired, body...)
		repaired = append(repaired, '}', '}')
		repaired = append(repaired, line[len(body):]...)
		lines[i] = repaired
		fixed++
	}
	return bytes.Join(lines, []byte("\n")), fixed
}

// ParseTree reads a whole file's tree, applying the unclosed-LIM2 repair and reparsing once
// if the reader hits that defect. repaired reports how many lines were patched.
func ParseTree(data []byte) (nodes []*Node, repaired int, err error) {
	nodes, err = ReadTree(bytes.NewReader(data))
	if err == nil || !errors.Is(err, ErrUnclosedLimit) {
		return nodes, 0, err
	}
	fixedData, n := RepairUnclosedLimits(data)
	if n == 0 {
		return nil, 0, err
	}
	nodes, err = ReadTree(bytes.NewReader(fixedData))
	if err != nil {
		return nil, n, fmt.Errorf("reparse after repairing %d lines: %w", n, err)
	}
	return nodes, n, nil
}
