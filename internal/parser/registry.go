package parser

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/ictyield/backend/internal/models"
)

// Registry holds all available parsers and provides auto-detection.
type Registry struct {
	parsers []Parser
}

// Global registry instance
var globalRegistry = NewRegistry()

func NewRegistry() *Registry {
	return &Registry{
		parsers: []Parser{
			NewI3070Parser(),
			NewFCTCSVParser(),
			NewFCTKeyValueParser(),
		},
	}
}

// GetGlobalRegistry returns the singleton registry.
func GetGlobalRegistry() *Registry {
	return globalRegistry
}

// Register adds a new parser to the registry.
func (r *Registry) Register(p Parser) {
	r.parsers = append(r.parsers, p)
}

// FindParser picks a parser by file extension first and falls back to content sniffing.
func (r *Registry) FindParser(filePath string) (Parser, error) {
	ext := strings.ToLower(filepath.Ext(filePath))
	for _, p := range r.parsers {
		for _, e := range p.Extensions() {
			if e == ext {
				return p, nil
			}
		}
	}
	for _, p := range r.parsers {
		can, err := p.CanParse(filePath)
		if err != nil {
			log.Debug().Err(err).Str("parser", p.Name()).Str("file", filePath).Msg("sniff failed")
			continue
		}
		if can {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filePath)
}

// GetParserByName returns a parser by its name.
func (r *Registry) GetParserByName(name string) (Parser, error) {
	name = strings.ToLower(name)
	for _, p := range r.parsers {
		if strings.ToLower(p.Name()) == name {
			return p, nil
		}
	}
	return nil, fmt.Errorf("parser not found: %s", name)
}

// Load parses one tester file with the matching parser.
func (r *Registry) Load(filePath string) (*models.ParsedFile, error) {
	p, err := r.FindParser(filePath)
	if err != nil {
		return nil, err
	}
	parsed, err := p.Parse(filePath)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p.Name(), err)
	}
	for _, e := range parsed.Errors {
		log.Warn().Str("file", filePath).Str("parser", p.Name()).Str("reason", e.Reason).Int("line", e.Line).Msg("parse problem")
	}
	return parsed, nil
}

// Load parses one file with the global registry.
func Load(filePath string) (*models.ParsedFile, error) {
	return globalRegistry.Load(filePath)
}
