// Package session owns the aggregation handler of the running process and serializes
// access to it: loads take the write lock, queries share the read lock.
package session

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/ictyield/backend/internal/aggregate"
	"github.com/ictyield/backend/internal/catalog"
	"github.com/ictyield/backend/internal/models"
	"github.com/ictyield/backend/internal/parser"
	"github.com/ictyield/backend/internal/store"
)

// MaxLoads limits how many load summaries are kept for polling.
const MaxLoads = 50

// ErrLoadNotFound is returned for an unknown load id.
var ErrLoadNotFound = errors.New("load not found")

// Loader parses one tester file.
type Loader interface {
	Load(filePath string) (*models.ParsedFile, error)
}

// Manager serializes all access to one aggregation handler.
type Manager struct {
	mu      sync.RWMutex
	handler *aggregate.Handler
	store   *store.MeasurementStore
	loader  Loader

	parallel int

	loadsMu sync.Mutex
	loads   map[string]*models.LoadSummary
	order   []string
	wg      sync.WaitGroup
}

// Option configures a Manager.
type Option func(*Manager)

// WithParallelism bounds the number of files parsed at once.
func WithParallelism(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.parallel = n
		}
	}
}

// WithLoader replaces the global parser registry.
func WithLoader(l Loader) Option {
	return func(m *Manager) { m.loader = l }
}

// NewManager creates a manager. source and st may be nil.
func NewManager(source catalog.Source, st *store.MeasurementStore, opts ...Option) *Manager {
	m := &Manager{
		handler:  aggregate.NewHandler(source),
		store:    st,
		loader:   parser.GetGlobalRegistry(),
		parallel: runtime.NumCPU(),
		loads:    make(map[string]*models.LoadSummary),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// LoadFiles parses paths in parallel and pushes every record into the handler.
// A file that fails to parse is reported in the summary and skipped.
func (m *Manager) LoadFiles(ctx context.Context, paths []string) (*models.LoadSummary, error) {
	summary := models.NewLoadSummary(uuid.New().String())
	m.trackLoad(summary)
	err := m.load(ctx, summary, paths)
	c := m.copyLoad(summary)
	return &c, err
}

// StartLoad runs LoadFiles in the background and returns the pending summary.
// Poll it with GetLoad. onDone, when set, receives the final summary.
func (m *Manager) StartLoad(paths []string, onDone func(models.LoadSummary)) models.LoadSummary {
	summary := models.NewLoadSummary(uuid.New().String())
	summary.Files = len(paths)
	m.trackLoad(summary)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := m.load(context.Background(), summary, paths); err != nil {
			log.Error().Err(err).Str("load", shortID(summary.ID)).Msg("background load failed")
		}
		if onDone != nil {
			onDone(m.copyLoad(summary))
		}
	}()
	return m.copyLoad(summary)
}

// GetLoad returns a copy of a tracked load summary.
func (m *Manager) GetLoad(id string) (models.LoadSummary, error) {
	m.loadsMu.Lock()
	defer m.loadsMu.Unlock()
	s, ok := m.loads[id]
	if !ok {
		return models.LoadSummary{}, fmt.Errorf("%w: %s", ErrLoadNotFound, id)
	}
	c := *s
	c.Errors = append([]models.FileError(nil), s.Errors...)
	return c, nil
}

// Wait blocks until every background load has finished.
func (m *Manager) Wait() {
	m.wg.Wait()
}

func (m *Manager) trackLoad(s *models.LoadSummary) {
	m.loadsMu.Lock()
	defer m.loadsMu.Unlock()
	m.loads[s.ID] = s
	m.order = append(m.order, s.ID)
	for len(m.order) > MaxLoads {
		delete(m.loads, m.order[0])
		m.order = m.order[1:]
	}
}

func (m *Manager) copyLoad(s *models.LoadSummary) models.LoadSummary {
	m.loadsMu.Lock()
	defer m.loadsMu.Unlock()
	c := *s
	c.Errors = append([]models.FileError(nil), s.Errors...)
	return c
}

func (m *Manager) setStatus(s *models.LoadSummary, status models.LoadStatus) {
	m.loadsMu.Lock()
	s.Status = status
	m.loadsMu.Unlock()
}

type fileResult struct {
	parsed *models.ParsedFile
	err    error
}

func (m *Manager) load(ctx context.Context, summary *models.LoadSummary, paths []string) error {
	start := time.Now()
	m.setStatus(summary, models.LoadStatusParsing)
	id := shortID(summary.ID)
	log.Info().Str("load", id).Int("files", len(paths)).Msg("loading tester files")

	results := make([]fileResult, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.parallel)
	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				results[i].err = err
				return nil
			}
			results[i] = m.parseFile(path)
			return nil
		})
	}
	_ = g.Wait()

	m.mu.Lock()
	var fileErrs []models.FileError
	records, accepted, rejected := 0, 0, 0
	for i, r := range results {
		if r.err != nil {
			fileErrs = append(fileErrs, models.FileError{Path: paths[i], Error: &models.ParseError{Reason: r.err.Error()}, Fatal: true})
			continue
		}
		for _, e := range r.parsed.Errors {
			fileErrs = append(fileErrs, models.FileError{Path: paths[i], Error: e})
		}
		for _, rec := range r.parsed.Records {
			records++
			if !m.handler.Push(rec) {
				rejected++
				continue
			}
			accepted++
			if m.store != nil {
				m.store.AddRecord(rec)
			}
		}
	}
	if accepted > 0 {
		m.handler.Update()
	}
	product := m.handler.Product()
	m.mu.Unlock()

	var storeErr error
	if m.store != nil {
		storeErr = m.store.Flush()
	}

	m.loadsMu.Lock()
	summary.Files = len(paths)
	summary.Records = records
	summary.Accepted = accepted
	summary.Rejected = rejected
	summary.Product = product
	summary.Errors = append(summary.Errors, fileErrs...)
	summary.ProcessingTimeMs = time.Since(start).Milliseconds()
	summary.Status = models.LoadStatusComplete
	if ctx.Err() != nil || storeErr != nil {
		summary.Status = models.LoadStatusError
	}
	m.loadsMu.Unlock()

	log.Info().Str("load", id).Int("records", records).Int("accepted", accepted).Int("rejected", rejected).
		Int("errors", len(fileErrs)).Dur("elapsed", time.Since(start)).Msg("load complete")

	if err := ctx.Err(); err != nil {
		return err
	}
	if storeErr != nil {
		return fmt.Errorf("measurement store: %w", storeErr)
	}
	return nil
}

// parseFile never panics: a crashing parser is reported as that file's error.
func (m *Manager) parseFile(path string) (res fileResult) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("file", path).Interface("panic", r).Msg("parser panicked")
			res = fileResult{err: fmt.Errorf("parse panicked: %v", r)}
		}
	}()
	parsed, err := m.loader.Load(path)
	if err != nil {
		log.Warn().Err(err).Str("file", path).Msg("skipping file")
		return fileResult{err: err}
	}
	return fileResult{parsed: parsed}
}

// Reload drops the session so the next load may start a new product.
func (m *Manager) Reload(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler.Clear()
	parser.ResetSharedNames()
	if m.store != nil {
		if err := m.store.Reset(ctx); err != nil {
			return err
		}
	}
	log.Info().Msg("session cleared")
	return nil
}

// shortID safely truncates an ID for logging
func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
