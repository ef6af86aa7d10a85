// Package store mirrors ingested measurements into an in-memory DuckDB database so value
// series and failure counts can be queried with SQL.
package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/marcboeker/go-duckdb"
	"github.com/rs/zerolog/log"

	"github.com/ictyield/backend/internal/models"
)

const defaultBatchSize = 50000

type row struct {
	dmc        string
	mainDMC    string
	boardIndex int32
	start      int64
	test       string
	position   int32
	kind       string
	outcome    int8
	value      float64
}

// MeasurementStore holds one row per recorded measurement. Rows are buffered and written
// with the DuckDB Appender.
type MeasurementStore struct {
	db        *sql.DB
	mu        sync.Mutex
	batchSize int
	batch     []row
	rows      int
	lastError error

	// limits concurrent queries
	querySem chan struct{}
}

// Options tunes the in-memory database.
type Options struct {
	Threads     int
	MemoryLimit string // DuckDB size literal, e.g. "512MB"
	BatchSize   int    // rows buffered before an Appender flush
}

// DefaultOptions returns the settings used by Open.
func DefaultOptions() Options {
	return Options{Threads: 4, MemoryLimit: "512MB", BatchSize: defaultBatchSize}
}

// Open creates an empty in-memory store with default options.
func Open() (*MeasurementStore, error) {
	return OpenWithOptions(DefaultOptions())
}

// OpenWithOptions creates an empty in-memory store. Zero fields fall back to the defaults.
func OpenWithOptions(opts Options) (*MeasurementStore, error) {
	def := DefaultOptions()
	if opts.Threads <= 0 {
		opts.Threads = def.Threads
	}
	if opts.MemoryLimit == "" {
		opts.MemoryLimit = def.MemoryLimit
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = def.BatchSize
	}

	connector, err := duckdb.NewConnector("", func(execer driver.ExecerContext) error {
		pragmas := []string{
			fmt.Sprintf("PRAGMA memory_limit='%s'", strings.ReplaceAll(opts.MemoryLimit, "'", "")),
			fmt.Sprintf("PRAGMA threads=%d", opts.Threads),
			"PRAGMA enable_progress_bar=false",
		}
		for _, pragma := range pragmas {
			if _, err := execer.ExecContext(context.Background(), pragma, nil); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create DuckDB connector: %w", err)
	}

	db := sql.OpenDB(connector)
	// an in-memory database lives as long as its connection
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	db.SetMaxIdleConns(1)

	_, err = db.Exec(`
		CREATE TABLE measurements (
			dmc         VARCHAR NOT NULL,
			main_dmc    VARCHAR NOT NULL,
			board_index INTEGER NOT NULL,
			start       BIGINT NOT NULL,
			test        VARCHAR NOT NULL,
			position    INTEGER NOT NULL,
			kind        VARCHAR NOT NULL,
			outcome     TINYINT NOT NULL,
			value       DOUBLE NOT NULL
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}

	return &MeasurementStore{
		db:        db,
		batchSize: opts.BatchSize,
		batch:     make([]row, 0, 1024),
		querySem:  make(chan struct{}, 3),
	}, nil
}

// AddRecord buffers every recorded measurement of rec. Padding placeholders are skipped.
func (s *MeasurementStore) AddRecord(rec *models.LogRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, m := range rec.Measurements {
		if m.Placeholder {
			continue
		}
		s.batch = append(s.batch, row{
			dmc:        rec.DMC,
			mainDMC:    rec.MainDMC,
			boardIndex: int32(rec.BoardIndex),
			start:      int64(rec.Start),
			test:       m.Name,
			position:   int32(i),
			kind:       m.Kind.String(),
			outcome:    int8(m.Outcome),
			value:      m.Value,
		})
		s.rows++
	}
	if len(s.batch) >= s.batchSize {
		if err := s.flushLocked(); err != nil {
			s.lastError = err
			log.Error().Err(err).Msg("measurement store flush failed")
		}
	}
}

// LastError returns the last error of a background flush.
func (s *MeasurementStore) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastError
}

// Len returns the number of rows added since the last reset.
func (s *MeasurementStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows
}

// Flush writes buffered rows.
func (s *MeasurementStore) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked()
}

func (s *MeasurementStore) flushLocked() error {
	if len(s.batch) == 0 {
		return nil
	}
	startTime := time.Now()

	conn, err := s.db.Conn(context.Background())
	if err != nil {
		return fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	err = conn.Raw(func(driverConn interface{}) error {
		dConn, ok := driverConn.(*duckdb.Conn)
		if !ok {
			return fmt.Errorf("failed to cast to duckdb.Conn")
		}

		appender, err := duckdb.NewAppenderFromConn(dConn, "", "measurements")
		if err != nil {
			return fmt.Errorf("failed to create appender: %w", err)
		}
		defer appender.Close()

		for i, r := range s.batch {
			err := appender.AppendRow(r.dmc, r.mainDMC, r.boardIndex, r.start, r.test, r.position, r.kind, r.outcome, r.value)
			if err != nil {
				return fmt.Errorf("failed to append row %d: %w", i, err)
			}
		}
		return appender.Flush()
	})
	if err != nil {
		return fmt.Errorf("appender error: %w", err)
	}

	log.Debug().Int("rows", len(s.batch)).Dur("elapsed", time.Since(startTime)).Msg("measurement batch flushed")
	s.batch = s.batch[:0]
	return nil
}

func (s *MeasurementStore) acquire(ctx context.Context) (func(), error) {
	select {
	case s.querySem <- struct{}{}:
		return func() { <-s.querySem }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Point is one stored measurement.
type Point struct {
	DMC        string            `json:"dmc"`
	MainDMC    string            `json:"mainDmc"`
	BoardIndex int               `json:"boardIndex"`
	Start      models.PackedTime `json:"start"`
	Outcome    models.Outcome    `json:"outcome"`
	Value      float64           `json:"value"`
}

// SeriesQuery filters Series. Zero bounds are open.
type SeriesQuery struct {
	Test string
	From models.PackedTime
	To   models.PackedTime
}

func (q SeriesQuery) where() (string, []any) {
	conds := []string{"test = ?"}
	args := []any{q.Test}
	if q.From != 0 {
		conds = append(conds, "start >= ?")
		args = append(args, int64(q.From))
	}
	if q.To != 0 {
		conds = append(conds, "start <= ?")
		args = append(args, int64(q.To))
	}
	return strings.Join(conds, " AND "), args
}

// Series returns the stored values of one test, oldest first.
func (s *MeasurementStore) Series(ctx context.Context, q SeriesQuery) ([]Point, error) {
	if err := s.Flush(); err != nil {
		return nil, err
	}
	release, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	where, args := q.where()
	rows, err := s.db.QueryContext(ctx,
		"SELECT dmc, main_dmc, board_index, start, outcome, value FROM measurements WHERE "+where+" ORDER BY start, dmc",
		args...)
	if err != nil {
		return nil, fmt.Errorf("series query failed: %w", err)
	}
	defer rows.Close()

	points := make([]Point, 0)
	for rows.Next() {
		var p Point
		var start int64
		var outcome int8
		if err := rows.Scan(&p.DMC, &p.MainDMC, &p.BoardIndex, &start, &outcome, &p.Value); err != nil {
			return nil, err
		}
		p.Start = models.PackedTime(start)
		p.Outcome = models.Outcome(outcome)
		points = append(points, p)
	}
	return points, rows.Err()
}

// FailCount is the failure tally of one test.
type FailCount struct {
	Test  string `json:"test"`
	Fails int64  `json:"fails"`
	Total int64  `json:"total"`
}

// FailCounts tallies stored failures per test, most failing first.
func (s *MeasurementStore) FailCounts(ctx context.Context) ([]FailCount, error) {
	if err := s.Flush(); err != nil {
		return nil, err
	}
	release, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	rows, err := s.db.QueryContext(ctx, `
		SELECT test,
		       COUNT(*) FILTER (WHERE outcome = ?) AS fails,
		       COUNT(*) AS total
		FROM measurements
		GROUP BY test
		ORDER BY fails DESC, test`, int8(models.OutcomeFail))
	if err != nil {
		return nil, fmt.Errorf("fail count query failed: %w", err)
	}
	defer rows.Close()

	counts := make([]FailCount, 0)
	for rows.Next() {
		var c FailCount
		if err := rows.Scan(&c.Test, &c.Fails, &c.Total); err != nil {
			return nil, err
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

// Reset drops every row.
func (s *MeasurementStore) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batch = s.batch[:0]
	s.rows = 0
	s.lastError = nil
	if _, err := s.db.ExecContext(ctx, "DELETE FROM measurements"); err != nil {
		return fmt.Errorf("reset failed: %w", err)
	}
	return nil
}

// Close releases the database.
func (s *MeasurementStore) Close() error {
	return s.db.Close()
}
