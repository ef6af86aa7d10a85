package session

import (
	"context"
	"errors"

	"github.com/ictyield/backend/internal/aggregate"
	"github.com/ictyield/backend/internal/catalog"
	"github.com/ictyield/backend/internal/store"
)

// ErrNoStore is returned by SQL-backed queries when no measurement store is configured.
var ErrNoStore = errors.New("measurement store not configured")

// Info describes the current session.
type Info struct {
	Product   string           `json:"product"`
	Catalog   *catalog.Product `json:"catalog,omitempty"`
	Tests     int              `json:"tests"`
	Panels    int              `json:"panels"`
	Logs      int              `json:"logs"`
	MaxBoards int              `json:"maxBoards"`
}

func (m *Manager) Info() Info {
	m.mu.RLock()
	defer m.mu.RUnlock()
	info := Info{
		Product:   m.handler.Product(),
		Tests:     len(m.handler.TestList()),
		Panels:    len(m.handler.Panels()),
		Logs:      m.handler.LogCount(),
		MaxBoards: m.handler.MaxBoards(),
	}
	if p, ok := m.handler.ProductInfo(); ok {
		info.Catalog = &p
	}
	return info
}

func (m *Manager) Yields() aggregate.Yields {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.handler.Yields()
}

func (m *Manager) HourlyStats() []aggregate.HourlyBucket {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.handler.HourlyStats()
}

func (m *Manager) PanelResults() []aggregate.PanelSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.handler.PanelResults()
}

func (m *Manager) TestList() []aggregate.TestDescriptor {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.handler.TestList()
}

func (m *Manager) ValueSeries(index int) ([]aggregate.SeriesPoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.handler.ValueSeries(index)
}

func (m *Manager) Statistics(index int) (aggregate.TestStatistics, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.handler.Statistics(index)
}

func (m *Manager) AllStatistics() []aggregate.TestStatistics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.handler.AllStatistics()
}

func (m *Manager) LimitChanges() []aggregate.LimitChange {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.handler.LimitChanges()
}

func (m *Manager) FailureList(scope aggregate.FailureScope) []aggregate.Failure {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.handler.FailureList(scope)
}

func (m *Manager) Report(dmc string) (aggregate.BoardReport, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.handler.Report(dmc)
}

func (m *Manager) ReportAt(mainDMC string, index int) (aggregate.BoardReport, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.handler.ReportAt(mainDMC, index)
}

func (m *Manager) FirstFailingReport(mainDMC string) (aggregate.BoardReport, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.handler.FirstFailingReport(mainDMC)
}

func (m *Manager) ExportMatrix(settings aggregate.ExportSettings) (*aggregate.Matrix, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.handler.ExportMatrix(settings)
}

func (m *Manager) OutdatedFirmware() ([]aggregate.FirmwareIssue, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.handler.OutdatedFirmware()
}

// Measurements queries the SQL mirror.
func (m *Manager) Measurements(ctx context.Context, q store.SeriesQuery) ([]store.Point, error) {
	if m.store == nil {
		return nil, ErrNoStore
	}
	return m.store.Series(ctx, q)
}

// FailCounts tallies failures per test in the SQL mirror.
func (m *Manager) FailCounts(ctx context.Context) ([]store.FailCount, error) {
	if m.store == nil {
		return nil, ErrNoStore
	}
	return m.store.FailCounts(ctx)
}
