package session

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ictyield/backend/internal/aggregate"
	"github.com/ictyield/backend/internal/catalog"
	"github.com/ictyield/backend/internal/models"
	"github.com/ictyield/backend/internal/store"
	"github.com/ictyield/backend/internal/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		// database/sql keeps a connection opener goroutine per DB until Close
		goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener"),
	)
}

func fixtureFiles(t *testing.T) []string {
	t.Helper()
	return testutil.PanelFixture(t, t.TempDir())
}

func TestManager_LoadFiles(t *testing.T) {
	m := NewManager(nil, nil, WithParallelism(2))
	summary, err := m.LoadFiles(context.Background(), fixtureFiles(t))
	require.NoError(t, err)

	assert.Equal(t, models.LoadStatusComplete, summary.Status)
	assert.Equal(t, 4, summary.Files)
	assert.Equal(t, 4, summary.Records)
	assert.Equal(t, 3, summary.Accepted)
	assert.Equal(t, 1, summary.Rejected, "a second product is rejected")
	assert.Equal(t, "PRODX", summary.Product)
	assert.Empty(t, summary.Errors)

	info := m.Info()
	assert.Equal(t, "PRODX", info.Product)
	assert.Equal(t, 2, info.Tests)
	assert.Equal(t, 1, info.Panels)
	assert.Equal(t, 3, info.Logs)
	assert.Equal(t, 2, info.MaxBoards)

	y := m.Yields()
	assert.Equal(t, 1, y.Panel.FirstPass.Fail)
	assert.Equal(t, 1, y.Panel.Final.Unknown, "B1 was not retested with B2")
	assert.Equal(t, 1, y.Board.FirstPass.Fail)
	assert.Equal(t, 2, y.Board.Final.Pass)

	stored, err := m.GetLoad(summary.ID)
	require.NoError(t, err)
	assert.Equal(t, summary.Accepted, stored.Accepted)
}

func TestManager_LoadFiles_FileErrors(t *testing.T) {
	dir := t.TempDir()
	paths := []string{
		testutil.WriteFile(t, dir, "good.csv", testutil.CSVLog(testutil.Board{Product: "PRODX", DMC: "B1", Panel: "P1", Index: 1, Start: "2025-01-01 10:00:00", Rows: testutil.SupplyRows("3.30")})),
		testutil.WriteFile(t, dir, "junk.bin", "\x00\x01\x02 nothing to see"),
		filepath.Join(dir, "missing.csv"),
	}

	m := NewManager(nil, nil)
	summary, err := m.LoadFiles(context.Background(), paths)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Accepted)
	require.Len(t, summary.Errors, 2)
	for _, fe := range summary.Errors {
		assert.True(t, fe.Fatal)
		assert.NotEmpty(t, fe.Error.Reason)
	}
}

type panicLoader struct{}

func (panicLoader) Load(string) (*models.ParsedFile, error) {
	panic("boom")
}

func TestManager_ParserPanicIsContained(t *testing.T) {
	m := NewManager(nil, nil, WithLoader(panicLoader{}))
	summary, err := m.LoadFiles(context.Background(), []string{"a.csv", "b.csv"})
	require.NoError(t, err)
	require.Len(t, summary.Errors, 2)
	assert.Contains(t, summary.Errors[0].Error.Reason, "panicked")
	assert.Zero(t, summary.Accepted)
}

func TestManager_LoadFiles_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m := NewManager(nil, nil)
	summary, err := m.LoadFiles(ctx, fixtureFiles(t))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, models.LoadStatusError, summary.Status)
	assert.Zero(t, summary.Accepted)
}

func TestManager_StartLoad(t *testing.T) {
	m := NewManager(nil, nil)
	var notified models.LoadSummary
	pending := m.StartLoad(fixtureFiles(t), func(s models.LoadSummary) { notified = s })
	assert.NotEmpty(t, pending.ID)
	assert.Equal(t, 4, pending.Files)

	m.Wait()
	done, err := m.GetLoad(pending.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LoadStatusComplete, done.Status)
	assert.Equal(t, 3, done.Accepted)
	assert.Equal(t, done, notified, "the callback sees the final summary")

	m.StartLoad(nil, nil)
	m.Wait()

	_, err = m.GetLoad("nope")
	assert.True(t, errors.Is(err, ErrLoadNotFound))
}

func TestManager_LoadHistoryIsBounded(t *testing.T) {
	m := NewManager(nil, nil)
	var first string
	for i := 0; i < MaxLoads+5; i++ {
		s, err := m.LoadFiles(context.Background(), nil)
		require.NoError(t, err)
		if i == 0 {
			first = s.ID
		}
	}
	_, err := m.GetLoad(first)
	assert.ErrorIs(t, err, ErrLoadNotFound)
}

func TestManager_ReloadAcceptsNewProduct(t *testing.T) {
	st, err := store.Open()
	require.NoError(t, err)
	defer st.Close()

	m := NewManager(nil, st)
	ctx := context.Background()
	files := fixtureFiles(t)

	_, err = m.LoadFiles(ctx, files[:3])
	require.NoError(t, err)
	counts, err := m.FailCounts(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, counts)

	require.NoError(t, m.Reload(ctx))
	assert.Empty(t, m.Info().Product)
	counts, err = m.FailCounts(ctx)
	require.NoError(t, err)
	assert.Empty(t, counts)

	summary, err := m.LoadFiles(ctx, files[3:])
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Accepted)
	assert.Equal(t, "PRODY", m.Info().Product)
}

func TestManager_StoreQueries(t *testing.T) {
	st, err := store.Open()
	require.NoError(t, err)
	defer st.Close()

	m := NewManager(nil, st)
	ctx := context.Background()
	_, err = m.LoadFiles(ctx, fixtureFiles(t))
	require.NoError(t, err)

	points, err := m.Measurements(ctx, store.SeriesQuery{Test: "VCC"})
	require.NoError(t, err)
	assert.Len(t, points, 3)

	counts, err := m.FailCounts(ctx)
	require.NoError(t, err)
	for _, c := range counts {
		if c.Test == "VCC" {
			assert.Equal(t, int64(1), c.Fails)
			assert.Equal(t, int64(3), c.Total)
		}
	}
}

func TestManager_NoStore(t *testing.T) {
	m := NewManager(nil, nil)
	_, err := m.Measurements(context.Background(), store.SeriesQuery{Test: "VCC"})
	assert.ErrorIs(t, err, ErrNoStore)
	_, err = m.FailCounts(context.Background())
	assert.ErrorIs(t, err, ErrNoStore)
}

func TestManager_QueriesWithCatalog(t *testing.T) {
	cat := catalog.New(catalog.Product{ID: "PRODX", Name: "Controller", Boards: 2, MinFirmware: "1.5.0", GoldenSamples: []string{"B1"}})
	m := NewManager(cat, nil)
	_, err := m.LoadFiles(context.Background(), fixtureFiles(t))
	require.NoError(t, err)

	info := m.Info()
	require.NotNil(t, info.Catalog)
	assert.Equal(t, "Controller", info.Catalog.Name)

	issues, err := m.OutdatedFirmware()
	require.NoError(t, err)
	assert.Len(t, issues, 2, "one per board position")

	fails := m.FailureList(aggregate.ScopeFirstPass)
	require.Len(t, fails, 1)
	assert.Equal(t, "VCC", fails[0].Name)

	rep, ok := m.FirstFailingReport("P1")
	require.True(t, ok)
	assert.Equal(t, "B2", rep.DMC)

	stats, err := m.Statistics(0)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Count)

	matrix, err := m.ExportMatrix(aggregate.ExportSettings{})
	require.NoError(t, err)
	assert.Len(t, matrix.Rows, 3)
	assert.Len(t, m.PanelResults(), 1)
	assert.NotEmpty(t, m.HourlyStats())
}

func TestManager_ConcurrentReaders(t *testing.T) {
	m := NewManager(nil, nil)
	files := fixtureFiles(t)[:3]
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 20; i++ {
			m.Yields()
			m.TestList()
			time.Sleep(time.Millisecond)
		}
	}()
	_, err := m.LoadFiles(context.Background(), files)
	require.NoError(t, err)
	<-done
	assert.Equal(t, 3, m.Info().Logs)
}
