// interfaces.go - Handler interface definitions for clean separation of concerns
package api

import (
	"context"

	"github.com/labstack/echo/v4"

	"github.com/ictyield/backend/internal/aggregate"
	"github.com/ictyield/backend/internal/models"
	"github.com/ictyield/backend/internal/session"
	"github.com/ictyield/backend/internal/store"
)

// UploadHandler handles tester file uploads
type UploadHandler interface {
	HandleUploadFile(c echo.Context) error
	HandleUploadBinary(c echo.Context) error
	HandleUploadChunk(c echo.Context) error
	HandleCompleteUpload(c echo.Context) error
	HandleGetRecentFiles(c echo.Context) error
	HandleGetFile(c echo.Context) error
	HandleDeleteFile(c echo.Context) error
}

// LoadHandler feeds uploaded files into the session
type LoadHandler interface {
	HandleLoad(c echo.Context) error
	HandleLoadStatus(c echo.Context) error
	HandleLoadProgress(c echo.Context) error
	HandleReload(c echo.Context) error
	HandleSessionInfo(c echo.Context) error
}

// QueryHandler serves the aggregated views
type QueryHandler interface {
	HandleYield(c echo.Context) error
	HandleHourly(c echo.Context) error
	HandlePanels(c echo.Context) error
	HandleTests(c echo.Context) error
	HandleSeries(c echo.Context) error
	HandleStatistics(c echo.Context) error
	HandleAllStatistics(c echo.Context) error
	HandleLimitChanges(c echo.Context) error
	HandleFailures(c echo.Context) error
	HandleReport(c echo.Context) error
	HandleFirstFailing(c echo.Context) error
	HandleOutdatedFirmware(c echo.Context) error
	HandleMeasurements(c echo.Context) error
	HandleFailCounts(c echo.Context) error
}

// ExportHandler renders the export matrix
type ExportHandler interface {
	HandleExportXLSX(c echo.Context) error
	HandleExportMsgpack(c echo.Context) error
}

// HealthHandler handles health check operations
type HealthHandler interface {
	HandleHealth(c echo.Context) error
}

// Analyzer is the session surface the handlers use. *session.Manager implements it.
type Analyzer interface {
	LoadFiles(ctx context.Context, paths []string) (*models.LoadSummary, error)
	StartLoad(paths []string, onDone func(models.LoadSummary)) models.LoadSummary
	GetLoad(id string) (models.LoadSummary, error)
	Reload(ctx context.Context) error
	Info() session.Info

	Yields() aggregate.Yields
	HourlyStats() []aggregate.HourlyBucket
	PanelResults() []aggregate.PanelSnapshot
	TestList() []aggregate.TestDescriptor
	ValueSeries(index int) ([]aggregate.SeriesPoint, error)
	Statistics(index int) (aggregate.TestStatistics, error)
	AllStatistics() []aggregate.TestStatistics
	LimitChanges() []aggregate.LimitChange
	FailureList(scope aggregate.FailureScope) []aggregate.Failure
	Report(dmc string) (aggregate.BoardReport, bool)
	ReportAt(mainDMC string, index int) (aggregate.BoardReport, bool)
	FirstFailingReport(mainDMC string) (aggregate.BoardReport, bool)
	ExportMatrix(settings aggregate.ExportSettings) (*aggregate.Matrix, error)
	OutdatedFirmware() ([]aggregate.FirmwareIssue, error)
	Measurements(ctx context.Context, q store.SeriesQuery) ([]store.Point, error)
	FailCounts(ctx context.Context) ([]store.FailCount, error)
}

var _ Analyzer = (*session.Manager)(nil)
