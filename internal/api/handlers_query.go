// handlers_query.go - Yield, statistics and report queries
package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/ictyield/backend/internal/aggregate"
	"github.com/ictyield/backend/internal/parser"
	"github.com/ictyield/backend/internal/store"
)

// QueryHandlerImpl implements the QueryHandler interface
type QueryHandlerImpl struct {
	analyzer Analyzer
}

// NewQueryHandler creates a new query handler instance
func NewQueryHandler(analyzer Analyzer) QueryHandler {
	return &QueryHandlerImpl{analyzer: analyzer}
}

func (h *QueryHandlerImpl) HandleYield(c echo.Context) error {
	return c.JSON(http.StatusOK, h.analyzer.Yields())
}

func (h *QueryHandlerImpl) HandleHourly(c echo.Context) error {
	return c.JSON(http.StatusOK, h.analyzer.HourlyStats())
}

func (h *QueryHandlerImpl) HandlePanels(c echo.Context) error {
	return c.JSON(http.StatusOK, h.analyzer.PanelResults())
}

func (h *QueryHandlerImpl) HandleTests(c echo.Context) error {
	return c.JSON(http.StatusOK, h.analyzer.TestList())
}

func testIndex(c echo.Context) (int, error) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		return 0, NewBadRequestError("invalid test index", err)
	}
	return index, nil
}

// HandleSeries returns every recorded value of one test, oldest first
func (h *QueryHandlerImpl) HandleSeries(c echo.Context) error {
	index, err := testIndex(c)
	if err != nil {
		return err
	}
	points, err := h.analyzer.ValueSeries(index)
	if err != nil {
		return fromError("test not found", err)
	}
	return c.JSON(http.StatusOK, points)
}

// HandleStatistics returns min/max/mean/stddev and Cpk of one test
func (h *QueryHandlerImpl) HandleStatistics(c echo.Context) error {
	index, err := testIndex(c)
	if err != nil {
		return err
	}
	st, err := h.analyzer.Statistics(index)
	if err != nil {
		return fromError("test not found", err)
	}
	return c.JSON(http.StatusOK, st)
}

func (h *QueryHandlerImpl) HandleAllStatistics(c echo.Context) error {
	return c.JSON(http.StatusOK, h.analyzer.AllStatistics())
}

func (h *QueryHandlerImpl) HandleLimitChanges(c echo.Context) error {
	return c.JSON(http.StatusOK, h.analyzer.LimitChanges())
}

// HandleFailures lists failing tests; ?scope=first|latest|all
func (h *QueryHandlerImpl) HandleFailures(c echo.Context) error {
	scope, err := aggregate.ParseFailureScope(c.QueryParam("scope"))
	if err != nil {
		return NewBadRequestError("invalid scope", err)
	}
	return c.JSON(http.StatusOK, h.analyzer.FailureList(scope))
}

// HandleReport returns the latest tester report of a board. With ?index= the path
// parameter is read as a panel DMC.
func (h *QueryHandlerImpl) HandleReport(c echo.Context) error {
	dmc := c.Param("dmc")
	var (
		rep aggregate.BoardReport
		ok  bool
	)
	if idx := c.QueryParam("index"); idx != "" {
		index, err := strconv.Atoi(idx)
		if err != nil {
			return NewBadRequestError("invalid board index", err)
		}
		rep, ok = h.analyzer.ReportAt(dmc, index)
	} else {
		rep, ok = h.analyzer.Report(dmc)
	}
	if !ok {
		return NewNotFoundError("board", dmc)
	}
	return c.JSON(http.StatusOK, rep)
}

// HandleFirstFailing returns the report of the first failing board of the panel named by :dmc
func (h *QueryHandlerImpl) HandleFirstFailing(c echo.Context) error {
	mainDMC := c.Param("dmc")
	rep, ok := h.analyzer.FirstFailingReport(mainDMC)
	if !ok {
		return NewNotFoundError("failing board on panel", mainDMC)
	}
	return c.JSON(http.StatusOK, rep)
}

func (h *QueryHandlerImpl) HandleOutdatedFirmware(c echo.Context) error {
	issues, err := h.analyzer.OutdatedFirmware()
	if err != nil {
		return NewInternalError("invalid firmware requirement", err)
	}
	if issues == nil {
		issues = []aggregate.FirmwareIssue{}
	}
	return c.JSON(http.StatusOK, issues)
}

// HandleMeasurements queries the SQL mirror: ?test=&from=&to= with packed or
// "YYYY-MM-DD HH:MM:SS" timestamps
func (h *QueryHandlerImpl) HandleMeasurements(c echo.Context) error {
	q := store.SeriesQuery{Test: c.QueryParam("test")}
	if q.Test == "" {
		return NewValidationError("test")
	}
	var err error
	if q.From, err = parser.ParseTimestamp(c.QueryParam("from")); err != nil {
		return NewBadRequestError("invalid from", err)
	}
	if q.To, err = parser.ParseTimestamp(c.QueryParam("to")); err != nil {
		return NewBadRequestError("invalid to", err)
	}

	points, err := h.analyzer.Measurements(c.Request().Context(), q)
	if err != nil {
		return fromError("measurement query failed", err)
	}
	return c.JSON(http.StatusOK, points)
}

func (h *QueryHandlerImpl) HandleFailCounts(c echo.Context) error {
	counts, err := h.analyzer.FailCounts(c.Request().Context())
	if err != nil {
		return fromError("fail count query failed", err)
	}
	return c.JSON(http.StatusOK, counts)
}
