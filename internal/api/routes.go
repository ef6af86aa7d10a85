// routes.go - Route registration helpers
package api

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/ictyield/backend/internal/logging"
	"github.com/ictyield/backend/internal/storage"
)

// Dependencies holds all handler dependencies
type Dependencies struct {
	Store    storage.Store
	Analyzer Analyzer
	Version  string
}

// Handlers holds all handler instances
type Handlers struct {
	Health HealthHandler
	Upload UploadHandler
	Load   LoadHandler
	Query  QueryHandler
	Export ExportHandler
}

// NewHandlers creates all handler instances
func NewHandlers(deps *Dependencies) *Handlers {
	return &Handlers{
		Health: NewHealthHandler(deps.Version, deps.Analyzer),
		Upload: NewUploadHandler(deps.Store),
		Load:   NewLoadHandler(deps.Store, deps.Analyzer),
		Query:  NewQueryHandler(deps.Analyzer),
		Export: NewExportHandler(deps.Analyzer),
	}
}

// RegisterRoutes registers all API routes with the Echo instance
func RegisterRoutes(e *echo.Echo, handlers *Handlers) {
	e.GET("/health", handlers.Health.HandleHealth)

	api := e.Group("/api")
	api.GET("/health", handlers.Health.HandleHealth)

	files := api.Group("/files")
	files.POST("/upload", handlers.Upload.HandleUploadFile)
	files.POST("/upload/binary", handlers.Upload.HandleUploadBinary)
	files.POST("/upload/chunk", handlers.Upload.HandleUploadChunk)
	files.POST("/upload/complete", handlers.Upload.HandleCompleteUpload)
	files.GET("/recent", handlers.Upload.HandleGetRecentFiles)
	files.GET("/:id", handlers.Upload.HandleGetFile)
	files.DELETE("/:id", handlers.Upload.HandleDeleteFile)

	api.POST("/load", handlers.Load.HandleLoad)
	api.GET("/load/:id", handlers.Load.HandleLoadStatus)
	api.GET("/load/:id/ws", handlers.Load.HandleLoadProgress)
	api.POST("/reload", handlers.Load.HandleReload)
	api.GET("/session", handlers.Load.HandleSessionInfo)

	api.GET("/yield", handlers.Query.HandleYield)
	api.GET("/hourly", handlers.Query.HandleHourly)
	api.GET("/panels", handlers.Query.HandlePanels)
	api.GET("/tests", handlers.Query.HandleTests)
	api.GET("/tests/stats", handlers.Query.HandleAllStatistics)
	api.GET("/tests/limit-changes", handlers.Query.HandleLimitChanges)
	api.GET("/tests/:index/series", handlers.Query.HandleSeries)
	api.GET("/tests/:index/stats", handlers.Query.HandleStatistics)
	api.GET("/failures", handlers.Query.HandleFailures)
	api.GET("/reports/:dmc", handlers.Query.HandleReport)
	api.GET("/reports/:dmc/first-failing", handlers.Query.HandleFirstFailing)
	api.GET("/firmware/outdated", handlers.Query.HandleOutdatedFirmware)
	api.GET("/measurements", handlers.Query.HandleMeasurements)
	api.GET("/measurements/fail-counts", handlers.Query.HandleFailCounts)

	api.POST("/export", handlers.Export.HandleExportXLSX)
	api.POST("/export/msgpack", handlers.Export.HandleExportMsgpack)
}

// MiddlewareOptions selects the optional middleware.
type MiddlewareOptions struct {
	CORSOrigins    []string // empty disables CORS
	RequestLogging bool
	BodyLimit      string
	GzipLevel      int // 0 disables response compression
}

// SetupMiddleware configures common middleware
func SetupMiddleware(e *echo.Echo, opts MiddlewareOptions) {
	e.HTTPErrorHandler = ErrorHandler
	e.Use(middleware.Recover())
	if opts.RequestLogging {
		e.Use(logging.Middleware())
	}
	if len(opts.CORSOrigins) > 0 {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{AllowOrigins: opts.CORSOrigins}))
	}
	if opts.GzipLevel > 0 {
		e.Use(middleware.GzipWithConfig(middleware.GzipConfig{
			Level: opts.GzipLevel,
			Skipper: func(c echo.Context) bool {
				return c.IsWebSocket()
			},
		}))
	}
	if opts.BodyLimit != "" {
		e.Use(middleware.BodyLimit(opts.BodyLimit))
	}
}
