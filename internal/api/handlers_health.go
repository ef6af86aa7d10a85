// handlers_health.go - Health check handlers
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// HealthHandlerImpl implements the HealthHandler interface
type HealthHandlerImpl struct {
	version  string
	analyzer Analyzer
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(version string, analyzer Analyzer) HealthHandler {
	return &HealthHandlerImpl{
		version:  version,
		analyzer: analyzer,
	}
}

// HandleHealth returns server health status and the loaded product
func (h *HealthHandlerImpl) HandleHealth(c echo.Context) error {
	resp := map[string]interface{}{
		"status":  "ok",
		"version": h.version,
	}
	if h.analyzer != nil {
		info := h.analyzer.Info()
		resp["product"] = info.Product
		resp["logs"] = info.Logs
	}
	return c.JSON(http.StatusOK, resp)
}
