// handlers_export.go - Export matrix downloads
package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/ictyield/backend/internal/aggregate"
	"github.com/ictyield/backend/internal/export"
)

const mimeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// ExportHandlerImpl implements the ExportHandler interface
type ExportHandlerImpl struct {
	analyzer Analyzer
}

// NewExportHandler creates a new export handler instance
func NewExportHandler(analyzer Analyzer) ExportHandler {
	return &ExportHandlerImpl{analyzer: analyzer}
}

func (h *ExportHandlerImpl) matrix(c echo.Context) (*aggregate.Matrix, error) {
	var settings aggregate.ExportSettings
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&settings); err != nil {
			return nil, NewBadRequestError("invalid export settings", err)
		}
	}
	m, err := h.analyzer.ExportMatrix(settings)
	if err != nil {
		return nil, NewBadRequestError("invalid export settings", err)
	}
	return m, nil
}

// HandleExportXLSX returns the export matrix as an Excel workbook
func (h *ExportHandlerImpl) HandleExportXLSX(c echo.Context) error {
	m, err := h.matrix(c)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := export.EncodeXLSX(&buf, m); err != nil {
		return NewInternalError("failed to build workbook", err)
	}

	name := h.analyzer.Info().Product
	if name == "" {
		name = "export"
	}
	name = strings.Map(func(r rune) rune {
		if r == '"' || r == '/' || r == '\\' {
			return '_'
		}
		return r
	}, name)
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="%s-results.xlsx"`, name))
	return c.Blob(http.StatusOK, mimeXLSX, buf.Bytes())
}

// HandleExportMsgpack returns the export matrix as msgpack
func (h *ExportHandlerImpl) HandleExportMsgpack(c echo.Context) error {
	m, err := h.matrix(c)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := export.EncodeMsgpack(&buf, m); err != nil {
		return NewInternalError("failed to encode msgpack", err)
	}
	return c.Blob(http.StatusOK, "application/msgpack", buf.Bytes())
}
