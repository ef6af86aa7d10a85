// handlers_load.go - Loading uploaded files into the analysis session
package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/ictyield/backend/internal/models"
	"github.com/ictyield/backend/internal/storage"
)

// progressInterval is how often HandleLoadProgress pushes a summary.
var progressInterval = 250 * time.Millisecond

// LoadHandlerImpl implements the LoadHandler interface
type LoadHandlerImpl struct {
	store    storage.Store
	analyzer Analyzer
	upgrader websocket.Upgrader
}

// NewLoadHandler creates a new load handler instance
func NewLoadHandler(store storage.Store, analyzer Analyzer) LoadHandler {
	return &LoadHandlerImpl{
		store:    store,
		analyzer: analyzer,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// Allow connections from dev server
				return true
			},
		},
	}
}

type loadRequest struct {
	FileIDs []string `json:"fileIds"`
	Async   bool     `json:"async"`
}

// HandleLoad parses the given uploads into the session. With async set it returns the
// pending summary at once; poll it at /api/load/:id.
func (h *LoadHandlerImpl) HandleLoad(c echo.Context) error {
	var req loadRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid request body", err)
	}
	if len(req.FileIDs) == 0 {
		return NewValidationError("fileIds")
	}

	paths := make([]string, len(req.FileIDs))
	byPath := make(map[string]string, len(req.FileIDs))
	for i, id := range req.FileIDs {
		path, err := h.store.GetFilePath(id)
		if err != nil {
			return NewNotFoundError("file", id)
		}
		paths[i] = path
		byPath[path] = id
	}

	if req.Async {
		summary := h.analyzer.StartLoad(paths, func(done models.LoadSummary) {
			h.markFiles(&done, byPath)
		})
		return c.JSON(http.StatusAccepted, summary)
	}

	summary, err := h.analyzer.LoadFiles(c.Request().Context(), paths)
	if err != nil {
		return fromError("load failed", err)
	}
	h.markFiles(summary, byPath)
	return c.JSON(http.StatusOK, summary)
}

// markFiles records per-upload status; a file skipped as a whole is marked "error".
func (h *LoadHandlerImpl) markFiles(summary *models.LoadSummary, byPath map[string]string) {
	failed := make(map[string]bool)
	for _, fe := range summary.Errors {
		if fe.Fatal {
			failed[fe.Path] = true
		}
	}
	for path, id := range byPath {
		status := "loaded"
		if failed[path] {
			status = "error"
		}
		if err := h.store.SetStatus(id, status, summary.ID); err != nil {
			log.Debug().Err(err).Str("file", id).Msg("failed to update file status")
		}
	}
}

// HandleLoadStatus returns a tracked load summary
func (h *LoadHandlerImpl) HandleLoadStatus(c echo.Context) error {
	id := c.Param("id")
	summary, err := h.analyzer.GetLoad(id)
	if err != nil {
		return NewNotFoundError("load", id)
	}
	return c.JSON(http.StatusOK, summary)
}

// HandleLoadProgress streams a load summary over a WebSocket until the load finishes
func (h *LoadHandlerImpl) HandleLoadProgress(c echo.Context) error {
	id := c.Param("id")
	if _, err := h.analyzer.GetLoad(id); err != nil {
		return NewNotFoundError("load", id)
	}

	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer ws.Close()

	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()
	for {
		summary, err := h.analyzer.GetLoad(id)
		if err != nil {
			break
		}
		if err := ws.WriteJSON(summary); err != nil {
			log.Debug().Err(err).Str("load", id).Msg("progress client went away")
			return nil
		}
		if summary.Status == models.LoadStatusComplete || summary.Status == models.LoadStatusError {
			break
		}
		select {
		case <-ticker.C:
		case <-c.Request().Context().Done():
			return nil
		}
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done")
	_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return nil
}

// HandleReload clears the session so files of another product can be loaded
func (h *LoadHandlerImpl) HandleReload(c echo.Context) error {
	if err := h.analyzer.Reload(c.Request().Context()); err != nil {
		return NewInternalError("reload failed", err)
	}
	return c.NoContent(http.StatusNoContent)
}

// HandleSessionInfo describes the loaded product and counts
func (h *LoadHandlerImpl) HandleSessionInfo(c echo.Context) error {
	return c.JSON(http.StatusOK, h.analyzer.Info())
}
