// handlers_upload.go - Tester file upload handlers
package api

import (
	"bytes"
	"encoding/base64"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/ictyield/backend/internal/storage"
)

// recentFilesLimit caps GET /api/files/recent.
const recentFilesLimit = 100

// UploadHandlerImpl implements the UploadHandler interface
type UploadHandlerImpl struct {
	store storage.Store
}

// NewUploadHandler creates a new upload handler instance
func NewUploadHandler(store storage.Store) UploadHandler {
	return &UploadHandlerImpl{store: store}
}

// HandleUploadFile accepts a file as base64 JSON and saves it to storage
func (h *UploadHandlerImpl) HandleUploadFile(c echo.Context) error {
	var req uploadFileRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid JSON body", err)
	}
	if err := req.validate(); err != nil {
		return err
	}

	decoded, err := base64.StdEncoding.DecodeString(req.Data)
	if err != nil {
		return NewBadRequestError("invalid base64 data", err)
	}

	info, err := h.store.Save(req.Name, bytes.NewReader(decoded))
	if err != nil {
		return fromError("failed to save file", err)
	}
	return c.JSON(http.StatusCreated, info)
}

// HandleUploadBinary accepts one or more files as multipart/form-data under "file"
func (h *UploadHandlerImpl) HandleUploadBinary(c echo.Context) error {
	form, err := c.MultipartForm()
	if err != nil {
		return NewBadRequestError("no file provided", err)
	}
	files := form.File["file"]
	if len(files) == 0 {
		return NewValidationError("file")
	}

	saved := make([]interface{}, 0, len(files))
	for _, fh := range files {
		src, err := fh.Open()
		if err != nil {
			return NewInternalError("failed to open uploaded file", err)
		}
		info, err := h.store.Save(fh.Filename, src)
		src.Close()
		if err != nil {
			return fromError("failed to save file", err)
		}
		saved = append(saved, info)
	}

	if len(saved) == 1 {
		return c.JSON(http.StatusCreated, saved[0])
	}
	return c.JSON(http.StatusCreated, saved)
}

// HandleUploadChunk accepts one chunk of a chunked upload as multipart/form-data
func (h *UploadHandlerImpl) HandleUploadChunk(c echo.Context) error {
	uploadID := c.FormValue("uploadId")
	if uploadID == "" {
		return NewValidationError("uploadId")
	}
	index, err := strconv.Atoi(c.FormValue("chunkIndex"))
	if err != nil {
		return NewBadRequestError("invalid chunkIndex", err)
	}

	fh, err := c.FormFile("file")
	if err != nil {
		return NewBadRequestError("no chunk provided", err)
	}
	src, err := fh.Open()
	if err != nil {
		return NewInternalError("failed to open chunk", err)
	}
	defer src.Close()

	if err := h.store.SaveChunk(uploadID, index, src); err != nil {
		return NewBadRequestError("failed to save chunk", err)
	}
	return c.NoContent(http.StatusAccepted)
}

// HandleCompleteUpload assembles a chunked upload into one stored file
func (h *UploadHandlerImpl) HandleCompleteUpload(c echo.Context) error {
	var req completeUploadRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid request body", err)
	}
	if err := req.validate(); err != nil {
		return err
	}

	info, err := h.store.CompleteChunkedUpload(req.UploadID, req.Name, req.TotalChunks)
	if err != nil {
		return fromError("failed to complete upload", err)
	}
	return c.JSON(http.StatusCreated, info)
}

// HandleGetRecentFiles returns the most recently uploaded files
func (h *UploadHandlerImpl) HandleGetRecentFiles(c echo.Context) error {
	files, err := h.store.List(recentFilesLimit)
	if err != nil {
		return NewInternalError("failed to list files", err)
	}
	return c.JSON(http.StatusOK, files)
}

// HandleGetFile returns metadata for a specific file
func (h *UploadHandlerImpl) HandleGetFile(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return NewValidationError("id")
	}

	info, err := h.store.Get(id)
	if err != nil {
		return NewNotFoundError("file", id)
	}
	return c.JSON(http.StatusOK, info)
}

// HandleDeleteFile deletes an uploaded file. Records already loaded stay in the session.
func (h *UploadHandlerImpl) HandleDeleteFile(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return NewValidationError("id")
	}

	if err := h.store.Delete(id); err != nil {
		return NewNotFoundError("file", id)
	}
	return c.NoContent(http.StatusNoContent)
}

// Request/Response types

type uploadFileRequest struct {
	Name string `json:"name"`
	Data string `json:"data"` // Base64-encoded content
}

func (r *uploadFileRequest) validate() error {
	if r.Name == "" {
		return NewValidationError("name")
	}
	if r.Data == "" {
		return NewValidationError("data")
	}
	return nil
}

type completeUploadRequest struct {
	UploadID    string `json:"uploadId"`
	Name        string `json:"name"`
	TotalChunks int    `json:"totalChunks"`
}

func (r *completeUploadRequest) validate() error {
	if r.UploadID == "" {
		return NewValidationError("uploadId")
	}
	if r.Name == "" {
		return NewValidationError("name")
	}
	if r.TotalChunks <= 0 {
		return NewBadRequestError("totalChunks must be positive", nil)
	}
	return nil
}
