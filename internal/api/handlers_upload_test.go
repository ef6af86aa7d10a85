package api

import (
	"bytes"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ictyield/backend/internal/config"
	"github.com/ictyield/backend/internal/models"
	"github.com/ictyield/backend/internal/session"
	"github.com/ictyield/backend/internal/storage"
)

func ictLog(dmc string, index int) string {
	return fmt.Sprintf(`{@BATCH|PRODX|A|FX1|1|i3070|ICT|B001|op|ctrl|tp1|1
{@BTEST|%s|0|250307213346|30|0|all|0|0|n|250307213416||%d|PANEL01
{@BLOCK|r1|0
{@A-RES|0|1000|r1{@LIM2|1100|900}}
}
}}
`, dmc, index)
}

func uploadFiles(t *testing.T, e *echo.Echo, files map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	body := new(bytes.Buffer)
	writer := multipart.NewWriter(body)
	for name, content := range files {
		part, err := writer.CreateFormFile("file", name)
		require.NoError(t, err)
		_, err = part.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/files/upload/binary", body)
	req.Header.Set(echo.HeaderContentType, writer.FormDataContentType())
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestUploadNativeICTLogs(t *testing.T) {
	cfg := config.DefaultConfig()
	files, err := storage.NewLocalStore(t.TempDir(), cfg.AllowedExtensions()...)
	require.NoError(t, err)
	e := echo.New()
	SetupMiddleware(e, MiddlewareOptions{})
	RegisterRoutes(e, NewHandlers(&Dependencies{Store: files, Analyzer: session.NewManager(nil, nil), Version: "test"}))

	rec := uploadFiles(t, e, map[string]string{
		"board1.ict":   ictLog("DMC001", 1),
		"board2.i3070": ictLog("DMC002", 2),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var saved []models.FileInfo
	decode(t, rec, &saved)
	require.Len(t, saved, 2)

	rec = uploadFiles(t, e, map[string]string{"notes.docx": "x"})
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)

	ts := &testServer{e: e}
	rec = ts.do(t, http.MethodPost, "/api/load", map[string]interface{}{"fileIds": []string{saved[0].ID, saved[1].ID}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var summary models.LoadSummary
	decode(t, rec, &summary)
	assert.Equal(t, 2, summary.Accepted)
	assert.Empty(t, summary.Errors)
	assert.Equal(t, "PRODX", summary.Product)
}
