package api

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ictyield/backend/internal/models"
	"github.com/ictyield/backend/internal/session"
	"github.com/ictyield/backend/internal/store"
	"github.com/ictyield/backend/internal/testutil"
)

type testServer struct {
	e       *echo.Echo
	storage *testutil.MockStorage
	manager *session.Manager
}

func newTestServer(t *testing.T, withStore bool) *testServer {
	t.Helper()
	var st *store.MeasurementStore
	if withStore {
		var err error
		st, err = store.Open()
		require.NoError(t, err)
		t.Cleanup(func() { st.Close() })
	}
	ts := &testServer{
		e:       echo.New(),
		storage: testutil.NewMockStorage(t.TempDir()),
		manager: session.NewManager(nil, st),
	}
	SetupMiddleware(ts.e, MiddlewareOptions{})
	RegisterRoutes(ts.e, NewHandlers(&Dependencies{Store: ts.storage, Analyzer: ts.manager, Version: "test"}))
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		req = httptest.NewRequest(method, path, bytes.NewReader(data))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	ts.e.ServeHTTP(rec, req)
	return rec
}

// loadFixture uploads the panel fixture and loads the PRODX part of it.
func (ts *testServer) loadFixture(t *testing.T) []string {
	t.Helper()
	paths := testutil.PanelFixture(t, t.TempDir())
	var ids []string
	for _, p := range paths[:3] {
		data, err := os.ReadFile(p)
		require.NoError(t, err)
		ids = append(ids, ts.storage.AddFile("board.csv", data).ID)
	}
	rec := ts.do(t, http.MethodPost, "/api/load", map[string]interface{}{"fileIds": ids})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return ids
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, false)
	rec := ts.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"version":"test"`)
}

func TestUploadBinaryAndList(t *testing.T) {
	ts := newTestServer(t, false)

	body := new(bytes.Buffer)
	writer := multipart.NewWriter(body)
	for _, name := range []string{"a.csv", "b.csv"} {
		part, err := writer.CreateFormFile("file", name)
		require.NoError(t, err)
		part.Write([]byte("#DMC,B1\n"))
	}
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/files/upload/binary", body)
	req.Header.Set(echo.HeaderContentType, writer.FormDataContentType())
	rec := httptest.NewRecorder()
	ts.e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var saved []models.FileInfo
	decode(t, rec, &saved)
	assert.Len(t, saved, 2)

	rec = ts.do(t, http.MethodGet, "/api/files/recent", nil)
	var list []models.FileInfo
	decode(t, rec, &list)
	assert.Len(t, list, 2)

	rec = ts.do(t, http.MethodGet, "/api/files/"+saved[0].ID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodDelete, "/api/files/"+saved[0].ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = ts.do(t, http.MethodGet, "/api/files/"+saved[0].ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), `"code":"NOT_FOUND"`)
}

func TestUploadJSON(t *testing.T) {
	ts := newTestServer(t, false)
	rec := ts.do(t, http.MethodPost, "/api/files/upload", map[string]string{"name": "a.csv", "data": "I0RNQyxCMQo="})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), `"size":8`)

	rec = ts.do(t, http.MethodPost, "/api/files/upload", map[string]string{"name": "a.csv"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "VALIDATION_ERROR")

	rec = ts.do(t, http.MethodPost, "/api/files/upload", map[string]string{"name": "a.csv", "data": "***"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func chunkRequest(t *testing.T, uploadID, index, data string) *http.Request {
	t.Helper()
	body := new(bytes.Buffer)
	writer := multipart.NewWriter(body)
	require.NoError(t, writer.WriteField("uploadId", uploadID))
	require.NoError(t, writer.WriteField("chunkIndex", index))
	part, err := writer.CreateFormFile("file", "blob")
	require.NoError(t, err)
	part.Write([]byte(data))
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/files/upload/chunk", body)
	req.Header.Set(echo.HeaderContentType, writer.FormDataContentType())
	return req
}

func TestChunkedUpload(t *testing.T) {
	ts := newTestServer(t, false)

	for i, data := range []string{"chunk one ", "chunk two"} {
		rec := httptest.NewRecorder()
		ts.e.ServeHTTP(rec, chunkRequest(t, "up-1", string(rune('0'+i)), data))
		require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	}

	rec := ts.do(t, http.MethodPost, "/api/files/upload/complete",
		map[string]interface{}{"uploadId": "up-1", "name": "combined.txt", "totalChunks": 2})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"name":"combined.txt"`)
	assert.Contains(t, rec.Body.String(), `"size":19`)

	rec = ts.do(t, http.MethodPost, "/api/files/upload/complete",
		map[string]interface{}{"uploadId": "up-1", "name": "combined.txt", "totalChunks": 0})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLoadAndQueries(t *testing.T) {
	ts := newTestServer(t, true)
	ids := ts.loadFixture(t)

	got, err := ts.storage.Get(ids[0])
	require.NoError(t, err)
	assert.Equal(t, "loaded", got.Status)
	assert.NotEmpty(t, got.LoadID)

	rec := ts.do(t, http.MethodGet, "/api/session", nil)
	var info session.Info
	decode(t, rec, &info)
	assert.Equal(t, "PRODX", info.Product)
	assert.Equal(t, 3, info.Logs)

	rec = ts.do(t, http.MethodGet, "/api/yield", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"board":{"firstPass":{"pass":1,"fail":1,"unknown":0}`)

	for _, path := range []string{"/api/hourly", "/api/panels", "/api/tests", "/api/tests/stats",
		"/api/tests/limit-changes", "/api/tests/0/series", "/api/tests/0/stats", "/api/firmware/outdated",
		"/api/measurements/fail-counts"} {
		rec = ts.do(t, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}

	rec = ts.do(t, http.MethodGet, "/api/tests/9/stats", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = ts.do(t, http.MethodGet, "/api/tests/x/series", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/failures?scope=first", nil)
	assert.Contains(t, rec.Body.String(), `"name":"VCC"`)
	rec = ts.do(t, http.MethodGet, "/api/failures?scope=latest", nil)
	assert.Equal(t, "[]", strings.TrimSpace(rec.Body.String()))
	rec = ts.do(t, http.MethodGet, "/api/failures?scope=sometimes", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/reports/B2", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = ts.do(t, http.MethodGet, "/api/reports/P1?index=2", nil)
	assert.Contains(t, rec.Body.String(), `"dmc":"B2"`)
	rec = ts.do(t, http.MethodGet, "/api/reports/P1/first-failing", nil)
	assert.Contains(t, rec.Body.String(), `"dmc":"B2"`)
	rec = ts.do(t, http.MethodGet, "/api/reports/NOPE", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/measurements?test=VCC&from=2025-01-01%2010:10:00", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var points []store.Point
	decode(t, rec, &points)
	require.Len(t, points, 1)
	assert.Equal(t, "B2", points[0].DMC)

	rec = ts.do(t, http.MethodGet, "/api/measurements", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = ts.do(t, http.MethodGet, "/api/measurements?test=VCC&to=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLoadErrors(t *testing.T) {
	ts := newTestServer(t, false)
	rec := ts.do(t, http.MethodPost, "/api/load", map[string]interface{}{"fileIds": []string{}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/load", map[string]interface{}{"fileIds": []string{"missing"}})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	bad := ts.storage.AddFile("junk.bin", []byte{0, 1, 2})
	rec = ts.do(t, http.MethodPost, "/api/load", map[string]interface{}{"fileIds": []string{bad.ID}})
	require.Equal(t, http.StatusOK, rec.Code)
	var summary models.LoadSummary
	decode(t, rec, &summary)
	require.Len(t, summary.Errors, 1)
	assert.True(t, summary.Errors[0].Fatal)

	info, err := ts.storage.Get(bad.ID)
	require.NoError(t, err)
	assert.Equal(t, "error", info.Status)

	rec = ts.do(t, http.MethodGet, "/api/load/unknown", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAsyncLoad(t *testing.T) {
	ts := newTestServer(t, false)
	paths := testutil.PanelFixture(t, t.TempDir())
	data, err := os.ReadFile(paths[0])
	require.NoError(t, err)
	id := ts.storage.AddFile("b1.csv", data).ID

	rec := ts.do(t, http.MethodPost, "/api/load", map[string]interface{}{"fileIds": []string{id}, "async": true})
	require.Equal(t, http.StatusAccepted, rec.Code)
	var pending models.LoadSummary
	decode(t, rec, &pending)

	ts.manager.Wait()
	rec = ts.do(t, http.MethodGet, "/api/load/"+pending.ID, nil)
	var done models.LoadSummary
	decode(t, rec, &done)
	assert.Equal(t, models.LoadStatusComplete, done.Status)
	assert.Equal(t, 1, done.Accepted)

	file, err := ts.storage.Get(id)
	require.NoError(t, err)
	assert.Equal(t, "loaded", file.Status)
	assert.Equal(t, pending.ID, file.LoadID)
}

func TestReload(t *testing.T) {
	ts := newTestServer(t, false)
	ts.loadFixture(t)

	rec := ts.do(t, http.MethodPost, "/api/reload", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, ts.manager.Info().Product)
}

func TestMeasurementsWithoutStore(t *testing.T) {
	ts := newTestServer(t, false)
	rec := ts.do(t, http.MethodGet, "/api/measurements?test=VCC", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "SERVICE_UNAVAILABLE")
}

func TestErrorHandler_UnknownRoute(t *testing.T) {
	ts := newTestServer(t, false)
	rec := ts.do(t, http.MethodGet, "/api/nothing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), `"code":"HTTP_ERROR"`)
}
