package api

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viniciushammett/go-log-analytics/internal/analytics"
	"github.com/viniciushammett/go-log-analytics/internal/ingest"
	"github.com/viniciushammett/go-log-analytics/internal/logger"
	"github.com/viniciushammett/go-log-analytics/internal/notify"
	"github.com/viniciushammett/go-log-analytics/internal/store"
)

func newTestServer(t *testing.T, token string) (*Server, *store.Store) {
	t.Helper()
	log := logger.New("error")
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	runner := analytics.NewRunner(log, s, notify.NewSlack(false, ""))
	srv := NewServer(Deps{
		Log:       log,
		Store:     s,
		Ingest:    ingest.New(log, s, runner),
		Runner:    runner,
		AuthToken: token,
	}, Config{UploadDir: t.TempDir()})
	return srv, s
}

func doRequest(srv *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	srv.router().ServeHTTP(rec, req)
	return rec
}

func TestHealthzSkipsAuth(t *testing.T) {
	srv, _ := newTestServer(t, "secret")
	rec := doRequest(srv, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestAuthRequiredOnV1(t *testing.T) {
	srv, _ := newTestServer(t, "secret")

	rec := doRequest(srv, httptest.NewRequest(http.MethodGet, "/v1/logs", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/logs", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	assert.Equal(t, http.StatusUnauthorized, doRequest(srv, req).Code)

	req = httptest.NewRequest(http.MethodGet, "/v1/logs", nil)
	req.Header.Set("Authorization", "Bearer secret")
	assert.Equal(t, http.StatusOK, doRequest(srv, req).Code)
}

func TestAuthDisabledWhenNoToken(t *testing.T) {
	srv, _ := newTestServer(t, "")
	rec := doRequest(srv, httptest.NewRequest(http.MethodGet, "/v1/logs", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTriggerRunAccepted(t *testing.T) {
	srv, _ := newTestServer(t, "")
	rec := doRequest(srv, httptest.NewRequest(http.MethodPost, "/v1/analytics/run", nil))
	require.Equal(t, http.StatusAccepted, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "accepted", body["status"])
}

func TestUploadRejectsUnknownExtension(t *testing.T) {
	srv, _ := newTestServer(t, "")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "malware.exe")
	require.NoError(t, err)
	_, _ = fw.Write([]byte("nope"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/v1/logs/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := doRequest(srv, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	_, total, err := srv.d.Store.ListFiles("", 0, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, total)
}

func TestUploadAcceptsLogFile(t *testing.T) {
	srv, s := newTestServer(t, "")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "app.log")
	require.NoError(t, err)
	_, _ = fw.Write([]byte("2024-01-15T10:30:00Z INFO [api] hello\n"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/v1/logs/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := doRequest(srv, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Contains(t, body, "log_file_id")

	// Ingestion runs in the background; wait for the lifecycle to settle.
	deadline := time.Now().Add(5 * time.Second)
	for {
		f, err := s.GetFile(uint64(body["log_file_id"].(float64)))
		require.NoError(t, err)
		if f.Status == store.FileProcessed {
			assert.Equal(t, 1, f.TotalLines)
			assert.Equal(t, 1, f.ParsedLines)
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("file never processed, status %q", f.Status)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestListEndpointsReturnPages(t *testing.T) {
	srv, s := newTestServer(t, "")
	require.NoError(t, s.PutAnomalies([]store.Anomaly{{
		WindowStart: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		WindowEnd:   time.Date(2025, 6, 1, 0, 2, 0, 0, time.UTC),
		Score:       -0.05,
	}}))

	for _, path := range []string{
		"/v1/analytics/anomalies",
		"/v1/analytics/clusters",
		"/v1/analytics/runs",
		"/v1/logs/files",
	} {
		rec := doRequest(srv, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, rec.Code, path)

		var body map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), path)
		assert.Contains(t, body, "items", path)
		assert.Contains(t, body, "total", path)
	}

	rec := doRequest(srv, httptest.NewRequest(http.MethodGet, "/v1/analytics/anomalies", nil))
	var body struct {
		Items []store.Anomaly `json:"items"`
		Total int             `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 1, body.Total)
	assert.Equal(t, -0.05, body.Items[0].Score)
}

func TestStatsSummaryShape(t *testing.T) {
	srv, _ := newTestServer(t, "")
	rec := doRequest(srv, httptest.NewRequest(http.MethodGet, "/v1/stats/summary", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	for _, key := range []string{"total_records", "total_files", "level_breakdown", "top_services", "last_24h"} {
		assert.Contains(t, body, key)
	}
}
