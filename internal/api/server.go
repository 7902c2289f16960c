package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/viniciushammett/go-log-analytics/internal/analytics"
	"github.com/viniciushammett/go-log-analytics/internal/ingest"
	"github.com/viniciushammett/go-log-analytics/internal/logger"
	"github.com/viniciushammett/go-log-analytics/internal/metrics"
	"github.com/viniciushammett/go-log-analytics/internal/parser"
	"github.com/viniciushammett/go-log-analytics/internal/store"
)

var tracer = otel.Tracer("api")

var allowedExtensions = map[string]bool{"log": true, "txt": true, "json": true}

// Deps are the collaborators the server dispatches into.
type Deps struct {
	Log       *logger.Logger
	Store     *store.Store
	Ingest    *ingest.Processor
	Runner    *analytics.Runner
	AuthToken string
}

// Config is the server's own knobs.
type Config struct {
	Addr        string
	UploadDir   string
	MaxUploadMB int
}

type Server struct {
	d Deps
	c Config
}

func NewServer(d Deps, c Config) *Server {
	if c.MaxUploadMB <= 0 {
		c.MaxUploadMB = 200
	}
	if c.UploadDir == "" {
		c.UploadDir = "uploads"
	}
	return &Server{d: d, c: c}
}

func (s *Server) router() chi.Router {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("ok")) })
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) { metrics.Handler().ServeHTTP(w, r) })

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.requireAuth)
		r.Post("/logs/upload", s.handleUpload)
		r.Get("/logs", s.handleSearchLogs)
		r.Get("/logs/files", s.handleListFiles)
		r.Post("/analytics/run", s.handleTriggerRun)
		r.Get("/analytics/anomalies", s.handleListAnomalies)
		r.Get("/analytics/clusters", s.handleListClusters)
		r.Get("/analytics/runs", s.handleListRuns)
		r.Get("/stats/summary", s.handleStatsSummary)
	})
	return r
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{Addr: s.c.Addr, Handler: s.router()}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.d.AuthToken != "" {
			got := r.Header.Get("Authorization")
			if !strings.HasPrefix(got, "Bearer ") || strings.TrimPrefix(got, "Bearer ") != s.d.AuthToken {
				httpError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	_, span := tracer.Start(r.Context(), "POST /v1/logs/upload")
	defer span.End()

	maxBytes := int64(s.c.MaxUploadMB) * 1024 * 1024
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		httpError(w, http.StatusRequestEntityTooLarge, "file too large or malformed form")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		httpError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()
	if header.Filename == "" {
		httpError(w, http.StatusBadRequest, "missing filename")
		return
	}

	ext := ""
	if i := strings.LastIndex(header.Filename, "."); i >= 0 {
		ext = strings.ToLower(header.Filename[i+1:])
	}
	if !allowedExtensions[ext] {
		httpError(w, http.StatusBadRequest, "invalid file type; allowed: json, log, txt")
		return
	}

	if err := os.MkdirAll(s.c.UploadDir, 0o755); err != nil {
		httpError(w, http.StatusInternalServerError, "upload dir unavailable")
		return
	}
	storedPath := filepath.Join(s.c.UploadDir, randID()+"_"+filepath.Base(header.Filename))
	dst, err := os.Create(storedPath)
	if err != nil {
		httpError(w, http.StatusInternalServerError, "cannot store upload")
		return
	}
	if _, err := io.Copy(dst, file); err != nil {
		dst.Close()
		os.Remove(storedPath)
		httpError(w, http.StatusInternalServerError, "cannot store upload")
		return
	}
	if err := dst.Close(); err != nil {
		os.Remove(storedPath)
		httpError(w, http.StatusInternalServerError, "cannot store upload")
		return
	}

	lf := store.SourceFile{
		Filename:    header.Filename,
		StoredPath:  storedPath,
		Source:      r.FormValue("source"),
		Environment: r.FormValue("environment"),
		LogType:     r.FormValue("log_type"),
	}
	if err := s.d.Store.CreateFile(&lf); err != nil {
		os.Remove(storedPath)
		httpError(w, http.StatusInternalServerError, "cannot record upload")
		return
	}
	span.SetAttributes(attribute.Int64("file_id", int64(lf.ID)))

	go func() {
		if err := s.d.Ingest.ProcessFile(lf.ID); err != nil {
			s.d.Log.Error().Err(err).Uint64("file", lf.ID).Msg("background ingestion failed")
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]any{
		"log_file_id": lf.ID,
		"status":      lf.Status,
	})
}

func (s *Server) handleSearchLogs(w http.ResponseWriter, r *http.Request) {
	_, span := tracer.Start(r.Context(), "GET /v1/logs")
	defer span.End()

	q := r.URL.Query()
	filter := store.RecordFilter{
		Level:   q.Get("level"),
		Service: q.Get("service"),
		Status:  parser.Status(q.Get("status")),
		Query:   q.Get("q"),
		Start:   parseTimeParam(q.Get("start")),
		End:     parseTimeParam(q.Get("end")),
	}
	if v := q.Get("file_id"); v != "" {
		if id, err := strconv.ParseUint(v, 10, 64); err == nil {
			filter.FileID = id
		}
	}
	offset, limit := pagination(r)

	items, total, err := s.d.Store.SearchRecords(filter, offset, limit)
	if err != nil {
		httpError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writePage(w, items, total, offset, limit)
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	offset, limit := pagination(r)
	items, total, err := s.d.Store.ListFiles(r.URL.Query().Get("status"), offset, limit)
	if err != nil {
		httpError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writePage(w, items, total, offset, limit)
}

func (s *Server) handleTriggerRun(w http.ResponseWriter, r *http.Request) {
	_, span := tracer.Start(r.Context(), "POST /v1/analytics/run")
	defer span.End()

	req := analytics.Request{
		Trigger: "manual",
		Start:   parseTimeParam(r.URL.Query().Get("start")),
		End:     parseTimeParam(r.URL.Query().Get("end")),
	}
	if err := s.d.Runner.Enqueue(req); err != nil {
		httpError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":  "accepted",
		"message": "Analytics run has been queued",
	})
}

func (s *Server) handleListAnomalies(w http.ResponseWriter, r *http.Request) {
	_, span := tracer.Start(r.Context(), "GET /v1/analytics/anomalies")
	defer span.End()

	offset, limit := pagination(r)
	start := parseTimeParam(r.URL.Query().Get("start"))
	end := parseTimeParam(r.URL.Query().Get("end"))
	items, total, err := s.d.Store.ListAnomalies(start, end, offset, limit)
	if err != nil {
		httpError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writePage(w, items, total, offset, limit)
}

func (s *Server) handleListClusters(w http.ResponseWriter, r *http.Request) {
	offset, limit := pagination(r)
	items, total, err := s.d.Store.ListClusters(offset, limit)
	if err != nil {
		httpError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writePage(w, items, total, offset, limit)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	offset, limit := pagination(r)
	items, total, err := s.d.Store.ListRuns(offset, limit)
	if err != nil {
		httpError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writePage(w, items, total, offset, limit)
}

func (s *Server) handleStatsSummary(w http.ResponseWriter, r *http.Request) {
	_, span := tracer.Start(r.Context(), "GET /v1/stats/summary")
	defer span.End()

	sum, err := s.d.Store.Summary(10)
	if err != nil {
		httpError(w, http.StatusInternalServerError, err.Error())
		return
	}

	end := time.Now().UTC()
	feats, err := analytics.ExtractWindowFeatures(s.d.Store, end.Add(-analytics.DefaultLookback), end)
	if err != nil {
		httpError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"total_records":   sum.TotalRecords,
		"total_files":     sum.TotalFiles,
		"level_breakdown": sum.LevelBreakdown,
		"top_services":    sum.TopServices,
		"last_24h":        analytics.SummarizeWindows(feats),
	})
}

func pagination(r *http.Request) (offset, limit int) {
	limit = 50
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v >= 0 {
		offset = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 && v <= 500 {
		limit = v
	}
	return offset, limit
}

func parseTimeParam(v string) *time.Time {
	if v == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, v); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

func writePage(w http.ResponseWriter, items any, total, offset, limit int) {
	writeJSON(w, http.StatusOK, map[string]any{
		"items":  items,
		"total":  total,
		"offset": offset,
		"limit":  limit,
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func randID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
