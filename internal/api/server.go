// Package api serves the relay's HTTP control surface: node and parameter
// inspection, runtime parameter batches and pipeline rebuilds.
package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/depth.relay/internal/driver"
	"github.com/banshee-data/depth.relay/internal/httputil"
	"github.com/banshee-data/depth.relay/internal/monitoring"
	"github.com/banshee-data/depth.relay/internal/paramstore"
	"github.com/banshee-data/depth.relay/internal/publish"
	"github.com/banshee-data/depth.relay/internal/version"
)

// ANSI escape codes for status colouring in the request log.
const (
	colorCyan      = "\033[36m"
	colorReset     = "\033[0m"
	colorYellow    = "\033[33m"
	colorBoldGreen = "\033[1;32m"
	colorBoldRed   = "\033[1;31m"
)

type Server struct {
	drv   *driver.Driver
	hub   *publish.Hub
	store *paramstore.Store // optional
}

func NewServer(drv *driver.Driver, hub *publish.Hub, store *paramstore.Store) *Server {
	return &Server{drv: drv, hub: hub, store: store}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, status and duration.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

// ServeMux returns the API routes plus the /debug/ pages.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/version", s.showVersion)
	mux.HandleFunc("/api/nodes", s.listNodes)
	mux.HandleFunc("/api/nodes/{name}/params", s.listParams)
	mux.HandleFunc("/api/params", s.updateParams)
	mux.HandleFunc("/api/rebuild", s.rebuild)
	mux.HandleFunc("/api/pipeline", s.showPipeline)
	mux.HandleFunc("/api/history", s.showHistory)
	s.AttachDebugRoutes(mux)
	if s.store != nil {
		s.store.AttachAdminRoutes(mux)
	}
	return mux
}

func (s *Server) showVersion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, map[string]any{
		"version":       version.Version,
		"git_sha":       version.GitSHA,
		"build_time":    version.BuildTime,
		"pipeline_type": s.drv.PipelineType(),
		"build_id":      s.drv.BuildID(),
		"running":       s.drv.Running(),
	})
}

// writeDriverError maps driver state errors onto status codes.
func writeDriverError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, driver.ErrNotRunning), errors.Is(err, driver.ErrClosed):
		httputil.Conflict(w, err.Error())
	case errors.Is(err, driver.ErrEmptyBatch):
		httputil.BadRequest(w, err.Error())
	default:
		httputil.InternalServerError(w, err.Error())
	}
}
