package api

import (
	"net/http"

	"tailscale.com/tsweb"

	"github.com/banshee-data/depth.relay/internal/httputil"
	"github.com/banshee-data/depth.relay/internal/version"
)

// AttachDebugRoutes mounts pipeline and stream pages under /debug/.
func (s *Server) AttachDebugRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.Handle("pipeline", "Committed pipeline graph (JSON)", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		schema, err := s.drv.Schema()
		if err != nil {
			writeDriverError(w, err)
			return
		}
		httputil.WriteJSONOK(w, schema)
	}))
	debug.Handle("queues", "Output queue and conversion counters (JSON)", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSONOK(w, s.drv.Streams())
	}))
	debug.Handle("hub", "Frame hub topics and subscribers (JSON)", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSONOK(w, s.hub.Stats())
	}))
	debug.Handle("relay-version", "Build metadata", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte(version.String() + "\n"))
	}))
}
