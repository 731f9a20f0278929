package paramstore

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"
)

// AttachAdminRoutes mounts the store's debug pages under /debug/.
func (s *Store) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		log.Printf("[ParamStore] tailsql unavailable: %v", err)
	} else {
		tsql.SetDB("sqlite://"+s.path, s.db, &tailsql.DBOptions{
			Label: "Parameter store",
		})
		debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())
	}

	debug.Handle("params/history", "Recent runtime parameter changes (?prefix=node.&limit=N)", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		recs, err := s.History(r.Context(), r.URL.Query().Get("prefix"), limit)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(recs)
	}))
	debug.Handle("params/builds", "Recent pipeline builds", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		builds, err := s.Builds(r.Context(), 0)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(builds)
	}))
}
