package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/banshee-data/depth.relay/internal/dai/nodes"
	"github.com/banshee-data/depth.relay/internal/dai/params"
	"github.com/banshee-data/depth.relay/internal/httputil"
	"github.com/banshee-data/depth.relay/internal/paramstore"
)

// NodeInfo is one entry of GET /api/nodes. Child sensors are listed with
// their parent's handlers.
type NodeInfo struct {
	Name     string               `json:"name"`
	State    string               `json:"state"`
	Handlers []string             `json:"handlers"`
	Streams  []nodes.StreamStatus `json:"streams"`
}

// ParamInfo describes one declared parameter.
type ParamInfo struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Value       any      `json:"value"`
	Default     any      `json:"default"`
	Runtime     bool     `json:"runtime"`
	Enum        []string `json:"enum,omitempty"`
	Min         *float64 `json:"min,omitempty"`
	Max         *float64 `json:"max,omitempty"`
	Pending     any      `json:"pending,omitempty"`
	Description string   `json:"description,omitempty"`
}

// ParamUpdate is one entry of a POST /api/params body.
type ParamUpdate struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

// UpdateRequest is the POST /api/params body. Entries apply in order.
type UpdateRequest struct {
	Params []ParamUpdate `json:"params"`
}

// Batch converts the request into a parameter batch.
func (u UpdateRequest) Batch() ([]params.Parameter, error) {
	batch := make([]params.Parameter, 0, len(u.Params))
	for i, p := range u.Params {
		if p.Name == "" {
			return nil, fmt.Errorf("params[%d]: missing name", i)
		}
		v, err := params.FromAny(p.Value)
		if err != nil {
			return nil, fmt.Errorf("params[%d] %s: %w", i, p.Name, err)
		}
		batch = append(batch, params.Parameter{Name: p.Name, Value: v})
	}
	return batch, nil
}

func (s *Server) listNodes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	out := []NodeInfo{}
	for _, n := range s.drv.Nodes() {
		info := NodeInfo{Name: n.Name(), State: n.State().String(), Streams: n.Streams()}
		for _, h := range n.Params() {
			info.Handlers = append(info.Handlers, h.Name())
		}
		out = append(out, info)
	}
	httputil.WriteJSONOK(w, out)
}

func describe(h *params.Handler) []ParamInfo {
	snap := h.Snapshot()
	pending := h.Pending()
	entries := h.Entries()
	out := make([]ParamInfo, 0, len(entries))
	for _, e := range entries {
		info := ParamInfo{
			Name:        h.FullName(e.Name),
			Type:        e.Type().String(),
			Default:     e.Default.Any(),
			Runtime:     e.Runtime,
			Description: e.Description,
		}
		if v, ok := snap.Value(e.Name); ok {
			info.Value = v.Any()
		}
		if e.Enum != nil {
			info.Enum = e.Labels()
		}
		if e.HasRange {
			lo, hi := e.Min, e.Max
			info.Min, info.Max = &lo, &hi
		}
		if v, ok := pending[e.Name]; ok {
			info.Pending = v.Any()
		}
		out = append(out, info)
	}
	return out
}

func (s *Server) listParams(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	name := r.PathValue("name")
	h, ok := s.drv.Handler(name)
	if !ok {
		httputil.NotFound(w, fmt.Sprintf("no parameters for node %q", name))
		return
	}
	httputil.WriteJSONOK(w, describe(h))
}

// updateResponse is the POST /api/params reply.
type updateResponse struct {
	BatchID string `json:"batch_id"`
	Entries any    `json:"entries"`
	Error   string `json:"error,omitempty"`
}

// updateParams applies a runtime batch. The reply lists every entry's
// outcome; the status is 200 when at least one entry was accepted and 400
// when none was.
func (s *Server) updateParams(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	var req UpdateRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	batch, err := req.Batch()
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	res, err := s.drv.UpdateParams(r.Context(), batch)
	if res.BatchID == "" {
		writeDriverError(w, err)
		return
	}
	resp := updateResponse{BatchID: res.BatchID, Entries: res.Entries}
	if err != nil {
		resp.Error = err.Error()
	}
	status := http.StatusOK
	if res.Accepted() == 0 {
		status = http.StatusBadRequest
	}
	httputil.WriteJSON(w, status, resp)
}

func (s *Server) rebuild(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	if err := s.drv.Rebuild(r.Context()); err != nil {
		writeDriverError(w, err)
		return
	}
	httputil.WriteJSONOK(w, map[string]any{
		"build_id": s.drv.BuildID(),
		"streams":  s.drv.Streams(),
	})
}

func (s *Server) showPipeline(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	schema, err := s.drv.Schema()
	if err != nil {
		writeDriverError(w, err)
		return
	}
	pending := make(map[string]any)
	for name, v := range s.drv.Pending() {
		pending[name] = v.Any()
	}
	httputil.WriteJSONOK(w, map[string]any{
		"build_id": s.drv.BuildID(),
		"type":     s.drv.PipelineType(),
		"schema":   schema,
		"streams":  s.drv.Streams(),
		"pending":  pending,
	})
}

func (s *Server) showHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.store == nil {
		httputil.NotFound(w, "parameter store disabled")
		return
	}

	limit := 100 // default value
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 {
			httputil.BadRequest(w, "Invalid 'limit' parameter")
			return
		}
		limit = parsed
	}
	recs, err := s.store.History(r.Context(), r.URL.Query().Get("prefix"), limit)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to retrieve history: %v", err))
		return
	}
	if recs == nil {
		recs = []paramstore.Record{}
	}
	httputil.WriteJSONOK(w, recs)
}
