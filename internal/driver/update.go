package driver

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/banshee-data/depth.relay/internal/dai/params"
	"github.com/banshee-data/depth.relay/internal/monitoring"
	"github.com/banshee-data/depth.relay/internal/paramstore"
)

// EntryResult is the outcome of one entry of a runtime batch.
type EntryResult struct {
	Name     string `json:"name"`
	Value    any    `json:"value"`
	Accepted bool   `json:"accepted"`
	// Pending is set for accepted build-time entries; they apply on the
	// next rebuild.
	Pending bool   `json:"pending,omitempty"`
	Error   string `json:"error,omitempty"`
}

// BatchResult is the outcome of UpdateParams.
type BatchResult struct {
	BatchID string        `json:"batch_id"`
	Entries []EntryResult `json:"entries"`
}

// Accepted counts the accepted entries.
func (r BatchResult) Accepted() int {
	n := 0
	for _, e := range r.Entries {
		if e.Accepted {
			n++
		}
	}
	return n
}

// UpdateParams hands batch to every node. Each entry is judged on its own:
// failing entries are reported and the rest still apply. The returned error
// joins every failure, including controls the device refused; the result
// is valid whenever the driver is running.
func (d *Driver) UpdateParams(ctx context.Context, batch []params.Parameter) (BatchResult, error) {
	if len(batch) == 0 {
		return BatchResult{}, ErrEmptyBatch
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running {
		return BatchResult{}, ErrNotRunning
	}

	var errs []error
	for _, n := range d.nodes {
		if err := n.UpdateParams(batch); err != nil {
			errs = append(errs, err)
		}
	}
	err := errors.Join(errs...)
	rejected := params.Rejected(err)

	handlers := d.handlers()
	res := BatchResult{BatchID: uuid.NewString(), Entries: make([]EntryResult, len(batch))}
	changes := make([]paramstore.Change, len(batch))
	for i, p := range batch {
		e := EntryResult{Name: p.Name, Value: p.Value.Any(), Accepted: true}
		h, short := owner(handlers, p.Name)
		switch {
		case h == nil:
			ue := &params.EntryError{Index: i, Name: p.Name, Err: params.ErrNotDeclared}
			err = errors.Join(err, ue)
			e.Accepted, e.Error = false, ue.Error()
		case rejected[i] != nil:
			e.Accepted, e.Error = false, rejected[i].Error()
		default:
			_, e.Pending = h.Pending()[short]
			d.overrides[p.Name] = p.Value
		}
		res.Entries[i] = e
		changes[i] = paramstore.Change{Name: p.Name, Value: p.Value, Accepted: e.Accepted, Err: e.Error}
	}

	if d.opts.Store != nil {
		if serr := d.opts.Store.RecordBatch(ctx, res.BatchID, changes); serr != nil {
			monitoring.Logf("[Driver] recording batch %s: %v", res.BatchID, serr)
		}
	}
	monitoring.Logf("[Driver] batch %s: %d of %d entries accepted", res.BatchID, res.Accepted(), len(batch))
	return res, err
}

// owner returns the handler declaring full, and the short name.
func owner(handlers []*params.Handler, full string) (*params.Handler, string) {
	for _, h := range handlers {
		short, ok := h.Owns(full)
		if !ok {
			continue
		}
		if _, ok := h.Get(short); ok {
			return h, short
		}
	}
	return nil, ""
}

// Pending returns accepted build-time values awaiting a rebuild, by full
// name.
func (d *Driver) Pending() map[string]params.Value {
	out := make(map[string]params.Value)
	for _, h := range d.Handlers() {
		for short, v := range h.Pending() {
			out[h.FullName(short)] = v
		}
	}
	return out
}
