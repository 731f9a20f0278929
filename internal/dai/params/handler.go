// Package params is the typed configuration surface of pipeline nodes. A
// Handler declares named entries once, validates values against their type,
// enumeration table or range, and turns runtime update batches into device
// control deltas.
package params

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/banshee-data/depth.relay/internal/monitoring"
)

var (
	ErrUnknownEnum     = errors.New("unknown enumerated value")
	ErrTypeMismatch    = errors.New("type mismatch")
	ErrOutOfRange      = errors.New("value out of range")
	ErrAlreadyDeclared = errors.New("parameter already declared")
	ErrNotDeclared     = errors.New("parameter not declared")
)

// EntryError is the failure of one entry of an update batch.
type EntryError struct {
	Index int    // position in the batch
	Name  string // full name
	Err   error
}

func (e *EntryError) Error() string { return e.Name + ": " + e.Err.Error() }
func (e *EntryError) Unwrap() error { return e.Err }

// Rejected collects the EntryErrors inside err, which may be any tree of
// joined and wrapped errors, keyed by batch index.
func Rejected(err error) map[int]*EntryError {
	out := make(map[int]*EntryError)
	var walk func(error)
	walk = func(err error) {
		switch x := err.(type) {
		case nil:
		case *EntryError:
			if _, ok := out[x.Index]; !ok {
				out[x.Index] = x
			}
		case interface{ Unwrap() []error }:
			for _, e := range x.Unwrap() {
				walk(e)
			}
		case interface{ Unwrap() error }:
			walk(x.Unwrap())
		}
	}
	walk(err)
	return out
}

// Entry describes one declared parameter.
type Entry struct {
	Name        string
	Default     Value
	Enum        map[string]int // label -> symbolic value; nil for plain values
	Min, Max    float64        // inclusive, only when HasRange
	HasRange    bool
	Runtime     bool // may change after the pipeline is committed
	Description string
}

// Type returns the declared type, taken from the default.
func (e *Entry) Type() Type { return e.Default.Type() }

// Labels returns the enumeration labels, sorted.
func (e *Entry) Labels() []string {
	return slices.Sorted(maps.Keys(e.Enum))
}

func (e *Entry) validate(v Value) (Value, error) {
	v, err := v.As(e.Type())
	if err != nil {
		return Value{}, err
	}
	if e.Enum != nil {
		if _, ok := e.Enum[v.s]; !ok {
			return Value{}, fmt.Errorf("%w %q (valid: %s)", ErrUnknownEnum, v.s, strings.Join(e.Labels(), ", "))
		}
	}
	if e.HasRange {
		var n float64
		switch v.typ {
		case TypeInt:
			n = float64(v.i)
		case TypeFloat:
			n = v.f
		}
		if n < e.Min || n > e.Max {
			return Value{}, fmt.Errorf("%w: %s not in [%g, %g]", ErrOutOfRange, v, e.Min, e.Max)
		}
	}
	return v, nil
}

// Snapshot is an immutable view of a handler's values. A new snapshot is
// published for every applied update, so a reader holding one never sees a
// partially applied batch.
type Snapshot struct {
	version uint64
	values  map[string]Value
}

// Version increases with every applied update.
func (s *Snapshot) Version() uint64 { return s.version }

// Value returns a parameter by short name.
func (s *Snapshot) Value(name string) (Value, bool) {
	v, ok := s.values[name]
	return v, ok
}

func (s *Snapshot) Bool(name string) bool     { return s.values[name].b }
func (s *Snapshot) Int(name string) int       { return int(s.values[name].i) }
func (s *Snapshot) Float(name string) float64 { return s.values[name].f }
func (s *Snapshot) Str(name string) string    { return s.values[name].s }
func (s *Snapshot) Values() map[string]Value  { return maps.Clone(s.values) }

// Handler owns the parameters of one node. Parameter names are short
// ("i_max_q_size"); the configuration surface uses full names
// ("stereo.i_max_q_size").
type Handler struct {
	name string

	mu      sync.Mutex
	entries map[string]*Entry
	order   []string
	pending map[string]Value

	snap atomic.Pointer[Snapshot]
}

// NewHandler returns an empty handler for the node called name.
func NewHandler(name string) *Handler {
	h := &Handler{
		name:    name,
		entries: make(map[string]*Entry),
		pending: make(map[string]Value),
	}
	h.snap.Store(&Snapshot{values: map[string]Value{}})
	return h
}

// Name returns the owning node name.
func (h *Handler) Name() string { return h.name }

// FullName qualifies a short parameter name with the node name.
func (h *Handler) FullName(param string) string { return h.name + "." + param }

// Owns reports whether a full name belongs to this handler and returns the
// short name.
func (h *Handler) Owns(full string) (string, bool) {
	return strings.CutPrefix(full, h.name+".")
}

// Declare registers e and returns its initial value: the value supplied by
// src under the full name, or the default. A failing value leaves the
// handler untouched.
func (h *Handler) Declare(src Source, e Entry) (Value, error) {
	full := h.FullName(e.Name)
	if e.Default.IsZero() {
		return Value{}, fmt.Errorf("declare %s: no default", full)
	}
	if _, err := e.validate(e.Default); err != nil {
		return Value{}, fmt.Errorf("declare %s: invalid default: %w", full, err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.entries[e.Name]; ok {
		return Value{}, fmt.Errorf("declare %s: %w", full, ErrAlreadyDeclared)
	}

	v := e.Default
	if src != nil {
		if x, ok := src.Lookup(full); ok {
			v = x
		}
	}
	v, err := e.validate(v)
	if err != nil {
		return Value{}, fmt.Errorf("declare %s: %w", full, err)
	}

	entry := e
	h.entries[e.Name] = &entry
	h.order = append(h.order, e.Name)

	cur := h.snap.Load()
	next := maps.Clone(cur.values)
	next[e.Name] = v
	h.snap.Store(&Snapshot{version: cur.version, values: next})

	monitoring.Debugf("[Params] declared %s = %s", full, v)
	return v, nil
}

// Snapshot returns the current values.
func (h *Handler) Snapshot() *Snapshot { return h.snap.Load() }

// Get returns the current value of a declared parameter.
func (h *Handler) Get(name string) (Value, bool) {
	return h.snap.Load().Value(name)
}

// EnumValue returns the symbolic value of an enumerated parameter.
func (h *Handler) EnumValue(name string) (int, error) {
	h.mu.Lock()
	e, ok := h.entries[name]
	h.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("%s: %w", h.FullName(name), ErrNotDeclared)
	}
	if e.Enum == nil {
		return 0, fmt.Errorf("%s: %w: not enumerated", h.FullName(name), ErrTypeMismatch)
	}
	v, _ := h.Get(name)
	return e.Enum[v.s], nil
}

// Entries returns the declared entries in declaration order.
func (h *Handler) Entries() []Entry {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Entry, 0, len(h.order))
	for _, name := range h.order {
		out = append(out, *h.entries[name])
	}
	return out
}

// Pending returns accepted updates to build-time parameters. They take
// effect only when the pipeline is rebuilt.
func (h *Handler) Pending() map[string]Value {
	h.mu.Lock()
	defer h.mu.Unlock()
	return maps.Clone(h.pending)
}

// Update applies the entries of batch owned by this handler and returns the
// ones that changed a runtime value, with short names, in batch order.
// Entries owned by other handlers are ignored. Each failing entry is
// reported in the joined error and leaves every stored value untouched;
// the remaining valid entries are still applied, in a single snapshot swap.
func (h *Handler) Update(batch []Parameter) ([]Parameter, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	cur := h.snap.Load()
	next := maps.Clone(cur.values)
	var changed []Parameter
	var errs []error

	for i, p := range batch {
		short, ok := h.Owns(p.Name)
		if !ok {
			continue
		}
		e, ok := h.entries[short]
		if !ok {
			errs = append(errs, &EntryError{Index: i, Name: p.Name, Err: ErrNotDeclared})
			continue
		}
		v, err := e.validate(p.Value)
		if err != nil {
			errs = append(errs, &EntryError{Index: i, Name: p.Name, Err: err})
			continue
		}

		if !e.Runtime {
			if cur.values[short].Equal(v) {
				delete(h.pending, short)
				continue
			}
			h.pending[short] = v
			monitoring.Logf("[Params] %s = %s accepted; build-time parameter, applies on next rebuild", p.Name, v)
			continue
		}

		if next[short].Equal(v) {
			continue
		}
		next[short] = v
		if i := slices.IndexFunc(changed, func(c Parameter) bool { return c.Name == short }); i >= 0 {
			changed[i].Value = v
		} else {
			changed = append(changed, Parameter{Name: short, Value: v})
		}
	}

	// A parameter set and then reset inside one batch is not a change.
	changed = slices.DeleteFunc(changed, func(c Parameter) bool {
		return cur.values[c.Name].Equal(c.Value)
	})
	if len(changed) > 0 {
		h.snap.Store(&Snapshot{version: cur.version + 1, values: next})
	}
	return changed, errors.Join(errs...)
}
