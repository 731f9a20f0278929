package params

// Option adjusts an Entry at declaration.
type Option func(*Entry)

// Runtime marks an entry as changeable after commit.
func Runtime() Option {
	return func(e *Entry) { e.Runtime = true }
}

// Range bounds a numeric entry, inclusive.
func Range(min, max float64) Option {
	return func(e *Entry) {
		e.Min, e.Max, e.HasRange = min, max, true
	}
}

// Describe attaches a human-readable description.
func Describe(s string) Option {
	return func(e *Entry) { e.Description = s }
}

// Declarer declares a run of parameters against one source and keeps the
// first error. Once an error is recorded the remaining declarations are
// skipped and return their defaults; check Err at the end.
type Declarer struct {
	h   *Handler
	src Source
	err error
}

// Declarer returns a Declarer reading from src.
func (h *Handler) Declarer(src Source) *Declarer {
	return &Declarer{h: h, src: src}
}

// Err returns the first declaration error.
func (d *Declarer) Err() error { return d.err }

func (d *Declarer) declare(e Entry, opts []Option) Value {
	for _, o := range opts {
		o(&e)
	}
	if d.err != nil {
		return e.Default
	}
	v, err := d.h.Declare(d.src, e)
	if err != nil {
		d.err = err
		return e.Default
	}
	return v
}

// Bool declares a boolean parameter.
func (d *Declarer) Bool(name string, def bool, opts ...Option) bool {
	return d.declare(Entry{Name: name, Default: Bool(def)}, opts).b
}

// Int declares an integer parameter.
func (d *Declarer) Int(name string, def int, opts ...Option) int {
	return int(d.declare(Entry{Name: name, Default: Int(def)}, opts).i)
}

// Float declares a floating-point parameter.
func (d *Declarer) Float(name string, def float64, opts ...Option) float64 {
	return d.declare(Entry{Name: name, Default: Float(def)}, opts).f
}

// String declares a free-form string parameter.
func (d *Declarer) String(name string, def string, opts ...Option) string {
	return d.declare(Entry{Name: name, Default: String(def)}, opts).s
}

// Enum declares a string parameter restricted to the labels of table and
// returns the symbolic value of the chosen label.
func (d *Declarer) Enum(name string, def string, table map[string]int, opts ...Option) int {
	v := d.declare(Entry{Name: name, Default: String(def), Enum: table}, opts)
	return table[v.s]
}
