package params

// Source supplies externally configured values by full parameter name.
type Source interface {
	Lookup(name string) (Value, bool)
}

// MapSource is a Source backed by a map.
type MapSource map[string]Value

// Lookup implements Source.
func (m MapSource) Lookup(name string) (Value, bool) {
	v, ok := m[name]
	return v, ok
}

// Layered consults its sources in order; the first hit wins. Nil sources
// are skipped.
type Layered []Source

// Lookup implements Source.
func (l Layered) Lookup(name string) (Value, bool) {
	for _, s := range l {
		if s == nil {
			continue
		}
		if v, ok := s.Lookup(name); ok {
			return v, true
		}
	}
	return Value{}, false
}

// SourceFunc adapts a function to Source.
type SourceFunc func(name string) (Value, bool)

// Lookup implements Source.
func (f SourceFunc) Lookup(name string) (Value, bool) { return f(name) }
