package params

import (
	"fmt"
	"math"
	"strconv"
)

// Type is the declared type of a parameter.
type Type int

const (
	TypeBool Type = iota + 1
	TypeInt
	TypeFloat
	TypeString
)

func (t Type) String() string {
	switch t {
	case TypeBool:
		return "bool"
	case TypeInt:
		return "int"
	case TypeFloat:
		return "float"
	case TypeString:
		return "string"
	}
	return "unset"
}

// Value is a typed parameter value. The zero Value has no type.
type Value struct {
	typ Type
	b   bool
	i   int64
	f   float64
	s   string
}

func Bool(v bool) Value     { return Value{typ: TypeBool, b: v} }
func Int(v int) Value       { return Value{typ: TypeInt, i: int64(v)} }
func Float(v float64) Value { return Value{typ: TypeFloat, f: v} }
func String(v string) Value { return Value{typ: TypeString, s: v} }

func (v Value) Type() Type     { return v.typ }
func (v Value) IsZero() bool   { return v.typ == 0 }
func (v Value) Bool() bool     { return v.b }
func (v Value) Int() int       { return int(v.i) }
func (v Value) Float() float64 { return v.f }
func (v Value) Str() string    { return v.s }

// Any returns the value as a plain Go value.
func (v Value) Any() any {
	switch v.typ {
	case TypeBool:
		return v.b
	case TypeInt:
		return int(v.i)
	case TypeFloat:
		return v.f
	case TypeString:
		return v.s
	}
	return nil
}

func (v Value) String() string {
	switch v.typ {
	case TypeBool:
		return strconv.FormatBool(v.b)
	case TypeInt:
		return strconv.FormatInt(v.i, 10)
	case TypeFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case TypeString:
		return strconv.Quote(v.s)
	}
	return "<unset>"
}

// Equal reports whether v and o have the same type and value.
func (v Value) Equal(o Value) bool {
	return v == o
}

// As converts v to t. Only lossless numeric conversions are allowed: an int
// may become a float, and a float with no fractional part may become an
// int. Configuration files carry every number as a float.
func (v Value) As(t Type) (Value, error) {
	if v.typ == t {
		return v, nil
	}
	switch {
	case v.typ == TypeInt && t == TypeFloat:
		return Float(float64(v.i)), nil
	case v.typ == TypeFloat && t == TypeInt:
		if v.f == math.Trunc(v.f) && v.f >= math.MinInt32 && v.f <= math.MaxInt32 {
			return Int(int(v.f)), nil
		}
	}
	return Value{}, fmt.Errorf("%w: got %s %s, want %s", ErrTypeMismatch, v.typ, v, t)
}

// FromAny converts a decoded JSON or Go value into a Value.
func FromAny(x any) (Value, error) {
	switch t := x.(type) {
	case Value:
		return t, nil
	case bool:
		return Bool(t), nil
	case int:
		return Int(t), nil
	case int64:
		return Int(int(t)), nil
	case float64:
		return Float(t), nil
	case float32:
		return Float(float64(t)), nil
	case string:
		return String(t), nil
	}
	return Value{}, fmt.Errorf("%w: unsupported value %v (%T)", ErrTypeMismatch, x, x)
}

// Parameter is one name/value pair of a runtime update batch. Name is the
// full name, "<node>.<param>".
type Parameter struct {
	Name  string
	Value Value
}
