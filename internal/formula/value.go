package formula

import (
	"errors"
	"strconv"
)

var (
	ErrSyntax       = errors.New("formula syntax error")
	ErrUndefined    = errors.New("undefined variable")
	ErrTypeMismatch = errors.New("type mismatch")
	ErrDivByZero    = errors.New("division by zero")
)

// Kind tags the type held by a Value.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindNumber
	KindBool
)

func (k Kind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindBool:
		return "boolean"
	default:
		return "invalid"
	}
}

// Value is a tagged number-or-boolean.
type Value struct {
	kind Kind
	num  float64
	b    bool
}

func Number(f float64) Value { return Value{kind: KindNumber, num: f} }
func Bool(b bool) Value      { return Value{kind: KindBool, b: b} }

func (v Value) Kind() Kind { return v.kind }

// AsNumber reports the numeric payload and whether v is a number.
func (v Value) AsNumber() (float64, bool) { return v.num, v.kind == KindNumber }

// AsBool reports the boolean payload and whether v is a boolean.
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

func (v Value) String() string {
	switch v.kind {
	case KindNumber:
		return strconv.FormatFloat(v.num, 'g', -1, 64)
	case KindBool:
		if v.b {
			return "TRUE"
		}
		return "FALSE"
	default:
		return "<invalid>"
	}
}

// Env maps variable names to values. Lookups are case-sensitive.
type Env map[string]Value

// Clone returns a shallow copy that can be extended without touching env.
func (env Env) Clone() Env {
	out := make(Env, len(env))
	for k, v := range env {
		out[k] = v
	}
	return out
}
