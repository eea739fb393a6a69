package vm

import (
	"fmt"
	"strconv"
)

// Kind is the dynamic type of a Variable.
type Kind uint8

const (
	KindInteger Kind = iota
	KindFloat
	KindString
)

func (k Kind) String() string {
	switch k {
	case KindInteger:
		return "integer"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Variable is a dynamically typed storage slot.
//
// The kind and the payload always travel together: every setter replaces
// both, and every accessor reports whether the live kind matches, so a
// caller cannot read a Float cell as an Integer by accident. The zero value
// is the integer 0.
type Variable struct {
	kind Kind
	i    int32
	f    float32
	s    string
}

// NewInt returns an Integer variable.
func NewInt(v int32) Variable {
	return Variable{kind: KindInteger, i: v}
}

// NewFloat returns a Float variable.
func NewFloat(v float32) Variable {
	return Variable{kind: KindFloat, f: v}
}

// NewString returns a String variable.
func NewString(v string) Variable {
	return Variable{kind: KindString, s: v}
}

// Kind returns the live kind.
func (v *Variable) Kind() Kind {
	return v.kind
}

// Int returns the integer payload; ok is false unless the kind is Integer.
func (v *Variable) Int() (int32, bool) {
	return v.i, v.kind == KindInteger
}

// Float returns the float payload; ok is false unless the kind is Float.
func (v *Variable) Float() (float32, bool) {
	return v.f, v.kind == KindFloat
}

// Str returns the string payload; ok is false unless the kind is String.
func (v *Variable) Str() (string, bool) {
	return v.s, v.kind == KindString
}

// SetInt makes v an Integer holding n.
func (v *Variable) SetInt(n int32) {
	*v = Variable{kind: KindInteger, i: n}
}

// SetFloat makes v a Float holding f.
func (v *Variable) SetFloat(f float32) {
	*v = Variable{kind: KindFloat, f: f}
}

// SetString makes v a String holding s.
func (v *Variable) SetString(s string) {
	*v = Variable{kind: KindString, s: s}
}

// Assign copies kind and payload from other.
func (v *Variable) Assign(other Variable) {
	*v = other
}

// SameKind reports whether both variables have the same kind.
func (v *Variable) SameKind(other *Variable) bool {
	return v.kind == other.kind
}

// Equal compares kind, then payload.
func (v *Variable) Equal(other *Variable) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindInteger:
		return v.i == other.i
	case KindFloat:
		return v.f == other.f
	default:
		return v.s == other.s
	}
}

func (v Variable) String() string {
	switch v.kind {
	case KindInteger:
		return "integer " + strconv.FormatInt(int64(v.i), 10)
	case KindFloat:
		return "float " + formatFloat(v.f)
	default:
		return "string " + strconv.Quote(v.s)
	}
}

func formatFloat(f float32) string {
	return strconv.FormatFloat(float64(f), 'g', -1, 32)
}

// ---------------------------------------------------------------------------
// Arithmetic
// ---------------------------------------------------------------------------

// ArithOp is a compound-assignment operator.
type ArithOp uint8

const (
	ArithAdd ArithOp = iota
	ArithSub
	ArithMul
	ArithDiv
	ArithAnd
	ArithOr
	ArithXor
	ArithMod
)

var arithSymbols = [...]string{"+=", "-=", "*=", "/=", "&=", "|=", "^=", "%="}

func (op ArithOp) String() string {
	if int(op) < len(arithSymbols) {
		return arithSymbols[op]
	}
	return fmt.Sprintf("arith(%d)", uint8(op))
}

// integerOnly reports whether op has no float form.
func (op ArithOp) integerOnly() bool {
	return op >= ArithAnd
}

// Combine applies v op= other. Both cells must have the same numeric kind.
func (v *Variable) Combine(op ArithOp, other Variable) error {
	if v.kind != other.kind {
		return typeError(v.kind.String(), other.kind)
	}
	switch v.kind {
	case KindInteger:
		return v.combineInt(op, other.i)
	case KindFloat:
		return v.combineFloat(op, other.f)
	}
	return typeError("integer or float", v.kind)
}

// CombineArg applies v op= arg. Literals are read under v's kind: an
// integer literal added to a Float cell is converted to float, a float
// literal added to an Integer cell is truncated. Variable operands go
// through Combine and must match v's kind.
func (v *Variable) CombineArg(op ArithOp, arg Arg) error {
	switch arg.Kind {
	case ArgVar:
		return v.Combine(op, *arg.Var)
	case ArgInt:
		switch v.kind {
		case KindInteger:
			return v.combineInt(op, arg.Int)
		case KindFloat:
			return v.combineFloat(op, float32(arg.Int))
		}
	case ArgFloat:
		switch v.kind {
		case KindInteger:
			return v.combineInt(op, int32(arg.Float))
		case KindFloat:
			return v.combineFloat(op, arg.Float)
		}
	default:
		return typeError("numeric operand", arg.Kind)
	}
	return typeError("integer or float", v.kind)
}

func (v *Variable) combineInt(op ArithOp, n int32) error {
	switch op {
	case ArithAdd:
		v.i += n
	case ArithSub:
		v.i -= n
	case ArithMul:
		v.i *= n
	case ArithDiv:
		if n == 0 {
			return ErrDivideByZero
		}
		v.i /= n
	case ArithAnd:
		v.i &= n
	case ArithOr:
		v.i |= n
	case ArithXor:
		v.i ^= n
	case ArithMod:
		if n == 0 {
			return ErrDivideByZero
		}
		v.i %= n
	}
	return nil
}

func (v *Variable) combineFloat(op ArithOp, f float32) error {
	switch op {
	case ArithAdd:
		v.f += f
	case ArithSub:
		v.f -= f
	case ArithMul:
		v.f *= f
	case ArithDiv:
		v.f /= f
	default:
		return fmt.Errorf("%w: %s needs integer operands", ErrNotCorrectType, op)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Comparison
// ---------------------------------------------------------------------------

// CmpOp is a comparison operator.
type CmpOp uint8

const (
	CmpEQ CmpOp = iota
	CmpNE
	CmpGT
	CmpLT
	CmpGE
	CmpLE
)

var cmpSymbols = [...]string{"==", "!=", ">", "<", ">=", "<="}

func (op CmpOp) String() string {
	if int(op) < len(cmpSymbols) {
		return cmpSymbols[op]
	}
	return fmt.Sprintf("cmp(%d)", uint8(op))
}

// Compare evaluates v op other. It never fails: mismatched kinds are
// false, and strings only support equality.
func (v *Variable) Compare(op CmpOp, other *Variable) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindInteger:
		return compareOrdered(op, v.i, other.i)
	case KindFloat:
		return compareOrdered(op, v.f, other.f)
	default:
		switch op {
		case CmpEQ:
			return v.s == other.s
		case CmpNE:
			return v.s != other.s
		}
		return false
	}
}

// CompareArg evaluates v op arg, where arg is a literal or a variable.
func (v *Variable) CompareArg(op CmpOp, arg Arg) bool {
	other, ok := arg.Value()
	if !ok {
		return false
	}
	return v.Compare(op, &other)
}

func compareOrdered[T int32 | float32](op CmpOp, a, b T) bool {
	switch op {
	case CmpEQ:
		return a == b
	case CmpNE:
		return a != b
	case CmpGT:
		return a > b
	case CmpLT:
		return a < b
	case CmpGE:
		return a >= b
	case CmpLE:
		return a <= b
	}
	return false
}
