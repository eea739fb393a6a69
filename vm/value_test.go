package vm

import (
	"errors"
	"testing"
)

// ---------------------------------------------------------------------------
// Kind and accessors
// ---------------------------------------------------------------------------

func TestVariableZeroValueIsIntegerZero(t *testing.T) {
	var v Variable
	n, ok := v.Int()
	if !ok || n != 0 {
		t.Errorf("zero Variable = (%d, %v), want (0, true)", n, ok)
	}
}

func TestVariableAccessorsCheckKind(t *testing.T) {
	v := NewFloat(1.5)
	if _, ok := v.Int(); ok {
		t.Error("Int() on a float cell should report ok=false")
	}
	if _, ok := v.Str(); ok {
		t.Error("Str() on a float cell should report ok=false")
	}
	if f, ok := v.Float(); !ok || f != 1.5 {
		t.Errorf("Float() = (%v, %v), want (1.5, true)", f, ok)
	}
}

func TestVariableSettersChangeKind(t *testing.T) {
	var v Variable
	v.SetString("hello")
	if v.Kind() != KindString {
		t.Fatalf("kind = %s, want string", v.Kind())
	}
	v.SetFloat(2.5)
	if v.Kind() != KindFloat {
		t.Fatalf("kind = %s, want float", v.Kind())
	}
	if _, ok := v.Str(); ok {
		t.Error("old string payload should not survive a kind change")
	}
	v.SetInt(-7)
	if n, ok := v.Int(); !ok || n != -7 {
		t.Errorf("Int() = (%d, %v), want (-7, true)", n, ok)
	}
}

func TestVariableAssignCopiesByValue(t *testing.T) {
	src := NewString("abc")
	var dst Variable
	dst.Assign(src)
	src.SetString("changed")

	if s, ok := dst.Str(); !ok || s != "abc" {
		t.Errorf("dst = (%q, %v), want (\"abc\", true)", s, ok)
	}
}

func TestVariableEqual(t *testing.T) {
	tests := []struct {
		name string
		a, b Variable
		want bool
	}{
		{"same ints", NewInt(3), NewInt(3), true},
		{"different ints", NewInt(3), NewInt(4), false},
		{"int vs float", NewInt(0), NewFloat(0), false},
		{"same strings", NewString("x"), NewString("x"), true},
		{"int vs string", NewInt(1), NewString("1"), false},
	}
	for _, tt := range tests {
		if got := tt.a.Equal(&tt.b); got != tt.want {
			t.Errorf("%s: Equal = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestVariableString(t *testing.T) {
	tests := []struct {
		v    Variable
		want string
	}{
		{NewInt(10), "integer 10"},
		{NewFloat(1.5), "float 1.5"},
		{NewString("hi"), `string "hi"`},
	}
	for _, tt := range tests {
		if got := tt.v.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

// ---------------------------------------------------------------------------
// Arithmetic
// ---------------------------------------------------------------------------

func TestCombineSameKind(t *testing.T) {
	a := NewInt(6)
	if err := a.Combine(ArithMul, NewInt(7)); err != nil {
		t.Fatalf("Combine: %v", err)
	}
	if n, _ := a.Int(); n != 42 {
		t.Errorf("6 * 7 = %d, want 42", n)
	}

	f := NewFloat(1.5)
	if err := f.Combine(ArithAdd, NewFloat(2.5)); err != nil {
		t.Fatalf("Combine: %v", err)
	}
	if got, _ := f.Float(); got != 4 {
		t.Errorf("1.5 + 2.5 = %v, want 4", got)
	}
}

func TestCombineKindMismatch(t *testing.T) {
	a := NewInt(1)
	err := a.Combine(ArithAdd, NewFloat(1))
	if !errors.Is(err, ErrNotCorrectType) {
		t.Errorf("err = %v, want ErrNotCorrectType", err)
	}
	if n, _ := a.Int(); n != 1 {
		t.Errorf("failed Combine modified the target: %d", n)
	}
}

func TestCombineStringsRejected(t *testing.T) {
	a := NewString("a")
	if err := a.Combine(ArithAdd, NewString("b")); !errors.Is(err, ErrNotCorrectType) {
		t.Errorf("err = %v, want ErrNotCorrectType", err)
	}
}

func TestCombineArgUsesTargetKind(t *testing.T) {
	f := NewFloat(0.5)
	if err := f.CombineArg(ArithAdd, Arg{Kind: ArgInt, Int: 2}); err != nil {
		t.Fatalf("CombineArg: %v", err)
	}
	if got, ok := f.Float(); !ok || got != 2.5 {
		t.Errorf("0.5 + 2 = (%v, %v), want (2.5, true)", got, ok)
	}

	n := NewInt(10)
	if err := n.CombineArg(ArithSub, Arg{Kind: ArgFloat, Float: 3.9}); err != nil {
		t.Fatalf("CombineArg: %v", err)
	}
	if got, ok := n.Int(); !ok || got != 7 {
		t.Errorf("10 - 3.9 = (%v, %v), want (7, true)", got, ok)
	}
}

func TestCombineArgStringLiteralRejected(t *testing.T) {
	n := NewInt(1)
	err := n.CombineArg(ArithAdd, Arg{Kind: ArgString, Str: "x"})
	if !errors.Is(err, ErrNotCorrectType) {
		t.Errorf("err = %v, want ErrNotCorrectType", err)
	}
}

func TestIntegerDivisionByZero(t *testing.T) {
	for _, op := range []ArithOp{ArithDiv, ArithMod} {
		n := NewInt(5)
		if err := n.Combine(op, NewInt(0)); !errors.Is(err, ErrDivideByZero) {
			t.Errorf("%s 0: err = %v, want ErrDivideByZero", op, err)
		}
	}
}

func TestIntegerArithmeticWraps(t *testing.T) {
	n := NewInt(2147483647)
	if err := n.Combine(ArithAdd, NewInt(1)); err != nil {
		t.Fatal(err)
	}
	if got, _ := n.Int(); got != -2147483648 {
		t.Errorf("MaxInt32 + 1 = %d, want -2147483648", got)
	}
}

func TestBitwiseOpsAreIntegerOnly(t *testing.T) {
	n := NewInt(0x0C)
	if err := n.Combine(ArithAnd, NewInt(0x0A)); err != nil {
		t.Fatal(err)
	}
	if got, _ := n.Int(); got != 0x08 {
		t.Errorf("0x0C & 0x0A = %#x, want 0x08", got)
	}

	f := NewFloat(1)
	if err := f.Combine(ArithXor, NewFloat(1)); !errors.Is(err, ErrNotCorrectType) {
		t.Errorf("float xor: err = %v, want ErrNotCorrectType", err)
	}
}

// ---------------------------------------------------------------------------
// Comparison
// ---------------------------------------------------------------------------

func TestCompare(t *testing.T) {
	tests := []struct {
		name string
		a, b Variable
		op   CmpOp
		want bool
	}{
		{"int eq", NewInt(2), NewInt(2), CmpEQ, true},
		{"int ne", NewInt(2), NewInt(3), CmpNE, true},
		{"int gt", NewInt(3), NewInt(2), CmpGT, true},
		{"int lt signed", NewInt(-1), NewInt(1), CmpLT, true},
		{"float ge", NewFloat(2.5), NewFloat(2.5), CmpGE, true},
		{"float le", NewFloat(3), NewFloat(2.5), CmpLE, false},
		{"string eq", NewString("a"), NewString("a"), CmpEQ, true},
		{"string ne", NewString("a"), NewString("b"), CmpNE, true},
		{"string ordering", NewString("b"), NewString("a"), CmpGT, false},
		{"int vs string eq", NewInt(1), NewString("1"), CmpEQ, false},
		{"int vs string ne", NewInt(1), NewString("1"), CmpNE, false},
		{"int vs float", NewInt(1), NewFloat(1), CmpEQ, false},
	}
	for _, tt := range tests {
		if got := tt.a.Compare(tt.op, &tt.b); got != tt.want {
			t.Errorf("%s: %v %s %v = %v, want %v", tt.name, tt.a, tt.op, tt.b, got, tt.want)
		}
	}
}

func TestCompareArgNoneIsFalse(t *testing.T) {
	v := NewInt(0)
	if v.CompareArg(CmpEQ, Arg{Kind: ArgNone}) {
		t.Error("comparison against no operand should be false")
	}
}
