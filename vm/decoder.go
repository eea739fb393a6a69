package vm

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"unicode/utf8"
)

// ---------------------------------------------------------------------------
// Operand tags
// ---------------------------------------------------------------------------

// Operand tag bytes. Each operand in the instruction stream starts with one.
const (
	TagInt32  byte = 0x01 // 32-bit integer, little-endian
	TagGlobal byte = 0x02 // global variable, 16-bit id
	TagLocal  byte = 0x03 // local variable, 16-bit id
	TagInt8   byte = 0x04 // 8-bit integer
	TagInt16  byte = 0x05 // 16-bit integer, little-endian
	TagFloat  byte = 0x06 // IEEE-754 float32, little-endian
	TagString byte = 0x0E // 1-byte length, then UTF-8 bytes
)

// ---------------------------------------------------------------------------
// Decoded operands
// ---------------------------------------------------------------------------

// VarRef names a variable slot as it appears in the instruction stream.
type VarRef struct {
	Global bool
	ID     uint16
}

func (r VarRef) String() string {
	if r.Global {
		return "$" + strconv.Itoa(int(r.ID))
	}
	return strconv.Itoa(int(r.ID)) + "@"
}

// ArgKind discriminates an Arg.
type ArgKind uint8

const (
	ArgNone ArgKind = iota
	ArgInt
	ArgFloat
	ArgString
	ArgVar
)

func (k ArgKind) String() string {
	switch k {
	case ArgNone:
		return "none"
	case ArgInt:
		return "integer literal"
	case ArgFloat:
		return "float literal"
	case ArgString:
		return "string literal"
	case ArgVar:
		return "variable"
	}
	return fmt.Sprintf("arg(%d)", uint8(k))
}

// Arg is a decoded operand of any kind. Only the field selected by Kind is
// meaningful.
type Arg struct {
	Kind  ArgKind
	Int   int32
	Float float32
	Str   string
	Ref   VarRef
	Var   *Variable // resolved cell when Kind is ArgVar
}

// Value snapshots the operand into a Variable: literals become cells of
// their own kind, variables are copied. ok is false for ArgNone.
func (a Arg) Value() (Variable, bool) {
	switch a.Kind {
	case ArgInt:
		return NewInt(a.Int), true
	case ArgFloat:
		return NewFloat(a.Float), true
	case ArgString:
		return NewString(a.Str), true
	case ArgVar:
		return *a.Var, true
	}
	return Variable{}, false
}

func (a Arg) String() string {
	switch a.Kind {
	case ArgInt:
		return strconv.FormatInt(int64(a.Int), 10)
	case ArgFloat:
		return formatFloat(a.Float)
	case ArgString:
		return a.Str
	case ArgVar:
		return a.Ref.String() + ": " + a.Var.String()
	}
	return "None value"
}

// ---------------------------------------------------------------------------
// Jump addressing
// ---------------------------------------------------------------------------

// JumpTarget converts a label address from the instruction stream into a
// byte offset: the two's-complement negation of the address as an unsigned
// 32-bit quantity. Address 5 maps to 0xFFFFFFFB and back.
func JumpTarget(address uint32) uint32 {
	return 0xFFFFFFFF - address + 1
}

// LabelAddress is the inverse of JumpTarget: the address a producer writes
// so that a jump lands on offset.
func LabelAddress(offset uint32) uint32 {
	return 0xFFFFFFFF - offset + 1
}

// ---------------------------------------------------------------------------
// Decoding against a script's code
// ---------------------------------------------------------------------------

// window returns n bytes at the program counter without advancing, or false
// if fewer than n remain.
func (s *Script) window(n int) ([]byte, bool) {
	start := uint64(s.pc)
	end := start + uint64(n)
	if end > uint64(len(s.code)) {
		return nil, false
	}
	return s.code[start:end], true
}

func (s *Script) peekTag() (byte, bool) {
	b, ok := s.window(1)
	if !ok {
		return 0, false
	}
	return b[0], true
}

// ParseInt decodes an 8, 16 or 32-bit integer literal. 8 and 16-bit forms
// are zero-extended; only the 32-bit form can carry a negative value.
func (s *Script) ParseInt() (int32, error) {
	tag, ok := s.peekTag()
	if !ok {
		return 0, parseError(s.pc, "expected integer, got end of code")
	}
	var width int
	switch tag {
	case TagInt32:
		width = 5
	case TagInt8:
		width = 2
	case TagInt16:
		width = 3
	default:
		return 0, parseError(s.pc, "expected integer, got tag %02X", tag)
	}
	b, ok := s.window(width)
	if !ok {
		return 0, parseError(s.pc, "truncated integer")
	}
	s.pc += uint32(width)

	switch tag {
	case TagInt8:
		return int32(b[1]), nil
	case TagInt16:
		return int32(binary.LittleEndian.Uint16(b[1:])), nil
	default:
		return int32(binary.LittleEndian.Uint32(b[1:])), nil
	}
}

// ParseFloat decodes a float32 literal.
func (s *Script) ParseFloat() (float32, error) {
	tag, ok := s.peekTag()
	if !ok || tag != TagFloat {
		return 0, parseError(s.pc, "expected float")
	}
	b, ok := s.window(5)
	if !ok {
		return 0, parseError(s.pc, "truncated float")
	}
	s.pc += 5
	return math.Float32frombits(binary.LittleEndian.Uint32(b[1:])), nil
}

// ParseString decodes a length-prefixed UTF-8 string literal.
func (s *Script) ParseString() (string, error) {
	head, ok := s.window(2)
	if !ok || head[0] != TagString {
		return "", parseError(s.pc, "expected string")
	}
	n := 2 + int(head[1])
	b, ok := s.window(n)
	if !ok {
		return "", parseError(s.pc, "truncated string of length %d", head[1])
	}
	if !utf8.Valid(b[2:]) {
		return "", parseError(s.pc, "string is not valid UTF-8")
	}
	s.pc += uint32(n)
	return string(b[2:]), nil
}

// peekVarRef decodes a variable reference without advancing.
func (s *Script) peekVarRef() (VarRef, error) {
	b, ok := s.window(3)
	if !ok || (b[0] != TagGlobal && b[0] != TagLocal) {
		return VarRef{}, parseError(s.pc, "expected variable")
	}
	return VarRef{Global: b[0] == TagGlobal, ID: binary.LittleEndian.Uint16(b[1:])}, nil
}

// ParseVarRef decodes a variable reference without resolving it.
func (s *Script) ParseVarRef() (VarRef, error) {
	ref, err := s.peekVarRef()
	if err != nil {
		return VarRef{}, err
	}
	s.pc += 3
	return ref, nil
}

// ParseVar decodes a variable reference and resolves it to the live cell:
// locals come from this thread, globals from the VM's shared table.
func (s *Script) ParseVar() (*Variable, error) {
	_, v, err := s.parseVar()
	return v, err
}

func (s *Script) parseVar() (VarRef, *Variable, error) {
	ref, err := s.peekVarRef()
	if err != nil {
		return VarRef{}, nil, err
	}
	v, err := s.resolve(ref)
	if err != nil {
		return VarRef{}, nil, err
	}
	s.pc += 3
	return ref, v, nil
}

func (s *Script) resolve(ref VarRef) (*Variable, error) {
	if ref.Global {
		v, ok := s.vm.globals.Get(int(ref.ID))
		if !ok {
			return nil, parseError(s.pc, "global %d out of range", ref.ID)
		}
		return v, nil
	}
	v, ok := s.Local(int(ref.ID))
	if !ok {
		return nil, parseError(s.pc, "local %d out of range", ref.ID)
	}
	return v, nil
}

// ParseAnyArg decodes whatever operand comes next. An unrecognized tag is
// not an error: it yields ArgNone and leaves the counter where it was, so
// handlers with optional operands can carry on.
func (s *Script) ParseAnyArg() (Arg, error) {
	tag, ok := s.peekTag()
	if !ok {
		return Arg{}, parseError(s.pc, "expected operand, got end of code")
	}
	switch tag {
	case TagInt32, TagInt8, TagInt16:
		n, err := s.ParseInt()
		return Arg{Kind: ArgInt, Int: n}, err
	case TagFloat:
		f, err := s.ParseFloat()
		return Arg{Kind: ArgFloat, Float: f}, err
	case TagString:
		str, err := s.ParseString()
		return Arg{Kind: ArgString, Str: str}, err
	case TagGlobal, TagLocal:
		ref, v, err := s.parseVar()
		return Arg{Kind: ArgVar, Ref: ref, Var: v}, err
	}
	return Arg{Kind: ArgNone}, nil
}

// SkipArgs decodes and discards n operands.
func (s *Script) SkipArgs(n int) error {
	for i := 0; i < n; i++ {
		if _, err := s.ParseAnyArg(); err != nil {
			return err
		}
	}
	return nil
}
