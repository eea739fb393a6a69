package vm

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// ---------------------------------------------------------------------------
// Opcode definitions
// ---------------------------------------------------------------------------

// Opcode is a 16-bit instruction identifier with the NOT bit cleared.
type Opcode uint16

// Flow control
const (
	OpNop         Opcode = 0x0000 // no operation
	OpWait        Opcode = 0x0001 // wait <int ms>
	OpJump        Opcode = 0x0002 // jump <label>
	OpIf          Opcode = 0x0008 // if <int selector>
	OpJumpIfFalse Opcode = 0x0009 // jump_if_false <label>
	OpCall        Opcode = 0x000E // call <label> args <n> <any...>
	OpRet         Opcode = 0x000F // ret <n> args <any...>, then <var...> at the call site
	OpTerminate   Opcode = 0x001C // end this script
)

// Assignment and arithmetic
const (
	OpAssign Opcode = 0x0003 // <var> = <any>
	OpAdd    Opcode = 0x0004 // <var> += <any>
	OpSub    Opcode = 0x0005 // <var> -= <any>
	OpMul    Opcode = 0x0006 // <var> *= <any>
	OpDiv    Opcode = 0x0007 // <var> /= <any>
	OpAnd    Opcode = 0x0016 // <var> &= <any>
	OpOr     Opcode = 0x0017 // <var> |= <any>
	OpXor    Opcode = 0x0018 // <var> ^= <any>
	OpMod    Opcode = 0x0019 // <var> %= <any>
)

// Comparisons
const (
	OpEq Opcode = 0x0010 // <var> == <any>
	OpNe Opcode = 0x0011 // <var> != <any>
	OpGt Opcode = 0x0012 // <var> > <any>
	OpLt Opcode = 0x0013 // <var> < <any>
	OpGe Opcode = 0x0014 // <var> >= <any>
	OpLe Opcode = 0x0015 // <var> <= <any>
)

// I/O and memory
const (
	OpPrint           Opcode = 0x000A // print <any>
	OpGetLabelAddress Opcode = 0x000B // get_label_address <label> -> <var>
	OpAllocate        Opcode = 0x000C // allocate <int size> -> <var>
	OpDeallocate      Opcode = 0x000D // deallocate <var> size <int>
	OpWriteMemory     Opcode = 0x001A // write_memory <var> offset <int> size <int> value <any>
	OpReadMemory      Opcode = 0x001B // read_memory <var> offset <int> size <int> -> <var>
)

// ---------------------------------------------------------------------------
// Opcode metadata
// ---------------------------------------------------------------------------

// OpcodeInfo holds metadata about an opcode.
//
// Operands is a layout string, one letter per operand: i integer, f float,
// s string, v variable, a any, l label. A '*' stands for an integer count
// n followed by n operands of any kind.
type OpcodeInfo struct {
	Name     string
	Operands string
}

var opcodeTable = map[Opcode]OpcodeInfo{
	OpNop:         {"NOP", ""},
	OpWait:        {"WAIT", "i"},
	OpJump:        {"JUMP", "l"},
	OpIf:          {"IF", "i"},
	OpJumpIfFalse: {"JUMP_IF_FALSE", "l"},
	OpCall:        {"CALL", "l*"},
	OpRet:         {"RET", "*"},
	OpTerminate:   {"TERMINATE", ""},

	OpAssign: {"SET", "va"},
	OpAdd:    {"ADD", "va"},
	OpSub:    {"SUB", "va"},
	OpMul:    {"MUL", "va"},
	OpDiv:    {"DIV", "va"},
	OpAnd:    {"AND", "va"},
	OpOr:     {"OR", "va"},
	OpXor:    {"XOR", "va"},
	OpMod:    {"MOD", "va"},

	OpEq: {"EQ", "va"},
	OpNe: {"NE", "va"},
	OpGt: {"GT", "va"},
	OpLt: {"LT", "va"},
	OpGe: {"GE", "va"},
	OpLe: {"LE", "va"},

	OpPrint:           {"PRINT", "a"},
	OpGetLabelAddress: {"GET_LABEL_ADDRESS", "lv"},
	OpAllocate:        {"ALLOCATE", "iv"},
	OpDeallocate:      {"DEALLOCATE", "vi"},
	OpWriteMemory:     {"WRITE_MEMORY", "viia"},
	OpReadMemory:      {"READ_MEMORY", "viiv"},
}

// Info returns the metadata for an opcode.
func (op Opcode) Info() OpcodeInfo {
	if info, ok := opcodeTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN_%04X", uint16(op))}
}

// Name returns the human-readable name for an opcode.
func (op Opcode) Name() string {
	return op.Info().Name
}

// String implements the Stringer interface.
func (op Opcode) String() string {
	return op.Name()
}

// ---------------------------------------------------------------------------
// Builder: assembling raw bytecode
// ---------------------------------------------------------------------------

// Builder constructs bytecode for the default opcode set. It is a helper for
// hosts and tests, not a compiler: every operand is emitted explicitly.
type Builder struct {
	bytes []byte
}

// NewBuilder creates an empty builder.
func NewBuilder() *Builder {
	return &Builder{bytes: make([]byte, 0, 64)}
}

// Bytes returns the constructed bytecode.
func (b *Builder) Bytes() []byte {
	return b.bytes
}

// Len returns the current length, which is also the offset of the next
// emitted byte.
func (b *Builder) Len() int {
	return len(b.bytes)
}

// Emit appends an opcode word.
func (b *Builder) Emit(op Opcode) {
	b.word(uint16(op))
}

// EmitNot appends an opcode word with the NOT bit set.
func (b *Builder) EmitNot(op Opcode) {
	b.word(uint16(op) | NotFlag)
}

func (b *Builder) word(w uint16) {
	b.bytes = append(b.bytes, byte(w), byte(w>>8))
}

// Raw appends bytes verbatim.
func (b *Builder) Raw(data ...byte) {
	b.bytes = append(b.bytes, data...)
}

// Int8 appends an 8-bit integer operand. It decodes as 0..255.
func (b *Builder) Int8(v uint8) {
	b.bytes = append(b.bytes, TagInt8, byte(v))
}

// Int16 appends a 16-bit integer operand. It decodes as 0..65535.
func (b *Builder) Int16(v uint16) {
	b.bytes = append(b.bytes, TagInt16, byte(v), byte(v>>8))
}

// Int32 appends a 32-bit integer operand.
func (b *Builder) Int32(v int32) {
	b.bytes = append(b.bytes, TagInt32)
	b.bytes = binary.LittleEndian.AppendUint32(b.bytes, uint32(v))
}

// Float appends a float32 operand.
func (b *Builder) Float(v float32) {
	b.bytes = append(b.bytes, TagFloat)
	b.bytes = binary.LittleEndian.AppendUint32(b.bytes, math.Float32bits(v))
}

// Str appends a string operand. Strings longer than 255 bytes are cut.
func (b *Builder) Str(v string) {
	if len(v) > 0xFF {
		v = v[:0xFF]
	}
	b.bytes = append(b.bytes, TagString, byte(len(v)))
	b.bytes = append(b.bytes, v...)
}

// Local appends a local variable operand.
func (b *Builder) Local(id uint16) {
	b.bytes = append(b.bytes, TagLocal, byte(id), byte(id>>8))
}

// Global appends a global variable operand.
func (b *Builder) Global(id uint16) {
	b.bytes = append(b.bytes, TagGlobal, byte(id), byte(id>>8))
}

// ---------------------------------------------------------------------------
// Label management for jumps
// ---------------------------------------------------------------------------

// Label is a jump target that may be referenced before it is marked.
type Label struct {
	resolved bool
	position int   // target offset once resolved
	refs     []int // offsets of 32-bit address operands awaiting the target
}

// NewLabel creates an unresolved label.
func (b *Builder) NewLabel() *Label {
	return &Label{refs: make([]int, 0, 2)}
}

// Mark resolves a label to the current position and patches every earlier
// reference to it.
func (b *Builder) Mark(label *Label) {
	if label.resolved {
		panic("label already resolved")
	}
	label.resolved = true
	label.position = len(b.bytes)

	addr := LabelAddress(uint32(label.position))
	for _, ref := range label.refs {
		binary.LittleEndian.PutUint32(b.bytes[ref:], addr)
	}
	label.refs = nil
}

// Label appends a 32-bit label address operand.
func (b *Builder) Label(label *Label) {
	b.bytes = append(b.bytes, TagInt32)
	if label.resolved {
		b.bytes = binary.LittleEndian.AppendUint32(b.bytes, LabelAddress(uint32(label.position)))
		return
	}
	label.refs = append(label.refs, len(b.bytes))
	b.bytes = append(b.bytes, 0, 0, 0, 0)
}

// ---------------------------------------------------------------------------
// Disassembly
// ---------------------------------------------------------------------------

// DisassembleInstruction renders the instruction at the script's program
// counter and advances past it. Only the operands the opcode table knows
// about are consumed; the destination variables a ret binds at a call site
// are not part of the call instruction and show up as separate lines.
func DisassembleInstruction(s *Script) (string, error) {
	pos := s.pc
	op, ok := s.FetchOpcode()
	if !ok {
		return "", parseError(pos, "expected opcode")
	}
	info := op.Info()
	name := info.Name
	if s.not {
		name = "NOT " + name
	}

	var parts []string
	for _, kind := range info.Operands {
		if kind == '*' {
			countAt := s.pc
			n, err := s.ParseInt()
			if err != nil {
				return "", err
			}
			if n < 0 || n > LocalCount {
				return "", parseError(countAt, "%d arguments, at most %d allowed", n, LocalCount)
			}
			parts = append(parts, fmt.Sprintf("args=%d", n))
			for i := int32(0); i < n; i++ {
				text, err := disasmOperand(s, 'a')
				if err != nil {
					return "", err
				}
				parts = append(parts, text)
			}
			continue
		}
		text, err := disasmOperand(s, kind)
		if err != nil {
			return "", err
		}
		parts = append(parts, text)
	}

	if len(parts) == 0 {
		return fmt.Sprintf("%04d  %s", pos, name), nil
	}
	return fmt.Sprintf("%04d  %s %s", pos, name, strings.Join(parts, " ")), nil
}

func disasmOperand(s *Script, kind rune) (string, error) {
	switch kind {
	case 'i':
		n, err := s.ParseInt()
		return fmt.Sprintf("%d", n), err
	case 'f':
		f, err := s.ParseFloat()
		return formatFloat(f), err
	case 's':
		str, err := s.ParseString()
		return fmt.Sprintf("%q", str), err
	case 'v':
		ref, err := s.ParseVarRef()
		return ref.String(), err
	case 'l':
		n, err := s.ParseInt()
		return fmt.Sprintf("-> %04d", JumpTarget(uint32(n))), err
	}

	tag, ok := s.peekTag()
	if !ok {
		return "", parseError(s.pc, "expected operand, got end of code")
	}
	switch tag {
	case TagInt32, TagInt8, TagInt16:
		return disasmOperand(s, 'i')
	case TagFloat:
		return disasmOperand(s, 'f')
	case TagString:
		return disasmOperand(s, 's')
	case TagGlobal, TagLocal:
		return disasmOperand(s, 'v')
	}
	return "none", nil
}

// Disassemble returns a full disassembly of bytecode. Decoding stops at the
// first malformed instruction, which is reported on the last line.
func Disassemble(code []byte) string {
	s := &Script{code: code}
	var lines []string
	for uint64(s.pc) < uint64(len(code)) {
		line, err := DisassembleInstruction(s)
		if err != nil {
			lines = append(lines, fmt.Sprintf("%04d  ?? %v", s.pc, err))
			break
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}
