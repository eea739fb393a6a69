package vm

import (
	"errors"
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Handler error kinds
// ---------------------------------------------------------------------------

var (
	ErrCannotParseArg    = errors.New("cannot parse arguments of opcode")
	ErrUndefinedCondArg  = errors.New("undefined argument of condition")
	ErrNotCorrectType    = errors.New("operand type is not correct")
	ErrUndefinedOpcode   = errors.New("undefined opcode")
	ErrDivideByZero      = errors.New("integer division by zero")
	ErrInvalidHandle     = errors.New("invalid memory handle")
	ErrInvalidSize       = errors.New("invalid memory size")
	ErrEmptyCallStack    = errors.New("return without matching call")
	ErrCallStackOverflow = errors.New("call stack overflow")
	ErrHandlerPanic      = errors.New("opcode handler panicked")
)

// parseError wraps ErrCannotParseArg with the offset the decoder was at.
func parseError(pc uint32, format string, args ...interface{}) error {
	return fmt.Errorf("%w: at %d: %s", ErrCannotParseArg, pc, fmt.Sprintf(format, args...))
}

// typeError wraps ErrNotCorrectType with what the opcode expected.
func typeError(expected string, got fmt.Stringer) error {
	return fmt.Errorf("%w: expected %s, got %s", ErrNotCorrectType, expected, got)
}

// ---------------------------------------------------------------------------
// ScriptError: a handler failure attributed to one thread
// ---------------------------------------------------------------------------

// ScriptError describes a failure of a single opcode in a single script.
// The scheduler never stops because of one; it logs it, records it on the
// script and hands it to the VM's error handler.
type ScriptError struct {
	Script string // script name
	ID     string // script instance id
	Opcode Opcode // dispatched opcode (NOT flag cleared)
	Offset uint32 // program counter when the error surfaced
	Bytes  []byte // code surrounding the opcode
	Fatal  bool   // the thread was marked done because of this error
	Err    error
}

func (e *ScriptError) Error() string {
	return fmt.Sprintf("script %q at [%04X]%d %s: %v",
		e.Script, uint16(e.Opcode), e.Offset, prettyBytes(e.Bytes), e.Err)
}

func (e *ScriptError) Unwrap() error {
	return e.Err
}

// isFatal reports whether err leaves the thread in a state that cannot be
// resumed safely.
func isFatal(err error) bool {
	return errors.Is(err, ErrUndefinedOpcode) || errors.Is(err, ErrHandlerPanic)
}

// errorWindow returns the bytes from the fetched opcode up to three bytes
// past the current offset, clamped to the code.
func errorWindow(code []byte, start, offset uint32) []byte {
	n := uint32(len(code))
	if start > n {
		return nil
	}
	end := offset + 3
	if end < offset || end > n {
		end = n
	}
	if end < start {
		end = start
	}
	window := make([]byte, end-start)
	copy(window, code[start:end])
	return window
}

// prettyBytes renders a byte window as "[ 01, 02, 03 ]".
func prettyBytes(b []byte) string {
	if len(b) == 0 {
		return "[ ]"
	}
	parts := make([]string, len(b))
	for i, c := range b {
		parts[i] = fmt.Sprintf("%02X", c)
	}
	return "[ " + strings.Join(parts, ", ") + " ]"
}
