package vm

import (
	"fmt"
	"math"
)

// RegisterDefaultOpcodes installs the standard opcode set. Hosts register
// their own opcodes afterwards; a later SetHandler for the same opcode wins.
func RegisterDefaultOpcodes(v *VM) {
	v.SetHandler(OpNop, opNop)
	v.SetHandler(OpWait, opWait)
	v.SetHandler(OpJump, opJump)
	v.SetHandler(OpAssign, opAssign)

	v.SetHandler(OpAdd, arithHandler(ArithAdd))
	v.SetHandler(OpSub, arithHandler(ArithSub))
	v.SetHandler(OpMul, arithHandler(ArithMul))
	v.SetHandler(OpDiv, arithHandler(ArithDiv))
	v.SetHandler(OpAnd, arithHandler(ArithAnd))
	v.SetHandler(OpOr, arithHandler(ArithOr))
	v.SetHandler(OpXor, arithHandler(ArithXor))
	v.SetHandler(OpMod, arithHandler(ArithMod))

	v.SetHandler(OpIf, opIf)
	v.SetHandler(OpJumpIfFalse, opJumpIfFalse)
	v.SetHandler(OpPrint, opPrint)
	v.SetHandler(OpGetLabelAddress, opGetLabelAddress)
	v.SetHandler(OpAllocate, opAllocate)
	v.SetHandler(OpDeallocate, opDeallocate)
	v.SetHandler(OpCall, opCall)
	v.SetHandler(OpRet, opRet)

	v.SetHandler(OpEq, compareHandler(CmpEQ))
	v.SetHandler(OpNe, compareHandler(CmpNE))
	v.SetHandler(OpGt, compareHandler(CmpGT))
	v.SetHandler(OpLt, compareHandler(CmpLT))
	v.SetHandler(OpGe, compareHandler(CmpGE))
	v.SetHandler(OpLe, compareHandler(CmpLE))

	v.SetHandler(OpWriteMemory, opWriteMemory)
	v.SetHandler(OpReadMemory, opReadMemory)
	v.SetHandler(OpTerminate, opTerminate)
}

// ---------------------------------------------------------------------------
// Flow control
// ---------------------------------------------------------------------------

func opNop(s *Script) (bool, error) {
	return true, nil
}

// wait <int ms>
func opWait(s *Script) (bool, error) {
	ms, err := s.ParseInt()
	if err != nil {
		return false, err
	}
	s.Sleep(uint32(ms))
	return true, nil
}

// jump <label>
func opJump(s *Script) (bool, error) {
	addr, err := s.ParseInt()
	if err != nil {
		return false, err
	}
	s.JumpTo(uint32(addr))
	return true, nil
}

// if <int>: 0 is a single condition, 1-7 an AND chain, 21-27 an OR chain.
func opIf(s *Script) (bool, error) {
	sel, err := s.ParseInt()
	if err != nil {
		return false, err
	}
	switch {
	case sel == 0:
		return s.SetLogic(LogicOne), nil
	case sel >= 1 && sel <= 7:
		return s.SetLogic(LogicAnd), nil
	case sel >= 21 && sel <= 27:
		return s.SetLogic(LogicOr), nil
	}
	return false, fmt.Errorf("%w: %d", ErrUndefinedCondArg, sel)
}

// jump_if_false <label>. The register is returned unchanged.
func opJumpIfFalse(s *Script) (bool, error) {
	addr, err := s.ParseInt()
	if err != nil {
		return false, err
	}
	cond := s.cond
	if !cond {
		s.JumpTo(uint32(addr))
	}
	return cond, nil
}

func opTerminate(s *Script) (bool, error) {
	s.Terminate()
	return true, nil
}

// ---------------------------------------------------------------------------
// Assignment, arithmetic, comparison
// ---------------------------------------------------------------------------

// <var> = <any>. The destination takes the operand's kind.
func opAssign(s *Script) (bool, error) {
	dst, err := s.ParseVar()
	if err != nil {
		return false, err
	}
	arg, err := s.ParseAnyArg()
	if err != nil {
		return false, err
	}
	value, ok := arg.Value()
	if !ok {
		return false, nil
	}
	dst.Assign(value)
	return true, nil
}

// arithHandler builds the handler for <var> op= <any>.
func arithHandler(op ArithOp) Handler {
	return func(s *Script) (bool, error) {
		dst, err := s.ParseVar()
		if err != nil {
			return false, err
		}
		arg, err := s.ParseAnyArg()
		if err != nil {
			return false, err
		}
		if err := dst.CombineArg(op, arg); err != nil {
			return false, err
		}
		return true, nil
	}
}

// compareHandler builds the handler for <var> op <any>. Operands of
// different kinds compare false.
func compareHandler(op CmpOp) Handler {
	return func(s *Script) (bool, error) {
		lhs, err := s.ParseVar()
		if err != nil {
			return false, err
		}
		arg, err := s.ParseAnyArg()
		if err != nil {
			return false, err
		}
		return lhs.CompareArg(op, arg), nil
	}
}

// ---------------------------------------------------------------------------
// Output and memory
// ---------------------------------------------------------------------------

// print <any>
func opPrint(s *Script) (bool, error) {
	arg, err := s.ParseAnyArg()
	if err != nil {
		return false, err
	}
	if _, err := fmt.Fprintln(s.Output(), arg.String()); err != nil {
		return false, fmt.Errorf("print: %w", err)
	}
	return true, nil
}

// get_label_address <label> -> <var>: stores the byte offset the label
// jumps to.
func opGetLabelAddress(s *Script) (bool, error) {
	label, err := s.ParseInt()
	if err != nil {
		return false, err
	}
	dst, err := s.ParseVar()
	if err != nil {
		return false, err
	}
	dst.SetInt(int32(JumpTarget(uint32(label))))
	return true, nil
}

// allocate <int size> -> <var>
func opAllocate(s *Script) (bool, error) {
	size, err := s.ParseInt()
	if err != nil {
		return false, err
	}
	dst, err := s.ParseVar()
	if err != nil {
		return false, err
	}
	h, err := s.Heap().Alloc(int(size))
	if err != nil {
		return false, err
	}
	dst.SetInt(int32(h))
	return true, nil
}

// deallocate <var> size <int>. A null handle reports false.
func opDeallocate(s *Script) (bool, error) {
	src, err := s.ParseVar()
	if err != nil {
		return false, err
	}
	size, err := s.ParseInt()
	if err != nil {
		return false, err
	}
	h, err := handleOf(src)
	if err != nil {
		return false, err
	}
	if h == 0 {
		return false, nil
	}
	if err := s.Heap().Free(h, int(size)); err != nil {
		return false, err
	}
	return true, nil
}

// write_memory <var handle> offset <int> size <int> value <any>
func opWriteMemory(s *Script) (bool, error) {
	src, err := s.ParseVar()
	if err != nil {
		return false, err
	}
	off, err := s.ParseInt()
	if err != nil {
		return false, err
	}
	size, err := s.ParseInt()
	if err != nil {
		return false, err
	}
	arg, err := s.ParseAnyArg()
	if err != nil {
		return false, err
	}
	h, err := handleOf(src)
	if err != nil {
		return false, err
	}

	value, ok := arg.Value()
	if !ok {
		return false, typeError("integer or float value", arg.Kind)
	}
	var bits uint32
	switch value.Kind() {
	case KindInteger:
		n, _ := value.Int()
		bits = uint32(n)
	case KindFloat:
		f, _ := value.Float()
		bits = math.Float32bits(f)
	default:
		return false, typeError("integer or float value", value.Kind())
	}
	if err := s.Heap().WriteUint(h, int(off), int(size), bits); err != nil {
		return false, err
	}
	return true, nil
}

// read_memory <var handle> offset <int> size <int> -> <var>. The result is
// an integer, zero-extended.
func opReadMemory(s *Script) (bool, error) {
	src, err := s.ParseVar()
	if err != nil {
		return false, err
	}
	off, err := s.ParseInt()
	if err != nil {
		return false, err
	}
	size, err := s.ParseInt()
	if err != nil {
		return false, err
	}
	dst, err := s.ParseVar()
	if err != nil {
		return false, err
	}
	h, err := handleOf(src)
	if err != nil {
		return false, err
	}
	bits, err := s.Heap().ReadUint(h, int(off), int(size))
	if err != nil {
		return false, err
	}
	dst.SetInt(int32(bits))
	return true, nil
}

// handleOf reads a heap handle out of an Integer variable.
func handleOf(v *Variable) (Handle, error) {
	n, ok := v.Int()
	if !ok {
		return 0, typeError("integer handle", v.Kind())
	}
	return Handle(uint32(n)), nil
}

// ---------------------------------------------------------------------------
// Call and return
// ---------------------------------------------------------------------------

// call <label> args <n> <any...>
//
// Arguments bind positionally into locals 0..n-1. Every argument is
// evaluated against the caller's locals before any slot is overwritten,
// and each overwritten slot is saved in the frame for ret to restore.
func opCall(s *Script) (bool, error) {
	label, err := s.ParseInt()
	if err != nil {
		return false, err
	}
	n, err := s.ParseInt()
	if err != nil {
		return false, err
	}
	if n < 0 || n > LocalCount {
		return false, parseError(s.pc, "call with %d arguments", n)
	}

	args := make([]Variable, n)
	for i := range args {
		arg, err := s.ParseAnyArg()
		if err != nil {
			return false, err
		}
		value, ok := arg.Value()
		if !ok {
			return false, typeError("argument", arg.Kind)
		}
		args[i] = value
	}

	frame := Frame{
		Saved:    make([]SavedSlot, n),
		ArgCount: int(n),
		ReturnPC: s.pc,
	}
	for i := range args {
		frame.Saved[i] = SavedSlot{Index: i, Value: s.locals[i]}
	}
	if err := s.stack.Push(frame); err != nil {
		return false, err
	}
	for i, value := range args {
		s.locals[i] = value
	}
	s.JumpTo(uint32(label))
	return true, nil
}

// ret <n> args <any...>, followed at the call site by <var...>
//
// Return values are evaluated while the callee's locals are still live.
// Then the frame is popped, the caller's locals restored, and the values
// written into the n destination variables that follow the call.
func opRet(s *Script) (bool, error) {
	n, err := s.ParseInt()
	if err != nil {
		return false, err
	}
	if n < 0 || n > LocalCount {
		return false, parseError(s.pc, "ret with %d values", n)
	}

	values := make([]Variable, n)
	for i := range values {
		arg, err := s.ParseAnyArg()
		if err != nil {
			return false, err
		}
		value, ok := arg.Value()
		if !ok {
			return false, typeError("return value", arg.Kind)
		}
		values[i] = value
	}

	frame, err := s.stack.Pop()
	if err != nil {
		return false, err
	}
	s.pc = frame.ReturnPC
	frame.restore(&s.locals)

	for _, value := range values {
		dst, err := s.ParseVar()
		if err != nil {
			return false, err
		}
		dst.Assign(value)
	}
	// The counter already sits past the destinations; no padding byte follows.
	return true, nil
}
