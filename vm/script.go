package vm

import (
	"encoding/binary"
	"io"
	"time"

	"github.com/google/uuid"
)

// LocalCount is the number of local variable slots per script.
const LocalCount = 32

// NotFlag is the bit of a raw opcode word that inverts the handler result.
const NotFlag uint16 = 0x8000

// State is where a script sits in the scheduler.
type State uint8

const (
	StateRunning  State = iota // executes one opcode per tick
	StateSleeping              // waiting for its wake deadline
	StateStopped               // deactivated by the host
	StateDone                  // ran off its code, terminated, or failed fatally
)

func (st State) String() string {
	switch st {
	case StateRunning:
		return "running"
	case StateSleeping:
		return "sleeping"
	case StateStopped:
		return "stopped"
	case StateDone:
		return "done"
	}
	return "unknown"
}

// Logic is how handler results fold into the conditional register.
type Logic uint8

const (
	LogicOne Logic = iota // the register takes each result as is
	LogicAnd              // results are AND-ed in
	LogicOr               // results are OR-ed in
)

// ---------------------------------------------------------------------------
// Script: one thread of execution
// ---------------------------------------------------------------------------

// Script is the full execution state of one named script. It is only ever
// mutated by the VM's tick, one opcode at a time.
type Script struct {
	name string
	id   uuid.UUID
	vm   *VM
	code []byte

	pc      uint32 // offset of the next byte to decode
	opStart uint32 // offset of the opcode being executed

	locals [LocalCount]Variable
	stack  CallStack

	state   State
	sleptAt time.Time
	wakeAt  time.Time

	cond  bool
	logic Logic
	not   bool

	lastErr  *ScriptError
	executed uint64
}

func newScript(vm *VM, name string, code []byte) *Script {
	buf := make([]byte, len(code))
	copy(buf, code)
	return &Script{
		name: name,
		id:   uuid.New(),
		vm:   vm,
		code: buf,
	}
}

// Name returns the name the script was registered under.
func (s *Script) Name() string { return s.name }

// ID returns the instance id, which differs between two scripts appended
// under the same name.
func (s *Script) ID() string { return s.id.String() }

// Code returns the script's bytecode. Callers must not modify it.
func (s *Script) Code() []byte { return s.code }

// PC returns the program counter.
func (s *Script) PC() uint32 { return s.pc }

// SetPC moves the program counter to an absolute offset.
func (s *Script) SetPC(pc uint32) { s.pc = pc }

// JumpTo moves the program counter to a label address (see JumpTarget).
func (s *Script) JumpTo(address uint32) { s.pc = JumpTarget(address) }

// State returns the scheduling state.
func (s *Script) State() State { return s.state }

// Done reports whether the script has finished for good.
func (s *Script) Done() bool { return s.state == StateDone }

// Stop excludes the script from all future ticks.
func (s *Script) Stop() {
	if s.state != StateDone {
		s.state = StateStopped
	}
}

// Terminate marks the script done.
func (s *Script) Terminate() { s.state = StateDone }

// Local returns local slot i.
func (s *Script) Local(i int) (*Variable, bool) {
	if i < 0 || i >= LocalCount {
		return nil, false
	}
	return &s.locals[i], true
}

// Global returns the VM's global slot i.
func (s *Script) Global(i int) (*Variable, bool) {
	return s.vm.globals.Get(i)
}

// Heap returns the VM's allocation arena.
func (s *Script) Heap() *Heap { return s.vm.heap }

// Output returns where print writes.
func (s *Script) Output() io.Writer { return s.vm.out }

// CallDepth returns the number of active calls.
func (s *Script) CallDepth() int { return s.stack.Depth() }

// CondResult returns the conditional register.
func (s *Script) CondResult() bool { return s.cond }

// Logic returns the current combinator.
func (s *Script) Logic() Logic { return s.logic }

// NotFlag reports whether the opcode being executed carried the NOT bit.
func (s *Script) NotFlag() bool { return s.not }

// LastError returns the most recent handler error, or nil.
func (s *Script) LastError() *ScriptError { return s.lastErr }

// Executed returns how many opcodes the script has dispatched.
func (s *Script) Executed() uint64 { return s.executed }

// WakeAt returns the deadline of the last wait.
func (s *Script) WakeAt() time.Time { return s.wakeAt }

// ---------------------------------------------------------------------------
// Fetch and conditional register
// ---------------------------------------------------------------------------

// FetchOpcode reads the next opcode word. The NOT bit is latched and
// cleared from the returned opcode. ok is false when fewer than two bytes
// remain.
func (s *Script) FetchOpcode() (Opcode, bool) {
	if uint64(s.pc)+1 >= uint64(len(s.code)) {
		return 0, false
	}
	word := binary.LittleEndian.Uint16(s.code[s.pc:])
	s.opStart = s.pc
	s.pc += 2
	s.not = word&NotFlag != 0
	return Opcode(word &^ NotFlag), true
}

// SetCondResult folds a handler result into the conditional register,
// inverting it first when the NOT bit was set.
func (s *Script) SetCondResult(result bool) {
	r := result != s.not
	switch s.logic {
	case LogicAnd:
		s.cond = s.cond && r
	case LogicOr:
		s.cond = s.cond || r
	default:
		s.cond = r
	}
}

// SetLogic selects the combinator and seeds the register with its
// identity (true for AND, false for OR). It returns the seed.
func (s *Script) SetLogic(l Logic) bool {
	s.logic = l
	switch l {
	case LogicAnd:
		s.cond = true
	case LogicOr:
		s.cond = false
	}
	return s.cond || l == LogicOne
}

// ---------------------------------------------------------------------------
// Sleeping
// ---------------------------------------------------------------------------

// Sleep suspends the script for ms milliseconds of VM clock time.
func (s *Script) Sleep(ms uint32) {
	now := s.vm.now()
	s.sleptAt = now
	s.wakeAt = now.Add(time.Duration(ms) * time.Millisecond)
	s.state = StateSleeping
}

// runnable reports whether the script executes this tick, waking it if its
// deadline has passed.
func (s *Script) runnable(now time.Time) bool {
	switch s.state {
	case StateRunning:
		return true
	case StateSleeping:
		if now.Before(s.wakeAt) {
			return false
		}
		s.state = StateRunning
		return true
	}
	return false
}
