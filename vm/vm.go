package vm

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/tliron/commonlog"
)

// DefaultGlobalCount covers every id a 16-bit global reference can name.
const DefaultGlobalCount = 0x10000

// Handler executes one opcode against a script. Its boolean result is
// folded into the script's conditional register; an error is reported for
// that script only.
//
// Handlers run inside Tick with the VM locked and must not call back into
// VM methods.
type Handler func(s *Script) (bool, error)

// ---------------------------------------------------------------------------
// Globals: the variable table shared by every script
// ---------------------------------------------------------------------------

// Globals is the VM-wide variable table. Global slots are typed cells, the
// same as locals.
type Globals struct {
	cells []Variable
}

// NewGlobals creates a table of n integer-zero cells.
func NewGlobals(n int) *Globals {
	return &Globals{cells: make([]Variable, n)}
}

// Get returns slot i.
func (g *Globals) Get(i int) (*Variable, bool) {
	if i < 0 || i >= len(g.cells) {
		return nil, false
	}
	return &g.cells[i], true
}

// Len returns the number of slots.
func (g *Globals) Len() int {
	return len(g.cells)
}

// ---------------------------------------------------------------------------
// VM: handler table and scheduler
// ---------------------------------------------------------------------------

// VM owns the global table, the heap, the opcode table and every script,
// and advances the scripts cooperatively, one opcode each per tick.
type VM struct {
	mu sync.Mutex // held for the whole of a tick

	globals  *Globals
	heap     *Heap
	handlers map[Opcode]Handler
	scripts  map[string]*Script
	order    []string

	out      io.Writer
	log      commonlog.Logger
	now      func() time.Time
	onError  func(*ScriptError)
	profiler *Profiler

	ticks uint64
}

// Option configures a VM.
type Option func(*VM)

// WithGlobals sizes the global table.
func WithGlobals(n int) Option {
	return func(v *VM) { v.globals = NewGlobals(n) }
}

// WithOutput redirects what print writes.
func WithOutput(w io.Writer) Option {
	return func(v *VM) { v.out = w }
}

// WithClock replaces the clock used for wait deadlines.
func WithClock(now func() time.Time) Option {
	return func(v *VM) { v.now = now }
}

// WithErrorHandler registers a callback for every script error, after it
// has been logged.
func WithErrorHandler(fn func(*ScriptError)) Option {
	return func(v *VM) { v.onError = fn }
}

// WithProfiler records per-opcode dispatch counts.
func WithProfiler(p *Profiler) Option {
	return func(v *VM) { v.profiler = p }
}

// WithLogger replaces the default "cleo.vm" logger.
func WithLogger(log commonlog.Logger) Option {
	return func(v *VM) { v.log = log }
}

// New creates an empty VM with a fresh global table and no handlers.
// Call RegisterDefaultOpcodes to install the standard opcode set.
func New(opts ...Option) *VM {
	v := &VM{
		globals:  NewGlobals(DefaultGlobalCount),
		heap:     NewHeap(),
		handlers: make(map[Opcode]Handler),
		scripts:  make(map[string]*Script),
		out:      os.Stdout,
		log:      commonlog.GetLogger("cleo.vm"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// SetHandler registers the handler for op, replacing any earlier one. The
// NOT bit is not part of an opcode and is ignored here.
func (v *VM) SetHandler(op Opcode, h Handler) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.handlers[op&^Opcode(NotFlag)] = h
}

// Handler returns the handler registered for op.
func (v *VM) Handler(op Opcode) (Handler, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	h, ok := v.handlers[op]
	return h, ok
}

// AppendScript creates a script thread from bytecode and registers it under
// name. A script already registered under name is replaced in place, so it
// keeps its position in the tick order.
func (v *VM) AppendScript(name string, code []byte) *Script {
	v.mu.Lock()
	defer v.mu.Unlock()

	s := newScript(v, name, code)
	if _, exists := v.scripts[name]; !exists {
		v.order = append(v.order, name)
		v.log.Debugf("appended script %q (%d bytes, id %s)", name, len(code), s.ID())
	} else {
		v.log.Infof("replaced script %q (%d bytes, id %s)", name, len(code), s.ID())
	}
	v.scripts[name] = s
	return s
}

// RemoveScript unregisters a script. It reports whether one was removed.
func (v *VM) RemoveScript(name string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	if _, ok := v.scripts[name]; !ok {
		return false
	}
	delete(v.scripts, name)
	for i, n := range v.order {
		if n == name {
			v.order = append(v.order[:i], v.order[i+1:]...)
			break
		}
	}
	return true
}

// Script returns the script registered under name.
func (v *VM) Script(name string) (*Script, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	s, ok := v.scripts[name]
	return s, ok
}

// Scripts returns script names in tick order.
func (v *VM) Scripts() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	names := make([]string, len(v.order))
	copy(names, v.order)
	return names
}

// IsDone reports whether the named script has finished. Unknown names are
// not done.
func (v *VM) IsDone(name string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	s, ok := v.scripts[name]
	return ok && s.Done()
}

// AllDone reports whether no script can run again.
func (v *VM) AllDone() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, s := range v.scripts {
		if s.state == StateRunning || s.state == StateSleeping {
			return false
		}
	}
	return true
}

// Globals returns the shared global table.
func (v *VM) Globals() *Globals { return v.globals }

// Heap returns the allocation arena.
func (v *VM) Heap() *Heap { return v.heap }

// Ticks returns how many ticks have run.
func (v *VM) Ticks() uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.ticks
}

// ---------------------------------------------------------------------------
// Scheduling
// ---------------------------------------------------------------------------

// Tick gives every runnable script exactly one opcode, in registration
// order. A failing script never affects the others.
func (v *VM) Tick() {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.ticks++
	now := v.now()
	for _, name := range v.order {
		s := v.scripts[name]
		if !s.runnable(now) {
			continue
		}
		v.step(s)
	}
}

// Run ticks until every script is done or ctx is cancelled. With a zero
// interval it polls as fast as it can; otherwise it ticks at that cadence.
func (v *VM) Run(ctx context.Context, interval time.Duration) error {
	var ticker *time.Ticker
	if interval > 0 {
		ticker = time.NewTicker(interval)
		defer ticker.Stop()
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		v.Tick()
		if v.AllDone() {
			return nil
		}
		if ticker != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
		}
	}
}

// step executes one opcode of s.
func (v *VM) step(s *Script) {
	op, ok := s.FetchOpcode()
	if !ok {
		s.state = StateDone
		v.log.Debugf("script %q finished at offset %d", s.name, s.pc)
		return
	}

	h, ok := v.handlers[op]
	if !ok {
		v.fail(s, op, fmt.Errorf("%w %04X", ErrUndefinedOpcode, uint16(op)))
		return
	}

	result, err := invoke(h, s)
	s.executed++
	if v.profiler != nil {
		v.profiler.Record(op, err)
	}
	if err != nil {
		v.fail(s, op, err)
		return
	}
	s.SetCondResult(result)
}

// invoke runs a handler, turning a panic into an error.
func invoke(h Handler, s *Script) (result bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()
	return h(s)
}

// fail reports a handler error for s. The script stays where its program
// counter is and runs again next tick, unless the error leaves it in an
// unknown state, in which case it is marked done.
func (v *VM) fail(s *Script, op Opcode, err error) {
	se := &ScriptError{
		Script: s.name,
		ID:     s.ID(),
		Opcode: op,
		Offset: s.opStart,
		Bytes:  errorWindow(s.code, s.opStart, s.pc),
		Err:    err,
	}
	if isFatal(err) {
		se.Fatal = true
		s.state = StateDone
	}
	s.lastErr = se
	v.log.Errorf("%s", se.Error())
	if v.onError != nil {
		v.onError(se)
	}
}
