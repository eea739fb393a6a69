package vm

import "fmt"

// MaxCallDepth bounds the number of nested calls per script.
const MaxCallDepth = 256

// SavedSlot is a local variable as it was before a call overwrote it with
// an argument.
type SavedSlot struct {
	Index int
	Value Variable
}

// Frame is the caller state pushed by call and consumed by ret.
type Frame struct {
	Saved    []SavedSlot // caller locals overwritten by arguments, in slot order
	ArgCount int
	ReturnPC uint32 // offset just past the call's arguments
}

// restore writes the saved slots back into locals.
func (f *Frame) restore(locals *[LocalCount]Variable) {
	for _, slot := range f.Saved {
		locals[slot.Index] = slot.Value
	}
}

// CallStack is a script's stack of frames.
type CallStack struct {
	frames []Frame
}

// Push adds a frame, failing once MaxCallDepth frames are live.
func (cs *CallStack) Push(f Frame) error {
	if len(cs.frames) >= MaxCallDepth {
		return fmt.Errorf("%w: depth %d", ErrCallStackOverflow, len(cs.frames))
	}
	cs.frames = append(cs.frames, f)
	return nil
}

// Pop removes and returns the most recent frame.
func (cs *CallStack) Pop() (Frame, error) {
	n := len(cs.frames)
	if n == 0 {
		return Frame{}, ErrEmptyCallStack
	}
	f := cs.frames[n-1]
	cs.frames[n-1] = Frame{}
	cs.frames = cs.frames[:n-1]
	return f, nil
}

// Top returns the most recent frame without removing it.
func (cs *CallStack) Top() (*Frame, bool) {
	if len(cs.frames) == 0 {
		return nil, false
	}
	return &cs.frames[len(cs.frames)-1], true
}

// Depth returns the number of live frames.
func (cs *CallStack) Depth() int {
	return len(cs.frames)
}
