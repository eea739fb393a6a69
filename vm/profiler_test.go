package vm

import (
	"errors"
	"sync"
	"testing"
)

func TestProfilerRecord(t *testing.T) {
	p := NewProfiler()
	p.HotThreshold = 5

	// First dispatch
	becameHot := p.Record(OpAdd, nil)
	if becameHot {
		t.Error("Opcode should not be hot after 1 dispatch")
	}

	profile := p.Profile(OpAdd)
	if profile == nil {
		t.Fatal("Profile should exist after dispatch")
	}
	if profile.Dispatches != 1 {
		t.Errorf("Expected 1 dispatch, got %d", profile.Dispatches)
	}

	// Dispatch 4 more times (total 5)
	for i := 0; i < 4; i++ {
		becameHot = p.Record(OpAdd, nil)
	}

	// Should become hot at exactly threshold
	if !becameHot {
		t.Error("Opcode should become hot at threshold")
	}
	if !p.IsHot(OpAdd) {
		t.Error("IsHot should return true")
	}

	// Additional dispatches should not re-trigger hot
	if p.Record(OpAdd, nil) {
		t.Error("Opcode should not re-trigger hot")
	}
	if p.HotCount() != 1 {
		t.Errorf("Expected 1 hot opcode, got %d", p.HotCount())
	}
}

func TestProfilerErrors(t *testing.T) {
	p := NewProfiler()
	p.Record(OpDiv, nil)
	p.Record(OpDiv, errors.New("x"))

	profile := p.Profile(OpDiv)
	if profile.Dispatches != 2 || profile.Errors != 1 {
		t.Errorf("profile = %+v, want 2 dispatches / 1 error", profile)
	}
}

func TestProfilerOnHotCallback(t *testing.T) {
	p := NewProfiler()
	p.HotThreshold = 3

	var called []Opcode
	p.OnHot = func(op Opcode, profile *OpcodeProfile) {
		called = append(called, op)
	}

	for i := 0; i < 5; i++ {
		p.Record(OpPrint, nil)
	}
	if len(called) != 1 || called[0] != OpPrint {
		t.Errorf("OnHot calls = %v, want [PRINT]", called)
	}
}

func TestProfilerSnapshotOrder(t *testing.T) {
	p := NewProfiler()
	p.Record(OpNop, nil)
	for i := 0; i < 3; i++ {
		p.Record(OpJump, nil)
	}
	p.Record(OpAssign, nil)

	stats := p.Snapshot()
	if len(stats) != 3 {
		t.Fatalf("Snapshot has %d rows, want 3", len(stats))
	}
	if stats[0].Opcode != OpJump || stats[0].Dispatches != 3 {
		t.Errorf("first row = %+v, want JUMP x3", stats[0])
	}
	if stats[1].Opcode != OpNop || stats[2].Opcode != OpAssign {
		t.Errorf("ties should sort by opcode: %+v", stats[1:])
	}
}

func TestProfilerReset(t *testing.T) {
	p := NewProfiler()
	p.HotThreshold = 1
	p.Record(OpNop, nil)
	p.Reset()

	if p.Profile(OpNop) != nil {
		t.Error("Reset should clear profiles")
	}
	if p.HotCount() != 0 {
		t.Errorf("HotCount() = %d after Reset", p.HotCount())
	}
}

func TestProfilerConcurrent(t *testing.T) {
	p := NewProfiler()
	p.HotThreshold = 1 << 30

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				p.Record(OpAdd, nil)
			}
		}()
	}
	wg.Wait()

	if got := p.Profile(OpAdd).Dispatches; got != 8000 {
		t.Errorf("Dispatches = %d, want 8000", got)
	}
}
