package vm

import (
	"sort"
	"sync"
	"sync/atomic"
)

// Profiler counts opcode dispatches across all scripts of a VM. An opcode
// becomes hot once its dispatch count reaches HotThreshold; hosts use that
// to spot the handlers worth optimizing.

// OpcodeProfile holds profiling data for a single opcode.
type OpcodeProfile struct {
	Dispatches uint64 // atomic
	Errors     uint64 // atomic
	IsHot      bool
}

// Profiler manages per-opcode profiles.
type Profiler struct {
	profiles sync.Map // Opcode -> *OpcodeProfile

	// HotThreshold is the dispatch count at which an opcode becomes hot.
	HotThreshold uint64

	// OnHot is called once per opcode when it becomes hot.
	OnHot func(op Opcode, profile *OpcodeProfile)

	hotCount uint64
}

// NewProfiler creates a profiler with the default threshold.
func NewProfiler() *Profiler {
	return &Profiler{HotThreshold: 1000}
}

// Record counts one dispatch of op, and an error if err is non-nil.
// Returns true if this dispatch made the opcode hot.
func (p *Profiler) Record(op Opcode, err error) bool {
	val, _ := p.profiles.LoadOrStore(op, &OpcodeProfile{})
	profile := val.(*OpcodeProfile)

	count := atomic.AddUint64(&profile.Dispatches, 1)
	if err != nil {
		atomic.AddUint64(&profile.Errors, 1)
	}

	if !profile.IsHot && count >= p.HotThreshold {
		profile.IsHot = true
		atomic.AddUint64(&p.hotCount, 1)
		if p.OnHot != nil {
			p.OnHot(op, profile)
		}
		return true
	}
	return false
}

// Profile returns the profile for op, or nil if it never ran.
func (p *Profiler) Profile(op Opcode) *OpcodeProfile {
	if val, ok := p.profiles.Load(op); ok {
		return val.(*OpcodeProfile)
	}
	return nil
}

// IsHot reports whether op has reached the threshold.
func (p *Profiler) IsHot(op Opcode) bool {
	profile := p.Profile(op)
	return profile != nil && profile.IsHot
}

// HotCount returns the number of hot opcodes.
func (p *Profiler) HotCount() uint64 {
	return atomic.LoadUint64(&p.hotCount)
}

// OpcodeStat is one row of a profile snapshot.
type OpcodeStat struct {
	Opcode     Opcode
	Dispatches uint64
	Errors     uint64
}

// Snapshot returns every profiled opcode, most dispatched first.
func (p *Profiler) Snapshot() []OpcodeStat {
	var stats []OpcodeStat
	p.profiles.Range(func(key, value interface{}) bool {
		profile := value.(*OpcodeProfile)
		stats = append(stats, OpcodeStat{
			Opcode:     key.(Opcode),
			Dispatches: atomic.LoadUint64(&profile.Dispatches),
			Errors:     atomic.LoadUint64(&profile.Errors),
		})
		return true
	})
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Dispatches != stats[j].Dispatches {
			return stats[i].Dispatches > stats[j].Dispatches
		}
		return stats[i].Opcode < stats[j].Opcode
	})
	return stats
}

// Reset clears all profiling data.
func (p *Profiler) Reset() {
	p.profiles = sync.Map{}
	atomic.StoreUint64(&p.hotCount, 0)
}
