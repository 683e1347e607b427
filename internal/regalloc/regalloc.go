// Package regalloc implements the two-stage, partition-aware linear-scan
// register allocator (component C8, §4.4): call-crossing intervals are
// placed first, against the callee-saved pool only; local-only intervals
// are placed second, against the combined callee+caller-saved pool minus
// three reserved scratch registers.
//
// The teacher (tinyrange-rtg) targets a pure operand-stack VM and has no
// allocator at all, so this package is grounded instead on the two
// other_examples linear-scan allocators retrieved for this spec:
// fkuehnel/golang-cfg's regalloc.go (expire-then-allocate linear scan
// structure, active list kept sorted by end point) and
// SeleniaProject-Orizon's regalloc.go (expireOldIntervals/
// tryAllocateRegister/spillInterval split, spansCallSite gating on
// callee-saved preference, spill-candidate choice by highest end point).
package regalloc

import (
	"fmt"
	"sort"

	"github.com/tinyrange/bcplc/internal/liveness"
)

// Class is the register bank an interval requires.
type Class int

const (
	ClassInt Class = iota
	ClassFloat
)

// PhysicalRegister is one named ARM64 register.
type PhysicalRegister struct {
	Name        string
	Class       Class
	CalleeSaved bool
}

// Integer registers. X19-X28 are callee-saved per the AAPCS64 ABI; X9-X15
// are caller-saved and none of them is in the allocatable caller-saved pool
// here: X9-X11 are the veneer/codegen scratch reservation (three registers,
// §4.5), listed separately as IntScratch, and X12-X15 appear in no list.
var (
	IntCalleeSaved = []PhysicalRegister{
		{Name: "X19", Class: ClassInt, CalleeSaved: true},
		{Name: "X20", Class: ClassInt, CalleeSaved: true},
		{Name: "X21", Class: ClassInt, CalleeSaved: true},
		{Name: "X22", Class: ClassInt, CalleeSaved: true},
		{Name: "X23", Class: ClassInt, CalleeSaved: true},
		{Name: "X24", Class: ClassInt, CalleeSaved: true},
		{Name: "X25", Class: ClassInt, CalleeSaved: true},
		{Name: "X26", Class: ClassInt, CalleeSaved: true},
		{Name: "X27", Class: ClassInt, CalleeSaved: true},
		{Name: "X28", Class: ClassInt, CalleeSaved: true},
	}
	IntCallerSaved = []PhysicalRegister{
		{Name: "X0", Class: ClassInt}, {Name: "X1", Class: ClassInt},
		{Name: "X2", Class: ClassInt}, {Name: "X3", Class: ClassInt},
		{Name: "X4", Class: ClassInt}, {Name: "X5", Class: ClassInt},
		{Name: "X6", Class: ClassInt}, {Name: "X7", Class: ClassInt},
		{Name: "X16", Class: ClassInt}, {Name: "X17", Class: ClassInt},
	}
	// IntScratch is reserved for codegen/veneer temporaries, never handed
	// out by the allocator (§4.5 "3 reserved scratch registers").
	IntScratch = []PhysicalRegister{
		{Name: "X9", Class: ClassInt}, {Name: "X10", Class: ClassInt}, {Name: "X11", Class: ClassInt},
	}

	FloatCalleeSaved = []PhysicalRegister{
		{Name: "D8", Class: ClassFloat, CalleeSaved: true},
		{Name: "D9", Class: ClassFloat, CalleeSaved: true},
		{Name: "D10", Class: ClassFloat, CalleeSaved: true},
		{Name: "D11", Class: ClassFloat, CalleeSaved: true},
		{Name: "D12", Class: ClassFloat, CalleeSaved: true},
		{Name: "D13", Class: ClassFloat, CalleeSaved: true},
		{Name: "D14", Class: ClassFloat, CalleeSaved: true},
		{Name: "D15", Class: ClassFloat, CalleeSaved: true},
	}
	FloatCallerSaved = []PhysicalRegister{
		{Name: "D0", Class: ClassFloat}, {Name: "D1", Class: ClassFloat},
		{Name: "D2", Class: ClassFloat}, {Name: "D3", Class: ClassFloat},
		{Name: "D4", Class: ClassFloat}, {Name: "D5", Class: ClassFloat},
		{Name: "D6", Class: ClassFloat}, {Name: "D7", Class: ClassFloat},
	}
)

// AllocationKind distinguishes a register assignment from a spill slot.
type AllocationKind int

const (
	InRegister AllocationKind = iota
	Spilled
)

// Allocation is the final decision for one live interval.
type Allocation struct {
	Kind      AllocationKind
	Register  PhysicalRegister
	SpillSlot int // byte offset from the frame's spill area base
}

// Result is the per-function allocation produced by Allocate.
type Result struct {
	Assignments   map[string]Allocation
	SpillSlots    int // count of distinct spill slots used
	CalleeSavedUsed []PhysicalRegister
}

type allocator struct {
	intervals []liveness.Interval
	callSites map[int]bool

	intPool   []PhysicalRegister
	floatPool []PhysicalRegister

	free map[string]bool // register name -> free

	active   []liveness.Interval
	assigned map[string]Allocation

	nextSpillSlot int
	calleeSaved   map[string]bool
}

// Allocate runs the allocator over a function's live intervals. callSites
// holds the instruction indices (from the CFG lowering / liveness pass)
// where a call occurs, used to decide which caller-saved registers are
// unsafe to hand to a call-crossing interval.
func Allocate(intervals []liveness.Interval, callSites map[int]bool) (*Result, error) {
	a := &allocator{
		intervals:     intervals,
		callSites:     callSites,
		free:          map[string]bool{},
		assigned:      map[string]Allocation{},
		nextSpillSlot: 0,
		calleeSaved:   map[string]bool{},
	}

	// Partition into call-crossing and local-only, per class (§4.4
	// "two-stage partitioned linear scan").
	var crossingInt, localInt, crossingFloat, localFloat []liveness.Interval
	for _, iv := range intervals {
		if iv.IsFloat {
			if iv.CrossesCall {
				crossingFloat = append(crossingFloat, iv)
			} else {
				localFloat = append(localFloat, iv)
			}
		} else {
			if iv.CrossesCall {
				crossingInt = append(crossingInt, iv)
			} else {
				localInt = append(localInt, iv)
			}
		}
	}

	if err := a.run(crossingInt, IntCalleeSaved); err != nil {
		return nil, err
	}
	if err := a.run(localInt, append(append([]PhysicalRegister{}, IntCalleeSaved...), IntCallerSaved...)); err != nil {
		return nil, err
	}
	if err := a.run(crossingFloat, FloatCalleeSaved); err != nil {
		return nil, err
	}
	if err := a.run(localFloat, append(append([]PhysicalRegister{}, FloatCalleeSaved...), FloatCallerSaved...)); err != nil {
		return nil, err
	}

	var calleeUsed []PhysicalRegister
	seen := map[string]bool{}
	for _, al := range a.assigned {
		if al.Kind == InRegister && al.Register.CalleeSaved && !seen[al.Register.Name] {
			seen[al.Register.Name] = true
			calleeUsed = append(calleeUsed, al.Register)
		}
	}

	return &Result{
		Assignments:     a.assigned,
		SpillSlots:      a.nextSpillSlot,
		CalleeSavedUsed: calleeUsed,
	}, nil
}

// run performs one linear-scan pass over a stage's intervals against pool,
// sorted by start point, expiring the active set by end point as it goes
// (grounded on fkuehnel/golang-cfg and Orizon's regalloc.go shape).
func (a *allocator) run(stage []liveness.Interval, pool []PhysicalRegister) error {
	if len(stage) == 0 {
		return nil
	}
	sorted := append([]liveness.Interval{}, stage...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })

	poolFree := map[string]bool{}
	for _, r := range pool {
		poolFree[r.Name] = true
	}
	var active []liveness.Interval

	for _, iv := range sorted {
		active = a.expireOldIntervals(active, iv.Start, poolFree)

		if reg, ok := a.tryAllocate(iv, pool, poolFree); ok {
			a.assigned[iv.Name] = Allocation{Kind: InRegister, Register: reg}
			poolFree[reg.Name] = false
			active = append(active, iv)
			sort.Slice(active, func(i, j int) bool { return active[i].End < active[j].End })
			continue
		}

		if err := a.spill(iv, &active, poolFree); err != nil {
			return err
		}
	}
	return nil
}

func (a *allocator) expireOldIntervals(active []liveness.Interval, currentStart int, poolFree map[string]bool) []liveness.Interval {
	kept := active[:0:0]
	for _, iv := range active {
		if iv.End >= currentStart {
			kept = append(kept, iv)
			continue
		}
		if al, ok := a.assigned[iv.Name]; ok && al.Kind == InRegister {
			poolFree[al.Register.Name] = true
		}
	}
	return kept
}

func (a *allocator) tryAllocate(iv liveness.Interval, pool []PhysicalRegister, poolFree map[string]bool) (PhysicalRegister, bool) {
	for _, reg := range pool {
		if !poolFree[reg.Name] {
			continue
		}
		if !reg.CalleeSaved && iv.CrossesCall && a.hasCallInRange(iv) {
			continue // prefer callee-saved for anything spanning a call
		}
		return reg, true
	}
	return PhysicalRegister{}, false
}

func (a *allocator) hasCallInRange(iv liveness.Interval) bool {
	for site := range a.callSites {
		if iv.Start <= site && site <= iv.End {
			return true
		}
	}
	return false
}

// spill picks the active interval with the furthest end point; if that's
// longer-lived than the incoming interval, its register is handed to the
// incoming interval and the spilled one is assigned a stack slot instead
// (classic "spill longest-ending active" linear-scan rule, §4.4).
func (a *allocator) spill(iv liveness.Interval, active *[]liveness.Interval, poolFree map[string]bool) error {
	if len(*active) == 0 {
		a.assignSpillSlot(iv)
		return nil
	}

	last := (*active)[len(*active)-1]
	if last.End > iv.End {
		al, ok := a.assigned[last.Name]
		if !ok || al.Kind != InRegister {
			return fmt.Errorf("regalloc: spill candidate %s has no register assignment", last.Name)
		}
		a.assignSpillSlot(last)
		a.assigned[iv.Name] = Allocation{Kind: InRegister, Register: al.Register}
		*active = append((*active)[:len(*active)-1], iv)
		sort.Slice(*active, func(i, j int) bool { return (*active)[i].End < (*active)[j].End })
		return nil
	}

	a.assignSpillSlot(iv)
	return nil
}

func (a *allocator) assignSpillSlot(iv liveness.Interval) {
	slot := a.nextSpillSlot
	a.nextSpillSlot++
	a.assigned[iv.Name] = Allocation{Kind: Spilled, SpillSlot: slot * 8}
}
