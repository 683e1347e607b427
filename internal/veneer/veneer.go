// Package veneer scans a compiled program's call targets and synthesizes
// BR trampolines for any callee that a direct BL can't reach, keeping
// every BL within the ±128 MiB PC-relative range imm26 can encode (§4.5).
//
// Grounded on the teacher's GOT-slot bookkeeping (backend.go gotSlot/
// gotEntries/gotSymbols, used there for libSystem imports on Darwin) and
// the call-fixup resolution loop in backend_linux_aarch64.go
// (generateLinuxArm64ELF's unresolved-call reporting) — generalized here
// from "resolve against funcOffsets, fail if missing" into "resolve
// in-range directly, and for out-of-range or external symbols, resolve
// through a synthesized veneer slot instead of failing."
package veneer

import "sort"

// maxDirectBranchRange is the signed range encodable in a B/BL imm26
// field (26 bits, word-aligned, so ±2^25 words = ±128 MiB), per §4.5.
const maxDirectBranchRange = 128 * 1024 * 1024

// Scanner tracks which callees need a veneer and assigns each one a
// stable, ordered slot (mirroring gotSlot's dedup-by-name allocation).
type Scanner struct {
	slots   map[string]int
	ordered []string
}

// NewScanner returns an empty scanner.
func NewScanner() *Scanner {
	return &Scanner{slots: map[string]int{}}
}

// NeedsVeneer reports whether a call from fromOffset to a callee at
// targetOffset exceeds the direct-branch range.
func NeedsVeneer(fromOffset, targetOffset int) bool {
	delta := targetOffset - fromOffset
	if delta < 0 {
		delta = -delta
	}
	return delta > maxDirectBranchRange
}

// Slot returns name's stable veneer-table index, allocating one on first
// use (grounded on gotSlot's allocate-if-absent shape).
func (s *Scanner) Slot(name string) int {
	if idx, ok := s.slots[name]; ok {
		return idx
	}
	idx := len(s.ordered)
	s.slots[name] = idx
	s.ordered = append(s.ordered, name)
	return idx
}

// IsExternal reports whether name already has a veneer slot assigned —
// external callees (libc, runtime support routines) are registered via
// Slot before scanning call sites, the same way the teacher pre-registers
// libSystem imports via gotSlot before compiling function bodies.
func (s *Scanner) IsExternal(name string) bool {
	_, ok := s.slots[name]
	return ok
}

// Names returns every registered veneer target, in allocation order —
// the order their code-size-stable trampolines will be laid out in.
func (s *Scanner) Names() []string {
	out := make([]string, len(s.ordered))
	copy(out, s.ordered)
	return out
}

// VeneerEntry is one trampoline: a fixed BR sequence that materializes the
// target address (ADRP+ADD in static mode, a MOVZ/MOVK quad in JIT mode,
// as internal/compiler's emitVeneerTable emits it) and branches to it with
// BR, placed in a dedicated veneer region so every in-module BL can reach it.
type VeneerEntry struct {
	Name       string
	SlotIndex  int
	IsExternal bool
}

// Plan lays out one VeneerEntry per registered name, in a deterministic
// (sorted by slot index) order, ready for the code generator to emit a
// fixed-size trampoline per entry.
func (s *Scanner) Plan(external map[string]bool) []VeneerEntry {
	entries := make([]VeneerEntry, 0, len(s.ordered))
	for name, idx := range s.slots {
		entries = append(entries, VeneerEntry{Name: name, SlotIndex: idx, IsExternal: external[name]})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].SlotIndex < entries[j].SlotIndex })
	return entries
}

// UnresolvedCallError mirrors the teacher's "N unresolved calls" report
// (backend_linux_aarch64.go), raised when a direct-call target resolves
// to neither a known function offset nor a registered external veneer.
type UnresolvedCallError struct {
	Targets []string
}

func (e *UnresolvedCallError) Error() string {
	msg := "veneer: unresolved call targets:"
	for _, t := range e.Targets {
		msg += " " + t
	}
	return msg
}
