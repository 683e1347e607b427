// Package stream generalizes the teacher's CodeGen byte-buffer triple
// (backend.go: code/rodata/data []byte plus CallFixup/JumpFixup records)
// from bytes-plus-side-tables into a single structured InstructionStream:
// each entry knows its own segment, and relocations are attached to the
// entry they belong to rather than tracked in a parallel slice. This is
// what component C9 (§4.5/§4.6) accumulates and what internal/codegen
// writes into.
package stream

import "github.com/tinyrange/bcplc/internal/arm64asm"

// Segment identifies which output section an entry belongs to.
type Segment int

const (
	Text Segment = iota
	RoData
	Data
)

// RelocationKind discriminates the kind of fixup an Entry carries.
type RelocationKind int

const (
	NoRelocation RelocationKind = iota
	BranchReloc                 // B/BL, Target holds the target label
	CondBranchReloc             // B.cond
	AdrpAddReloc                // ADRP+ADD pair (pc-relative address)
	AdrpLdrReloc                // ADRP+LDR pair (pc-relative load)
	Imm64Reloc                  // MOVZ/MOVK 4-insn sequence
)

// Entry is one instruction (or raw data run) placed in the stream.
type Entry struct {
	Segment  Segment
	Bytes    []byte
	Reloc    RelocationKind
	Target   string // symbol/label name for the relocation, if any
	RawValue uint64 // literal payload for Imm64Reloc / section-relative offset for Adrp*
	Cond     int
}

// InstructionStream accumulates entries for a whole compiled program:
// every function and the veneer table are emitted into one shared stream.
type InstructionStream struct {
	Entries []Entry

	LabelOffsets map[string]int // label name -> index into Entries, used by ResolveBranches

	lastMovDest  int
	lastMovSrc   int
	lastMovEntry int
	lastMovValid bool
}

// New returns an empty stream.
func New() *InstructionStream {
	return &InstructionStream{LabelOffsets: map[string]int{}}
}

// EmitScalar appends code produced by an arm64asm.Assembler call as one
// opaque entry (the assembler already folded multi-instruction sequences
// like LoadImm64Compact into contiguous bytes).
func (s *InstructionStream) EmitScalar(asm *arm64asm.Assembler, fn func(*arm64asm.Assembler)) {
	before := len(asm.Code)
	fn(asm)
	s.Entries = append(s.Entries, Entry{Segment: Text, Bytes: append([]byte{}, asm.Code[before:]...)})
}

// EmitMov appends a register-to-register move, suppressing it if the
// immediately preceding entry already moved the same value into the same
// destination (peephole dedup, grounded on the teacher's "pendingReg" push
// optimization in backend.go, generalized from push-coalescing to
// MOV-coalescing).
func (s *InstructionStream) EmitMov(asm *arm64asm.Assembler, rd, rm int) {
	if s.lastMovValid && s.lastMovEntry == len(s.Entries)-1 && s.lastMovDest == rd && s.lastMovSrc == rm {
		return
	}
	before := len(asm.Code)
	asm.MovRR(rd, rm)
	s.Entries = append(s.Entries, Entry{Segment: Text, Bytes: append([]byte{}, asm.Code[before:]...)})
	s.lastMovDest, s.lastMovSrc = rd, rm
	s.lastMovEntry = len(s.Entries) - 1
	s.lastMovValid = true
}

// MarkLabel records the current entry count as label's offset.
func (s *InstructionStream) MarkLabel(label string) {
	s.LabelOffsets[label] = len(s.Entries)
}

// EmitBranch appends a placeholder B/BL and records the symbolic target,
// resolved later once every block's entry offset is known.
func (s *InstructionStream) EmitBranch(asm *arm64asm.Assembler, target string, link bool) {
	before := len(asm.Code)
	if link {
		asm.BL()
	} else {
		asm.B()
	}
	s.Entries = append(s.Entries, Entry{
		Segment: Text, Bytes: append([]byte{}, asm.Code[before:]...),
		Reloc: BranchReloc, Target: target,
	})
}

// EmitCondBranch appends a placeholder B.cond and records the symbolic
// target.
func (s *InstructionStream) EmitCondBranch(asm *arm64asm.Assembler, cond int, target string) {
	before := len(asm.Code)
	asm.BCond(cond)
	s.Entries = append(s.Entries, Entry{
		Segment: Text, Bytes: append([]byte{}, asm.Code[before:]...),
		Reloc: CondBranchReloc, Target: target, Cond: cond,
	})
}

// Bytes concatenates every entry's bytes, in order, for one segment.
func (s *InstructionStream) Bytes(seg Segment) []byte {
	var out []byte
	for _, e := range s.Entries {
		if e.Segment == seg {
			out = append(out, e.Bytes...)
		}
	}
	return out
}

// ByteOffset returns the byte offset of entry index i within its segment.
func (s *InstructionStream) ByteOffset(i int) int {
	off := 0
	seg := s.Entries[i].Segment
	for j := 0; j < i; j++ {
		if s.Entries[j].Segment == seg {
			off += len(s.Entries[j].Bytes)
		}
	}
	return off
}

// ResolveBranches patches every BranchReloc/CondBranchReloc entry whose
// Target is a known label, given the assembler whose Code backs every
// entry's Bytes slice is irrelevant here — patching operates directly on
// byte slices, mirroring patchArm64BAt/patchArm64BCondAt in the teacher.
func (s *InstructionStream) ResolveBranches() error {
	for i, e := range s.Entries {
		if e.Reloc != BranchReloc && e.Reloc != CondBranchReloc {
			continue
		}
		targetIdx, ok := s.LabelOffsets[e.Target]
		if !ok {
			return &UnresolvedLabelError{Label: e.Target}
		}
		fromOff := s.ByteOffset(i)
		toOff := s.ByteOffset(targetIdx)
		delta := (toOff - fromOff) / 4
		buf := s.Entries[i].Bytes
		existing := uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24
		var patched uint32
		if e.Reloc == BranchReloc {
			opcode := existing & 0xFC000000
			patched = opcode | (uint32(delta) & 0x03FFFFFF)
		} else {
			cond := existing & 0xF
			patched = 0x54000000 | ((uint32(delta) & 0x7FFFF) << 5) | cond
		}
		buf[0] = byte(patched)
		buf[1] = byte(patched >> 8)
		buf[2] = byte(patched >> 16)
		buf[3] = byte(patched >> 24)
	}
	return nil
}

// UnresolvedLabelError reports a branch whose target label never appeared
// in the stream.
type UnresolvedLabelError struct {
	Label string
}

func (e *UnresolvedLabelError) Error() string {
	return "stream: unresolved branch target label " + e.Label
}
