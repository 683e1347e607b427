// Package datagen builds the static-data pools a compiled program needs:
// interned strings, float constants, PAIR/QUAD literals, list literals,
// vtables, and the globals layout (component C3, §4.2/§6).
//
// Grounded on the teacher's backend.go CodeGen (stringMap content->rodata
// offset deduplication, globalOffsets per-global byte layout in .data) and
// backend_darwin_arm64.go's split of string headers (in .data) from their
// backing bytes (in .rodata, tracked via stringRodataMap) — generalized
// from "string" to every pooled literal kind the spec's VarType container
// set introduces. List-literal structural dedup (sharing storage when two
// literals produce identical cons chains) has no teacher analogue and is
// original to this package.
package datagen

import (
	"encoding/binary"
	"math"
)

// Pool accumulates one program's static data sections.
type Pool struct {
	RoData []byte
	Data   []byte

	stringOffsets map[string]int
	floatOffsets  map[uint64]int
	pairOffsets   map[[2]int32]int
	quadOffsets   map[[4]int32]int
	listOffsets   map[string]int // canonical cons-chain signature -> rodata offset

	globalOffsets []int
	globalNames   map[string]int

	VTables map[string]int // class name -> rodata offset of its vtable
}

// New returns an empty data pool.
func New() *Pool {
	return &Pool{
		stringOffsets: map[string]int{},
		floatOffsets:  map[uint64]int{},
		pairOffsets:   map[[2]int32]int{},
		quadOffsets:   map[[4]int32]int{},
		listOffsets:   map[string]int{},
		globalNames:   map[string]int{},
		VTables:       map[string]int{},
	}
}

// InternString returns the rodata offset of s's header (length-prefixed
// byte run), deduplicating by content (§4.2).
func (p *Pool) InternString(s string) int {
	if off, ok := p.stringOffsets[s]; ok {
		return off
	}
	headerOff := len(p.RoData)
	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(s)))
	p.RoData = append(p.RoData, lenBuf[:]...)
	p.RoData = append(p.RoData, []byte(s)...)
	for len(p.RoData)%8 != 0 {
		p.RoData = append(p.RoData, 0)
	}
	p.stringOffsets[s] = headerOff
	return headerOff
}

// InternFloat returns the rodata offset of a boxed double, deduplicated by
// bit pattern (so +0.0 and -0.0 are kept distinct, NaN payloads are not
// collapsed).
func (p *Pool) InternFloat(f float64) int {
	bits := math.Float64bits(f)
	if off, ok := p.floatOffsets[bits]; ok {
		return off
	}
	off := len(p.RoData)
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], bits)
	p.RoData = append(p.RoData, buf[:]...)
	p.floatOffsets[bits] = off
	return off
}

// InternPair returns the rodata offset of a packed 2x32-bit PAIR constant.
func (p *Pool) InternPair(x, y int32) int {
	key := [2]int32{x, y}
	if off, ok := p.pairOffsets[key]; ok {
		return off
	}
	off := len(p.RoData)
	var buf [8]byte
	binary.LittleEndian.PutUint32(buf[0:4], uint32(x))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(y))
	p.RoData = append(p.RoData, buf[:]...)
	p.pairOffsets[key] = off
	return off
}

// InternQuad returns the rodata offset of a packed 4x32-bit QUAD constant.
func (p *Pool) InternQuad(a, b, c, d int32) int {
	key := [4]int32{a, b, c, d}
	if off, ok := p.quadOffsets[key]; ok {
		return off
	}
	off := len(p.RoData)
	var buf [16]byte
	binary.LittleEndian.PutUint32(buf[0:4], uint32(a))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(b))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(c))
	binary.LittleEndian.PutUint32(buf[12:16], uint32(d))
	p.RoData = append(p.RoData, buf[:]...)
	p.quadOffsets[key] = off
	return off
}

// InternList lays out a LIST literal as a chain of (value, next) cons
// cells in rodata and returns the head cell's offset. Two literals that
// produce an identical element sequence share the same chain (dedup by a
// canonical signature of the elements, original to this package: the
// teacher interns strings the same way but has no list literal kind).
func (p *Pool) InternList(elemOffsets []int) int {
	if len(elemOffsets) == 0 {
		return 0 // null pointer sentinel
	}
	sig := signature(elemOffsets)
	if off, ok := p.listOffsets[sig]; ok {
		return off
	}

	// Build tail-first so each cons cell's "next" offset is already known.
	next := 0
	for i := len(elemOffsets) - 1; i >= 0; i-- {
		cellOff := len(p.RoData)
		var buf [16]byte
		binary.LittleEndian.PutUint64(buf[0:8], uint64(elemOffsets[i]))
		binary.LittleEndian.PutUint64(buf[8:16], uint64(next))
		p.RoData = append(p.RoData, buf[:]...)
		next = cellOff
	}
	p.listOffsets[sig] = next
	return next
}

func signature(offsets []int) string {
	buf := make([]byte, 0, len(offsets)*8)
	for _, o := range offsets {
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], uint64(o))
		buf = append(buf, b[:]...)
	}
	return string(buf)
}

// DeclareGlobal reserves an 8-byte slot in .data for a global variable and
// returns its offset, or the existing offset if name was already declared.
func (p *Pool) DeclareGlobal(name string) int {
	if off, ok := p.globalNames[name]; ok {
		return off
	}
	off := len(p.Data)
	p.Data = append(p.Data, 0, 0, 0, 0, 0, 0, 0, 0)
	p.globalOffsets = append(p.globalOffsets, off)
	p.globalNames[name] = off
	return off
}

// VTableEntry is one method slot: its index within the class's method
// table and the mangled function name it resolves to (§4.2 classtable).
type VTableEntry struct {
	Index    int
	FuncName string
}

// EmitVTable lays out className's vtable as a contiguous array of 8-byte
// function-pointer slots and records its offset. Every slot is
// zero-filled: the entries' FuncName values only size the table, and no
// relocation or fixup is recorded for them.
func (p *Pool) EmitVTable(className string, entries []VTableEntry) int {
	off := len(p.RoData)
	size := 0
	for _, e := range entries {
		if e.Index+1 > size {
			size = e.Index + 1
		}
	}
	table := make([]byte, size*8)
	p.RoData = append(p.RoData, table...)
	p.VTables[className] = off
	return off
}
