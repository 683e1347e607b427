// Package types defines the VarType bit-flag lattice shared by every pass:
// a base kind, a container, and modifier flags, packed into one integer so
// the analyzer and codegen can test composite types with plain bitwise ops.
package types

import "fmt"

// VarType is a bit-flag encoding of base kind + container + modifiers.
type VarType uint32

// Base kinds occupy the low bits; exactly one must be set on a valid type.
const (
	BaseUnknown VarType = 1 << iota
	BaseInteger
	BaseFloat
	BaseString
	BaseObject
	BaseAny
	BaseNotUsed

	baseMask = BaseUnknown | BaseInteger | BaseFloat | BaseString | BaseObject | BaseAny | BaseNotUsed
)

// Containers compose with a base kind.
const (
	PointerTo VarType = 1 << (iota + 8)
	Vec
	List
	Table
	Pair
	Pairs
	FPair
	FPairs
	Quad
	FQuad
	Oct
	FOct
	ListNode

	containerMask = PointerTo | Vec | List | Table | Pair | Pairs | FPair | FPairs | Quad | FQuad | Oct | FOct | ListNode
)

// Modifiers.
const (
	Const VarType = 1 << (iota + 24)

	modifierMask = Const
)

// Base returns the base-kind bits of t.
func (t VarType) Base() VarType { return t & baseMask }

// Container returns the container bits of t.
func (t VarType) Container() VarType { return t & containerMask }

// IsConst reports whether the CONST modifier is set.
func (t VarType) IsConst() bool { return t&Const != 0 }

// WithConst returns t with the CONST modifier set.
func (t VarType) WithConst() VarType { return t | Const }

// WithoutConst returns t with the CONST modifier cleared.
func (t VarType) WithoutConst() VarType { return t &^ Const }

// WithContainer returns t with its container bits replaced by c.
func (t VarType) WithContainer(c VarType) VarType { return t.Base() | (c & containerMask) | (t & modifierMask) }

// Is128Bit reports whether values of this type occupy a 128-bit NEON lane
// (QUAD/FQUAD, i.e. 4S arrangement) rather than the 64-bit PAIR/FPAIR (2S).
func (t VarType) Is128Bit() bool {
	c := t.Container()
	return c == Quad || c == FQuad
}

// IsSIMDValue reports whether t is one of the packed-lane value types that
// must be moved through NEON registers rather than a plain GPR.
func (t VarType) IsSIMDValue() bool {
	switch t.Container() {
	case Pair, FPair, Quad, FQuad:
		return true
	}
	return false
}

// IsFloatLane reports whether the packed lanes of a SIMD value type are
// floats (FPAIR/FQUAD) rather than integers (PAIR/QUAD).
func (t VarType) IsFloatLane() bool {
	switch t.Container() {
	case FPair, FQuad:
		return true
	}
	return false
}

// LaneCount returns the number of 32-bit lanes packed into t's register, or
// 0 if t is not a SIMD value type.
func (t VarType) LaneCount() int {
	switch t.Container() {
	case Pair, FPair:
		return 2
	case Quad, FQuad:
		return 4
	}
	return 0
}

// Arrangement returns the NEON vector-arrangement suffix ("2S" or "4S") for
// a SIMD value type, or "" if t is not one of them.
func (t VarType) Arrangement() string {
	switch t.LaneCount() {
	case 2:
		return "2S"
	case 4:
		return "4S"
	}
	return ""
}

// IsPointer reports whether t carries the POINTER_TO container.
func (t VarType) IsPointer() bool { return t&PointerTo != 0 }

// Dereference strips one level of POINTER_TO, per the invariant that
// POINTER_TO composes with at most one container.
func (t VarType) Dereference() VarType {
	if !t.IsPointer() {
		return t
	}
	return t &^ PointerTo
}

// String renders a human-readable name, used in trace logs and error
// messages; never appears in emitted code.
func (t VarType) String() string {
	s := baseName(t.Base())
	if t.IsPointer() {
		s = "POINTER_TO(" + s + ")"
	}
	switch t.Container() &^ PointerTo {
	case Vec:
		s = "VEC(" + s + ")"
	case List:
		s = "LIST(" + s + ")"
	case Table:
		s = "TABLE(" + s + ")"
	case Pair:
		s = "PAIR"
	case Pairs:
		s = "PAIRS"
	case FPair:
		s = "FPAIR"
	case FPairs:
		s = "FPAIRS"
	case Quad:
		s = "QUAD"
	case FQuad:
		s = "FQUAD"
	case Oct:
		s = "OCT"
	case FOct:
		s = "FOCT"
	case ListNode:
		s = "LIST_NODE(" + s + ")"
	}
	if t.IsConst() {
		s = "CONST " + s
	}
	return s
}

func baseName(b VarType) string {
	switch b {
	case BaseInteger:
		return "INTEGER"
	case BaseFloat:
		return "FLOAT"
	case BaseString:
		return "STRING"
	case BaseObject:
		return "OBJECT"
	case BaseAny:
		return "ANY"
	case BaseNotUsed:
		return "NOTUSED"
	case BaseUnknown:
		return "UNKNOWN"
	default:
		return fmt.Sprintf("VarType(%#x)", uint32(b))
	}
}

// SizeBytes returns the register/stack footprint of t: 8 for scalars and
// PAIR/FPAIR (packed into a 64-bit lane), 16 for QUAD/FQUAD.
func (t VarType) SizeBytes() int {
	if t.Is128Bit() {
		return 16
	}
	return 8
}
