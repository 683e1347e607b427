package analyzer

import "github.com/tinyrange/bcplc/internal/types"

// FunctionMetrics is the per-function summary the analyzer builds and
// every later pass (CFG builder, allocator, codegen) consumes (§3).
type FunctionMetrics struct {
	Name     string
	IsMethod bool
	ClassName string

	ParamTypes []types.VarType
	ParamNames []string
	VarTypes   map[string]types.VarType

	RetType types.VarType

	InstructionCount int // virtual count, used for call-site indexing

	IsLeaf                       bool
	PerformsHeapAllocation       bool
	RequiredCalleeSavedRegs      int
	RequiredCalleeSavedTemps     int
	HasCallPreservingExpressions bool
	MaxLiveVariables             int

	IsTrivialAccessor  bool
	IsTrivialSetter    bool
	AccessedMemberName string

	CallSites []int // instruction indices of call sites, filled in by CFG builder

	callees []string // call-graph edges, used only for leaf/heap fixed point
}

// ThisPointerSentinel is the accessed_member_name value for a trivial
// accessor whose body is exactly `RESULTIS SELF` (§4.2).
const ThisPointerSentinel = "_this_ptr"

func newMetrics(name string) *FunctionMetrics {
	return &FunctionMetrics{
		Name:     name,
		VarTypes: make(map[string]types.VarType),
	}
}
