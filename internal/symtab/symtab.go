// Package symtab implements the scoped Symbol Table (component C1, §3/§4).
// Grounded on the teacher's frontend.go Symbol{Name,Kind,...} + Package's
// map[string]*Symbol lookup, and ir.go's Compiler.scopes []map[string]int
// scope-stack idiom, generalized to the spec's Symbol record.
package symtab

import "github.com/tinyrange/bcplc/internal/types"

// Kind classifies a symbol (§3 Symbol).
type Kind int

const (
	GlobalVar Kind = iota
	LocalVar
	Parameter
	Manifest
	Function
	Routine
	Label
)

// Location tags where a symbol's storage lives.
type LocationKind int

const (
	LocNone LocationKind = iota
	LocStackOffset
	LocAbsoluteValue
	LocDataWordIndex
)

// Location is a tagged union over the three storage kinds a symbol may
// have, per §3's "stack offset OR absolute value OR data-segment word
// index" invariant.
type Location struct {
	Kind         LocationKind
	StackOffset  int
	AbsoluteVal  int64
	DataWordIdx  int
}

// Symbol is one scoped name binding (§3).
type Symbol struct {
	Name            string
	Kind            Kind
	Type            types.VarType
	ScopeLevel      int
	FunctionContext string
	ClassName       string // declaring class of a method, its parameters, or _this; "" outside classes
	Location        Location
	OwnsHeapMemory  bool
}

// Table is a scoped symbol table: at most one symbol per (name, scope)
// pair, inner scopes shadow outer ones.
type Table struct {
	scopes []map[string]*Symbol
}

// New returns a table with the single outermost (global) scope open.
func New() *Table {
	return &Table{scopes: []map[string]*Symbol{{}}}
}

// PushScope opens a new, innermost scope.
func (t *Table) PushScope() {
	t.scopes = append(t.scopes, map[string]*Symbol{})
}

// PopScope closes the innermost scope. Popping the outermost scope is a
// programming error in the caller and panics, matching the "balanced
// enter/exit" invariant from §5.
func (t *Table) PopScope() {
	if len(t.scopes) <= 1 {
		panic("symtab: PopScope on empty scope stack")
	}
	t.scopes = t.scopes[:len(t.scopes)-1]
}

// Depth returns the current scope nesting depth (0 = global scope only).
func (t *Table) Depth() int { return len(t.scopes) - 1 }

// Declare inserts sym into the innermost scope. It returns false without
// mutating the table if a symbol with the same name already exists in that
// exact scope (the one-symbol-per-(name,scope) invariant); shadowing an
// outer scope's symbol of the same name is allowed.
func (t *Table) Declare(sym *Symbol) bool {
	scope := t.scopes[len(t.scopes)-1]
	if _, exists := scope[sym.Name]; exists {
		return false
	}
	sym.ScopeLevel = len(t.scopes) - 1
	scope[sym.Name] = sym
	return true
}

// DeclareGlobal inserts sym directly into the outermost scope, regardless
// of current nesting, for signature-discovery passes that run before any
// scope is pushed.
func (t *Table) DeclareGlobal(sym *Symbol) bool {
	scope := t.scopes[0]
	if _, exists := scope[sym.Name]; exists {
		return false
	}
	sym.ScopeLevel = 0
	scope[sym.Name] = sym
	return true
}

// Lookup searches from the innermost scope outward and returns the first
// match, implementing shadowing.
func (t *Table) Lookup(name string) (*Symbol, bool) {
	for i := len(t.scopes) - 1; i >= 0; i-- {
		if sym, ok := t.scopes[i][name]; ok {
			return sym, true
		}
	}
	return nil, false
}

// LookupLocal looks up name only in the innermost scope.
func (t *Table) LookupLocal(name string) (*Symbol, bool) {
	sym, ok := t.scopes[len(t.scopes)-1][name]
	return sym, ok
}

// ScopeSnapshot returns the names declared in the innermost scope, in
// unspecified (map iteration) order — callers that need deterministic
// order (e.g. block-exit cleanup, §4.3 BlockStatement) must sort or track
// declaration order themselves, as the CFG builder's blockLocalsStack does.
func (t *Table) ScopeSnapshot() []*Symbol {
	scope := t.scopes[len(t.scopes)-1]
	out := make([]*Symbol, 0, len(scope))
	for _, s := range scope {
		out = append(out, s)
	}
	return out
}

// All returns every symbol across every open scope, innermost first, for
// diagnostics and tracing only.
func (t *Table) All() []*Symbol {
	var out []*Symbol
	for i := len(t.scopes) - 1; i >= 0; i-- {
		for _, s := range t.scopes[i] {
			out = append(out, s)
		}
	}
	return out
}
