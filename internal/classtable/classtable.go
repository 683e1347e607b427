// Package classtable implements the Class Table (component C1, §3) and the
// Class Pass (component C5, §4.1): two-phase class discovery and
// finalization, vtable blueprint construction, and CREATE/RELEASE
// synthesis. The teacher's language has no classes, so the layout
// algorithm itself is original to the specification; it is coded in the
// teacher's map-and-slice, no-pointer-cycle style (frontend.go's
// Package.Symbols map[string]*Symbol, ir.go's methodTable map[string]string
// for mangled-name bookkeeping).
package classtable

import (
	"fmt"

	"github.com/tinyrange/bcplc/internal/ast"
	"github.com/tinyrange/bcplc/internal/diag"
	"github.com/tinyrange/bcplc/internal/types"
)

// MemberVariable describes one class-owned field (§3 ClassTableEntry).
type MemberVariable struct {
	Type       types.VarType
	Offset     int
	Visibility ast.Visibility
}

// MethodEntry describes one class-owned method (§3 ClassTableEntry).
type MethodEntry struct {
	QualifiedName string // "Class::name"
	SimpleName    string
	VTableSlot    int
	Visibility    ast.Visibility
	IsVirtual     bool
	IsFinal       bool
	Params        []*ast.Param
	Decl          *ast.Node // FunctionDecl/RoutineDecl body, mutated by synthesis
}

// Entry is one class's finalized layout (§3 ClassTableEntry).
type Entry struct {
	Name         string
	ParentName   string
	Parent       *Entry

	MemberVariables map[string]*MemberVariable
	MemberMethods   map[string]*MethodEntry // qualified name -> method
	SimpleToMethod  map[string]*MethodEntry // simple name -> method (own + inherited)

	VTableBlueprint []string // qualified names, "" for an empty reserved slot

	InstanceSize      int
	IsLayoutFinalized bool

	decl *ast.Node // ClassDecl node, used only during finalization
}

// Table holds every class discovered in a program.
type Table struct {
	entries    map[string]*Entry
	resolving  map[string]bool // circular-inheritance detection, active call stack
	sammEnabled bool
}

// New returns an empty class table. sammEnabled selects which RELEASE
// injection strategy Finalize uses (§9 open question: promoted to a single
// compile-time choice, never mixed within one compiled program).
func New(sammEnabled bool) *Table {
	return &Table{
		entries:    make(map[string]*Entry),
		resolving:  make(map[string]bool),
		sammEnabled: sammEnabled,
	}
}

// Entry looks up a finalized (or in-progress) class entry by name.
func (t *Table) Entry(name string) (*Entry, bool) {
	e, ok := t.entries[name]
	return e, ok
}

// Discover registers every class declaration in prog, recording its parent
// name (empty = no parent) and AST node, without computing layout (§4.1
// Discovery phase).
func (t *Table) Discover(prog *ast.Node) {
	for _, decl := range prog.Nodes {
		if decl.Kind != ast.ClassDecl {
			continue
		}
		t.entries[decl.Name] = &Entry{
			Name:            decl.Name,
			ParentName:      decl.ParentName,
			MemberVariables: make(map[string]*MemberVariable),
			MemberMethods:   make(map[string]*MethodEntry),
			SimpleToMethod:  make(map[string]*MethodEntry),
			decl:            decl,
		}
	}
}

// FinalizeAll finalizes every discovered class, recursing through parents
// as needed. Errors are fatal (§4.1/§7 class-layout errors).
func (t *Table) FinalizeAll() error {
	for name := range t.entries {
		if _, err := t.Finalize(name); err != nil {
			return err
		}
	}
	return nil
}

// Finalize recursively finalizes the named class and returns its entry.
// Fails with ErrCircularInheritance if name re-enters its own resolution
// path, and with ErrFinalOverride if an override targets a final parent
// method (§4.1).
func (t *Table) Finalize(name string) (*Entry, error) {
	e, ok := t.entries[name]
	if !ok {
		return nil, diag.Wrap(diag.ErrStructural, fmt.Sprintf("unknown class %q", name))
	}
	if e.IsLayoutFinalized {
		return e, nil
	}
	if t.resolving[name] {
		return nil, diag.Wrap(diag.ErrCircularInheritance, name)
	}
	t.resolving[name] = true
	defer delete(t.resolving, name)

	var parent *Entry
	baseOffset := 8 // word 0 holds the vtable pointer
	blueprint := []string{"", ""}
	instanceSize := 8

	if e.ParentName != "" {
		var err error
		parent, err = t.Finalize(e.ParentName)
		if err != nil {
			return nil, err
		}
		e.Parent = parent
		for mn, mv := range parent.MemberVariables {
			cp := *mv
			e.MemberVariables[mn] = &cp
		}
		for qn, m := range parent.MemberMethods {
			cp := *m
			e.MemberMethods[qn] = &cp
		}
		for sn, m := range parent.SimpleToMethod {
			cp := *m
			e.SimpleToMethod[sn] = &cp
		}
		blueprint = append([]string(nil), parent.VTableBlueprint...)
		instanceSize = parent.InstanceSize
		baseOffset = parent.InstanceSize
	}

	decl := e.decl
	var createDecl, releaseDecl *ast.Node
	var userDefinedRelease bool

	for _, member := range decl.Members {
		switch member.Kind {
		case ast.MemberVarDecl:
			mv := &MemberVariable{
				Type:       member.Type,
				Offset:     baseOffset,
				Visibility: member.Visible,
			}
			e.MemberVariables[member.Name] = mv
			baseOffset += 8
			instanceSize = baseOffset

		case ast.FunctionDecl, ast.RoutineDecl:
			qualified := name + "::" + member.Name
			method := &MethodEntry{
				QualifiedName: qualified,
				SimpleName:    member.Name,
				Visibility:    member.Visible,
				IsVirtual:     true,
				IsFinal:       false,
				Params:        member.Params,
				Decl:          member,
			}

			switch member.Name {
			case "CREATE":
				method.VTableSlot = 0
				blueprint[0] = qualified
				createDecl = member
			case "RELEASE":
				method.VTableSlot = 1
				blueprint[1] = qualified
				releaseDecl = member
				userDefinedRelease = true
			default:
				if parentMethod, ok := e.SimpleToMethod[member.Name]; ok {
					if parentMethod.IsFinal {
						return nil, diag.Wrap(diag.ErrFinalOverride,
							fmt.Sprintf("%s overrides final method %s", qualified, parentMethod.QualifiedName))
					}
					method.VTableSlot = parentMethod.VTableSlot
					blueprint[method.VTableSlot] = qualified
				} else {
					method.VTableSlot = len(blueprint)
					blueprint = append(blueprint, qualified)
				}
			}

			e.MemberMethods[qualified] = method
			e.SimpleToMethod[member.Name] = method
		}
	}

	e.VTableBlueprint = blueprint
	e.InstanceSize = instanceSize

	// Synthesize or patch RELEASE.
	if userDefinedRelease && t.sammEnabled == false {
		releaseDecl.Body = appendStmt(releaseDecl.Body, t.autoCleanupCall(e))
	}
	if blueprint[1] == "" {
		releaseDecl = t.synthesizeRelease(e)
		qualified := name + "::RELEASE"
		blueprint[1] = qualified
		method := &MethodEntry{
			QualifiedName: qualified,
			SimpleName:    "RELEASE",
			VTableSlot:    1,
			Visibility:    ast.Public,
			IsVirtual:     true,
			Decl:          releaseDecl,
		}
		e.MemberMethods[qualified] = method
		e.SimpleToMethod["RELEASE"] = method
	}

	// Synthesize CREATE if absent, then inject member initializers and a
	// SUPER.CREATE call.
	if createDecl == nil {
		createDecl = &ast.Node{Kind: ast.RoutineDecl, Name: "CREATE", ClassName: name, Body: emptyBlock()}
		qualified := name + "::CREATE"
		blueprint[0] = qualified
		method := &MethodEntry{
			QualifiedName: qualified,
			SimpleName:    "CREATE",
			VTableSlot:    0,
			Visibility:    ast.Public,
			IsVirtual:     true,
			Decl:          createDecl,
		}
		e.MemberMethods[qualified] = method
		e.SimpleToMethod["CREATE"] = method
	}
	t.injectCreateInitializers(e, createDecl, decl)

	e.VTableBlueprint = blueprint
	e.IsLayoutFinalized = true
	return e, nil
}

// autoCleanupCall builds the automatic-cleanup tail call appended to a
// user-defined RELEASE: SUPER.RELEASE() for a derived class, or
// OBJECT_HEAP_FREE(SELF) for a base class (§4.1).
func (t *Table) autoCleanupCall(e *Entry) *ast.Node {
	if e.ParentName != "" {
		return &ast.Node{Kind: ast.SuperCall, Name: "RELEASE"}
	}
	return &ast.Node{
		Kind: ast.RoutineCallStmt,
		Name: "OBJECT_HEAP_FREE",
		Nodes: []*ast.Node{{Kind: ast.SelfRef}},
	}
}

// synthesizeRelease builds a default RELEASE body for a class that didn't
// define one (§4.1): SUPER.RELEASE() for a derived class, or
// OBJECT_HEAP_FREE(_this) for a base class.
func (t *Table) synthesizeRelease(e *Entry) *ast.Node {
	body := emptyBlock()
	body.Nodes = append(body.Nodes, t.autoCleanupCall(e))
	return &ast.Node{Kind: ast.RoutineDecl, Name: "RELEASE", ClassName: e.Name, Body: body}
}

// injectCreateInitializers prepends member-initializer assignments (from
// inline member LETs) to create's body, before any user-authored
// SUPER.CREATE(...) call; if none exists and a parent exists, appends
// SUPER.CREATE(params...) after the initializers (§4.1).
func (t *Table) injectCreateInitializers(e *Entry, create *ast.Node, classDecl *ast.Node) {
	if create.Body == nil {
		create.Body = emptyBlock()
	}

	var initializers []*ast.Node
	for _, member := range classDecl.Members {
		if member.Kind != ast.MemberVarDecl || member.X == nil {
			continue
		}
		initializers = append(initializers, &ast.Node{
			Kind: ast.AssignStmt,
			X:    &ast.Node{Kind: ast.MemberAccess, Name: member.Name, ClassName: e.Name, X: &ast.Node{Kind: ast.SelfRef}},
			Y:    member.X,
		})
	}

	hasSuperCreate := false
	for _, s := range create.Body.Nodes {
		if s.Kind == ast.SuperCall && s.Name == "CREATE" {
			hasSuperCreate = true
			break
		}
	}

	newStmts := append(append([]*ast.Node{}, initializers...), create.Body.Nodes...)
	if !hasSuperCreate && e.ParentName != "" {
		var args []*ast.Node
		for _, p := range create.Params {
			args = append(args, &ast.Node{Kind: ast.VarAccess, Name: p.Name})
		}
		newStmts = append(newStmts, &ast.Node{Kind: ast.SuperCall, Name: "CREATE", Nodes: args})
	}
	create.Body.Nodes = newStmts
}

func emptyBlock() *ast.Node { return &ast.Node{Kind: ast.Block} }

func appendStmt(body *ast.Node, stmt *ast.Node) *ast.Node {
	if body == nil {
		body = emptyBlock()
	}
	body.Nodes = append(body.Nodes, stmt)
	return body
}

// FindMethod resolves simpleName starting at class name, per member-access
// resolution (§4.2). ok is false if no class or method by that name exists.
func (t *Table) FindMethod(className, simpleName string) (*MethodEntry, bool) {
	e, ok := t.entries[className]
	if !ok {
		return nil, false
	}
	m, ok := e.SimpleToMethod[simpleName]
	return m, ok
}

// FindParentMethod resolves simpleName starting at the *parent* of class
// name, used by SUPER call lowering (§4.6): the slot must come from the
// parent's findMethod result, not the current class's (which would be the
// overriding method calling itself).
func (t *Table) FindParentMethod(className, simpleName string) (*MethodEntry, bool) {
	e, ok := t.entries[className]
	if !ok || e.Parent == nil {
		return nil, false
	}
	m, ok := e.Parent.SimpleToMethod[simpleName]
	return m, ok
}

// VisibilityAllowed implements the §4.2 member visibility check: public is
// always allowed; private only from the same class; protected from the
// same class or a descendant.
func (t *Table) VisibilityAllowed(owner string, vis ast.Visibility, accessor string) bool {
	switch vis {
	case ast.Public:
		return true
	case ast.Private:
		return owner == accessor
	case ast.Protected:
		if owner == accessor {
			return true
		}
		return t.isDescendantOf(accessor, owner)
	}
	return false
}

func (t *Table) isDescendantOf(className, ancestor string) bool {
	for className != "" {
		e, ok := t.entries[className]
		if !ok {
			return false
		}
		if e.ParentName == ancestor {
			return true
		}
		className = e.ParentName
	}
	return false
}

// Validate cross-checks the universal class-layout invariants (§8 property
// 3), used when trace/debug mode is enabled.
func (t *Table) Validate() []error {
	var errs []error
	for name, e := range t.entries {
		for mn, mv := range e.MemberVariables {
			if mv.Offset < 8 {
				errs = append(errs, fmt.Errorf("class %s: member %s has offset %d < 8", name, mn, mv.Offset))
			}
		}
		if e.Parent != nil {
			if e.InstanceSize < e.Parent.InstanceSize {
				errs = append(errs, fmt.Errorf("class %s: instance_size %d < parent %s's %d", name, e.InstanceSize, e.ParentName, e.Parent.InstanceSize))
			}
			for mn, pmv := range e.Parent.MemberVariables {
				mv, ok := e.MemberVariables[mn]
				if !ok || mv.Offset != pmv.Offset {
					errs = append(errs, fmt.Errorf("class %s: inherited member %s offset mismatch", name, mn))
				}
			}
		}
		if len(e.VTableBlueprint) < 2 {
			errs = append(errs, fmt.Errorf("class %s: vtable blueprint has fewer than 2 slots", name))
		}
	}
	return errs
}
