// Package diag implements the single error sum type the core returns
// across every pass boundary (§7, §9 "Exceptions for control flow"):
// either a Fatal error aborts compilation immediately, or a list of
// collected SemanticErrors is rejected after analysis. Grounded on the
// teacher's frontend.go ValidateModule() []string collected-errors idiom,
// generalized to typed values instead of preformatted strings.
package diag

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/tinyrange/bcplc/internal/config"
)

// Phase names the compiler phase a SemanticError was raised in, used only
// for grouping in diagnostic output.
type Phase string

const (
	PhaseClassPass Phase = "class-pass"
	PhaseAnalyzer  Phase = "analyzer"
	PhaseCFG       Phase = "cfg"
)

// NewLogger builds the structured logger every pass traces through,
// mirroring the teacher's compilerDebug global and its trace-style
// fmt.Fprintf(os.Stderr, ...) calls in backend.go/main.go — generalized to
// zap's leveled, structured-field logging. trace_level 0..5 maps onto
// increasingly verbose zap levels; trace_enabled=false yields a no-op
// logger so call sites never need an enabled check of their own.
func NewLogger(cfg config.Config) *zap.Logger {
	if !cfg.TraceEnabled {
		return zap.NewNop()
	}
	zcfg := zap.NewDevelopmentConfig()
	zcfg.Level = zap.NewAtomicLevelAt(levelForTrace(cfg.TraceLevel))
	logger, err := zcfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// levelForTrace maps the spec's 0..5 trace_level onto zap's level scale:
// 0-1 warn-and-above, 2-3 info-and-above, 4-5 debug-and-above.
func levelForTrace(level int) zapcore.Level {
	switch {
	case level <= 1:
		return zapcore.WarnLevel
	case level <= 3:
		return zapcore.InfoLevel
	default:
		return zapcore.DebugLevel
	}
}

// SemanticError is one non-fatal finding collected during analysis (§4.2,
// §7). Compilation is rejected if any are collected, but collection
// continues past the first one.
type SemanticError struct {
	Phase    Phase
	Function string // enclosing function/method, if any
	Message  string
}

func (e SemanticError) Error() string {
	if e.Function != "" {
		return fmt.Sprintf("%s: in %s: %s", e.Phase, e.Function, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Phase, e.Message)
}

// Collector accumulates SemanticErrors across passes without aborting.
type Collector struct {
	errors []SemanticError
}

// Add records a semantic error.
func (c *Collector) Add(phase Phase, function, format string, args ...any) {
	c.errors = append(c.errors, SemanticError{
		Phase:    phase,
		Function: function,
		Message:  fmt.Sprintf(format, args...),
	})
}

// Errors returns every collected error, in the order recorded.
func (c *Collector) Errors() []SemanticError { return c.errors }

// HasErrors reports whether any semantic error was collected.
func (c *Collector) HasErrors() bool { return len(c.errors) > 0 }

// Outcome classifies how compilation ended.
type Outcome int

const (
	OK Outcome = iota
	OutcomeFatal
	OutcomeRejected
)

// Result is the core's return value: Result<(), {Fatal(msg), Rejected(list<SemanticError>)}>.
// Exactly one of Fatal/Rejected is non-empty when Outcome != OK.
type Result struct {
	Outcome  Outcome
	Fatal    error
	Rejected []SemanticError
}

// Ok constructs a successful Result.
func Ok() Result { return Result{Outcome: OK} }

// FatalResult constructs a Result carrying a fatal, un-recoverable error.
func FatalResult(err error) Result { return Result{Outcome: OutcomeFatal, Fatal: err} }

// RejectedResult constructs a Result carrying collected semantic errors.
func RejectedResult(errs []SemanticError) Result {
	return Result{Outcome: OutcomeRejected, Rejected: errs}
}

// IsOK reports whether compilation succeeded.
func (r Result) IsOK() bool { return r.Outcome == OK }

// Sentinel fatal-error kinds, named per §7's phase classification so
// callers can distinguish them with errors.Is.
var (
	ErrCircularInheritance = fmt.Errorf("circular inheritance")
	ErrFinalOverride       = fmt.Errorf("cannot override a final method")
	ErrStructural          = fmt.Errorf("malformed AST")
	ErrAllocatorInvariant  = fmt.Errorf("allocator invariant violated")
	ErrCodegenInvariant    = fmt.Errorf("codegen invariant violated")
)

// Wrap annotates a sentinel error with contextual detail, keeping
// errors.Is(result, ErrCircularInheritance) working after wrapping.
func Wrap(sentinel error, detail string) error {
	return fmt.Errorf("%w: %s", sentinel, detail)
}
