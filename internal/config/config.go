// Package config defines the compiler's configuration record (§6). Per the
// §9 "global singletons" design note, this is an explicit struct passed by
// value into compiler.Compile rather than a process-wide singleton —
// the teacher's main.go instead mutates package-level globals
// (targetGOOS/targetGOARCH/...) from its flag loop, which this design note
// explicitly asks a reimplementer to avoid.
package config

// Config is the small configuration record driving the core (§6).
type Config struct {
	JITMode              bool
	DataSegmentBaseAddr  uint64
	BoundsCheckingEnabled bool
	TraceEnabled         bool
	TraceLevel           int // 0..5
	SAMMEnabled          bool
}

// Default returns the static-mode, non-tracing, legacy-cleanup default
// configuration.
func Default() Config {
	return Config{
		JITMode:               false,
		BoundsCheckingEnabled: false,
		TraceEnabled:          false,
		TraceLevel:            0,
		SAMMEnabled:           false,
	}
}

// Validate enforces the §6 invariant that JIT mode requires a non-zero data
// segment base address before code emission.
func (c Config) Validate() error {
	if c.JITMode && c.DataSegmentBaseAddr == 0 {
		return errJITBaseAddr
	}
	if c.TraceLevel < 0 || c.TraceLevel > 5 {
		return errTraceLevel
	}
	return nil
}

var (
	errJITBaseAddr = configError("jit_mode requires a non-zero data_segment_base_addr")
	errTraceLevel  = configError("trace_level must be in 0..5")
)

type configError string

func (e configError) Error() string { return string(e) }
