// Command bcplc is a thin harness over internal/compiler: it reads a JSON
// AST, builds a config.Config from flags, runs the core, and writes out the
// emitted sections (§6). It does not parse BCPL source itself and does not
// write a linkable object file (§1 Non-goals) — both are left to whatever
// front end or linker produces/consumes these artifacts.
//
// Grounded on the teacher's main.go argv-driven flag loop, rebuilt on
// cobra/pflag per the pack's compiler-CLI precedent (raymyers/ralph-cc), and
// fatih/color for diagnostics (kanso's CLI/LSP tooling).
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/tinyrange/bcplc/internal/ast"
	"github.com/tinyrange/bcplc/internal/compiler"
	"github.com/tinyrange/bcplc/internal/config"
	"github.com/tinyrange/bcplc/internal/diag"
)

var (
	flagJIT          bool
	flagDataBaseAddr uint64
	flagBoundsCheck  bool
	flagTrace        bool
	flagTraceLevel   int
	flagSAMM         bool

	flagOutText   string
	flagOutRoData string
	flagOutData   string
)

func main() {
	root := &cobra.Command{
		Use:   "bcplc <input.json>",
		Short: "Compile a BCPL-family AST to ARM64 machine code",
		Args:  cobra.ExactArgs(1),
		RunE:  run,
	}

	flags := root.Flags()
	flags.BoolVar(&flagJIT, "jit", false, "emit positions relative to --data-base for in-process JIT mapping")
	flags.Uint64Var(&flagDataBaseAddr, "data-base", 0, "data segment base address, required when --jit is set")
	flags.BoolVar(&flagBoundsCheck, "bounds-check", false, "enable runtime array bounds checking")
	flags.BoolVar(&flagTrace, "trace", false, "enable compiler pass trace logging")
	flags.IntVar(&flagTraceLevel, "trace-level", 0, "trace verbosity, 0..5")
	flags.BoolVar(&flagSAMM, "samm", false, "enable scope-aware memory management (SAMM) cleanup")
	flags.StringVar(&flagOutText, "out-text", "", "path to write the .text section (default: stdout summary only)")
	flags.StringVar(&flagOutRoData, "out-rodata", "", "path to write the .rodata section")
	flags.StringVar(&flagOutData, "out-data", "", "path to write the .data section")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	raw, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading %s: %w", args[0], err)
	}

	var prog ast.Node
	if err := json.Unmarshal(raw, &prog); err != nil {
		return fmt.Errorf("decoding AST: %w", err)
	}

	cfg := config.Config{
		JITMode:               flagJIT,
		DataSegmentBaseAddr:   flagDataBaseAddr,
		BoundsCheckingEnabled: flagBoundsCheck,
		TraceEnabled:          flagTrace,
		TraceLevel:            flagTraceLevel,
		SAMMEnabled:           flagSAMM,
	}

	out, result := compiler.Compile(&prog, cfg)
	if !result.IsOK() {
		printDiagnostics(result)
		return fmt.Errorf("compilation failed")
	}

	fmt.Printf("%s  text=%d bytes  rodata=%d bytes  data=%d bytes\n",
		color.GreenString("ok"), len(out.Text), len(out.RoData), len(out.Data))

	if err := writeSection(flagOutText, out.Text); err != nil {
		return err
	}
	if err := writeSection(flagOutRoData, out.RoData); err != nil {
		return err
	}
	if err := writeSection(flagOutData, out.Data); err != nil {
		return err
	}
	return nil
}

func writeSection(path string, data []byte) error {
	if path == "" {
		return nil
	}
	return os.WriteFile(path, data, 0o644)
}

func printDiagnostics(result diag.Result) {
	if result.Outcome == diag.OutcomeFatal {
		fmt.Fprintf(os.Stderr, "%s %v\n", color.RedString("fatal:"), result.Fatal)
		return
	}
	for _, e := range result.Rejected {
		fmt.Fprintf(os.Stderr, "%s %s\n", color.RedString("error:"), e.Error())
	}
}
