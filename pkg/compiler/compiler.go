// Package compiler wires the stages together: decode, resolve symbols,
// lower and assemble.
package compiler

import (
	"fmt"
	"io"

	"github.com/xplshn/vmc/pkg/asm"
	"github.com/xplshn/vmc/pkg/bytecode"
	"github.com/xplshn/vmc/pkg/codegen"
	"github.com/xplshn/vmc/pkg/config"
	"github.com/xplshn/vmc/pkg/container"
	"github.com/xplshn/vmc/pkg/emu"
	"github.com/xplshn/vmc/pkg/ir"
	"github.com/xplshn/vmc/pkg/symbols"
)

type Result struct {
	Format   bytecode.Format
	Decoded  []ir.Instruction
	Program  *ir.Program
	Dropped  []symbols.Entry
	Output   *codegen.Output
	Machine  *asm.Program // nil unless the MIPS backend ran
	Warnings []codegen.Warning
}

// Compile runs the whole pipeline over a code section and its symbols.
func Compile(code []byte, syms []symbols.Entry, cfg *config.Config) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	list, format, err := bytecode.Decode(code)
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	res := &Result{Format: format, Decoded: list}

	resolved := symbols.Resolve(list, syms, cfg.EntryNames)
	res.Program, res.Dropped = resolved.Program, resolved.Dropped
	for _, s := range resolved.Dropped {
		res.Warnings = append(res.Warnings, codegen.Warning{
			Kind:   config.WarnDroppedSymbol,
			Offset: int(s.Address),
			Msg:    fmt.Sprintf("symbol %q at %d does not start an instruction, no marker emitted", s.Name, s.Address),
		})
	}

	res.Program.MaxDepth = cfg.StackDepth
	if res.Program.MaxDepth == 0 {
		res.Program.MaxDepth = ir.EstimateDepth(res.Program.Instructions)
	}

	backend, err := codegen.New(cfg)
	if err != nil {
		return nil, err
	}
	out, err := backend.Generate(res.Program, cfg)
	if err != nil {
		return nil, fmt.Errorf("codegen: %w", err)
	}
	res.Output = out
	res.Warnings = append(res.Warnings, out.Warnings...)

	if cfg.Target != config.TargetMIPS {
		return res, nil
	}
	if res.Machine, err = Assemble(out.Lines, cfg); err != nil {
		return nil, fmt.Errorf("assemble: %w", err)
	}
	return res, nil
}

func CompileContainer(c *container.Container, cfg *config.Config) (*Result, error) {
	return Compile(c.Code, c.Symbols, cfg)
}

// Assemble runs the assembler with the switches in cfg.
func Assemble(lines []string, cfg *config.Config) (*asm.Program, error) {
	a := asm.New()
	a.ElideLowHalf = cfg.IsFeatureEnabled(config.FeatLaElide)
	return a.Assemble(lines)
}

// Run executes assembled words and returns the exit status.
func Run(words []uint32, maxSteps int, stdout io.Writer) (int32, error) {
	cpu := emu.New(words)
	cpu.Output = stdout
	if err := cpu.Run(maxSteps); err != nil {
		return 0, err
	}
	return cpu.ExitCode, nil
}
