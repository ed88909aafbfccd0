package codegen

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/xplshn/vmc/pkg/config"
	"github.com/xplshn/vmc/pkg/ir"
)

var (
	ErrBadJumpTarget  = errors.New("jump target is not an instruction boundary")
	ErrLocalRange     = errors.New("local slot out of range")
	ErrSyscallArgs    = errors.New("too many syscall arguments")
	ErrNoEntry        = errors.New("no entry function")
	ErrFrameTooLarge  = errors.New("frame does not fit a 16-bit displacement")
	ErrCrossFunction  = errors.New("jump leaves the enclosing function")
	ErrUnsupportedSys = errors.New("syscall service has no host equivalent")
)

// GenError is a fatal lowering failure at a bytecode offset.
type GenError struct {
	Offset int
	Instr  ir.Instruction
	Err    error
	Detail string
}

func (e *GenError) Error() string {
	msg := fmt.Sprintf("offset %d (%s): %v", e.Offset, e.Instr, e.Err)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *GenError) Unwrap() error { return e.Err }

// Warning is a non-fatal lowering diagnostic. The driver decides whether to
// print it based on Kind.
type Warning struct {
	Kind   config.Warning
	Offset int
	Msg    string
}

func (w Warning) String() string { return fmt.Sprintf("offset %d: %s", w.Offset, w.Msg) }

// Output holds whatever a backend produced. The MIPS backend fills Lines,
// the QBE backend fills IR and Asm.
type Output struct {
	Lines    []string
	IR       string
	Asm      *bytes.Buffer
	Frame    Frame
	Warnings []Warning
}

// Backend is the interface that all code generation backends must implement.
type Backend interface {
	Generate(prog *ir.Program, cfg *config.Config) (*Output, error)
}

// New returns the backend selected by cfg.Target.
func New(cfg *config.Config) (Backend, error) {
	switch cfg.Target {
	case config.TargetMIPS, "":
		return NewMIPSBackend(), nil
	case config.TargetQBE:
		return NewQBEBackend(), nil
	}
	return nil, fmt.Errorf("unsupported target '%s'. Supported: '%s', '%s'", cfg.Target, config.TargetMIPS, config.TargetQBE)
}

// Frame describes the fixed-size activation record every function uses.
//
//	0            saved $fp
//	4            saved $s0
//	8            saved $s1
//	12           return address
//	16+4*i       local / argument slot i
//	StackBase    operand stack, Depth cells
type Frame struct {
	LocalSlots int
	StackBase  int
	Depth      int
	Size       int
}

const (
	frameSavedFP    = 0
	frameSavedS0    = 4
	frameSavedS1    = 8
	frameRetAddr    = 12
	frameLocals     = 16
	cellSize        = 4
	maxDisplacement = 1<<15 - 1
)

func NewFrame(prog *ir.Program, cfg *config.Config) (Frame, error) {
	depth := cfg.StackDepth
	if depth == 0 {
		depth = prog.MaxDepth
	}
	if depth == 0 {
		depth = ir.EstimateDepth(prog.Instructions)
	}
	f := Frame{
		LocalSlots: cfg.LocalSlots,
		StackBase:  frameLocals + cellSize*cfg.LocalSlots,
		Depth:      depth,
	}
	f.Size = align8(f.StackBase + cellSize*depth)
	if f.Size > maxDisplacement {
		return f, fmt.Errorf("%w: %d bytes (%d locals, depth %d)", ErrFrameTooLarge, f.Size, f.LocalSlots, f.Depth)
	}
	return f, nil
}

// LocalOffset is the frame offset of local slot n.
func (f Frame) LocalOffset(n int) int { return frameLocals + cellSize*n }

func align8(n int) int { return (n + 7) &^ 7 }
