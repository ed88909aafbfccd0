// Package ir defines the format-independent instruction list shared by the
// decoder, the symbol resolver and the backends.
package ir

import (
	"fmt"
	"strings"
)

// Op is the closed set of stack-machine operations. Values outside
// [0, OpCount) are unrecognized and lowered to a nop with a warning.
type Op int

const (
	OpIConst Op = iota // push Operands[0]
	OpIAdd
	OpInvoke // call Operands[0] with Operands[1] argument cells
	OpRet
	OpPrint // pop and print as a decimal line
	OpPop
	OpISub
	OpIMul
	OpILt
	OpJmp  // Operands[0] is a bytecode offset
	OpJmpZ // pop, jump when zero
	OpLoad // push local Operands[0]
	OpStore
	OpIDiv
	OpIEq
	OpIGt
	OpJmpNZ
	OpDup
	OpSwap
	OpNot
	OpAnd
	OpOr
	OpXor
	OpShl
	OpShr
	OpSyscall // service Operands[0], Operands[1] argument cells
	OpNewArray
	OpNewStr
	OpIALoad
	OpIAStore
	OpBALoad
	OpBAStore
	OpEntry  // marker: program entry point
	OpGlobal // marker: globally visible symbol
	OpCount
)

// Layout describes how an instruction's operands are stored in bytecode.
type Layout int

const (
	LayoutNone     Layout = iota
	LayoutWord            // one little-endian int32
	LayoutHalf            // one little-endian uint16
	LayoutHalfPair        // two little-endian uint16
)

// Size is the operand byte count that follows the opcode.
func (l Layout) Size() int {
	switch l {
	case LayoutWord, LayoutHalfPair:
		return 4
	case LayoutHalf:
		return 2
	default:
		return 0
	}
}

func (l Layout) Operands() int {
	switch l {
	case LayoutWord, LayoutHalf:
		return 1
	case LayoutHalfPair:
		return 2
	default:
		return 0
	}
}

type opInfo struct {
	name   string
	layout Layout
	marker bool
}

var ops = [OpCount]opInfo{
	OpIConst:   {"ICONST", LayoutWord, false},
	OpIAdd:     {"IADD", LayoutNone, false},
	OpInvoke:   {"INVOKE", LayoutHalfPair, false},
	OpRet:      {"RET", LayoutNone, false},
	OpPrint:    {"PRINT", LayoutNone, false},
	OpPop:      {"POP", LayoutNone, false},
	OpISub:     {"ISUB", LayoutNone, false},
	OpIMul:     {"IMUL", LayoutNone, false},
	OpILt:      {"ILT", LayoutNone, false},
	OpJmp:      {"JMP", LayoutWord, false},
	OpJmpZ:     {"JMPZ", LayoutWord, false},
	OpLoad:     {"LOAD", LayoutHalf, false},
	OpStore:    {"STORE", LayoutHalf, false},
	OpIDiv:     {"IDIV", LayoutNone, false},
	OpIEq:      {"IEQ", LayoutNone, false},
	OpIGt:      {"IGT", LayoutNone, false},
	OpJmpNZ:    {"JMPNZ", LayoutWord, false},
	OpDup:      {"DUP", LayoutNone, false},
	OpSwap:     {"SWAP", LayoutNone, false},
	OpNot:      {"NOT", LayoutNone, false},
	OpAnd:      {"AND", LayoutNone, false},
	OpOr:       {"OR", LayoutNone, false},
	OpXor:      {"XOR", LayoutNone, false},
	OpShl:      {"SHL", LayoutNone, false},
	OpShr:      {"SHR", LayoutNone, false},
	OpSyscall:  {"SYSCALL", LayoutHalfPair, false},
	OpNewArray: {"NEWARRAY", LayoutNone, false},
	OpNewStr:   {"NEWSTR", LayoutNone, false},
	OpIALoad:   {"IALOAD", LayoutNone, false},
	OpIAStore:  {"IASTORE", LayoutNone, false},
	OpBALoad:   {"BALOAD", LayoutNone, false},
	OpBAStore:  {"BASTORE", LayoutNone, false},
	OpEntry:    {"ENTRY", LayoutNone, true},
	OpGlobal:   {"GLOBAL", LayoutNone, true},
}

// Valid reports whether o is a known operation or marker.
func (o Op) Valid() bool { return o >= 0 && o < OpCount }

func (o Op) String() string {
	if !o.Valid() {
		return fmt.Sprintf("Op(%d)", int(o))
	}
	return ops[o].name
}

// IsMarker reports whether o was inserted by symbol resolution and has no
// bytecode of its own.
func (o Op) IsMarker() bool { return o.Valid() && ops[o].marker }

// LayoutOf is the single source of operand widths, shared by the decoder and
// every stage that does byte-offset accounting.
func LayoutOf(o Op) Layout {
	if !o.Valid() {
		return LayoutNone
	}
	return ops[o].layout
}

// Width returns the number of bytecode bytes o occupies, opcode included.
// Markers and unknown ops occupy none.
func Width(o Op) int {
	if !o.Valid() || ops[o].marker {
		return 0
	}
	return 1 + ops[o].layout.Size()
}

// IsJump reports whether o carries a bytecode offset as its first operand.
func IsJump(o Op) bool {
	switch o {
	case OpJmp, OpJmpZ, OpJmpNZ, OpInvoke:
		return true
	}
	return false
}

// Instruction is one decoded bytecode instruction or a marker.
type Instruction struct {
	Op Op
	// Operands holds the decoded operand fields in bytecode order. Half
	// fields are zero-extended.
	Operands []int32
	// Symbol names the symbol a marker was made for. Empty otherwise.
	Symbol string
}

// Operand returns operand i, or 0 when the instruction has fewer.
func (in Instruction) Operand(i int) int32 {
	if i < 0 || i >= len(in.Operands) {
		return 0
	}
	return in.Operands[i]
}

func (in Instruction) String() string {
	var sb strings.Builder
	sb.WriteString(in.Op.String())
	for _, v := range in.Operands {
		fmt.Fprintf(&sb, " %d", v)
	}
	if in.Symbol != "" {
		fmt.Fprintf(&sb, " %q", in.Symbol)
	}
	return sb.String()
}

// Program is the augmented instruction list handed to a backend.
// It is built once and not modified afterwards.
type Program struct {
	Instructions []Instruction
	// MaxDepth is the operand stack depth to reserve per frame. Zero lets
	// the backend estimate it.
	MaxDepth int
}

// Offsets returns the bytecode offset of every instruction in list. Markers
// share the offset of the instruction that follows them.
func Offsets(list []Instruction) []int {
	offs := make([]int, len(list))
	off := 0
	for i, in := range list {
		offs[i] = off
		off += Width(in.Op)
	}
	return offs
}

// Size is the total bytecode size of list, header excluded.
func Size(list []Instruction) int {
	n := 0
	for _, in := range list {
		n += Width(in.Op)
	}
	return n
}
