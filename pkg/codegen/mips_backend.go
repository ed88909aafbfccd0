package codegen

import (
	"fmt"

	"github.com/xplshn/vmc/pkg/asm"
	"github.com/xplshn/vmc/pkg/config"
	"github.com/xplshn/vmc/pkg/ir"
	"github.com/xplshn/vmc/pkg/mips"
)

// mipsBackend lowers the augmented instruction list to MIPS32 assembly
// lines. The operand stack of each frame lives in memory at $s0 and $s1
// holds the byte offset of the next free cell.
type mipsBackend struct {
	cfg      *config.Config
	frame    Frame
	funcs    *funcTable
	lines    []string
	warns    []Warning
	regs     scratch
	symbols  map[string]bool
	entryRet bool
}

func NewMIPSBackend() Backend { return &mipsBackend{} }

func (b *mipsBackend) Generate(prog *ir.Program, cfg *config.Config) (*Output, error) {
	*b = mipsBackend{cfg: cfg, symbols: map[string]bool{"main": true}}

	frame, err := NewFrame(prog, cfg)
	if err != nil {
		return nil, err
	}
	b.frame = frame

	if b.funcs, err = analyze(prog, cfg); err != nil {
		return nil, err
	}

	b.prologue()
	for i, in := range prog.Instructions {
		if err := b.lower(i, in); err != nil {
			return nil, err
		}
		if n := b.regs.live(); n != 0 {
			panic(fmt.Sprintf("codegen: %d scratch registers leaked by %s", n, in))
		}
	}
	if !b.entryRet || b.entryLabel() == "L_exit" || fallsThrough(prog.Instructions) {
		b.epilogue()
	}

	return &Output{Lines: b.lines, Frame: frame, Warnings: b.warns}, nil
}

func (b *mipsBackend) emit(format string, args ...interface{}) {
	b.lines = append(b.lines, "\t"+fmt.Sprintf(format, args...))
}

func (b *mipsBackend) label(name string) { b.lines = append(b.lines, name+":") }

func (b *mipsBackend) comment(format string, args ...interface{}) {
	b.lines = append(b.lines, "\t# "+fmt.Sprintf(format, args...))
}

func (b *mipsBackend) warn(kind config.Warning, off int, format string, args ...interface{}) {
	b.warns = append(b.warns, Warning{Kind: kind, Offset: off, Msg: fmt.Sprintf(format, args...)})
}

func (b *mipsBackend) entryLabel() string {
	if e := b.funcs.entry; e != nil && b.funcs.isBoundary(e.start) {
		return fmt.Sprintf("L%d", e.start)
	}
	return "L_exit"
}

func (b *mipsBackend) prologue() {
	b.emit(".text")
	b.emit(".globl main")
	b.label("main")
	b.emit("la $sp, %#x", b.cfg.StackTop)
	b.emit("addiu $sp, $sp, %d", -b.frame.Size)
	b.emit("move $fp, $sp")
	b.emit("addiu $s0, $fp, %d", b.frame.StackBase)
	b.emit("move $s1, $zero")
	b.emit("j %s", b.entryLabel())
}

// epilogue catches control falling off the end of the program. It exits the
// way an entry RET does.
func (b *mipsBackend) epilogue() {
	b.label("L_exit")
	b.exit("L_exit_status")
}

// exit terminates the program with the top of the operand stack, or 0 when
// the stack is empty.
func (b *mipsBackend) exit(status string) {
	b.emit("move $a0, $zero")
	b.emit("beq $s1, $zero, %s", status)
	b.popInto(mips.A0)
	b.label(status)
	b.emit("li $v0, %d", mips.SysExit2)
	b.emit("syscall")
}

func fallsThrough(list []ir.Instruction) bool {
	for i := len(list) - 1; i >= 0; i-- {
		if list[i].Op.IsMarker() {
			continue
		}
		return list[i].Op != ir.OpRet && list[i].Op != ir.OpJmp
	}
	return false
}

func (b *mipsBackend) push(sc *scope, r mips.Register) {
	a := sc.get()
	b.emit("addu %s, $s0, $s1", a)
	b.emit("sw %s, 0(%s)", r, a)
	b.emit("addiu $s1, $s1, 4")
}

func (b *mipsBackend) popInto(r mips.Register) {
	b.emit("addiu $s1, $s1, -4")
	b.emit("addu %s, $s0, $s1", r)
	b.emit("lw %s, 0(%s)", r, r)
}

func (b *mipsBackend) pop(sc *scope) mips.Register {
	r := sc.get()
	b.popInto(r)
	return r
}

func (b *mipsBackend) fail(off int, in ir.Instruction, err error, format string, args ...interface{}) error {
	return &GenError{Offset: off, Instr: in, Err: err, Detail: fmt.Sprintf(format, args...)}
}

func (b *mipsBackend) target(off int, in ir.Instruction) (int, error) {
	t := int(in.Operand(0))
	if in.Op == ir.OpInvoke {
		t = int(uint16(in.Operand(0)))
	}
	if !b.funcs.isBoundary(t) {
		return 0, b.fail(off, in, ErrBadJumpTarget, "target %d", t)
	}
	return t, nil
}

var binaryOps = map[ir.Op]string{
	ir.OpIAdd: "addu",
	ir.OpISub: "subu",
	ir.OpAnd:  "and",
	ir.OpOr:   "or",
	ir.OpXor:  "xor",
	ir.OpILt:  "slt",
	ir.OpIEq:  "seq",
}

func (b *mipsBackend) lower(i int, in ir.Instruction) error {
	off := b.funcs.offsets[i]

	switch in.Op {
	case ir.OpEntry:
		b.comment("entry: %s", in.Symbol)
		return nil
	case ir.OpGlobal:
		b.global(off, in)
		return nil
	}
	if !in.Op.Valid() {
		// Unknown ops occupy no bytecode, so they get no label of their own.
		b.emit("nop\t\t# unrecognized instruction %s", in)
		b.warn(config.WarnUnknownOp, off, "unrecognized instruction %s lowered to nop", in)
		return nil
	}

	b.lines = append(b.lines, fmt.Sprintf("L%d:\t\t# %s", off, in))
	sc := b.regs.open()
	defer sc.release()

	switch in.Op {
	case ir.OpIConst:
		r := sc.get()
		b.emit("li %s, %d", r, in.Operand(0))
		b.push(sc, r)

	case ir.OpIAdd, ir.OpISub, ir.OpAnd, ir.OpOr, ir.OpXor, ir.OpILt, ir.OpIEq:
		rb := b.pop(sc)
		ra := b.pop(sc)
		b.emit("%s %s, %s, %s", binaryOps[in.Op], ra, ra, rb)
		b.push(sc, ra)

	case ir.OpIGt:
		rb := b.pop(sc)
		ra := b.pop(sc)
		b.emit("slt %s, %s, %s", ra, rb, ra)
		b.push(sc, ra)

	case ir.OpIMul, ir.OpIDiv:
		rb := b.pop(sc)
		ra := b.pop(sc)
		if in.Op == ir.OpIMul {
			b.emit("mult %s, %s", ra, rb)
		} else {
			b.emit("div %s, %s", ra, rb)
		}
		b.emit("mflo %s", ra)
		b.push(sc, ra)

	case ir.OpShl, ir.OpShr:
		rb := b.pop(sc)
		ra := b.pop(sc)
		if in.Op == ir.OpShl {
			b.emit("sllv %s, %s, %s", ra, ra, rb)
		} else {
			b.emit("srav %s, %s, %s", ra, ra, rb)
		}
		b.push(sc, ra)

	case ir.OpNot:
		r := b.pop(sc)
		b.emit("sltiu %s, %s, 1", r, r)
		b.push(sc, r)

	case ir.OpDup:
		a, v := sc.get(), sc.get()
		b.emit("addu %s, $s0, $s1", a)
		b.emit("lw %s, -4(%s)", v, a)
		b.emit("sw %s, 0(%s)", v, a)
		b.emit("addiu $s1, $s1, 4")

	case ir.OpSwap:
		a, x, y := sc.get(), sc.get(), sc.get()
		b.emit("addu %s, $s0, $s1", a)
		b.emit("lw %s, -4(%s)", x, a)
		b.emit("lw %s, -8(%s)", y, a)
		b.emit("sw %s, -8(%s)", x, a)
		b.emit("sw %s, -4(%s)", y, a)

	case ir.OpPop:
		b.emit("addiu $s1, $s1, -4")

	case ir.OpLoad, ir.OpStore:
		n := int(uint16(in.Operand(0)))
		if n >= b.frame.LocalSlots {
			return b.fail(off, in, ErrLocalRange, "slot %d, frame has %d", n, b.frame.LocalSlots)
		}
		if in.Op == ir.OpLoad {
			r := sc.get()
			b.emit("lw %s, %d($fp)", r, b.frame.LocalOffset(n))
			b.push(sc, r)
		} else {
			r := b.pop(sc)
			b.emit("sw %s, %d($fp)", r, b.frame.LocalOffset(n))
		}

	case ir.OpJmp:
		t, err := b.target(off, in)
		if err != nil {
			return err
		}
		b.emit("j L%d", t)

	case ir.OpJmpZ, ir.OpJmpNZ:
		t, err := b.target(off, in)
		if err != nil {
			return err
		}
		r := b.pop(sc)
		if in.Op == ir.OpJmpZ {
			b.emit("beq %s, $zero, L%d", r, t)
		} else {
			b.emit("bne %s, $zero, L%d", r, t)
		}

	case ir.OpInvoke:
		return b.invoke(sc, off, in)

	case ir.OpRet:
		b.ret(sc, off)

	case ir.OpPrint:
		b.popInto(mips.A0)
		b.emit("li $v0, %d", mips.SysPrintInt)
		b.emit("syscall")
		b.emit("li $a0, 10")
		b.emit("li $v0, %d", mips.SysPrintChar)
		b.emit("syscall")

	case ir.OpSyscall:
		service, argc := int(uint16(in.Operand(0))), int(uint16(in.Operand(1)))
		if argc > 4 {
			return b.fail(off, in, ErrSyscallArgs, "%d arguments, at most 4 fit in $a0-$a3", argc)
		}
		for k := argc - 1; k >= 0; k-- {
			b.popInto(mips.A0 + mips.Register(k))
		}
		b.emit("li $v0, %d", service)
		b.emit("syscall")
		b.push(sc, mips.V0)

	case ir.OpNewArray, ir.OpNewStr:
		b.popInto(mips.A0)
		if in.Op == ir.OpNewArray {
			b.emit("sll $a0, $a0, 2")
		}
		b.emit("li $v0, %d", mips.SysSbrk)
		b.emit("syscall")
		b.push(sc, mips.V0)

	case ir.OpIALoad, ir.OpBALoad:
		idx := b.pop(sc)
		base := b.pop(sc)
		if in.Op == ir.OpIALoad {
			b.emit("sll %s, %s, 2", idx, idx)
		}
		b.emit("addu %s, %s, %s", base, base, idx)
		if in.Op == ir.OpIALoad {
			b.emit("lw %s, 0(%s)", base, base)
		} else {
			b.emit("lbu %s, 0(%s)", base, base)
		}
		b.push(sc, base)

	case ir.OpIAStore, ir.OpBAStore:
		val := b.pop(sc)
		idx := b.pop(sc)
		base := b.pop(sc)
		if in.Op == ir.OpIAStore {
			b.emit("sll %s, %s, 2", idx, idx)
		}
		b.emit("addu %s, %s, %s", base, base, idx)
		if in.Op == ir.OpIAStore {
			b.emit("sw %s, 0(%s)", val, base)
		} else {
			b.emit("sb %s, 0(%s)", val, base)
		}

	default:
		b.emit("nop\t\t# no lowering for %s", in)
		b.warn(config.WarnUnknownOp, off, "no lowering for %s, emitted nop", in)
	}
	return nil
}

func (b *mipsBackend) global(off int, in ir.Instruction) {
	name := in.Symbol
	switch {
	case !asm.IsIdentifier(name) || isReservedLabel(name):
		b.comment("global %q (not a usable label)", name)
		b.warn(config.WarnSymbolName, off, "global symbol %q can not be used as a label", name)
	case b.symbols[name]:
		b.comment("global %q (duplicate)", name)
		b.warn(config.WarnSymbolName, off, "global symbol %q defined more than once", name)
	default:
		b.symbols[name] = true
		b.emit(".globl %s", name)
		b.label(name)
	}
}

// isReservedLabel reports names that collide with generated labels.
func isReservedLabel(name string) bool {
	if name == "main" || name == "L_exit" || name == "L_exit_status" {
		return true
	}
	return len(name) > 1 && name[0] == 'L' && name[1] >= '0' && name[1] <= '9'
}

// invoke builds the callee frame below $sp, moves the argument cells into
// its local slots and transfers control. The callee's RET comes back to
// L<off>_ret with the caller's state restored.
func (b *mipsBackend) invoke(sc *scope, off int, in ir.Instruction) error {
	t, err := b.target(off, in)
	if err != nil {
		return err
	}
	argc := int(uint16(in.Operand(1)))
	if argc > b.frame.LocalSlots {
		return b.fail(off, in, ErrLocalRange, "%d arguments, frame has %d slots", argc, b.frame.LocalSlots)
	}
	ret := fmt.Sprintf("L%d_ret", off)

	nf, tmp := sc.get(), sc.get()
	b.emit("addiu %s, $sp, %d", nf, -b.frame.Size)
	b.emit("sw $fp, %d(%s)", frameSavedFP, nf)
	b.emit("sw $s0, %d(%s)", frameSavedS0, nf)
	if argc > 0 {
		b.emit("addiu $s1, $s1, %d", -cellSize*argc)
	}
	b.emit("sw $s1, %d(%s)", frameSavedS1, nf)
	b.emit("la %s, %s", tmp, ret)
	b.emit("sw %s, %d(%s)", tmp, frameRetAddr, nf)
	if argc > 0 {
		src := sc.get()
		b.emit("addu %s, $s0, $s1", src)
		for k := 0; k < argc; k++ {
			b.emit("lw %s, %d(%s)", tmp, cellSize*k, src)
			b.emit("sw %s, %d(%s)", tmp, b.frame.LocalOffset(k), nf)
		}
	}
	b.emit("move $sp, %s", nf)
	b.emit("move $fp, %s", nf)
	b.emit("addiu $s0, $fp, %d", b.frame.StackBase)
	b.emit("move $s1, $zero")
	b.emit("j L%d", t)
	b.label(ret)
	return nil
}

func (b *mipsBackend) ret(sc *scope, off int) {
	fn := b.funcs.owner(off)
	if fn != nil && fn.entry {
		b.entryRet = true
		b.exit(fmt.Sprintf("L%d_exit", off))
		return
	}

	restore := fmt.Sprintf("L%d_restore", off)
	done := fmt.Sprintf("L%d_done", off)
	b.emit("move $v1, $zero")
	b.emit("beq $s1, $zero, %s", restore)
	b.popInto(mips.V0)
	b.emit("li $v1, 1")
	b.label(restore)
	b.emit("lw $ra, %d($fp)", frameRetAddr)
	b.emit("lw $s1, %d($fp)", frameSavedS1)
	b.emit("lw $s0, %d($fp)", frameSavedS0)
	b.emit("addiu $sp, $fp, %d", b.frame.Size)
	b.emit("lw $fp, %d($fp)", frameSavedFP)
	b.emit("beq $v1, $zero, %s", done)
	b.push(sc, mips.V0)
	b.label(done)
	b.emit("jr $ra")
}
