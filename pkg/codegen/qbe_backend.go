package codegen

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/xplshn/vmc/pkg/config"
	"github.com/xplshn/vmc/pkg/ir"
	"github.com/xplshn/vmc/pkg/mips"
)

// qbeBackend lowers each bytecode function to a QBE function operating on
// an alloc'd operand stack. Temporaries are reassigned freely; QBE rebuilds
// SSA form itself.
type qbeBackend struct {
	out   *strings.Builder
	prog  *ir.Program
	cfg   *config.Config
	funcs *funcTable
	frame Frame
	warns []Warning
	tmp   int

	// cell size and QBE type of one operand stack cell
	cell int
	ty   string
}

func NewQBEBackend() Backend { return &qbeBackend{} }

const (
	qbeFmtInt     = "vm_fmt_int"
	qbeFmtIntLine = "vm_fmt_int_nl"
	qbeFmtStr     = "vm_fmt_str"
)

// GenerateIR returns the QBE IL for prog without compiling it.
func (b *qbeBackend) GenerateIR(prog *ir.Program, cfg *config.Config) (string, []Warning, error) {
	var qbeIRBuilder strings.Builder
	*b = qbeBackend{out: &qbeIRBuilder, prog: prog, cfg: cfg, cell: cfg.WordSize, ty: cfg.WordType}
	if b.cell == 0 {
		b.cell, b.ty = 8, "l"
	}

	var err error
	if b.frame, err = NewFrame(prog, cfg); err != nil {
		return "", nil, err
	}
	if b.funcs, err = analyze(prog, cfg); err != nil {
		return "", nil, err
	}

	b.genData()
	for _, fn := range b.funcs.funcs {
		if err := b.genFunc(fn); err != nil {
			return "", nil, err
		}
	}
	b.genMain()
	return qbeIRBuilder.String(), b.warns, nil
}

func (b *qbeBackend) genData() {
	fmt.Fprintf(b.out, "data $%s = { b %s, b 0 }\n", qbeFmtInt, strconv.Quote(b.intVerb()))
	fmt.Fprintf(b.out, "data $%s = { b %s, b 0 }\n", qbeFmtIntLine, strconv.Quote(b.intVerb()+"\n"))
	fmt.Fprintf(b.out, "data $%s = { b %s, b 0 }\n", qbeFmtStr, strconv.Quote("%s"))
}

func (b *qbeBackend) intVerb() string {
	if b.ty == "l" {
		return "%ld"
	}
	return "%d"
}

func (b *qbeBackend) newTemp() string {
	b.tmp++
	return fmt.Sprintf("%%.t%d", b.tmp)
}

func (b *qbeBackend) emit(format string, args ...interface{}) {
	b.out.WriteString("\t")
	fmt.Fprintf(b.out, format, args...)
	b.out.WriteString("\n")
}

func (b *qbeBackend) block(format string, args ...interface{}) {
	b.out.WriteString("@")
	fmt.Fprintf(b.out, format, args...)
	b.out.WriteString("\n")
}

func funcSymbol(start int) string { return fmt.Sprintf("$vm_f%d", start) }

func (b *qbeBackend) genFunc(fn *function) error {
	list := b.prog.Instructions

	fmt.Fprintf(b.out, "\nfunction %s %s(l %%loc, l %%hasval) {\n", b.ty, funcSymbol(fn.start))
	b.block("start")
	fmt.Fprintf(b.out, "\t%%stk =l alloc%d %d\n", b.align(), b.cell*b.frame.Depth)
	b.emit("%%sp =l copy %%stk")
	for i := fn.first; i < fn.last; i++ {
		if list[i].Op == ir.OpInvoke {
			off := b.funcs.offsets[i]
			fmt.Fprintf(b.out, "\t%%call%d =l alloc%d %d\n", off, b.align(), b.cell*b.frame.LocalSlots)
			fmt.Fprintf(b.out, "\t%%hv%d =l alloc4 4\n", off)
		}
	}

	for i := fn.first; i < fn.last; i++ {
		if err := b.genInstr(fn, i, list[i]); err != nil {
			return err
		}
	}

	b.block("f%d_end", fn.start)
	b.ret(fmt.Sprintf("f%d_end", fn.start))
	b.out.WriteString("}\n")
	return nil
}

// ret returns the top of the operand stack, flagging through %hasval whether
// there was one. Falling off the end of a function returns the same way.
func (b *qbeBackend) ret(tag string) {
	empty := b.newTemp()
	b.emit("%s =w ceql %%sp, %%stk", empty)
	b.emit("jnz %s, @%s_none, @%s_val", empty, tag, tag)
	b.block("%s_val", tag)
	v := b.pop()
	b.emit("storew 1, %%hasval")
	b.emit("ret %s", v)
	b.block("%s_none", tag)
	b.emit("storew 0, %%hasval")
	b.emit("ret 0")
}

func (b *qbeBackend) align() int {
	if b.cell == 8 {
		return 8
	}
	return 4
}

// genMain exports the entry function as $main. A returned value becomes the
// process exit status.
func (b *qbeBackend) genMain() {
	entry := b.funcs.entry
	fmt.Fprintf(b.out, "\nexport function w $main() {\n")
	b.block("start")
	fmt.Fprintf(b.out, "\t%%loc =l alloc%d %d\n", b.align(), b.cell*b.frame.LocalSlots)
	b.emit("%%hv =l alloc4 4")
	b.emit("%%r =%s call %s(l %%loc, l %%hv)", b.ty, funcSymbol(entry.start))
	b.emit("%%h =w loadw %%hv")
	b.emit("jnz %%h, @value, @none")
	b.block("value")
	if b.ty == "l" {
		b.emit("%%rw =w copy %%r")
		b.emit("ret %%rw")
	} else {
		b.emit("ret %%r")
	}
	b.block("none")
	b.emit("ret 0")
	b.out.WriteString("}\n")
}

func (b *qbeBackend) op(base string) string { return base + b.ty }

func (b *qbeBackend) load() string  { return "load" + b.ty }
func (b *qbeBackend) store() string { return "store" + b.ty }

func (b *qbeBackend) push(v string) {
	b.emit("%s %s, %%sp", b.store(), v)
	b.emit("%%sp =l add %%sp, %d", b.cell)
}

func (b *qbeBackend) pop() string {
	t := b.newTemp()
	b.emit("%%sp =l sub %%sp, %d", b.cell)
	b.emit("%s =%s %s %%sp", t, b.ty, b.load())
	return t
}

// long widens a cell value for use as a pointer or size.
func (b *qbeBackend) long(v string) string {
	if b.ty == "l" {
		return v
	}
	t := b.newTemp()
	b.emit("%s =l extsw %s", t, v)
	return t
}

var qbeBinaryOps = map[ir.Op]string{
	ir.OpIAdd: "add",
	ir.OpISub: "sub",
	ir.OpIMul: "mul",
	ir.OpIDiv: "div",
	ir.OpAnd:  "and",
	ir.OpOr:   "or",
	ir.OpXor:  "xor",
	ir.OpShl:  "shl",
	ir.OpShr:  "sar",
}

var qbeCompareOps = map[ir.Op]string{
	ir.OpILt: "cslt",
	ir.OpIGt: "csgt",
	ir.OpIEq: "ceq",
}

func (b *qbeBackend) localTarget(fn *function, off int, in ir.Instruction) (int, error) {
	t := int(in.Operand(0))
	if !b.funcs.isBoundary(t) {
		return 0, &GenError{Offset: off, Instr: in, Err: ErrBadJumpTarget, Detail: fmt.Sprintf("target %d", t)}
	}
	if t < fn.start || t >= fn.end {
		return 0, &GenError{Offset: off, Instr: in, Err: ErrCrossFunction,
			Detail: fmt.Sprintf("target %d outside [%d, %d)", t, fn.start, fn.end)}
	}
	return t, nil
}

func (b *qbeBackend) genInstr(fn *function, i int, in ir.Instruction) error {
	off := b.funcs.offsets[i]
	switch in.Op {
	case ir.OpEntry:
		fmt.Fprintf(b.out, "# entry: %s\n", in.Symbol)
		return nil
	case ir.OpGlobal:
		fmt.Fprintf(b.out, "# global: %s\n", in.Symbol)
		return nil
	}
	if !in.Op.Valid() {
		fmt.Fprintf(b.out, "# unrecognized instruction %s\n", in)
		b.warns = append(b.warns, Warning{Kind: config.WarnUnknownOp, Offset: off,
			Msg: fmt.Sprintf("unrecognized instruction %s skipped", in)})
		return nil
	}

	b.block("L%d", off)
	fmt.Fprintf(b.out, "# %s\n", in)

	switch in.Op {
	case ir.OpIConst:
		b.push(strconv.Itoa(int(in.Operand(0))))

	case ir.OpIAdd, ir.OpISub, ir.OpIMul, ir.OpIDiv, ir.OpAnd, ir.OpOr, ir.OpXor, ir.OpShl, ir.OpShr:
		rb, ra := b.pop(), b.pop()
		r := b.newTemp()
		b.emit("%s =%s %s %s, %s", r, b.ty, qbeBinaryOps[in.Op], ra, rb)
		b.push(r)

	case ir.OpILt, ir.OpIGt, ir.OpIEq:
		rb, ra := b.pop(), b.pop()
		r := b.newTemp()
		b.emit("%s =%s %s %s, %s", r, b.ty, b.op(qbeCompareOps[in.Op]), ra, rb)
		b.push(r)

	case ir.OpNot:
		a := b.pop()
		r := b.newTemp()
		b.emit("%s =%s %s %s, 0", r, b.ty, b.op("ceq"), a)
		b.push(r)

	case ir.OpDup:
		p, v := b.newTemp(), b.newTemp()
		b.emit("%s =l sub %%sp, %d", p, b.cell)
		b.emit("%s =%s %s %s", v, b.ty, b.load(), p)
		b.push(v)

	case ir.OpSwap:
		p1, p2 := b.newTemp(), b.newTemp()
		x, y := b.newTemp(), b.newTemp()
		b.emit("%s =l sub %%sp, %d", p1, b.cell)
		b.emit("%s =l sub %%sp, %d", p2, 2*b.cell)
		b.emit("%s =%s %s %s", x, b.ty, b.load(), p1)
		b.emit("%s =%s %s %s", y, b.ty, b.load(), p2)
		b.emit("%s %s, %s", b.store(), x, p2)
		b.emit("%s %s, %s", b.store(), y, p1)

	case ir.OpPop:
		b.emit("%%sp =l sub %%sp, %d", b.cell)

	case ir.OpLoad, ir.OpStore:
		n := int(uint16(in.Operand(0)))
		if n >= b.frame.LocalSlots {
			return &GenError{Offset: off, Instr: in, Err: ErrLocalRange, Detail: fmt.Sprintf("slot %d, frame has %d", n, b.frame.LocalSlots)}
		}
		p := b.newTemp()
		b.emit("%s =l add %%loc, %d", p, n*b.cell)
		if in.Op == ir.OpLoad {
			v := b.newTemp()
			b.emit("%s =%s %s %s", v, b.ty, b.load(), p)
			b.push(v)
		} else {
			v := b.pop()
			b.emit("%s %s, %s", b.store(), v, p)
		}

	case ir.OpJmp:
		t, err := b.localTarget(fn, off, in)
		if err != nil {
			return err
		}
		b.emit("jmp @L%d", t)

	case ir.OpJmpZ, ir.OpJmpNZ:
		t, err := b.localTarget(fn, off, in)
		if err != nil {
			return err
		}
		v := b.pop()
		if in.Op == ir.OpJmpZ {
			b.emit("jnz %s, @L%d_f, @L%d", v, off, t)
		} else {
			b.emit("jnz %s, @L%d, @L%d_f", v, t, off)
		}
		b.block("L%d_f", off)

	case ir.OpInvoke:
		return b.genInvoke(off, in)

	case ir.OpRet:
		b.ret(fmt.Sprintf("L%d", off))

	case ir.OpPrint:
		v := b.pop()
		b.emit("call $printf(l $%s, ..., %s %s)", qbeFmtIntLine, b.ty, v)

	case ir.OpSyscall:
		return b.genSyscall(off, in)

	case ir.OpNewArray, ir.OpNewStr:
		n := b.long(b.pop())
		p := b.newTemp()
		if in.Op == ir.OpNewArray {
			b.emit("%s =l call $calloc(l %s, l 4)", p, n)
		} else {
			n1 := b.newTemp()
			b.emit("%s =l add %s, 1", n1, n)
			b.emit("%s =l call $calloc(l %s, l 1)", p, n1)
		}
		b.push(b.fromLong(p))

	case ir.OpIALoad, ir.OpBALoad:
		idx, base := b.long(b.pop()), b.long(b.pop())
		addr := b.elemAddr(base, idx, in.Op == ir.OpIALoad)
		v := b.newTemp()
		if in.Op == ir.OpIALoad {
			b.emit("%s =%s loadsw %s", v, b.ty, addr)
		} else {
			b.emit("%s =%s loadub %s", v, b.ty, addr)
		}
		b.push(v)

	case ir.OpIAStore, ir.OpBAStore:
		val := b.pop()
		idx, base := b.long(b.pop()), b.long(b.pop())
		addr := b.elemAddr(base, idx, in.Op == ir.OpIAStore)
		if in.Op == ir.OpIAStore {
			b.emit("storew %s, %s", val, addr)
		} else {
			b.emit("storeb %s, %s", val, addr)
		}
	}
	return nil
}

func (b *qbeBackend) fromLong(v string) string {
	if b.ty == "l" {
		return v
	}
	t := b.newTemp()
	b.emit("%s =w copy %s", t, v)
	return t
}

func (b *qbeBackend) elemAddr(base, idx string, word bool) string {
	if word {
		scaled := b.newTemp()
		b.emit("%s =l mul %s, 4", scaled, idx)
		idx = scaled
	}
	addr := b.newTemp()
	b.emit("%s =l add %s, %s", addr, base, idx)
	return addr
}

func (b *qbeBackend) genInvoke(off int, in ir.Instruction) error {
	t := int(uint16(in.Operand(0)))
	argc := int(uint16(in.Operand(1)))
	if argc > b.frame.LocalSlots {
		return &GenError{Offset: off, Instr: in, Err: ErrLocalRange, Detail: fmt.Sprintf("%d arguments, frame has %d slots", argc, b.frame.LocalSlots)}
	}

	if argc > 0 {
		b.emit("%%sp =l sub %%sp, %d", argc*b.cell)
	}
	for k := 0; k < argc; k++ {
		src, dst, v := b.newTemp(), b.newTemp(), b.newTemp()
		b.emit("%s =l add %%sp, %d", src, k*b.cell)
		b.emit("%s =%s %s %s", v, b.ty, b.load(), src)
		b.emit("%s =l add %%call%d, %d", dst, off, k*b.cell)
		b.emit("%s %s, %s", b.store(), v, dst)
	}

	r, h := b.newTemp(), b.newTemp()
	b.emit("%s =%s call %s(l %%call%d, l %%hv%d)", r, b.ty, funcSymbol(t), off, off)
	b.emit("%s =w loadw %%hv%d", h, off)
	b.emit("jnz %s, @L%d_push, @L%d_ret", h, off, off)
	b.block("L%d_push", off)
	b.push(r)
	b.block("L%d_ret", off)
	return nil
}

func (b *qbeBackend) genSyscall(off int, in ir.Instruction) error {
	service, argc := int(uint16(in.Operand(0))), int(uint16(in.Operand(1)))
	if argc > 4 {
		return &GenError{Offset: off, Instr: in, Err: ErrSyscallArgs, Detail: fmt.Sprintf("%d arguments", argc)}
	}
	args := make([]string, argc)
	for k := argc - 1; k >= 0; k-- {
		args[k] = b.pop()
	}
	arg := func(k int) string {
		if k < len(args) {
			return args[k]
		}
		return "0"
	}

	result := "0"
	switch service {
	case mips.SysPrintInt:
		b.emit("call $printf(l $%s, ..., %s %s)", qbeFmtInt, b.ty, arg(0))
	case mips.SysPrintString:
		b.emit("call $printf(l $%s, ..., l %s)", qbeFmtStr, b.long(arg(0)))
	case mips.SysPrintChar:
		w := arg(0)
		if b.ty == "l" && w != "0" {
			w = b.newTemp()
			b.emit("%s =w copy %s", w, arg(0))
		}
		b.emit("call $putchar(w %s)", w)
	case mips.SysSbrk:
		p := b.newTemp()
		b.emit("%s =l call $calloc(l %s, l 1)", p, b.long(arg(0)))
		result = b.fromLong(p)
	case mips.SysExit:
		b.emit("call $exit(w 0)")
	case mips.SysExit2:
		w := arg(0)
		if b.ty == "l" && w != "0" {
			w = b.newTemp()
			b.emit("%s =w copy %s", w, arg(0))
		}
		b.emit("call $exit(w %s)", w)
	default:
		return &GenError{Offset: off, Instr: in, Err: ErrUnsupportedSys, Detail: fmt.Sprintf("service %d", service)}
	}
	b.push(result)
	return nil
}
