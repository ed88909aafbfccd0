package asm

import (
	"math"
	"strconv"

	"github.com/xplshn/vmc/pkg/mips"
)

type Class int

const (
	ClassR Class = iota
	ClassI
	ClassJ
	ClassPseudo
)

func (c Class) String() string {
	switch c {
	case ClassR:
		return "R"
	case ClassI:
		return "I"
	case ClassJ:
		return "J"
	default:
		return "pseudo"
	}
}

type (
	sizeFunc   func(a *Assembler, ops []string) (int, error)
	encodeFunc func(e *encoder, ops []string, words int) ([]uint32, error)
)

// shape is consulted by both passes so that size and encoding can not
// disagree about how many words a line produces.
type shape struct {
	class  Class
	size   sizeFunc
	encode encodeFunc
}

type encoder struct {
	asm *Assembler
	pc  uint32
}

// ClassOf returns the instruction class of mnemonic.
func ClassOf(mnemonic string) (Class, bool) {
	sh, ok := shapes[mnemonic]
	if !ok {
		return 0, false
	}
	return sh.class, true
}

var shapes map[string]*shape

func init() {
	shapes = map[string]*shape{
		"add":  rType3(mips.FnADD),
		"addu": rType3(mips.FnADDU),
		"sub":  rType3(mips.FnSUB),
		"subu": rType3(mips.FnSUBU),
		"and":  rType3(mips.FnAND),
		"or":   rType3(mips.FnOR),
		"xor":  rType3(mips.FnXOR),
		"nor":  rType3(mips.FnNOR),
		"slt":  rType3(mips.FnSLT),
		"sltu": rType3(mips.FnSLTU),

		"sllv": rShiftVar(mips.FnSLLV),
		"srlv": rShiftVar(mips.FnSRLV),
		"srav": rShiftVar(mips.FnSRAV),
		"sll":  rShift(mips.FnSLL),
		"srl":  rShift(mips.FnSRL),
		"sra":  rShift(mips.FnSRA),

		"mult":  rPair(mips.FnMULT),
		"multu": rPair(mips.FnMULTU),
		"div":   rPair(mips.FnDIV),
		"divu":  rPair(mips.FnDIVU),
		"mfhi":  rMove(mips.FnMFHI),
		"mflo":  rMove(mips.FnMFLO),

		"jr":      {class: ClassR, size: one, encode: encodeJR},
		"jalr":    {class: ClassR, size: one, encode: encodeJALR},
		"syscall": {class: ClassR, size: one, encode: encodeSyscall},

		"addi":  iArith(mips.OpADDI, true),
		"addiu": iArith(mips.OpADDIU, true),
		"slti":  iArith(mips.OpSLTI, true),
		"sltiu": iArith(mips.OpSLTIU, true),
		"andi":  iArith(mips.OpANDI, false),
		"ori":   iArith(mips.OpORI, false),
		"xori":  iArith(mips.OpXORI, false),
		"lui":   {class: ClassI, size: one, encode: encodeLUI},

		"lb":  iMem(mips.OpLB),
		"lh":  iMem(mips.OpLH),
		"lw":  iMem(mips.OpLW),
		"lbu": iMem(mips.OpLBU),
		"lhu": iMem(mips.OpLHU),
		"sb":  iMem(mips.OpSB),
		"sh":  iMem(mips.OpSH),
		"sw":  iMem(mips.OpSW),

		"beq":  iBranch2(mips.OpBEQ),
		"bne":  iBranch2(mips.OpBNE),
		"blez": iBranch1(mips.OpBLEZ),
		"bgtz": iBranch1(mips.OpBGTZ),

		"j":   jType(mips.OpJ),
		"jal": jType(mips.OpJAL),

		"move": {class: ClassPseudo, size: one, encode: encodeMove},
		"li":   {class: ClassPseudo, size: sizeLI, encode: encodeLI},
		"la":   {class: ClassPseudo, size: sizeLA, encode: encodeLA},
		"seq":  {class: ClassPseudo, size: fixed(2), encode: encodeSEQ},
		"nop":  {class: ClassPseudo, size: one, encode: encodeNOP},
		"beqz": pseudoBranchZero(mips.OpBEQ),
		"bnez": pseudoBranchZero(mips.OpBNE),
		"b":    {class: ClassPseudo, size: one, encode: encodeB},
	}
}

func fixed(n int) sizeFunc {
	return func(*Assembler, []string) (int, error) { return n, nil }
}

var one = fixed(1)

func arity(ops []string, want int, mnemonic string) error {
	if len(ops) != want {
		return errf(ErrOperand, "%s takes %d operands, got %d", mnemonic, want, len(ops))
	}
	return nil
}

func reg(tok string) (mips.Register, error) {
	r, ok := mips.ParseRegister(tok)
	if !ok {
		return 0, errf(ErrOperand, "bad register %q", tok)
	}
	return r, nil
}

func regs(ops []string) ([]mips.Register, error) {
	out := make([]mips.Register, len(ops))
	for i, tok := range ops {
		r, err := reg(tok)
		if err != nil {
			return nil, err
		}
		out[i] = r
	}
	return out, nil
}

func immediate(tok string) (int64, error) {
	if len(tok) == 3 && tok[0] == '\'' && tok[2] == '\'' {
		return int64(tok[1]), nil
	}
	v, err := strconv.ParseInt(tok, 0, 64)
	if err != nil {
		return 0, errf(ErrOperand, "bad immediate %q", tok)
	}
	return v, nil
}

func signed16(tok string) (uint16, error) {
	v, err := immediate(tok)
	if err != nil {
		return 0, err
	}
	if v < math.MinInt16 || v > math.MaxInt16 {
		return 0, errf(ErrOperand, "immediate %d does not fit in 16 signed bits", v)
	}
	return uint16(int16(v)), nil
}

func unsigned16(tok string) (uint16, error) {
	v, err := immediate(tok)
	if err != nil {
		return 0, err
	}
	if v < 0 || v > math.MaxUint16 {
		return 0, errf(ErrOperand, "immediate %d does not fit in 16 unsigned bits", v)
	}
	return uint16(v), nil
}

func word32(tok string) (uint32, error) {
	v, err := immediate(tok)
	if err != nil {
		return 0, err
	}
	if v < math.MinInt32 || v > math.MaxUint32 {
		return 0, errf(ErrOperand, "immediate %d does not fit in 32 bits", v)
	}
	return uint32(v), nil
}

func (e *encoder) label(name string) (uint32, error) {
	addr, ok := e.asm.labels[name]
	if !ok {
		return 0, errf(ErrUndefinedLabel, "%s", name)
	}
	return addr, nil
}

func (e *encoder) branchOffset(name string) (uint16, error) {
	target, err := e.label(name)
	if err != nil {
		return 0, err
	}
	diff := (int64(target) - int64(e.pc+4)) / 4
	if diff < math.MinInt16 || diff > math.MaxInt16 {
		return 0, errf(ErrOperand, "branch to %s out of range (%d words)", name, diff)
	}
	return uint16(int16(diff)), nil
}

func rType3(funct uint32) *shape {
	return &shape{class: ClassR, size: one, encode: func(_ *encoder, ops []string, _ int) ([]uint32, error) {
		if err := arity(ops, 3, "R-type"); err != nil {
			return nil, err
		}
		r, err := regs(ops)
		if err != nil {
			return nil, err
		}
		return []uint32{mips.EncodeR(r[1], r[2], r[0], 0, funct)}, nil
	}}
}

// rShiftVar is "op rd, rt, rs".
func rShiftVar(funct uint32) *shape {
	return &shape{class: ClassR, size: one, encode: func(_ *encoder, ops []string, _ int) ([]uint32, error) {
		if err := arity(ops, 3, "variable shift"); err != nil {
			return nil, err
		}
		r, err := regs(ops)
		if err != nil {
			return nil, err
		}
		return []uint32{mips.EncodeR(r[2], r[1], r[0], 0, funct)}, nil
	}}
}

func rShift(funct uint32) *shape {
	return &shape{class: ClassR, size: one, encode: func(_ *encoder, ops []string, _ int) ([]uint32, error) {
		if err := arity(ops, 3, "shift"); err != nil {
			return nil, err
		}
		r, err := regs(ops[:2])
		if err != nil {
			return nil, err
		}
		sa, err := immediate(ops[2])
		if err != nil {
			return nil, err
		}
		if sa < 0 || sa > 31 {
			return nil, errf(ErrOperand, "shift amount %d out of range", sa)
		}
		return []uint32{mips.EncodeR(mips.Zero, r[1], r[0], uint32(sa), funct)}, nil
	}}
}

func rPair(funct uint32) *shape {
	return &shape{class: ClassR, size: one, encode: func(_ *encoder, ops []string, _ int) ([]uint32, error) {
		if err := arity(ops, 2, "multiply/divide"); err != nil {
			return nil, err
		}
		r, err := regs(ops)
		if err != nil {
			return nil, err
		}
		return []uint32{mips.EncodeR(r[0], r[1], mips.Zero, 0, funct)}, nil
	}}
}

func rMove(funct uint32) *shape {
	return &shape{class: ClassR, size: one, encode: func(_ *encoder, ops []string, _ int) ([]uint32, error) {
		if err := arity(ops, 1, "mfhi/mflo"); err != nil {
			return nil, err
		}
		rd, err := reg(ops[0])
		if err != nil {
			return nil, err
		}
		return []uint32{mips.EncodeR(mips.Zero, mips.Zero, rd, 0, funct)}, nil
	}}
}

func encodeJR(_ *encoder, ops []string, _ int) ([]uint32, error) {
	if err := arity(ops, 1, "jr"); err != nil {
		return nil, err
	}
	rs, err := reg(ops[0])
	if err != nil {
		return nil, err
	}
	return []uint32{mips.EncodeR(rs, mips.Zero, mips.Zero, 0, mips.FnJR)}, nil
}

func encodeJALR(_ *encoder, ops []string, _ int) ([]uint32, error) {
	switch len(ops) {
	case 1:
		rs, err := reg(ops[0])
		if err != nil {
			return nil, err
		}
		return []uint32{mips.EncodeR(rs, mips.Zero, mips.RA, 0, mips.FnJALR)}, nil
	case 2:
		r, err := regs(ops)
		if err != nil {
			return nil, err
		}
		return []uint32{mips.EncodeR(r[1], mips.Zero, r[0], 0, mips.FnJALR)}, nil
	}
	return nil, errf(ErrOperand, "jalr takes 1 or 2 operands, got %d", len(ops))
}

func encodeSyscall(_ *encoder, ops []string, _ int) ([]uint32, error) {
	if err := arity(ops, 0, "syscall"); err != nil {
		return nil, err
	}
	return []uint32{mips.EncodeR(mips.Zero, mips.Zero, mips.Zero, 0, mips.FnSYSCALL)}, nil
}

func iArith(op uint32, signed bool) *shape {
	return &shape{class: ClassI, size: one, encode: func(_ *encoder, ops []string, _ int) ([]uint32, error) {
		if err := arity(ops, 3, "immediate"); err != nil {
			return nil, err
		}
		r, err := regs(ops[:2])
		if err != nil {
			return nil, err
		}
		var imm uint16
		if signed {
			imm, err = signed16(ops[2])
		} else {
			imm, err = unsigned16(ops[2])
		}
		if err != nil {
			return nil, err
		}
		return []uint32{mips.EncodeI(op, r[1], r[0], imm)}, nil
	}}
}

func encodeLUI(_ *encoder, ops []string, _ int) ([]uint32, error) {
	if err := arity(ops, 2, "lui"); err != nil {
		return nil, err
	}
	rt, err := reg(ops[0])
	if err != nil {
		return nil, err
	}
	imm, err := unsigned16(ops[1])
	if err != nil {
		return nil, err
	}
	return []uint32{mips.EncodeI(mips.OpLUI, mips.Zero, rt, imm)}, nil
}

// iMem accepts "rt, off(base)" and "rt, (base)".
func iMem(op uint32) *shape {
	return &shape{class: ClassI, size: one, encode: func(_ *encoder, ops []string, _ int) ([]uint32, error) {
		var rtTok, offTok, baseTok string
		switch len(ops) {
		case 2:
			rtTok, offTok, baseTok = ops[0], "0", ops[1]
		case 3:
			rtTok, offTok, baseTok = ops[0], ops[1], ops[2]
		default:
			return nil, errf(ErrOperand, "load/store takes rt, off(base), got %d operands", len(ops))
		}
		rt, err := reg(rtTok)
		if err != nil {
			return nil, err
		}
		base, err := reg(baseTok)
		if err != nil {
			return nil, err
		}
		off, err := signed16(offTok)
		if err != nil {
			return nil, err
		}
		return []uint32{mips.EncodeI(op, base, rt, off)}, nil
	}}
}

func iBranch2(op uint32) *shape {
	return &shape{class: ClassI, size: one, encode: func(e *encoder, ops []string, _ int) ([]uint32, error) {
		if err := arity(ops, 3, "branch"); err != nil {
			return nil, err
		}
		r, err := regs(ops[:2])
		if err != nil {
			return nil, err
		}
		off, err := e.branchOffset(ops[2])
		if err != nil {
			return nil, err
		}
		return []uint32{mips.EncodeI(op, r[0], r[1], off)}, nil
	}}
}

func iBranch1(op uint32) *shape {
	return &shape{class: ClassI, size: one, encode: func(e *encoder, ops []string, _ int) ([]uint32, error) {
		if err := arity(ops, 2, "branch"); err != nil {
			return nil, err
		}
		rs, err := reg(ops[0])
		if err != nil {
			return nil, err
		}
		off, err := e.branchOffset(ops[1])
		if err != nil {
			return nil, err
		}
		return []uint32{mips.EncodeI(op, rs, mips.Zero, off)}, nil
	}}
}

func jType(op uint32) *shape {
	return &shape{class: ClassJ, size: one, encode: func(e *encoder, ops []string, _ int) ([]uint32, error) {
		if err := arity(ops, 1, "jump"); err != nil {
			return nil, err
		}
		target, err := e.label(ops[0])
		if err != nil {
			return nil, err
		}
		return []uint32{mips.EncodeJ(op, target&0x0FFFFFFF)}, nil
	}}
}

func encodeMove(_ *encoder, ops []string, _ int) ([]uint32, error) {
	if err := arity(ops, 2, "move"); err != nil {
		return nil, err
	}
	r, err := regs(ops)
	if err != nil {
		return nil, err
	}
	return []uint32{mips.EncodeR(r[1], mips.Zero, r[0], 0, mips.FnADD)}, nil
}

func liWords(v int64) int {
	switch {
	case v >= 0 && v <= math.MaxUint16:
		return 1
	case v >= math.MinInt16 && v < 0:
		return 1
	case uint32(v)&0xFFFF == 0:
		return 1
	}
	return 2
}

func sizeLI(_ *Assembler, ops []string) (int, error) {
	if err := arity(ops, 2, "li"); err != nil {
		return 0, err
	}
	if _, err := word32(ops[1]); err != nil {
		return 0, err
	}
	v, _ := immediate(ops[1])
	return liWords(v), nil
}

func encodeLI(_ *encoder, ops []string, words int) ([]uint32, error) {
	rd, err := reg(ops[0])
	if err != nil {
		return nil, err
	}
	v, err := immediate(ops[1])
	if err != nil {
		return nil, err
	}
	switch {
	case v >= 0 && v <= math.MaxUint16:
		return []uint32{mips.EncodeI(mips.OpORI, mips.Zero, rd, uint16(v))}, nil
	case v >= math.MinInt16 && v < 0:
		return []uint32{mips.EncodeI(mips.OpADDIU, mips.Zero, rd, uint16(int16(v)))}, nil
	}
	return loadUpper(rd, uint32(v), words), nil
}

// loadUpper is lui followed by ori when words is 2.
func loadUpper(rd mips.Register, v uint32, words int) []uint32 {
	out := []uint32{mips.EncodeI(mips.OpLUI, mips.Zero, rd, uint16(v>>16))}
	if words == 2 {
		out = append(out, mips.EncodeI(mips.OpORI, rd, rd, uint16(v)))
	}
	return out
}

// sizeLA needs the address in pass 1. A forward label is not known yet and
// is sized at two words.
func sizeLA(a *Assembler, ops []string) (int, error) {
	if err := arity(ops, 2, "la"); err != nil {
		return 0, err
	}
	if _, err := reg(ops[0]); err != nil {
		return 0, err
	}
	var addr uint32
	if isIdentifier(ops[1]) {
		known, ok := a.labels[ops[1]]
		if !ok {
			return 2, nil
		}
		addr = known
	} else {
		v, err := word32(ops[1])
		if err != nil {
			return 0, err
		}
		addr = v
	}
	if a.ElideLowHalf && addr&0xFFFF == 0 {
		return 1, nil
	}
	return 2, nil
}

func encodeLA(e *encoder, ops []string, words int) ([]uint32, error) {
	rd, err := reg(ops[0])
	if err != nil {
		return nil, err
	}
	var addr uint32
	if isIdentifier(ops[1]) {
		addr, err = e.label(ops[1])
	} else {
		addr, err = word32(ops[1])
	}
	if err != nil {
		return nil, err
	}
	if words == 1 && addr&0xFFFF != 0 {
		return nil, errf(ErrAddressDrift, "la %s sized at one word but low half is %#04x", ops[1], addr&0xFFFF)
	}
	return loadUpper(rd, addr, words), nil
}

func encodeSEQ(_ *encoder, ops []string, _ int) ([]uint32, error) {
	if err := arity(ops, 3, "seq"); err != nil {
		return nil, err
	}
	r, err := regs(ops)
	if err != nil {
		return nil, err
	}
	return []uint32{
		mips.EncodeR(r[1], r[2], r[0], 0, mips.FnXOR),
		mips.EncodeI(mips.OpSLTIU, r[0], r[0], 1),
	}, nil
}

func encodeNOP(_ *encoder, ops []string, _ int) ([]uint32, error) {
	if err := arity(ops, 0, "nop"); err != nil {
		return nil, err
	}
	return []uint32{0}, nil
}

func pseudoBranchZero(op uint32) *shape {
	return &shape{class: ClassPseudo, size: one, encode: func(e *encoder, ops []string, _ int) ([]uint32, error) {
		if err := arity(ops, 2, "branch"); err != nil {
			return nil, err
		}
		rs, err := reg(ops[0])
		if err != nil {
			return nil, err
		}
		off, err := e.branchOffset(ops[1])
		if err != nil {
			return nil, err
		}
		return []uint32{mips.EncodeI(op, rs, mips.Zero, off)}, nil
	}}
}

func encodeB(e *encoder, ops []string, _ int) ([]uint32, error) {
	if err := arity(ops, 1, "b"); err != nil {
		return nil, err
	}
	off, err := e.branchOffset(ops[0])
	if err != nil {
		return nil, err
	}
	return []uint32{mips.EncodeI(mips.OpBEQ, mips.Zero, mips.Zero, off)}, nil
}
