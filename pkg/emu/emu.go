// Package emu runs assembled MIPS32 words. It implements the integer subset
// the assembler can produce, without branch delay slots, plus the SPIM
// style syscalls the code generator emits.
package emu

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/xplshn/vmc/pkg/mips"
)

var (
	ErrStepLimit           = errors.New("step limit reached")
	ErrUnaligned           = errors.New("unaligned memory access")
	ErrReservedInstruction = errors.New("reserved instruction")
	ErrBadSyscall          = errors.New("unsupported syscall")
	ErrPCOutOfRange        = errors.New("pc outside the text segment")
	ErrOverflow            = errors.New("integer overflow")
)

const (
	HeapBase = 0x10040000
	pageBits = 12
	pageSize = 1 << pageBits
)

// Fault wraps an execution error with the pc it happened at.
type Fault struct {
	PC   uint32
	Word uint32
	Err  error
}

func (f *Fault) Error() string {
	return fmt.Sprintf("pc %#08x (word %08x): %v", f.PC, f.Word, f.Err)
}

func (f *Fault) Unwrap() error { return f.Err }

type CPU struct {
	Regs   [mips.NumRegisters]uint32
	PC     uint32
	HI, LO uint32

	Halted   bool
	ExitCode int32
	Steps    int

	// Output receives syscall output. If nil, os.Stdout is used.
	Output io.Writer

	// TrapOverflow makes add/addi/sub fault on signed overflow instead of
	// wrapping.
	TrapOverflow bool

	text  []uint32
	pages map[uint32]*[pageSize]byte
	brk   uint32
}

func New(text []uint32) *CPU {
	c := &CPU{
		text:  text,
		pages: make(map[uint32]*[pageSize]byte),
		brk:   HeapBase,
	}
	for i, w := range text {
		c.storeWord(uint32(i)*4, w)
	}
	return c
}

func (c *CPU) outputSink() io.Writer {
	if c.Output != nil {
		return c.Output
	}
	return os.Stdout
}

func (c *CPU) page(addr uint32, create bool) *[pageSize]byte {
	n := addr >> pageBits
	p, ok := c.pages[n]
	if !ok && create {
		p = new([pageSize]byte)
		c.pages[n] = p
	}
	return p
}

func (c *CPU) LoadByte(addr uint32) byte {
	p := c.page(addr, false)
	if p == nil {
		return 0
	}
	return p[addr&(pageSize-1)]
}

func (c *CPU) StoreByte(addr uint32, v byte) {
	c.page(addr, true)[addr&(pageSize-1)] = v
}

// ReadWord reads a little-endian word. addr must be 4-aligned.
func (c *CPU) ReadWord(addr uint32) (uint32, error) {
	if addr&3 != 0 {
		return 0, ErrUnaligned
	}
	return c.loadWord(addr), nil
}

func (c *CPU) loadWord(addr uint32) uint32 {
	return uint32(c.LoadByte(addr)) | uint32(c.LoadByte(addr+1))<<8 |
		uint32(c.LoadByte(addr+2))<<16 | uint32(c.LoadByte(addr+3))<<24
}

func (c *CPU) storeWord(addr, v uint32) {
	c.StoreByte(addr, byte(v))
	c.StoreByte(addr+1, byte(v>>8))
	c.StoreByte(addr+2, byte(v>>16))
	c.StoreByte(addr+3, byte(v>>24))
}

func (c *CPU) loadHalf(addr uint32) uint16 {
	return uint16(c.LoadByte(addr)) | uint16(c.LoadByte(addr+1))<<8
}

func (c *CPU) storeHalf(addr uint32, v uint16) {
	c.StoreByte(addr, byte(v))
	c.StoreByte(addr+1, byte(v>>8))
}

// ReadString reads a NUL-terminated string starting at addr.
func (c *CPU) ReadString(addr uint32) string {
	var buf []byte
	for {
		b := c.LoadByte(addr)
		if b == 0 {
			return string(buf)
		}
		buf = append(buf, b)
		addr++
	}
}

func (c *CPU) set(r mips.Register, v uint32) {
	if r != mips.Zero {
		c.Regs[r] = v
	}
}

// Run steps until the program exits. maxSteps <= 0 means no limit.
func (c *CPU) Run(maxSteps int) error {
	for !c.Halted {
		if maxSteps > 0 && c.Steps >= maxSteps {
			return &Fault{PC: c.PC, Err: ErrStepLimit}
		}
		if err := c.Step(); err != nil {
			return err
		}
	}
	return nil
}

func (c *CPU) Step() error {
	if c.Halted {
		return nil
	}
	idx := c.PC / 4
	if c.PC&3 != 0 || idx >= uint32(len(c.text)) {
		return &Fault{PC: c.PC, Err: ErrPCOutOfRange}
	}
	w := c.text[idx]
	pc := c.PC
	c.PC += 4
	c.Steps++

	if err := c.execute(pc, w); err != nil {
		return &Fault{PC: pc, Word: w, Err: err}
	}
	return nil
}

func (c *CPU) execute(pc, w uint32) error {
	f := mips.Decode(w)
	rs, rt := c.Regs[f.Rs], c.Regs[f.Rt]
	simm := uint32(int32(int16(f.Imm)))
	zimm := uint32(f.Imm)

	switch f.Op {
	case mips.OpSpecial:
		return c.special(f, rs, rt)
	case mips.OpJ:
		c.PC = (pc+4)&0xF0000000 | f.Index<<2
	case mips.OpJAL:
		c.set(mips.RA, pc+4)
		c.PC = (pc+4)&0xF0000000 | f.Index<<2
	case mips.OpBEQ:
		if rs == rt {
			c.PC = mips.BranchTarget(pc, f.Imm)
		}
	case mips.OpBNE:
		if rs != rt {
			c.PC = mips.BranchTarget(pc, f.Imm)
		}
	case mips.OpBLEZ:
		if int32(rs) <= 0 {
			c.PC = mips.BranchTarget(pc, f.Imm)
		}
	case mips.OpBGTZ:
		if int32(rs) > 0 {
			c.PC = mips.BranchTarget(pc, f.Imm)
		}
	case mips.OpADDI:
		sum := rs + simm
		if c.TrapOverflow && overflowAdd(rs, simm, sum) {
			return ErrOverflow
		}
		c.set(f.Rt, sum)
	case mips.OpADDIU:
		c.set(f.Rt, rs+simm)
	case mips.OpSLTI:
		c.set(f.Rt, boolWord(int32(rs) < int32(simm)))
	case mips.OpSLTIU:
		c.set(f.Rt, boolWord(rs < simm))
	case mips.OpANDI:
		c.set(f.Rt, rs&zimm)
	case mips.OpORI:
		c.set(f.Rt, rs|zimm)
	case mips.OpXORI:
		c.set(f.Rt, rs^zimm)
	case mips.OpLUI:
		c.set(f.Rt, zimm<<16)
	case mips.OpLB:
		c.set(f.Rt, uint32(int32(int8(c.LoadByte(rs+simm)))))
	case mips.OpLBU:
		c.set(f.Rt, uint32(c.LoadByte(rs+simm)))
	case mips.OpLH, mips.OpLHU:
		addr := rs + simm
		if addr&1 != 0 {
			return ErrUnaligned
		}
		h := c.loadHalf(addr)
		if f.Op == mips.OpLH {
			c.set(f.Rt, uint32(int32(int16(h))))
		} else {
			c.set(f.Rt, uint32(h))
		}
	case mips.OpLW:
		v, err := c.ReadWord(rs + simm)
		if err != nil {
			return err
		}
		c.set(f.Rt, v)
	case mips.OpSB:
		c.StoreByte(rs+simm, byte(rt))
	case mips.OpSH:
		addr := rs + simm
		if addr&1 != 0 {
			return ErrUnaligned
		}
		c.storeHalf(addr, uint16(rt))
	case mips.OpSW:
		addr := rs + simm
		if addr&3 != 0 {
			return ErrUnaligned
		}
		c.storeWord(addr, rt)
	default:
		return fmt.Errorf("%w: opcode %#02x", ErrReservedInstruction, f.Op)
	}
	return nil
}

func (c *CPU) special(f mips.Fields, rs, rt uint32) error {
	switch f.Funct {
	case mips.FnSLL:
		c.set(f.Rd, rt<<f.Shamt)
	case mips.FnSRL:
		c.set(f.Rd, rt>>f.Shamt)
	case mips.FnSRA:
		c.set(f.Rd, uint32(int32(rt)>>f.Shamt))
	case mips.FnSLLV:
		c.set(f.Rd, rt<<(rs&31))
	case mips.FnSRLV:
		c.set(f.Rd, rt>>(rs&31))
	case mips.FnSRAV:
		c.set(f.Rd, uint32(int32(rt)>>(rs&31)))
	case mips.FnJR:
		c.PC = rs
	case mips.FnJALR:
		ret := c.PC
		c.PC = rs
		c.set(f.Rd, ret)
	case mips.FnSYSCALL:
		return c.syscall()
	case mips.FnMFHI:
		c.set(f.Rd, c.HI)
	case mips.FnMFLO:
		c.set(f.Rd, c.LO)
	case mips.FnMULT:
		p := int64(int32(rs)) * int64(int32(rt))
		c.HI, c.LO = uint32(uint64(p)>>32), uint32(p)
	case mips.FnMULTU:
		p := uint64(rs) * uint64(rt)
		c.HI, c.LO = uint32(p>>32), uint32(p)
	case mips.FnDIV:
		// Division by zero leaves zero in both halves.
		if rt == 0 {
			c.HI, c.LO = 0, 0
			break
		}
		a, b := int32(rs), int32(rt)
		if a == -1<<31 && b == -1 {
			c.HI, c.LO = 0, uint32(a)
			break
		}
		c.HI, c.LO = uint32(a%b), uint32(a/b)
	case mips.FnDIVU:
		if rt == 0 {
			c.HI, c.LO = 0, 0
			break
		}
		c.HI, c.LO = rs%rt, rs/rt
	case mips.FnADD:
		sum := rs + rt
		if c.TrapOverflow && overflowAdd(rs, rt, sum) {
			return ErrOverflow
		}
		c.set(f.Rd, sum)
	case mips.FnADDU:
		c.set(f.Rd, rs+rt)
	case mips.FnSUB:
		diff := rs - rt
		if c.TrapOverflow && (rs^rt)&(rs^diff)&0x80000000 != 0 {
			return ErrOverflow
		}
		c.set(f.Rd, diff)
	case mips.FnSUBU:
		c.set(f.Rd, rs-rt)
	case mips.FnAND:
		c.set(f.Rd, rs&rt)
	case mips.FnOR:
		c.set(f.Rd, rs|rt)
	case mips.FnXOR:
		c.set(f.Rd, rs^rt)
	case mips.FnNOR:
		c.set(f.Rd, ^(rs | rt))
	case mips.FnSLT:
		c.set(f.Rd, boolWord(int32(rs) < int32(rt)))
	case mips.FnSLTU:
		c.set(f.Rd, boolWord(rs < rt))
	default:
		return fmt.Errorf("%w: function %#02x", ErrReservedInstruction, f.Funct)
	}
	return nil
}

func (c *CPU) syscall() error {
	a0 := c.Regs[mips.A0]
	switch c.Regs[mips.V0] {
	case mips.SysPrintInt:
		_, err := io.WriteString(c.outputSink(), strconv.Itoa(int(int32(a0))))
		return err
	case mips.SysPrintString:
		_, err := io.WriteString(c.outputSink(), c.ReadString(a0))
		return err
	case mips.SysPrintChar:
		_, err := c.outputSink().Write([]byte{byte(a0)})
		return err
	case mips.SysSbrk:
		c.Regs[mips.V0] = c.brk
		c.brk += (a0 + 3) &^ 3
	case mips.SysExit:
		c.Halted, c.ExitCode = true, 0
	case mips.SysExit2:
		c.Halted, c.ExitCode = true, int32(a0)
	default:
		return fmt.Errorf("%w %d", ErrBadSyscall, c.Regs[mips.V0])
	}
	return nil
}

func overflowAdd(a, b, sum uint32) bool {
	return (a^sum)&(b^sum)&0x80000000 != 0
}

func boolWord(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}
