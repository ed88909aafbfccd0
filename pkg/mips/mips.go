// Package mips holds the MIPS32 constants shared by the code generator, the
// assembler and the emulator: register names and instruction field layouts.
package mips

import (
	"fmt"
	"strconv"
	"strings"
)

type Register uint8

const (
	Zero Register = iota
	AT
	V0
	V1
	A0
	A1
	A2
	A3
	T0
	T1
	T2
	T3
	T4
	T5
	T6
	T7
	S0
	S1
	S2
	S3
	S4
	S5
	S6
	S7
	T8
	T9
	K0
	K1
	GP
	SP
	FP
	RA
	NumRegisters
)

var Names = [NumRegisters]string{
	"$zero", "$at", "$v0", "$v1", "$a0", "$a1", "$a2", "$a3",
	"$t0", "$t1", "$t2", "$t3", "$t4", "$t5", "$t6", "$t7",
	"$s0", "$s1", "$s2", "$s3", "$s4", "$s5", "$s6", "$s7",
	"$t8", "$t9", "$k0", "$k1", "$gp", "$sp", "$fp", "$ra",
}

var byName = func() map[string]Register {
	m := make(map[string]Register, NumRegisters+1)
	for i, n := range Names {
		m[n] = Register(i)
	}
	m["$s8"] = FP
	return m
}()

func (r Register) String() string {
	if r < NumRegisters {
		return Names[r]
	}
	return fmt.Sprintf("$?%d", uint8(r))
}

// ParseRegister accepts a symbolic name ("$t0") or a number ("$8").
func ParseRegister(s string) (Register, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if r, ok := byName[s]; ok {
		return r, true
	}
	if !strings.HasPrefix(s, "$") {
		return 0, false
	}
	n, err := strconv.Atoi(s[1:])
	if err != nil || n < 0 || n >= int(NumRegisters) {
		return 0, false
	}
	return Register(n), true
}

// Primary opcodes.
const (
	OpSpecial = 0x00
	OpJ       = 0x02
	OpJAL     = 0x03
	OpBEQ     = 0x04
	OpBNE     = 0x05
	OpBLEZ    = 0x06
	OpBGTZ    = 0x07
	OpADDI    = 0x08
	OpADDIU   = 0x09
	OpSLTI    = 0x0A
	OpSLTIU   = 0x0B
	OpANDI    = 0x0C
	OpORI     = 0x0D
	OpXORI    = 0x0E
	OpLUI     = 0x0F
	OpLB      = 0x20
	OpLH      = 0x21
	OpLW      = 0x23
	OpLBU     = 0x24
	OpLHU     = 0x25
	OpSB      = 0x28
	OpSH      = 0x29
	OpSW      = 0x2B
)

// Function codes of OpSpecial.
const (
	FnSLL     = 0x00
	FnSRL     = 0x02
	FnSRA     = 0x03
	FnSLLV    = 0x04
	FnSRLV    = 0x06
	FnSRAV    = 0x07
	FnJR      = 0x08
	FnJALR    = 0x09
	FnSYSCALL = 0x0C
	FnMFHI    = 0x10
	FnMFLO    = 0x12
	FnMULT    = 0x18
	FnMULTU   = 0x19
	FnDIV     = 0x1A
	FnDIVU    = 0x1B
	FnADD     = 0x20
	FnADDU    = 0x21
	FnSUB     = 0x22
	FnSUBU    = 0x23
	FnAND     = 0x24
	FnOR      = 0x25
	FnXOR     = 0x26
	FnNOR     = 0x27
	FnSLT     = 0x2A
	FnSLTU    = 0x2B
)

// Syscall service numbers understood by the emulator and emitted by the
// code generator (SPIM conventions).
const (
	SysPrintInt    = 1
	SysPrintString = 4
	SysSbrk        = 9
	SysExit        = 10
	SysPrintChar   = 11
	SysExit2       = 17
)

const JumpTargetMask = 0x03FFFFFF

func EncodeR(rs, rt, rd Register, shamt, funct uint32) uint32 {
	return OpSpecial<<26 | uint32(rs&0x1F)<<21 | uint32(rt&0x1F)<<16 | uint32(rd&0x1F)<<11 | (shamt&0x1F)<<6 | funct&0x3F
}

func EncodeI(op uint32, rs, rt Register, imm uint16) uint32 {
	return (op&0x3F)<<26 | uint32(rs&0x1F)<<21 | uint32(rt&0x1F)<<16 | uint32(imm)
}

func EncodeJ(op uint32, addr uint32) uint32 {
	return (op&0x3F)<<26 | (addr>>2)&JumpTargetMask
}

// Fields is a decoded instruction word.
type Fields struct {
	Op    uint32
	Rs    Register
	Rt    Register
	Rd    Register
	Shamt uint32
	Funct uint32
	Imm   uint16
	Index uint32
}

func Decode(w uint32) Fields {
	return Fields{
		Op:    w >> 26,
		Rs:    Register(w >> 21 & 0x1F),
		Rt:    Register(w >> 16 & 0x1F),
		Rd:    Register(w >> 11 & 0x1F),
		Shamt: w >> 6 & 0x1F,
		Funct: w & 0x3F,
		Imm:   uint16(w),
		Index: w & JumpTargetMask,
	}
}

// BranchTarget recovers the absolute target of a branch at pc.
func BranchTarget(pc uint32, imm uint16) uint32 {
	return pc + 4 + uint32(int32(int16(imm))*4)
}
