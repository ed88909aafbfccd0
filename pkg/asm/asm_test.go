package asm

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func assemble(t *testing.T, src string) *Program {
	t.Helper()
	prog, err := Assemble(strings.Split(src, "\n"))
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	return prog
}

func TestEncodeSingle(t *testing.T) {
	tests := []struct {
		src  string
		want []uint32
	}{
		{"addu $t0, $t1, $t2", []uint32{0x012A4021}},
		{"addu $8, $9, $10", []uint32{0x012A4021}},
		{"lw $t0, 4($sp)", []uint32{0x8FA80004}},
		{"sw $t0, ($sp)", []uint32{0xAFA80000}},
		{"syscall", []uint32{0x0000000C}},
		{"nop", []uint32{0}},
		{"jr $ra", []uint32{0x03E00008}},
		{"move $t0, $t1", []uint32{0x01204020}},
		{"li $t0, 5", []uint32{0x34080005}},
		{"li $t0, -1", []uint32{0x2408FFFF}},
		{"li $t0, 0x10000", []uint32{0x3C080001}},
		{"li $t0, 0x12345678", []uint32{0x3C081234, 0x35085678}},
		{"seq $t0, $t1, $t2", []uint32{0x012A4026, 0x2D080001}},
		{"la $a0, 0x10000000", []uint32{0x3C041000}},
		{"sll $t0, $t1, 2", []uint32{0x00094080}},
		{"mflo $t0", []uint32{0x00004012}},
		{"mult $t0, $t1", []uint32{0x01090018}},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			prog := assemble(t, tt.src)
			if diff := cmp.Diff(tt.want, prog.Words); diff != "" {
				t.Errorf("words mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestBackwardBranch(t *testing.T) {
	prog := assemble(t, `top: addiu $t0, $t0, 1
	beq $t0, $zero, top`)
	want := []uint32{0x25080001, 0x1100FFFE}
	if diff := cmp.Diff(want, prog.Words); diff != "" {
		t.Errorf("words mismatch (-want +got):\n%s", diff)
	}
}

func TestForwardLoadAddress(t *testing.T) {
	src := `main:
	la $a0, data
	j end
data:
	nop
end:
	syscall`
	prog := assemble(t, src)

	want := []uint32{0x3C040000, 0x3484000C, 0x08000004, 0, 0x0000000C}
	if diff := cmp.Diff(want, prog.Words); diff != "" {
		t.Errorf("words mismatch (-want +got):\n%s", diff)
	}

	wantLabels := map[string]uint32{"main": 0, "data": 12, "end": 16}
	if diff := cmp.Diff(wantLabels, prog.Labels); diff != "" {
		t.Errorf("labels mismatch (-want +got):\n%s", diff)
	}
	if got := prog.SourceMap[prog.Labels["data"]]; got != 5 {
		t.Errorf("instruction at data comes from line %d, want 5", got)
	}
}

func TestLabelsMatchEncodedAddresses(t *testing.T) {
	src := `start:
	li $t0, 0x12345678
	la $t1, later
mid: seq $t2, $t0, $t1
	b later
	li $t3, 7
later:
	jr $ra`
	prog := assemble(t, src)
	lines := strings.Split(src, "\n")
	for name, addr := range prog.Labels {
		lineNo, ok := prog.SourceMap[addr]
		if !ok {
			t.Errorf("label %s at %#x does not start an instruction", name, addr)
			continue
		}
		if !strings.Contains(lines[lineNo-1], name+":") && !strings.Contains(lines[lineNo-2], name+":") {
			t.Errorf("label %s resolved to line %d (%q)", name, lineNo, lines[lineNo-1])
		}
	}
}

func TestBackwardLoadAddressElision(t *testing.T) {
	src := "here: nop\n\tla $a0, here"
	if got := len(assemble(t, src).Words); got != 2 {
		t.Errorf("elided la: got %d words, want 2", got)
	}

	a := New()
	a.ElideLowHalf = false
	prog, err := a.Assemble(strings.Split(src, "\n"))
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if got := len(prog.Words); got != 3 {
		t.Errorf("non-elided la: got %d words, want 3", got)
	}
}

func TestCommentsAndDirectives(t *testing.T) {
	src := `# header comment
	.text
	.globl main
main:   # entry
	nop # trailing`
	prog := assemble(t, src)
	if diff := cmp.Diff([]uint32{0}, prog.Words); diff != "" {
		t.Errorf("words mismatch (-want +got):\n%s", diff)
	}
}

func TestAssembleErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want error
		line int
	}{
		{"undefined label", "nop\nj nowhere", ErrUndefinedLabel, 2},
		{"undefined branch target", "beq $t0, $t1, gone", ErrUndefinedLabel, 1},
		{"unknown mnemonic", "frob $t0", ErrUnknownMnemonic, 1},
		{"duplicate label", "a: nop\na: nop", ErrDuplicateLabel, 2},
		{"immediate range", "addiu $t0, $t0, 40000", ErrOperand, 1},
		{"bad register", "addu $t0, $t1, $q9", ErrOperand, 1},
		{"arity", "addu $t0, $t1", ErrOperand, 1},
		{"shift range", "sll $t0, $t0, 32", ErrOperand, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prog, err := Assemble(strings.Split(tt.src, "\n"))
			if prog != nil {
				t.Fatalf("expected no program, got %d words", len(prog.Words))
			}
			if !errors.Is(err, tt.want) {
				t.Fatalf("got error %v, want %v", err, tt.want)
			}
			var ae *Error
			if !errors.As(err, &ae) {
				t.Fatalf("error %T is not *Error", err)
			}
			if ae.Line != tt.line {
				t.Errorf("error on line %d, want %d", ae.Line, tt.line)
			}
		})
	}
}

func TestHexOutput(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteHex(&buf, []uint32{0x3C040000, 0xC}); err != nil {
		t.Fatal(err)
	}
	if got, want := buf.String(), "3c040000\n0000000c\n"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}

	words, err := ReadHex(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]uint32{0x3C040000, 0xC}, words); diff != "" {
		t.Errorf("ReadHex mismatch (-want +got):\n%s", diff)
	}
}

func TestBinaryOutput(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteBinary(&buf, []uint32{0x0000000C, 0x03E00008}); err != nil {
		t.Fatal(err)
	}
	want := []byte{0x0C, 0, 0, 0, 0x08, 0, 0xE0, 0x03}
	if diff := cmp.Diff(want, buf.Bytes()); diff != "" {
		t.Errorf("binary mismatch (-want +got):\n%s", diff)
	}
}

func TestChecksumDistinguishesPrograms(t *testing.T) {
	a := assemble(t, "nop\nsyscall")
	b := assemble(t, "syscall\nnop")
	if a.Checksum() == b.Checksum() {
		t.Error("reordered programs share a checksum")
	}
	if a.Checksum() != Checksum([]uint32{0, 0xC}) {
		t.Error("checksum is not a function of the words")
	}
}
