package bytecode

import (
	"bytes"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/xplshn/vmc/pkg/ir"
)

func TestDecodeKATS(t *testing.T) {
	code := []byte{
		'K', 'A', 'T', 'S', 6, 0, 0, 0,
		0x01, 0xFB, 0xFF, 0xFF, 0xFF, // ICONST -5
		0x0C, 0x02, 0x00, // LOAD 2
		0x03, 0x10, 0x00, 0x02, 0x00, // INVOKE 16 2
		0x0B, 0x00, 0x00, 0x00, 0x00, // JMPZ 0
		0x1A, 0x0B, 0x00, 0x01, 0x00, // SYSCALL 11 1
		0x04, // RET
	}
	list, f, err := Decode(code)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if f != FormatKATS {
		t.Errorf("format %v", f)
	}
	want := []ir.Instruction{
		{Op: ir.OpIConst, Operands: []int32{-5}},
		{Op: ir.OpLoad, Operands: []int32{2}},
		{Op: ir.OpInvoke, Operands: []int32{16, 2}},
		{Op: ir.OpJmpZ, Operands: []int32{0}},
		{Op: ir.OpSyscall, Operands: []int32{11, 1}},
		{Op: ir.OpRet},
	}
	if diff := cmp.Diff(want, list); diff != "" {
		t.Errorf("instructions (-want +got):\n%s", diff)
	}
	if got := ir.Size(list); got != len(code)-HeaderSize {
		t.Errorf("width sum %d, want %d", got, len(code)-HeaderSize)
	}
}

func TestDecodeOATSNumbering(t *testing.T) {
	code := []byte{'O', 'A', 'T', 'S', 4, 0, 0, 0, 0x01, 2, 0, 0, 0, 0x01, 3, 0, 0, 0, 0x04, 0x06}
	list, f, err := Decode(code)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if f != FormatOATS {
		t.Errorf("format %v", f)
	}
	got := []ir.Op{list[0].Op, list[1].Op, list[2].Op, list[3].Op}
	want := []ir.Op{ir.OpIConst, ir.OpIConst, ir.OpIMul, ir.OpRet}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ops (-want +got):\n%s", diff)
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	list := []ir.Instruction{
		{Op: ir.OpEntry, Symbol: "main"},
		{Op: ir.OpIConst, Operands: []int32{1 << 20}},
		{Op: ir.OpStore, Operands: []int32{3}},
		{Op: ir.OpLoad, Operands: []int32{3}},
		{Op: ir.OpNewStr},
		{Op: ir.OpJmpNZ, Operands: []int32{5}},
		{Op: ir.OpRet},
	}
	for _, f := range []Format{FormatKATS, FormatOATS} {
		t.Run(f.String(), func(t *testing.T) {
			code, err := Encode(f, list)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			if !bytes.HasPrefix(code, []byte(f.String())) {
				t.Errorf("magic %q", code[:4])
			}
			back, got, err := Decode(code)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if got != f {
				t.Errorf("format %v, want %v", got, f)
			}
			if diff := cmp.Diff(list[1:], back); diff != "" {
				t.Errorf("round trip (-want +got):\n%s", diff)
			}
		})
	}
}

func TestTablesCoverEveryOp(t *testing.T) {
	for _, f := range []Format{FormatKATS, FormatOATS} {
		for op := ir.Op(0); op < ir.OpCount; op++ {
			if op.IsMarker() {
				continue
			}
			code, ok := Opcode(f, op)
			if !ok {
				t.Errorf("%v: %s has no opcode", f, op)
				continue
			}
			if back, _ := Lookup(f, code); back != op {
				t.Errorf("%v: opcode 0x%02X maps to %s, want %s", f, code, back, op)
			}
		}
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name   string
		code   []byte
		want   error
		offset int
	}{
		{"short header", []byte("KAT"), ErrTruncated, 3},
		{"bad magic", []byte("ABCD\x00\x00\x00\x00"), ErrBadMagic, 0},
		{"unknown opcode", []byte("KATS\x01\x00\x00\x00\xEE"), ErrUnknownOpcode, 8},
		{"short operand", []byte("KATS\x01\x00\x00\x00\x01\x05\x00"), ErrTruncated, 8},
		{"count too large", []byte("KATS\x02\x00\x00\x00\x04"), ErrTruncated, 9},
		{"trailing bytes", []byte("OATS\x01\x00\x00\x00\x06\x06"), ErrTrailingBytes, 9},
		{"kats opcode in oats", []byte("OATS\x01\x00\x00\x00\x0C\x00\x00"), ErrUnknownOpcode, 8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Decode(tt.code)
			if !errors.Is(err, tt.want) {
				t.Fatalf("got %v, want %v", err, tt.want)
			}
			var de *DecodeError
			if !errors.As(err, &de) {
				t.Fatalf("%T is not a *DecodeError", err)
			}
			if de.Offset != tt.offset {
				t.Errorf("offset %d, want %d", de.Offset, tt.offset)
			}
		})
	}
}

func TestEncodeErrors(t *testing.T) {
	if _, err := Encode(FormatUnknown, nil); !errors.Is(err, ErrBadMagic) {
		t.Errorf("unknown format: got %v", err)
	}
	bad := []ir.Instruction{{Op: ir.OpIConst}}
	if _, err := Encode(FormatKATS, bad); !errors.Is(err, ErrNotEncodable) {
		t.Errorf("missing operand: got %v", err)
	}
}
