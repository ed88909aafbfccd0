package container

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/xplshn/vmc/pkg/symbols"
)

const addHex = `// header: magic, code=20, data=0, symbols=19, relocs=0
564D4331 14000000 00000000 13000000 00000000
// code: KATS, 4 instructions
4B415453 04000000
01 05000000   // ICONST 5
01 03000000   // ICONST 3
02            // IADD
04            // RET
// symbols: main TEXT GLOBAL defined @0
01000000 04000000 6D61696E 00 01 01 00000000
`

func TestDecodeHexContainer(t *testing.T) {
	c, err := Decode([]byte(addHex))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if string(c.Magic[:]) != "VMC1" {
		t.Errorf("magic %q", c.Magic)
	}
	if len(c.Code) != 20 || !bytes.HasPrefix(c.Code, []byte("KATS")) {
		t.Errorf("code section %X", c.Code)
	}
	want := []symbols.Entry{{Name: "main", Kind: symbols.KindCode, Binding: symbols.BindGlobal, Defined: true, Address: 0}}
	if diff := cmp.Diff(want, c.Symbols); diff != "" {
		t.Errorf("symbols (-want +got):\n%s", diff)
	}
}

func TestBuildParse(t *testing.T) {
	in := &Container{
		Code: []byte("KATS\x01\x00\x00\x00\x04"),
		Data: []byte{1, 2, 3},
		Symbols: []symbols.Entry{
			{Name: "main", Binding: symbols.BindGlobal, Defined: true},
			{Name: "buf", Kind: symbols.KindData, Address: 2},
		},
	}
	out, err := Parse(Build(in))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	copy(in.Magic[:], DefaultMagic)
	if diff := cmp.Diff(in, out); diff != "" {
		t.Errorf("container (-want +got):\n%s", diff)
	}
}

func TestBareCodeSection(t *testing.T) {
	c, err := Parse([]byte("OATS\x00\x00\x00\x00"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(c.Symbols) != 0 || string(c.Code[:4]) != "OATS" {
		t.Errorf("unexpected container %+v", c)
	}
}

func TestParseErrors(t *testing.T) {
	hdr := func(code, data, syms uint32) []byte {
		return Build(&Container{Code: make([]byte, code), Data: make([]byte, data)})[:HeaderSize]
	}
	tests := []struct {
		name string
		in   []byte
		want error
	}{
		{"short header", []byte("VMC1\x00"), ErrTruncated},
		{"code past end", hdr(10, 0, 0), ErrTruncated},
		{"symbol count past end", append(append(hdr(0, 0, 0)[:12:12], 8, 0, 0, 0, 0, 0, 0, 0), 5, 0, 0, 0, 9, 0, 0, 0), ErrSymbolTable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse(tt.in); !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestReadHexOddDigits(t *testing.T) {
	_, err := ReadHex(strings.NewReader("4B41\n545\n"))
	if !errors.Is(err, ErrOddHexCount) {
		t.Errorf("got %v, want %v", err, ErrOddHexCount)
	}
}

func TestWriteHexRoundTrip(t *testing.T) {
	raw := Build(&Container{Code: []byte("KATS\x00\x00\x00\x00")})
	var buf bytes.Buffer
	if err := WriteHex(&buf, raw); err != nil {
		t.Fatal(err)
	}
	if !IsHexText(buf.Bytes()) {
		t.Fatalf("WriteHex output not recognized as hex: %q", buf.String())
	}
	back, err := ReadHex(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(raw, back) {
		t.Errorf("round trip changed bytes:\n%X\n%X", raw, back)
	}
}
