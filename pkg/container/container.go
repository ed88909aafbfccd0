// Package container reads and writes the object container that carries a
// bytecode section, a data section and a symbol table.
package container

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/xplshn/vmc/pkg/bytecode"
	"github.com/xplshn/vmc/pkg/symbols"
)

var (
	ErrTruncated   = errors.New("container truncated")
	ErrOddHexCount = errors.New("odd number of hex digits on a line")
	ErrSymbolTable = errors.New("malformed symbol table")
)

const (
	HeaderSize   = 20
	DefaultMagic = "VMC1"
)

type Container struct {
	Magic   [4]byte
	Code    []byte
	Data    []byte
	Symbols []symbols.Entry
	// RelocSize is carried through unchanged; relocations are not applied.
	RelocSize uint32
}

// Parse decodes a binary container. A buffer that starts with a bytecode
// format magic is taken as a bare code section with no symbols.
func Parse(b []byte) (*Container, error) {
	if len(b) >= 4 && bytecode.FormatOf(string(b[:4])) != bytecode.FormatUnknown {
		c := &Container{Code: b}
		copy(c.Magic[:], DefaultMagic)
		return c, nil
	}
	if len(b) < HeaderSize {
		return nil, fmt.Errorf("%w: header needs %d bytes, have %d", ErrTruncated, HeaderSize, len(b))
	}

	c := &Container{}
	copy(c.Magic[:], b[:4])
	codeSize := binary.LittleEndian.Uint32(b[4:8])
	dataSize := binary.LittleEndian.Uint32(b[8:12])
	symSize := binary.LittleEndian.Uint32(b[12:16])
	c.RelocSize = binary.LittleEndian.Uint32(b[16:20])

	cur := uint64(HeaderSize)
	section := func(name string, size uint32) ([]byte, error) {
		end := cur + uint64(size)
		if end > uint64(len(b)) {
			return nil, fmt.Errorf("%w: %s section [%d, %d) exceeds %d bytes", ErrTruncated, name, cur, end, len(b))
		}
		s := b[cur:end]
		cur = end
		return s, nil
	}

	var err error
	if c.Code, err = section("code", codeSize); err != nil {
		return nil, err
	}
	if c.Data, err = section("data", dataSize); err != nil {
		return nil, err
	}
	symBytes, err := section("symbol", symSize)
	if err != nil {
		return nil, err
	}
	if c.Symbols, err = ParseSymbols(symBytes); err != nil {
		return nil, err
	}
	return c, nil
}

// ParseSymbols decodes a symbol-table section. An empty section has no
// entries.
func ParseSymbols(b []byte) ([]symbols.Entry, error) {
	if len(b) == 0 {
		return nil, nil
	}
	r := &reader{b: b}
	count, err := r.u32()
	if err != nil {
		return nil, err
	}

	var out []symbols.Entry
	for i := uint32(0); i < count; i++ {
		nameLen, err := r.u32()
		if err != nil {
			return nil, fmt.Errorf("symbol %d: %w", i, err)
		}
		name, err := r.bytes(nameLen)
		if err != nil {
			return nil, fmt.Errorf("symbol %d name: %w", i, err)
		}
		flags, err := r.bytes(3)
		if err != nil {
			return nil, fmt.Errorf("symbol %d %q: %w", i, name, err)
		}
		addr, err := r.u32()
		if err != nil {
			return nil, fmt.Errorf("symbol %d %q: %w", i, name, err)
		}
		out = append(out, symbols.Entry{
			Name:    string(name),
			Kind:    symbols.Kind(flags[0]),
			Binding: symbols.Binding(flags[1]),
			Defined: flags[2] == 1,
			Address: addr,
		})
	}
	return out, nil
}

type reader struct {
	b   []byte
	off int
}

func (r *reader) bytes(n uint32) ([]byte, error) {
	if uint64(r.off)+uint64(n) > uint64(len(r.b)) {
		return nil, fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrSymbolTable, n, r.off, len(r.b)-r.off)
	}
	s := r.b[r.off : r.off+int(n)]
	r.off += int(n)
	return s, nil
}

func (r *reader) u32() (uint32, error) {
	s, err := r.bytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(s), nil
}

// Build serializes c. Section sizes come from the slices.
func Build(c *Container) []byte {
	syms := BuildSymbols(c.Symbols)
	out := make([]byte, HeaderSize, HeaderSize+len(c.Code)+len(c.Data)+len(syms))
	magic := c.Magic
	if magic == [4]byte{} {
		copy(magic[:], DefaultMagic)
	}
	copy(out, magic[:])
	binary.LittleEndian.PutUint32(out[4:], uint32(len(c.Code)))
	binary.LittleEndian.PutUint32(out[8:], uint32(len(c.Data)))
	binary.LittleEndian.PutUint32(out[12:], uint32(len(syms)))
	binary.LittleEndian.PutUint32(out[16:], c.RelocSize)
	out = append(out, c.Code...)
	out = append(out, c.Data...)
	return append(out, syms...)
}

func BuildSymbols(entries []symbols.Entry) []byte {
	if len(entries) == 0 {
		return nil
	}
	out := binary.LittleEndian.AppendUint32(nil, uint32(len(entries)))
	for _, e := range entries {
		out = binary.LittleEndian.AppendUint32(out, uint32(len(e.Name)))
		out = append(out, e.Name...)
		var defined byte
		if e.Defined {
			defined = 1
		}
		out = append(out, byte(e.Kind), byte(e.Binding), defined)
		out = binary.LittleEndian.AppendUint32(out, e.Address)
	}
	return out
}

// ReadHex converts the hex text form to bytes. "//" starts a comment, any
// non-hex character is ignored, and the hex digits of each line are paired.
func ReadHex(r io.Reader) ([]byte, error) {
	var out []byte
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := sc.Text()
		if i := strings.Index(line, "//"); i >= 0 {
			line = line[:i]
		}
		var hi byte
		pending := false
		for i := 0; i < len(line); i++ {
			v, ok := hexValue(line[i])
			if !ok {
				continue
			}
			if !pending {
				hi, pending = v, true
				continue
			}
			out = append(out, hi<<4|v)
			pending = false
		}
		if pending {
			return nil, fmt.Errorf("line %d: %w", lineNo, ErrOddHexCount)
		}
	}
	return out, sc.Err()
}

func hexValue(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}

// WriteHex writes b as hex text, 16 bytes per line.
func WriteHex(w io.Writer, b []byte) error {
	bw := bufio.NewWriter(w)
	for i := 0; i < len(b); i += 16 {
		end := min(i+16, len(b))
		for j := i; j < end; j++ {
			if j > i {
				bw.WriteByte(' ')
			}
			fmt.Fprintf(bw, "%02X", b[j])
		}
		bw.WriteByte('\n')
	}
	return bw.Flush()
}

// IsHexText reports whether b looks like the hex text form: printable text
// whose non-comment characters are hex digits and blanks.
func IsHexText(b []byte) bool {
	for _, line := range bytes.Split(b, []byte("\n")) {
		if i := bytes.Index(line, []byte("//")); i >= 0 {
			line = line[:i]
		}
		for _, c := range line {
			if _, ok := hexValue(c); ok {
				continue
			}
			if c == ' ' || c == '\t' || c == '\r' {
				continue
			}
			return false
		}
	}
	return true
}

// Load reads a container from path in either form.
func Load(path string) (*Container, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Decode(raw)
}

// Decode parses raw, converting it from hex text first when needed.
func Decode(raw []byte) (*Container, error) {
	if IsHexText(raw) {
		b, err := ReadHex(bytes.NewReader(raw))
		if err != nil {
			return nil, err
		}
		raw = b
	}
	return Parse(raw)
}
