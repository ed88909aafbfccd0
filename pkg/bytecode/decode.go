package bytecode

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/xplshn/vmc/pkg/ir"
)

var (
	ErrTruncated     = errors.New("truncated instruction")
	ErrUnknownOpcode = errors.New("unrecognized opcode")
	ErrBadMagic      = errors.New("unknown format magic")
	ErrTrailingBytes = errors.New("trailing bytes after last instruction")
	ErrNotEncodable  = errors.New("instruction not encodable")
)

// DecodeError locates a decoding failure inside the code section. Offset is
// relative to the start of the buffer, header included.
type DecodeError struct {
	Err    error
	Offset int
	Opcode byte
	Detail string
}

func (e *DecodeError) Error() string {
	switch {
	case errors.Is(e.Err, ErrUnknownOpcode):
		return fmt.Sprintf("%v 0x%02X at offset %d", e.Err, e.Opcode, e.Offset)
	case e.Detail != "":
		return fmt.Sprintf("%v at offset %d: %s", e.Err, e.Offset, e.Detail)
	default:
		return fmt.Sprintf("%v at offset %d", e.Err, e.Offset)
	}
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Header is the 8-byte prefix of a code section.
type Header struct {
	Format Format
	Count  uint32
}

func ReadHeader(code []byte) (Header, error) {
	if len(code) < HeaderSize {
		return Header{}, &DecodeError{Err: ErrTruncated, Offset: len(code), Detail: "code header needs 8 bytes"}
	}
	magic := string(code[:4])
	f := FormatOf(magic)
	if f == FormatUnknown {
		return Header{}, &DecodeError{Err: ErrBadMagic, Offset: 0, Detail: fmt.Sprintf("%q, expected %q or %q", magic, MagicKATS, MagicOATS)}
	}
	return Header{Format: f, Count: binary.LittleEndian.Uint32(code[4:8])}, nil
}

// Decode turns a code section (header included) into an instruction list.
func Decode(code []byte) ([]ir.Instruction, Format, error) {
	hdr, err := ReadHeader(code)
	if err != nil {
		return nil, FormatUnknown, err
	}

	var list []ir.Instruction
	if hdr.Count <= uint32(len(code)) {
		list = make([]ir.Instruction, 0, hdr.Count)
	}

	cur := HeaderSize
	for i := uint32(0); i < hdr.Count; i++ {
		if cur >= len(code) {
			return nil, hdr.Format, &DecodeError{Err: ErrTruncated, Offset: cur, Detail: fmt.Sprintf("instruction %d of %d missing", i, hdr.Count)}
		}
		in, n, err := decodeOne(hdr.Format, code, cur)
		if err != nil {
			return nil, hdr.Format, err
		}
		list = append(list, in)
		cur += n
	}

	if cur != len(code) {
		return nil, hdr.Format, &DecodeError{Err: ErrTrailingBytes, Offset: cur, Detail: fmt.Sprintf("%d bytes", len(code)-cur)}
	}
	return list, hdr.Format, nil
}

func decodeOne(f Format, code []byte, cur int) (ir.Instruction, int, error) {
	opcode := code[cur]
	op, ok := Lookup(f, opcode)
	if !ok {
		return ir.Instruction{}, 0, &DecodeError{Err: ErrUnknownOpcode, Offset: cur, Opcode: opcode}
	}

	layout := ir.LayoutOf(op)
	w := layout.Size()
	if cur+1+w > len(code) {
		return ir.Instruction{}, 0, &DecodeError{Err: ErrTruncated, Offset: cur, Opcode: opcode,
			Detail: fmt.Sprintf("%s needs %d operand bytes, %d left", op, w, len(code)-cur-1)}
	}

	operand := code[cur+1 : cur+1+w]
	in := ir.Instruction{Op: op}
	switch layout {
	case ir.LayoutWord:
		in.Operands = []int32{int32(binary.LittleEndian.Uint32(operand))}
	case ir.LayoutHalf:
		in.Operands = []int32{int32(binary.LittleEndian.Uint16(operand))}
	case ir.LayoutHalfPair:
		in.Operands = []int32{
			int32(binary.LittleEndian.Uint16(operand[0:2])),
			int32(binary.LittleEndian.Uint16(operand[2:4])),
		}
	}
	return in, 1 + w, nil
}

// Encode writes list back into a code section for format f. Markers carry no
// bytecode and are skipped.
func Encode(f Format, list []ir.Instruction) ([]byte, error) {
	magic := f.String()
	if FormatOf(magic) == FormatUnknown {
		return nil, fmt.Errorf("%w: %v", ErrBadMagic, f)
	}

	var count uint32
	for _, in := range list {
		if !in.Op.IsMarker() {
			count++
		}
	}

	out := make([]byte, HeaderSize, HeaderSize+ir.Size(list))
	copy(out, magic)
	binary.LittleEndian.PutUint32(out[4:], count)

	for i, in := range list {
		if in.Op.IsMarker() {
			continue
		}
		code, ok := Opcode(f, in.Op)
		if !ok {
			return nil, fmt.Errorf("%w: instruction %d (%s) has no %s opcode", ErrNotEncodable, i, in.Op, f)
		}
		layout := ir.LayoutOf(in.Op)
		if len(in.Operands) != layout.Operands() {
			return nil, fmt.Errorf("%w: instruction %d (%s) has %d operands, want %d", ErrNotEncodable, i, in.Op, len(in.Operands), layout.Operands())
		}
		out = append(out, code)
		switch layout {
		case ir.LayoutWord:
			out = binary.LittleEndian.AppendUint32(out, uint32(in.Operands[0]))
		case ir.LayoutHalf:
			out = binary.LittleEndian.AppendUint16(out, uint16(in.Operands[0]))
		case ir.LayoutHalfPair:
			out = binary.LittleEndian.AppendUint16(out, uint16(in.Operands[0]))
			out = binary.LittleEndian.AppendUint16(out, uint16(in.Operands[1]))
		}
	}
	return out, nil
}
