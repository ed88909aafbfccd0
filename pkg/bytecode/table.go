package bytecode

import "github.com/xplshn/vmc/pkg/ir"

type Format int

const (
	FormatUnknown Format = iota
	FormatKATS
	FormatOATS
)

const (
	MagicKATS = "KATS"
	MagicOATS = "OATS"

	HeaderSize = 8
)

func (f Format) String() string {
	switch f {
	case FormatKATS:
		return MagicKATS
	case FormatOATS:
		return MagicOATS
	default:
		return "unknown"
	}
}

// FormatOf maps a 4-byte header magic to its opcode numbering.
func FormatOf(magic string) Format {
	switch magic {
	case MagicKATS:
		return FormatKATS
	case MagicOATS:
		return FormatOATS
	default:
		return FormatUnknown
	}
}

// numbering is the single (format, opcode) -> op table. Operand widths are
// not repeated here; they come from ir.LayoutOf.
var numbering = map[Format]map[byte]ir.Op{
	FormatKATS: {
		0x01: ir.OpIConst,
		0x02: ir.OpIAdd,
		0x03: ir.OpInvoke,
		0x04: ir.OpRet,
		0x05: ir.OpPrint,
		0x06: ir.OpPop,
		0x07: ir.OpISub,
		0x08: ir.OpIMul,
		0x09: ir.OpILt,
		0x0A: ir.OpJmp,
		0x0B: ir.OpJmpZ,
		0x0C: ir.OpLoad,
		0x0D: ir.OpStore,
		0x0E: ir.OpIDiv,
		0x0F: ir.OpIEq,
		0x10: ir.OpIGt,
		0x11: ir.OpJmpNZ,
		0x12: ir.OpDup,
		0x13: ir.OpSwap,
		0x14: ir.OpNot,
		0x15: ir.OpAnd,
		0x16: ir.OpOr,
		0x17: ir.OpXor,
		0x18: ir.OpShl,
		0x19: ir.OpShr,
		0x1A: ir.OpSyscall,
		0x1B: ir.OpNewArray,
		0x1C: ir.OpNewStr,
		0x1D: ir.OpIALoad,
		0x1E: ir.OpIAStore,
		0x1F: ir.OpBALoad,
		0x20: ir.OpBAStore,
	},
	FormatOATS: {
		0x01: ir.OpIConst,
		0x02: ir.OpIAdd,
		0x08: ir.OpInvoke,
		0x06: ir.OpRet,
		0x25: ir.OpPrint,
		0x26: ir.OpPop,
		0x03: ir.OpISub,
		0x04: ir.OpIMul,
		0x29: ir.OpILt,
		0x07: ir.OpJmp,
		0x2B: ir.OpJmpZ,
		0x2C: ir.OpLoad,
		0x2D: ir.OpStore,
		0x05: ir.OpIDiv,
		0x2F: ir.OpIEq,
		0x30: ir.OpIGt,
		0x31: ir.OpJmpNZ,
		0x32: ir.OpDup,
		0x33: ir.OpSwap,
		0x34: ir.OpNot,
		0x35: ir.OpAnd,
		0x36: ir.OpOr,
		0x37: ir.OpXor,
		0x38: ir.OpShl,
		0x39: ir.OpShr,
		0x3A: ir.OpSyscall,
		0x3B: ir.OpNewArray,
		0x3C: ir.OpNewStr,
		0x3D: ir.OpIALoad,
		0x3E: ir.OpIAStore,
		0x3F: ir.OpBALoad,
		0x40: ir.OpBAStore,
	},
}

var opcodes = func() map[Format]map[ir.Op]byte {
	out := make(map[Format]map[ir.Op]byte, len(numbering))
	for f, table := range numbering {
		rev := make(map[ir.Op]byte, len(table))
		for code, op := range table {
			rev[op] = code
		}
		out[f] = rev
	}
	return out
}()

// Lookup returns the op numbered code in format f.
func Lookup(f Format, code byte) (ir.Op, bool) {
	op, ok := numbering[f][code]
	return op, ok
}

// Opcode returns the byte that encodes op in format f.
func Opcode(f Format, op ir.Op) (byte, bool) {
	code, ok := opcodes[f][op]
	return code, ok
}
