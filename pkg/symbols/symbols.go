package symbols

import (
	"fmt"

	"github.com/xplshn/vmc/pkg/ir"
)

type Kind uint8

const (
	KindCode Kind = iota
	KindData
)

func (k Kind) String() string {
	switch k {
	case KindCode:
		return "TEXT"
	case KindData:
		return "DATA"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

type Binding uint8

const (
	BindLocal Binding = iota
	BindGlobal
)

func (b Binding) String() string {
	switch b {
	case BindLocal:
		return "LOCAL"
	case BindGlobal:
		return "GLOBAL"
	default:
		return fmt.Sprintf("Binding(%d)", uint8(b))
	}
}

// Entry is one row of the container's symbol table.
type Entry struct {
	Name    string
	Kind    Kind
	Binding Binding
	Defined bool
	Address uint32
}

func (e Entry) String() string {
	return fmt.Sprintf("%s %s %s defined=%v @%d", e.Name, e.Kind, e.Binding, e.Defined, e.Address)
}

// DefaultEntryNames are the symbol names treated as the program entry point.
var DefaultEntryNames = []string{"main", "kik"}

type Result struct {
	Program *ir.Program
	// Dropped holds defined symbols whose address is not the start of any
	// instruction. They produce no marker.
	Dropped []Entry
	// Entry is the bytecode offset of the entry marker, -1 if there is none.
	Entry int
}

// Resolve interleaves entry and global-visibility markers with list at the
// offsets named by syms.
func Resolve(list []ir.Instruction, syms []Entry, entryNames []string) Result {
	if entryNames == nil {
		entryNames = DefaultEntryNames
	}
	isEntry := make(map[string]bool, len(entryNames))
	for _, n := range entryNames {
		isEntry[n] = true
	}

	byAddr := make(map[uint32][]Entry)
	for _, s := range syms {
		if s.Defined {
			byAddr[s.Address] = append(byAddr[s.Address], s)
		}
	}

	res := Result{Entry: -1}
	out := make([]ir.Instruction, 0, len(list)+len(byAddr))
	used := make(map[uint32]bool, len(byAddr))

	var off uint32
	for _, in := range list {
		if at, ok := byAddr[off]; ok {
			used[off] = true
			for _, s := range at {
				switch {
				case isEntry[s.Name]:
					out = append(out, ir.Instruction{Op: ir.OpEntry, Symbol: s.Name})
					if res.Entry < 0 {
						res.Entry = int(off)
					}
				case s.Binding == BindGlobal:
					out = append(out, ir.Instruction{Op: ir.OpGlobal, Symbol: s.Name})
				}
			}
		}
		out = append(out, in)
		off += uint32(ir.Width(in.Op))
	}

	for _, s := range syms {
		if s.Defined && !used[s.Address] {
			res.Dropped = append(res.Dropped, s)
		}
	}

	res.Program = &ir.Program{Instructions: out}
	return res
}
