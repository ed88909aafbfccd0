package codegen

import (
	"sort"

	"github.com/xplshn/vmc/pkg/config"
	"github.com/xplshn/vmc/pkg/ir"
)

// function is a contiguous run of instructions. Functions start at the
// entry marker, at global markers and at INVOKE targets; offset 0 always
// starts one.
type function struct {
	start, end  int // bytecode offsets, end exclusive
	first, last int // instruction indices, last exclusive
	name        string
	entry       bool
}

type funcTable struct {
	funcs      []*function
	entry      *function
	offsets    []int
	boundaries map[int]int // offset -> index of the instruction at it
}

func analyze(prog *ir.Program, cfg *config.Config) (*funcTable, error) {
	list := prog.Instructions
	t := &funcTable{
		offsets:    ir.Offsets(list),
		boundaries: make(map[int]int),
	}
	for i, in := range list {
		if in.Op.IsMarker() {
			continue
		}
		if _, seen := t.boundaries[t.offsets[i]]; !seen {
			t.boundaries[t.offsets[i]] = i
		}
	}

	entryOff := -1
	names := map[int]string{}
	starts := map[int]bool{0: true}
	for i, in := range list {
		switch in.Op {
		case ir.OpEntry:
			if entryOff < 0 {
				entryOff = t.offsets[i]
			}
			starts[t.offsets[i]] = true
		case ir.OpGlobal:
			starts[t.offsets[i]] = true
			if _, ok := names[t.offsets[i]]; !ok {
				names[t.offsets[i]] = in.Symbol
			}
		case ir.OpInvoke:
			target := int(uint16(in.Operand(0)))
			if _, ok := t.boundaries[target]; !ok {
				return nil, &GenError{Offset: t.offsets[i], Instr: in, Err: ErrBadJumpTarget}
			}
			starts[target] = true
		}
	}
	if entryOff < 0 {
		if !cfg.IsFeatureEnabled(config.FeatImplicitEntry) {
			return nil, ErrNoEntry
		}
		entryOff = 0
	}

	sorted := make([]int, 0, len(starts))
	for off := range starts {
		sorted = append(sorted, off)
	}
	sort.Ints(sorted)

	size := ir.Size(list)
	for k, start := range sorted {
		end := size
		if k+1 < len(sorted) {
			end = sorted[k+1]
		}
		fn := &function{start: start, end: end, name: names[start], entry: start == entryOff}
		fn.first, fn.last = t.indexRange(list, start, end)
		t.funcs = append(t.funcs, fn)
		if fn.entry {
			t.entry = fn
		}
	}
	return t, nil
}

// indexRange maps [start, end) to instruction indices. Markers belong to the
// function of the instruction that follows them.
func (t *funcTable) indexRange(list []ir.Instruction, start, end int) (int, int) {
	first, last := len(list), len(list)
	for i := range list {
		if t.offsets[i] >= start && first == len(list) {
			first = i
		}
		if t.offsets[i] >= end {
			last = i
			break
		}
	}
	if first > last {
		first = last
	}
	return first, last
}

// owner returns the function containing offset off.
func (t *funcTable) owner(off int) *function {
	i := sort.Search(len(t.funcs), func(i int) bool { return t.funcs[i].start > off })
	if i == 0 {
		return nil
	}
	return t.funcs[i-1]
}

func (t *funcTable) isBoundary(off int) bool {
	_, ok := t.boundaries[off]
	return ok
}
