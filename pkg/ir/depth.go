package ir

// StackEffect returns how many operand-stack cells in pops and pushes.
// INVOKE is assumed to leave one result behind.
func StackEffect(in Instruction) (pops, pushes int) {
	switch in.Op {
	case OpIConst, OpLoad:
		return 0, 1
	case OpIAdd, OpISub, OpIMul, OpIDiv, OpILt, OpIGt, OpIEq,
		OpAnd, OpOr, OpXor, OpShl, OpShr, OpIALoad, OpBALoad:
		return 2, 1
	case OpNot, OpNewArray, OpNewStr:
		return 1, 1
	case OpDup:
		return 1, 2
	case OpSwap:
		return 2, 2
	case OpRet, OpPrint, OpPop, OpStore, OpJmpZ, OpJmpNZ:
		return 1, 0
	case OpIAStore, OpBAStore:
		return 3, 0
	case OpInvoke, OpSyscall:
		return int(uint16(in.Operand(1))), 1
	}
	return 0, 0
}

// DepthLimit caps EstimateDepth. A loop that grows the stack on every
// iteration has no finite depth, and the estimate stops here instead.
const DepthLimit = 1 << 14

// EstimateDepth returns the deepest operand stack any function reaches.
// Depths propagate along fall-through and jump edges, and a join takes the
// deepest incoming path. Every function start (offset 0, markers and INVOKE
// targets) begins with an empty stack. The result is at least 1.
func EstimateDepth(list []Instruction) int {
	offs := Offsets(list)
	at := make(map[int]int, len(list))
	for i := len(list) - 1; i >= 0; i-- {
		at[offs[i]] = i
	}

	in := make([]int, len(list))
	for i := range in {
		in[i] = -1
	}
	var work []int
	reach := func(i, depth int) {
		if i < 0 || i >= len(list) || depth <= in[i] {
			return
		}
		in[i] = min(depth, DepthLimit)
		work = append(work, i)
	}

	reach(0, 0)
	for i, ins := range list {
		if ins.Op.IsMarker() {
			reach(i, 0)
		}
		if ins.Op == OpInvoke {
			if t, ok := at[int(uint16(ins.Operand(0)))]; ok {
				reach(t, 0)
			}
		}
	}

	maxDepth := 1
	for len(work) > 0 {
		i := work[len(work)-1]
		work = work[:len(work)-1]
		ins := list[i]
		pops, pushes := StackEffect(ins)
		depth := max(in[i]-pops, 0) + pushes
		maxDepth = max(maxDepth, in[i], depth)
		if maxDepth >= DepthLimit {
			return DepthLimit
		}

		switch ins.Op {
		case OpRet:
		case OpJmp:
			if t, ok := at[int(ins.Operand(0))]; ok {
				reach(t, depth)
			}
		case OpJmpZ, OpJmpNZ:
			if t, ok := at[int(ins.Operand(0))]; ok {
				reach(t, depth)
			}
			reach(i+1, depth)
		default:
			reach(i+1, depth)
		}
	}
	return maxDepth
}
