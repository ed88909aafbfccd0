package codegen

import (
	"fmt"

	"github.com/xplshn/vmc/pkg/mips"
)

var scratchRegs = [...]mips.Register{
	mips.T0, mips.T1, mips.T2, mips.T3, mips.T4,
	mips.T5, mips.T6, mips.T7, mips.T8, mips.T9,
}

// scratch hands out $t registers. Every lowering step opens a scope and
// releases it when the step's lines are emitted, so no scratch value
// survives from one instruction to the next.
type scratch struct {
	inUse [len(scratchRegs)]bool
}

type scope struct {
	pool *scratch
	held []int
}

func (s *scratch) open() *scope { return &scope{pool: s} }

func (sc *scope) get() mips.Register {
	for i := range sc.pool.inUse {
		if !sc.pool.inUse[i] {
			sc.pool.inUse[i] = true
			sc.held = append(sc.held, i)
			return scratchRegs[i]
		}
	}
	panic(fmt.Sprintf("codegen: scratch registers exhausted (%d held)", len(sc.held)))
}

func (sc *scope) release() {
	for _, i := range sc.held {
		sc.pool.inUse[i] = false
	}
	sc.held = sc.held[:0]
}

func (s *scratch) live() int {
	n := 0
	for _, used := range s.inUse {
		if used {
			n++
		}
	}
	return n
}
