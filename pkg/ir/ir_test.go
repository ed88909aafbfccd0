package ir

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestWidths(t *testing.T) {
	tests := map[Op]int{
		OpIConst:  5,
		OpJmp:     5,
		OpInvoke:  5,
		OpSyscall: 5,
		OpLoad:    3,
		OpStore:   3,
		OpIAdd:    1,
		OpRet:     1,
		OpEntry:   0,
		OpGlobal:  0,
		Op(99):    0,
	}
	for op, want := range tests {
		if got := Width(op); got != want {
			t.Errorf("Width(%s) = %d, want %d", op, got, want)
		}
	}
}

func TestOffsets(t *testing.T) {
	list := []Instruction{
		{Op: OpEntry, Symbol: "main"},
		{Op: OpIConst, Operands: []int32{1}},
		{Op: OpLoad, Operands: []int32{0}},
		{Op: OpGlobal, Symbol: "f"},
		{Op: OpIAdd},
		{Op: OpRet},
	}
	if diff := cmp.Diff([]int{0, 0, 5, 8, 8, 9}, Offsets(list)); diff != "" {
		t.Errorf("offsets (-want +got):\n%s", diff)
	}
	if Size(list) != 10 {
		t.Errorf("size %d, want 10", Size(list))
	}
}

func TestEstimateDepth(t *testing.T) {
	tests := []struct {
		name string
		list []Instruction
		want int
	}{
		{"empty", nil, 1},
		{
			name: "straight line",
			list: []Instruction{
				{Op: OpIConst}, {Op: OpIConst}, {Op: OpIConst}, {Op: OpIAdd}, {Op: OpIAdd}, {Op: OpRet},
			},
			want: 3,
		},
		{
			name: "underflow clamps",
			list: []Instruction{{Op: OpPop}, {Op: OpPop}, {Op: OpIConst}, {Op: OpRet}},
			want: 1,
		},
		{
			name: "restart at function start",
			list: []Instruction{
				{Op: OpIConst}, {Op: OpIConst}, {Op: OpInvoke, Operands: []int32{16, 2}}, {Op: OpRet}, // 0, 5, 10, 15
				{Op: OpLoad}, {Op: OpLoad}, {Op: OpIAdd}, {Op: OpRet}, // 16
			},
			want: 2,
		},
		{
			name: "jump past pops",
			list: []Instruction{
				{Op: OpIConst}, {Op: OpIConst}, {Op: OpIConst}, {Op: OpIConst}, {Op: OpIConst}, // 0..20
				{Op: OpIConst}, {Op: OpJmpNZ, Operands: []int32{39}}, // 25, 30
				{Op: OpPop}, {Op: OpPop}, {Op: OpPop}, {Op: OpPop}, // 35..38
				{Op: OpIConst}, {Op: OpIConst}, {Op: OpIConst}, {Op: OpIConst}, {Op: OpRet}, // 39..59
			},
			want: 9,
		},
		{
			name: "balanced loop converges",
			list: []Instruction{
				{Op: OpIConst}, {Op: OpIConst}, // 0, 5
				{Op: OpPop}, {Op: OpIConst}, {Op: OpIConst}, {Op: OpJmpZ, Operands: []int32{10}}, // 10, 11, 16, 21
				{Op: OpRet}, // 26
			},
			want: 3,
		},
		{
			name: "unbounded loop hits the limit",
			list: []Instruction{{Op: OpIConst}, {Op: OpJmp, Operands: []int32{0}}},
			want: DepthLimit,
		},
		{
			name: "dup",
			list: []Instruction{{Op: OpIConst}, {Op: OpDup}, {Op: OpDup}, {Op: OpRet}},
			want: 3,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EstimateDepth(tt.list); got != tt.want {
				t.Errorf("EstimateDepth = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestInstructionString(t *testing.T) {
	tests := map[string]Instruction{
		"INVOKE 16 2":   {Op: OpInvoke, Operands: []int32{16, 2}},
		`GLOBAL "name"`: {Op: OpGlobal, Symbol: "name"},
		"Op(77)":        {Op: Op(77)},
	}
	for want, in := range tests {
		if got := in.String(); got != want {
			t.Errorf("String() = %q, want %q", got, want)
		}
	}
}
