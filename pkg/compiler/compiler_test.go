package compiler

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/xplshn/vmc/pkg/asm"
	"github.com/xplshn/vmc/pkg/bytecode"
	"github.com/xplshn/vmc/pkg/codegen"
	"github.com/xplshn/vmc/pkg/config"
	"github.com/xplshn/vmc/pkg/container"
	"github.com/xplshn/vmc/pkg/ir"
	"github.com/xplshn/vmc/pkg/symbols"
)

const addHex = `564D4331 14000000 00000000 13000000 00000000
4B415453 04000000
01 05000000   // ICONST 5
01 03000000   // ICONST 3
02            // IADD
04            // RET
01000000 04000000 6D61696E 00 01 01 00000000 // main
`

func compileAndRun(t *testing.T, code []byte, syms []symbols.Entry, cfg *config.Config) (int32, string, *Result) {
	t.Helper()
	if cfg == nil {
		cfg = config.NewConfig()
	}
	res, err := Compile(code, syms, cfg)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	var stdout bytes.Buffer
	status, err := Run(res.Machine.Words, 1_000_000, &stdout)
	if err != nil {
		t.Fatalf("Run: %v\n%s", err, strings.Join(res.Output.Lines, "\n"))
	}
	return status, stdout.String(), res
}

func encode(t *testing.T, f bytecode.Format, list ...ir.Instruction) []byte {
	t.Helper()
	code, err := bytecode.Encode(f, list)
	if err != nil {
		t.Fatal(err)
	}
	return code
}

func op(o ir.Op, operands ...int32) ir.Instruction {
	return ir.Instruction{Op: o, Operands: operands}
}

func TestCompileContainer(t *testing.T) {
	c, err := container.Decode([]byte(addHex))
	if err != nil {
		t.Fatalf("container: %v", err)
	}
	res, err := CompileContainer(c, config.NewConfig())
	if err != nil {
		t.Fatalf("CompileContainer: %v", err)
	}
	if res.Format != bytecode.FormatKATS {
		t.Errorf("format %v", res.Format)
	}
	if first := res.Program.Instructions[0]; first.Op != ir.OpEntry || first.Symbol != "main" {
		t.Errorf("first instruction %s, want the entry marker", first)
	}
	status, err := Run(res.Machine.Words, 10_000, nil)
	if err != nil {
		t.Fatal(err)
	}
	if status != 8 {
		t.Errorf("exit %d, want 8", status)
	}
}

func TestCompileFormats(t *testing.T) {
	list := []ir.Instruction{
		op(ir.OpIConst, 6), op(ir.OpIConst, 7), op(ir.OpIMul), op(ir.OpPrint),
		op(ir.OpIConst, 1), op(ir.OpRet),
	}
	for _, f := range []bytecode.Format{bytecode.FormatKATS, bytecode.FormatOATS} {
		t.Run(f.String(), func(t *testing.T) {
			status, stdout, _ := compileAndRun(t, encode(t, f, list...), nil, nil)
			if status != 1 || stdout != "42\n" {
				t.Errorf("exit %d output %q", status, stdout)
			}
		})
	}
}

func TestInvokeThroughSymbols(t *testing.T) {
	code := encode(t, bytecode.FormatKATS,
		op(ir.OpIConst, 7), op(ir.OpIConst, 9), op(ir.OpInvoke, 16, 2), op(ir.OpRet), // 0, 5, 10, 15
		op(ir.OpLoad, 0), op(ir.OpLoad, 1), op(ir.OpISub), op(ir.OpRet), // 16, 19, 22, 23
	)
	syms := []symbols.Entry{
		{Name: "main", Binding: symbols.BindGlobal, Defined: true},
		{Name: "sub", Binding: symbols.BindGlobal, Defined: true, Address: 16},
	}
	status, _, res := compileAndRun(t, code, syms, nil)
	if status != -2 {
		t.Errorf("exit %d, want -2", status)
	}
	if _, ok := res.Machine.Labels["sub"]; !ok {
		t.Error("global symbol did not become a label")
	}
}

func TestDroppedSymbolWarning(t *testing.T) {
	code := encode(t, bytecode.FormatKATS, op(ir.OpIConst, 3), op(ir.OpRet))
	syms := []symbols.Entry{{Name: "odd", Binding: symbols.BindGlobal, Defined: true, Address: 2}}
	status, _, res := compileAndRun(t, code, syms, nil)
	if status != 3 {
		t.Errorf("exit %d, want 3", status)
	}
	if len(res.Warnings) != 1 || res.Warnings[0].Kind != config.WarnDroppedSymbol || res.Warnings[0].Offset != 2 {
		t.Errorf("warnings %v", res.Warnings)
	}
}

func TestEntryFromSymbolTable(t *testing.T) {
	code := encode(t, bytecode.FormatKATS,
		op(ir.OpIConst, 100), op(ir.OpRet), // 0, 5: never reached
		op(ir.OpIConst, 5), op(ir.OpRet), // 6, 11
	)
	cfg := config.NewConfig()
	cfg.EntryNames = []string{"kik"}
	status, _, _ := compileAndRun(t, code, []symbols.Entry{{Name: "kik", Defined: true, Address: 6}}, cfg)
	if status != 5 {
		t.Errorf("exit %d, want 5", status)
	}
}

func TestLaElisionShrinksProgram(t *testing.T) {
	code := encode(t, bytecode.FormatKATS, op(ir.OpIConst, 2), op(ir.OpRet))

	cfg := config.NewConfig()
	cfg.StackTop = 0x7fff0000
	_, _, elided := compileAndRun(t, code, nil, cfg)

	cfg = config.NewConfig()
	cfg.StackTop = 0x7fff0000
	cfg.SetFeature(config.FeatLaElide, false)
	status, _, full := compileAndRun(t, code, nil, cfg)
	if status != 2 {
		t.Errorf("exit %d, want 2", status)
	}
	if len(full.Machine.Words) != len(elided.Machine.Words)+1 {
		t.Errorf("elided program has %d words, unelided %d", len(elided.Machine.Words), len(full.Machine.Words))
	}
}

func TestQBEBackendExposesIR(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Target = config.TargetQBE
	b, ok := codegen.NewQBEBackend().(interface {
		GenerateIR(*ir.Program, *config.Config) (string, []codegen.Warning, error)
	})
	if !ok {
		t.Fatal("QBE backend does not expose GenerateIR")
	}
	il, _, err := b.GenerateIR(&ir.Program{Instructions: []ir.Instruction{op(ir.OpIConst, 1), op(ir.OpRet)}}, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(il, "$main") {
		t.Errorf("IL lacks $main:\n%s", il)
	}
}

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		name string
		code []byte
		cfg  func(*config.Config)
		want error
	}{
		{"decode", []byte("KATS\x01\x00\x00\x00\xFF"), nil, bytecode.ErrUnknownOpcode},
		{"jump target", []byte("KATS\x02\x00\x00\x00\x0A\x03\x00\x00\x00\x04"), nil, codegen.ErrBadJumpTarget},
		{"no entry", []byte("KATS\x01\x00\x00\x00\x04"), func(c *config.Config) { c.SetFeature(config.FeatImplicitEntry, false) }, codegen.ErrNoEntry},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.NewConfig()
			if tt.cfg != nil {
				tt.cfg(cfg)
			}
			if _, err := Compile(tt.code, nil, cfg); !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestAssembleUndefinedLabel(t *testing.T) {
	_, err := Assemble([]string{"main:", "\tj nowhere"}, config.NewConfig())
	if !errors.Is(err, asm.ErrUndefinedLabel) {
		t.Errorf("got %v, want %v", err, asm.ErrUndefinedLabel)
	}
}
