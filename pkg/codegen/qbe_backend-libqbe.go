//go:build !windows

package codegen

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/xplshn/vmc/pkg/config"
	"github.com/xplshn/vmc/pkg/ir"
	"modernc.org/libqbe"
)

func (b *qbeBackend) Generate(prog *ir.Program, cfg *config.Config) (*Output, error) {
	qbeIR, warns, err := b.GenerateIR(prog, cfg)
	if err != nil {
		return nil, err
	}

	var asmBuf bytes.Buffer
	err = libqbe.Main(cfg.QbeTarget, "input.ssa", strings.NewReader(qbeIR), &asmBuf, nil)
	if err != nil {
		return nil, fmt.Errorf("\n--- QBE Compilation Failed ---\nGenerated IR:\n%s\n\nlibqbe error: %w", qbeIR, err)
	}
	return &Output{IR: qbeIR, Asm: &asmBuf, Frame: b.frame, Warnings: warns}, nil
}
