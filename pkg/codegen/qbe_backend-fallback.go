//go:build windows

package codegen

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/xplshn/vmc/pkg/config"
	"github.com/xplshn/vmc/pkg/ir"
)

func (b *qbeBackend) Generate(prog *ir.Program, cfg *config.Config) (*Output, error) {
	fmt.Fprintln(os.Stderr, "vmc: info: self-contained QBE backend is not supported on Windows, falling back to the system's 'qbe'")
	if _, err := exec.LookPath("qbe"); err != nil {
		return nil, fmt.Errorf("QBE not found in PATH: %w", err)
	}

	qbeIR, warns, err := b.GenerateIR(prog, cfg)
	if err != nil {
		return nil, err
	}

	inputFile, err := os.CreateTemp("", "vmc-qbe-*.temp.ssa")
	if err != nil {
		return nil, err
	}
	defer os.Remove(inputFile.Name())
	defer inputFile.Close()

	if _, err = inputFile.WriteString(qbeIR); err != nil {
		return nil, err
	}

	outputName := inputFile.Name() + ".asm"
	cmd := exec.Command("qbe", "-o", outputName, "-t", cfg.QbeTarget, inputFile.Name())
	if err = cmd.Run(); err != nil {
		return nil, fmt.Errorf("\n--- QBE Compilation Failed ---\nGenerated IR:\n%s\n\nError: %w", qbeIR, err)
	}

	outputFile, err := os.Open(outputName)
	if err != nil {
		return nil, err
	}
	defer os.Remove(outputName)
	defer outputFile.Close()

	var asmBuf bytes.Buffer
	if _, err = io.Copy(&asmBuf, outputFile); err != nil {
		return nil, err
	}
	return &Output{IR: qbeIR, Asm: &asmBuf, Frame: b.frame, Warnings: warns}, nil
}
