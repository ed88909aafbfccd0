package main

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/xplshn/vmc/pkg/asm"
	"github.com/xplshn/vmc/pkg/cli"
	"github.com/xplshn/vmc/pkg/compiler"
	"github.com/xplshn/vmc/pkg/config"
	"github.com/xplshn/vmc/pkg/container"
	"github.com/xplshn/vmc/pkg/ir"
	"github.com/xplshn/vmc/pkg/util"
)

func main() {
	app := cli.NewApp("vmc")
	app.Usage = "<input>"
	app.Synopsis = "[options] <input>"
	app.Description = "Translates KATS/OATS stack bytecode into MIPS32 machine code, or into native code through QBE."
	app.Authors = []string{"xplshn"}
	app.Repository = "<https://github.com/xplshn/vmc>"

	var (
		outFile    string
		format     string
		target     string
		configFile string
		entryNames []string
		locals     int
		depth      int
		maxSteps   int
		wSwitches  []string
		fSwitches  []string
		dumpIR     bool
		emitAsm    bool
		run        bool
		assemble   bool
		raw        bool
		listFlags  bool
	)

	fs := app.FlagSet
	fs.String(&outFile, "output", "o", "", "Place the output into <file>. '-' writes to stdout.", "file")
	fs.String(&format, "format", "", config.FormatHex, "Machine code output format (hex, bin).", "fmt")
	fs.String(&target, "target", "t", config.TargetMIPS, "Backend: 'mips', 'qbe' or a QBE target such as 'amd64_sysv'.", "backend/target")
	fs.String(&configFile, "config", "c", "", "Read settings from a YAML file before applying flags.", "file")
	fs.List(&entryNames, "entry", "e", []string{}, "Treat symbols with this name as the entry point (repeatable).", "name")
	fs.Int(&locals, "locals", "", 0, "Local slots per frame.", "n")
	fs.Int(&depth, "depth", "", 0, "Operand stack cells per frame (0 estimates it).", "n")
	fs.Int(&maxSteps, "max-steps", "", 50_000_000, "Instruction limit for --run.", "n")
	fs.Bool(&dumpIR, "dump-ir", "d", false, "Print the decoded instructions (or the QBE IL) and exit.")
	fs.Bool(&emitAsm, "emit-asm", "S", false, "Write MIPS assembly instead of machine code.")
	fs.Bool(&run, "run", "r", false, "Execute the program in the built-in MIPS emulator.")
	fs.Bool(&assemble, "assemble", "a", false, "Treat the input as MIPS assembly and only assemble it.")
	fs.Bool(&raw, "raw", "", false, "Treat the input as a bare code section without a container header.")
	fs.Bool(&listFlags, "list-flags", "", false, "Print every warning and feature switch with its state.")
	fs.Special(&wSwitches, "W", "Enable or disable a warning (e.g. -Wall, -Wno-depth, -Werror)", "warning")
	fs.Special(&fSwitches, "F", "Enable or disable a feature (e.g. -Fno-la-elide)", "feature")

	cfg := config.NewConfig()
	cfg.SetupFlagGroups(fs)

	app.Action = func(args []string) error {
		if configFile != "" {
			if err := cfg.LoadFile(configFile); err != nil {
				util.Error(util.Pos{File: configFile, Offset: -1}, "%v", err)
			}
		}

		var switches []string
		fs.Visit(func(name string) {
			if len(name) > 1 && (name[0] == 'W' || name[0] == 'F') {
				switches = append(switches, name)
			}
		})
		for _, s := range wSwitches {
			switches = append(switches, "W"+s)
		}
		for _, s := range fSwitches {
			switches = append(switches, "F"+s)
		}
		unknown := cfg.ProcessFlags(func(fn func(string)) {
			for _, s := range switches {
				fn(s)
			}
		})
		for _, name := range unknown {
			util.Warn(cfg, config.WarnExtra, util.NoPos, "unrecognized switch '-%s'", name)
		}

		if listFlags {
			fmt.Println("Features:")
			util.PrintFeatures(os.Stdout, cfg)
			fmt.Println("Warnings:")
			util.PrintWarnings(os.Stdout, cfg)
			return nil
		}

		if fs.Changed("target") || configFile == "" {
			cfg.SetTarget(runtime.GOOS, runtime.GOARCH, target)
		}
		if fs.Changed("format") {
			cfg.OutputFormat = format
		}
		if len(entryNames) > 0 {
			cfg.EntryNames = entryNames
		}
		if fs.Changed("locals") {
			cfg.LocalSlots = locals
		}
		if fs.Changed("depth") {
			cfg.StackDepth = depth
		}
		if err := cfg.Validate(); err != nil {
			util.Error(util.NoPos, "%v", err)
		}

		if len(args) != 1 {
			util.Error(util.NoPos, "expected exactly one input file, got %d", len(args))
		}
		input := args[0]
		d := &driver{cfg: cfg, input: input, out: outFile, maxSteps: maxSteps}

		if assemble {
			return d.assembleOnly()
		}
		return d.compile(raw, dumpIR, emitAsm, run)
	}

	if err := app.Run(os.Args[1:]); err != nil {
		os.Exit(1)
	}
}

type driver struct {
	cfg      *config.Config
	input    string
	out      string
	maxSteps int
	warned   int
}

func (d *driver) pos(offset int) util.Pos { return util.Pos{File: d.input, Offset: offset} }

func (d *driver) compile(raw, dumpIR, emitAsm, run bool) error {
	data, err := os.ReadFile(d.input)
	if err != nil {
		util.Error(util.NoPos, "could not read file '%s': %v", d.input, err)
	}

	var c *container.Container
	if raw {
		code := data
		if container.IsHexText(data) {
			if code, err = container.ReadHex(bytes.NewReader(data)); err != nil {
				util.Error(d.pos(-1), "%v", err)
			}
		}
		c = &container.Container{Code: code}
	} else if c, err = container.Decode(data); err != nil {
		util.Error(d.pos(-1), "%v", err)
	}

	res, err := compiler.CompileContainer(c, d.cfg)
	if err != nil {
		util.Error(d.pos(-1), "%v", err)
	}
	for _, w := range res.Warnings {
		if util.Warn(d.cfg, w.Kind, d.pos(w.Offset), "%s", w.Msg) {
			d.warned++
		}
	}
	f := res.Output.Frame
	if util.Warn(d.cfg, config.WarnDepth, d.pos(-1), "reserving %d operand stack cells per frame (%d bytes, %d locals)", f.Depth, f.Size, f.LocalSlots) {
		d.warned++
	}
	if d.cfg.WarningsAsErrors && d.warned > 0 {
		util.Error(d.pos(-1), "%d warning(s) treated as errors", d.warned)
	}

	if dumpIR {
		if d.cfg.Target == config.TargetQBE {
			fmt.Print(res.Output.IR)
			return nil
		}
		dumpInstructions(os.Stdout, res.Program.Instructions)
		return nil
	}

	if d.cfg.Target == config.TargetQBE {
		if err := d.write(".s", func(w io.Writer) error {
			_, err := io.Copy(w, res.Output.Asm)
			return err
		}); err != nil {
			return err
		}
		if d.out != "-" {
			util.Info("wrote %s assembly; link it with a C compiler to get an executable", d.cfg.QbeTarget)
		}
		return nil
	}

	if run {
		status, err := compiler.Run(res.Machine.Words, d.maxSteps, os.Stdout)
		if err != nil {
			util.Error(d.pos(-1), "emulator: %v", err)
		}
		os.Exit(int(status & 0xFF))
	}

	if emitAsm {
		return d.write(".s", func(w io.Writer) error {
			for _, line := range res.Output.Lines {
				if _, err := fmt.Fprintln(w, line); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return d.writeMachine(res.Machine)
}

func (d *driver) assembleOnly() error {
	f, err := os.Open(d.input)
	if err != nil {
		util.Error(util.NoPos, "could not read file '%s': %v", d.input, err)
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		util.Error(d.pos(-1), "%v", err)
	}

	prog, err := compiler.Assemble(lines, d.cfg)
	if err != nil {
		var ae *asm.Error
		if errors.As(err, &ae) {
			util.Error(util.Pos{File: d.input, Line: ae.Line}, "%v", ae)
		}
		util.Error(d.pos(-1), "%v", err)
	}
	return d.writeMachine(prog)
}

func (d *driver) writeMachine(prog *asm.Program) error {
	if d.cfg.OutputFormat == config.FormatBin {
		return d.write(".bin", prog.WriteBinary)
	}
	return d.write(".hex", prog.WriteHex)
}

// write sends output to -o, stdout for "-", or to the input name with ext
// replacing its extension.
func (d *driver) write(ext string, fn func(io.Writer) error) error {
	name := d.out
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(d.input), filepath.Ext(d.input)) + ext
		if name == filepath.Base(d.input) {
			name += ext
		}
	}
	if name == "-" {
		return fn(os.Stdout)
	}

	f, err := os.Create(name)
	if err != nil {
		util.Error(util.NoPos, "could not create '%s': %v", name, err)
	}
	w := bufio.NewWriter(f)
	if err := fn(w); err != nil {
		f.Close()
		util.Error(util.NoPos, "writing '%s': %v", name, err)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		util.Error(util.NoPos, "writing '%s': %v", name, err)
	}
	return f.Close()
}

func dumpInstructions(w io.Writer, list []ir.Instruction) {
	offs := ir.Offsets(list)
	for i, in := range list {
		if in.Op.IsMarker() {
			fmt.Fprintf(w, "%6s  %s\n", "", in)
			continue
		}
		fmt.Fprintf(w, "%6d  %s\n", offs[i], in)
	}
}
