package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/xplshn/vmc/pkg/cli"
	"modernc.org/libqbe"
)

type Feature int

const (
	FeatLaElide Feature = iota
	FeatImplicitEntry
	FeatCount
)

type Warning int

const (
	WarnUnknownOp Warning = iota
	WarnDroppedSymbol
	WarnSymbolName
	WarnDepth
	WarnPedantic
	WarnExtra
	WarnCount
)

type Info struct {
	Name        string
	Enabled     bool
	Description string
}

const (
	TargetMIPS = "mips"
	TargetQBE  = "qbe"

	FormatHex = "hex"
	FormatBin = "bin"

	DefaultLocalSlots = 16
	DefaultStackTop   = 0x7fffeff8

	// MaxLocalSlots keeps every local's frame offset inside a signed
	// 16-bit displacement.
	MaxLocalSlots = 4096
)

type Config struct {
	Features   map[Feature]Info
	Warnings   map[Warning]Info
	FeatureMap map[string]Feature
	WarningMap map[string]Warning

	// Target selects the backend: TargetMIPS or TargetQBE.
	Target     string
	TargetArch string
	QbeTarget  string
	WordSize   int
	WordType   string

	EntryNames []string
	LocalSlots int
	// StackDepth is the operand stack depth reserved per frame. Zero means
	// estimate it from the program.
	StackDepth   int
	StackTop     uint32
	OutputFormat string

	WarningsAsErrors bool
}

func NewConfig() *Config {
	cfg := &Config{
		Features:     make(map[Feature]Info),
		Warnings:     make(map[Warning]Info),
		FeatureMap:   make(map[string]Feature),
		WarningMap:   make(map[string]Warning),
		Target:       TargetMIPS,
		EntryNames:   []string{"main", "kik"},
		LocalSlots:   DefaultLocalSlots,
		StackTop:     DefaultStackTop,
		OutputFormat: FormatHex,
	}

	features := map[Feature]Info{
		FeatLaElide:       {"la-elide", true, "Drop the 'ori' of an 'la' whose low 16 bits are known to be zero."},
		FeatImplicitEntry: {"implicit-entry", true, "Start the entry function at offset 0 when no entry symbol is defined."},
	}

	warnings := map[Warning]Info{
		WarnUnknownOp:     {"unknown-op", true, "Warn when an unrecognized instruction is lowered to a nop."},
		WarnDroppedSymbol: {"dropped-symbol", true, "Warn when a defined symbol does not start an instruction."},
		WarnSymbolName:    {"symbol-name", true, "Warn when a global symbol can not be used as an assembler label."},
		WarnDepth:         {"depth", false, "Report the operand stack depth reserved per frame."},
		WarnPedantic:      {"pedantic", false, "Issue every warning, including informational ones."},
		WarnExtra:         {"extra", true, "Enable extra miscellaneous warnings (e.g. unrecognized flags)."},
	}

	cfg.Features, cfg.Warnings = features, warnings
	for ft, info := range features {
		cfg.FeatureMap[info.Name] = ft
	}
	for wt, info := range warnings {
		cfg.WarningMap[info.Name] = wt
	}

	return cfg
}

// SetTarget selects the backend. target is "mips", "qbe" or a QBE target
// name such as "amd64_sysv", which implies the QBE backend.
func (c *Config) SetTarget(goos, goarch, target string) {
	c.TargetArch = goarch
	switch target {
	case "", TargetMIPS:
		c.Target = TargetMIPS
		c.WordSize, c.WordType = 4, "w"
		return
	case TargetQBE:
		c.Target = TargetQBE
		c.QbeTarget = libqbe.DefaultTarget(goos, goarch)
		fmt.Fprintf(os.Stderr, "vmc: info: no QBE target specified, defaulting to host target '%s'\n", c.QbeTarget)
	default:
		c.Target = TargetQBE
		c.QbeTarget = target
		fmt.Fprintf(os.Stderr, "vmc: info: using specified QBE target '%s'\n", c.QbeTarget)
	}

	switch c.QbeTarget {
	case "amd64_sysv", "amd64_apple", "arm64", "arm64_apple", "rv64":
		c.WordSize, c.WordType = 8, "l"
	case "arm", "rv32":
		c.WordSize, c.WordType = 4, "w"
	default:
		fmt.Fprintf(os.Stderr, "vmc: warning: unrecognized or unsupported QBE target '%s'.\n", c.QbeTarget)
		fmt.Fprintf(os.Stderr, "vmc: warning: defaulting to 64-bit properties. Compilation may fail.\n")
		c.WordSize, c.WordType = 8, "l"
	}
}

func (c *Config) SetFeature(ft Feature, enabled bool) {
	if info, ok := c.Features[ft]; ok {
		info.Enabled = enabled
		c.Features[ft] = info
	}
}

func (c *Config) IsFeatureEnabled(ft Feature) bool { return c.Features[ft].Enabled }

func (c *Config) SetWarning(wt Warning, enabled bool) {
	if info, ok := c.Warnings[wt]; ok {
		info.Enabled = enabled
		c.Warnings[wt] = info
	}
}

func (c *Config) IsWarningEnabled(wt Warning) bool {
	return c.Warnings[wt].Enabled || (c.Warnings[WarnPedantic].Enabled && wt != WarnPedantic)
}

// Validate checks the numeric knobs for values the backends can not honor.
func (c *Config) Validate() error {
	if c.LocalSlots < 1 || c.LocalSlots > MaxLocalSlots {
		return fmt.Errorf("local slot count %d out of range [1, %d]", c.LocalSlots, MaxLocalSlots)
	}
	if c.StackDepth < 0 {
		return fmt.Errorf("negative stack depth %d", c.StackDepth)
	}
	if c.StackTop&7 != 0 {
		return fmt.Errorf("stack top %#x is not 8-byte aligned", c.StackTop)
	}
	switch c.OutputFormat {
	case FormatHex, FormatBin:
	default:
		return fmt.Errorf("unknown output format '%s'. Supported: '%s', '%s'", c.OutputFormat, FormatHex, FormatBin)
	}
	if len(c.EntryNames) == 0 {
		return fmt.Errorf("no entry symbol names configured")
	}
	return nil
}

// ApplyFlag applies one -W or -F switch. It reports whether the name was
// recognized.
func (c *Config) ApplyFlag(flag string) bool {
	trimmed := strings.TrimPrefix(flag, "-")
	isNo := strings.HasPrefix(trimmed, "Wno-") || strings.HasPrefix(trimmed, "Fno-")
	enable := !isNo

	var name string
	var isWarning bool

	switch {
	case strings.HasPrefix(trimmed, "W"):
		name = strings.TrimPrefix(trimmed, "W")
		if isNo {
			name = strings.TrimPrefix(name, "no-")
		}
		isWarning = true
	case strings.HasPrefix(trimmed, "F"):
		name = strings.TrimPrefix(trimmed, "F")
		if isNo {
			name = strings.TrimPrefix(name, "no-")
		}
	default:
		name = trimmed
		isWarning = true
	}

	if isWarning {
		switch name {
		case "all":
			for i := Warning(0); i < WarnCount; i++ {
				if i != WarnPedantic {
					c.SetWarning(i, enable)
				}
			}
			return true
		case "error":
			c.WarningsAsErrors = enable
			return true
		}
		if w, ok := c.WarningMap[name]; ok {
			c.SetWarning(w, enable)
			return true
		}
		return false
	}

	if f, ok := c.FeatureMap[name]; ok {
		c.SetFeature(f, enable)
		return true
	}
	return false
}

// ProcessFlags applies group switches before individual ones, so that
// "-Wno-all -Wunknown-op" leaves exactly one warning enabled.
func (c *Config) ProcessFlags(visitFlag func(fn func(name string))) []string {
	var unknown []string
	isGroup := func(name string) bool {
		return name == "Wall" || name == "Wno-all" || name == "Wpedantic"
	}
	visitFlag(func(name string) {
		if isGroup(name) {
			c.ApplyFlag("-" + name)
		}
	})
	visitFlag(func(name string) {
		if !isGroup(name) && !c.ApplyFlag("-"+name) {
			unknown = append(unknown, name)
		}
	})
	return unknown
}

// SetupFlagGroups defines the -W and -F switches on fs. The returned entries
// are indexed by Warning and Feature.
func (c *Config) SetupFlagGroups(fs *cli.FlagSet) (warnings, features []cli.FlagGroupEntry) {
	for i := Warning(0); i < WarnCount; i++ {
		info := c.Warnings[i]
		on, off := info.Enabled, false
		warnings = append(warnings, cli.FlagGroupEntry{
			Name: info.Name, Prefix: "W", Usage: info.Description, Enabled: &on, Disabled: &off,
		})
	}
	for i := Feature(0); i < FeatCount; i++ {
		info := c.Features[i]
		on, off := info.Enabled, false
		features = append(features, cli.FlagGroupEntry{
			Name: info.Name, Prefix: "F", Usage: info.Description, Enabled: &on, Disabled: &off,
		})
	}
	fs.AddFlagGroup("Warning Flags", "warning", "Available Warning Flags:", warnings)
	fs.AddFlagGroup("Feature Flags", "feature", "Available Feature Flags:", features)
	return warnings, features
}
