package util

import (
	"fmt"
	"io"
	"os"

	"github.com/xplshn/vmc/pkg/config"
)

// Pos locates a diagnostic. Offset is a bytecode offset and Line an
// assembly line; either may be negative/zero when not applicable.
type Pos struct {
	File   string
	Offset int
	Line   int
}

// NoPos is used for diagnostics that are not tied to any input location.
var NoPos = Pos{Offset: -1}

func (p Pos) String() string {
	name := p.File
	if name == "" {
		name = "<input>"
	}
	switch {
	case p.Line > 0:
		return fmt.Sprintf("%s:%d", name, p.Line)
	case p.Offset >= 0:
		return fmt.Sprintf("%s:+%d", name, p.Offset)
	default:
		return name
	}
}

// Stderr is where diagnostics go.
var Stderr io.Writer = os.Stderr

var exit = os.Exit

// Error prints a formatted error message and exits the program
func Error(pos Pos, format string, args ...interface{}) {
	fmt.Fprintf(Stderr, "%s: \033[31merror:\033[0m ", pos)
	fmt.Fprintf(Stderr, format, args...)
	fmt.Fprintln(Stderr)
	exit(1)
}

// Warn prints a formatted warning message if the corresponding warning is
// enabled. It reports whether anything was printed.
func Warn(cfg *config.Config, wt config.Warning, pos Pos, format string, args ...interface{}) bool {
	if !cfg.IsWarningEnabled(wt) {
		return false
	}
	fmt.Fprintf(Stderr, "%s: \033[33mwarning:\033[0m ", pos)
	fmt.Fprintf(Stderr, format, args...)
	fmt.Fprintf(Stderr, " [-W%s]\n", cfg.Warnings[wt].Name)
	return true
}

func Info(format string, args ...interface{}) {
	fmt.Fprintf(Stderr, "vmc: info: ")
	fmt.Fprintf(Stderr, format, args...)
	fmt.Fprintln(Stderr)
}

// PrintFeatures and PrintWarnings list every switch with its state.
func PrintFeatures(w io.Writer, cfg *config.Config) {
	for i := config.Feature(0); i < config.FeatCount; i++ {
		info := cfg.Features[i]
		fmt.Fprintf(w, "  - %-20s: %v (%s)\n", info.Name, info.Enabled, info.Description)
	}
}

func PrintWarnings(w io.Writer, cfg *config.Config) {
	for i := config.Warning(0); i < config.WarnCount; i++ {
		info := cfg.Warnings[i]
		fmt.Fprintf(w, "  - %-20s: %v (%s)\n", info.Name, info.Enabled, info.Description)
	}
}
