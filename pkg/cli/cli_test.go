package cli

import (
	"bytes"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

type testFlags struct {
	out     string
	entries []string
	depth   int
	run     bool
	warn    []string
	all     bool
	noAll   bool
}

func newTestSet() (*FlagSet, *testFlags) {
	v := &testFlags{}
	fs := NewFlagSet("vmc")
	fs.String(&v.out, "output", "o", "", "Output file", "file")
	fs.List(&v.entries, "entry", "e", []string{}, "Entry name", "name")
	fs.Int(&v.depth, "depth", "", 0, "Stack depth", "n")
	fs.Bool(&v.run, "run", "r", false, "Run it")
	fs.Special(&v.warn, "W", "Warning switch", "warning")
	v.all = true
	fs.AddFlagGroup("Warning Flags", "warning", "Available Warning Flags:", []FlagGroupEntry{
		{Name: "all", Prefix: "W", Usage: "Every warning", Enabled: &v.all, Disabled: &v.noAll},
	})
	return fs, v
}

func TestParse(t *testing.T) {
	fs, v := newTestSet()
	args := []string{"-oout.s", "--entry", "main", "-e=start", "--depth=12", "-r", "-Wfoo", "-Wno-all", "in.hex", "--", "-x"}
	if err := fs.Parse(args); err != nil {
		t.Fatal(err)
	}
	if v.out != "out.s" || v.depth != 12 || !v.run || !v.noAll {
		t.Errorf("parsed %+v", *v)
	}
	if diff := cmp.Diff([]string{"main", "start"}, v.entries); diff != "" {
		t.Errorf("entries (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"foo"}, v.warn); diff != "" {
		t.Errorf("prefix flag (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"in.hex", "-x"}, fs.Args()); diff != "" {
		t.Errorf("args (-want +got):\n%s", diff)
	}

	var visited []string
	fs.Visit(func(name string) { visited = append(visited, name) })
	want := []string{"W", "Wno-all", "depth", "entry", "output", "run"}
	if diff := cmp.Diff(want, visited); diff != "" {
		t.Errorf("visited (-want +got):\n%s", diff)
	}
	if !fs.Changed("depth") || fs.Changed("Wall") {
		t.Error("Changed disagrees with the command line")
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		args []string
		want string
	}{
		{[]string{"--nope"}, "unknown flag"},
		{[]string{"-q"}, "unknown shorthand"},
		{[]string{"--output"}, "needs an argument"},
		{[]string{"-o"}, "needs an argument"},
		{[]string{"--depth=x"}, "invalid"},
	}
	for _, tt := range tests {
		fs, _ := newTestSet()
		err := fs.Parse(tt.args)
		if err == nil || !strings.Contains(err.Error(), tt.want) {
			t.Errorf("Parse(%q) = %v, want error containing %q", tt.args, err, tt.want)
		}
	}
}

func TestWriteHelp(t *testing.T) {
	fs, _ := newTestSet()
	app := &App{Name: "vmc", Usage: "<input>", Synopsis: "[options] <input>", Authors: []string{"xplshn"}, FlagSet: fs}
	var buf bytes.Buffer
	app.WriteHelp(&buf)
	help := buf.String()
	for _, want := range []string{
		"vmc <options> <input>",
		"-o <file>, --output <file>",
		"--depth=n",
		"Warning Flags",
		"-Wno-<warning>",
		"Available Warning Flags:",
		"|x|",
	} {
		if !strings.Contains(help, want) {
			t.Errorf("help lacks %q:\n%s", want, help)
		}
	}
	if strings.Contains(help, "--Wall") {
		t.Errorf("group switch listed as an option:\n%s", help)
	}
}

func TestRunHelp(t *testing.T) {
	var out, errOut bytes.Buffer
	called := false
	newApp := func() *App {
		fs, _ := newTestSet()
		return &App{Name: "vmc", FlagSet: fs, Stdout: &out, Stderr: &errOut, Action: func([]string) error {
			called = true
			return nil
		}}
	}
	if err := newApp().Run([]string{"-h"}); err != nil {
		t.Fatal(err)
	}
	if called || out.Len() == 0 {
		t.Errorf("help did not short-circuit the action (called=%v)", called)
	}

	if err := newApp().Run([]string{"--bogus"}); err == nil {
		t.Error("expected a parse error")
	}
	if !strings.Contains(errOut.String(), "Usage: vmc") {
		t.Errorf("usage not printed on error: %q", errOut.String())
	}
}

func TestWrapText(t *testing.T) {
	got := wrapText("one two three four", 9)
	if diff := cmp.Diff([]string{"one two", "three", "four"}, got); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}
