// Package cli is a small flag parser with grouped -W/-F switches and a
// terminal-aware help page.
package cli

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/term"
)

const indentUnit = 4

func indent(level int) string { return strings.Repeat(" ", indentUnit*level) }

type Value interface {
	String() string
	Set(string) error
	Get() any
}

type stringValue struct{ p *string }

func (v *stringValue) Set(s string) error { *v.p = s; return nil }
func (v *stringValue) String() string     { return *v.p }
func (v *stringValue) Get() any           { return *v.p }

type boolValue struct{ p *bool }

func (v *boolValue) Set(s string) error {
	if s == "" {
		*v.p = true
		return nil
	}
	val, err := strconv.ParseBool(s)
	if err != nil {
		return fmt.Errorf("invalid boolean value '%s': %w", s, err)
	}
	*v.p = val
	return nil
}
func (v *boolValue) String() string { return strconv.FormatBool(*v.p) }
func (v *boolValue) Get() any       { return *v.p }

type intValue struct{ p *int }

func (v *intValue) Set(s string) error {
	n, err := strconv.ParseInt(s, 0, 0)
	if err != nil {
		return fmt.Errorf("invalid integer value '%s'", s)
	}
	*v.p = int(n)
	return nil
}
func (v *intValue) String() string { return strconv.Itoa(*v.p) }
func (v *intValue) Get() any       { return *v.p }

type listValue struct{ p *[]string }

func (v *listValue) Set(s string) error { *v.p = append(*v.p, s); return nil }
func (v *listValue) String() string     { return strings.Join(*v.p, ", ") }
func (v *listValue) Get() any           { return *v.p }

type Flag struct {
	Name         string
	Shorthand    string
	Usage        string
	Value        Value
	DefValue     string
	ExpectedType string
}

func (f *Flag) isBool() bool {
	_, ok := f.Value.(*boolValue)
	return ok
}

// FlagGroup is a family of on/off switches sharing a prefix, such as the
// -W warnings.
type FlagGroup struct {
	Name                 string
	GroupType            string
	AvailableFlagsHeader string
	Flags                []FlagGroupEntry
}

type FlagGroupEntry struct {
	Name     string
	Prefix   string
	Usage    string
	Enabled  *bool
	Disabled *bool
}

type FlagSet struct {
	name          string
	flags         map[string]*Flag
	shorthands    map[string]*Flag
	specialPrefix map[string]*Flag
	visited       map[string]bool
	args          []string
	groups        []FlagGroup
}

func NewFlagSet(name string) *FlagSet {
	return &FlagSet{
		name:          name,
		flags:         make(map[string]*Flag),
		shorthands:    make(map[string]*Flag),
		specialPrefix: make(map[string]*Flag),
		visited:       make(map[string]bool),
	}
}

func (f *FlagSet) Args() []string { return f.args }

func (f *FlagSet) Lookup(name string) *Flag { return f.flags[name] }

// Visit calls fn for every flag set on the command line, in name order.
func (f *FlagSet) Visit(fn func(name string)) {
	names := make([]string, 0, len(f.visited))
	for n := range f.visited {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		fn(n)
	}
}

// Changed reports whether name was given on the command line.
func (f *FlagSet) Changed(name string) bool { return f.visited[name] }

func (f *FlagSet) String(p *string, name, shorthand, value, usage, expectedType string) {
	*p = value
	f.Var(&stringValue{p}, name, shorthand, usage, value, expectedType)
}

func (f *FlagSet) Bool(p *bool, name, shorthand string, value bool, usage string) {
	*p = value
	f.Var(&boolValue{p}, name, shorthand, usage, strconv.FormatBool(value), "")
}

func (f *FlagSet) Int(p *int, name, shorthand string, value int, usage, expectedType string) {
	*p = value
	f.Var(&intValue{p}, name, shorthand, usage, strconv.Itoa(value), expectedType)
}

func (f *FlagSet) List(p *[]string, name, shorthand string, value []string, usage, expectedType string) {
	*p = value
	f.Var(&listValue{p}, name, shorthand, usage, strings.Join(value, ","), expectedType)
}

// Special registers a prefix flag: "-Wfoo" appends "foo" to *p.
func (f *FlagSet) Special(p *[]string, prefix, usage, expectedType string) {
	*p = []string{}
	f.Var(&listValue{p}, prefix, "", usage, "", expectedType)
	f.specialPrefix[prefix] = f.flags[prefix]
}

// AddFlagGroup defines the enable and "no-" disable switch of every entry
// and lists them together on the help page.
func (f *FlagSet) AddFlagGroup(name, groupType, header string, entries []FlagGroupEntry) {
	for _, e := range entries {
		if e.Enabled != nil {
			f.Bool(e.Enabled, e.Prefix+e.Name, "", *e.Enabled, e.Usage)
		}
		if e.Disabled != nil {
			f.Bool(e.Disabled, e.Prefix+"no-"+e.Name, "", *e.Disabled, "Disable '"+e.Name+"'")
		}
	}
	f.groups = append(f.groups, FlagGroup{Name: name, GroupType: groupType, AvailableFlagsHeader: header, Flags: entries})
}

func (f *FlagSet) Var(value Value, name, shorthand, usage, defValue, expectedType string) {
	if name == "" {
		panic("flag name cannot be empty")
	}
	if _, ok := f.flags[name]; ok {
		panic(fmt.Sprintf("flag redefined: %s", name))
	}
	flag := &Flag{Name: name, Shorthand: shorthand, Usage: usage, Value: value, DefValue: defValue, ExpectedType: expectedType}
	f.flags[name] = flag
	if shorthand == "" {
		return
	}
	if _, ok := f.shorthands[shorthand]; ok {
		panic(fmt.Sprintf("shorthand flag redefined: %s", shorthand))
	}
	f.shorthands[shorthand] = flag
}

func (f *FlagSet) set(flag *Flag, value string) error {
	f.visited[flag.Name] = true
	return flag.Value.Set(value)
}

// Parse accepts "-name", "-name=value", "-name value", the same with two
// dashes, single-letter shorthands with attached values and prefix flags.
// Everything else is a positional argument.
func (f *FlagSet) Parse(arguments []string) error {
	f.args = []string{}
	for i := 0; i < len(arguments); i++ {
		arg := arguments[i]
		if len(arg) < 2 || arg[0] != '-' {
			f.args = append(f.args, arg)
			continue
		}
		if arg == "--" {
			f.args = append(f.args, arguments[i+1:]...)
			break
		}

		body := strings.TrimPrefix(strings.TrimPrefix(arg, "-"), "-")
		name, value, hasValue := strings.Cut(body, "=")
		if name == "" {
			return fmt.Errorf("empty flag name")
		}

		flag, ok := f.flags[name]
		if !ok {
			if strings.HasPrefix(arg, "--") {
				return fmt.Errorf("unknown flag: --%s", name)
			}
			if err := f.parseShort(arg, arguments, &i); err != nil {
				return err
			}
			continue
		}

		switch {
		case hasValue:
			if err := f.set(flag, value); err != nil {
				return err
			}
		case flag.isBool():
			if err := f.set(flag, ""); err != nil {
				return err
			}
		default:
			if i+1 >= len(arguments) {
				return fmt.Errorf("flag needs an argument: %s", arg)
			}
			i++
			if err := f.set(flag, arguments[i]); err != nil {
				return err
			}
		}
	}
	return nil
}

func (f *FlagSet) parseShort(arg string, arguments []string, i *int) error {
	for prefix, flag := range f.specialPrefix {
		if strings.HasPrefix(arg, "-"+prefix) && len(arg) > len(prefix)+1 {
			return f.set(flag, arg[len(prefix)+1:])
		}
	}

	shorthand := arg[1:2]
	flag, ok := f.shorthands[shorthand]
	if !ok {
		return fmt.Errorf("unknown shorthand flag: -%s", shorthand)
	}
	if flag.isBool() {
		return f.set(flag, "")
	}
	value := strings.TrimPrefix(arg[2:], "=")
	if value == "" {
		if *i+1 >= len(arguments) {
			return fmt.Errorf("flag needs an argument: -%s", shorthand)
		}
		*i++
		value = arguments[*i]
	}
	return f.set(flag, value)
}

type App struct {
	Name        string
	Usage       string // positional part of the usage line
	Synopsis    string
	Description string
	Authors     []string
	Repository  string
	FlagSet     *FlagSet
	Action      func(args []string) error

	Stdout, Stderr io.Writer
}

func NewApp(name string) *App {
	return &App{Name: name, FlagSet: NewFlagSet(name), Stdout: os.Stdout, Stderr: os.Stderr}
}

func (a *App) Run(arguments []string) error {
	help := false
	a.FlagSet.Bool(&help, "help", "h", false, "Display this information")

	if err := a.FlagSet.Parse(arguments); err != nil {
		fmt.Fprintln(a.Stderr, err)
		a.WriteUsage(a.Stderr)
		return err
	}
	if help {
		a.WriteHelp(a.Stdout)
		return nil
	}
	if a.Action != nil {
		return a.Action(a.FlagSet.Args())
	}
	return nil
}

// layout holds the column widths shared by every entry of a page.
type layout struct {
	term, left, usage int
}

func (a *App) measure() layout {
	l := layout{term: terminalWidth()}
	for _, flag := range a.optionFlags() {
		l.left = max(l.left, len(flag.display()))
		l.usage = max(l.usage, len(flag.Usage))
	}
	for _, g := range a.FlagSet.groups {
		kind := g.kind()
		l.left = max(l.left, len(fmt.Sprintf("-%sno-<%s>", g.prefix(), kind)))
		for _, e := range g.Flags {
			l.left = max(l.left, len(e.Name))
			l.usage = max(l.usage, len(e.Usage))
		}
	}
	return l
}

func (a *App) WriteUsage(w io.Writer) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Usage: %s <options> %s\n", a.Name, a.Usage)
	if flags := a.optionFlags(); len(flags) > 0 {
		l := a.measure()
		fmt.Fprintf(&sb, "\n%sOptions\n", indent(1))
		for _, flag := range flags {
			l.flagLine(&sb, flag)
		}
	}
	fmt.Fprintf(&sb, "\nRun '%s --help' for all available options and flags.\n", a.Name)
	io.WriteString(w, sb.String())
}

func (a *App) WriteHelp(w io.Writer) {
	var sb strings.Builder
	l := a.measure()

	fmt.Fprintf(&sb, "\n%sCopyright (c) %d: %s and contributors\n", indent(1), time.Now().Year(), strings.Join(a.Authors, ", "))
	if a.Repository != "" {
		fmt.Fprintf(&sb, "%sFor more details refer to %s\n", indent(1), a.Repository)
	}
	if a.Synopsis != "" {
		synopsis := strings.NewReplacer("[", "<", "]", ">").Replace(a.Synopsis)
		fmt.Fprintf(&sb, "\n%sSynopsis\n%s%s %s\n", indent(1), indent(2), a.Name, synopsis)
	}
	if a.Description != "" {
		fmt.Fprintf(&sb, "\n%sDescription\n", indent(1))
		for _, line := range wrapText(a.Description, l.term-len(indent(2))) {
			fmt.Fprintf(&sb, "%s%s\n", indent(2), line)
		}
	}
	if flags := a.optionFlags(); len(flags) > 0 {
		fmt.Fprintf(&sb, "\n%sOptions\n", indent(1))
		for _, flag := range flags {
			l.flagLine(&sb, flag)
		}
	}

	groups := append([]FlagGroup(nil), a.FlagSet.groups...)
	sort.Slice(groups, func(i, j int) bool { return groups[i].Name < groups[j].Name })
	for _, g := range groups {
		l.group(&sb, g)
	}
	io.WriteString(w, sb.String())
}

// optionFlags returns the plain flags, sorted, without prefix flags and
// group switches.
func (a *App) optionFlags() []*Flag {
	grouped := make(map[string]bool)
	for _, g := range a.FlagSet.groups {
		for _, e := range g.Flags {
			grouped[e.Prefix+e.Name] = true
			grouped[e.Prefix+"no-"+e.Name] = true
		}
	}
	var out []*Flag
	for name, flag := range a.FlagSet.flags {
		if _, special := a.FlagSet.specialPrefix[name]; special || grouped[name] {
			continue
		}
		out = append(out, flag)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (f *Flag) display() string {
	var sb strings.Builder
	switch {
	case f.Shorthand != "" && f.isBool():
		fmt.Fprintf(&sb, "-%s, --%s", f.Shorthand, f.Name)
	case f.Shorthand != "":
		fmt.Fprintf(&sb, "-%s <%s>, --%s <%s>", f.Shorthand, f.ExpectedType, f.Name, f.ExpectedType)
	case f.isBool() || f.ExpectedType == "":
		fmt.Fprintf(&sb, "--%s", f.Name)
	default:
		fmt.Fprintf(&sb, "--%s=%s", f.Name, f.ExpectedType)
	}
	return sb.String()
}

func (g FlagGroup) prefix() string {
	if len(g.Flags) == 0 {
		return ""
	}
	return g.Flags[0].Prefix
}

func (g FlagGroup) kind() string {
	if g.GroupType == "" {
		return "flag"
	}
	return g.GroupType
}

func (l layout) entry(sb *strings.Builder, left, usage, right string) {
	pad := indent(2)
	room := max(l.term-len(pad)-l.left-1-2-len(right), 10)
	lines := wrapText(usage, room)
	first := ""
	if len(lines) > 0 {
		first = lines[0]
	}
	if right != "" {
		fmt.Fprintf(sb, "%s%-*s %-*s  %s\n", pad, l.left, left, min(l.usage, room), first, right)
	} else {
		fmt.Fprintf(sb, "%s%-*s %s\n", pad, l.left, left, first)
	}
	cont := strings.Repeat(" ", l.left+1)
	for _, line := range lines[min(1, len(lines)):] {
		fmt.Fprintf(sb, "%s%s%s\n", pad, cont, line)
	}
}

func (l layout) flagLine(sb *strings.Builder, flag *Flag) {
	right := ""
	if !flag.isBool() && flag.DefValue != "" && flag.DefValue != "0" {
		right = "|" + flag.DefValue + "|"
	}
	l.entry(sb, flag.display(), flag.Usage, right)
}

func (l layout) group(sb *strings.Builder, g FlagGroup) {
	kind := g.kind()
	fmt.Fprintf(sb, "\n%s%s\n", indent(1), g.Name)
	fmt.Fprintf(sb, "%s%-*s Enable a specific %s\n", indent(2), l.left, fmt.Sprintf("-%s<%s>", g.prefix(), kind), kind)
	fmt.Fprintf(sb, "%s%-*s Disable a specific %s\n", indent(2), l.left, fmt.Sprintf("-%sno-<%s>", g.prefix(), kind), kind)
	if g.AvailableFlagsHeader != "" {
		fmt.Fprintf(sb, "%s%s\n", indent(1), g.AvailableFlagsHeader)
	}

	entries := append([]FlagGroupEntry(nil), g.Flags...)
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	for _, e := range entries {
		state := "|-|"
		if e.Enabled != nil && *e.Enabled && (e.Disabled == nil || !*e.Disabled) {
			state = "|x|"
		}
		l.entry(sb, e.Name, e.Usage, state)
	}
}

func terminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		return 80
	}
	return max(width, 20)
}

func wrapText(text string, width int) []string {
	if width <= 0 {
		return []string{text}
	}
	var lines []string
	var cur strings.Builder
	for _, word := range strings.Fields(text) {
		if cur.Len() > 0 && cur.Len()+1+len(word) > width {
			lines = append(lines, cur.String())
			cur.Reset()
		}
		if cur.Len() > 0 {
			cur.WriteByte(' ')
		}
		cur.WriteString(word)
	}
	if cur.Len() > 0 {
		lines = append(lines, cur.String())
	}
	return lines
}
