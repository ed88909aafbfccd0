package asm

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

var (
	ErrUndefinedLabel  = errors.New("undefined label")
	ErrUnknownMnemonic = errors.New("unknown mnemonic")
	ErrDuplicateLabel  = errors.New("duplicate label")
	ErrOperand         = errors.New("malformed operand")
	ErrAddressDrift    = errors.New("pass 2 word count differs from pass 1")
)

// Error reports the line an assembly failure happened on. Line is 1-based.
type Error struct {
	Line   int
	Text   string
	Err    error
	Detail string
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("line %d: %v", e.Line, e.Err)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if t := strings.TrimSpace(e.Text); t != "" {
		msg += fmt.Sprintf(" (%q)", t)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

type Assembler struct {
	labels map[string]uint32

	// ElideLowHalf drops the trailing ori of an la whose low 16 bits are
	// known to be zero during pass 1.
	ElideLowHalf bool
}

// Program is the result of a successful assembly.
type Program struct {
	Words  []uint32
	Labels map[string]uint32
	// SourceMap maps the address of every encoded instruction to its line.
	SourceMap map[uint32]int
}

type parsedLine struct {
	lineNo   int
	text     string
	labels   []string
	mnemonic string
	operands []string
	shape    *shape
	words    int
}

func New() *Assembler {
	return &Assembler{
		labels:       make(map[string]uint32),
		ElideLowHalf: true,
	}
}

func Assemble(lines []string) (*Program, error) {
	return New().Assemble(lines)
}

func (a *Assembler) Assemble(lines []string) (*Program, error) {
	a.labels = make(map[string]uint32)

	parsed := make([]parsedLine, len(lines))
	for i, raw := range lines {
		p, err := parseLine(raw, i+1)
		if err != nil {
			return nil, err
		}
		parsed[i] = p
	}

	if err := a.pass1(parsed); err != nil {
		return nil, err
	}
	return a.pass2(parsed)
}

func (a *Assembler) pass1(lines []parsedLine) error {
	var address uint32
	for i := range lines {
		p := &lines[i]
		for _, lbl := range p.labels {
			if _, exists := a.labels[lbl]; exists {
				return &Error{Line: p.lineNo, Text: p.text, Err: ErrDuplicateLabel, Detail: lbl}
			}
			a.labels[lbl] = address
		}
		if p.mnemonic == "" {
			continue
		}

		sh, ok := shapes[p.mnemonic]
		if !ok {
			return &Error{Line: p.lineNo, Text: p.text, Err: ErrUnknownMnemonic, Detail: p.mnemonic}
		}
		words, err := sh.size(a, p.operands)
		if err != nil {
			return wrapLine(p, err)
		}
		p.shape, p.words = sh, words
		address += uint32(words) * 4
	}
	return nil
}

func (a *Assembler) pass2(lines []parsedLine) (*Program, error) {
	prog := &Program{
		Labels:    make(map[string]uint32, len(a.labels)),
		SourceMap: make(map[uint32]int),
	}
	for k, v := range a.labels {
		prog.Labels[k] = v
	}

	var words []uint32
	for i := range lines {
		p := &lines[i]
		if p.shape == nil {
			continue
		}
		pc := uint32(len(words)) * 4
		enc := &encoder{asm: a, pc: pc}
		out, err := p.shape.encode(enc, p.operands, p.words)
		if err != nil {
			return nil, wrapLine(p, err)
		}
		if len(out) != p.words {
			return nil, &Error{Line: p.lineNo, Text: p.text, Err: ErrAddressDrift,
				Detail: fmt.Sprintf("%s encoded %d words, sized %d", p.mnemonic, len(out), p.words)}
		}
		prog.SourceMap[pc] = p.lineNo
		words = append(words, out...)
	}
	prog.Words = words
	return prog, nil
}

func wrapLine(p *parsedLine, err error) error {
	var detail *lineError
	if errors.As(err, &detail) {
		return &Error{Line: p.lineNo, Text: p.text, Err: detail.err, Detail: detail.detail}
	}
	return &Error{Line: p.lineNo, Text: p.text, Err: err}
}

// lineError is what shape functions return; the caller adds the position.
type lineError struct {
	err    error
	detail string
}

func (e *lineError) Error() string { return fmt.Sprintf("%v: %s", e.err, e.detail) }

func errf(err error, format string, args ...any) error {
	return &lineError{err: err, detail: fmt.Sprintf(format, args...)}
}

func parseLine(raw string, lineNo int) (parsedLine, error) {
	p := parsedLine{lineNo: lineNo, text: raw}

	line := strings.TrimSpace(stripComment(raw))
	for line != "" && !strings.HasPrefix(line, ".") {
		colon := strings.IndexByte(line, ':')
		if colon <= 0 {
			break
		}
		name := strings.TrimSpace(line[:colon])
		if strings.ContainsAny(name, " \t,") {
			break
		}
		if !isIdentifier(name) {
			return p, &Error{Line: lineNo, Text: raw, Err: ErrOperand, Detail: fmt.Sprintf("invalid label %q", name)}
		}
		p.labels = append(p.labels, name)
		line = strings.TrimSpace(line[colon+1:])
	}

	// Directives are consumed by nothing; they only document the output.
	if line == "" || strings.HasPrefix(line, ".") {
		return p, nil
	}

	fields := strings.Fields(normalizeOperands(line))
	p.mnemonic = strings.ToLower(fields[0])
	if len(fields) > 1 {
		p.operands = fields[1:]
	}
	return p, nil
}

func stripComment(line string) string {
	if i := strings.IndexByte(line, '#'); i >= 0 {
		return line[:i]
	}
	return line
}

var operandReplacer = strings.NewReplacer(",", " ", "(", " ", ")", " ")

func normalizeOperands(line string) string { return operandReplacer.Replace(line) }

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if r == '_' || r == '.' || unicode.IsLetter(r) {
			continue
		}
		if i > 0 && unicode.IsDigit(r) {
			continue
		}
		return false
	}
	return true
}

// IsIdentifier reports whether s can be used as a label.
func IsIdentifier(s string) bool { return isIdentifier(s) }
