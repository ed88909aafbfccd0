package util

import (
	"bytes"
	"strings"
	"testing"

	"github.com/xplshn/vmc/pkg/config"
)

func capture(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	old := Stderr
	Stderr = &buf
	t.Cleanup(func() { Stderr = old })
	return &buf
}

func TestWarnRespectsSwitch(t *testing.T) {
	buf := capture(t)
	cfg := config.NewConfig()

	if !Warn(cfg, config.WarnUnknownOp, Pos{File: "a.hex", Offset: 12}, "op %d", 7) {
		t.Fatal("enabled warning was not printed")
	}
	got := buf.String()
	for _, want := range []string{"a.hex:+12", "op 7", "[-Wunknown-op]"} {
		if !strings.Contains(got, want) {
			t.Errorf("warning %q lacks %q", got, want)
		}
	}

	buf.Reset()
	cfg.SetWarning(config.WarnUnknownOp, false)
	if Warn(cfg, config.WarnUnknownOp, NoPos, "quiet") || buf.Len() != 0 {
		t.Errorf("disabled warning printed %q", buf.String())
	}
}

func TestErrorExits(t *testing.T) {
	buf := capture(t)
	code := -1
	old := exit
	exit = func(c int) { code = c }
	defer func() { exit = old }()

	Error(Pos{File: "x.s", Line: 3}, "bad %s", "thing")
	if code != 1 {
		t.Errorf("exit code %d, want 1", code)
	}
	if !strings.Contains(buf.String(), "x.s:3") || !strings.Contains(buf.String(), "bad thing") {
		t.Errorf("unexpected message %q", buf.String())
	}
}
