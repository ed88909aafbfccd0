package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/xplshn/vmc/pkg/cli"
)

func TestDefaults(t *testing.T) {
	cfg := NewConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if diff := cmp.Diff([]string{"main", "kik"}, cfg.EntryNames); diff != "" {
		t.Errorf("entry names (-want +got):\n%s", diff)
	}
	if !cfg.IsFeatureEnabled(FeatLaElide) || !cfg.IsFeatureEnabled(FeatImplicitEntry) {
		t.Error("default features should be enabled")
	}
	if !cfg.IsWarningEnabled(WarnUnknownOp) {
		t.Error("unknown-op should warn by default")
	}
	if cfg.IsWarningEnabled(WarnDepth) {
		t.Error("depth should be quiet by default")
	}
}

func TestApplyFlag(t *testing.T) {
	cfg := NewConfig()
	for _, f := range []string{"-Wno-unknown-op", "-Fno-la-elide", "-Werror"} {
		if !cfg.ApplyFlag(f) {
			t.Errorf("flag %s not recognized", f)
		}
	}
	if cfg.IsWarningEnabled(WarnUnknownOp) {
		t.Error("-Wno-unknown-op had no effect")
	}
	if cfg.IsFeatureEnabled(FeatLaElide) {
		t.Error("-Fno-la-elide had no effect")
	}
	if !cfg.WarningsAsErrors {
		t.Error("-Werror had no effect")
	}
	if cfg.ApplyFlag("-Wbogus") {
		t.Error("-Wbogus should not be recognized")
	}
}

func TestProcessFlagsGroupsFirst(t *testing.T) {
	cfg := NewConfig()
	flags := []string{"Wdropped-symbol", "Wno-all"}
	unknown := cfg.ProcessFlags(func(fn func(string)) {
		for _, f := range flags {
			fn(f)
		}
	})
	if len(unknown) != 0 {
		t.Errorf("unexpected unknown flags %v", unknown)
	}
	if !cfg.IsWarningEnabled(WarnDroppedSymbol) {
		t.Error("individual flag should win over group")
	}
	if cfg.IsWarningEnabled(WarnUnknownOp) {
		t.Error("-Wno-all should disable unknown-op")
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vmc.yaml")
	src := `entry_names: [start]
local_slots: 8
stack_depth: 32
stack_top: 0x7ffff000
format: bin
werror: true
warnings:
  unknown-op: false
features:
  la-elide: false
`
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := NewConfig()
	if err := cfg.LoadFile(path); err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if diff := cmp.Diff([]string{"start"}, cfg.EntryNames); diff != "" {
		t.Errorf("entry names (-want +got):\n%s", diff)
	}
	if cfg.LocalSlots != 8 || cfg.StackDepth != 32 || cfg.StackTop != 0x7ffff000 {
		t.Errorf("got slots=%d depth=%d top=%#x", cfg.LocalSlots, cfg.StackDepth, cfg.StackTop)
	}
	if cfg.OutputFormat != FormatBin || !cfg.WarningsAsErrors {
		t.Errorf("got format=%s werror=%v", cfg.OutputFormat, cfg.WarningsAsErrors)
	}
	if cfg.IsWarningEnabled(WarnUnknownOp) || cfg.IsFeatureEnabled(FeatLaElide) {
		t.Error("switches from file were not applied")
	}
}

func TestLoadYAMLRejects(t *testing.T) {
	tests := map[string]string{
		"unknown warning": "warnings: {nope: true}",
		"unknown feature": "features: {nope: true}",
		"slots":           "local_slots: 5000",
		"format":          "format: elf",
		"alignment":       "stack_top: 0x7ffffff4",
		"syntax":          "local_slots: [",
	}
	for name, src := range tests {
		t.Run(name, func(t *testing.T) {
			if err := NewConfig().LoadYAML([]byte(src)); err == nil {
				t.Errorf("expected error for %q", src)
			}
		})
	}
}

func TestSetupFlagGroups(t *testing.T) {
	cfg := NewConfig()
	fs := cli.NewFlagSet("vmc")
	var special []string
	fs.Special(&special, "W", "", "warning")
	warnings, features := cfg.SetupFlagGroups(fs)
	if len(warnings) != int(WarnCount) || len(features) != int(FeatCount) {
		t.Fatalf("got %d warning and %d feature entries", len(warnings), len(features))
	}
	if err := fs.Parse([]string{"-Wno-depth", "-Fno-la-elide", "-Werror"}); err != nil {
		t.Fatal(err)
	}

	var names []string
	fs.Visit(func(name string) {
		if name != "W" {
			names = append(names, name)
		}
	})
	for _, s := range special {
		names = append(names, "W"+s)
	}
	if diff := cmp.Diff([]string{"Fno-la-elide", "Wno-depth", "Werror"}, names); diff != "" {
		t.Errorf("switches (-want +got):\n%s", diff)
	}
	unknown := cfg.ProcessFlags(func(fn func(string)) {
		for _, n := range names {
			fn(n)
		}
	})
	if len(unknown) != 0 {
		t.Errorf("unknown switches %v", unknown)
	}
	if cfg.IsWarningEnabled(WarnDepth) || cfg.IsFeatureEnabled(FeatLaElide) || !cfg.WarningsAsErrors {
		t.Error("switches were not applied")
	}
}
