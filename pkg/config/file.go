package config

import (
	"fmt"
	"os"
	"runtime"

	"gopkg.in/yaml.v3"
)

// File is the on-disk YAML form of a Config. Zero values leave the
// corresponding setting untouched.
type File struct {
	Target       string          `yaml:"target"`
	EntryNames   []string        `yaml:"entry_names"`
	LocalSlots   int             `yaml:"local_slots"`
	StackDepth   int             `yaml:"stack_depth"`
	StackTop     uint32          `yaml:"stack_top"`
	OutputFormat string          `yaml:"format"`
	Werror       bool            `yaml:"werror"`
	Warnings     map[string]bool `yaml:"warnings"`
	Features     map[string]bool `yaml:"features"`
}

// LoadFile reads a YAML config and applies it on top of c.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	return c.LoadYAML(data)
}

func (c *Config) LoadYAML(data []byte) error {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}
	return c.Apply(&f)
}

func (c *Config) Apply(f *File) error {
	if f.Target != "" {
		c.SetTarget(runtime.GOOS, runtime.GOARCH, f.Target)
	}
	if len(f.EntryNames) > 0 {
		c.EntryNames = append([]string(nil), f.EntryNames...)
	}
	if f.LocalSlots != 0 {
		c.LocalSlots = f.LocalSlots
	}
	if f.StackDepth != 0 {
		c.StackDepth = f.StackDepth
	}
	if f.StackTop != 0 {
		c.StackTop = f.StackTop
	}
	if f.OutputFormat != "" {
		c.OutputFormat = f.OutputFormat
	}
	if f.Werror {
		c.WarningsAsErrors = true
	}

	for name, on := range f.Warnings {
		w, ok := c.WarningMap[name]
		if !ok {
			return fmt.Errorf("unknown warning '%s' in config file", name)
		}
		c.SetWarning(w, on)
	}
	for name, on := range f.Features {
		ft, ok := c.FeatureMap[name]
		if !ok {
			return fmt.Errorf("unknown feature '%s' in config file", name)
		}
		c.SetFeature(ft, on)
	}
	return c.Validate()
}
