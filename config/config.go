// Package config handles gcvm.toml configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/krehermann/gcvm/heap"
	"github.com/krehermann/gcvm/vm"
	"go.uber.org/zap"
)

const FileName = "gcvm.toml"

type Config struct {
	VM   VM   `toml:"vm"`
	Heap Heap `toml:"heap"`
	API  API  `toml:"api"`
	Log  Log  `toml:"log"`

	// Path is the file the configuration was read from, empty for defaults.
	Path string `toml:"-"`
}

type VM struct {
	StackDepth  int `toml:"stack_depth"`
	ReturnDepth int `toml:"return_depth"`
	MemoryWords int `toml:"memory_words"`
}

type Heap struct {
	Words int `toml:"words"`
	// "exact" or "best"
	Fit        string `toml:"fit"`
	ScanMemory bool   `toml:"scan_memory"`
}

type API struct {
	Listen    string `toml:"listen"`
	StepLimit uint64 `toml:"step_limit"`
}

type Log struct {
	Level       string `toml:"level"`
	Development bool   `toml:"development"`
}

func Default() *Config {
	d := vm.DefaultConfig()
	return &Config{
		VM: VM{
			StackDepth:  d.StackDepth,
			ReturnDepth: d.ReturnDepth,
			MemoryWords: d.MemoryWords,
		},
		Heap: Heap{
			Words: d.HeapWords,
			Fit:   d.Fit.String(),
		},
		API: API{
			Listen:    ":3000",
			StepLimit: 1_000_000,
		},
		Log: Log{
			Level: "info",
		},
	}
}

// Load reads a configuration file. Keys that are not present keep their
// default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	c := Default()
	if _, err := toml.Decode(string(data), c); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	c.Path = path

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Find walks up from dir looking for gcvm.toml and loads the first one.
// Without a file it returns the defaults.
func Find(dir string) (*Config, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return Default(), nil
		}
		dir = parent
	}
}

func (c *Config) Validate() error {
	_, err := c.VMConfig()
	return err
}

// VMConfig converts the vm and heap sections into the VM's own settings.
func (c *Config) VMConfig() (vm.Config, error) {
	fit, err := heap.ParseFitPolicy(c.Heap.Fit)
	if err != nil {
		return vm.Config{}, err
	}
	vc := vm.Config{
		StackDepth:  c.VM.StackDepth,
		ReturnDepth: c.VM.ReturnDepth,
		MemoryWords: c.VM.MemoryWords,
		HeapWords:   c.Heap.Words,
		Fit:         fit,
		ScanMemory:  c.Heap.ScanMemory,
	}
	switch {
	case vc.StackDepth <= 0:
		return vm.Config{}, fmt.Errorf("vm.stack_depth must be positive, got %d", vc.StackDepth)
	case vc.ReturnDepth <= 0:
		return vm.Config{}, fmt.Errorf("vm.return_depth must be positive, got %d", vc.ReturnDepth)
	case vc.MemoryWords < 0:
		return vm.Config{}, fmt.Errorf("vm.memory_words must not be negative, got %d", vc.MemoryWords)
	case vc.HeapWords < 0:
		return vm.Config{}, fmt.Errorf("heap.words must not be negative, got %d", vc.HeapWords)
	}
	return vc, nil
}

// Build constructs the process logger.
func (l Log) Build() (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if l.Development {
		zc = zap.NewDevelopmentConfig()
	}
	if l.Level != "" {
		lvl, err := zap.ParseAtomicLevel(l.Level)
		if err != nil {
			return nil, fmt.Errorf("log.level: %w", err)
		}
		zc.Level = lvl
	}
	return zc.Build()
}
