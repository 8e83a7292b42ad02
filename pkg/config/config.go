package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the engine configuration, loaded once at startup. The file
// may be YAML or JSON.
type Config struct {
	// Input is the call specification path
	Input string `yaml:"input"`
	// StdInput is attached to the target's stdin when set
	StdInput string `yaml:"stdinput"`
	// Output is the trace file path
	Output string `yaml:"output"`
	// LogFile receives the engine's debug log
	LogFile string `yaml:"logfile"`
	// Debug echoes debug-level lines to the console
	Debug bool `yaml:"debug"`
	// Compress writes the trace zstd-framed
	Compress bool `yaml:"compress"`
	// EntrySymbol is where the initial breakpoint is installed
	EntrySymbol string `yaml:"entry_symbol"`
	// MainFunction is the top-level function seeded at the first stop
	MainFunction string `yaml:"main_function"`
	// MaxDepth bounds value serialization
	MaxDepth int `yaml:"max_depth"`
}

// Default returns the configuration used when no file is supplied
func Default() Config {
	return Config{
		Input:        "input.json",
		StdInput:     "input.txt",
		Output:       "output.json",
		LogFile:      "debugger.log",
		EntrySymbol:  "_start",
		MainFunction: "main",
	}
}

// Load reads a configuration file over the defaults. A missing or
// malformed file is fatal: the run does not begin on guesswork.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config %s: %v", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to decode config %s: %v", path, err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	d := Default()
	if c.Input == "" {
		c.Input = d.Input
	}
	if c.Output == "" {
		c.Output = d.Output
	}
	if c.LogFile == "" {
		c.LogFile = d.LogFile
	}
	if c.EntrySymbol == "" {
		c.EntrySymbol = d.EntrySymbol
	}
	if c.MainFunction == "" {
		c.MainFunction = d.MainFunction
	}
}
