package main

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/agentctx/model"
	"github.com/hupe1980/agentctx/session"
)

// Config is the structure of the agentctx YAML configuration file.
type Config struct {
	Database   string           `yaml:"database"`
	Owner      string           `yaml:"owner"`
	Log        LogConfig        `yaml:"log"`
	Compile    CompileConfig    `yaml:"compile"`
	Compaction CompactionConfig `yaml:"compaction"`
	Summarizer SummarizerConfig `yaml:"summarizer"`
}

// LogConfig controls the structured logger.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // json | text
}

// CompileConfig holds the pipeline defaults used by compile and handoff.
type CompileConfig struct {
	Limit       int    `yaml:"limit"`
	MaxTokens   int    `yaml:"max_tokens"`
	Tokenizer   string `yaml:"tokenizer"`    // model name for tiktoken counting; empty uses the rune estimate
	MemoryOrder string `yaml:"memory_order"` // structured | retrieval
	MemoryLimit int    `yaml:"memory_limit"`
}

// CompactionConfig holds compaction defaults.
type CompactionConfig struct {
	KeepTail int  `yaml:"keep_tail"`
	Delete   bool `yaml:"delete"`
}

// SummarizerConfig selects the summarizer used by compact.
type SummarizerConfig struct {
	Provider    string `yaml:"provider"` // preview | openai | anthropic
	Model       string `yaml:"model"`
	PreviewSize int    `yaml:"preview_size"`
	MaxCalls    int    `yaml:"max_calls"` // per command; 0 means unlimited
}

const (
	defaultConfigFile = "agentctx.yaml"
	defaultDatabase   = "agentctx.db"
)

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Database: defaultDatabase,
		Owner:    session.DefaultOwnerID,
		Log: LogConfig{
			Level:  "warn",
			Format: "text",
		},
		Compile: CompileConfig{
			MemoryOrder: "structured",
		},
		Compaction: CompactionConfig{
			KeepTail: 10,
		},
		Summarizer: SummarizerConfig{
			Provider:    "preview",
			PreviewSize: model.DefaultPreviewSize,
		},
	}
}

// ReadConfig reads path over the defaults. When required is false a missing
// file yields the defaults.
func ReadConfig(path string, required bool) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !required && errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	return cfg, nil
}
