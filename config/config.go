// Package config loads the application configuration from config.yaml.
// Secrets (API keys, storage credentials) come from the environment, loaded
// via godotenv in main.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Paths    PathsConfig    `yaml:"paths"`
	Script   ScriptConfig   `yaml:"script"`
	Speech   SpeechConfig   `yaml:"speech"`
	Footage  FootageConfig  `yaml:"footage"`
	Storage  StorageConfig  `yaml:"storage"`
	Pipeline PipelineConfig `yaml:"pipeline"`
}

type PathsConfig struct {
	CacheRoot string `yaml:"cache_root"`
	Output    string `yaml:"output"`
	Brands    string `yaml:"brands"`
	Temp      string `yaml:"temp"`
}

type ScriptConfig struct {
	GeminiModel       string `yaml:"gemini_model"`
	TargetDurationSec int    `yaml:"target_duration_sec"`
}

type SpeechConfig struct {
	DefaultVoice string `yaml:"default_voice"`
	Rate         string `yaml:"rate"`
}

type FootageConfig struct {
	MinHeight      int `yaml:"min_height"`
	ResultsPerPage int `yaml:"results_per_page"`
}

type StorageConfig struct {
	Bucket string `yaml:"bucket"`
}

type PipelineConfig struct {
	StageTimeoutSec int `yaml:"stage_timeout_sec"`
	Workers         int `yaml:"workers"`
}

// StageTimeout returns the per-stage timeout as a duration.
func (p PipelineConfig) StageTimeout() time.Duration {
	return time.Duration(p.StageTimeoutSec) * time.Second
}

// Load reads config.yaml and applies defaults for anything unset.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns a configuration with every default applied, for use when
// no config file is present.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Paths.CacheRoot == "" {
		c.Paths.CacheRoot = "cache"
	}
	if c.Paths.Output == "" {
		c.Paths.Output = "output"
	}
	if c.Paths.Brands == "" {
		c.Paths.Brands = "config/brands"
	}
	if c.Paths.Temp == "" {
		c.Paths.Temp = "temp"
	}
	if c.Script.GeminiModel == "" {
		c.Script.GeminiModel = "gemini-1.5-flash-latest"
	}
	if c.Script.TargetDurationSec == 0 {
		c.Script.TargetDurationSec = 35
	}
	if c.Speech.DefaultVoice == "" {
		c.Speech.DefaultVoice = "en-US-AriaNeural"
	}
	if c.Speech.Rate == "" {
		c.Speech.Rate = "+0%"
	}
	if c.Footage.MinHeight == 0 {
		c.Footage.MinHeight = 720
	}
	if c.Footage.ResultsPerPage == 0 {
		c.Footage.ResultsPerPage = 10
	}
	if c.Storage.Bucket == "" {
		c.Storage.Bucket = "videos"
	}
	if c.Pipeline.StageTimeoutSec == 0 {
		c.Pipeline.StageTimeoutSec = 300
	}
	if c.Pipeline.Workers == 0 {
		c.Pipeline.Workers = 1
	}
}
