package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	json "github.com/goccy/go-json"
	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"taskd/internal/sampling"
)

// Global validator instance for reuse
var validate = validator.New()

// Config holds runtime parameters for the CLI and the task manager.
// Zero values mean "unspecified" and are replaced by WithDefaults.
type Config struct {
	Engine    string `json:"engine" yaml:"engine" toml:"engine" validate:"omitempty,oneof=echo llama"`
	ModelPath string `json:"model_path" yaml:"model_path" toml:"model_path"`
	ModelsDir string `json:"models_dir" yaml:"models_dir" toml:"models_dir"`
	// Model names a file in ModelsDir, with or without extension.
	Model     string `json:"model" yaml:"model" toml:"model"`
	LibPath   string `json:"lib_path" yaml:"lib_path" toml:"lib_path"`
	GPULayers int    `json:"gpu_layers" yaml:"gpu_layers" toml:"gpu_layers" validate:"gte=-1"`
	Threads   int    `json:"threads" yaml:"threads" toml:"threads" validate:"gte=0"`

	ContextSize       int `json:"context_size" yaml:"context_size" toml:"context_size" validate:"gte=0,lte=1048576"`
	MaxConcurrent     int `json:"max_concurrent" yaml:"max_concurrent" toml:"max_concurrent" validate:"gte=0"`
	ShutdownTimeoutMS int `json:"shutdown_timeout_ms" yaml:"shutdown_timeout_ms" toml:"shutdown_timeout_ms" validate:"gte=0"`

	LogLevel  string `json:"log_level" yaml:"log_level" toml:"log_level" validate:"omitempty,oneof=off error warn info debug trace"`
	LogFormat string `json:"log_format" yaml:"log_format" toml:"log_format" validate:"omitempty,oneof=json pretty"`

	Sampler SamplerConfig `json:"sampler" yaml:"sampler" toml:"sampler"`
}

// SamplerConfig is the file form of sampling.Config.
type SamplerConfig struct {
	Mode          string  `json:"mode" yaml:"mode" toml:"mode" validate:"omitempty,oneof=greedy argmax temperature_top_p temperature top_p nucleus"`
	Temperature   float32 `json:"temperature" yaml:"temperature" toml:"temperature" validate:"gte=0"`
	TopP          float32 `json:"top_p" yaml:"top_p" toml:"top_p" validate:"gte=0"`
	RepeatPenalty float32 `json:"repeat_penalty" yaml:"repeat_penalty" toml:"repeat_penalty" validate:"gte=0"`
	RepeatWindow  int     `json:"repeat_window" yaml:"repeat_window" toml:"repeat_window" validate:"gte=0"`
	Seed          int64   `json:"seed" yaml:"seed" toml:"seed"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{}.WithDefaults()
}

// WithDefaults fills unspecified fields.
func (c Config) WithDefaults() Config {
	if c.Engine == "" {
		c.Engine = "echo"
	}
	if c.ModelsDir == "" {
		c.ModelsDir = "~/models/llm"
	}
	if c.ContextSize == 0 {
		c.ContextSize = 2048
	}
	if c.ShutdownTimeoutMS == 0 {
		c.ShutdownTimeoutMS = 5000
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "pretty"
	}
	if c.Sampler.Mode == "" {
		c.Sampler.Mode = "greedy"
	}
	d := sampling.DefaultConfig()
	if c.Sampler.Temperature == 0 {
		c.Sampler.Temperature = d.Temperature
	}
	if c.Sampler.TopP == 0 {
		c.Sampler.TopP = d.TopP
	}
	if c.Sampler.RepeatWindow == 0 {
		c.Sampler.RepeatWindow = d.RepetitionWindow
	}
	return c
}

// Validate checks field ranges and enumerations.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Sampling converts the file form into a sampling.Config. A repeat penalty
// above 1 enables the repetition penalty.
func (s SamplerConfig) Sampling() (sampling.Config, error) {
	mode, err := sampling.ParseMode(s.Mode)
	if err != nil {
		return sampling.Config{}, err
	}
	return sampling.Config{
		Mode:              mode,
		Temperature:       s.Temperature,
		TopP:              s.TopP,
		RepetitionEnabled: s.RepeatPenalty > 1,
		RepetitionPenalty: s.RepeatPenalty,
		RepetitionWindow:  s.RepeatWindow,
		Seed:              s.Seed,
	}, nil
}

// Load reads a configuration file based on its extension and validates it.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, cfg.Validate()
}
