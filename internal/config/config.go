// Package config loads conversion settings from YAML or TOML files.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config holds every setting of a conversion run. Zero-valued optional
// fields mean "use the modality default".
type Config struct {
	Modality          string            `yaml:"modality" toml:"modality"`
	Convention        string            `yaml:"convention" toml:"convention"`
	OutputBitDepth    int               `yaml:"output_bit_depth" toml:"output_bit_depth"`
	Signed            *bool             `yaml:"signed,omitempty" toml:"signed,omitempty"`
	RescaleSlope      float64           `yaml:"rescale_slope" toml:"rescale_slope"`
	RescaleIntercept  float64           `yaml:"rescale_intercept" toml:"rescale_intercept"`
	MetadataOverrides map[string]string `yaml:"metadata_overrides,omitempty" toml:"metadata_overrides,omitempty"`

	Frame             int    `yaml:"frame" toml:"frame"`
	AllFrames         bool   `yaml:"all_frames" toml:"all_frames"`
	Workers           int    `yaml:"workers" toml:"workers"`
	StrictRange       bool   `yaml:"strict_range" toml:"strict_range"`
	SeriesNumber      int    `yaml:"series_number" toml:"series_number"`
	SeriesDescription string `yaml:"series_description" toml:"series_description"`
	WindowPreset      string `yaml:"window_preset" toml:"window_preset"`
	UIDSeed           string `yaml:"uid_seed" toml:"uid_seed"`

	Output OutputConfig `yaml:"output" toml:"output"`
	Log    LogConfig    `yaml:"log" toml:"log"`
}

// OutputConfig describes where and how files are written.
type OutputConfig struct {
	Layout    string `yaml:"layout" toml:"layout"`
	Prefix    string `yaml:"prefix" toml:"prefix"`
	FileSetID string `yaml:"fileset_id" toml:"fileset_id"`
	Preview   string `yaml:"preview" toml:"preview"`
}

// LogConfig configures logging and the optional rotating log file.
type LogConfig struct {
	Level      string `yaml:"level" toml:"level"`
	JSON       bool   `yaml:"json" toml:"json"`
	File       string `yaml:"file" toml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" toml:"max_size_mb"`
	MaxAgeDays int    `yaml:"max_age_days" toml:"max_age_days"`
	MaxBackups int    `yaml:"max_backups" toml:"max_backups"`
}

// Default returns the settings used when no file is given.
func Default() *Config {
	return &Config{
		Modality:     "MR",
		Convention:   "RAS",
		RescaleSlope: 1,
		SeriesNumber: 1,
		Output: OutputConfig{
			Layout: "flat",
			Prefix: "IM",
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxAgeDays: 28,
			MaxBackups: 3,
		},
	}
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	case ".toml":
		_, err = toml.Decode(string(data), cfg)
	default:
		return nil, fmt.Errorf("unsupported config format %q, use .yaml, .yml or .toml", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.RescaleSlope == 0 {
		return errors.New("rescale_slope must not be zero")
	}
	switch c.OutputBitDepth {
	case 0, 8, 12, 16:
	default:
		return fmt.Errorf("output_bit_depth must be 8, 12 or 16, got %d", c.OutputBitDepth)
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must be >= 0, got %d", c.Workers)
	}
	if c.Frame < 0 {
		return fmt.Errorf("frame must be >= 0, got %d", c.Frame)
	}
	if c.SeriesNumber < 1 {
		return fmt.Errorf("series_number must be >= 1, got %d", c.SeriesNumber)
	}
	switch strings.ToLower(c.Output.Layout) {
	case "", "flat", "dicomdir":
	default:
		return fmt.Errorf("output layout must be flat or dicomdir, got %q", c.Output.Layout)
	}
	if c.Log.File != "" && c.Log.MaxSizeMB <= 0 {
		return fmt.Errorf("log max_size_mb must be > 0, got %d", c.Log.MaxSizeMB)
	}
	return nil
}

// Overrides returns the metadata overrides including series_description.
func (c *Config) Overrides() map[string]string {
	out := make(map[string]string, len(c.MetadataOverrides)+1)
	for k, v := range c.MetadataOverrides {
		out[k] = v
	}
	if c.SeriesDescription != "" {
		out["SeriesDescription"] = c.SeriesDescription
	}
	return out
}
