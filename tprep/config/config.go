package config

import (
	"fmt"
	"path/filepath"
	"strings"

	internal "github.com/ZanzyTHEbar/trainprep/tprep"

	"github.com/spf13/viper"
)

// Config stores all configuration of the application.
// The values are read by viper from a config file or environment variables.
type Config struct {
	TrainPrep TrainPrepConfig `mapstructure:"trainprep"`
}

// TrainPrepConfig groups the dataset-preparation settings.
type TrainPrepConfig struct {
	Processor ProcessorConfig `mapstructure:"processor"`
	Cache     CacheConfig     `mapstructure:"cache"`
}

// ProcessorConfig controls tokenization, filtering and visualization.
// A length bound of zero (or below) means the bound is unset.
type ProcessorConfig struct {
	// MaxTokenLength is the inclusive upper bound on the tokenized
	// full-sequence length.
	MaxTokenLength int `mapstructure:"maxTokenLength"`
	// MaxPromptTokenLength is the inclusive upper bound on the tokenized
	// prompt length.
	MaxPromptTokenLength int `mapstructure:"maxPromptTokenLength"`

	// dataset map/filter config
	Batched           bool `mapstructure:"batched"`
	LoadFromCacheFile bool `mapstructure:"loadFromCacheFile"`
	NumProc           int  `mapstructure:"numProc"`

	// visualization config
	NCols int `mapstructure:"ncols"`
}

// CacheConfig stores transformation-cache connection details.
type CacheConfig struct {
	Path         string `mapstructure:"path"`
	MaxOpenConns int    `mapstructure:"maxOpenConns"`
	MaxIdleConns int    `mapstructure:"maxIdleConns"`
}

// Validate checks that the configured bounds are usable.
func (pc *ProcessorConfig) Validate() error {
	if pc.MaxTokenLength < 0 {
		return fmt.Errorf("maxTokenLength must be non-negative: %d", pc.MaxTokenLength)
	}
	if pc.MaxPromptTokenLength < 0 {
		return fmt.Errorf("maxPromptTokenLength must be non-negative: %d", pc.MaxPromptTokenLength)
	}
	if pc.NumProc < 0 {
		return fmt.Errorf("numProc must be non-negative: %d", pc.NumProc)
	}
	return nil
}

// HasMaxTokenLength reports whether the full-sequence bound is set.
func (pc *ProcessorConfig) HasMaxTokenLength() bool { return pc.MaxTokenLength > 0 }

// HasMaxPromptTokenLength reports whether the prompt bound is set.
func (pc *ProcessorConfig) HasMaxPromptTokenLength() bool { return pc.MaxPromptTokenLength > 0 }

var AppConfig Config

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(configPath string) (*Config, error) {
	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("..")
		viper.AddConfigPath(filepath.Join("etc", internal.DefaultAppName))
		viper.AddConfigPath(internal.DefaultConfigPath)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	// Set default values
	viper.SetDefault("trainprep.processor.batched", false)
	viper.SetDefault("trainprep.processor.loadFromCacheFile", false)
	viper.SetDefault("trainprep.processor.numProc", 1)
	viper.SetDefault("trainprep.processor.ncols", internal.DefaultPlotColumns)
	viper.SetDefault("trainprep.cache.path", internal.DefaultCachePath)
	viper.SetDefault("trainprep.cache.maxOpenConns", 1)
	viper.SetDefault("trainprep.cache.maxIdleConns", 1)

	viper.AutomaticEnv()                                   // Read in environment variables that match
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_")) // e.g. trainprep.processor.numProc becomes TRAINPREP_PROCESSOR_NUMPROC

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found; defaults will be used.
	}

	err := viper.Unmarshal(&AppConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	if err := AppConfig.TrainPrep.Processor.Validate(); err != nil {
		return nil, fmt.Errorf("invalid processor config: %w", err)
	}

	return &AppConfig, nil
}
