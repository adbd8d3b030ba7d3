// Package config provides configuration management for Kindred
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Brain    BrainConfig    `mapstructure:"brain"`
	Audio    AudioConfig    `mapstructure:"audio"`
	Pacing   PacingConfig   `mapstructure:"pacing"`
	Analysis AnalysisConfig `mapstructure:"analysis"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Log      LogConfig      `mapstructure:"log"`
}

// BrainConfig configures the generative language service
type BrainConfig struct {
	APIKey    string        `mapstructure:"api_key"`
	Model     string        `mapstructure:"model"`
	LiveModel string        `mapstructure:"live_model"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// AudioConfig configures the live-session audio formats
type AudioConfig struct {
	InputSampleRate  int `mapstructure:"input_sample_rate"`
	OutputSampleRate int `mapstructure:"output_sample_rate"`
	BufferSize       int `mapstructure:"buffer_size"`
}

// PacingConfig configures paced message delivery
type PacingConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// AnalysisConfig configures the background analyses
type AnalysisConfig struct {
	RapportEnabled   bool `mapstructure:"rapport_enabled"`
	JournalEnabled   bool `mapstructure:"journal_enabled"`
	MemoryExtraction bool `mapstructure:"memory_extraction"`
}

// StorageConfig configures persistence
type StorageConfig struct {
	DBPath string `mapstructure:"db_path"`
}

// LogConfig configures logging output
type LogConfig struct {
	Level   string `mapstructure:"level"`
	File    string `mapstructure:"file"`
	Console bool   `mapstructure:"console"`
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() *Config {
	return &Config{
		Brain: BrainConfig{
			Model:     "gemini-2.0-flash",
			LiveModel: "gemini-2.0-flash-live-001",
			Timeout:   30 * time.Second,
		},
		Audio: AudioConfig{
			InputSampleRate:  16000,
			OutputSampleRate: 24000,
			BufferSize:       4096,
		},
		Pacing: PacingConfig{
			Enabled: true,
		},
		Analysis: AnalysisConfig{
			RapportEnabled:   true,
			JournalEnabled:   true,
			MemoryExtraction: true,
		},
		Storage: StorageConfig{
			DBPath: "", // resolved under the config dir when empty
		},
		Log: LogConfig{
			Level:   "info",
			Console: true,
		},
	}
}

// Load reads configuration from file and environment
func Load() (*Config, error) {
	cfg := DefaultConfig()

	configDir, err := GetConfigDir()
	if err != nil {
		return cfg, err
	}
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return cfg, err
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".")

	// Environment variable overrides
	viper.SetEnvPrefix("KINDRED")
	viper.AutomaticEnv()

	// Read config file if it exists
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return cfg, err
		}
		// Config file not found, use defaults and create one
		if err := Save(cfg); err != nil {
			return cfg, err
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return cfg, err
	}

	if cfg.Brain.APIKey == "" {
		cfg.Brain.APIKey = os.Getenv("GEMINI_API_KEY")
	}
	if cfg.Storage.DBPath == "" {
		cfg.Storage.DBPath = filepath.Join(configDir, "kindred.db")
	}

	return cfg, nil
}

// Watch reloads the config whenever the file changes and hands the result to
// onChange. Reload errors are swallowed; the last good config stays active.
func Watch(onChange func(*Config)) {
	viper.OnConfigChange(func(_ fsnotify.Event) {
		cfg := DefaultConfig()
		if err := viper.Unmarshal(cfg); err != nil {
			return
		}
		onChange(cfg)
	})
	viper.WatchConfig()
}

// Save writes the configuration to file
func Save(cfg *Config) error {
	configDir, err := GetConfigDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return err
	}

	viper.Set("brain", cfg.Brain)
	viper.Set("audio", cfg.Audio)
	viper.Set("pacing", cfg.Pacing)
	viper.Set("analysis", cfg.Analysis)
	viper.Set("storage", cfg.Storage)
	viper.Set("log", cfg.Log)

	configPath := filepath.Join(configDir, "config.yaml")
	return viper.WriteConfigAs(configPath)
}

// GetConfigDir returns the configuration directory path
func GetConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".kindred"), nil
}
