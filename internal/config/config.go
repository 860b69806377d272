// Package config loads engine and server settings from a JSON file backend
// with LLKB_* environment overrides. Thresholds are validated at load; this
// is the boundary where contract violations are reported, not deep inside
// scoring.
package config

import (
	"fmt"
)

type Config struct {
	Server     ServerConfig
	Storage    StorageConfig
	Extraction ExtractionConfig
	Matching   MatchingConfig
	Injection  InjectionConfig
	Log        LogConfig
}

type ServerConfig struct {
	Port    int
	MCPPort int
}

type StorageConfig struct {
	DataDir string
}

// ExtractionConfig tunes duplicate detection and extraction decisions.
type ExtractionConfig struct {
	SimilarityThreshold   float64
	MinOccurrences        int
	MinLinesForExtraction int
	PredictiveExtraction  bool
}

// MatchingConfig tunes step-to-component recommendations.
type MatchingConfig struct {
	UseThreshold     float64
	SuggestThreshold float64
}

// InjectionConfig tunes how ranked context is ordered for prompts.
type InjectionConfig struct {
	PrioritizeByConfidence bool
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:    4600,
			MCPPort: 4601,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Extraction: ExtractionConfig{
			SimilarityThreshold:   0.8,
			MinOccurrences:        2,
			MinLinesForExtraction: 3,
			PredictiveExtraction:  false,
		},
		Matching: MatchingConfig{
			UseThreshold:     0.7,
			SuggestThreshold: 0.4,
		},
		Injection: InjectionConfig{
			PrioritizeByConfidence: true,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the JSON file backend at
// $XDG_CONFIG_HOME/llkb/config.json, then applies LLKB_* environment
// overrides, then validates.
func Load() (Config, error) {
	return loadWith(newFileBackend())
}

func loadWith(b Backend) (Config, error) {
	cfg := defaults()
	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first invalid setting, or nil.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d outside (0,65535]", c.Server.Port)
	}
	if c.Extraction.SimilarityThreshold <= 0 || c.Extraction.SimilarityThreshold > 1 {
		return fmt.Errorf("extraction.similarity_threshold %v outside (0,1]", c.Extraction.SimilarityThreshold)
	}
	if c.Extraction.MinOccurrences < 1 {
		return fmt.Errorf("extraction.min_occurrences %d must be at least 1", c.Extraction.MinOccurrences)
	}
	if c.Extraction.MinLinesForExtraction < 1 {
		return fmt.Errorf("extraction.min_lines %d must be at least 1", c.Extraction.MinLinesForExtraction)
	}
	if c.Matching.UseThreshold <= 0 || c.Matching.UseThreshold > 1 {
		return fmt.Errorf("matching.use_threshold %v outside (0,1]", c.Matching.UseThreshold)
	}
	if c.Matching.SuggestThreshold <= 0 || c.Matching.SuggestThreshold > c.Matching.UseThreshold {
		return fmt.Errorf("matching.suggest_threshold %v must be in (0, use_threshold]", c.Matching.SuggestThreshold)
	}
	return nil
}
