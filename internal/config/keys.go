package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "LLKB_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.mcp_port", typ: kInt, env: "LLKB_SERVER_MCP_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.MCPPort = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.MCPPort },
	},
	{
		key: "storage.data_dir", typ: kString, env: "LLKB_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "extraction.similarity_threshold", typ: kFloat, env: "LLKB_EXTRACTION_SIMILARITY_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.Extraction.SimilarityThreshold = v.(float64) },
		extract: func(cfg Config) any { return cfg.Extraction.SimilarityThreshold },
	},
	{
		key: "extraction.min_occurrences", typ: kInt, env: "LLKB_EXTRACTION_MIN_OCCURRENCES",
		apply:   func(cfg *Config, v any) { cfg.Extraction.MinOccurrences = v.(int) },
		extract: func(cfg Config) any { return cfg.Extraction.MinOccurrences },
	},
	{
		key: "extraction.min_lines", typ: kInt, env: "LLKB_EXTRACTION_MIN_LINES",
		apply:   func(cfg *Config, v any) { cfg.Extraction.MinLinesForExtraction = v.(int) },
		extract: func(cfg Config) any { return cfg.Extraction.MinLinesForExtraction },
	},
	{
		key: "extraction.predictive", typ: kBool, env: "LLKB_EXTRACTION_PREDICTIVE",
		apply:   func(cfg *Config, v any) { cfg.Extraction.PredictiveExtraction = v.(bool) },
		extract: func(cfg Config) any { return cfg.Extraction.PredictiveExtraction },
	},
	{
		key: "matching.use_threshold", typ: kFloat, env: "LLKB_MATCHING_USE_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.Matching.UseThreshold = v.(float64) },
		extract: func(cfg Config) any { return cfg.Matching.UseThreshold },
	},
	{
		key: "matching.suggest_threshold", typ: kFloat, env: "LLKB_MATCHING_SUGGEST_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.Matching.SuggestThreshold = v.(float64) },
		extract: func(cfg Config) any { return cfg.Matching.SuggestThreshold },
	},
	{
		key: "injection.prioritize_by_confidence", typ: kBool, env: "LLKB_INJECTION_PRIORITIZE_BY_CONFIDENCE",
		apply:   func(cfg *Config, v any) { cfg.Injection.PrioritizeByConfidence = v.(bool) },
		extract: func(cfg Config) any { return cfg.Injection.PrioritizeByConfidence },
	},
	{
		key: "log.level", typ: kString, env: "LLKB_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b Backend) error {
	for _, s := range specs {
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kBool:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if bv, err := strconv.ParseBool(v); err == nil {
					s.apply(cfg, bv)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		case kFloat:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					s.apply(cfg, f)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse float from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kBool:
			if b, err := strconv.ParseBool(raw); err == nil {
				s.apply(cfg, b)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kFloat:
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				s.apply(cfg, f)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse float from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
