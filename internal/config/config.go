// Package config loads Laminark's configuration the way the teacher's
// internal/config does: viper-backed, with environment-variable overrides,
// config-file discovery by walking up the directory tree, and typed
// accessors with explicit defaults for every tunable.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is the environment-variable prefix for all overrides, e.g.
// LAMINARK_TOKENBUDGET.
const EnvPrefix = "LAMINARK"

// ConfigFileName is the discovered per-project config file name.
const ConfigFileName = "laminark.yaml"

// Sensitivity is the topic-detector sensitivity preset.
type Sensitivity string

const (
	SensitivitySensitive Sensitivity = "sensitive"
	SensitivityBalanced  Sensitivity = "balanced"
	SensitivityRelaxed   Sensitivity = "relaxed"
)

// Multiplier returns the k multiplier for a sensitivity preset, per
// spec.md §4.5's defaults.
func (s Sensitivity) Multiplier() float64 {
	switch s {
	case SensitivitySensitive:
		return 1.0
	case SensitivityRelaxed:
		return 2.5
	default:
		return 1.5
	}
}

// TopicDetectionConfig mirrors spec.md §6's enumerated topicDetection block.
type TopicDetectionConfig struct {
	Enabled         bool
	Sensitivity     Sensitivity
	Multiplier      float64
	ManualThreshold *float64
	EWMAAlpha       float64
	ThresholdMin    float64
	ThresholdMax    float64
}

// HygieneConfig mirrors spec.md §6's enumerated hygiene block.
type HygieneConfig struct {
	SignalWeights         map[string]float64
	TierThresholds        map[string]float64
	ShortContentThreshold int
}

// Config is Laminark's fully-resolved runtime configuration.
type Config struct {
	DBPath            string
	BusyTimeoutMS     int
	EmbeddingStrategy string
	TopicDetection    TopicDetectionConfig
	Hygiene           HygieneConfig
	TokenBudget       int
	CrossAccess       map[string][]string
	IngestDefaultDir  string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("dbPath", ".laminark/laminark.db")
	v.SetDefault("busyTimeout", 5000)
	v.SetDefault("embeddingStrategy", "local")

	v.SetDefault("topicDetection.enabled", true)
	v.SetDefault("topicDetection.sensitivity", "balanced")
	v.SetDefault("topicDetection.ewmaAlpha", 0.3)
	v.SetDefault("topicDetection.bounds.min", 0.15)
	v.SetDefault("topicDetection.bounds.max", 0.6)

	v.SetDefault("hygiene.signalWeights.orphaned", 0.25)
	v.SetDefault("hygiene.signalWeights.island", 0.15)
	v.SetDefault("hygiene.signalWeights.noiseClassified", 0.2)
	v.SetDefault("hygiene.signalWeights.shortContent", 0.15)
	v.SetDefault("hygiene.signalWeights.autoCaptured", 0.1)
	v.SetDefault("hygiene.signalWeights.stale", 0.15)
	v.SetDefault("hygiene.tierThresholds.high", 0.70)
	v.SetDefault("hygiene.tierThresholds.medium", 0.50)
	v.SetDefault("hygiene.shortContentThreshold", 40)

	v.SetDefault("tokenBudget", 2000)
	v.SetDefault("ingestDefaultDir", "")
}

// Load discovers and parses Laminark's configuration, mirroring the
// teacher's config.Initialize(): a viper instance bound to BD-style
// environment variables (here LAMINARK_*) layered over a config file
// discovered by walking up from the working directory.
func Load(startDir string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path := findConfigFile(startDir); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
		}
	}

	cfg := &Config{
		DBPath:            v.GetString("dbPath"),
		BusyTimeoutMS:     v.GetInt("busyTimeout"),
		EmbeddingStrategy: v.GetString("embeddingStrategy"),
		TokenBudget:       v.GetInt("tokenBudget"),
		TopicDetection: TopicDetectionConfig{
			Enabled:      v.GetBool("topicDetection.enabled"),
			Sensitivity:  Sensitivity(v.GetString("topicDetection.sensitivity")),
			EWMAAlpha:    v.GetFloat64("topicDetection.ewmaAlpha"),
			ThresholdMin: v.GetFloat64("topicDetection.bounds.min"),
			ThresholdMax: v.GetFloat64("topicDetection.bounds.max"),
		},
		Hygiene: HygieneConfig{
			SignalWeights: map[string]float64{
				"orphaned":         v.GetFloat64("hygiene.signalWeights.orphaned"),
				"island":           v.GetFloat64("hygiene.signalWeights.island"),
				"noise_classified": v.GetFloat64("hygiene.signalWeights.noiseClassified"),
				"short_content":    v.GetFloat64("hygiene.signalWeights.shortContent"),
				"auto_captured":    v.GetFloat64("hygiene.signalWeights.autoCaptured"),
				"stale":            v.GetFloat64("hygiene.signalWeights.stale"),
			},
			TierThresholds: map[string]float64{
				"high":   v.GetFloat64("hygiene.tierThresholds.high"),
				"medium": v.GetFloat64("hygiene.tierThresholds.medium"),
			},
			ShortContentThreshold: v.GetInt("hygiene.shortContentThreshold"),
		},
		CrossAccess:      v.GetStringMapStringSlice("crossAccess"),
		IngestDefaultDir: v.GetString("ingestDefaultDir"),
	}

	if override := findProjectOverrideFile(startDir); override != "" {
		if err := applyTOMLOverride(cfg, override); err != nil {
			return nil, fmt.Errorf("config: failed to apply project override %s: %w", override, err)
		}
	}
	cfg.TopicDetection.Multiplier = cfg.TopicDetection.Sensitivity.Multiplier()
	if v.IsSet("topicDetection.manualThreshold") {
		t := v.GetFloat64("topicDetection.manualThreshold")
		cfg.TopicDetection.ManualThreshold = &t
	}

	return cfg, nil
}

// findConfigFile walks up from dir looking for ConfigFileName, mirroring
// the teacher's upward config-discovery walk.
func findConfigFile(dir string) string {
	if dir == "" {
		dir, _ = os.Getwd()
	}
	for {
		candidate := filepath.Join(dir, ConfigFileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}
