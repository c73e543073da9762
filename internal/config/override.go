package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// OverrideFileName is a project-local override file, layered on top of the
// discovered laminark.yaml, for the two settings a project is most likely
// to want to tune without touching shared config: cross-project read
// access and hygiene tier thresholds. TOML rather than YAML so the two
// formats are visually distinct in a project's tree (the main config
// is host-wide; this one is meant to be checked in per-project).
const OverrideFileName = "laminark.override.toml"

type overrideDoc struct {
	CrossAccess []string           `toml:"crossAccess"`
	Hygiene     *overrideHygiene   `toml:"hygiene"`
}

type overrideHygiene struct {
	TierThresholds map[string]float64 `toml:"tierThresholds"`
}

func findProjectOverrideFile(dir string) string {
	if dir == "" {
		dir, _ = os.Getwd()
	}
	candidate := filepath.Join(dir, OverrideFileName)
	if _, err := os.Stat(candidate); err == nil {
		return candidate
	}
	return ""
}

// applyTOMLOverride merges a project-local override file into cfg.
// CrossAccess is stored under the sentinel key "." because Load has no
// project hash to key it by; nothing re-keys it, so Engine.scopeFor (which
// looks entries up by project hash) does not read this entry.
func applyTOMLOverride(cfg *Config, path string) error {
	var doc overrideDoc
	if _, err := toml.DecodeFile(path, &doc); err != nil {
		return err
	}
	if len(doc.CrossAccess) > 0 {
		if cfg.CrossAccess == nil {
			cfg.CrossAccess = map[string][]string{}
		}
		cfg.CrossAccess["."] = doc.CrossAccess
	}
	if doc.Hygiene != nil {
		for tier, v := range doc.Hygiene.TierThresholds {
			if cfg.Hygiene.TierThresholds == nil {
				cfg.Hygiene.TierThresholds = map[string]float64{}
			}
			cfg.Hygiene.TierThresholds[tier] = v
		}
	}
	return nil
}
