// Package config loads runtime settings from the environment and the
// bootstrap project directory from a YAML file. The YAML is checked
// against an embedded CUE schema before anything touches the database,
// so a malformed directory fails startup instead of poisoning truth.
package config

import (
	"os"
)

// Settings are the process-level knobs. Everything has a default so a
// bare binary starts against a local database.
type Settings struct {
	AppName      string
	Environment  string
	DatabasePath string
	ListenAddr   string
	ProjectsFile string
}

// FromEnv reads settings from DENDRITE_* variables, falling back to
// development defaults.
func FromEnv() Settings {
	return Settings{
		AppName:      "dendrite",
		Environment:  envOr("DENDRITE_ENV", "development"),
		DatabasePath: envOr("DENDRITE_DB", "./dendrite.db"),
		ListenAddr:   envOr("DENDRITE_LISTEN", ":8080"),
		ProjectsFile: envOr("DENDRITE_PROJECTS", "./projects.yaml"),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
