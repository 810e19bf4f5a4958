/*
Package config loads stepguard configuration.

# Overview

Config wraps a map[string]any and provides typed accessors that return a
default when a key is missing or has the wrong type. Keys may be dotted
paths into nested tables, and Section narrows a Config to one table:

	cfg, err := config.FromFile("stepguard.yaml")
	if err != nil {
	    log.Fatal(err)
	}
	timeout := cfg.Duration("supervisor.capture_timeout", 2*time.Minute)
	store := cfg.Section("store")
	backend := store.String("backend", "file")

# File Loading

FromFile detects the format by extension (.yaml, .yml, .json, .toml).
${VAR} references are replaced with environment values before parsing.

# Settings

Load returns typed Settings with built-in defaults for every key:

	s, err := config.Load("")          // $STEPGUARD_CONFIG or XDG default
	opts := s.StoreOptions()           // checkpoint.Open options

A missing default file is not an error; a missing explicit file is.

# Thread Safety

Config and Settings are safe for concurrent reads. The underlying map is
not modified after creation.
*/
package config
