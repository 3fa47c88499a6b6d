// Package config loads, normalizes, and validates curator configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, merges named quality profiles from an optional
// YAML file, and honours environment fallbacks such as CURATOR_JUDGE_API_KEY.
// The Config type centralizes every knob the pipeline and CLI need so stage
// lists, judge credentials, and output locations are discovered in one pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical formats, and clear validation errors.
package config
