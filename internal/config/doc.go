// Package config loads, normalizes, and validates idlefarm configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and applies IDLEFARM_* and STEAM_API_KEY
// environment overrides. The Config type centralizes every knob the daemon,
// CLI, and Steam collaborators need.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
