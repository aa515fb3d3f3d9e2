// Package config loads, normalizes, and validates subflow configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, picks up credentials from the environment or a
// .env file, and resolves layered LLM settings (global defaults plus per-feature
// overrides). The Config type centralizes every knob the daemon and CLI need.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
