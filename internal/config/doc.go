// Package config loads, normalizes, and validates colabsfm configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// COLABSFM_API_TOKEN. The Config type centralizes every knob the daemon and
// CLI need, so the project root, colmap invocation, and job backend are
// discovered in one pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
