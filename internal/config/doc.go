// Package config loads, normalizes, and validates intake configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// INTAKE_WATCH_DIR. The Config type centralizes every knob the watcher and CLI
// need: the watched directory, the explicit archive root, debounce timing, the
// extension to handler mapping, state/log locations, and the optional metrics
// listener.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
