// Package config loads, normalizes, and validates batchvec daemon configuration.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// BATCHVEC_API_TOKEN, optionally sourced from a local .env file. The Config
// type centralizes the knobs the daemon and CLI need: storage locations, the
// API surface, the target site, and the queue engine's retry and keep-alive
// timings.
//
// Durable per-user batch settings (delay, output format, folder, auto-pause)
// are deliberately absent here; see package settings.
package config
