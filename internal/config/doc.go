// Package config loads, normalizes, and validates the daemon configuration.
//
// The TOML file covers infrastructure only: the data directory, log output,
// and the API bind address. Everything tunable at runtime (provider keys,
// models, translation defaults, concurrency) lives in the settings store and
// is managed through the API.
//
// Always obtain paths through this package so downstream code receives
// expanded, absolute locations and canonical log formats.
package config
