// Package config loads, normalizes, and validates telbill's TOML
// configuration. A single Config value is constructed at startup and passed
// by pointer to every component; nothing mutates it after Load returns.
package config
