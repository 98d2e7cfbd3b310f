// Package api defines wire-format types and converters for the HTTP API
// layer. It translates internal lifecycle models into transport-friendly
// DTOs that operator workers and the CLI can consume without coupling to
// internal types.
//
// DTOs use camelCase JSON tags. Internal enums (process.Status,
// process.Stage) are exposed as lowercase strings. Timestamps use RFC3339
// with milliseconds. ProcessService is the shared application surface: the
// daemon's HTTP handlers and the CLI both go through it rather than
// touching the store or lifecycle manager directly.
package api
