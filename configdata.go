// Package workerhost provides embedded assets for the workerhost daemon.
//
// The root package exists solely to embed [config.default.toml] via
// [DefaultConfigTOML]. The daemon copies it into the data directory on
// first run.
package workerhost

import _ "embed"

// DefaultConfigTOML holds the raw bytes of config.default.toml.
//
//go:embed config.default.toml
var DefaultConfigTOML []byte
