// Package config defines the insightd configuration tree and its loader.
//
// Configuration merges three layers, later layers winning: compiled-in
// defaults, a YAML config file, and INSIGHTD_-prefixed environment
// variables (INSIGHTD_SERVER_PORT addresses server.port). The config file
// must be owner-readable only; group or world access is rejected.
//
// The package also provides Duration, which parses "30s"-style strings and
// rejects negative values, and Secret, which keeps credentials out of logs
// by redacting every formatted or marshaled representation.
package config
