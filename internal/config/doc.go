// Package config loads the hub's YAML configuration.
//
// Loading order: read file, expand ${VAR} environment references, decode,
// apply defaults, validate.
package config
