// Package config defines the hub's YAML configuration: loading with
// environment variable expansion, defaults, and validation.
package config
