// Package config provides configuration loading and validation for the
// gateway. It handles YAML-based configuration with per-section validation
// and supplies working defaults so the gateway runs without a file.
package config
