// Package config loads the simstack configuration.
//
// Values start from DefaultConfig, are overridden by an optional YAML file
// and finally by SIMSTACK_* environment variables. Config.Validate checks the
// validator tags on every section.
package config
