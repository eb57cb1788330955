// Package config provides unified configuration loading for medflow.
// Precedence: defaults, then YAML file, then environment variables.
package config
