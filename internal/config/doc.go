// Package config loads the rivalzd configuration file (JSON or YAML), fills in
// defaults relative to the file location and validates driver selections.
// Secrets such as the knowledge-store token and model API keys may be given
// inline or through the environment variable named by the matching *_env
// field.
package config
