// Package config loads the forgeflow YAML configuration, fills in defaults
// relative to the config file's directory, and applies the environment
// overrides for secrets. Only the bootstrap layer reads the environment.
package config
