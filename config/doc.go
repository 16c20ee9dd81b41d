// Package config loads the service configuration from defaults, an
// optional YAML file, a .env file, environment variables and command line
// overrides, in increasing order of precedence, and validates the result.
package config
