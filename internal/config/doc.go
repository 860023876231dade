// Package config loads the client configuration from YAML. ${VAR} references
// are expanded from the environment, keys missing from the file keep their
// Default values, and every section is validated with struct tags plus
// hand-written cross-field rules.
package config
