// Package config loads and validates watcher configuration from YAML.
//
// Config files support ${ENV_VAR} substitution. Load parses the file as-is;
// LoadWithDefaults fills unset fields; LoadAndValidate additionally checks
// required fields and value ranges.
package config
