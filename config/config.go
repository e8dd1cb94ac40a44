// Package config loads named YAML configuration sections and keeps them fresh.
package config

// Config is implemented by every named configuration section.
type Config interface {
	GetName() string
	Validate() error
}

// ConfigChangeListener is notified after a watched section was reloaded and validated.
type ConfigChangeListener interface {
	OnConfigChanged(configName string, newConfig, oldConfig Config) error
}

// Defaulter is implemented by sections that want reloads to start from their defaults
// instead of a zero value, so keys missing from the file keep their default.
type Defaulter interface {
	Default() Config
}
