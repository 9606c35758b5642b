package config

import (
	"github.com/openfroyo/starmod/pkg/loader"
	"github.com/openfroyo/starmod/pkg/stores"
	"github.com/openfroyo/starmod/pkg/telemetry"
)

// Config is the host configuration.
type Config struct {
	// ModulePaths are the global filesystem roots, searched in order.
	ModulePaths []string `yaml:"module_paths" validate:"dive,required"`

	// Database configures the database-backed module store. It is disabled
	// when Path is empty.
	Database DatabaseConfig `yaml:"database"`

	// SystemNamespace names the privileged package.
	SystemNamespace string `yaml:"system_namespace" validate:"required,excludesall=/"`

	// Environment is injected into the application package's modules.
	Environment map[string]interface{} `yaml:"environment"`

	// MaxSteps bounds interpreter steps per module body. Zero is unlimited.
	MaxSteps uint64 `yaml:"max_steps"`

	// Policy configures the require guard.
	Policy PolicyConfig `yaml:"policy"`

	// Logging, Metrics and Tracing configure telemetry.
	Logging telemetry.LoggingConfig `yaml:"logging"`
	Metrics telemetry.MetricsConfig `yaml:"metrics"`
	Tracing telemetry.TracingConfig `yaml:"tracing"`
}

// DatabaseConfig configures the SQLite module store.
type DatabaseConfig struct {
	// Path is the SQLite file, or ":memory:".
	Path string `yaml:"path"`

	// Collection is the collection searched as a global root.
	Collection string `yaml:"collection" validate:"required_with=Path,excludesall=/"`
}

// Enabled reports whether a database store is configured.
func (d DatabaseConfig) Enabled() bool {
	return d.Path != ""
}

// PolicyConfig configures the require guard.
type PolicyConfig struct {
	// Enabled turns the guard on. The built-in policies apply whenever it
	// is on.
	Enabled bool `yaml:"enabled"`

	// Paths are .rego or .json policy files and directories.
	Paths []string `yaml:"paths" validate:"dive,required"`

	// Watch reloads policy files when they change.
	Watch bool `yaml:"watch"`
}

// Roots returns the loader's global search configuration.
func (c *Config) Roots() loader.Roots {
	r := loader.Roots{
		ModulePaths:     append([]string(nil), c.ModulePaths...),
		SystemNamespace: c.SystemNamespace,
	}
	if c.Database.Enabled() {
		r.Collections = []string{c.Database.Collection}
	}
	return r
}

// Telemetry returns the telemetry configuration.
func (c *Config) Telemetry() *telemetry.Config {
	t := telemetry.DefaultConfig()
	t.Logging = c.Logging
	t.Metrics = c.Metrics
	t.Tracing = c.Tracing
	return t
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	t := telemetry.DefaultConfig()
	return &Config{
		Database:        DatabaseConfig{Collection: stores.DefaultCollection},
		SystemNamespace: loader.DefaultSystemNamespace,
		Logging:         t.Logging,
		Metrics:         t.Metrics,
		Tracing:         t.Tracing,
	}
}
