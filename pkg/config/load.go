package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/starmod/pkg/loader"
)

// Format is a configuration file syntax.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatCUE  Format = "cue"
)

// FormatOf picks the syntax from the file extension. JSON is read as YAML.
func FormatOf(path string) (Format, error) {
	switch filepath.Ext(path) {
	case ".yaml", ".yml", ".json":
		return FormatYAML, nil
	case ".cue":
		return FormatCUE, nil
	}
	return "", fmt.Errorf("unsupported config file %s (want .yaml, .yml, .json or .cue)", path)
}

// Load reads, validates and defaults the configuration at path.
func Load(path string) (*Config, error) {
	format, err := FormatOf(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg, err := Parse(data, format, path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes data on top of Default and validates the result. name is
// used in CUE error positions.
func Parse(data []byte, format Format, name string) (*Config, error) {
	schemas := NewSchemaRegistry()

	switch format {
	case FormatYAML:
		var raw map[string]interface{}
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
		if raw != nil {
			if err := schemas.ValidateAgainstSchema(context.Background(), SchemaConfig, raw); err != nil {
				return nil, err
			}
		}

	case FormatCUE:
		val := schemas.ctx.CompileBytes(data, cue.Filename(name))
		if err := val.Err(); err != nil {
			return nil, fmt.Errorf("failed to compile CUE: %w", err)
		}
		unified, err := schemas.unifyConfig(val)
		if err != nil {
			return nil, err
		}
		// The exported JSON is decoded by the same YAML path below.
		if data, err = unified.MarshalJSON(); err != nil {
			return nil, fmt.Errorf("failed to export CUE: %w", err)
		}

	default:
		return nil, fmt.Errorf("unsupported config format %q", format)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks struct constraints and the telemetry settings.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := c.Telemetry().Validate(); err != nil {
		return fmt.Errorf("invalid telemetry config: %w", err)
	}
	return nil
}

// ValidateManifest checks package manifest data against the #Manifest schema
// and then parses it the way the loader does.
func ValidateManifest(ctx context.Context, data []byte) (*loader.Manifest, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	if err := NewSchemaRegistry().ValidateAgainstSchema(ctx, SchemaManifest, raw); err != nil {
		return nil, err
	}
	return loader.ParseManifest(data)
}
