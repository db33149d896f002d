// Package config loads the engine's YAML configuration. Values of the form
// ${VAR_NAME} are substituted from the environment before parsing, so
// secrets like the vault key or Kafka brokers never live in the file itself.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/PNdlovu/WriteCareNotes-sub010/pkg/audit"
	"github.com/PNdlovu/WriteCareNotes-sub010/pkg/clients"
	"github.com/PNdlovu/WriteCareNotes-sub010/pkg/connector/core"
	"github.com/PNdlovu/WriteCareNotes-sub010/pkg/errors"
	"github.com/PNdlovu/WriteCareNotes-sub010/pkg/logger"
)

// Config is the root engine configuration.
type Config struct {
	Logging   logger.Config       `yaml:"logging"`
	Metrics   MetricsConfig       `yaml:"metrics"`
	Vault     VaultConfig         `yaml:"vault"`
	Audit     AuditConfig         `yaml:"audit"`
	Store     StoreConfig         `yaml:"store"`
	Transport *clients.HTTPConfig `yaml:"transport"`
	Pipeline  PipelineConfig      `yaml:"pipeline"`
	// Definitions lists YAML files holding connector definitions to register
	// at startup, in addition to the built-in catalog.
	Definitions []string `yaml:"definitions"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// VaultConfig selects the credential vault backend: "local" (AES-GCM with a
// static key) or "transit" (HashiCorp Vault transit engine).
type VaultConfig struct {
	Backend string `yaml:"backend"`

	// local backend
	Key string `yaml:"key"` // base64 or hex is fine; 32 bytes after decode

	// transit backend
	Address    string `yaml:"address"`
	Token      string `yaml:"token"`
	Mount      string `yaml:"mount"`
	TransitKey string `yaml:"transit_key"`
}

// AuditConfig selects the audit sink backend: "log" or "kafka". Reliability
// settings apply to the wrapper regardless of backend.
type AuditConfig struct {
	Backend string               `yaml:"backend"`
	Kafka   audit.KafkaConfig    `yaml:"kafka"`
	Retry   audit.ReliableConfig `yaml:"retry"`
}

// StoreConfig selects the instance/execution store backend: "memory" or
// "postgres".
type StoreConfig struct {
	Backend  string `yaml:"backend"`
	Postgres string `yaml:"postgres"` // connection string
}

// PipelineConfig controls transformation behavior.
type PipelineConfig struct {
	LenientConversion bool `yaml:"lenient_conversion"`
}

// Default returns the configuration used when no file is supplied.
func Default() *Config {
	return &Config{
		Logging: logger.Config{Level: "info", Encoding: "json"},
		Metrics: MetricsConfig{Enabled: true, Address: ":9090"},
		Vault:   VaultConfig{Backend: "local"},
		Audit: AuditConfig{
			Backend: "log",
			Retry: audit.ReliableConfig{
				MaxRetries: 3,
				BaseDelay:  100 * time.Millisecond,
				MaxDelay:   2 * time.Second,
				Timeout:    10 * time.Second,
			},
		},
		Store:     StoreConfig{Backend: "memory"},
		Transport: clients.DefaultHTTPConfig(),
	}
}

// Load reads the YAML file at path, substitutes ${ENV} references, and
// overlays it on the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path) //nolint:gosec // path comes from the operator
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	content := substituteEnvVars(string(data))
	if err := yaml.Unmarshal([]byte(content), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks backend selections and their required settings.
func (c *Config) Validate() error {
	switch c.Vault.Backend {
	case "local":
		if c.Vault.Key == "" {
			return errors.ConfigurationInvalid("vault.key is required for the local backend")
		}
	case "transit":
		if c.Vault.Address == "" || c.Vault.TransitKey == "" {
			return errors.ConfigurationInvalid("vault.address and vault.transit_key are required for the transit backend")
		}
	default:
		return errors.ConfigurationInvalid(fmt.Sprintf("unknown vault backend %q", c.Vault.Backend))
	}

	switch c.Audit.Backend {
	case "log":
	case "kafka":
		if len(c.Audit.Kafka.Brokers) == 0 || c.Audit.Kafka.Topic == "" {
			return errors.ConfigurationInvalid("audit.kafka.brokers and audit.kafka.topic are required for the kafka backend")
		}
	default:
		return errors.ConfigurationInvalid(fmt.Sprintf("unknown audit backend %q", c.Audit.Backend))
	}

	switch c.Store.Backend {
	case "memory":
	case "postgres":
		if c.Store.Postgres == "" {
			return errors.ConfigurationInvalid("store.postgres connection string is required for the postgres backend")
		}
	default:
		return errors.ConfigurationInvalid(fmt.Sprintf("unknown store backend %q", c.Store.Backend))
	}

	return nil
}

// LoadDefinitions parses connector definition files referenced by the
// configuration. Each file holds one definition.
func (c *Config) LoadDefinitions() ([]*core.ConnectorDefinition, error) {
	defs := make([]*core.ConnectorDefinition, 0, len(c.Definitions))
	for _, path := range c.Definitions {
		data, err := os.ReadFile(path) //nolint:gosec // path comes from the operator
		if err != nil {
			return nil, fmt.Errorf("failed to read definition %s: %w", path, err)
		}

		var def core.ConnectorDefinition
		if err := yaml.Unmarshal([]byte(substituteEnvVars(string(data))), &def); err != nil {
			return nil, fmt.Errorf("failed to parse definition %s: %w", path, err)
		}
		defs = append(defs, &def)
	}
	return defs, nil
}

// substituteEnvVars replaces ${VAR_NAME} with environment variable values.
func substituteEnvVars(content string) string {
	for {
		start := strings.Index(content, "${")
		if start == -1 {
			break
		}
		end := strings.Index(content[start:], "}")
		if end == -1 {
			break
		}
		end += start

		varName := content[start+2 : end]
		content = content[:start] + os.Getenv(varName) + content[end+1:]
	}
	return content
}
