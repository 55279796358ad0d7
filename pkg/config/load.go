package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Environment variables that override secrets from the config file.
const (
	EnvLDAPBindPassword = "ALLOCSYNC_LDAP_BIND_PASSWORD"
	EnvSSHPassword      = "ALLOCSYNC_SSH_PASSWORD"
)

// Load reads the config file at path on top of Default, applies environment
// overrides and validates the result. The format follows the file extension:
// .yaml, .yml, .toml or .cue.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := Default()
	if err := Decode(path, data, cfg); err != nil {
		return nil, err
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Decode decodes data into cfg. filename selects the format. Unknown keys are errors.
func Decode(filename string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("failed to parse %s: %w", filename, err)
		}
	case ".toml":
		md, err := toml.Decode(string(data), cfg)
		if err != nil {
			return fmt.Errorf("failed to parse %s: %w", filename, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return fmt.Errorf("failed to parse %s: unknown keys %v", filename, undecoded)
		}
	case ".cue":
		if err := NewCUEParser().Decode(filename, data, cfg); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unsupported config format: %s", filename)
	}
	return nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvLDAPBindPassword); v != "" {
		c.LDAP.BindPassword = v
	}
	if v := os.Getenv(EnvSSHPassword); v != "" {
		c.SSH.Password = v
	}
}

// Validate checks struct constraints, then the settings each component
// validates on its own.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}

	if err := c.DirectoryConfig().Validate(); err != nil {
		return fmt.Errorf("ldap: %w", err)
	}

	if err := c.TelemetryConfig("").Validate(); err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}

	if sshCfg, ok := c.SSHClientConfig(); ok {
		if err := sshCfg.Validate(); err != nil {
			return fmt.Errorf("ssh: %w", err)
		}
	}

	for name, spec := range c.Schedule.Jobs() {
		if spec == "" {
			continue
		}
		if _, err := cron.ParseStandard(spec); err != nil {
			return fmt.Errorf("schedule %s: %w", name, err)
		}
	}

	return nil
}

// Jobs returns the cron spec of every job keyed by command name.
func (s ScheduleConfig) Jobs() map[string]string {
	return map[string]string{
		"ldap-check":   s.LDAPCheck,
		"quotas-check": s.QuotasCheck,
		"slurm-usage":  s.SlurmUsage,
	}
}
