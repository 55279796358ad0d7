package config

import (
	"github.com/hpcops/allocsync/pkg/directory"
	"github.com/hpcops/allocsync/pkg/engine"
	"github.com/hpcops/allocsync/pkg/policy"
	"github.com/hpcops/allocsync/pkg/stores"
	"github.com/hpcops/allocsync/pkg/telemetry"
	"github.com/hpcops/allocsync/pkg/transports/ssh"
)

// DirectoryConfig returns the LDAP connection settings.
func (c *Config) DirectoryConfig() *directory.Config {
	cfg := directory.DefaultConfig(c.LDAP.URL)
	cfg.BindDN = c.LDAP.BindDN
	cfg.BindPassword = c.LDAP.BindPassword
	cfg.UserBase = c.LDAP.UserBase
	cfg.GroupBase = c.LDAP.GroupBase
	cfg.StartTLS = c.LDAP.StartTLS
	cfg.InsecureSkipVerify = c.LDAP.InsecureSkipVerify
	if c.LDAP.ConnectTimeout > 0 {
		cfg.ConnectTimeout = c.LDAP.ConnectTimeout.Std()
	}
	if c.LDAP.FirstGID > 0 {
		cfg.FirstGID = c.LDAP.FirstGID
	}
	if c.LDAP.GroupDescription != "" {
		cfg.GroupDescription = c.LDAP.GroupDescription
	}
	return cfg
}

// ColdFrontConfig returns the settings of the system of record.
func (c *Config) ColdFrontConfig() stores.Config {
	return stores.Config{
		Path:            c.Database.Path,
		MaxOpenConns:    c.Database.MaxOpenConns,
		MaxIdleConns:    c.Database.MaxIdleConns,
		ConnMaxLifetime: c.Database.ConnMaxLifetime.Std(),
	}
}

// HistoryConfig returns the settings of the run history store, or false when
// history is disabled.
func (c *Config) HistoryConfig() (stores.Config, bool) {
	if c.History.Path == "" {
		return stores.Config{}, false
	}
	return stores.Config{Path: c.History.Path}, true
}

// Mode returns the run mode for the given --sync and --noop flags.
// The noop setting of the config file wins over a missing flag.
func (c *Config) Mode(sync, noop bool) engine.Mode {
	return engine.Mode{Sync: sync, Noop: noop || c.Noop}
}

// PolicySettings returns the settings exposed to policies.
func (c *Config) PolicySettings() policy.Settings {
	return policy.Settings{
		ProtectedGroups: c.Policy.ProtectedGroups,
		MaxQuotaGB:      c.Policy.MaxQuotaGB,
	}
}

// TelemetryConfig returns the telemetry settings.
func (c *Config) TelemetryConfig(version string) *telemetry.Config {
	cfg := telemetry.DefaultConfig()
	if version != "" {
		cfg.ServiceVersion = version
	}

	cfg.Logging.Level = c.Telemetry.Logging.Level
	cfg.Logging.Format = c.Telemetry.Logging.Format
	cfg.Logging.Output = c.Telemetry.Logging.Output
	cfg.Logging.EnableCaller = c.Telemetry.Logging.Caller

	cfg.Tracing.Exporter = c.Telemetry.Tracing.Exporter
	cfg.Tracing.Endpoint = c.Telemetry.Tracing.Endpoint
	cfg.Tracing.SamplingRate = c.Telemetry.Tracing.SamplingRate
	cfg.Tracing.Insecure = c.Telemetry.Tracing.Insecure
	if len(c.Telemetry.Tracing.Headers) > 0 {
		cfg.Tracing.Headers = c.Telemetry.Tracing.Headers
	}

	cfg.Metrics.Enabled = c.Telemetry.Metrics.Enabled
	if c.Telemetry.Metrics.ListenAddress != "" {
		cfg.Metrics.ListenAddress = c.Telemetry.Metrics.ListenAddress
	}
	if c.Telemetry.Metrics.Path != "" {
		cfg.Metrics.Path = c.Telemetry.Metrics.Path
	}
	cfg.Metrics.TextfilePath = c.Telemetry.Metrics.Textfile

	return cfg
}

// SSHClientConfig returns the storage host settings, or false when quota
// commands run locally.
func (c *Config) SSHClientConfig() (*ssh.Config, bool) {
	if c.SSH.Host == "" {
		return nil, false
	}

	cfg := ssh.DefaultConfig(c.SSH.Host, c.SSH.User)
	if c.SSH.Port > 0 {
		cfg.Port = c.SSH.Port
	}
	if c.SSH.AuthMethod != "" {
		cfg.AuthMethod = ssh.AuthMethod(c.SSH.AuthMethod)
	}
	cfg.Password = c.SSH.Password
	if c.SSH.PrivateKeyPath != "" {
		cfg.PrivateKeyPath = c.SSH.PrivateKeyPath
	}
	cfg.PrivateKeyPassphrase = c.SSH.PrivateKeyPassphrase
	cfg.AgentSocket = c.SSH.AgentSocket
	if c.SSH.KnownHostsPath != "" {
		cfg.KnownHostsPath = c.SSH.KnownHostsPath
	}
	cfg.StrictHostKeyChecking = c.SSH.StrictHostKeyChecking
	if c.SSH.ConnectTimeout > 0 {
		cfg.ConnectionTimeout = c.SSH.ConnectTimeout.Std()
	}
	if c.SSH.CommandTimeout > 0 {
		cfg.CommandTimeout = c.SSH.CommandTimeout.Std()
	}
	cfg.KeepAliveInterval = c.SSH.KeepAliveInterval.Std()

	return cfg, true
}
