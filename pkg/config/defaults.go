package config

import (
	"github.com/hpcops/allocsync/pkg/directory"
	"github.com/hpcops/allocsync/pkg/engine"
	"github.com/hpcops/allocsync/pkg/quota"
	"github.com/hpcops/allocsync/pkg/usage"
)

// Default resource names.
const (
	DefaultStorageResource = "Project Storage"
	DefaultSlurmResource   = "Cluster"
)

// Default returns a Config with every default applied. The LDAP URL and
// bases and the database path have no default.
func Default() *Config {
	return &Config{
		LDAP: LDAPConfig{
			ConnectTimeout:   Duration(directory.DefaultConnectTimeout),
			FirstGID:         directory.DefaultFirstGID,
			GroupDescription: directory.DefaultGroupDescription,
			DisabledGroup:    engine.DefaultDisabledGroup,
		},
		Attributes: AttributesConfig{
			Group:      engine.DefaultGroupAttribute,
			Quota:      engine.DefaultQuotaAttribute,
			Filesystem: engine.DefaultFilesystemAttribute,
			Account:    engine.DefaultAccountAttribute,
			Usage:      engine.DefaultUsageAttribute,
		},
		Quota: QuotaConfig{
			Resource:  DefaultStorageResource,
			DefaultGB: engine.DefaultQuotaGB,
			Binary:    quota.DefaultBinary,
		},
		Storage: StorageConfig{
			Provision: true,
			Sudo:      true,
		},
		Usage: UsageConfig{
			Resource: DefaultSlurmResource,
			Binary:   usage.DefaultBinary,
		},
		Policy: PolicyConfig{
			Enabled: true,
			Watch:   true,
		},
		Telemetry: TelemetryConfig{
			Logging: LoggingConfig{
				Level:  "warn",
				Format: "console",
				Output: "stderr",
			},
			Tracing: TracingConfig{
				Exporter:     "none",
				SamplingRate: 1.0,
			},
			Metrics: MetricsConfig{
				Enabled:       true,
				ListenAddress: ":9102",
				Path:          "/metrics",
			},
		},
		SSH: SSHConfig{
			Port:                  22,
			AuthMethod:            "key",
			StrictHostKeyChecking: true,
			ConnectTimeout:        Duration(directory.DefaultConnectTimeout),
		},
	}
}
