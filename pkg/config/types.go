package config

import (
	"fmt"
	"time"
)

// Config is the configuration of allocsync.
type Config struct {
	// Noop suppresses every external mutation even when --sync is given.
	Noop bool `yaml:"noop" toml:"noop" json:"noop"`

	LDAP       LDAPConfig       `yaml:"ldap" toml:"ldap" json:"ldap"`
	Database   DatabaseConfig   `yaml:"database" toml:"database" json:"database"`
	History    HistoryConfig    `yaml:"history" toml:"history" json:"history"`
	Attributes AttributesConfig `yaml:"attributes" toml:"attributes" json:"attributes"`
	Quota      QuotaConfig      `yaml:"quota" toml:"quota" json:"quota"`
	Storage    StorageConfig    `yaml:"storage" toml:"storage" json:"storage"`
	Usage      UsageConfig      `yaml:"usage" toml:"usage" json:"usage"`
	Policy     PolicyConfig     `yaml:"policy" toml:"policy" json:"policy"`
	Filter     FilterConfig     `yaml:"filter" toml:"filter" json:"filter"`
	Schedule   ScheduleConfig   `yaml:"schedule" toml:"schedule" json:"schedule"`
	Telemetry  TelemetryConfig  `yaml:"telemetry" toml:"telemetry" json:"telemetry"`
	SSH        SSHConfig        `yaml:"ssh" toml:"ssh" json:"ssh"`
}

// LDAPConfig configures the directory connection.
type LDAPConfig struct {
	URL                string   `yaml:"url" toml:"url" json:"url" validate:"required"`
	BindDN             string   `yaml:"bind_dn" toml:"bind_dn" json:"bind_dn"`
	BindPassword       string   `yaml:"bind_password" toml:"bind_password" json:"bind_password"`
	UserBase           string   `yaml:"user_base" toml:"user_base" json:"user_base" validate:"required"`
	GroupBase          string   `yaml:"group_base" toml:"group_base" json:"group_base" validate:"required"`
	ConnectTimeout     Duration `yaml:"connect_timeout" toml:"connect_timeout" json:"connect_timeout"`
	StartTLS           bool     `yaml:"start_tls" toml:"start_tls" json:"start_tls"`
	InsecureSkipVerify bool     `yaml:"insecure_skip_verify" toml:"insecure_skip_verify" json:"insecure_skip_verify"`
	FirstGID           int      `yaml:"first_gid" toml:"first_gid" json:"first_gid" validate:"gt=0"`
	GroupDescription   string   `yaml:"group_description" toml:"group_description" json:"group_description"`

	// DisabledGroup lists accounts disabled upstream.
	DisabledGroup string `yaml:"disabled_group" toml:"disabled_group" json:"disabled_group" validate:"required"`
}

// DatabaseConfig locates the ColdFront database.
type DatabaseConfig struct {
	Path            string   `yaml:"path" toml:"path" json:"path" validate:"required"`
	MaxOpenConns    int      `yaml:"max_open_conns" toml:"max_open_conns" json:"max_open_conns" validate:"gte=0"`
	MaxIdleConns    int      `yaml:"max_idle_conns" toml:"max_idle_conns" json:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime" toml:"conn_max_lifetime" json:"conn_max_lifetime"`
}

// HistoryConfig configures the run history database. An empty path disables it.
type HistoryConfig struct {
	Path string `yaml:"path" toml:"path" json:"path"`

	// Retention prunes runs older than this at the start of every run. Zero keeps everything.
	Retention Duration `yaml:"retention" toml:"retention" json:"retention"`
}

// AttributesConfig names the allocation and resource attributes allocsync reads.
type AttributesConfig struct {
	Group      string `yaml:"group" toml:"group" json:"group" validate:"required"`
	Quota      string `yaml:"quota" toml:"quota" json:"quota" validate:"required"`
	Filesystem string `yaml:"filesystem" toml:"filesystem" json:"filesystem" validate:"required"`
	Account    string `yaml:"account" toml:"account" json:"account" validate:"required"`
	Usage      string `yaml:"usage" toml:"usage" json:"usage" validate:"required"`
}

// QuotaConfig configures the storage quota job.
type QuotaConfig struct {
	// Resource is the name of the storage resource whose allocations are checked.
	Resource string `yaml:"resource" toml:"resource" json:"resource" validate:"required"`

	// DefaultGB applies to allocations without a quota attribute.
	DefaultGB float64 `yaml:"default_gb" toml:"default_gb" json:"default_gb" validate:"gt=0"`

	Binary string `yaml:"binary" toml:"binary" json:"binary"`
	Sudo   bool   `yaml:"sudo" toml:"sudo" json:"sudo"`
}

// StorageConfig configures group directory provisioning.
type StorageConfig struct {
	Provision bool `yaml:"provision" toml:"provision" json:"provision"`
	Sudo      bool `yaml:"sudo" toml:"sudo" json:"sudo"`
}

// UsageConfig configures the compute usage job.
type UsageConfig struct {
	// Resource is the name of the cluster resource whose allocations are checked.
	Resource string `yaml:"resource" toml:"resource" json:"resource" validate:"required"`
	Binary   string `yaml:"binary" toml:"binary" json:"binary"`
}

// PolicyConfig configures the action guard.
type PolicyConfig struct {
	Enabled bool `yaml:"enabled" toml:"enabled" json:"enabled"`

	// Paths are .rego or .json files and directories with site policies.
	Paths []string `yaml:"paths" toml:"paths" json:"paths"`

	// Watch reloads Paths on change in serve mode.
	Watch bool `yaml:"watch" toml:"watch" json:"watch"`

	ProtectedGroups []string `yaml:"protected_groups" toml:"protected_groups" json:"protected_groups"`

	// MaxQuotaGB is the highest quota allocsync may set. Zero disables the ceiling.
	MaxQuotaGB float64 `yaml:"max_quota_gb" toml:"max_quota_gb" json:"max_quota_gb" validate:"gte=0"`

	// Disabled names built-in or site policies that are never evaluated.
	Disabled []string `yaml:"disabled" toml:"disabled" json:"disabled"`
}

// FilterConfig configures the entity filter script.
type FilterConfig struct {
	// Script is a Starlark file defining include(kind, name). Empty means no filter.
	Script string `yaml:"script" toml:"script" json:"script"`

	// Vars are exposed to the script as the vars dict.
	Vars map[string]interface{} `yaml:"vars" toml:"vars" json:"vars"`
}

// ScheduleConfig holds the cron specs of the serve command. An empty spec disables the job.
type ScheduleConfig struct {
	LDAPCheck   string `yaml:"ldap_check" toml:"ldap_check" json:"ldap_check"`
	QuotasCheck string `yaml:"quotas_check" toml:"quotas_check" json:"quotas_check"`
	SlurmUsage  string `yaml:"slurm_usage" toml:"slurm_usage" json:"slurm_usage"`

	// Sync enables corrective actions in scheduled jobs. Config.Noop still applies.
	Sync bool `yaml:"sync" toml:"sync" json:"sync"`
}

// TelemetryConfig configures logging, tracing and metrics.
type TelemetryConfig struct {
	Logging LoggingConfig `yaml:"logging" toml:"logging" json:"logging"`
	Tracing TracingConfig `yaml:"tracing" toml:"tracing" json:"tracing"`
	Metrics MetricsConfig `yaml:"metrics" toml:"metrics" json:"metrics"`
}

// LoggingConfig configures the logger.
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level" json:"level" validate:"oneof=trace debug info warn error"`
	Format string `yaml:"format" toml:"format" json:"format" validate:"oneof=console json"`
	Output string `yaml:"output" toml:"output" json:"output"`
	Caller bool   `yaml:"caller" toml:"caller" json:"caller"`
}

// TracingConfig configures the span exporter.
type TracingConfig struct {
	Exporter     string            `yaml:"exporter" toml:"exporter" json:"exporter" validate:"oneof=none stdout otlp"`
	Endpoint     string            `yaml:"endpoint" toml:"endpoint" json:"endpoint" validate:"required_if=Exporter otlp"`
	SamplingRate float64           `yaml:"sampling_rate" toml:"sampling_rate" json:"sampling_rate" validate:"gte=0,lte=1"`
	Insecure     bool              `yaml:"insecure" toml:"insecure" json:"insecure"`
	Headers      map[string]string `yaml:"headers" toml:"headers" json:"headers"`
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled       bool   `yaml:"enabled" toml:"enabled" json:"enabled"`
	ListenAddress string `yaml:"listen_address" toml:"listen_address" json:"listen_address"`
	Path          string `yaml:"path" toml:"path" json:"path"`
	Textfile      string `yaml:"textfile" toml:"textfile" json:"textfile"`
}

// SSHConfig configures the storage host. An empty host runs quota commands locally.
type SSHConfig struct {
	Host                  string   `yaml:"host" toml:"host" json:"host"`
	Port                  int      `yaml:"port" toml:"port" json:"port" validate:"gte=0,lte=65535"`
	User                  string   `yaml:"user" toml:"user" json:"user" validate:"required_with=Host"`
	AuthMethod            string   `yaml:"auth_method" toml:"auth_method" json:"auth_method" validate:"oneof=password key agent"`
	Password              string   `yaml:"password" toml:"password" json:"password"`
	PrivateKeyPath        string   `yaml:"private_key_path" toml:"private_key_path" json:"private_key_path"`
	PrivateKeyPassphrase  string   `yaml:"private_key_passphrase" toml:"private_key_passphrase" json:"private_key_passphrase"`
	AgentSocket           string   `yaml:"agent_socket" toml:"agent_socket" json:"agent_socket"`
	KnownHostsPath        string   `yaml:"known_hosts_path" toml:"known_hosts_path" json:"known_hosts_path"`
	StrictHostKeyChecking bool     `yaml:"strict_host_key_checking" toml:"strict_host_key_checking" json:"strict_host_key_checking"`
	ConnectTimeout        Duration `yaml:"connect_timeout" toml:"connect_timeout" json:"connect_timeout"`
	CommandTimeout        Duration `yaml:"command_timeout" toml:"command_timeout" json:"command_timeout"`
	KeepAliveInterval     Duration `yaml:"keep_alive_interval" toml:"keep_alive_interval" json:"keep_alive_interval"`
}

// Duration is a time.Duration written as a string such as "2.5s" in config files.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}
