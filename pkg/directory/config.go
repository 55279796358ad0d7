package directory

import (
	"fmt"
	"net/url"
	"time"
)

// Config holds LDAP connection configuration.
type Config struct {
	// URL is the server address, e.g. ldaps://ldap.example.org:636
	URL string

	// BindDN is the account used for the simple bind
	// If empty, the connection stays anonymous
	BindDN string

	// BindPassword is the password of BindDN
	BindPassword string

	// UserBase is the search base of user entries
	UserBase string

	// GroupBase is the search base of group entries, also the parent of created groups
	GroupBase string

	// ConnectTimeout bounds the dial (default: 2.5s)
	ConnectTimeout time.Duration

	// StartTLS upgrades an ldap:// connection before binding
	StartTLS bool

	// InsecureSkipVerify disables certificate verification
	InsecureSkipVerify bool

	// FirstGID is the gidNumber of the first created group when no posixGroup exists yet
	FirstGID int

	// GroupDescription is stored on groups created by AddMember
	GroupDescription string
}

// Defaults for Config.
const (
	DefaultConnectTimeout   = 2500 * time.Millisecond
	DefaultFirstGID         = 1000
	DefaultGroupDescription = "Group account, created by allocsync"
)

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig(serverURL string) *Config {
	return &Config{
		URL:              serverURL,
		ConnectTimeout:   DefaultConnectTimeout,
		FirstGID:         DefaultFirstGID,
		GroupDescription: DefaultGroupDescription,
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("url is required")
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	switch u.Scheme {
	case "ldap", "ldaps", "ldapi":
	default:
		return fmt.Errorf("unsupported url scheme: %s", u.Scheme)
	}
	if c.UserBase == "" {
		return fmt.Errorf("user base is required")
	}
	if c.GroupBase == "" {
		return fmt.Errorf("group base is required")
	}
	if c.BindDN != "" && c.BindPassword == "" {
		return fmt.Errorf("bind password is required when bind dn is set")
	}
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("connect timeout must be positive")
	}
	if c.FirstGID <= 0 {
		return fmt.Errorf("first gid must be positive")
	}
	return nil
}
