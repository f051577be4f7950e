// Package config loads the TOML configuration shared by the vault and
// sandman binaries.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// SystemPath is the last-resort configuration file location.
const SystemPath = "/etc/vaultrc"

// Config is the root of the vault/sandman configuration schema.
type Config struct {
	Identity     IdentityConfig     `toml:"identity"`
	Persistence  PersistenceConfig  `toml:"persistence"`
	Email        EmailConfig        `toml:"email"`
	Deletion     DeletionConfig     `toml:"deletion"`
	Archive      ArchiveConfig      `toml:"archive"`
	MinGroupOwners  int             `toml:"min_group_owners"`
	SandmanRunInterval int          `toml:"sandman_run_interval"` // hours
}

// IdentityConfig holds the LDAP connection and attribute-mapping
// parameters the identity manager resolves users and groups against.
// The directory-lookup semantics themselves are out of scope; only the
// shape the config file must carry is modelled.
type IdentityConfig struct {
	LDAP LDAPConfig `toml:"ldap"`
}

// LDAPConfig is a tagged-union-free connection descriptor: every field
// applies uniformly, because there is exactly one identity backend in
// this schema.
type LDAPConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`

	Users  LDAPEntityMapping `toml:"users"`
	Groups LDAPEntityMapping `toml:"groups"`
}

// LDAPEntityMapping names the DN and attribute mapping for one kind of
// directory entity (user or group).
type LDAPEntityMapping struct {
	DN         string            `toml:"dn"`
	Attributes map[string]string `toml:"attributes"`
}

// PersistenceConfig holds the PostgreSQL connection parameters.
type PersistenceConfig struct {
	Postgres PostgresConfig `toml:"postgres"`
}

// PostgresConfig mirrors store.Config's fields; kept separate so the
// store package has no reason to import config.
type PostgresConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	Database string `toml:"database"`
	User     string `toml:"user"`
	Password string `toml:"password"`
}

// EmailConfig holds the outbound SMTP parameters used by the notifier.
type EmailConfig struct {
	SMTP   SMTPConfig `toml:"smtp"`
	Sender string     `toml:"sender"`
}

// SMTPConfig is the mail relay's connection parameters.
type SMTPConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
	TLS  bool   `toml:"tls"`
}

// DeletionConfig holds the retention thresholds the sweeper applies.
type DeletionConfig struct {
	ThresholdDays int   `toml:"threshold"`
	LimboDays     int   `toml:"limbo"`
	WarningHours  []int `toml:"warnings"` // descending; none may exceed 2160 (90 days)
	KeepDays      int   `toml:"keep,omitempty"`
}

// ArchiveConfig holds the staging/drain thresholds.
type ArchiveConfig struct {
	Threshold int    `toml:"threshold"` // file count that triggers a drain chunk
	Handler   string `toml:"handler"`   // path to the downstream handler executable
}

// MaxWarningHours bounds deletion.warnings: a sandman run interval longer
// than this would let a file pass a checkpoint between sweeps, making
// the warning silently undeliverable.
const MaxWarningHours = 2160

// Validate checks the invariants a loaded configuration must satisfy
// that toml.Decode itself cannot enforce.
func (c *Config) Validate() error {
	if c.MinGroupOwners < 1 {
		return fmt.Errorf("min_group_owners must be at least 1, got %d", c.MinGroupOwners)
	}
	for i, h := range c.Deletion.WarningHours {
		if h > MaxWarningHours {
			return fmt.Errorf("deletion.warnings[%d] = %d exceeds the maximum of %d hours", i, h, MaxWarningHours)
		}
		if i > 0 && h >= c.Deletion.WarningHours[i-1] {
			return fmt.Errorf("deletion.warnings must be strictly descending; got %d at index %d after %d", h, i, c.Deletion.WarningHours[i-1])
		}
	}
	return nil
}

// Read decodes a Config from r and validates it.
func Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decoding configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// ReadFromFile reads and validates a Config from the file at path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening configuration %s: %w", path, err)
	}
	defer f.Close()

	cfg, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading configuration from %s: %w", path, err)
	}
	return cfg, nil
}

// Locate resolves the configuration path following $VAULTRC >
// ~/.vaultrc > /etc/vaultrc precedence, returning the first candidate
// that exists.
func Locate() (string, error) {
	if path := os.Getenv("VAULTRC"); path != "" {
		if _, err := os.Stat(path); err != nil {
			return "", fmt.Errorf("VAULTRC=%s: %w", path, err)
		}
		return path, nil
	}

	if home, err := os.UserHomeDir(); err == nil {
		candidate := filepath.Join(home, ".vaultrc")
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}

	if _, err := os.Stat(SystemPath); err == nil {
		return SystemPath, nil
	}

	return "", fmt.Errorf("no configuration found: checked $VAULTRC, ~/.vaultrc, %s", SystemPath)
}

// Load locates and reads the effective configuration file.
func Load() (*Config, error) {
	path, err := Locate()
	if err != nil {
		return nil, err
	}
	return ReadFromFile(path)
}
