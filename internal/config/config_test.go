package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const validToml = `
min_group_owners = 2
sandman_run_interval = 24

[identity.ldap]
host = "ldap.example.org"
port = 389

[persistence.postgres]
host = "db.example.org"
port = 5432
database = "vault"
user = "vault"
password = "secret"

[email]
sender = "vault@example.org"

[email.smtp]
host = "smtp.example.org"
port = 587
tls = true

[deletion]
threshold = 90
limbo = 30
warnings = [720, 168, 24]

[archive]
threshold = 1000
handler = "/usr/local/bin/archive-handler"
`

func TestReadDecodesFullSchema(t *testing.T) {
	cfg, err := Read(strings.NewReader(validToml))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	if cfg.Identity.LDAP.Host != "ldap.example.org" {
		t.Errorf("Identity.LDAP.Host = %q", cfg.Identity.LDAP.Host)
	}
	if cfg.Persistence.Postgres.Database != "vault" {
		t.Errorf("Persistence.Postgres.Database = %q", cfg.Persistence.Postgres.Database)
	}
	if cfg.Email.Sender != "vault@example.org" {
		t.Errorf("Email.Sender = %q", cfg.Email.Sender)
	}
	if cfg.Deletion.ThresholdDays != 90 {
		t.Errorf("Deletion.ThresholdDays = %d, want 90", cfg.Deletion.ThresholdDays)
	}
	if len(cfg.Deletion.WarningHours) != 3 {
		t.Fatalf("Deletion.WarningHours = %v, want 3 entries", cfg.Deletion.WarningHours)
	}
	if cfg.Archive.Handler != "/usr/local/bin/archive-handler" {
		t.Errorf("Archive.Handler = %q", cfg.Archive.Handler)
	}
	if cfg.MinGroupOwners != 2 {
		t.Errorf("MinGroupOwners = %d, want 2", cfg.MinGroupOwners)
	}
}

func TestValidateRejectsWarningsOverMax(t *testing.T) {
	cfg := &Config{
		MinGroupOwners: 2,
		Deletion:       DeletionConfig{WarningHours: []int{MaxWarningHours + 1}},
	}
	if err := cfg.Validate(); err == nil {
		t.Errorf("expected a warning hour beyond %d to be rejected", MaxWarningHours)
	}
}

func TestValidateRejectsNonDescendingWarnings(t *testing.T) {
	cfg := &Config{
		MinGroupOwners: 2,
		Deletion:       DeletionConfig{WarningHours: []int{24, 168}},
	}
	if err := cfg.Validate(); err == nil {
		t.Errorf("expected non-descending deletion.warnings to be rejected")
	}
}

func TestValidateRejectsZeroMinGroupOwners(t *testing.T) {
	cfg := &Config{MinGroupOwners: 0}
	if err := cfg.Validate(); err == nil {
		t.Errorf("expected min_group_owners = 0 to be rejected")
	}
}

func TestReadFromFileMissing(t *testing.T) {
	if _, err := ReadFromFile(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatalf("expected an error reading a missing config file")
	}
}

func TestLocatePrefersVAULTRCEnvVar(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.toml")
	if err := os.WriteFile(path, []byte(validToml), 0640); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	t.Setenv("VAULTRC", path)

	got, err := Locate()
	if err != nil {
		t.Fatalf("Locate: %v", err)
	}
	if got != path {
		t.Errorf("Locate() = %q, want %q", got, path)
	}
}

func TestLocateFallsBackToHomeDotfile(t *testing.T) {
	t.Setenv("VAULTRC", "")
	home := t.TempDir()
	t.Setenv("HOME", home)

	path := filepath.Join(home, ".vaultrc")
	if err := os.WriteFile(path, []byte(validToml), 0640); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	got, err := Locate()
	if err != nil {
		t.Fatalf("Locate: %v", err)
	}
	if got != path {
		t.Errorf("Locate() = %q, want %q", got, path)
	}
}
