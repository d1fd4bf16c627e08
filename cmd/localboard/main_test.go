package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"localboard/internal/auth"
	"localboard/internal/config"
)

const testSecret = "cmd-test-secret-0123456789"

func isolateEnv(t *testing.T) {
	t.Helper()
	for _, kv := range os.Environ() {
		if name, _, _ := strings.Cut(kv, "="); strings.HasPrefix(name, config.EnvPrefix) {
			t.Setenv(name, "")
			_ = os.Unsetenv(name)
		}
	}
}

// FUNCTIONAL VALIDATION TEST: token subcommand mints a verifiable credential
func TestRun_TokenSubcommand(t *testing.T) {
	isolateEnv(t)
	t.Setenv(config.EnvPrefix+"AUTH_SECRET", testSecret)

	var out bytes.Buffer
	err := run([]string{"token", "--user", "ada", "--role", auth.RoleAdmin, "--env-file", filepath.Join(t.TempDir(), "missing.env")}, &out)
	if err != nil {
		t.Fatalf("token failed: %v", err)
	}

	identity, err := auth.NewVerifier(testSecret, "localboard").Verify(strings.TrimSpace(out.String()))
	if err != nil {
		t.Fatalf("Minted token does not verify: %v", err)
	}
	if identity.UserID != "ada" || !identity.IsAdmin() {
		t.Errorf("Unexpected identity %+v", identity)
	}
}

func TestRun_TokenReadsEnvFile(t *testing.T) {
	isolateEnv(t)
	envFile := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(envFile, []byte(config.EnvPrefix+"AUTH_SECRET="+testSecret+"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Unsetenv(config.EnvPrefix + "AUTH_SECRET") })

	var out bytes.Buffer
	if err := run([]string{"token", "-u", "bob", "--env-file", envFile}, &out); err != nil {
		t.Fatalf("token failed: %v", err)
	}
	if _, err := auth.NewVerifier(testSecret, "localboard").Verify(strings.TrimSpace(out.String())); err != nil {
		t.Errorf("Token should be signed with the secret from the env file: %v", err)
	}
}

func TestRun_TokenErrors(t *testing.T) {
	isolateEnv(t)
	noEnv := filepath.Join(t.TempDir(), "missing.env")

	if err := run([]string{"token", "--env-file", noEnv}, &bytes.Buffer{}); err == nil {
		t.Error("Expected an error without --user")
	}
	if err := run([]string{"token", "--user", "ada", "--env-file", noEnv}, &bytes.Buffer{}); err == nil {
		t.Error("Expected an error without an auth secret")
	}
	if err := run([]string{"token", "--bogus"}, &bytes.Buffer{}); err == nil {
		t.Error("Expected an error for an unknown flag")
	}
}

func TestCommonFlags_Overrides(t *testing.T) {
	isolateEnv(t)
	flags := commonFlags{
		envFile:  filepath.Join(t.TempDir(), "missing.env"),
		addr:     "127.0.0.1:9090",
		dbDriver: config.DriverPostgres,
		dbDSN:    "postgres://board@localhost/board",
		logLevel: "debug",
	}
	cfg, err := flags.load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.HTTP.Host != "127.0.0.1" || cfg.HTTP.Port != 9090 {
		t.Errorf("Unexpected listen address %s", cfg.HTTP.Addr())
	}
	if cfg.Database.Driver != config.DriverPostgres || cfg.Database.DSN != flags.dbDSN {
		t.Errorf("Unexpected database config %+v", cfg.Database)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Expected debug log level, got %s", cfg.Log.Level)
	}

	flags.addr = "no-port"
	if _, err := flags.load(); err == nil {
		t.Error("Expected an error for an address without a port")
	}
}

func TestRun_ServeRejectsInvalidConfig(t *testing.T) {
	isolateEnv(t)
	err := run([]string{"serve", "--env-file", filepath.Join(t.TempDir(), "missing.env")}, &bytes.Buffer{})
	if err == nil || !strings.Contains(err.Error(), "invalid configuration") {
		t.Errorf("Expected a configuration error without an auth secret, got %v", err)
	}
}
