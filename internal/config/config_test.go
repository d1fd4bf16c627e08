package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const testSecret = "0123456789abcdef0123"

func validConfig() *Config {
	c := DefaultConfig()
	c.Auth.Secret = testSecret
	return c
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

// FUNCTIONAL VALIDATION TEST: Default configuration provides runnable settings
func TestConfig_DefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.Database.Driver != DriverSQLite || config.Database.DSN == "" {
		t.Errorf("Default database should be a sqlite file, got %+v", config.Database)
	}
	if config.HTTP.Addr() != "0.0.0.0:8080" {
		t.Errorf("Unexpected default address %s", config.HTTP.Addr())
	}
	if config.Admission.RatePerMinute != 100 || config.Admission.RateBurst != 10 {
		t.Errorf("Unexpected admission defaults %+v", config.Admission)
	}
	if config.Auth.Secret != "" {
		t.Error("The auth secret must not have a default")
	}
	if err := config.Validate(); err == nil {
		t.Error("Defaults without a secret must not validate")
	}
}

// TECHNICAL VALIDATION TEST: Complete validation coverage
func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"nil database", func(c *Config) { c.Database = nil }},
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }},
		{"empty dsn", func(c *Config) { c.Database.DSN = "" }},
		{"zero db timeout", func(c *Config) { c.Database.Timeout = 0 }},
		{"nil http", func(c *Config) { c.HTTP = nil }},
		{"port zero", func(c *Config) { c.HTTP.Port = 0 }},
		{"port too large", func(c *Config) { c.HTTP.Port = 65536 }},
		{"empty host", func(c *Config) { c.HTTP.Host = "" }},
		{"nil websocket", func(c *Config) { c.WebSocket = nil }},
		{"zero ping", func(c *Config) { c.WebSocket.PingInterval = 0 }},
		{"read under ping", func(c *Config) { c.WebSocket.ReadTimeout = c.WebSocket.PingInterval }},
		{"zero write timeout", func(c *Config) { c.WebSocket.WriteTimeout = 0 }},
		{"zero buffer", func(c *Config) { c.WebSocket.BufferSize = 0 }},
		{"short secret", func(c *Config) { c.Auth.Secret = "short" }},
		{"zero ttl", func(c *Config) { c.Auth.TokenTTL = 0 }},
		{"zero rate", func(c *Config) { c.Admission.RatePerMinute = 0 }},
		{"no upload dir", func(c *Config) { c.Storage.UploadDir = "" }},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }},
	}

	if err := validConfig().Validate(); err != nil {
		t.Fatalf("Valid config should pass validation: %v", err)
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(c)
			err := c.Validate()
			if err == nil {
				t.Fatal("Expected validation error")
			}
			if err.Error() == "" {
				t.Error("Validation error should have descriptive message")
			}
		})
	}
}

// FUNCTIONAL VALIDATION TEST: Environment variable configuration loading
func TestConfig_LoadFromEnv(t *testing.T) {
	t.Setenv("LOCALBOARD_HTTP_PORT", "9090")
	t.Setenv("LOCALBOARD_DATABASE_DRIVER", "postgres")
	t.Setenv("LOCALBOARD_DATABASE_DSN", "postgres://localhost/board?sslmode=disable")
	t.Setenv("LOCALBOARD_AUTH_ADMINS", "ada, bob ,,")
	t.Setenv("LOCALBOARD_WEBSOCKET_WRITE_TIMEOUT", "3s")

	config := LoadFromEnv()

	if config.HTTP.Port != 9090 {
		t.Errorf("Expected HTTP port 9090, got %d", config.HTTP.Port)
	}
	if config.Database.Driver != DriverPostgres || !strings.HasPrefix(config.Database.DSN, "postgres://") {
		t.Errorf("Unexpected database config %+v", config.Database)
	}
	if len(config.Auth.Admins) != 2 || !config.IsAdmin("bob") || config.IsAdmin("cy") {
		t.Errorf("Unexpected admins %v", config.Auth.Admins)
	}
	if config.WebSocket.WriteTimeout != 3*time.Second {
		t.Errorf("Expected 3s write timeout, got %v", config.WebSocket.WriteTimeout)
	}
}

// TECHNICAL VALIDATION TEST: Environment variable edge cases
func TestConfig_LoadFromEnvEdgeCases(t *testing.T) {
	t.Setenv("LOCALBOARD_HTTP_PORT", "invalid")
	t.Setenv("LOCALBOARD_HTTP_READ_TIMEOUT", "invalid")

	config := LoadFromEnv()
	if config.HTTP.Port != 8080 {
		t.Errorf("Expected default port 8080 when env var is invalid, got %d", config.HTTP.Port)
	}
	if config.HTTP.ReadTimeout != DefaultConfig().HTTP.ReadTimeout {
		t.Error("Should fall back to default when duration parsing fails")
	}
}

// TECHNICAL VALIDATION TEST: Configuration file parsing
func TestConfig_LoadFromFile(t *testing.T) {
	path := writeFile(t, "config.yaml", `
database:
  driver: sqlite3
  dsn: /tmp/testfile.db
  timeout: 10s
http:
  port: 8081
auth:
  secret: `+testSecret+`
  admins: [mod]
admission:
  rate_per_minute: 30
log:
  format: json
`)

	config, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile should succeed: %v", err)
	}
	if config.Database.DSN != "/tmp/testfile.db" || config.Database.Timeout != 10*time.Second {
		t.Errorf("Unexpected database config %+v", config.Database)
	}
	if config.HTTP.Port != 8081 || config.HTTP.Host != "0.0.0.0" {
		t.Errorf("File values should overlay defaults, got %+v", config.HTTP)
	}
	if !config.IsAdmin("mod") || config.Admission.RatePerMinute != 30 || config.Admission.RateBurst != 10 {
		t.Errorf("Unexpected auth/admission config %+v %+v", config.Auth, config.Admission)
	}
	if err := config.Validate(); err != nil {
		t.Errorf("Loaded config should validate: %v", err)
	}
}

func TestConfig_LoadFromFileErrors(t *testing.T) {
	if _, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Missing file should fail")
	}

	broken := writeFile(t, "broken.yaml", "http: [port: 1\n")
	if _, err := LoadFromFile(broken); err == nil {
		t.Error("LoadFromFile should fail with invalid YAML")
	}

	badDuration := writeFile(t, "duration.yaml", "http:\n  read_timeout: soon\n")
	if _, err := LoadFromFile(badDuration); err == nil || !strings.Contains(err.Error(), "http.read_timeout") {
		t.Errorf("Expected a named duration error, got %v", err)
	}
}

// FUNCTIONAL VALIDATION TEST: Configuration precedence file > env > defaults
func TestConfig_LoadConfigWithPrecedence(t *testing.T) {
	config, err := LoadConfigWithPrecedence("")
	if err != nil || config.HTTP.Port != 8080 {
		t.Fatalf("Expected defaults, got %v, %v", config.HTTP.Port, err)
	}

	if _, err := LoadConfigWithPrecedence(filepath.Join(t.TempDir(), "nonexistent.yaml")); err == nil {
		t.Error("A named config file that is missing should be reported")
	}

	t.Setenv("LOCALBOARD_HTTP_PORT", "9999")
	t.Setenv("LOCALBOARD_HTTP_HOST", "127.0.0.1")

	config, _ = LoadConfigWithPrecedence("")
	if config.HTTP.Port != 9999 {
		t.Errorf("Expected env var port 9999, got %d", config.HTTP.Port)
	}

	path := writeFile(t, "config.yaml", "http:\n  port: 7777\n")
	config, err = LoadConfigWithPrecedence(path)
	if err != nil {
		t.Fatal(err)
	}
	if config.HTTP.Port != 7777 {
		t.Errorf("Expected file config port 7777, got %d", config.HTTP.Port)
	}
	if config.HTTP.Host != "127.0.0.1" {
		t.Errorf("Env values not named in the file should survive, got %s", config.HTTP.Host)
	}
}

func TestConfig_LoadEnvFile(t *testing.T) {
	path := writeFile(t, ".env", "LOCALBOARD_LOG_LEVEL=debug\nLOCALBOARD_HTTP_PORT=6060\n")
	t.Setenv("LOCALBOARD_HTTP_PORT", "5050")
	t.Setenv("LOCALBOARD_LOG_LEVEL", "")
	os.Unsetenv("LOCALBOARD_LOG_LEVEL")

	if err := LoadEnvFile(path); err != nil {
		t.Fatalf("LoadEnvFile failed: %v", err)
	}
	config := LoadFromEnv()
	if config.Log.Level != "debug" {
		t.Errorf("Expected level from .env, got %s", config.Log.Level)
	}
	if config.HTTP.Port != 5050 {
		t.Errorf("Existing environment must win over .env, got %d", config.HTTP.Port)
	}

	if err := LoadEnvFile(filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Errorf("A missing .env is not an error: %v", err)
	}
}
