package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "LOCALBOARD_"

// Supported database drivers
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// minSecretLength is the shortest HS256 secret accepted
const minSecretLength = 16

// ARCHITECTURAL DISCOVERY: Configuration layer serves as system-wide settings coordinator
// Clean separation between configuration management and business logic
type Config struct {
	Database  *DatabaseConfig
	HTTP      *HTTPConfig
	WebSocket *WebSocketConfig
	Auth      *AuthConfig
	Admission *AdmissionConfig
	Storage   *StorageConfig
	Log       *LogConfig
}

// DatabaseConfig selects the store backend. DSN is a file path for sqlite3
// and a connection string for postgres.
type DatabaseConfig struct {
	Driver  string
	DSN     string
	Timeout time.Duration
}

type HTTPConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Addr returns the listen address
func (h *HTTPConfig) Addr() string {
	return net.JoinHostPort(h.Host, strconv.Itoa(h.Port))
}

// FUNCTIONAL DISCOVERY: BufferSize bounds each connection's outbound queue;
// a client that falls that far behind has its writes time out
type WebSocketConfig struct {
	PingInterval time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	BufferSize   int
}

// AuthConfig holds the bearer credential settings. Admins lists user IDs
// allowed to review the ledger in addition to tokens carrying the admin role.
type AuthConfig struct {
	Secret   string
	Issuer   string
	TokenTTL time.Duration
	Admins   []string
}

// AdmissionConfig bounds how fast a single user may post
type AdmissionConfig struct {
	RatePerMinute int
	RateBurst     int
}

// StorageConfig locates uploaded attachment files
type StorageConfig struct {
	UploadDir string
}

type LogConfig struct {
	Level    string
	Format   string
	Sink     string
	AuditDir string
}

// FUNCTIONAL DISCOVERY: Defaults run a single node on sqlite with a 30s heartbeat.
// The auth secret has no default and must be supplied.
func DefaultConfig() *Config {
	return &Config{
		Database: &DatabaseConfig{
			Driver:  DriverSQLite,
			DSN:     "./localboard.db",
			Timeout: 30 * time.Second,
		},
		HTTP: &HTTPConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		WebSocket: &WebSocketConfig{
			PingInterval: 30 * time.Second,
			ReadTimeout:  60 * time.Second,
			WriteTimeout: 10 * time.Second,
			BufferSize:   100,
		},
		Auth: &AuthConfig{
			Issuer:   "localboard",
			TokenTTL: 24 * time.Hour,
		},
		Admission: &AdmissionConfig{
			RatePerMinute: 100,
			RateBurst:     10,
		},
		Storage: &StorageConfig{
			UploadDir: "./uploads",
		},
		Log: &LogConfig{
			Level:  "info",
			Format: "text",
			Sink:   "stderr",
		},
	}
}

// FUNCTIONAL DISCOVERY: Comprehensive validation prevents invalid system configurations
func (c *Config) Validate() error {
	if c.Database == nil {
		return fmt.Errorf("database configuration is required")
	}
	if c.Database.Driver != DriverSQLite && c.Database.Driver != DriverPostgres {
		return fmt.Errorf("database driver must be %q or %q, got %q", DriverSQLite, DriverPostgres, c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database DSN cannot be empty")
	}
	if c.Database.Timeout <= 0 {
		return fmt.Errorf("database timeout must be positive")
	}

	if c.HTTP == nil {
		return fmt.Errorf("HTTP configuration is required")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 1 and 65535")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP timeouts must be positive")
	}

	if c.WebSocket == nil {
		return fmt.Errorf("WebSocket configuration is required")
	}
	if c.WebSocket.PingInterval <= 0 {
		return fmt.Errorf("WebSocket ping interval must be positive")
	}
	if c.WebSocket.ReadTimeout <= c.WebSocket.PingInterval {
		return fmt.Errorf("WebSocket read timeout must exceed the ping interval")
	}
	if c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("WebSocket write timeout must be positive")
	}
	if c.WebSocket.BufferSize <= 0 {
		return fmt.Errorf("WebSocket buffer size must be positive")
	}

	if c.Auth == nil {
		return fmt.Errorf("auth configuration is required")
	}
	if len(c.Auth.Secret) < minSecretLength {
		return fmt.Errorf("auth secret must be at least %d bytes", minSecretLength)
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("auth token TTL must be positive")
	}

	if c.Admission == nil {
		return fmt.Errorf("admission configuration is required")
	}
	if c.Admission.RatePerMinute <= 0 || c.Admission.RateBurst <= 0 {
		return fmt.Errorf("admission rate and burst must be positive")
	}

	if c.Storage == nil || c.Storage.UploadDir == "" {
		return fmt.Errorf("storage upload directory cannot be empty")
	}

	if c.Log == nil {
		return fmt.Errorf("log configuration is required")
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log format must be text or json, got %q", c.Log.Format)
	}
	return nil
}

// IsAdmin reports whether userID is listed as an administrator
func (c *Config) IsAdmin(userID string) bool {
	if c.Auth == nil {
		return false
	}
	for _, a := range c.Auth.Admins {
		if a == userID {
			return true
		}
	}
	return false
}

// LoadEnvFile loads KEY=VALUE pairs from a .env file into the process
// environment without overriding variables that are already set. A missing
// file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

func envString(name string, dst *string) {
	if v := os.Getenv(EnvPrefix + name); v != "" {
		*dst = v
	}
}

func envInt(name string, dst *int) {
	if v := os.Getenv(EnvPrefix + name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envDuration(name string, dst *time.Duration) {
	if v := os.Getenv(EnvPrefix + name); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// FUNCTIONAL DISCOVERY: Environment variables override defaults with fallback;
// unparsable values are ignored
func LoadFromEnv() *Config {
	config := DefaultConfig()
	applyEnv(config)
	return config
}

func applyEnv(config *Config) {
	envString("DATABASE_DRIVER", &config.Database.Driver)
	envString("DATABASE_DSN", &config.Database.DSN)
	envDuration("DATABASE_TIMEOUT", &config.Database.Timeout)

	envString("HTTP_HOST", &config.HTTP.Host)
	envInt("HTTP_PORT", &config.HTTP.Port)
	envDuration("HTTP_READ_TIMEOUT", &config.HTTP.ReadTimeout)
	envDuration("HTTP_WRITE_TIMEOUT", &config.HTTP.WriteTimeout)

	envDuration("WEBSOCKET_PING_INTERVAL", &config.WebSocket.PingInterval)
	envDuration("WEBSOCKET_READ_TIMEOUT", &config.WebSocket.ReadTimeout)
	envDuration("WEBSOCKET_WRITE_TIMEOUT", &config.WebSocket.WriteTimeout)
	envInt("WEBSOCKET_BUFFER_SIZE", &config.WebSocket.BufferSize)

	envString("AUTH_SECRET", &config.Auth.Secret)
	envString("AUTH_ISSUER", &config.Auth.Issuer)
	envDuration("AUTH_TOKEN_TTL", &config.Auth.TokenTTL)
	if v := os.Getenv(EnvPrefix + "AUTH_ADMINS"); v != "" {
		config.Auth.Admins = splitList(v)
	}

	envInt("ADMISSION_RATE_PER_MINUTE", &config.Admission.RatePerMinute)
	envInt("ADMISSION_RATE_BURST", &config.Admission.RateBurst)

	envString("STORAGE_UPLOAD_DIR", &config.Storage.UploadDir)

	envString("LOG_LEVEL", &config.Log.Level)
	envString("LOG_FORMAT", &config.Log.Format)
	envString("LOG_SINK", &config.Log.Sink)
	envString("LOG_AUDIT_DIR", &config.Log.AuditDir)
}

// ConfigFile represents the YAML structure for file-based configuration
// FUNCTIONAL DISCOVERY: Separate struct for parsing to handle duration strings
type ConfigFile struct {
	Database *struct {
		Driver  string `yaml:"driver"`
		DSN     string `yaml:"dsn"`
		Timeout string `yaml:"timeout"`
	} `yaml:"database"`
	HTTP *struct {
		Host         string `yaml:"host"`
		Port         int    `yaml:"port"`
		ReadTimeout  string `yaml:"read_timeout"`
		WriteTimeout string `yaml:"write_timeout"`
	} `yaml:"http"`
	WebSocket *struct {
		PingInterval string `yaml:"ping_interval"`
		ReadTimeout  string `yaml:"read_timeout"`
		WriteTimeout string `yaml:"write_timeout"`
		BufferSize   int    `yaml:"buffer_size"`
	} `yaml:"websocket"`
	Auth *struct {
		Secret   string   `yaml:"secret"`
		Issuer   string   `yaml:"issuer"`
		TokenTTL string   `yaml:"token_ttl"`
		Admins   []string `yaml:"admins"`
	} `yaml:"auth"`
	Admission *struct {
		RatePerMinute int `yaml:"rate_per_minute"`
		RateBurst     int `yaml:"rate_burst"`
	} `yaml:"admission"`
	Storage *struct {
		UploadDir string `yaml:"upload_dir"`
	} `yaml:"storage"`
	Log *struct {
		Level    string `yaml:"level"`
		Format   string `yaml:"format"`
		Sink     string `yaml:"sink"`
		AuditDir string `yaml:"audit_dir"`
	} `yaml:"log"`
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v, field string) error {
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid duration for %s: %w", field, err)
	}
	*dst = d
	return nil
}

// apply overlays the fields present in the file onto config
func (f *ConfigFile) apply(config *Config) error {
	var errs []error
	if db := f.Database; db != nil {
		setString(&config.Database.Driver, db.Driver)
		setString(&config.Database.DSN, db.DSN)
		errs = append(errs, setDuration(&config.Database.Timeout, db.Timeout, "database.timeout"))
	}
	if h := f.HTTP; h != nil {
		setString(&config.HTTP.Host, h.Host)
		setInt(&config.HTTP.Port, h.Port)
		errs = append(errs,
			setDuration(&config.HTTP.ReadTimeout, h.ReadTimeout, "http.read_timeout"),
			setDuration(&config.HTTP.WriteTimeout, h.WriteTimeout, "http.write_timeout"))
	}
	if ws := f.WebSocket; ws != nil {
		setInt(&config.WebSocket.BufferSize, ws.BufferSize)
		errs = append(errs,
			setDuration(&config.WebSocket.PingInterval, ws.PingInterval, "websocket.ping_interval"),
			setDuration(&config.WebSocket.ReadTimeout, ws.ReadTimeout, "websocket.read_timeout"),
			setDuration(&config.WebSocket.WriteTimeout, ws.WriteTimeout, "websocket.write_timeout"))
	}
	if a := f.Auth; a != nil {
		setString(&config.Auth.Secret, a.Secret)
		setString(&config.Auth.Issuer, a.Issuer)
		if len(a.Admins) > 0 {
			config.Auth.Admins = a.Admins
		}
		errs = append(errs, setDuration(&config.Auth.TokenTTL, a.TokenTTL, "auth.token_ttl"))
	}
	if a := f.Admission; a != nil {
		setInt(&config.Admission.RatePerMinute, a.RatePerMinute)
		setInt(&config.Admission.RateBurst, a.RateBurst)
	}
	if s := f.Storage; s != nil {
		setString(&config.Storage.UploadDir, s.UploadDir)
	}
	if l := f.Log; l != nil {
		setString(&config.Log.Level, l.Level)
		setString(&config.Log.Format, l.Format)
		setString(&config.Log.Sink, l.Sink)
		setString(&config.Log.AuditDir, l.AuditDir)
	}
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func readConfigFile(path string) (*ConfigFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	var file ConfigFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return &file, nil
}

// FUNCTIONAL DISCOVERY: File-based configuration overlays the defaults; YAML
// durations are strings such as "30s"
func LoadFromFile(path string) (*Config, error) {
	file, err := readConfigFile(path)
	if err != nil {
		return nil, err
	}
	config := DefaultConfig()
	if err := file.apply(config); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return config, nil
}

// FUNCTIONAL DISCOVERY: Configuration precedence: file > environment > defaults.
// An empty path skips the file; a named file that cannot be read is an error.
func LoadConfigWithPrecedence(path string) (*Config, error) {
	config := LoadFromEnv()
	if path == "" {
		return config, nil
	}
	file, err := readConfigFile(path)
	if err != nil {
		return nil, err
	}
	if err := file.apply(config); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return config, nil
}
