// Package config provides configuration loading and management for the sync engine.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ledgerkit/devicesync/internal/telemetry"
)

const (
	// StorageTypeFile keeps the ledger in JSON files under a directory
	StorageTypeFile = "file"

	// StorageTypeSQLite keeps the ledger in an embedded SQLite database
	StorageTypeSQLite = "sqlite"

	// StorageTypePostgres keeps the ledger in PostgreSQL
	StorageTypePostgres = "postgres"
)

const (
	// SecretsTypeKeyring stores credentials in the OS keyring
	SecretsTypeKeyring = "keyring"

	// SecretsTypeFile stores credentials in a 0600 JSON file
	SecretsTypeFile = "file"

	// SecretsTypeMemory keeps credentials in process memory only
	SecretsTypeMemory = "memory"
)

const (
	// EnvPrefix is the prefix of environment variables bound to CLI flags
	EnvPrefix = "DEVICESYNC"

	// DefaultAPIURL is used when neither the environment nor the file sets one
	DefaultAPIURL = "https://api.ledgerkit.dev"

	// APIURLEnvVar overrides the configured API base URL
	APIURLEnvVar = "CONNECT_API_URL"

	// DatabasePasswordEnvVar supplies the Postgres password when no file is configured
	DatabasePasswordEnvVar = "DEVICESYNC_DATABASE_PASSWORD"

	// DefaultServerAddress is where the local API listens
	DefaultServerAddress = "127.0.0.1:8090"

	// DefaultPushBatchSize bounds how many outbox events go out per request
	DefaultPushBatchSize = 500
)

// Option defines the interface for configuration options
type Option func(*loaderConfig) error

// loaderConfig defines the configuration for loading a configuration
type loaderConfig struct {
	path string
}

// WithConfigPath loads configuration from a YAML file
func WithConfigPath(path string) Option {
	return func(cfg *loaderConfig) error {
		if path == "" {
			return fmt.Errorf("path is required")
		}

		// Resolve symlinks to prevent symlink attacks.
		// Note that this calls filepath.Clean internally.
		realPath, err := filepath.EvalSymlinks(path)
		if err != nil {
			return fmt.Errorf("failed to evaluate symlinks: %w", err)
		}

		if !filepath.IsAbs(realPath) {
			if !filepath.IsLocal(realPath) {
				return fmt.Errorf("path is not local or contains invalid traversal: %s", path)
			}
		}

		cfg.path = realPath
		return nil
	}
}

// Config represents the root configuration structure
type Config struct {
	Device    DeviceConfig      `yaml:"device"`
	Cloud     CloudConfig       `yaml:"cloud"`
	Streams   []string          `yaml:"streams"`
	Storage   StorageConfig     `yaml:"storage"`
	Secrets   SecretsConfig     `yaml:"secrets,omitempty"`
	Sync      SyncConfig        `yaml:"sync,omitempty"`
	Server    ServerConfig      `yaml:"server,omitempty"`
	Telemetry *telemetry.Config `yaml:"telemetry,omitempty"`
}

// DeviceConfig identifies this installation
type DeviceConfig struct {
	// ID is assigned at enrollment. Background sync does not start without it.
	ID string `yaml:"id,omitempty"`

	// Name is a human-readable label shown in the cloud console
	Name string `yaml:"name,omitempty"`
}

// CloudConfig locates the remote sync API
type CloudConfig struct {
	// APIURL is the API base URL. CONNECT_API_URL takes precedence.
	APIURL string `yaml:"apiURL,omitempty"`

	// Timeout bounds every HTTP request (e.g., "30s")
	Timeout string `yaml:"timeout,omitempty"`

	// TokenURL is the OAuth2 token endpoint used to refresh access tokens.
	// Without it the stored access token is used as is.
	TokenURL string `yaml:"tokenURL,omitempty"`

	// ClientID is the OAuth2 client identifier for refreshes
	ClientID string `yaml:"clientID,omitempty"`
}

// StorageConfig selects where the local ledger lives
type StorageConfig struct {
	// Type is one of file, sqlite or postgres
	Type string `yaml:"type"`

	// Path is the directory (file) or database file (sqlite)
	Path string `yaml:"path,omitempty"`

	// Database holds the Postgres connection settings
	Database *DatabaseConfig `yaml:"database,omitempty"`
}

// SecretsConfig selects where credentials are kept
type SecretsConfig struct {
	Type        string `yaml:"type,omitempty"`
	ServiceName string `yaml:"serviceName,omitempty"`
	Path        string `yaml:"path,omitempty"`
}

// SyncConfig toggles the sync engine
type SyncConfig struct {
	// Enabled defaults to true when omitted
	Enabled *bool `yaml:"enabled,omitempty"`

	// PushBatchSize bounds outbox events per push request
	PushBatchSize int `yaml:"pushBatchSize,omitempty"`
}

// ServerConfig configures the local HTTP API
type ServerConfig struct {
	Address string `yaml:"address,omitempty"`
}

// DatabaseConfig defines database connection settings
type DatabaseConfig struct {
	// Host is the database server hostname or IP address
	Host string `yaml:"host"`

	// Port is the database server port
	Port int `yaml:"port"`

	// User is the database username
	User string `yaml:"user"`

	// PasswordFile is the path to a file containing the database password
	// The file should contain only the password with optional trailing whitespace
	PasswordFile string `yaml:"passwordFile,omitempty"`

	// Database is the database name
	Database string `yaml:"database"`

	// SSLMode is the SSL mode for the connection (disable, require, verify-ca, verify-full)
	SSLMode string `yaml:"sslMode,omitempty"`

	// MaxOpenConns is the maximum number of open connections to the database
	MaxOpenConns int32 `yaml:"maxOpenConns,omitempty"`

	// MaxIdleConns is the maximum number of idle connections in the pool
	MaxIdleConns int32 `yaml:"maxIdleConns,omitempty"`

	// ConnMaxLifetime is the maximum lifetime of a connection (e.g., "1h", "30m")
	ConnMaxLifetime string `yaml:"connMaxLifetime,omitempty"`
}

// GetPassword returns the database password using the following priority:
// 1. Read from PasswordFile if specified
// 2. Read from DEVICESYNC_DATABASE_PASSWORD environment variable
func (d *DatabaseConfig) GetPassword() (string, error) {
	if d.PasswordFile != "" {
		cleanPath := filepath.Clean(d.PasswordFile)

		data, err := os.ReadFile(cleanPath)
		if err != nil {
			return "", fmt.Errorf("failed to read password from file %s: %w", d.PasswordFile, err)
		}
		return strings.TrimSpace(string(data)), nil
	}

	if envPassword := os.Getenv(DatabasePasswordEnvVar); envPassword != "" {
		return envPassword, nil
	}

	return "", fmt.Errorf(
		"no database password configured: set passwordFile or %s environment variable", DatabasePasswordEnvVar,
	)
}

// GetConnectionString builds a PostgreSQL connection string with proper password handling.
// The password is URL-escaped to handle special characters safely.
func (d *DatabaseConfig) GetConnectionString() (string, error) {
	password, err := d.GetPassword()
	if err != nil {
		return "", err
	}

	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "require"
	}

	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(d.User),
		url.QueryEscape(password),
		d.Host,
		d.Port,
		d.Database,
		sslMode,
	), nil
}

// LoadConfig loads and parses configuration from a YAML file
func LoadConfig(opts ...Option) (*Config, error) {
	loaderCfg := &loaderConfig{}
	for _, opt := range opts {
		if err := opt(loaderCfg); err != nil {
			return nil, err
		}
	}

	if loaderCfg.path == "" {
		return nil, fmt.Errorf("path is required")
	}

	data, err := os.ReadFile(loaderCfg.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Save writes the configuration to path atomically
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temporary config file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to rename config file: %w", err)
	}
	return nil
}

// GetAPIURL resolves the API base URL. A non-blank CONNECT_API_URL wins over
// the file, and trailing slashes are dropped.
func (c *Config) GetAPIURL() string {
	if env := normalizeURL(os.Getenv(APIURLEnvVar)); env != "" {
		return env
	}
	if configured := normalizeURL(c.Cloud.APIURL); configured != "" {
		return configured
	}
	return DefaultAPIURL
}

func normalizeURL(raw string) string {
	return strings.TrimRight(strings.TrimSpace(raw), "/")
}

// GetTimeout returns the HTTP timeout, zero meaning the client default
func (c *Config) GetTimeout() time.Duration {
	if c.Cloud.Timeout == "" {
		return 0
	}
	d, err := time.ParseDuration(c.Cloud.Timeout)
	if err != nil {
		return 0
	}
	return d
}

// IsSyncEnabled reports whether the sync engine may run
func (c *Config) IsSyncEnabled() bool {
	return c.Sync.Enabled == nil || *c.Sync.Enabled
}

// IsEnrolled reports whether the device has been enrolled
func (c *Config) IsEnrolled() bool {
	return strings.TrimSpace(c.Device.ID) != ""
}

// GetPushBatchSize returns the push batch size, using the default if not specified
func (c *Config) GetPushBatchSize() int {
	if c.Sync.PushBatchSize <= 0 {
		return DefaultPushBatchSize
	}
	return c.Sync.PushBatchSize
}

// GetServerAddress returns the local API address, using the default if not specified
func (c *Config) GetServerAddress() string {
	if c.Server.Address == "" {
		return DefaultServerAddress
	}
	return c.Server.Address
}

// GetStorageType returns the storage type, defaulting to file
func (c *Config) GetStorageType() string {
	if c.Storage.Type == "" {
		return StorageTypeFile
	}
	return c.Storage.Type
}

// GetSecretsType returns the secrets backend type, defaulting to keyring
func (c *Config) GetSecretsType() string {
	if c.Secrets.Type == "" {
		return SecretsTypeKeyring
	}
	return c.Secrets.Type
}

// Validate checks a configuration built in code, as LoadConfig does for files
func (c *Config) Validate() error {
	return c.validate()
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if len(c.Streams) == 0 {
		return fmt.Errorf("at least one stream must be configured")
	}
	seen := make(map[string]bool)
	for i, stream := range c.Streams {
		if strings.TrimSpace(stream) == "" {
			return fmt.Errorf("streams[%d]: name is required", i)
		}
		if seen[stream] {
			return fmt.Errorf("streams[%d]: duplicate stream '%s'", i, stream)
		}
		seen[stream] = true
	}

	if err := validateCloudConfig(&c.Cloud); err != nil {
		return err
	}
	if err := validateStorageConfig(&c.Storage); err != nil {
		return err
	}
	if err := validateSecretsConfig(&c.Secrets); err != nil {
		return err
	}

	if c.Sync.PushBatchSize < 0 {
		return fmt.Errorf("sync.pushBatchSize must not be negative")
	}

	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}

	return nil
}

func validateCloudConfig(cloud *CloudConfig) error {
	if cloud.APIURL != "" {
		u, err := url.Parse(strings.TrimSpace(cloud.APIURL))
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("cloud.apiURL must be an absolute URL, got %q", cloud.APIURL)
		}
	}
	if cloud.Timeout != "" {
		if _, err := time.ParseDuration(cloud.Timeout); err != nil {
			return fmt.Errorf("cloud.timeout must be a valid duration (e.g., '30s'): %w", err)
		}
	}
	if cloud.TokenURL != "" && cloud.ClientID == "" {
		return fmt.Errorf("cloud.clientID is required when cloud.tokenURL is set")
	}
	return nil
}

func validateStorageConfig(storage *StorageConfig) error {
	switch storage.Type {
	case StorageTypeFile, StorageTypeSQLite, "":
		if storage.Path == "" {
			return fmt.Errorf("storage.path is required")
		}
	case StorageTypePostgres:
		if storage.Database == nil {
			return fmt.Errorf("storage.database is required for postgres storage")
		}
		return validateDatabaseConfig(storage.Database)
	default:
		return fmt.Errorf("storage.type must be one of %s, %s or %s, got %s",
			StorageTypeFile, StorageTypeSQLite, StorageTypePostgres, storage.Type)
	}
	return nil
}

func validateDatabaseConfig(db *DatabaseConfig) error {
	if db.Host == "" {
		return fmt.Errorf("storage.database.host is required")
	}
	if db.Port == 0 {
		return fmt.Errorf("storage.database.port is required")
	}
	if db.User == "" {
		return fmt.Errorf("storage.database.user is required")
	}
	if db.Database == "" {
		return fmt.Errorf("storage.database.database is required")
	}
	if db.ConnMaxLifetime != "" {
		if _, err := time.ParseDuration(db.ConnMaxLifetime); err != nil {
			return fmt.Errorf("storage.database.connMaxLifetime must be a valid duration: %w", err)
		}
	}
	return nil
}

func validateSecretsConfig(secrets *SecretsConfig) error {
	switch secrets.Type {
	case SecretsTypeKeyring, SecretsTypeMemory, "":
		return nil
	case SecretsTypeFile:
		if secrets.Path == "" {
			return fmt.Errorf("secrets.path is required for file secrets")
		}
		return nil
	default:
		return fmt.Errorf("secrets.type must be one of %s, %s or %s, got %s",
			SecretsTypeKeyring, SecretsTypeFile, SecretsTypeMemory, secrets.Type)
	}
}
