package config

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	// ConfigFileName is the name of the configuration file.
	ConfigFileName = "tetra.json"

	// SecretEnv overrides the file's secret; preferred in production so
	// the secret never lands on disk next to the code.
	SecretEnv = "TETRA_SECRET"

	// DefaultAddress is the default listen address.
	DefaultAddress = "localhost:8090"

	// DefaultTokenMaxAge bounds state token lifetime.
	DefaultTokenMaxAge = 24 * time.Hour

	// DefaultUploadDir holds temporary uploads until they are claimed.
	DefaultUploadDir = ".tetra/uploads"
)

// Config represents the complete tetra.json configuration.
type Config struct {
	// Name is the project name.
	Name string `json:"name,omitempty"`

	// Address is the listen address (host:port).
	Address string `json:"address,omitempty"`

	// Secret is the base64url-encoded server secret (>= 32 bytes
	// decoded). The TETRA_SECRET environment variable takes precedence.
	Secret string `json:"secret,omitempty"`

	// TokenMaxAge is the state token lifetime (e.g. "24h").
	TokenMaxAge string `json:"tokenMaxAge,omitempty"`

	// Realtime contains pub/sub settings.
	Realtime RealtimeConfig `json:"realtime,omitempty"`

	// Upload contains temp upload settings.
	Upload UploadConfig `json:"upload,omitempty"`

	// Database contains the entity store settings.
	Database DatabaseConfig `json:"database,omitempty"`

	// configPath stores the path where the config was loaded from.
	configPath string
}

// RealtimeConfig contains pub/sub settings.
type RealtimeConfig struct {
	// NATSURL switches the bus from in-process to NATS when set.
	NATSURL string `json:"natsUrl,omitempty"`

	// PrivateNamespace is the per-principal group namespace
	// (default "user").
	PrivateNamespace string `json:"privateNamespace,omitempty"`

	// AsyncPublish selects the fire-and-forget publisher.
	AsyncPublish bool `json:"asyncPublish,omitempty"`
}

// UploadConfig contains temp upload settings.
type UploadConfig struct {
	// Dir is the temp upload directory.
	Dir string `json:"dir,omitempty"`

	// MaxSizeMB caps a single upload.
	MaxSizeMB int `json:"maxSizeMb,omitempty"`

	// MaxAge is how long unclaimed uploads are kept (e.g. "1h").
	MaxAge string `json:"maxAge,omitempty"`
}

// DatabaseConfig contains the entity store settings. An empty driver
// selects the in-memory store.
type DatabaseConfig struct {
	Driver string `json:"driver,omitempty"`
	DSN    string `json:"dsn,omitempty"`
}

// New creates a Config with defaults applied.
func New() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads tetra.json from the specified directory.
func Load(dir string) (*Config, error) {
	return LoadFile(filepath.Join(dir, ConfigFileName))
}

// LoadFile reads configuration from the specified file path.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config: no %s found in %s (run 'tetra keygen' to bootstrap one)", ConfigFileName, filepath.Dir(path))
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.configPath = path
	cfg.applyDefaults()
	return cfg, nil
}

// SaveTo writes the configuration to the specified path.
func (c *Config) SaveTo(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("config: encode: %w", err)
	}
	data = append(data, '\n')

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	c.configPath = path
	return nil
}

// Path returns the path where the config was loaded from.
func (c *Config) Path() string {
	return c.configPath
}

// SecretBytes resolves the server secret: TETRA_SECRET first, the file's
// secret field second. The value must be base64url (raw or padded).
func (c *Config) SecretBytes() ([]byte, error) {
	encoded := os.Getenv(SecretEnv)
	if encoded == "" {
		encoded = c.Secret
	}
	if encoded == "" {
		return nil, fmt.Errorf("config: no server secret; set %s or the secret field", SecretEnv)
	}

	secret, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		if secret, err = base64.URLEncoding.DecodeString(encoded); err != nil {
			return nil, fmt.Errorf("config: secret is not base64url: %w", err)
		}
	}
	return secret, nil
}

// TokenMaxAgeDuration parses the token lifetime.
func (c *Config) TokenMaxAgeDuration() (time.Duration, error) {
	if c.TokenMaxAge == "" {
		return DefaultTokenMaxAge, nil
	}
	d, err := time.ParseDuration(c.TokenMaxAge)
	if err != nil {
		return 0, fmt.Errorf("config: invalid tokenMaxAge %q: %w", c.TokenMaxAge, err)
	}
	return d, nil
}

// UploadMaxAgeDuration parses the unclaimed-upload retention window.
func (c *Config) UploadMaxAgeDuration() (time.Duration, error) {
	if c.Upload.MaxAge == "" {
		return time.Hour, nil
	}
	d, err := time.ParseDuration(c.Upload.MaxAge)
	if err != nil {
		return 0, fmt.Errorf("config: invalid upload maxAge %q: %w", c.Upload.MaxAge, err)
	}
	return d, nil
}

func (c *Config) applyDefaults() {
	if c.Address == "" {
		c.Address = DefaultAddress
	}
	if c.Realtime.PrivateNamespace == "" {
		c.Realtime.PrivateNamespace = "user"
	}
	if c.Upload.Dir == "" {
		c.Upload.Dir = DefaultUploadDir
	}
	if c.Upload.MaxSizeMB == 0 {
		c.Upload.MaxSizeMB = 10
	}
}
