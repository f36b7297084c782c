package keepsake

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// StorageMode selects how uploaded image bytes are persisted. It is a
// deployment-time decision: every record written by one deployment uses the
// same representation.
type StorageMode string

const (
	// StorageDisk writes files under UploadsDir and stores a URL path.
	StorageDisk StorageMode = "disk"
	// StorageInline embeds the bytes as a base64 data URL in the record,
	// for serverless hosts without a persistent filesystem.
	StorageInline StorageMode = "inline"
)

// Config holds all settings for a keepsake deployment.
type Config struct {
	Addr          string   `koanf:"addr"`             // Listen address (default ":3000")
	MongoURI      string   `koanf:"mongodb_uri"`      // Required: MongoDB connection string
	MongoDatabase string   `koanf:"mongodb_database"` // Database name (default "keepsake")
	BasePaths     []string `koanf:"base_paths"`       // Route mount prefixes (default "/api")

	SecretPassword string        `koanf:"secret_password"` // Shared login secret (default "communication")
	JWTSecret      string        `koanf:"jwt_secret"`      // Required: token signing key
	TokenTTL       time.Duration `koanf:"token_ttl"`       // Token validity window (default 168h)

	StorageMode    StorageMode `koanf:"storage_mode"`     // "disk" or "inline" (default "inline")
	UploadsDir     string      `koanf:"uploads_dir"`      // Disk-mode upload directory
	MaxUploadBytes int64       `koanf:"max_upload_bytes"` // Upload size cap (default 10MB)

	LoginRateMax    int           `koanf:"login_rate_max"`
	LoginRateWindow time.Duration `koanf:"login_rate_window"`
}

func (c *Config) setDefaults() {
	if c.Addr == "" {
		c.Addr = ":3000"
	}
	if c.MongoDatabase == "" {
		c.MongoDatabase = "keepsake"
	}
	if len(c.BasePaths) == 0 {
		c.BasePaths = []string{"/api"}
	}
	if c.SecretPassword == "" {
		c.SecretPassword = "communication"
	}
	if c.TokenTTL == 0 {
		c.TokenTTL = 7 * 24 * time.Hour
	}
	if c.StorageMode == "" {
		c.StorageMode = StorageInline
	}
	if c.UploadsDir == "" {
		c.UploadsDir = "uploads"
	}
	if c.MaxUploadBytes == 0 {
		c.MaxUploadBytes = 10 << 20 // 10MB
	}
	if c.LoginRateMax == 0 {
		c.LoginRateMax = 5
	}
	if c.LoginRateWindow == 0 {
		c.LoginRateWindow = time.Minute
	}
}

// Validate checks the settings no default can supply.
func (c *Config) Validate() error {
	if c.MongoURI == "" {
		return fmt.Errorf("config: MONGODB_URI is required")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("config: JWT_SECRET is required")
	}
	if c.StorageMode != StorageDisk && c.StorageMode != StorageInline {
		return fmt.Errorf("config: STORAGE_MODE must be %q or %q", StorageDisk, StorageInline)
	}
	return nil
}

// LoadConfig builds a Config in layers: struct defaults first, then
// environment variables on top (MONGODB_URI -> mongodb_uri and so on).
func LoadConfig() (*Config, error) {
	k := koanf.New(".")

	defaults := &Config{}
	defaults.setDefaults()
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("config: load defaults: %w", err)
	}

	if err := k.Load(env.Provider("", ".", strings.ToLower), nil); err != nil {
		return nil, fmt.Errorf("config: load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	// Env vars arrive as plain strings; mount prefixes are comma-separated.
	if raw := k.String("base_paths"); strings.Contains(raw, ",") {
		cfg.BasePaths = SplitBasePaths(raw)
	}

	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SplitBasePaths parses a comma-separated list of mount prefixes,
// normalizing each to a leading slash and no trailing slash.
func SplitBasePaths(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if !strings.HasPrefix(p, "/") {
			p = "/" + p
		}
		out = append(out, strings.TrimSuffix(p, "/"))
	}
	return out
}
