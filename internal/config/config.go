package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"   yaml:"server"`
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
	Storage  StorageConfig  `mapstructure:"storage"  yaml:"storage"`
	Events   EventsConfig   `mapstructure:"events"   yaml:"events"`
	Cache    CacheConfig    `mapstructure:"cache"    yaml:"cache"`
	Log      LogConfig      `mapstructure:"log"      yaml:"log"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"             yaml:"addr"`
	SessionSecret   string        `mapstructure:"session_secret"   yaml:"session_secret"`
	CookieName      string        `mapstructure:"cookie_name"      yaml:"cookie_name"`
	SecureCookies   bool          `mapstructure:"secure_cookies"   yaml:"secure_cookies"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"  yaml:"allowed_origins"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

type DatabaseConfig struct {
	// Driver is "postgres" or "sqlite".
	Driver   string `mapstructure:"driver"    yaml:"driver"`
	DSN      string `mapstructure:"dsn"       yaml:"dsn"`
	LogLevel string `mapstructure:"log_level" yaml:"log_level"`
}

type StorageConfig struct {
	// Provider is "local" or "imgur".
	Provider      string `mapstructure:"provider"        yaml:"provider"`
	LocalDir      string `mapstructure:"local_dir"       yaml:"local_dir"`
	PublicURL     string `mapstructure:"public_url"      yaml:"public_url"`
	ImgurClientID string `mapstructure:"imgur_client_id" yaml:"imgur_client_id"`
	ImgurBaseURL  string `mapstructure:"imgur_base_url"  yaml:"imgur_base_url"`
	MaxUploadSize int64  `mapstructure:"max_upload_size" yaml:"max_upload_size"`
}

type EventsConfig struct {
	// NatsURL left empty disables event publishing.
	NatsURL       string `mapstructure:"nats_url"       yaml:"nats_url"`
	SubjectPrefix string `mapstructure:"subject_prefix" yaml:"subject_prefix"`
}

type CacheConfig struct {
	Size int           `mapstructure:"size" yaml:"size"`
	TTL  time.Duration `mapstructure:"ttl"  yaml:"ttl"`
}

type LogConfig struct {
	Level    string         `mapstructure:"level"    yaml:"level"`
	JSON     bool           `mapstructure:"json"     yaml:"json"`
	File     string         `mapstructure:"file"     yaml:"file"`
	Rotation RotationConfig `mapstructure:"rotation" yaml:"rotation"`
}

type RotationConfig struct {
	MaxSize    int  `mapstructure:"max_size"    yaml:"max_size"`
	MaxBackups int  `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge     int  `mapstructure:"max_age"     yaml:"max_age"`
	Compress   bool `mapstructure:"compress"    yaml:"compress"`
}

// placeholderSessionSecret ships in the defaults and generated config files.
// Validate refuses it so that cookies are never signed with a known key.
const placeholderSessionSecret = "secret_key_change_me"

func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			SessionSecret:   placeholderSessionSecret,
			CookieName:      "memoria_session",
			AllowedOrigins:  []string{"http://localhost:3000"},
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:   "postgres",
			DSN:      "host=localhost user=postgres password=postgres dbname=memoria port=5432 sslmode=disable",
			LogLevel: "warn",
		},
		Storage: StorageConfig{
			Provider:      "local",
			LocalDir:      "./uploads",
			PublicURL:     "/uploads",
			ImgurBaseURL:  "https://api.imgur.com",
			MaxUploadSize: 5 << 20,
		},
		Events: EventsConfig{
			SubjectPrefix: "memoria",
		},
		Cache: CacheConfig{
			Size: 1024,
			TTL:  30 * time.Second,
		},
		Log: LogConfig{
			Level: "info",
			Rotation: RotationConfig{
				MaxSize:    128,
				MaxBackups: 5,
				MaxAge:     16,
			},
		},
	}
}

// SetDefaults registers every default with v so that env-only deployments
// still see the full key set.
func SetDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.session_secret", d.Server.SessionSecret)
	v.SetDefault("server.cookie_name", d.Server.CookieName)
	v.SetDefault("server.secure_cookies", d.Server.SecureCookies)
	v.SetDefault("server.allowed_origins", d.Server.AllowedOrigins)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)

	v.SetDefault("database.driver", d.Database.Driver)
	v.SetDefault("database.dsn", d.Database.DSN)
	v.SetDefault("database.log_level", d.Database.LogLevel)

	v.SetDefault("storage.provider", d.Storage.Provider)
	v.SetDefault("storage.local_dir", d.Storage.LocalDir)
	v.SetDefault("storage.public_url", d.Storage.PublicURL)
	v.SetDefault("storage.imgur_client_id", d.Storage.ImgurClientID)
	v.SetDefault("storage.imgur_base_url", d.Storage.ImgurBaseURL)
	v.SetDefault("storage.max_upload_size", d.Storage.MaxUploadSize)

	v.SetDefault("events.nats_url", d.Events.NatsURL)
	v.SetDefault("events.subject_prefix", d.Events.SubjectPrefix)

	v.SetDefault("cache.size", d.Cache.Size)
	v.SetDefault("cache.ttl", d.Cache.TTL)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.json", d.Log.JSON)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.rotation.max_size", d.Log.Rotation.MaxSize)
	v.SetDefault("log.rotation.max_backups", d.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age", d.Log.Rotation.MaxAge)
	v.SetDefault("log.rotation.compress", d.Log.Rotation.Compress)
}

// Example renders the defaults as a YAML config file.
func Example() ([]byte, error) {
	data, err := yaml.Marshal(Default())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return data, nil
}

// Load unmarshals v into a Config and validates it.
func Load(v *viper.Viper) (*Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix("MEMORIA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}
	switch c.Storage.Provider {
	case "local":
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir is required for the local provider")
		}
	case "imgur":
		if c.Storage.ImgurClientID == "" {
			return fmt.Errorf("storage.imgur_client_id is required for the imgur provider")
		}
	default:
		return fmt.Errorf("unsupported storage provider %q", c.Storage.Provider)
	}
	if c.Storage.MaxUploadSize <= 0 {
		return fmt.Errorf("storage.max_upload_size must be positive")
	}
	if c.Server.SessionSecret == placeholderSessionSecret {
		return fmt.Errorf("server.session_secret must be changed from its default")
	}
	if len(c.Server.SessionSecret) < 16 {
		return fmt.Errorf("server.session_secret must be at least 16 characters")
	}
	return nil
}
