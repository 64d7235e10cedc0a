package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"
)

// PlaceholderJWTSecret is the publicly-known default that must never sign real sessions.
const PlaceholderJWTSecret = "default-secret-change-me"

// MinJWTSecretLength is the minimum HMAC key size in bytes.
const MinJWTSecretLength = 32

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds application level configuration aggregated from env/config files.
type Config struct {
	Server struct {
		Addr      string
		StaticDir string
	}
	Database struct {
		Driver string
		Path   string
		DSN    string
	}
	Auth struct {
		JWTSecret    string
		TokenTTL     time.Duration
		CookieName   string
		CookieSecure bool
		BcryptCost   int
	}
	Storage struct {
		Bucket    string
		KeyPrefix string
		Region    string
		Endpoint  string
		URLExpiry time.Duration
	}
	AWS struct {
		Profile string
	}
}

// Load reads configuration from environment variables and optional config files.
// Each search path may hold a .env file and a config.{yaml,json,toml} file; the
// current directory is used when no path is given.
func Load(paths ...string) (Config, error) {
	if len(paths) == 0 {
		paths = []string{"."}
	}
	for _, p := range paths {
		// godotenv never overrides variables that are already set.
		_ = godotenv.Load(filepath.Join(p, ".env"))
	}

	v := viper.New()
	v.SetEnvPrefix("PROPOSAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.addr", "0.0.0.0:8080")
	v.SetDefault("server.staticdir", "")
	v.SetDefault("database.driver", DriverSQLite)
	v.SetDefault("database.path", "data/proposal.db")
	v.SetDefault("database.dsn", "")
	v.SetDefault("auth.jwtsecret", "")
	v.SetDefault("auth.tokenttl", 7*24*time.Hour)
	v.SetDefault("auth.cookiename", "auth_token")
	v.SetDefault("auth.cookiesecure", true)
	v.SetDefault("auth.bcryptcost", 10)
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.keyprefix", "photos")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.urlexpiry", 15*time.Minute)
	v.SetDefault("aws.profile", "")

	v.SetConfigName("config")
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Database.Driver = strings.ToLower(strings.TrimSpace(cfg.Database.Driver))

	return cfg, nil
}

// Validate rejects configurations the server must not start with.
func (c Config) Validate() error {
	secret := strings.TrimSpace(c.Auth.JWTSecret)
	switch {
	case secret == "":
		return errors.New("auth jwt secret is required")
	case secret == PlaceholderJWTSecret:
		return errors.New("auth jwt secret must not be the placeholder value")
	case len(secret) < MinJWTSecretLength:
		return fmt.Errorf("auth jwt secret must be at least %d bytes", MinJWTSecretLength)
	}

	if c.Auth.TokenTTL <= 0 {
		return errors.New("auth token ttl must be positive")
	}
	if strings.TrimSpace(c.Auth.CookieName) == "" {
		return errors.New("auth cookie name is required")
	}
	if c.Auth.BcryptCost < bcrypt.MinCost || c.Auth.BcryptCost > bcrypt.MaxCost {
		return fmt.Errorf("auth bcrypt cost must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}

	switch c.Database.Driver {
	case DriverSQLite:
		if strings.TrimSpace(c.Database.Path) == "" {
			return errors.New("database path is required for sqlite")
		}
	case DriverPostgres:
		if strings.TrimSpace(c.Database.DSN) == "" {
			return errors.New("database dsn is required for postgres")
		}
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}

	return nil
}
