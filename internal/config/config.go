// Package config loads the backend configuration from the environment.
//
// Values are parsed with struct tags, optionally preloaded from a .env
// file, and validated before the server is constructed. There is no
// default for the signing secret: a missing JWT_SECRET is a startup error.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// MinSecretLength is the shortest accepted credential signing secret.
const MinSecretLength = 32

// Config is the complete runtime configuration of the backend.
type Config struct {
	Addr           string        `env:"MR_ADDR" envDefault:":8080"`
	Env            string        `env:"MR_ENV" envDefault:"development"`
	Version        string        `env:"MR_VERSION" envDefault:"dev"`
	Commit         string        `env:"MR_COMMIT" envDefault:"unknown"`
	RequestTimeout time.Duration `env:"MR_REQUEST_TIMEOUT" envDefault:"30s"`

	DatabaseURL string `env:"DATABASE_URL"`
	JWTSecret   string `env:"JWT_SECRET"`

	CookieSecure bool `env:"MR_COOKIE_SECURE" envDefault:"true"`
	// TrustProxyHeaders reads client IPs from X-Forwarded-For/X-Real-IP.
	TrustProxyHeaders bool `env:"MR_TRUST_PROXY_HEADERS" envDefault:"false"`

	UploadDir      string `env:"MR_UPLOAD_DIR" envDefault:"./uploads"`
	MaxUploadBytes int64  `env:"MR_MAX_UPLOAD_BYTES" envDefault:"10485760"`

	InitTimeout time.Duration `env:"MR_INIT_TIMEOUT" envDefault:"30s"`
	InitWait    time.Duration `env:"MR_INIT_WAIT" envDefault:"5s"`
	InitOnStart bool          `env:"MR_INIT_ON_START" envDefault:"false"`

	SeedAdminEmail    string `env:"MR_SEED_ADMIN_EMAIL"`
	SeedAdminPassword string `env:"MR_SEED_ADMIN_PASSWORD"`

	LoginRate  float64 `env:"MR_LOGIN_RATE" envDefault:"1"`
	LoginBurst int     `env:"MR_LOGIN_BURST" envDefault:"5"`

	LogLevel  string `env:"MR_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"MR_LOG_FORMAT" envDefault:"text"`

	S3 S3Config `envPrefix:"MR_S3_"`
}

// S3Config selects the MinIO/S3 asset store. Empty means the local upload dir.
type S3Config struct {
	Endpoint  string `env:"ENDPOINT"`
	AccessKey string `env:"ACCESS_KEY"`
	SecretKey string `env:"SECRET_KEY"`
	Bucket    string `env:"BUCKET"`
	Prefix    string `env:"PREFIX" envDefault:"uploads"`
}

// Enabled reports whether an object store is configured.
func (c S3Config) Enabled() bool {
	return c.Endpoint != ""
}

// Load reads the process environment, after applying envFile if it exists.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	return parse(env.Options{})
}

// LoadFrom parses configuration from the given variables only.
func LoadFrom(vars map[string]string) (Config, error) {
	return parse(env.Options{Environment: vars})
}

func parse(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks every field and reports all problems at once.
func (c Config) Validate() error {
	v := NewValidator()

	v.ValidateRequired("DATABASE_URL", c.DatabaseURL)
	v.ValidatePostgresURL("DATABASE_URL", c.DatabaseURL)

	v.ValidateRequired("JWT_SECRET", c.JWTSecret)
	v.ValidateMinLength("JWT_SECRET", c.JWTSecret, MinSecretLength)

	v.ValidateAddr("MR_ADDR", c.Addr)
	v.ValidateRequired("MR_UPLOAD_DIR", c.UploadDir)
	if c.UploadDir != "" && filepath.Clean(c.UploadDir) == string(filepath.Separator) {
		v.AddError("MR_UPLOAD_DIR", "must not be the filesystem root")
	}
	v.ValidatePositive("MR_MAX_UPLOAD_BYTES", float64(c.MaxUploadBytes))
	v.ValidatePositive("MR_REQUEST_TIMEOUT", float64(c.RequestTimeout))
	v.ValidatePositive("MR_INIT_TIMEOUT", float64(c.InitTimeout))
	if c.InitWait < 0 {
		v.AddError("MR_INIT_WAIT", "must not be negative")
	}
	v.ValidatePositive("MR_LOGIN_RATE", c.LoginRate)
	v.ValidatePositive("MR_LOGIN_BURST", float64(c.LoginBurst))

	v.ValidateTogether(map[string]string{
		"MR_SEED_ADMIN_EMAIL":    c.SeedAdminEmail,
		"MR_SEED_ADMIN_PASSWORD": c.SeedAdminPassword,
	})
	v.ValidateEmailAddress("MR_SEED_ADMIN_EMAIL", c.SeedAdminEmail)
	v.ValidateMinLength("MR_SEED_ADMIN_PASSWORD", c.SeedAdminPassword, 8)

	v.ValidateTogether(map[string]string{
		"MR_S3_ENDPOINT":   c.S3.Endpoint,
		"MR_S3_ACCESS_KEY": c.S3.AccessKey,
		"MR_S3_SECRET_KEY": c.S3.SecretKey,
		"MR_S3_BUCKET":     c.S3.Bucket,
	})

	v.ValidateEnum("MR_LOG_FORMAT", c.LogFormat, []string{"json", "text"})
	v.ValidateEnum("MR_LOG_LEVEL", c.LogLevel, []string{"debug", "info", "warn", "error"})
	v.ValidateEnum("MR_ENV", c.Env, []string{"development", "staging", "production"})

	if v.HasErrors() {
		return errors.New(v.ErrorString())
	}
	return nil
}
