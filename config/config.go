package config

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kenryalonzo/doualairblog-auth/apperr"
	"github.com/sethvargo/go-envconfig"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Config holds runtime configuration for the auth service.
type Config struct {
	Port      string `env:"PORT,default=8080"`
	AppEnv    string `env:"APP_ENV,default=development"`
	LogLevel  string `env:"LOG_LEVEL,default=info"`
	LogFormat string `env:"LOG_FORMAT,default=json"`

	// MongoURI empty selects the in-memory store.
	MongoURI     string `env:"MONGODB_URI"`
	DatabaseName string `env:"DATABASE_NAME,default=doualairblog"`

	JWTAccessSecret     string `env:"JWT_ACCESS_SECRET,required"`
	JWTRefreshSecret    string `env:"JWT_REFRESH_SECRET,required"`
	RefreshTokenHashKey string `env:"REFRESH_TOKEN_HASH_KEY"`

	CookieDomain   string   `env:"COOKIE_DOMAIN"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS,default=http://localhost:5173"`

	SessionSweepInterval time.Duration `env:"SESSION_SWEEP_INTERVAL,default=1h"`
	MaxSessionsPerUser   int           `env:"MAX_SESSIONS_PER_USER,default=10"`
	RotateRefreshTokens  bool          `env:"ROTATE_REFRESH_TOKENS,default=false"`

	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`

	AdminEmail    string `env:"ADMIN_EMAIL"`
	AdminUsername string `env:"ADMIN_USERNAME,default=admin"`
	AdminPassword string `env:"ADMIN_PASSWORD"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT,default=10s"`
}

// Load returns a Config populated from environment variables.
func Load(ctx context.Context) (Config, error) {
	return load(ctx, envconfig.OsLookuper())
}

// LoadFrom is Load with an explicit source, for tests.
func LoadFrom(ctx context.Context, env map[string]string) (Config, error) {
	return load(ctx, envconfig.MapLookuper(env))
}

func load(ctx context.Context, l envconfig.Lookuper) (Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{Target: &cfg, Lookuper: l}); err != nil {
		return Config{}, apperr.E("config.Load", apperr.ErrConfig, err.Error())
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Production() bool { return c.AppEnv == EnvProduction }

// Addr is the listen address derived from Port.
func (c Config) Addr() string {
	if strings.Contains(c.Port, ":") {
		return c.Port
	}
	return ":" + c.Port
}

func (c Config) Validate() error {
	var problems []string
	if c.JWTAccessSecret == "" || c.JWTRefreshSecret == "" {
		problems = append(problems, "JWT_ACCESS_SECRET and JWT_REFRESH_SECRET are required")
	} else if c.JWTAccessSecret == c.JWTRefreshSecret {
		problems = append(problems, "JWT_ACCESS_SECRET and JWT_REFRESH_SECRET must differ")
	}
	switch c.AppEnv {
	case EnvDevelopment, EnvProduction:
	default:
		problems = append(problems, fmt.Sprintf("APP_ENV %q is not development or production", c.AppEnv))
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		problems = append(problems, fmt.Sprintf("LOG_FORMAT %q is not json or console", c.LogFormat))
	}
	if c.SessionSweepInterval <= 0 {
		problems = append(problems, "SESSION_SWEEP_INTERVAL must be positive")
	}
	if c.MaxSessionsPerUser < 0 {
		problems = append(problems, "MAX_SESSIONS_PER_USER must not be negative")
	}
	if c.Production() && len(c.JWTAccessSecret) < 32 {
		problems = append(problems, "JWT_ACCESS_SECRET must be at least 32 bytes in production")
	}
	if (c.AdminEmail == "") != (c.AdminPassword == "") {
		problems = append(problems, "ADMIN_EMAIL and ADMIN_PASSWORD must be set together")
	}
	if len(problems) > 0 {
		return apperr.E("config.Validate", apperr.ErrConfig, strings.Join(problems, "; "))
	}
	return nil
}
