package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const EnvPrefix = "BRAMBLING"

type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	Cart         CartConfig
	Stripe       StripeConfig
	Dwolla       DwollaConfig
	Outbox       OutboxConfig
	PubSub       PubSubConfig
	GCP          GCPConfig
	FeatureFlags FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"BRAMBLING_APP_ENV" required:"true"`
	Port         string `envconfig:"BRAMBLING_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"BRAMBLING_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"BRAMBLING_LOG_WARN_STACK" default:"false"`
}

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN string `envconfig:"BRAMBLING_DB_DSN"`

	Host     string `envconfig:"BRAMBLING_DB_HOST"`
	Port     int    `envconfig:"BRAMBLING_DB_PORT" default:"5432"`
	User     string `envconfig:"BRAMBLING_DB_USER"`
	Password string `envconfig:"BRAMBLING_DB_PASSWORD"`
	Name     string `envconfig:"BRAMBLING_DB_NAME"`
	SSLMode  string `envconfig:"BRAMBLING_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"BRAMBLING_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"BRAMBLING_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"BRAMBLING_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"BRAMBLING_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"BRAMBLING_REDIS_URL"`
	Address      string        `envconfig:"BRAMBLING_REDIS_ADDR"`
	Password     string        `envconfig:"BRAMBLING_REDIS_PASSWORD"`
	DB           int           `envconfig:"BRAMBLING_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"BRAMBLING_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"BRAMBLING_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"BRAMBLING_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"BRAMBLING_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"BRAMBLING_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"BRAMBLING_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"BRAMBLING_JWT_ISSUER" default:"brambling"`
	ExpirationMinutes int    `envconfig:"BRAMBLING_JWT_EXPIRATION_MINUTES" default:"60"`
}

type CartConfig struct {
	// DefaultTimeoutMinutes is used when an event has no cart timeout of its
	// own.
	DefaultTimeoutMinutes int `envconfig:"BRAMBLING_CART_DEFAULT_TIMEOUT_MINUTES" default:"15"`
	// SweepInterval is the cadence of the background sweep; the lazy sweep on
	// cart-touching requests is the primary expiry mechanism.
	SweepInterval time.Duration `envconfig:"BRAMBLING_CART_SWEEP_INTERVAL" default:"5m"`
}

type StripeConfig struct {
	APIKey        string `envconfig:"BRAMBLING_STRIPE_API_KEY"`
	SigningSecret string `envconfig:"BRAMBLING_STRIPE_SIGNING_SECRET"`
	Env           string `envconfig:"BRAMBLING_STRIPE_ENV" default:"test"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

type DwollaConfig struct {
	AppKey    string `envconfig:"BRAMBLING_DWOLLA_APP_KEY"`
	AppSecret string `envconfig:"BRAMBLING_DWOLLA_APP_SECRET"`
	BaseURL   string `envconfig:"BRAMBLING_DWOLLA_BASE_URL" default:"https://www.dwolla.com/oauth/rest"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"BRAMBLING_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"BRAMBLING_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"BRAMBLING_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

type PubSubConfig struct {
	OrdersTopic string `envconfig:"BRAMBLING_PUBSUB_ORDERS_TOPIC" default:"brambling-order-events"`
}

type GCPConfig struct {
	ProjectID string `envconfig:"BRAMBLING_GCP_PROJECT_ID"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"BRAMBLING_AUTO_MIGRATE" default:"false"`
	SeedDemo    bool `envconfig:"BRAMBLING_SEED_DEMO" default:"false"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	for env, val := range map[string]string{
		"BRAMBLING_DB_HOST": db.Host,
		"BRAMBLING_DB_USER": db.User,
		"BRAMBLING_DB_NAME": db.Name,
	} {
		if val == "" {
			missing = append(missing, env)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("either BRAMBLING_DB_DSN or %s are required", strings.Join(missing, ", "))
	}

	userInfo := url.User(db.User)
	if db.Password != "" {
		userInfo = url.UserPassword(db.User, db.Password)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.Host, db.Port),
		Path:   db.Name,
	}

	if db.SSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.SSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
