package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = ""

	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	Notify       NotifyConfig
	Identity     IdentityConfig
	Fulfillment  FulfillmentConfig
	Outbox       OutboxConfig
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
	if err := cfg.Notify.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"GROUPBUY_APP_ENV" required:"true"`
	Port         string `envconfig:"GROUPBUY_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"GROUPBUY_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"GROUPBUY_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"GROUPBUY_DB_DSN"`
	Driver string `envconfig:"GROUPBUY_DB_DRIVER" default:"postgres"`

	Host     string `envconfig:"GROUPBUY_DB_HOST"`
	Port     int    `envconfig:"GROUPBUY_DB_PORT" default:"5432"`
	User     string `envconfig:"GROUPBUY_DB_USER"`
	Password string `envconfig:"GROUPBUY_DB_PASSWORD"`
	Name     string `envconfig:"GROUPBUY_DB_NAME"`
	SSLMode  string `envconfig:"GROUPBUY_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"GROUPBUY_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"GROUPBUY_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"GROUPBUY_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"GROUPBUY_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

func (d *DBConfig) ensureDSN() error {
	if d.DSN != "" {
		return nil
	}
	if d.Host == "" || d.User == "" || d.Name == "" {
		return fmt.Errorf("either GROUPBUY_DB_DSN or host/user/name parts are required")
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.Name,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	d.DSN = u.String()
	return nil
}

type RedisConfig struct {
	URL          string        `envconfig:"GROUPBUY_REDIS_URL"`
	Address      string        `envconfig:"GROUPBUY_REDIS_ADDR"`
	Password     string        `envconfig:"GROUPBUY_REDIS_PASSWORD"`
	DB           int           `envconfig:"GROUPBUY_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"GROUPBUY_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"GROUPBUY_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"GROUPBUY_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"GROUPBUY_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"GROUPBUY_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// NotifyConfig drives the notification retry scheduler. Backoff offsets are
// measured from the trigger timestamp, not from the previous attempt.
type NotifyConfig struct {
	Backoff         []time.Duration `envconfig:"GROUPBUY_NOTIFY_BACKOFF" default:"60s,120s,300s"`
	PollInterval    time.Duration   `envconfig:"GROUPBUY_NOTIFY_POLL_INTERVAL" default:"15s"`
	BatchSize       int             `envconfig:"GROUPBUY_NOTIFY_BATCH_SIZE" default:"100"`
	SuppressionTTL  time.Duration   `envconfig:"GROUPBUY_NOTIFY_SUPPRESSION_TTL" default:"5m"`
	RetentionPeriod time.Duration   `envconfig:"GROUPBUY_NOTIFY_RETENTION" default:"720h"`
	LockTTL         time.Duration   `envconfig:"GROUPBUY_NOTIFY_LOCK_TTL" default:"1m"`

	// DeliveryURL is the delivery gateway endpoint. When empty the worker
	// logs deliveries instead of sending them, which is only useful in dev.
	DeliveryURL     string        `envconfig:"GROUPBUY_NOTIFY_DELIVERY_URL"`
	DeliveryTimeout time.Duration `envconfig:"GROUPBUY_NOTIFY_DELIVERY_TIMEOUT" default:"10s"`
}

func (n NotifyConfig) validate() error {
	if len(n.Backoff) == 0 {
		return fmt.Errorf("GROUPBUY_NOTIFY_BACKOFF requires at least one offset")
	}
	for i, d := range n.Backoff {
		if d <= 0 {
			return fmt.Errorf("GROUPBUY_NOTIFY_BACKOFF[%d] must be positive", i)
		}
	}
	return nil
}

// MaxAttempts is derived from the backoff schedule length.
func (n NotifyConfig) MaxAttempts() int {
	return len(n.Backoff)
}

// IdentityConfig points at the external identity/permission service that maps
// recipients to delivery channels. When BaseURL is empty the worker treats
// every recipient as deliverable, which is only useful in dev.
type IdentityConfig struct {
	BaseURL string        `envconfig:"GROUPBUY_IDENTITY_URL"`
	Timeout time.Duration `envconfig:"GROUPBUY_IDENTITY_TIMEOUT" default:"5s"`
}

type FulfillmentConfig struct {
	// FallbackSellerID is the designated site actor attributed to a shipment
	// when no seller can be resolved from the actor or product owners.
	FallbackSellerID string `envconfig:"GROUPBUY_FALLBACK_SELLER_ID"`
}

type OutboxConfig struct {
	PollInterval time.Duration `envconfig:"GROUPBUY_OUTBOX_POLL_INTERVAL" default:"5s"`
	BatchSize    int           `envconfig:"GROUPBUY_OUTBOX_BATCH_SIZE" default:"50"`
	MaxAttempts  int           `envconfig:"GROUPBUY_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"GROUPBUY_AUTO_MIGRATE" default:"false"`
}
