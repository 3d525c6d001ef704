package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
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
	Env          string `envconfig:"SVCENTER_APP_ENV" required:"true"`
	Port         string `envconfig:"SVCENTER_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"SVCENTER_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"SVCENTER_LOG_WARN_STACK" default:"false"`
	// CORSOrigins adds browser origins beyond the local development default.
	CORSOrigins []string `envconfig:"SVCENTER_CORS_ORIGINS"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"SVCENTER_DB_DSN"`
	Driver string `envconfig:"SVCENTER_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"SVCENTER_DB_HOST"`
	LegacyPort     int    `envconfig:"SVCENTER_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"SVCENTER_DB_USER"`
	LegacyPassword string `envconfig:"SVCENTER_DB_PASSWORD"`
	LegacyName     string `envconfig:"SVCENTER_DB_NAME"`
	LegacySSLMode  string `envconfig:"SVCENTER_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"SVCENTER_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"SVCENTER_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"SVCENTER_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"SVCENTER_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"SVCENTER_REDIS_URL"`
	Address      string        `envconfig:"SVCENTER_REDIS_ADDR"`
	Password     string        `envconfig:"SVCENTER_REDIS_PASSWORD"`
	DB           int           `envconfig:"SVCENTER_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"SVCENTER_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"SVCENTER_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"SVCENTER_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"SVCENTER_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"SVCENTER_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"SVCENTER_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"SVCENTER_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"SVCENTER_JWT_EXPIRATION_MINUTES" default:"60"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"SVCENTER_FEATURE_AUTO_MIGRATE" default:"false"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"SVCENTER_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"SVCENTER_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"SVCENTER_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	InventoryTopic        string `envconfig:"SVCENTER_PUBSUB_INVENTORY_TOPIC" default:"svc-inventory-events"`
	InventorySubscription string `envconfig:"SVCENTER_PUBSUB_INVENTORY_SUBSCRIPTION"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"SVCENTER_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"SVCENTER_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"SVCENTER_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
