package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	Allocation   AllocationConfig
	Trips        TripsConfig
	Tracking     TrackingConfig
	Cron         CronConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if _, err := cfg.Allocation.Floors(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"FREIGHTLANE_APP_ENV" required:"true"`
	Port         string `envconfig:"FREIGHTLANE_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"FREIGHTLANE_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"FREIGHTLANE_LOG_WARN_STACK" default:"false"`
	LogFormat    string `envconfig:"FREIGHTLANE_LOG_FORMAT"`

	// CORSOrigins overrides the built-in allowed origins when set.
	CORSOrigins []string `envconfig:"FREIGHTLANE_CORS_ORIGINS"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd) || strings.EqualFold(a.Env, "production")
}

type ServiceConfig struct {
	Kind string `envconfig:"FREIGHTLANE_SERVICE_KIND" default:"api"`
	// MetricsAddr is where worker binaries expose /metrics. Empty disables it.
	MetricsAddr string `envconfig:"FREIGHTLANE_METRICS_ADDR" default:":9090"`
}

type DBConfig struct {
	DSN    string `envconfig:"FREIGHTLANE_DB_DSN"`
	Driver string `envconfig:"FREIGHTLANE_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"FREIGHTLANE_DB_HOST"`
	LegacyPort     int    `envconfig:"FREIGHTLANE_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"FREIGHTLANE_DB_USER"`
	LegacyPassword string `envconfig:"FREIGHTLANE_DB_PASSWORD"`
	LegacyName     string `envconfig:"FREIGHTLANE_DB_NAME"`
	LegacySSLMode  string `envconfig:"FREIGHTLANE_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"FREIGHTLANE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"FREIGHTLANE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"FREIGHTLANE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"FREIGHTLANE_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	SlowQuery       time.Duration `envconfig:"FREIGHTLANE_DB_SLOW_QUERY" default:"250ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"FREIGHTLANE_REDIS_URL" required:"true"`
	Address      string        `envconfig:"FREIGHTLANE_REDIS_ADDR"`
	Password     string        `envconfig:"FREIGHTLANE_REDIS_PASSWORD"`
	DB           int           `envconfig:"FREIGHTLANE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"FREIGHTLANE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"FREIGHTLANE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"FREIGHTLANE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"FREIGHTLANE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"FREIGHTLANE_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"FREIGHTLANE_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"FREIGHTLANE_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"FREIGHTLANE_JWT_EXPIRATION_MINUTES" required:"true"`
}

// AccessTokenTTL returns the configured access token lifetime.
func (j JWTConfig) AccessTokenTTL() time.Duration {
	if j.ExpirationMinutes <= 0 {
		return 0
	}
	return time.Duration(j.ExpirationMinutes) * time.Minute
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"FREIGHTLANE_AUTO_MIGRATE" default:"false"`
	// MirrorLegacyTripStatus keeps freight_orders.trip_status in sync for older readers.
	MirrorLegacyTripStatus bool `envconfig:"FREIGHTLANE_MIRROR_LEGACY_TRIP_STATUS" default:"true"`
}

type GCPConfig struct {
	ProjectID       string `envconfig:"FREIGHTLANE_GCP_PROJECT_ID"`
	CredentialsJSON string `envconfig:"FREIGHTLANE_GCP_CREDENTIALS_JSON"`
}

type PubSubConfig struct {
	DomainTopic string `envconfig:"FREIGHTLANE_PUBSUB_DOMAIN_TOPIC" default:"freightlane-domain-events"`
	TripsTopic  string `envconfig:"FREIGHTLANE_PUBSUB_TRIPS_TOPIC" default:"freightlane-trip-events"`
}

type OutboxConfig struct {
	BatchSize      int           `envconfig:"FREIGHTLANE_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int           `envconfig:"FREIGHTLANE_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int           `envconfig:"FREIGHTLANE_OUTBOX_MAX_ATTEMPTS" default:"10"`
	RetentionDays  int           `envconfig:"FREIGHTLANE_OUTBOX_RETENTION_DAYS" default:"30"`
	PublishTimeout time.Duration `envconfig:"FREIGHTLANE_OUTBOX_PUBLISH_TIMEOUT" default:"15s"`
}

type AllocationConfig struct {
	// PriceFloors maps a service class to its minimum agreed price, e.g. "refrigerated:1500,hazmat:2200.50".
	PriceFloors     map[string]string `envconfig:"FREIGHTLANE_ALLOCATION_PRICE_FLOORS"`
	MaxCompanySlots int               `envconfig:"FREIGHTLANE_ALLOCATION_MAX_COMPANY_SLOTS" default:"25"`

	// Active assignment caps across all orders; zero disables the cap.
	MaxActivePerDriver  int `envconfig:"FREIGHTLANE_ALLOCATION_MAX_ACTIVE_PER_DRIVER" default:"3"`
	MaxActivePerCompany int `envconfig:"FREIGHTLANE_ALLOCATION_MAX_ACTIVE_PER_COMPANY" default:"0"`
}

// Floors parses PriceFloors into decimals keyed by lower-cased service class.
func (a AllocationConfig) Floors() (map[string]decimal.Decimal, error) {
	floors := make(map[string]decimal.Decimal, len(a.PriceFloors))
	for class, raw := range a.PriceFloors {
		value, err := decimal.NewFromString(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("invalid price floor for %q: %w", class, err)
		}
		if value.IsNegative() {
			return nil, fmt.Errorf("price floor for %q must not be negative", class)
		}
		floors[strings.ToLower(strings.TrimSpace(class))] = value
	}
	return floors, nil
}

type TripsConfig struct {
	ConfirmationWindow time.Duration `envconfig:"FREIGHTLANE_TRIPS_CONFIRMATION_WINDOW" default:"72h"`
	TransitionTimeout  time.Duration `envconfig:"FREIGHTLANE_TRIPS_TRANSITION_TIMEOUT" default:"15s"`
	ContentionBackoff  time.Duration `envconfig:"FREIGHTLANE_TRIPS_CONTENTION_BACKOFF" default:"25ms"`
	ContentionAttempts int           `envconfig:"FREIGHTLANE_TRIPS_CONTENTION_ATTEMPTS" default:"8"`
	AutoConfirmBatch   int           `envconfig:"FREIGHTLANE_TRIPS_AUTO_CONFIRM_BATCH" default:"100"`
}

type TrackingConfig struct {
	OnlineThreshold  time.Duration `envconfig:"FREIGHTLANE_TRACKING_ONLINE_THRESHOLD" default:"90s"`
	CoalesceInterval time.Duration `envconfig:"FREIGHTLANE_TRACKING_COALESCE_INTERVAL" default:"800ms"`
	TickInterval     time.Duration `envconfig:"FREIGHTLANE_TRACKING_TICK_INTERVAL" default:"1s"`
	PollInterval     time.Duration `envconfig:"FREIGHTLANE_TRACKING_POLL_INTERVAL" default:"10s"`
	SampleTTL        time.Duration `envconfig:"FREIGHTLANE_TRACKING_SAMPLE_TTL" default:"24h"`
	MaxClockSkew     time.Duration `envconfig:"FREIGHTLANE_TRACKING_MAX_CLOCK_SKEW" default:"2m"`

	MQTTBrokerURL string `envconfig:"FREIGHTLANE_MQTT_BROKER_URL" default:"tcp://localhost:1883"`
	MQTTClientID  string `envconfig:"FREIGHTLANE_MQTT_CLIENT_ID" default:"freightlane-tracking-ingest"`
	MQTTTopic     string `envconfig:"FREIGHTLANE_MQTT_TOPIC" default:"freightlane/drivers/+/location"`
	MQTTUsername  string `envconfig:"FREIGHTLANE_MQTT_USERNAME"`
	MQTTPassword  string `envconfig:"FREIGHTLANE_MQTT_PASSWORD"`
	MQTTQoS       int    `envconfig:"FREIGHTLANE_MQTT_QOS" default:"1"`
}

type CronConfig struct {
	Interval                  time.Duration `envconfig:"FREIGHTLANE_CRON_INTERVAL" default:"1m"`
	LockTTL                   time.Duration `envconfig:"FREIGHTLANE_CRON_LOCK_TTL" default:"5m"`
	NotificationRetentionDays int           `envconfig:"FREIGHTLANE_CRON_NOTIFICATION_RETENTION_DAYS" default:"30"`
	LocationRetentionDays     int           `envconfig:"FREIGHTLANE_CRON_LOCATION_RETENTION_DAYS" default:"90"`
	SnapshotBatch             int           `envconfig:"FREIGHTLANE_CRON_SNAPSHOT_BATCH" default:"500"`
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
