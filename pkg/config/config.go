package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/angelmondragon/shiftpay-backend/pkg/money"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	Fees         FeesConfig
	Escrow       EscrowConfig
	Dispute      DisputeConfig
	Refund       RefundConfig
	Payout       PayoutConfig
	Rail         RailConfig
	Cron         CronConfig
	Eventing     EventingConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	RabbitMQ     RabbitMQConfig
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
	if _, err := cfg.Fees.Rates(true, true); err != nil {
		return nil, fmt.Errorf("fee rates: %w", err)
	}
	if err := cfg.Escrow.validate(); err != nil {
		return nil, err
	}
	if err := cfg.Eventing.validate(cfg.GCP, cfg.PubSub, cfg.RabbitMQ); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string   `envconfig:"SHIFTPAY_APP_ENV" required:"true"`
	Port         string   `envconfig:"SHIFTPAY_APP_PORT" required:"true"`
	LogLevel     string   `envconfig:"SHIFTPAY_LOG_LEVEL" default:"info"`
	LogWarnStack bool     `envconfig:"SHIFTPAY_LOG_WARN_STACK" default:"false"`
	LogFormat    string   `envconfig:"SHIFTPAY_LOG_FORMAT" default:"json"`
	CORSOrigins  []string `envconfig:"SHIFTPAY_CORS_ALLOWED_ORIGINS" default:"http://localhost:3000"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"SHIFTPAY_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"SHIFTPAY_DB_DSN"`
	Driver string `envconfig:"SHIFTPAY_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"SHIFTPAY_DB_HOST"`
	LegacyPort     int    `envconfig:"SHIFTPAY_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"SHIFTPAY_DB_USER"`
	LegacyPassword string `envconfig:"SHIFTPAY_DB_PASSWORD"`
	LegacyName     string `envconfig:"SHIFTPAY_DB_NAME"`
	LegacySSLMode  string `envconfig:"SHIFTPAY_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"SHIFTPAY_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"SHIFTPAY_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"SHIFTPAY_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"SHIFTPAY_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	SlowQuery       time.Duration `envconfig:"SHIFTPAY_DB_SLOW_QUERY" default:"500ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"SHIFTPAY_REDIS_URL" required:"true"`
	Address      string        `envconfig:"SHIFTPAY_REDIS_ADDR"`
	Password     string        `envconfig:"SHIFTPAY_REDIS_PASSWORD"`
	DB           int           `envconfig:"SHIFTPAY_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"SHIFTPAY_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"SHIFTPAY_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"SHIFTPAY_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"SHIFTPAY_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"SHIFTPAY_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string        `envconfig:"SHIFTPAY_JWT_SECRET" required:"true"`
	Issuer            string        `envconfig:"SHIFTPAY_JWT_ISSUER" required:"true"`
	ExpirationMinutes int           `envconfig:"SHIFTPAY_JWT_EXPIRATION_MINUTES" required:"true"`
	Audience          string        `envconfig:"SHIFTPAY_JWT_AUDIENCE" default:"shiftpay-settlement"`
	Leeway            time.Duration `envconfig:"SHIFTPAY_JWT_LEEWAY" default:"30s"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"SHIFTPAY_AUTO_MIGRATE" default:"false"`
}

// FeesConfig carries rates as decimal strings so no float ever touches money.
type FeesConfig struct {
	PlatformFeeRate      string `envconfig:"SHIFTPAY_PLATFORM_FEE_RATE" default:"0.15"`
	AgencyCommissionRate string `envconfig:"SHIFTPAY_AGENCY_COMMISSION_RATE" default:"0.10"`
	UrgentBonusRate      string `envconfig:"SHIFTPAY_URGENT_BONUS_RATE" default:"0.05"`
	DefaultCurrency      string `envconfig:"SHIFTPAY_DEFAULT_CURRENCY" default:"USD"`
}

// Rates returns the configured rates. The agency and urgent rates are zero
// unless the shift has an agency or was posted as urgent.
func (f FeesConfig) Rates(withAgency, urgent bool) (money.Rates, error) {
	var (
		rates money.Rates
		err   error
	)
	if rates.PlatformFee, err = money.ParseRate(f.PlatformFeeRate); err != nil {
		return money.Rates{}, err
	}
	if withAgency {
		if rates.AgencyCommission, err = money.ParseRate(f.AgencyCommissionRate); err != nil {
			return money.Rates{}, err
		}
	}
	if urgent {
		if rates.UrgentBonus, err = money.ParseRate(f.UrgentBonusRate); err != nil {
			return money.Rates{}, err
		}
	}
	return rates, nil
}

type EscrowConfig struct {
	HoldPeriod    time.Duration `envconfig:"SHIFTPAY_ESCROW_HOLD_PERIOD" default:"168h"`
	MinHoldPeriod time.Duration `envconfig:"SHIFTPAY_ESCROW_MIN_HOLD_PERIOD" default:"24h"`
}

func (e EscrowConfig) validate() error {
	if e.HoldPeriod <= 0 {
		return fmt.Errorf("escrow hold period must be positive")
	}
	if e.MinHoldPeriod < 0 || e.MinHoldPeriod > e.HoldPeriod {
		return fmt.Errorf("escrow min hold period must be between 0 and %s", e.HoldPeriod)
	}
	return nil
}

type DisputeConfig struct {
	SLAWindow     time.Duration `envconfig:"SHIFTPAY_DISPUTE_SLA_WINDOW" default:"48h"`
	WarningMargin time.Duration `envconfig:"SHIFTPAY_DISPUTE_SLA_WARNING_MARGIN" default:"12h"`
}

type RefundConfig struct {
	AutoReasons []string `envconfig:"SHIFTPAY_REFUND_AUTO_REASONS" default:"worker_no_show,shift_cancelled_before_start"`
}

type PayoutConfig struct {
	MaxAttempts    int           `envconfig:"SHIFTPAY_PAYOUT_MAX_ATTEMPTS" default:"3"`
	MinimumCents   int64         `envconfig:"SHIFTPAY_PAYOUT_MINIMUM_CENTS" default:"500"`
	RetryBaseDelay time.Duration `envconfig:"SHIFTPAY_PAYOUT_RETRY_BASE_DELAY" default:"1m"`
	RetryMaxDelay  time.Duration `envconfig:"SHIFTPAY_PAYOUT_RETRY_MAX_DELAY" default:"1h"`
	StaleAfter     time.Duration `envconfig:"SHIFTPAY_PAYOUT_STALE_AFTER" default:"15m"`
	BatchWorkers   int           `envconfig:"SHIFTPAY_BATCH_WORKERS" default:"4"`
}

type RailConfig struct {
	BaseURL string        `envconfig:"SHIFTPAY_RAIL_BASE_URL" default:"http://localhost:9090"`
	APIKey  string        `envconfig:"SHIFTPAY_RAIL_API_KEY"`
	Timeout time.Duration `envconfig:"SHIFTPAY_RAIL_TIMEOUT" default:"10s"`
}

type CronConfig struct {
	ReleaseSchedule   string        `envconfig:"SHIFTPAY_CRON_RELEASE_SCHEDULE" default:"@every 1m"`
	SLASchedule       string        `envconfig:"SHIFTPAY_CRON_SLA_SCHEDULE" default:"@every 5m"`
	DispatchSchedule  string        `envconfig:"SHIFTPAY_CRON_DISPATCH_SCHEDULE" default:"@every 10m"`
	RetrySchedule     string        `envconfig:"SHIFTPAY_CRON_RETRY_SCHEDULE" default:"@every 2m"`
	SweepSchedule     string        `envconfig:"SHIFTPAY_CRON_SWEEP_SCHEDULE" default:"@every 5m"`
	RetentionSchedule string        `envconfig:"SHIFTPAY_CRON_RETENTION_SCHEDULE" default:"@daily"`
	LockTTL           time.Duration `envconfig:"SHIFTPAY_CRON_LOCK_TTL" default:"5m"`
}

type EventingConfig struct {
	Transport      string        `envconfig:"SHIFTPAY_EVENTING_TRANSPORT" default:"pubsub"`
	IdempotencyTTL time.Duration `envconfig:"SHIFTPAY_EVENTING_IDEMPOTENCY_TTL" default:"24h"`
}

func (e EventingConfig) validate(gcp GCPConfig, ps PubSubConfig, rmq RabbitMQConfig) error {
	switch strings.ToLower(e.Transport) {
	case TransportPubSub:
		if gcp.ProjectID == "" || ps.SettlementTopic == "" {
			return fmt.Errorf("%s and %s are required for pubsub transport", EnvGCPProjectID, EnvPubSubTopic)
		}
	case TransportRabbitMQ:
		if rmq.URL == "" {
			return fmt.Errorf("%s is required for rabbitmq transport", EnvRabbitMQURL)
		}
	default:
		return fmt.Errorf("unsupported %s %q", EnvEventingTransport, e.Transport)
	}
	return nil
}

type GCPConfig struct {
	ProjectID              string `envconfig:"SHIFTPAY_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"SHIFTPAY_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"SHIFTPAY_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	SettlementTopic string `envconfig:"SHIFTPAY_PUBSUB_SETTLEMENT_TOPIC" default:"shiftpay-settlement-events"`
}

type RabbitMQConfig struct {
	URL      string `envconfig:"SHIFTPAY_RABBITMQ_URL"`
	Exchange string `envconfig:"SHIFTPAY_RABBITMQ_EXCHANGE" default:"shiftpay.settlement"`
}

type OutboxConfig struct {
	BatchSize            int `envconfig:"SHIFTPAY_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS       int `envconfig:"SHIFTPAY_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts          int `envconfig:"SHIFTPAY_OUTBOX_MAX_ATTEMPTS" default:"10"`
	RetentionDays        int `envconfig:"SHIFTPAY_OUTBOX_RETENTION_DAYS" default:"30"`
	RetentionMinAttempts int `envconfig:"SHIFTPAY_OUTBOX_RETENTION_MIN_ATTEMPTS" default:"5"`
	DLQRetentionDays     int `envconfig:"SHIFTPAY_OUTBOX_DLQ_RETENTION_DAYS" default:"90"`
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
