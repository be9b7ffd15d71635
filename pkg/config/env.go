package config

const (
	EnvPrefix = "SHIFTPAY"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv    = "SHIFTPAY_APP_ENV"
	EnvPort      = "SHIFTPAY_APP_PORT"
	EnvDBDSN     = "SHIFTPAY_DB_DSN"
	EnvDBHost    = "SHIFTPAY_DB_HOST"
	EnvDBUser    = "SHIFTPAY_DB_USER"
	EnvDBName    = "SHIFTPAY_DB_NAME"
	EnvRedisURL  = "SHIFTPAY_REDIS_URL"
	EnvJWTSecret = "SHIFTPAY_JWT_SECRET"
	EnvJWTIssuer = "SHIFTPAY_JWT_ISSUER"
	EnvJWTExpMin = "SHIFTPAY_JWT_EXPIRATION_MINUTES"

	EnvEventingTransport = "SHIFTPAY_EVENTING_TRANSPORT"
	EnvGCPProjectID      = "SHIFTPAY_GCP_PROJECT_ID"
	EnvPubSubTopic       = "SHIFTPAY_PUBSUB_SETTLEMENT_TOPIC"
	EnvRabbitMQURL       = "SHIFTPAY_RABBITMQ_URL"
	EnvPlatformFeeRate   = "SHIFTPAY_PLATFORM_FEE_RATE"
	EnvAutoRefundReasons = "SHIFTPAY_REFUND_AUTO_REASONS"
)

const (
	TransportPubSub   = "pubsub"
	TransportRabbitMQ = "rabbitmq"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
