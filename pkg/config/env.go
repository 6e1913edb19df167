package config

const (
	EnvPrefix = "FREIGHTLANE"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv   = "FREIGHTLANE_APP_ENV"
	EnvPort     = "FREIGHTLANE_APP_PORT"
	EnvLogLevel = "FREIGHTLANE_LOG_LEVEL"

	EnvDBDSN  = "FREIGHTLANE_DB_DSN"
	EnvDBHost = "FREIGHTLANE_DB_HOST"
	EnvDBUser = "FREIGHTLANE_DB_USER"
	EnvDBName = "FREIGHTLANE_DB_NAME"

	EnvRedisURL = "FREIGHTLANE_REDIS_URL"

	EnvJWTSecret  = "FREIGHTLANE_JWT_SECRET"
	EnvJWTIssuer  = "FREIGHTLANE_JWT_ISSUER"
	EnvJWTExpMins = "FREIGHTLANE_JWT_EXPIRATION_MINUTES"

	EnvPubSubDomainTopic = "FREIGHTLANE_PUBSUB_DOMAIN_TOPIC"

	EnvPriceFloors        = "FREIGHTLANE_ALLOCATION_PRICE_FLOORS"
	EnvConfirmationWindow = "FREIGHTLANE_TRIPS_CONFIRMATION_WINDOW"
	EnvOnlineThreshold    = "FREIGHTLANE_TRACKING_ONLINE_THRESHOLD"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
