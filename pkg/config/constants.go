package config

// EnvPrefix scopes every environment variable the service reads.
const EnvPrefix = "SVCENTER"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvDBDSN  = "SVCENTER_DB_DSN"
	EnvDBHost = "SVCENTER_DB_HOST"
	EnvDBUser = "SVCENTER_DB_USER"
	EnvDBName = "SVCENTER_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
