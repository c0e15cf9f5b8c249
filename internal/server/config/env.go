package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/united-manufacturing-hub/umh-utils/env"
)

// Environment variable names read by parseEnv.
const (
	EnvListenAddr            = "API_LISTEN_ADDR"
	EnvAPIPrefix             = "API_PREFIX"
	EnvEnvironment           = "APP_ENV"
	EnvLogBackend            = "LOG_BACKEND"
	EnvLogLevel              = "LOG_LEVEL"
	EnvSecretKey             = "JWT_SECRET"
	EnvTokenValidity         = "TOKEN_TTL"
	EnvIDEncryptionKey       = "ID_ENCRYPTION_KEY"
	EnvBcryptCost            = "BCRYPT_COST"
	EnvAdminEmail            = "ADMIN_EMAIL"
	EnvAdminPassword         = "ADMIN_PASSWORD"
	EnvStoreBackend          = "STORE_BACKEND"
	EnvDatabaseDSN           = "DATABASE_DSN"
	EnvSQLitePath            = "SQLITE_PATH"
	EnvRedisAddr             = "REDIS_ADDR"
	EnvRedisPassword         = "REDIS_PASSWORD"
	EnvRedisDB               = "REDIS_DB"
	EnvS3RootUser            = "S3_ROOT_USER"
	EnvS3RootPassword        = "S3_ROOT_PASSWORD"
	EnvS3Bucket              = "S3_BUCKET"
	EnvS3Region              = "S3_REGION"
	EnvS3BaseEndpoint        = "S3_BASE_ENDPOINT"
	EnvWorkers               = "CLUSTER_WORKERS"
	EnvShutdownTimeout       = "SHUTDOWN_TIMEOUT"
	EnvWorkerGracePeriod     = "WORKER_GRACE_PERIOD"
	EnvMetricsInterval       = "METRICS_INTERVAL"
	EnvHealthInterval        = "HEALTH_INTERVAL"
	EnvSupervisorMetricsAddr = "SUPERVISOR_METRICS_ADDR"
	EnvRateLimit             = "RATE_LIMIT"
	EnvRateLimitWindow       = "RATE_LIMIT_WINDOW"
)

// parseEnv overlays environment variables onto config. Unset variables keep
// the current value; malformed numbers or durations are reported together.
func parseEnv(config *Config) error {
	var errs []error

	str := func(dst *string, key string) {
		v, err := env.GetAsString(key, false, *dst)
		if err != nil {
			errs = append(errs, err)
			return
		}
		*dst = v
	}
	num := func(dst *int, key string) {
		v, err := env.GetAsInt(key, false, *dst)
		if err != nil {
			errs = append(errs, err)
			return
		}
		*dst = v
	}
	dur := func(dst *time.Duration, key string) {
		v, err := env.GetAsString(key, false, "")
		if err != nil || v == "" {
			return
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("environment variable %s: %w", key, err))
			return
		}
		*dst = d
	}

	str(&config.ListenAddr, EnvListenAddr)
	str(&config.APIPrefix, EnvAPIPrefix)
	str(&config.Environment, EnvEnvironment)
	str(&config.LogBackend, EnvLogBackend)
	str(&config.LogLevel, EnvLogLevel)
	str(&config.SecretKey, EnvSecretKey)
	dur(&config.TokenValidityDuration, EnvTokenValidity)
	str(&config.IDEncryptionKey, EnvIDEncryptionKey)
	num(&config.BcryptCost, EnvBcryptCost)
	str(&config.AdminEmail, EnvAdminEmail)
	str(&config.AdminPassword, EnvAdminPassword)
	str(&config.StoreBackend, EnvStoreBackend)
	str(&config.DatabaseDSN, EnvDatabaseDSN)
	str(&config.SQLitePath, EnvSQLitePath)
	str(&config.RedisAddr, EnvRedisAddr)
	str(&config.RedisPassword, EnvRedisPassword)
	num(&config.RedisDB, EnvRedisDB)
	str(&config.S3RootUser, EnvS3RootUser)
	str(&config.S3RootPassword, EnvS3RootPassword)
	str(&config.S3Bucket, EnvS3Bucket)
	str(&config.S3Region, EnvS3Region)
	str(&config.S3BaseEndpoint, EnvS3BaseEndpoint)
	num(&config.Workers, EnvWorkers)
	dur(&config.ShutdownTimeout, EnvShutdownTimeout)
	dur(&config.WorkerGracePeriod, EnvWorkerGracePeriod)
	dur(&config.MetricsInterval, EnvMetricsInterval)
	dur(&config.HealthInterval, EnvHealthInterval)
	str(&config.SupervisorMetricsAddr, EnvSupervisorMetricsAddr)
	num(&config.RateLimit, EnvRateLimit)
	dur(&config.RateLimitWindow, EnvRateLimitWindow)

	return errors.Join(errs...)
}
