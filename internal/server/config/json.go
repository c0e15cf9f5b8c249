package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/dmitrijs2005/clusterapi/internal/flagx"
	"github.com/dmitrijs2005/clusterapi/internal/timex"
)

// JsonConfig is the on-disk shape of the configuration file. Durations use
// timex.Duration, which accepts "30s" as well as integer nanoseconds.
// Absent keys leave the corresponding Config field unchanged.
type JsonConfig struct {
	ListenAddr            *string         `json:"listen_addr"`
	APIPrefix             *string         `json:"api_prefix"`
	Environment           *string         `json:"environment"`
	LogBackend            *string         `json:"log_backend"`
	LogLevel              *string         `json:"log_level"`
	SecretKey             *string         `json:"secret_key"`
	TokenValidityDuration *timex.Duration `json:"token_validity_duration"`
	IDEncryptionKey       *string         `json:"id_encryption_key"`
	BcryptCost            *int            `json:"bcrypt_cost"`
	AdminEmail            *string         `json:"admin_email"`
	AdminPassword         *string         `json:"admin_password"`
	StoreBackend          *string         `json:"store_backend"`
	DatabaseDSN           *string         `json:"database_dsn"`
	SQLitePath            *string         `json:"sqlite_path"`
	RedisAddr             *string         `json:"redis_addr"`
	RedisPassword         *string         `json:"redis_password"`
	RedisDB               *int            `json:"redis_db"`
	S3RootUser            *string         `json:"s3_root_user"`
	S3RootPassword        *string         `json:"s3_root_password"`
	S3Bucket              *string         `json:"s3_bucket"`
	S3Region              *string         `json:"s3_region"`
	S3BaseEndpoint        *string         `json:"s3_base_endpoint"`
	Workers               *int            `json:"workers"`
	ShutdownTimeout       *timex.Duration `json:"shutdown_timeout"`
	WorkerGracePeriod     *timex.Duration `json:"worker_grace_period"`
	MetricsInterval       *timex.Duration `json:"metrics_interval"`
	HealthInterval        *timex.Duration `json:"health_interval"`
	SupervisorMetricsAddr *string         `json:"supervisor_metrics_addr"`
	RateLimit             *int            `json:"rate_limit"`
	RateLimitWindow       *timex.Duration `json:"rate_limit_window"`
}

// parseJSON overlays the file named by -c/-config in args onto config.
// No flag means nothing to load.
func parseJSON(config *Config, args []string) error {
	path := flagx.ConfigPath(args)
	if path == "" {
		return nil
	}

	file, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		return err
	}

	setString(&config.ListenAddr, c.ListenAddr)
	setString(&config.APIPrefix, c.APIPrefix)
	setString(&config.Environment, c.Environment)
	setString(&config.LogBackend, c.LogBackend)
	setString(&config.LogLevel, c.LogLevel)
	setString(&config.SecretKey, c.SecretKey)
	setDuration(&config.TokenValidityDuration, c.TokenValidityDuration)
	setString(&config.IDEncryptionKey, c.IDEncryptionKey)
	setInt(&config.BcryptCost, c.BcryptCost)
	setString(&config.AdminEmail, c.AdminEmail)
	setString(&config.AdminPassword, c.AdminPassword)
	setString(&config.StoreBackend, c.StoreBackend)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.SQLitePath, c.SQLitePath)
	setString(&config.RedisAddr, c.RedisAddr)
	setString(&config.RedisPassword, c.RedisPassword)
	setInt(&config.RedisDB, c.RedisDB)
	setString(&config.S3RootUser, c.S3RootUser)
	setString(&config.S3RootPassword, c.S3RootPassword)
	setString(&config.S3Bucket, c.S3Bucket)
	setString(&config.S3Region, c.S3Region)
	setString(&config.S3BaseEndpoint, c.S3BaseEndpoint)
	setInt(&config.Workers, c.Workers)
	setDuration(&config.ShutdownTimeout, c.ShutdownTimeout)
	setDuration(&config.WorkerGracePeriod, c.WorkerGracePeriod)
	setDuration(&config.MetricsInterval, c.MetricsInterval)
	setDuration(&config.HealthInterval, c.HealthInterval)
	setString(&config.SupervisorMetricsAddr, c.SupervisorMetricsAddr)
	setInt(&config.RateLimit, c.RateLimit)
	setDuration(&config.RateLimitWindow, c.RateLimitWindow)

	return nil
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setDuration(dst *time.Duration, v *timex.Duration) {
	if v != nil {
		*dst = v.Duration
	}
}
