package config

import (
	"flag"

	"github.com/dmitrijs2005/clusterapi/internal/flagx"
)

var knownFlags = []string{
	"-a", "-d", "-s", "-k", "-t", "-w",
	"-backend", "-env", "-log-level", "-log-backend",
	"-shutdown-timeout", "-grace", "-sqlite", "-redis", "-standalone",
}

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags:
//
//	-a string              HTTP bind address (e.g., ":8080")
//	-d string              PostgreSQL DSN
//	-s string              JWT HMAC secret key
//	-k string              identifier encryption key
//	-t duration            token validity (e.g., "24h")
//	-w int                 worker processes, 0 = one per CPU
//	-backend string        store backend: memory|postgres|sqlite|redis|s3
//	-env string            environment ("development" exposes error details)
//	-log-level string      debug|info|warn|error
//	-log-backend string    slog|zap
//	-shutdown-timeout dur  supervisor wait for workers on shutdown
//	-grace dur             worker wait for in-flight requests
//	-sqlite string         sqlite database path
//	-redis string          redis address
//	-standalone            run one worker in this process, no supervisor
//
// args are filtered with flagx.FilterArgs first, so -c/-config and flags
// owned by other components never cause a parse error here.
func parseFlags(config *Config, args []string) error {
	fs := flag.NewFlagSet("server", flag.ContinueOnError)

	fs.StringVar(&config.ListenAddr, "a", config.ListenAddr, "address and port to run server")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")
	fs.StringVar(&config.IDEncryptionKey, "k", config.IDEncryptionKey, "identifier encryption key")
	fs.DurationVar(&config.TokenValidityDuration, "t", config.TokenValidityDuration, "token validity duration")
	fs.IntVar(&config.Workers, "w", config.Workers, "worker processes (0 = NumCPU)")
	fs.StringVar(&config.StoreBackend, "backend", config.StoreBackend, "store backend")
	fs.StringVar(&config.Environment, "env", config.Environment, "environment")
	fs.StringVar(&config.LogLevel, "log-level", config.LogLevel, "log level")
	fs.StringVar(&config.LogBackend, "log-backend", config.LogBackend, "log backend")
	fs.DurationVar(&config.ShutdownTimeout, "shutdown-timeout", config.ShutdownTimeout, "supervisor shutdown timeout")
	fs.DurationVar(&config.WorkerGracePeriod, "grace", config.WorkerGracePeriod, "worker grace period")
	fs.StringVar(&config.SQLitePath, "sqlite", config.SQLitePath, "sqlite database path")
	fs.StringVar(&config.RedisAddr, "redis", config.RedisAddr, "redis address")
	fs.BoolVar(&config.Standalone, "standalone", config.Standalone, "serve without a supervisor")

	return fs.Parse(flagx.FilterArgs(args, knownFlags))
}
