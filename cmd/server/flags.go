// cmd/server/flags.go
//
// 命令列旗標定義；每個旗標都可由 LEDGER_* 環境變數覆寫。

package main

import (
	"gopkg.in/urfave/cli.v1"

	"ledger/internal/config"
)

// 所有旗標皆可由同名的 LEDGER_* 環境變數提供。
var (
	// HTTP
	listenAddrFlag = cli.StringFlag{
		Name:   "addr",
		Usage:  "HTTP listen address",
		EnvVar: "LEDGER_ADDR",
		Value:  config.Default().HTTP.Addr,
	}
	readTimeoutFlag = cli.DurationFlag{
		Name:   "http.read-timeout",
		Usage:  "maximum duration for reading a request",
		EnvVar: "LEDGER_HTTP_READ_TIMEOUT",
		Value:  config.Default().HTTP.ReadTimeout,
	}
	writeTimeoutFlag = cli.DurationFlag{
		Name:   "http.write-timeout",
		Usage:  "maximum duration for writing a response",
		EnvVar: "LEDGER_HTTP_WRITE_TIMEOUT",
		Value:  config.Default().HTTP.WriteTimeout,
	}
	idleTimeoutFlag = cli.DurationFlag{
		Name:   "http.idle-timeout",
		Usage:  "keep-alive idle timeout",
		EnvVar: "LEDGER_HTTP_IDLE_TIMEOUT",
		Value:  config.Default().HTTP.IdleTimeout,
	}
	shutdownTimeoutFlag = cli.DurationFlag{
		Name:   "http.shutdown-timeout",
		Usage:  "grace period for in-flight requests and the final save",
		EnvVar: "LEDGER_SHUTDOWN_TIMEOUT",
		Value:  config.Default().HTTP.ShutdownTimeout,
	}

	// Store
	backendFlag = cli.StringFlag{
		Name:   "store",
		Usage:  "persistence backend: file, leveldb or postgres",
		EnvVar: "LEDGER_STORE",
		Value:  config.Default().Store.Backend,
	}
	dataPathFlag = cli.StringFlag{
		Name:   "data",
		Usage:  "snapshot file (file) or database directory (leveldb)",
		EnvVar: "LEDGER_DATA",
		Value:  config.Default().Store.Path,
	}
	postgresDSNFlag = cli.StringFlag{
		Name:   "postgres.dsn",
		Usage:  "postgres connection string",
		EnvVar: "LEDGER_POSTGRES_DSN",
	}
	ledgerNameFlag = cli.StringFlag{
		Name:   "postgres.ledger",
		Usage:  "ledger name inside the postgres snapshot table",
		EnvVar: "LEDGER_POSTGRES_LEDGER",
		Value:  config.Default().Store.Name,
	}
	persistTimeoutFlag = cli.DurationFlag{
		Name:   "store.timeout",
		Usage:  "maximum duration of a single snapshot save",
		EnvVar: "LEDGER_PERSIST_TIMEOUT",
		Value:  config.Default().Store.PersistTimeout,
	}
	breakerThresholdFlag = cli.UintFlag{
		Name:   "store.breaker-threshold",
		Usage:  "consecutive save failures before the circuit opens",
		EnvVar: "LEDGER_BREAKER_THRESHOLD",
		Value:  uint(config.Default().Store.BreakerThreshold),
	}
	breakerOpenFlag = cli.DurationFlag{
		Name:   "store.breaker-open",
		Usage:  "how long the circuit stays open before a trial save",
		EnvVar: "LEDGER_BREAKER_OPEN",
		Value:  config.Default().Store.BreakerOpenTimeout,
	}

	// Log
	logLevelFlag = cli.StringFlag{
		Name:   "log.level",
		Usage:  "debug, info, warn or error",
		EnvVar: "LEDGER_LOG_LEVEL",
		Value:  config.Default().Log.Level,
	}
	logFormatFlag = cli.StringFlag{
		Name:   "log.format",
		Usage:  "json or console",
		EnvVar: "LEDGER_LOG_FORMAT",
		Value:  config.Default().Log.Format,
	}
	logFileFlag = cli.StringFlag{
		Name:   "log.file",
		Usage:  "also write logs to this file, rotated by size",
		EnvVar: "LEDGER_LOG_FILE",
	}

	// Metrics
	metricsEnabledFlag = cli.BoolTFlag{
		Name:   "metrics",
		Usage:  "expose Prometheus metrics on /metrics",
		EnvVar: "LEDGER_METRICS",
	}

	httpFlags    = []cli.Flag{listenAddrFlag, readTimeoutFlag, writeTimeoutFlag, idleTimeoutFlag, shutdownTimeoutFlag}
	storeFlags   = []cli.Flag{backendFlag, dataPathFlag, postgresDSNFlag, ledgerNameFlag, persistTimeoutFlag, breakerThresholdFlag, breakerOpenFlag}
	logFlags     = []cli.Flag{logLevelFlag, logFormatFlag, logFileFlag}
	metricsFlags = []cli.Flag{metricsEnabledFlag}
)

func mergeFlags(groups ...[]cli.Flag) []cli.Flag {
	var out []cli.Flag
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

// configFrom 由旗標組出設定；未設定的欄位沿用 config.Default()。
func configFrom(ctx *cli.Context) config.Config {
	cfg := config.Default()

	cfg.HTTP.Addr = ctx.String(listenAddrFlag.Name)
	cfg.HTTP.ReadTimeout = ctx.Duration(readTimeoutFlag.Name)
	cfg.HTTP.WriteTimeout = ctx.Duration(writeTimeoutFlag.Name)
	cfg.HTTP.IdleTimeout = ctx.Duration(idleTimeoutFlag.Name)
	cfg.HTTP.ShutdownTimeout = ctx.Duration(shutdownTimeoutFlag.Name)

	cfg.Store.Backend = ctx.String(backendFlag.Name)
	cfg.Store.Path = ctx.String(dataPathFlag.Name)
	cfg.Store.PostgresDSN = ctx.String(postgresDSNFlag.Name)
	cfg.Store.Name = ctx.String(ledgerNameFlag.Name)
	cfg.Store.PersistTimeout = ctx.Duration(persistTimeoutFlag.Name)
	cfg.Store.BreakerThreshold = uint32(ctx.Uint(breakerThresholdFlag.Name))
	cfg.Store.BreakerOpenTimeout = ctx.Duration(breakerOpenFlag.Name)

	cfg.Log.Level = ctx.String(logLevelFlag.Name)
	cfg.Log.Format = ctx.String(logFormatFlag.Name)
	cfg.Log.File = ctx.String(logFileFlag.Name)

	cfg.Metrics.Enabled = ctx.BoolT(metricsEnabledFlag.Name)
	return cfg
}
