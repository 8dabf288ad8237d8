// internal/config/config.go
//
// Package config 集中定義服務的執行設定與預設值。
// 數值由 cmd/server 從命令列旗標或環境變數填入，再以 Validate 檢查。
package config

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"ledger/internal/logging"
	"ledger/internal/storage"
)

// 支援的儲存後端。
const (
	BackendFile     = "file"
	BackendLevelDB  = "leveldb"
	BackendPostgres = "postgres"
)

// Config 為整個服務的設定。
type Config struct {
	HTTP    HTTP
	Store   Store
	Log     logging.Config
	Metrics Metrics
}

// HTTP 設定監聽位址與逾時。
type HTTP struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// Store 設定帳本快照的持久化後端。
type Store struct {
	// Backend 為 file、leveldb 或 postgres
	Backend string
	// Path 為 JSON 檔案路徑（file）或資料庫目錄（leveldb）
	Path string
	// PostgresDSN 為 lib/pq 連線字串
	PostgresDSN string
	// Name 區分同一個 Postgres 資料庫中的多個帳本
	Name string
	// PersistTimeout 為單次保存的上限
	PersistTimeout time.Duration
	// BreakerThreshold 為連續失敗幾次後開啟斷路器
	BreakerThreshold uint32
	// BreakerOpenTimeout 為斷路器開啟後多久重試
	BreakerOpenTimeout time.Duration
}

// Metrics 設定 Prometheus 指標。
type Metrics struct {
	Enabled   bool
	Namespace string
}

// Default 回傳預設設定：以 data.json 保存、監聽 :8080。
func Default() Config {
	rc := storage.DefaultResilientConfig()
	return Config{
		HTTP: HTTP{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Store: Store{
			Backend:            BackendFile,
			Path:               "data.json",
			Name:               "default",
			PersistTimeout:     rc.Timeout,
			BreakerThreshold:   rc.FailureThreshold,
			BreakerOpenTimeout: rc.OpenTimeout,
		},
		Log: logging.DefaultConfig(),
		Metrics: Metrics{
			Enabled:   true,
			Namespace: "ledger",
		},
	}
}

// Resilient 轉為 storage.ResilientConfig。
func (s Store) Resilient() storage.ResilientConfig {
	return storage.ResilientConfig{
		Timeout:          s.PersistTimeout,
		FailureThreshold: s.BreakerThreshold,
		OpenTimeout:      s.BreakerOpenTimeout,
	}
}

// Validate 檢查所有欄位，一次回報全部問題。
func (c Config) Validate() error {
	var err error
	if strings.TrimSpace(c.HTTP.Addr) == "" {
		err = multierr.Append(err, errors.New("http: listen address is empty"))
	}
	if c.HTTP.ReadTimeout < 0 || c.HTTP.WriteTimeout < 0 || c.HTTP.IdleTimeout < 0 {
		err = multierr.Append(err, errors.New("http: timeouts must not be negative"))
	}
	if c.HTTP.ShutdownTimeout <= 0 {
		err = multierr.Append(err, errors.New("http: shutdown timeout must be > 0"))
	}

	switch c.Store.Backend {
	case BackendFile, BackendLevelDB:
		if c.Store.Path == "" {
			err = multierr.Append(err, errors.Errorf("store: %s backend requires a path", c.Store.Backend))
		}
	case BackendPostgres:
		if c.Store.PostgresDSN == "" {
			err = multierr.Append(err, errors.New("store: postgres backend requires a DSN"))
		}
		if c.Store.Name == "" {
			err = multierr.Append(err, errors.New("store: postgres backend requires a ledger name"))
		}
	default:
		err = multierr.Append(err, errors.Errorf("store: unknown backend %q", c.Store.Backend))
	}
	if c.Store.PersistTimeout < 0 {
		err = multierr.Append(err, errors.New("store: persist timeout must not be negative"))
	}
	if c.Store.BreakerThreshold == 0 {
		err = multierr.Append(err, errors.New("store: breaker threshold must be > 0"))
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		err = multierr.Append(err, errors.Errorf("log: unknown level %q", c.Log.Level))
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		err = multierr.Append(err, errors.Errorf("log: unknown format %q", c.Log.Format))
	}

	if c.Metrics.Enabled && c.Metrics.Namespace == "" {
		err = multierr.Append(err, errors.New("metrics: namespace is empty"))
	}
	return err
}
