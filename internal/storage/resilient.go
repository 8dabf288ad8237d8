// internal/storage/resilient.go
//
// ResilientStore 為任一 Store 加上逾時與斷路器保護。
// 快照為整份寫入，略過一次 Save 不影響正確性：下一次成功的 Save 會補上所有變更。
package storage

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"ledger/internal/logging"
)

// ResilientConfig 設定逾時與斷路器參數。
type ResilientConfig struct {
	// Timeout 為單次 Save/Load 上限；0 代表不限制
	Timeout time.Duration
	// FailureThreshold 為連續失敗幾次後開啟斷路器
	FailureThreshold uint32
	// OpenTimeout 為斷路器開啟後多久進入 half-open
	OpenTimeout time.Duration
}

// DefaultResilientConfig 回傳預設值。
func DefaultResilientConfig() ResilientConfig {
	return ResilientConfig{
		Timeout:          5 * time.Second,
		FailureThreshold: 5,
		OpenTimeout:      30 * time.Second,
	}
}

// ResilientStore wraps a Store with timeout and circuit breaker protection.
type ResilientStore struct {
	store   Store
	cb      *gobreaker.CircuitBreaker
	timeout time.Duration
	logger  *logging.Logger
}

// NewResilientStore 建立包裝後的 Store。
func NewResilientStore(store Store, cfg ResilientConfig, logger *logging.Logger) *ResilientStore {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = DefaultResilientConfig().FailureThreshold
	}
	logger = logger.Named("store").With(zap.String("backend", store.Name()))

	rs := &ResilientStore{store: store, timeout: cfg.Timeout, logger: logger}
	rs.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        store.Name(),
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		// 資料損毀不是後端故障，不應觸發斷路器
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrCorrupt)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	return rs
}

// Name 回傳底層後端名稱。
func (rs *ResilientStore) Name() string { return rs.store.Name() }

// Close 關閉底層後端。
func (rs *ResilientStore) Close() error { return rs.store.Close() }

// Save 經斷路器呼叫底層 Save，並以 Timeout 為上限。
// 逾時後回報失敗；底層寫入仍可能在背景完成，但不影響下一次快照的正確性。
func (rs *ResilientStore) Save(ctx context.Context, snap Snapshot) error {
	_, err := rs.cb.Execute(func() (interface{}, error) {
		return nil, rs.bounded(ctx, func(ctx context.Context) error {
			return rs.store.Save(ctx, snap)
		})
	})
	return rs.translate(err, "save")
}

// Load 經斷路器呼叫底層 Load。
func (rs *ResilientStore) Load(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	_, err := rs.cb.Execute(func() (interface{}, error) {
		return nil, rs.bounded(ctx, func(ctx context.Context) error {
			s, err := rs.store.Load(ctx)
			snap = s
			return err
		})
	})
	if err != nil {
		return Snapshot{}, rs.translate(err, "load")
	}
	return snap, nil
}

func (rs *ResilientStore) bounded(ctx context.Context, fn func(context.Context) error) error {
	if rs.timeout <= 0 {
		return fn(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, rs.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn(ctx) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return errors.Wrapf(ctx.Err(), "store %s exceeded %s", rs.store.Name(), rs.timeout)
	}
}

func (rs *ResilientStore) translate(err error, op string) error {
	switch {
	case err == nil:
		return nil
	case err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests:
		rs.logger.Warn("circuit breaker open - request rejected", zap.String("operation", op))
		return errors.Wrapf(ErrCircuitOpen, "%s via %s", op, rs.store.Name())
	default:
		return err
	}
}
