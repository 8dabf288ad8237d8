// internal/metrics/metrics.go
//
// Package metrics 定義帳本操作與快照保存的指標介面，
// 後端實作（例如 Prometheus）位於子套件。

package metrics

import (
	"time"
)

// Collector defines the interface for collecting ledger metrics.
// Implementations can export metrics to various backends (Prometheus, etc.).
type Collector interface {
	// RecordOperation records one ledger command and its outcome
	// (ok, rejected, insufficient_funds, auth_failed, error).
	RecordOperation(op, outcome string, duration time.Duration)

	// RecordSave records one snapshot write to the given backend.
	RecordSave(backend string, success bool, duration time.Duration)

	// SetAccounts reports the current number of accounts.
	SetAccounts(n int)
}

// Operation outcomes.
const (
	OutcomeOK           = "ok"
	OutcomeRejected     = "rejected"
	OutcomeInsufficient = "insufficient_funds"
	OutcomeAuthFailed   = "auth_failed"
	OutcomeError        = "error"
)

// NoOpCollector is a no-op implementation of Collector.
// It's used as the default collector when metrics are not needed.
type NoOpCollector struct{}

// RecordOperation does nothing.
func (NoOpCollector) RecordOperation(op, outcome string, duration time.Duration) {}

// RecordSave does nothing.
func (NoOpCollector) RecordSave(backend string, success bool, duration time.Duration) {}

// SetAccounts does nothing.
func (NoOpCollector) SetAccounts(n int) {}
