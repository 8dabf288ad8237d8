// internal/storage/storage.go
//
// Store 介面讓帳本核心不需知道實際的儲存後端。
// 每次 Save 都是完整快照，因此後端只需保證「整份取代」的原子性。
package storage

import (
	"context"
	"errors"
)

var (
	// ErrCorrupt 代表持久化資料存在但無法解析。
	// Load 回傳此錯誤時會一併回傳空快照，由上層決定如何大聲警告。
	ErrCorrupt = errors.New("storage: snapshot is corrupt")

	// ErrCircuitOpen 代表斷路器開啟，本次存取未觸及後端。
	ErrCircuitOpen = errors.New("storage: circuit open")
)

// Store 為帳本快照的持久化後端。
type Store interface {
	// Save 以原子方式取代先前的持久化快照。
	Save(ctx context.Context, snap Snapshot) error
	// Load 讀回最近一次成功保存的快照；尚無資料時回傳空快照與 nil。
	Load(ctx context.Context) (Snapshot, error)
	// Name 回傳後端名稱，供日誌與指標使用。
	Name() string
	Close() error
}
