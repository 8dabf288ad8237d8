// internal/storage/model.go
//
// 定義「資料持久化層 (storage layer)」的結構模型。
// 該層只描述帳本快照的序列化格式，並保存中繼資訊 (Meta) 供版本比對。
// 所有後端（JSON 檔案、LevelDB、Postgres）共用同一份結構。
package storage

import (
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// SchemaVersion 為目前快照結構版本。
// v1 僅有名稱與餘額；v2 加入個人資料、密碼摘要與完整交易紀錄。
const SchemaVersion = 2

// Meta 為所有持久化快照的中繼資料 (metadata)。
type Meta struct {
	Storage   string    `json:"storage"`        // 儲存類型，例如 "json_snapshot"
	Version   int       `json:"version"`        // 結構版本號
	Timestamp time.Time `json:"timestamp"`      // 快照建立時間
	Note      string    `json:"note,omitempty"` // 備註欄
}

// PersistTransaction 為單筆交易紀錄在儲存層的格式。
type PersistTransaction struct {
	Time        time.Time       `json:"time"`
	Description string          `json:"description"`
	Delta       decimal.Decimal `json:"delta"`
	Balance     decimal.Decimal `json:"balance"`
	Reference   string          `json:"reference,omitempty"`
}

// PersistAccount 為帳戶在儲存層的序列化格式。
// 不含同步鎖或方法，僅保存資料狀態；Digest 為密碼摘要，不含明文。
type PersistAccount struct {
	ID      string               `json:"id"`
	Name    string               `json:"name"`
	Address string               `json:"address"`
	Phone   string               `json:"phone"`
	Balance decimal.Decimal      `json:"balance"`
	Digest  string               `json:"digest"`
	History []PersistTransaction `json:"history"`
}

// Snapshot 為帳本狀態的完整快照，每次變更後整份重新寫出。
type Snapshot struct {
	Meta     Meta             `json:"_meta"`
	Accounts []PersistAccount `json:"accounts"`
}

// Validate 檢查快照可否安全載入：結構版本不得新於 SchemaVersion、帳號不得重複，
// 且每個帳戶都必須通過 PersistAccount.Validate。
func (s Snapshot) Validate() error {
	if s.Meta.Version > SchemaVersion {
		return errors.Errorf("unsupported schema version %d", s.Meta.Version)
	}
	seen := make(map[string]struct{}, len(s.Accounts))
	for _, a := range s.Accounts {
		if _, dup := seen[a.ID]; dup {
			return errors.Errorf("duplicate account %s", a.ID)
		}
		seen[a.ID] = struct{}{}
		if err := a.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Validate 重播交易紀錄確認帳目一致：
// 每筆 Balance 必須等於前一筆加上 Delta 且不為負，最後一筆等於目前餘額。
func (a PersistAccount) Validate() error {
	if a.ID == "" {
		return errors.New("account without id")
	}
	if a.Balance.IsNegative() {
		return errors.Errorf("account %s: negative balance %s", a.ID, a.Balance)
	}
	if len(a.History) == 0 {
		return errors.Errorf("account %s: empty history", a.ID)
	}
	running := decimal.Zero
	for i, t := range a.History {
		running = running.Add(t.Delta)
		if !running.Equal(t.Balance) || running.IsNegative() {
			return errors.Errorf("account %s: history entry %d does not replay (%s != %s)", a.ID, i, running, t.Balance)
		}
	}
	if !running.Equal(a.Balance) {
		return errors.Errorf("account %s: history ends at %s, balance is %s", a.ID, running, a.Balance)
	}
	return nil
}
