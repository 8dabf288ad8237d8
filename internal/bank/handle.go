// internal/bank/handle.go
//
// Handle 是驗證通過後綁定單一帳號的操作介面，所有呼叫都轉交給 Ledger。

package bank

import (
	"context"

	"github.com/shopspring/decimal"
)

// Handle 為通過驗證後綁定單一帳戶的操作介面，供外部協作者（CLI、GUI、HTTP）使用。
// Handle 不快取任何帳戶狀態，每次呼叫都經由 Ledger 取得最新資料。
type Handle struct {
	ledger *Ledger
	id     string
}

// ID 回傳已驗證的帳號。
func (h *Handle) ID() string { return h.id }

// Snapshot 回傳帳戶目前狀態。
func (h *Handle) Snapshot() (Snapshot, error) { return h.ledger.Snapshot(h.id) }

// History 回傳帳戶交易紀錄。
func (h *Handle) History() ([]Transaction, error) { return h.ledger.History(h.id) }

// Deposit 存入 amount。
func (h *Handle) Deposit(ctx context.Context, amount decimal.Decimal) error {
	return h.ledger.Deposit(ctx, h.id, amount)
}

// Withdraw 提領 amount；餘額不足回傳 false。
func (h *Handle) Withdraw(ctx context.Context, amount decimal.Decimal) (bool, error) {
	return h.ledger.Withdraw(ctx, h.id, amount)
}

// TransferTo 由本帳戶轉出 amount 至 toID。
func (h *Handle) TransferTo(ctx context.Context, toID string, amount decimal.Decimal) (bool, error) {
	return h.ledger.Transfer(ctx, h.id, toID, amount)
}

// ChangeCredential 以舊密碼驗證後更換密碼。
func (h *Handle) ChangeCredential(ctx context.Context, oldSecret, newSecret string) (bool, error) {
	return h.ledger.ChangeCredential(ctx, h.id, oldSecret, newSecret)
}

// UpdateProfile 更新個人資料。
func (h *Handle) UpdateProfile(ctx context.Context, p Profile) error {
	return h.ledger.UpdateProfile(ctx, h.id, p)
}
