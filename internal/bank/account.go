// internal/bank/account.go
//
// Package bank 定義核心領域模型與業務規則。
// 本檔定義 Account 與交易紀錄 Transaction，不含任何 HTTP 或儲存細節。
// 每個 Account 擁有自己的讀寫鎖；跨帳戶的轉帳由 Ledger 依固定順序同時持有兩把鎖。

package bank

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"ledger/internal/credential"
	"ledger/internal/storage"
)

// 交易描述文字；轉帳描述後方接對方帳號。
const (
	descOpened       = "Account opened"
	descDeposit      = "Deposit"
	descWithdrawal   = "Withdrawal"
	descTransferTo   = "Transfer to "
	descTransferFrom = "Transfer from "
)

// Transaction represents one immutable history record.
// Balance 為套用 Delta 之後的帳戶餘額。
type Transaction struct {
	Time        time.Time       `json:"time"`
	Description string          `json:"description"`
	Delta       decimal.Decimal `json:"delta"`
	Balance     decimal.Decimal `json:"balance"`
	Reference   string          `json:"reference,omitempty"`
}

// Profile 為帳戶持有人可修改的個人資料。
type Profile struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	Phone   string `json:"phone"`
}

// Snapshot 為帳戶的唯讀檢視，不含密碼摘要與交易紀錄。
type Snapshot struct {
	ID      string          `json:"id"`
	Name    string          `json:"name"`
	Address string          `json:"address"`
	Phone   string          `json:"phone"`
	Balance decimal.Decimal `json:"balance"`
}

// Account represents a bank account.
// 所有欄位只在持有 mu 時讀寫；history 只會追加，不會修改或刪除。
type Account struct {
	mu      sync.RWMutex
	id      string
	profile Profile
	balance decimal.Decimal
	digest  credential.Digest
	history []Transaction
	now     func() time.Time
}

// newAccount 建立帳戶並寫入第一筆「開戶」紀錄；初始餘額不得為負。
func newAccount(id string, p Profile, initial decimal.Decimal, d credential.Digest, now func() time.Time) (*Account, error) {
	if initial.IsNegative() {
		return nil, ErrInvalidAmount
	}
	a := &Account{id: id, profile: p, balance: initial, digest: d, now: now}
	a.appendTx(descOpened, initial, "")
	return a, nil
}

// ID 回傳帳號；建立後不可變，不需加鎖。
func (a *Account) ID() string { return a.id }

// appendTx 追加一筆紀錄；呼叫端必須持有寫鎖且已更新 balance。
func (a *Account) appendTx(desc string, delta decimal.Decimal, ref string) {
	a.history = append(a.history, Transaction{
		Time:        a.now().UTC().Truncate(time.Second),
		Description: desc,
		Delta:       delta,
		Balance:     a.balance,
		Reference:   ref,
	})
}

// credit 入帳；呼叫端必須持有寫鎖且 amount > 0。
func (a *Account) credit(amount decimal.Decimal, desc, ref string) {
	a.balance = a.balance.Add(amount)
	a.appendTx(desc, amount, ref)
}

// debit 扣款；餘額不足時不改變任何狀態並回傳 false。呼叫端必須持有寫鎖且 amount > 0。
func (a *Account) debit(amount decimal.Decimal, desc, ref string) bool {
	if a.balance.LessThan(amount) {
		return false
	}
	a.balance = a.balance.Sub(amount)
	a.appendTx(desc, amount.Neg(), ref)
	return true
}

// Deposit 存款：金額需 > 0，否則回傳 ErrInvalidAmount 且不改變狀態。
func (a *Account) Deposit(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.credit(amount, descDeposit, "")
	return nil
}

// Withdraw 提款：金額需 > 0；餘額不足回傳 (false, nil)，狀態不變。
func (a *Account) Withdraw(amount decimal.Decimal) (bool, error) {
	if !amount.IsPositive() {
		return false, ErrInvalidAmount
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.debit(amount, descWithdrawal, ""), nil
}

// replaceCredential 在同一個臨界區內驗證舊密碼並替換摘要，避免兩次修改交錯。
func (a *Account) replaceCredential(oldSecret string, d credential.Digest) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !credential.Verify(oldSecret, a.digest) {
		return false
	}
	a.digest = d
	return true
}

// VerifyCredential 檢查 secret 是否為目前的密碼。
func (a *Account) VerifyCredential(secret string) bool {
	a.mu.RLock()
	d := a.digest
	a.mu.RUnlock()
	return credential.Verify(secret, d)
}

// UpdateProfile 只替換非空欄位；回傳是否有任何欄位改變。不寫入交易紀錄。
func (a *Account) UpdateProfile(p Profile) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	before := a.profile
	if p.Name != "" {
		a.profile.Name = p.Name
	}
	if p.Address != "" {
		a.profile.Address = p.Address
	}
	if p.Phone != "" {
		a.profile.Phone = p.Phone
	}
	return a.profile != before
}

// Snapshot 回傳帳戶目前狀態的值拷貝。
func (a *Account) Snapshot() Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.snapshotLocked()
}

func (a *Account) snapshotLocked() Snapshot {
	return Snapshot{
		ID:      a.id,
		Name:    a.profile.Name,
		Address: a.profile.Address,
		Phone:   a.profile.Phone,
		Balance: a.balance,
	}
}

// History 回傳交易紀錄的拷貝，依時間先後排列。
func (a *Account) History() []Transaction {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]Transaction, len(a.history))
	copy(out, a.history)
	return out
}

// persistLocked 轉為儲存層格式；呼叫端必須持有讀鎖。
func (a *Account) persistLocked() storage.PersistAccount {
	pa := storage.PersistAccount{
		ID:      a.id,
		Name:    a.profile.Name,
		Address: a.profile.Address,
		Phone:   a.profile.Phone,
		Balance: a.balance,
		Digest:  string(a.digest),
		History: make([]storage.PersistTransaction, len(a.history)),
	}
	for i, t := range a.history {
		pa.History[i] = storage.PersistTransaction(t)
	}
	return pa
}

// accountFromPersist 由已通過 storage.Snapshot.Validate 的資料重建帳戶。
func accountFromPersist(pa storage.PersistAccount, now func() time.Time) *Account {
	a := &Account{
		id:      pa.ID,
		profile: Profile{Name: pa.Name, Address: pa.Address, Phone: pa.Phone},
		balance: pa.Balance,
		digest:  credential.Digest(pa.Digest),
		history: make([]Transaction, len(pa.History)),
		now:     now,
	}
	for i, pt := range pa.History {
		a.history[i] = Transaction(pt)
	}
	return a
}
