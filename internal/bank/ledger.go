// internal/bank/ledger.go

// Ledger 為聚合根 (Aggregate Root)：管理全系統帳戶，並協調跨帳戶的轉帳。
// 鎖的設計：
//   - mu：只保護帳戶索引表（新增與查詢），不序列化帳戶之間的操作。
//   - Account.mu：每個帳戶自己的讀寫鎖，單帳戶操作只鎖自己。
//   - 轉帳與快照匯出一律依帳號字典序取鎖，因此不會形成等待環。
//
// 每次成功變更後觸發整份快照保存；保存失敗不回滾記憶體狀態，而是回傳 ErrPersistence。
package bank

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"ledger/internal/credential"
	"ledger/internal/logging"
	"ledger/internal/metrics"
	"ledger/internal/storage"
)

// maxIDAttempts 為帳號碰撞時的重試上限。
const maxIDAttempts = 1000

// unknownDigest 用於帳號不存在時仍執行一次雜湊比對，讓兩種失敗的耗時接近。
var unknownDigest, _ = credential.Hash("\x00unknown-account")

// Ledger 管理所有帳戶與持久化。
type Ledger struct {
	mu       sync.RWMutex
	accounts map[string]*Account

	store   storage.Store
	logger  *logging.Logger
	metrics metrics.Collector
	newID   func() string
	newRef  func() string
	now     func() time.Time

	// version 在每次變更套用後遞增；saveMu 序列化所有保存，
	// savedVersion 為最近一次成功保存涵蓋到的版本。
	version      atomic.Uint64
	saveMu       sync.Mutex
	savedVersion uint64

	persistMu  sync.Mutex
	persistErr error
	persistAt  time.Time
}

// Option 設定 Ledger 的可選元件。
type Option func(*Ledger)

// WithLogger 設定日誌。
func WithLogger(l *logging.Logger) Option {
	return func(lg *Ledger) { lg.logger = l.Named("ledger") }
}

// WithMetrics 設定指標收集器。
func WithMetrics(c metrics.Collector) Option {
	return func(lg *Ledger) { lg.metrics = c }
}

// WithIDGenerator 替換帳號產生器（測試碰撞時使用）。
func WithIDGenerator(fn func() string) Option {
	return func(lg *Ledger) { lg.newID = fn }
}

// WithClock 替換時間來源。
func WithClock(fn func() time.Time) Option {
	return func(lg *Ledger) { lg.now = fn }
}

// New 建立空白帳本；store 為 nil 時只保存在記憶體。
func New(store storage.Store, opts ...Option) *Ledger {
	l := &Ledger{
		accounts: make(map[string]*Account),
		store:    store,
		logger:   logging.NewNoOpLogger(),
		metrics:  metrics.NoOpCollector{},
		newID:    randomID,
		newRef:   uuid.NewString,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Open 建立帳本並從 store 載入上次的快照。
//   - 無資料：空帳本。
//   - 資料損毀或帳目無法重播：以空帳本啟動，並以 ERROR 等級大聲記錄。
//     各後端在回報 storage.ErrCorrupt 前已把損毀資料移到一旁，之後的保存不會覆蓋它。
//   - 其他讀取錯誤（後端無法連線、權限不足）：回傳錯誤，此時資料可能完好，不能以空帳本覆蓋。
func Open(ctx context.Context, store storage.Store, opts ...Option) (*Ledger, error) {
	l := New(store, opts...)
	if store == nil {
		return l, nil
	}
	snap, err := store.Load(ctx)
	if err != nil && !errors.Is(err, storage.ErrCorrupt) {
		return nil, errors.Wrap(err, "load ledger")
	}
	if err == nil {
		err = l.Restore(snap)
	}
	if err != nil {
		l.logger.Error("persisted ledger is corrupt, STARTING WITH AN EMPTY LEDGER",
			zap.String("backend", store.Name()),
			zap.Error(err),
		)
		return l, nil
	}
	l.logger.Info("ledger loaded",
		zap.String("backend", store.Name()),
		zap.Int("accounts", len(snap.Accounts)),
	)
	return l, nil
}

// randomID 產生 8 位數字帳號。
func randomID() string {
	return fmt.Sprintf("%08d", rand.IntN(100_000_000))
}

// lookup 依帳號取得帳戶指標；只在臨界區內讀取索引表。
func (l *Ledger) lookup(id string) (*Account, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	a, ok := l.accounts[id]
	return a, ok
}

func (l *Ledger) get(id string) (*Account, error) {
	a, ok := l.lookup(id)
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "account %s", id)
	}
	return a, nil
}

// OpenAccount 開戶：初始餘額不得為負、姓名與密碼不得為空。
// 帳號隨機產生，若已被使用則重抽，絕不覆蓋既有帳戶。
// 回傳的錯誤若為 ErrPersistence，帳戶已建立於記憶體中，id 仍有效。
func (l *Ledger) OpenAccount(ctx context.Context, p Profile, initial decimal.Decimal, secret string) (string, error) {
	start := time.Now()
	id, err := l.openAccount(ctx, p, initial, secret)
	l.observe("open_account", start, outcomeOf(err))
	return id, err
}

func (l *Ledger) openAccount(ctx context.Context, p Profile, initial decimal.Decimal, secret string) (string, error) {
	if initial.IsNegative() {
		return "", errors.Wrap(ErrInvalidAmount, "initial balance")
	}
	if strings.TrimSpace(p.Name) == "" {
		return "", errors.Wrap(ErrMissingField, "name")
	}
	if secret == "" {
		return "", errors.Wrap(ErrMissingField, "secret")
	}
	digest, err := credential.Hash(secret)
	if err != nil {
		return "", err
	}

	l.mu.Lock()
	id, err := l.allocateIDLocked()
	if err != nil {
		l.mu.Unlock()
		return "", err
	}
	a, err := newAccount(id, p, initial, digest, l.now)
	if err != nil {
		l.mu.Unlock()
		return "", err
	}
	l.accounts[id] = a
	n := len(l.accounts)
	l.mu.Unlock()

	l.version.Add(1)
	l.metrics.SetAccounts(n)
	l.logger.Info("account opened", zap.String("id", id))
	return id, l.persist(ctx)
}

// allocateIDLocked 產生未被使用的帳號；呼叫端必須持有 mu 寫鎖。
func (l *Ledger) allocateIDLocked() (string, error) {
	for i := 0; i < maxIDAttempts; i++ {
		id := l.newID()
		if _, taken := l.accounts[id]; !taken {
			return id, nil
		}
		l.logger.Debug("account id collision, retrying", zap.Int("attempt", i+1))
	}
	return "", ErrIDSpaceExhausted
}

// Authenticate 驗證帳號與密碼；帳號不存在與密碼錯誤一律回傳 ErrAuthFailed。
func (l *Ledger) Authenticate(id, secret string) (*Handle, error) {
	start := time.Now()
	a, ok := l.lookup(id)
	if !ok {
		credential.Verify(secret, unknownDigest)
		l.observe("authenticate", start, metrics.OutcomeAuthFailed)
		return nil, ErrAuthFailed
	}
	if !a.VerifyCredential(secret) {
		l.observe("authenticate", start, metrics.OutcomeAuthFailed)
		return nil, ErrAuthFailed
	}
	l.observe("authenticate", start, metrics.OutcomeOK)
	return &Handle{ledger: l, id: id}, nil
}

// Deposit 存款：金額需 > 0；帳戶不存在回傳 ErrNotFound。
func (l *Ledger) Deposit(ctx context.Context, id string, amount decimal.Decimal) error {
	start := time.Now()
	err := l.deposit(ctx, id, amount)
	l.observe("deposit", start, outcomeOf(err))
	return err
}

func (l *Ledger) deposit(ctx context.Context, id string, amount decimal.Decimal) error {
	a, err := l.get(id)
	if err != nil {
		return err
	}
	if err := a.Deposit(amount); err != nil {
		return err
	}
	l.version.Add(1)
	return l.persist(ctx)
}

// Withdraw 提款：金額需 > 0；餘額不足回傳 (false, nil) 且不留下任何紀錄。
func (l *Ledger) Withdraw(ctx context.Context, id string, amount decimal.Decimal) (bool, error) {
	start := time.Now()
	ok, err := l.withdraw(ctx, id, amount)
	l.observe("withdraw", start, outcomeOfBool(ok, err))
	return ok, err
}

func (l *Ledger) withdraw(ctx context.Context, id string, amount decimal.Decimal) (bool, error) {
	a, err := l.get(id)
	if err != nil {
		return false, err
	}
	ok, err := a.Withdraw(amount)
	if err != nil || !ok {
		return false, err
	}
	l.version.Add(1)
	return true, l.persist(ctx)
}

// Transfer 轉帳為全有或全無的操作：
// 1) 檢核參數與帳戶存在性 → 2) 依帳號順序鎖定雙方 → 3) 扣款 → 4) 入帳 → 5) 保存。
// 扣款失敗（餘額不足）時雙方皆無任何變更與紀錄。
// 入帳在持有雙方鎖時於記憶體內完成，不會失敗，因此不存在「只扣不入」的中間狀態。
func (l *Ledger) Transfer(ctx context.Context, fromID, toID string, amount decimal.Decimal) (bool, error) {
	start := time.Now()
	ok, err := l.transfer(ctx, fromID, toID, amount)
	l.observe("transfer", start, outcomeOfBool(ok, err))
	return ok, err
}

func (l *Ledger) transfer(ctx context.Context, fromID, toID string, amount decimal.Decimal) (bool, error) {
	if !amount.IsPositive() {
		return false, ErrInvalidAmount
	}
	if fromID == toID {
		return false, ErrSameAccount
	}
	from, err := l.get(fromID)
	if err != nil {
		return false, err
	}
	to, err := l.get(toID)
	if err != nil {
		return false, err
	}

	ref := l.newRef()
	if !l.applyTransfer(from, to, amount, ref) {
		l.logger.Debug("transfer rejected: insufficient funds",
			zap.String("from", fromID),
			zap.String("to", toID),
		)
		return false, nil
	}
	l.version.Add(1)
	l.logger.Debug("transfer committed",
		zap.String("from", fromID),
		zap.String("to", toID),
		zap.String("reference", ref),
	)
	return true, l.persist(ctx)
}

// applyTransfer 依帳號字典序取得雙方寫鎖後扣款、入帳；兩筆紀錄共用同一個 reference。
func (l *Ledger) applyTransfer(from, to *Account, amount decimal.Decimal, ref string) bool {
	first, second := from, to
	if to.id < from.id {
		first, second = to, from
	}
	first.mu.Lock()
	defer first.mu.Unlock()
	second.mu.Lock()
	defer second.mu.Unlock()

	if !from.debit(amount, descTransferTo+to.id, ref) {
		return false
	}
	to.credit(amount, descTransferFrom+from.id, ref)
	return true
}

// ChangeCredential 以舊密碼驗證後更換密碼。
// 帳號不存在或舊密碼錯誤皆回傳 (false, nil)，舊密碼維持有效。
func (l *Ledger) ChangeCredential(ctx context.Context, id, oldSecret, newSecret string) (bool, error) {
	start := time.Now()
	ok, err := l.changeCredential(ctx, id, oldSecret, newSecret)
	outcome := outcomeOf(err)
	if err == nil && !ok {
		outcome = metrics.OutcomeAuthFailed
	}
	l.observe("change_credential", start, outcome)
	return ok, err
}

func (l *Ledger) changeCredential(ctx context.Context, id, oldSecret, newSecret string) (bool, error) {
	if newSecret == "" {
		return false, errors.Wrap(ErrMissingField, "new secret")
	}
	digest, err := credential.Hash(newSecret)
	if err != nil {
		return false, err
	}
	a, ok := l.lookup(id)
	if !ok {
		credential.Verify(oldSecret, unknownDigest)
		return false, nil
	}
	if !a.replaceCredential(oldSecret, digest) {
		return false, nil
	}
	l.version.Add(1)
	l.logger.Info("credential changed", zap.String("id", id))
	return true, l.persist(ctx)
}

// UpdateProfile 更新個人資料中非空的欄位；不寫入交易紀錄。
func (l *Ledger) UpdateProfile(ctx context.Context, id string, p Profile) error {
	start := time.Now()
	err := l.updateProfile(ctx, id, p)
	l.observe("update_profile", start, outcomeOf(err))
	return err
}

func (l *Ledger) updateProfile(ctx context.Context, id string, p Profile) error {
	a, err := l.get(id)
	if err != nil {
		return err
	}
	if !a.UpdateProfile(p) {
		return nil
	}
	l.version.Add(1)
	return l.persist(ctx)
}

// History 回傳指定帳戶的交易紀錄（值拷貝）。
func (l *Ledger) History(id string) ([]Transaction, error) {
	a, err := l.get(id)
	if err != nil {
		return nil, err
	}
	return a.History(), nil
}

// Snapshot 回傳指定帳戶的目前狀態。
func (l *Ledger) Snapshot(id string) (Snapshot, error) {
	a, err := l.get(id)
	if err != nil {
		return Snapshot{}, err
	}
	return a.Snapshot(), nil
}

// AccountExists 判斷帳號是否存在。
func (l *Ledger) AccountExists(id string) bool {
	_, ok := l.lookup(id)
	return ok
}

// List 回傳所有帳戶的快照，依帳號排序。
func (l *Ledger) List() []Snapshot {
	accts := l.sortedAccounts()
	out := make([]Snapshot, 0, len(accts))
	for _, a := range accts {
		out = append(out, a.Snapshot())
	}
	return out
}

func (l *Ledger) sortedAccounts() []*Account {
	l.mu.RLock()
	accts := make([]*Account, 0, len(l.accounts))
	for _, a := range l.accounts {
		accts = append(accts, a)
	}
	l.mu.RUnlock()
	sort.Slice(accts, func(i, j int) bool { return accts[i].id < accts[j].id })
	return accts
}

// Export 匯出整份帳本為 storage.Snapshot。
// 依帳號順序同時持有所有帳戶的讀鎖，得到跨帳戶一致的切面：
// 進行中的轉帳要嘛完全包含、要嘛完全不包含。
func (l *Ledger) Export() storage.Snapshot {
	accts := l.sortedAccounts()
	for _, a := range accts {
		a.mu.RLock()
	}
	defer func() {
		for _, a := range accts {
			a.mu.RUnlock()
		}
	}()

	s := storage.Snapshot{
		Meta:     storage.Meta{Version: storage.SchemaVersion},
		Accounts: make([]storage.PersistAccount, 0, len(accts)),
	}
	for _, a := range accts {
		s.Accounts = append(s.Accounts, a.persistLocked())
	}
	return s
}

// Restore 以快照取代目前的帳戶集合。
// 每個帳戶都會重播交易紀錄驗證帳目；任何一筆不一致則整份拒絕，原狀態不變。
func (l *Ledger) Restore(s storage.Snapshot) error {
	if err := s.Validate(); err != nil {
		return errors.Wrap(err, "restore")
	}
	accts := make(map[string]*Account, len(s.Accounts))
	for _, pa := range s.Accounts {
		accts[pa.ID] = accountFromPersist(pa, l.now)
	}
	l.mu.Lock()
	l.accounts = accts
	l.mu.Unlock()
	l.metrics.SetAccounts(len(accts))
	return nil
}

// Flush 無條件保存一次目前狀態（例如關機前）。
func (l *Ledger) Flush(ctx context.Context) error {
	l.version.Add(1)
	return l.persist(ctx)
}

// persist 保存整份快照。
// 保存之間以 saveMu 序列化；若已有較新的成功保存涵蓋本次變更，直接返回（合併保存）。
// 保存使用不會被取消的 context：呼叫端（例如已斷線的 HTTP 請求）取消不應讓已套用的變更漏存。
func (l *Ledger) persist(ctx context.Context) error {
	if l.store == nil {
		return nil
	}
	want := l.version.Load()

	l.saveMu.Lock()
	defer l.saveMu.Unlock()
	if l.savedVersion >= want {
		return nil
	}

	cur := l.version.Load()
	snap := l.Export()
	start := time.Now()
	err := l.store.Save(context.WithoutCancel(ctx), snap)
	l.metrics.RecordSave(l.store.Name(), err == nil, time.Since(start))
	l.setPersistErr(err)
	if err != nil {
		l.logger.Error("snapshot save failed, in-memory ledger is ahead of durable state",
			zap.String("backend", l.store.Name()),
			zap.Uint64("version", cur),
			zap.Error(err),
		)
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	l.savedVersion = cur
	return nil
}

func (l *Ledger) setPersistErr(err error) {
	l.persistMu.Lock()
	defer l.persistMu.Unlock()
	l.persistErr = err
	l.persistAt = l.now()
}

// LastSave 回傳最近一次保存的時間與錯誤（nil 代表成功），供健康檢查使用。
// 尚未保存過時時間為零值。
func (l *Ledger) LastSave() (time.Time, error) {
	l.persistMu.Lock()
	defer l.persistMu.Unlock()
	return l.persistAt, l.persistErr
}

func (l *Ledger) observe(op string, start time.Time, outcome string) {
	l.metrics.RecordOperation(op, outcome, time.Since(start))
}

// outcomeOf 將錯誤對應為指標上的結果標籤。
func outcomeOf(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeOK
	case IsValidation(err), errors.Is(err, ErrNotFound):
		return metrics.OutcomeRejected
	case errors.Is(err, ErrAuthFailed):
		return metrics.OutcomeAuthFailed
	default:
		return metrics.OutcomeError
	}
}

func outcomeOfBool(ok bool, err error) string {
	if err == nil && !ok {
		return metrics.OutcomeInsufficient
	}
	return outcomeOf(err)
}
