// internal/bank/errors.go
//
// 本檔集中定義「領域錯誤（domain errors）」。
// 這些錯誤屬於商業邏輯層級，會由上層 HTTP handler 轉換成適當的 HTTP 狀態碼。
// 餘額不足不是錯誤：Withdraw / Transfer 以 bool 回報，呼叫端不需走錯誤流程。

package bank

import "errors"

var (
	// ErrNotFound 代表帳戶不存在。
	// 對應 HTTP 狀態碼 404 Not Found。
	ErrNotFound = errors.New("account not found")

	// ErrInvalidAmount 代表金額非法（<=0，或初始餘額為負）。
	// 對應 HTTP 狀態碼 400 Bad Request。
	ErrInvalidAmount = errors.New("amount must be > 0")

	// ErrSameAccount 代表轉帳來源與目標帳戶相同。
	ErrSameAccount = errors.New("from and to are same")

	// ErrMissingField 代表必要欄位（姓名、密碼）為空。
	ErrMissingField = errors.New("required field is empty")

	// ErrAuthFailed 代表帳號不存在或密碼錯誤；兩者刻意不區分，避免帳號列舉。
	// 對應 HTTP 狀態碼 401 Unauthorized。
	ErrAuthFailed = errors.New("invalid account or credential")

	// ErrPersistence 代表記憶體中的變更已套用，但快照保存失敗。
	// 不會回滾；記憶體狀態領先磁碟，直到下一次保存成功。
	ErrPersistence = errors.New("ledger: snapshot save failed")

	// ErrIDSpaceExhausted 代表連續多次產生的帳號皆已被使用。
	ErrIDSpaceExhausted = errors.New("ledger: could not allocate account id")
)

// IsValidation 判斷 err 是否屬於輸入驗證錯誤（操作未產生任何效果）。
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrSameAccount) ||
		errors.Is(err, ErrMissingField)
}
