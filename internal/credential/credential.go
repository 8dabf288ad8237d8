// internal/credential/credential.go
//
// Package credential 提供帳戶密碼的單向雜湊與驗證。
// 只保存摘要 (digest)，永不保存或比對明文密碼。
// 摘要格式為 SHA-256 後的 base64 字串，與舊系統的資料檔相容。
package credential

import (
	"crypto"
	_ "crypto/sha256" // 註冊 crypto.SHA256
	"crypto/subtle"
	"encoding/base64"
	"errors"
)

// Digest 為密碼經單向雜湊後的結果。
type Digest string

// ErrUnavailable 代表雜湊演算法未連結進執行檔。
// 此時必須拒絕操作（fail closed），不得退回較弱的演算法或保存明文。
var ErrUnavailable = errors.New("credential: hash primitive unavailable")

// algorithm 可於測試中替換，以模擬演算法不可用的情境。
var algorithm = crypto.SHA256

// Hash 計算 secret 的摘要；相同輸入必定得到相同輸出。
func Hash(secret string) (Digest, error) {
	if !algorithm.Available() {
		return "", ErrUnavailable
	}
	h := algorithm.New()
	h.Write([]byte(secret))
	return Digest(base64.StdEncoding.EncodeToString(h.Sum(nil))), nil
}

// Verify 重新計算 secret 的摘要並與 d 做常數時間比對。
// 空摘要或演算法不可用時一律回傳 false。
func Verify(secret string, d Digest) bool {
	if d == "" {
		return false
	}
	got, err := Hash(secret)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(d)) == 1
}
