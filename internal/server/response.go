// internal/server/response.go
//
// 本檔負責統一 HTTP 回應格式。
//   - 成功回應使用標準 JSON 編碼（Content-Type: application/json）。
//   - 錯誤回應統一為 {"error": "..."}。
package server

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/pkg/errors"
)

// maxBodyBytes 為單一請求內容的上限。
const maxBodyBytes = 1 << 20

// writeJSON 統一輸出成功回應。
// - code：HTTP 狀態碼（例如 200, 201）
// - v：可被 JSON 序列化的物件（map、struct、slice 皆可）
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeErr 統一輸出錯誤回應。
func writeErr(w http.ResponseWriter, err error, code int) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

// decode 解析 JSON 請求內容；空內容視為錯誤。
func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return errors.Wrap(err, "invalid JSON body")
	}
	return nil
}
