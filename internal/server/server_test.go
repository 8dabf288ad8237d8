// internal/server/server_test.go
//
// 本檔為 server 層的整合測試 (Integration Test)。
// 模擬完整 HTTP 請求流程，驗證 REST API 與 Ledger 之間的整合、狀態正確性與錯誤代碼映射。
//
// 測試重點：
//  1. API 行為（開戶 / 驗證 / 存提款 / 轉帳 / 紀錄 / 密碼 / 個人資料）。
//  2. 錯誤狀況皆有正確 HTTP 狀態碼（400, 401, 404, 405, 409）。
//  3. 保存失敗時變更仍生效，並以 X-Ledger-Durable 標記。
//  4. 使用 httptest.Server 完成端對端模擬，不依賴外部服務。
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"ledger/internal/bank"
	promcollector "ledger/internal/metrics/prometheus"
	"ledger/internal/storage"
)

// doJSON 為測試輔助函式：
// 封裝 HTTP JSON 請求邏輯並自動驗證回傳狀態碼。
// 若 out 非 nil，則自動解析 JSON 回應。回傳 response header 供進一步檢查。
func doJSON(t *testing.T, c *http.Client, method, url string, body any, wantCode int, out any) http.Header {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req, _ := http.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.Do(req)
	if err != nil {
		t.Fatalf("request error: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantCode {
		b, _ := io.ReadAll(resp.Body)
		t.Fatalf("%s %s code=%d want=%d body=%s", method, url, resp.StatusCode, wantCode, b)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return resp.Header
}

func newTestServer(t *testing.T, l *bank.Ledger) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(NewServer(l, nil, nil).Router())
	t.Cleanup(ts.Close)
	return ts
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// TestHTTPFlow
// ------------------------------------------------------------
// 驗證整個 HTTP API 流程：開戶、存款、提款、轉帳、查詢與紀錄。
// ------------------------------------------------------------
func TestHTTPFlow(t *testing.T) {
	ts := newTestServer(t, bank.New(nil))
	cli := ts.Client()

	// 1️⃣ 建立兩個帳戶（金額可為字串或數字）
	var a1, a2 bank.Snapshot
	doJSON(t, cli, "POST", ts.URL+"/accounts", map[string]any{"name": "A", "balance": "1000.50", "secret": "pw1"}, 201, &a1)
	doJSON(t, cli, "POST", ts.URL+"/api/v1/accounts", map[string]any{"name": "B", "balance": 500, "secret": "pw2"}, 201, &a2)
	if a1.ID == "" || !a1.Balance.Equal(dec("1000.50")) {
		t.Fatalf("a1=%+v", a1)
	}

	// 2️⃣ 存款與提款
	doJSON(t, cli, "POST", ts.URL+"/accounts/"+a1.ID+"/deposit", map[string]any{"amount": 200}, 200, &a1)
	doJSON(t, cli, "POST", ts.URL+"/accounts/"+a2.ID+"/withdraw", map[string]any{"amount": "100"}, 200, &a2)
	if !a1.Balance.Equal(dec("1200.50")) || !a2.Balance.Equal(dec("400")) {
		t.Fatalf("after deposit/withdraw a1=%s a2=%s", a1.Balance, a2.Balance)
	}

	// 3️⃣ 轉帳（含雙方最新餘額回傳）
	var tr struct {
		Message string        `json:"message"`
		From    bank.Snapshot `json:"from"`
		To      bank.Snapshot `json:"to"`
	}
	doJSON(t, cli, "POST", ts.URL+"/api/v1/transfer", map[string]any{"from": a1.ID, "to": a2.ID, "amount": 300}, 200, &tr)
	if !tr.From.Balance.Equal(dec("900.50")) || !tr.To.Balance.Equal(dec("700")) {
		t.Fatalf("transfer result=%+v", tr)
	}

	// 4️⃣ 錯誤情境
	doJSON(t, cli, "POST", ts.URL+"/transfer", map[string]any{"from": a1.ID, "to": a2.ID, "amount": 999999}, 409, nil)
	doJSON(t, cli, "POST", ts.URL+"/transfer", map[string]any{"from": a1.ID, "to": a1.ID, "amount": 1}, 400, nil)
	doJSON(t, cli, "POST", ts.URL+"/accounts/"+a1.ID+"/withdraw", map[string]any{"amount": 999999}, 409, nil)
	doJSON(t, cli, "POST", ts.URL+"/accounts/"+a1.ID+"/deposit", map[string]any{"amount": 0}, 400, nil)
	doJSON(t, cli, "POST", ts.URL+"/accounts/nope/deposit", map[string]any{"amount": 1}, 404, nil)
	doJSON(t, cli, "POST", ts.URL+"/accounts", map[string]any{"name": "C", "balance": -1, "secret": "x"}, 400, nil)
	doJSON(t, cli, "DELETE", ts.URL+"/accounts/"+a1.ID, nil, 405, nil)

	// 壞 JSON
	resp, err := cli.Post(ts.URL+"/accounts", "application/json", strings.NewReader("{bad"))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != 400 {
		t.Fatalf("bad json code=%d", resp.StatusCode)
	}

	// 5️⃣ 查詢與紀錄
	var got bank.Snapshot
	doJSON(t, cli, "GET", ts.URL+"/accounts/"+a1.ID, nil, 200, &got)
	if !got.Balance.Equal(dec("900.50")) {
		t.Fatalf("get balance=%s", got.Balance)
	}
	var list []bank.Snapshot
	doJSON(t, cli, "GET", ts.URL+"/accounts", nil, 200, &list)
	if len(list) != 2 {
		t.Fatalf("list len=%d", len(list))
	}
	var hist []bank.Transaction
	doJSON(t, cli, "GET", ts.URL+"/accounts/"+a1.ID+"/history", nil, 200, &hist)
	if len(hist) != 3 || hist[2].Description != "Transfer to "+a2.ID {
		t.Fatalf("history=%+v", hist)
	}
	doJSON(t, cli, "GET", ts.URL+"/accounts/nope/history", nil, 404, nil)

	// HEAD 只回報存在與否
	doJSON(t, cli, "HEAD", ts.URL+"/accounts/"+a1.ID, nil, 200, nil)
	doJSON(t, cli, "HEAD", ts.URL+"/accounts/nope", nil, 404, nil)
}

// TestHTTPCredentialAndProfile 驗證密碼驗證、更換密碼與個人資料更新。
func TestHTTPCredentialAndProfile(t *testing.T) {
	ts := newTestServer(t, bank.New(nil))
	cli := ts.Client()

	var a bank.Snapshot
	doJSON(t, cli, "POST", ts.URL+"/accounts", map[string]any{"name": "A", "phone": "111", "balance": 1, "secret": "old"}, 201, &a)

	doJSON(t, cli, "POST", ts.URL+"/accounts/"+a.ID+"/auth", map[string]any{"secret": "old"}, 200, nil)
	doJSON(t, cli, "POST", ts.URL+"/accounts/"+a.ID+"/auth", map[string]any{"secret": "bad"}, 401, nil)
	doJSON(t, cli, "POST", ts.URL+"/accounts/99999999/auth", map[string]any{"secret": "old"}, 401, nil)

	doJSON(t, cli, "PUT", ts.URL+"/accounts/"+a.ID+"/credential", map[string]any{"old": "bad", "new": "n"}, 401, nil)
	doJSON(t, cli, "PUT", ts.URL+"/accounts/"+a.ID+"/credential", map[string]any{"old": "old", "new": ""}, 400, nil)
	doJSON(t, cli, "PUT", ts.URL+"/accounts/"+a.ID+"/credential", map[string]any{"old": "old", "new": "n"}, 204, nil)
	doJSON(t, cli, "POST", ts.URL+"/accounts/"+a.ID+"/auth", map[string]any{"secret": "old"}, 401, nil)
	doJSON(t, cli, "POST", ts.URL+"/accounts/"+a.ID+"/auth", map[string]any{"secret": "n"}, 200, nil)

	var p bank.Snapshot
	doJSON(t, cli, "PATCH", ts.URL+"/accounts/"+a.ID+"/profile", map[string]any{"address": "Main St"}, 200, &p)
	if p.Name != "A" || p.Phone != "111" || p.Address != "Main St" {
		t.Fatalf("profile=%+v", p)
	}
	doJSON(t, cli, "PATCH", ts.URL+"/accounts/nope/profile", map[string]any{"name": "x"}, 404, nil)
}

// failingStore 永遠保存失敗。
type failingStore struct{}

func (failingStore) Name() string { return "failing" }
func (failingStore) Close() error { return nil }
func (failingStore) Save(context.Context, storage.Snapshot) error {
	return errors.New("disk full")
}
func (failingStore) Load(context.Context) (storage.Snapshot, error) {
	return storage.Snapshot{}, nil
}

// TestHTTPPersistenceFailure 保存失敗時變更仍生效（2xx），並標記為未落地；/health 顯示 degraded。
func TestHTTPPersistenceFailure(t *testing.T) {
	ts := newTestServer(t, bank.New(failingStore{}))
	cli := ts.Client()

	var a bank.Snapshot
	h := doJSON(t, cli, "POST", ts.URL+"/accounts", map[string]any{"name": "A", "balance": 10, "secret": "pw"}, 201, &a)
	if h.Get(HeaderDurable) != "false" {
		t.Fatalf("%s=%q want false", HeaderDurable, h.Get(HeaderDurable))
	}
	doJSON(t, cli, "POST", ts.URL+"/accounts/"+a.ID+"/deposit", map[string]any{"amount": 5}, 200, &a)
	if !a.Balance.Equal(dec("15")) {
		t.Fatalf("balance=%s want 15", a.Balance)
	}

	var health map[string]any
	doJSON(t, cli, "GET", ts.URL+"/health", nil, 200, &health)
	if health["status"] != "degraded" || !strings.Contains(health["persist_error"].(string), "disk full") {
		t.Fatalf("health=%v", health)
	}
}

// TestHealthAndRequestID 驗證健康檢查與 request id。
func TestHealthAndRequestID(t *testing.T) {
	ts := newTestServer(t, bank.New(nil))
	cli := ts.Client()

	var health map[string]any
	h := doJSON(t, cli, "GET", ts.URL+"/api/v1/health", nil, 200, &health)
	if health["status"] != "ok" {
		t.Fatalf("health=%v", health)
	}
	if h.Get(HeaderRequestID) == "" {
		t.Fatal("request id header missing")
	}

	req, _ := http.NewRequest("GET", ts.URL+"/health", nil)
	req.Header.Set(HeaderRequestID, "abc-123")
	resp, err := cli.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if got := resp.Header.Get(HeaderRequestID); got != "abc-123" {
		t.Fatalf("request id=%q want abc-123", got)
	}
}

// TestMetricsEndpoint 驗證 /metrics 輸出帳本操作計數。
func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := promcollector.NewCollector("ledger")
	if err := c.Register(reg); err != nil {
		t.Fatal(err)
	}
	l := bank.New(nil, bank.WithMetrics(c))
	ts := httptest.NewServer(NewServer(l, nil, promhttp.HandlerFor(reg, promhttp.HandlerOpts{})).Router())
	defer ts.Close()

	doJSON(t, ts.Client(), "POST", ts.URL+"/accounts", map[string]any{"name": "A", "balance": 1, "secret": "pw"}, 201, nil)

	resp, err := ts.Client().Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `ledger_operations_total{op="open_account",outcome="ok"} 1`) {
		t.Fatalf("metrics output missing open_account counter:\n%s", body)
	}
	if !strings.Contains(string(body), "ledger_accounts 1") {
		t.Fatalf("metrics output missing accounts gauge:\n%s", body)
	}
}
