// internal/server/handler.go
//
// Package server
// ─────────────────────────────────────────────
// 提供 HTTP RESTful 介面，作為 bank 模組的應用層 (Application Layer)。
// 每個 handler 僅負責：
//  1. 解析路徑參數與 JSON 請求
//  2. 呼叫 Ledger 執行商業邏輯（保存由 Ledger 自行觸發）
//  3. 將結果與錯誤對應為 HTTP 狀態碼
//
// 保存失敗（bank.ErrPersistence）時變更已生效，仍回傳成功狀態碼，
// 但加上 X-Ledger-Durable: false，讓呼叫端知道這筆變更尚未落地。
package server

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"ledger/internal/bank"
	"ledger/internal/logging"
)

// HeaderDurable 在變更已套用但保存失敗時設為 "false"。
const HeaderDurable = "X-Ledger-Durable"

var errInsufficientFunds = errors.New("insufficient funds")

// Server 為 HTTP 層核心結構：
//   - ledger：注入商業邏輯層（帳本核心）。
//   - metrics：/metrics 的 handler；nil 代表不開放。
type Server struct {
	ledger  *bank.Ledger
	logger  *logging.Logger
	metrics http.Handler
}

// NewServer 建立新的 HTTP 伺服器。logger 可為 nil。
func NewServer(l *bank.Ledger, logger *logging.Logger, metrics http.Handler) *Server {
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	return &Server{ledger: l, logger: logger.Named("http"), metrics: metrics}
}

type amountRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// createAccount 處理 POST /accounts → 201 + 帳戶快照。
func (s *Server) createAccount(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name    string          `json:"name"`
		Address string          `json:"address"`
		Phone   string          `json:"phone"`
		Balance decimal.Decimal `json:"balance"`
		Secret  string          `json:"secret"`
	}
	if err := decode(r, &req); err != nil {
		writeErr(w, err, http.StatusBadRequest)
		return
	}
	p := bank.Profile{Name: req.Name, Address: req.Address, Phone: req.Phone}
	id, err := s.ledger.OpenAccount(r.Context(), p, req.Balance, req.Secret)
	if !s.committed(w, r, err) {
		return
	}
	snap, err := s.ledger.Snapshot(id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, snap)
}

// listAccounts 處理 GET /accounts。
func (s *Server) listAccounts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ledger.List())
}

// getAccount 處理 GET /accounts/{id}。
func (s *Server) getAccount(w http.ResponseWriter, r *http.Request) {
	snap, err := s.ledger.Snapshot(mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// headAccount 處理 HEAD /accounts/{id}：只回報帳號是否存在。
func (s *Server) headAccount(w http.ResponseWriter, r *http.Request) {
	if !s.ledger.AccountExists(mux.Vars(r)["id"]) {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// authenticate 處理 POST /accounts/{id}/auth {secret}。
func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Secret string `json:"secret"`
	}
	if err := decode(r, &req); err != nil {
		writeErr(w, err, http.StatusBadRequest)
		return
	}
	h, err := s.ledger.Authenticate(mux.Vars(r)["id"], req.Secret)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	snap, err := h.Snapshot()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// deposit 處理 POST /accounts/{id}/deposit {amount}。
func (s *Server) deposit(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if err := decode(r, &req); err != nil {
		writeErr(w, err, http.StatusBadRequest)
		return
	}
	id := mux.Vars(r)["id"]
	if !s.committed(w, r, s.ledger.Deposit(r.Context(), id, req.Amount)) {
		return
	}
	s.writeSnapshot(w, r, id)
}

// withdraw 處理 POST /accounts/{id}/withdraw {amount}；餘額不足 → 409。
func (s *Server) withdraw(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if err := decode(r, &req); err != nil {
		writeErr(w, err, http.StatusBadRequest)
		return
	}
	id := mux.Vars(r)["id"]
	ok, err := s.ledger.Withdraw(r.Context(), id, req.Amount)
	if !s.committed(w, r, err) {
		return
	}
	if !ok {
		writeErr(w, errInsufficientFunds, http.StatusConflict)
		return
	}
	s.writeSnapshot(w, r, id)
}

// changeCredential 處理 PUT /accounts/{id}/credential {old,new}。
// 成功 → 204；舊密碼錯誤或帳號不存在 → 401。
func (s *Server) changeCredential(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Old string `json:"old"`
		New string `json:"new"`
	}
	if err := decode(r, &req); err != nil {
		writeErr(w, err, http.StatusBadRequest)
		return
	}
	ok, err := s.ledger.ChangeCredential(r.Context(), mux.Vars(r)["id"], req.Old, req.New)
	if !s.committed(w, r, err) {
		return
	}
	if !ok {
		writeErr(w, bank.ErrAuthFailed, http.StatusUnauthorized)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// updateProfile 處理 PATCH /accounts/{id}/profile；空字串欄位保持不變。
func (s *Server) updateProfile(w http.ResponseWriter, r *http.Request) {
	var req bank.Profile
	if err := decode(r, &req); err != nil {
		writeErr(w, err, http.StatusBadRequest)
		return
	}
	id := mux.Vars(r)["id"]
	if !s.committed(w, r, s.ledger.UpdateProfile(r.Context(), id, req)) {
		return
	}
	s.writeSnapshot(w, r, id)
}

// history 處理 GET /accounts/{id}/history。
func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	h, err := s.ledger.History(mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h)
}

// transfer 處理 POST /transfer {from,to,amount}。
// 成功後同時回傳兩帳戶最新狀態；餘額不足 → 409。
func (s *Server) transfer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		From   string          `json:"from"`
		To     string          `json:"to"`
		Amount decimal.Decimal `json:"amount"`
	}
	if err := decode(r, &req); err != nil {
		writeErr(w, err, http.StatusBadRequest)
		return
	}
	ok, err := s.ledger.Transfer(r.Context(), req.From, req.To, req.Amount)
	if !s.committed(w, r, err) {
		return
	}
	if !ok {
		writeErr(w, errInsufficientFunds, http.StatusConflict)
		return
	}

	fromAcc, _ := s.ledger.Snapshot(req.From)
	toAcc, _ := s.ledger.Snapshot(req.To)
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "transfer success",
		"from":    fromAcc,
		"to":      toAcc,
	})
}

// health 提供健康檢查端點：GET /health。
// 最近一次保存失敗時 status 為 "degraded"，仍回 200：
// 記憶體中的帳本是唯一的最新狀態，不應讓探針因此重啟程序。
func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	at, err := s.ledger.LastSave()
	body := map[string]any{"status": "ok"}
	if !at.IsZero() {
		body["last_save"] = at
	}
	if err != nil {
		body["status"] = "degraded"
		body["persist_error"] = err.Error()
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) writeSnapshot(w http.ResponseWriter, r *http.Request, id string) {
	snap, err := s.ledger.Snapshot(id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// committed 判斷變更是否已套用。
// err 為 nil 或 ErrPersistence 時回傳 true（後者會標記 X-Ledger-Durable: false）；
// 其他錯誤直接寫出錯誤回應並回傳 false。
func (s *Server) committed(w http.ResponseWriter, r *http.Request, err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, bank.ErrPersistence) {
		w.Header().Set(HeaderDurable, "false")
		return true
	}
	s.fail(w, r, err)
	return false
}

// fail 將領域錯誤對應為 HTTP 狀態碼。
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := statusOf(err)
	if code == http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("request_id", requestIDFrom(r.Context())),
			zap.Error(err),
		)
	}
	writeErr(w, err, code)
}

func statusOf(err error) int {
	switch {
	case bank.IsValidation(err):
		return http.StatusBadRequest
	case errors.Is(err, bank.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, bank.ErrAuthFailed):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
