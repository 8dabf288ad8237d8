// internal/server/router.go
//
// 本檔負責 HTTP 路由註冊與中介層（request id、存取日誌）。
// 與 handler.go 分離：handler.go 定義「如何處理請求」，router.go 定義「請求如何被導向」。
package server

import (
	"net/http"

	"github.com/gorilla/mux"
)

// Router 建立並回傳整個 HTTP 處理鏈。
// 所有端點同時掛在 /api/v1 與根路徑下。
func (s *Server) Router() http.Handler {
	root := mux.NewRouter()
	root.Use(requestID, s.accessLog)

	s.routes(root.PathPrefix("/api/v1").Subrouter())
	s.routes(root)

	if s.metrics != nil {
		root.Handle("/metrics", s.metrics).Methods(http.MethodGet)
	}
	return root
}

func (s *Server) routes(r *mux.Router) {
	// 健康檢查：可供監控或容器存活檢查使用。
	r.HandleFunc("/health", s.health).Methods(http.MethodGet)

	r.HandleFunc("/accounts", s.createAccount).Methods(http.MethodPost)
	r.HandleFunc("/accounts", s.listAccounts).Methods(http.MethodGet)
	r.HandleFunc("/accounts/{id}", s.getAccount).Methods(http.MethodGet)
	r.HandleFunc("/accounts/{id}", s.headAccount).Methods(http.MethodHead)
	r.HandleFunc("/accounts/{id}/auth", s.authenticate).Methods(http.MethodPost)
	r.HandleFunc("/accounts/{id}/deposit", s.deposit).Methods(http.MethodPost)
	r.HandleFunc("/accounts/{id}/withdraw", s.withdraw).Methods(http.MethodPost)
	r.HandleFunc("/accounts/{id}/credential", s.changeCredential).Methods(http.MethodPut)
	r.HandleFunc("/accounts/{id}/profile", s.updateProfile).Methods(http.MethodPatch)
	r.HandleFunc("/accounts/{id}/history", s.history).Methods(http.MethodGet)

	r.HandleFunc("/transfer", s.transfer).Methods(http.MethodPost)
}
