// internal/storage/jsonstore.go
//
// 提供 JSON 快照 (Snapshot) 的檔案後端，是帳本預設的持久化方式。
// 採「原子寫入」策略 (atomic write)：先寫入 .tmp 檔並 fsync，再以 rename() 取代原檔，
// 最後 fsync 目錄，確保 rename 本身也落地。
// 寫入中途當機時，原檔保持完整可讀；殘留的 .tmp 檔在下次保存時直接覆寫。
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
)

const jsonStorageName = "json_snapshot"

// FileStore 將快照保存為單一 JSON 檔案。
// mu 讓同一行程內的並發 Save 不會交錯寫入暫存檔。
type FileStore struct {
	path string
	mu   sync.Mutex
	now  func() time.Time

	// beforeRename 僅供測試模擬「寫完暫存檔、尚未取代正式檔」時中斷。
	beforeRename func() error
}

// NewFileStore 建立以 path 為正式檔的檔案後端。
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path, now: time.Now}
}

// Name 回傳後端名稱。
func (s *FileStore) Name() string { return "file" }

// Close 檔案後端無需釋放資源。
func (s *FileStore) Close() error { return nil }

// Load 讀取正式檔並解析成 Snapshot。
//   - 檔案不存在：首次啟動，回傳空快照與 nil。
//   - 格式錯誤、結構版本過新或帳目無法重播：將檔案改名為 <path>.corrupt-<unix> 保留證據，回傳空快照與 ErrCorrupt，
//     避免下一次保存直接覆蓋掉唯一的舊資料。
func (s *FileStore) Load(ctx context.Context) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Snapshot{}, nil
		}
		return Snapshot{}, errors.Wrapf(err, "open snapshot %s", s.path)
	}

	var snap Snapshot
	decErr := json.NewDecoder(f).Decode(&snap)
	f.Close()
	if decErr == nil {
		decErr = snap.Validate()
	}
	if decErr != nil {
		aside := fmt.Sprintf("%s.corrupt-%d", s.path, s.now().Unix())
		if err := os.Rename(s.path, aside); err != nil {
			return Snapshot{}, errors.Wrapf(ErrCorrupt, "decode %s: %v (quarantine failed: %v)", s.path, decErr, err)
		}
		return Snapshot{}, errors.Wrapf(ErrCorrupt, "decode %s: %v (moved to %s)", s.path, decErr, aside)
	}
	return snap, nil
}

// Save 將 Snapshot 序列化為 JSON，並以原子方式取代正式檔。
// 流程：
//  1. 設定 Meta 的儲存類型、版本與時間戳。
//  2. 寫入 path+".tmp" 並 fsync。
//  3. os.Rename() 取代正式檔，再 fsync 所在目錄。
//
// 任何一步失敗時，正式檔維持上一版內容。
func (s *FileStore) Save(ctx context.Context, snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}

	snap.Meta.Storage = jsonStorageName
	snap.Meta.Version = SchemaVersion
	snap.Meta.Timestamp = s.now().UTC()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "create data dir")
	}

	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return errors.Wrap(err, "create staging file")
	}
	committed := false
	defer func() {
		if !committed {
			os.Remove(tmp)
		}
	}()

	// 使用縮排格式輸出，方便人工檢視
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snap); err != nil {
		f.Close()
		return errors.Wrap(err, "encode snapshot")
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return errors.Wrap(err, "sync staging file")
	}
	if err := f.Close(); err != nil {
		return errors.Wrap(err, "close staging file")
	}

	if s.beforeRename != nil {
		if err := s.beforeRename(); err != nil {
			return err
		}
	}

	// 原子替換
	if err := os.Rename(tmp, s.path); err != nil {
		return errors.Wrap(err, "replace snapshot")
	}
	committed = true
	return syncDir(dir)
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return errors.Wrap(err, "open data dir")
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return errors.Wrap(err, "sync data dir")
	}
	return nil
}
