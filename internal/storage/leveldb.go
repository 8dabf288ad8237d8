// internal/storage/leveldb.go
//
// LevelDB 後端：每個帳戶一個 key（acct/<id>），外加一筆 meta。
// Save 以單一 write batch（Sync: true）整份取代所有帳戶，LevelDB 保證 batch 原子套用，
// 因此中途當機只會看到舊快照或新快照，不會出現半套資料。
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	lverrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

const (
	levelDBStorageName = "leveldb_snapshot"
	accountKeyPrefix   = "acct/"
	metaKey            = "meta"
	corruptKeyPrefix   = "corrupt-"
)

// LevelDBStore 將快照保存於 LevelDB。
type LevelDBStore struct {
	db  *leveldb.DB
	mu  sync.Mutex
	now func() time.Time
}

// OpenLevelDBStore 開啟（或建立）dir 下的 LevelDB；若資料庫檔案損毀則嘗試復原。
func OpenLevelDBStore(dir string) (*LevelDBStore, error) {
	db, err := leveldb.OpenFile(dir, nil)
	if lverrors.IsCorrupted(err) {
		db, err = leveldb.RecoverFile(dir, nil)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "open leveldb %s", dir)
	}
	return NewLevelDBStore(db), nil
}

// NewLevelDBStore 包裝一個已開啟的 LevelDB（測試時可傳入記憶體版）。
func NewLevelDBStore(db *leveldb.DB) *LevelDBStore {
	return &LevelDBStore{db: db, now: time.Now}
}

// Name 回傳後端名稱。
func (s *LevelDBStore) Name() string { return "leveldb" }

// Close 關閉底層資料庫。
func (s *LevelDBStore) Close() error { return s.db.Close() }

// Save 以單一 batch 寫入所有帳戶，並刪除快照中已不存在的舊 key。
func (s *LevelDBStore) Save(ctx context.Context, snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}

	snap.Meta.Storage = levelDBStorageName
	snap.Meta.Version = SchemaVersion
	snap.Meta.Timestamp = s.now().UTC()

	batch := new(leveldb.Batch)
	keep := make(map[string]struct{}, len(snap.Accounts))
	for _, a := range snap.Accounts {
		v, err := json.Marshal(a)
		if err != nil {
			return errors.Wrapf(err, "encode account %s", a.ID)
		}
		k := accountKeyPrefix + a.ID
		keep[k] = struct{}{}
		batch.Put([]byte(k), v)
	}

	iter := s.db.NewIterator(util.BytesPrefix([]byte(accountKeyPrefix)), nil)
	for iter.Next() {
		if _, ok := keep[string(iter.Key())]; !ok {
			batch.Delete(append([]byte(nil), iter.Key()...))
		}
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return errors.Wrap(err, "scan accounts")
	}

	meta, err := json.Marshal(snap.Meta)
	if err != nil {
		return errors.Wrap(err, "encode meta")
	}
	batch.Put([]byte(metaKey), meta)

	if err := s.db.Write(batch, &opt.WriteOptions{Sync: true}); err != nil {
		return errors.Wrap(err, "write batch")
	}
	return nil
}

// Load 讀回所有帳戶。
// 任何一筆無法解析、結構版本過新或帳目無法重播，即視為損毀：
// 所有現存 key 先整批移到 corrupt-<unix>/ 之下保留證據，再回傳空快照與 ErrCorrupt，
// 之後的 Save 只清理 acct/ 之下的 key，不會刪到被隔離的資料。
func (s *LevelDBStore) Load(ctx context.Context) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}

	snap, err := s.read()
	if err == nil {
		if verr := snap.Validate(); verr != nil {
			err = errors.Wrapf(ErrCorrupt, "validate: %v", verr)
		}
	}
	if err == nil {
		return snap, nil
	}
	if !errors.Is(err, ErrCorrupt) {
		return Snapshot{}, err
	}

	prefix, qerr := s.quarantineLocked()
	if qerr != nil {
		return Snapshot{}, errors.Wrapf(err, "quarantine failed: %v", qerr)
	}
	return Snapshot{}, errors.Wrapf(err, "moved under %s", prefix)
}

// read 解碼 meta 與所有帳戶；無法解析的資料以 ErrCorrupt 回報。
func (s *LevelDBStore) read() (Snapshot, error) {
	var snap Snapshot
	raw, err := s.db.Get([]byte(metaKey), nil)
	switch {
	case err == leveldb.ErrNotFound:
		return Snapshot{}, nil
	case lverrors.IsCorrupted(err):
		return Snapshot{}, errors.Wrapf(ErrCorrupt, "read meta: %v", err)
	case err != nil:
		return Snapshot{}, errors.Wrap(err, "read meta")
	}
	if err := json.Unmarshal(raw, &snap.Meta); err != nil {
		return Snapshot{}, errors.Wrapf(ErrCorrupt, "decode meta: %v", err)
	}

	iter := s.db.NewIterator(util.BytesPrefix([]byte(accountKeyPrefix)), nil)
	defer iter.Release()
	for iter.Next() {
		var a PersistAccount
		if err := json.Unmarshal(iter.Value(), &a); err != nil {
			return Snapshot{}, errors.Wrapf(ErrCorrupt, "decode %s: %v", iter.Key(), err)
		}
		snap.Accounts = append(snap.Accounts, a)
	}
	if err := iter.Error(); err != nil {
		if lverrors.IsCorrupted(err) {
			return Snapshot{}, errors.Wrapf(ErrCorrupt, "scan accounts: %v", err)
		}
		return Snapshot{}, errors.Wrap(err, "scan accounts")
	}
	return snap, nil
}

// quarantineLocked 以單一 batch 把 acct/ 與 meta 移到 corrupt-<unix>/ 之下；呼叫端必須持有 mu。
func (s *LevelDBStore) quarantineLocked() (string, error) {
	prefix := fmt.Sprintf("%s%d/", corruptKeyPrefix, s.now().Unix())
	batch := new(leveldb.Batch)

	iter := s.db.NewIterator(nil, nil)
	for iter.Next() {
		k := iter.Key()
		if bytes.HasPrefix(k, []byte(corruptKeyPrefix)) {
			continue
		}
		batch.Put(append([]byte(prefix), k...), iter.Value())
		batch.Delete(k)
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return "", errors.Wrap(err, "scan for quarantine")
	}
	if err := s.db.Write(batch, &opt.WriteOptions{Sync: true}); err != nil {
		return "", errors.Wrap(err, "write quarantine batch")
	}
	return prefix, nil
}
