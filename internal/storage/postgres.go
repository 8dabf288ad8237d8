// internal/storage/postgres.go
//
// Postgres 後端：整份快照存為 jsonb 的一列，以 ledger 名稱為主鍵。
// Save 為單一 upsert 陳述式，由資料庫交易保證原子取代；
// 失敗時前一版資料列維持不變。
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"

	_ "github.com/lib/pq"
)

const postgresStorageName = "postgres_snapshot"

const createSnapshotTable = `
CREATE TABLE IF NOT EXISTS ledger_snapshots (
	name     TEXT PRIMARY KEY,
	payload  JSONB NOT NULL,
	saved_at TIMESTAMPTZ NOT NULL
)`

const upsertSnapshot = `
INSERT INTO ledger_snapshots (name, payload, saved_at)
VALUES ($1, $2, $3)
ON CONFLICT (name) DO UPDATE SET payload = EXCLUDED.payload, saved_at = EXCLUDED.saved_at`

const selectSnapshot = `SELECT payload FROM ledger_snapshots WHERE name = $1`

const quarantineSnapshot = `UPDATE ledger_snapshots SET name = $2 WHERE name = $1`

// PostgresStore 將快照保存於 Postgres。
type PostgresStore struct {
	db   *sql.DB
	name string
	now  func() time.Time
}

// OpenPostgresStore 連線至 dsn、確認可用並建立資料表。
// name 區分同一資料庫中的多個帳本。
func OpenPostgresStore(ctx context.Context, dsn, name string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open postgres")
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "ping postgres")
	}
	if _, err := db.ExecContext(ctx, createSnapshotTable); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "create ledger_snapshots")
	}
	return &PostgresStore{db: db, name: name, now: time.Now}, nil
}

// Name 回傳後端名稱。
func (s *PostgresStore) Name() string { return "postgres" }

// Close 關閉連線池。
func (s *PostgresStore) Close() error { return s.db.Close() }

// Save 以 upsert 取代整份快照。
func (s *PostgresStore) Save(ctx context.Context, snap Snapshot) error {
	snap.Meta.Storage = postgresStorageName
	snap.Meta.Version = SchemaVersion
	snap.Meta.Timestamp = s.now().UTC()

	payload, err := json.Marshal(snap)
	if err != nil {
		return errors.Wrap(err, "encode snapshot")
	}
	if _, err := s.db.ExecContext(ctx, upsertSnapshot, s.name, payload, snap.Meta.Timestamp); err != nil {
		return errors.Wrap(err, "upsert snapshot")
	}
	return nil
}

// Load 讀回快照；尚無資料列時回傳空快照。
// 無法解析、結構版本過新或帳目無法重播時，先把資料列改名為 <name>.corrupt-<unix> 保留，
// 再回傳空快照與 ErrCorrupt，下一次 upsert 不會覆蓋它。
func (s *PostgresStore) Load(ctx context.Context) (Snapshot, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, selectSnapshot, s.name).Scan(&payload)
	if err == sql.ErrNoRows {
		return Snapshot{}, nil
	}
	if err != nil {
		return Snapshot{}, errors.Wrap(err, "select snapshot")
	}

	var snap Snapshot
	decErr := json.Unmarshal(payload, &snap)
	if decErr == nil {
		decErr = snap.Validate()
	}
	if decErr == nil {
		return snap, nil
	}

	aside := fmt.Sprintf("%s.corrupt-%d", s.name, s.now().Unix())
	if _, err := s.db.ExecContext(ctx, quarantineSnapshot, s.name, aside); err != nil {
		return Snapshot{}, errors.Wrapf(ErrCorrupt, "decode snapshot %s: %v (quarantine failed: %v)", s.name, decErr, err)
	}
	return Snapshot{}, errors.Wrapf(ErrCorrupt, "decode snapshot %s: %v (moved to %s)", s.name, decErr, aside)
}
