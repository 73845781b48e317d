package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// ErrConflict 表示写入时槽位的 revision 已被其它上下文修改。
var ErrConflict = errors.New("local slot revision conflict")

// Slot 是槽位的快照；Value 为空表示槽位不存在或已被清空，Revision 为 0 表示从未写入。
type Slot struct {
	Name      string
	Value     []byte
	Revision  int64
	UpdatedAt time.Time
}

// Store 以 SQLite 持久化命名槽位，所有写操作都带 revision 校验。
type Store struct {
	db *sql.DB
}

// Open 打开（必要时创建）本地存储，path 为 ":memory:" 时使用内存库。
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("local store path required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create local store dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	// 单连接即可串行化读改写，同时避免 :memory: 在多连接下各自成库。
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS local_slots (
		name       TEXT PRIMARY KEY,
		value      BLOB NOT NULL,
		revision   INTEGER NOT NULL,
		updated_at TEXT NOT NULL
	);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close 关闭底层数据库。
func (s *Store) Close() error {
	return s.db.Close()
}

// Get 读取槽位；槽位不存在时返回 Revision 为 0 的空快照。
func (s *Store) Get(ctx context.Context, name string) (Slot, error) {
	var (
		value     []byte
		revision  int64
		updatedAt string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT value, revision, updated_at FROM local_slots WHERE name = ?", name,
	).Scan(&value, &revision, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Slot{Name: name}, nil
	}
	if err != nil {
		return Slot{}, fmt.Errorf("get slot %q: %w", name, err)
	}

	slot := Slot{Name: name, Revision: revision}
	if len(value) > 0 {
		slot.Value = value
	}
	slot.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return slot, nil
}

// Put 在 expectRev 与当前 revision 一致时写入新值，返回新的 revision。
func (s *Store) Put(ctx context.Context, name string, value []byte, expectRev int64) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin put %q: %w", name, err)
	}
	defer tx.Rollback()

	current, err := currentRevision(ctx, tx, name)
	if err != nil {
		return 0, err
	}
	if current != expectRev {
		return current, ErrConflict
	}

	next := current + 1
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO local_slots (name, value, revision, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET value = excluded.value, revision = excluded.revision, updated_at = excluded.updated_at`,
		name, value, next, now,
	)
	if err != nil {
		return 0, fmt.Errorf("put slot %q: %w", name, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit put %q: %w", name, err)
	}
	return next, nil
}

// Delete 在 revision 匹配时清空槽位。行本身保留并递增 revision（墓碑），
// 这样持有旧 revision 的写者不会在槽位被清空后误判为一致。
func (s *Store) Delete(ctx context.Context, name string, expectRev int64) (int64, error) {
	return s.Put(ctx, name, []byte{}, expectRev)
}

func currentRevision(ctx context.Context, tx *sql.Tx, name string) (int64, error) {
	var revision int64
	err := tx.QueryRowContext(ctx, "SELECT revision FROM local_slots WHERE name = ?", name).Scan(&revision)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read revision %q: %w", name, err)
	}
	return revision, nil
}
