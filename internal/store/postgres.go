package store

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresStore はPostgreSQLのkv_storeテーブルを使用したDurableStore実装。
// 1キーへの書き込みは単一のUPSERT文で行うため、呼び出し側からはアトミックに見える。
// 複数プロセスから同一キーへの同時アクセスは同期しない（既知の制限）。
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore はPostgresStoreを生成する。
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Get は指定キーの値を取得する。キーが存在しない場合はfound=falseを返す。
func (s *PostgresStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM kv_store WHERE key = $1`,
		key,
	).Scan(&value)

	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get key %q: %w", key, err)
	}

	return value, true, nil
}

// Set は指定キーの値を書き込む。既存値は完全に置き換えられる。
func (s *PostgresStore) Set(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv_store (key, value, updated_at) VALUES ($1, $2, now())
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("failed to set key %q: %w", key, err)
	}

	return nil
}

// Remove は指定キーを削除する。キーが存在しない場合もエラーにしない。
func (s *PostgresStore) Remove(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM kv_store WHERE key = $1`,
		key,
	)
	if err != nil {
		return fmt.Errorf("failed to remove key %q: %w", key, err)
	}

	return nil
}

// compile-time interface check
var _ DurableStore = (*PostgresStore)(nil)
