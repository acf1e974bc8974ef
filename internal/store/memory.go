package store

import (
	"context"
	"sync"
)

// MemoryStore はインメモリのDurableStore実装。
// テストでの差し替え用。値はコピーして保持する。
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string][]byte
}

// NewMemoryStore はMemoryStoreを生成する。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values: make(map[string][]byte),
	}
}

// Get は指定キーの値を取得する。キーが存在しない場合はfound=falseを返す。
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.values[key]
	if !ok {
		return nil, false, nil
	}

	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

// Set は指定キーの値を書き込む。既存値は完全に置き換えられる。
func (s *MemoryStore) Set(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := make([]byte, len(value))
	copy(v, value)
	s.values[key] = v
	return nil
}

// Remove は指定キーを削除する。キーが存在しない場合もエラーにしない。
func (s *MemoryStore) Remove(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.values, key)
	return nil
}

// compile-time interface check
var _ DurableStore = (*MemoryStore)(nil)
