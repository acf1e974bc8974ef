package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hitoshi/bakeman/internal/model"
	"github.com/hitoshi/bakeman/internal/security"
	"github.com/hitoshi/bakeman/internal/store"
)

// Registry はセッションIDからManagerへの対応を保持する。
// HTTPレイヤーはクッキーのセッションIDでここからManagerを引く。
// Managerはセッションごとに遅延生成され、サーバー再起動後も
// Initializeで永続ブロブから認証状態を復元できる。
type Registry struct {
	mu        sync.Mutex
	managers  map[string]*Manager
	store     store.DurableStore
	auth      AuthAPI
	sanitizer security.InputSanitizerService
	logger    *slog.Logger
}

// NewRegistry はRegistryを生成する。
func NewRegistry(
	durable store.DurableStore,
	auth AuthAPI,
	sanitizer security.InputSanitizerService,
	logger *slog.Logger,
) *Registry {
	return &Registry{
		managers:  make(map[string]*Manager),
		store:     durable,
		auth:      auth,
		sanitizer: sanitizer,
		logger:    logger,
	}
}

// Manager はセッションIDに対応するManagerを返す。存在しなければ生成する。
func (r *Registry) Manager(sessionID string) *Manager {
	r.mu.Lock()
	defer r.mu.Unlock()

	if m, ok := r.managers[sessionID]; ok {
		return m
	}
	m := NewManager(r.store, r.auth, r.sanitizer, r.logger, sessionID)
	r.managers[sessionID] = m
	return m
}

// Resolve はセッションIDから認証済みユーザーを解決する。
// 未初期化Managerは先にInitializeされる。未認証の場合はok=false。
func (r *Registry) Resolve(ctx context.Context, sessionID string) (*model.User, bool, error) {
	if sessionID == "" {
		return nil, false, nil
	}

	m := r.Manager(sessionID)
	if m.Status() == StatusUninitialized {
		if err := m.Initialize(ctx); err != nil {
			return nil, false, err
		}
	}

	user, ok := m.CurrentUser()
	return user, ok, nil
}

// Drop はManagerを破棄する。logout後の後片付けに用いる。
func (r *Registry) Drop(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.managers, sessionID)
}

// NewSessionID は暗号学的に安全なセッションIDを生成する。
func NewSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate session id: %w", err)
	}
	return hex.EncodeToString(b), nil
}
