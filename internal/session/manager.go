// Package session はセッション状態管理を提供する。
// クライアントインスタンス（セッションID）ごとにManagerを1つ保持し、
// Uninitialized → Loading → {Authenticated, Anonymous} の状態機械として動作する。
// Authenticated → Anonymous への遷移はlogoutのみ。
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hitoshi/bakeman/internal/authclient"
	"github.com/hitoshi/bakeman/internal/model"
	"github.com/hitoshi/bakeman/internal/security"
	"github.com/hitoshi/bakeman/internal/store"
)

// Status はセッション状態機械の状態を表す。
type Status int

const (
	// StatusUninitialized は永続ブロブをまだ読み込んでいない初期状態。
	StatusUninitialized Status = iota
	// StatusLoading は永続ブロブの読み込み中。
	StatusLoading
	// StatusAuthenticated は認証済み状態。
	StatusAuthenticated
	// StatusAnonymous は未認証状態。
	StatusAnonymous
)

// AuthAPI は外部認証サービスの2操作のインターフェース。
// authclient.Clientの部分集合として定義する。
type AuthAPI interface {
	Register(ctx context.Context, input authclient.RegisterInput) (*model.User, error)
	Login(ctx context.Context, email, password string) (*model.User, error)
}

// Manager は1クライアントインスタンスのセッションを所有する。
// 認証済みユーザーのスナップショットを排他的に保持し、
// 成功したlogin/registerごとに永続ストアの固定セッションキーへUserを書き込む。
type Manager struct {
	mu        sync.Mutex
	store     store.DurableStore
	auth      AuthAPI
	sanitizer security.InputSanitizerService
	logger    *slog.Logger

	sessionKey string
	status     Status
	loading    bool
	user       *model.User
	onLogout   func() // プレゼンテーション層へのログアウト通知
}

// NewManager はManagerを生成する。sessionIDはクライアントインスタンスの識別子で、
// 永続セッションブロブのキーはここから決定的に導出される。
func NewManager(
	durable store.DurableStore,
	auth AuthAPI,
	sanitizer security.InputSanitizerService,
	logger *slog.Logger,
	sessionID string,
) *Manager {
	return &Manager{
		store:      durable,
		auth:       auth,
		sanitizer:  sanitizer,
		logger:     logger,
		sessionKey: store.SessionKey(sessionID),
		status:     StatusUninitialized,
	}
}

// SetLogoutSignal はlogout時に呼び出されるコールバックを設定する。
// エントリー画面への復帰はプレゼンテーション層の責務であり、ここでは通知のみ行う。
func (m *Manager) SetLogoutSignal(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onLogout = fn
}

// Initialize は永続ストアからセッションブロブを読み込む。
// 存在し整形式であればAuthenticated、存在しないか不正であればAnonymousへ遷移する。
// 不正なブロブは破棄され、エラーとしては表面化しない（自己修復）。
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	if m.status != StatusUninitialized {
		m.mu.Unlock()
		return nil
	}
	m.status = StatusLoading
	m.mu.Unlock()

	value, found, err := m.store.Get(ctx, m.sessionKey)

	m.mu.Lock()
	defer m.mu.Unlock()

	if err != nil {
		m.status = StatusAnonymous
		return fmt.Errorf("failed to read session blob: %w", err)
	}
	if !found {
		m.status = StatusAnonymous
		return nil
	}

	var user model.User
	if jsonErr := json.Unmarshal(value, &user); jsonErr != nil || user.ID == "" {
		// 破損したセッションブロブは破棄してAnonymousとして続行する
		m.logger.Warn("discarding malformed session blob",
			slog.String("key", m.sessionKey),
		)
		if rmErr := m.store.Remove(ctx, m.sessionKey); rmErr != nil {
			m.logger.Error("failed to remove malformed session blob",
				slog.String("error", rmErr.Error()),
			)
		}
		m.status = StatusAnonymous
		return nil
	}

	m.user = &user
	m.status = StatusAuthenticated
	return nil
}

// Login は外部認証サービスにログインを依頼する。
// 成功時はAuthenticatedへ遷移しユーザーを永続化する。
// 失敗時は直前のisAuthenticatedを変更せず、isLoadingのみ解除する。
func (m *Manager) Login(ctx context.Context, email, password string) (*model.User, error) {
	m.mu.Lock()
	m.loading = true
	m.mu.Unlock()

	user, err := m.auth.Login(ctx, email, password)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.loading = false

	if err != nil {
		return nil, err
	}

	if persistErr := m.persistLocked(ctx, user); persistErr != nil {
		return nil, persistErr
	}

	m.user = user
	m.status = StatusAuthenticated
	return user, nil
}

// Register は外部認証サービスに新規登録を依頼する。
// 成功時は作成されたアイデンティティでloginと同様に振る舞う。
// 入力の表示系フィールドは保存前にサニタイズされる。
func (m *Manager) Register(ctx context.Context, input authclient.RegisterInput) (*model.User, error) {
	input.Name = m.sanitizer.Sanitize(input.Name)
	input.ShopName = m.sanitizer.Sanitize(input.ShopName)

	m.mu.Lock()
	m.loading = true
	m.mu.Unlock()

	user, err := m.auth.Register(ctx, input)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.loading = false

	if err != nil {
		return nil, err
	}

	if persistErr := m.persistLocked(ctx, user); persistErr != nil {
		return nil, persistErr
	}

	m.user = user
	m.status = StatusAuthenticated
	return user, nil
}

// Logout は永続セッションブロブを削除しAnonymousへ遷移する。
// セッションは破棄されるが、ユーザーの台帳は破棄されない。
func (m *Manager) Logout(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.Remove(ctx, m.sessionKey); err != nil {
		return fmt.Errorf("failed to remove session blob: %w", err)
	}

	if m.user != nil {
		m.logger.Info("user logged out", slog.String("user_id", m.user.ID))
	}

	m.user = nil
	m.status = StatusAnonymous

	if m.onLogout != nil {
		m.onLogout()
	}
	return nil
}

// Snapshot は現在のセッションスナップショットを返す。
func (m *Manager) Snapshot() model.Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	return model.Session{
		User:            m.user,
		IsAuthenticated: m.status == StatusAuthenticated,
		IsLoading:       m.loading || m.status == StatusLoading,
	}
}

// CurrentUser は認証済みユーザーを返す。未認証の場合はok=false。
func (m *Manager) CurrentUser() (*model.User, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.status != StatusAuthenticated || m.user == nil {
		return nil, false
	}
	return m.user, true
}

// Status は現在の状態機械の状態を返す。
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// persistLocked はユーザーをセッションキーへ書き込む。呼び出し側でロックを保持すること。
func (m *Manager) persistLocked(ctx context.Context, user *model.User) error {
	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("failed to marshal session user: %w", err)
	}
	if err := m.store.Set(ctx, m.sessionKey, data); err != nil {
		return fmt.Errorf("failed to persist session: %w", err)
	}
	return nil
}
