// Package store は永続キー/バリューストア（DurableStore）の抽象を提供する。
// 値はJSONシリアライズ可能なテキストブロブで、キー単位でスコープされる。
// セッションブロブと台帳は互いに素なキー名前空間を使用するため、
// 利用側コンポーネント間の調整は不要。
package store

import "context"

// DurableStore はJSONブロブのキー/バリュー永続化インターフェース。
// 本番実装はPostgreSQL、テストではインメモリ実装を差し替える。
type DurableStore interface {
	// Get は指定キーの値を取得する。キーが存在しない場合はfound=falseを返す。
	Get(ctx context.Context, key string) (value []byte, found bool, err error)

	// Set は指定キーの値を書き込む。既存値は完全に置き換えられる
	// （部分書き込みが観測されることはない）。
	Set(ctx context.Context, key string, value []byte) error

	// Remove は指定キーを削除する。キーが存在しない場合もエラーにしない。
	Remove(ctx context.Context, key string) error
}

// キー名前空間。永続レイアウトは元のクライアントと互換のキー体系を使う。
const (
	sessionKeyPrefix  = "bakery_user_"
	ledgerKeyPrefix   = "predictions_history_"
	languageKeyPrefix = "bakery_language_"
)

// SessionKey はクライアントインスタンス（セッションID）ごとの
// セッションブロブのキーを返す。
func SessionKey(sessionID string) string {
	return sessionKeyPrefix + sessionID
}

// LedgerKey はユーザーの予測履歴台帳のキーを返す。
// キーはユーザーIDのみから決定的に導出され、他ユーザーのキーと重ならない。
func LedgerKey(userID string) string {
	return ledgerKeyPrefix + userID
}

// LanguageKey はユーザーの言語設定のキーを返す。
func LanguageKey(userID string) string {
	return languageKeyPrefix + userID
}
