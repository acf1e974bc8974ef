// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, prediction, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeMissingField       = "VALIDATION_MISSING_FIELD"
	ErrCodeNotANumber         = "VALIDATION_NOT_A_NUMBER"
	ErrCodeInvalidCredentials = "AUTH_INVALID_CREDENTIALS"
	ErrCodeDuplicateEmail     = "AUTH_DUPLICATE_EMAIL"
	ErrCodeNetworkError       = "NETWORK_ERROR"
	ErrCodeServerError        = "SERVER_ERROR"
	ErrCodeRecordNotFound     = "RECORD_NOT_FOUND"
)

// NewMissingFieldError は必須フィールド未入力エラーを生成する。
// ネットワーク呼び出しの前段で返され、リクエストは送信されない。
func NewMissingFieldError(field string) *APIError {
	return &APIError{
		Code:     ErrCodeMissingField,
		Message:  fmt.Sprintf("必須フィールドが入力されていません: %s", field),
		Category: "validation",
		Action:   "すべての項目を入力してから再度お試しください。",
	}
}

// NewNotANumberError は数値フィールドが数値として解釈できない場合のエラーを生成する。
func NewNotANumberError(field string) *APIError {
	return &APIError{
		Code:     ErrCodeNotANumber,
		Message:  fmt.Sprintf("数値フィールドの値が不正です: %s", field),
		Category: "validation",
		Action:   "0以上の数値を入力してください。",
	}
}

// NewInvalidCredentialsError は認証サービスがログインを拒否した場合のエラーを生成する。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "メールアドレスまたはパスワードが正しくありません。",
		Category: "auth",
		Action:   "入力内容を確認して再度ログインしてください。",
	}
}

// NewDuplicateEmailError は登録済みメールアドレスで再登録しようとした場合のエラーを生成する。
func NewDuplicateEmailError(email string) *APIError {
	return &APIError{
		Code:     ErrCodeDuplicateEmail,
		Message:  fmt.Sprintf("このメールアドレスは既に登録されています: %s", email),
		Category: "auth",
		Action:   "別のメールアドレスを使用するか、ログインしてください。",
	}
}

// NewNetworkError は接続失敗・タイムアウトなどの一時的な通信エラーを生成する。
// 自動リトライは行わない。オペレーターが手動で再試行できる。
func NewNetworkError() *APIError {
	return &APIError{
		Code:     ErrCodeNetworkError,
		Message:  "予測サービスへの接続に失敗しました。",
		Category: "prediction",
		Action:   "ネットワーク状態を確認し、しばらく待ってから再度お試しください。",
	}
}

// NewForecastServerError は予測サービスが構造化エラーを返した場合のエラーを生成する。
// statusは上流のHTTPステータスコード。レスポンスが解釈不能な場合は
// status=0、detail="malformed response" で生成される。
func NewForecastServerError(status int, detail string) *APIError {
	return &APIError{
		Code:     ErrCodeServerError,
		Message:  fmt.Sprintf("予測サービスがエラーを返しました: status=%d detail=%s", status, detail),
		Category: "prediction",
		Action:   "時間をおいて再度お試しください。解決しない場合は管理者に連絡してください。",
	}
}

// NewRecordNotFoundError は指定IDの履歴レコードが存在しない場合のエラーを生成する。
func NewRecordNotFoundError(recordID string) *APIError {
	return &APIError{
		Code:     ErrCodeRecordNotFound,
		Message:  fmt.Sprintf("指定された履歴レコードが見つかりません: %s", recordID),
		Category: "validation",
		Action:   "レコードIDを確認してください。",
	}
}
