// Package security はアプリケーションのセキュリティ機能を提供する。
//
// InputSanitizerService はユーザーが入力した文字列（商品名、店舗名、表示名）から
// マークアップを除去し、台帳・セッションに保存される前に無害化する。
// bluemondayのStrictPolicyにより全タグ・全属性が除去される。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// InputSanitizerService はユーザー入力文字列のサニタイズ機能のインターフェースを定義する。
// 台帳・セッションへの保存前、境界での型付け時に使用される。
type InputSanitizerService interface {
	// Sanitize は入力文字列から全てのHTMLタグ・属性を除去し、
	// 前後の空白をトリムして返す。
	// 空文字列の入力には空文字列を返す。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(input string) string
}

// inputSanitizer はInputSanitizerServiceの実装。
// bluemondayのStrictPolicyを保持し、スレッドセーフにサニタイズ処理を行う。
type inputSanitizer struct {
	policy *bluemonday.Policy
}

// NewInputSanitizer はInputSanitizerServiceの新しいインスタンスを生成する。
// StrictPolicyは許可リストが空のポリシーで、全タグを除去しテキストのみを残す。
func NewInputSanitizer() *inputSanitizer {
	return &inputSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Sanitize は入力文字列から全てのマークアップを除去して返す。
// StrictPolicyは残ったテキストをHTMLエスケープするが、保存先はHTMLではなく
// プレーンテキストなので、エスケープを解除して元の文字に戻す。
func (s *inputSanitizer) Sanitize(input string) string {
	return strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(input)))
}

// compile-time interface check
var _ InputSanitizerService = (*inputSanitizer)(nil)
