// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TextSanitizerService はタスクのタイトル・説明文からHTMLタグを除去し、
// 保存したテキストがそのままUIに表示されてもXSSにならないことを保証する。
package security

import (
	"html"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizerService はプレーンテキストのサニタイズ機能のインターフェースを定義する。
// タスクのタイトルと説明文の保存前に使用される。
type TextSanitizerService interface {
	// Sanitize は入力からすべてのHTMLタグを除去したテキストを返す。
	// 空文字列の入力には空文字列を返す。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(raw string) string
}

// textSanitizer はTextSanitizerServiceの実装。
// bluemondayのStrictPolicy（全タグ除去）を保持し、スレッドセーフに動作する。
type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerServiceの新しいインスタンスを生成する。
// StrictPolicyはタグを一切許可しないため、scriptやイベント属性を含む
// あらゆるマークアップが除去される。
func NewTextSanitizer() *textSanitizer {
	return &textSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Sanitize は入力からすべてのHTMLタグを除去したテキストを返す。
// bluemondayはタグ除去後にエンティティをエスケープするため、
// プレーンテキストとして保存できるようアンエスケープして返す。
func (s *textSanitizer) Sanitize(raw string) string {
	return html.UnescapeString(s.policy.Sanitize(raw))
}

// compile-time interface check
var _ TextSanitizerService = (*textSanitizer)(nil)
