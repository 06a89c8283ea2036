// Package model はドメインモデルを定義する。
package model

import "fmt"

// FieldError は入力フィールド単位のバリデーションエラーを表す。
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
// バリデーションエラーの場合はFieldsにフィールド単位の詳細を持つ。
type APIError struct {
	Code     string       // エラーコード
	Message  string       // エラーメッセージ
	Category string       // カテゴリ: auth, validation, task, system
	Action   string       // ユーザー向け対処方法
	Fields   []FieldError // フィールド単位のバリデーションエラー（任意）
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthorized     = "UNAUTHORIZED"
	ErrCodeValidationFailed = "VALIDATION_FAILED"
	ErrCodeTaskNotFound     = "TASK_NOT_FOUND"
	ErrCodeUserNotFound     = "USER_NOT_FOUND"
	ErrCodeAuthProvider     = "AUTH_PROVIDER_ERROR"
	ErrCodeInvalidRequest   = "INVALID_REQUEST"
)

// NewUnauthorizedError は認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewValidationError はフィールド単位の詳細を持つバリデーションエラーを生成する。
func NewValidationError(fields []FieldError) *APIError {
	return &APIError{
		Code:     ErrCodeValidationFailed,
		Message:  "入力内容に誤りがあります。",
		Category: "validation",
		Action:   "各フィールドのエラー内容を確認して修正してください。",
		Fields:   fields,
	}
}

// NewTaskNotFoundError はタスク未検出エラーを生成する。
// 存在しないタスクと他ユーザー所有のタスクを区別しない（存在の漏洩防止）。
func NewTaskNotFoundError(taskID string) *APIError {
	return &APIError{
		Code:     ErrCodeTaskNotFound,
		Message:  fmt.Sprintf("指定されたタスクが見つかりません: %s", taskID),
		Category: "task",
		Action:   "タスクIDを確認してください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewAuthProviderError はIdPとの通信失敗エラーを生成する。
func NewAuthProviderError() *APIError {
	return &APIError{
		Code:     ErrCodeAuthProvider,
		Message:  "認証プロバイダーとの通信に失敗しました。",
		Category: "auth",
		Action:   "しばらく待ってから再度ログインしてください。",
	}
}
