package model

import "time"

// Priority はタスクの優先度を表す。
type Priority string

// 優先度の定義済み値。APIのワイヤーフォーマットと同一の表記を使用する。
const (
	PriorityHigh   Priority = "High"
	PriorityMedium Priority = "Medium"
	PriorityLow    Priority = "Low"
)

// IsValid は優先度が定義済みの値かどうかを判定する。
func (p Priority) IsValid() bool {
	switch p {
	case PriorityHigh, PriorityMedium, PriorityLow:
		return true
	default:
		return false
	}
}

// TitleMaxLength はタスクタイトルの最大文字数。
const TitleMaxLength = 100

// Task はユーザーが所有するタスクを表す。
// UserIDは作成時に認証済みユーザーのIDで固定され、以降変更されない。
type Task struct {
	ID          string
	UserID      string
	Title       string
	Description string
	Completed   bool
	DueDate     *time.Time
	Priority    Priority
	Tags        []string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
