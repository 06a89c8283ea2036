// Package model はドメインモデルを定義する。
package model

import "time"

// User はサービス利用ユーザーを表す。
// 初回のOAuthコールバック成功時に作成され、以降このシステムからは更新しない。
type User struct {
	ID        string
	Email     string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Identity は外部IdPが発行した識別子とユーザーの紐付けを表す。
// (provider, provider_user_id) の一意性はDB側のユニーク制約で保証する。
type Identity struct {
	ID             string
	UserID         string
	Provider       string
	ProviderUserID string
	CreatedAt      time.Time
}

// Session はユーザーのログインセッションを表す。
// IDはCookieに保持される不透明なセッショントークン。
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}
