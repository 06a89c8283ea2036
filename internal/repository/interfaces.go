// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"

	"github.com/hitoshi/taskdeck/internal/model"
)

// ErrDuplicateIdentity は (provider, provider_user_id) のユニーク制約違反を表す。
// 同一の外部IDに対する同時コールバックで敗者側のINSERTが失敗した場合に返る。
// 呼び出し側はidentityを再取得して既存ユーザーとして扱うこと。外部には公開しない。
var ErrDuplicateIdentity = errors.New("identity already exists")

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// CreateWithIdentity はユーザーとidentityを同一トランザクションで作成する。
	// identityのユニーク制約に違反した場合はErrDuplicateIdentityを返す。
	CreateWithIdentity(ctx context.Context, user *model.User, identity *model.Identity) error

	// DeleteByID は指定IDのユーザーを削除する。
	// 関連するidentities、sessions、tasksはCASCADE削除される。
	DeleteByID(ctx context.Context, id string) error
}

// IdentityRepository は外部IdP紐付け情報の永続化インターフェース。
type IdentityRepository interface {
	// FindByProviderAndProviderUserID はproviderとprovider_user_idでidentityを検索する。
	// 見つからない場合はnilを返す。
	FindByProviderAndProviderUserID(ctx context.Context, provider, providerUserID string) (*model.Identity, error)
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。存在しないIDでもエラーにならない。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
}

// TaskRepository はタスクデータの永続化インターフェース。
// 全操作が所有者IDを必須とし、他ユーザーのタスクは存在しないものとして扱う。
type TaskRepository interface {
	// ListByUserID は指定ユーザーのタスク一覧を作成日時降順で返す。
	ListByUserID(ctx context.Context, userID string) ([]*model.Task, error)

	// FindByIDAndUserID は指定IDかつ指定所有者のタスクを取得する。
	// 存在しない、または所有者が一致しない場合はnilを返す。
	FindByIDAndUserID(ctx context.Context, id, userID string) (*model.Task, error)

	// Create はタスクを作成する。
	Create(ctx context.Context, task *model.Task) error

	// Update はタスクを上書き更新する。
	// id と user_id の両方が一致する行のみ更新し、更新した場合trueを返す。
	Update(ctx context.Context, task *model.Task) (bool, error)

	// DeleteByIDAndUserID は指定IDかつ指定所有者のタスクを削除する。
	// 削除した場合trueを返す。
	DeleteByIDAndUserID(ctx context.Context, id, userID string) (bool, error)

	// DeleteByUserID は指定ユーザーの全タスクを削除する。退会処理で使用する。
	DeleteByUserID(ctx context.Context, userID string) error
}
