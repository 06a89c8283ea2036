// Package auth はOAuth認証フロー、セッション管理を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/taskdeck/internal/model"
	"github.com/hitoshi/taskdeck/internal/repository"
)

// OAuthUserInfo はOAuthプロバイダーから取得したユーザー情報を表す。
type OAuthUserInfo struct {
	ProviderUserID string
	Email          string
	Name           string
	Provider       string // 現状は "google" のみ
}

// OAuthProvider はOAuth認証プロバイダーのインターフェース。
// 実装はGoogleのみだが、プロバイダー差し替えのための抽象化として維持する。
type OAuthProvider interface {
	// GetLoginURL はOAuth認証URLを生成する。
	GetLoginURL(state string) string
	// ExchangeCode は認可コードをトークンに交換し、ユーザー情報を取得する。
	ExchangeCode(ctx context.Context, code string) (*OAuthUserInfo, error)
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge int // セッション有効期間（秒）
}

// Service は認証に関するビジネスロジックを提供する。
// OAuthコールバックをユーザーとセッションに変換し、セッショントークンを
// ユーザーに解決する。
type Service struct {
	oauth       OAuthProvider
	userRepo    repository.UserRepository
	identRepo   repository.IdentityRepository
	sessionRepo repository.SessionRepository
	config      ServiceConfig
}

// NewService はServiceを生成する。
func NewService(
	oauth OAuthProvider,
	userRepo repository.UserRepository,
	identRepo repository.IdentityRepository,
	sessionRepo repository.SessionRepository,
	config ServiceConfig,
) *Service {
	return &Service{
		oauth:       oauth,
		userRepo:    userRepo,
		identRepo:   identRepo,
		sessionRepo: sessionRepo,
		config:      config,
	}
}

// GetLoginURL はOAuth認証URLを生成する。
func (s *Service) GetLoginURL(state string) string {
	return s.oauth.GetLoginURL(state)
}

// HandleCallback はOAuthコールバックを処理し、セッションを発行する。
// 未登録の外部IDの場合はusersレコードとidentitiesレコードを同時に作成する。
// 同一の外部IDに対する同時コールバックでINSERTがユニーク制約に敗れた場合は、
// identityを再取得して既存ユーザーとして扱う（アプリケーション側のロックは使わない）。
func (s *Service) HandleCallback(ctx context.Context, code string) (*model.Session, error) {
	// 1. 認可コードをトークンに交換し、ユーザー情報を取得
	userInfo, err := s.oauth.ExchangeCode(ctx, code)
	if err != nil {
		slog.Error("oauth code exchange failed", slog.String("error", err.Error()))
		return nil, model.NewAuthProviderError()
	}

	// 2. identitiesテーブルで既存ユーザーを検索
	identity, err := s.identRepo.FindByProviderAndProviderUserID(ctx, userInfo.Provider, userInfo.ProviderUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find identity: %w", err)
	}

	var userID string

	if identity != nil {
		// 3a. 既存ユーザー: identityからユーザーIDを取得
		userID = identity.UserID
		slog.Info("existing user logged in",
			slog.String("user_id", userID),
			slog.String("provider", userInfo.Provider),
		)
	} else {
		// 3b. 新規ユーザー: usersレコードとidentitiesレコードを同時に作成
		userID, err = s.createUser(ctx, userInfo)
		if err != nil {
			return nil, err
		}
	}

	// 4. セッションを発行
	session, err := s.createSession(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	return session, nil
}

// createUser はユーザーとidentityを作成し、ユーザーIDを返す。
// ユニーク制約違反（コールバックの同時実行で敗者となった場合）は
// identityを再取得し、勝者が作成したユーザーのIDを返す。
func (s *Service) createUser(ctx context.Context, userInfo *OAuthUserInfo) (string, error) {
	now := time.Now()

	newUser := &model.User{
		ID:        uuid.New().String(),
		Email:     userInfo.Email,
		Name:      userInfo.Name,
		CreatedAt: now,
		UpdatedAt: now,
	}

	newIdentity := &model.Identity{
		ID:             uuid.New().String(),
		UserID:         newUser.ID,
		Provider:       userInfo.Provider,
		ProviderUserID: userInfo.ProviderUserID,
		CreatedAt:      now,
	}

	err := s.userRepo.CreateWithIdentity(ctx, newUser, newIdentity)
	if err == nil {
		slog.Info("new user created",
			slog.String("user_id", newUser.ID),
			slog.String("email", userInfo.Email),
			slog.String("provider", userInfo.Provider),
		)
		return newUser.ID, nil
	}

	if !errors.Is(err, repository.ErrDuplicateIdentity) {
		return "", fmt.Errorf("failed to create user and identity: %w", err)
	}

	// レースの敗者側: 勝者が作成したidentityを再取得する
	identity, findErr := s.identRepo.FindByProviderAndProviderUserID(ctx, userInfo.Provider, userInfo.ProviderUserID)
	if findErr != nil {
		return "", fmt.Errorf("failed to re-fetch identity after duplicate: %w", findErr)
	}
	if identity == nil {
		return "", fmt.Errorf("identity disappeared after duplicate key: provider_user_id=%s", userInfo.ProviderUserID)
	}

	slog.Info("concurrent signup detected, reusing existing user",
		slog.String("user_id", identity.UserID),
		slog.String("provider", userInfo.Provider),
	)
	return identity.UserID, nil
}

// Logout はセッションを破棄する。
// 既に無効なトークンの破棄もエラーにしない（冪等）。
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}

	if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	slog.Info("user logged out", slog.String("session_id", sessionID))
	return nil
}

// GetCurrentUser はセッショントークンから現在のユーザーを解決する。
// トークンが無効・期限切れの場合はUNAUTHORIZED、セッションが参照する
// ユーザーが既に存在しない場合はUSER_NOT_FOUNDのAPIErrorを返す。
func (s *Service) GetCurrentUser(ctx context.Context, sessionID string) (*model.User, error) {
	if sessionID == "" {
		return nil, model.NewUnauthorizedError()
	}

	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil {
		return nil, model.NewUnauthorizedError()
	}

	user, err := s.userRepo.FindByID(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		// 退会済みユーザーの残留セッション
		return nil, model.NewUserNotFoundError()
	}

	return user, nil
}

// createSession はセッションを作成し永続化する。
func (s *Service) createSession(ctx context.Context, userID string) (*model.Session, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	session := &model.Session{
		ID:        sessionID,
		UserID:    userID,
		ExpiresAt: time.Now().Add(time.Duration(s.config.SessionMaxAge) * time.Second),
		CreatedAt: time.Now(),
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return session, nil
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
