// Package auth はBasic認証によるログインと、セッショントークンの発行・検証・破棄を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/filekeep/internal/cache"
	"github.com/hitoshi/filekeep/internal/model"
)

// tokenKeyPrefix はキャッシュ上のセッションキーの接頭辞。
const tokenKeyPrefix = "auth_"

// tokenBytes はトークンの乱数バイト数（hexエンコード後は64文字）。
const tokenBytes = 32

// UserFinder はユーザー参照のインターフェース。repository.UserRepositoryが満たす。
type UserFinder interface {
	FindByEmail(ctx context.Context, email string) (*model.User, error)
	FindByID(ctx context.Context, id string) (*model.User, error)
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge int // セッション有効期間（秒）。発行時点からの絶対期限で、延長しない
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	users  UserFinder
	tokens cache.Store
	config ServiceConfig
	now    func() time.Time
}

// NewService はServiceを生成する。
func NewService(users UserFinder, tokens cache.Store, config ServiceConfig) *Service {
	return &Service{
		users:  users,
		tokens: tokens,
		config: config,
		now:    time.Now,
	}
}

// dummyHash は存在しないユーザーに対しても同等のbcrypt比較を行うためのハッシュ。
// ユーザーの存在有無が応答時間から推測されるのを防ぐ。
var dummyHash = sync.OnceValue(func() []byte {
	h, _ := bcrypt.GenerateFromPassword([]byte("filekeep-dummy-password"), bcrypt.DefaultCost)
	return h
})

// Authenticate は "Basic <base64(email:password)>" 形式のAuthorizationヘッダーを検証し、
// 成功した場合は新しいセッションを発行する。失敗理由にかかわらずUnauthorizedを返す。
func (s *Service) Authenticate(ctx context.Context, authorizationHeader string) (*model.Session, error) {
	// 1. ヘッダーの解析
	email, password, ok := parseBasicAuth(authorizationHeader)
	if !ok {
		return nil, model.NewUnauthorizedError()
	}

	// 2. ユーザーの検索
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}

	// 3. パスワードの照合
	if user == nil {
		_ = bcrypt.CompareHashAndPassword(dummyHash(), []byte(password))
		return nil, model.NewUnauthorizedError()
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, model.NewUnauthorizedError()
	}

	// 4. セッションの発行
	session, err := s.CreateSession(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	slog.Info("user connected", slog.String("user_id", user.ID))
	return session, nil
}

// CreateSession は新しいトークンを発行し、"auth_<token>" → userID をTTL付きで保存する。
func (s *Service) CreateSession(ctx context.Context, userID string) (*model.Session, error) {
	token, err := generateToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}

	ttl := time.Duration(s.config.SessionMaxAge) * time.Second
	if err := s.tokens.Set(ctx, tokenKey(token), userID, ttl); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return &model.Session{
		Token:     token,
		UserID:    userID,
		ExpiresAt: s.now().Add(ttl),
	}, nil
}

// ValidateSession はトークンに対応するユーザーIDを返す。
// 空・未知・期限切れのトークンはUnauthorizedとなる。
func (s *Service) ValidateSession(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", model.NewUnauthorizedError()
	}

	userID, err := s.tokens.Get(ctx, tokenKey(token))
	if err != nil {
		return "", fmt.Errorf("failed to find session: %w", err)
	}
	if userID == "" {
		return "", model.NewUnauthorizedError()
	}
	return userID, nil
}

// RevokeSession はトークンを破棄する。未知のトークン（破棄済みを含む）はUnauthorizedとなる。
func (s *Service) RevokeSession(ctx context.Context, token string) error {
	userID, err := s.ValidateSession(ctx, token)
	if err != nil {
		return err
	}

	if err := s.tokens.Delete(ctx, tokenKey(token)); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	slog.Info("user disconnected", slog.String("user_id", userID))
	return nil
}

// GetCurrentUser はトークンから現在のユーザーを取得する。
func (s *Service) GetCurrentUser(ctx context.Context, token string) (*model.User, error) {
	userID, err := s.ValidateSession(ctx, token)
	if err != nil {
		return nil, err
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewUnauthorizedError()
	}
	return user, nil
}

// parseBasicAuth はBasic認証ヘッダーからemailとパスワードを取り出す。
// 区切りは最初の ':' とし、パスワードに ':' を含むことを許容する。
func parseBasicAuth(header string) (email, password string, ok bool) {
	encoded, found := strings.CutPrefix(header, "Basic ")
	if !found {
		return "", "", false
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return "", "", false
	}

	email, password, found = strings.Cut(string(decoded), ":")
	if !found || email == "" {
		return "", "", false
	}
	return email, password, true
}

func tokenKey(token string) string {
	return tokenKeyPrefix + token
}

// generateToken は暗号的に安全なトークンを生成する。
func generateToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
