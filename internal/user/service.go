// Package user はユーザー登録と参照のドメインロジックを提供する。
package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/filekeep/internal/model"
	"github.com/hitoshi/filekeep/internal/repository"
)

// RegisterInput はユーザー登録の入力。
type RegisterInput struct {
	Email    string `validate:"required,max=320"`
	Password string `validate:"required,max=72"` // bcryptは72バイトを超える入力を扱えない
}

// Service はユーザー管理のサービス層。
type Service struct {
	userRepo repository.UserRepository
	validate *validator.Validate
	hashCost int
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(userRepo repository.UserRepository) *Service {
	return &Service{
		userRepo: userRepo,
		validate: validator.New(),
		hashCost: bcrypt.DefaultCost,
	}
}

// Register は新しいユーザーを登録する。
// パスワードはbcryptハッシュのみを保存する。emailが既に使われている場合はConflictを返す。
func (s *Service) Register(ctx context.Context, email, password string) (*model.User, error) {
	// 1. 入力検証（前後の空白は除去してから判定する）
	input := RegisterInput{Email: strings.TrimSpace(email), Password: password}
	if err := s.validate.Struct(input); err != nil {
		return nil, toValidationError(err)
	}

	// 2. 重複確認（完全一致）
	existing, err := s.userRepo.FindByEmail(ctx, input.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	if existing != nil {
		return nil, model.NewUserAlreadyExistsError()
	}

	// 3. パスワードのハッシュ化
	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), s.hashCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	// 4. 保存。確認後に同じemailが登録された場合は一意制約違反でConflictとなる
	user := &model.User{Email: input.Email, PasswordHash: string(hash)}
	if err := s.userRepo.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, model.NewUserAlreadyExistsError()
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	slog.Info("user registered", slog.String("user_id", user.ID))
	return user, nil
}

// LookupByEmail はemailでユーザーを取得する。見つからない場合はnilを返す。
func (s *Service) LookupByEmail(ctx context.Context, email string) (*model.User, error) {
	user, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to look up user by email: %w", err)
	}
	return user, nil
}

// LookupByID はIDでユーザーを取得する。見つからない場合はnilを返す。
func (s *Service) LookupByID(ctx context.Context, id string) (*model.User, error) {
	user, err := s.userRepo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to look up user by ID: %w", err)
	}
	return user, nil
}

// Count は登録ユーザー数を返す。
func (s *Service) Count(ctx context.Context) (int64, error) {
	return s.userRepo.Count(ctx)
}

// toValidationError はvalidatorのエラーを最初の違反フィールドに応じたメッセージに変換する。
func toValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return model.NewValidationError("Invalid input")
	}

	fe := verrs[0]
	field := strings.ToLower(fe.Field())
	if fe.Tag() == "required" {
		return model.NewValidationError("Missing " + field)
	}
	return model.NewValidationError("Invalid " + field)
}
