package service

import (
	"context"
	"errors"
	"exam_proctor_backend/internal/config"
	"exam_proctor_backend/internal/model"
	"exam_proctor_backend/internal/util"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

type AuthService struct {
	Users UserStore
	Cfg   *config.Config
}

func NewAuthService(users UserStore, cfg *config.Config) *AuthService {
	return &AuthService{
		Users: users,
		Cfg:   cfg,
	}
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type LoginResult struct {
	Token string         `json:"token"`
	User  *model.User    `json:"user"`
	Role  model.UserRole `json:"role"`
}

// Register 创建用户，密码以 bcrypt 存储
func (s *AuthService) Register(ctx context.Context, user *model.User) error {
	_, err := s.Users.FindUserByEmail(ctx, user.Email)
	if err == nil {
		return fmt.Errorf("email %s: %w", user.Email, util.ErrEmailTaken)
	} else if !errors.Is(err, util.ErrUserNotFound) {
		return err
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(user.Password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	user.Password = string(hashedPassword)
	return s.Users.CreateUser(ctx, user)
}

func (s *AuthService) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	user, err := s.Users.FindUserByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, util.ErrUserNotFound) {
			return nil, util.ErrInvalidCredentials
		}
		return nil, err
	}
	if user.Disabled {
		return nil, util.ErrPermissionDenied
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		return nil, util.ErrInvalidCredentials
	}

	token, err := util.GenerateJWT(user, s.Cfg.JWT)
	if err != nil {
		return nil, err
	}
	return &LoginResult{Token: token, User: user, Role: user.Role}, nil
}
