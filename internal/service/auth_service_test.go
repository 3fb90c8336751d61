package service

import (
	"context"
	"errors"
	"exam_proctor_backend/internal/config"
	"exam_proctor_backend/internal/model"
	"exam_proctor_backend/internal/util"
	"testing"
	"time"
)

func newAuth(t *testing.T) (*AuthService, *memStore) {
	t.Helper()
	store := newMemStore(time.Now)
	cfg := &config.Config{JWT: config.JWTConfig{Secret: "test-secret-test-secret-test-secret", ExpireTime: time.Hour}}
	return NewAuthService(store, cfg), store
}

func TestRegisterAndLogin(t *testing.T) {
	auth, store := newAuth(t)
	ctx := context.Background()

	u := &model.User{Name: "Ann", Email: "ann@example.com", Password: "s3cret", Role: model.RoleCandidate}
	if err := auth.Register(ctx, u); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	stored, _ := store.FindUserByEmail(ctx, "ann@example.com")
	if stored.Password == "s3cret" {
		t.Fatal("password stored in plain text")
	}

	res, err := auth.Login(ctx, LoginRequest{Email: "ann@example.com", Password: "s3cret"})
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	claims, err := util.ParseJWT(res.Token, auth.Cfg.JWT)
	if err != nil {
		t.Fatalf("ParseJWT() error = %v", err)
	}
	if claims.UserID != u.ID || claims.Role != model.RoleCandidate {
		t.Errorf("claims = %+v, want user %d candidate", claims, u.ID)
	}

	dup := &model.User{Email: "ann@example.com", Password: "x"}
	if err := auth.Register(ctx, dup); !errors.Is(err, util.ErrEmailTaken) {
		t.Errorf("duplicate Register() err = %v, want ErrEmailTaken", err)
	}
}

func TestLoginFailures(t *testing.T) {
	auth, store := newAuth(t)
	ctx := context.Background()
	if err := auth.Register(ctx, &model.User{Email: "bob@example.com", Password: "pw", Role: model.RoleTeacher}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	if _, err := auth.Login(ctx, LoginRequest{Email: "bob@example.com", Password: "wrong"}); !errors.Is(err, util.ErrInvalidCredentials) {
		t.Errorf("wrong password err = %v, want ErrInvalidCredentials", err)
	}
	if _, err := auth.Login(ctx, LoginRequest{Email: "nobody@example.com", Password: "pw"}); !errors.Is(err, util.ErrInvalidCredentials) {
		t.Errorf("unknown email err = %v, want ErrInvalidCredentials", err)
	}

	for _, u := range store.users {
		u.Disabled = true
	}
	if _, err := auth.Login(ctx, LoginRequest{Email: "bob@example.com", Password: "pw"}); !errors.Is(err, util.ErrPermissionDenied) {
		t.Errorf("disabled user err = %v, want ErrPermissionDenied", err)
	}
}
