package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/flippedyesyes/bookstore/internal/core/domain"
	"github.com/flippedyesyes/bookstore/internal/port"
)

// AccountService handles registration, login tokens and account lifecycle.
// Tokens are HS256 JWTs keyed per user and also stored server-side, so a
// token is valid only while it matches the persisted one and is within its
// lifetime.
type AccountService struct {
	accounts      port.AccountRepository
	tokenLifetime time.Duration
	logger        *zap.Logger
}

func NewAccountService(accounts port.AccountRepository, tokenLifetime time.Duration, logger *zap.Logger) *AccountService {
	return &AccountService{
		accounts:      accounts,
		tokenLifetime: tokenLifetime,
		logger:        logger,
	}
}

type tokenClaims struct {
	UserID   string  `json:"user_id"`
	Terminal string  `json:"terminal"`
	Stamp    float64 `json:"timestamp"`
	jwt.RegisteredClaims
}

func signToken(userID, terminal string) (string, error) {
	claims := tokenClaims{
		UserID:   userID,
		Terminal: terminal,
		Stamp:    float64(time.Now().UnixNano()) / float64(time.Second),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(userID))
}

func (s *AccountService) checkToken(userID, dbToken, token string) bool {
	if dbToken != token {
		return false
	}
	parsed, err := jwt.ParseWithClaims(token, &tokenClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(userID), nil
	})
	if err != nil || !parsed.Valid {
		return false
	}
	claims, ok := parsed.Claims.(*tokenClaims)
	if !ok || claims.Stamp == 0 {
		return false
	}
	age := float64(time.Now().UnixNano())/float64(time.Second) - claims.Stamp
	return age >= 0 && age < s.tokenLifetime.Seconds()
}

// Register creates a user or revives a soft-deleted one under the same id.
// A revived account starts over: new password, zero balance.
func (s *AccountService) Register(ctx context.Context, userID, password string) error {
	terminal := newTerminal()
	token, err := signToken(userID, terminal)
	if err != nil {
		return s.internal("register: sign token", err)
	}

	existing, err := s.accounts.GetUser(ctx, userID, true)
	if err != nil {
		return s.internal("register: load user", err)
	}
	if existing != nil {
		if existing.Status == domain.UserStatusActive {
			return domain.ErrExistUser(userID)
		}
		ok, err := s.accounts.ReviveUser(ctx, userID, password, token, terminal)
		if err != nil {
			return s.internal("register: revive user", err)
		}
		if !ok {
			return domain.ErrExistUser(userID)
		}
		return nil
	}

	err = s.accounts.CreateUser(ctx, domain.User{
		UserID:   userID,
		Password: password,
		Token:    token,
		Terminal: terminal,
		Status:   domain.UserStatusActive,
	})
	if errors.Is(err, port.ErrDuplicateKey) {
		return domain.ErrExistUser(userID)
	}
	if err != nil {
		return s.internal("register: create user", err)
	}
	return nil
}

// Login validates the password and issues a fresh token bound to the
// calling terminal.
func (s *AccountService) Login(ctx context.Context, userID, password, terminal string) (string, error) {
	if err := s.CheckPassword(ctx, userID, password); err != nil {
		return "", err
	}
	token, err := signToken(userID, terminal)
	if err != nil {
		return "", s.internal("login: sign token", err)
	}
	ok, err := s.accounts.UpdateToken(ctx, userID, token, terminal)
	if err != nil {
		return "", s.internal("login: store token", err)
	}
	if !ok {
		return "", domain.ErrAuthorizationFail()
	}
	return token, nil
}

// Logout rotates the stored token so the presented one stops working.
func (s *AccountService) Logout(ctx context.Context, userID, token string) error {
	if err := s.CheckToken(ctx, userID, token); err != nil {
		return err
	}
	terminal := newTerminal()
	dummy, err := signToken(userID, terminal)
	if err != nil {
		return s.internal("logout: sign token", err)
	}
	ok, err := s.accounts.UpdateToken(ctx, userID, dummy, terminal)
	if err != nil {
		return s.internal("logout: store token", err)
	}
	if !ok {
		return domain.ErrAuthorizationFail()
	}
	return nil
}

// Unregister soft-deletes the account. Orders referencing it stay intact.
func (s *AccountService) Unregister(ctx context.Context, userID, password string) error {
	if err := s.CheckPassword(ctx, userID, password); err != nil {
		return err
	}
	ok, err := s.accounts.SoftDeleteUser(ctx, userID)
	if err != nil {
		return s.internal("unregister: soft delete", err)
	}
	if !ok {
		return domain.ErrAuthorizationFail()
	}
	return nil
}

func (s *AccountService) ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error {
	if err := s.CheckPassword(ctx, userID, oldPassword); err != nil {
		return err
	}
	terminal := newTerminal()
	token, err := signToken(userID, terminal)
	if err != nil {
		return s.internal("change password: sign token", err)
	}
	ok, err := s.accounts.UpdatePassword(ctx, userID, newPassword, token, terminal)
	if err != nil {
		return s.internal("change password: update", err)
	}
	if !ok {
		return domain.ErrAuthorizationFail()
	}
	return nil
}

// CheckPassword fails closed: a missing or deleted user is an
// authorization failure, never a lookup error.
func (s *AccountService) CheckPassword(ctx context.Context, userID, password string) error {
	user, err := s.accounts.GetUser(ctx, userID, false)
	if err != nil {
		return s.internal("check password: load user", err)
	}
	if user == nil || user.Password != password {
		return domain.ErrAuthorizationFail()
	}
	return nil
}

func (s *AccountService) CheckToken(ctx context.Context, userID, token string) error {
	user, err := s.accounts.GetUser(ctx, userID, false)
	if err != nil {
		return s.internal("check token: load user", err)
	}
	if user == nil || !s.checkToken(userID, user.Token, token) {
		return domain.ErrAuthorizationFail()
	}
	return nil
}

func (s *AccountService) internal(op string, err error) error {
	s.logger.Error(op, zap.Error(err))
	return domain.ErrInternal(err)
}

func newTerminal() string {
	return fmt.Sprintf("terminal_%d", time.Now().UnixNano())
}
