// Package account registers users and exchanges credentials for session tokens.
package account

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/zhouzirui/career-chat/backend/internal/apperr"
	"github.com/zhouzirui/career-chat/backend/internal/auth"
	"github.com/zhouzirui/career-chat/backend/internal/model/user"
	"github.com/zhouzirui/career-chat/backend/internal/store"
	"github.com/zhouzirui/career-chat/backend/internal/validation"
)

var errInvalidCredentials = fmt.Errorf("%w: invalid credentials", apperr.ErrUnauthorized)

// Registration is the input of Register.
type Registration struct {
	Email    string `json:"email" validate:"required,email,max=320"`
	Password string `json:"password" validate:"required,min=8,max=72"`
	Name     string `json:"name" validate:"omitempty,max=100"`
}

// Login is a signed-in session.
type Login struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	User      user.User `json:"user"`
}

// Service owns account creation and sign-in.
type Service struct {
	store  store.Store
	tokens *auth.TokenIssuer
	cost   int
	log    *zap.Logger
}

// NewService wires the account service. cost is the bcrypt work factor; zero
// selects bcrypt.DefaultCost.
func NewService(st store.Store, tokens *auth.TokenIssuer, cost int, log *zap.Logger) *Service {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &Service{store: st, tokens: tokens, cost: cost, log: log.Named("account")}
}

// Register creates an account. E-mails are compared case-insensitively.
func (s *Service) Register(ctx context.Context, in Registration) (user.User, error) {
	in.Email = normalizeEmail(in.Email)
	in.Name = strings.TrimSpace(in.Name)
	if err := validation.Struct(in); err != nil {
		return user.User{}, err
	}

	if _, err := s.store.FindUserByEmail(ctx, in.Email); err == nil {
		return user.User{}, fmt.Errorf("%w: email already in use", apperr.ErrConflict)
	} else if !errors.Is(err, apperr.ErrNotFound) {
		return user.User{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.cost)
	if err != nil {
		return user.User{}, fmt.Errorf("hash password: %w", err)
	}

	created, err := s.store.CreateUser(ctx, user.User{
		Email:        in.Email,
		Name:         in.Name,
		PasswordHash: string(hash),
	})
	if err != nil {
		return user.User{}, err
	}

	s.log.Info("account registered", zap.String("user", created.ID))
	return created, nil
}

// Login verifies the password and issues a session token. Unknown e-mails and
// wrong passwords fail the same way.
func (s *Service) Login(ctx context.Context, email, password string) (Login, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return Login{}, errInvalidCredentials
	}

	u, err := s.store.FindUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return Login{}, errInvalidCredentials
		}
		return Login{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return Login{}, errInvalidCredentials
	}

	token, expiresAt, err := s.tokens.Issue(u.ID)
	if err != nil {
		return Login{}, err
	}
	return Login{Token: token, ExpiresAt: expiresAt, User: u}, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
