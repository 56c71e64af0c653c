package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"idea-tracker/internal/lockout"
)

const (
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 7 * 24 * time.Hour
)

var ErrInvalidCredentials = errors.New("invalid credentials")

// LoginGuard is the failed-login lockout consulted around credential checks.
type LoginGuard interface {
	CheckLock(ctx context.Context, identifier string) lockout.Status
	RecordFailure(ctx context.Context, identifier string) lockout.Status
	ClearOnSuccess(ctx context.Context, identifier string)
}

type Service struct {
	repo         *Repository
	guard        LoginGuard
	jwtSecret    []byte
	accessTTL    time.Duration
	refreshTTL   time.Duration
	passwordCost int
	clock        func() time.Time
}

func NewService(repo *Repository, guard LoginGuard, jwtSecret string) *Service {
	return &Service{
		repo:         repo,
		guard:        guard,
		jwtSecret:    []byte(jwtSecret),
		accessTTL:    defaultAccessTTL,
		refreshTTL:   defaultRefreshTTL,
		passwordCost: bcrypt.DefaultCost,
		clock:        func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) WithTokenTTL(accessTTL, refreshTTL time.Duration) *Service {
	if accessTTL > 0 {
		s.accessTTL = accessTTL
	}
	if refreshTTL > 0 {
		s.refreshTTL = refreshTTL
	}
	return s
}

func (s *Service) WithPasswordCost(cost int) *Service {
	if cost >= bcrypt.MinCost && cost <= bcrypt.MaxCost {
		s.passwordCost = cost
	}
	return s
}

func NormalizeEmail(email string) string {
	return lockout.NormalizeIdentifier(email)
}

func (s *Service) Register(ctx context.Context, email, password string) (Session, error) {
	email = NormalizeEmail(email)

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.passwordCost)
	if err != nil {
		return Session{}, fmt.Errorf("hash password: %w", err)
	}

	user, err := s.repo.Create(ctx, email, string(hash), s.clock())
	if err != nil {
		return Session{}, err
	}

	return s.issueSession(ctx, user)
}

// Login checks the lockout before touching credentials. A failure that
// reaches the threshold is reported as the lockout itself.
func (s *Service) Login(ctx context.Context, email, password string) (Session, error) {
	email = NormalizeEmail(email)
	if email == "" || password == "" {
		return Session{}, ErrInvalidCredentials
	}

	if status := s.guard.CheckLock(ctx, email); status.Locked {
		return Session{}, lockout.LockedError{Until: s.clock().Add(status.Remaining)}
	}

	user, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return Session{}, s.failLogin(ctx, email)
		}
		return Session{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return Session{}, s.failLogin(ctx, email)
	}

	s.guard.ClearOnSuccess(ctx, email)
	return s.issueSession(ctx, user)
}

func (s *Service) failLogin(ctx context.Context, email string) error {
	status := s.guard.RecordFailure(ctx, email)
	if status.Locked {
		return lockout.LockedError{Until: s.clock().Add(status.Remaining)}
	}
	return ErrInvalidCredentials
}

func (s *Service) Me(ctx context.Context, userID string) (PublicUser, error) {
	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return PublicUser{}, err
	}
	return user.Public(), nil
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Tokens, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return Tokens{}, ErrInvalidRefreshToken
	}

	newRefresh, err := randomToken(48)
	if err != nil {
		return Tokens{}, fmt.Errorf("generate new refresh token: %w", err)
	}

	now := s.clock()
	userID, err := s.repo.RotateRefreshToken(ctx, refreshToken, newRefresh, now.Add(s.refreshTTL), now)
	if err != nil {
		return Tokens{}, err
	}

	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return Tokens{}, err
	}

	access, expiresIn, err := s.issueAccessToken(user)
	if err != nil {
		return Tokens{}, err
	}

	return Tokens{
		AccessToken:  access,
		RefreshToken: newRefresh,
		TokenType:    "Bearer",
		ExpiresIn:    expiresIn,
	}, nil
}

func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return ErrInvalidRefreshToken
	}
	return s.repo.RevokeRefreshToken(ctx, refreshToken, s.clock())
}

func (s *Service) issueSession(ctx context.Context, user User) (Session, error) {
	access, expiresIn, err := s.issueAccessToken(user)
	if err != nil {
		return Session{}, err
	}

	refreshToken, err := randomToken(48)
	if err != nil {
		return Session{}, fmt.Errorf("generate refresh token: %w", err)
	}
	now := s.clock()
	if err := s.repo.CreateRefreshToken(ctx, user.ID, refreshToken, now.Add(s.refreshTTL), now); err != nil {
		return Session{}, err
	}

	return Session{
		Tokens: Tokens{
			AccessToken:  access,
			RefreshToken: refreshToken,
			TokenType:    "Bearer",
			ExpiresIn:    expiresIn,
		},
		User: user.Public(),
	}, nil
}

func (s *Service) issueAccessToken(user User) (string, int64, error) {
	now := s.clock()
	claims := jwt.MapClaims{
		"sub":   user.ID,
		"email": user.Email,
		"iat":   now.Unix(),
		"exp":   now.Add(s.accessTTL).Unix(),
		"typ":   "access",
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	encoded, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", 0, fmt.Errorf("sign jwt: %w", err)
	}

	return encoded, int64(s.accessTTL.Seconds()), nil
}

func randomToken(size int) (string, error) {
	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
