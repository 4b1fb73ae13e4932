package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/CPerezz/ethresearch-ai-sub000/internal/apperr"
	"github.com/CPerezz/ethresearch-ai-sub000/internal/middleware"
	"github.com/CPerezz/ethresearch-ai-sub000/internal/models"
	"github.com/CPerezz/ethresearch-ai-sub000/internal/repository"
)

var (
	// ErrDuplicateEmail is returned when registering with an email that already exists.
	ErrDuplicateEmail = apperr.Conflict("email already registered")
	// ErrInvalidCredentials covers both an unknown email and a wrong password.
	ErrInvalidCredentials = apperr.Auth("invalid credentials")
)

type RegisterInput struct {
	Email         string
	Password      string
	DisplayName   string
	WalletAddress string
	IsAgent       bool
}

type Service interface {
	Register(ctx context.Context, in RegisterInput) (*models.User, error)
	Login(ctx context.Context, email, password string) (string, error)
	ValidateToken(ctx context.Context, token string) (uuid.UUID, error)
	CreateAPIKey(ctx context.Context, userID uuid.UUID, label string) (string, *models.APIKey, error)
	RevokeAPIKey(ctx context.Context, userID, keyID uuid.UUID) error
}

type service struct {
	users  UserStore
	keys   KeyStore
	secret []byte
	ttl    time.Duration
}

func NewService(users UserStore, keys KeyStore, secret string, ttl time.Duration) *service {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &service{users: users, keys: keys, secret: []byte(secret), ttl: ttl}
}

// Ensure service implements Service at compile time.
var _ Service = (*service)(nil)

func (s *service) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if in.Email == "" || !strings.Contains(in.Email, "@") {
		return nil, apperr.Validation("a valid email is required")
	}
	if len(in.Password) < 8 {
		return nil, apperr.Validation("password must be at least 8 characters")
	}
	if strings.TrimSpace(in.DisplayName) == "" {
		return nil, apperr.Validation("displayName is required")
	}
	u := &models.User{Email: in.Email, DisplayName: strings.TrimSpace(in.DisplayName), IsAgent: in.IsAgent}
	if in.WalletAddress != "" {
		if !common.IsHexAddress(in.WalletAddress) {
			return nil, apperr.Validation("walletAddress must be a 0x-prefixed 20-byte hex address")
		}
		w := common.HexToAddress(in.WalletAddress).Hex()
		u.WalletAddress = &w
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	u.PasswordHash = string(hash)
	if err := s.users.Create(ctx, u); err != nil {
		if errors.Is(err, repository.ErrUniqueViolation) {
			return nil, ErrDuplicateEmail
		}
		return nil, err
	}
	return u, nil
}

type claims struct {
	jwt.RegisteredClaims
}

func (s *service) Login(ctx context.Context, email, password string) (string, error) {
	u, err := s.users.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if errors.Is(err, repository.ErrNotFound) {
		return "", ErrInvalidCredentials
	}
	if err != nil {
		return "", err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}
	return s.issueToken(u.ID)
}

func (s *service) issueToken(userID uuid.UUID) (string, error) {
	now := time.Now()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return tok.SignedString(s.secret)
}

func (s *service) ValidateToken(_ context.Context, token string) (uuid.UUID, error) {
	tok, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return uuid.Nil, err
	}
	c, ok := tok.Claims.(*claims)
	if !ok || !tok.Valid {
		return uuid.Nil, errors.New("invalid token")
	}
	return uuid.Parse(c.Subject)
}

// CreateAPIKey returns the raw key once; only its hash is stored.
func (s *service) CreateAPIKey(ctx context.Context, userID uuid.UUID, label string) (string, *models.APIKey, error) {
	label = strings.TrimSpace(label)
	if len(label) > models.MaxAPIKeyLabel {
		return "", nil, apperr.Validation("label must be at most %d characters", models.MaxAPIKeyLabel)
	}
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", nil, err
	}
	raw := middleware.APIKeyPrefix + hex.EncodeToString(buf)
	k := &models.APIKey{
		ID:        uuid.New(),
		UserID:    userID,
		Label:     label,
		KeyHash:   middleware.HashKey(raw),
		KeyPrefix: raw[:len(middleware.APIKeyPrefix)+6],
		IsActive:  true,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.keys.Create(ctx, k); err != nil {
		return "", nil, err
	}
	return raw, k, nil
}

func (s *service) RevokeAPIKey(ctx context.Context, userID, keyID uuid.UUID) error {
	err := s.keys.Revoke(ctx, keyID, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.NotFound("api key %s not found", keyID)
	}
	return err
}
