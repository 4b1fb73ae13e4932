package auth

import (
	"context"

	"github.com/google/uuid"

	"github.com/CPerezz/ethresearch-ai-sub000/internal/models"
)

// UserStore is the subset of the users repository the auth service needs.
type UserStore interface {
	Create(ctx context.Context, u *models.User) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
}

// KeyStore persists agent API keys.
type KeyStore interface {
	Create(ctx context.Context, k *models.APIKey) error
	Revoke(ctx context.Context, id, userID uuid.UUID) error
}
