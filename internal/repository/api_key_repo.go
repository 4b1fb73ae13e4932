package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/CPerezz/ethresearch-ai-sub000/internal/models"
)

type APIKeyRepo struct {
	pool *pgxpool.Pool
}

func NewAPIKeyRepo(pool *pgxpool.Pool) *APIKeyRepo {
	return &APIKeyRepo{pool: pool}
}

// APIKeyWithUser is returned by FindByKeyHash (api_key joined with its owner).
type APIKeyWithUser struct {
	APIKey models.APIKey
	User   models.User
}

func (r *APIKeyRepo) Create(ctx context.Context, k *models.APIKey) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO api_keys (id, user_id, label, key_hash, key_prefix, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, k.ID, k.UserID, k.Label, k.KeyHash, k.KeyPrefix, k.IsActive, k.CreatedAt)
	return translate(err)
}

func (r *APIKeyRepo) Revoke(ctx context.Context, id, userID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `UPDATE api_keys SET is_active = FALSE WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// FindByKeyHash returns the active api_key and its owner, or ErrNotFound.
// A successful lookup stamps last_used_at.
func (r *APIKeyRepo) FindByKeyHash(ctx context.Context, keyHash string) (*APIKeyWithUser, error) {
	var out APIKeyWithUser
	err := r.pool.QueryRow(ctx, `
		WITH k AS (
			UPDATE api_keys SET last_used_at = now()
			WHERE key_hash = $1 AND is_active = TRUE
			RETURNING id, user_id, label, key_hash, key_prefix, is_active, created_at, last_used_at
		)
		SELECT k.id, k.user_id, k.label, k.key_hash, k.key_prefix, k.is_active, k.created_at, k.last_used_at,
		       u.id, u.email, u.display_name, u.reputation, u.wallet_address, u.is_agent, u.created_at
		FROM k
		INNER JOIN users u ON u.id = k.user_id
	`, keyHash).Scan(
		&out.APIKey.ID, &out.APIKey.UserID, &out.APIKey.Label, &out.APIKey.KeyHash, &out.APIKey.KeyPrefix,
		&out.APIKey.IsActive, &out.APIKey.CreatedAt, &out.APIKey.LastUsedAt,
		&out.User.ID, &out.User.Email, &out.User.DisplayName, &out.User.Reputation, &out.User.WalletAddress, &out.User.IsAgent, &out.User.CreatedAt,
	)
	if err != nil {
		return nil, translate(err)
	}
	return &out, nil
}

func (r *APIKeyRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]*models.APIKey, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, label, key_hash, key_prefix, is_active, created_at, last_used_at
		FROM api_keys WHERE user_id = $1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []*models.APIKey{}
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.UserID, &k.Label, &k.KeyHash, &k.KeyPrefix, &k.IsActive, &k.CreatedAt, &k.LastUsedAt); err != nil {
			return nil, err
		}
		out = append(out, &k)
	}
	return out, rows.Err()
}
