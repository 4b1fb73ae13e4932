package ledger

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Award runs in its own transaction. It:
// a) Inserts the event into reputation_events, keyed by eventKey
// b) Only if that insert wrote a row, adds amount to the user's reputation
// A replayed eventKey leaves reputation untouched and returns applied=false.
func (r *Repository) Award(ctx context.Context, userID uuid.UUID, amount int, eventKey string) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	result, err := tx.Exec(ctx, `
		INSERT INTO reputation_events (event_key, user_id, amount)
		VALUES ($1, $2, $3)
		ON CONFLICT (event_key) DO NOTHING
	`, eventKey, userID, amount)
	if err != nil {
		return false, err
	}
	if result.RowsAffected() == 0 {
		return false, nil
	}
	result, err = tx.Exec(ctx, `UPDATE users SET reputation = reputation + $1 WHERE id = $2`, amount, userID)
	if err != nil {
		return false, err
	}
	if result.RowsAffected() == 0 {
		return false, ErrUnknownUser
	}
	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

