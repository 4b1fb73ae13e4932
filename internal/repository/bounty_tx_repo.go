package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/CPerezz/ethresearch-ai-sub000/internal/models"
)

const bountyTxColumns = `id, bounty_id, tx_type, tx_hash, from_address, to_address, amount::text, chain_id, confirmed, created_at`

type BountyTxRepo struct {
	pool *pgxpool.Pool
}

func NewBountyTxRepo(pool *pgxpool.Pool) *BountyTxRepo {
	return &BountyTxRepo{pool: pool}
}

func scanBountyTx(row pgx.Row) (*models.BountyTransaction, error) {
	var t models.BountyTransaction
	err := row.Scan(&t.ID, &t.BountyID, &t.TxType, &t.TxHash, &t.FromAddress, &t.ToAddress, &t.Amount, &t.ChainID, &t.Confirmed, &t.CreatedAt)
	if err != nil {
		return nil, translate(err)
	}
	return &t, nil
}

func insertBountyTx(ctx context.Context, q Querier, t *models.BountyTransaction) (bool, error) {
	err := q.QueryRow(ctx, `
		INSERT INTO bounty_transactions (bounty_id, tx_type, tx_hash, from_address, to_address, amount, chain_id, confirmed)
		VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8)
		ON CONFLICT (tx_hash) DO NOTHING
		RETURNING id, created_at
	`, t.BountyID, t.TxType, t.TxHash, t.FromAddress, t.ToAddress, t.Amount, t.ChainID, t.Confirmed).Scan(&t.ID, &t.CreatedAt)
	if err != nil {
		err = translate(err)
		if err == ErrNotFound {
			// ON CONFLICT DO NOTHING returns no row: the hash is already recorded.
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Insert appends t. A duplicate tx_hash is tolerated and reported as inserted=false;
// a second canonical row for the same bounty and tx_type fails with ErrUniqueViolation.
func (r *BountyTxRepo) Insert(ctx context.Context, t *models.BountyTransaction) (bool, error) {
	return insertBountyTx(ctx, r.pool, t)
}

// InsertTx is Insert inside tx.
func (r *BountyTxRepo) InsertTx(ctx context.Context, tx pgx.Tx, t *models.BountyTransaction) (bool, error) {
	return insertBountyTx(ctx, tx, t)
}

func (r *BountyTxRepo) GetByHash(ctx context.Context, hash string) (*models.BountyTransaction, error) {
	return scanBountyTx(r.pool.QueryRow(ctx, `SELECT `+bountyTxColumns+` FROM bounty_transactions WHERE tx_hash = $1`, hash))
}

func (r *BountyTxRepo) GetByHashTx(ctx context.Context, tx pgx.Tx, hash string) (*models.BountyTransaction, error) {
	return scanBountyTx(tx.QueryRow(ctx, `SELECT `+bountyTxColumns+` FROM bounty_transactions WHERE tx_hash = $1`, hash))
}

// GetCanonical returns the bounty's fund or payout transaction.
func (r *BountyTxRepo) GetCanonical(ctx context.Context, bountyID int64, txType string) (*models.BountyTransaction, error) {
	return scanBountyTx(r.pool.QueryRow(ctx, `
		SELECT `+bountyTxColumns+` FROM bounty_transactions WHERE bounty_id = $1 AND tx_type = $2
	`, bountyID, txType))
}

func (r *BountyTxRepo) ListByBounty(ctx context.Context, bountyID int64) ([]*models.BountyTransaction, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+bountyTxColumns+` FROM bounty_transactions WHERE bounty_id = $1 ORDER BY created_at ASC
	`, bountyID)
	if err != nil {
		return nil, err
	}
	return collectBountyTxs(rows)
}

func (r *BountyTxRepo) ListUnconfirmed(ctx context.Context, limit int) ([]*models.BountyTransaction, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+bountyTxColumns+` FROM bounty_transactions WHERE confirmed = FALSE ORDER BY created_at ASC LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	return collectBountyTxs(rows)
}

func (r *BountyTxRepo) MarkConfirmed(ctx context.Context, hash string) error {
	_, err := r.pool.Exec(ctx, `UPDATE bounty_transactions SET confirmed = TRUE WHERE tx_hash = $1`, hash)
	return err
}

func collectBountyTxs(rows pgx.Rows) ([]*models.BountyTransaction, error) {
	defer rows.Close()
	list := []*models.BountyTransaction{}
	for rows.Next() {
		t, err := scanBountyTx(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, t)
	}
	return list, rows.Err()
}
