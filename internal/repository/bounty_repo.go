package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/CPerezz/ethresearch-ai-sub000/internal/models"
)

const bountyColumns = `id, title, description, author_id, reputation_reward, eth_amount::text, chain_id, deadline,
	status, escrow_status, winner_post_id, closed_at, created_at, updated_at`

type BountyRepo struct {
	pool *pgxpool.Pool
}

func NewBountyRepo(pool *pgxpool.Pool) *BountyRepo {
	return &BountyRepo{pool: pool}
}

func scanBounty(row pgx.Row) (*models.Bounty, error) {
	var b models.Bounty
	err := row.Scan(&b.ID, &b.Title, &b.Description, &b.AuthorID, &b.ReputationReward, &b.EthAmount, &b.ChainID, &b.Deadline,
		&b.Status, &b.EscrowStatus, &b.WinnerPostID, &b.ClosedAt, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, translate(err)
	}
	return &b, nil
}

func collectBounties(rows pgx.Rows, err error) ([]*models.Bounty, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Bounty
	for rows.Next() {
		b, err := scanBounty(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, b)
	}
	return list, rows.Err()
}

// Create inserts a bounty with no escrow fields; escrow is only set by the funding recorder.
func (r *BountyRepo) Create(ctx context.Context, b *models.Bounty) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO bounties (title, description, author_id, reputation_reward, status)
		VALUES ($1, $2, $3, $4, 'open')
		RETURNING id, status, created_at, updated_at
	`, b.Title, b.Description, b.AuthorID, b.ReputationReward).Scan(&b.ID, &b.Status, &b.CreatedAt, &b.UpdatedAt)
}

func (r *BountyRepo) GetByID(ctx context.Context, id int64) (*models.Bounty, error) {
	return scanBounty(r.pool.QueryRow(ctx, `SELECT `+bountyColumns+` FROM bounties WHERE id = $1`, id))
}

// GetByIDForUpdate locks the bounty row for the rest of tx.
func (r *BountyRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id int64) (*models.Bounty, error) {
	return scanBounty(tx.QueryRow(ctx, `SELECT `+bountyColumns+` FROM bounties WHERE id = $1 FOR UPDATE`, id))
}

// MarkPending records the funding intent. It only applies while the bounty has no escrow status.
func (r *BountyRepo) MarkPending(ctx context.Context, id int64, ethAmount string, chainID int64, deadline time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE bounties
		SET escrow_status = 'pending', eth_amount = $2::numeric, chain_id = $3, deadline = $4, updated_at = now()
		WHERE id = $1 AND escrow_status IS NULL
	`, id, ethAmount, chainID, deadline)
	if err != nil {
		return false, translate(err)
	}
	return tag.RowsAffected() == 1, nil
}

func transitionEscrow(ctx context.Context, q Querier, id int64, from []string, fromNone bool, to string) (bool, error) {
	tag, err := q.Exec(ctx, `
		UPDATE bounties SET escrow_status = $2, updated_at = now()
		WHERE id = $1 AND (escrow_status = ANY($3) OR ($4 AND escrow_status IS NULL))
	`, id, to, from, fromNone)
	if err != nil {
		return false, translate(err)
	}
	return tag.RowsAffected() == 1, nil
}

// TransitionEscrow moves escrow_status to `to` only if it is currently one of `from`
// (or NULL when fromNone). It reports whether the row changed.
func (r *BountyRepo) TransitionEscrow(ctx context.Context, id int64, from []string, fromNone bool, to string) (bool, error) {
	return transitionEscrow(ctx, r.pool, id, from, fromNone, to)
}

// TransitionEscrowTx is TransitionEscrow inside tx.
func (r *BountyRepo) TransitionEscrowTx(ctx context.Context, tx pgx.Tx, id int64, from []string, fromNone bool, to string) (bool, error) {
	return transitionEscrow(ctx, tx, id, from, fromNone, to)
}

// MarkExpired flips a funded bounty whose deadline has passed to expired.
func (r *BountyRepo) MarkExpired(ctx context.Context, id int64, now time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE bounties SET escrow_status = 'expired', updated_at = now()
		WHERE id = $1 AND escrow_status = 'funded' AND deadline IS NOT NULL AND deadline <= $2
	`, id, now)
	if err != nil {
		return false, translate(err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkAnsweredTx records the winner while the bounty is still open.
func (r *BountyRepo) MarkAnsweredTx(ctx context.Context, tx pgx.Tx, id, postID int64, closedAt time.Time) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE bounties SET status = 'answered', winner_post_id = $2, closed_at = $3, updated_at = now()
		WHERE id = $1 AND status = 'open'
	`, id, postID, closedAt)
	if err != nil {
		return false, translate(err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListExpiringSoon returns open, funded bounties whose deadline falls in (now, until].
func (r *BountyRepo) ListExpiringSoon(ctx context.Context, now, until time.Time) ([]*models.Bounty, error) {
	return collectBounties(r.pool.Query(ctx, `
		SELECT `+bountyColumns+` FROM bounties
		WHERE escrow_status = 'funded' AND status = 'open' AND deadline > $1 AND deadline <= $2
		ORDER BY deadline ASC
	`, now, until))
}

// ListOverdueFunded returns funded bounties whose deadline has passed.
func (r *BountyRepo) ListOverdueFunded(ctx context.Context, now time.Time) ([]*models.Bounty, error) {
	return collectBounties(r.pool.Query(ctx, `
		SELECT `+bountyColumns+` FROM bounties
		WHERE escrow_status = 'funded' AND deadline <= $1
		ORDER BY deadline ASC
	`, now))
}

func (r *BountyRepo) ListByEscrowStatus(ctx context.Context, status string, limit int) ([]*models.Bounty, error) {
	return collectBounties(r.pool.Query(ctx, `
		SELECT `+bountyColumns+` FROM bounties
		WHERE escrow_status = $1
		ORDER BY updated_at ASC
		LIMIT $2
	`, status, limit))
}
