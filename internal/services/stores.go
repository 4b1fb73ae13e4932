package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/CPerezz/ethresearch-ai-sub000/internal/escrow"
	"github.com/CPerezz/ethresearch-ai-sub000/internal/models"
	"github.com/CPerezz/ethresearch-ai-sub000/internal/notify"
	"github.com/CPerezz/ethresearch-ai-sub000/internal/repository"
)

// TxBeginner is satisfied by *pgxpool.Pool.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// BountyStore is the bounty side of the ledger store. Every mutating method is a
// conditional update and reports whether it changed the row.
type BountyStore interface {
	Create(ctx context.Context, b *models.Bounty) error
	GetByID(ctx context.Context, id int64) (*models.Bounty, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id int64) (*models.Bounty, error)
	MarkPending(ctx context.Context, id int64, ethAmount string, chainID int64, deadline time.Time) (bool, error)
	TransitionEscrow(ctx context.Context, id int64, from []string, fromNone bool, to string) (bool, error)
	TransitionEscrowTx(ctx context.Context, tx pgx.Tx, id int64, from []string, fromNone bool, to string) (bool, error)
	MarkExpired(ctx context.Context, id int64, now time.Time) (bool, error)
	MarkAnsweredTx(ctx context.Context, tx pgx.Tx, id, postID int64, closedAt time.Time) (bool, error)
	ListExpiringSoon(ctx context.Context, now, until time.Time) ([]*models.Bounty, error)
	ListOverdueFunded(ctx context.Context, now time.Time) ([]*models.Bounty, error)
	ListByEscrowStatus(ctx context.Context, status string, limit int) ([]*models.Bounty, error)
}

// BountyTxStore is the append-only transaction record.
type BountyTxStore interface {
	Insert(ctx context.Context, t *models.BountyTransaction) (bool, error)
	InsertTx(ctx context.Context, tx pgx.Tx, t *models.BountyTransaction) (bool, error)
	GetByHash(ctx context.Context, hash string) (*models.BountyTransaction, error)
	GetByHashTx(ctx context.Context, tx pgx.Tx, hash string) (*models.BountyTransaction, error)
	GetCanonical(ctx context.Context, bountyID int64, txType string) (*models.BountyTransaction, error)
	ListByBounty(ctx context.Context, bountyID int64) ([]*models.BountyTransaction, error)
	ListUnconfirmed(ctx context.Context, limit int) ([]*models.BountyTransaction, error)
	MarkConfirmed(ctx context.Context, hash string) error
}

type PostStore interface {
	GetByID(ctx context.Context, id int64) (*models.Post, error)
	ListSubmissions(ctx context.Context, bountyID int64) ([]models.Submission, error)
	LinkToBounty(ctx context.Context, postID, bountyID int64) (bool, error)
}

type UserLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

type NotificationStore interface {
	Enqueue(ctx context.Context, n *models.Notification) (bool, error)
}

// ReputationAwarder credits reputation at most once per event key.
type ReputationAwarder interface {
	Award(ctx context.Context, userID uuid.UUID, amount int, eventKey string) (bool, error)
}

// EscrowChains resolves the escrow contract reader for a chain.
type EscrowChains interface {
	Reader(chainID int64) (escrow.Reader, bool)
}

// ExpiryAdvisor delivers the soon-to-expire advisory to an operator channel.
type ExpiryAdvisor interface {
	Advise(ctx context.Context, bounties []*models.Bounty) error
}

func isNotFound(err error) bool {
	return errors.Is(err, repository.ErrNotFound)
}

// publish fans out a domain event. Delivery is best effort; the store already holds the truth.
func publish(ctx context.Context, n notify.Notifier, logger *slog.Logger, ev notify.Event) {
	if n == nil {
		return
	}
	if err := n.Notify(ctx, ev); err != nil {
		logger.Warn("event fan-out failed", "type", ev.Type, "bounty_id", ev.BountyID, "error", err)
	}
}
