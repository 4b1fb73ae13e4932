package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/CPerezz/ethresearch-ai-sub000/internal/apperr"
	"github.com/CPerezz/ethresearch-ai-sub000/internal/metrics"
	"github.com/CPerezz/ethresearch-ai-sub000/internal/models"
)

// InsertRewardTxFunc enqueues the reward job for a bounty inside tx, so the job exists iff tx commits.
type InsertRewardTxFunc func(ctx context.Context, tx pgx.Tx, bountyID int64) error

// WinnerSelector moves a bounty from open to answered. Reputation and the winner's
// notification are handled by the reward job it enqueues in the same transaction.
type WinnerSelector struct {
	Pool          TxBeginner
	Bounties      BountyStore
	Posts         PostStore
	EnqueueReward InsertRewardTxFunc
	Logger        *slog.Logger
	Now           func() time.Time
}

func NewWinnerSelector(pool TxBeginner, bounties BountyStore, posts PostStore, enqueue InsertRewardTxFunc, logger *slog.Logger) *WinnerSelector {
	if logger == nil {
		logger = slog.Default()
	}
	return &WinnerSelector{Pool: pool, Bounties: bounties, Posts: posts, EnqueueReward: enqueue, Logger: logger, Now: time.Now}
}

// Select checks, in order: bounty exists, actor is the author, bounty is open,
// post exists, post belongs to the bounty.
func (s *WinnerSelector) Select(ctx context.Context, actorID uuid.UUID, bountyID, postID int64) (*models.Bounty, error) {
	b, err := s.Bounties.GetByID(ctx, bountyID)
	if isNotFound(err) {
		return nil, apperr.NotFound("bounty %d not found", bountyID)
	}
	if err != nil {
		return nil, err
	}
	if b.AuthorID != actorID {
		return nil, apperr.Forbidden("only the bounty author can select a winner")
	}
	if err := CheckAnswer(b); err != nil {
		if b.WinnerPostID != nil && *b.WinnerPostID == postID {
			s.repairReward(ctx, bountyID)
		}
		return nil, err
	}

	post, err := s.Posts.GetByID(ctx, postID)
	if isNotFound(err) {
		return nil, apperr.NotFound("post %d not found", postID)
	}
	if err != nil {
		return nil, err
	}
	if post.BountyID == nil || *post.BountyID != bountyID {
		return nil, apperr.Validation("post %d is not a submission to bounty %d", postID, bountyID)
	}

	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return nil, apperr.Unavailable("begin transaction", err)
	}
	defer tx.Rollback(ctx)

	closedAt := s.Now().UTC()
	ok, err := s.Bounties.MarkAnsweredTx(ctx, tx, bountyID, postID, closedAt)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.InvalidState("bounty %d is no longer open", bountyID)
	}
	if err := s.EnqueueReward(ctx, tx, bountyID); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	metrics.WinnersSelected.Inc()
	s.Logger.Info("bounty winner selected", "bounty_id", bountyID, "post_id", postID)

	b.Status = models.BountyStatusAnswered
	b.WinnerPostID = &postID
	b.ClosedAt = &closedAt
	return b, nil
}

// repairReward re-enqueues the reward job for an already answered bounty. The job is
// idempotent, so this only matters when an earlier run never completed.
func (s *WinnerSelector) repairReward(ctx context.Context, bountyID int64) {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		s.Logger.Warn("reward repair skipped", "bounty_id", bountyID, "error", err)
		return
	}
	defer tx.Rollback(ctx)
	if err := s.EnqueueReward(ctx, tx, bountyID); err != nil {
		s.Logger.Warn("reward repair enqueue failed", "bounty_id", bountyID, "error", err)
		return
	}
	if err := tx.Commit(ctx); err != nil {
		s.Logger.Warn("reward repair commit failed", "bounty_id", bountyID, "error", err)
	}
}
