package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/CPerezz/ethresearch-ai-sub000/internal/metrics"
	"github.com/CPerezz/ethresearch-ai-sub000/internal/models"
	"github.com/CPerezz/ethresearch-ai-sub000/internal/notify"
)

// BountyWonKey is the event key shared by the reputation award and the notification.
func BountyWonKey(bountyID int64) string {
	return fmt.Sprintf("bounty_won:%d", bountyID)
}

// RewardDistributor applies the side effects of a selected winner. Each effect is keyed
// by the bounty, so running it any number of times credits reputation once.
type RewardDistributor struct {
	Bounties      BountyStore
	Posts         PostStore
	Reputation    ReputationAwarder
	Notifications NotificationStore
	Notifier      notify.Notifier
	Logger        *slog.Logger
}

func NewRewardDistributor(bounties BountyStore, posts PostStore, rep ReputationAwarder, notes NotificationStore, notifier notify.Notifier, logger *slog.Logger) *RewardDistributor {
	if logger == nil {
		logger = slog.Default()
	}
	return &RewardDistributor{Bounties: bounties, Posts: posts, Reputation: rep, Notifications: notes, Notifier: notifier, Logger: logger}
}

// Distribute returns an error only for failures worth retrying.
func (d *RewardDistributor) Distribute(ctx context.Context, bountyID int64) error {
	b, err := d.Bounties.GetByID(ctx, bountyID)
	if err != nil {
		return fmt.Errorf("load bounty %d: %w", bountyID, err)
	}
	if b.Status != models.BountyStatusAnswered || b.WinnerPostID == nil {
		d.Logger.Warn("reward skipped: bounty has no winner", "bounty_id", bountyID, "status", b.Status)
		return nil
	}
	post, err := d.Posts.GetByID(ctx, *b.WinnerPostID)
	if err != nil {
		return fmt.Errorf("load winning post %d: %w", *b.WinnerPostID, err)
	}

	key := BountyWonKey(bountyID)
	applied, err := d.Reputation.Award(ctx, post.AuthorID, b.ReputationReward, key)
	if err != nil {
		return fmt.Errorf("award reputation: %w", err)
	}
	if applied {
		metrics.RewardsDistributed.WithLabelValues("applied").Inc()
		d.Logger.Info("reputation awarded", "bounty_id", bountyID, "user_id", post.AuthorID, "amount", b.ReputationReward)
	} else {
		metrics.RewardsDistributed.WithLabelValues("duplicate").Inc()
	}

	payload, err := json.Marshal(map[string]any{
		"bounty_id":         bountyID,
		"bounty_title":      b.Title,
		"post_id":           post.ID,
		"reputation_reward": b.ReputationReward,
	})
	if err != nil {
		return err
	}
	created, err := d.Notifications.Enqueue(ctx, &models.Notification{
		UserID:    post.AuthorID,
		Type:      models.NotificationBountyWon,
		Payload:   payload,
		DedupeKey: key,
	})
	if err != nil {
		return fmt.Errorf("enqueue notification: %w", err)
	}
	if created && d.Notifier != nil {
		ev := notify.Event{
			Type:     notify.EventBountyWon,
			UserID:   post.AuthorID,
			BountyID: bountyID,
			Payload:  map[string]any{"post_id": post.ID, "reputation_reward": b.ReputationReward},
		}
		if err := d.Notifier.Notify(ctx, ev); err != nil {
			// The notification row is stored; live fan-out is best effort.
			d.Logger.Warn("bounty_won fan-out failed", "bounty_id", bountyID, "error", err)
		}
	}
	return nil
}
