package models

import (
	"time"

	"github.com/google/uuid"
)

// Bounty lifecycle status.
const (
	BountyStatusOpen     = "open"
	BountyStatusAnswered = "answered"
	BountyStatusClosed   = "closed"
)

// Escrow status cached off-chain. A nil EscrowStatus means the bounty has no escrow.
const (
	EscrowStatusPending  = "pending"
	EscrowStatusFunded   = "funded"
	EscrowStatusPaid     = "paid"
	EscrowStatusExpired  = "expired"
	EscrowStatusRefunded = "refunded"
)

type Bounty struct {
	ID               int64      `json:"id"`
	Title            string     `json:"title"`
	Description      string     `json:"description"`
	AuthorID         uuid.UUID  `json:"author_id"`
	ReputationReward int        `json:"reputation_reward"`
	EthAmount        *string    `json:"eth_amount,omitempty"` // wei, base 10
	ChainID          *int64     `json:"chain_id,omitempty"`
	Deadline         *time.Time `json:"deadline,omitempty"`
	Status           string     `json:"status"`
	EscrowStatus     *string    `json:"escrow_status"`
	WinnerPostID     *int64     `json:"winner_post_id"`
	ClosedAt         *time.Time `json:"closed_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// EscrowIs reports whether the cached escrow status equals s.
func (b *Bounty) EscrowIs(s string) bool {
	return b.EscrowStatus != nil && *b.EscrowStatus == s
}

// HasEscrow reports whether any escrow status has been recorded.
func (b *Bounty) HasEscrow() bool { return b.EscrowStatus != nil }

// IsTerminal reports whether no further lifecycle transition is expected.
func (b *Bounty) IsTerminal() bool {
	if b.Status == BountyStatusClosed {
		return true
	}
	return b.EscrowIs(EscrowStatusPaid) || b.EscrowIs(EscrowStatusExpired) || b.EscrowIs(EscrowStatusRefunded)
}
