package services

import (
	"github.com/CPerezz/ethresearch-ai-sub000/internal/apperr"
	"github.com/CPerezz/ethresearch-ai-sub000/internal/models"
)

// EscrowEdge is one allowed move of a bounty's escrow status.
type EscrowEdge struct {
	Name     string
	FromNone bool
	From     []string
	To       string
}

var (
	EdgeFund = EscrowEdge{Name: "fund", FromNone: true, To: models.EscrowStatusPending}

	EdgeConfirmFunding = EscrowEdge{Name: "confirm funding",
		From: []string{models.EscrowStatusPending}, To: models.EscrowStatusFunded}

	EdgePay = EscrowEdge{Name: "pay",
		From: []string{models.EscrowStatusPending, models.EscrowStatusFunded}, To: models.EscrowStatusPaid}

	EdgeExpire = EscrowEdge{Name: "expire",
		From: []string{models.EscrowStatusFunded}, To: models.EscrowStatusExpired}

	// A payWinner mined after the deadline sweep. Only taken when the contract reports paid.
	EdgePaidOnChain = EscrowEdge{Name: "pay",
		From: []string{models.EscrowStatusExpired}, To: models.EscrowStatusPaid}

	// Refund is only taken when the contract reports the funder withdrew.
	EdgeRefund = EscrowEdge{Name: "refund",
		From: []string{models.EscrowStatusExpired}, To: models.EscrowStatusRefunded}
)

// Allows reports whether b's current escrow status is a source of e.
func (e EscrowEdge) Allows(b *models.Bounty) bool {
	if b.EscrowStatus == nil {
		return e.FromNone
	}
	for _, s := range e.From {
		if *b.EscrowStatus == s {
			return true
		}
	}
	return false
}

// Check returns a conflict error when e cannot be taken from b's current state.
func (e EscrowEdge) Check(b *models.Bounty) error {
	if e.Allows(b) {
		return nil
	}
	if b.EscrowStatus == nil {
		return apperr.Conflict("cannot %s bounty %d: no escrow recorded", e.Name, b.ID)
	}
	if e.FromNone {
		return apperr.Conflict("bounty %d already has escrow status %q", b.ID, *b.EscrowStatus)
	}
	return apperr.Conflict("cannot %s bounty %d: escrow status is %q", e.Name, b.ID, *b.EscrowStatus)
}

// CheckAnswer guards open -> answered. It is the only status edge the service takes.
func CheckAnswer(b *models.Bounty) error {
	if b.Status != models.BountyStatusOpen {
		return apperr.InvalidState("bounty %d is %s, not open", b.ID, b.Status)
	}
	return nil
}
