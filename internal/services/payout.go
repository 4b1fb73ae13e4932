package services

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/CPerezz/ethresearch-ai-sub000/internal/apperr"
	"github.com/CPerezz/ethresearch-ai-sub000/internal/metrics"
	"github.com/CPerezz/ethresearch-ai-sub000/internal/models"
	"github.com/CPerezz/ethresearch-ai-sub000/internal/notify"
	"github.com/CPerezz/ethresearch-ai-sub000/internal/repository"
)

type PayoutRequest struct {
	TxHash        string
	WinnerAddress string
}

// PayoutResult reports whether the call was a replay of an already recorded payout.
type PayoutResult struct {
	Bounty   *models.Bounty
	Replayed bool
}

// PayoutRecorder records the payWinner transaction. The row insert and the status
// change commit together or not at all.
type PayoutRecorder struct {
	Pool     TxBeginner
	Bounties BountyStore
	Txs      BountyTxStore
	Chains   EscrowChains
	Logger   *slog.Logger
	Events   notify.Notifier
}

func NewPayoutRecorder(pool TxBeginner, bounties BountyStore, txs BountyTxStore, chains EscrowChains, logger *slog.Logger) *PayoutRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &PayoutRecorder{Pool: pool, Bounties: bounties, Txs: txs, Chains: chains, Logger: logger}
}

func (p *PayoutRecorder) Record(ctx context.Context, actorID uuid.UUID, bountyID int64, req PayoutRequest) (*PayoutResult, error) {
	if !txHashPattern.MatchString(req.TxHash) {
		return nil, apperr.Validation("txHash must be 0x followed by 64 hex characters")
	}
	if !addressPattern.MatchString(req.WinnerAddress) {
		return nil, apperr.Validation("winnerAddress must be a 0x-prefixed 20-byte hex address")
	}

	tx, err := p.Pool.Begin(ctx)
	if err != nil {
		return nil, apperr.Unavailable("begin transaction", err)
	}
	defer tx.Rollback(ctx)

	b, err := p.Bounties.GetByIDForUpdate(ctx, tx, bountyID)
	if isNotFound(err) {
		return nil, apperr.NotFound("bounty %d not found", bountyID)
	}
	if err != nil {
		return nil, err
	}
	if b.AuthorID != actorID {
		return nil, apperr.Forbidden("only the bounty author can record a payout")
	}
	if b.Status != models.BountyStatusAnswered {
		return nil, apperr.InvalidState("bounty %d has no selected winner", bountyID)
	}

	existing, err := p.Txs.GetByHashTx(ctx, tx, req.TxHash)
	switch {
	case err == nil:
		if existing.BountyID == bountyID && existing.TxType == models.TxTypePayout {
			if err := tx.Commit(ctx); err != nil {
				return nil, err
			}
			metrics.PayoutsRecorded.WithLabelValues("replayed").Inc()
			return &PayoutResult{Bounty: b, Replayed: true}, nil
		}
		return nil, apperr.Conflict("transaction %s is already recorded", req.TxHash)
	case !isNotFound(err):
		return nil, err
	}

	edge := EdgePay
	if b.EscrowIs(models.EscrowStatusExpired) && p.paidOnChain(ctx, b) {
		edge = EdgePaidOnChain
	}
	if err := edge.Check(b); err != nil {
		metrics.PayoutsRecorded.WithLabelValues("conflict").Inc()
		return nil, err
	}

	to := req.WinnerAddress
	row := &models.BountyTransaction{
		BountyID:  bountyID,
		TxType:    models.TxTypePayout,
		TxHash:    req.TxHash,
		ToAddress: &to,
		Amount:    b.EthAmount,
		ChainID:   b.ChainID,
	}
	inserted, err := p.Txs.InsertTx(ctx, tx, row)
	if errors.Is(err, repository.ErrUniqueViolation) {
		metrics.PayoutsRecorded.WithLabelValues("conflict").Inc()
		return nil, apperr.Conflict("bounty %d already has a payout transaction", bountyID)
	}
	if err != nil {
		return nil, err
	}
	if !inserted {
		return nil, apperr.Conflict("transaction %s is already recorded", req.TxHash)
	}

	moved, err := p.Bounties.TransitionEscrowTx(ctx, tx, bountyID, edge.From, false, edge.To)
	if err != nil {
		return nil, err
	}
	if !moved {
		return nil, apperr.Conflict("bounty %d escrow changed concurrently", bountyID)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	paid := models.EscrowStatusPaid
	b.EscrowStatus = &paid
	if b.ChainID != nil && p.Chains != nil {
		if reader, ok := p.Chains.Reader(*b.ChainID); ok {
			reader.Forget(bountyID)
		}
	}
	metrics.PayoutsRecorded.WithLabelValues("recorded").Inc()
	p.Logger.Info("bounty payout recorded", "bounty_id", bountyID, "tx_hash", req.TxHash, "winner", req.WinnerAddress)
	publish(ctx, p.Events, p.Logger, notify.Event{
		Type: notify.EventBountyPaid, UserID: b.AuthorID, BountyID: bountyID,
		Payload: map[string]any{"tx_hash": req.TxHash, "winner": req.WinnerAddress},
	})
	return &PayoutResult{Bounty: b}, nil
}

// paidOnChain reports whether the contract has already paid the bounty's winner.
// An unreadable chain counts as not paid.
func (p *PayoutRecorder) paidOnChain(ctx context.Context, b *models.Bounty) bool {
	if b.ChainID == nil || p.Chains == nil {
		return false
	}
	reader, ok := p.Chains.Reader(*b.ChainID)
	if !ok {
		return false
	}
	reader.Forget(b.ID)
	state, err := reader.ReadState(ctx, b.ID)
	if err != nil {
		p.Logger.Warn("escrow read failed while recording payout", "bounty_id", b.ID, "error", err)
		return false
	}
	return state.Paid
}
