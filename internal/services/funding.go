package services

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/CPerezz/ethresearch-ai-sub000/internal/apperr"
	"github.com/CPerezz/ethresearch-ai-sub000/internal/escrow"
	"github.com/CPerezz/ethresearch-ai-sub000/internal/metrics"
	"github.com/CPerezz/ethresearch-ai-sub000/internal/models"
	"github.com/CPerezz/ethresearch-ai-sub000/internal/notify"
	"github.com/CPerezz/ethresearch-ai-sub000/internal/repository"
)

var (
	txHashPattern  = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)
	weiPattern     = regexp.MustCompile(`^[0-9]+$`)
	addressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
)

// FundRequest is the observed funding write, supplied by the funder after sending fundBounty.
type FundRequest struct {
	TxHash    string
	ChainID   int64
	EthAmount string
	Deadline  time.Time
}

// FundingRecorder records an observed fundBounty transaction and moves the bounty to pending.
type FundingRecorder struct {
	Bounties BountyStore
	Txs      BountyTxStore
	Chains   EscrowChains
	Logger   *slog.Logger
	// Events receives bounty_funded once the contract confirms the deposit. Optional.
	Events notify.Notifier

	// ConfirmTimeout bounds the best-effort on-chain confirmation after recording. Zero disables it.
	ConfirmTimeout time.Duration
	Now            func() time.Time
}

func NewFundingRecorder(bounties BountyStore, txs BountyTxStore, chains EscrowChains, logger *slog.Logger) *FundingRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &FundingRecorder{
		Bounties:       bounties,
		Txs:            txs,
		Chains:         chains,
		Logger:         logger,
		ConfirmTimeout: 3 * time.Second,
		Now:            time.Now,
	}
}

// ParseWei checks that s is a non-negative base-10 integer.
func ParseWei(s string) (*big.Int, error) {
	if !weiPattern.MatchString(s) {
		return nil, apperr.Validation("ethAmount must be a non-negative integer string in wei")
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, apperr.Validation("ethAmount must be a non-negative integer string in wei")
	}
	return v, nil
}

func (r *FundingRecorder) validate(req FundRequest) error {
	if !txHashPattern.MatchString(req.TxHash) {
		return apperr.Validation("txHash must be 0x followed by 64 hex characters")
	}
	if _, err := ParseWei(req.EthAmount); err != nil {
		return err
	}
	if _, ok := r.Chains.Reader(req.ChainID); !ok {
		return apperr.Validation("chainId %d is not supported", req.ChainID)
	}
	if !req.Deadline.After(r.Now()) {
		return apperr.Validation("deadline must be in the future")
	}
	return nil
}

// Record runs the funding edge. The fund transaction row is written first and is
// idempotent on its hash, so a retry after a failed status update converges.
func (r *FundingRecorder) Record(ctx context.Context, actorID uuid.UUID, bountyID int64, req FundRequest) (*models.Bounty, error) {
	if err := r.validate(req); err != nil {
		metrics.FundingRecorded.WithLabelValues("invalid").Inc()
		return nil, err
	}

	b, err := r.Bounties.GetByID(ctx, bountyID)
	if isNotFound(err) {
		return nil, apperr.NotFound("bounty %d not found", bountyID)
	}
	if err != nil {
		return nil, err
	}
	if b.AuthorID != actorID {
		return nil, apperr.Forbidden("only the bounty author can record funding")
	}
	if err := EdgeFund.Check(b); err != nil {
		metrics.FundingRecorded.WithLabelValues("conflict").Inc()
		return nil, err
	}

	amount, chainID := req.EthAmount, req.ChainID
	fund := &models.BountyTransaction{
		BountyID: bountyID,
		TxType:   models.TxTypeFund,
		TxHash:   req.TxHash,
		Amount:   &amount,
		ChainID:  &chainID,
	}
	inserted, err := r.Txs.Insert(ctx, fund)
	if errors.Is(err, repository.ErrUniqueViolation) {
		metrics.FundingRecorded.WithLabelValues("conflict").Inc()
		if prior, gerr := r.Txs.GetCanonical(ctx, bountyID, models.TxTypeFund); gerr == nil {
			return nil, apperr.Conflict("bounty %d already has fund transaction %s; retry with that hash", bountyID, prior.TxHash)
		}
		return nil, apperr.Conflict("bounty %d already has a fund transaction", bountyID)
	}
	if err != nil {
		return nil, err
	}
	if !inserted {
		existing, err := r.Txs.GetByHash(ctx, req.TxHash)
		if err != nil {
			return nil, err
		}
		if existing.BountyID != bountyID || existing.TxType != models.TxTypeFund {
			return nil, apperr.Conflict("transaction %s is already recorded", req.TxHash)
		}
		r.Logger.Info("fund transaction already recorded, retrying status update", "bounty_id", bountyID, "tx_hash", req.TxHash)
	}

	ok, err := r.Bounties.MarkPending(ctx, bountyID, req.EthAmount, req.ChainID, req.Deadline)
	if err != nil {
		return nil, err
	}
	if !ok {
		metrics.FundingRecorded.WithLabelValues("conflict").Inc()
		return nil, apperr.Conflict("bounty %d already has an escrow status", bountyID)
	}
	metrics.FundingRecorded.WithLabelValues("recorded").Inc()
	r.Logger.Info("bounty funding recorded", "bounty_id", bountyID, "tx_hash", req.TxHash, "chain_id", req.ChainID)

	if r.ConfirmTimeout > 0 {
		cctx, cancel := context.WithTimeout(ctx, r.ConfirmTimeout)
		if _, err := r.ConfirmFunding(cctx, bountyID); err != nil {
			r.Logger.Warn("funding confirmation deferred", "bounty_id", bountyID, "error", err)
		}
		cancel()
	}

	return r.Bounties.GetByID(ctx, bountyID)
}

// ConfirmFunding moves a pending bounty to funded once the contract holds its funds.
// It reports whether the bounty advanced. A chain read failure leaves it pending.
func (r *FundingRecorder) ConfirmFunding(ctx context.Context, bountyID int64) (bool, error) {
	b, err := r.Bounties.GetByID(ctx, bountyID)
	if err != nil {
		return false, err
	}
	if !EdgeConfirmFunding.Allows(b) || b.ChainID == nil {
		return false, nil
	}
	reader, ok := r.Chains.Reader(*b.ChainID)
	if !ok {
		return false, apperr.Unavailable("escrow chain not configured", nil)
	}
	reader.Forget(bountyID)
	state, err := reader.ReadState(ctx, bountyID)
	if err != nil {
		return false, err
	}
	if !state.Funded() {
		return false, nil
	}
	if mismatch := fundingMismatch(b, state); mismatch != "" {
		metrics.FundingRecorded.WithLabelValues("mismatch").Inc()
		r.Logger.Warn("on-chain deposit does not match recorded funding, bounty stays pending",
			"bounty_id", bountyID, "mismatch", mismatch, "chain_amount_wei", state.Amount.String())
		return false, nil
	}

	if fund, err := r.Txs.GetCanonical(ctx, bountyID, models.TxTypeFund); err == nil && !fund.Confirmed {
		if err := r.Txs.MarkConfirmed(ctx, fund.TxHash); err != nil {
			return false, err
		}
	}
	advanced, err := r.Bounties.TransitionEscrow(ctx, bountyID, EdgeConfirmFunding.From, false, EdgeConfirmFunding.To)
	if err != nil {
		return false, err
	}
	if advanced {
		r.Logger.Info("bounty escrow funded on chain", "bounty_id", bountyID, "amount_wei", state.Amount.String())
		publish(ctx, r.Events, r.Logger, notify.Event{
			Type: notify.EventBountyFunded, UserID: b.AuthorID, BountyID: bountyID,
			Payload: map[string]any{"amount_wei": state.Amount.String()},
		})
	}
	return advanced, nil
}

// fundingMismatch compares the deposit the contract holds with what the author recorded.
// The contract must hold at least the recorded amount under the same deadline, in whole seconds.
func fundingMismatch(b *models.Bounty, state escrow.State) string {
	if b.EthAmount == nil || b.Deadline == nil {
		return "no recorded amount or deadline"
	}
	claimed, ok := new(big.Int).SetString(*b.EthAmount, 10)
	if !ok {
		return "recorded amount is not an integer"
	}
	if state.Amount.Cmp(claimed) < 0 {
		return "amount below recorded " + claimed.String()
	}
	if state.Deadline.Unix() != b.Deadline.Unix() {
		return "deadline differs from recorded " + b.Deadline.UTC().Format(time.RFC3339)
	}
	return ""
}
