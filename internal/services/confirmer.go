package services

import (
	"context"
	"log/slog"

	"github.com/CPerezz/ethresearch-ai-sub000/internal/models"
)

type ConfirmResult struct {
	Confirmed int `json:"confirmed"`
	Reverted  int `json:"reverted"`
	Funded    int `json:"funded"`
}

// Confirmer polls receipts for unconfirmed transactions and retries the funding
// confirmation for bounties still pending.
type Confirmer struct {
	Txs      BountyTxStore
	Bounties BountyStore
	Chains   EscrowChains
	Funding  *FundingRecorder
	Logger   *slog.Logger
	Batch    int
}

func NewConfirmer(txs BountyTxStore, bounties BountyStore, chains EscrowChains, funding *FundingRecorder, logger *slog.Logger) *Confirmer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Confirmer{Txs: txs, Bounties: bounties, Chains: chains, Funding: funding, Logger: logger, Batch: 100}
}

func (c *Confirmer) Run(ctx context.Context) (ConfirmResult, error) {
	var res ConfirmResult

	pendingTxs, err := c.Txs.ListUnconfirmed(ctx, c.Batch)
	if err != nil {
		return res, err
	}
	for _, t := range pendingTxs {
		if t.ChainID == nil {
			continue
		}
		reader, ok := c.Chains.Reader(*t.ChainID)
		if !ok {
			continue
		}
		rcpt, err := reader.Receipt(ctx, t.TxHash)
		if err != nil {
			c.Logger.Warn("receipt lookup failed", "tx_hash", t.TxHash, "error", err)
			continue
		}
		if !rcpt.Mined {
			continue
		}
		if !rcpt.Succeeded {
			res.Reverted++
			c.Logger.Warn("recorded transaction reverted on chain", "bounty_id", t.BountyID, "tx_hash", t.TxHash, "tx_type", t.TxType)
			continue
		}
		if err := c.Txs.MarkConfirmed(ctx, t.TxHash); err != nil {
			c.Logger.Error("mark transaction confirmed", "tx_hash", t.TxHash, "error", err)
			continue
		}
		res.Confirmed++
	}

	pending, err := c.Bounties.ListByEscrowStatus(ctx, models.EscrowStatusPending, c.Batch)
	if err != nil {
		return res, err
	}
	for _, b := range pending {
		ok, err := c.Funding.ConfirmFunding(ctx, b.ID)
		if err != nil {
			c.Logger.Warn("funding confirmation failed", "bounty_id", b.ID, "error", err)
			continue
		}
		if ok {
			res.Funded++
		}
	}
	return res, nil
}
