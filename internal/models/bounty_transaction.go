package models

import "time"

// BountyTransaction tx_type enums.
const (
	TxTypeFund   = "fund"
	TxTypePayout = "payout"
)

// BountyTransaction is an append-only record of an observed on-chain event.
type BountyTransaction struct {
	ID          int64     `json:"id"`
	BountyID    int64     `json:"bounty_id"`
	TxType      string    `json:"tx_type"`
	TxHash      string    `json:"tx_hash"`
	FromAddress *string   `json:"from_address,omitempty"`
	ToAddress   *string   `json:"to_address,omitempty"`
	Amount      *string   `json:"amount,omitempty"`
	ChainID     *int64    `json:"chain_id,omitempty"`
	Confirmed   bool      `json:"confirmed"`
	CreatedAt   time.Time `json:"created_at"`
}
