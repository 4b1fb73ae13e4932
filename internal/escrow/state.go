package escrow

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// State is the contract's view of one bounty. It is authoritative for whether money moved.
type State struct {
	Funder   common.Address
	Amount   *big.Int
	Deadline time.Time
	Winner   common.Address
	Paid     bool
	Refunded bool
}

// Funded reports whether the contract holds funds for the bounty.
func (s State) Funded() bool {
	return s.Amount != nil && s.Amount.Sign() > 0 && !s.Paid && !s.Refunded
}

// Status maps the on-chain flags onto the cached escrow vocabulary. An empty
// string means the contract has no record of the bounty.
func (s State) Status(now time.Time) string {
	switch {
	case s.Paid:
		return "paid"
	case s.Refunded:
		return "refunded"
	case s.Amount == nil || s.Amount.Sign() == 0:
		return ""
	case !s.Deadline.IsZero() && !now.Before(s.Deadline):
		return "expired"
	default:
		return "funded"
	}
}

// WeiToEther renders a base-10 wei amount in ether for display. Malformed input is returned unchanged.
func WeiToEther(wei string) string {
	d, err := decimal.NewFromString(wei)
	if err != nil {
		return wei
	}
	return d.Shift(-18).String()
}

// StateView is the JSON shape of State.
type StateView struct {
	Funder      string `json:"funder"`
	AmountWei   string `json:"amount_wei"`
	AmountEther string `json:"amount_eth"`
	Deadline    string `json:"deadline,omitempty"`
	Winner      string `json:"winner"`
	Paid        bool   `json:"paid"`
	Refunded    bool   `json:"refunded"`
}

func (s State) View() StateView {
	amount := "0"
	if s.Amount != nil {
		amount = s.Amount.String()
	}
	v := StateView{
		Funder:      s.Funder.Hex(),
		AmountWei:   amount,
		AmountEther: WeiToEther(amount),
		Winner:      s.Winner.Hex(),
		Paid:        s.Paid,
		Refunded:    s.Refunded,
	}
	if !s.Deadline.IsZero() {
		v.Deadline = s.Deadline.UTC().Format(time.RFC3339)
	}
	return v
}
