// Package escrow reads and prepares calls against the on-chain bounty escrow contract.
// It knows nothing about the ledger; callers decide how to reconcile what it reports.
package escrow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/patrickmn/go-cache"
)

// ErrUnknownState is returned when the chain could not be read. It never means "no funds".
var ErrUnknownState = errors.New("escrow state unknown")

// Backend is the part of *ethclient.Client the escrow client uses.
type Backend interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

type Options struct {
	ReadTimeout time.Duration
	CacheTTL    time.Duration
	MaxRetries  uint64
	Logger      *slog.Logger
}

type Client struct {
	backend Backend
	address common.Address
	chainID int64
	opts    Options
	states  *cache.Cache
	log     *slog.Logger
}

func NewClient(backend Backend, chainID int64, address common.Address, opts Options) *Client {
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 5 * time.Second
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 30 * time.Second
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		backend: backend,
		address: address,
		chainID: chainID,
		opts:    opts,
		states:  cache.New(opts.CacheTTL, 2*opts.CacheTTL),
		log:     log.With("chain_id", chainID),
	}
}

func (c *Client) ChainID() int64          { return c.chainID }
func (c *Client) Address() common.Address { return c.address }

func (c *Client) retry(ctx context.Context, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = time.Second
	return backoff.Retry(func() error {
		err := op()
		if err != nil && ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(b, c.opts.MaxRetries), ctx))
}

// ReadState reads bounties(bountyID) from the contract. Results are cached briefly.
// Any failure, including a timeout, is reported as ErrUnknownState.
func (c *Client) ReadState(ctx context.Context, bountyID int64) (State, error) {
	key := strconv.FormatInt(bountyID, 10)
	if v, ok := c.states.Get(key); ok {
		return v.(State), nil
	}

	input, err := contractABI.Pack("bounties", big.NewInt(bountyID))
	if err != nil {
		return State{}, fmt.Errorf("pack bounties call: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.ReadTimeout)
	defer cancel()

	var out []byte
	err = c.retry(ctx, func() error {
		var callErr error
		out, callErr = c.backend.CallContract(ctx, ethereum.CallMsg{To: &c.address, Data: input}, nil)
		return callErr
	})
	if err != nil {
		c.log.Warn("escrow read failed", "bounty_id", bountyID, "error", err)
		return State{}, fmt.Errorf("%w: %v", ErrUnknownState, err)
	}

	state, err := decodeState(out)
	if err != nil {
		c.log.Warn("escrow decode failed", "bounty_id", bountyID, "error", err)
		return State{}, fmt.Errorf("%w: %v", ErrUnknownState, err)
	}
	c.states.SetDefault(key, state)
	return state, nil
}

// Forget drops the cached state for a bounty, e.g. after a recorded write.
func (c *Client) Forget(bountyID int64) {
	c.states.Delete(strconv.FormatInt(bountyID, 10))
}

func decodeState(out []byte) (State, error) {
	values, err := contractABI.Unpack("bounties", out)
	if err != nil {
		return State{}, err
	}
	if len(values) != 6 {
		return State{}, fmt.Errorf("bounties returned %d values", len(values))
	}
	funder, ok1 := values[0].(common.Address)
	amount, ok2 := values[1].(*big.Int)
	deadline, ok3 := values[2].(*big.Int)
	winner, ok4 := values[3].(common.Address)
	paid, ok5 := values[4].(bool)
	refunded, ok6 := values[5].(bool)
	if !(ok1 && ok2 && ok3 && ok4 && ok5 && ok6) {
		return State{}, errors.New("unexpected bounties output types")
	}
	if !deadline.IsInt64() {
		return State{}, fmt.Errorf("deadline %s out of range", deadline)
	}
	s := State{Funder: funder, Amount: amount, Winner: winner, Paid: paid, Refunded: refunded}
	if deadline.Sign() > 0 {
		s.Deadline = time.Unix(deadline.Int64(), 0).UTC()
	}
	return s, nil
}

// Receipt describes whether a transaction has been mined and whether it succeeded.
type Receipt struct {
	Mined     bool
	Succeeded bool
	Block     uint64
}

// Receipt looks up a transaction receipt. A transaction that is not yet mined is not an error.
func (c *Client) Receipt(ctx context.Context, txHash string) (Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.ReadTimeout)
	defer cancel()

	var rcpt *types.Receipt
	err := c.retry(ctx, func() error {
		var callErr error
		rcpt, callErr = c.backend.TransactionReceipt(ctx, common.HexToHash(txHash))
		if errors.Is(callErr, ethereum.NotFound) {
			return backoff.Permanent(callErr)
		}
		return callErr
	})
	if errors.Is(err, ethereum.NotFound) {
		return Receipt{}, nil
	}
	if err != nil {
		return Receipt{}, fmt.Errorf("%w: %v", ErrUnknownState, err)
	}
	r := Receipt{Mined: true, Succeeded: rcpt.Status == types.ReceiptStatusSuccessful}
	if rcpt.BlockNumber != nil {
		r.Block = rcpt.BlockNumber.Uint64()
	}
	return r, nil
}

// PreparedCall is an unsigned contract call for the user's wallet to sign and send.
type PreparedCall struct {
	Method  string `json:"method"`
	ChainID int64  `json:"chain_id"`
	To      string `json:"to"`
	Data    string `json:"data"`
	Value   string `json:"value"`
}

func (c *Client) prepare(method, value string, args ...any) (PreparedCall, error) {
	data, err := contractABI.Pack(method, args...)
	if err != nil {
		return PreparedCall{}, fmt.Errorf("pack %s: %w", method, err)
	}
	return PreparedCall{
		Method:  method,
		ChainID: c.chainID,
		To:      c.address.Hex(),
		Data:    hexutil.Encode(data),
		Value:   value,
	}, nil
}

// PrepareFund builds fundBounty(bountyID, deadline) carrying amountWei.
func (c *Client) PrepareFund(bountyID int64, deadline time.Time, amountWei *big.Int) (PreparedCall, error) {
	return c.prepare("fundBounty", amountWei.String(), big.NewInt(bountyID), big.NewInt(deadline.Unix()))
}

func (c *Client) PreparePayWinner(bountyID int64, winner common.Address) (PreparedCall, error) {
	return c.prepare("payWinner", "0", big.NewInt(bountyID), winner)
}

func (c *Client) PrepareWithdraw(bountyID int64) (PreparedCall, error) {
	return c.prepare("withdraw", "0", big.NewInt(bountyID))
}
