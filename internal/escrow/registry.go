package escrow

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/CPerezz/ethresearch-ai-sub000/internal/config"
)

// Registry holds one Client per configured chain.
type Registry struct {
	clients map[int64]*Client
	closers []func()
}

func NewRegistry(clients ...*Client) *Registry {
	r := &Registry{clients: make(map[int64]*Client, len(clients))}
	for _, c := range clients {
		r.clients[c.ChainID()] = c
	}
	return r
}

// Dial connects to every configured chain.
func Dial(ctx context.Context, cfg config.EscrowConfig, opts Options) (*Registry, error) {
	r := NewRegistry()
	for _, ch := range cfg.Chains {
		if !common.IsHexAddress(ch.EscrowAddress) {
			r.Close()
			return nil, fmt.Errorf("chain %d: invalid escrow address %q", ch.ChainID, ch.EscrowAddress)
		}
		ec, err := ethclient.DialContext(ctx, ch.RPCURL)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("chain %d: dial rpc: %w", ch.ChainID, err)
		}
		r.closers = append(r.closers, ec.Close)
		r.clients[ch.ChainID] = NewClient(ec, ch.ChainID, common.HexToAddress(ch.EscrowAddress), opts)
	}
	return r, nil
}

// Client returns the client for chainID.
func (r *Registry) Client(chainID int64) (*Client, bool) {
	c, ok := r.clients[chainID]
	return c, ok
}

func (r *Registry) Close() {
	for _, c := range r.closers {
		c()
	}
}

// Reader is the read side of a Client.
type Reader interface {
	ChainID() int64
	ReadState(ctx context.Context, bountyID int64) (State, error)
	Receipt(ctx context.Context, txHash string) (Receipt, error)
	Forget(bountyID int64)
}

var _ Reader = (*Client)(nil)

// Reader returns the read side of the client for chainID.
func (r *Registry) Reader(chainID int64) (Reader, bool) {
	c, ok := r.clients[chainID]
	if !ok {
		return nil, false
	}
	return c, true
}
