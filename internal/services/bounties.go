package services

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/CPerezz/ethresearch-ai-sub000/internal/apperr"
	"github.com/CPerezz/ethresearch-ai-sub000/internal/escrow"
	"github.com/CPerezz/ethresearch-ai-sub000/internal/metrics"
	"github.com/CPerezz/ethresearch-ai-sub000/internal/models"
)

// CallPreparer builds unsigned contract calls for a chain.
type CallPreparer interface {
	PrepareFund(bountyID int64, deadline time.Time, amountWei *big.Int) (escrow.PreparedCall, error)
	PreparePayWinner(bountyID int64, winner common.Address) (escrow.PreparedCall, error)
	PrepareWithdraw(bountyID int64) (escrow.PreparedCall, error)
}

// CallChains resolves call builders per chain.
type CallChains interface {
	Preparer(chainID int64) (CallPreparer, bool)
}

// RegistryCalls adapts *escrow.Registry to CallChains.
type RegistryCalls struct {
	Registry *escrow.Registry
}

func (r RegistryCalls) Preparer(chainID int64) (CallPreparer, bool) {
	c, ok := r.Registry.Client(chainID)
	if !ok {
		return nil, false
	}
	return c, true
}

// CreateBountyRequest carries optional ETH intent. The intent is checked and used to
// prepare the fundBounty call; nothing about escrow is stored until funding is recorded.
type CreateBountyRequest struct {
	Title            string
	Description      string
	ReputationReward int
	EthAmount        string
	ChainID          int64
	Deadline         *time.Time
}

type CreateBountyResult struct {
	Bounty   *models.Bounty       `json:"bounty"`
	FundCall *escrow.PreparedCall `json:"fund_call,omitempty"`
}

// BountyDetail is a bounty with its submissions in rank order.
type BountyDetail struct {
	Bounty      *models.Bounty            `json:"bounty"`
	EthAmount   string                    `json:"eth_amount_eth,omitempty"`
	Submissions []models.RankedSubmission `json:"submissions"`
}

// EscrowView shows the cached status next to the live contract state. Source is "chain"
// when the contract was read and "cache" when the read failed or no chain applies.
type EscrowView struct {
	BountyID     int64                       `json:"bounty_id"`
	CachedStatus *string                     `json:"cached_status"`
	Source       string                      `json:"source"`
	ChainStatus  string                      `json:"chain_status,omitempty"`
	Chain        *escrow.StateView           `json:"chain,omitempty"`
	Transactions []*models.BountyTransaction `json:"transactions"`
}

type BountyService struct {
	Bounties  BountyStore
	Posts     PostStore
	Txs       BountyTxStore
	Users     UserLookup
	Chains    EscrowChains
	Preparers CallChains
	Logger    *slog.Logger
	Now       func() time.Time
}

func NewBountyService(bounties BountyStore, posts PostStore, txs BountyTxStore, users UserLookup, chains EscrowChains, preparers CallChains, logger *slog.Logger) *BountyService {
	if logger == nil {
		logger = slog.Default()
	}
	return &BountyService{Bounties: bounties, Posts: posts, Txs: txs, Users: users, Chains: chains, Preparers: preparers, Logger: logger, Now: time.Now}
}

func (s *BountyService) Create(ctx context.Context, actorID uuid.UUID, req CreateBountyRequest) (*CreateBountyResult, error) {
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		return nil, apperr.Validation("title is required")
	}
	if req.ReputationReward < 0 {
		return nil, apperr.Validation("reputationReward must be >= 0")
	}

	var amount *big.Int
	var preparer CallPreparer
	if req.EthAmount != "" {
		var err error
		if amount, err = ParseWei(req.EthAmount); err != nil {
			return nil, err
		}
		p, ok := s.Preparers.Preparer(req.ChainID)
		if !ok {
			return nil, apperr.Validation("chainId %d is not supported", req.ChainID)
		}
		if req.Deadline == nil || !req.Deadline.After(s.Now()) {
			return nil, apperr.Validation("deadline must be in the future")
		}
		preparer = p
	}

	b := &models.Bounty{
		Title:            req.Title,
		Description:      req.Description,
		AuthorID:         actorID,
		ReputationReward: req.ReputationReward,
	}
	if err := s.Bounties.Create(ctx, b); err != nil {
		return nil, err
	}
	s.Logger.Info("bounty created", "bounty_id", b.ID, "author_id", actorID)

	res := &CreateBountyResult{Bounty: b}
	if preparer != nil {
		call, err := preparer.PrepareFund(b.ID, *req.Deadline, amount)
		if err != nil {
			return nil, err
		}
		res.FundCall = &call
	}
	return res, nil
}

func (s *BountyService) Get(ctx context.Context, bountyID int64) (*BountyDetail, error) {
	b, err := s.Bounties.GetByID(ctx, bountyID)
	if isNotFound(err) {
		return nil, apperr.NotFound("bounty %d not found", bountyID)
	}
	if err != nil {
		return nil, err
	}
	subs, err := s.Posts.ListSubmissions(ctx, bountyID)
	if err != nil {
		return nil, err
	}
	d := &BountyDetail{Bounty: b, Submissions: RankSubmissions(subs, b.WinnerPostID)}
	if b.EthAmount != nil {
		d.EthAmount = escrow.WeiToEther(*b.EthAmount)
	}
	return d, nil
}

// LinkSubmission attaches the actor's post to an open bounty. Linking the same pair again is a no-op.
func (s *BountyService) LinkSubmission(ctx context.Context, actorID uuid.UUID, bountyID, postID int64) (*models.Post, error) {
	b, err := s.Bounties.GetByID(ctx, bountyID)
	if isNotFound(err) {
		return nil, apperr.NotFound("bounty %d not found", bountyID)
	}
	if err != nil {
		return nil, err
	}
	post, err := s.Posts.GetByID(ctx, postID)
	if isNotFound(err) {
		return nil, apperr.NotFound("post %d not found", postID)
	}
	if err != nil {
		return nil, err
	}
	if post.AuthorID != actorID {
		return nil, apperr.Forbidden("only the post author can submit it")
	}
	if post.BountyID != nil {
		if *post.BountyID == bountyID {
			return post, nil
		}
		return nil, apperr.Conflict("post %d is already submitted to bounty %d", postID, *post.BountyID)
	}
	if err := CheckAnswer(b); err != nil {
		return nil, err
	}
	ok, err := s.Posts.LinkToBounty(ctx, postID, bountyID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.InvalidState("bounty %d no longer accepts submissions", bountyID)
	}
	post.BountyID = &bountyID
	return post, nil
}

// Escrow reads the contract state for display. A failed read falls back to the cached status.
func (s *BountyService) Escrow(ctx context.Context, bountyID int64) (*EscrowView, error) {
	b, err := s.Bounties.GetByID(ctx, bountyID)
	if isNotFound(err) {
		return nil, apperr.NotFound("bounty %d not found", bountyID)
	}
	if err != nil {
		return nil, err
	}
	txs, err := s.Txs.ListByBounty(ctx, bountyID)
	if err != nil {
		return nil, err
	}
	v := &EscrowView{BountyID: bountyID, CachedStatus: b.EscrowStatus, Source: "cache", Transactions: txs}
	if b.ChainID == nil {
		return v, nil
	}
	reader, ok := s.Chains.Reader(*b.ChainID)
	if !ok {
		return v, nil
	}
	state, err := reader.ReadState(ctx, bountyID)
	if err != nil {
		metrics.EscrowReads.WithLabelValues("cache").Inc()
		if !errors.Is(err, escrow.ErrUnknownState) {
			s.Logger.Warn("escrow read failed", "bounty_id", bountyID, "error", err)
		}
		return v, nil
	}
	metrics.EscrowReads.WithLabelValues("chain").Inc()
	view := state.View()
	v.Source = "chain"
	v.Chain = &view
	v.ChainStatus = state.Status(s.Now())
	return v, nil
}

// CallsRequest supplies what a fundBounty call needs before anything is recorded.
type CallsRequest struct {
	AmountWei string
	ChainID   int64
	Deadline  *time.Time
}

// Calls returns the contract calls that make sense for the bounty's current state.
func (s *BountyService) Calls(ctx context.Context, actorID uuid.UUID, bountyID int64, req CallsRequest) ([]escrow.PreparedCall, error) {
	b, err := s.Bounties.GetByID(ctx, bountyID)
	if isNotFound(err) {
		return nil, apperr.NotFound("bounty %d not found", bountyID)
	}
	if err != nil {
		return nil, err
	}
	if b.AuthorID != actorID {
		return nil, apperr.Forbidden("only the bounty author can move escrow funds")
	}

	calls := []escrow.PreparedCall{}
	switch {
	case !b.HasEscrow():
		if req.AmountWei == "" {
			return calls, nil
		}
		amount, err := ParseWei(req.AmountWei)
		if err != nil {
			return nil, err
		}
		p, ok := s.Preparers.Preparer(req.ChainID)
		if !ok {
			return nil, apperr.Validation("chainId %d is not supported", req.ChainID)
		}
		if req.Deadline == nil || !req.Deadline.After(s.Now()) {
			return nil, apperr.Validation("deadline must be in the future")
		}
		call, err := p.PrepareFund(bountyID, *req.Deadline, amount)
		if err != nil {
			return nil, err
		}
		calls = append(calls, call)

	case EdgePay.Allows(b) && b.Status == models.BountyStatusAnswered:
		p, ok := s.preparerFor(b)
		if !ok {
			return calls, nil
		}
		winner, err := s.winnerWallet(ctx, b)
		if err != nil {
			return nil, err
		}
		if winner == nil {
			return calls, nil
		}
		call, err := p.PreparePayWinner(bountyID, *winner)
		if err != nil {
			return nil, err
		}
		calls = append(calls, call)

	case b.EscrowIs(models.EscrowStatusExpired):
		p, ok := s.preparerFor(b)
		if !ok {
			return calls, nil
		}
		call, err := p.PrepareWithdraw(bountyID)
		if err != nil {
			return nil, err
		}
		calls = append(calls, call)
	}
	return calls, nil
}

func (s *BountyService) preparerFor(b *models.Bounty) (CallPreparer, bool) {
	if b.ChainID == nil {
		return nil, false
	}
	return s.Preparers.Preparer(*b.ChainID)
}

func (s *BountyService) winnerWallet(ctx context.Context, b *models.Bounty) (*common.Address, error) {
	post, err := s.Posts.GetByID(ctx, *b.WinnerPostID)
	if err != nil {
		return nil, err
	}
	u, err := s.Users.GetByID(ctx, post.AuthorID)
	if err != nil {
		return nil, err
	}
	if u.WalletAddress == nil || !common.IsHexAddress(*u.WalletAddress) {
		return nil, nil
	}
	addr := common.HexToAddress(*u.WalletAddress)
	return &addr, nil
}
