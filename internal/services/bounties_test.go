package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CPerezz/ethresearch-ai-sub000/internal/apperr"
	"github.com/CPerezz/ethresearch-ai-sub000/internal/escrow"
	"github.com/CPerezz/ethresearch-ai-sub000/internal/models"
)

type bountyFixture struct {
	db     *memDB
	reader *fakeReader
	svc    *BountyService
	author *models.User
}

func newBountyFixture(t *testing.T) *bountyFixture {
	t.Helper()
	db := newMemDB()
	reader := newFakeReader(testChain)
	svc := NewBountyService(memBounties{db}, memPosts{db}, memTxs{db}, memUsers{db},
		fakeChains{testChain: reader}, newFakeCalls(testChain), nil)
	return &bountyFixture{db: db, reader: reader, svc: svc, author: db.addUser("")}
}

func TestCreateBounty(t *testing.T) {
	f := newBountyFixture(t)
	ctx := context.Background()

	res, err := f.svc.Create(ctx, f.author.ID, CreateBountyRequest{Title: "  Prove the bound  ", ReputationReward: 25})
	require.NoError(t, err)
	assert.Equal(t, "Prove the bound", res.Bounty.Title)
	assert.Equal(t, models.BountyStatusOpen, res.Bounty.Status)
	assert.Nil(t, res.Bounty.EscrowStatus)
	assert.Nil(t, res.FundCall)

	deadline := time.Now().Add(7 * 24 * time.Hour)
	res, err = f.svc.Create(ctx, f.author.ID, CreateBountyRequest{
		Title: "With ETH", EthAmount: "500000000000000000", ChainID: testChain, Deadline: &deadline,
	})
	require.NoError(t, err)
	require.NotNil(t, res.FundCall)
	assert.Equal(t, "fundBounty", res.FundCall.Method)
	assert.Equal(t, testChain, res.FundCall.ChainID)
	assert.Equal(t, "500000000000000000", res.FundCall.Value)
	// Intent alone never touches the escrow cache.
	assert.Nil(t, f.db.bounty(res.Bounty.ID).EscrowStatus)
}

func TestCreateBounty_Invalid(t *testing.T) {
	f := newBountyFixture(t)
	past := time.Now().Add(-time.Hour)
	future := time.Now().Add(time.Hour)

	cases := map[string]CreateBountyRequest{
		"blank title":       {Title: "   "},
		"negative reward":   {Title: "x", ReputationReward: -1},
		"decimal amount":    {Title: "x", EthAmount: "1.5", ChainID: testChain, Deadline: &future},
		"unsupported chain": {Title: "x", EthAmount: "1", ChainID: 1, Deadline: &future},
		"past deadline":     {Title: "x", EthAmount: "1", ChainID: testChain, Deadline: &past},
		"missing deadline":  {Title: "x", EthAmount: "1", ChainID: testChain},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.Create(context.Background(), f.author.ID, req)
			assert.True(t, errors.Is(err, apperr.ErrValidation), "got %v", err)
		})
	}
}

func TestGetBounty_RanksSubmissions(t *testing.T) {
	f := newBountyFixture(t)
	b := f.db.addBounty(f.author.ID, 10)
	base := time.Now()
	f.db.addPost(1, f.author.ID, &b.ID, base, 1, 0, 0)
	f.db.addPost(2, f.author.ID, &b.ID, base.Add(time.Minute), 1, 1, 0)
	f.db.addPost(3, f.author.ID, &b.ID, base.Add(2*time.Minute), 0, 0, 0)
	f.db.setEscrow(b.ID, models.EscrowStatusFunded, "1500000000000000000", testChain, base.Add(time.Hour))

	d, err := f.svc.Get(context.Background(), b.ID)
	require.NoError(t, err)
	require.Len(t, d.Submissions, 3)
	assert.Equal(t, []int64{2, 1, 3}, []int64{d.Submissions[0].ID, d.Submissions[1].ID, d.Submissions[2].ID})
	assert.Equal(t, "1.5", d.EthAmount)

	_, err = f.svc.Get(context.Background(), 999)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestLinkSubmission(t *testing.T) {
	f := newBountyFixture(t)
	ctx := context.Background()
	researcher := f.db.addUser("")
	b := f.db.addBounty(f.author.ID, 10)
	other := f.db.addBounty(f.author.ID, 10)
	f.db.addPost(7, researcher.ID, nil, time.Now(), 0, 0, 0)

	_, err := f.svc.LinkSubmission(ctx, f.author.ID, b.ID, 7)
	assert.True(t, errors.Is(err, apperr.ErrForbidden), "got %v", err)

	p, err := f.svc.LinkSubmission(ctx, researcher.ID, b.ID, 7)
	require.NoError(t, err)
	assert.Equal(t, b.ID, *p.BountyID)

	_, err = f.svc.LinkSubmission(ctx, researcher.ID, b.ID, 7)
	assert.NoError(t, err, "linking the same pair again is a no-op")

	_, err = f.svc.LinkSubmission(ctx, researcher.ID, other.ID, 7)
	assert.True(t, errors.Is(err, apperr.ErrConflict), "got %v", err)

	_, err = f.svc.LinkSubmission(ctx, researcher.ID, b.ID, 404)
	assert.True(t, errors.Is(err, apperr.ErrNotFound), "got %v", err)
}

func TestLinkSubmission_ClosedBounty(t *testing.T) {
	f := newBountyFixture(t)
	researcher := f.db.addUser("")
	b := f.db.addBounty(f.author.ID, 10)
	f.db.addPost(1, researcher.ID, &b.ID, time.Now(), 0, 0, 0)
	f.db.addPost(2, researcher.ID, nil, time.Now(), 0, 0, 0)
	sel := NewWinnerSelector(f.db, memBounties{f.db}, memPosts{f.db}, func(context.Context, pgx.Tx, int64) error { return nil }, nil)
	_, err := sel.Select(context.Background(), f.author.ID, b.ID, 1)
	require.NoError(t, err)

	_, err = f.svc.LinkSubmission(context.Background(), researcher.ID, b.ID, 2)
	assert.True(t, errors.Is(err, apperr.ErrInvalidState), "got %v", err)
}

func TestEscrowView_ChainAndCacheFallback(t *testing.T) {
	f := newBountyFixture(t)
	ctx := context.Background()
	b := f.db.addBounty(f.author.ID, 10)
	f.db.setEscrow(b.ID, models.EscrowStatusFunded, "1000", testChain, time.Now().Add(time.Hour))
	f.reader.set(b.ID, fundedState(1000))

	v, err := f.svc.Escrow(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "chain", v.Source)
	assert.Equal(t, models.EscrowStatusFunded, v.ChainStatus)
	require.NotNil(t, v.Chain)
	assert.Equal(t, "1000", v.Chain.AmountWei)

	f.reader.err = escrow.ErrUnknownState
	v, err = f.svc.Escrow(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "cache", v.Source)
	assert.Nil(t, v.Chain)
	assert.Equal(t, models.EscrowStatusFunded, *v.CachedStatus)

	plain := f.db.addBounty(f.author.ID, 1)
	v, err = f.svc.Escrow(ctx, plain.ID)
	require.NoError(t, err)
	assert.Equal(t, "cache", v.Source)
	assert.Nil(t, v.CachedStatus)
	assert.Empty(t, v.Transactions)
}

func TestCalls_FollowEscrowState(t *testing.T) {
	f := newBountyFixture(t)
	ctx := context.Background()
	winner := f.db.addUser(winnerWallet)
	deadline := time.Now().Add(48 * time.Hour)

	b := f.db.addBounty(f.author.ID, 10)
	calls, err := f.svc.Calls(ctx, f.author.ID, b.ID, CallsRequest{})
	require.NoError(t, err)
	assert.Empty(t, calls)

	calls, err = f.svc.Calls(ctx, f.author.ID, b.ID, CallsRequest{AmountWei: "42", ChainID: testChain, Deadline: &deadline})
	require.NoError(t, err)
	require.Len(t, calls, 1)
	assert.Equal(t, "fundBounty", calls[0].Method)

	_, err = f.svc.Calls(ctx, winner.ID, b.ID, CallsRequest{})
	assert.True(t, errors.Is(err, apperr.ErrForbidden))

	f.db.addPost(5, winner.ID, &b.ID, time.Now(), 0, 0, 0)
	f.db.setEscrow(b.ID, models.EscrowStatusFunded, "42", testChain, deadline)
	sel := NewWinnerSelector(f.db, memBounties{f.db}, memPosts{f.db}, func(context.Context, pgx.Tx, int64) error { return nil }, nil)
	_, err = sel.Select(ctx, f.author.ID, b.ID, 5)
	require.NoError(t, err)

	calls, err = f.svc.Calls(ctx, f.author.ID, b.ID, CallsRequest{})
	require.NoError(t, err)
	require.Len(t, calls, 1)
	assert.Equal(t, "payWinner", calls[0].Method)

	expired := f.db.addBounty(f.author.ID, 10)
	f.db.setEscrow(expired.ID, models.EscrowStatusExpired, "42", testChain, time.Now().Add(-time.Hour))
	calls, err = f.svc.Calls(ctx, f.author.ID, expired.ID, CallsRequest{})
	require.NoError(t, err)
	require.Len(t, calls, 1)
	assert.Equal(t, "withdraw", calls[0].Method)
}
