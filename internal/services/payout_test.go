package services

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/CPerezz/ethresearch-ai-sub000/internal/apperr"
	"github.com/CPerezz/ethresearch-ai-sub000/internal/escrow"
	"github.com/CPerezz/ethresearch-ai-sub000/internal/models"
)

var winnerWallet = "0x" + strings.Repeat("2", 40)

type payoutFixture struct {
	db     *memDB
	rec    *PayoutRecorder
	reader *fakeReader
	author *models.User
	bounty *models.Bounty
}

// newPayoutFixture returns a funded bounty whose winner has been selected.
func newPayoutFixture(t *testing.T) *payoutFixture {
	t.Helper()
	db := newMemDB()
	author := db.addUser("")
	b := db.addBounty(author.ID, 50)
	db.setEscrow(b.ID, models.EscrowStatusFunded, "5000", testChain, time.Now().Add(time.Hour))
	db.addPost(10, db.addUser(winnerWallet).ID, &b.ID, time.Now(), 0, 0, 0)
	db.mu.Lock()
	db.bounties[b.ID].Status = models.BountyStatusAnswered
	db.bounties[b.ID].WinnerPostID = i64Ptr(10)
	db.mu.Unlock()

	reader := newFakeReader(testChain)
	rec := NewPayoutRecorder(db, memBounties{db}, memTxs{db}, fakeChains{testChain: reader}, nil)
	return &payoutFixture{db: db, rec: rec, reader: reader, author: author, bounty: b}
}

func TestPayout_RecordsAndMarksPaid(t *testing.T) {
	f := newPayoutFixture(t)

	res, err := f.rec.Record(context.Background(), f.author.ID, f.bounty.ID, PayoutRequest{TxHash: hash("c"), WinnerAddress: winnerWallet})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if res.Replayed || !res.Bounty.EscrowIs(models.EscrowStatusPaid) {
		t.Fatalf("unexpected result: replayed=%v status=%v", res.Replayed, res.Bounty.EscrowStatus)
	}
	if got := f.db.bounty(f.bounty.ID); !got.EscrowIs(models.EscrowStatusPaid) {
		t.Fatalf("stored status = %v, want paid", *got.EscrowStatus)
	}
	tx, err := memTxs{f.db}.GetByHash(context.Background(), hash("c"))
	if err != nil {
		t.Fatalf("payout tx missing: %v", err)
	}
	if *tx.ToAddress != winnerWallet || *tx.Amount != "5000" || tx.Confirmed {
		t.Errorf("payout tx fields: %+v", tx)
	}
}

func TestPayout_SameHashTwiceIsIdempotent(t *testing.T) {
	f := newPayoutFixture(t)
	req := PayoutRequest{TxHash: hash("c"), WinnerAddress: winnerWallet}

	if _, err := f.rec.Record(context.Background(), f.author.ID, f.bounty.ID, req); err != nil {
		t.Fatalf("first: %v", err)
	}
	res, err := f.rec.Record(context.Background(), f.author.ID, f.bounty.ID, req)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !res.Replayed {
		t.Error("second call should report a replay")
	}
	if n := f.db.countTxs(f.bounty.ID, models.TxTypePayout); n != 1 {
		t.Fatalf("expected exactly one payout row, got %d", n)
	}
}

func TestPayout_ConcurrentSameHash(t *testing.T) {
	f := newPayoutFixture(t)
	req := PayoutRequest{TxHash: hash("c"), WinnerAddress: winnerWallet}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.rec.Record(context.Background(), f.author.ID, f.bounty.ID, req)
		}()
	}
	wg.Wait()

	if n := f.db.countTxs(f.bounty.ID, models.TxTypePayout); n != 1 {
		t.Fatalf("expected exactly one payout row, got %d", n)
	}
	if b := f.db.bounty(f.bounty.ID); !b.EscrowIs(models.EscrowStatusPaid) {
		t.Fatalf("expected paid, got %v", *b.EscrowStatus)
	}
}

func TestPayout_DifferentHashAfterPaidIsConflict(t *testing.T) {
	f := newPayoutFixture(t)
	if _, err := f.rec.Record(context.Background(), f.author.ID, f.bounty.ID, PayoutRequest{TxHash: hash("c"), WinnerAddress: winnerWallet}); err != nil {
		t.Fatalf("first: %v", err)
	}
	_, err := f.rec.Record(context.Background(), f.author.ID, f.bounty.ID, PayoutRequest{TxHash: hash("d"), WinnerAddress: winnerWallet})
	if !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if n := f.db.countTxs(f.bounty.ID, models.TxTypePayout); n != 1 {
		t.Fatalf("expected one payout row, got %d", n)
	}
}

func TestPayout_Preconditions(t *testing.T) {
	t.Run("not author", func(t *testing.T) {
		f := newPayoutFixture(t)
		_, err := f.rec.Record(context.Background(), f.db.addUser("").ID, f.bounty.ID, PayoutRequest{TxHash: hash("c"), WinnerAddress: winnerWallet})
		if !errors.Is(err, apperr.ErrForbidden) {
			t.Fatalf("expected forbidden, got %v", err)
		}
	})
	t.Run("no winner yet", func(t *testing.T) {
		f := newPayoutFixture(t)
		f.db.mu.Lock()
		f.db.bounties[f.bounty.ID].Status = models.BountyStatusOpen
		f.db.bounties[f.bounty.ID].WinnerPostID = nil
		f.db.mu.Unlock()
		_, err := f.rec.Record(context.Background(), f.author.ID, f.bounty.ID, PayoutRequest{TxHash: hash("c"), WinnerAddress: winnerWallet})
		if !errors.Is(err, apperr.ErrInvalidState) {
			t.Fatalf("expected invalid state, got %v", err)
		}
	})
	t.Run("expired escrow", func(t *testing.T) {
		f := newPayoutFixture(t)
		f.db.setEscrow(f.bounty.ID, models.EscrowStatusExpired, "5000", testChain, time.Now().Add(-time.Hour))
		_, err := f.rec.Record(context.Background(), f.author.ID, f.bounty.ID, PayoutRequest{TxHash: hash("c"), WinnerAddress: winnerWallet})
		if !errors.Is(err, apperr.ErrConflict) {
			t.Fatalf("expected conflict, got %v", err)
		}
		if n := f.db.countTxs(f.bounty.ID, models.TxTypePayout); n != 0 {
			t.Fatalf("rejected payout wrote %d rows", n)
		}
	})
	t.Run("bad address", func(t *testing.T) {
		f := newPayoutFixture(t)
		_, err := f.rec.Record(context.Background(), f.author.ID, f.bounty.ID, PayoutRequest{TxHash: hash("c"), WinnerAddress: "0x12"})
		if !errors.Is(err, apperr.ErrValidation) {
			t.Fatalf("expected validation error, got %v", err)
		}
	})
	t.Run("missing bounty", func(t *testing.T) {
		f := newPayoutFixture(t)
		_, err := f.rec.Record(context.Background(), f.author.ID, 404, PayoutRequest{TxHash: hash("c"), WinnerAddress: winnerWallet})
		if !errors.Is(err, apperr.ErrNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
	})
}

// failingTxStore fails the status update after the row insert, to prove both roll back together.
type failingTxStore struct{ memBounties }

func (f failingTxStore) TransitionEscrowTx(context.Context, pgx.Tx, int64, []string, bool, string) (bool, error) {
	return false, errors.New("deadlock detected")
}

func TestPayout_StatusFailureRollsBackRow(t *testing.T) {
	f := newPayoutFixture(t)
	f.rec.Bounties = failingTxStore{memBounties{f.db}}

	_, err := f.rec.Record(context.Background(), f.author.ID, f.bounty.ID, PayoutRequest{TxHash: hash("c"), WinnerAddress: winnerWallet})
	if err == nil {
		t.Fatal("expected failure")
	}
	if n := f.db.countTxs(f.bounty.ID, models.TxTypePayout); n != 0 {
		t.Fatalf("payout row survived a failed status update: %d rows", n)
	}
	if b := f.db.bounty(f.bounty.ID); !b.EscrowIs(models.EscrowStatusFunded) {
		t.Fatalf("status changed: %v", *b.EscrowStatus)
	}
}

func TestPayout_ExpiredNeedsChainPaid(t *testing.T) {
	f := newPayoutFixture(t)
	f.db.setEscrow(f.bounty.ID, models.EscrowStatusExpired, "5000", testChain, time.Now().Add(-time.Hour))
	req := PayoutRequest{TxHash: hash("c"), WinnerAddress: winnerWallet}

	// Still withdrawable on chain: the cache is right to refuse.
	f.reader.set(f.bounty.ID, escrow.State{Amount: big.NewInt(5000), Deadline: time.Now().Add(-time.Hour)})
	if _, err := f.rec.Record(context.Background(), f.author.ID, f.bounty.ID, req); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected conflict while the contract still holds funds, got %v", err)
	}
	if n := f.db.countTxs(f.bounty.ID, models.TxTypePayout); n != 0 {
		t.Fatalf("refused payout wrote %d rows", n)
	}

	// payWinner mined after the deadline sweep.
	f.reader.set(f.bounty.ID, escrow.State{Amount: big.NewInt(5000), Paid: true})
	res, err := f.rec.Record(context.Background(), f.author.ID, f.bounty.ID, req)
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if !res.Bounty.EscrowIs(models.EscrowStatusPaid) || f.db.countTxs(f.bounty.ID, models.TxTypePayout) != 1 {
		t.Fatalf("expected paid with one payout row, got %v", *res.Bounty.EscrowStatus)
	}
}
