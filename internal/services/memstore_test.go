package services

import (
	"context"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/CPerezz/ethresearch-ai-sub000/internal/escrow"
	"github.com/CPerezz/ethresearch-ai-sub000/internal/models"
	"github.com/CPerezz/ethresearch-ai-sub000/internal/repository"
)

// ---------------------------------------------------------------------------
// In-memory ledger store. Conditional updates run under one mutex, which gives
// the same "exactly one caller wins" behaviour as a row-level conditional UPDATE.
// Writes made through a fakeTx are undone on Rollback.
// ---------------------------------------------------------------------------

type memDB struct {
	mu         sync.Mutex
	bounties   map[int64]*models.Bounty
	txs        []*models.BountyTransaction
	posts      map[int64]*models.Post
	tallies    map[int64]models.Submission
	users      map[uuid.UUID]*models.User
	events     map[string]bool
	notes      map[string]*models.Notification
	nextBounty int64
	nextTx     int64

	markPendingErr error
	expireErr      map[int64]error
}

func newMemDB() *memDB {
	return &memDB{
		bounties:  map[int64]*models.Bounty{},
		posts:     map[int64]*models.Post{},
		tallies:   map[int64]models.Submission{},
		users:     map[uuid.UUID]*models.User{},
		events:    map[string]bool{},
		notes:     map[string]*models.Notification{},
		expireErr: map[int64]error{},
	}
}

func strPtr(s string) *string { return &s }
func i64Ptr(v int64) *int64   { return &v }

func (db *memDB) addUser(wallet string) *models.User {
	db.mu.Lock()
	defer db.mu.Unlock()
	u := &models.User{ID: uuid.New(), Email: uuid.NewString() + "@example.com"}
	if wallet != "" {
		u.WalletAddress = &wallet
	}
	db.users[u.ID] = u
	return u
}

func (db *memDB) addBounty(author uuid.UUID, reward int) *models.Bounty {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.nextBounty++
	now := time.Now().UTC()
	b := &models.Bounty{
		ID: db.nextBounty, Title: "bounty", AuthorID: author, ReputationReward: reward,
		Status: models.BountyStatusOpen, CreatedAt: now, UpdatedAt: now,
	}
	db.bounties[b.ID] = b
	cp := *b
	return &cp
}

// setEscrow forces an escrow state, as if earlier edges had run.
func (db *memDB) setEscrow(id int64, status, wei string, chainID int64, deadline time.Time) {
	db.mu.Lock()
	defer db.mu.Unlock()
	b := db.bounties[id]
	b.EscrowStatus = strPtr(status)
	b.EthAmount = strPtr(wei)
	b.ChainID = i64Ptr(chainID)
	d := deadline
	b.Deadline = &d
}

func (db *memDB) addPost(id int64, author uuid.UUID, bountyID *int64, created time.Time, vote, approvals, rejections int) *models.Post {
	db.mu.Lock()
	defer db.mu.Unlock()
	p := &models.Post{ID: id, AuthorID: author, Title: "post", BountyID: bountyID, CreatedAt: created}
	db.posts[id] = p
	db.tallies[id] = models.Submission{VoteScore: vote, Approvals: approvals, Rejections: rejections}
	cp := *p
	return &cp
}

// bounty returns a copy of the stored row.
func (db *memDB) bounty(id int64) *models.Bounty {
	db.mu.Lock()
	defer db.mu.Unlock()
	cp := *db.bounties[id]
	return &cp
}

func (db *memDB) reputation(id uuid.UUID) int64 {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.users[id].Reputation
}

func (db *memDB) countTxs(bountyID int64, txType string) int {
	db.mu.Lock()
	defer db.mu.Unlock()
	n := 0
	for _, t := range db.txs {
		if t.BountyID == bountyID && t.TxType == txType {
			n++
		}
	}
	return n
}

// ---------------------------------------------------------------------------
// fakeTx
// ---------------------------------------------------------------------------

type fakeTx struct {
	pgx.Tx
	db     *memDB
	undo   []func()
	closed bool
}

func (db *memDB) Begin(_ context.Context) (pgx.Tx, error) {
	return &fakeTx{db: db}, nil
}

func (t *fakeTx) Commit(_ context.Context) error {
	if t.closed {
		return pgx.ErrTxClosed
	}
	t.closed = true
	return nil
}

func (t *fakeTx) Rollback(_ context.Context) error {
	if t.closed {
		return pgx.ErrTxClosed
	}
	t.closed = true
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	return nil
}

// onRollback must be called with db.mu held.
func onRollback(tx pgx.Tx, fn func()) {
	if ft, ok := tx.(*fakeTx); ok {
		ft.undo = append(ft.undo, fn)
	}
}

// ---------------------------------------------------------------------------
// BountyStore
// ---------------------------------------------------------------------------

type memBounties struct{ *memDB }

func (m memBounties) Create(_ context.Context, b *models.Bounty) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextBounty++
	b.ID = m.nextBounty
	b.Status = models.BountyStatusOpen
	b.CreatedAt = time.Now().UTC()
	b.UpdatedAt = b.CreatedAt
	cp := *b
	m.bounties[b.ID] = &cp
	return nil
}

func (m memBounties) GetByID(_ context.Context, id int64) (*models.Bounty, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bounties[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (m memBounties) GetByIDForUpdate(ctx context.Context, _ pgx.Tx, id int64) (*models.Bounty, error) {
	return m.GetByID(ctx, id)
}

func (m memBounties) MarkPending(_ context.Context, id int64, ethAmount string, chainID int64, deadline time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.markPendingErr != nil {
		return false, m.markPendingErr
	}
	b, ok := m.bounties[id]
	if !ok || b.EscrowStatus != nil {
		return false, nil
	}
	b.EscrowStatus = strPtr(models.EscrowStatusPending)
	b.EthAmount = strPtr(ethAmount)
	b.ChainID = i64Ptr(chainID)
	d := deadline
	b.Deadline = &d
	return true, nil
}

func (m *memDB) transition(tx pgx.Tx, id int64, from []string, fromNone bool, to string) bool {
	b, ok := m.bounties[id]
	if !ok {
		return false
	}
	allowed := b.EscrowStatus == nil && fromNone
	if b.EscrowStatus != nil {
		for _, s := range from {
			if *b.EscrowStatus == s {
				allowed = true
			}
		}
	}
	if !allowed {
		return false
	}
	prev := b.EscrowStatus
	b.EscrowStatus = strPtr(to)
	if tx != nil {
		onRollback(tx, func() { b.EscrowStatus = prev })
	}
	return true
}

func (m memBounties) TransitionEscrow(_ context.Context, id int64, from []string, fromNone bool, to string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transition(nil, id, from, fromNone, to), nil
}

func (m memBounties) TransitionEscrowTx(_ context.Context, tx pgx.Tx, id int64, from []string, fromNone bool, to string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transition(tx, id, from, fromNone, to), nil
}

func (m memBounties) MarkExpired(_ context.Context, id int64, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.expireErr[id]; err != nil {
		return false, err
	}
	b, ok := m.bounties[id]
	if !ok || !b.EscrowIs(models.EscrowStatusFunded) || b.Deadline == nil || b.Deadline.After(now) {
		return false, nil
	}
	b.EscrowStatus = strPtr(models.EscrowStatusExpired)
	return true, nil
}

func (m memBounties) MarkAnsweredTx(_ context.Context, tx pgx.Tx, id, postID int64, closedAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bounties[id]
	if !ok || b.Status != models.BountyStatusOpen {
		return false, nil
	}
	b.Status = models.BountyStatusAnswered
	b.WinnerPostID = i64Ptr(postID)
	c := closedAt
	b.ClosedAt = &c
	onRollback(tx, func() {
		b.Status = models.BountyStatusOpen
		b.WinnerPostID = nil
		b.ClosedAt = nil
	})
	return true, nil
}

func (m *memDB) list(keep func(b *models.Bounty) bool) []*models.Bounty {
	var out []*models.Bounty
	for _, b := range m.bounties {
		if keep(b) {
			cp := *b
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m memBounties) ListExpiringSoon(_ context.Context, now, until time.Time) ([]*models.Bounty, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.list(func(b *models.Bounty) bool {
		return b.EscrowIs(models.EscrowStatusFunded) && b.Status == models.BountyStatusOpen &&
			b.Deadline != nil && b.Deadline.After(now) && !b.Deadline.After(until)
	}), nil
}

func (m memBounties) ListOverdueFunded(_ context.Context, now time.Time) ([]*models.Bounty, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.list(func(b *models.Bounty) bool {
		return b.EscrowIs(models.EscrowStatusFunded) && b.Deadline != nil && !b.Deadline.After(now)
	}), nil
}

func (m memBounties) ListByEscrowStatus(_ context.Context, status string, limit int) ([]*models.Bounty, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.list(func(b *models.Bounty) bool { return b.EscrowIs(status) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// BountyTxStore
// ---------------------------------------------------------------------------

type memTxs struct{ *memDB }

func (m *memDB) insertTx(tx pgx.Tx, t *models.BountyTransaction) (bool, error) {
	for _, e := range m.txs {
		if e.TxHash == t.TxHash {
			return false, nil
		}
	}
	for _, e := range m.txs {
		if e.BountyID == t.BountyID && e.TxType == t.TxType {
			return false, repository.ErrUniqueViolation
		}
	}
	m.nextTx++
	t.ID = m.nextTx
	t.CreatedAt = time.Now().UTC()
	cp := *t
	m.txs = append(m.txs, &cp)
	if tx != nil {
		onRollback(tx, func() {
			for i, e := range m.txs {
				if e.TxHash == cp.TxHash {
					m.txs = append(m.txs[:i], m.txs[i+1:]...)
					return
				}
			}
		})
	}
	return true, nil
}

func (m memTxs) Insert(_ context.Context, t *models.BountyTransaction) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertTx(nil, t)
}

func (m memTxs) InsertTx(_ context.Context, tx pgx.Tx, t *models.BountyTransaction) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertTx(tx, t)
}

func (m memTxs) find(keep func(t *models.BountyTransaction) bool) (*models.BountyTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.txs {
		if keep(t) {
			cp := *t
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m memTxs) GetByHash(_ context.Context, hash string) (*models.BountyTransaction, error) {
	return m.find(func(t *models.BountyTransaction) bool { return t.TxHash == hash })
}

func (m memTxs) GetByHashTx(ctx context.Context, _ pgx.Tx, hash string) (*models.BountyTransaction, error) {
	return m.GetByHash(ctx, hash)
}

func (m memTxs) GetCanonical(_ context.Context, bountyID int64, txType string) (*models.BountyTransaction, error) {
	return m.find(func(t *models.BountyTransaction) bool { return t.BountyID == bountyID && t.TxType == txType })
}

func (m memTxs) ListByBounty(_ context.Context, bountyID int64) ([]*models.BountyTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*models.BountyTransaction{}
	for _, t := range m.txs {
		if t.BountyID == bountyID {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m memTxs) ListUnconfirmed(_ context.Context, limit int) ([]*models.BountyTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*models.BountyTransaction{}
	for _, t := range m.txs {
		if !t.Confirmed && len(out) < limit {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m memTxs) MarkConfirmed(_ context.Context, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.txs {
		if t.TxHash == hash {
			t.Confirmed = true
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// PostStore, UserLookup, ReputationAwarder, NotificationStore
// ---------------------------------------------------------------------------

type memPosts struct{ *memDB }

func (m memPosts) GetByID(_ context.Context, id int64) (*models.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.posts[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m memPosts) ListSubmissions(_ context.Context, bountyID int64) ([]models.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Submission{}
	for id, p := range m.posts {
		if p.BountyID != nil && *p.BountyID == bountyID {
			s := m.tallies[id]
			s.Post = *p
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m memPosts) LinkToBounty(_ context.Context, postID, bountyID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.posts[postID]
	b, bok := m.bounties[bountyID]
	if !ok || !bok || p.BountyID != nil || b.Status != models.BountyStatusOpen {
		return false, nil
	}
	p.BountyID = i64Ptr(bountyID)
	return true, nil
}

type memUsers struct{ *memDB }

func (m memUsers) GetByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

type memReputation struct{ *memDB }

func (m memReputation) Award(_ context.Context, userID uuid.UUID, amount int, eventKey string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.events[eventKey] {
		return false, nil
	}
	m.events[eventKey] = true
	m.users[userID].Reputation += int64(amount)
	return true, nil
}

type memNotes struct{ *memDB }

func (m memNotes) Enqueue(_ context.Context, n *models.Notification) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.notes[n.DedupeKey]; ok {
		return false, nil
	}
	cp := *n
	m.notes[n.DedupeKey] = &cp
	return true, nil
}

// ---------------------------------------------------------------------------
// Escrow fakes
// ---------------------------------------------------------------------------

type fakeReader struct {
	mu       sync.Mutex
	chainID  int64
	states   map[int64]escrow.State
	err      error
	receipts map[string]escrow.Receipt
	reads    int
}

func newFakeReader(chainID int64) *fakeReader {
	return &fakeReader{chainID: chainID, states: map[int64]escrow.State{}, receipts: map[string]escrow.Receipt{}}
}

func (f *fakeReader) ChainID() int64 { return f.chainID }

func (f *fakeReader) ReadState(_ context.Context, bountyID int64) (escrow.State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	if f.err != nil {
		return escrow.State{}, f.err
	}
	return f.states[bountyID], nil
}

func (f *fakeReader) Receipt(_ context.Context, txHash string) (escrow.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return escrow.Receipt{}, f.err
	}
	return f.receipts[txHash], nil
}

func (f *fakeReader) Forget(int64) {}

func (f *fakeReader) set(bountyID int64, s escrow.State) {
	f.mu.Lock()
	f.states[bountyID] = s
	f.mu.Unlock()
}

type fakeChains map[int64]*fakeReader

func (c fakeChains) Reader(chainID int64) (escrow.Reader, bool) {
	r, ok := c[chainID]
	if !ok {
		return nil, false
	}
	return r, true
}

type fakeCalls map[int64]*escrow.Client

func (c fakeCalls) Preparer(chainID int64) (CallPreparer, bool) {
	cl, ok := c[chainID]
	if !ok {
		return nil, false
	}
	return cl, true
}

func newFakeCalls(chainID int64) fakeCalls {
	return fakeCalls{chainID: escrow.NewClient(nil, chainID, common.HexToAddress("0x00000000000000000000000000000000000000e5"), escrow.Options{})}
}

// fundDeadline is the deadline validFund claims and fundedState reports on chain.
var fundDeadline = time.Now().Add(72 * time.Hour).Truncate(time.Second)

func fundedState(wei int64) escrow.State {
	return escrow.State{Amount: big.NewInt(wei), Deadline: fundDeadline}
}
