package services

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/CPerezz/ethresearch-ai-sub000/internal/metrics"
	"github.com/CPerezz/ethresearch-ai-sub000/internal/models"
	"github.com/CPerezz/ethresearch-ai-sub000/internal/notify"
)

// ReconcileResult counts what one run did.
type ReconcileResult struct {
	ExpiringSoon  int `json:"expiringSoon"`
	Expired       int `json:"expired"`
	Refunded      int `json:"refunded"`
	Paid          int `json:"paid"`
	Failed        int `json:"failed"`
	Discrepancies int `json:"discrepancies"`
}

// Reconciler aligns cached escrow statuses with the clock and with the contract.
// It only updates the off-chain cache; it never proves funds are withdrawable.
type Reconciler struct {
	Bounties    BountyStore
	Chains      EscrowChains
	Advisor     ExpiryAdvisor
	Events      notify.Notifier
	Logger      *slog.Logger
	Lookahead   time.Duration
	Concurrency int
	// ChainCheckLimit caps how many expired bounties are compared with the contract per run.
	ChainCheckLimit int
	Now             func() time.Time
}

func NewReconciler(bounties BountyStore, chains EscrowChains, advisor ExpiryAdvisor, lookahead time.Duration, concurrency int, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	if lookahead <= 0 {
		lookahead = 24 * time.Hour
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Reconciler{
		Bounties:        bounties,
		Chains:          chains,
		Advisor:         advisor,
		Logger:          logger,
		Lookahead:       lookahead,
		Concurrency:     concurrency,
		ChainCheckLimit: 200,
		Now:             time.Now,
	}
}

// Run executes the advisory, the deadline sweep and the on-chain comparison.
// A failure in one step or on one bounty does not stop the others.
func (r *Reconciler) Run(ctx context.Context) (ReconcileResult, error) {
	start := time.Now()
	defer func() { metrics.ReconcileDuration.Observe(time.Since(start).Seconds()) }()

	now := r.Now().UTC()
	var res ReconcileResult
	var errs []error

	soon, err := r.Bounties.ListExpiringSoon(ctx, now, now.Add(r.Lookahead))
	if err != nil {
		errs = append(errs, err)
		r.Logger.Error("list expiring bounties", "error", err)
	} else {
		res.ExpiringSoon = len(soon)
		metrics.ReconciledBounties.WithLabelValues("expiring_soon").Add(float64(len(soon)))
		if len(soon) > 0 && r.Advisor != nil {
			if err := r.Advisor.Advise(ctx, soon); err != nil {
				r.Logger.Warn("expiry advisory failed", "count", len(soon), "error", err)
			}
		}
	}

	expired, failed, err := r.expireOverdue(ctx, now)
	res.Expired, res.Failed = expired, failed
	if err != nil {
		errs = append(errs, err)
	}

	chain, err := r.compareWithChain(ctx, now)
	res.Refunded, res.Paid, res.Discrepancies = chain.refunded, chain.paid, chain.discrepancies
	if err != nil {
		errs = append(errs, err)
	}

	r.Logger.Info("bounty reconciliation finished",
		"expiring_soon", res.ExpiringSoon, "expired", res.Expired, "refunded", res.Refunded, "paid", res.Paid,
		"failed", res.Failed, "discrepancies", res.Discrepancies)
	return res, errors.Join(errs...)
}

func (r *Reconciler) expireOverdue(ctx context.Context, now time.Time) (int, int, error) {
	overdue, err := r.Bounties.ListOverdueFunded(ctx, now)
	if err != nil {
		r.Logger.Error("list overdue bounties", "error", err)
		return 0, 0, err
	}

	var expired, failed atomic.Int64
	g := new(errgroup.Group)
	g.SetLimit(r.Concurrency)
	for _, b := range overdue {
		g.Go(func() error {
			ok, err := r.Bounties.MarkExpired(ctx, b.ID, now)
			switch {
			case err != nil:
				failed.Add(1)
				metrics.ReconciledBounties.WithLabelValues("failed").Inc()
				r.Logger.Error("expire bounty", "bounty_id", b.ID, "error", err)
			case ok:
				expired.Add(1)
				metrics.ReconciledBounties.WithLabelValues("expired").Inc()
				r.Logger.Info("bounty escrow expired", "bounty_id", b.ID)
				publish(ctx, r.Events, r.Logger, notify.Event{Type: notify.EventBountyExpired, UserID: b.AuthorID, BountyID: b.ID})
			}
			// Per-bounty failures are counted, not propagated.
			return nil
		})
	}
	_ = g.Wait()
	return int(expired.Load()), int(failed.Load()), nil
}

type chainCounts struct {
	refunded, paid, discrepancies int
}

// compareWithChain reads expired bounties from the contract. A withdrawal moves the cache
// to refunded and a late payWinner moves it to paid; any other disagreement is logged and
// counted for an operator.
func (r *Reconciler) compareWithChain(ctx context.Context, now time.Time) (chainCounts, error) {
	if r.Chains == nil {
		return chainCounts{}, nil
	}
	list, err := r.Bounties.ListByEscrowStatus(ctx, models.EscrowStatusExpired, r.ChainCheckLimit)
	if err != nil {
		r.Logger.Error("list expired bounties", "error", err)
		return chainCounts{}, err
	}

	var refunded, paid, discrepancies atomic.Int64
	g := new(errgroup.Group)
	g.SetLimit(r.Concurrency)
	for _, b := range list {
		if b.ChainID == nil {
			continue
		}
		reader, ok := r.Chains.Reader(*b.ChainID)
		if !ok {
			continue
		}
		g.Go(func() error {
			state, err := reader.ReadState(ctx, b.ID)
			if err != nil {
				// Unknown is not evidence of anything; try again next run.
				metrics.EscrowReads.WithLabelValues("unknown").Inc()
				return nil
			}
			metrics.EscrowReads.WithLabelValues("chain").Inc()
			switch {
			case state.Refunded:
				ok, err := r.Bounties.TransitionEscrow(ctx, b.ID, EdgeRefund.From, false, EdgeRefund.To)
				if err != nil {
					r.Logger.Error("mark bounty refunded", "bounty_id", b.ID, "error", err)
					return nil
				}
				if ok {
					refunded.Add(1)
					metrics.ReconciledBounties.WithLabelValues("refunded").Inc()
					r.Logger.Info("bounty escrow refunded on chain", "bounty_id", b.ID)
				}
			case state.Paid:
				ok, err := r.Bounties.TransitionEscrow(ctx, b.ID, EdgePaidOnChain.From, false, EdgePaidOnChain.To)
				if err != nil {
					r.Logger.Error("mark bounty paid", "bounty_id", b.ID, "error", err)
					return nil
				}
				if ok {
					paid.Add(1)
					metrics.ReconciledBounties.WithLabelValues("paid").Inc()
					r.Logger.Warn("bounty paid on chain after its deadline sweep, payout tx not recorded",
						"bounty_id", b.ID, "winner", state.Winner.Hex())
				}
			case state.Status(now) != models.EscrowStatusExpired:
				discrepancies.Add(1)
				metrics.ReconciledBounties.WithLabelValues("discrepancy").Inc()
				r.Logger.Warn("escrow cache disagrees with chain",
					"bounty_id", b.ID, "cached", models.EscrowStatusExpired, "chain", state.Status(now))
			}
			return nil
		})
	}
	_ = g.Wait()
	return chainCounts{
		refunded:      int(refunded.Load()),
		paid:          int(paid.Load()),
		discrepancies: int(discrepancies.Load()),
	}, nil
}
