// Package metrics holds the Prometheus collectors for bounty and escrow outcomes.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ethresearch"

var (
	FundingRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "bounty",
		Name:      "funding_recorded_total",
		Help:      "Funding recordings by outcome.",
	}, []string{"outcome"})

	PayoutsRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "bounty",
		Name:      "payouts_recorded_total",
		Help:      "Payout recordings by outcome.",
	}, []string{"outcome"})

	WinnersSelected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "bounty",
		Name:      "winners_selected_total",
		Help:      "Bounties that moved from open to answered.",
	})

	RewardsDistributed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "bounty",
		Name:      "rewards_distributed_total",
		Help:      "Reward distribution runs by result (applied, duplicate).",
	}, []string{"result"})

	ReconciledBounties = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "reconciler",
		Name:      "bounties_total",
		Help:      "Bounties touched by the expiry reconciler by result.",
	}, []string{"result"})

	ReconcileDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "reconciler",
		Name:      "run_duration_seconds",
		Help:      "Wall time of one reconciliation run.",
		Buckets:   prometheus.DefBuckets,
	})

	EscrowReads = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "escrow",
		Name:      "reads_total",
		Help:      "Escrow state reads by source (chain, cache).",
	}, []string{"source"})
)

func Handler() http.Handler {
	return promhttp.Handler()
}
