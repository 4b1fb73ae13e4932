package execution

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/riverqueue/river"

	"github.com/CPerezz/ethresearch-ai-sub000/internal/services"
)

type RewardJobArgs struct {
	BountyID int64 `json:"bounty_id"`
}

func (RewardJobArgs) Kind() string { return "bounty_reward" }

// InsertOpts keeps one live reward job per bounty. A discarded job does not block a
// later repair insert.
func (RewardJobArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		MaxAttempts: 10,
		UniqueOpts:  river.UniqueOpts{ByArgs: true},
	}
}

// Distributor applies the reward side effects of a selected winner.
type Distributor interface {
	Distribute(ctx context.Context, bountyID int64) error
}

type RewardWorker struct {
	river.WorkerDefaults[RewardJobArgs]
	distributor Distributor
}

func NewRewardWorker(d Distributor) *RewardWorker {
	return &RewardWorker{distributor: d}
}

func (w *RewardWorker) Work(ctx context.Context, job *river.Job[RewardJobArgs]) error {
	if err := w.distributor.Distribute(ctx, job.Args.BountyID); err != nil {
		return fmt.Errorf("distribute reward for bounty %d: %w", job.Args.BountyID, err)
	}
	return nil
}

type ExpiryReconcileArgs struct{}

func (ExpiryReconcileArgs) Kind() string { return "bounty_expiry_reconcile" }

func (ExpiryReconcileArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{MaxAttempts: 1}
}

// ExpiryReconciler runs one reconciliation pass.
type ExpiryReconciler interface {
	Run(ctx context.Context) (services.ReconcileResult, error)
}

type ExpiryReconcileWorker struct {
	river.WorkerDefaults[ExpiryReconcileArgs]
	reconciler ExpiryReconciler
	logger     *slog.Logger
}

func NewExpiryReconcileWorker(r ExpiryReconciler, logger *slog.Logger) *ExpiryReconcileWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExpiryReconcileWorker{reconciler: r, logger: logger}
}

func (w *ExpiryReconcileWorker) Work(ctx context.Context, job *river.Job[ExpiryReconcileArgs]) error {
	res, err := w.reconciler.Run(ctx)
	if err != nil {
		// The next scheduled run picks up whatever failed here.
		w.logger.Error("scheduled reconciliation finished with errors", "job_id", job.ID, "expired", res.Expired, "failed", res.Failed, "error", err)
	}
	return nil
}

func (w *ExpiryReconcileWorker) Timeout(*river.Job[ExpiryReconcileArgs]) time.Duration {
	return 5 * time.Minute
}

type ConfirmTransactionsArgs struct{}

func (ConfirmTransactionsArgs) Kind() string { return "bounty_tx_confirm" }

func (ConfirmTransactionsArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{MaxAttempts: 1}
}

type TransactionConfirmer interface {
	Run(ctx context.Context) (services.ConfirmResult, error)
}

type ConfirmTransactionsWorker struct {
	river.WorkerDefaults[ConfirmTransactionsArgs]
	confirmer TransactionConfirmer
	logger    *slog.Logger
}

func NewConfirmTransactionsWorker(c TransactionConfirmer, logger *slog.Logger) *ConfirmTransactionsWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConfirmTransactionsWorker{confirmer: c, logger: logger}
}

func (w *ConfirmTransactionsWorker) Work(ctx context.Context, job *river.Job[ConfirmTransactionsArgs]) error {
	res, err := w.confirmer.Run(ctx)
	if err != nil {
		w.logger.Error("transaction confirmation failed", "job_id", job.ID, "error", err)
		return nil
	}
	if res.Confirmed+res.Reverted+res.Funded > 0 {
		w.logger.Info("transactions confirmed", "confirmed", res.Confirmed, "reverted", res.Reverted, "funded", res.Funded)
	}
	return nil
}

// PeriodicJobs schedules the reconciler and the confirmer. Both run once at startup.
func PeriodicJobs(expiryEvery, confirmEvery time.Duration) []*river.PeriodicJob {
	var out []*river.PeriodicJob
	if expiryEvery > 0 {
		out = append(out, river.NewPeriodicJob(
			river.PeriodicInterval(expiryEvery),
			func() (river.JobArgs, *river.InsertOpts) { return ExpiryReconcileArgs{}, nil },
			&river.PeriodicJobOpts{RunOnStart: true},
		))
	}
	if confirmEvery > 0 {
		out = append(out, river.NewPeriodicJob(
			river.PeriodicInterval(confirmEvery),
			func() (river.JobArgs, *river.InsertOpts) { return ConfirmTransactionsArgs{}, nil },
			&river.PeriodicJobOpts{RunOnStart: true},
		))
	}
	return out
}

// Register adds every bounty worker to workers.
func Register(workers *river.Workers, d Distributor, r ExpiryReconciler, c TransactionConfirmer, logger *slog.Logger) {
	river.AddWorker(workers, NewRewardWorker(d))
	river.AddWorker(workers, NewExpiryReconcileWorker(r, logger))
	river.AddWorker(workers, NewConfirmTransactionsWorker(c, logger))
}
