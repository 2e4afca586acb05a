// Package consolidation finalizes a job: it merges the partial wallets,
// hydrates prices and metadata best-effort, resolves the terminal status and
// publishes the single AggregationCompleted event.
package consolidation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/ovictormagalhaes/DeFi10-sub001/internal/bus"
	"github.com/ovictormagalhaes/DeFi10-sub001/internal/domain"
	"github.com/ovictormagalhaes/DeFi10-sub001/internal/repository"
	"github.com/ovictormagalhaes/DeFi10-sub001/internal/store"
)

// Hydrator fills unset fields on wallet items in place. Implementations
// must never overwrite a field that is already set.
type Hydrator interface {
	Hydrate(ctx context.Context, items []domain.PortfolioItem) error
}

type Worker struct {
	store     store.JobStore
	completed bus.Publisher
	logos     Hydrator
	prices    Hydrator
	archive   repository.ArchiveRepository
	logger    *log.Logger
}

func NewWorker(
	jobStore store.JobStore,
	completed bus.Publisher,
	logos Hydrator,
	prices Hydrator,
	archive repository.ArchiveRepository,
	logger *log.Logger,
) *Worker {
	return &Worker{
		store:     jobStore,
		completed: completed,
		logos:     logos,
		prices:    prices,
		archive:   archive,
		logger:    logger,
	}
}

// HandleMessage adapts the bus envelope to Consolidate.
func (w *Worker) HandleMessage(ctx context.Context, message bus.Message) error {
	var event domain.WalletConsolidationRequested
	if err := json.Unmarshal(message.Payload, &event); err != nil {
		return fmt.Errorf("decode consolidation request: %w", err)
	}
	return w.Consolidate(ctx, event)
}

// Consolidate performs the job's exactly-once finalization. Any panic or
// error past the idempotency guards forces a CompletedWithErrors finalize so
// the job can never hang in Consolidating.
func (w *Worker) Consolidate(ctx context.Context, event domain.WalletConsolidationRequested) error {
	defer func() {
		if recovered := recover(); recovered != nil {
			w.logf("panic during consolidation job_id=%s: %v", event.JobID, recovered)
			w.forceFinalize(ctx, event.JobID)
		}
	}()

	proceed, err := w.guard(ctx, event.JobID)
	if err != nil {
		return err
	}
	if !proceed {
		return nil
	}

	if err := w.consolidate(ctx, event); err != nil {
		w.logf("consolidation failed job_id=%s, forcing completed_with_errors: %v", event.JobID, err)
		w.forceFinalize(ctx, event.JobID)
	}
	return nil
}

// guard applies the idempotency checks: a vanished job, an already-emitted
// final event or a present done marker all mean a no-op skip.
func (w *Worker) guard(ctx context.Context, jobID string) (bool, error) {
	meta, err := w.store.GetJobMeta(ctx, jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			w.logf("skipping consolidation for expired job job_id=%s", jobID)
			return false, nil
		}
		return false, fmt.Errorf("load job meta: %w", err)
	}
	if meta.FinalEmitted {
		w.logf("skipping consolidation, final already emitted job_id=%s", jobID)
		return false, nil
	}
	done, err := w.store.AggregationDone(ctx, jobID)
	if err != nil {
		return false, fmt.Errorf("done marker check: %w", err)
	}
	if done {
		w.logf("skipping consolidation, done marker present job_id=%s", jobID)
		return false, nil
	}
	return true, nil
}

func (w *Worker) consolidate(ctx context.Context, event domain.WalletConsolidationRequested) error {
	jobID := event.JobID

	meta, err := w.store.GetJobMeta(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load job meta: %w", err)
	}

	ttl, err := w.store.JobTTL(ctx, jobID)
	if err != nil || ttl <= 0 {
		ttl = time.Minute
	}

	if err := w.store.SetStatus(ctx, jobID, domain.JobStatusConsolidating); err != nil {
		w.logf("set consolidating status failed job_id=%s: %v", jobID, err)
	}

	wallet, err := w.mergeWallets(ctx, meta)
	if err != nil {
		return fmt.Errorf("merge wallets: %w", err)
	}

	w.hydrate(ctx, jobID, wallet)

	if err := w.store.SaveFinalWallet(ctx, jobID, wallet, ttl); err != nil {
		return fmt.Errorf("save final wallet: %w", err)
	}

	status := determineStatus(meta)
	if err := w.store.FinalizeJob(ctx, jobID, status); err != nil {
		return fmt.Errorf("finalize job: %w", err)
	}

	if err := w.publishCompleted(ctx, meta, status); err != nil {
		return fmt.Errorf("publish completed: %w", err)
	}

	if _, err := w.store.MarkAggregationDone(ctx, jobID, ttl); err != nil {
		w.logf("done marker write failed job_id=%s: %v", jobID, err)
	}

	w.archiveJob(ctx, meta, status, wallet)
	return nil
}

// mergeWallets concatenates the per-account wallets of a multi-account job,
// or reads the single shared wallet.
func (w *Worker) mergeWallets(ctx context.Context, meta *domain.JobMeta) (*domain.Wallet, error) {
	if !meta.MultiAccount() {
		return w.store.GetWallet(ctx, meta.JobID, "", true)
	}

	merged := &domain.Wallet{}
	for _, account := range meta.Accounts {
		partial, err := w.store.GetWallet(ctx, meta.JobID, account, false)
		if err != nil {
			return nil, fmt.Errorf("read wallet for %s: %w", account, err)
		}
		merged.Items = append(merged.Items, partial.Items...)
		for _, marker := range partial.ProvidersSeen {
			merged.MarkSeen(marker)
		}
	}
	return merged, nil
}

// hydrate runs logo then price hydration. Both are best-effort: a failure
// leaves the affected fields unset and never aborts consolidation.
func (w *Worker) hydrate(ctx context.Context, jobID string, wallet *domain.Wallet) {
	if w.logos != nil {
		if err := w.logos.Hydrate(ctx, wallet.Items); err != nil {
			w.logf("logo hydration failed job_id=%s: %v", jobID, err)
		}
	}
	if w.prices != nil {
		if err := w.prices.Hydrate(ctx, wallet.Items); err != nil {
			w.logf("price hydration failed job_id=%s: %v", jobID, err)
		}
	}
}

func (w *Worker) publishCompleted(ctx context.Context, meta *domain.JobMeta, status domain.JobStatus) error {
	account := ""
	if len(meta.Accounts) == 1 {
		account = meta.Accounts[0]
	}
	event := domain.AggregationCompleted{
		JobID:   meta.JobID,
		Account: account,
		Status:  status,
		Totals: domain.CounterSnapshot{
			ExpectedTotal: meta.ExpectedTotal,
			Succeeded:     meta.Succeeded,
			Failed:        meta.Failed,
			TimedOut:      meta.TimedOut,
		},
		CompletedAt: time.Now().UTC(),
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode completed event: %w", err)
	}
	return w.completed.Publish(ctx, bus.Message{JobID: meta.JobID, Payload: payload})
}

func (w *Worker) archiveJob(ctx context.Context, meta *domain.JobMeta, status domain.JobStatus, wallet *domain.Wallet) {
	if w.archive == nil {
		return
	}
	encoded, err := json.Marshal(wallet)
	if err != nil {
		w.logf("archive encode failed job_id=%s: %v", meta.JobID, err)
		return
	}
	record := &repository.AggregationRecord{
		JobID:         meta.JobID,
		WalletGroupID: meta.WalletGroupID,
		Status:        status,
		ExpectedTotal: meta.ExpectedTotal,
		Succeeded:     meta.Succeeded,
		Failed:        meta.Failed,
		TimedOut:      meta.TimedOut,
		Wallet:        encoded,
		CompletedAt:   time.Now().UTC(),
	}
	if err := w.archive.SaveAggregation(ctx, record); err != nil {
		w.logf("archive write failed job_id=%s: %v", meta.JobID, err)
	}
}

// forceFinalize is the last-resort path: the job is marked
// CompletedWithErrors with finalEmitted set so it cannot hang forever.
func (w *Worker) forceFinalize(ctx context.Context, jobID string) {
	if err := w.store.FinalizeJob(ctx, jobID, domain.JobStatusCompletedWithErrors); err != nil {
		w.logf("forced finalize failed job_id=%s: %v", jobID, err)
	}
}

// determineStatus resolves the terminal status from the counters; the rules
// apply in order.
func determineStatus(meta *domain.JobMeta) domain.JobStatus {
	switch {
	case meta.Succeeded == meta.ExpectedTotal && meta.Failed == 0:
		return domain.JobStatusCompleted
	case meta.TimedOut > 0 && meta.Succeeded == 0 && meta.Failed == 0:
		return domain.JobStatusTimedOut
	case meta.Failed == 0 && meta.TimedOut == 0:
		return domain.JobStatusCompleted
	case meta.TimedOut > 0:
		return domain.JobStatusTimedOut
	default:
		return domain.JobStatusCompletedWithErrors
	}
}

func (w *Worker) logf(format string, args ...any) {
	if w.logger != nil {
		w.logger.Printf(format, args...)
	}
}
