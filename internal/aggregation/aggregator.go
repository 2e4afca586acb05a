package aggregation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/ovictormagalhaes/DeFi10-sub001/internal/bus"
	"github.com/ovictormagalhaes/DeFi10-sub001/internal/domain"
	"github.com/ovictormagalhaes/DeFi10-sub001/internal/expansion"
	"github.com/ovictormagalhaes/DeFi10-sub001/internal/mapper"
	"github.com/ovictormagalhaes/DeFi10-sub001/internal/store"
	"github.com/ovictormagalhaes/DeFi10-sub001/internal/triggers"
)

type AggregatorConfig struct {
	ResultCacheTTL   time.Duration
	CollateralFactor float64
}

// Aggregator ingests integration results one at a time: bookkeeping first
// (idempotency marker, pending removal, counter increments), then
// best-effort enrichment (wallet merge, summary, expansion), then the
// completion decision. Any number of Aggregator instances run concurrently
// against the same store.
type Aggregator struct {
	store            store.JobStore
	mapper           mapper.Mapper
	registry         *triggers.Registry
	expander         *expansion.Service
	consolidation    bus.Publisher
	logger           *log.Logger
	cacheTTL         time.Duration
	collateralFactor float64
}

func NewAggregator(
	jobStore store.JobStore,
	payloadMapper mapper.Mapper,
	registry *triggers.Registry,
	expander *expansion.Service,
	consolidation bus.Publisher,
	logger *log.Logger,
	cfg AggregatorConfig,
) *Aggregator {
	if cfg.ResultCacheTTL <= 0 {
		cfg.ResultCacheTTL = 5 * time.Minute
	}
	if cfg.CollateralFactor <= 0 {
		cfg.CollateralFactor = 0.8
	}
	return &Aggregator{
		store:            jobStore,
		mapper:           payloadMapper,
		registry:         registry,
		expander:         expander,
		consolidation:    consolidation,
		logger:           logger,
		cacheTTL:         cfg.ResultCacheTTL,
		collateralFactor: cfg.CollateralFactor,
	}
}

// HandleMessage adapts the bus envelope to HandleResult.
func (a *Aggregator) HandleMessage(ctx context.Context, message bus.Message) error {
	var result domain.IntegrationResult
	if err := json.Unmarshal(message.Payload, &result); err != nil {
		return fmt.Errorf("decode integration result: %w", err)
	}
	return a.HandleResult(ctx, result)
}

func (a *Aggregator) HandleResult(ctx context.Context, result domain.IntegrationResult) error {
	chain := a.resolveChain(result)

	// Cache-aside: a still-fresh result for the same (account, chain,
	// provider) triple from another job replaces the incoming payload.
	cached, err := a.store.GetCachedResult(ctx, result.Account, chain, result.Provider)
	switch {
	case err == nil:
		cached.JobID = result.JobID
		result = *cached
	case errors.Is(err, store.ErrNotFound):
		if result.Status == domain.ResultSuccess && len(result.Payload) > 0 {
			if cacheErr := a.store.SetCachedResult(ctx, result.Account, chain, result.Provider, &result, a.cacheTTL); cacheErr != nil {
				a.logf("cache write failed job_id=%s provider=%s: %v", result.JobID, result.Provider, cacheErr)
			}
		}
	default:
		a.logf("cache lookup failed job_id=%s provider=%s: %v", result.JobID, result.Provider, err)
	}

	meta, err := a.store.GetJobMeta(ctx, result.JobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			a.logf("dropping result for expired job job_id=%s provider=%s", result.JobID, result.Provider)
			return nil
		}
		return fmt.Errorf("load job meta: %w", err)
	}

	remainingTTL, err := a.store.JobTTL(ctx, result.JobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("job ttl: %w", err)
	}

	workItem := store.WorkItemKey(result.Provider, chain, result.Account, meta.MultiAccount())
	first, err := a.store.MarkResultProcessed(ctx, result.JobID, workItem, remainingTTL)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("mark result processed: %w", err)
	}
	if !first {
		a.logf("dropping duplicate result job_id=%s work_item=%s", result.JobID, workItem)
		return nil
	}

	// Bookkeeping below must complete regardless of enrichment failures;
	// from the marker on, errors are logged instead of returned so the
	// transport never redelivers a half-processed message.
	if err := a.store.RecordDuration(ctx, result.JobID, result.Provider, result.FinishedAt.Sub(result.StartedAt)); err != nil {
		a.logf("record duration failed job_id=%s: %v", result.JobID, err)
	}

	removalKeys := pendingRemovalKeys(result.Provider, chain, result.Account, meta.MultiAccount())
	if _, err := a.store.RemovePending(ctx, result.JobID, removalKeys...); err != nil {
		a.logf("pending removal failed job_id=%s work_item=%s: %v", result.JobID, workItem, err)
	}

	if err := a.store.IncrementCounters(ctx, result.JobID, result.Status); err != nil {
		a.logf("counter increment failed job_id=%s: %v", result.JobID, err)
	}

	if result.Status == domain.ResultSuccess && len(result.Payload) > 0 {
		a.mergeResult(ctx, meta, result, chain, workItem, remainingTTL)
		a.evaluateExpansion(ctx, result, chain)
	}

	return a.decideCompletion(ctx, result.JobID, remainingTTL)
}

func (a *Aggregator) resolveChain(result domain.IntegrationResult) domain.Chain {
	if len(result.Chains) > 0 {
		if chain, ok := domain.ParseChain(string(result.Chains[0])); ok {
			return chain
		}
	}
	a.logf("unparseable chain for job_id=%s provider=%s, defaulting to %s",
		result.JobID, result.Provider, domain.ChainBaseline)
	return domain.ChainBaseline
}

// mergeResult maps the payload, filters it and folds it into the job's
// consolidated wallet, then refreshes the summary counters. Every failure
// here degrades to "no items from this provider".
func (a *Aggregator) mergeResult(
	ctx context.Context,
	meta *domain.JobMeta,
	result domain.IntegrationResult,
	chain domain.Chain,
	workItem string,
	ttl time.Duration,
) {
	items, err := a.mapper.Map(result.Provider, result.Payload, chain)
	if err != nil {
		a.logf("payload mapping failed job_id=%s provider=%s: %v", result.JobID, result.Provider, err)
		return
	}
	items = applyPostFilters(items)
	for i := range items {
		items[i].Account = result.Account
	}

	shared := !meta.MultiAccount()
	err = a.store.MutateWallet(ctx, result.JobID, result.Account, shared, ttl, func(wallet *domain.Wallet) {
		if wallet.Seen(workItem) {
			return
		}
		wallet.Items = append(wallet.Items, items...)
		wallet.MarkSeen(workItem)
		stampHealthFactors(wallet, a.collateralFactor)
	})
	if err != nil {
		a.logf("wallet merge failed job_id=%s provider=%s: %v", result.JobID, result.Provider, err)
		return
	}

	if len(items) > 0 {
		kind := items[0].Kind
		count := len(items)
		if err := a.store.MutateSummary(ctx, result.JobID, ttl, func(summary *domain.Summary) {
			summary.Count(kind, count)
		}); err != nil {
			a.logf("summary update failed job_id=%s: %v", result.JobID, err)
		}
	}
}

func (a *Aggregator) evaluateExpansion(ctx context.Context, result domain.IntegrationResult, chain domain.Chain) {
	if a.registry == nil || a.expander == nil {
		return
	}
	detector, ok := a.registry.DetectorFor(result.Provider)
	if !ok {
		return
	}
	candidates := detector.Detect(result.Payload, chain)
	if len(candidates) == 0 {
		return
	}
	added, err := a.expander.ExpandJob(ctx, result.JobID, result.Account, candidates, result.Provider)
	if err != nil {
		a.logf("expansion failed job_id=%s triggered_by=%s: %v", result.JobID, result.Provider, err)
		return
	}
	if added > 0 {
		a.logf("job expanded job_id=%s triggered_by=%s added=%d", result.JobID, result.Provider, added)
	}
}

// decideCompletion requests consolidation when the pending set drains, and
// applies the late-correction path when a result lands after finalization.
func (a *Aggregator) decideCompletion(ctx context.Context, jobID string, ttl time.Duration) error {
	meta, err := a.store.GetJobMeta(ctx, jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("reload job meta: %w", err)
	}

	if meta.FinalEmitted {
		// Late-correction: a result arriving after finalization may still
		// complete the job cleanly; upgrade the terminal status in place.
		if meta.Succeeded == meta.ExpectedTotal && meta.Failed == 0 && meta.Status != domain.JobStatusCompleted {
			if err := a.store.SetStatus(ctx, jobID, domain.JobStatusCompleted); err != nil {
				a.logf("late status upgrade failed job_id=%s: %v", jobID, err)
				return nil
			}
			if err := a.store.ClearPending(ctx, jobID); err != nil {
				a.logf("late pending clear failed job_id=%s: %v", jobID, err)
			}
			a.logf("late result upgraded job to completed job_id=%s", jobID)
		}
		return nil
	}

	pending, err := a.store.PendingCount(ctx, jobID)
	if err != nil {
		a.logf("pending count failed job_id=%s: %v", jobID, err)
		return nil
	}
	if pending > 0 {
		return nil
	}

	first, err := a.store.MarkConsolidationRequested(ctx, jobID, ttl)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		a.logf("consolidation marker failed job_id=%s: %v", jobID, err)
		return nil
	}
	if !first {
		return nil
	}

	event := domain.WalletConsolidationRequested{
		JobID:         jobID,
		WalletGroupID: meta.WalletGroupID,
		Accounts:      meta.Accounts,
		Chains:        meta.Chains,
		Snapshot: domain.CounterSnapshot{
			ExpectedTotal: meta.ExpectedTotal,
			Succeeded:     meta.Succeeded,
			Failed:        meta.Failed,
			TimedOut:      meta.TimedOut,
		},
		RequestedAt: time.Now().UTC(),
	}
	payload, err := json.Marshal(event)
	if err != nil {
		a.logf("encode consolidation request failed job_id=%s: %v", jobID, err)
		return nil
	}
	if err := a.consolidation.Publish(ctx, bus.Message{JobID: jobID, Payload: payload}); err != nil {
		a.logf("publish consolidation request failed job_id=%s: %v", jobID, err)
	}
	return nil
}

// pendingRemovalKeys lists removal candidates in precedence order: the
// account-qualified entry for multi-account jobs, then the provider:chain
// entry, then the bare provider slug kept for legacy single-account jobs.
func pendingRemovalKeys(provider domain.Provider, chain domain.Chain, account string, multiAccount bool) []string {
	if multiAccount {
		return []string{
			string(provider) + ":" + string(chain) + ":" + account,
			string(provider) + ":" + string(chain),
		}
	}
	return []string{
		string(provider) + ":" + string(chain),
		string(provider),
	}
}

func (a *Aggregator) logf(format string, args ...any) {
	if a.logger != nil {
		a.logger.Printf(format, args...)
	}
}
