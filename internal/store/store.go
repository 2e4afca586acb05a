package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/ovictormagalhaes/DeFi10-sub001/internal/domain"
)

var ErrNotFound = errors.New("resource not found")

// WorkItemKey builds the pending-set/result-marker key for one combination.
// Multi-account jobs carry the account segment; single-account jobs
// historically wrote provider:chain only.
func WorkItemKey(provider domain.Provider, chain domain.Chain, account string, multiAccount bool) string {
	if multiAccount {
		return strings.Join([]string{string(provider), string(chain), account}, ":")
	}
	return string(provider) + ":" + string(chain)
}

// JobStore is the shared, TTL-bound state behind every consumer instance.
// Each method is individually atomic against concurrent callers; no method
// takes a lock spanning more than one logical operation except ExpandJob,
// whose multi-field update is conditioned on the job meta still existing.
type JobStore interface {
	// CreateJob writes the job meta record and the initial pending set,
	// both with the job TTL.
	CreateJob(ctx context.Context, meta domain.JobMeta, pending []string, ttl time.Duration) error
	// GetJobMeta returns ErrNotFound once the meta record expired or was
	// never written; callers treat that as "job gone, drop the message".
	GetJobMeta(ctx context.Context, jobID string) (*domain.JobMeta, error)
	// JobTTL reports the remaining TTL of the job meta record.
	JobTTL(ctx context.Context, jobID string) (time.Duration, error)

	// IncrementCounters bumps the counter matching status plus the
	// processed counter, atomically per field.
	IncrementCounters(ctx context.Context, jobID string, status domain.ResultStatus) error
	// RemovePending removes the first of keys present in the pending set
	// and reports whether any removal happened.
	RemovePending(ctx context.Context, jobID string, keys ...string) (bool, error)
	PendingCount(ctx context.Context, jobID string) (int64, error)
	PendingEntries(ctx context.Context, jobID string) ([]string, error)
	ClearPending(ctx context.Context, jobID string) error

	// ExpandJob atomically raises expectedTotal by len(entries), adds the
	// entries to the pending set and records expansion provenance for
	// triggeredBy, all conditioned on the job meta record still existing.
	// Returns false with nil error when the job vanished concurrently.
	ExpandJob(ctx context.Context, jobID string, entries []string, triggeredBy domain.Provider) (bool, error)

	// MarkResultProcessed writes the per-job result marker for workItem.
	// Returns false when the marker already existed (duplicate delivery).
	MarkResultProcessed(ctx context.Context, jobID, workItem string, ttl time.Duration) (bool, error)
	RecordDuration(ctx context.Context, jobID string, provider domain.Provider, duration time.Duration) error

	// Result cache, keyed by (account, chain, provider) independent of job.
	GetCachedResult(ctx context.Context, account string, chain domain.Chain, provider domain.Provider) (*domain.IntegrationResult, error)
	SetCachedResult(ctx context.Context, account string, chain domain.Chain, provider domain.Provider, result *domain.IntegrationResult, ttl time.Duration) error

	// MutateWallet applies fn to the stored wallet under an optimistic
	// transaction and writes it back with ttl. A missing or unreadable
	// wallet is presented to fn as an empty one.
	MutateWallet(ctx context.Context, jobID, account string, shared bool, ttl time.Duration, fn func(*domain.Wallet)) error
	GetWallet(ctx context.Context, jobID, account string, shared bool) (*domain.Wallet, error)
	// SaveFinalWallet stores the merged consolidated wallet under the
	// shared wallet key.
	SaveFinalWallet(ctx context.Context, jobID string, wallet *domain.Wallet, ttl time.Duration) error

	MutateSummary(ctx context.Context, jobID string, ttl time.Duration, fn func(*domain.Summary)) error
	GetSummary(ctx context.Context, jobID string) (*domain.Summary, error)

	// MarkConsolidationRequested set-if-absents the consolidation marker;
	// true means the caller won and owns publishing the request event.
	MarkConsolidationRequested(ctx context.Context, jobID string, ttl time.Duration) (bool, error)
	// MarkAggregationDone set-if-absents the done marker written after the
	// final event is published.
	MarkAggregationDone(ctx context.Context, jobID string, ttl time.Duration) (bool, error)
	AggregationDone(ctx context.Context, jobID string) (bool, error)

	// SetStatus updates the job status only.
	SetStatus(ctx context.Context, jobID string, status domain.JobStatus) error
	// FinalizeJob sets status and finalEmitted=1 in a single atomic update.
	FinalizeJob(ctx context.Context, jobID string, status domain.JobStatus) error
}
