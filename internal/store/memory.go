package store

import (
	"context"
	"sync"
	"time"

	"github.com/ovictormagalhaes/DeFi10-sub001/internal/domain"
)

type memoryJob struct {
	meta                domain.JobMeta
	pending             map[string]struct{}
	durations           map[domain.Provider]time.Duration
	summary             *domain.Summary
	wallets             map[string]*domain.Wallet
	processed           map[string]struct{}
	expandedBy          map[domain.Provider]int64
	consolidationMarked bool
	doneMarked          bool
	expiresAt           time.Time
}

type memoryCacheEntry struct {
	result    domain.IntegrationResult
	expiresAt time.Time
}

// MemoryJobStore is the in-memory JobStore used by tests and as a fallback
// when Redis is not configured. A single mutex stands in for the per-command
// atomicity Redis provides.
type MemoryJobStore struct {
	mu    sync.Mutex
	jobs  map[string]*memoryJob
	cache map[string]memoryCacheEntry
	now   func() time.Time
}

func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{
		jobs:  make(map[string]*memoryJob),
		cache: make(map[string]memoryCacheEntry),
		now:   time.Now,
	}
}

// job returns the live job record, expiring it lazily. Callers hold s.mu.
func (s *MemoryJobStore) job(jobID string) *memoryJob {
	record, ok := s.jobs[jobID]
	if !ok {
		return nil
	}
	if s.now().After(record.expiresAt) {
		delete(s.jobs, jobID)
		return nil
	}
	return record
}

func (s *MemoryJobStore) CreateJob(_ context.Context, meta domain.JobMeta, pending []string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record := &memoryJob{
		meta:       meta,
		pending:    make(map[string]struct{}, len(pending)),
		durations:  make(map[domain.Provider]time.Duration),
		wallets:    make(map[string]*domain.Wallet),
		processed:  make(map[string]struct{}),
		expandedBy: make(map[domain.Provider]int64),
		expiresAt:  s.now().Add(ttl),
	}
	for _, entry := range pending {
		record.pending[entry] = struct{}{}
	}
	s.jobs[meta.JobID] = record
	return nil
}

func (s *MemoryJobStore) GetJobMeta(_ context.Context, jobID string) (*domain.JobMeta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record := s.job(jobID)
	if record == nil {
		return nil, ErrNotFound
	}
	meta := record.meta
	meta.Accounts = append([]string(nil), record.meta.Accounts...)
	meta.Chains = append([]domain.Chain(nil), record.meta.Chains...)
	return &meta, nil
}

func (s *MemoryJobStore) JobTTL(_ context.Context, jobID string) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record := s.job(jobID)
	if record == nil {
		return 0, ErrNotFound
	}
	return record.expiresAt.Sub(s.now()), nil
}

func (s *MemoryJobStore) IncrementCounters(_ context.Context, jobID string, status domain.ResultStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record := s.job(jobID)
	if record == nil {
		return ErrNotFound
	}
	switch status {
	case domain.ResultSuccess:
		record.meta.Succeeded++
	case domain.ResultFailed:
		record.meta.Failed++
	case domain.ResultTimedOut:
		record.meta.TimedOut++
	}
	record.meta.Processed++
	return nil
}

func (s *MemoryJobStore) RemovePending(_ context.Context, jobID string, keys ...string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record := s.job(jobID)
	if record == nil {
		return false, nil
	}
	for _, key := range keys {
		if _, ok := record.pending[key]; ok {
			delete(record.pending, key)
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryJobStore) PendingCount(_ context.Context, jobID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record := s.job(jobID)
	if record == nil {
		return 0, nil
	}
	return int64(len(record.pending)), nil
}

func (s *MemoryJobStore) PendingEntries(_ context.Context, jobID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record := s.job(jobID)
	if record == nil {
		return nil, nil
	}
	entries := make([]string, 0, len(record.pending))
	for entry := range record.pending {
		entries = append(entries, entry)
	}
	return entries, nil
}

func (s *MemoryJobStore) ClearPending(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if record := s.job(jobID); record != nil {
		record.pending = make(map[string]struct{})
	}
	return nil
}

func (s *MemoryJobStore) ExpandJob(_ context.Context, jobID string, entries []string, triggeredBy domain.Provider) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record := s.job(jobID)
	if record == nil {
		return false, nil
	}
	record.meta.ExpectedTotal += int64(len(entries))
	for _, entry := range entries {
		record.pending[entry] = struct{}{}
	}
	record.expandedBy[triggeredBy]++
	return true, nil
}

func (s *MemoryJobStore) MarkResultProcessed(_ context.Context, jobID, workItem string, _ time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record := s.job(jobID)
	if record == nil {
		return false, ErrNotFound
	}
	if _, ok := record.processed[workItem]; ok {
		return false, nil
	}
	record.processed[workItem] = struct{}{}
	return true, nil
}

func (s *MemoryJobStore) RecordDuration(_ context.Context, jobID string, provider domain.Provider, duration time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if record := s.job(jobID); record != nil {
		record.durations[provider] = duration
	}
	return nil
}

func cacheKey(account string, chain domain.Chain, provider domain.Provider) string {
	return account + ":" + string(chain) + ":" + string(provider)
}

func (s *MemoryJobStore) GetCachedResult(_ context.Context, account string, chain domain.Chain, provider domain.Provider) (*domain.IntegrationResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := cacheKey(account, chain, provider)
	entry, ok := s.cache[key]
	if !ok {
		return nil, ErrNotFound
	}
	if s.now().After(entry.expiresAt) {
		delete(s.cache, key)
		return nil, ErrNotFound
	}
	result := entry.result
	result.Payload = append([]byte(nil), entry.result.Payload...)
	return &result, nil
}

func (s *MemoryJobStore) SetCachedResult(_ context.Context, account string, chain domain.Chain, provider domain.Provider, result *domain.IntegrationResult, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *result
	stored.Payload = append([]byte(nil), result.Payload...)
	s.cache[cacheKey(account, chain, provider)] = memoryCacheEntry{
		result:    stored,
		expiresAt: s.now().Add(ttl),
	}
	return nil
}

func walletKey(account string, shared bool) string {
	if shared {
		return ""
	}
	return account
}

func (s *MemoryJobStore) MutateWallet(_ context.Context, jobID, account string, shared bool, _ time.Duration, fn func(*domain.Wallet)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record := s.job(jobID)
	if record == nil {
		return ErrNotFound
	}
	key := walletKey(account, shared)
	wallet, ok := record.wallets[key]
	if !ok {
		wallet = &domain.Wallet{}
		record.wallets[key] = wallet
	}
	fn(wallet)
	return nil
}

func (s *MemoryJobStore) GetWallet(_ context.Context, jobID, account string, shared bool) (*domain.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record := s.job(jobID)
	if record == nil {
		return nil, ErrNotFound
	}
	wallet, ok := record.wallets[walletKey(account, shared)]
	if !ok {
		return &domain.Wallet{}, nil
	}
	clone := &domain.Wallet{
		Items:         append([]domain.PortfolioItem(nil), wallet.Items...),
		ProvidersSeen: append([]string(nil), wallet.ProvidersSeen...),
	}
	return clone, nil
}

func (s *MemoryJobStore) SaveFinalWallet(_ context.Context, jobID string, wallet *domain.Wallet, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record := s.job(jobID)
	if record == nil {
		return ErrNotFound
	}
	record.wallets[walletKey("", true)] = &domain.Wallet{
		Items:         append([]domain.PortfolioItem(nil), wallet.Items...),
		ProvidersSeen: append([]string(nil), wallet.ProvidersSeen...),
	}
	return nil
}

func (s *MemoryJobStore) MutateSummary(_ context.Context, jobID string, _ time.Duration, fn func(*domain.Summary)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record := s.job(jobID)
	if record == nil {
		return ErrNotFound
	}
	if record.summary == nil {
		record.summary = &domain.Summary{}
	}
	fn(record.summary)
	return nil
}

func (s *MemoryJobStore) GetSummary(_ context.Context, jobID string) (*domain.Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record := s.job(jobID)
	if record == nil {
		return nil, ErrNotFound
	}
	if record.summary == nil {
		return &domain.Summary{}, nil
	}
	summary := *record.summary
	return &summary, nil
}

func (s *MemoryJobStore) MarkConsolidationRequested(_ context.Context, jobID string, _ time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record := s.job(jobID)
	if record == nil {
		return false, ErrNotFound
	}
	if record.consolidationMarked {
		return false, nil
	}
	record.consolidationMarked = true
	return true, nil
}

func (s *MemoryJobStore) MarkAggregationDone(_ context.Context, jobID string, _ time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record := s.job(jobID)
	if record == nil {
		return false, ErrNotFound
	}
	if record.doneMarked {
		return false, nil
	}
	record.doneMarked = true
	return true, nil
}

func (s *MemoryJobStore) AggregationDone(_ context.Context, jobID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record := s.job(jobID)
	if record == nil {
		return false, nil
	}
	return record.doneMarked, nil
}

func (s *MemoryJobStore) SetStatus(_ context.Context, jobID string, status domain.JobStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record := s.job(jobID)
	if record == nil {
		return ErrNotFound
	}
	record.meta.Status = status
	return nil
}

func (s *MemoryJobStore) FinalizeJob(_ context.Context, jobID string, status domain.JobStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record := s.job(jobID)
	if record == nil {
		return ErrNotFound
	}
	record.meta.Status = status
	record.meta.FinalEmitted = true
	return nil
}

// ExpandedBy reports how many expansions a provider triggered for a job.
// Diagnostic accessor used by tests.
func (s *MemoryJobStore) ExpandedBy(jobID string, provider domain.Provider) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	record := s.job(jobID)
	if record == nil {
		return 0
	}
	return record.expandedBy[provider]
}
