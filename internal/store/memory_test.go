package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ovictormagalhaes/DeFi10-sub001/internal/domain"
)

func newTestJob(t *testing.T, s *MemoryJobStore, jobID string, pending []string, ttl time.Duration) domain.JobMeta {
	t.Helper()
	meta := domain.JobMeta{
		JobID:         jobID,
		Accounts:      []string{"0x1a2b3c4d5e6f7a8b9c0d1e2f3a4b5c6d7e8f9a0b"},
		Chains:        []domain.Chain{domain.ChainEthereum},
		ExpectedTotal: int64(len(pending)),
		Status:        domain.JobStatusPending,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.CreateJob(context.Background(), meta, pending, ttl); err != nil {
		t.Fatalf("create job: %v", err)
	}
	return meta
}

func TestJobExpiry(t *testing.T) {
	s := NewMemoryJobStore()
	base := time.Now()
	s.now = func() time.Time { return base }

	newTestJob(t, s, "job-1", []string{"aave_supply:ethereum"}, time.Minute)

	if _, err := s.GetJobMeta(context.Background(), "job-1"); err != nil {
		t.Fatalf("expected live job, got %v", err)
	}

	base = base.Add(2 * time.Minute)
	if _, err := s.GetJobMeta(context.Background(), "job-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after expiry, got %v", err)
	}
}

func TestIncrementCountersByStatus(t *testing.T) {
	s := NewMemoryJobStore()
	newTestJob(t, s, "job-1", []string{"a", "b", "c"}, time.Minute)
	ctx := context.Background()

	_ = s.IncrementCounters(ctx, "job-1", domain.ResultSuccess)
	_ = s.IncrementCounters(ctx, "job-1", domain.ResultFailed)
	_ = s.IncrementCounters(ctx, "job-1", domain.ResultTimedOut)

	meta, err := s.GetJobMeta(ctx, "job-1")
	if err != nil {
		t.Fatalf("get meta: %v", err)
	}
	if meta.Succeeded != 1 || meta.Failed != 1 || meta.TimedOut != 1 || meta.Processed != 3 {
		t.Fatalf("unexpected counters: %+v", meta)
	}
	if meta.Succeeded+meta.Failed+meta.TimedOut > meta.ExpectedTotal {
		t.Fatalf("counter sum exceeds expected total: %+v", meta)
	}
}

func TestMarkResultProcessedIsOncePerWorkItem(t *testing.T) {
	s := NewMemoryJobStore()
	newTestJob(t, s, "job-1", []string{"aave_supply:ethereum"}, time.Minute)
	ctx := context.Background()

	first, err := s.MarkResultProcessed(ctx, "job-1", "aave_supply:ethereum", time.Minute)
	if err != nil || !first {
		t.Fatalf("expected first marker write to win, got first=%v err=%v", first, err)
	}
	second, err := s.MarkResultProcessed(ctx, "job-1", "aave_supply:ethereum", time.Minute)
	if err != nil || second {
		t.Fatalf("expected duplicate marker write to lose, got first=%v err=%v", second, err)
	}
}

func TestRemovePendingFallsBackThroughKeys(t *testing.T) {
	s := NewMemoryJobStore()
	newTestJob(t, s, "job-1", []string{"aave_supply"}, time.Minute)
	ctx := context.Background()

	removed, err := s.RemovePending(ctx, "job-1", "aave_supply:ethereum", "aave_supply")
	if err != nil || !removed {
		t.Fatalf("expected legacy key removal, got removed=%v err=%v", removed, err)
	}
	count, _ := s.PendingCount(ctx, "job-1")
	if count != 0 {
		t.Fatalf("expected empty pending set, got %d", count)
	}

	removed, err = s.RemovePending(ctx, "job-1", "aave_supply:ethereum", "aave_supply")
	if err != nil || removed {
		t.Fatalf("expected second removal to be a no-op, got removed=%v err=%v", removed, err)
	}
}

func TestExpandJobRaisesExpectedTotalAndPending(t *testing.T) {
	s := NewMemoryJobStore()
	newTestJob(t, s, "job-1", []string{"a", "b"}, time.Minute)
	ctx := context.Background()

	committed, err := s.ExpandJob(ctx, "job-1", []string{"pendle:ethereum"}, domain.ProviderAaveSupply)
	if err != nil || !committed {
		t.Fatalf("expected expansion to commit, got committed=%v err=%v", committed, err)
	}

	meta, _ := s.GetJobMeta(ctx, "job-1")
	if meta.ExpectedTotal != 3 {
		t.Fatalf("expected total 3, got %d", meta.ExpectedTotal)
	}
	count, _ := s.PendingCount(ctx, "job-1")
	if count != 3 {
		t.Fatalf("expected 3 pending entries, got %d", count)
	}
	if s.ExpandedBy("job-1", domain.ProviderAaveSupply) != 1 {
		t.Fatalf("expected provenance counter for triggering provider")
	}
}

func TestExpandJobAbortsWhenJobGone(t *testing.T) {
	s := NewMemoryJobStore()
	ctx := context.Background()

	committed, err := s.ExpandJob(ctx, "missing", []string{"pendle:ethereum"}, domain.ProviderAaveSupply)
	if err != nil {
		t.Fatalf("expected silent abort, got %v", err)
	}
	if committed {
		t.Fatalf("expected no commit for missing job")
	}
}

func TestResultCacheExpiry(t *testing.T) {
	s := NewMemoryJobStore()
	base := time.Now()
	s.now = func() time.Time { return base }
	ctx := context.Background()

	result := &domain.IntegrationResult{
		JobID:    "job-1",
		Provider: domain.ProviderAaveSupply,
		Account:  "0x1a2b3c4d5e6f7a8b9c0d1e2f3a4b5c6d7e8f9a0b",
		Status:   domain.ResultSuccess,
		Payload:  []byte(`{"supplies":[]}`),
	}
	if err := s.SetCachedResult(ctx, result.Account, domain.ChainEthereum, result.Provider, result, 5*time.Minute); err != nil {
		t.Fatalf("set cache: %v", err)
	}

	cached, err := s.GetCachedResult(ctx, result.Account, domain.ChainEthereum, result.Provider)
	if err != nil {
		t.Fatalf("expected cache hit, got %v", err)
	}
	if cached.JobID != "job-1" {
		t.Fatalf("unexpected cached job id %q", cached.JobID)
	}

	base = base.Add(6 * time.Minute)
	if _, err := s.GetCachedResult(ctx, result.Account, domain.ChainEthereum, result.Provider); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected expired cache miss, got %v", err)
	}
}

func TestMutateWalletAccumulates(t *testing.T) {
	s := NewMemoryJobStore()
	newTestJob(t, s, "job-1", []string{"a"}, time.Minute)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		err := s.MutateWallet(ctx, "job-1", "", true, time.Minute, func(wallet *domain.Wallet) {
			wallet.Items = append(wallet.Items, domain.PortfolioItem{Symbol: "ETH", Amount: 1})
		})
		if err != nil {
			t.Fatalf("mutate wallet: %v", err)
		}
	}

	wallet, err := s.GetWallet(ctx, "job-1", "", true)
	if err != nil {
		t.Fatalf("get wallet: %v", err)
	}
	if len(wallet.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(wallet.Items))
	}
}

func TestConsolidationMarkerFirstWriterWins(t *testing.T) {
	s := NewMemoryJobStore()
	newTestJob(t, s, "job-1", []string{"a"}, time.Minute)
	ctx := context.Background()

	first, err := s.MarkConsolidationRequested(ctx, "job-1", time.Minute)
	if err != nil || !first {
		t.Fatalf("expected first marker to win, got first=%v err=%v", first, err)
	}
	second, err := s.MarkConsolidationRequested(ctx, "job-1", time.Minute)
	if err != nil || second {
		t.Fatalf("expected second marker to lose, got first=%v err=%v", second, err)
	}
}

func TestFinalizeJobSetsStatusAndFlagTogether(t *testing.T) {
	s := NewMemoryJobStore()
	newTestJob(t, s, "job-1", []string{"a"}, time.Minute)
	ctx := context.Background()

	if err := s.FinalizeJob(ctx, "job-1", domain.JobStatusCompleted); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	meta, _ := s.GetJobMeta(ctx, "job-1")
	if meta.Status != domain.JobStatusCompleted || !meta.FinalEmitted {
		t.Fatalf("expected completed+finalEmitted, got %+v", meta)
	}
}
