package expansion

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/ovictormagalhaes/DeFi10-sub001/internal/bus"
	"github.com/ovictormagalhaes/DeFi10-sub001/internal/domain"
	"github.com/ovictormagalhaes/DeFi10-sub001/internal/store"
	"github.com/ovictormagalhaes/DeFi10-sub001/internal/triggers"
)

const (
	evmAccount    = "0x1a2b3c4d5e6f7a8b9c0d1e2f3a4b5c6d7e8f9a0b"
	evmAccountTwo = "0x9f8e7d6c5b4a39281706f5e4d3c2b1a098765432"
	solanaAccount = "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"
)

type recordingPublisher struct {
	mu       sync.Mutex
	messages []bus.Message
}

func (p *recordingPublisher) Publish(_ context.Context, message bus.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, message)
	return nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.messages)
}

func createJob(t *testing.T, jobStore *store.MemoryJobStore, jobID string, accounts []string, pending []string, ttl time.Duration) {
	t.Helper()
	meta := domain.JobMeta{
		JobID:         jobID,
		Accounts:      accounts,
		Chains:        []domain.Chain{domain.ChainEthereum, domain.ChainSolana},
		ExpectedTotal: int64(len(pending)),
		Status:        domain.JobStatusPending,
		CreatedAt:     time.Now().UTC(),
	}
	if err := jobStore.CreateJob(context.Background(), meta, pending, ttl); err != nil {
		t.Fatalf("create job: %v", err)
	}
}

func TestExpandJobAddsWorkAndPublishes(t *testing.T) {
	jobStore := store.NewMemoryJobStore()
	requests := &recordingPublisher{}
	service := NewService(jobStore, requests, nil, 30*time.Second)
	createJob(t, jobStore, "job-1", []string{evmAccount}, []string{"aave_supply:ethereum"}, 10*time.Minute)

	added, err := service.ExpandJob(context.Background(), "job-1", evmAccount,
		[]triggers.Trigger{{Provider: domain.ProviderPendle, Chain: domain.ChainEthereum}},
		domain.ProviderAaveSupply)
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	if added != 1 {
		t.Fatalf("expected 1 combination added, got %d", added)
	}

	meta, _ := jobStore.GetJobMeta(context.Background(), "job-1")
	if meta.ExpectedTotal != 2 {
		t.Fatalf("expected total 2, got %d", meta.ExpectedTotal)
	}
	if requests.count() != 1 {
		t.Fatalf("expected one published request, got %d", requests.count())
	}

	var request domain.IntegrationRequest
	if err := json.Unmarshal(requests.messages[0].Payload, &request); err != nil {
		t.Fatalf("decode request: %v", err)
	}
	if request.Provider != domain.ProviderPendle || request.Account != evmAccount {
		t.Fatalf("unexpected request %+v", request)
	}
	if request.RequestID == "" {
		t.Fatalf("expected a minted request id")
	}
}

func TestExpandJobSkipsNearlyExpiredJob(t *testing.T) {
	jobStore := store.NewMemoryJobStore()
	requests := &recordingPublisher{}
	service := NewService(jobStore, requests, nil, 30*time.Second)
	createJob(t, jobStore, "job-1", []string{evmAccount}, []string{"aave_supply:ethereum"}, 10*time.Second)

	added, err := service.ExpandJob(context.Background(), "job-1", evmAccount,
		[]triggers.Trigger{{Provider: domain.ProviderPendle, Chain: domain.ChainEthereum}},
		domain.ProviderAaveSupply)
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	if added != 0 {
		t.Fatalf("expected no additions below the ttl safety margin, got %d", added)
	}
	if requests.count() != 0 {
		t.Fatalf("expected no published requests")
	}
}

func TestExpandJobDedupesAgainstPendingSet(t *testing.T) {
	jobStore := store.NewMemoryJobStore()
	requests := &recordingPublisher{}
	service := NewService(jobStore, requests, nil, 30*time.Second)
	createJob(t, jobStore, "job-1", []string{evmAccount}, []string{"pendle:ethereum"}, 10*time.Minute)

	added, err := service.ExpandJob(context.Background(), "job-1", evmAccount,
		[]triggers.Trigger{{Provider: domain.ProviderPendle, Chain: domain.ChainEthereum}},
		domain.ProviderAaveSupply)
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	if added != 0 {
		t.Fatalf("expected in-flight combination to be deduped, got %d", added)
	}
}

func TestExpandJobFiltersIncompatibleAddresses(t *testing.T) {
	jobStore := store.NewMemoryJobStore()
	requests := &recordingPublisher{}
	service := NewService(jobStore, requests, nil, 30*time.Second)
	createJob(t, jobStore, "job-1", []string{evmAccount}, []string{"aave_supply:ethereum"}, 10*time.Minute)

	// An EVM account can never be queried on a Solana-family chain.
	added, err := service.ExpandJob(context.Background(), "job-1", evmAccount,
		[]triggers.Trigger{{Provider: domain.ProviderKamino, Chain: domain.ChainSolana}},
		domain.ProviderSolanaTokens)
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	if added != 0 {
		t.Fatalf("expected incompatible combination dropped, got %d", added)
	}
	if requests.count() != 0 {
		t.Fatalf("expected no published requests")
	}
}

func TestExpandJobCrossesAccountsForMultiAccountJobs(t *testing.T) {
	jobStore := store.NewMemoryJobStore()
	requests := &recordingPublisher{}
	service := NewService(jobStore, requests, nil, 30*time.Second)
	createJob(t, jobStore, "job-1",
		[]string{evmAccount, evmAccountTwo, solanaAccount},
		[]string{"aave_supply:ethereum:" + evmAccount}, 10*time.Minute)

	added, err := service.ExpandJob(context.Background(), "job-1", evmAccount,
		[]triggers.Trigger{{Provider: domain.ProviderPendle, Chain: domain.ChainEthereum}},
		domain.ProviderAaveSupply)
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	// The solana account fails the chain-family filter; both EVM accounts
	// get the new combination.
	if added != 2 {
		t.Fatalf("expected 2 combinations across accounts, got %d", added)
	}
	if requests.count() != 2 {
		t.Fatalf("expected 2 published requests, got %d", requests.count())
	}

	entries, _ := jobStore.PendingEntries(context.Background(), "job-1")
	wantOne := "pendle:ethereum:" + evmAccount
	wantTwo := "pendle:ethereum:" + evmAccountTwo
	foundOne, foundTwo := false, false
	for _, entry := range entries {
		if entry == wantOne {
			foundOne = true
		}
		if entry == wantTwo {
			foundTwo = true
		}
	}
	if !foundOne || !foundTwo {
		t.Fatalf("expected account-qualified pending entries, got %v", entries)
	}
}

func TestExpandJobNoopForMissingJob(t *testing.T) {
	jobStore := store.NewMemoryJobStore()
	requests := &recordingPublisher{}
	service := NewService(jobStore, requests, nil, 30*time.Second)

	added, err := service.ExpandJob(context.Background(), "missing", evmAccount,
		[]triggers.Trigger{{Provider: domain.ProviderPendle, Chain: domain.ChainEthereum}},
		domain.ProviderAaveSupply)
	if err != nil {
		t.Fatalf("expected benign no-op, got %v", err)
	}
	if added != 0 || requests.count() != 0 {
		t.Fatalf("expected nothing added or published for missing job")
	}
}

func TestExpandJobNoopForEmptyCandidates(t *testing.T) {
	jobStore := store.NewMemoryJobStore()
	requests := &recordingPublisher{}
	service := NewService(jobStore, requests, nil, 30*time.Second)
	createJob(t, jobStore, "job-1", []string{evmAccount}, []string{"aave_supply:ethereum"}, 10*time.Minute)

	added, err := service.ExpandJob(context.Background(), "job-1", evmAccount, nil, domain.ProviderAaveSupply)
	if err != nil || added != 0 {
		t.Fatalf("expected no-op for empty candidates, got added=%d err=%v", added, err)
	}
}
