package aggregation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/ovictormagalhaes/DeFi10-sub001/internal/address"
	"github.com/ovictormagalhaes/DeFi10-sub001/internal/bus"
	"github.com/ovictormagalhaes/DeFi10-sub001/internal/domain"
	"github.com/ovictormagalhaes/DeFi10-sub001/internal/store"
)

// Service is the producing side: it creates the job record and publishes
// the initial fan-out of integration requests.
type Service struct {
	store    store.JobStore
	requests bus.Publisher
	logger   *log.Logger
	jobTTL   time.Duration
}

func NewService(jobStore store.JobStore, requests bus.Publisher, logger *log.Logger, jobTTL time.Duration) *Service {
	if jobTTL <= 0 {
		jobTTL = 10 * time.Minute
	}
	return &Service{
		store:    jobStore,
		requests: requests,
		logger:   logger,
		jobTTL:   jobTTL,
	}
}

type StartJobInput struct {
	Accounts      []string
	Chains        []domain.Chain
	Providers     []domain.Provider
	WalletGroupID string
}

// StartJob fans one logical request out into one integration request per
// valid (provider, chain, account) combination. Combinations whose account
// format does not fit the chain family are dropped up front, mirroring the
// expansion-time filter.
func (s *Service) StartJob(ctx context.Context, input StartJobInput) (*domain.JobMeta, error) {
	if len(input.Accounts) == 0 {
		return nil, errors.New("at least one account is required")
	}
	if len(input.Chains) == 0 {
		return nil, errors.New("at least one chain is required")
	}
	if len(input.Providers) == 0 {
		return nil, errors.New("at least one provider is required")
	}

	multiAccount := len(input.Accounts) > 1
	var combinations []combinationRequest
	for _, provider := range input.Providers {
		for _, chain := range input.Chains {
			for _, account := range input.Accounts {
				if !address.Compatible(account, chain.Family()) {
					continue
				}
				combinations = append(combinations, combinationRequest{
					provider: provider,
					chain:    chain,
					account:  account,
				})
			}
		}
	}
	if len(combinations) == 0 {
		return nil, errors.New("no valid provider/chain/account combinations")
	}

	entries := make([]string, 0, len(combinations))
	for _, combo := range combinations {
		entries = append(entries, store.WorkItemKey(combo.provider, combo.chain, combo.account, multiAccount))
	}

	meta := domain.JobMeta{
		JobID:         uuid.NewString(),
		Accounts:      input.Accounts,
		Chains:        input.Chains,
		WalletGroupID: input.WalletGroupID,
		ExpectedTotal: int64(len(combinations)),
		Status:        domain.JobStatusPending,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.store.CreateJob(ctx, meta, entries, s.jobTTL); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	for _, combo := range combinations {
		request := domain.IntegrationRequest{
			JobID:       meta.JobID,
			RequestID:   uuid.NewString(),
			Provider:    combo.provider,
			Account:     combo.account,
			Chains:      []domain.Chain{combo.chain},
			Attempt:     0,
			RequestedAt: time.Now().UTC(),
		}
		payload, err := json.Marshal(request)
		if err != nil {
			return nil, fmt.Errorf("encode integration request: %w", err)
		}
		if err := s.requests.Publish(ctx, bus.Message{JobID: meta.JobID, Payload: payload}); err != nil {
			if s.logger != nil {
				s.logger.Printf("publish integration request failed job_id=%s provider=%s chain=%s: %v",
					meta.JobID, combo.provider, combo.chain, err)
			}
		}
	}

	return &meta, nil
}

type combinationRequest struct {
	provider domain.Provider
	chain    domain.Chain
	account  string
}
