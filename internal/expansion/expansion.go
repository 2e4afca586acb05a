// Package expansion grows a running job's work set when a result reveals
// that more providers must be queried, and publishes the matching
// integration requests once the growth transaction commits.
package expansion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ovictormagalhaes/DeFi10-sub001/internal/address"
	"github.com/ovictormagalhaes/DeFi10-sub001/internal/bus"
	"github.com/ovictormagalhaes/DeFi10-sub001/internal/domain"
	"github.com/ovictormagalhaes/DeFi10-sub001/internal/store"
	"github.com/ovictormagalhaes/DeFi10-sub001/internal/triggers"
)

// DefaultMinTTL is the remaining-TTL floor below which no new work is added:
// requests published for a nearly-expired job would never be consumed.
const DefaultMinTTL = 30 * time.Second

type Service struct {
	store    store.JobStore
	requests bus.Publisher
	logger   *log.Logger
	minTTL   time.Duration
}

func NewService(jobStore store.JobStore, requests bus.Publisher, logger *log.Logger, minTTL time.Duration) *Service {
	if minTTL <= 0 {
		minTTL = DefaultMinTTL
	}
	return &Service{
		store:    jobStore,
		requests: requests,
		logger:   logger,
		minTTL:   minTTL,
	}
}

type combination struct {
	provider domain.Provider
	chain    domain.Chain
	account  string
}

// ExpandJob validates the candidate triggers against the job's pending set,
// accounts and TTL, commits the growth transaction and publishes one
// integration request per added combination. Returns the number of
// combinations added; a vanished or nearly-expired job yields zero without
// error.
func (s *Service) ExpandJob(ctx context.Context, jobID, account string, candidates []triggers.Trigger, triggeredBy domain.Provider) (int, error) {
	if len(candidates) == 0 {
		return 0, nil
	}

	meta, err := s.store.GetJobMeta(ctx, jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("load job meta: %w", err)
	}

	ttl, err := s.store.JobTTL(ctx, jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("job ttl: %w", err)
	}
	if ttl < s.minTTL {
		if s.logger != nil {
			s.logger.Printf("skip expansion job_id=%s: remaining ttl %s below safety margin", jobID, ttl)
		}
		return 0, nil
	}

	pending, err := s.store.PendingEntries(ctx, jobID)
	if err != nil {
		return 0, fmt.Errorf("pending entries: %w", err)
	}
	fresh := dedupeAgainstPending(candidates, pending)
	if len(fresh) == 0 {
		return 0, nil
	}

	accounts := []string{account}
	if meta.MultiAccount() {
		accounts = meta.Accounts
	}

	var combinations []combination
	for _, candidate := range fresh {
		for _, target := range accounts {
			if !address.Compatible(target, candidate.Chain.Family()) {
				continue
			}
			combinations = append(combinations, combination{
				provider: candidate.Provider,
				chain:    candidate.Chain,
				account:  target,
			})
		}
	}
	if len(combinations) == 0 {
		return 0, nil
	}

	entries := make([]string, 0, len(combinations))
	for _, combo := range combinations {
		entries = append(entries, store.WorkItemKey(combo.provider, combo.chain, combo.account, meta.MultiAccount()))
	}

	committed, err := s.store.ExpandJob(ctx, jobID, entries, triggeredBy)
	if err != nil {
		return 0, fmt.Errorf("expansion transaction: %w", err)
	}
	if !committed {
		// Job deleted concurrently; nothing was added.
		return 0, nil
	}

	// Publish only after the transaction committed. A failed publish leaves
	// its pending entry outstanding; it will surface as timed out.
	for _, combo := range combinations {
		if err := s.publishRequest(ctx, jobID, combo); err != nil && s.logger != nil {
			s.logger.Printf("publish expansion request failed job_id=%s provider=%s chain=%s: %v",
				jobID, combo.provider, combo.chain, err)
		}
	}

	return len(combinations), nil
}

func (s *Service) publishRequest(ctx context.Context, jobID string, combo combination) error {
	request := domain.IntegrationRequest{
		JobID:       jobID,
		RequestID:   uuid.NewString(),
		Provider:    combo.provider,
		Account:     combo.account,
		Chains:      []domain.Chain{combo.chain},
		Attempt:     0,
		RequestedAt: time.Now().UTC(),
	}
	payload, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	return s.requests.Publish(ctx, bus.Message{JobID: jobID, Payload: payload})
}

// dedupeAgainstPending drops candidates whose provider:chain combination is
// already in flight, matching both legacy provider:chain entries and
// account-qualified ones.
func dedupeAgainstPending(candidates []triggers.Trigger, pending []string) []triggers.Trigger {
	fresh := make([]triggers.Trigger, 0, len(candidates))
	for _, candidate := range candidates {
		key := string(candidate.Provider) + ":" + string(candidate.Chain)
		inFlight := false
		for _, entry := range pending {
			if entry == key || strings.HasPrefix(entry, key+":") {
				inFlight = true
				break
			}
		}
		if !inFlight {
			fresh = append(fresh, candidate)
		}
	}
	return fresh
}
