package repository

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/ovictormagalhaes/DeFi10-sub001/internal/domain"
)

var ErrNotFound = errors.New("resource not found")

// AggregationRecord is the durable trace of one finished job, written after
// finalization. Unlike the TTL-bound store keys it outlives the job.
type AggregationRecord struct {
	JobID         string
	WalletGroupID string
	Status        domain.JobStatus
	ExpectedTotal int64
	Succeeded     int64
	Failed        int64
	TimedOut      int64
	Wallet        json.RawMessage
	CompletedAt   time.Time
}

// ArchiveRepository persists finished aggregations for later inspection.
type ArchiveRepository interface {
	SaveAggregation(ctx context.Context, record *AggregationRecord) error
	GetAggregation(ctx context.Context, jobID string) (*AggregationRecord, error)
}

// MemoryArchiveRepository keeps records in memory for local development.
type MemoryArchiveRepository struct {
	mu      sync.RWMutex
	records map[string]*AggregationRecord
}

func NewMemoryArchiveRepository() *MemoryArchiveRepository {
	return &MemoryArchiveRepository{
		records: make(map[string]*AggregationRecord),
	}
}

func (r *MemoryArchiveRepository) SaveAggregation(_ context.Context, record *AggregationRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	clone := *record
	clone.Wallet = append([]byte(nil), record.Wallet...)
	r.records[record.JobID] = &clone
	return nil
}

func (r *MemoryArchiveRepository) GetAggregation(_ context.Context, jobID string) (*AggregationRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, ok := r.records[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *record
	clone.Wallet = append([]byte(nil), record.Wallet...)
	return &clone, nil
}
