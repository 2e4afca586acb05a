package domain

import (
	"encoding/json"
	"time"
)

// IntegrationRequest asks one provider integrator to fetch data for one
// account on one or more chains. Published once per fan-out combination at
// job start and once per combination added by expansion.
type IntegrationRequest struct {
	JobID       string    `json:"job_id"`
	RequestID   string    `json:"request_id"`
	Provider    Provider  `json:"provider"`
	Account     string    `json:"account"`
	Chains      []Chain   `json:"chains"`
	Attempt     int       `json:"attempt"`
	RequestedAt time.Time `json:"requested_at"`
}

// IntegrationResult is the answer to one IntegrationRequest. Delivery is
// at-least-once and unordered across providers of the same job.
type IntegrationResult struct {
	JobID      string          `json:"job_id"`
	Provider   Provider        `json:"provider"`
	Account    string          `json:"account"`
	Chains     []Chain         `json:"chains"`
	Status     ResultStatus    `json:"status"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
}

// CounterSnapshot is the counter state observed at the moment consolidation
// was requested.
type CounterSnapshot struct {
	ExpectedTotal int64 `json:"expected_total"`
	Succeeded     int64 `json:"succeeded"`
	Failed        int64 `json:"failed"`
	TimedOut      int64 `json:"timed_out"`
}

// WalletConsolidationRequested is published at most once per job by the
// aggregator when the pending set drains.
type WalletConsolidationRequested struct {
	JobID         string          `json:"job_id"`
	WalletGroupID string          `json:"wallet_group_id,omitempty"`
	Accounts      []string        `json:"accounts"`
	Chains        []Chain         `json:"chains"`
	Snapshot      CounterSnapshot `json:"snapshot"`
	RequestedAt   time.Time       `json:"requested_at"`
}

// AggregationCompleted is the terminal event for a job, published exactly
// once by the consolidation worker.
type AggregationCompleted struct {
	JobID       string          `json:"job_id"`
	Account     string          `json:"account,omitempty"`
	Status      JobStatus       `json:"status"`
	Totals      CounterSnapshot `json:"totals"`
	CompletedAt time.Time       `json:"completed_at"`
}
