package domain

import "time"

type JobStatus string

const (
	JobStatusPending             JobStatus = "pending"
	JobStatusConsolidating       JobStatus = "consolidating"
	JobStatusCompleted           JobStatus = "completed"
	JobStatusCompletedWithErrors JobStatus = "completed_with_errors"
	JobStatusTimedOut            JobStatus = "timed_out"
)

type ResultStatus string

const (
	ResultSuccess  ResultStatus = "success"
	ResultFailed   ResultStatus = "failed"
	ResultTimedOut ResultStatus = "timed_out"
)

// JobMeta is the shared job record mutated concurrently by every consumer
// instance. Counter fields are only ever changed through atomic increments;
// Status and FinalEmitted only through the store's finalize/upgrade calls.
type JobMeta struct {
	JobID         string
	Accounts      []string
	Chains        []Chain
	WalletGroupID string
	ExpectedTotal int64
	Succeeded     int64
	Failed        int64
	TimedOut      int64
	Processed     int64
	Status        JobStatus
	FinalEmitted  bool
	CreatedAt     time.Time
}

func (m *JobMeta) MultiAccount() bool {
	return len(m.Accounts) > 1
}

// Summary holds per-job diagnostic counters of raw entities observed per
// provider kind.
type Summary struct {
	Tokens    int `json:"tokens"`
	Supplies  int `json:"supplies"`
	Borrows   int `json:"borrows"`
	Positions int `json:"positions"`
}

func (s *Summary) Count(kind ItemKind, n int) {
	switch kind {
	case ItemToken:
		s.Tokens += n
	case ItemSupply:
		s.Supplies += n
	case ItemBorrow:
		s.Borrows += n
	case ItemPosition:
		s.Positions += n
	}
}
